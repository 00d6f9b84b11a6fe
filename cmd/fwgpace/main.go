// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Program fwgpace paces a file system workload: each workload of a conf file
// receives its skew's share of an aggregate operation rate, and the resulting
// per workload/operation latencies are reported at the end of the run.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"

	"github.com/NVIDIA/fwgpace/blunder"
	"github.com/NVIDIA/fwgpace/halter"
)

var red = color.New(color.FgRed, color.Bold)

func main() {
	err := rootCmd().Execute()
	if nil != err {
		_, _ = red.Fprintf(os.Stderr, "fwgpace: ")
		fmt.Fprintln(os.Stderr, blunder.ErrorString(err))
		os.Exit(halter.ExitCode(err))
	}
}
