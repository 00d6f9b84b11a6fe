// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/NVIDIA/fwgpace/blunder"
	"github.com/NVIDIA/fwgpace/conf"
	"github.com/NVIDIA/fwgpace/fwg"
	"github.com/NVIDIA/fwgpace/latency"
	"github.com/NVIDIA/fwgpace/logger"
	_ "github.com/NVIDIA/fwgpace/statslogger"
	"github.com/NVIDIA/fwgpace/timesource"
	"github.com/NVIDIA/fwgpace/timetravel"
	"github.com/NVIDIA/fwgpace/transitions"
	"github.com/NVIDIA/fwgpace/utils"
)

const confArgs = "conf-file [Section.Option=value]*"

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fwgpace",
		Short: "fwgpace paces file system workloads at a controlled operation rate.",
		Long: `fwgpace paces file system workloads at a controlled operation rate.

The conf file (INI, or YAML when named *.yaml/*.yml) lists the anchors in
[FWG]AnchorList and the workloads in [FWG]WorkloadList. Any option may be
overridden on the command line, e.g. Pacing.Rate=500 Run.Elapsed=5m.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(
		runCmd(),
		checkCmd(),
	)

	return cmd
}

// Run every workload then print the latency report.
func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run " + confArgs,
		Short: "Run the workloads of conf-file and report their latencies.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			confMap, err := loadConfMap(args)
			if nil != err {
				return err
			}
			return runWorkloads(confMap, cmd.OutOrStdout())
		},
	}
	return cmd
}

// Validate conf-file and print the pacing each workload would get.
func checkCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "check " + confArgs,
		Short: "Validate conf-file and print each workload's normalized skew and pacing.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			confMap, err := loadConfMap(args)
			if nil != err {
				return err
			}
			return checkWorkloads(confMap, cmd.OutOrStdout(), asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the check as JSON")
	return cmd
}

// loadConfMap reads args[0] and applies the remaining args as overrides
func loadConfMap(args []string) (confMap conf.ConfMap, err error) {
	confMap, err = conf.MakeConfMapFromFile(args[0])
	if nil != err {
		err = blunder.AddError(err, blunder.ConfigError)
		return
	}

	if 1 < len(args) {
		err = confMap.UpdateFromStrings(args[1:])
		if nil != err {
			err = blunder.AddError(err, blunder.ConfigError)
		}
	}

	return
}

func runWorkloads(confMap conf.ConfMap, out io.Writer) (err error) {
	err = transitions.Up(confMap)
	if nil != err {
		return
	}
	defer func() {
		downErr := transitions.Down(confMap)
		if nil == err {
			err = downErr
		}
	}()

	recorder := latency.New(timetravel.NewFromConfMap(confMap))

	run, err := fwg.New(confMap, timesource.New(), recorder)
	if nil != err {
		return
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	go func() {
		select {
		case sig := <-signals:
			logger.Warnf("%v received; stopping run", sig)
			run.Stop()
		case <-run.Done().Done():
		}
	}()

	err = run.Run()
	if nil != err {
		return
	}

	err = printReport(out, recorder.Summaries(), run.Duration())

	return
}

func checkWorkloads(confMap conf.ConfMap, out io.Writer, asJSON bool) (err error) {
	run, err := fwg.New(confMap, timesource.New(), latency.New(timetravel.New(0)))
	if nil != err {
		return
	}

	if asJSON {
		_, err = fmt.Fprintln(out, utils.JSONify(newCheckReport(run), true))
		return
	}

	err = printCheck(out, run)

	return
}
