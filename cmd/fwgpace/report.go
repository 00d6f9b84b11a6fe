// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/NVIDIA/fwgpace/fwg"
	"github.com/NVIDIA/fwgpace/latency"
	"github.com/NVIDIA/fwgpace/workload"
)

var bold = color.New(color.Bold)

func micros(us int64) string {
	return (time.Duration(us) * time.Microsecond).String()
}

func perSecond(count float64, duration time.Duration) float64 {
	if 0 >= duration {
		return 0
	}
	return count / duration.Seconds()
}

// printReport writes one row per entry/op with its rate, throughput and latency
// percentiles, then the totals.
func printReport(out io.Writer, summaries []latency.Summary, duration time.Duration) (err error) {
	_, _ = bold.Fprintf(out, "Run of %v\n", duration.Round(time.Millisecond))

	table := tablewriter.NewWriter(out)
	table.Header("Workload", "Op", "Count", "Ops/sec", "Throughput", "Mean", "P50", "P90", "P99", "P99.9", "Max")

	var (
		totalCount int64
		totalBytes uint64
	)

	for _, summary := range summaries {
		totalCount += summary.Count
		totalBytes += summary.Bytes

		throughput := "-"
		if 0 < summary.Bytes {
			throughput = humanize.Bytes(uint64(perSecond(float64(summary.Bytes), duration))) + "/s"
		}

		err = table.Append(
			summary.Entry,
			summary.Op.String(),
			humanize.Comma(summary.Count),
			fmt.Sprintf("%.1f", perSecond(float64(summary.Count), duration)),
			throughput,
			micros(int64(summary.MeanMicros)),
			micros(summary.P50Micros),
			micros(summary.P90Micros),
			micros(summary.P99Micros),
			micros(summary.P999Micros),
			micros(summary.MaxMicros),
		)
		if nil != err {
			return
		}
	}

	err = table.Render()
	if nil != err {
		return
	}

	fmt.Fprintf(out, "Total: %s operations (%.1f ops/sec), %s transferred\n",
		humanize.Comma(totalCount), perSecond(float64(totalCount), duration), humanize.Bytes(totalBytes))

	return
}

// printCheck writes the normalized skew and pacing of every entry
func printCheck(out io.Writer, run *fwg.Run) (err error) {
	config := run.Config()

	_, _ = bold.Fprintf(out, "Pacing: rate=%s distribution=%v max_in_flight=%d elapsed=%v bypass=%v\n",
		rateString(config.Pacing.Rate), config.Pacing.Distribution, config.Pacing.MaxInFlight, config.Elapsed, config.Bypass())
	if nil != run.Bursts() {
		fmt.Fprintf(out, "Bursts: %s\n", run.Bursts())
	}

	table := tablewriter.NewWriter(out)
	table.Header("Workload", "Op", "Anchor", "Threads", "Skew %", "Ops/sec", "Interval")

	for i, entry := range run.Entries() {
		rateQueue := run.Queues()[i]

		entryRate := "max"
		if (workload.MaxRate != config.Pacing.Rate) || (nil != run.Bursts()) {
			entryRate = fmt.Sprintf("%.2f", rateQueue.Rate()*entry.Skew/100)
		}

		err = table.Append(
			entry.Name,
			entry.Operation.String(),
			entry.AnchorName,
			fmt.Sprintf("%d", entry.Threads),
			fmt.Sprintf("%.4f", entry.Skew),
			entryRate,
			time.Duration(rateQueue.InterArrivalNanos()).String(),
		)
		if nil != err {
			return
		}
	}

	err = table.Render()
	if nil != err {
		return
	}

	for _, a := range run.Anchors() {
		fmt.Fprintf(out, "Anchor %s: %s depth=%d width=%d, %s dirs, %s files of %s\n",
			a.Name, a.Root, a.Depth, a.Width,
			humanize.Comma(int64(a.DirCount())), humanize.Comma(int64(a.FileCount())), humanize.Bytes(a.FileSize))
	}
	for _, counter := range run.Counters() {
		fmt.Fprintf(out, "Barrier %s\n", counter)
	}

	return
}

type checkWorkload struct {
	Name         string
	Op           string
	Anchor       string
	Threads      int
	Skew         float64
	InterArrival string
}

type checkAnchor struct {
	Name     string
	Root     string
	Dirs     int
	Files    int
	FileSize uint64
}

// checkReport is what check --json prints
type checkReport struct {
	Rate         string
	Distribution string
	MaxInFlight  int
	Elapsed      string
	Bypass       bool
	Workloads    []checkWorkload
	Anchors      []checkAnchor
	Barriers     []string
}

func newCheckReport(run *fwg.Run) (report *checkReport) {
	config := run.Config()

	report = &checkReport{
		Rate:         rateString(config.Pacing.Rate),
		Distribution: fmt.Sprintf("%v", config.Pacing.Distribution),
		MaxInFlight:  config.Pacing.MaxInFlight,
		Elapsed:      config.Elapsed.String(),
		Bypass:       config.Bypass(),
	}

	for i, entry := range run.Entries() {
		report.Workloads = append(report.Workloads, checkWorkload{
			Name:         entry.Name,
			Op:           entry.Operation.String(),
			Anchor:       entry.AnchorName,
			Threads:      entry.Threads,
			Skew:         entry.Skew,
			InterArrival: time.Duration(run.Queues()[i].InterArrivalNanos()).String(),
		})
	}
	for _, a := range run.Anchors() {
		report.Anchors = append(report.Anchors, checkAnchor{
			Name:     a.Name,
			Root:     a.Root,
			Dirs:     a.DirCount(),
			Files:    a.FileCount(),
			FileSize: a.FileSize,
		})
	}
	for _, counter := range run.Counters() {
		report.Barriers = append(report.Barriers, counter.String())
	}

	return
}

func rateString(rate float64) string {
	if workload.MaxRate == rate {
		return "max"
	}
	return fmt.Sprintf("%v", rate)
}
