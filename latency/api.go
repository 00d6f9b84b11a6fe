// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package latency collects per-entry, per-operation latency histograms.
package latency

import (
	"sort"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/NVIDIA/fwgpace/stats"
	"github.com/NVIDIA/fwgpace/timetravel"
	"github.com/NVIDIA/fwgpace/workload"
)

const (
	highestTrackableMicros = int64(time.Hour / time.Microsecond)
	significantFigures     = 3
)

type histogramKey struct {
	entry string
	op    workload.OpKind
}

type histogramStruct struct {
	histogram *hdrhistogram.Histogram
	bytes     uint64
}

// Summary is the latency distribution of one entry's operations of one kind.
// Latencies are in microseconds.
type Summary struct {
	Entry      string
	Op         workload.OpKind
	Count      int64
	Bytes      uint64
	MeanMicros float64
	MinMicros  int64
	MaxMicros  int64
	P50Micros  int64
	P90Micros  int64
	P99Micros  int64
	P999Micros int64
}

// Recorder accumulates latencies. It is safe for concurrent use by workers.
type Recorder struct {
	sync.Mutex
	guard      *timetravel.Guard
	histograms map[histogramKey]*histogramStruct
}

// New returns an empty Recorder checking every interval with guard.
func New(guard *timetravel.Guard) *Recorder {
	return &Recorder{
		guard:      guard,
		histograms: make(map[histogramKey]*histogramStruct),
	}
}

// Report records an operation by entry that ran from startNanos to endNanos.
func (recorder *Recorder) Report(entry string, op workload.OpKind, startNanos int64, endNanos int64) {
	recorder.ReportXfer(entry, op, startNanos, endNanos, 0)
}

// ReportXfer records an operation that also transferred bytes.
func (recorder *Recorder) ReportXfer(entry string, op workload.OpKind, startNanos int64, endNanos int64, bytes uint64) {
	latencyNanos := recorder.guard.Check(startNanos, endNanos)

	micros := latencyNanos / int64(time.Microsecond)
	if micros > highestTrackableMicros {
		micros = highestTrackableMicros
	}

	key := histogramKey{entry: entry, op: op}

	recorder.Lock()
	h, ok := recorder.histograms[key]
	if !ok {
		h = &histogramStruct{histogram: hdrhistogram.New(0, highestTrackableMicros, significantFigures)}
		recorder.histograms[key] = h
	}
	_ = h.histogram.RecordValue(micros)
	h.bytes += bytes
	recorder.Unlock()

	stats.IncrementOperationsAndBytes(entry, op.String(), bytes)
	stats.ObserveLatency(entry, op.String(), float64(latencyNanos)/float64(time.Second))
}

// Count returns the operations recorded for entry and op
func (recorder *Recorder) Count(entry string, op workload.OpKind) int64 {
	recorder.Lock()
	defer recorder.Unlock()

	h, ok := recorder.histograms[histogramKey{entry: entry, op: op}]
	if !ok {
		return 0
	}
	return h.histogram.TotalCount()
}

// Total returns the operations recorded across every entry and op
func (recorder *Recorder) Total() (total int64) {
	recorder.Lock()
	defer recorder.Unlock()

	for _, h := range recorder.histograms {
		total += h.histogram.TotalCount()
	}
	return
}

// Summaries returns a Summary per entry and op, ordered by entry then op
func (recorder *Recorder) Summaries() (summaries []Summary) {
	recorder.Lock()
	defer recorder.Unlock()

	summaries = make([]Summary, 0, len(recorder.histograms))

	for key, h := range recorder.histograms {
		summaries = append(summaries, Summary{
			Entry:      key.entry,
			Op:         key.op,
			Count:      h.histogram.TotalCount(),
			Bytes:      h.bytes,
			MeanMicros: h.histogram.Mean(),
			MinMicros:  h.histogram.Min(),
			MaxMicros:  h.histogram.Max(),
			P50Micros:  h.histogram.ValueAtQuantile(50),
			P90Micros:  h.histogram.ValueAtQuantile(90),
			P99Micros:  h.histogram.ValueAtQuantile(99),
			P999Micros: h.histogram.ValueAtQuantile(99.9),
		})
	}

	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].Entry != summaries[j].Entry {
			return summaries[i].Entry < summaries[j].Entry
		}
		return summaries[i].Op < summaries[j].Op
	})

	return
}

// Reset discards everything recorded
func (recorder *Recorder) Reset() {
	recorder.Lock()
	recorder.histograms = make(map[histogramKey]*histogramStruct)
	recorder.Unlock()
}
