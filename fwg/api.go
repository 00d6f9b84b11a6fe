// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package fwg assembles a run: it reads the anchors and workloads of a ConfMap,
// builds a RateQueue per workload, the workers that consume their admissions,
// the format barriers and the Waiter, then runs them all until the elapsed time
// is up or every worker has stopped.
package fwg

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"

	"github.com/NVIDIA/fwgpace/anchor"
	"github.com/NVIDIA/fwgpace/blunder"
	"github.com/NVIDIA/fwgpace/conf"
	"github.com/NVIDIA/fwgpace/halter"
	"github.com/NVIDIA/fwgpace/latency"
	"github.com/NVIDIA/fwgpace/logger"
	"github.com/NVIDIA/fwgpace/phasecounter"
	"github.com/NVIDIA/fwgpace/ratequeue"
	"github.com/NVIDIA/fwgpace/timesource"
	"github.com/NVIDIA/fwgpace/utils"
	"github.com/NVIDIA/fwgpace/waiter"
	"github.com/NVIDIA/fwgpace/worker"
	"github.com/NVIDIA/fwgpace/workload"
)

const diagnosticName = "fwg"

// Run is one assembled run. It is used once.
type Run struct {
	sync.Mutex
	config        Config
	source        *timesource.Source
	recorder      *latency.Recorder
	done          *workload.DoneFlag
	anchors       []*anchor.Anchor
	anchorsByName map[string]*anchor.Anchor
	entries       []*workload.Entry
	queues        []*ratequeue.RateQueue // parallel to entries
	bursts        *ratequeue.BurstSchedule
	counters      []*phasecounter.Counter
	barriers      map[string]*formatBarrier // by anchor name
	workers       []*worker.Worker
	waiter        *waiter.Waiter // nil in bypass pacing
	started       bool
	startNanos    int64
	stopNanos     int64
	progress      *progressbar.ProgressBar
	formatTotal   int64 // atomic
	formatCreated int64 // atomic
	formatPercent int64 // atomic; last whole percent logged
}

// New reads and validates everything a run needs from confMap and builds its
// queues, barriers and workers. Nothing is touched on disk and nothing is
// started until Run().
func New(confMap conf.ConfMap, source *timesource.Source, recorder *latency.Recorder) (run *Run, err error) {
	var result *multierror.Error

	config, configErr := FetchConfig(confMap)
	if nil != configErr {
		result = multierror.Append(result, configErr)
	}
	anchors, anchorsErr := anchor.FetchAnchors(confMap)
	if nil != anchorsErr {
		result = multierror.Append(result, anchorsErr)
	}
	entries, entriesErr := workload.FetchEntries(confMap)
	if nil != entriesErr {
		result = multierror.Append(result, entriesErr)
	}

	if nil != result.ErrorOrNil() {
		err = blunder.AddError(result.ErrorOrNil(), blunder.ConfigError)
		return
	}

	run = &Run{
		config:        config,
		source:        source,
		recorder:      recorder,
		done:          workload.NewDoneFlag(),
		anchors:       anchors,
		anchorsByName: make(map[string]*anchor.Anchor),
		entries:       entries,
	}

	for _, a := range anchors {
		run.anchorsByName[a.Name] = a
	}
	for _, entry := range entries {
		if _, ok := run.anchorsByName[entry.AnchorName]; !ok {
			result = multierror.Append(result, blunder.NewEntryError(blunder.ConfigError, entry.Name, "workload %s names unknown anchor %s", entry.Name, entry.AnchorName))
		}
		if config.Format || (workload.OpFormat == entry.Operation) {
			entry.Operation = workload.OpFormat
		}
	}

	err = workload.NormalizeSkew(entries)
	if nil != err {
		result = multierror.Append(result, err)
	}

	if nil != result.ErrorOrNil() {
		run = nil
		err = blunder.AddError(result.ErrorOrNil(), blunder.ConfigError)
		return
	}

	err = run.buildQueues()
	if nil == err {
		err = run.buildCounters()
	}
	if nil == err {
		err = run.buildWorkers()
	}
	if nil != err {
		run = nil
	}

	return
}

// Run scans the anchors, starts the Waiter and every worker and waits for them
// all to stop. The done flag is set once Elapsed has passed (never for format
// runs) or once every worker has stopped.
func (run *Run) Run() (err error) {
	run.Lock()
	if run.started {
		run.Unlock()
		err = blunder.NewError(blunder.ConfigError, "run already started")
		return
	}
	run.started = true
	run.Unlock()

	sw := utils.NewStopwatch()
	for _, a := range run.anchors {
		err = a.Scan()
		if nil != err {
			err = blunder.AddError(err, blunder.IOError)
			return
		}
		logger.Infof("anchor %s", a)
	}
	logger.Infof("scanned %d anchors in %v", len(run.anchors), sw.Stop())

	run.startFormatProgress()

	for _, rateQueue := range run.queues {
		rateQueue.Initialize()
	}

	if !run.config.Bypass() {
		run.waiter, err = waiter.New(run.source, run.done, run.queues, run.config.Waiter)
		if nil != err {
			return
		}
	}

	halter.AddDiagnostic(diagnosticName, run.Dump)
	defer halter.RemoveDiagnostic(diagnosticName)

	run.startNanos = run.source.Nanos()

	group := new(errgroup.Group)

	if nil != run.waiter {
		group.Go(run.waiter.Run)
	}

	// an entry whose workers have all stopped must not hold the Waiter
	queueOf := make(map[*workload.Entry]*ratequeue.RateQueue, len(run.entries))
	remaining := make(map[*workload.Entry]*int64, len(run.entries))
	for i, entry := range run.entries {
		queueOf[entry] = run.queues[i]
		remaining[entry] = new(int64)
	}
	for _, w := range run.workers {
		*remaining[w.Entry()]++
	}

	running := int64(len(run.workers))
	for _, w := range run.workers {
		w := w
		group.Go(func() (workerErr error) {
			workerErr = w.Run()
			if (0 == atomic.AddInt64(remaining[w.Entry()], -1)) && !run.done.IsSet() {
				queueOf[w.Entry()].Retire()
			}
			if 0 == atomic.AddInt64(&running, -1) {
				logger.Infof("every worker has stopped")
				run.done.Set()
			}
			return
		})
	}

	group.Go(func() error {
		run.monitor()
		return nil
	})

	err = group.Wait()

	run.done.Set()
	run.stopNanos = run.source.Nanos()

	if nil != run.progress {
		_ = run.progress.Finish()
	}

	logger.Infof("run complete after %v", run.Duration())

	return
}

// Stop sets the done flag. Run() returns once everything has observed it.
func (run *Run) Stop() {
	run.done.Set()
}

// monitor arms the elapsed timer and logs per-entry admissions every Interval
// until the done flag is set.
func (run *Run) monitor() {
	clock := run.source.Clock()

	var elapsed <-chan time.Time
	if !run.config.Format {
		timer := clock.NewTimer(run.config.Elapsed)
		defer timer.Stop()
		elapsed = timer.C()
	}

	ticker := clock.NewTicker(run.config.Interval)
	defer ticker.Stop()

	lastAdmitted := make([]uint64, len(run.queues))
	interval := 0

	for {
		select {
		case <-run.done.Done():
			return
		case <-elapsed:
			logger.Infof("elapsed time of %v reached", run.config.Elapsed)
			run.done.Set()
			return
		case <-ticker.C():
			interval++
			for i, rateQueue := range run.queues {
				admitted := rateQueue.Admitted()
				perSecond := float64(admitted-lastAdmitted[i]) / run.config.Interval.Seconds()
				lastAdmitted[i] = admitted
				logger.InfofEntry(rateQueue.Entry().Name, "interval %d: %.1f admissions/sec (depth %d, in flight %d)",
					interval, perSecond, rateQueue.LastDepth(), rateQueue.InFlight())
			}
		}
	}
}

// Config returns the run's Config
func (run *Run) Config() Config {
	return run.config
}

// Entries returns the workloads with their normalized skews
func (run *Run) Entries() []*workload.Entry {
	return run.entries
}

// Queues returns the RateQueues, one per entry in Entries() order
func (run *Run) Queues() []*ratequeue.RateQueue {
	return run.queues
}

// Anchors returns the run's anchors
func (run *Run) Anchors() []*anchor.Anchor {
	return run.anchors
}

// Workers returns every worker of every entry
func (run *Run) Workers() []*worker.Worker {
	return run.workers
}

// Counters returns the format barriers as mkdir, create pairs
func (run *Run) Counters() []*phasecounter.Counter {
	return run.counters
}

// Waiter returns the run's Waiter, nil in bypass pacing or before Run()
func (run *Run) Waiter() *waiter.Waiter {
	return run.waiter
}

// Bursts returns the variable rate in effect, if any
func (run *Run) Bursts() *ratequeue.BurstSchedule {
	return run.bursts
}

// Done returns the run's done flag
func (run *Run) Done() *workload.DoneFlag {
	return run.done
}

// Duration returns how long Run() ran, or has been running
func (run *Run) Duration() time.Duration {
	if 0 == run.startNanos {
		return 0
	}
	stopNanos := run.stopNanos
	if 0 == stopNanos {
		stopNanos = run.source.Nanos()
	}
	return time.Duration(stopNanos - run.startNanos)
}

// FormatCreated returns the files format workers have created
func (run *Run) FormatCreated() int64 {
	return atomic.LoadInt64(&run.formatCreated)
}

// Dump describes the Waiter, every queue, barrier and worker. It is registered
// with halter for the duration of Run().
func (run *Run) Dump() string {
	var sb strings.Builder

	if nil != run.waiter {
		fmt.Fprintf(&sb, "%s\n", run.waiter.Dump())
	} else {
		fmt.Fprintf(&sb, "waiter: bypassed\n")
	}
	for _, rateQueue := range run.queues {
		fmt.Fprintf(&sb, "%s\n", rateQueue.Dump())
	}
	for _, counter := range run.counters {
		fmt.Fprintf(&sb, "%s\n", counter)
	}
	for _, w := range run.workers {
		fmt.Fprintf(&sb, "%s\n", w.Dump())
	}

	return sb.String()
}

func (run *Run) startFormatProgress() {
	var total int64

	for _, a := range run.formatAnchors() {
		total += int64(a.FileCount() - a.ExistingFiles())
	}
	if 0 == total {
		return
	}

	atomic.StoreInt64(&run.formatTotal, total)
	logger.Infof("format will create %d files", total)

	if run.config.ShowProgress {
		run.progress = progressbar.NewOptions64(total,
			progressbar.OptionSetDescription("format"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetWidth(50),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionThrottle(100*time.Millisecond),
		)
	}
}

// formatCreate is called by format workers for each file they create
func (run *Run) formatCreate(a *anchor.Anchor) {
	created := atomic.AddInt64(&run.formatCreated, 1)

	if nil != run.progress {
		_ = run.progress.Add(1)
	}

	total := atomic.LoadInt64(&run.formatTotal)
	if 0 == total {
		return
	}
	percent := created * 100 / total
	last := atomic.LoadInt64(&run.formatPercent)
	if (percent > last) && atomic.CompareAndSwapInt64(&run.formatPercent, last, percent) {
		logger.Infof("format %d%% complete (%d of %d files, anchor %s)", percent, created, total, a.Name)
	}
}
