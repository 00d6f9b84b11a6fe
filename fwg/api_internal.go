// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package fwg

import (
	"github.com/hashicorp/go-multierror"

	"github.com/NVIDIA/fwgpace/anchor"
	"github.com/NVIDIA/fwgpace/blunder"
	"github.com/NVIDIA/fwgpace/ops"
	"github.com/NVIDIA/fwgpace/phasecounter"
	"github.com/NVIDIA/fwgpace/ratequeue"
	"github.com/NVIDIA/fwgpace/worker"
	"github.com/NVIDIA/fwgpace/workload"
)

type formatBarrier struct {
	mkdir  *phasecounter.Counter
	create *phasecounter.Counter
}

func (run *Run) buildQueues() (err error) {
	var result *multierror.Error

	pacing := run.config.Pacing
	pacing.Bypass = run.config.Bypass()

	if 0 < len(run.config.BurstPairs) {
		baseRate := pacing.Rate
		if workload.MaxRate == baseRate {
			baseRate = 0
		}
		run.bursts, err = ratequeue.NewBurstSchedule(run.config.BurstPairs, baseRate, run.config.Elapsed, run.config.BurstSpread)
		if nil != err {
			return
		}
		pacing.Bursts = run.bursts
	}

	run.queues = make([]*ratequeue.RateQueue, 0, len(run.entries))

	for _, entry := range run.entries {
		rateQueue, queueErr := ratequeue.New(entry, run.source, pacing)
		if nil != queueErr {
			result = multierror.Append(result, queueErr)
			continue
		}
		run.queues = append(run.queues, rateQueue)
	}

	err = result.ErrorOrNil()
	if nil != err {
		err = blunder.AddError(err, blunder.ConfigError)
	}

	return
}

// formatAnchors returns, in AnchorList order, the anchors some format entry uses
func (run *Run) formatAnchors() (anchors []*anchor.Anchor) {
	used := make(map[string]bool)
	for _, entry := range run.entries {
		if workload.OpFormat == entry.Operation {
			used[entry.AnchorName] = true
		}
	}
	for _, a := range run.anchors {
		if used[a.Name] {
			anchors = append(anchors, a)
		}
	}
	return
}

// buildCounters creates the mkdir and create barriers of format entries: one
// pair shared by every anchor with CrossAnchorLockstep, otherwise one pair per
// anchor. Each barrier's participants are the threads of the entries it covers.
func (run *Run) buildCounters() (err error) {
	formatAnchors := run.formatAnchors()
	if 0 == len(formatAnchors) {
		return
	}

	type group struct {
		name      string
		threads   int
		queues    []*ratequeue.RateQueue
		resetters []phasecounter.Resetter
	}

	groups := make([]*group, 0, len(formatAnchors))
	groupOf := make(map[string]*group)

	for _, a := range formatAnchors {
		if run.config.CrossAnchorLockstep && (0 < len(groups)) {
			groupOf[a.Name] = groups[0]
		} else {
			g := &group{name: a.Name}
			if run.config.CrossAnchorLockstep {
				g.name = "all"
			}
			groups = append(groups, g)
			groupOf[a.Name] = g
		}
		groupOf[a.Name].resetters = append(groupOf[a.Name].resetters, a)
	}

	for i, entry := range run.entries {
		if workload.OpFormat != entry.Operation {
			continue
		}
		g := groupOf[entry.AnchorName]
		g.threads += entry.Threads
		g.queues = append(g.queues, run.queues[i])
	}

	barriers := make(map[*group]*formatBarrier)

	for _, g := range groups {
		barrier := &formatBarrier{}
		barrier.mkdir, err = phasecounter.New("format.mkdir."+g.name, g.threads, g.queues, g.resetters, run.config.Pacing.PollInterval)
		if nil != err {
			return
		}
		barrier.create, err = phasecounter.New("format.create."+g.name, g.threads, g.queues, g.resetters, run.config.Pacing.PollInterval)
		if nil != err {
			return
		}
		barriers[g] = barrier
		run.counters = append(run.counters, barrier.mkdir, barrier.create)
	}

	run.barriers = make(map[string]*formatBarrier)
	for name, g := range groupOf {
		run.barriers[name] = barriers[g]
	}

	return
}

func (run *Run) buildWorkers() (err error) {
	var result *multierror.Error

	for i, entry := range run.entries {
		a := run.anchorsByName[entry.AnchorName]

		options := ops.Options{
			Source:   run.source,
			Recorder: run.recorder,
			XferSize: entry.XferSize,
			DirectIO: entry.DirectIO,
		}

		workerConfig := run.config.Worker
		if workload.OpFormat == entry.Operation {
			barrier := run.barriers[entry.AnchorName]
			options.Format = &ops.FormatOptions{
				MkdirCounter:  barrier.mkdir,
				CreateCounter: barrier.create,
				OnCreate:      run.formatCreate,
			}
			workerConfig.FormatMode = true
		} else {
			options.Expect = ops.NewExpectations(entry, run.entries)
		}

		for index := 0; index < entry.Threads; index++ {
			operation, opErr := ops.New(entry.Operation, a, options)
			if nil != opErr {
				result = multierror.Append(result, blunder.NewEntryError(blunder.ConfigError, entry.Name, "workload %s: %v", entry.Name, opErr))
				break
			}
			run.workers = append(run.workers, worker.New(entry, index, run.queues[i], operation, run.source, run.done, workerConfig))
		}
	}

	err = result.ErrorOrNil()
	if nil != err {
		err = blunder.AddError(err, blunder.ConfigError)
	}

	return
}
