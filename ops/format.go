// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package ops

import (
	"github.com/NVIDIA/fwgpace/anchor"
	"github.com/NVIDIA/fwgpace/blunder"
	"github.com/NVIDIA/fwgpace/logger"
	"github.com/NVIDIA/fwgpace/phasecounter"
	"github.com/NVIDIA/fwgpace/worker"
	"github.com/NVIDIA/fwgpace/workload"
)

type formatPhase int

const (
	formatMkdir formatPhase = iota
	formatCreate
	formatDone
)

// formatOperation creates every directory, waits for all format workers, creates
// every file, and waits again.
type formatOperation struct {
	mkdir   mkdirOperation
	create  baseOperation
	anchor  *anchor.Anchor
	options *FormatOptions
	phase   formatPhase
}

func newFormatOperation(a *anchor.Anchor, options Options) *formatOperation {
	options.Expect = nil
	return &formatOperation{
		mkdir:   mkdirOperation{newBase(workload.OpMkdir, a, options)},
		create:  newBase(workload.OpCreate, a, options),
		anchor:  a,
		options: options.Format,
	}
}

func (op *formatOperation) DoOperation(blocker worker.Blocker) bool {
	switch op.phase {
	case formatMkdir:
		if op.anchor.MoreDirsToFormat() {
			if !op.mkdir.DoOperation(blocker) {
				return false
			}
			if op.anchor.MoreDirsToFormat() {
				return true
			}
		}
		if !op.barrier(blocker, op.options.MkdirCounter) {
			return false
		}
		op.phase = formatCreate
		return true

	case formatCreate:
		if op.anchor.AnyFilesToFormat() {
			file, reason, ok := op.anchor.NextFile(missingFileWithDir)
			if !ok {
				blocker.Block(reason)
				return true
			}
			more, created := op.create.createFile(blocker, file)
			if !more {
				return false
			}
			if created && (nil != op.options.OnCreate) {
				op.options.OnCreate(op.anchor)
			}
			if op.anchor.AnyFilesToFormat() {
				return true
			}
		}
		_ = op.barrier(blocker, op.options.CreateCounter)
		op.phase = formatDone
		// the final release restarted the queue; nothing will dispatch on it again
		if own := blocker.RateQueue(); nil != own {
			own.Retire()
		}
		return false
	}

	return false
}

// barrier waits for every format worker to finish the phase. It reports false if
// the run ended first.
func (op *formatOperation) barrier(blocker worker.Blocker, counter *phasecounter.Counter) bool {
	err := counter.DecrementAndMaybeSignal(blocker.RateQueue(), blocker.Done())
	if nil == err {
		return true
	}
	if !blunder.Is(err, blunder.ShutdownError) {
		logger.ErrorfWithError(err, "format of anchor %s", op.anchor.Name)
	}
	return false
}
