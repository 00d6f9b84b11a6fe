// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package ops implements the file system operations a worker performs against
// an anchor. Each Operation claims a suitable directory or file, times the I/O on
// the shared clock and reports it to the latency Recorder; when nothing suitable
// is available it blocks instead.
package ops

import (
	"github.com/ncw/directio"

	"github.com/NVIDIA/fwgpace/anchor"
	"github.com/NVIDIA/fwgpace/blunder"
	"github.com/NVIDIA/fwgpace/latency"
	"github.com/NVIDIA/fwgpace/phasecounter"
	"github.com/NVIDIA/fwgpace/timesource"
	"github.com/NVIDIA/fwgpace/worker"
	"github.com/NVIDIA/fwgpace/workload"
)

// Options carries what every Operation needs beyond its anchor.
type Options struct {
	Source   *timesource.Source
	Recorder *latency.Recorder
	XferSize uint64 // bytes per read/write call
	DirectIO bool   // read and write bypass the page cache
	Format   *FormatOptions
	Expect   *Expectations // nil: the entry is never shut down for lack of work
}

// Expectations knows the other workloads sharing an entry's anchor. When an
// Operation finds nothing to claim it asks them whether anything it needs may
// still appear; if not, the entry is shut down rather than left to stall.
type Expectations struct {
	others []*workload.Entry
}

// NewExpectations returns the Expectations of entry among the run's entries
func NewExpectations(entry *workload.Entry, entries []*workload.Entry) *Expectations {
	expect := &Expectations{}
	for _, other := range entries {
		if (other != entry) && (other.AnchorName == entry.AnchorName) {
			expect.others = append(expect.others, other)
		}
	}
	return expect
}

// Live reports whether a workload performing one of kinds is still running
func (expect *Expectations) Live(kinds ...workload.OpKind) bool {
	for _, other := range expect.others {
		if other.IsShutdown() {
			continue
		}
		for _, kind := range kinds {
			if kind == other.Operation {
				return true
			}
		}
	}
	return false
}

// FormatOptions wires a format Operation to its phase barriers.
type FormatOptions struct {
	MkdirCounter  *phasecounter.Counter
	CreateCounter *phasecounter.Counter
	OnCreate      func(anchor *anchor.Anchor) // called after each file a format creates
}

// New returns the Operation performing kind against a. Each worker gets its own.
func New(kind workload.OpKind, a *anchor.Anchor, options Options) (operation worker.Operation, err error) {
	if (nil == options.Source) || (nil == options.Recorder) {
		err = blunder.NewError(blunder.ConfigError, "ops.New(%s) needs a Source and a Recorder", kind)
		return
	}
	if 0 == options.XferSize {
		err = blunder.NewError(blunder.ConfigError, "ops.New(%s) needs a non-zero XferSize", kind)
		return
	}
	if options.DirectIO && ((workload.OpRead == kind) || (workload.OpWrite == kind)) {
		if 0 != options.XferSize%directio.BlockSize {
			err = blunder.NewError(blunder.ConfigError, "direct I/O XferSize %d must be a multiple of %d", options.XferSize, directio.BlockSize)
			return
		}
		if 0 != a.FileSize%directio.BlockSize {
			err = blunder.NewError(blunder.ConfigError, "direct I/O on anchor %s needs a FileSize multiple of %d, not %d", a.Name, directio.BlockSize, a.FileSize)
			return
		}
	}

	base := newBase(kind, a, options)

	switch kind {
	case workload.OpMkdir:
		operation = &mkdirOperation{base}
	case workload.OpRmdir:
		operation = &rmdirOperation{base}
	case workload.OpCreate:
		operation = &createOperation{base}
	case workload.OpDelete:
		operation = &deleteOperation{base}
	case workload.OpRead:
		operation = &readOperation{base}
	case workload.OpWrite:
		operation = &writeOperation{base}
	case workload.OpGetattr:
		operation = &getattrOperation{base}
	case workload.OpSetattr:
		operation = &setattrOperation{baseOperation: base}
	case workload.OpOpen:
		operation = &openOperation{base}
	case workload.OpClose:
		operation = &closeOperation{base}
	case workload.OpCopy:
		operation = &copyOperation{base}
	case workload.OpMove:
		operation = &moveOperation{base}
	case workload.OpFormat:
		if (nil == options.Format) || (nil == options.Format.MkdirCounter) || (nil == options.Format.CreateCounter) {
			err = blunder.NewError(blunder.ConfigError, "format on anchor %s needs both phase counters", a.Name)
			return
		}
		operation = newFormatOperation(a, options)
	default:
		err = blunder.NewError(blunder.ConfigError, "no operation for %s", kind)
	}

	return
}
