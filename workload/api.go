// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package workload describes the configured operation streams of a run and the
// flag used to end it.
//
// An Entry is one stream: an operation kind against one anchor by some number of
// worker threads, taking a skew percentage of the aggregate rate. Entries are
// referenced by pointer and, apart from their skew (set once by NormalizeSkew)
// and their shutdown flag, are not modified after setup.
package workload

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/NVIDIA/fwgpace/blunder"
)

// OpKind is the file system operation an Entry performs.
type OpKind int

const (
	OpRead OpKind = iota
	OpWrite
	OpCreate
	OpDelete
	OpMkdir
	OpRmdir
	OpGetattr
	OpSetattr
	OpOpen
	OpClose
	OpCopy
	OpMove
	OpFormat
)

var opKindNames = []string{
	"read",
	"write",
	"create",
	"delete",
	"mkdir",
	"rmdir",
	"getattr",
	"setattr",
	"open",
	"close",
	"copy",
	"move",
	"format",
}

func (opKind OpKind) String() string {
	if (0 > opKind) || (int(opKind) >= len(opKindNames)) {
		return fmt.Sprintf("op-%d", int(opKind))
	}
	return opKindNames[opKind]
}

// ParseOpKind returns the OpKind named by s (case insensitive)
func ParseOpKind(s string) (opKind OpKind, err error) {
	lower := strings.ToLower(s)
	for i, name := range opKindNames {
		if name == lower {
			opKind = OpKind(i)
			return
		}
	}
	err = blunder.NewError(blunder.ConfigError, "unknown operation %q", s)
	return
}

// OpKinds returns every OpKind in order
func OpKinds() []OpKind {
	opKinds := make([]OpKind, len(opKindNames))
	for i := range opKindNames {
		opKinds[i] = OpKind(i)
	}
	return opKinds
}

// MaxRate is the Rate sentinel meaning "as fast as possible". Pacing replaces it
// by UncontrolledRate rather than dividing by it.
const MaxRate float64 = -1

// UncontrolledRate is the aggregate rate used in place of MaxRate.
const UncontrolledRate float64 = 99999999

// EffectiveRate returns the aggregate rate pacing should use for rate
func EffectiveRate(rate float64) float64 {
	if MaxRate == rate {
		return UncontrolledRate
	}
	return rate
}

// Entry is one configured operation stream.
type Entry struct {
	Name       string
	Seq        int // ordinal position among the run's entries
	Operation  OpKind
	AnchorName string
	Threads    int
	Skew       float64 // percent of aggregate rate; 0 before NormalizeSkew() means "unspecified"
	XferSize   uint64  // bytes per read/write
	DirectIO   bool
	shutdown   uint32
}

// Shutdown marks the entry as unable to make further progress. Its workers stop.
// It reports whether this call was the one that shut the entry down.
func (entry *Entry) Shutdown() (first bool) {
	return atomic.CompareAndSwapUint32(&entry.shutdown, 0, 1)
}

// IsShutdown reports whether Shutdown() has been called
func (entry *Entry) IsShutdown() bool {
	return 1 == atomic.LoadUint32(&entry.shutdown)
}

func (entry *Entry) String() string {
	return fmt.Sprintf("%s(seq=%d,op=%s,anchor=%s,threads=%d,skew=%.4f)", entry.Name, entry.Seq, entry.Operation, entry.AnchorName, entry.Threads, entry.Skew)
}

// DoneFlag is the cooperative signal that ends a run. Every bounded wait polls it.
type DoneFlag struct {
	done     uint32
	doneChan chan struct{}
	once     sync.Once
}

// NewDoneFlag returns a DoneFlag that is not set
func NewDoneFlag() *DoneFlag {
	return &DoneFlag{doneChan: make(chan struct{})}
}

// Set sets the flag. Setting it again has no effect.
func (doneFlag *DoneFlag) Set() {
	doneFlag.once.Do(func() {
		atomic.StoreUint32(&doneFlag.done, 1)
		close(doneFlag.doneChan)
	})
}

// IsSet reports whether Set() has been called
func (doneFlag *DoneFlag) IsSet() bool {
	return 1 == atomic.LoadUint32(&doneFlag.done)
}

// Done returns a channel closed by Set()
func (doneFlag *DoneFlag) Done() <-chan struct{} {
	return doneFlag.doneChan
}

// Skew normalization tolerance around 100%
const (
	skewTotal     = 100.0
	skewTolerance = 0.0001
)

// NormalizeSkew gives every entry with an unspecified (0) skew an equal share of
// whatever the explicit skews leave of 100%, in order. The resulting total must be
// within 0.0001 of 100 and every skew must end up in (0,100].
func NormalizeSkew(entries []*Entry) (err error) {
	var (
		totalSkew   float64
		unspecified int
	)

	for _, entry := range entries {
		if (0 > entry.Skew) || (skewTotal < entry.Skew) {
			err = blunder.NewEntryError(blunder.ConfigError, entry.Name, "skew for %s must be in [0,100], not %v", entry.Name, entry.Skew)
			return
		}
		if 0 == entry.Skew {
			unspecified++
		} else {
			totalSkew += entry.Skew
		}
	}

	if 0 != unspecified {
		remainder := (skewTotal - totalSkew) / float64(unspecified)
		if 0 >= remainder {
			err = blunder.NewError(blunder.ConfigError, "explicit skews total %v leave nothing for %d unspecified entries", totalSkew, unspecified)
			return
		}
		for _, entry := range entries {
			if 0 == entry.Skew {
				entry.Skew = remainder
				totalSkew += remainder
			}
		}
	}

	if (0 != len(entries)) && ((totalSkew < skewTotal-skewTolerance) || (totalSkew > skewTotal+skewTolerance)) {
		err = blunder.NewError(blunder.ConfigError, "total skew must add up to 100: %v", totalSkew)
		return
	}

	return
}
