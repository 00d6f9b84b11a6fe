// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package phasecounter provides the barrier that separates the phases of a format
// run. Every participating worker decrements the Counter once; the last one
// performs the phase transition and releases all of them together.
package phasecounter

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/NVIDIA/fwgpace/blunder"
	"github.com/NVIDIA/fwgpace/halter"
	"github.com/NVIDIA/fwgpace/logger"
	"github.com/NVIDIA/fwgpace/ratequeue"
	"github.com/NVIDIA/fwgpace/stats"
	"github.com/NVIDIA/fwgpace/workload"
)

// Resetter is anything whose round-robin cursor restarts with each phase.
type Resetter interface {
	ResetRoundRobin()
}

// DefaultPollInterval bounds each wait between progress traces.
const DefaultPollInterval = 100 * time.Millisecond

// releaseTokens hands out Restart() tokens; each release gets a larger one
var releaseTokens uint64

// Counter is a single-use barrier for one phase.
type Counter struct {
	sync.Mutex
	name         string
	participants int
	remaining    int
	queues       []*ratequeue.RateQueue
	resetters    []Resetter
	pollInterval time.Duration
	token        uint64 // set on release
	released     chan struct{}
}

// New returns a Counter released by participants decrements. On release every
// resetter is reset and every queue restarted.
func New(name string, participants int, queues []*ratequeue.RateQueue, resetters []Resetter, pollInterval time.Duration) (counter *Counter, err error) {
	if 0 >= participants {
		err = blunder.NewError(blunder.ConfigError, "phase counter %s needs at least one participant, not %d", name, participants)
		return
	}
	if 0 >= pollInterval {
		pollInterval = DefaultPollInterval
	}

	counter = &Counter{
		name:         name,
		participants: participants,
		remaining:    participants,
		queues:       queues,
		resetters:    resetters,
		pollInterval: pollInterval,
		released:     make(chan struct{}),
	}

	return
}

// DecrementAndMaybeSignal is called once by each participant at the end of its
// phase. The caller's own queue (nil in bypass pacing) is suspended first. The
// last caller performs the phase transition; every other caller waits for it.
//
// Returns nil once the barrier is released, a ShutdownError if done was set
// first, or a ConfigError if called more times than there are participants.
func (counter *Counter) DecrementAndMaybeSignal(own *ratequeue.RateQueue, done *workload.DoneFlag) (err error) {
	if nil != own {
		own.Suspend()
	}

	counter.Lock()

	if 0 == counter.remaining {
		counter.Unlock()
		err = blunder.NewError(blunder.ConfigError, "phase counter %s decremented more than %d times", counter.name, counter.participants)
		return
	}

	counter.remaining--

	if 0 == counter.remaining {
		counter.release()
		counter.Unlock()
		halter.Trigger(halter.PhaseCounterRelease)
		return
	}

	remaining := counter.remaining
	counter.Unlock()

	entryName := ""
	if nil != own {
		entryName = own.Entry().Name
		stats.IncrementBlocks(entryName, stats.BlockBarrier)
	}

	ticker := time.NewTicker(counter.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-counter.released:
			if nil != own {
				_ = own.Restart(atomic.LoadUint64(&counter.token))
			}
			return
		case <-done.Done():
			err = blunder.NewError(blunder.ShutdownError, "phase counter %s abandoned with %d remaining", counter.name, counter.Remaining())
			return
		case <-ticker.C:
			logger.TracefEntry(entryName, "waiting on phase counter %s (%d of %d remaining at arrival)", counter.name, remaining, counter.participants)
		}
	}
}

// release performs the phase transition; caller holds the lock
func (counter *Counter) release() {
	token := atomic.AddUint64(&releaseTokens, 1)
	atomic.StoreUint64(&counter.token, token)

	for _, resetter := range counter.resetters {
		resetter.ResetRoundRobin()
	}
	for _, rateQueue := range counter.queues {
		_ = rateQueue.Restart(token)
	}

	logger.Infof("phase counter %s released %d participants", counter.name, counter.participants)

	close(counter.released)
}

// Name returns the Counter's name
func (counter *Counter) Name() string {
	return counter.name
}

// Remaining returns the decrements still needed
func (counter *Counter) Remaining() int {
	counter.Lock()
	defer counter.Unlock()
	return counter.remaining
}

// IsReleased reports whether the last participant has arrived
func (counter *Counter) IsReleased() bool {
	select {
	case <-counter.released:
		return true
	default:
		return false
	}
}

func (counter *Counter) String() string {
	return fmt.Sprintf("%s(%d/%d remaining)", counter.name, counter.Remaining(), counter.participants)
}
