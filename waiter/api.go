// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package waiter arbitrates the shared clock among the RateQueues of a run.
//
// A single Waiter goroutine repeatedly selects the eligible queue whose next
// arrival is earliest, sleeps until that arrival and then admits one operation
// for it. Queues are kept in a btree ordered by (arrival, sequence). Because
// anything other than the Waiter only ever moves an arrival later, a queue's key
// is a lower bound of its true arrival and a stale key is corrected when it
// reaches the front.
package waiter

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/btree"

	"github.com/NVIDIA/fwgpace/halter"
	"github.com/NVIDIA/fwgpace/logger"
	"github.com/NVIDIA/fwgpace/ratequeue"
	"github.com/NVIDIA/fwgpace/timesource"
	"github.com/NVIDIA/fwgpace/workload"
)

// Config holds the Waiter's bounded waits.
type Config struct {
	MaxSleepChunk       time.Duration // longest single sleep toward an arrival
	PollInterval        time.Duration // longest single wait for an in-flight unit
	AllSuspendedBackoff time.Duration // sleep when no queue is eligible
	SuspendedSpin       time.Duration // sleep after a selected queue was suspended
}

// DefaultConfig returns the standard bounded waits.
func DefaultConfig() Config {
	return Config{
		MaxSleepChunk:       100 * time.Millisecond,
		PollInterval:        100 * time.Millisecond,
		AllSuspendedBackoff: 10 * time.Millisecond,
		SuspendedSpin:       10 * time.Microsecond,
	}
}

type arrivalItem struct {
	arrival int64 // lower bound of queue's NextArrivalNanos()
	seq     int
	index   int // into Waiter.queues
}

func (item *arrivalItem) Less(than btree.Item) bool {
	other := than.(*arrivalItem)
	if item.arrival != other.arrival {
		return item.arrival < other.arrival
	}
	if item.seq != other.seq {
		return item.seq < other.seq
	}
	return item.index < other.index
}

// Waiter owns the arbitration over a fixed set of RateQueues.
type Waiter struct {
	source     *timesource.Source
	done       *workload.DoneFlag
	config     Config
	queues     []*ratequeue.RateQueue
	items      []*arrivalItem
	tree       *btree.BTree
	dispatches uint64 // atomic
	abandoned  uint64 // atomic
	idle       uint64 // atomic; SELECTs that found no eligible queue
}

// New returns a Waiter over queues, which must all be initialized. Zero Config
// fields take their DefaultConfig() values.
func New(source *timesource.Source, done *workload.DoneFlag, queues []*ratequeue.RateQueue, config Config) (waiter *Waiter, err error) {
	defaults := DefaultConfig()
	if 0 >= config.MaxSleepChunk {
		config.MaxSleepChunk = defaults.MaxSleepChunk
	}
	if 0 >= config.PollInterval {
		config.PollInterval = defaults.PollInterval
	}
	if 0 >= config.AllSuspendedBackoff {
		config.AllSuspendedBackoff = defaults.AllSuspendedBackoff
	}
	if 0 >= config.SuspendedSpin {
		config.SuspendedSpin = defaults.SuspendedSpin
	}

	waiter = &Waiter{
		source: source,
		done:   done,
		config: config,
		queues: queues,
		items:  make([]*arrivalItem, len(queues)),
		tree:   btree.New(2),
	}

	for index, rateQueue := range queues {
		if !rateQueue.IsInitialized() {
			err = fmt.Errorf("waiter.New(): RateQueue for %s not initialized", rateQueue.Entry().Name)
			waiter = nil
			return
		}
		item := &arrivalItem{
			arrival: rateQueue.NextArrivalNanos(),
			seq:     rateQueue.Entry().Seq,
			index:   index,
		}
		waiter.items[index] = item
		waiter.tree.ReplaceOrInsert(item)
	}

	return
}

// Run performs SELECT/DISPATCH cycles until the done flag is set.
func (waiter *Waiter) Run() (err error) {
	logger.Infof("waiter starting with %d queues", len(waiter.queues))

	for waiter.Step() {
	}

	logger.Infof("waiter stopping after %d dispatches (%d abandoned)", waiter.Dispatches(), waiter.Abandoned())

	return
}

// Step performs one SELECT/DISPATCH cycle. It reports false once the done flag
// has been observed.
func (waiter *Waiter) Step() (more bool) {
	if waiter.done.IsSet() {
		return false
	}

	item, generation := waiter.selectQueue()
	if nil == item {
		atomic.AddUint64(&waiter.idle, 1)
		waiter.source.Sleep(waiter.config.AllSuspendedBackoff)
		return !waiter.done.IsSet()
	}

	rateQueue := waiter.queues[item.index]
	arrival := item.arrival

	abandon := func() bool {
		return waiter.done.IsSet() || !rateQueue.IsEligible() || (generation != rateQueue.Generation())
	}

	if !waiter.source.SleepUntil(arrival, waiter.config.MaxSleepChunk, abandon) {
		return waiter.abandonDispatch(item)
	}

	halter.Trigger(halter.WaiterDispatch)

	if !rateQueue.ReserveInFlight(waiter.config.PollInterval, abandon) {
		return waiter.abandonDispatch(item)
	}
	if !rateQueue.CommitDispatch(generation, arrival) {
		return waiter.abandonDispatch(item)
	}

	atomic.AddUint64(&waiter.dispatches, 1)
	waiter.reposition(item)

	return true
}

// selectQueue returns the eligible queue with the earliest arrival, along with the
// generation its arrival was read in, or nil if every queue is suspended or retired
func (waiter *Waiter) selectQueue() (chosen *arrivalItem, generation uint64) {
	for {
		var stale *arrivalItem

		waiter.tree.Ascend(func(i btree.Item) bool {
			item := i.(*arrivalItem)
			rateQueue := waiter.queues[item.index]
			if !rateQueue.IsEligible() {
				return true
			}
			generation = rateQueue.Generation()
			if item.arrival != rateQueue.NextArrivalNanos() {
				stale = item
				return false
			}
			chosen = item
			return false
		})

		if nil == stale {
			return
		}

		waiter.reposition(stale)
	}
}

// reposition re-keys item with its queue's current arrival
func (waiter *Waiter) reposition(item *arrivalItem) {
	waiter.tree.Delete(item)
	item.arrival = waiter.queues[item.index].NextArrivalNanos()
	waiter.tree.ReplaceOrInsert(item)
}

// abandonDispatch handles a selection that can no longer be admitted
func (waiter *Waiter) abandonDispatch(item *arrivalItem) (more bool) {
	if waiter.done.IsSet() {
		return false
	}

	atomic.AddUint64(&waiter.abandoned, 1)

	rateQueue := waiter.queues[item.index]
	logger.TracefEntry(rateQueue.Entry().Name, "waiter abandoned dispatch at %d", item.arrival)

	if rateQueue.IsSuspended() {
		waiter.source.Sleep(waiter.config.SuspendedSpin)
	}

	return true
}

// Dispatches returns the admissions released so far
func (waiter *Waiter) Dispatches() uint64 {
	return atomic.LoadUint64(&waiter.dispatches)
}

// Abandoned returns the selections given up because their queue was suspended,
// restarted or rescheduled (or the run ended) before admission
func (waiter *Waiter) Abandoned() uint64 {
	return atomic.LoadUint64(&waiter.abandoned)
}

// Idle returns the SELECTs that found every queue suspended
func (waiter *Waiter) Idle() uint64 {
	return atomic.LoadUint64(&waiter.idle)
}

// Dump describes every queue for diagnostics
func (waiter *Waiter) Dump() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "waiter: dispatches=%d abandoned=%d idle=%d\n", waiter.Dispatches(), waiter.Abandoned(), waiter.Idle())
	for _, rateQueue := range waiter.queues {
		fmt.Fprintf(&sb, "  %s\n", rateQueue.Dump())
	}

	return sb.String()
}
