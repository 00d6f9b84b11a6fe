// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package worker runs the per-thread loop of a workload entry: wait for an
// admission, then perform one operation, until the run or the entry ends.
package worker

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/NVIDIA/fwgpace/blunder"
	"github.com/NVIDIA/fwgpace/halter"
	"github.com/NVIDIA/fwgpace/logger"
	"github.com/NVIDIA/fwgpace/ratequeue"
	"github.com/NVIDIA/fwgpace/stats"
	"github.com/NVIDIA/fwgpace/timesource"
	"github.com/NVIDIA/fwgpace/workload"
)

// Operation performs one unit of an entry's work. It returns false when the
// worker should stop (nothing left to do, or the run ended while it waited).
// An attempt that cannot proceed calls blocker.Block() and returns true.
type Operation interface {
	DoOperation(blocker Blocker) bool
}

// Blocker is the Operation's view of the worker running it.
type Blocker interface {
	Block(reason stats.BlockReason)
	Entry() *workload.Entry
	RateQueue() *ratequeue.RateQueue
	Done() *workload.DoneFlag
	Index() int
}

const (
	DefaultBlockKillThreshold = 10000
	FastBlockKillThreshold    = 100
	DefaultBlockSleep         = 200 * time.Microsecond

	stallWarningInterval = 5 * time.Second
)

// Config controls blocking behavior.
type Config struct {
	BlockKillThreshold uint64        // consecutive blocks before a stall halts the run
	BlockSleep         time.Duration // pause after each block
	FormatMode         bool          // format runs skip admission and never stall
}

// Worker is one thread of an entry.
type Worker struct {
	sync.Mutex        // protects blocks & lastBlock
	entry             *workload.Entry
	index             int
	rateQueue         *ratequeue.RateQueue
	operation         Operation
	source            *timesource.Source
	done              *workload.DoneFlag
	config            Config
	consecutiveBlocks uint64 // atomic
	blocks            map[stats.BlockReason]uint64
	lastBlock         stats.BlockReason
	lastProgressNanos int64  // atomic
	operations        uint64 // atomic
	stallWarnings     *rate.Limiter
}

// New returns a Worker for thread index of entry. A nil rateQueue means the
// worker never waits for admission.
func New(entry *workload.Entry, index int, rateQueue *ratequeue.RateQueue, operation Operation, source *timesource.Source, done *workload.DoneFlag, config Config) *Worker {
	if 0 == config.BlockKillThreshold {
		config.BlockKillThreshold = DefaultBlockKillThreshold
	}

	return &Worker{
		entry:             entry,
		index:             index,
		rateQueue:         rateQueue,
		operation:         operation,
		source:            source,
		done:              done,
		config:            config,
		blocks:            make(map[stats.BlockReason]uint64),
		lastProgressNanos: source.Nanos(),
		stallWarnings:     rate.NewLimiter(rate.Every(stallWarningInterval), 1),
	}
}

// Run loops until the done flag is set, the entry is shut down, admission is
// refused or the Operation asks to stop.
func (worker *Worker) Run() (err error) {
	logger.TracefEntry(worker.entry.Name, "worker %d starting", worker.index)

	for !worker.done.IsSet() {
		if worker.entry.IsShutdown() {
			break
		}

		if (nil != worker.rateQueue) && !worker.config.FormatMode {
			_, ok := worker.rateQueue.AcquireAdmission(worker.done)
			if !ok {
				break
			}
		}

		halter.Trigger(halter.WorkerOperation)

		blocksBefore := atomic.LoadUint64(&worker.consecutiveBlocks)

		if !worker.operation.DoOperation(worker) {
			break
		}

		if blocksBefore == atomic.LoadUint64(&worker.consecutiveBlocks) {
			atomic.StoreUint64(&worker.consecutiveBlocks, 0)
			atomic.StoreInt64(&worker.lastProgressNanos, worker.source.Nanos())
			atomic.AddUint64(&worker.operations, 1)
		}
	}

	logger.TracefEntry(worker.entry.Name, "worker %d stopping after %d operations", worker.index, worker.Operations())

	return
}

// Block records an attempt that could not make progress and pauses briefly.
// Outside format runs, past the kill threshold, it halts the run as stalled.
func (worker *Worker) Block(reason stats.BlockReason) {
	consecutive := atomic.AddUint64(&worker.consecutiveBlocks, 1)

	worker.Lock()
	worker.blocks[reason]++
	worker.lastBlock = reason
	worker.Unlock()

	stats.IncrementBlocks(worker.entry.Name, reason)

	if 0 < worker.config.BlockSleep {
		worker.source.Sleep(worker.config.BlockSleep)
	}

	if worker.config.FormatMode {
		return
	}

	// delete/copy/move wait on other workloads' creates without stalling
	if stats.BlockNoWork == reason {
		switch worker.entry.Operation {
		case workload.OpDelete, workload.OpCopy, workload.OpMove:
			return
		}
	}

	if (worker.config.BlockKillThreshold/10 <= consecutive) && worker.stallWarnings.Allow() {
		logger.WarnfEntry(worker.entry.Name, "worker %d blocked %d consecutive times (last: %s)", worker.index, consecutive, reason)
	}

	if consecutive > worker.config.BlockKillThreshold {
		stats.IncrementStalls(worker.entry.Name)
		halter.Halt(blunder.NewEntryError(blunder.StallError, worker.entry.Name,
			"too many thread blocks: %s; do you maybe have more threads running than files?", worker.Dump()))
	}
}

// Entry returns the entry the worker belongs to
func (worker *Worker) Entry() *workload.Entry {
	return worker.entry
}

// RateQueue returns the entry's queue (nil if the worker never waits for admission)
func (worker *Worker) RateQueue() *ratequeue.RateQueue {
	return worker.rateQueue
}

// Done returns the run's done flag
func (worker *Worker) Done() *workload.DoneFlag {
	return worker.done
}

// Index returns the worker's thread number within its entry
func (worker *Worker) Index() int {
	return worker.index
}

// ConsecutiveBlocks returns blocks since the last successful operation
func (worker *Worker) ConsecutiveBlocks() uint64 {
	return atomic.LoadUint64(&worker.consecutiveBlocks)
}

// Operations returns successful operations
func (worker *Worker) Operations() uint64 {
	return atomic.LoadUint64(&worker.operations)
}

// LastProgress returns the Nanos() of the last successful operation
func (worker *Worker) LastProgress() int64 {
	return atomic.LoadInt64(&worker.lastProgressNanos)
}

// Blocks returns the blocks counted for reason
func (worker *Worker) Blocks(reason stats.BlockReason) uint64 {
	worker.Lock()
	defer worker.Unlock()
	return worker.blocks[reason]
}

// Dump describes the worker for stall and halt diagnostics
func (worker *Worker) Dump() string {
	worker.Lock()
	reasons := make([]string, 0, len(worker.blocks))
	for reason, count := range worker.blocks {
		reasons = append(reasons, fmt.Sprintf("%s=%d", reason, count))
	}
	lastBlock := worker.lastBlock
	worker.Unlock()

	sort.Strings(reasons)

	suspended := false
	depth := 0
	if nil != worker.rateQueue {
		suspended = worker.rateQueue.IsSuspended()
		depth = worker.rateQueue.LastDepth()
	}

	sinceProgress := time.Duration(worker.source.Nanos() - worker.LastProgress())

	return fmt.Sprintf("%s/%d: op=%s shutdown=%v suspended=%v depth=%d operations=%d consecutive_blocks=%d last_block=%s since_progress=%v blocks=[%s]",
		worker.entry.Name,
		worker.index,
		worker.entry.Operation,
		worker.entry.IsShutdown(),
		suspended,
		depth,
		worker.Operations(),
		worker.ConsecutiveBlocks(),
		lastBlock,
		sinceProgress,
		strings.Join(reasons, ","))
}
