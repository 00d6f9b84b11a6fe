// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package ratequeue paces one workload entry.
//
// A RateQueue knows when the entry's next operation is due and holds two counting
// semaphores. The admission semaphore (starting empty) carries permits from the
// waiter to the entry's workers. The in-flight semaphore (starting full) bounds how
// far ahead of the workers the waiter may run: the waiter takes one in-flight unit
// before releasing each admission, and a worker gives one back after taking an
// admission. Admitted but unconsumed permits therefore never exceed MaxInFlight.
package ratequeue

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/creachadair/cityhash"

	"github.com/NVIDIA/fwgpace/blunder"
	"github.com/NVIDIA/fwgpace/logger"
	"github.com/NVIDIA/fwgpace/stats"
	"github.com/NVIDIA/fwgpace/timesource"
	"github.com/NVIDIA/fwgpace/utils"
	"github.com/NVIDIA/fwgpace/workload"
)

// Distribution governs how successive inter-arrival times vary around the mean.
type Distribution int

const (
	Exponential Distribution = iota
	Uniform
	Deterministic
)

func (distribution Distribution) String() string {
	switch distribution {
	case Exponential:
		return "exponential"
	case Uniform:
		return "uniform"
	case Deterministic:
		return "deterministic"
	}
	return fmt.Sprintf("distribution-%d", int(distribution))
}

// ParseDistribution returns the Distribution named by s
func ParseDistribution(s string) (distribution Distribution, err error) {
	switch strings.ToLower(s) {
	case "exponential":
		distribution = Exponential
	case "uniform":
		distribution = Uniform
	case "deterministic":
		distribution = Deterministic
	default:
		err = blunder.NewError(blunder.ConfigError, "unknown distribution %q (expected exponential, uniform or deterministic)", s)
	}
	return
}

const (
	DefaultMaxInFlight  = 2000
	DefaultPollInterval = 100 * time.Millisecond

	deterministicSeedMultiplier = 10000
)

// Config holds the pacing parameters shared by every RateQueue of a run.
type Config struct {
	Rate         float64 // aggregate operations/second, or workload.MaxRate
	Distribution Distribution
	MaxInFlight  int            // admitted but unconsumed permits allowed; 0 means DefaultMaxInFlight
	Bursts       *BurstSchedule // optional variable rate replacing Rate
	Bypass       bool           // workers skip admission altogether
	RandomSeed   uint64         // mixed with the entry name to seed its random stream
	PollInterval time.Duration  // longest a worker waits for an admission between done checks
}

// RateQueue paces one workload.Entry. See the package comment.
type RateQueue struct {
	sync.Mutex
	entry             *workload.Entry
	source            *timesource.Source
	config            Config
	rate              float64 // effective aggregate rate
	interArrivalNanos int64
	initialized       bool
	startNanos        int64  // Nanos() at Initialize()
	nextArrivalNanos  int64  // atomic reads; written under mutex
	suspended         uint32 // atomic reads; written under mutex
	generation        uint64 // atomic reads; bumped under mutex by Restart()
	restartToken      uint64 // last barrier release token Restart() applied
	burstSecond       int64  // current second of a hot (non-spread) burst
	burstLeft         int64  // operations left to schedule in burstSecond
	rng               *rand.Rand
	admission         *utils.TrySemaphore
	maxInFlight       *utils.TrySemaphore
	dispatched        uint64 // atomic
	admitted          uint64 // atomic
	lastDepth         int64  // atomic
}

// New returns an uninitialized RateQueue for entry. The entry's skew must already
// be normalized.
func New(entry *workload.Entry, source *timesource.Source, config Config) (rateQueue *RateQueue, err error) {
	if (0 >= entry.Skew) || (100 < entry.Skew) {
		err = blunder.NewEntryError(blunder.ConfigError, entry.Name, "skew for %s must be in (0,100], not %v", entry.Name, entry.Skew)
		return
	}
	if (workload.MaxRate != config.Rate) && (0 >= config.Rate) && (nil == config.Bursts) {
		err = blunder.NewEntryError(blunder.ConfigError, entry.Name, "rate for %s must be positive or max, not %v", entry.Name, config.Rate)
		return
	}
	if nil != config.Bursts {
		err = config.Bursts.verifyForSkew(entry.Skew)
		if nil != err {
			err = blunder.NewEntryError(blunder.ConfigError, entry.Name, "%s: %v", entry.Name, err)
			return
		}
	}
	if 0 > config.MaxInFlight {
		err = blunder.NewEntryError(blunder.ConfigError, entry.Name, "MaxInFlight must not be negative, not %v", config.MaxInFlight)
		return
	}
	if 0 == config.MaxInFlight {
		config.MaxInFlight = DefaultMaxInFlight
	}
	if 0 >= config.PollInterval {
		config.PollInterval = DefaultPollInterval
	}

	rateQueue = &RateQueue{
		entry:       entry,
		source:      source,
		config:      config,
		burstSecond: -1,
		rng:         rand.New(rand.NewSource(int64(cityhash.Hash64WithSeed([]byte(entry.Name), config.RandomSeed)))),
		admission:   utils.NewTrySemaphore(config.MaxInFlight, 0),
		maxInFlight: utils.NewTrySemaphore(config.MaxInFlight, config.MaxInFlight),
	}

	rateQueue.rate = workload.EffectiveRate(config.Rate)
	if nil != config.Bursts {
		rateQueue.rate = config.Bursts.MaxRate()
	}
	rateQueue.interArrivalNanos = int64(1e9 * 100 / entry.Skew / rateQueue.rate)
	if 0 >= rateQueue.interArrivalNanos {
		rateQueue.interArrivalNanos = 1
	}

	return
}

// Initialize schedules the first arrival, anchored to the shared clock's current
// reading. It is called once, after every RateQueue of the run has been built.
func (rateQueue *RateQueue) Initialize() {
	rateQueue.Lock()
	defer rateQueue.Unlock()

	now := rateQueue.source.Nanos()
	rateQueue.startNanos = now

	var first int64

	if nil != rateQueue.config.Bursts {
		first = rateQueue.burstArrival(now)
	} else {
		interval := float64(rateQueue.interArrivalNanos)
		switch rateQueue.config.Distribution {
		case Exponential:
			first = int64(rateQueue.rng.ExpFloat64() * interval)
		case Uniform:
			first = int64(rateQueue.rng.Float64() * 2 * interval)
		default:
			seeded := rand.New(rand.NewSource(int64(deterministicSeedMultiplier * rateQueue.entry.Seq)))
			first = int64(seeded.Float64() * interval)
		}
		first += now
	}

	atomic.StoreInt64(&rateQueue.nextArrivalNanos, first)
	rateQueue.initialized = true
}

// nextDelta draws the time from one arrival to the next; caller holds the lock
func (rateQueue *RateQueue) nextDelta(interval int64) (delta int64) {
	switch rateQueue.config.Distribution {
	case Exponential:
		delta = int64(rateQueue.rng.ExpFloat64() * float64(interval))
	case Uniform:
		delta = int64(rateQueue.rng.Float64() * 2 * float64(interval))
	default:
		delta = interval
	}
	return
}

// burstArrival computes the arrival following previous under a burst schedule;
// caller holds the lock
func (rateQueue *RateQueue) burstArrival(previous int64) int64 {
	bursts := rateQueue.config.Bursts
	skew := rateQueue.entry.Skew

	if !bursts.IsSpread() {
		for 0 == rateQueue.burstLeft {
			rateQueue.burstSecond++
			rateQueue.burstLeft = int64(bursts.RateAt(rateQueue.burstSecond) * skew / 100)
		}
		rateQueue.burstLeft--
		return rateQueue.startNanos + rateQueue.burstSecond*int64(time.Second)
	}

	relative := previous - rateQueue.startNanos
	if 0 > relative {
		relative = 0
	}

	entryRate := bursts.RateAt(relative/int64(time.Second)) * skew / 100
	for 0 >= entryRate {
		relative += int64(time.Second)
		entryRate = bursts.RateAt(relative/int64(time.Second)) * skew / 100
	}

	interval := int64(1e9 / entryRate)
	if 0 >= interval {
		interval = 1
	}

	delta := rateQueue.nextDelta(interval)
	switch rateQueue.config.Distribution {
	case Exponential:
		if delta > spreadExponentialCap {
			delta = spreadExponentialCap
		}
	case Uniform:
		if delta > spreadUniformCap {
			delta = spreadUniformCap
		}
	}

	return rateQueue.startNanos + relative + delta
}

// Entry returns the entry being paced
func (rateQueue *RateQueue) Entry() *workload.Entry {
	return rateQueue.entry
}

// IsInitialized reports whether Initialize() has been called
func (rateQueue *RateQueue) IsInitialized() bool {
	rateQueue.Lock()
	defer rateQueue.Unlock()
	return rateQueue.initialized
}

// InterArrivalNanos returns the mean interval between arrivals at the base rate
func (rateQueue *RateQueue) InterArrivalNanos() int64 {
	return rateQueue.interArrivalNanos
}

// Rate returns the effective aggregate rate the interval was computed from
func (rateQueue *RateQueue) Rate() float64 {
	return rateQueue.rate
}

// NextArrivalNanos returns when the next admission is due. Safe without the lock.
func (rateQueue *RateQueue) NextArrivalNanos() int64 {
	return atomic.LoadInt64(&rateQueue.nextArrivalNanos)
}

// IsSuspended reports whether the queue is excluded from arbitration. Safe without the lock.
func (rateQueue *RateQueue) IsSuspended() bool {
	return 1 == atomic.LoadUint32(&rateQueue.suspended)
}

// IsEligible reports whether the waiter may dispatch to the queue: it is neither
// suspended nor retired. Safe without the lock.
func (rateQueue *RateQueue) IsEligible() bool {
	return !rateQueue.IsSuspended() && !rateQueue.entry.IsShutdown()
}

// Generation returns the number of Restart()s applied. Safe without the lock.
func (rateQueue *RateQueue) Generation() uint64 {
	return atomic.LoadUint64(&rateQueue.generation)
}

// IsBypass reports whether workers skip admission
func (rateQueue *RateQueue) IsBypass() bool {
	return rateQueue.config.Bypass
}

// MaxInFlight returns the in-flight cap
func (rateQueue *RateQueue) MaxInFlight() int {
	return rateQueue.maxInFlight.Capacity()
}

// Suspend excludes the queue from arbitration until Resume() or Restart()
func (rateQueue *RateQueue) Suspend() {
	rateQueue.Lock()
	atomic.StoreUint32(&rateQueue.suspended, 1)
	rateQueue.Unlock()

	stats.SetSuspended(rateQueue.entry.Name, true)
}

// reanchor moves a next arrival that has fallen behind the clock up to now, so a
// queue returning from suspension catches up at most once; caller holds the lock
func (rateQueue *RateQueue) reanchor() {
	now := rateQueue.source.Nanos()
	if rateQueue.initialized && (atomic.LoadInt64(&rateQueue.nextArrivalNanos) < now) {
		atomic.StoreInt64(&rateQueue.nextArrivalNanos, now)
	}
}

// Retire takes the queue out of arbitration for good: its entry is shut down and
// the queue suspended. Neither Resume() nor Restart() brings it back.
func (rateQueue *RateQueue) Retire() {
	if rateQueue.entry.Shutdown() {
		logger.InfofEntry(rateQueue.entry.Name, "workload %s retired after %d dispatches", rateQueue.entry.Name, rateQueue.Dispatched())
	}
	rateQueue.Suspend()
}

// Resume returns a suspended queue to arbitration keeping its permits. Pacing
// itself only suspends through phase barriers, which end in Restart(); Resume is
// for callers pausing a queue without starting a new generation.
func (rateQueue *RateQueue) Resume() {
	resumed := false

	rateQueue.Lock()
	if rateQueue.IsSuspended() && !rateQueue.entry.IsShutdown() {
		rateQueue.reanchor()
		atomic.StoreUint32(&rateQueue.suspended, 0)
		resumed = true
	}
	rateQueue.Unlock()

	if resumed {
		stats.SetSuspended(rateQueue.entry.Name, false)
	}
}

// Restart discards pending admissions, refills the in-flight semaphore and
// resumes the queue (unless retired), starting a new generation. A waiter
// dispatch that selected the queue in an earlier generation is abandoned rather
// than committed.
//
// Each non-zero token is applied at most once: a barrier hands every participant
// the same token on release, so only the first Restart() for that release drains,
// and later ones cannot take permits that already belong to the new phase.
// A zero token always applies. Restart reports whether it applied.
func (rateQueue *RateQueue) Restart(token uint64) (applied bool) {
	rateQueue.Lock()

	if (0 != token) && (token <= rateQueue.restartToken) {
		rateQueue.Unlock()
		return false
	}
	if 0 != token {
		rateQueue.restartToken = token
	}

	atomic.AddUint64(&rateQueue.generation, 1)
	_ = rateQueue.admission.Drain()
	_ = rateQueue.maxInFlight.Fill()
	rateQueue.reanchor()
	retired := rateQueue.entry.IsShutdown()
	if !retired {
		atomic.StoreUint32(&rateQueue.suspended, 0)
	}

	rateQueue.Unlock()

	stats.SetSuspended(rateQueue.entry.Name, retired)

	return true
}

// ReserveInFlight takes one in-flight unit for a dispatch, waiting in steps of
// pollInterval and giving up as soon as abandon returns true.
func (rateQueue *RateQueue) ReserveInFlight(pollInterval time.Duration, abandon func() bool) (reserved bool) {
	for {
		if abandon() {
			return false
		}
		if rateQueue.maxInFlight.TryAcquire(pollInterval) {
			return true
		}
	}
}

// CommitDispatch completes a dispatch selected at generation for arrival, holding a
// unit from ReserveInFlight(). If the queue was suspended, restarted or rescheduled
// since selection nothing is admitted and the unit is returned (a no-op if a
// Restart() already refilled the semaphore). Otherwise one admission is released
// and the next arrival is computed from arrival, never from the clock.
func (rateQueue *RateQueue) CommitDispatch(generation uint64, arrival int64) (committed bool) {
	rateQueue.Lock()

	if (generation != rateQueue.Generation()) || !rateQueue.IsEligible() || (arrival != rateQueue.NextArrivalNanos()) {
		_ = rateQueue.maxInFlight.Release()
		rateQueue.Unlock()
		return false
	}

	_ = rateQueue.admission.Release()

	var next int64
	if nil != rateQueue.config.Bursts {
		next = rateQueue.burstArrival(arrival)
	} else {
		next = arrival + rateQueue.nextDelta(rateQueue.interArrivalNanos)
	}
	atomic.StoreInt64(&rateQueue.nextArrivalNanos, next)

	rateQueue.Unlock()

	atomic.AddUint64(&rateQueue.dispatched, 1)
	stats.IncrementDispatches(rateQueue.entry.Name)

	return true
}

// AcquireAdmission blocks until the waiter admits this entry's next operation,
// rechecking done and the entry's shutdown flag every PollInterval. It returns the
// free in-flight units seen before giving one back (the queue depth) and ok=false
// if the run or entry ended first. In bypass mode it returns at once.
func (rateQueue *RateQueue) AcquireAdmission(done *workload.DoneFlag) (permitDepth int, ok bool) {
	if rateQueue.config.Bypass {
		ok = !done.IsSet() && !rateQueue.entry.IsShutdown()
		return
	}

	for {
		if done.IsSet() || rateQueue.entry.IsShutdown() {
			return
		}
		if rateQueue.admission.TryAcquire(rateQueue.config.PollInterval) {
			break
		}
	}

	permitDepth = rateQueue.maxInFlight.Available()
	rateQueue.releaseMaxInFlight()

	atomic.AddUint64(&rateQueue.admitted, 1)
	atomic.StoreInt64(&rateQueue.lastDepth, int64(permitDepth))
	stats.SetQueueDepth(rateQueue.entry.Name, permitDepth)

	ok = true
	return
}

// releaseMaxInFlight returns the in-flight unit that backed a consumed admission.
// After a Restart() refilled the semaphore there is nothing to return to.
func (rateQueue *RateQueue) releaseMaxInFlight() {
	_ = rateQueue.maxInFlight.Release()
}

// Dispatched returns the number of admissions released by the waiter
func (rateQueue *RateQueue) Dispatched() uint64 {
	return atomic.LoadUint64(&rateQueue.dispatched)
}

// Admitted returns the number of admissions taken by workers
func (rateQueue *RateQueue) Admitted() uint64 {
	return atomic.LoadUint64(&rateQueue.admitted)
}

// PendingAdmissions returns admissions released but not yet taken
func (rateQueue *RateQueue) PendingAdmissions() int {
	return rateQueue.admission.Available()
}

// InFlight returns in-flight units currently held (cap minus free units)
func (rateQueue *RateQueue) InFlight() int {
	return rateQueue.maxInFlight.Capacity() - rateQueue.maxInFlight.Available()
}

// LastDepth returns the depth most recently reported by AcquireAdmission()
func (rateQueue *RateQueue) LastDepth() int {
	return int(atomic.LoadInt64(&rateQueue.lastDepth))
}

// Dump describes the queue's state for diagnostics
func (rateQueue *RateQueue) Dump() string {
	return fmt.Sprintf("%s: suspended=%v generation=%d interval=%dns next=%d now=%d pending=%d inflight=%d/%d dispatched=%d admitted=%d depth=%d",
		rateQueue.entry.Name,
		rateQueue.IsSuspended(),
		rateQueue.Generation(),
		rateQueue.interArrivalNanos,
		rateQueue.NextArrivalNanos(),
		rateQueue.source.Nanos(),
		rateQueue.PendingAdmissions(),
		rateQueue.InFlight(),
		rateQueue.config.MaxInFlight,
		rateQueue.Dispatched(),
		rateQueue.Admitted(),
		rateQueue.LastDepth())
}
