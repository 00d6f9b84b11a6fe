// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package timesource provides the single monotonic clock shared by the waiter and
// the workers. Readings are nanoseconds since the Source's epoch.
package timesource

import (
	"time"

	"k8s.io/utils/clock"
)

// Source is a monotonic nanosecond clock anchored at the time it was created.
type Source struct {
	clock clock.WithTicker
	epoch time.Time
}

// New returns a Source backed by the wall clock's monotonic reading.
func New() *Source {
	return NewWithClock(clock.RealClock{})
}

// NewWithClock returns a Source backed by c. Tests pass a
// k8s.io/utils/clock/testing.FakeClock so that Sleep() advances time instantly.
func NewWithClock(c clock.WithTicker) *Source {
	return &Source{clock: c, epoch: c.Now()}
}

// Nanos returns nanoseconds elapsed since the Source's epoch.
func (source *Source) Nanos() int64 {
	return int64(source.clock.Since(source.epoch))
}

// Sleep pauses the caller for d on the Source's clock. Non-positive d returns at once.
func (source *Source) Sleep(d time.Duration) {
	if 0 >= d {
		return
	}
	source.clock.Sleep(d)
}

// SleepUntil pauses until Nanos() reaches deadline, in steps of at most maxChunk,
// calling stop before each step. It reports false if stop returned true first.
func (source *Source) SleepUntil(deadline int64, maxChunk time.Duration, stop func() bool) (reached bool) {
	for {
		if stop() {
			return false
		}
		remaining := time.Duration(deadline - source.Nanos())
		if 0 >= remaining {
			return true
		}
		if remaining > maxChunk {
			remaining = maxChunk
		}
		source.clock.Sleep(remaining)
	}
}

// Epoch returns the clock reading that Nanos() is relative to.
func (source *Source) Epoch() time.Time {
	return source.epoch
}

// Time converts a Nanos() reading back to a time.Time.
func (source *Source) Time(nanos int64) time.Time {
	return source.epoch.Add(time.Duration(nanos))
}

// Clock returns the underlying clock.
func (source *Source) Clock() clock.WithTicker {
	return source.clock
}
