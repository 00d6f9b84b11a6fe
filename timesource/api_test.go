// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package timesource

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	clocktesting "k8s.io/utils/clock/testing"
)

func TestFakeSource(t *testing.T) {
	assert := assert.New(t)

	fakeClock := clocktesting.NewFakeClock(time.Unix(1000, 0))
	source := NewWithClock(fakeClock)

	assert.Equal(int64(0), source.Nanos())

	source.Sleep(1500 * time.Microsecond)
	assert.Equal(int64(1500000), source.Nanos())

	source.Sleep(-time.Second)
	assert.Equal(int64(1500000), source.Nanos())

	fakeClock.Step(time.Second)
	assert.Equal(int64(1001500000), source.Nanos())
	assert.Equal(time.Unix(1001, 1500000), source.Time(source.Nanos()))
	assert.Equal(time.Unix(1000, 0), source.Epoch())
}

func TestSleepUntil(t *testing.T) {
	assert := assert.New(t)

	fakeClock := clocktesting.NewFakeClock(time.Unix(0, 0))
	source := NewWithClock(fakeClock)

	steps := 0
	reached := source.SleepUntil(int64(350*time.Millisecond), 100*time.Millisecond, func() bool {
		steps++
		return false
	})
	assert.True(reached)
	assert.Equal(int64(350*time.Millisecond), source.Nanos())
	assert.Equal(5, steps) // 100, 100, 100, 50, then deadline seen

	reached = source.SleepUntil(int64(10*time.Second), 100*time.Millisecond, func() bool {
		return source.Nanos() >= int64(time.Second)
	})
	assert.False(reached)
	assert.Equal(int64(1050*time.Millisecond), source.Nanos())

	reached = source.SleepUntil(0, 100*time.Millisecond, func() bool { return false })
	assert.True(reached)
}

func TestRealSource(t *testing.T) {
	source := New()

	before := source.Nanos()
	source.Sleep(5 * time.Millisecond)
	after := source.Nanos()

	if after-before < int64(5*time.Millisecond) {
		t.Fatalf("Sleep(5ms) advanced Nanos() by only %v", after-before)
	}
}
