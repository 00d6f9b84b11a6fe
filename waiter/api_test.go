// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package waiter

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/NVIDIA/fwgpace/halter"
	"github.com/NVIDIA/fwgpace/ratequeue"
	"github.com/NVIDIA/fwgpace/timesource"
	"github.com/NVIDIA/fwgpace/workload"
)

type testRun struct {
	source *timesource.Source
	done   *workload.DoneFlag
	queues []*ratequeue.RateQueue
	waiter *Waiter
}

func newTestRun(t *testing.T, rate float64, distribution ratequeue.Distribution, maxInFlight int, skews ...float64) (run *testRun) {
	run = &testRun{
		source: timesource.NewWithClock(clocktesting.NewFakeClock(time.Unix(1600000000, 0))),
		done:   workload.NewDoneFlag(),
	}

	entries := make([]*workload.Entry, 0, len(skews))
	for i, skew := range skews {
		entries = append(entries, &workload.Entry{Name: "fwd" + string(rune('1'+i)), Seq: i, Threads: 1, Skew: skew})
	}
	err := workload.NormalizeSkew(entries)
	if nil != err {
		t.Fatalf("NormalizeSkew() failed: %v", err)
	}

	for _, entry := range entries {
		rateQueue, err := ratequeue.New(entry, run.source, ratequeue.Config{
			Rate:         rate,
			Distribution: distribution,
			MaxInFlight:  maxInFlight,
			RandomSeed:   42,
		})
		if nil != err {
			t.Fatalf("ratequeue.New(%s) failed: %v", entry.Name, err)
		}
		run.queues = append(run.queues, rateQueue)
	}
	for _, rateQueue := range run.queues {
		rateQueue.Initialize()
	}

	run.waiter, err = New(run.source, run.done, run.queues, Config{})
	if nil != err {
		t.Fatalf("New() failed: %v", err)
	}

	return
}

// stepFor runs the waiter until d of simulated time has passed
func (run *testRun) stepFor(t *testing.T, d time.Duration) {
	end := run.source.Nanos() + int64(d)
	for run.source.Nanos() < end {
		if !run.waiter.Step() {
			t.Fatalf("Step() reported done")
		}
	}
}

func TestNewRequiresInitialize(t *testing.T) {
	source := timesource.NewWithClock(clocktesting.NewFakeClock(time.Unix(0, 0)))
	rateQueue, err := ratequeue.New(&workload.Entry{Name: "fwd1", Skew: 100}, source, ratequeue.Config{Rate: 10})
	if nil != err {
		t.Fatalf("ratequeue.New() failed: %v", err)
	}
	_, err = New(source, workload.NewDoneFlag(), []*ratequeue.RateQueue{rateQueue}, Config{})
	if nil == err {
		t.Fatalf("New() accepted an uninitialized RateQueue")
	}
}

func TestRateAccuracy(t *testing.T) {
	for _, distribution := range []ratequeue.Distribution{ratequeue.Exponential, ratequeue.Uniform, ratequeue.Deterministic} {
		run := newTestRun(t, 1000, distribution, 20000, 0)
		run.stepFor(t, 10*time.Second)

		dispatched := float64(run.queues[0].Dispatched())
		tolerance := 0.05
		if ratequeue.Deterministic == distribution {
			tolerance = 0.01
		}
		if math.Abs(dispatched-10000) > 10000*tolerance {
			t.Fatalf("%v: dispatched %v in 10s at 1000/s", distribution, dispatched)
		}
	}
}

func TestSkewScenario(t *testing.T) {
	run := newTestRun(t, 1000, ratequeue.Deterministic, 20000, 50, 30, 0)
	assert.Equal(t, 20.0, run.queues[2].Entry().Skew)
	run.stepFor(t, 10*time.Second)

	for i, expected := range []float64{5000, 3000, 2000} {
		dispatched := float64(run.queues[i].Dispatched())
		if math.Abs(dispatched-expected) > expected*0.01 {
			t.Fatalf("%s dispatched %v, expected %v", run.queues[i].Entry().Name, dispatched, expected)
		}
	}

	assert.Equal(t, run.waiter.Dispatches(), run.queues[0].Dispatched()+run.queues[1].Dispatched()+run.queues[2].Dispatched())
}

func TestTieBreakBySeq(t *testing.T) {
	run := newTestRun(t, 100, ratequeue.Deterministic, 100, 50, 50)

	// Resume() re-anchors both to the same instant
	for _, rateQueue := range run.queues {
		rateQueue.Suspend()
	}
	run.source.Clock().(*clocktesting.FakeClock).Step(time.Second)
	for _, rateQueue := range run.queues {
		rateQueue.Resume()
	}
	assert.Equal(t, run.queues[0].NextArrivalNanos(), run.queues[1].NextArrivalNanos())

	assert.True(t, run.waiter.Step())
	assert.Equal(t, uint64(1), run.queues[0].Dispatched())
	assert.Equal(t, uint64(0), run.queues[1].Dispatched())

	assert.True(t, run.waiter.Step())
	assert.Equal(t, uint64(1), run.queues[1].Dispatched())
}

func TestSuspendedNeverDispatch(t *testing.T) {
	assert := assert.New(t)

	run := newTestRun(t, 1000, ratequeue.Deterministic, 20000, 50, 50)
	run.queues[0].Suspend()

	run.stepFor(t, time.Second)
	assert.Equal(uint64(0), run.queues[0].Dispatched())
	assert.InDelta(500, float64(run.queues[1].Dispatched()), 5)

	run.queues[0].Resume()
	before := run.queues[0].Dispatched()
	run.stepFor(t, 10*time.Millisecond)

	// 2ms interval: one catch-up at most, then paced
	caughtUp := run.queues[0].Dispatched() - before
	assert.True(caughtUp >= 5, "dispatched %d after resume", caughtUp)
	assert.True(caughtUp <= 7, "dispatched %d after resume", caughtUp)
}

func TestAllSuspendedBacksOff(t *testing.T) {
	run := newTestRun(t, 1000, ratequeue.Exponential, 100, 0, 0)
	for _, rateQueue := range run.queues {
		rateQueue.Suspend()
	}

	start := run.source.Nanos()
	assert.True(t, run.waiter.Step())
	assert.Equal(t, int64(10*time.Millisecond), run.source.Nanos()-start)
	assert.Equal(t, uint64(1), run.waiter.Idle())
	assert.Equal(t, uint64(0), run.waiter.Dispatches())
}

func TestRestartedQueueRekeyed(t *testing.T) {
	assert := assert.New(t)

	run := newTestRun(t, 10, ratequeue.Deterministic, 100, 0)
	run.stepFor(t, time.Second)
	dispatched := run.queues[0].Dispatched()

	run.source.Clock().(*clocktesting.FakeClock).Step(time.Minute)
	assert.True(run.queues[0].Restart(1))
	assert.Equal(run.source.Nanos(), run.queues[0].NextArrivalNanos())

	assert.True(run.waiter.Step())
	assert.Equal(dispatched+1, run.queues[0].Dispatched())
	assert.Equal(1, run.queues[0].PendingAdmissions())
}

func TestCapNeverExceeded(t *testing.T) {
	run := newTestRun(t, 1000, ratequeue.Uniform, 5, 0)

	runDone := make(chan error, 1)
	go func() {
		runDone <- run.waiter.Run()
	}()

	time.Sleep(50 * time.Millisecond)

	if 5 != run.queues[0].PendingAdmissions() {
		t.Fatalf("PendingAdmissions() == %d with cap 5 and no consumer", run.queues[0].PendingAdmissions())
	}
	if 5 != run.queues[0].Dispatched() {
		t.Fatalf("Dispatched() == %d with cap 5 and no consumer", run.queues[0].Dispatched())
	}

	run.done.Set()

	select {
	case err := <-runDone:
		if nil != err {
			t.Fatalf("Run() returned %v", err)
		}
	case <-time.After(150 * time.Millisecond):
		t.Fatalf("Run() did not observe done within 150ms")
	}

	if run.waiter.Step() {
		t.Fatalf("Step() after done reported more")
	}
}

// testWaitFor polls cond in real time for up to a second
func testWaitFor(cond func() bool) bool {
	for deadline := time.Now().Add(time.Second); time.Now().Before(deadline); time.Sleep(time.Millisecond) {
		if cond() {
			return true
		}
	}
	return cond()
}

func TestRetiredQueueReleasesWaiter(t *testing.T) {
	run := newTestRun(t, 1000, ratequeue.Deterministic, 4, 50, 50)

	var err error
	run.waiter, err = New(run.source, run.done, run.queues, Config{PollInterval: time.Millisecond})
	if nil != err {
		t.Fatalf("New() failed: %v", err)
	}

	// fwd2 is consumed, fwd1 has no workers left to consume its admissions
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		for {
			if _, ok := run.queues[1].AcquireAdmission(run.done); !ok {
				return
			}
		}
	}()

	runDone := make(chan error, 1)
	go func() {
		runDone <- run.waiter.Run()
	}()

	if !testWaitFor(func() bool { return 4 == run.queues[0].PendingAdmissions() }) {
		t.Fatalf("fwd1 never filled its in-flight cap")
	}

	run.queues[0].Retire()
	retiredAt := run.queues[0].Dispatched()
	before := run.queues[1].Dispatched()

	if !testWaitFor(func() bool { return run.queues[1].Dispatched() >= before+100 }) {
		t.Fatalf("fwd2 dispatched %d after fwd1 was retired, expected at least 100", run.queues[1].Dispatched()-before)
	}
	assert.Equal(t, retiredAt, run.queues[0].Dispatched())

	run.done.Set()
	<-consumerDone
	select {
	case err = <-runDone:
		assert.Nil(t, err)
	case <-time.After(time.Second):
		t.Fatalf("Run() did not observe done")
	}
}

var testHaltErr error

func TestDispatchHaltLabel(t *testing.T) {
	halter.ConfigureTestModeHaltCB(func(err error) { testHaltErr = err })
	defer halter.ConfigureTestModeHaltCB(nil)

	run := newTestRun(t, 1000, ratequeue.Deterministic, 100, 0)

	testHaltErr = nil
	halter.Arm("waiter.dispatch", 3)
	for i := 0; i < 3; i++ {
		run.waiter.Step()
	}
	if nil == testHaltErr {
		t.Fatalf("waiter.dispatch trigger did not fire on the third dispatch")
	}
	assert.Contains(t, run.waiter.Dump(), "fwd1: suspended=false")
}
