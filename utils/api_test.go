// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var (
	testTrySemaphore *TrySemaphore
)

func testTrySemaphoreAsyncRelease() {
	_ = testTrySemaphore.Release()
}

func TestTrySemaphore(t *testing.T) {
	testTrySemaphore = NewTrySemaphore(2, 0)

	if 2 != testTrySemaphore.Capacity() {
		t.Fatalf("Capacity() returned %v, expected 2", testTrySemaphore.Capacity())
	}
	if 0 != testTrySemaphore.Available() {
		t.Fatalf("Available() returned %v, expected 0", testTrySemaphore.Available())
	}

	shouldNotHaveGottenIt := testTrySemaphore.TryAcquire(50 * time.Millisecond)
	if shouldNotHaveGottenIt {
		t.Fatalf("1st TryAcquire() should have failed")
	}

	if !testTrySemaphore.Release() {
		t.Fatalf("1st Release() should have succeeded")
	}
	if !testTrySemaphore.Release() {
		t.Fatalf("2nd Release() should have succeeded")
	}
	if testTrySemaphore.Release() {
		t.Fatalf("3rd Release() should have failed at capacity")
	}

	shouldHaveGottenIt := testTrySemaphore.TryAcquire(0)
	if !shouldHaveGottenIt {
		t.Fatalf("2nd TryAcquire() should have succeeded")
	}

	drained := testTrySemaphore.Drain()
	if 1 != drained {
		t.Fatalf("Drain() returned %v, expected 1", drained)
	}

	_ = time.AfterFunc(50*time.Millisecond, testTrySemaphoreAsyncRelease)
	shouldHaveGottenIt = testTrySemaphore.TryAcquire(time.Second)
	if !shouldHaveGottenIt {
		t.Fatalf("3rd TryAcquire() should have succeeded")
	}

	filled := testTrySemaphore.Fill()
	if 2 != filled {
		t.Fatalf("Fill() returned %v, expected 2", filled)
	}
}

func TestNewTrySemaphoreInvalid(t *testing.T) {
	assert := assert.New(t)

	assert.Panics(func() { _ = NewTrySemaphore(0, 0) })
	assert.Panics(func() { _ = NewTrySemaphore(1, 2) })
	assert.Panics(func() { _ = NewTrySemaphore(1, -1) })
	assert.NotPanics(func() { _ = NewTrySemaphore(3, 3) })
}

func TestFuncNames(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("utils.TestFuncNames", GetAFnName(0))

	fn, pkg, gid := GetFuncPackage(0)
	assert.Equal("TestFuncNames", fn)
	assert.Equal("utils", pkg)
	assert.NotEqual(uint64(0), gid)
}

func TestStopwatch(t *testing.T) {
	sw := NewStopwatch()
	time.Sleep(10 * time.Millisecond)
	elapsed := sw.Stop()
	if elapsed < 10*time.Millisecond {
		t.Fatalf("Stop() returned %v, expected at least 10ms", elapsed)
	}
	if sw.IsRunning {
		t.Fatalf("Stop() left Stopwatch running")
	}
	if sw.Stop() != elapsed {
		t.Fatalf("second Stop() changed the elapsed time")
	}
}

func TestJSONify(t *testing.T) {
	type testStruct struct {
		Name  string
		Depth int
	}

	packed := JSONify(testStruct{Name: "fwd1", Depth: 3}, false)
	if `{"Name":"fwd1","Depth":3}` != packed {
		t.Fatalf("JSONify(,false) returned %v", packed)
	}

	indented := JSONify(testStruct{Name: "fwd1", Depth: 3}, true)
	if !strings.Contains(indented, "\n\t\"Depth\": 3") {
		t.Fatalf("JSONify(,true) returned %v", indented)
	}

	failed := JSONify(make(chan int), false)
	if !strings.HasPrefix(failed, "<<<json.Marshal failed") {
		t.Fatalf("JSONify(chan) returned %v", failed)
	}
}
