// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package utils provides miscellaneous utilities for fwgpace.
package utils

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"runtime"
	"strconv"
	"time"
)

// TrySemaphore is a counting semaphore whose acquire may be bounded by a timeout.
//
// The permits are tokens buffered in a channel: a release writes a token (and fails
// rather than blocks if the semaphore is already at capacity), an acquire reads one.
type TrySemaphore struct {
	c chan struct{}
}

// NewTrySemaphore returns a TrySemaphore able to hold capacity permits with initial of them available.
func NewTrySemaphore(capacity int, initial int) (trySemaphore *TrySemaphore) {
	if (0 >= capacity) || (0 > initial) || (initial > capacity) {
		err := fmt.Errorf("NewTrySemaphore(capacity==%v, initial==%v) invalid", capacity, initial)
		panic(err)
	}

	trySemaphore = &TrySemaphore{c: make(chan struct{}, capacity)}

	for i := 0; i < initial; i++ {
		trySemaphore.c <- struct{}{}
	}

	return
}

// Capacity returns the maximum number of permits the TrySemaphore can hold.
func (trySemaphore *TrySemaphore) Capacity() int {
	return cap(trySemaphore.c)
}

// Available returns a snapshot of the number of permits currently available.
func (trySemaphore *TrySemaphore) Available() int {
	return len(trySemaphore.c)
}

// TryAcquire attempts to take one permit, giving up after timeout.
func (trySemaphore *TrySemaphore) TryAcquire(timeout time.Duration) (gotIt bool) {
	select {
	case <-trySemaphore.c:
		gotIt = true
		return
	default:
	}

	if 0 >= timeout {
		gotIt = false
		return
	}

	timer := time.NewTimer(timeout)

	select {
	case <-trySemaphore.c:
		if !timer.Stop() {
			<-timer.C
		}
		gotIt = true
	case <-timer.C:
		gotIt = false
	}

	return
}

// Release returns one permit. It reports false (and changes nothing) if the
// TrySemaphore already holds Capacity() permits.
func (trySemaphore *TrySemaphore) Release() (released bool) {
	select {
	case trySemaphore.c <- struct{}{}:
		released = true
	default:
		released = false
	}
	return
}

// Drain takes every currently available permit.
func (trySemaphore *TrySemaphore) Drain() (drained int) {
	for {
		select {
		case <-trySemaphore.c:
			drained++
		default:
			return
		}
	}
}

// Fill releases permits until the TrySemaphore is at capacity.
func (trySemaphore *TrySemaphore) Fill() (filled int) {
	for trySemaphore.Release() {
		filled++
	}
	return
}

// GetGID returns the id of the calling goroutine.
//
// Only meant for log context. Nothing should key behavior off of it.
func GetGID() uint64 {
	b := make([]byte, 64)
	b = b[:runtime.Stack(b, false)]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	b = b[:bytes.IndexByte(b, ' ')]
	n, _ := strconv.ParseUint(string(b), 10, 64)
	return n
}

var (
	fnNameRE  = regexp.MustCompile(`[^\/]*$`)
	pkgNameRE = regexp.MustCompile(`^[^.]*`)
	funcRE    = regexp.MustCompile(`[^.]*$`)
)

// GetAFnName returns "package.function" for the caller level frames above this one.
func GetAFnName(level int) string {
	pc, _, _, ok := runtime.Caller(level + 1)
	if !ok {
		return "unknown.unknown"
	}
	functionObject := runtime.FuncForPC(pc)
	if nil == functionObject {
		return "unknown.unknown"
	}
	return fnNameRE.FindString(functionObject.Name())
}

// GetFuncPackage returns the function, package, and goroutine id of the caller level frames above this one.
func GetFuncPackage(level int) (fn string, pkg string, gid uint64) {
	funcPkg := GetAFnName(level + 1)

	pkg = pkgNameRE.FindString(funcPkg)
	fn = funcRE.FindString(funcPkg)
	gid = GetGID()

	return
}

// Stopwatch measures wall clock time from its creation to Stop.
type Stopwatch struct {
	StartTime   time.Time
	StopTime    time.Time
	ElapsedTime time.Duration
	IsRunning   bool
}

func NewStopwatch() *Stopwatch {
	return &Stopwatch{StartTime: time.Now(), IsRunning: true}
}

func (sw *Stopwatch) Stop() time.Duration {
	sw.StopTime = time.Now()
	if sw.IsRunning {
		sw.ElapsedTime = sw.StopTime.Sub(sw.StartTime)
		sw.IsRunning = false
	}
	return sw.ElapsedTime
}

// JSONify renders input as JSON, optionally indented. Failures are rendered inline
// since callers only use the result for diagnostics.
func JSONify(input interface{}, indentify bool) (output string) {
	var (
		err             error
		inputJSON       bytes.Buffer
		inputJSONPacked []byte
	)

	inputJSONPacked, err = json.Marshal(input)
	if nil != err {
		output = fmt.Sprintf("<<<json.Marshal failed: %v>>>", err)
		return
	}

	if !indentify {
		output = string(inputJSONPacked)
		return
	}

	err = json.Indent(&inputJSON, inputJSONPacked, "", "\t")
	if nil != err {
		output = fmt.Sprintf("<<<json.Indent failed: %v>>>", err)
		return
	}

	output = inputJSON.String()

	return
}
