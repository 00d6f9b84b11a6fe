// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package halter

import (
	"sync"

	"github.com/NVIDIA/fwgpace/conf"
	"github.com/NVIDIA/fwgpace/transitions"
)

type globalsStruct struct {
	sync.Mutex
	armedTriggers         map[uint32]uint32 // key: haltLabel; value: haltAfterCount (remaining)
	triggerNamesToNumbers map[string]uint32
	triggerNumbersToNames map[uint32]string
	diagnostics           map[string]func() string
	testModeHaltCB        func(err error)
}

var globals globalsStruct

func init() {
	reset()
	transitions.Register("halter", &globals)
}

func reset() {
	globals.Lock()
	globals.armedTriggers = make(map[uint32]uint32)
	globals.triggerNamesToNumbers = make(map[string]uint32)
	globals.triggerNumbersToNames = make(map[uint32]string)
	for i, s := range HaltLabelStrings {
		globals.triggerNamesToNumbers[s] = uint32(i)
		globals.triggerNumbersToNames[uint32(i)] = s
	}
	globals.diagnostics = make(map[string]func() string)
	globals.Unlock()
}

// Up clears any armed triggers and registered diagnostics
func (dummy *globalsStruct) Up(confMap conf.ConfMap) (err error) {
	reset()
	err = nil
	return
}

// Down disarms everything
func (dummy *globalsStruct) Down(confMap conf.ConfMap) (err error) {
	reset()
	err = nil
	return
}

// ConfigureTestModeHaltCB replaces process termination with a call to testHalt.
// A nil testHalt restores termination.
func ConfigureTestModeHaltCB(testHalt func(err error)) {
	globals.Lock()
	globals.testModeHaltCB = testHalt
	globals.Unlock()
}
