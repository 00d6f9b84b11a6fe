// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package halter is the single place a run is brought down on an unrecoverable
// condition (e.g. intolerable time travel) and the place named points in the code
// may be armed to force such a halt for testing.
package halter

import (
	"fmt"
	"os"
	"sort"

	"github.com/NVIDIA/fwgpace/blunder"
	"github.com/NVIDIA/fwgpace/logger"
)

// Note 1: Following const block and HaltLabelStrings should be kept in sync
// Note 2: HaltLabelStrings should be easily parseable as URL components

const (
	apiTestHaltLabel1 = iota
	apiTestHaltLabel2
	WaiterDispatch
	PhaseCounterRelease
	WorkerOperation
)

var (
	HaltLabelStrings = []string{
		"halter.testHaltLabel1",
		"halter.testHaltLabel2",
		"waiter.dispatch",
		"phasecounter.release",
		"worker.operation",
	}
)

// Arm sets up a HALT on the haltAfterCount'd call to Trigger()
func Arm(haltLabelString string, haltAfterCount uint32) {
	globals.Lock()
	haltLabel, ok := globals.triggerNamesToNumbers[haltLabelString]
	if !ok {
		globals.Unlock()
		haltWithErr(fmt.Errorf("halter.Arm(haltLabelString='%v',) - label unknown", haltLabelString))
		return
	}
	if 0 == haltAfterCount {
		globals.Unlock()
		haltWithErr(fmt.Errorf("halter.Arm(haltLabel==%v,) called with haltAfterCount==0", haltLabelString))
		return
	}
	globals.armedTriggers[haltLabel] = haltAfterCount
	globals.Unlock()
}

// Disarm removes a previously armed trigger via a call to Arm()
func Disarm(haltLabelString string) {
	globals.Lock()
	haltLabel, ok := globals.triggerNamesToNumbers[haltLabelString]
	if !ok {
		globals.Unlock()
		haltWithErr(fmt.Errorf("halter.Disarm(haltLabelString='%v') - label unknown", haltLabelString))
		return
	}
	delete(globals.armedTriggers, haltLabel)
	globals.Unlock()
}

// Trigger decrements the haltAfterCount if armed and, should it reach 0, HALTs
func Trigger(haltLabel uint32) {
	globals.Lock()
	numTriggersRemaining, armed := globals.armedTriggers[haltLabel]
	if !armed {
		globals.Unlock()
		return
	}
	numTriggersRemaining--
	if 0 == numTriggersRemaining {
		delete(globals.armedTriggers, haltLabel)
		haltLabelString := globals.triggerNumbersToNames[haltLabel]
		globals.Unlock()
		haltWithErr(fmt.Errorf("halter.TriggerArm(haltLabelString==%v) triggered HALT", haltLabelString))
		return
	}
	globals.armedTriggers[haltLabel] = numTriggersRemaining
	globals.Unlock()
}

// Dump returns a map of currently armed triggers and their remaining trigger count
func Dump() (armedTriggers map[string]uint32) {
	globals.Lock()
	defer globals.Unlock()
	armedTriggers = make(map[string]uint32)
	for k, v := range globals.armedTriggers {
		armedTriggers[globals.triggerNumbersToNames[k]] = v
	}
	return
}

// List returns a sorted slice of available triggers
func List() (availableTriggers []string) {
	globals.Lock()
	defer globals.Unlock()
	availableTriggers = make([]string, 0, len(globals.triggerNumbersToNames))
	for k := range globals.triggerNamesToNumbers {
		availableTriggers = append(availableTriggers, k)
	}
	sort.Strings(availableTriggers)
	return
}

// AddDiagnostic registers a dumper whose output is logged should the run HALT.
// Registering a name again replaces the earlier dumper.
func AddDiagnostic(name string, dumper func() string) {
	globals.Lock()
	globals.diagnostics[name] = dumper
	globals.Unlock()
}

// RemoveDiagnostic unregisters a dumper added via AddDiagnostic()
func RemoveDiagnostic(name string) {
	globals.Lock()
	delete(globals.diagnostics, name)
	globals.Unlock()
}

// Halt logs err along with every registered diagnostic and terminates the process.
// The exit status is err's blunder errno when it has one.
func Halt(err error) {
	haltWithErr(err)
}

// ExitCode returns the process exit status Halt() would use for err
func ExitCode(err error) int {
	errno := blunder.Errno(err)
	if 0 >= errno {
		return 1
	}
	return errno
}

func haltWithErr(err error) {
	globals.Lock()
	testModeHaltCB := globals.testModeHaltCB
	names := make([]string, 0, len(globals.diagnostics))
	for name := range globals.diagnostics {
		names = append(names, name)
	}
	sort.Strings(names)
	dumpers := make([]func() string, 0, len(names))
	for _, name := range names {
		dumpers = append(dumpers, globals.diagnostics[name])
	}
	globals.Unlock()

	if nil != testModeHaltCB {
		testModeHaltCB(err)
		return
	}

	logger.ErrorfWithError(err, "HALT: %v", blunder.ErrorString(err))
	for i, dumper := range dumpers {
		logger.Errorf("HALT diagnostic %v:\n%v", names[i], dumper())
	}
	logger.Flush()

	fmt.Fprintln(os.Stderr, blunder.ErrorString(err))
	os.Exit(ExitCode(err))
}
