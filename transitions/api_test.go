// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package transitions

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/NVIDIA/fwgpace/conf"
)

type testCallbacksInterfaceStruct struct {
	name     string
	failUp   bool
	failDown bool
}

var testConfStrings = []string{
	"Logging.LogFilePath=/dev/null",
	"Logging.LogToConsole=false",
}

var testCallbackLog []string // Accumulates log messages output by transitions.Callbacks implementations

func (testCallbacksInterface *testCallbacksInterfaceStruct) Up(confMap conf.ConfMap) (err error) {
	testCallbackLog = append(testCallbackLog, fmt.Sprintf("%s.Up()", testCallbacksInterface.name))
	if testCallbacksInterface.failUp {
		err = fmt.Errorf("%s.Up() injected failure", testCallbacksInterface.name)
	}
	return
}

func (testCallbacksInterface *testCallbacksInterfaceStruct) Down(confMap conf.ConfMap) (err error) {
	testCallbackLog = append(testCallbackLog, fmt.Sprintf("%s.Down()", testCallbacksInterface.name))
	if testCallbacksInterface.failDown {
		err = fmt.Errorf("%s.Down() injected failure", testCallbacksInterface.name)
	}
	return
}

func TestAPI(t *testing.T) {
	testCallbacksA := &testCallbacksInterfaceStruct{name: "UpperA"}
	testCallbacksB := &testCallbacksInterfaceStruct{name: "UpperB"}
	testCallbacksC := &testCallbacksInterfaceStruct{name: "UpperC", failUp: true}

	Register(testCallbacksA.name, testCallbacksA)
	Register(testCallbacksB.name, testCallbacksB)
	Register(testCallbacksC.name, testCallbacksC)

	if !reflect.DeepEqual(Registered(), []string{"logger", "UpperA", "UpperB", "UpperC"}) {
		t.Fatalf("Registered() returned %v", Registered())
	}

	defer func() {
		if nil == recover() {
			t.Fatalf("duplicate Register() should have panicked")
		}
	}()

	testConfMap, err := conf.MakeConfMapFromStrings(testConfStrings)
	if nil != err {
		t.Fatalf("conf.MakeConfMapFromStrings() failed: %v", err)
	}

	// UpperC fails its Up() so UpperB and UpperA must be unwound in that order

	testCallbackLog = nil
	err = Up(testConfMap)
	if nil == err {
		t.Fatalf("Up() should have failed")
	}
	if !reflect.DeepEqual(testCallbackLog, []string{"UpperA.Up()", "UpperB.Up()", "UpperC.Up()", "UpperB.Down()", "UpperA.Down()"}) {
		t.Fatalf("failed Up() made calls %v", testCallbackLog)
	}

	testCallbacksC.failUp = false

	testCallbackLog = nil
	err = Up(testConfMap)
	if nil != err {
		t.Fatalf("Up() failed: %v", err)
	}
	if !reflect.DeepEqual(testCallbackLog, []string{"UpperA.Up()", "UpperB.Up()", "UpperC.Up()"}) {
		t.Fatalf("Up() made calls %v", testCallbackLog)
	}

	// A second Up() only brings up what is not already up

	testCallbackLog = nil
	err = Up(testConfMap)
	if nil != err {
		t.Fatalf("repeated Up() failed: %v", err)
	}
	if 0 != len(testCallbackLog) {
		t.Fatalf("repeated Up() made calls %v", testCallbackLog)
	}

	testCallbackLog = nil
	err = Down(testConfMap)
	if nil != err {
		t.Fatalf("Down() failed: %v", err)
	}
	if !reflect.DeepEqual(testCallbackLog, []string{"UpperC.Down()", "UpperB.Down()", "UpperA.Down()"}) {
		t.Fatalf("Down() made calls %v", testCallbackLog)
	}

	Register(testCallbacksA.name, testCallbacksA)
}
