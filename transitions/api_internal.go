// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package transitions

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/NVIDIA/fwgpace/conf"
	"github.com/NVIDIA/fwgpace/logger"
)

type loggerCallbacksInterfaceStruct struct {
}

var loggerCallbacksInterface loggerCallbacksInterfaceStruct

type registrationItemStruct struct {
	packageName string
	callbacks   Callbacks
	up          bool
}

type globalsStruct struct {
	sync.Mutex       // Protects registrationList & registrationSet as well as each registrationItemStruct.up
	registrationList *list.List
	registrationSet  map[string]*registrationItemStruct // Key: registrationItemStruct.packageName
}

var globals globalsStruct

func init() {
	globals.Lock()
	globals.registrationList = list.New()
	globals.registrationSet = make(map[string]*registrationItemStruct)
	globals.Unlock()

	Register("logger", &loggerCallbacksInterface)
}

func register(packageName string, callbacks Callbacks) {
	globals.Lock()
	defer globals.Unlock()

	_, alreadyRegistered := globals.registrationSet[packageName]
	if alreadyRegistered {
		panic(fmt.Errorf("transitions.Register(%s,) called twice", packageName))
	}

	registrationItem := &registrationItemStruct{packageName: packageName, callbacks: callbacks}
	_ = globals.registrationList.PushBack(registrationItem)
	globals.registrationSet[packageName] = registrationItem
}

func registered() (packageNames []string) {
	globals.Lock()
	defer globals.Unlock()

	packageNames = make([]string, 0, globals.registrationList.Len())
	for e := globals.registrationList.Front(); nil != e; e = e.Next() {
		packageNames = append(packageNames, e.Value.(*registrationItemStruct).packageName)
	}
	return
}

func up(confMap conf.ConfMap) (err error) {
	defer func() {
		if nil == err {
			logger.Infof("transitions.Up() returning successfully")
		} else {
			// On the relatively good likelihood that at least logger.Up() worked...
			logger.Errorf("transitions.Up() returning with failure: %v", err)
		}
	}()

	globals.Lock()
	defer globals.Unlock()

	// Issue Callbacks.Up() calls from Front() to Back() of globals.registrationList

	for e := globals.registrationList.Front(); nil != e; e = e.Next() {
		registrationItem := e.Value.(*registrationItemStruct)
		if registrationItem.up {
			continue
		}
		logger.Tracef("transitions.Up() calling %s.Up()", registrationItem.packageName)
		err = registrationItem.callbacks.Up(confMap)
		if nil != err {
			logger.Errorf("transitions.Up() call to %s.Up() failed: %v", registrationItem.packageName, err)
			err = fmt.Errorf("%s.Up() failed: %v", registrationItem.packageName, err)
			unwind(confMap, e.Prev())
			return
		}
		registrationItem.up = true
	}

	packageNames := make([]string, 0, globals.registrationList.Len())
	for e := globals.registrationList.Front(); nil != e; e = e.Next() {
		packageNames = append(packageNames, e.Value.(*registrationItemStruct).packageName)
	}

	logger.Infof("Transitions Package Registration List: %v", packageNames)

	return
}

// unwind brings down from e back to Front() every package that is up, ignoring failures
func unwind(confMap conf.ConfMap, e *list.Element) {
	for ; nil != e; e = e.Prev() {
		registrationItem := e.Value.(*registrationItemStruct)
		if !registrationItem.up {
			continue
		}
		downErr := registrationItem.callbacks.Down(confMap)
		if nil != downErr {
			logger.Warnf("transitions.Up() unwind of %s.Down() failed: %v", registrationItem.packageName, downErr)
		}
		registrationItem.up = false
	}
}

func down(confMap conf.ConfMap) (err error) {
	logger.Infof("transitions.Down() called")
	defer func() {
		if nil != err {
			// On the relatively good likelihood that the failure occurred before calling logger.Down()...
			logger.Errorf("transitions.Down() returning with failure: %v", err)
		}
	}()

	globals.Lock()
	defer globals.Unlock()

	// Issue Callbacks.Down() calls from Back() to Front() of globals.registrationList

	for e := globals.registrationList.Back(); nil != e; e = e.Prev() {
		registrationItem := e.Value.(*registrationItemStruct)
		if !registrationItem.up {
			continue
		}
		logger.Tracef("transitions.Down() calling %s.Down()", registrationItem.packageName)
		err = registrationItem.callbacks.Down(confMap)
		if nil != err {
			logger.Errorf("transitions.Down() call to %s.Down() failed: %v", registrationItem.packageName, err)
			err = fmt.Errorf("%s.Down() failed: %v", registrationItem.packageName, err)
			return
		}
		registrationItem.up = false
	}

	return
}

func (loggerCallbacksInterface *loggerCallbacksInterfaceStruct) Up(confMap conf.ConfMap) (err error) {
	return logger.Up(confMap)
}

func (loggerCallbacksInterface *loggerCallbacksInterfaceStruct) Down(confMap conf.ConfMap) (err error) {
	return logger.Down(confMap)
}
