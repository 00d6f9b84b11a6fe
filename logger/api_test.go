// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package logger

import (
	"fmt"
	"io/ioutil"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/NVIDIA/fwgpace/conf"
)

func testUp(t *testing.T, confStrings []string) (target LogTarget) {
	confMap, err := conf.MakeConfMapFromStrings(confStrings)
	if nil != err {
		t.Fatalf("conf.MakeConfMapFromStrings() failed: %v", err)
	}

	err = Up(confMap)
	if nil != err {
		t.Fatalf("logger.Up() failed: %v", err)
	}

	target.Init(10)
	AddLogTarget(target)

	return
}

func testDown(t *testing.T) {
	err := Down(nil)
	if nil != err {
		t.Fatalf("logger.Down() failed: %v", err)
	}
}

func TestAPI(t *testing.T) {
	assert := assert.New(t)

	target := testUp(t, []string{
		"Logging.LogFilePath=/dev/null",
		"Logging.TraceLevelLogging=logger",
		"Logging.DebugLevelLogging=none",
	})

	Infof("hello %s", "there")
	assert.Equal(1, target.LogBuf.TotalEntries)
	assert.Contains(target.LogBuf.LogEntries[0], "msg=\"hello there\"")
	assert.Contains(target.LogBuf.LogEntries[0], "package=logger")
	assert.Contains(target.LogBuf.LogEntries[0], "function=TestAPI")

	Tracef("tracing is %v", "on")
	assert.Contains(target.LogBuf.LogEntries[0], "tracing is on")

	DebugfID(DbgTesting, "this should not appear")
	assert.NotContains(target.LogBuf.LogEntries[0], "this should not appear")

	err := fmt.Errorf("this is the error")
	ErrorfWithError(err, "we had an error!")
	assert.Contains(target.LogBuf.LogEntries[0], "error=\"this is the error\"")
	assert.Contains(target.LogBuf.LogEntries[0], "level=error")

	WarnfEntry("fwd1", "entry %v", 1)
	assert.Contains(target.LogBuf.LogEntries[0], "entry=fwd1")
	assert.Contains(target.LogBuf.LogEntries[1], "we had an error!")

	testDown(t)
}

func TestTraceDisabledByDefault(t *testing.T) {
	target := testUp(t, []string{
		"Logging.LogFilePath=/dev/null",
	})

	Tracef("should not be logged")
	if 0 != target.LogBuf.TotalEntries {
		t.Fatalf("Tracef() logged with tracing disabled: %v", target.LogBuf.LogEntries[0])
	}

	testDown(t)
}

func TestLogFile(t *testing.T) {
	logFile, err := ioutil.TempFile("", "fwgpace-logger-")
	if nil != err {
		t.Fatalf("ioutil.TempFile() failed: %v", err)
	}
	logFilePath := logFile.Name()
	_ = logFile.Close()
	defer os.Remove(logFilePath)

	_ = testUp(t, []string{
		"Logging.LogFilePath=" + logFilePath,
		"Logging.LogToConsole=false",
	})

	Warnf("written to %v", "file")
	Flush()

	testDown(t)

	logFileBytes, err := ioutil.ReadFile(logFilePath)
	if nil != err {
		t.Fatalf("ioutil.ReadFile() failed: %v", err)
	}
	if !strings.Contains(string(logFileBytes), "written to file") {
		t.Fatalf("log file missing entry; contents: %v", string(logFileBytes))
	}
}
