// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package logger provides logging wrappers
//
// These wrappers allow us to standardize logging while still using a third-party
// logging package.
//
// This package is currently implemented on top of the sirupsen/logrus package:
//   https://github.com/sirupsen/logrus
//
// The APIs here add package, calling function, and goroutine to all logs.
//
// Logging of trace and debug logs are enabled/disabled on a per package basis.
package logger

import (
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/NVIDIA/fwgpace/utils"
)

type Level int

// Our logging levels.
//
// We have more detailed logging levels than logrus. As a result, we map from
// our levels to the logrus ones before calling logrus APIs.
const (
	// PanicLevel corresponds to logrus.PanicLevel; logrus will log and then call panic with the log message
	PanicLevel Level = iota
	// FatalLevel corresponds to logrus.FatalLevel; logrus will log and then call os.Exit(1)
	FatalLevel
	// ErrorLevel corresponds to logrus.ErrorLevel
	ErrorLevel
	// WarnLevel corresponds to logrus.WarnLevel
	WarnLevel
	// InfoLevel corresponds to logrus.InfoLevel
	InfoLevel

	// TraceLevel is used for operational logs that trace success path through the engine.
	// Whether these are logged is controlled on a per-package basis. When enabled, these
	// are logged at logrus.InfoLevel.
	TraceLevel

	// DebugLevel is used for very verbose logging of a particular area. Whether these are
	// logged is controlled on a per-package basis. When enabled, these are logged at
	// logrus.DebugLevel.
	DebugLevel
)

func (level Level) String() string {
	switch level {
	case PanicLevel:
		return "panic"
	case FatalLevel:
		return "fatal"
	case ErrorLevel:
		return "error"
	case WarnLevel:
		return "warn"
	case InfoLevel:
		return "info"
	case TraceLevel:
		return "trace"
	case DebugLevel:
		return "debug"
	}
	return "unknown"
}

// Debug IDs enabled for a package named in Logging.DebugLevelLogging
const (
	DbgInternal string = "debug_internal"
	DbgTesting  string = "debug_test"
)

// Log fields supported by logger
const (
	packageKey  string = "package"
	functionKey string = "function"
	errorKey    string = "error"
	gidKey      string = "goroutine"
	pidKey      string = "pid"
	entryKey    string = "entry"
)

var backtraceOneLevel int = 1

// FuncCtx saves the fields common between log calls within a function
type FuncCtx struct {
	funcContext *log.Entry
}

func (ctx *FuncCtx) getPackage() string {
	pkg, ok := ctx.funcContext.Data[packageKey].(string)
	if ok {
		return pkg
	}
	return ""
}

func newFuncCtx(level int, extraFields log.Fields) (ctx *FuncCtx) {
	fn, pkg, gid := utils.GetFuncPackage(level + 1)

	fields := make(log.Fields)
	for key, value := range extraFields {
		fields[key] = value
	}
	fields[functionKey] = fn
	fields[packageKey] = pkg
	fields[gidKey] = gid
	fields[pidKey] = globals.pid

	ctx = &FuncCtx{funcContext: log.WithFields(fields)}
	return
}

func logEnabled(level Level) bool {
	if (level == TraceLevel) && !globals.traceLevelEnabled {
		return false
	}
	if (level == DebugLevel) && !globals.debugLevelEnabled {
		return false
	}
	return true
}

// EXTERNAL logging APIs
// These APIs are in the style of those provided by the logrus package.

func Errorf(format string, args ...interface{}) {
	if !logEnabled(ErrorLevel) {
		return
	}
	newFuncCtx(backtraceOneLevel, nil).log(ErrorLevel, fmt.Sprintf(format, args...))
}

func Fatalf(format string, args ...interface{}) {
	newFuncCtx(backtraceOneLevel, nil).log(FatalLevel, fmt.Sprintf(format, args...))
}

func Infof(format string, args ...interface{}) {
	if !logEnabled(InfoLevel) {
		return
	}
	newFuncCtx(backtraceOneLevel, nil).log(InfoLevel, fmt.Sprintf(format, args...))
}

func Tracef(format string, args ...interface{}) {
	if !logEnabled(TraceLevel) {
		return
	}
	newFuncCtx(backtraceOneLevel, nil).log(TraceLevel, fmt.Sprintf(format, args...))
}

func Warnf(format string, args ...interface{}) {
	if !logEnabled(WarnLevel) {
		return
	}
	newFuncCtx(backtraceOneLevel, nil).log(WarnLevel, fmt.Sprintf(format, args...))
}

func DebugfID(id string, format string, args ...interface{}) {
	if !logEnabled(DebugLevel) {
		return
	}
	newFuncCtx(backtraceOneLevel, nil).logWithID(DebugLevel, id, fmt.Sprintf(format, args...))
}

func ErrorfWithError(err error, format string, args ...interface{}) {
	if !logEnabled(ErrorLevel) {
		return
	}
	newFuncCtx(backtraceOneLevel, log.Fields{errorKey: err}).log(ErrorLevel, fmt.Sprintf(format, args...))
}

func WarnfWithError(err error, format string, args ...interface{}) {
	if !logEnabled(WarnLevel) {
		return
	}
	newFuncCtx(backtraceOneLevel, log.Fields{errorKey: err}).log(WarnLevel, fmt.Sprintf(format, args...))
}

func InfofWithError(err error, format string, args ...interface{}) {
	if !logEnabled(InfoLevel) {
		return
	}
	newFuncCtx(backtraceOneLevel, log.Fields{errorKey: err}).log(InfoLevel, fmt.Sprintf(format, args...))
}

func PanicfWithError(err error, format string, args ...interface{}) {
	newFuncCtx(backtraceOneLevel, log.Fields{errorKey: err}).log(PanicLevel, fmt.Sprintf(format, args...))
}

// Entry-scoped variants add the workload entry name as a field so that logs
// from many workers sharing a package can be told apart.

func InfofEntry(entryName string, format string, args ...interface{}) {
	if !logEnabled(InfoLevel) {
		return
	}
	newFuncCtx(backtraceOneLevel, log.Fields{entryKey: entryName}).log(InfoLevel, fmt.Sprintf(format, args...))
}

func WarnfEntry(entryName string, format string, args ...interface{}) {
	if !logEnabled(WarnLevel) {
		return
	}
	newFuncCtx(backtraceOneLevel, log.Fields{entryKey: entryName}).log(WarnLevel, fmt.Sprintf(format, args...))
}

func TracefEntry(entryName string, format string, args ...interface{}) {
	if !logEnabled(TraceLevel) {
		return
	}
	newFuncCtx(backtraceOneLevel, log.Fields{entryKey: entryName}).log(TraceLevel, fmt.Sprintf(format, args...))
}

// log is the common low-level logging function used internal to this package.
//
// Following logrus.entry.go, this is not declared with a pointer receiver.
func (ctx FuncCtx) log(level Level, args ...interface{}) {
	if (level == TraceLevel) && !traceEnabled(ctx.getPackage()) {
		return
	}

	switch level {
	case PanicLevel:
		ctx.funcContext.Panic(args...)
	case FatalLevel:
		ctx.funcContext.Fatal(args...)
	case ErrorLevel:
		ctx.funcContext.Error(args...)
	case WarnLevel:
		ctx.funcContext.Warn(args...)
	case TraceLevel:
		ctx.funcContext.Info(args...)
	case InfoLevel:
		ctx.funcContext.Info(args...)
	case DebugLevel:
		ctx.funcContext.Debug(args...)
	}
}

func (ctx FuncCtx) logWithID(level Level, id string, args ...interface{}) {
	if (level == DebugLevel) && !debugEnabled(ctx.getPackage(), id) {
		return
	}
	ctx.log(level, args...)
}

// AddLogTarget adds another target for log messages to be written to. writer is
// called once for each log message.
//
// Up() must be called before this function is used.
func AddLogTarget(writer io.Writer) {
	addLogTarget(writer)
}

// Flush syncs the log file, if any, so that nothing is lost should the process exit.
func Flush() {
	globals.Lock()
	logFile := globals.logFile
	globals.Unlock()

	if nil != logFile {
		_ = logFile.Sync()
	}
	_ = os.Stderr.Sync()
}

// LogBuffer captures the most recent log entries. Useful for writing test cases.
type LogBuffer struct {
	LogEntries   []string // most recent log entry is [0]
	TotalEntries int      // count of all entries seen
}

// LogTarget is a log target (io.Writer) that captures entries into a LogBuffer.
type LogTarget struct {
	LogBuf *LogBuffer
}

// Init initializes a LogTarget to hold up to nEntry log entries.
func (target *LogTarget) Init(nEntry int) {
	target.LogBuf = &LogBuffer{TotalEntries: 0}
	target.LogBuf.LogEntries = make([]string, nEntry)
}

// Write is called by logger for each log entry.
func (target LogTarget) Write(p []byte) (n int, err error) {
	return target.write(p)
}
