// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/NVIDIA/fwgpace/conf"
)

type globalsStruct struct {
	sync.Mutex
	logFile           *os.File
	pid               string
	traceLevelEnabled bool
	debugLevelEnabled bool
	// packageTraceSettings lists the packages that may have trace logging enabled
	// via Logging.TraceLevelLogging. A package not in this map never traces.
	packageTraceSettings map[string]bool
	// packageDebugSettings lists the debug IDs enabled per package via
	// Logging.DebugLevelLogging. A package not in this map never emits debug logs.
	packageDebugSettings map[string][]string
	output               *multiWriter
}

var globals globalsStruct

func init() {
	globals.pid = fmt.Sprint(os.Getpid())
	globals.output = &multiWriter{}
	resetPackageSettings()
}

func resetPackageSettings() {
	globals.packageTraceSettings = map[string]bool{
		"fwg":          false,
		"halter":       false,
		"logger":       false,
		"ops":          false,
		"phasecounter": false,
		"ratequeue":    false,
		"stats":        false,
		"timetravel":   false,
		"transitions":  false,
		"waiter":       false,
		"worker":       false,
	}
	globals.packageDebugSettings = map[string][]string{
		"fwg":          {},
		"phasecounter": {},
		"ratequeue":    {},
		"waiter":       {},
		"worker":       {},
	}
	globals.traceLevelEnabled = false
	globals.debugLevelEnabled = false
}

// Up configures logging from the Logging section of confMap:
//
//   LogFilePath       - append log entries to this file (default is stderr only)
//   LogToConsole      - when LogFilePath is set, also log to stderr
//   TraceLevelLogging - packages for which Tracef() is emitted (or "none")
//   DebugLevelLogging - packages for which DebugfID() is emitted (or "none")
func Up(confMap conf.ConfMap) (err error) {
	log.SetFormatter(&log.TextFormatter{DisableColors: true})

	// We always enable max logging in logrus and decide in this package whether to log
	log.SetLevel(log.DebugLevel)

	globals.Lock()
	globals.output = &multiWriter{}
	globals.Unlock()

	logFilePath, _ := confMap.FetchOptionValueString("Logging", "LogFilePath")
	if "" != logFilePath {
		logFile, openErr := os.OpenFile(logFilePath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if nil != openErr {
			err = fmt.Errorf("logger.Up() couldn't open log file %v: %v", logFilePath, openErr)
			return
		}
		globals.Lock()
		globals.logFile = logFile
		globals.Unlock()
		globals.output.addWriter(logFile)

		logToConsole, fetchErr := confMap.FetchOptionValueBool("Logging", "LogToConsole")
		if (nil == fetchErr) && logToConsole {
			globals.output.addWriter(os.Stderr)
		}
	} else {
		globals.output.addWriter(os.Stderr)
	}

	log.SetOutput(globals.output)

	resetPackageSettings()

	traceConfSlice, _ := confMap.FetchOptionValueStringSlice("Logging", "TraceLevelLogging")
	setTraceLoggingLevel(traceConfSlice)

	debugConfSlice, _ := confMap.FetchOptionValueStringSlice("Logging", "DebugLevelLogging")
	setDebugLoggingLevel(debugConfSlice)

	err = nil
	return
}

// Down closes the log file, if any, and sends subsequent logs to stderr
func Down(confMap conf.ConfMap) (err error) {
	globals.Lock()
	logFile := globals.logFile
	globals.logFile = nil
	globals.output = &multiWriter{}
	globals.output.addWriter(os.Stderr)
	globals.Unlock()

	log.SetOutput(globals.output)

	if nil != logFile {
		err = logFile.Close()
	}

	return
}

func setTraceLoggingLevel(confStrSlice []string) {
HandlePkgs:
	for _, pkg := range confStrSlice {
		switch pkg {
		case "none":
			globals.traceLevelEnabled = false
			for pkg = range globals.packageTraceSettings {
				globals.packageTraceSettings[pkg] = false
			}
			break HandlePkgs
		default:
			if _, ok := globals.packageTraceSettings[pkg]; ok {
				globals.packageTraceSettings[pkg] = true
				globals.traceLevelEnabled = true
			}
		}
	}

	if globals.traceLevelEnabled {
		for pkg, isEnabled := range globals.packageTraceSettings {
			if isEnabled {
				Infof("Package %v trace logging is enabled.", pkg)
			}
		}
	}
}

func setDebugLoggingLevel(confStrSlice []string) {
HandlePkgs:
	for _, pkg := range confStrSlice {
		switch pkg {
		case "none":
			globals.debugLevelEnabled = false
			for pkg = range globals.packageDebugSettings {
				globals.packageDebugSettings[pkg] = []string{}
			}
			break HandlePkgs
		default:
			if _, ok := globals.packageDebugSettings[pkg]; ok {
				globals.packageDebugSettings[pkg] = []string{DbgInternal, DbgTesting}
				globals.debugLevelEnabled = true
			}
		}
	}

	if globals.debugLevelEnabled {
		for pkg, ids := range globals.packageDebugSettings {
			if 0 < len(ids) {
				Infof("Package %v debug logging is enabled.", pkg)
			}
		}
	}
}

func traceEnabled(pkg string) bool {
	isEnabled, ok := globals.packageTraceSettings[pkg]
	return ok && isEnabled
}

func debugEnabled(pkg string, debugID string) bool {
	idList, ok := globals.packageDebugSettings[pkg]
	if !ok {
		return false
	}
	for _, id := range idList {
		if id == debugID {
			return true
		}
	}
	return false
}

// multiWriter fans each log entry out to every registered writer
type multiWriter struct {
	sync.Mutex
	writers []io.Writer
}

func (mw *multiWriter) addWriter(writer io.Writer) {
	mw.Lock()
	mw.writers = append(mw.writers, writer)
	mw.Unlock()
}

func (mw *multiWriter) Write(p []byte) (n int, err error) {
	mw.Lock()
	defer mw.Unlock()

	for _, writer := range mw.writers {
		n, err = writer.Write(p)
		if nil != err {
			return
		}
	}

	n = len(p)
	return
}

func addLogTarget(writer io.Writer) {
	globals.Lock()
	output := globals.output
	globals.Unlock()

	output.addWriter(writer)
}

func (target LogTarget) write(p []byte) (n int, err error) {
	entry := strings.TrimRight(string(p), "\n")

	// shift the existing entries down one to make room at [0]
	logEntries := target.LogBuf.LogEntries
	if 0 < len(logEntries) {
		copy(logEntries[1:], logEntries[:len(logEntries)-1])
		logEntries[0] = entry
	}
	target.LogBuf.TotalEntries++

	n = len(p)
	return
}
