// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package timetravel guards latency measurements against a clock that appears to
// run backwards between the start and end of an operation.
package timetravel

import (
	"io/ioutil"
	"strconv"
	"strings"
	"sync"

	"github.com/NVIDIA/fwgpace/blunder"
	"github.com/NVIDIA/fwgpace/conf"
	"github.com/NVIDIA/fwgpace/halter"
	"github.com/NVIDIA/fwgpace/logger"
	"github.com/NVIDIA/fwgpace/stats"
)

const (
	logFirst   = 100
	fatalAfter = 1000
)

// Guard clamps backwards latencies to zero within a tolerance window.
//
// A zero window disables tolerance: any backwards step is fatal.
type Guard struct {
	sync.Mutex
	toleranceNanos    int64
	skipResponseTimes bool
	occurrences       uint64
}

// New returns a Guard tolerating backwards steps of up to toleranceNanos.
func New(toleranceNanos int64) *Guard {
	if 0 > toleranceNanos {
		toleranceNanos = 0
	}
	return &Guard{toleranceNanos: toleranceNanos}
}

// NewFromConfMap builds a Guard from the [TimeTravel] section:
//
//   ToleranceFile     - file holding a single line with the window in nanoseconds
//   ToleranceNanos    - the window itself (used if ToleranceFile is absent)
//   SkipResponseTimes - report every latency as zero
//
// A missing, unreadable, multi-line, non-integer or negative window disables tolerance.
func NewFromConfMap(confMap conf.ConfMap) (guard *Guard) {
	guard = New(fetchTolerance(confMap))

	skip, err := confMap.FetchOptionValueBool("TimeTravel", "SkipResponseTimes")
	if nil == err {
		guard.skipResponseTimes = skip
	}

	return
}

func fetchTolerance(confMap conf.ConfMap) (toleranceNanos int64) {
	toleranceFile, err := confMap.FetchOptionValueString("TimeTravel", "ToleranceFile")
	if nil == err {
		toleranceNanos, err = readToleranceFile(toleranceFile)
		if nil != err {
			logger.WarnfWithError(err, "time travel tolerance disabled")
			toleranceNanos = 0
		}
		return
	}

	nanos, err := confMap.FetchOptionValueUint64("TimeTravel", "ToleranceNanos")
	if nil == err {
		toleranceNanos = int64(nanos)
	}

	return
}

func readToleranceFile(path string) (toleranceNanos int64, err error) {
	buf, err := ioutil.ReadFile(path)
	if nil != err {
		err = blunder.FromUnix(err)
		return
	}

	lines := strings.Split(strings.TrimRight(string(buf), "\n"), "\n")
	if 1 != len(lines) {
		err = blunder.NewError(blunder.ConfigError, "%s must contain a single line, not %d", path, len(lines))
		return
	}

	toleranceNanos, err = strconv.ParseInt(strings.TrimSpace(lines[0]), 10, 64)
	if nil != err {
		err = blunder.AddError(err, blunder.ConfigError)
		return
	}
	if 0 > toleranceNanos {
		err = blunder.NewError(blunder.ConfigError, "%s holds negative tolerance %d", path, toleranceNanos)
		toleranceNanos = 0
		return
	}

	logger.Infof("time travel tolerance %dns from %s", toleranceNanos, path)

	return
}

// ToleranceNanos returns the window
func (guard *Guard) ToleranceNanos() int64 {
	return guard.toleranceNanos
}

// Occurrences returns how many backwards steps have been clamped
func (guard *Guard) Occurrences() uint64 {
	guard.Lock()
	defer guard.Unlock()
	return guard.occurrences
}

// Check returns end-start, clamping a backwards step to 0. A step beyond the
// window, any step with tolerance disabled, or more than 1000 steps halts the run.
func (guard *Guard) Check(start int64, end int64) (latency int64) {
	if guard.skipResponseTimes {
		return 0
	}
	if start <= end {
		return end - start
	}

	early := start - end

	stats.IncrementTimeTravel()

	guard.Lock()

	if 0 == guard.toleranceNanos {
		guard.Unlock()
		halter.Halt(blunder.NewError(blunder.ClockAnomalyError, "start time greater than end time: %d %d %d", start, end, early))
		return 0
	}
	if early > guard.toleranceNanos {
		guard.Unlock()
		halter.Halt(blunder.NewError(blunder.ClockAnomalyError, "start time greater than end time: %d %d %d; greater than allowed time travel window", start, end, early))
		return 0
	}

	if 0 == guard.occurrences {
		logger.Warnf("start time greater than end time. Only %d occurrences are allowed.", fatalAfter)
	}
	guard.occurrences++
	occurrences := guard.occurrences

	guard.Unlock()

	if logFirst >= occurrences {
		logger.Warnf("start time greater than end time: %d %d %d", start, end, early)
	}
	if fatalAfter < occurrences {
		halter.Halt(blunder.NewError(blunder.ClockAnomalyError, "start time greater than end time: %d %d %d; Maximum %d allowed", start, end, early, fatalAfter))
	}

	return 0
}
