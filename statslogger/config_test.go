// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package statslogger

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/NVIDIA/fwgpace/conf"
	"github.com/NVIDIA/fwgpace/logger"
	"github.com/NVIDIA/fwgpace/stats"
)

func testConfMap(t *testing.T, confStrings []string) conf.ConfMap {
	confMap, err := conf.MakeConfMapFromStrings(confStrings)
	if nil != err {
		t.Fatalf("conf.MakeConfMapFromStrings() failed: %v", err)
	}
	return confMap
}

func testLogged(target logger.LogTarget, substr string) bool {
	for _, entry := range target.LogBuf.LogEntries {
		if strings.Contains(entry, substr) {
			return true
		}
	}
	return false
}

func TestSimpleStats(t *testing.T) {
	assert := assert.New(t)

	var sp SimpleStats
	assert.Equal(int64(0), sp.Mean())

	for _, cnt := range []int64{5, 2, 11} {
		sp.Sample(cnt)
	}
	assert.Equal(int64(2), sp.Min())
	assert.Equal(int64(11), sp.Max())
	assert.Equal(int64(6), sp.Mean())
	assert.Equal(int64(3), sp.Samples())

	sp.Clear()
	assert.Equal(int64(0), sp.Samples())
}

func TestSums(t *testing.T) {
	assert := assert.New(t)

	oldStatsMap := map[string]uint64{
		"fwgpace_operations_total{entry=fwd1,op=read}": 10,
		"fwgpace_queue_depth{entry=fwd1}":              9,
	}
	newStatsMap := map[string]uint64{
		"fwgpace_operations_total{entry=fwd1,op=read}":  25,
		"fwgpace_operations_total{entry=fwd2,op=write}": 5,
		"fwgpace_operations_totally_unrelated":          100,
		"fwgpace_queue_depth{entry=fwd1}":               4,
		"fwgpace_queue_depth{entry=fwd2}":               3,
		"fwgpace_time_travel_total":                     1,
	}

	assert.Equal(uint64(30), sumByName(newStatsMap, "fwgpace_operations_total"))
	assert.Equal(uint64(1), sumByName(newStatsMap, "fwgpace_time_travel_total"))
	assert.Equal(int64(7), queueDepth(newStatsMap))

	deltaMap := deltaStatsMap(oldStatsMap, newStatsMap)
	assert.Equal(uint64(20), sumByName(deltaMap, "fwgpace_operations_total"))
	assert.Equal(uint64(3), queueDepth(deltaMap))
}

func TestUpDown(t *testing.T) {
	var target logger.LogTarget

	err := logger.Up(conf.MakeConfMap())
	if nil != err {
		t.Fatalf("logger.Up() failed: %v", err)
	}
	defer func() { _ = logger.Down(nil) }()

	target.Init(20)
	logger.AddLogTarget(target)

	err = globals.Up(testConfMap(t, []string{"StatsLogger.Period=0s"}))
	if nil != err {
		t.Fatalf("Up() with Period=0s failed: %v", err)
	}
	if nil != globals.Down(nil) {
		t.Fatalf("Down() of disabled statslogger failed")
	}
	if testLogged(target, "Workload Ops") {
		t.Fatalf("disabled statslogger logged")
	}

	stats.IncrementOperations("fwd1", "create")

	err = globals.Up(testConfMap(t, []string{"StatsLogger.Period=1s", "StatsLogger.CollectPeriod=10ms"}))
	if nil != err {
		t.Fatalf("Up() failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	err = globals.Down(nil)
	if nil != err {
		t.Fatalf("Down() failed: %v", err)
	}

	if !testLogged(target, "Workload Ops (total)") || !testLogged(target, "Workload Ops (delta)") {
		t.Fatalf("statslogger did not log totals and deltas: %v", target.LogBuf.LogEntries)
	}
	if !testLogged(target, "QueueDepth") {
		t.Fatalf("statslogger did not log queue depths: %v", target.LogBuf.LogEntries)
	}
}
