// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package statslogger periodically writes the run's counters and the process's
// memory statistics to the log, both as totals and as deltas since the previous
// period. It is enabled by [StatsLogger]Period.
package statslogger

import (
	"runtime"
	"strings"
	"time"

	"github.com/NVIDIA/fwgpace/conf"
	"github.com/NVIDIA/fwgpace/logger"
	"github.com/NVIDIA/fwgpace/stats"
	"github.com/NVIDIA/fwgpace/transitions"
)

const (
	defaultCollectPeriod = time.Second
	fallbackLogPeriod    = 10 * time.Second
)

type globalsStruct struct {
	collectChan    <-chan time.Time // time to sample queue depths
	logChan        <-chan time.Time // time to log statistics
	stopChan       chan bool        // time to shutdown and go home
	doneChan       chan bool        // shutdown complete
	statsLogPeriod time.Duration    // time between statistics logging; 0 disables
	collectPeriod  time.Duration    // time between queue depth samples
	collectTicker  *time.Ticker     // ticker for collectChan (if any)
	logTicker      *time.Ticker     // ticker for logChan (if any)
}

var globals globalsStruct

func init() {
	transitions.Register("statslogger", &globals)
}

func parseConfMap(confMap conf.ConfMap) (err error) {
	globals.statsLogPeriod, err = confMap.FetchOptionValueDuration("StatsLogger", "Period")
	if nil != err {
		globals.statsLogPeriod = 0
	}

	// statsLogPeriod must be >= 1 sec, except 0 means disabled
	if (time.Second > globals.statsLogPeriod) && (0 != globals.statsLogPeriod) {
		logger.Warnf("config variable 'StatsLogger.Period' value is non-zero and less than 1s; defaulting to '%v'", fallbackLogPeriod)
		globals.statsLogPeriod = fallbackLogPeriod
	}

	globals.collectPeriod, err = confMap.FetchOptionValueDuration("StatsLogger", "CollectPeriod")
	if (nil != err) || (0 == globals.collectPeriod) {
		globals.collectPeriod = defaultCollectPeriod
	}

	err = nil
	return
}

// Up starts the logger goroutine when a Period is configured
func (dummy *globalsStruct) Up(confMap conf.ConfMap) (err error) {
	err = parseConfMap(confMap)
	if nil != err {
		return
	}

	if 0 == globals.statsLogPeriod {
		return
	}

	globals.collectTicker = time.NewTicker(globals.collectPeriod)
	globals.collectChan = globals.collectTicker.C

	globals.logTicker = time.NewTicker(globals.statsLogPeriod)
	globals.logChan = globals.logTicker.C

	globals.stopChan = make(chan bool)
	globals.doneChan = make(chan bool)

	go statsLogger()

	return
}

// Down logs a final round of statistics and stops the logger goroutine
func (dummy *globalsStruct) Down(confMap conf.ConfMap) (err error) {
	if 0 != globals.statsLogPeriod {
		globals.stopChan <- true
		<-globals.doneChan
		globals.collectTicker.Stop()
		globals.logTicker.Stop()
		globals.statsLogPeriod = 0
	}

	return
}

// statsLogger samples queue depths every collectChan tick and logs totals and
// deltas every logChan tick, and once more when stopped.
func statsLogger() {
	var (
		depthStats  SimpleStats
		oldStatsMap map[string]uint64
		newStatsMap map[string]uint64
		oldMemStats runtime.MemStats
		newMemStats runtime.MemStats
	)

	depthStats.Clear()
	depthStats.Sample(queueDepth(stats.Dump()))

	// memstats "stops the world"
	oldStatsMap = stats.Dump()
	runtime.ReadMemStats(&oldMemStats)

	logStats("total", &depthStats, &oldMemStats, oldStatsMap)

	for stopRequest := false; !stopRequest; {
		select {
		case <-globals.stopChan:
			stopRequest = true
		case <-globals.collectChan:
			depthStats.Sample(queueDepth(stats.Dump()))
			continue
		case <-globals.logChan:
		}

		newStatsMap = stats.Dump()
		runtime.ReadMemStats(&newMemStats)

		depthStats.Sample(queueDepth(newStatsMap))

		logStats("total", &depthStats, &newMemStats, newStatsMap)

		deltaMemStats := newMemStats
		deltaMemStats.TotalAlloc = newMemStats.TotalAlloc - oldMemStats.TotalAlloc
		deltaMemStats.NumGC = newMemStats.NumGC - oldMemStats.NumGC
		deltaMemStats.PauseTotalNs = newMemStats.PauseTotalNs - oldMemStats.PauseTotalNs

		logStats("delta", nil, &deltaMemStats, deltaStatsMap(oldStatsMap, newStatsMap))

		oldMemStats = newMemStats
		oldStatsMap = newStatsMap

		depthStats.Clear()
	}

	globals.doneChan <- true
}

// deltaStatsMap returns newStatsMap less oldStatsMap. Gauges may go down; their
// deltas are reported as 0.
func deltaStatsMap(oldStatsMap map[string]uint64, newStatsMap map[string]uint64) (deltaMap map[string]uint64) {
	deltaMap = make(map[string]uint64, len(newStatsMap))
	for key, newValue := range newStatsMap {
		oldValue := oldStatsMap[key]
		if newValue >= oldValue {
			deltaMap[key] = newValue - oldValue
		}
	}
	return
}

func sumByName(statsMap map[string]uint64, name string) (sum uint64) {
	for key, value := range statsMap {
		if (key == name) || strings.HasPrefix(key, name+"{") {
			sum += value
		}
	}
	return
}

func queueDepth(statsMap map[string]uint64) int64 {
	return int64(sumByName(statsMap, "fwgpace_queue_depth"))
}

// Write interesting statistics to the log in a semi-human readable format
//
// statsType is "total" or "delta" indicating whether statsMap and memStats are
// absolute or relative to the previous sample (doesn't apply to depthStats,
// which may be nil).
func logStats(statsType string, depthStats *SimpleStats, memStats *runtime.MemStats, statsMap map[string]uint64) {
	if nil != depthStats {
		logger.Infof("QueueDepth: min=%d mean=%d max=%d samples=%d",
			depthStats.Min(), depthStats.Mean(), depthStats.Max(), depthStats.Samples())
	}

	logger.Infof("Memory in Kibyte (%s): Sys=%d HeapInuse=%d HeapIdle=%d Cumulative TotalAlloc=%d",
		statsType,
		int64(memStats.Sys)/1024, int64(memStats.HeapInuse)/1024,
		int64(memStats.HeapIdle)/1024, int64(memStats.TotalAlloc)/1024)
	logger.Infof("GC Stats (%s): NumGC=%d  PauseTotalMsec=%d",
		statsType, memStats.NumGC, memStats.PauseTotalNs/1000000)

	logger.Infof("Workload Ops (%s): Operations=%d Bytes=%d Dispatches=%d Blocks=%d Stalls=%d TimeTravel=%d",
		statsType,
		sumByName(statsMap, "fwgpace_operations_total"),
		sumByName(statsMap, "fwgpace_bytes_total"),
		sumByName(statsMap, "fwgpace_dispatches_total"),
		sumByName(statsMap, "fwgpace_blocks_total"),
		sumByName(statsMap, "fwgpace_stalls_total"),
		sumByName(statsMap, "fwgpace_time_travel_total"))
}
