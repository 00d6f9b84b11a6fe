// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package stats

import (
	"fmt"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

const metricPrefix = "fwgpace_"

type metricsStruct struct {
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
	bytes      *prometheus.CounterVec
	blocks     *prometheus.CounterVec
	stalls     *prometheus.CounterVec
	dispatches *prometheus.CounterVec
	timeTravel prometheus.Counter
	queueDepth *prometheus.GaugeVec
	suspended  *prometheus.GaugeVec
	latency    *prometheus.HistogramVec
}

func newMetrics() (metrics *metricsStruct) {
	metrics = &metricsStruct{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "operations_total",
			Help: "Completed operations",
		}, []string{"entry", "op"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "bytes_total",
			Help: "Bytes transferred by completed operations",
		}, []string{"entry", "op"}),
		blocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "blocks_total",
			Help: "Operation attempts that blocked instead of making progress",
		}, []string{"entry", "reason"}),
		stalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "stalls_total",
			Help: "Stall warnings raised for workers making no progress",
		}, []string{"entry"}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "dispatches_total",
			Help: "Permits granted by the waiter",
		}, []string{"entry"}),
		timeTravel: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "time_travel_total",
			Help: "Backwards steps of the monotonic clock",
		}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: metricPrefix + "queue_depth",
			Help: "Free in-flight units observed when a permit was last taken",
		}, []string{"entry"}),
		suspended: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: metricPrefix + "suspended",
			Help: "1 while the entry's rate queue is suspended",
		}, []string{"entry"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metricPrefix + "operation_latency_seconds",
			Help:    "Operation latency",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 12),
		}, []string{"entry", "op"}),
	}

	metrics.registry.MustRegister(
		metrics.operations,
		metrics.bytes,
		metrics.blocks,
		metrics.stalls,
		metrics.dispatches,
		metrics.timeTravel,
		metrics.queueDepth,
		metrics.suspended,
		metrics.latency,
	)

	return
}

func currentMetrics() *metricsStruct {
	globals.Lock()
	metrics := globals.metrics
	globals.Unlock()
	return metrics
}

func incrementOperationsAndBytes(entry string, op string, bytes uint64) {
	metrics := currentMetrics()
	metrics.operations.WithLabelValues(entry, op).Inc()
	if 0 < bytes {
		metrics.bytes.WithLabelValues(entry, op).Add(float64(bytes))
	}
}

func incrementBlocks(entry string, reason BlockReason) {
	currentMetrics().blocks.WithLabelValues(entry, string(reason)).Inc()
}

func incrementStalls(entry string) {
	currentMetrics().stalls.WithLabelValues(entry).Inc()
}

func incrementDispatches(entry string) {
	currentMetrics().dispatches.WithLabelValues(entry).Inc()
}

func incrementTimeTravel() {
	currentMetrics().timeTravel.Inc()
}

func setQueueDepth(entry string, depth int) {
	currentMetrics().queueDepth.WithLabelValues(entry).Set(float64(depth))
}

func setSuspended(entry string, suspended bool) {
	value := 0.0
	if suspended {
		value = 1.0
	}
	currentMetrics().suspended.WithLabelValues(entry).Set(value)
}

func observeLatency(entry string, op string, seconds float64) {
	currentMetrics().latency.WithLabelValues(entry, op).Observe(seconds)
}

func metricKey(name string, labels []*dto.LabelPair) string {
	if 0 == len(labels) {
		return name
	}
	pairs := make([]string, 0, len(labels))
	for _, label := range labels {
		pairs = append(pairs, fmt.Sprintf("%s=%s", label.GetName(), label.GetValue()))
	}
	sort.Strings(pairs)
	return name + "{" + strings.Join(pairs, ",") + "}"
}

func dump() (statMap map[string]uint64) {
	statMap = make(map[string]uint64)

	families, err := currentMetrics().registry.Gather()
	if nil != err {
		return
	}

	for _, family := range families {
		for _, metric := range family.GetMetric() {
			key := metricKey(family.GetName(), metric.GetLabel())
			switch family.GetType() {
			case dto.MetricType_COUNTER:
				statMap[key] = uint64(metric.GetCounter().GetValue())
			case dto.MetricType_GAUGE:
				statMap[key] = uint64(metric.GetGauge().GetValue())
			case dto.MetricType_HISTOGRAM:
				statMap[key+".count"] = metric.GetHistogram().GetSampleCount()
			}
		}
	}

	return
}
