// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package stats

import (
	"io/ioutil"
	"net/http"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/NVIDIA/fwgpace/conf"
)

func testUp(t *testing.T, confStrings []string) {
	confMap, err := conf.MakeConfMapFromStrings(confStrings)
	if nil != err {
		t.Fatalf("conf.MakeConfMapFromStrings(confStrings) returned error: %v", err)
	}

	err = globals.Up(confMap)
	if nil != err {
		t.Fatalf("stats Up(confMap) returned error: %v", err)
	}
}

func testDown(t *testing.T) {
	err := globals.Down(nil)
	if nil != err {
		t.Fatalf("stats Down() returned error: %v", err)
	}
}

func TestStatsAPI(t *testing.T) {
	assert := assert.New(t)

	testUp(t, []string{"Stats.MaxConnections=2"})
	defer testDown(t)

	assert.Equal("", ListenAddr())

	IncrementOperations("fwd1", "create")
	IncrementOperationsAndBytes("fwd1", "write", 4096)
	IncrementOperationsAndBytes("fwd1", "write", 4096)
	IncrementBlocks("fwd1", BlockBarrier)
	IncrementStalls("fwd1")
	IncrementDispatches("fwd2")
	IncrementTimeTravel()
	SetQueueDepth("fwd2", 7)
	SetSuspended("fwd2", true)
	ObserveLatency("fwd1", "write", 0.002)

	statMap := Dump()
	assert.Equal(uint64(1), statMap["fwgpace_operations_total{entry=fwd1,op=create}"])
	assert.Equal(uint64(2), statMap["fwgpace_operations_total{entry=fwd1,op=write}"])
	assert.Equal(uint64(8192), statMap["fwgpace_bytes_total{entry=fwd1,op=write}"])
	assert.Equal(uint64(1), statMap["fwgpace_blocks_total{entry=fwd1,reason=barrier}"])
	assert.Equal(uint64(1), statMap["fwgpace_stalls_total{entry=fwd1}"])
	assert.Equal(uint64(1), statMap["fwgpace_dispatches_total{entry=fwd2}"])
	assert.Equal(uint64(1), statMap["fwgpace_time_travel_total"])
	assert.Equal(uint64(7), statMap["fwgpace_queue_depth{entry=fwd2}"])
	assert.Equal(uint64(1), statMap["fwgpace_suspended{entry=fwd2}"])
	assert.Equal(uint64(1), statMap["fwgpace_operation_latency_seconds{entry=fwd1,op=write}.count"])

	_, bytesForCreate := statMap["fwgpace_bytes_total{entry=fwd1,op=create}"]
	assert.False(bytesForCreate)

	metrics := currentMetrics()
	assert.Equal(2.0, testutil.ToFloat64(metrics.operations.WithLabelValues("fwd1", "write")))
}

func TestStatsUpResets(t *testing.T) {
	testUp(t, []string{})
	IncrementTimeTravel()
	testDown(t)

	testUp(t, []string{})
	defer testDown(t)

	if 0 != Dump()["fwgpace_time_travel_total"] {
		t.Fatalf("Up() did not reset metrics: %v", Dump())
	}
}

func TestStatsInvalidConf(t *testing.T) {
	confMap, err := conf.MakeConfMapFromStrings([]string{"Stats.MaxConnections=0"})
	if nil != err {
		t.Fatalf("conf.MakeConfMapFromStrings() returned error: %v", err)
	}

	err = globals.Up(confMap)
	if nil == err {
		t.Fatalf("Up() with MaxConnections=0 should have failed")
	}
}

func TestStatsServe(t *testing.T) {
	testUp(t, []string{"Stats.MetricsAddr=127.0.0.1:0"})
	defer testDown(t)

	IncrementOperationsAndBytes("fwd1", "read", 512)

	addr := ListenAddr()
	if "" == addr {
		t.Fatalf("ListenAddr() returned \"\" with MetricsAddr set")
	}

	resp, err := http.Get("http://" + addr + "/metrics")
	if nil != err {
		t.Fatalf("http.Get() returned error: %v", err)
	}
	body, err := ioutil.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if nil != err {
		t.Fatalf("ioutil.ReadAll() returned error: %v", err)
	}

	if !strings.Contains(string(body), `fwgpace_bytes_total{entry="fwd1",op="read"} 512`) {
		t.Fatalf("/metrics missing bytes counter:\n%v", string(body))
	}
}
