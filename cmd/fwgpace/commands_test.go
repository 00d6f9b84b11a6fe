// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/NVIDIA/fwgpace/blunder"
	"github.com/NVIDIA/fwgpace/latency"
	"github.com/NVIDIA/fwgpace/workload"
)

const testConfTemplate = `# fwgpace test configuration
[Logging]
LogFilePath: %[1]s/fwgpace.log
LogToConsole: false

[FWG]
AnchorList: a1
WorkloadList: fwd1, fwd2

[Anchor:a1]
Path: %[1]s/a1
Depth: 1
Width: 2
Files: 50
FileSize: 1k

[Workload:fwd1]
Anchor: a1
Operation: mkdir
Skew: 75

[Workload:fwd2]
Anchor: a1
Operation: create
Threads: 2

[Pacing]
Rate: 200

[Run]
Elapsed: 300ms
Interval: 100ms
`

func testConfFile(t *testing.T) (confFilePath string, root string) {
	root = t.TempDir()
	confFilePath = filepath.Join(root, "fwgpace.conf")
	err := ioutil.WriteFile(confFilePath, []byte(fmt.Sprintf(testConfTemplate, root)), 0644)
	if nil != err {
		t.Fatalf("ioutil.WriteFile() failed: %v", err)
	}
	return
}

func testExecute(args ...string) (output string, err error) {
	var out bytes.Buffer

	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)

	err = cmd.Execute()
	output = out.String()

	return
}

func TestLoadConfMap(t *testing.T) {
	assert := assert.New(t)

	confFilePath, _ := testConfFile(t)

	confMap, err := loadConfMap([]string{confFilePath, "Pacing.Rate=max", "Run.Format=true"})
	if nil != err {
		t.Fatalf("loadConfMap() failed: %v", err)
	}
	assert.Equal([]string{"max"}, []string(confMap["Pacing"]["Rate"]))
	assert.Equal([]string{"fwd1", "fwd2"}, []string(confMap["FWG"]["WorkloadList"]))

	_, err = loadConfMap([]string{filepath.Join(t.TempDir(), "missing.conf")})
	assert.True(blunder.Is(err, blunder.ConfigError))

	_, err = loadConfMap([]string{confFilePath, "not-an-override"})
	assert.True(blunder.Is(err, blunder.ConfigError))
}

func TestCheck(t *testing.T) {
	confFilePath, _ := testConfFile(t)

	output, err := testExecute("check", confFilePath)
	if nil != err {
		t.Fatalf("check failed: %v\n%s", err, output)
	}

	for _, expected := range []string{
		"rate=200",
		"fwd1",
		"75.0000",
		"25.0000",
		"150.00",
		"20ms",
		"Anchor a1",
		"2 dirs, 100 files of 1.0 kB",
	} {
		if !strings.Contains(output, expected) {
			t.Fatalf("check output missing %q:\n%s", expected, output)
		}
	}

	_, err = testExecute("check", confFilePath, "Workload:fwd1.Skew=101")
	if !blunder.Is(err, blunder.ConfigError) {
		t.Fatalf("check with a bad skew should have failed with a ConfigError, not %v", err)
	}

	_, err = testExecute("check")
	if nil == err {
		t.Fatalf("check without a conf file should have failed")
	}
}

func TestCheckJSON(t *testing.T) {
	assert := assert.New(t)

	confFilePath, root := testConfFile(t)

	output, err := testExecute("check", "--json", confFilePath, "Pacing.Rate=400")
	if nil != err {
		t.Fatalf("check --json failed: %v\n%s", err, output)
	}

	var report checkReport
	err = json.Unmarshal([]byte(output), &report)
	if nil != err {
		t.Fatalf("check --json output is not JSON: %v\n%s", err, output)
	}

	assert.Equal("400", report.Rate)
	assert.False(report.Bypass)
	assert.Equal(2, len(report.Workloads))
	assert.Equal("fwd1", report.Workloads[0].Name)
	assert.Equal("mkdir", report.Workloads[0].Op)
	assert.Equal(75.0, report.Workloads[0].Skew)
	assert.Equal(2, report.Workloads[1].Threads)
	assert.Equal("10ms", report.Workloads[1].InterArrival)
	assert.Equal(1, len(report.Anchors))
	assert.Equal(filepath.Join(root, "a1"), report.Anchors[0].Root)
	assert.Equal(100, report.Anchors[0].Files)
	assert.Equal(uint64(1000), report.Anchors[0].FileSize)
	assert.Empty(report.Barriers)
}

func TestRun(t *testing.T) {
	confFilePath, root := testConfFile(t)

	output, err := testExecute("run", confFilePath)
	if nil != err {
		t.Fatalf("run failed: %v\n%s", err, output)
	}

	for _, expected := range []string{"Run of", "fwd1", "mkdir", "Total:"} {
		if !strings.Contains(output, expected) {
			t.Fatalf("run output missing %q:\n%s", expected, output)
		}
	}

	logBytes, err := ioutil.ReadFile(filepath.Join(root, "fwgpace.log"))
	if nil != err {
		t.Fatalf("log file not written: %v", err)
	}
	if !strings.Contains(string(logBytes), "elapsed time of 300ms reached") {
		t.Fatalf("log missing end of run:\n%s", string(logBytes))
	}
}

func TestPrintReport(t *testing.T) {
	assert := assert.New(t)

	var out bytes.Buffer

	err := printReport(&out, []latency.Summary{
		{Entry: "fwd1", Op: workload.OpRead, Count: 1000, Bytes: 4096000, MeanMicros: 250, MinMicros: 10, MaxMicros: 9000, P50Micros: 200, P90Micros: 400, P99Micros: 1500, P999Micros: 8000},
		{Entry: "fwd2", Op: workload.OpMkdir, Count: 500, MeanMicros: 40, MinMicros: 5, MaxMicros: 100, P50Micros: 30, P90Micros: 60, P99Micros: 90, P999Micros: 100},
	}, 10*time.Second)
	assert.Nil(err)

	output := out.String()
	for _, expected := range []string{
		"Run of 10s",
		"1,000",
		"100.0",
		"410 kB/s",
		"1.5ms",
		"Total: 1,500 operations (150.0 ops/sec), 4.1 MB transferred",
	} {
		assert.Contains(output, expected)
	}
}
