// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package latency

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/NVIDIA/fwgpace/halter"
	"github.com/NVIDIA/fwgpace/stats"
	"github.com/NVIDIA/fwgpace/timetravel"
	"github.com/NVIDIA/fwgpace/workload"
)

func TestRecorder(t *testing.T) {
	assert := assert.New(t)

	recorder := New(timetravel.New(int64(time.Millisecond)))

	for i := int64(1); i <= 100; i++ {
		recorder.Report("fwd1", workload.OpCreate, 0, i*int64(time.Millisecond))
	}
	recorder.ReportXfer("fwd1", workload.OpRead, 10, 10+int64(2*time.Microsecond), 4096)
	recorder.ReportXfer("fwd0", workload.OpRead, 0, int64(2*time.Hour), 8192)

	assert.Equal(int64(100), recorder.Count("fwd1", workload.OpCreate))
	assert.Equal(int64(0), recorder.Count("fwd1", workload.OpDelete))
	assert.Equal(int64(102), recorder.Total())

	summaries := recorder.Summaries()
	if 3 != len(summaries) {
		t.Fatalf("Summaries() returned %d entries", len(summaries))
	}

	assert.Equal("fwd0", summaries[0].Entry)
	assert.InDelta(float64(time.Hour/time.Microsecond), float64(summaries[0].MaxMicros), float64(time.Hour/time.Microsecond)/100)

	create := summaries[2]
	assert.Equal(workload.OpCreate, create.Op)
	assert.InDelta(1000, float64(create.MinMicros), 10)
	assert.InDelta(100000, float64(create.MaxMicros), 1000)
	assert.InDelta(50000, float64(create.P50Micros), 1000)
	assert.InDelta(99000, float64(create.P99Micros), 1000)

	assert.Equal(workload.OpRead, summaries[1].Op)
	assert.Equal(uint64(4096), summaries[1].Bytes)
	assert.Equal(int64(2), summaries[1].MinMicros)

	assert.True(stats.Dump()["fwgpace_bytes_total{entry=fwd1,op=read}"] >= 4096)

	recorder.Reset()
	assert.Equal(int64(0), recorder.Total())
}

func TestRecorderClampsTimeTravel(t *testing.T) {
	halter.ConfigureTestModeHaltCB(func(err error) { t.Fatalf("unexpected halt: %v", err) })
	defer halter.ConfigureTestModeHaltCB(nil)

	recorder := New(timetravel.New(1000))
	recorder.Report("fwd1", workload.OpGetattr, 500, 0)

	summaries := recorder.Summaries()
	if (1 != len(summaries)) || (0 != summaries[0].MaxMicros) {
		t.Fatalf("backwards interval not clamped to 0: %+v", summaries)
	}
}
