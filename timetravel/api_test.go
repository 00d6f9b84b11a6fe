// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package timetravel

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/NVIDIA/fwgpace/blunder"
	"github.com/NVIDIA/fwgpace/conf"
	"github.com/NVIDIA/fwgpace/halter"
)

var testHaltErrs []error

func testHalt(err error) {
	testHaltErrs = append(testHaltErrs, err)
}

func testGuard(t *testing.T, confStrings []string) *Guard {
	confMap, err := conf.MakeConfMapFromStrings(confStrings)
	if nil != err {
		t.Fatalf("conf.MakeConfMapFromStrings() failed: %v", err)
	}
	return NewFromConfMap(confMap)
}

func testToleranceFile(t *testing.T, contents string) string {
	path := filepath.Join(t.TempDir(), "timetravel.txt")
	err := ioutil.WriteFile(path, []byte(contents), 0644)
	if nil != err {
		t.Fatalf("ioutil.WriteFile() failed: %v", err)
	}
	return path
}

func TestFetchTolerance(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(int64(0), testGuard(t, []string{}).ToleranceNanos())
	assert.Equal(int64(5000), testGuard(t, []string{"TimeTravel.ToleranceNanos=5000"}).ToleranceNanos())
	assert.Equal(int64(0), testGuard(t, []string{"TimeTravel.ToleranceNanos=-5"}).ToleranceNanos())

	path := testToleranceFile(t, "250000\n")
	assert.Equal(int64(250000), testGuard(t, []string{"TimeTravel.ToleranceFile=" + path, "TimeTravel.ToleranceNanos=1"}).ToleranceNanos())

	for _, contents := range []string{"1\n2\n", "soon\n", "-100\n"} {
		path = testToleranceFile(t, contents)
		assert.Equal(int64(0), testGuard(t, []string{"TimeTravel.ToleranceFile=" + path}).ToleranceNanos(), "contents %q", contents)
	}

	missing := filepath.Join(t.TempDir(), "absent")
	assert.Equal(int64(0), testGuard(t, []string{"TimeTravel.ToleranceFile=" + missing}).ToleranceNanos())

	_, err := readToleranceFile(missing)
	assert.True(blunder.Is(err, blunder.NotFoundError), "%v", err)
	_, err = os.Stat(missing)
	assert.True(os.IsNotExist(err))
}

func TestCheck(t *testing.T) {
	assert := assert.New(t)

	halter.ConfigureTestModeHaltCB(testHalt)
	defer halter.ConfigureTestModeHaltCB(nil)

	testHaltErrs = nil

	guard := New(1000)
	assert.Equal(int64(40), guard.Check(10, 50))
	assert.Equal(int64(0), guard.Check(50, 50))

	assert.Equal(int64(0), guard.Check(500, 0))
	assert.Equal(uint64(1), guard.Occurrences())
	assert.Equal(0, len(testHaltErrs))

	guard.Check(5000, 0)
	if 1 != len(testHaltErrs) || !blunder.Is(testHaltErrs[0], blunder.ClockAnomalyError) {
		t.Fatalf("step beyond the window did not halt: %v", testHaltErrs)
	}

	disabled := New(0)
	disabled.Check(2, 1)
	if 2 != len(testHaltErrs) {
		t.Fatalf("step with tolerance disabled did not halt: %v", testHaltErrs)
	}

	testHaltErrs = nil
	// one occurrence already counted
	for i := 0; i < 999; i++ {
		guard.Check(1, 0)
	}
	assert.Equal(0, len(testHaltErrs))
	guard.Check(1, 0)
	assert.Equal(1, len(testHaltErrs))
	assert.Contains(testHaltErrs[0].Error(), "Maximum 1000 allowed")
}

func TestSkipResponseTimes(t *testing.T) {
	guard := testGuard(t, []string{"TimeTravel.SkipResponseTimes=true"})
	if 0 != guard.Check(10, 50) || 0 != guard.Check(50, 10) {
		t.Fatalf("SkipResponseTimes did not zero latencies")
	}
}
