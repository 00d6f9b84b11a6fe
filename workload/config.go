// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package workload

import (
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/NVIDIA/fwgpace/blunder"
	"github.com/NVIDIA/fwgpace/conf"
)

const (
	defaultThreads  = 1
	defaultXferSize = 4096
)

// ParseRate interprets a Pacing.Rate value: a positive number of operations per
// second, or "max"/"uncontrolled" for MaxRate.
func ParseRate(s string) (rate float64, err error) {
	switch strings.ToLower(s) {
	case "max", "uncontrolled":
		rate = MaxRate
		return
	}

	rate, err = strconv.ParseFloat(s, 64)
	if nil != err {
		err = blunder.NewError(blunder.ConfigError, "rate %q is neither a number nor \"max\"", s)
		return
	}
	if 0 >= rate {
		err = blunder.NewError(blunder.ConfigError, "rate must be positive (or \"max\"), not %v", rate)
	}
	return
}

// FetchRate returns [Pacing]Rate, defaulting to MaxRate when absent
func FetchRate(confMap conf.ConfMap) (rate float64, err error) {
	rateString, fetchErr := confMap.FetchOptionValueString("Pacing", "Rate")
	if nil != fetchErr {
		rate = MaxRate
		return
	}
	rate, err = ParseRate(rateString)
	return
}

// FetchEntries builds an Entry for each name in [FWG]WorkloadList from its
// [Workload:<name>] section:
//
//   Anchor    - anchor name (required)
//   Operation - operation kind (required)
//   Threads   - worker count (default 1)
//   Skew      - percent of aggregate rate (default 0, i.e. unspecified)
//   XferSize  - bytes per read/write, e.g. "4k" (default 4096)
//   DirectIO  - bypass the page cache for read/write (default false)
//
// Every problem found is reported, not just the first. Skew is not normalized here.
func FetchEntries(confMap conf.ConfMap) (entries []*Entry, err error) {
	var result *multierror.Error

	workloadList, fetchErr := confMap.FetchOptionValueStringSlice("FWG", "WorkloadList")
	if nil != fetchErr {
		err = blunder.AddError(fetchErr, blunder.ConfigError)
		return
	}
	if 0 == len(workloadList) {
		err = blunder.NewError(blunder.ConfigError, "[FWG]WorkloadList is empty")
		return
	}

	seen := make(map[string]bool)
	entries = make([]*Entry, 0, len(workloadList))

	for seq, name := range workloadList {
		if seen[name] {
			result = multierror.Append(result, blunder.NewError(blunder.ConfigError, "workload %s listed twice", name))
			continue
		}
		seen[name] = true

		entry, entryErr := fetchEntry(confMap, name, seq)
		if nil != entryErr {
			result = multierror.Append(result, entryErr)
			continue
		}
		entries = append(entries, entry)
	}

	if nil != result.ErrorOrNil() {
		entries = nil
		err = blunder.AddError(result.ErrorOrNil(), blunder.ConfigError)
	}

	return
}

func fetchEntry(confMap conf.ConfMap, name string, seq int) (entry *Entry, err error) {
	var result *multierror.Error

	sectionName := "Workload:" + name
	entry = &Entry{Name: name, Seq: seq, Threads: defaultThreads, XferSize: defaultXferSize}

	if _, ok := confMap[sectionName]; !ok {
		err = blunder.NewEntryError(blunder.ConfigError, name, "[%s] missing", sectionName)
		return
	}

	entry.AnchorName, err = confMap.FetchOptionValueString(sectionName, "Anchor")
	if nil != err {
		result = multierror.Append(result, err)
	}

	operation, fetchErr := confMap.FetchOptionValueString(sectionName, "Operation")
	if nil != fetchErr {
		result = multierror.Append(result, fetchErr)
	} else {
		entry.Operation, fetchErr = ParseOpKind(operation)
		if nil != fetchErr {
			result = multierror.Append(result, fetchErr)
		}
	}

	if _, ok := confMap[sectionName]["Threads"]; ok {
		threads, fetchErr := confMap.FetchOptionValueUint32(sectionName, "Threads")
		if nil != fetchErr {
			result = multierror.Append(result, fetchErr)
		} else if 0 == threads {
			result = multierror.Append(result, blunder.NewEntryError(blunder.ConfigError, name, "[%s]Threads must be positive", sectionName))
		} else {
			entry.Threads = int(threads)
		}
	}

	if _, ok := confMap[sectionName]["Skew"]; ok {
		entry.Skew, fetchErr = confMap.FetchOptionValueFloat64(sectionName, "Skew")
		if nil != fetchErr {
			result = multierror.Append(result, fetchErr)
		}
	}

	if _, ok := confMap[sectionName]["XferSize"]; ok {
		entry.XferSize, fetchErr = confMap.FetchOptionValueBytes(sectionName, "XferSize")
		if nil != fetchErr {
			result = multierror.Append(result, fetchErr)
		} else if 0 == entry.XferSize {
			result = multierror.Append(result, blunder.NewEntryError(blunder.ConfigError, name, "[%s]XferSize must be positive", sectionName))
		}
	}

	if _, ok := confMap[sectionName]["DirectIO"]; ok {
		entry.DirectIO, fetchErr = confMap.FetchOptionValueBool(sectionName, "DirectIO")
		if nil != fetchErr {
			result = multierror.Append(result, fetchErr)
		}
	}

	err = result.ErrorOrNil()
	if nil != err {
		entry = nil
	}
	return
}
