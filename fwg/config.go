// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package fwg

import (
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/NVIDIA/fwgpace/blunder"
	"github.com/NVIDIA/fwgpace/conf"
	"github.com/NVIDIA/fwgpace/ratequeue"
	"github.com/NVIDIA/fwgpace/waiter"
	"github.com/NVIDIA/fwgpace/worker"
	"github.com/NVIDIA/fwgpace/workload"
)

const (
	DefaultElapsed  = 30 * time.Second
	DefaultInterval = time.Second
)

// Config is everything a run reads from the [Run], [Pacing] and [Format]
// sections.
type Config struct {
	Elapsed             time.Duration
	Interval            time.Duration
	Format              bool
	Pacing              ratequeue.Config
	BurstPairs          []float64
	BurstSpread         bool
	BypassWaiter        bool
	UncontrolledBypass  bool
	Waiter              waiter.Config
	Worker              worker.Config
	CrossAnchorLockstep bool
	ShowProgress        bool
}

// Bypass reports whether workers run without admission and no Waiter is started
func (config *Config) Bypass() bool {
	return config.BypassWaiter || (config.UncontrolledBypass && (workload.MaxRate == config.Pacing.Rate))
}

type confFetcher struct {
	confMap conf.ConfMap
	result  *multierror.Error
}

func (fetcher *confFetcher) present(sectionName string, optionName string) bool {
	section, ok := fetcher.confMap[sectionName]
	if !ok {
		return false
	}
	_, ok = section[optionName]
	return ok
}

func (fetcher *confFetcher) fail(err error) {
	fetcher.result = multierror.Append(fetcher.result, err)
}

func (fetcher *confFetcher) duration(sectionName string, optionName string, defaultValue time.Duration) time.Duration {
	if !fetcher.present(sectionName, optionName) {
		return defaultValue
	}
	value, err := fetcher.confMap.FetchOptionValueDuration(sectionName, optionName)
	if nil != err {
		fetcher.fail(err)
		return defaultValue
	}
	return value
}

func (fetcher *confFetcher) boolean(sectionName string, optionName string, defaultValue bool) bool {
	if !fetcher.present(sectionName, optionName) {
		return defaultValue
	}
	value, err := fetcher.confMap.FetchOptionValueBool(sectionName, optionName)
	if nil != err {
		fetcher.fail(err)
		return defaultValue
	}
	return value
}

func (fetcher *confFetcher) count(sectionName string, optionName string, defaultValue uint64) uint64 {
	if !fetcher.present(sectionName, optionName) {
		return defaultValue
	}
	value, err := fetcher.confMap.FetchOptionValueUint64(sectionName, optionName)
	if nil != err {
		fetcher.fail(err)
		return defaultValue
	}
	return value
}

// FetchConfig reads a run's Config. Absent options take their defaults; every
// malformed option is reported.
//
//   [Run]    Elapsed (30s), Interval (1s), Format (false)
//   [Pacing] Rate (max), Distribution (exponential), MaxInFlight (2000),
//            Bursts, BurstSpread (true), BlockKillThreshold (10000),
//            FastStallDetection (false), BypassWaiter (false),
//            UncontrolledBypass (false), RandomSeed (0), PollInterval (100ms),
//            MaxSleepChunk (100ms), AllSuspendedBackoff (10ms), SuspendedSpin (10us)
//   [Format] CrossAnchorLockstep (true), ShowProgress (false)
func FetchConfig(confMap conf.ConfMap) (config Config, err error) {
	fetcher := &confFetcher{confMap: confMap}

	config.Elapsed = fetcher.duration("Run", "Elapsed", DefaultElapsed)
	config.Interval = fetcher.duration("Run", "Interval", DefaultInterval)
	config.Format = fetcher.boolean("Run", "Format", false)

	if 0 >= config.Elapsed {
		fetcher.fail(blunder.NewError(blunder.ConfigError, "[Run]Elapsed must be positive, not %v", config.Elapsed))
	}
	if 0 >= config.Interval {
		fetcher.fail(blunder.NewError(blunder.ConfigError, "[Run]Interval must be positive, not %v", config.Interval))
	}

	config.Pacing.Rate, err = workload.FetchRate(confMap)
	if nil != err {
		fetcher.fail(err)
	}

	config.Pacing.Distribution = ratequeue.Exponential
	if fetcher.present("Pacing", "Distribution") {
		var distributionString string
		distributionString, err = confMap.FetchOptionValueString("Pacing", "Distribution")
		if nil == err {
			config.Pacing.Distribution, err = ratequeue.ParseDistribution(distributionString)
		}
		if nil != err {
			fetcher.fail(err)
		}
	}

	config.Pacing.MaxInFlight = int(fetcher.count("Pacing", "MaxInFlight", ratequeue.DefaultMaxInFlight))
	if 0 == config.Pacing.MaxInFlight {
		fetcher.fail(blunder.NewError(blunder.ConfigError, "[Pacing]MaxInFlight must be positive"))
	}
	config.Pacing.RandomSeed = fetcher.count("Pacing", "RandomSeed", 0)
	config.Pacing.PollInterval = fetcher.duration("Pacing", "PollInterval", ratequeue.DefaultPollInterval)

	if fetcher.present("Pacing", "Bursts") {
		config.BurstPairs, err = confMap.FetchOptionValueFloat64Slice("Pacing", "Bursts")
		if nil != err {
			fetcher.fail(err)
		}
	}
	config.BurstSpread = fetcher.boolean("Pacing", "BurstSpread", true)

	config.BypassWaiter = fetcher.boolean("Pacing", "BypassWaiter", false)
	config.UncontrolledBypass = fetcher.boolean("Pacing", "UncontrolledBypass", false)

	defaults := waiter.DefaultConfig()
	config.Waiter.MaxSleepChunk = fetcher.duration("Pacing", "MaxSleepChunk", defaults.MaxSleepChunk)
	config.Waiter.PollInterval = config.Pacing.PollInterval
	config.Waiter.AllSuspendedBackoff = fetcher.duration("Pacing", "AllSuspendedBackoff", defaults.AllSuspendedBackoff)
	config.Waiter.SuspendedSpin = fetcher.duration("Pacing", "SuspendedSpin", defaults.SuspendedSpin)

	config.Worker.BlockKillThreshold = fetcher.count("Pacing", "BlockKillThreshold", worker.DefaultBlockKillThreshold)
	if fetcher.boolean("Pacing", "FastStallDetection", false) {
		config.Worker.BlockKillThreshold = worker.FastBlockKillThreshold
	}
	if 0 == config.Worker.BlockKillThreshold {
		fetcher.fail(blunder.NewError(blunder.ConfigError, "[Pacing]BlockKillThreshold must be positive"))
	}
	config.Worker.BlockSleep = worker.DefaultBlockSleep

	config.CrossAnchorLockstep = fetcher.boolean("Format", "CrossAnchorLockstep", true)
	config.ShowProgress = fetcher.boolean("Format", "ShowProgress", false)

	err = fetcher.result.ErrorOrNil()
	if nil != err {
		err = blunder.AddError(err, blunder.ConfigError)
	}

	return
}
