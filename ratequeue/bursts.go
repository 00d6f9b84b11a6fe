// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package ratequeue

import (
	"fmt"
	"time"

	"github.com/NVIDIA/fwgpace/blunder"
)

const (
	maxBurstSeconds = 3600

	spreadExponentialCap = int64(180 * time.Second)
	spreadUniformCap     = int64(time.Second)
)

// BurstSchedule is a variable rate: an aggregate rate for each second of the
// run, repeating once the list is exhausted.
type BurstSchedule struct {
	perSecond []float64 // aggregate operations/second for each second
	spread    bool
	maxRate   float64
}

// NewBurstSchedule builds a BurstSchedule from rate,seconds pairs.
//
// A negative rate is a percentage of baseRate; a negative duration is a percentage
// of elapsed (which must not round down to 0 seconds). Durations must be whole
// seconds, total no more than 3600 seconds and no more than elapsed. With spread
// false every operation of a second is scheduled at the start of that second.
func NewBurstSchedule(pairs []float64, baseRate float64, elapsed time.Duration, spread bool) (burstSchedule *BurstSchedule, err error) {
	if 0 == len(pairs) {
		err = blunder.NewError(blunder.ConfigError, "burst list is empty")
		return
	}
	if 0 != len(pairs)%2 {
		err = blunder.NewError(blunder.ConfigError, "burst list must contain an even number of values, not %d", len(pairs))
		return
	}

	elapsedSeconds := int64(elapsed / time.Second)

	burstSchedule = &BurstSchedule{spread: spread}

	for i := 0; i < len(pairs); i += 2 {
		rate := pairs[i]
		duration := pairs[i+1]

		if 0 > rate {
			if 0 >= baseRate {
				err = blunder.NewError(blunder.ConfigError, "burst rate %v%% needs a numeric base rate", -rate)
				return
			}
			rate = baseRate * -rate / 100
		}

		var seconds int64
		if 0 > duration {
			seconds = int64(float64(elapsedSeconds) * -duration / 100)
			if 0 == seconds {
				err = blunder.NewError(blunder.ConfigError, "burst duration %v%% of %v results in a duration of zero seconds", -duration, elapsed)
				return
			}
		} else {
			seconds = int64(duration)
			if (0 == seconds) || (float64(seconds) != duration) {
				err = blunder.NewError(blunder.ConfigError, "burst duration %v must be a positive whole number of seconds", duration)
				return
			}
		}

		if maxBurstSeconds < int64(len(burstSchedule.perSecond))+seconds {
			err = blunder.NewError(blunder.ConfigError, "burst list may contain no more than %d seconds worth of rates", maxBurstSeconds)
			return
		}

		for j := int64(0); j < seconds; j++ {
			burstSchedule.perSecond = append(burstSchedule.perSecond, rate)
		}
		if rate > burstSchedule.maxRate {
			burstSchedule.maxRate = rate
		}
	}

	if int64(len(burstSchedule.perSecond)) > elapsedSeconds {
		err = blunder.NewError(blunder.ConfigError, "burst list covers %d seconds which must not exceed the elapsed time (%d seconds)", len(burstSchedule.perSecond), elapsedSeconds)
		return
	}
	if 0 >= burstSchedule.maxRate {
		err = blunder.NewError(blunder.ConfigError, "burst list has no second with a non-zero rate")
		return
	}

	return
}

// Seconds returns the length of one pass through the schedule
func (burstSchedule *BurstSchedule) Seconds() int {
	return len(burstSchedule.perSecond)
}

// MaxRate returns the highest aggregate rate in the schedule
func (burstSchedule *BurstSchedule) MaxRate() float64 {
	return burstSchedule.maxRate
}

// IsSpread reports whether operations are spread across each second
func (burstSchedule *BurstSchedule) IsSpread() bool {
	return burstSchedule.spread
}

// RateAt returns the aggregate rate for the given second of the run
func (burstSchedule *BurstSchedule) RateAt(second int64) float64 {
	return burstSchedule.perSecond[second%int64(len(burstSchedule.perSecond))]
}

// verifyForSkew checks that an entry taking skew percent of each second's rate is
// scheduled at least once per pass
func (burstSchedule *BurstSchedule) verifyForSkew(skew float64) (err error) {
	for _, rate := range burstSchedule.perSecond {
		if burstSchedule.spread {
			if 0 < rate*skew/100 {
				return
			}
		} else if 1 <= int64(rate*skew/100) {
			return
		}
	}
	err = fmt.Errorf("burst list gives less than one operation per second at skew %v", skew)
	return
}

func (burstSchedule *BurstSchedule) String() string {
	return fmt.Sprintf("bursts(seconds=%d,max=%v,spread=%v)", len(burstSchedule.perSecond), burstSchedule.maxRate, burstSchedule.spread)
}
