// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package transitions provides a mechanism for coordinating the bring-up and
// shutdown of the packages a run depends on.
//
// Each package that needs to act on the run's conf.ConfMap registers a set of
// callbacks, typically from its init() func. Up() calls each registered package's
// Up() in registration order. Down() calls each package's Down() in the reverse
// order. Package logger is always registered first so that it is up before (and
// down after) every other package.
package transitions

import (
	"github.com/NVIDIA/fwgpace/conf"
)

// Callbacks is the interface implemented by each package that wishes to be
// brought up and down with the run.
type Callbacks interface {
	Up(confMap conf.ConfMap) (err error)
	Down(confMap conf.ConfMap) (err error)
}

// Register should be called from a package's init() method to register it
// for callbacks from Up() and Down().
func Register(packageName string, callbacks Callbacks) {
	register(packageName, callbacks)
}

// Up calls Callbacks.Up() for each registered package in registration order.
//
// Should one fail, the packages already brought up are brought back down
// (in reverse order) before the error is returned.
func Up(confMap conf.ConfMap) (err error) {
	return up(confMap)
}

// Down calls Callbacks.Down() for each registered package that is currently up,
// in the reverse of registration order.
func Down(confMap conf.ConfMap) (err error) {
	return down(confMap)
}

// Registered returns the names of the registered packages in registration order.
func Registered() (packageNames []string) {
	return registered()
}
