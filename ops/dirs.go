// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package ops

import (
	"os"

	"github.com/NVIDIA/fwgpace/worker"
)

type mkdirOperation struct{ baseOperation }

func (op *mkdirOperation) DoOperation(blocker worker.Blocker) bool {
	dir, reason, ok := op.anchor.NextDirectory(missingDirWithParent)
	if !ok {
		return op.blocked(blocker, reason, needMissingDir)
	}

	start := op.now()
	err := os.Mkdir(dir.Path, 0755)
	if (nil != err) && !os.IsExist(err) {
		op.anchor.ReleaseDirectory(dir, false)
		return op.fail(blocker, dir.Path, err)
	}
	op.report(blocker, start, 0)
	op.anchor.ReleaseDirectory(dir, true)

	return true
}

type rmdirOperation struct{ baseOperation }

func (op *rmdirOperation) DoOperation(blocker worker.Blocker) bool {
	dir, reason, ok := op.anchor.NextDirectory(emptyDir)
	if !ok {
		return op.blocked(blocker, reason, needEmptyDir)
	}

	start := op.now()
	err := os.Remove(dir.Path)
	if (nil != err) && !os.IsNotExist(err) {
		op.anchor.ReleaseDirectory(dir, true)
		return op.fail(blocker, dir.Path, err)
	}
	op.report(blocker, start, 0)
	op.anchor.ReleaseDirectory(dir, false)

	return true
}
