// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package ops

import (
	"io"
	"os"

	"github.com/NVIDIA/fwgpace/anchor"
	"github.com/NVIDIA/fwgpace/stats"
	"github.com/NVIDIA/fwgpace/worker"
)

type createOperation struct{ baseOperation }

func (op *createOperation) DoOperation(blocker worker.Blocker) bool {
	file, reason, ok := op.anchor.NextFile(missingFileWithDir)
	if !ok {
		return op.blocked(blocker, reason, needMissingFile)
	}

	more, _ := op.createFile(blocker, file)
	return more
}

// createFile creates file at the anchor's FileSize; caller has claimed it
func (op *baseOperation) createFile(blocker worker.Blocker, file *anchor.File) (more bool, created bool) {
	start := op.now()

	f, err := op.openFile(file.Path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, false)
	if nil != err {
		op.anchor.ReleaseFile(file, os.IsExist(err))
		if os.IsExist(err) {
			return true, false
		}
		return op.fail(blocker, file.Path, err), false
	}

	written, err := op.fill(f, op.anchor.FileSize)
	closeErr := f.Close()
	if nil == err {
		err = closeErr
	}
	if nil != err {
		_ = os.Remove(file.Path)
		op.anchor.ReleaseFile(file, false)
		return op.fail(blocker, file.Path, err), false
	}

	op.report(blocker, start, written)
	op.anchor.ReleaseFile(file, true)

	return true, true
}

type deleteOperation struct{ baseOperation }

func (op *deleteOperation) DoOperation(blocker worker.Blocker) bool {
	file, reason, ok := op.anchor.NextFile(existingFile)
	if !ok {
		return op.blocked(blocker, reason, needExistingFile)
	}

	start := op.now()
	err := os.Remove(file.Path)
	if (nil != err) && !os.IsNotExist(err) {
		op.anchor.ReleaseFile(file, true)
		return op.fail(blocker, file.Path, err)
	}
	op.report(blocker, start, 0)
	op.anchor.ReleaseFile(file, false)

	return true
}

type readOperation struct{ baseOperation }

func (op *readOperation) DoOperation(blocker worker.Blocker) bool {
	file, reason, ok := op.anchor.NextFile(existingFile)
	if !ok {
		return op.blocked(blocker, reason, needExistingFile)
	}
	defer op.anchor.ReleaseFile(file, true)

	start := op.now()
	f, err := op.openFile(file.Path, os.O_RDONLY, op.options.DirectIO)
	if nil != err {
		return op.fail(blocker, file.Path, err)
	}
	read, err := op.drain(f)
	_ = f.Close()
	if nil != err {
		return op.fail(blocker, file.Path, err)
	}
	op.report(blocker, start, read)

	return true
}

type writeOperation struct{ baseOperation }

func (op *writeOperation) DoOperation(blocker worker.Blocker) bool {
	file, reason, ok := op.anchor.NextFile(existingFile)
	if !ok {
		return op.blocked(blocker, reason, needExistingFile)
	}
	defer op.anchor.ReleaseFile(file, true)

	start := op.now()
	f, err := op.openFile(file.Path, os.O_WRONLY, op.options.DirectIO)
	if nil != err {
		return op.fail(blocker, file.Path, err)
	}
	written, err := op.fill(f, op.anchor.FileSize)
	closeErr := f.Close()
	if nil == err {
		err = closeErr
	}
	if nil != err {
		return op.fail(blocker, file.Path, err)
	}
	op.report(blocker, start, written)

	return true
}

type getattrOperation struct{ baseOperation }

func (op *getattrOperation) DoOperation(blocker worker.Blocker) bool {
	file, reason, ok := op.anchor.NextFile(existingFile)
	if !ok {
		return op.blocked(blocker, reason, needExistingFile)
	}
	defer op.anchor.ReleaseFile(file, true)

	start := op.now()
	_, err := os.Stat(file.Path)
	if nil != err {
		return op.fail(blocker, file.Path, err)
	}
	op.report(blocker, start, 0)

	return true
}

type setattrOperation struct {
	baseOperation
	toggle bool
}

func (op *setattrOperation) DoOperation(blocker worker.Blocker) bool {
	file, reason, ok := op.anchor.NextFile(existingFile)
	if !ok {
		return op.blocked(blocker, reason, needExistingFile)
	}
	defer op.anchor.ReleaseFile(file, true)

	mode := os.FileMode(0644)
	if op.toggle {
		mode = 0600
	}
	op.toggle = !op.toggle

	start := op.now()
	err := os.Chmod(file.Path, mode)
	if nil != err {
		return op.fail(blocker, file.Path, err)
	}
	op.report(blocker, start, 0)

	return true
}

type openOperation struct{ baseOperation }

func (op *openOperation) DoOperation(blocker worker.Blocker) bool {
	file, reason, ok := op.anchor.NextFile(existingFile)
	if !ok {
		return op.blocked(blocker, reason, needExistingFile)
	}
	defer op.anchor.ReleaseFile(file, true)

	start := op.now()
	f, err := op.openFile(file.Path, os.O_RDONLY, false)
	if nil != err {
		return op.fail(blocker, file.Path, err)
	}
	op.report(blocker, start, 0)
	_ = f.Close()

	return true
}

type closeOperation struct{ baseOperation }

func (op *closeOperation) DoOperation(blocker worker.Blocker) bool {
	file, reason, ok := op.anchor.NextFile(existingFile)
	if !ok {
		return op.blocked(blocker, reason, needExistingFile)
	}
	defer op.anchor.ReleaseFile(file, true)

	f, err := op.openFile(file.Path, os.O_RDONLY, false)
	if nil != err {
		return op.fail(blocker, file.Path, err)
	}
	start := op.now()
	err = f.Close()
	if nil != err {
		return op.fail(blocker, file.Path, err)
	}
	op.report(blocker, start, 0)

	return true
}

// claimPair claims an existing source and a missing target whose directory
// exists. On failure nothing stays claimed and more tells the worker whether
// to continue.
func (op *baseOperation) claimPair(blocker worker.Blocker) (source *anchor.File, target *anchor.File, ok bool, more bool) {
	var reason stats.BlockReason

	source, reason, ok = op.anchor.NextFile(existingFile)
	if !ok {
		more = op.blocked(blocker, reason, needExistingFile)
		return
	}

	target, reason, ok = op.anchor.NextFile(missingFileWithDir)
	if !ok {
		op.anchor.ReleaseFile(source, true)
		more = op.blocked(blocker, reason, needMissingFile)
	}

	return
}

type copyOperation struct{ baseOperation }

func (op *copyOperation) DoOperation(blocker worker.Blocker) bool {
	source, target, ok, more := op.claimPair(blocker)
	if !ok {
		return more
	}
	defer op.anchor.ReleaseFile(source, true)

	start := op.now()

	in, err := op.openFile(source.Path, os.O_RDONLY, false)
	if nil != err {
		op.anchor.ReleaseFile(target, false)
		return op.fail(blocker, source.Path, err)
	}
	defer func() { _ = in.Close() }()

	out, err := op.openFile(target.Path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, false)
	if nil != err {
		op.anchor.ReleaseFile(target, os.IsExist(err))
		if os.IsExist(err) {
			return true
		}
		return op.fail(blocker, target.Path, err)
	}

	copied, err := io.CopyBuffer(out, in, op.buf)
	closeErr := out.Close()
	if nil == err {
		err = closeErr
	}
	if nil != err {
		_ = os.Remove(target.Path)
		op.anchor.ReleaseFile(target, false)
		return op.fail(blocker, target.Path, err)
	}

	op.report(blocker, start, uint64(copied))
	op.anchor.ReleaseFile(target, true)

	return true
}

type moveOperation struct{ baseOperation }

func (op *moveOperation) DoOperation(blocker worker.Blocker) bool {
	source, target, ok, more := op.claimPair(blocker)
	if !ok {
		return more
	}

	start := op.now()
	err := os.Rename(source.Path, target.Path)
	if nil != err {
		op.anchor.ReleaseFile(source, true)
		op.anchor.ReleaseFile(target, false)
		return op.fail(blocker, source.Path, err)
	}
	op.report(blocker, start, 0)
	op.anchor.ReleaseFile(source, false)
	op.anchor.ReleaseFile(target, true)

	return true
}
