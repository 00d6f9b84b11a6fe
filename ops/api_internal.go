// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package ops

import (
	"fmt"
	"io"
	"os"

	"github.com/ncw/directio"

	"github.com/NVIDIA/fwgpace/anchor"
	"github.com/NVIDIA/fwgpace/blunder"
	"github.com/NVIDIA/fwgpace/halter"
	"github.com/NVIDIA/fwgpace/logger"
	"github.com/NVIDIA/fwgpace/stats"
	"github.com/NVIDIA/fwgpace/worker"
	"github.com/NVIDIA/fwgpace/workload"
)

type baseOperation struct {
	kind    workload.OpKind
	anchor  *anchor.Anchor
	options Options
	buf     []byte
}

func newBase(kind workload.OpKind, a *anchor.Anchor, options Options) (base baseOperation) {
	base = baseOperation{kind: kind, anchor: a, options: options}

	if options.DirectIO {
		base.buf = directio.AlignedBlock(int(options.XferSize))
	} else {
		base.buf = make([]byte, options.XferSize)
	}
	for i := range base.buf {
		base.buf[i] = byte(i)
	}

	return
}

func (base *baseOperation) now() int64 {
	return base.options.Source.Nanos()
}

func (base *baseOperation) report(blocker worker.Blocker, start int64, bytes uint64) {
	base.options.Recorder.ReportXfer(blocker.Entry().Name, base.kind, start, base.now(), bytes)
}

// need is what an Operation failed to find
type need int

const (
	needExistingFile need = iota
	needMissingFile
	needMissingDir
	needEmptyDir
)

func (n need) String() string {
	switch n {
	case needExistingFile:
		return "no files exist and nothing creates them"
	case needMissingFile:
		return "no files can be created and nothing deletes them"
	case needMissingDir:
		return "every directory exists and nothing removes them"
	case needEmptyDir:
		return "no directory is empty and nothing will empty or create one"
	}
	return fmt.Sprintf("need-%d", int(n))
}

// blocked handles an attempt that found nothing to claim. If what it needs can
// never appear the entry is shut down and the worker told to stop; otherwise the
// attempt counts as a block.
func (base *baseOperation) blocked(blocker worker.Blocker, reason stats.BlockReason, n need) (more bool) {
	if (stats.BlockNoWork == reason) && base.exhausted(n) {
		entry := blocker.Entry()
		if entry.Shutdown() {
			logger.InfofEntry(entry.Name, "shutting down workload %s (%s on anchor %s): %s", entry.Name, base.kind, base.anchor.Name, n)
		}
		return false
	}

	blocker.Block(reason)
	return true
}

func (base *baseOperation) exhausted(n need) bool {
	expect := base.options.Expect
	if nil == expect {
		return false
	}

	switch n {
	case needExistingFile:
		return (0 == base.anchor.ExistingFiles()) && !expect.Live(workload.OpCreate, workload.OpFormat)
	case needMissingFile:
		if base.anchor.ExistingFiles() == base.anchor.FileCount() {
			return !expect.Live(workload.OpDelete)
		}
		// the missing files' directories are missing
		return !expect.Live(workload.OpDelete, workload.OpMkdir, workload.OpFormat)
	case needMissingDir:
		return !expect.Live(workload.OpRmdir)
	case needEmptyDir:
		return !expect.Live(workload.OpDelete, workload.OpMove, workload.OpMkdir, workload.OpFormat)
	}

	return false
}

// fail handles an unexpected error from the file system. A full file system
// blocks; anything else halts the run.
func (base *baseOperation) fail(blocker worker.Blocker, path string, err error) (more bool) {
	err = blunder.FromUnix(err)
	if blunder.Is(err, blunder.NoSpaceError) {
		blocker.Block(stats.BlockSpaceFull)
		return true
	}

	logger.ErrorfWithError(err, "%s of %s failed", base.kind, path)
	halter.Halt(blunder.AddError(err, blunder.IOError))

	return false
}

func (base *baseOperation) openFile(path string, flag int, direct bool) (file *os.File, err error) {
	if direct {
		return directio.OpenFile(path, flag, 0644)
	}
	return os.OpenFile(path, flag, 0644)
}

// fill writes size bytes to file in XferSize chunks
func (base *baseOperation) fill(file *os.File, size uint64) (written uint64, err error) {
	for written < size {
		chunk := uint64(len(base.buf))
		if chunk > size-written {
			chunk = size - written
		}
		var n int
		n, err = file.Write(base.buf[:chunk])
		written += uint64(n)
		if nil != err {
			return
		}
	}
	return
}

// drain reads file to EOF in XferSize chunks
func (base *baseOperation) drain(file *os.File) (read uint64, err error) {
	for {
		var n int
		n, err = file.Read(base.buf)
		read += uint64(n)
		if io.EOF == err {
			err = nil
			return
		}
		if nil != err {
			return
		}
		if 0 == n {
			return
		}
	}
}

func missingDirWithParent(dir *anchor.Directory) bool {
	return !dir.Exists() && dir.ParentExists()
}

func emptyDir(dir *anchor.Directory) bool {
	return dir.Exists() && dir.IsEmpty()
}

func missingFileWithDir(file *anchor.File) bool {
	return !file.Exists() && file.DirExists()
}

func existingFile(file *anchor.File) bool {
	return file.Exists()
}
