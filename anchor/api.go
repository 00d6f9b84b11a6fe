// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package anchor models the directory tree a workload operates on.
//
// An Anchor is a root directory with Depth levels of Width subdirectories each,
// and Files files in every directory of the deepest level. The tree is computed
// up front, so the set of paths is deterministic; operations then track which
// of them currently exist and which are in use by a worker.
package anchor

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/NVIDIA/fwgpace/blunder"
	"github.com/NVIDIA/fwgpace/stats"
)

// Directory is one directory of the tree (never the root itself).
type Directory struct {
	Path     string
	Level    int        // 1 for the root's children
	Parent   *Directory // nil at level 1
	children []*Directory
	files    []*File
	exists   bool
	busy     bool
}

// File is one file of the tree.
type File struct {
	Path   string
	Dir    *Directory // nil when Depth is 0
	exists bool
	busy   bool
}

// Anchor is one directory tree and its state.
type Anchor struct {
	sync.Mutex
	Name          string
	Root          string
	Depth         int
	Width         int
	Files         int // per deepest-level directory
	FileSize      uint64
	dirs          []*Directory // parents precede children
	files         []*File
	dirCursor     int
	fileCursor    int
	existingDirs  int
	existingFiles int
}

// New computes the tree of an Anchor. Nothing is touched on disk.
func New(name string, root string, depth int, width int, files int, fileSize uint64) (anchor *Anchor, err error) {
	if "" == root {
		err = blunder.NewError(blunder.ConfigError, "anchor %s has no path", name)
		return
	}
	if (0 > depth) || ((0 < depth) && (0 >= width)) || (0 >= files) {
		err = blunder.NewError(blunder.ConfigError, "anchor %s needs depth >= 0, width > 0 and files > 0 (got %d, %d, %d)", name, depth, width, files)
		return
	}

	anchor = &Anchor{
		Name:     name,
		Root:     root,
		Depth:    depth,
		Width:    width,
		Files:    files,
		FileSize: fileSize,
	}

	if 0 == depth {
		anchor.addFiles(nil, root)
		return
	}

	level := []*Directory{nil}
	for l := 1; l <= depth; l++ {
		next := make([]*Directory, 0, len(level)*width)
		for _, parent := range level {
			parentPath := root
			if nil != parent {
				parentPath = parent.Path
			}
			for w := 1; w <= width; w++ {
				dir := &Directory{
					Path:   filepath.Join(parentPath, fmt.Sprintf("fwg.%d_%d.dir", l, w)),
					Level:  l,
					Parent: parent,
				}
				if nil != parent {
					parent.children = append(parent.children, dir)
				}
				anchor.dirs = append(anchor.dirs, dir)
				next = append(next, dir)
			}
		}
		level = next
	}

	for _, dir := range level {
		anchor.addFiles(dir, dir.Path)
	}

	return
}

func (anchor *Anchor) addFiles(dir *Directory, dirPath string) {
	for f := 1; f <= anchor.Files; f++ {
		file := &File{
			Path: filepath.Join(dirPath, fmt.Sprintf("fwg_f%04d.file", f)),
			Dir:  dir,
		}
		if nil != dir {
			dir.files = append(dir.files, file)
		}
		anchor.files = append(anchor.files, file)
	}
}

// Scan records which of the tree's paths already exist on disk. A missing root
// is created.
func (anchor *Anchor) Scan() (err error) {
	err = os.MkdirAll(anchor.Root, 0755)
	if nil != err {
		err = blunder.FromUnix(err)
		return
	}

	anchor.Lock()
	defer anchor.Unlock()

	anchor.existingDirs = 0
	for _, dir := range anchor.dirs {
		info, statErr := os.Stat(dir.Path)
		dir.exists = (nil == statErr) && info.IsDir()
		if dir.exists {
			anchor.existingDirs++
		}
	}

	anchor.existingFiles = 0
	for _, file := range anchor.files {
		info, statErr := os.Stat(file.Path)
		file.exists = (nil == statErr) && info.Mode().IsRegular()
		if file.exists {
			anchor.existingFiles++
		}
	}

	return
}

// ResetRoundRobin restarts both cursors at the beginning of their lists
func (anchor *Anchor) ResetRoundRobin() {
	anchor.Lock()
	anchor.dirCursor = 0
	anchor.fileCursor = 0
	anchor.Unlock()
}

// NextDirectory claims the next directory, in round-robin order, for which want
// returns true. A claimed directory is busy until ReleaseDirectory(). If none is
// found reason says whether candidates were busy or there were none at all.
func (anchor *Anchor) NextDirectory(want func(dir *Directory) bool) (dir *Directory, reason stats.BlockReason, ok bool) {
	anchor.Lock()
	defer anchor.Unlock()

	reason = stats.BlockNoWork

	for i := 0; i < len(anchor.dirs); i++ {
		candidate := anchor.dirs[anchor.dirCursor]
		anchor.dirCursor = (anchor.dirCursor + 1) % len(anchor.dirs)
		if !want(candidate) {
			continue
		}
		if candidate.busy {
			reason = stats.BlockFileBusy
			continue
		}
		candidate.busy = true
		dir = candidate
		ok = true
		return
	}

	return
}

// ReleaseDirectory ends a claim, recording whether the directory now exists
func (anchor *Anchor) ReleaseDirectory(dir *Directory, exists bool) {
	anchor.Lock()
	if exists != dir.exists {
		if exists {
			anchor.existingDirs++
		} else {
			anchor.existingDirs--
		}
		dir.exists = exists
	}
	dir.busy = false
	anchor.Unlock()
}

// NextFile is NextDirectory() for files
func (anchor *Anchor) NextFile(want func(file *File) bool) (file *File, reason stats.BlockReason, ok bool) {
	anchor.Lock()
	defer anchor.Unlock()

	reason = stats.BlockNoWork

	for i := 0; i < len(anchor.files); i++ {
		candidate := anchor.files[anchor.fileCursor]
		anchor.fileCursor = (anchor.fileCursor + 1) % len(anchor.files)
		if !want(candidate) {
			continue
		}
		if candidate.busy {
			reason = stats.BlockFileBusy
			continue
		}
		candidate.busy = true
		file = candidate
		ok = true
		return
	}

	return
}

// ReleaseFile ends a claim, recording whether the file now exists
func (anchor *Anchor) ReleaseFile(file *File, exists bool) {
	anchor.Lock()
	if exists != file.exists {
		if exists {
			anchor.existingFiles++
		} else {
			anchor.existingFiles--
		}
		file.exists = exists
	}
	file.busy = false
	anchor.Unlock()
}

// The predicates below are evaluated by NextDirectory()/NextFile() with the
// Anchor's lock held.

// Exists reports whether the directory is present
func (dir *Directory) Exists() bool {
	return dir.exists
}

// ParentExists reports whether the directory's parent (or the root) is present
func (dir *Directory) ParentExists() bool {
	return (nil == dir.Parent) || dir.Parent.exists
}

// IsEmpty reports whether none of the directory's children or files exist
func (dir *Directory) IsEmpty() bool {
	for _, child := range dir.children {
		if child.exists {
			return false
		}
	}
	for _, file := range dir.files {
		if file.exists {
			return false
		}
	}
	return true
}

// Exists reports whether the file is present
func (file *File) Exists() bool {
	return file.exists
}

// DirExists reports whether the file's directory (or the root) is present
func (file *File) DirExists() bool {
	return (nil == file.Dir) || file.Dir.exists
}

// DirCount returns the directories in the tree
func (anchor *Anchor) DirCount() int {
	return len(anchor.dirs)
}

// FileCount returns the files in the tree
func (anchor *Anchor) FileCount() int {
	return len(anchor.files)
}

// ExistingDirs returns the directories known to exist
func (anchor *Anchor) ExistingDirs() int {
	anchor.Lock()
	defer anchor.Unlock()
	return anchor.existingDirs
}

// ExistingFiles returns the files known to exist
func (anchor *Anchor) ExistingFiles() int {
	anchor.Lock()
	defer anchor.Unlock()
	return anchor.existingFiles
}

// MoreDirsToFormat reports whether any directory is still missing
func (anchor *Anchor) MoreDirsToFormat() bool {
	anchor.Lock()
	defer anchor.Unlock()
	return anchor.existingDirs < len(anchor.dirs)
}

// AnyFilesToFormat reports whether any file is still missing
func (anchor *Anchor) AnyFilesToFormat() bool {
	anchor.Lock()
	defer anchor.Unlock()
	return anchor.existingFiles < len(anchor.files)
}

func (anchor *Anchor) String() string {
	return fmt.Sprintf("%s(%s depth=%d width=%d files=%d size=%d dirs=%d/%d files=%d/%d)",
		anchor.Name, anchor.Root, anchor.Depth, anchor.Width, anchor.Files, anchor.FileSize,
		anchor.ExistingDirs(), anchor.DirCount(), anchor.ExistingFiles(), anchor.FileCount())
}
