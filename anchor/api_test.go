// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package anchor

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/NVIDIA/fwgpace/blunder"
	"github.com/NVIDIA/fwgpace/conf"
	"github.com/NVIDIA/fwgpace/stats"
)

func TestTree(t *testing.T) {
	assert := assert.New(t)

	anchor, err := New("a1", "/mnt/a1", 2, 3, 4, 1024)
	if nil != err {
		t.Fatalf("New() failed: %v", err)
	}

	assert.Equal(12, anchor.DirCount())
	assert.Equal(36, anchor.FileCount())
	assert.Equal("/mnt/a1/fwg.1_1.dir", anchor.dirs[0].Path)
	assert.Equal("/mnt/a1/fwg.1_2.dir/fwg.2_3.dir", anchor.dirs[8].Path)
	assert.Equal(anchor.dirs[1], anchor.dirs[8].Parent)
	assert.Equal("/mnt/a1/fwg.1_1.dir/fwg.2_1.dir/fwg_f0001.file", anchor.files[0].Path)
	assert.Equal("/mnt/a1/fwg.1_3.dir/fwg.2_3.dir/fwg_f0004.file", anchor.files[35].Path)

	flat, err := New("a2", "/mnt/a2", 0, 0, 2, 0)
	assert.Nil(err)
	assert.Equal(0, flat.DirCount())
	assert.Equal("/mnt/a2/fwg_f0002.file", flat.files[1].Path)
	assert.True(flat.files[0].DirExists())
	_, _, ok := flat.NextDirectory(func(*Directory) bool { return true })
	assert.False(ok)

	for _, bad := range [][]int{{-1, 1, 1}, {1, 0, 1}, {1, 1, 0}} {
		_, err = New("bad", "/mnt", bad[0], bad[1], bad[2], 0)
		assert.True(blunder.Is(err, blunder.ConfigError), "%v", bad)
	}
	_, err = New("bad", "", 1, 1, 1, 0)
	assert.True(blunder.Is(err, blunder.ConfigError))
}

func TestRoundRobin(t *testing.T) {
	assert := assert.New(t)

	anchor, _ := New("a1", "/mnt/a1", 1, 2, 2, 0)
	missing := func(file *File) bool { return !file.Exists() }

	first, _, ok := anchor.NextFile(missing)
	assert.True(ok)
	second, _, ok := anchor.NextFile(missing)
	assert.True(ok)
	assert.NotEqual(first, second)

	anchor.ReleaseFile(first, true)
	assert.Equal(1, anchor.ExistingFiles())

	third, _, _ := anchor.NextFile(missing)
	fourth, _, _ := anchor.NextFile(missing)
	assert.Equal(anchor.files[2], third)
	assert.Equal(anchor.files[3], fourth)

	// Only second, third and fourth are missing and all are busy
	_, reason, ok := anchor.NextFile(missing)
	assert.False(ok)
	assert.Equal(stats.BlockFileBusy, reason)

	anchor.ReleaseFile(second, true)
	anchor.ReleaseFile(third, true)
	anchor.ReleaseFile(fourth, true)
	_, reason, ok = anchor.NextFile(missing)
	assert.False(ok)
	assert.Equal(stats.BlockNoWork, reason)
	assert.False(anchor.AnyFilesToFormat())

	anchor.ResetRoundRobin()
	existing, _, ok := anchor.NextFile(func(file *File) bool { return file.Exists() })
	assert.True(ok)
	assert.Equal(anchor.files[0], existing)
	anchor.ReleaseFile(existing, false)
	assert.Equal(3, anchor.ExistingFiles())
}

func TestDirectoryPredicates(t *testing.T) {
	assert := assert.New(t)

	anchor, _ := New("a1", "/mnt/a1", 2, 1, 1, 0)
	top := anchor.dirs[0]
	leaf := anchor.dirs[1]

	assert.True(top.ParentExists())
	assert.False(leaf.ParentExists())

	mkdirable := func(dir *Directory) bool { return !dir.Exists() && dir.ParentExists() }

	dir, _, ok := anchor.NextDirectory(mkdirable)
	assert.True(ok)
	assert.Equal(top, dir)
	_, _, ok = anchor.NextDirectory(mkdirable)
	assert.False(ok)
	anchor.ReleaseDirectory(top, true)
	assert.True(anchor.MoreDirsToFormat())

	dir, _, _ = anchor.NextDirectory(mkdirable)
	anchor.ReleaseDirectory(dir, true)
	assert.False(anchor.MoreDirsToFormat())

	file, _, _ := anchor.NextFile(func(file *File) bool { return file.DirExists() })
	anchor.ReleaseFile(file, true)

	assert.False(top.IsEmpty())
	assert.False(leaf.IsEmpty())
	anchor.NextFile(func(*File) bool { return true })
	anchor.ReleaseFile(file, false)
	assert.True(leaf.IsEmpty())

	assert.True(strings.HasPrefix(anchor.String(), "a1(/mnt/a1 depth=2 width=1 files=1 size=0 dirs=2/2 files=0/1)"))
}

func TestScan(t *testing.T) {
	assert := assert.New(t)

	root := filepath.Join(t.TempDir(), "a1")
	anchor, _ := New("a1", root, 1, 2, 1, 0)

	assert.Nil(anchor.Scan())
	assert.Equal(0, anchor.ExistingDirs())

	assert.Nil(os.Mkdir(anchor.dirs[1].Path, 0755))
	f, err := os.Create(anchor.files[1].Path)
	assert.Nil(err)
	_ = f.Close()
	assert.Nil(os.Mkdir(anchor.files[0].Path[:len(anchor.files[0].Path)-len("fwg_f0001.file")], 0755))

	assert.Nil(anchor.Scan())
	assert.Equal(2, anchor.ExistingDirs())
	assert.Equal(1, anchor.ExistingFiles())
	assert.True(anchor.files[1].Exists())
}

func TestFetchAnchors(t *testing.T) {
	assert := assert.New(t)

	confMap, err := conf.MakeConfMapFromStrings([]string{
		"FWG.AnchorList=a1,a2",
		"Anchor:a1.Path=/mnt/a1",
		"Anchor:a1.Depth=2",
		"Anchor:a1.Width=3",
		"Anchor:a1.Files=5",
		"Anchor:a1.FileSize=64k",
		"Anchor:a2.Path=/mnt/a2",
	})
	if nil != err {
		t.Fatalf("conf.MakeConfMapFromStrings() failed: %v", err)
	}

	anchors, err := FetchAnchors(confMap)
	if nil != err {
		t.Fatalf("FetchAnchors() failed: %v", err)
	}
	assert.Equal(2, len(anchors))
	assert.Equal(uint64(64000), anchors[0].FileSize)
	assert.Equal(45, anchors[0].FileCount())
	assert.Equal(defaultWidth*defaultFiles, anchors[1].FileCount())
	assert.Equal(uint64(defaultFileSize), anchors[1].FileSize)

	confMap, _ = conf.MakeConfMapFromStrings([]string{
		"FWG.AnchorList=a1,a2,a1",
		"Anchor:a1.Depth=two",
		"Anchor:a1.Files=0",
	})
	_, err = FetchAnchors(confMap)
	if !blunder.Is(err, blunder.ConfigError) {
		t.Fatalf("FetchAnchors() returned %v", err)
	}
	for _, expected := range []string{"[Anchor:a1]Path missing", "[Anchor:a2] missing", "anchor a1 listed twice"} {
		assert.Contains(err.Error(), expected)
	}
}
