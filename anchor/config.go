// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package anchor

import (
	"github.com/hashicorp/go-multierror"

	"github.com/NVIDIA/fwgpace/blunder"
	"github.com/NVIDIA/fwgpace/conf"
)

const (
	defaultDepth    = 1
	defaultWidth    = 2
	defaultFiles    = 10
	defaultFileSize = 4096
)

// FetchAnchors builds every anchor named in [FWG]AnchorList from its
// [Anchor:<name>] section:
//
//   Path     - root directory (required)
//   Depth    - directory levels below the root (default 1)
//   Width    - subdirectories per directory (default 2)
//   Files    - files per deepest-level directory (default 10)
//   FileSize - bytes per file, e.g. 64k (default 4096)
func FetchAnchors(confMap conf.ConfMap) (anchors []*Anchor, err error) {
	var result *multierror.Error

	anchorList, fetchErr := confMap.FetchOptionValueStringSlice("FWG", "AnchorList")
	if nil != fetchErr {
		err = blunder.AddError(fetchErr, blunder.ConfigError)
		return
	}

	seen := make(map[string]bool)

	for _, name := range anchorList {
		if seen[name] {
			result = multierror.Append(result, blunder.NewError(blunder.ConfigError, "anchor %s listed twice", name))
			continue
		}
		seen[name] = true

		anchor, anchorErr := fetchAnchor(confMap, name)
		if nil != anchorErr {
			result = multierror.Append(result, anchorErr)
			continue
		}
		anchors = append(anchors, anchor)
	}

	if nil != result.ErrorOrNil() {
		anchors = nil
		err = blunder.AddError(result.ErrorOrNil(), blunder.ConfigError)
	}

	return
}

func fetchAnchor(confMap conf.ConfMap, name string) (anchor *Anchor, err error) {
	var result *multierror.Error

	sectionName := "Anchor:" + name

	if _, ok := confMap[sectionName]; !ok {
		err = blunder.NewError(blunder.ConfigError, "[%s] missing", sectionName)
		return
	}

	path, err := confMap.FetchOptionValueString(sectionName, "Path")
	if nil != err {
		result = multierror.Append(result, err)
	}

	fetchInt := func(optionName string, defaultValue int) int {
		if _, ok := confMap[sectionName][optionName]; !ok {
			return defaultValue
		}
		value, fetchErr := confMap.FetchOptionValueUint32(sectionName, optionName)
		if nil != fetchErr {
			result = multierror.Append(result, fetchErr)
			return defaultValue
		}
		return int(value)
	}

	depth := fetchInt("Depth", defaultDepth)
	width := fetchInt("Width", defaultWidth)
	files := fetchInt("Files", defaultFiles)

	fileSize := uint64(defaultFileSize)
	if _, ok := confMap[sectionName]["FileSize"]; ok {
		fileSize, err = confMap.FetchOptionValueBytes(sectionName, "FileSize")
		if nil != err {
			result = multierror.Append(result, err)
		}
	}

	if nil != result.ErrorOrNil() {
		err = result.ErrorOrNil()
		return
	}

	anchor, err = New(name, path, depth, width, files, fileSize)

	return
}
