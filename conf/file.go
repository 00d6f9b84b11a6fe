// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package conf

import (
	"bufio"
	"bytes"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v2"
)

const leftBracket = "(\\[)"
const rightBracket = "(\\])"
const whiteSpace = "([ \t]+)"

// A .INI/.conf file to load typically looks like:
//
//   [<section_name_1>]
//   <option_name_0> :
//   <option_name_1> = <value_1>
//   <option_name_2> : <value_2> <value_3>
//
//   # A comment on it's own line starting with '#'
//   ; A comment on it's own line starting with ';'
//
//   [<section_name_2>]          ; A comment at the end of a line starting with ';'
//   <option_name_3> : <value_4> # A comment at the end of a line starting with '#'
//
//   .include <included .INI/.conf path>

var sectionHeaderLineRE = regexp.MustCompile("\\A" + leftBracket + token + rightBracket + "\\z")
var optionLineRE = regexp.MustCompile("\\A" + token + assignment + "(" + token + "(" + separator + token + ")*)?\\z")
var includeLineRE = regexp.MustCompile("\\A\\.include" + whiteSpace + token + "\\z")
var includeFilePathSeparatorRE = regexp.MustCompile(whiteSpace)

// UpdateFromFile modifies a pre-existing ConfMap based on updates specified in confFilePath
//
// A confFilePath of "-" reads from stdin.
func (confMap ConfMap) UpdateFromFile(confFilePath string) (err error) {
	var (
		confFileBytes      []byte
		currentLineNumber  int
		currentSectionName string
	)

	if "-" == confFilePath {
		confFileBytes, err = ioutil.ReadAll(os.Stdin)
	} else {
		confFileBytes, err = ioutil.ReadFile(confFilePath)
	}
	if nil != err {
		return
	}

	if !utf8.Valid(confFileBytes) {
		err = fmt.Errorf("file %v contained invalid UTF-8", confFilePath)
		return
	}
	if (0 < len(confFileBytes)) && ('\n' != confFileBytes[len(confFileBytes)-1]) {
		err = fmt.Errorf("file %v did not end in a '\\n' character", confFilePath)
		return
	}

	scanner := bufio.NewScanner(bytes.NewReader(confFileBytes))

	for scanner.Scan() {
		currentLineNumber++

		currentLine := scanner.Text()
		currentLine = strings.SplitN(currentLine, ";", 2)[0]
		currentLine = strings.SplitN(currentLine, "#", 2)[0]
		currentLine = strings.Trim(currentLine, " \t")

		if 0 == len(currentLine) {
			continue
		}

		switch {
		case includeLineRE.MatchString(currentLine):
			nestedConfFilePath := includeFilePathSeparatorRE.Split(currentLine, 2)[1]

			if !filepath.IsAbs(nestedConfFilePath) && ("-" != confFilePath) {
				absConfFilePath, absErr := filepath.Abs(confFilePath)
				if nil != absErr {
					err = absErr
					return
				}
				nestedConfFilePath = filepath.Join(filepath.Dir(absConfFilePath), nestedConfFilePath)
			}

			err = confMap.UpdateFromFile(nestedConfFilePath)
			if nil != err {
				return
			}

			// an include ends the current section
			currentSectionName = ""
		case sectionHeaderLineRE.MatchString(currentLine):
			currentSectionName = strings.TrimSuffix(strings.TrimPrefix(currentLine, "["), "]")
		default:
			if "" == currentSectionName {
				err = fmt.Errorf("file %v line %v: option outside of any section", confFilePath, currentLineNumber)
				return
			}
			if !optionLineRE.MatchString(currentLine) {
				err = fmt.Errorf("file %v line %v: malformed line '%v'", confFilePath, currentLineNumber, currentLine)
				return
			}

			optionNameOptionValues := optionNameOptionValuesSeparatorRE.Split(currentLine, 2)

			confMap.setOption(currentSectionName, optionNameOptionValues[0], splitOptionValues(optionNameOptionValues[1]))
		}
	}

	err = scanner.Err()
	return
}

// UpdateFromYAMLFile modifies a pre-existing ConfMap based on updates specified in
// the YAML file at confFilePath. The document is a mapping of section names to
// mappings of option names; each option value is either a scalar or a sequence of scalars:
//
//   Pacing:
//     Rate: 1000
//     Bursts: [100, 5, 50, 5]
//   Workload:fwd1:
//     Operation: read
func (confMap ConfMap) UpdateFromYAMLFile(confFilePath string) (err error) {
	var (
		confFileBytes []byte
		document      map[string]map[string]interface{}
	)

	confFileBytes, err = ioutil.ReadFile(confFilePath)
	if nil != err {
		return
	}

	err = yaml.Unmarshal(confFileBytes, &document)
	if nil != err {
		err = fmt.Errorf("file %v yaml.Unmarshal() failed: %v", confFilePath, err)
		return
	}

	for sectionName, options := range document {
		if strings.Contains(sectionName, ".") {
			err = fmt.Errorf("file %v section name %q must not contain '.'", confFilePath, sectionName)
			return
		}
		if 0 == len(options) {
			if _, found := confMap[sectionName]; !found {
				confMap[sectionName] = make(ConfMapSection)
			}
			continue
		}
		for optionName, value := range options {
			var optionValues []string

			optionValues, err = yamlOptionValues(value)
			if nil != err {
				err = fmt.Errorf("file %v [%v]%v: %v", confFilePath, sectionName, optionName, err)
				return
			}

			confMap.setOption(sectionName, optionName, optionValues)
		}
	}

	err = nil
	return
}

func yamlOptionValues(value interface{}) (optionValues []string, err error) {
	switch v := value.(type) {
	case nil:
		optionValues = []string{}
	case []interface{}:
		optionValues = make([]string, 0, len(v))
		for _, element := range v {
			switch element.(type) {
			case []interface{}, map[interface{}]interface{}:
				err = fmt.Errorf("nested value %v not supported", element)
				return
			}
			optionValues = append(optionValues, fmt.Sprint(element))
		}
	case map[interface{}]interface{}:
		err = fmt.Errorf("mapping value %v not supported", v)
	default:
		optionValues = []string{fmt.Sprint(v)}
	}
	return
}

// Dump returns the ConfMap in .INI/.conf form with sections and options sorted by name
func (confMap ConfMap) Dump() string {
	var buf strings.Builder

	sectionNames := make([]string, 0, len(confMap))
	for sectionName := range confMap {
		sectionNames = append(sectionNames, sectionName)
	}
	sort.Strings(sectionNames)

	for i, sectionName := range sectionNames {
		if 0 < i {
			buf.WriteString("\n")
		}
		fmt.Fprintf(&buf, "[%v]\n", sectionName)

		section := confMap[sectionName]
		optionNames := make([]string, 0, len(section))
		for optionName := range section {
			optionNames = append(optionNames, optionName)
		}
		sort.Strings(optionNames)

		for _, optionName := range optionNames {
			fmt.Fprintf(&buf, "%v: %v\n", optionName, strings.Join(section[optionName], ", "))
		}
	}

	return buf.String()
}
