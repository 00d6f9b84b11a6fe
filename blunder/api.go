// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package blunder provides error-handling wrappers
//
// These wrappers allow callers to classify errors with an errno-style value while
// still using a third-party errors package for stack capture and annotation.
//
// This package is currently implemented on top of the ansel1/merry package:
//   https://github.com/ansel1/merry
//
//   merry comes with built-in support for adding information to errors:
//    - stacktraces
//    - overriding the error message
//    - HTTP status codes
//    - end user error messages
//    - your own additional information
//
// The errno value is attached as the "errno" merry value. The workload entry the
// error belongs to, if any, is attached as the "entry" merry value.
package blunder

import (
	"errors"
	"fmt"

	"github.com/ansel1/merry"
	"golang.org/x/sys/unix"

	"github.com/NVIDIA/fwgpace/logger"
)

// FwgError is the classification attached to an error.
type FwgError int

// The errors a run can report, expressed as the closest unix errno.
const (
	ConfigError       FwgError = FwgError(int(unix.EINVAL))    // run configuration rejected
	ClockAnomalyError FwgError = FwgError(int(unix.ERANGE))    // monotonic clock went backwards beyond tolerance
	StallError        FwgError = FwgError(int(unix.ETIMEDOUT)) // worker made no progress for too long
	ShutdownError     FwgError = FwgError(int(unix.ECANCELED)) // run was shut down before completion
	NotFoundError     FwgError = FwgError(int(unix.ENOENT))    // No such file or directory
	FileExistsError   FwgError = FwgError(int(unix.EEXIST))    // File exists
	NotEmptyError     FwgError = FwgError(int(unix.ENOTEMPTY)) // Directory not empty
	NoSpaceError      FwgError = FwgError(int(unix.ENOSPC))    // No space left on device
	IOError           FwgError = FwgError(int(unix.EIO))       // I/O error
	PermDeniedError   FwgError = FwgError(int(unix.EACCES))    // Permission denied
)

const SuccessError FwgError = 0

const successErrno = 0
const failureErrno = -1

const (
	errnoKey = "errno"
	entryKey = "entry"
)

// Value returns the int value for the specified FwgError constant
func (err FwgError) Value() int {
	return int(err)
}

func (err FwgError) String() string {
	switch err {
	case SuccessError:
		return "success"
	case ConfigError:
		return "config"
	case ClockAnomalyError:
		return "clock-anomaly"
	case StallError:
		return "stall"
	case ShutdownError:
		return "shutdown"
	case NotFoundError:
		return "not-found"
	case FileExistsError:
		return "file-exists"
	case NotEmptyError:
		return "not-empty"
	case NoSpaceError:
		return "no-space"
	case IOError:
		return "io"
	case PermDeniedError:
		return "permission-denied"
	}
	return fmt.Sprintf("errno-%d", int(err))
}

// NewError creates a new merry/blunder.FwgError-annotated error using the given
// format string and arguments.
func NewError(errValue FwgError, format string, a ...interface{}) error {
	return merry.WrapSkipping(fmt.Errorf(format, a...), 1).WithValue(errnoKey, int(errValue))
}

// NewEntryError is NewError that also records the workload entry name.
func NewEntryError(errValue FwgError, entryName string, format string, a ...interface{}) error {
	return merry.WrapSkipping(fmt.Errorf(format, a...), 1).WithValue(errnoKey, int(errValue)).WithValue(entryKey, entryName)
}

// AddError is used to add FWG error detail to a Go error.
//
// NOTE: Because this function adds detail to the input error, it is only useful
//       if the caller uses the return value instead of the original error.
func AddError(e error, errValue FwgError) error {
	if e == nil {
		return merry.New("regular error").WithValue(errnoKey, int(errValue))
	}

	prevValue := Errno(e)
	if prevValue != successErrno && prevValue != failureErrno && prevValue != int(errValue) {
		logger.Warnf("replacing error value %v with value %v for error %v.", prevValue, int(errValue), e)
	}

	return merry.WrapSkipping(e, 1).WithValue(errnoKey, int(errValue))
}

// FromUnix classifies an error returned by a file system call. Errors already
// carrying an errno keep it; unix.Errno values map to themselves; all else is IOError.
func FromUnix(e error) error {
	if nil == e {
		return nil
	}
	if nil != merry.Value(e, errnoKey) {
		return e
	}

	errno := IOError
	var unixErrno unix.Errno
	if errors.As(e, &unixErrno) {
		errno = FwgError(int(unixErrno))
	}

	return merry.WrapSkipping(e, 1).WithValue(errnoKey, int(errno))
}

// Errno extracts errno from the error, if it was previously wrapped.
// Otherwise a default value is returned.
func Errno(e error) int {
	if e == nil {
		return successErrno
	}

	var errno = failureErrno
	tmp := merry.Value(e, errnoKey)
	if tmp != nil {
		errno = tmp.(int)
	}

	return errno
}

// Entry extracts the workload entry name from the error, or "" if none was recorded.
func Entry(e error) string {
	if e == nil {
		return ""
	}
	tmp := merry.Value(e, entryKey)
	if tmp == nil {
		return ""
	}
	return tmp.(string)
}

// ErrorString returns the error text with its errno value appended, if it has one.
func ErrorString(e error) string {
	if e == nil {
		return ""
	}

	errPlusVal := e.Error()

	tmp := merry.Value(e, errnoKey)
	if tmp != nil {
		errPlusVal = fmt.Sprintf("%s. Error Value: %v", errPlusVal, FwgError(tmp.(int)))
	}

	return errPlusVal
}

// Is checks if an error matches a particular FwgError
func Is(e error, theError FwgError) bool {
	return Errno(e) == theError.Value()
}

// IsNot checks if an error does not match a particular FwgError
func IsNot(e error, theError FwgError) bool {
	return Errno(e) != theError.Value()
}

// IsSuccess checks if an error is nil or has been annotated as success
func IsSuccess(e error) bool {
	return Errno(e) == successErrno
}

// IsNotSuccess checks if an error carries a failure
func IsNotSuccess(e error) bool {
	return Errno(e) != successErrno
}

// Location returns the file and line where the error was created or wrapped
func Location(e error) (file string, line int) {
	file, line = merry.Location(e)
	return
}

// SourceLine returns "file:line" for the error
func SourceLine(e error) string {
	return merry.SourceLine(e)
}

// Details returns the error text followed by its stacktrace
func Details(e error) string {
	return merry.Details(e)
}

// Stacktrace returns the stacktrace captured with the error
func Stacktrace(e error) string {
	return merry.Stacktrace(e)
}
