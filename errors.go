// Copyright 2024 The logtable Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package logtable

import (
	"github.com/logtable/logtable/internal/logfile"
)

// The error taxonomy, re-exported from the packages that produce the errors
// so callers can errors.Is against a single surface.  Anything else coming
// out of this package wraps an underlying filesystem error.
var (
	// ErrCorrupt covers malformed headers, entries running past the end
	// of the file, and index/log fingerprint mismatches.  It is never
	// silently recovered from.
	ErrCorrupt = logfile.ErrCorrupt

	// ErrKeyTooLong, ErrValueTooLong and ErrEmptyKey reject arguments
	// before any I/O happens.
	ErrKeyTooLong   = logfile.ErrKeyTooLong
	ErrValueTooLong = logfile.ErrValueTooLong
	ErrEmptyKey     = logfile.ErrEmptyKey

	// ErrClosed reports an operation against a Writer or Reader whose
	// lifecycle is over: a contract violation, not a storage failure.
	ErrClosed = logfile.ErrClosed
)

// MaxKeyLen and MaxValueLen bound a single entry; they are format constants.
const (
	MaxKeyLen   = logfile.MaxKeyLen
	MaxValueLen = logfile.MaxValueLen
)
