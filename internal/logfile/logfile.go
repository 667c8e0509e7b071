// Copyright 2024 The logtable Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package logfile reads and writes the append-only log that records
// every put and delete in insertion order.
//
// A log file looks like:
//
//	┌───────────────────┐
//	│ file header       │
//	├───────────────────┤
//	│ repeated entries  │
//	│                   │
//	│                   │
//	└───────────────────┘
//
// The file header is a fixed 128 bytes.  Entries are variable length and
// start with a single tag byte followed by uvarint-encoded lengths:
//
//	+-----+----------+------------+---------+-----------+
//	| tag | key len  | value len  | key...  | value...  |
//	+-----+----------+------------+---------+-----------+
//
// A DELETE entry (tag 2) carries no value length and no value bytes.  Entries
// are never rewritten: a delete appends a tombstone that logically shadows
// every earlier entry for the same key.  Offsets are absolute from the start
// of the file; offset 0 always falls inside the header and is used elsewhere
// as an "empty slot" sentinel.
package logfile

import (
	"errors"
)

const (
	magicLogHeader    = uint32(0xC0DEBA5E)
	fileFormatVersion = uint32(1)

	// FileHeaderSize is the fixed size of the log file header; the first
	// entry starts at this offset.
	FileHeaderSize = 128

	// MaxKeyLen and MaxValueLen bound a single entry.  They are format
	// constants: changing them is a format version bump.
	MaxKeyLen   = 1 << 20
	MaxValueLen = 1 << 25

	defaultBufferSize = 4 * 1024 * 1024
)

var (
	ErrCorrupt      = errors.New("not a logtable log file, or corrupted")
	ErrKeyTooLong   = errors.New("key longer than MaxKeyLen")
	ErrValueTooLong = errors.New("value longer than MaxValueLen")
	ErrEmptyKey     = errors.New("empty keys not supported")
	ErrClosed       = errors.New("already closed")
)

// EntryType tags a log entry as either a put or a delete.
type EntryType uint8

const (
	Put    EntryType = 1
	Delete EntryType = 2
)

func (t EntryType) String() string {
	switch t {
	case Put:
		return "put"
	case Delete:
		return "delete"
	default:
		return "invalid"
	}
}

// Entry is a single record read back out of the log.  Key and Value point
// into the reader's mapped memory and must not be modified.
type Entry struct {
	Offset int64
	Type   EntryType
	Key    []byte
	Value  []byte
}
