// Copyright 2024 The logtable Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package hashfile builds and reads the hash index derived from a log file:
// an open-addressing table mapping key hash → latest log offset.
//
// An index file looks like:
//
//	┌───────────────────┐
//	│ file header       │
//	├───────────────────┤
//	│ fixed-size slots  │
//	│                   │
//	└───────────────────┘
//
// Each slot is 16 bytes: the key's 64-bit hash followed by the 64-bit log
// offset of that key's latest entry.  An offset of 0 marks an empty slot
// (real entries always sit past the log's 128-byte header).  Slot count is a
// power of two kept above twice the live key count, and the header records
// the maximum probe displacement so lookups can stop early.
//
// The probing scheme is linear, with backward-shift compaction on delete so
// the table never holds tombstone slots; the scheme and the hash algorithm
// are part of format version 1.
package hashfile

import (
	"fmt"
	"math/bits"

	"github.com/dgryski/go-farm"
	"github.com/orisano/wyhash"

	"github.com/logtable/logtable/internal/logfile"
)

const (
	magicIndexHeader  = uint32(0xC0DEBA51)
	fileFormatVersion = uint32(1)
	fileHeaderSize    = 128

	slotSize     = 16
	minSlotCount = 16

	defaultWriteBufferSize = 4 * 1024 * 1024

	maxSlotCount = uint64(1) << 40 // 16 TiB of slots; well past any real log
)

// ErrCorrupt is shared with the log package: a bad index/log pairing is the
// same class of failure as a bad log, and callers match on a single sentinel.
var ErrCorrupt = logfile.ErrCorrupt

// HashKind identifies the hash algorithm an index was built with.  Builder
// and reader must agree, so it is recorded in the index header.
type HashKind uint32

const (
	HashFarm64 HashKind = 1
	HashWy64   HashKind = 2
)

type hashFunc func([]byte) uint64

var hashFuncs = map[HashKind]hashFunc{
	HashFarm64: func(b []byte) uint64 { return farm.Hash64WithSeed(b, 0) },
	HashWy64:   func(b []byte) uint64 { return wyhash.Sum64(0, b) },
}

func hashFuncFor(kind HashKind) (hashFunc, error) {
	fn, ok := hashFuncs[kind]
	if !ok {
		return nil, fmt.Errorf("%w: unknown hash algorithm id %d", ErrCorrupt, kind)
	}
	return fn, nil
}

// nextPow2 returns the next highest power of two above a given number.
func nextPow2(n int64) int64 {
	return 1 << (64 - bits.LeadingZeros64(uint64(n)))
}

// slotCountFor sizes the table for the given number of live puts: the next
// power of two above twice the count, which bounds load factor under 0.5.
func slotCountFor(puts uint64) uint64 {
	n := uint64(nextPow2(int64(2 * puts)))
	if n < minSlotCount {
		n = minSlotCount
	}
	return n
}
