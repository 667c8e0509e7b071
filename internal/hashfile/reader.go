// Copyright 2024 The logtable Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package hashfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/logtable/logtable/internal/logfile"
	"github.com/logtable/logtable/internal/mmap"
)

// uint64Slice is a read-only view into a byte array as if it was []uint64
type uint64Slice []byte

func (s uint64Slice) Get(off uint64) uint64 {
	return binary.LittleEndian.Uint64(s[off*8 : off*8+8])
}

// Reader answers point lookups against an mmap'd index file.  It is safe for
// concurrent use by multiple goroutines once opened.
type Reader struct {
	h     fileHeader
	mm    *mmap.ReaderAt
	log   *logfile.Reader
	hash  hashFunc
	slots uint64Slice
	mask  uint64
}

// NewReader memory-maps the index at path and validates it against the log
// it claims to be built from.  A fingerprint or count mismatch means the
// pairing is stale and is reported as corrupt rather than tolerated.
func NewReader(path string, log *logfile.Reader) (*Reader, error) {
	mm, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("mmap.Open(%s): %w", path, err)
	}

	if mm.Len() < fileHeaderSize {
		_ = mm.Close()
		return nil, fmt.Errorf("%w: index file too short (%d < %d)", ErrCorrupt, mm.Len(), fileHeaderSize)
	}

	data := mm.Data()
	var header fileHeader
	if err := header.UnmarshalBytes(data); err != nil {
		_ = mm.Close()
		return nil, err
	}

	if want := int64(fileHeaderSize + header.slotCount*slotSize); int64(mm.Len()) < want {
		_ = mm.Close()
		return nil, fmt.Errorf("%w: index file truncated (%d bytes, want %d)", ErrCorrupt, mm.Len(), want)
	}

	hash, err := hashFuncFor(header.hashKind)
	if err != nil {
		_ = mm.Close()
		return nil, err
	}

	if header.logFingerprint != log.Fingerprint() ||
		header.logDataEnd != uint64(log.DataEnd()) ||
		header.entryCount != log.EntryCount() ||
		header.deletedCount != log.DeletedCount() {
		_ = mm.Close()
		return nil, fmt.Errorf("%w: index was not built from this log", ErrCorrupt)
	}

	if err := unix.Madvise(data, syscall.MADV_RANDOM); err != nil {
		_ = mm.Close()
		return nil, fmt.Errorf("madvise: %s", err)
	}

	return &Reader{
		h:     header,
		mm:    mm,
		log:   log,
		hash:  hash,
		slots: uint64Slice(data[fileHeaderSize:]),
		mask:  header.slotCount - 1,
	}, nil
}

// LiveCount reports the number of keys the index holds offsets for.
func (r *Reader) LiveCount() uint64 {
	return r.h.liveCount
}

// Lookup probes for key and returns the log offset of its latest entry.
// A probe stops at the first empty slot or once it exceeds the builder's
// recorded max displacement, which proves absence.  Matching slot hashes
// are verified against the actual key bytes in the log, so a distinct key
// that happens to share a hash never yields a false positive.
func (r *Reader) Lookup(key []byte) (off uint64, ok bool, err error) {
	h := r.hash(key)
	for d := uint64(0); d <= r.h.maxDisplacement; d++ {
		i := (h + d) & r.mask
		soff := r.slots.Get(2*i + 1)
		if soff == 0 {
			return 0, false, nil
		}
		if r.slots.Get(2*i) != h {
			continue
		}
		e, err := r.log.ReadEntryAt(int64(soff))
		if err != nil {
			return 0, false, err
		}
		if bytes.Equal(e.Key, key) {
			return soff, true, nil
		}
		// same 64-bit hash, different key: keep probing
	}
	return 0, false, nil
}

// Close unmaps the index file (the paired log reader stays open; the caller
// owns it).
func (r *Reader) Close() error {
	return r.mm.Close()
}
