// Copyright 2024 The logtable Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package logfile

import (
	"encoding/binary"
	"fmt"
	"syscall"

	"github.com/dgryski/go-farm"
	"golang.org/x/sys/unix"

	"github.com/logtable/logtable/internal/mmap"
)

// Reader is a read-only, memory-mapped view of a finalized log file.  It is
// safe for concurrent use by multiple goroutines.
type Reader struct {
	h    fileHeader
	mmap *mmap.ReaderAt
}

// NewReader memory-maps the log at path and validates its header.  A log
// whose file is shorter than the header's recorded data end (for example,
// truncated after finalization) is rejected as corrupt.
func NewReader(path string) (*Reader, error) {
	m, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("mmap.Open(%s): %w", path, err)
	}

	if m.Len() < FileHeaderSize {
		_ = m.Close()
		return nil, fmt.Errorf("%w: log file too short (%d < %d)", ErrCorrupt, m.Len(), FileHeaderSize)
	}

	data := m.Data()
	if err := unix.Madvise(data, syscall.MADV_RANDOM); err != nil {
		_ = m.Close()
		return nil, fmt.Errorf("madvise: %s", err)
	}

	var header fileHeader
	if err := header.UnmarshalBytes(data); err != nil {
		_ = m.Close()
		return nil, err
	}

	if header.dataEnd > uint64(m.Len()) {
		_ = m.Close()
		return nil, fmt.Errorf("%w: log truncated (%d bytes, data end %d)", ErrCorrupt, m.Len(), header.dataEnd)
	}

	return &Reader{
		h:    header,
		mmap: m,
	}, nil
}

// EntryCount reports the total number of entries (puts + deletes) in the log.
func (r *Reader) EntryCount() uint64 {
	return r.h.entryCount
}

// DeletedCount reports the number of DELETE entries in the log.
func (r *Reader) DeletedCount() uint64 {
	return r.h.deletedCount
}

// MaxKeyLen reports the longest key ever appended to this log.
func (r *Reader) MaxKeyLen() uint64 {
	return r.h.maxKeyLen
}

// MaxValueLen reports the longest value ever appended to this log.
func (r *Reader) MaxValueLen() uint64 {
	return r.h.maxValueLen
}

// DataEnd reports the offset one past the last entry.
func (r *Reader) DataEnd() int64 {
	return int64(r.h.dataEnd)
}

// Fingerprint identifies the exact finalized log: a hash over the header
// block, which covers the counts, length stats and data end.  An index file
// records it so a stale or mismatched pairing is detected at open time.
func (r *Reader) Fingerprint() uint64 {
	return farm.Hash64(r.mmap.Data()[:FileHeaderSize])
}

// ReadEntryAt decodes the entry starting at off.  The returned Entry's Key
// and Value alias the mapped file.
func (r *Reader) ReadEntryAt(off int64) (Entry, error) {
	e, _, err := r.readEntry(off)
	return e, err
}

func (r *Reader) readEntry(off int64) (e Entry, next int64, err error) {
	dataEnd := int64(r.h.dataEnd)
	if off < FileHeaderSize || off >= dataEnd {
		return Entry{}, 0, fmt.Errorf("%w: entry offset %d out of range [%d, %d)", ErrCorrupt, off, FileHeaderSize, dataEnd)
	}

	m := r.mmap.Data()[:dataEnd]
	tag := m[off]
	if tag != tagPut && tag != tagDelete {
		return Entry{}, 0, fmt.Errorf("%w: unknown entry tag %d at offset %d", ErrCorrupt, tag, off)
	}

	p := off + 1
	keyLen, n := binary.Uvarint(m[p:])
	if n <= 0 || keyLen == 0 || keyLen > MaxKeyLen {
		return Entry{}, 0, fmt.Errorf("%w: bad key length at offset %d", ErrCorrupt, off)
	}
	p += int64(n)

	var valueLen uint64
	if tag == tagPut {
		valueLen, n = binary.Uvarint(m[p:])
		if n <= 0 || valueLen > MaxValueLen {
			return Entry{}, 0, fmt.Errorf("%w: bad value length at offset %d", ErrCorrupt, off)
		}
		p += int64(n)
	}

	if p+int64(keyLen)+int64(valueLen) > dataEnd {
		return Entry{}, 0, fmt.Errorf("%w: entry at offset %d runs past data end (%d)", ErrCorrupt, off, dataEnd)
	}

	e = Entry{
		Offset: off,
		Type:   EntryType(tag),
		Key:    m[p : p+int64(keyLen)],
	}
	p += int64(keyLen)
	if tag == tagPut {
		e.Value = m[p : p+int64(valueLen)]
		p += int64(valueLen)
	}

	return e, p, nil
}

// Iter returns a fresh iterator positioned at the first entry.  Iterators
// are independent: calling Iter again re-scans from the start.
func (r *Reader) Iter() *Iter {
	return &Iter{r: r}
}

// Close unmaps the log.  Entries handed out by this reader must not be used
// after Close.
func (r *Reader) Close() error {
	return r.mmap.Close()
}

// Iter is a lazy scan over all entries, in insertion order.  It is finite
// (bounded by the header's entry count) and not safe for concurrent use;
// each goroutine should obtain its own from Reader.Iter.
type Iter struct {
	r     *Reader
	off   int64
	count uint64
	err   error
}

// Next returns the next entry.  When it returns false, check Err: iteration
// ends either at the recorded entry count or on corrupt data.
func (it *Iter) Next() (Entry, bool) {
	if it.err != nil {
		return Entry{}, false
	}
	if it.off == 0 {
		it.off = FileHeaderSize
	}

	if it.count >= it.r.h.entryCount {
		if it.off != it.r.DataEnd() {
			it.err = fmt.Errorf("%w: %d entries ended at offset %d, expected %d", ErrCorrupt, it.count, it.off, it.r.DataEnd())
		}
		return Entry{}, false
	}
	if it.off >= it.r.DataEnd() {
		it.err = fmt.Errorf("%w: log ended after %d of %d entries", ErrCorrupt, it.count, it.r.h.entryCount)
		return Entry{}, false
	}

	e, next, err := it.r.readEntry(it.off)
	if err != nil {
		it.err = err
		return Entry{}, false
	}

	it.off = next
	it.count++
	return e, true
}

// Err reports the first corruption or decode error hit by Next.
func (it *Iter) Err() error {
	return it.err
}
