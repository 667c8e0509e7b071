// Copyright 2024 The logtable Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package logfile

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync/atomic"
)

// 1 tag byte plus two worst-case uvarints
const maxEntryHeaderSize = 1 + 2*binary.MaxVarintLen64

const (
	tagPut    = byte(Put)
	tagDelete = byte(Delete)
)

type nopWriter struct{}

func (nopWriter) Write([]byte) (int, error) {
	return 0, io.EOF
}

// FileWriter is usually an *os.File, but specified as an interface for easier testing.
type FileWriter interface {
	io.Writer
	io.WriterAt
}

// Writer appends put and delete entries to a log file.  It is not safe for
// concurrent use: a log file has exactly one writer for its whole life.
type Writer struct {
	f        FileWriter
	h        *fileHeader
	w        *bufio.Writer
	off      uint64
	finished atomic.Bool
}

// NewWriter starts an empty log on f, writing the initial (zero-count) header.
func NewWriter(f FileWriter) (*Writer, error) {
	w := &Writer{
		f: f,
		h: newFileHeader(),
		w: bufio.NewWriterSize(f, defaultBufferSize),
	}

	if headerLen, err := w.h.WriteTo(w.w); err != nil {
		return nil, fmt.Errorf("fileHeader.WriteTo: %w", err)
	} else {
		w.off = uint64(headerLen)
	}

	// try to expose errors when writing to the backing file early
	if err := w.w.Flush(); err != nil {
		return nil, fmt.Errorf("flush: %w", err)
	}

	return w, nil
}

// Resume continues appending to an existing, finalized log.  Bytes past the
// header's recorded data end (a torn tail from a crash mid-append) are
// discarded.
func Resume(f *os.File) (*Writer, error) {
	var headerBytes [FileHeaderSize]byte
	if _, err := f.ReadAt(headerBytes[:], 0); err != nil {
		return nil, fmt.Errorf("%w: short log file: %v", ErrCorrupt, err)
	}

	h := new(fileHeader)
	if err := h.UnmarshalBytes(headerBytes[:]); err != nil {
		return nil, err
	}

	stats, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("f.Stat: %w", err)
	}
	if uint64(stats.Size()) < h.dataEnd {
		return nil, fmt.Errorf("%w: log truncated (%d bytes, data end %d)", ErrCorrupt, stats.Size(), h.dataEnd)
	}
	if uint64(stats.Size()) > h.dataEnd {
		if err := f.Truncate(int64(h.dataEnd)); err != nil {
			return nil, fmt.Errorf("f.Truncate: %w", err)
		}
	}
	if _, err := f.Seek(int64(h.dataEnd), io.SeekStart); err != nil {
		return nil, fmt.Errorf("f.Seek: %w", err)
	}

	return &Writer{
		f:   f,
		h:   h,
		w:   bufio.NewWriterSize(f, defaultBufferSize),
		off: h.dataEnd,
	}, nil
}

func validateKey(key []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}
	if len(key) > MaxKeyLen {
		return ErrKeyTooLong
	}
	return nil
}

// AppendPut writes a PUT entry and returns its offset.
func (w *Writer) AppendPut(key, value []byte) (off uint64, err error) {
	if w.finished.Load() {
		return 0, ErrClosed
	}
	if err := validateKey(key); err != nil {
		return 0, err
	}
	if len(value) > MaxValueLen {
		return 0, ErrValueTooLong
	}

	off = w.off

	var hdr [maxEntryHeaderSize]byte
	hdr[0] = tagPut
	n := 1 + binary.PutUvarint(hdr[1:], uint64(len(key)))
	n += binary.PutUvarint(hdr[n:], uint64(len(value)))

	if err := w.append(hdr[:n], key, value); err != nil {
		return 0, err
	}

	w.h.entryCount++
	if uint64(len(key)) > w.h.maxKeyLen {
		w.h.maxKeyLen = uint64(len(key))
	}
	if uint64(len(value)) > w.h.maxValueLen {
		w.h.maxValueLen = uint64(len(value))
	}

	return off, nil
}

// AppendDelete writes a DELETE tombstone and returns its offset.  The key's
// earlier entries stay in the file; the tombstone shadows them.
func (w *Writer) AppendDelete(key []byte) (off uint64, err error) {
	if w.finished.Load() {
		return 0, ErrClosed
	}
	if err := validateKey(key); err != nil {
		return 0, err
	}

	off = w.off

	var hdr [maxEntryHeaderSize]byte
	hdr[0] = tagDelete
	n := 1 + binary.PutUvarint(hdr[1:], uint64(len(key)))

	if err := w.append(hdr[:n], key, nil); err != nil {
		return 0, err
	}

	w.h.entryCount++
	w.h.deletedCount++
	if uint64(len(key)) > w.h.maxKeyLen {
		w.h.maxKeyLen = uint64(len(key))
	}

	return off, nil
}

func (w *Writer) append(chunks ...[]byte) error {
	if w.off == 0 {
		return fmt.Errorf("invariant broken: always expect *Writer.off to be > 0")
	}
	for i, chunk := range chunks {
		if _, err := w.w.Write(chunk); err != nil {
			return fmt.Errorf("bufio.Write %d: %w", i, err)
		}
		w.off += uint64(len(chunk))
	}
	return nil
}

// EntryCount reports the number of entries appended so far, including
// entries not yet flushed.
func (w *Writer) EntryCount() uint64 {
	return w.h.entryCount
}

// Sync flushes buffered entries, patches the header so counts and data end
// are accurate, and syncs the backing file if it supports it.  The log is
// valid for readers after Sync returns; further appends may still follow.
func (w *Writer) Sync() error {
	if w.finished.Load() {
		return ErrClosed
	}

	if err := w.w.Flush(); err != nil {
		return fmt.Errorf("bufio.Flush: %w", err)
	}

	w.h.dataEnd = w.off
	if err := w.h.patch(w.f); err != nil {
		return fmt.Errorf("fileHeader.patch: %w", err)
	}

	if s, ok := w.f.(interface{ Sync() error }); ok {
		if err := s.Sync(); err != nil {
			return fmt.Errorf("f.Sync: %w", err)
		}
	}

	return nil
}

// Close finalizes the log: a final Sync, after which every append fails.
// Closing twice is an error.  Close does not close the backing file; the
// caller owns it.
func (w *Writer) Close() error {
	if w.finished.Load() {
		return ErrClosed
	}

	if err := w.Sync(); err != nil {
		return err
	}
	w.finished.Store(true)

	w.w.Reset(nopWriter{})
	w.w = nil

	return nil
}
