// Copyright 2024 The logtable Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package logfile

import (
	"encoding/binary"
	"fmt"
	"io"
)

// fileHeader is the fixed 128-byte block at the start of every log file.
// All fields are little-endian.
type fileHeader struct {
	magic         uint32
	formatVersion uint32
	entryCount    uint64 // puts + deletes
	deletedCount  uint64
	maxKeyLen     uint64 // longest key appended so far
	maxValueLen   uint64
	dataEnd       uint64 // offset one past the last entry
}

func newFileHeader() *fileHeader {
	return &fileHeader{
		magic:         magicLogHeader,
		formatVersion: fileFormatVersion,
		dataEnd:       FileHeaderSize,
	}
}

func (h *fileHeader) marshal() [FileHeaderSize]byte {
	var buf [FileHeaderSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], h.magic)
	binary.LittleEndian.PutUint32(buf[4:8], h.formatVersion)
	binary.LittleEndian.PutUint64(buf[8:16], h.entryCount)
	binary.LittleEndian.PutUint64(buf[16:24], h.deletedCount)
	binary.LittleEndian.PutUint64(buf[24:32], h.maxKeyLen)
	binary.LittleEndian.PutUint64(buf[32:40], h.maxValueLen)
	binary.LittleEndian.PutUint64(buf[40:48], h.dataEnd)
	return buf
}

func (h *fileHeader) WriteTo(w io.Writer) (n int64, err error) {
	buf := h.marshal()
	if _, err = w.Write(buf[:]); err != nil {
		return 0, fmt.Errorf("write: %w", err)
	}
	return int64(FileHeaderSize), nil
}

// patch rewrites the whole header block in place.  Called when the log is
// finalized (counts and stats are only accurate after that).
func (h *fileHeader) patch(w io.WriterAt) error {
	buf := h.marshal()
	if _, err := w.WriteAt(buf[:], 0); err != nil {
		return fmt.Errorf("f.WriteAt: %w", err)
	}
	return nil
}

func (h *fileHeader) UnmarshalBytes(headerBytes []byte) error {
	if len(headerBytes) < FileHeaderSize {
		return fmt.Errorf("%w: header too short (%d < %d)", ErrCorrupt, len(headerBytes), FileHeaderSize)
	}
	headerBytes = headerBytes[:FileHeaderSize]

	h.magic = binary.LittleEndian.Uint32(headerBytes[0:4])
	if h.magic != magicLogHeader {
		return fmt.Errorf("%w: bad magic number (%x)", ErrCorrupt, h.magic)
	}

	h.formatVersion = binary.LittleEndian.Uint32(headerBytes[4:8])
	if h.formatVersion != fileFormatVersion {
		return fmt.Errorf("%w: can only read v%d log files; found v%d", ErrCorrupt, fileFormatVersion, h.formatVersion)
	}

	h.entryCount = binary.LittleEndian.Uint64(headerBytes[8:16])
	h.deletedCount = binary.LittleEndian.Uint64(headerBytes[16:24])
	h.maxKeyLen = binary.LittleEndian.Uint64(headerBytes[24:32])
	h.maxValueLen = binary.LittleEndian.Uint64(headerBytes[32:40])
	h.dataEnd = binary.LittleEndian.Uint64(headerBytes[40:48])

	if h.deletedCount > h.entryCount {
		return fmt.Errorf("%w: %d deletes recorded but only %d entries", ErrCorrupt, h.deletedCount, h.entryCount)
	}
	if h.dataEnd < FileHeaderSize {
		return fmt.Errorf("%w: data end %d inside the header", ErrCorrupt, h.dataEnd)
	}

	return nil
}
