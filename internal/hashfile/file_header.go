// Copyright 2024 The logtable Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package hashfile

import (
	"encoding/binary"
	"fmt"
)

// fileHeader is the fixed 128-byte block at the start of every index file.
// The counts mirrored from the log plus the fingerprint pin this index to
// the exact log it was built from.
type fileHeader struct {
	magic           uint32
	formatVersion   uint32
	hashKind        HashKind
	slotCount       uint64 // power of two
	maxDisplacement uint64 // longest probe sequence the builder produced
	liveCount       uint64 // occupied slots
	entryCount      uint64 // mirrored from the log header
	deletedCount    uint64 // mirrored from the log header
	logFingerprint  uint64
	logDataEnd      uint64 // mirrored from the log header
}

func (h *fileHeader) marshal() [fileHeaderSize]byte {
	var buf [fileHeaderSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], h.magic)
	binary.LittleEndian.PutUint32(buf[4:8], h.formatVersion)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(h.hashKind))
	binary.LittleEndian.PutUint64(buf[16:24], h.slotCount)
	binary.LittleEndian.PutUint64(buf[24:32], h.maxDisplacement)
	binary.LittleEndian.PutUint64(buf[32:40], h.liveCount)
	binary.LittleEndian.PutUint64(buf[40:48], h.entryCount)
	binary.LittleEndian.PutUint64(buf[48:56], h.deletedCount)
	binary.LittleEndian.PutUint64(buf[56:64], h.logFingerprint)
	binary.LittleEndian.PutUint64(buf[64:72], h.logDataEnd)
	return buf
}

func (h *fileHeader) UnmarshalBytes(headerBytes []byte) error {
	if len(headerBytes) < fileHeaderSize {
		return fmt.Errorf("%w: index header too short (%d < %d)", ErrCorrupt, len(headerBytes), fileHeaderSize)
	}
	headerBytes = headerBytes[:fileHeaderSize]

	h.magic = binary.LittleEndian.Uint32(headerBytes[0:4])
	if h.magic != magicIndexHeader {
		return fmt.Errorf("%w: bad magic number on index file (%x)", ErrCorrupt, h.magic)
	}

	h.formatVersion = binary.LittleEndian.Uint32(headerBytes[4:8])
	if h.formatVersion != fileFormatVersion {
		return fmt.Errorf("%w: can only read v%d index files; found v%d", ErrCorrupt, fileFormatVersion, h.formatVersion)
	}

	h.hashKind = HashKind(binary.LittleEndian.Uint32(headerBytes[8:12]))
	h.slotCount = binary.LittleEndian.Uint64(headerBytes[16:24])
	h.maxDisplacement = binary.LittleEndian.Uint64(headerBytes[24:32])
	h.liveCount = binary.LittleEndian.Uint64(headerBytes[32:40])
	h.entryCount = binary.LittleEndian.Uint64(headerBytes[40:48])
	h.deletedCount = binary.LittleEndian.Uint64(headerBytes[48:56])
	h.logFingerprint = binary.LittleEndian.Uint64(headerBytes[56:64])
	h.logDataEnd = binary.LittleEndian.Uint64(headerBytes[64:72])

	if h.slotCount < minSlotCount || h.slotCount > maxSlotCount || h.slotCount&(h.slotCount-1) != 0 {
		return fmt.Errorf("%w: bad slot count %d", ErrCorrupt, h.slotCount)
	}
	if h.liveCount > h.slotCount {
		return fmt.Errorf("%w: %d live keys in a %d-slot table", ErrCorrupt, h.liveCount, h.slotCount)
	}
	if h.maxDisplacement >= h.slotCount {
		return fmt.Errorf("%w: max displacement %d not below slot count %d", ErrCorrupt, h.maxDisplacement, h.slotCount)
	}

	return nil
}
