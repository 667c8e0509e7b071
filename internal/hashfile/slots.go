// Copyright 2024 The logtable Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package hashfile

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/logtable/logtable/internal/zero"
)

// slotArray is the mutable table the builder populates.  Two implementations:
// an in-memory one (fast, table lives on the heap) and a file-backed one for
// builds where even the slot array is too big to hold in memory.
type slotArray interface {
	Len() uint64
	Get(i uint64) (hash, off uint64, err error)
	Set(i uint64, hash, off uint64) error
	Clear(i uint64) error
}

type memSlots struct {
	// hash and offset interleaved, 2 words per slot
	vals []uint64
}

func newMemSlots(slotCount uint64) *memSlots {
	return &memSlots{vals: make([]uint64, 2*slotCount)}
}

func (s *memSlots) Len() uint64 {
	return uint64(len(s.vals) / 2)
}

func (s *memSlots) Get(i uint64) (hash, off uint64, err error) {
	return s.vals[2*i], s.vals[2*i+1], nil
}

func (s *memSlots) Set(i uint64, hash, off uint64) error {
	s.vals[2*i] = hash
	s.vals[2*i+1] = off
	return nil
}

func (s *memSlots) Clear(i uint64) error {
	s.vals[2*i] = 0
	s.vals[2*i+1] = 0
	return nil
}

// fileSlots keeps the table in a scratch file, one on-disk slot per table
// slot, accessed with ReadAt/WriteAt through a single reused buffer.
type fileSlots struct {
	f         *os.File
	slotCount uint64
	buf       [slotSize]byte
}

func newFileSlots(f *os.File, slotCount uint64) (*fileSlots, error) {
	if err := f.Truncate(0); err != nil {
		return nil, fmt.Errorf("f.Truncate: %w", err)
	}
	// sparse where the filesystem allows; reads of never-written slots
	// come back zero, which is exactly the empty sentinel
	if err := f.Truncate(int64(slotCount * slotSize)); err != nil {
		return nil, fmt.Errorf("f.Truncate: %w", err)
	}
	return &fileSlots{
		f:         f,
		slotCount: slotCount,
	}, nil
}

func (s *fileSlots) Len() uint64 {
	return s.slotCount
}

func (s *fileSlots) Get(i uint64) (hash, off uint64, err error) {
	if _, err := s.f.ReadAt(s.buf[:], int64(i*slotSize)); err != nil {
		return 0, 0, fmt.Errorf("f.ReadAt: %w", err)
	}
	hash = binary.LittleEndian.Uint64(s.buf[0:8])
	off = binary.LittleEndian.Uint64(s.buf[8:16])
	return hash, off, nil
}

func (s *fileSlots) Set(i uint64, hash, off uint64) error {
	binary.LittleEndian.PutUint64(s.buf[0:8], hash)
	binary.LittleEndian.PutUint64(s.buf[8:16], off)
	if _, err := s.f.WriteAt(s.buf[:], int64(i*slotSize)); err != nil {
		return fmt.Errorf("f.WriteAt: %w", err)
	}
	return nil
}

func (s *fileSlots) Clear(i uint64) error {
	zero.Bytes(s.buf[:])
	if _, err := s.f.WriteAt(s.buf[:], int64(i*slotSize)); err != nil {
		return fmt.Errorf("f.WriteAt: %w", err)
	}
	return nil
}
