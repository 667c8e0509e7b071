// Copyright 2024 The logtable Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package mmap provides a read-only memory-mapped view of a file.
package mmap

import (
	"fmt"
	"os"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// ReaderAt is an immutable, memory-mapped file.  It is safe for
// concurrent use by multiple goroutines.
type ReaderAt struct {
	data     []byte
	isClosed atomic.Bool
}

// Open memory-maps the file at path for reading.
func Open(path string) (*ReaderAt, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("os.Open(%s): %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()

	stats, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("f.Stat: %w", err)
	}

	size := stats.Size()
	if size == 0 {
		// mmap of a zero-length region is an error on Linux
		return &ReaderAt{}, nil
	}
	if size != int64(int(size)) {
		return nil, fmt.Errorf("file %s too large to map (%d bytes)", path, size)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("unix.Mmap(%s): %w", path, err)
	}

	return &ReaderAt{data: data}, nil
}

// Data returns the mapped contents of the file.
// SAFETY: the returned byte slice must never be written to, only read.
func (r *ReaderAt) Data() []byte {
	return r.data
}

// Len returns the length of the underlying mapped region.
func (r *ReaderAt) Len() int {
	return len(r.data)
}

// Close unmaps the region; the mapping must not be used after.
func (r *ReaderAt) Close() error {
	if r.isClosed.Swap(true) {
		return nil
	}
	data := r.data
	r.data = nil
	if data == nil {
		return nil
	}
	return unix.Munmap(data)
}
