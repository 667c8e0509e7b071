// Copyright 2024 The logtable Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package hashfile

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/logtable/logtable/internal/logfile"
)

// BuildType selects where the slot array lives while the table is populated.
type BuildType int

const (
	// BuildInMemory holds the slot array on the heap: 16 bytes per slot.
	BuildInMemory BuildType = iota
	// BuildOnDisk keeps the slot array in a scratch file next to the
	// output, for logs whose table would not fit in memory.
	BuildOnDisk
)

// BuildOption configures an index build.
type BuildOption func(*buildOptions)

type buildOptions struct {
	hashKind  HashKind
	buildType BuildType
	logger    *slog.Logger
}

// WithHash selects the hash algorithm recorded in the index header.
func WithHash(kind HashKind) BuildOption {
	return func(opts *buildOptions) {
		opts.hashKind = kind
	}
}

// WithBuildType selects between the in-memory and file-backed slot array.
func WithBuildType(t BuildType) BuildOption {
	return func(opts *buildOptions) {
		opts.buildType = t
	}
}

// WithLogger sets an optional logger for build progress updates.  If not
// provided, no logging output will be produced.
func WithLogger(logger *slog.Logger) BuildOption {
	return func(opts *buildOptions) {
		opts.logger = logger
	}
}

// builder carries the state for one population pass.
type builder struct {
	slots    slotArray
	log      *logfile.Reader
	hash     hashFunc
	hashKind HashKind
	maxDisp  uint64
	live     uint64
}

// Build scans the finalized log twice — once to validate counts and size the
// table, once to populate it in log order — and writes a complete index file
// to f.  f is typically a temp file the caller renames into place afterwards,
// so a failed build never clobbers an existing index.
func Build(f *os.File, log *logfile.Reader, opts ...BuildOption) error {
	options := buildOptions{
		hashKind:  HashFarm64,
		buildType: BuildInMemory,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&options)
	}

	hash, err := hashFuncFor(options.hashKind)
	if err != nil {
		return err
	}

	// pass 1: recount entries; the header must agree with the bytes
	var puts, dels uint64
	it := log.Iter()
	for e, ok := it.Next(); ok; e, ok = it.Next() {
		if e.Type == logfile.Put {
			puts++
		} else {
			dels++
		}
	}
	if err := it.Err(); err != nil {
		return err
	}
	if puts+dels != log.EntryCount() || dels != log.DeletedCount() {
		return fmt.Errorf("%w: header says %d entries (%d deleted), log holds %d (%d deleted)",
			ErrCorrupt, log.EntryCount(), log.DeletedCount(), puts+dels, dels)
	}

	slotCount := slotCountFor(puts)
	options.logger.Info("sized hash table", "slots", slotCount, "entries", puts+dels, "deletes", dels)

	b := &builder{
		log:      log,
		hash:     hash,
		hashKind: options.hashKind,
	}
	switch options.buildType {
	case BuildInMemory:
		b.slots = newMemSlots(slotCount)
	case BuildOnDisk:
		scratch, err := os.CreateTemp(filepath.Dir(f.Name()), "logtable-build.*.slots")
		if err != nil {
			return fmt.Errorf("os.CreateTemp: %w", err)
		}
		defer func() {
			_ = scratch.Close()
			_ = os.Remove(scratch.Name())
		}()
		if b.slots, err = newFileSlots(scratch, slotCount); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown BuildType %d", options.buildType)
	}

	// pass 2: populate in log order, so later entries win
	it = log.Iter()
	for e, ok := it.Next(); ok; e, ok = it.Next() {
		h := b.hash(e.Key)
		if e.Type == logfile.Put {
			err = b.insert(h, e.Key, uint64(e.Offset))
		} else {
			err = b.remove(h, e.Key)
		}
		if err != nil {
			return err
		}
	}
	if err := it.Err(); err != nil {
		return err
	}

	options.logger.Info("populated hash table", "live", b.live, "maxDisplacement", b.maxDisp)

	return b.writeTo(f)
}

// insert probes linearly from the hash's home slot.  If the key is already
// present its slot is overwritten in place (the log is scanned in order, so
// the newer offset is authoritative); otherwise the entry lands in the first
// empty slot and the probe displacement is tracked.
func (b *builder) insert(h uint64, key []byte, off uint64) error {
	n := b.slots.Len()
	mask := n - 1
	for d := uint64(0); d < n; d++ {
		i := (h + d) & mask
		sh, soff, err := b.slots.Get(i)
		if err != nil {
			return err
		}
		if soff == 0 {
			if err := b.slots.Set(i, h, off); err != nil {
				return err
			}
			b.live++
			if d > b.maxDisp {
				b.maxDisp = d
			}
			return nil
		}
		if sh == h {
			prev, err := b.log.ReadEntryAt(int64(soff))
			if err != nil {
				return err
			}
			if bytes.Equal(prev.Key, key) {
				// same key written again: newest offset wins
				return b.slots.Set(i, h, off)
			}
			// full-hash collision between distinct keys: keep probing
		}
	}
	return fmt.Errorf("%w: hash table overflowed (%d slots)", ErrCorrupt, n)
}

// remove clears the key's slot, then compacts the cluster with a backward
// shift so probe sequences stay unbroken without tombstone slots.  Deleting
// a key that was never put (or already deleted) is a no-op.
func (b *builder) remove(h uint64, key []byte) error {
	n := b.slots.Len()
	mask := n - 1
	for d := uint64(0); d < n; d++ {
		i := (h + d) & mask
		sh, soff, err := b.slots.Get(i)
		if err != nil {
			return err
		}
		if soff == 0 {
			return nil
		}
		if sh == h {
			prev, err := b.log.ReadEntryAt(int64(soff))
			if err != nil {
				return err
			}
			if bytes.Equal(prev.Key, key) {
				b.live--
				return b.backwardShift(i)
			}
		}
	}
	return nil
}

// backwardShift fills the hole at slot i by sliding back every entry in the
// cluster that is allowed to move closer to (or onto) the hole without
// passing its home slot.
func (b *builder) backwardShift(hole uint64) error {
	n := b.slots.Len()
	mask := n - 1
	i := hole
	for d := uint64(1); d < n; d++ {
		j := (hole + d) & mask
		sh, soff, err := b.slots.Get(j)
		if err != nil {
			return err
		}
		if soff == 0 {
			break
		}
		home := sh & mask
		if ((j - home) & mask) >= ((j - i) & mask) {
			if err := b.slots.Set(i, sh, soff); err != nil {
				return err
			}
			i = j
		}
	}
	return b.slots.Clear(i)
}

// writeTo emits the header followed by the slot array.
func (b *builder) writeTo(f *os.File) error {
	h := fileHeader{
		magic:           magicIndexHeader,
		formatVersion:   fileFormatVersion,
		hashKind:        b.hashKind,
		slotCount:       b.slots.Len(),
		maxDisplacement: b.maxDisp,
		liveCount:       b.live,
		entryCount:      b.log.EntryCount(),
		deletedCount:    b.log.DeletedCount(),
		logFingerprint:  b.log.Fingerprint(),
		logDataEnd:      uint64(b.log.DataEnd()),
	}

	bw := bufio.NewWriterSize(f, defaultWriteBufferSize)

	headerBuf := h.marshal()
	if _, err := bw.Write(headerBuf[:]); err != nil {
		return fmt.Errorf("bufio.Write: %w", err)
	}

	var slotBuf [slotSize]byte
	for i := uint64(0); i < b.slots.Len(); i++ {
		sh, soff, err := b.slots.Get(i)
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint64(slotBuf[0:8], sh)
		binary.LittleEndian.PutUint64(slotBuf[8:16], soff)
		if _, err := bw.Write(slotBuf[:]); err != nil {
			return fmt.Errorf("bufio.Write: %w", err)
		}
	}

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("bufio.Flush: %w", err)
	}
	return nil
}
