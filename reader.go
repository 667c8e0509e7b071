// Copyright 2024 The logtable Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package logtable

import (
	"bytes"
	"fmt"

	"github.com/logtable/logtable/internal/hashfile"
	"github.com/logtable/logtable/internal/logfile"
	"github.com/logtable/logtable/internal/unsafestring"
)

// Reader answers point lookups and live-entry iteration against a finalized
// log/index pair.  Both files are immutable once written, so a Reader is
// safe for unlimited concurrent use; each Reader holds its own mappings.
type Reader struct {
	log *logfile.Reader
	idx *hashfile.Reader
}

// OpenReader memory-maps the log and index.  The index must have been built
// from exactly this log (Flush guarantees that); a mismatched pairing is
// reported as ErrCorrupt.
func OpenReader(logPath, indexPath string) (*Reader, error) {
	log, err := logfile.NewReader(logPath)
	if err != nil {
		return nil, fmt.Errorf("logfile.NewReader(%s): %w", logPath, err)
	}

	idx, err := hashfile.NewReader(indexPath, log)
	if err != nil {
		_ = log.Close()
		return nil, fmt.Errorf("hashfile.NewReader(%s): %w", indexPath, err)
	}

	return &Reader{
		log: log,
		idx: idx,
	}, nil
}

// Get returns the value from the latest put for key, or found=false if the
// key was never written or its latest entry is a delete.  The returned slice
// aliases the mapped log file and must not be modified; copy it if it needs
// to outlive the Reader.
func (r *Reader) Get(key []byte) (value []byte, found bool, err error) {
	off, ok, err := r.idx.Lookup(key)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	e, err := r.log.ReadEntryAt(int64(off))
	if err != nil {
		return nil, false, err
	}
	// the index never points at tombstones and always points at the
	// offset of an entry whose key hashed here; both checks stay because
	// trusting the index alone would turn corruption into wrong answers
	if e.Type != logfile.Put || !bytes.Equal(e.Key, key) {
		return nil, false, nil
	}
	return e.Value, true, nil
}

// GetString is Get for a string key, without copying the key.
func (r *Reader) GetString(key string) (value []byte, found bool, err error) {
	return r.Get(unsafestring.ToBytes(key))
}

// EntryCount reports the total number of log entries, puts plus deletes.
func (r *Reader) EntryCount() uint64 {
	return r.log.EntryCount()
}

// DeletedCount reports the number of delete entries in the log.
func (r *Reader) DeletedCount() uint64 {
	return r.log.DeletedCount()
}

// LiveCount reports the number of keys whose latest entry is a put.
func (r *Reader) LiveCount() uint64 {
	return r.idx.LiveCount()
}

// MaxKeyLen reports the longest key ever written to this log.
func (r *Reader) MaxKeyLen() uint64 {
	return r.log.MaxKeyLen()
}

// MaxValueLen reports the longest value ever written to this log.
func (r *Reader) MaxValueLen() uint64 {
	return r.log.MaxValueLen()
}

// Iter returns a fresh iterator over the live key/value pairs: every key
// whose latest entry is a put, each yielded exactly once, in log order of
// that latest put.  Cost is proportional to the full log, not the live set.
func (r *Reader) Iter() *Iter {
	return &Iter{
		r:  r,
		it: r.log.Iter(),
	}
}

// Close unmaps both files.  Slices returned by Get or Next must not be used
// after Close.
func (r *Reader) Close() error {
	idxErr := r.idx.Close()
	logErr := r.log.Close()
	if idxErr != nil {
		return idxErr
	}
	return logErr
}

// Iter walks the log, skipping tombstones and entries shadowed by a later
// write of the same key.  Not safe for concurrent use; each goroutine should
// obtain its own from Reader.Iter.
type Iter struct {
	r   *Reader
	it  *logfile.Iter
	err error
}

// Next returns the next live pair.  When it returns false, check Err.
func (it *Iter) Next() (key, value []byte, ok bool) {
	if it.err != nil {
		return nil, nil, false
	}

	for e, ok := it.it.Next(); ok; e, ok = it.it.Next() {
		if e.Type != logfile.Put {
			continue
		}
		off, found, err := it.r.idx.Lookup(e.Key)
		if err != nil {
			it.err = err
			return nil, nil, false
		}
		// only the entry the index considers latest is live; an older
		// put for the same key (or one deleted later) is shadowed
		if !found || off != uint64(e.Offset) {
			continue
		}
		return e.Key, e.Value, true
	}

	it.err = it.it.Err()
	return nil, nil, false
}

// Err reports the first corruption or lookup error hit by Next.
func (it *Iter) Err() error {
	return it.err
}
