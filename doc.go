// Copyright 2024 The logtable Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package logtable is a write-once, read-many key/value store for read-heavy
// workloads with infrequent bulk insert passes.
//
// A dataset is two files: an append-only log (conventionally <name>.spl)
// holding every put and delete in insertion order, and a hash index
// (<name>.spi) derived from it that maps key hashes to the latest log offset
// for O(1) average lookups.  The log is the truth; the index is entirely
// rebuilt from it on every Flush and carries a fingerprint of the log it was
// built from, so a stale pairing is rejected instead of answering wrong.
//
// A Writer owns its log file exclusively for its whole life: one writer per
// log, enforced by convention (take an external lock if multiple processes
// might race).  Readers open a finalized log/index pair and are safe for
// unlimited concurrent use.
//
//	w, _ := logtable.CreateWriter("data.spl")
//	_ = w.Put([]byte("a"), []byte("1"))
//	_ = w.Delete([]byte("a"))
//	_ = w.Flush() // log finalized, index (re)built
//	_ = w.Close()
//
//	r, _ := logtable.OpenReader("data.spl", logtable.IndexPath("data.spl"))
//	v, ok, _ := r.Get([]byte("b"))
//
// Deleted keys stay physically present in the log as tombstones but are
// never returned by Get or Iter.
package logtable
