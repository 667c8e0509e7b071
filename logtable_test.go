// Copyright 2024 The logtable Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package logtable

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustGet(t *testing.T, r *Reader, key string) string {
	t.Helper()
	v, found, err := r.Get([]byte(key))
	require.NoError(t, err)
	require.True(t, found, "expected %q present", key)
	return string(v)
}

func mustAbsent(t *testing.T, r *Reader, key string) {
	t.Helper()
	_, found, err := r.Get([]byte(key))
	require.NoError(t, err)
	require.False(t, found, "expected %q absent", key)
}

func collect(t *testing.T, r *Reader) map[string]string {
	t.Helper()
	got := make(map[string]string)
	it := r.Iter()
	for k, v, ok := it.Next(); ok; k, v, ok = it.Next() {
		_, dup := got[string(k)]
		require.False(t, dup, "key %q yielded twice", k)
		got[string(k)] = string(v)
	}
	require.NoError(t, it.Err())
	return got
}

func TestTable_PutDeleteFlush(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "table.spl")

	w, err := CreateWriter(logPath)
	require.NoError(t, err)
	require.NoError(t, w.Put([]byte("a"), []byte("1")))
	require.NoError(t, w.Put([]byte("b"), []byte("2")))
	require.NoError(t, w.Delete([]byte("a")))
	require.NoError(t, w.Flush())
	require.NoError(t, w.Close())

	r, err := OpenReader(logPath, IndexPath(logPath))
	require.NoError(t, err)
	defer func() {
		_ = r.Close()
	}()

	mustAbsent(t, r, "a")
	assert.Equal(t, "2", mustGet(t, r, "b"))
	assert.Equal(t, map[string]string{"b": "2"}, collect(t, r))

	assert.Equal(t, uint64(3), r.EntryCount())
	assert.Equal(t, uint64(1), r.DeletedCount())
	assert.Equal(t, uint64(1), r.LiveCount())
}

func TestTable_LastPutWins(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "rewrite.spl")

	w, err := CreateWriter(logPath)
	require.NoError(t, err)
	require.NoError(t, w.Put([]byte("k"), []byte("v1")))
	require.NoError(t, w.Put([]byte("k"), []byte("v2")))
	require.NoError(t, w.Flush())
	require.NoError(t, w.Close())

	r, err := OpenReader(logPath, IndexPath(logPath))
	require.NoError(t, err)
	defer func() {
		_ = r.Close()
	}()

	assert.Equal(t, "v2", mustGet(t, r, "k"))
	assert.Equal(t, map[string]string{"k": "v2"}, collect(t, r))
}

func TestTable_EmptyFlush(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "empty.spl")

	w, err := CreateWriter(logPath)
	require.NoError(t, err)
	require.NoError(t, w.Flush())
	require.NoError(t, w.Close())

	r, err := OpenReader(logPath, IndexPath(logPath))
	require.NoError(t, err)
	defer func() {
		_ = r.Close()
	}()

	mustAbsent(t, r, "anything")
	assert.Empty(t, collect(t, r))
	assert.Equal(t, uint64(0), r.LiveCount())
}

func TestTable_RepeatedFlush(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "reflush.spl")

	w, err := CreateWriter(logPath)
	require.NoError(t, err)
	require.NoError(t, w.Put([]byte("a"), []byte("1")))
	require.NoError(t, w.Flush())

	r1, err := OpenReader(logPath, IndexPath(logPath))
	require.NoError(t, err)
	assert.Equal(t, "1", mustGet(t, r1, "a"))
	require.NoError(t, r1.Close())

	// more writes, then flush again; a second flush with no writes in
	// between must also answer identically
	require.NoError(t, w.Put([]byte("b"), []byte("2")))
	require.NoError(t, w.Delete([]byte("a")))
	require.NoError(t, w.Flush())
	require.NoError(t, w.Flush())
	require.NoError(t, w.Close())

	r2, err := OpenReader(logPath, IndexPath(logPath))
	require.NoError(t, err)
	defer func() {
		_ = r2.Close()
	}()
	mustAbsent(t, r2, "a")
	assert.Equal(t, "2", mustGet(t, r2, "b"))
}

func TestTable_AppendReopen(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "reopen.spl")

	w, err := CreateWriter(logPath)
	require.NoError(t, err)
	require.NoError(t, w.Put([]byte("a"), []byte("1")))
	require.NoError(t, w.Put([]byte("b"), []byte("2")))
	require.NoError(t, w.Flush())
	require.NoError(t, w.Close())

	w, err = OpenWriter(logPath)
	require.NoError(t, err)
	require.NoError(t, w.Delete([]byte("a")))
	require.NoError(t, w.Put([]byte("c"), []byte("3")))
	require.NoError(t, w.Flush())
	require.NoError(t, w.Close())

	r, err := OpenReader(logPath, IndexPath(logPath))
	require.NoError(t, err)
	defer func() {
		_ = r.Close()
	}()

	mustAbsent(t, r, "a")
	assert.Equal(t, map[string]string{"b": "2", "c": "3"}, collect(t, r))
	assert.Equal(t, uint64(4), r.EntryCount())
}

func TestWriter_UseAfterClose(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "closed.spl")

	w, err := CreateWriter(logPath)
	require.NoError(t, err)
	require.NoError(t, w.Flush())
	require.NoError(t, w.Close())

	assert.ErrorIs(t, w.Put([]byte("k"), []byte("v")), ErrClosed)
	assert.ErrorIs(t, w.Delete([]byte("k")), ErrClosed)
	assert.ErrorIs(t, w.Flush(), ErrClosed)
	assert.ErrorIs(t, w.Close(), ErrClosed)
}

func TestWriter_ArgumentErrors(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "args.spl")

	w, err := CreateWriter(logPath)
	require.NoError(t, err)
	defer func() {
		_ = w.Close()
	}()

	assert.ErrorIs(t, w.Put(nil, []byte("v")), ErrEmptyKey)
	assert.ErrorIs(t, w.Delete(nil), ErrEmptyKey)
	assert.ErrorIs(t, w.Put(make([]byte, MaxKeyLen+1), nil), ErrKeyTooLong)
	assert.ErrorIs(t, w.Put([]byte("k"), make([]byte, MaxValueLen+1)), ErrValueTooLong)
}

func TestOpenReader_TruncatedLog(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "trunc.spl")

	w, err := CreateWriter(logPath)
	require.NoError(t, err)
	require.NoError(t, w.Put([]byte("key"), []byte("a value with enough bytes to chop")))
	require.NoError(t, w.Flush())
	require.NoError(t, w.Close())

	stats, err := os.Stat(logPath)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(logPath, stats.Size()-4))

	_, err = OpenReader(logPath, IndexPath(logPath))
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestOpenReader_MismatchedIndex(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"one", "two"} {
		w, err := CreateWriter(filepath.Join(dir, name+".spl"))
		require.NoError(t, err)
		require.NoError(t, w.Put([]byte(name), []byte(name)))
		require.NoError(t, w.Flush())
		require.NoError(t, w.Close())
	}

	_, err := OpenReader(filepath.Join(dir, "one.spl"), filepath.Join(dir, "two.spi"))
	assert.ErrorIs(t, err, ErrCorrupt)
}

// random workload against a map oracle, with every option combination
func TestTable_MapOracle(t *testing.T) {
	for name, opts := range map[string][]WriterOption{
		"defaults": nil,
		"wyhash":   {WithHash(HashWy64)},
		"on-disk":  {WithBuildType(BuildOnDisk)},
	} {
		t.Run(name, func(t *testing.T) {
			logPath := filepath.Join(t.TempDir(), "oracle.spl")
			w, err := CreateWriter(logPath, opts...)
			require.NoError(t, err)

			rng := rand.New(rand.NewSource(0x5eed))
			oracle := make(map[string]string)
			for i := 0; i < 20000; i++ {
				key := "key-" + strconv.Itoa(rng.Intn(3000))
				if rng.Intn(4) == 0 {
					require.NoError(t, w.Delete([]byte(key)))
					delete(oracle, key)
				} else {
					value := "value-" + strconv.Itoa(i)
					require.NoError(t, w.Put([]byte(key), []byte(value)))
					oracle[key] = value
				}
			}
			require.NoError(t, w.Flush())
			require.NoError(t, w.Close())

			r, err := OpenReader(logPath, IndexPath(logPath))
			require.NoError(t, err)
			defer func() {
				_ = r.Close()
			}()

			require.Equal(t, uint64(len(oracle)), r.LiveCount())
			for key, want := range oracle {
				assert.Equal(t, want, mustGet(t, r, key))
			}
			for i := 0; i < 100; i++ {
				mustAbsent(t, r, "never-written-"+strconv.Itoa(i))
			}
			assert.Equal(t, oracle, collect(t, r))
		})
	}
}

func TestReader_ConcurrentGets(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "concurrent.spl")

	w, err := CreateWriter(logPath)
	require.NoError(t, err)
	const n = 1000
	for i := 0; i < n; i++ {
		require.NoError(t, w.Put([]byte("key-"+strconv.Itoa(i)), []byte(strconv.Itoa(i))))
	}
	require.NoError(t, w.Flush())
	require.NoError(t, w.Close())

	r, err := OpenReader(logPath, IndexPath(logPath))
	require.NoError(t, err)
	defer func() {
		_ = r.Close()
	}()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < n; i++ {
				j := (i + g*117) % n
				v, found, err := r.GetString("key-" + strconv.Itoa(j))
				if assert.NoError(t, err) && assert.True(t, found) {
					assert.Equal(t, strconv.Itoa(j), string(v))
				}
			}
		}(g)
	}
	wg.Wait()
}

func TestIndexPath(t *testing.T) {
	assert.Equal(t, "/data/t.spi", IndexPath("/data/t.spl"))
	assert.Equal(t, "table.log.spi", IndexPath("table.log"))
}

func BenchmarkGet(b *testing.B) {
	logPath := filepath.Join(b.TempDir(), "bench.spl")

	w, err := CreateWriter(logPath)
	if err != nil {
		b.Fatal(err)
	}
	const n = 100000
	for i := 0; i < n; i++ {
		if err := w.Put([]byte(fmt.Sprintf("key-%08d", i)), []byte(strconv.Itoa(i))); err != nil {
			b.Fatal(err)
		}
	}
	if err := w.Flush(); err != nil {
		b.Fatal(err)
	}
	if err := w.Close(); err != nil {
		b.Fatal(err)
	}

	r, err := OpenReader(logPath, IndexPath(logPath))
	if err != nil {
		b.Fatal(err)
	}
	defer func() {
		_ = r.Close()
	}()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		key := fmt.Sprintf("key-%08d", i%n)
		if _, found, err := r.GetString(key); err != nil || !found {
			b.Fatalf("lookup %s: found=%v err=%v", key, found, err)
		}
	}
}
