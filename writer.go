// Copyright 2024 The logtable Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package logtable

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/logtable/logtable/internal/hashfile"
	"github.com/logtable/logtable/internal/logfile"
)

// HashKind selects the index hash algorithm; it is recorded in the index
// header so readers always probe with the same function the builder used.
type HashKind = hashfile.HashKind

const (
	HashFarm64 = hashfile.HashFarm64
	HashWy64   = hashfile.HashWy64
)

// BuildType selects where the index builder keeps its slot array.
type BuildType = hashfile.BuildType

const (
	BuildInMemory = hashfile.BuildInMemory
	BuildOnDisk   = hashfile.BuildOnDisk
)

// IndexPath derives the conventional index file path for a log: data.spl
// becomes data.spi, anything else gets .spi appended.
func IndexPath(logPath string) string {
	if strings.HasSuffix(logPath, ".spl") {
		return strings.TrimSuffix(logPath, ".spl") + ".spi"
	}
	return logPath + ".spi"
}

// WriterOption configures a Writer.
type WriterOption func(*writerOptions)

type writerOptions struct {
	indexPath string
	hashKind  HashKind
	buildType BuildType
	logger    *slog.Logger
}

// WithIndexPath overrides the conventional <name>.spi location for the index
// built by Flush.
func WithIndexPath(path string) WriterOption {
	return func(opts *writerOptions) {
		opts.indexPath = path
	}
}

// WithHash selects the index hash algorithm used by Flush.
func WithHash(kind HashKind) WriterOption {
	return func(opts *writerOptions) {
		opts.hashKind = kind
	}
}

// WithBuildType selects the index build strategy used by Flush.
func WithBuildType(t BuildType) WriterOption {
	return func(opts *writerOptions) {
		opts.buildType = t
	}
}

// WithLogger sets an optional logger for progress updates during Flush.
// If not provided, no logging output will be produced.
func WithLogger(logger *slog.Logger) WriterOption {
	return func(opts *writerOptions) {
		opts.logger = logger
	}
}

type writerState int

const (
	stateOpen writerState = iota
	stateFlushing
	stateClosed
)

// Writer is the single mutator of a log/index pair.  It exclusively owns the
// log file handle for its lifetime; opening two Writers on one log is
// undefined behavior (take an external lock if that can happen).
//
// A Writer moves through Open → Flushing → Closed.  Put and Delete are only
// legal while Open; Flush may be called any number of times and returns the
// Writer to Open; Close is terminal.
type Writer struct {
	mu      sync.Mutex
	state   writerState
	logPath string
	f       *os.File
	lw      *logfile.Writer
	options writerOptions
}

func newWriterOptions(logPath string, opts []WriterOption) writerOptions {
	options := writerOptions{
		hashKind:  HashFarm64,
		buildType: BuildInMemory,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.indexPath == "" {
		options.indexPath = IndexPath(logPath)
	}
	return options
}

// CreateWriter starts a new, empty log at logPath, truncating any previous
// file there.
func CreateWriter(logPath string, opts ...WriterOption) (*Writer, error) {
	logPath, err := filepath.Abs(logPath)
	if err != nil {
		return nil, fmt.Errorf("filepath.Abs: %w", err)
	}

	f, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("os.OpenFile(%s): %w", logPath, err)
	}

	lw, err := logfile.NewWriter(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("logfile.NewWriter: %w", err)
	}

	return &Writer{
		logPath: logPath,
		f:       f,
		lw:      lw,
		options: newWriterOptions(logPath, opts),
	}, nil
}

// OpenWriter reopens an existing, finalized log for further appends.  Counts
// and length stats continue from the stored header.
func OpenWriter(logPath string, opts ...WriterOption) (*Writer, error) {
	logPath, err := filepath.Abs(logPath)
	if err != nil {
		return nil, fmt.Errorf("filepath.Abs: %w", err)
	}

	f, err := os.OpenFile(logPath, os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("os.OpenFile(%s): %w", logPath, err)
	}

	lw, err := logfile.Resume(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("logfile.Resume: %w", err)
	}

	return &Writer{
		logPath: logPath,
		f:       f,
		lw:      lw,
		options: newWriterOptions(logPath, opts),
	}, nil
}

// Put appends a PUT entry for key.  A later Put or Delete for the same key
// shadows it; nothing is rewritten in place.
func (w *Writer) Put(key, value []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != stateOpen {
		return ErrClosed
	}
	_, err := w.lw.AppendPut(key, value)
	return err
}

// Delete appends a DELETE tombstone for key.  Deleting a key that was never
// put is legal and recorded like any other entry.
func (w *Writer) Delete(key []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != stateOpen {
		return ErrClosed
	}
	_, err := w.lw.AppendDelete(key)
	return err
}

// Flush finalizes the log header and rebuilds the index from a full log
// scan.  The new index is built in a temp file and renamed into place only
// once complete, so a reader never observes a half-written index and a
// failed Flush leaves any previous index untouched.  After a successful
// Flush the data is durably queryable; the Writer stays usable and Flush may
// be called again after further writes.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != stateOpen {
		return ErrClosed
	}
	w.state = stateFlushing
	defer func() {
		if w.state == stateFlushing {
			w.state = stateOpen
		}
	}()

	if err := w.lw.Sync(); err != nil {
		return fmt.Errorf("logfile.Sync: %w", err)
	}

	return w.buildIndex()
}

func (w *Writer) buildIndex() error {
	log, err := logfile.NewReader(w.logPath)
	if err != nil {
		return fmt.Errorf("logfile.NewReader(%s): %w", w.logPath, err)
	}
	defer func() {
		_ = log.Close()
	}()

	dir := filepath.Dir(w.options.indexPath)
	tmp, err := os.CreateTemp(dir, "logtable-build.*.spi")
	if err != nil {
		return fmt.Errorf("CreateTemp failed (may need permissions for dir %q containing index): %w", dir, err)
	}

	if err := hashfile.Build(tmp, log,
		hashfile.WithHash(w.options.hashKind),
		hashfile.WithBuildType(w.options.buildType),
		hashfile.WithLogger(w.options.logger),
	); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("hashfile.Build: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("f.Sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("f.Close: %w", err)
	}
	if err := os.Rename(tmp.Name(), w.options.indexPath); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("os.Rename: %w", err)
	}

	return nil
}

// Close finalizes the log and releases the file handle.  It does not rebuild
// the index: call Flush first if writes happened since the last one.  Close
// from Closed (or mid-Flush) is an error.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != stateOpen {
		return ErrClosed
	}
	w.state = stateClosed

	if err := w.lw.Close(); err != nil {
		_ = w.f.Close()
		return fmt.Errorf("logfile.Close: %w", err)
	}
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("f.Close: %w", err)
	}
	return nil
}
