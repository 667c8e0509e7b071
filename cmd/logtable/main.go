// Copyright 2024 The logtable Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// logtable is a small CLI over the library: build a table from an operation
// stream on stdin, then point-query or enumerate it.
//
//	gen-testdata -n 100000 | logtable -build data.spl
//	logtable -get somekey data.spl
//	logtable -keys data.spl
//	logtable -stats data.spl
package main

import (
	"bufio"
	"bytes"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/logtable/logtable"
)

var (
	build   = flag.Bool("build", false, "read 'set k v'/'del k' lines from stdin and build a table")
	get     = flag.String("get", "", "look up a single key and print its value")
	keys    = flag.Bool("keys", false, "print every live key, one per line")
	stats   = flag.Bool("stats", false, "print table statistics")
	verbose = flag.Bool("v", false, "log index build progress")
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s [flags] table.spl\n", os.Args[0])
	flag.PrintDefaults()
	os.Exit(1)
}

func buildTable(logPath string) error {
	var opts []logtable.WriterOption
	if *verbose {
		opts = append(opts, logtable.WithLogger(slog.New(slog.NewTextHandler(os.Stderr, nil))))
	}

	w, err := logtable.CreateWriter(logPath, opts...)
	if err != nil {
		return err
	}

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		op, rest, _ := bytes.Cut(scanner.Bytes(), []byte{' '})
		switch string(op) {
		case "set":
			key, value, found := bytes.Cut(rest, []byte{' '})
			if !found {
				return fmt.Errorf("line %d: 'set' needs a key and a value", line)
			}
			err = w.Put(key, value)
		case "del":
			err = w.Delete(rest)
		case "":
			continue
		default:
			return fmt.Errorf("line %d: unknown operation %q", line, op)
		}
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	if err := w.Flush(); err != nil {
		return err
	}
	return w.Close()
}

func withReader(logPath string, fn func(*logtable.Reader) error) error {
	r, err := logtable.OpenReader(logPath, logtable.IndexPath(logPath))
	if err != nil {
		return err
	}
	defer r.Close()
	return fn(r)
}

func getKey(logPath, key string) error {
	return withReader(logPath, func(r *logtable.Reader) error {
		value, found, err := r.GetString(key)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%q: not found", key)
		}
		_, err = os.Stdout.Write(append(value, '\n'))
		return err
	})
}

func listKeys(logPath string) error {
	return withReader(logPath, func(r *logtable.Reader) error {
		out := bufio.NewWriter(os.Stdout)
		it := r.Iter()
		for k, _, ok := it.Next(); ok; k, _, ok = it.Next() {
			out.Write(k)
			out.WriteByte('\n')
		}
		if err := it.Err(); err != nil {
			return err
		}
		return out.Flush()
	})
}

func printStats(logPath string) error {
	return withReader(logPath, func(r *logtable.Reader) error {
		fmt.Printf("entries:       %d\n", r.EntryCount())
		fmt.Printf("deletes:       %d\n", r.DeletedCount())
		fmt.Printf("live keys:     %d\n", r.LiveCount())
		fmt.Printf("max key len:   %d\n", r.MaxKeyLen())
		fmt.Printf("max value len: %d\n", r.MaxValueLen())
		return nil
	})
}

func main() {
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() != 1 {
		usage()
	}
	logPath := flag.Arg(0)

	var err error
	switch {
	case *build:
		err = buildTable(logPath)
	case *get != "":
		err = getKey(logPath, *get)
	case *keys:
		err = listKeys(logPath)
	case *stats:
		err = printStats(logPath)
	default:
		usage()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}
