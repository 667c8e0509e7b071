// Copyright 2024 The logtable Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// gen-testdata emits a deterministic put/delete workload on stdout, one
// operation per line, in the format the logtable CLI's -build mode consumes:
//
//	set <key> <value>
//	del <key>
//
// Keys are HMAC-derived from the values so their distribution stresses the
// index hash rather than clustering.  The same seed always produces the same
// stream.
package main

import (
	"bufio"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"flag"
	"fmt"
	"math/rand"
	"os"
)

const (
	prefix  = "pref_"
	hmacKey = "d259c7f656caf7f1"
)

var (
	nOps     = flag.Int("n", 1000000, "number of operations to emit")
	delRatio = flag.Float64("del-ratio", 0.1, "fraction of operations that are deletes")
	seed     = flag.Int64("seed", 1, "rng seed")
)

func main() {
	flag.Parse()

	rng := rand.New(rand.NewSource(*seed))
	h := hmac.New(sha256.New, []byte(hmacKey))
	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()

	var emitted []string
	for i := 0; i < *nOps; i++ {
		if len(emitted) > 0 && rng.Float64() < *delRatio {
			// delete a key we have emitted before so deletes hit live data
			key := emitted[rng.Intn(len(emitted))]
			fmt.Fprintf(out, "del %s\n", key)
			continue
		}

		var buf [8]byte
		if _, err := rng.Read(buf[:]); err != nil {
			panic(err)
		}
		value := fmt.Sprintf("%s%x", prefix, buf)
		h.Reset()
		h.Write([]byte(value))
		key := hex.EncodeToString(h.Sum(nil))

		fmt.Fprintf(out, "set %s %s\n", key, value)
		emitted = append(emitted, key)
	}
}
