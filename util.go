// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package qfvm

import (
	"encoding/binary"
	"math"
)

// beLoad64/beStore64 read/write a big-endian word. qfvm's region is
// in-memory only, but keeping a fixed byte order makes a future
// Dump/restore format unambiguous. encoding/binary is the standard,
// idiomatic way to do fixed-width byte-order encoding in Go.
func beLoad64(b []byte) uint64 { return binary.BigEndian.Uint64(b) }

func beStore64(b []byte, v uint64) { binary.BigEndian.PutUint64(b, v) }

func float64bits(f float64) uint64  { return math.Float64bits(f) }
func float64frombits(b uint64) float64 { return math.Float64frombits(b) }
