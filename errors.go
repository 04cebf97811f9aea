// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package qfvm

import "fmt"

// An OutOfMemoryError is returned by vm_allocate (VM.allocate) when qf_alloc
// still fails to produce a block of the requested size after an embedded
// collection. It is recoverable: the caller may drop roots and retry.
type OutOfMemoryError struct {
	Requested int64 // bytes requested
	HeapUsed  int64 // bytes live at the time of failure
	HeapSize  int64 // total region size
}

func (e *OutOfMemoryError) Error() string {
	return fmt.Sprintf("qfvm: out of memory: requested %d bytes, heap used %d of %d", e.Requested, e.HeapUsed, e.HeapSize)
}

// A FatalError marks a condition the runtime treats as unrecoverable: the
// caller is expected to treat it as an abort. qfvm never calls os.Exit or
// panics on these paths itself; it wraps the underlying cause so a host
// program keeps control of process lifetime.
type FatalError struct {
	Cause error
}

func (e *FatalError) Error() string { return "qfvm: fatal: " + e.Cause.Error() }
func (e *FatalError) Unwrap() error { return e.Cause }

// An InvalidSizeError is the cause of a FatalError raised when constructing
// a BitSet with a bit count that is not a multiple of the machine word size,
// or a QF region smaller than 2*A.
type InvalidSizeError struct {
	Msg string
	Arg int64
}

func (e *InvalidSizeError) Error() string { return fmt.Sprintf("qfvm: invalid size: %s (%d)", e.Msg, e.Arg) }

// A RootStackUnderflowError is the cause of a FatalError raised by VM.Pop
// (or any peek) on an empty root stack.
type RootStackUnderflowError struct{}

func (e *RootStackUnderflowError) Error() string { return "qfvm: root stack underflow" }

// A HeapCorruptionError is the cause of a FatalError raised when sweep (or
// any header read) finds an object whose header is malformed: size zero,
// size exceeding the region, or an unrecognized tag.
type HeapCorruptionError struct {
	Addr int64
	Msg  string
}

func (e *HeapCorruptionError) Error() string {
	return fmt.Sprintf("qfvm: heap corruption at offset %#x: %s", e.Addr, e.Msg)
}

func fatal(cause error) *FatalError { return &FatalError{Cause: cause} }
