// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package qfvm implements a small managed-memory runtime: a quick-fit
// segregated free-list allocator (QF) carved out of a single []byte
// region, and a tagged-pointer object VM whose heap QF backs. The VM is
// garbage collected under one of four interchangeable strategies chosen
// at construction time (Config.Strategy): mark-sweep (the default and
// only mandatory one), a two-semispace copying collector, and plain or
// cycle-collecting reference counting.
//
// A VM's root stack is its only source of GC roots; nothing outside it
// keeps an object alive. QF itself never coalesces adjacent free blocks —
// that happens once, linearly, during a mark-sweep cycle's sweep phase —
// so long-running allocate/free churn under MarkSweep is expected to
// fragment until the next collection rebuilds QF's free structures from
// scratch.
package qfvm
