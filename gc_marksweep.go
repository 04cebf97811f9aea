// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package qfvm

// markState holds the bookkeeping for one non-recursive mark phase. It
// marks objects via their own header bit, and
// keeps a separate BitSet of addresses whose children still need
// scanning but didn't fit in the bounded worklist — the rescan pass below
// walks exactly those bits instead of the whole region, which is the
// bounded-worklist-with-a-rescan-pass-fallback design needed to survive a
// very deep wrapper chain without blowing the Go stack or falling back to
// an O(region) scan on every overflow.
type markState struct {
	mem      region
	worklist SmallVec
	cap      int
	pending  *BitSet
}

func newMarkState(mem region, regionSize int64, cap int) (*markState, error) {
	numSlots := regionSize / A
	bitsetLen := ((numSlots + wordBits - 1) / wordBits) * wordBits
	if bitsetLen == 0 {
		bitsetLen = wordBits
	}

	pending, err := NewBitSet(int(bitsetLen))
	if err != nil {
		return nil, err
	}

	return &markState{mem: mem, cap: cap, pending: pending}, nil
}

// mark sets addr's header mark bit if unset, then schedules its children
// for scanning: onto the worklist while there's room, or onto the pending
// BitSet otherwise.
func (ms *markState) mark(addr int64) {
	h := readHeader(ms.mem, addr)
	if headerMarked(h) {
		return
	}

	writeHeader(ms.mem, addr, headerSetMark(h))

	if ms.worklist.Len() < ms.cap {
		ms.worklist.Push(uint64(addr))
	} else {
		ms.pending.Set(int(addr / A))
	}
}

func (ms *markState) scanChildren(addr int64) {
	forEachSlot(ms.mem, addr, func(_ int64, r Ref) {
		if !r.IsNull() {
			ms.mark(r.Addr())
		}
	})
}

func (ms *markState) drainWorklist() {
	for ms.worklist.Len() > 0 {
		addr := int64(ms.worklist.Pop())
		ms.scanChildren(addr)
	}
}

// rescanOnce makes exactly one forward pass over the pending BitSet,
// clearing and scanning each set bit it finds as it goes, and reports
// whether it found any. The cursor only ever moves forward within a
// single pass (NextSet(i+1), never NextSet(0) again until the next call),
// which bounds one pass to O(region/A) regardless of how many bits are
// pending — restarting from 0 on every bit, as a naive scan would,
// degrades to O(pending_count * region/A) on a long chain. Scanning a
// pending address's children can itself set a bit behind the current
// cursor; that bit is simply picked up by the next call, since run()
// keeps calling rescanOnce (each one a fresh pass from 0) until a pass
// finds nothing at all.
func (ms *markState) rescanOnce() bool {
	found := false

	for i := ms.pending.NextSet(0); i != NoBit; i = ms.pending.NextSet(i + 1) {
		ms.pending.Clear(i)
		found = true
		ms.scanChildren(int64(i) * A)
	}

	return found
}

// run drives the mark phase to closure: drain the worklist, rescan
// whatever overflowed, and repeat until nothing remains on either side.
func (ms *markState) run() {
	for {
		ms.drainWorklist()
		if !ms.rescanOnce() {
			break
		}
	}
}

// freeSpan is a contiguous run of bytes the sweep has determined is not
// live: either an already-free QF block, or a formerly-live object that
// the mark phase did not reach.
type freeSpan struct {
	addr, size int64
}

// collectMarkSweep runs one mark-sweep cycle: mark from the root stack,
// then walk the region linearly exactly once, coalescing every
// consecutive run of free-or-unmarked bytes and handing the result to QF
// as a freshly rebuilt set of free structures. This linear coalescing
// sweep generalizes "join the one or two physical neighbors of a single
// freed block" to "join every maximal run of non-live blocks found during
// one pass".
func collectMarkSweep(vm *VM) error {
	mem := vm.Mem()
	regionSize := vm.qf.RegionSize()

	ms, err := newMarkState(mem, regionSize, vm.cfg.MarkWorklistCap)
	if err != nil {
		return err
	}

	for i := 0; i < vm.roots.Len(); i++ {
		if r := Ref(vm.roots.Get(i)); !r.IsNull() {
			ms.mark(r.Addr())
		}
	}

	ms.run()

	var free []freeSpan

	addr := int64(0)
	for addr < regionSize {
		w := beLoad64(mem[addr:])
		tag := byte(w & tagMask)

		var size int64

		if tag == 0 {
			// Free blocks store their own raw size in this word (QF's
			// insertFree/Free), and every size is a multiple of A=16, so
			// its low tagBits are always zero — exactly the tag value we
			// reserved for "not a live object", which is what makes this
			// linear walk able to tell blocks apart without any side
			// table.
			size = int64(w)
			if size <= 0 {
				return fatal(&HeapCorruptionError{Addr: addr, Msg: "free block has a non-positive stamped size"})
			}

			free = append(free, freeSpan{addr: addr, size: size})
		} else {
			sz, err := objectSize(mem, addr)
			if err != nil {
				return fatal(err)
			}

			size = sz

			if headerMarked(w) {
				writeHeader(mem, addr, headerClearMark(w))
			} else {
				free = append(free, freeSpan{addr: addr, size: size})
			}
		}

		addr += size
	}

	if addr != regionSize {
		return fatal(&HeapCorruptionError{Addr: addr, Msg: "sweep walk did not land exactly on region size"})
	}

	vm.qf.resetFree()

	for i := 0; i < len(free); i++ {
		s := free[i]
		for i+1 < len(free) && free[i+1].addr == s.addr+s.size {
			i++
			s.size += free[i].size
		}

		vm.qf.Free(s.addr, s.size)
	}

	return nil
}
