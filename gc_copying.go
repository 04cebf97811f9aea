// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package qfvm

// copyState drives one Cheney-style semispace copy: forward() moves an
// object the first time it's seen and leaves a forwarding address behind
// in its old header (reusing the header's mark bit plus its length field,
// which a forwarded object no longer needs), so any later reference to the
// same old address is translated to the same new one. Unlike the mark
// phase's bounded worklist, this queue is left to grow freely — the
// to-space itself bounds how many objects can ever be pending, since
// forward() cannot enqueue more live data than to-space has room for.
type copyState struct {
	from, to region
	toQF     *QF
	worklist []int64 // addresses in to-space whose slots still need translating
}

// forward returns r translated into to-space, copying and registering its
// forwarding address on first visit.
func (cs *copyState) forward(r Ref) (Ref, error) {
	if r.IsNull() {
		return NullRef, nil
	}

	addr := r.Addr()
	h := readHeader(cs.from, addr)

	if headerMarked(h) {
		return MakeRef(r.Tag(), int64(h>>lengthShift)), nil
	}

	size, err := objectSize(cs.from, addr)
	if err != nil {
		return NullRef, err
	}

	newAddr, ok := cs.toQF.Alloc(size)
	if !ok {
		return NullRef, &HeapCorruptionError{Addr: addr, Msg: "copying collector ran out of to-space"}
	}

	copy(cs.to[newAddr:newAddr+size], cs.from[addr:addr+size])
	writeHeader(cs.from, addr, markBit|(uint64(newAddr)<<lengthShift))
	cs.worklist = append(cs.worklist, newAddr)

	return MakeRef(r.Tag(), newAddr), nil
}

// run translates every slot of every object reachable from what's already
// been forwarded, iteratively: forward() may itself grow the worklist, so
// this drains until nothing new was added.
func (cs *copyState) run() error {
	for len(cs.worklist) > 0 {
		newAddr := cs.worklist[len(cs.worklist)-1]
		cs.worklist = cs.worklist[:len(cs.worklist)-1]

		n := slotCount(cs.to, newAddr)
		for i := int64(0); i < n; i++ {
			child := readSlot(cs.to, newAddr, i)
			if child.IsNull() {
				continue
			}

			nc, err := cs.forward(child)
			if err != nil {
				return err
			}

			writeSlot(cs.to, newAddr, i, nc)
		}
	}

	return nil
}

// collectCopying implements the Copying strategy: flip semispaces,
// forward every root into the empty one, transitively forward every
// reachable slot, then discard the old semispace's contents wholesale
// (no sweep needed — nothing not copied is live). Patching the root
// stack and every copied object's slots in place, rather than leaving
// stale from-space addresses anywhere reachable (see DESIGN.md, Open
// Question 2).
func collectCopying(vm *VM) error {
	fromIdx := vm.curSpace
	toIdx := 1 - fromIdx

	toQF, err := NewQF(vm.semispaces[toIdx])
	if err != nil {
		return fatal(err)
	}

	cs := &copyState{from: vm.semispaces[fromIdx], to: vm.semispaces[toIdx], toQF: toQF}

	for i := 0; i < vm.roots.Len(); i++ {
		r := Ref(vm.roots.Get(i))

		nr, err := cs.forward(r)
		if err != nil {
			return fatal(err)
		}

		vm.roots.Set(i, uint64(nr))
	}

	if err := cs.run(); err != nil {
		return fatal(err)
	}

	vm.curSpace = toIdx
	vm.qf = toQF

	return nil
}
