// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package qfvm

// retain and release are the reference-counting hooks called from every
// place a Ref is stored or overwritten (VM.Push/Pop/Set/SetSlot). Under
// MarkSweep and Copying, vm.rc is nil and both are no-ops; the tracing
// collectors don't need per-store bookkeeping.
func (vm *VM) retain(r Ref) {
	if vm.rc == nil || r.IsNull() {
		return
	}

	vm.rc[r.Addr()]++
}

func (vm *VM) release(r Ref) {
	if vm.rc == nil || r.IsNull() {
		return
	}

	addr := r.Addr()
	if _, tracked := vm.rc[addr]; !tracked {
		return // already reclaimed
	}

	vm.rc[addr]--
	if vm.rc[addr] <= 0 {
		vm.reclaim(addr)
	}
}

// reclaim frees addr and cascades the release to its children, using an
// explicit stack rather than Go-stack recursion — the same non-recursive
// discipline the mark phase uses, since a long wrapper chain dropping its
// last reference unwinds exactly as deep as one would mark.
func (vm *VM) reclaim(addr int64) {
	pending := []int64{addr}

	for len(pending) > 0 {
		a := pending[len(pending)-1]
		pending = pending[:len(pending)-1]

		if _, live := vm.rc[a]; !live {
			continue // already reclaimed via another path
		}

		size, err := objectSize(vm.Mem(), a)
		if err != nil {
			continue // heap corruption here is unrecoverable from a void hook; QF.Audit reports it
		}

		forEachSlot(vm.Mem(), a, func(_ int64, child Ref) {
			if child.IsNull() {
				return
			}

			ca := child.Addr()
			if _, tracked := vm.rc[ca]; !tracked {
				return // already reclaimed
			}

			vm.rc[ca]--
			if vm.rc[ca] <= 0 {
				pending = append(pending, ca)
			}
		})

		delete(vm.rc, a)
		vm.qf.Free(a, size)
	}
}

// collectCycles implements the RefCountCycles strategy's trial-deletion
// pass, Bacon & Rao style: a reference cycle with no anchor outside itself
// leaves every member's count positive only because of other cycle
// members, so tentatively subtracting every internal edge exposes it —
// but an object whose trial count drops to zero may still be reachable
// through another object whose count stays positive (a rooted object that
// is itself part of the cycle, e.g. a root holding A directly where
// A.slot0 = B and B.slot0 = A). Condemning on the trial count alone would free B while
// A's own slot still points at it. The scan phase below closes over
// everything reachable from a positive-trial or rooted object first;
// only what that closure never reaches is actually garbage.
func collectCycles(vm *VM) error {
	if vm.rc == nil {
		return nil
	}

	trial := make(map[int64]int32, len(vm.rc))
	for addr, c := range vm.rc {
		trial[addr] = c
	}

	for addr := range vm.rc {
		forEachSlot(vm.Mem(), addr, func(_ int64, child Ref) {
			if !child.IsNull() {
				trial[child.Addr()]--
			}
		})
	}

	rooted := make(map[int64]bool, vm.roots.Len())
	for i := 0; i < vm.roots.Len(); i++ {
		if r := Ref(vm.roots.Get(i)); !r.IsNull() {
			rooted[r.Addr()] = true
		}
	}

	live := make(map[int64]bool, len(vm.rc))
	stack := make([]int64, 0, len(vm.rc))
	for addr := range vm.rc {
		if rooted[addr] || trial[addr] > 0 {
			stack = append(stack, addr)
		}
	}

	for len(stack) > 0 {
		addr := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if live[addr] {
			continue
		}

		live[addr] = true

		forEachSlot(vm.Mem(), addr, func(_ int64, child Ref) {
			if !child.IsNull() && !live[child.Addr()] {
				stack = append(stack, child.Addr())
			}
		})
	}

	var garbage []int64
	for addr := range vm.rc {
		if !live[addr] {
			garbage = append(garbage, addr)
		}
	}

	for _, addr := range garbage {
		if _, live := vm.rc[addr]; !live {
			continue // reclaimed already while cascading a sibling in the same cycle
		}

		size, err := objectSize(vm.Mem(), addr)
		if err != nil {
			return fatal(err)
		}

		// Collect this object's own edges before QF overwrites its header
		// with a free-block size stamp, then drop them with a real
		// release, not a trial one: a child outside the cycle may still
		// have other live referrers and must keep its genuine count,
		// while a child inside the cycle cascades through this same
		// reclaim path.
		var children []Ref
		forEachSlot(vm.Mem(), addr, func(_ int64, child Ref) {
			if !child.IsNull() {
				children = append(children, child)
			}
		})

		delete(vm.rc, addr)
		vm.qf.Free(addr, size)

		for _, child := range children {
			vm.release(child)
		}
	}

	return nil
}
