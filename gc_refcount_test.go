// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package qfvm

import "testing"

func TestRefCountEagerlyReclaimsOnRelease(t *testing.T) {
	vm, err := NewVM(Config{RegionSize: 4 * 1024, Strategy: RefCount})
	if err != nil {
		t.Fatalf("NewVM: %v", err)
	}

	r, err := vm.NewInt(1)
	if err != nil {
		t.Fatalf("NewInt: %v", err)
	}

	vm.Push(r)

	used := vm.HeapUsed()
	if used != 2*W {
		t.Fatalf("HeapUsed after one alloc = %d, want %d", used, 2*W)
	}

	if _, err := vm.Pop(); err != nil {
		t.Fatalf("Pop: %v", err)
	}

	if got := vm.HeapUsed(); got != 0 {
		t.Errorf("HeapUsed after dropping the only reference = %d, want 0 (eager reclaim)", got)
	}
}

func TestRefCountCascadesThroughWrapperChain(t *testing.T) {
	vm, err := NewVM(Config{RegionSize: 4 * 1024, Strategy: RefCount})
	if err != nil {
		t.Fatalf("NewVM: %v", err)
	}

	inner, err := vm.NewInt(1)
	if err != nil {
		t.Fatalf("NewInt: %v", err)
	}

	outer, err := vm.NewWrapper(inner)
	if err != nil {
		t.Fatalf("NewWrapper: %v", err)
	}

	vm.Push(outer)

	if _, err := vm.Pop(); err != nil {
		t.Fatalf("Pop: %v", err)
	}

	if got := vm.HeapUsed(); got != 0 {
		t.Errorf("HeapUsed after dropping the wrapper = %d, want 0 (release cascaded to inner)", got)
	}

	if _, live := vm.rc[inner.Addr()]; live {
		t.Errorf("inner still tracked in rc after its only referrer was reclaimed")
	}
}

// TestRefCountCyclesCollectsUnreachableCycle builds a two-node cycle with
// no root anchoring it and checks that RefCountCycles's trial-deletion
// pass reclaims both members, including cascading the release to a third
// object the cycle alone kept alive.
func TestRefCountCyclesCollectsUnreachableCycle(t *testing.T) {
	vm, err := NewVM(Config{RegionSize: 8 * 1024, Strategy: RefCountCycles})
	if err != nil {
		t.Fatalf("NewVM: %v", err)
	}

	tail, err := vm.NewInt(99)
	if err != nil {
		t.Fatalf("NewInt: %v", err)
	}

	a, err := vm.NewArray(2)
	if err != nil {
		t.Fatalf("NewArray: %v", err)
	}

	b, err := vm.NewArray(2)
	if err != nil {
		t.Fatalf("NewArray: %v", err)
	}

	// a[0] -> b, b[0] -> a (the cycle), b[1] -> tail (kept alive only by
	// the cycle, so it must be released once the cycle is collected).
	vm.SetSlot(a, 0, b)
	vm.SetSlot(b, 0, a)
	vm.SetSlot(b, 1, tail)

	// Drop the only outside references to a and b, which cannot reach 0
	// on their own since each still holds the other.
	vm.Push(a)
	vm.Push(b)

	if _, err := vm.Pop(); err != nil { // drops b's root ref; rc[b] still 1 via a[0]
		t.Fatalf("Pop: %v", err)
	}

	if _, err := vm.Pop(); err != nil { // drops a's root ref; rc[a] still 1 via b[0]
		t.Fatalf("Pop: %v", err)
	}

	if vm.HeapUsed() == 0 {
		t.Fatalf("cycle was eagerly reclaimed without a cycle collection pass")
	}

	if err := vm.GC(); err != nil {
		t.Fatalf("GC: %v", err)
	}

	if got := vm.HeapUsed(); got != 0 {
		t.Errorf("HeapUsed after cycle collection = %d, want 0", got)
	}

	for _, addr := range []int64{a.Addr(), b.Addr(), tail.Addr()} {
		if _, live := vm.rc[addr]; live {
			t.Errorf("address %d still tracked in rc after cycle collection", addr)
		}
	}
}

// TestRefCountCyclesKeepsExternallyAnchoredMemberAlive covers a cycle that
// is itself anchored to the root stack through one of its own members: A
// stays on the root stack directly while A.slot0 = B and B.slot0 = A. A's
// trial count stays positive only because of the root, not because of any
// edge from B, so a trial-deletion pass that condemns on the trial count
// alone would still wrongly free B while A.slot0 keeps pointing at it. The
// scan/restore phase must reach B by walking out from A and mark it live.
func TestRefCountCyclesKeepsExternallyAnchoredMemberAlive(t *testing.T) {
	vm, err := NewVM(Config{RegionSize: 8 * 1024, Strategy: RefCountCycles})
	if err != nil {
		t.Fatalf("NewVM: %v", err)
	}

	a, err := vm.NewArray(1)
	if err != nil {
		t.Fatalf("NewArray: %v", err)
	}

	b, err := vm.NewArray(1)
	if err != nil {
		t.Fatalf("NewArray: %v", err)
	}

	vm.SetSlot(a, 0, b)
	vm.SetSlot(b, 0, a)

	// A stays rooted; B is never rooted directly.
	vm.Push(a)

	if err := vm.GC(); err != nil {
		t.Fatalf("GC: %v", err)
	}

	if _, live := vm.rc[b.Addr()]; !live {
		t.Fatalf("B was freed even though A (rooted) still holds a slot pointing at it")
	}

	if got := vm.Slot(a, 0); got != b {
		t.Errorf("A.slot0 = %v after cycle collection, want unchanged reference to B (%v)", got, b)
	}

	if got := vm.Slot(b, 0); got != a {
		t.Errorf("B.slot0 = %v after cycle collection, want unchanged reference to A (%v)", got, a)
	}
}
