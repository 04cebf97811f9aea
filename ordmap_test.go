// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package qfvm

import "testing"

func TestOrderedMapInsertFindBestFit(t *testing.T) {
	var m OrderedMap

	m.Insert(16, 100)
	m.Insert(32, 200)
	m.Insert(64, 300)

	key, addr, ok := m.FindBestFit(20)
	if !ok || key != 32 || addr != 200 {
		t.Fatalf("FindBestFit(20) = (%d, %d, %v), want (32, 200, true)", key, addr, ok)
	}

	key, addr, ok = m.FindBestFit(64)
	if !ok || key != 64 || addr != 300 {
		t.Fatalf("FindBestFit(64) = (%d, %d, %v), want (64, 300, true)", key, addr, ok)
	}

	if _, _, ok := m.FindBestFit(65); ok {
		t.Fatalf("FindBestFit(65) found a fit, want none")
	}
}

func TestOrderedMapDuplicateKeys(t *testing.T) {
	var m OrderedMap

	m.Insert(16, 1)
	m.Insert(16, 2)
	m.Insert(16, 3)

	if got := m.Size(); got != 3 {
		t.Fatalf("Size() = %d, want 3", got)
	}

	if !m.RemoveOne(16, 2) {
		t.Fatalf("RemoveOne(16, 2) = false, want true")
	}

	if got := m.Size(); got != 2 {
		t.Fatalf("Size() after RemoveOne = %d, want 2", got)
	}

	if m.RemoveOne(16, 2) {
		t.Fatalf("RemoveOne(16, 2) succeeded twice")
	}

	if !m.RemoveOne(16, 1) || !m.RemoveOne(16, 3) {
		t.Fatalf("expected remaining entries to be removable")
	}

	if _, _, ok := m.FindBestFit(0); ok {
		t.Fatalf("map should be empty after removing every entry under key 16")
	}
}

func TestOrderedMapMinMax(t *testing.T) {
	var m OrderedMap

	if _, ok := m.Min(); ok {
		t.Fatalf("Min() on empty map reported ok")
	}

	for _, k := range []uint64{50, 10, 90, 30, 70} {
		m.Insert(k, int64(k))
	}

	if got, ok := m.Min(); !ok || got != 10 {
		t.Fatalf("Min() = (%d, %v), want (10, true)", got, ok)
	}

	if got, ok := m.Max(); !ok || got != 90 {
		t.Fatalf("Max() = (%d, %v), want (90, true)", got, ok)
	}
}

func TestOrderedMapDeleteKeepsTreeConsistent(t *testing.T) {
	var m OrderedMap

	keys := []uint64{50, 30, 70, 20, 40, 60, 80, 10}
	for _, k := range keys {
		m.Insert(k, int64(k))
	}

	// Delete a two-children node (30) and a leaf (10) and make sure every
	// remaining key is still reachable via FindBestFit.
	if !m.RemoveOne(30, 30) {
		t.Fatalf("RemoveOne(30, 30) = false")
	}

	if !m.RemoveOne(10, 10) {
		t.Fatalf("RemoveOne(10, 10) = false")
	}

	remaining := []uint64{20, 40, 50, 60, 70, 80}
	for _, k := range remaining {
		if key, _, ok := m.FindBestFit(k); !ok || key != k {
			t.Errorf("FindBestFit(%d) = (%d, %v), want (%d, true)", k, key, ok, k)
		}
	}

	if got := m.Size(); got != len(remaining) {
		t.Fatalf("Size() = %d, want %d", got, len(remaining))
	}
}
