// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package qfvm

// Word size and data alignment. A == 16 is the smallest
// block: one header word plus one payload word.
const (
	W = 8  // machine word size in bytes
	A = 16 // data alignment in bytes
)

// Type tags. Tag 0 is deliberately unassigned: a tagged reference or header
// of all-zero bits (address 0, tag 0) is the null reference, and no real
// object may ever read back as tag 0, so the zero value of a Ref is always
// safely interpreted as null regardless of which address it happens to
// carry. This reuses alignment slack for metadata the same way the header
// word below packs a type tag and mark bit into bits the payload never
// needs.
const (
	TagInt     = 1
	TagFloat   = 2
	TagWrapper = 3
	TagArray   = 4

	tagBits = 3
	tagMask = uint64(1)<<tagBits - 1
	addrMask = ^(uint64(A) - 1)
)

// Ref is a one-word tagged reference: the low tagBits bits carry the type
// tag, the rest an A-aligned address relative to the base of the managed
// region. The zero Ref is the null reference.
type Ref uint64

// NullRef is the null reference.
const NullRef Ref = 0

// IsNull reports whether r is the null reference.
func (r Ref) IsNull() bool { return r == NullRef }

// Tag returns r's type tag.
func (r Ref) Tag() byte { return byte(uint64(r) & tagMask) }

// Addr returns r's A-aligned address.
func (r Ref) Addr() int64 { return int64(uint64(r) & addrMask) }

// MakeRef packs tag and an A-aligned addr into a Ref.
func MakeRef(tag byte, addr int64) Ref {
	return Ref(uint64(addr)&addrMask | uint64(tag)&tagMask)
}

// roundUpA rounds n up to the next multiple of A.
func roundUpA(n int64) int64 {
	return (n + A - 1) &^ (A - 1)
}

// Header bit layout, one word: bits [0,tagBits) the type tag (redundant
// with the reference's own tag, consulted during sweep when only the
// address, not the originating reference, is known), bit `markBit` the
// mark bit, and the remaining high bits an array's length field.
const (
	markBit     = uint64(1) << tagBits
	lengthShift = tagBits + 1
)

func makeHeader(tag byte, length int64) uint64 {
	return uint64(tag)&tagMask | uint64(length)<<lengthShift
}

func headerTag(h uint64) byte        { return byte(h & tagMask) }
func headerMarked(h uint64) bool     { return h&markBit != 0 }
func headerSetMark(h uint64) uint64  { return h | markBit }
func headerClearMark(h uint64) uint64 { return h &^ markBit }
func headerLength(h uint64) int64    { return int64(h >> lengthShift) }

// region is the thin byte-level accessor the object model reads/writes
// through; both QF and the VM operate on the same backing slice.
type region = []byte

func readHeader(mem region, addr int64) uint64 {
	return beLoad64(mem[addr:])
}

func writeHeader(mem region, addr int64, h uint64) {
	beStore64(mem[addr:], h)
}

// objectSize returns the total allocated size, in bytes, of the object at
// addr, consulting the length field for arrays.
func objectSize(mem region, addr int64) (int64, error) {
	h := readHeader(mem, addr)
	switch headerTag(h) {
	case TagInt, TagFloat, TagWrapper:
		return 2 * W, nil
	case TagArray:
		l := headerLength(h)
		if l < 0 {
			return 0, &HeapCorruptionError{Addr: addr, Msg: "negative array length"}
		}

		return roundUpA((1 + l) * W), nil
	default:
		return 0, &HeapCorruptionError{Addr: addr, Msg: "unknown tag in header"}
	}
}

// slotCount returns the number of reference slots at addr: 0 for int/float,
// 1 for wrapper, L for array.
func slotCount(mem region, addr int64) int64 {
	h := readHeader(mem, addr)
	switch headerTag(h) {
	case TagWrapper:
		return 1
	case TagArray:
		return headerLength(h)
	default:
		return 0
	}
}

// slotPtr returns the byte offset of the i-th reference slot of the object
// at addr. Slots start immediately after the one-word header.
func slotPtr(addr int64, i int64) int64 {
	return addr + W + i*W
}

func readSlot(mem region, addr int64, i int64) Ref {
	return Ref(beLoad64(mem[slotPtr(addr, i):]))
}

func writeSlot(mem region, addr int64, i int64, v Ref) {
	beStore64(mem[slotPtr(addr, i):], uint64(v))
}

func readInt(mem region, addr int64) int64 {
	return int64(beLoad64(mem[addr+W:]))
}

func writeInt(mem region, addr int64, v int64) {
	beStore64(mem[addr+W:], uint64(v))
}

func readFloat(mem region, addr int64) float64 {
	return float64frombits(beLoad64(mem[addr+W:]))
}

func writeFloat(mem region, addr int64, v float64) {
	beStore64(mem[addr+W:], float64bits(v))
}

// forEachSlot calls fn for every reference slot of the object at addr (in
// index order), used by every collector variant to walk the object graph
// without duplicating the wrapper-vs-array switch.
func forEachSlot(mem region, addr int64, fn func(i int64, r Ref)) {
	n := slotCount(mem, addr)
	for i := int64(0); i < n; i++ {
		fn(i, readSlot(mem, addr, i))
	}
}
