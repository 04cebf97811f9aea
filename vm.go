// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package qfvm

// A VM owns a managed heap (a QF allocator over one or two semispaces) and
// an explicit root stack, its sole source of GC roots. All
// object construction goes through VM so every allocation can trigger a
// collection and retry on exhaustion, and so reference-counted strategies
// see every store that might drop an object's last reference.
type VM struct {
	cfg Config

	qf         *QF
	semispaces [2][]byte // semispaces[1] is unused unless cfg.Strategy == Copying
	curSpace   int

	roots SmallVec

	// rc holds live reference counts, keyed by address in the active
	// semispace; populated only for RefCount/RefCountCycles.
	rc map[int64]int32
}

// NewVM builds a VM per cfg. For Copying, RegionSize is split into two
// equal semispaces and only one is active at a time.
func NewVM(cfg Config) (*VM, error) {
	cfg = cfg.normalized()

	vm := &VM{cfg: cfg}

	if cfg.Strategy == Copying {
		half := cfg.RegionSize / 2
		vm.semispaces[0] = make([]byte, half)
		vm.semispaces[1] = make([]byte, half)
	} else {
		vm.semispaces[0] = make([]byte, cfg.RegionSize)
	}

	qf, err := NewQF(vm.semispaces[0])
	if err != nil {
		return nil, err
	}

	vm.qf = qf

	if cfg.Strategy == RefCount || cfg.Strategy == RefCountCycles {
		vm.rc = make(map[int64]int32)
	}

	return vm, nil
}

// Mem exposes the active semispace for the object model and collectors.
func (vm *VM) Mem() region { return vm.qf.Mem() }

// QF exposes the active allocator, for collectors that rebuild its free
// structures directly.
func (vm *VM) QF() *QF { return vm.qf }

// HeapUsed returns the number of bytes currently allocated (not free) in
// the active semispace. Untracked bucket-seeding gaps are not part of
// QF's free space, so they are counted here as used.
func (vm *VM) HeapUsed() int64 { return vm.qf.RegionSize() - vm.qf.FreeSpace() }

// allocate is the vm_allocate trampoline: try, collect, retry, fail.
func (vm *VM) allocate(size int64) (int64, error) {
	if addr, ok := vm.qf.Alloc(size); ok {
		return addr, nil
	}

	if err := vm.GC(); err != nil {
		return 0, err
	}

	if addr, ok := vm.qf.Alloc(size); ok {
		return addr, nil
	}

	return 0, &OutOfMemoryError{Requested: size, HeapUsed: vm.HeapUsed(), HeapSize: vm.qf.RegionSize()}
}

func (vm *VM) trackAlloc(addr int64) {
	if vm.rc != nil {
		vm.rc[addr] = 0
	}
}

// NewInt allocates a boxed integer.
func (vm *VM) NewInt(v int64) (Ref, error) {
	addr, err := vm.allocate(2 * W)
	if err != nil {
		return NullRef, err
	}

	writeHeader(vm.Mem(), addr, makeHeader(TagInt, 0))
	writeInt(vm.Mem(), addr, v)
	vm.trackAlloc(addr)
	return MakeRef(TagInt, addr), nil
}

// NewFloat allocates a boxed float64.
func (vm *VM) NewFloat(v float64) (Ref, error) {
	addr, err := vm.allocate(2 * W)
	if err != nil {
		return NullRef, err
	}

	writeHeader(vm.Mem(), addr, makeHeader(TagFloat, 0))
	writeFloat(vm.Mem(), addr, v)
	vm.trackAlloc(addr)
	return MakeRef(TagFloat, addr), nil
}

// NewWrapper allocates a single-slot box around inner, retaining it.
func (vm *VM) NewWrapper(inner Ref) (Ref, error) {
	addr, err := vm.allocate(2 * W)
	if err != nil {
		return NullRef, err
	}

	writeHeader(vm.Mem(), addr, makeHeader(TagWrapper, 0))
	writeSlot(vm.Mem(), addr, 0, NullRef)
	vm.trackAlloc(addr)
	r := MakeRef(TagWrapper, addr)
	vm.SetSlot(r, 0, inner)
	return r, nil
}

// NewArray allocates an array of length slots, all initially null.
func (vm *VM) NewArray(length int64) (Ref, error) {
	if length < 0 {
		return NullRef, fatal(&InvalidSizeError{Msg: "array length must be >= 0", Arg: length})
	}

	size := roundUpA((1 + length) * W)

	addr, err := vm.allocate(size)
	if err != nil {
		return NullRef, err
	}

	writeHeader(vm.Mem(), addr, makeHeader(TagArray, length))
	for i := int64(0); i < length; i++ {
		writeSlot(vm.Mem(), addr, i, NullRef)
	}

	vm.trackAlloc(addr)
	return MakeRef(TagArray, addr), nil
}

// Int returns the boxed value of r, which must have TagInt.
func (vm *VM) Int(r Ref) int64 { return readInt(vm.Mem(), r.Addr()) }

// Float returns the boxed value of r, which must have TagFloat.
func (vm *VM) Float(r Ref) float64 { return readFloat(vm.Mem(), r.Addr()) }

// Slot returns the i-th reference slot of a wrapper or array.
func (vm *VM) Slot(r Ref, i int64) Ref { return readSlot(vm.Mem(), r.Addr(), i) }

// SetSlot overwrites the i-th reference slot of a wrapper or array,
// retaining the new value and releasing the old one (a no-op pair under
// non-reference-counted strategies).
func (vm *VM) SetSlot(r Ref, i int64, v Ref) {
	addr := r.Addr()
	old := readSlot(vm.Mem(), addr, i)
	writeSlot(vm.Mem(), addr, i, v)
	vm.retain(v)
	vm.release(old)
}

// Push roots r, retaining it.
func (vm *VM) Push(r Ref) {
	vm.roots.Push(uint64(r))
	vm.retain(r)
}

// Pop unroots and returns the top of the root stack, releasing it. It
// returns a RootStackUnderflowError, wrapped fatal, if the stack is empty
// (an underflow is a programmer error, not a recoverable allocation
// failure).
func (vm *VM) Pop() (Ref, error) {
	if vm.roots.Len() == 0 {
		return NullRef, fatal(&RootStackUnderflowError{})
	}

	r := Ref(vm.roots.Peek())
	vm.roots.Truncate(vm.roots.Len() - 1)
	vm.release(r)
	return r, nil
}

// Get returns the root at stack index i (0-based from the bottom).
func (vm *VM) Get(i int) Ref { return Ref(vm.roots.Get(i)) }

// Set overwrites the root at stack index i, retaining the new value and
// releasing the old one.
func (vm *VM) Set(i int, r Ref) {
	old := Ref(vm.roots.Get(i))
	vm.roots.Set(i, uint64(r))
	vm.retain(r)
	vm.release(old)
}

// RootCount returns the number of entries on the root stack.
func (vm *VM) RootCount() int { return vm.roots.Len() }

// GC forces a collection using the configured strategy. Under RefCount
// (no cycle collector) this is a no-op: reclamation already happened
// eagerly as references were dropped. It returns a *FatalError wrapping a
// HeapCorruptionError if a collector finds the heap inconsistent.
func (vm *VM) GC() error {
	switch vm.cfg.Strategy {
	case MarkSweep:
		return collectMarkSweep(vm)
	case Copying:
		return collectCopying(vm)
	case RefCountCycles:
		return collectCycles(vm)
	case RefCount:
	}

	return nil
}
