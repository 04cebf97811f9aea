// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package qfvm

// NBuckets is the number of quick-fit size classes, spanning exact block
// sizes A, 2A, ... NBuckets*A. 64 is the only value under which the
// documented worked examples (basic, small-alloc, largest-free-block,
// can-allot-p) are all mutually consistent.
const NBuckets = 64

// LargeBlockThreshold returns the size, in bytes, a free block must reach
// before QF will use it to *fully* seed the bucket for req. Below this,
// QF still seeds the bucket using whatever large block is available
// (producing fewer than NBuckets-1 siblings), provided req itself is
// still within the small-size range; see seedAndAlloc.
func LargeBlockThreshold(req int64) int64 { return req * NBuckets }

// A QF is a quick-fit segregated free-list allocator carved out of a
// single contiguous []byte region. Free blocks of an exact small size
// (<= NBuckets*A) live in a LIFO SmallVec per size class; free blocks
// larger than that live in an OrderedMap keyed by size. QF performs no
// coalescing of its own — that is the GC sweep's job (see
// gc_marksweep.go), the only place adjacent free blocks get joined.
type QF struct {
	mem        []byte
	regionSize int64

	// buckets[0] is unused; buckets[k] (1 <= k <= NBuckets) holds the
	// addresses of free blocks of exact size k*A.
	buckets [NBuckets + 1]SmallVec
	large   OrderedMap

	nBlocks   int64
	freeSpace int64
}

// NewQF installs a single free block covering the whole (A-aligned) region
// and returns the allocator over it. The region must be at least 2*A
// bytes; smaller regions cannot hold even the minimum block.
func NewQF(mem []byte) (*QF, error) {
	aligned := int64(len(mem)) / A * A
	if aligned < 2*A {
		return nil, fatal(&InvalidSizeError{Msg: "QF region must be at least 2*A bytes", Arg: int64(len(mem))})
	}

	qf := &QF{mem: mem[:aligned], regionSize: aligned}
	qf.Clear()
	return qf, nil
}

// RegionSize returns the aligned size of the managed region.
func (qf *QF) RegionSize() int64 { return qf.regionSize }

// NBlocks returns the total number of free blocks (small + large).
func (qf *QF) NBlocks() int64 { return qf.nBlocks }

// FreeSpace returns total free bytes tracked by QF. Note a bucket-seeding
// split can leave an untracked "gap" smaller than A*NBuckets (see
// DESIGN.md, Open Question 1); such a gap is not reflected here, by
// design.
func (qf *QF) FreeSpace() int64 { return qf.freeSpace }

// normalizeRequest rounds a byte request up to a multiple of A, never
// below A itself (a one-word header plus one payload word, the smallest
// object objmodel.go ever allocates).
func normalizeRequest(req int64) int64 {
	r := roundUpA(req)
	if r < A {
		r = A
	}

	return r
}

func (qf *QF) isSmall(req int64) bool { return req <= int64(NBuckets)*A }

func (qf *QF) bucketIndex(req int64) int { return int(req / A) }

// insertFree adds a free block to the appropriate structure (bucket or
// large map) without touching nBlocks/freeSpace bookkeeping; callers that
// are tracking a newly-freed block (as opposed to initial population)
// must bump those themselves. Used by Free and allocLarge.
func (qf *QF) insertFree(addr, size int64) {
	beStore64(qf.mem[addr:], uint64(size))
	if qf.isSmall(size) {
		qf.buckets[qf.bucketIndex(size)].Push(uint64(addr))
	} else {
		qf.large.Insert(uint64(size), addr)
	}
}

// Alloc finds or carves out a block of at least reqBytes. It returns the
// address of a new block and true, or (0, false) if no policy can satisfy
// the request without a collection.
func (qf *QF) Alloc(reqBytes int64) (addr int64, ok bool) {
	req := normalizeRequest(reqBytes)

	if !qf.isSmall(req) {
		return qf.allocLarge(req)
	}

	idx := qf.bucketIndex(req)
	if qf.buckets[idx].Len() > 0 {
		addr = int64(qf.buckets[idx].Pop())
		qf.nBlocks--
		qf.freeSpace -= req
		beStore64(qf.mem[addr:], uint64(req))
		return addr, true
	}

	return qf.seedAndAlloc(req, idx)
}

// seedAndAlloc implements step 3: carve a large block into the requested
// block plus as many req-sized siblings as fit (capped at NBuckets-1),
// preferring a source block big enough to fill the whole bucket
// (LargeBlockThreshold) but falling back to any large block >= req.
func (qf *QF) seedAndAlloc(req int64, idx int) (addr int64, ok bool) {
	key, srcAddr, found := qf.large.FindBestFit(uint64(LargeBlockThreshold(req)))
	if !found {
		key, srcAddr, found = qf.large.FindBestFit(uint64(req))
	}

	if !found {
		return 0, false
	}

	qf.large.RemoveOne(key, srcAddr)
	size := int64(key)
	qf.nBlocks--
	qf.freeSpace -= size

	resultAddr := srcAddr
	remAddr := srcAddr + req
	remSize := size - req

	siblings := 0
	for remSize >= req && siblings < NBuckets-1 {
		beStore64(qf.mem[remAddr:], uint64(req))
		qf.buckets[idx].Push(uint64(remAddr))
		qf.nBlocks++
		qf.freeSpace += req
		remAddr += req
		remSize -= req
		siblings++
	}

	if remSize > 0 {
		if remSize >= int64(NBuckets)*A {
			beStore64(qf.mem[remAddr:], uint64(remSize))
			qf.large.Insert(uint64(remSize), remAddr)
			qf.nBlocks++
			qf.freeSpace += remSize
		} else {
			// An unusable gap, neither large nor this bucket's exact size:
			// left out of every bucket/large structure (see DESIGN.md, Open
			// Question 1), but still stamped with its own size so a linear
			// walk (sweep, Audit) can skip over it instead of reading stale
			// bytes. It stays lost until the next mark-sweep cycle rebuilds
			// QF's free structures from a full region scan.
			beStore64(qf.mem[remAddr:], uint64(remSize))
		}
	}

	beStore64(qf.mem[resultAddr:], uint64(req))
	return resultAddr, true
}

// allocLarge implements step 4: direct best-fit against the large-block
// map, with the remainder returned whole to whichever structure fits it.
func (qf *QF) allocLarge(req int64) (addr int64, ok bool) {
	key, srcAddr, found := qf.large.FindBestFit(uint64(req))
	if !found {
		return 0, false
	}

	qf.large.RemoveOne(key, srcAddr)
	size := int64(key)
	qf.nBlocks--
	qf.freeSpace -= size

	remSize := size - req
	if remSize > 0 {
		remAddr := srcAddr + req
		qf.insertFree(remAddr, remSize)
		qf.nBlocks++
		qf.freeSpace += remSize
	}

	beStore64(qf.mem[srcAddr:], uint64(req))
	return srcAddr, true
}

// Free returns a block of the given size to QF. size must be exactly what
// Alloc returned for addr; a wrong size silently corrupts the allocator's
// bookkeeping (caller-fault).
func (qf *QF) Free(addr, size int64) {
	qf.insertFree(addr, size)
	qf.nBlocks++
	qf.freeSpace += size
}

// CanAlloc reports whether the next Alloc(reqBytes) would succeed without
// an intervening collection: true iff a
// sufficiently large block already exists, or — for small requests — the
// exact bucket is already seeded. This check is deliberately conservative:
// it does not model Alloc's "fall back to any large block >= req" seeding
// path, so CanAlloc==true always implies Alloc succeeds, but the converse
// does not hold.
func (qf *QF) CanAlloc(reqBytes int64) bool {
	req := normalizeRequest(reqBytes)

	if qf.isSmall(req) {
		if qf.buckets[qf.bucketIndex(req)].Len() > 0 {
			return true
		}

		_, _, ok := qf.large.FindBestFit(uint64(LargeBlockThreshold(req)))
		return ok
	}

	_, _, ok := qf.large.FindBestFit(uint64(req))
	return ok
}

// LargestFreeBlock returns the size of the largest free block QF knows
// about without scanning the region.
func (qf *QF) LargestFreeBlock() int64 {
	var largest int64
	if key, ok := qf.large.Max(); ok {
		largest = int64(key)
	}

	for i := NBuckets; i >= 1; i-- {
		if qf.buckets[i].Len() > 0 {
			if v := int64(i) * A; v > largest {
				largest = v
			}

			break
		}
	}

	return largest
}

// resetFree discards every free block QF knows about, without touching
// anything currently allocated. Used by the mark-sweep collector, which
// rebuilds QF's free structures from scratch after each sweep rather than
// patching them incrementally (QF does not
// coalesce" — coalescing instead happens once, linearly, during sweep).
func (qf *QF) resetFree() {
	for i := range qf.buckets {
		qf.buckets[i] = SmallVec{}
	}

	qf.large = OrderedMap{}
	qf.nBlocks = 0
	qf.freeSpace = 0
}

// Clear resets QF to its initial, single-large-block state, discarding
// all fragmentation.
func (qf *QF) Clear() {
	qf.resetFree()
	beStore64(qf.mem, uint64(qf.regionSize))
	qf.large.Insert(uint64(qf.regionSize), 0)
	qf.nBlocks = 1
	qf.freeSpace = qf.regionSize
}

// BlockSize returns the size QF most recently stamped into the first word
// of the block at addr. Valid only until the caller overwrites that
// word with their own payload (the VM does so immediately in its
// constructors), and for free blocks until the next Alloc/Free touches it.
func (qf *QF) BlockSize(addr int64) int64 { return int64(beLoad64(qf.mem[addr:])) }

// Mem exposes the backing region for the object model and GC, which read
// and write object headers/slots directly.
func (qf *QF) Mem() []byte { return qf.mem }

// Audit walks the whole region exactly once, tag by tag, checking that
// every block — free or live — tiles the region with no gap, no overlap,
// and no malformed header, then cross-checks the total free byte count it
// found against QF's own bookkeeping. Each problem found is reported to
// log rather than stopping at the first one; log may return false to ask
// Audit to stop early, in which case Audit returns a *FatalError wrapping
// the cause just reported. A nil log treats the first problem as fatal.
// Audit never mutates the region: it is the read-only analogue of the
// rebuild-from-scratch scan the mark-sweep collector already performs
// destructively during its sweep phase.
func (qf *QF) Audit(log func(error) bool) error {
	if log == nil {
		log = func(error) bool { return false }
	}

	mem := qf.mem
	var scannedFree int64

	addr := int64(0)
	for addr < qf.regionSize {
		w := beLoad64(mem[addr:])
		tag := byte(w & tagMask)

		var size int64
		if tag == 0 {
			size = int64(w)
			if size <= 0 || size%A != 0 {
				err := &HeapCorruptionError{Addr: addr, Msg: "free block has a non-positive or misaligned stamped size"}
				if !log(err) {
					return fatal(err)
				}

				break
			}

			scannedFree += size
		} else {
			sz, err := objectSize(mem, addr)
			if err != nil {
				if !log(err) {
					return fatal(err)
				}

				break
			}

			size = sz
		}

		if addr+size > qf.regionSize {
			err := &HeapCorruptionError{Addr: addr, Msg: "block extends past the end of the region"}
			if !log(err) {
				return fatal(err)
			}

			break
		}

		addr += size
	}

	if addr != qf.regionSize {
		err := &HeapCorruptionError{Addr: addr, Msg: "audit walk did not land exactly on the region size"}
		if !log(err) {
			return fatal(err)
		}
	}

	if scannedFree < qf.freeSpace {
		err := &HeapCorruptionError{Addr: 0, Msg: "fewer free bytes on the heap than QF's own bookkeeping claims"}
		if !log(err) {
			return fatal(err)
		}
	}

	return nil
}
