// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package qfvm

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/golang/snappy"
)

// dumpFrame is one pending node in an iterative (no Go-stack recursion,
// per the package-wide traversal discipline) tree walk of the root stack.
type dumpFrame struct {
	ref   Ref
	depth int
}

// Dump writes an indented, human-readable walk of every root and the
// object graph reachable from it, as an explicit-stack tree print over the
// VM's four object kinds. A ref reachable
// by more than one path — expected under RefCountCycles, possible under
// any strategy via a shared wrapper — prints once per root's walk and is
// thereafter shown as a back-reference within that walk, so a cyclic
// graph always produces finite output. Each root starts a fresh walk, so
// an object reachable from two roots is printed under both.
func (vm *VM) Dump(w io.Writer) error {
	bw := bufio.NewWriter(w)
	if err := vm.dumpTo(bw); err != nil {
		return err
	}

	return bw.Flush()
}

// DumpCompressed writes the same tree walk through a snappy stream,
// trading CPU for space on the (potentially large and repetitive) trace
// of a long-running VM.
func (vm *VM) DumpCompressed(w io.Writer) error {
	sw := snappy.NewBufferedWriter(w)

	if err := vm.dumpTo(sw); err != nil {
		sw.Close()
		return err
	}

	return sw.Close()
}

func (vm *VM) dumpTo(w io.Writer) error {
	mem := vm.Mem()

	for i := 0; i < vm.roots.Len(); i++ {
		fmt.Fprintf(w, "root[%d]:\n", i)

		if err := dumpTree(w, mem, Ref(vm.roots.Get(i))); err != nil {
			return err
		}
	}

	return nil
}

func dumpTree(w io.Writer, mem region, root Ref) error {
	visited := make(map[int64]bool)
	stack := []dumpFrame{{root, 1}}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		indent := strings.Repeat("  ", f.depth)

		if f.ref.IsNull() {
			fmt.Fprintf(w, "%snull\n", indent)
			continue
		}

		addr := f.ref.Addr()
		if visited[addr] {
			fmt.Fprintf(w, "%s<ref addr=%d>\n", indent, addr)
			continue
		}

		visited[addr] = true

		h := readHeader(mem, addr)
		switch headerTag(h) {
		case TagInt:
			fmt.Fprintf(w, "%sint %d\n", indent, readInt(mem, addr))
		case TagFloat:
			fmt.Fprintf(w, "%sfloat %v\n", indent, readFloat(mem, addr))
		case TagWrapper:
			fmt.Fprintf(w, "%swrapper\n", indent)
			stack = append(stack, dumpFrame{readSlot(mem, addr, 0), f.depth + 1})
		case TagArray:
			l := headerLength(h)
			fmt.Fprintf(w, "%sarray[%d]\n", indent, l)

			for i := l - 1; i >= 0; i-- {
				stack = append(stack, dumpFrame{readSlot(mem, addr, i), f.depth + 1})
			}
		default:
			return &HeapCorruptionError{Addr: addr, Msg: "unknown tag during dump"}
		}
	}

	return nil
}
