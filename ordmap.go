// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package qfvm

// An OrderedMap is a strictly ordered associative container keyed by an
// unsigned integer size, where each key may own more than one address (QF
// can have many free blocks of the same size). It is implemented as an
// iterative (no Go-stack recursion) height-balanced binary search tree,
// with a lower-bound walk generalized to a true best-fit query and a
// per-key duplicate list for the case where more than one free block
// shares a size.
type OrderedMap struct {
	root  *omNode
	count int // total (key, addr) entries, counting duplicates
}

type omNode struct {
	key                 uint64
	addrs               SmallVec
	left, right, parent *omNode
	height              int8
}

func omHeight(n *omNode) int8 {
	if n == nil {
		return 0
	}

	return n.height
}

func omUpdateHeight(n *omNode) {
	lh, rh := omHeight(n.left), omHeight(n.right)
	if lh > rh {
		n.height = lh + 1
	} else {
		n.height = rh + 1
	}
}

func omBalance(n *omNode) int {
	return int(omHeight(n.left)) - int(omHeight(n.right))
}

// Size returns the total number of (key, addr) entries in the map.
func (m *OrderedMap) Size() int { return m.count }

// Insert adds addr under key. Duplicate keys are supported: a repeated key
// appends to that key's address list rather than creating a second node.
func (m *OrderedMap) Insert(key uint64, addr int64) {
	m.count++

	if m.root == nil {
		n := &omNode{key: key, height: 1}
		n.addrs.Push(uint64(addr))
		m.root = n
		return
	}

	cur := m.root
	for {
		switch {
		case key == cur.key:
			cur.addrs.Push(uint64(addr))
			return
		case key < cur.key:
			if cur.left == nil {
				n := &omNode{key: key, height: 1, parent: cur}
				n.addrs.Push(uint64(addr))
				cur.left = n
				m.rebalanceFrom(cur)
				return
			}

			cur = cur.left
		default:
			if cur.right == nil {
				n := &omNode{key: key, height: 1, parent: cur}
				n.addrs.Push(uint64(addr))
				cur.right = n
				m.rebalanceFrom(cur)
				return
			}

			cur = cur.right
		}
	}
}

// RemoveOne removes a single occurrence of addr stored under key. It
// reports whether such an entry existed. If it was the last address under
// key, the node itself is removed from the tree.
func (m *OrderedMap) RemoveOne(key uint64, addr int64) bool {
	n := m.find(key)
	if n == nil {
		return false
	}

	removed := false
	for i := 0; i < n.addrs.Len(); i++ {
		if n.addrs.Get(i) == uint64(addr) {
			n.addrs.RemoveSwap(i)
			removed = true
			break
		}
	}

	if !removed {
		return false
	}

	m.count--
	if n.addrs.Len() == 0 {
		m.deleteNode(n)
	}

	return true
}

// FindBestFit returns the smallest key >= query that has at least one
// address, plus one such address (non-destructively — callers that intend
// to consume it call RemoveOne themselves, as QF does).
func (m *OrderedMap) FindBestFit(query uint64) (key uint64, addr int64, ok bool) {
	var best *omNode
	cur := m.root
	for cur != nil {
		switch {
		case cur.key == query:
			best = cur
			cur = nil
		case cur.key > query:
			best = cur
			cur = cur.left
		default:
			cur = cur.right
		}
	}

	if best == nil {
		return 0, 0, false
	}

	return best.key, int64(best.addrs.Peek()), true
}

// Max returns the largest key present in the map.
func (m *OrderedMap) Max() (key uint64, ok bool) {
	if m.root == nil {
		return 0, false
	}

	n := m.root
	for n.right != nil {
		n = n.right
	}

	return n.key, true
}

// Min returns the smallest key present in the map.
func (m *OrderedMap) Min() (key uint64, ok bool) {
	if m.root == nil {
		return 0, false
	}

	n := m.root
	for n.left != nil {
		n = n.left
	}

	return n.key, true
}

func (m *OrderedMap) find(key uint64) *omNode {
	cur := m.root
	for cur != nil {
		switch {
		case key == cur.key:
			return cur
		case key < cur.key:
			cur = cur.left
		default:
			cur = cur.right
		}
	}

	return nil
}

// replaceChild makes newChild take oldChild's place under parent (or as
// the root if parent is nil) and updates newChild's parent pointer.
func (m *OrderedMap) replaceChild(parent, oldChild, newChild *omNode) {
	if parent == nil {
		m.root = newChild
	} else if parent.left == oldChild {
		parent.left = newChild
	} else {
		parent.right = newChild
	}

	if newChild != nil {
		newChild.parent = parent
	}
}

func (m *OrderedMap) rotateLeft(y *omNode) *omNode {
	x := y.right
	y.right = x.left
	if x.left != nil {
		x.left.parent = y
	}

	m.replaceChild(y.parent, y, x)
	x.left = y
	y.parent = x
	omUpdateHeight(y)
	omUpdateHeight(x)
	return x
}

func (m *OrderedMap) rotateRight(y *omNode) *omNode {
	x := y.left
	y.left = x.right
	if x.right != nil {
		x.right.parent = y
	}

	m.replaceChild(y.parent, y, x)
	x.right = y
	y.parent = x
	omUpdateHeight(y)
	omUpdateHeight(x)
	return x
}

// rebalanceFrom walks upward from n to the root, iteratively, fixing
// heights and rotating any node that has become unbalanced. No recursion,
// per the design note governing every traversal in this package.
func (m *OrderedMap) rebalanceFrom(n *omNode) {
	for n != nil {
		omUpdateHeight(n)
		bf := omBalance(n)
		switch {
		case bf > 1:
			if omBalance(n.left) < 0 {
				m.rotateLeft(n.left)
			}

			n = m.rotateRight(n)
		case bf < -1:
			if omBalance(n.right) > 0 {
				m.rotateRight(n.right)
			}

			n = m.rotateLeft(n)
		}

		n = n.parent
	}
}

// deleteNode removes n, which must have an empty address list, from the
// tree, then rebalances from the point of physical removal.
func (m *OrderedMap) deleteNode(n *omNode) {
	switch {
	case n.left != nil && n.right != nil:
		// Two children: splice in the in-order successor (leftmost node
		// of the right subtree), then delete that successor node, whose
		// position has at most one child.
		succ := n.right
		for succ.left != nil {
			succ = succ.left
		}

		n.key = succ.key
		n.addrs = succ.addrs

		// succ is the leftmost node of n.right, so it has no left child;
		// splice it out directly instead of recursing into deleteNode.
		if succ.right != nil {
			m.replaceChild(succ.parent, succ, succ.right)
			m.rebalanceFrom(succ.parent)
		} else {
			parent := succ.parent
			m.replaceChild(parent, succ, nil)
			m.rebalanceFrom(parent)
		}
	case n.left != nil:
		m.replaceChild(n.parent, n, n.left)
		m.rebalanceFrom(n.parent)
	case n.right != nil:
		m.replaceChild(n.parent, n, n.right)
		m.rebalanceFrom(n.parent)
	default:
		parent := n.parent
		m.replaceChild(parent, n, nil)
		m.rebalanceFrom(parent)
	}
}
