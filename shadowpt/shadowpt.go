// Package shadowpt implements the shadow page-table manager: the
// process's mirror of the ARMv7 two-level hardware page table, held as a
// binary-search tree of L2-table nodes each owning a secondary BST of
// leaf mapping nodes. Every node records what the kernel gave back at
// install time so the mapping can be undone later. The tree walks take
// the address of a child pointer field (&node.left) instead of tracking
// parents.
package shadowpt

import (
	"aos/armmmu"
	"aos/capability"
	"aos/defs"
	"aos/slab"
	"aos/util"
)

// Node is used both as an outer node (key = L1 index, subtree = inner
// BST root) and as an inner leaf node (key = page-aligned virtual
// address, subtree unused). One slab pool supplies both uses.
type Node struct {
	key        uintptr
	capObj     capability.Cap
	mappingRec capability.MappingRecord
	left       *Node
	right      *Node
	subtree    *Node // only meaningful on outer nodes
}

// Pool is the slab pool Node instances are drawn from.
type Pool = slab.Pool[Node]

// Manager owns the outer BST root, keyed by L1 index.
type Manager struct {
	root *Node
}

// findSlot walks the BST rooted at *root looking for key, returning the
// address of the pointer where key either lives or should be inserted.
func findSlot(root **Node, key uintptr) **Node {
	cur := root
	for *cur != nil {
		switch {
		case key == (*cur).key:
			return cur
		case key < (*cur).key:
			cur = &(*cur).left
		default:
			cur = &(*cur).right
		}
	}
	return cur
}

// deleteAt removes key from the BST rooted at *slot and returns the
// removed node (or nil if absent): the standard three-case delete,
// promoting the in-order successor when the node has two children.
func deleteAt(slot **Node, key uintptr) *Node {
	cur := *slot
	if cur == nil {
		return nil
	}
	if key < cur.key {
		return deleteAt(&cur.left, key)
	}
	if key > cur.key {
		return deleteAt(&cur.right, key)
	}
	switch {
	case cur.left == nil:
		*slot = cur.right
		cur.right = nil
	case cur.right == nil:
		*slot = cur.left
		cur.left = nil
	default:
		succSlot := &cur.right
		for (*succSlot).left != nil {
			succSlot = &(*succSlot).left
		}
		succ := *succSlot
		*succSlot = succ.right
		succ.right = nil
		succ.left = cur.left
		succ.right = cur.right
		*slot = succ
		cur.left, cur.right = nil, nil
	}
	return cur
}

type stride struct {
	l1idx    uintptr
	base     uintptr
	numPages int
}

// strides splits [vaddr, vaddr+size) into L2-aligned (1 MiB) chunks.
func strides(vaddr uintptr, size int) []stride {
	end := vaddr + uintptr(size)
	var out []stride
	cur := vaddr
	for cur < end {
		l1base := armmmu.L1Base(cur)
		strideEnd := l1base + uintptr(armmmu.L1EntrySize)
		if strideEnd > end {
			strideEnd = end
		}
		numPages := util.DivRoundup(int(strideEnd-cur), armmmu.PGSIZE)
		out = append(out, stride{
			l1idx:    uintptr(armmmu.L1Index(cur)),
			base:     cur,
			numPages: numPages,
		})
		cur = strideEnd
	}
	return out
}

func slotInL2(vaddr uintptr) int {
	off := vaddr - armmmu.L1Base(vaddr)
	return int(off) / armmmu.PGSIZE
}

// ensureL2 looks up (or installs) the outer node for l1idx. If a
// recursive invocation installed the same index between our lookup and
// our attempt to insert, the freshly allocated speculative node is
// discarded and the winner's node is reused.
func (m *Manager) ensureL2(k capability.Kernel, pool *Pool, l1 capability.Cap, l1idx uintptr, flags uint) (*Node, bool, defs.Err_t) {
	if slot := findSlot(&m.root, l1idx); *slot != nil {
		return *slot, false, 0
	}

	l2cap, err := k.NewL2Table()
	if err != 0 {
		return nil, false, err
	}
	node, serr := pool.Alloc()
	if serr != 0 {
		k.Destroy(l2cap)
		return nil, false, serr
	}

	// re-walk: a reentrant call (e.g. triggered by this pool.Alloc's
	// slab refill faulting) may have installed l1idx already.
	slot := findSlot(&m.root, l1idx)
	if *slot != nil {
		pool.Free(node)
		k.Destroy(l2cap)
		return *slot, false, 0
	}

	rec, err := k.MapSlot(l1, int(l1idx), 1, l2cap, flags)
	if err != 0 {
		pool.Free(node)
		k.Destroy(l2cap)
		return nil, false, err
	}
	node.key = l1idx
	node.capObj = l2cap
	node.mappingRec = rec
	*slot = node
	return node, true, 0
}

func (m *Manager) discardOuter(k capability.Kernel, pool *Pool, l1idx uintptr, outer *Node) {
	k.Unmap(outer.mappingRec)
	k.Destroy(outer.capObj)
	slot := findSlot(&m.root, l1idx)
	*slot = nil
	pool.Free(outer)
}

// Map installs frame at vaddr for size bytes with the given permission
// flags, walking L2-aligned strides. On any kernel-level
// failure the allocations made for the failing stride are unwound in LIFO
// order, the leaves installed by earlier strides of the same call are
// unmapped again, and the error is surfaced. Outer nodes installed by
// earlier strides are kept, as Unmap keeps them.
func (m *Manager) Map(k capability.Kernel, pool *Pool, l1 capability.Cap, vaddr uintptr, frame capability.Cap, size int, flags uint) defs.Err_t {
	// undo unmaps the leaves that earlier strides of this call installed.
	undo := func(upTo uintptr) {
		if upTo > vaddr {
			m.Unmap(k, pool, vaddr, int(upTo-vaddr))
		}
	}
	for _, st := range strides(vaddr, size) {
		outer, fresh, err := m.ensureL2(k, pool, l1, st.l1idx, flags)
		if err != 0 {
			undo(st.base)
			return err
		}

		leaf, lerr := pool.Alloc()
		if lerr != 0 {
			if fresh {
				m.discardOuter(k, pool, st.l1idx, outer)
			}
			undo(st.base)
			return lerr
		}
		rec, merr := k.MapSlot(outer.capObj, slotInL2(st.base), st.numPages, frame, flags)
		if merr != 0 {
			pool.Free(leaf)
			if fresh {
				m.discardOuter(k, pool, st.l1idx, outer)
			}
			undo(st.base)
			return merr
		}
		leaf.key = st.base
		leaf.capObj = frame
		leaf.mappingRec = rec
		*findSlot(&outer.subtree, st.base) = leaf
	}
	return 0
}

// Unmap tears down the mapping covering [vaddr, vaddr+size), walking the
// same L2-aligned strides Map used. Each deleted leaf has its mapping
// record unmapped, then its slab slot released. The frame capability the
// leaf was mapped from is not destroyed: one frame can back several leaves.
func (m *Manager) Unmap(k capability.Kernel, pool *Pool, vaddr uintptr, size int) defs.Err_t {
	for _, st := range strides(vaddr, size) {
		slot := findSlot(&m.root, st.l1idx)
		outer := *slot
		if outer == nil {
			continue
		}
		leaf := deleteAt(&outer.subtree, st.base)
		if leaf == nil {
			continue
		}
		if err := k.Unmap(leaf.mappingRec); err != 0 {
			return err
		}
		pool.Free(leaf)
	}
	return 0
}

// OuterNodeCount returns the number of live outer (L1-index) BST nodes,
// for tests asserting the cross-L1-boundary scenario.
func (m *Manager) OuterNodeCount() int {
	return countOuter(m.root)
}

func countOuter(n *Node) int {
	if n == nil {
		return 0
	}
	return 1 + countOuter(n.left) + countOuter(n.right)
}

// LeafCount returns the number of leaves installed under the outer node
// for l1idx, or 0 if no such outer node exists.
func (m *Manager) LeafCount(l1idx uintptr) int {
	slot := findSlot(&m.root, l1idx)
	if *slot == nil {
		return 0
	}
	return countOuter((*slot).subtree)
}

// Reachable reports whether every outer node (and every leaf beneath it)
// is reachable by BST key comparison from the root.
func (m *Manager) Reachable() bool {
	return reachable(m.root, nil, nil) && allInner(m.root)
}

func reachable(n *Node, lo, hi *uintptr) bool {
	if n == nil {
		return true
	}
	if lo != nil && n.key <= *lo {
		return false
	}
	if hi != nil && n.key >= *hi {
		return false
	}
	key := n.key
	return reachable(n.left, lo, &key) && reachable(n.right, &key, hi)
}

func allInner(n *Node) bool {
	if n == nil {
		return true
	}
	if !reachable(n.subtree, nil, nil) {
		return false
	}
	return allInner(n.left) && allInner(n.right)
}
