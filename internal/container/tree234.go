// Package container implements a 2-3-4 B-tree ordered map keyed by a
// caller-supplied total order. In this module it backs the timerwheel
// package's schedule.
package container

// Less reports whether a orders strictly before b.
type Less func(a, b any) bool

// Tree234 is a balanced 2-3-4 tree of opaque elements ordered by Less.
// Every internal node holds 1..3 keys and has 2..4 children; all leaves sit
// at the same depth. Tree234 is not safe for concurrent use; callers that
// share a tree across goroutines must serialize access externally (as the
// single-threaded session model in backend.Session does).
type Tree234 struct {
	root *node234
	less Less
	n    int
}

type node234 struct {
	leaf     bool
	keys     []any       // 1..3 while balanced; transiently up to 4 mid-operation
	children []*node234  // len(keys)+1 when internal
}

// New returns an empty tree ordered by less.
func New(less Less) *Tree234 {
	return &Tree234{less: less}
}

// Len returns the number of elements stored.
func (t *Tree234) Len() int { return t.n }

// Add inserts e if no equal element (by less) is already present, and
// returns nil. If an equal element exists, the tree is left unchanged and
// the pre-existing element is returned — the "insert-if-absent" contract.
func (t *Tree234) Add(e any) any {
	if t.root == nil {
		t.root = &node234{leaf: true, keys: []any{e}}
		t.n++
		return nil
	}
	if t.root.full() {
		newRoot := &node234{children: []*node234{t.root}}
		newRoot.splitChild(0, t.less)
		t.root = newRoot
	}
	existing, inserted := t.insertNonFull(t.root, e)
	if inserted {
		t.n++
	}
	return existing
}

func (n *node234) full() bool { return len(n.keys) == 3 }

// splitChild splits the full child at index i of n, pulling the median key
// up into n. n must not itself be full.
func (n *node234) splitChild(i int, less Less) {
	child := n.children[i]
	mid := child.keys[1]

	left := &node234{leaf: child.leaf, keys: append([]any{}, child.keys[:1]...)}
	right := &node234{leaf: child.leaf, keys: append([]any{}, child.keys[2:]...)}
	if !child.leaf {
		left.children = append([]*node234{}, child.children[:2]...)
		right.children = append([]*node234{}, child.children[2:]...)
	}

	n.keys = append(n.keys, nil)
	copy(n.keys[i+1:], n.keys[i:])
	n.keys[i] = mid

	n.children = append(n.children, nil)
	copy(n.children[i+2:], n.children[i+1:])
	n.children[i] = left
	n.children[i+1] = right
}

func (t *Tree234) insertNonFull(n *node234, e any) (existing any, inserted bool) {
	i := 0
	for i < len(n.keys) && t.less(n.keys[i], e) {
		i++
	}
	if i < len(n.keys) && !t.less(e, n.keys[i]) {
		// neither e<key nor key<e: equal under the total order
		return n.keys[i], false
	}
	if n.leaf {
		n.keys = append(n.keys, nil)
		copy(n.keys[i+1:], n.keys[i:])
		n.keys[i] = e
		return nil, true
	}
	if n.children[i].full() {
		n.splitChild(i, t.less)
		if t.less(n.keys[i], e) {
			i++
		} else if !t.less(e, n.keys[i]) {
			return n.keys[i], false
		}
	}
	return t.insertNonFull(n.children[i], e)
}

// Find returns the element equal to key under less, or nil. A caller may
// pass a differently-typed probe value as key so long as less can compare
// it against stored elements (asymmetric lookup).
func (t *Tree234) Find(key any) any {
	n := t.root
	for n != nil {
		i := 0
		for i < len(n.keys) && t.less(n.keys[i], key) {
			i++
		}
		if i < len(n.keys) && !t.less(key, n.keys[i]) {
			return n.keys[i]
		}
		if n.leaf {
			return nil
		}
		n = n.children[i]
	}
	return nil
}

// Index returns the i-th element in sorted order (0-based), or nil if out of range.
func (t *Tree234) Index(i int) any {
	if i < 0 || i >= t.n {
		return nil
	}
	n := t.root
	for {
		if n.leaf {
			return n.keys[i]
		}
		found := false
		for c := 0; c < len(n.children); c++ {
			sz := subtreeSize(n.children[c])
			if i < sz {
				n = n.children[c]
				found = true
				break
			}
			i -= sz
			if c < len(n.keys) {
				if i == 0 {
					return n.keys[c]
				}
				i--
			}
		}
		if !found {
			return nil
		}
	}
}

func subtreeSize(n *node234) int {
	if n == nil {
		return 0
	}
	sz := len(n.keys)
	for _, c := range n.children {
		sz += subtreeSize(c)
	}
	return sz
}

// Del removes the element equal (by identity under less) to key, if present.
// It returns the removed element or nil.
func (t *Tree234) Del(key any) any {
	if t.root == nil {
		return nil
	}
	removed := t.delete(t.root, key)
	if removed != nil {
		t.n--
	}
	if len(t.root.keys) == 0 {
		if t.root.leaf {
			t.root = nil
		} else {
			t.root = t.root.children[0]
		}
	}
	return removed
}

func (t *Tree234) delete(n *node234, key any) any {
	i := 0
	for i < len(n.keys) && t.less(n.keys[i], key) {
		i++
	}
	found := i < len(n.keys) && !t.less(key, n.keys[i])

	if n.leaf {
		if !found {
			return nil
		}
		removed := n.keys[i]
		n.keys = append(n.keys[:i], n.keys[i+1:]...)
		return removed
	}

	if found {
		removed := n.keys[i]
		if len(n.children[i].keys) >= 2 {
			pred := t.maxKey(n.children[i])
			n.keys[i] = pred
			t.fatten(n, i)
			t.delete(n.children[i], pred)
		} else if len(n.children[i+1].keys) >= 2 {
			succ := t.minKey(n.children[i+1])
			n.keys[i] = succ
			t.fatten(n, i+1)
			t.delete(n.children[i+1], succ)
		} else {
			t.merge(n, i)
			t.delete(n.children[i], key)
		}
		return removed
	}

	if i >= len(n.children) {
		return nil
	}
	before := len(n.children)
	t.fatten(n, i)
	// fatten may have shifted the child we intended to recurse into when it
	// merged with its left sibling.
	if len(n.children) < before && i > 0 {
		i--
	}
	return t.delete(n.children[i], key)
}

func (t *Tree234) maxKey(n *node234) any {
	for !n.leaf {
		n = n.children[len(n.children)-1]
	}
	return n.keys[len(n.keys)-1]
}

func (t *Tree234) minKey(n *node234) any {
	for !n.leaf {
		n = n.children[0]
	}
	return n.keys[0]
}

// fatten ensures n.children[i] holds >=2 keys before descending into it,
// rotating from a sibling or merging, per the textbook top-down 2-3-4 delete.
func (t *Tree234) fatten(n *node234, i int) {
	child := n.children[i]
	if len(child.keys) >= 2 {
		return
	}
	// try left sibling
	if i > 0 && len(n.children[i-1].keys) >= 2 {
		left := n.children[i-1]
		child.keys = append([]any{n.keys[i-1]}, child.keys...)
		n.keys[i-1] = left.keys[len(left.keys)-1]
		left.keys = left.keys[:len(left.keys)-1]
		if !child.leaf {
			moved := left.children[len(left.children)-1]
			left.children = left.children[:len(left.children)-1]
			child.children = append([]*node234{moved}, child.children...)
		}
		return
	}
	// try right sibling
	if i < len(n.children)-1 && len(n.children[i+1].keys) >= 2 {
		right := n.children[i+1]
		child.keys = append(child.keys, n.keys[i])
		n.keys[i] = right.keys[0]
		right.keys = right.keys[1:]
		if !child.leaf {
			moved := right.children[0]
			right.children = right.children[1:]
			child.children = append(child.children, moved)
		}
		return
	}
	// merge with a sibling, pulling the separator down
	if i > 0 {
		t.mergeInto(n, i-1)
	} else {
		t.mergeInto(n, i)
	}
}

// merge is the delete-path helper used when recursing into a known-2-node
// child: merges n.children[i] with a sibling.
func (t *Tree234) merge(n *node234, i int) {
	t.mergeInto(n, i)
}

// mergeInto merges n.children[i] and n.children[i+1] around separator key i
// into a single node stored at n.children[i], removing key i from n.
func (t *Tree234) mergeInto(n *node234, i int) {
	left := n.children[i]
	right := n.children[i+1]
	left.keys = append(left.keys, n.keys[i])
	left.keys = append(left.keys, right.keys...)
	if !left.leaf {
		left.children = append(left.children, right.children...)
	}
	n.keys = append(n.keys[:i], n.keys[i+1:]...)
	n.children = append(n.children[:i+1], n.children[i+2:]...)
}

// EnumFromFirst returns an in-order iterator starting at the first element.
// The iterator is safe under insertion of strictly-greater elements but not
// under arbitrary mutation.
func (t *Tree234) EnumFromFirst() *Enumerator {
	e := &Enumerator{t: t}
	e.stack = e.pushLeft(t.root, nil)
	return e
}

type Enumerator struct {
	t     *Tree234
	stack []frame
}

type frame struct {
	n   *node234
	idx int // index of the next key to visit in n
}

func (e *Enumerator) pushLeft(n *node234, stack []frame) []frame {
	for n != nil {
		stack = append(stack, frame{n: n, idx: 0})
		if n.leaf {
			break
		}
		n = n.children[0]
	}
	return stack
}

// Next returns the next element in order, or nil when exhausted.
func (e *Enumerator) Next() any {
	for len(e.stack) > 0 {
		top := &e.stack[len(e.stack)-1]
		if top.idx >= len(top.n.keys) {
			e.stack = e.stack[:len(e.stack)-1]
			continue
		}
		key := top.n.keys[top.idx]
		top.idx++
		if !top.n.leaf {
			e.stack = e.pushLeft(top.n.children[top.idx], e.stack)
		}
		return key
	}
	return nil
}
