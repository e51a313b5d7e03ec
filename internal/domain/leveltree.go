package domain

// LevelTree is an AVL tree over the non-empty levels of a book, keyed by
// level index. Nodes carry parent links so ordered traversal (First/Next)
// needs no stack. The book uses it for best-bid/best-offer lookups,
// clearing walks and checkpoint traversal.
type LevelTree struct {
	root *OrderBookLevel
	size int
}

func (t *LevelTree) Size() int { return t.size }

func nodeHeight(n *OrderBookLevel) int {
	if n == nil {
		return 0
	}
	return n.height
}

func (n *OrderBookLevel) updateHeight() {
	lh, rh := nodeHeight(n.left), nodeHeight(n.right)
	if lh > rh {
		n.height = lh + 1
	} else {
		n.height = rh + 1
	}
}

// Add inserts a level. A level already in the tree is left untouched.
func (t *LevelTree) Add(l *OrderBookLevel) {
	l.left, l.right, l.parent = nil, nil, nil
	l.height = 1
	if t.root == nil {
		t.root = l
		t.size = 1
		return
	}
	n := t.root
	for {
		if l.Ix < n.Ix {
			if n.left == nil {
				n.left = l
				l.parent = n
				break
			}
			n = n.left
		} else if l.Ix > n.Ix {
			if n.right == nil {
				n.right = l
				l.parent = n
				break
			}
			n = n.right
		} else {
			return
		}
	}
	t.size++
	t.retrace(l.parent)
}

// Get returns the level at ix, or nil.
func (t *LevelTree) Get(ix int) *OrderBookLevel {
	n := t.root
	for n != nil && n.Ix != ix {
		if ix < n.Ix {
			n = n.left
		} else {
			n = n.right
		}
	}
	return n
}

// Remove detaches the level at ix and returns it, or nil if absent.
func (t *LevelTree) Remove(ix int) *OrderBookLevel {
	n := t.Get(ix)
	if n == nil {
		return nil
	}
	t.size--
	var retraceFrom *OrderBookLevel
	if n.left != nil && n.right != nil {
		s := n.right
		for s.left != nil {
			s = s.left
		}
		if s.parent == n {
			retraceFrom = s
		} else {
			retraceFrom = s.parent
			s.parent.left = s.right
			if s.right != nil {
				s.right.parent = s.parent
			}
			s.right = n.right
			n.right.parent = s
		}
		s.left = n.left
		n.left.parent = s
		t.replaceChild(n, s)
		s.height = n.height
	} else {
		child := n.left
		if child == nil {
			child = n.right
		}
		t.replaceChild(n, child)
		retraceFrom = n.parent
	}
	n.left, n.right, n.parent = nil, nil, nil
	n.height = 1
	t.retrace(retraceFrom)
	return n
}

func (t *LevelTree) replaceChild(n, repl *OrderBookLevel) {
	p := n.parent
	if repl != nil {
		repl.parent = p
	}
	switch {
	case p == nil:
		t.root = repl
	case p.left == n:
		p.left = repl
	default:
		p.right = repl
	}
}

func (t *LevelTree) retrace(n *OrderBookLevel) {
	for n != nil {
		n.updateHeight()
		bf := nodeHeight(n.left) - nodeHeight(n.right)
		if bf > 1 {
			if nodeHeight(n.left.left) < nodeHeight(n.left.right) {
				t.rotateLeft(n.left)
			}
			n = t.rotateRight(n)
		} else if bf < -1 {
			if nodeHeight(n.right.right) < nodeHeight(n.right.left) {
				t.rotateRight(n.right)
			}
			n = t.rotateLeft(n)
		}
		n = n.parent
	}
}

func (t *LevelTree) rotateRight(n *OrderBookLevel) *OrderBookLevel {
	pivot := n.left
	n.left = pivot.right
	if pivot.right != nil {
		pivot.right.parent = n
	}
	pivot.parent = n.parent
	switch {
	case n.parent == nil:
		t.root = pivot
	case n.parent.left == n:
		n.parent.left = pivot
	default:
		n.parent.right = pivot
	}
	pivot.right = n
	n.parent = pivot
	n.updateHeight()
	pivot.updateHeight()
	return pivot
}

func (t *LevelTree) rotateLeft(n *OrderBookLevel) *OrderBookLevel {
	pivot := n.right
	n.right = pivot.left
	if pivot.left != nil {
		pivot.left.parent = n
	}
	pivot.parent = n.parent
	switch {
	case n.parent == nil:
		t.root = pivot
	case n.parent.left == n:
		n.parent.left = pivot
	default:
		n.parent.right = pivot
	}
	pivot.left = n
	n.parent = pivot
	n.updateHeight()
	pivot.updateHeight()
	return pivot
}

// First returns the lowest-index level, or nil on an empty tree.
func (t *LevelTree) First() *OrderBookLevel {
	n := t.root
	if n == nil {
		return nil
	}
	for n.left != nil {
		n = n.left
	}
	return n
}

// Last returns the highest-index level, or nil on an empty tree.
func (t *LevelTree) Last() *OrderBookLevel {
	n := t.root
	if n == nil {
		return nil
	}
	for n.right != nil {
		n = n.right
	}
	return n
}

// Next returns the in-order successor via parent links.
func (l *OrderBookLevel) Next() *OrderBookLevel {
	if l.right != nil {
		n := l.right
		for n.left != nil {
			n = n.left
		}
		return n
	}
	n, p := l, l.parent
	for p != nil && p.right == n {
		n, p = p, p.parent
	}
	return p
}

// Prev returns the in-order predecessor via parent links.
func (l *OrderBookLevel) Prev() *OrderBookLevel {
	if l.left != nil {
		n := l.left
		for n.right != nil {
			n = n.right
		}
		return n
	}
	n, p := l, l.parent
	for p != nil && p.left == n {
		n, p = p, p.parent
	}
	return p
}

// Floor returns the highest level with Ix <= ix, or nil.
func (t *LevelTree) Floor(ix int) *OrderBookLevel {
	var best *OrderBookLevel
	n := t.root
	for n != nil {
		if n.Ix == ix {
			return n
		}
		if n.Ix < ix {
			best = n
			n = n.right
		} else {
			n = n.left
		}
	}
	return best
}

// Ceiling returns the lowest level with Ix >= ix, or nil.
func (t *LevelTree) Ceiling(ix int) *OrderBookLevel {
	var best *OrderBookLevel
	n := t.root
	for n != nil {
		if n.Ix == ix {
			return n
		}
		if n.Ix > ix {
			best = n
			n = n.left
		} else {
			n = n.right
		}
	}
	return best
}

// Traverse visits levels in ascending index order.
func (t *LevelTree) Traverse(fn func(*OrderBookLevel)) {
	for n := t.First(); n != nil; n = n.Next() {
		fn(n)
	}
}

// Equal compares two trees by ordered traversal: same size and pairwise
// equal levels in ascending order, regardless of tree shape.
func (t *LevelTree) Equal(o *LevelTree) bool {
	if t.size != o.size {
		return false
	}
	a, b := t.First(), o.First()
	for a != nil {
		if b == nil || !a.Equal(b) {
			return false
		}
		a, b = a.Next(), b.Next()
	}
	return b == nil
}

// Hash folds level hashes in ascending order. Equal trees hash equal.
func (t *LevelTree) Hash() uint64 {
	var h uint64 = 1
	t.Traverse(func(l *OrderBookLevel) {
		h = h*31 + l.Hash()
	})
	return h
}
