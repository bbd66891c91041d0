package leaderboard

import "math/rand/v2"

// Treap ordered by display score DESC, then username ASC. In-order traversal
// yields the leaderboard from best to worst; subtree sizes give O(log n)
// offset seeks.

type node struct {
	entry Entry
	prio  uint64
	left  *node
	right *node
	size  int
}

func nsize(n *node) int {
	if n == nil {
		return 0
	}
	return n.size
}

func fix(n *node) {
	if n != nil {
		n.size = 1 + nsize(n.left) + nsize(n.right)
	}
}

// less reports whether a ranks before b.
func less(a, b *Entry) bool {
	if a.Stats.DisplayScore != b.Stats.DisplayScore {
		return a.Stats.DisplayScore > b.Stats.DisplayScore
	}
	return a.Username < b.Username
}

func rotateRight(y *node) *node {
	x := y.left
	y.left = x.right
	x.right = y
	fix(y)
	fix(x)
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	x.right = y.left
	y.left = x
	fix(x)
	fix(y)
	return y
}

func insert(n *node, nn *node) *node {
	if n == nil {
		return nn
	}
	if less(&nn.entry, &n.entry) {
		n.left = insert(n.left, nn)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	} else {
		n.right = insert(n.right, nn)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	fix(n)
	return n
}

func newNode(e Entry, rng *rand.Rand) *node {
	return &node{entry: e, prio: rng.Uint64(), size: 1}
}

// walk visits nodes in rank order until fn returns false.
func walk(n *node, fn func(*node) bool) bool {
	if n == nil {
		return true
	}
	return walk(n.left, fn) && fn(n) && walk(n.right, fn)
}

// collectRange appends up to limit entries starting at in-order position
// offset.
func collectRange(n *node, offset, limit int, out *[]Entry) {
	if n == nil || len(*out) >= limit {
		return
	}
	leftSize := nsize(n.left)
	if offset < leftSize {
		collectRange(n.left, offset, limit, out)
	}
	if len(*out) >= limit {
		return
	}
	if offset <= leftSize {
		*out = append(*out, n.entry)
	}
	rest := offset - leftSize - 1
	if rest < 0 {
		rest = 0
	}
	collectRange(n.right, rest, limit, out)
}

// assignDenseRanks gives equal display scores the same rank; the next
// distinct score takes the following rank.
func assignDenseRanks(root *node) {
	rank := 0
	var prev int64
	walk(root, func(n *node) bool {
		if rank == 0 || n.entry.Stats.DisplayScore != prev {
			rank++
			prev = n.entry.Stats.DisplayScore
		}
		n.entry.Rank = rank
		return true
	})
}
