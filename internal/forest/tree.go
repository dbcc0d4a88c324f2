package forest

import (
	"math/rand"
)

// Node is either a leaf holding the number of points that reached it, or a
// split routing x[Feature] < Threshold to Left and the rest to Right.
// Children are indexes into the owning tree's node arena.
type Node struct {
	Leaf      bool
	Size      int
	Feature   int
	Threshold float64
	Left      int
	Right     int
}

// tree is a node arena with the root at index 0. Children always have
// larger indexes than their parent.
type tree struct {
	nodes []Node
}

func buildTree(data [][]float64, sample []int, dim, maxDepth int, rng *rand.Rand) tree {
	b := &builder{
		data:   data,
		dim:    dim,
		max:    maxDepth,
		rng:    rng,
		lo:     make([]float64, dim),
		hi:     make([]float64, dim),
		splits: make([]int, 0, dim),
	}
	b.nodes = make([]Node, 0, 2*len(sample))
	b.grow(sample, 0)
	return tree{nodes: b.nodes}
}

type builder struct {
	data  [][]float64
	dim   int
	max   int
	rng   *rand.Rand
	nodes []Node

	// scratch
	lo, hi []float64
	splits []int
}

// grow appends the subtree over idx in preorder and returns its root index.
// idx is partitioned in place.
func (b *builder) grow(idx []int, depth int) int {
	id := len(b.nodes)
	b.nodes = append(b.nodes, Node{Leaf: true, Size: len(idx)})

	if len(idx) <= 1 || depth >= b.max {
		return id
	}

	// Only features that vary among the node's points can split them.
	first := b.data[idx[0]]
	copy(b.lo, first)
	copy(b.hi, first)
	for _, r := range idx[1:] {
		row := b.data[r]
		for j := 0; j < b.dim; j++ {
			if row[j] < b.lo[j] {
				b.lo[j] = row[j]
			} else if row[j] > b.hi[j] {
				b.hi[j] = row[j]
			}
		}
	}
	b.splits = b.splits[:0]
	for j := 0; j < b.dim; j++ {
		if b.lo[j] < b.hi[j] {
			b.splits = append(b.splits, j)
		}
	}
	if len(b.splits) == 0 {
		return id
	}

	feature := b.splits[b.rng.Intn(len(b.splits))]
	lo, hi := b.lo[feature], b.hi[feature]
	threshold := lo + b.rng.Float64()*(hi-lo)

	k := 0
	for i, r := range idx {
		if b.data[r][feature] < threshold {
			idx[i], idx[k] = idx[k], idx[i]
			k++
		}
	}

	left := b.grow(idx[:k], depth+1)
	right := b.grow(idx[k:], depth+1)
	b.nodes[id] = Node{
		Feature:   feature,
		Threshold: threshold,
		Left:      left,
		Right:     right,
	}
	return id
}

// pathLength counts the splits x traverses plus c(size) at the leaf it lands in.
func (t *tree) pathLength(x []float64) float64 {
	i, depth := 0, 0
	for {
		n := &t.nodes[i]
		if n.Leaf {
			return float64(depth) + AveragePathLength(n.Size)
		}
		if x[n.Feature] < n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
		depth++
	}
}
