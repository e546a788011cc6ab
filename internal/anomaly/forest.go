package anomaly

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
)

const eulerGamma = 0.5772156649015329

// node is a flattened isolation-tree node. Leaves have Left == -1.
type node struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t"`
	Left      int     `json:"l"`
	Right     int     `json:"r"`
	Size      int     `json:"n"`
}

type iTree struct {
	Nodes []node `json:"nodes"`
}

// averagePathLength is c(n), the mean path length of an unsuccessful BST
// search over n points.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	default:
		fn := float64(n)
		return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
	}
}

type treeBuilder struct {
	x        [][]float64
	maxDepth int
	rng      *rand.Rand
	nodes    []node
}

func buildTree(x [][]float64, idx []int, maxDepth int, rng *rand.Rand) iTree {
	b := &treeBuilder{x: x, maxDepth: maxDepth, rng: rng}
	b.grow(idx, 0)
	return iTree{Nodes: b.nodes}
}

func (b *treeBuilder) leaf(size int) int {
	b.nodes = append(b.nodes, node{Feature: -1, Left: -1, Right: -1, Size: size})
	return len(b.nodes) - 1
}

func (b *treeBuilder) grow(idx []int, depth int) int {
	if depth >= b.maxDepth || len(idx) <= 1 {
		return b.leaf(len(idx))
	}

	d := len(b.x[idx[0]])
	for _, f := range b.rng.Perm(d) {
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, i := range idx {
			v := b.x[i][f]
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
		if hi <= lo {
			continue
		}

		threshold := lo + b.rng.Float64()*(hi-lo)
		var left, right []int
		for _, i := range idx {
			if b.x[i][f] < threshold {
				left = append(left, i)
			} else {
				right = append(right, i)
			}
		}
		if len(left) == 0 || len(right) == 0 {
			continue
		}

		self := len(b.nodes)
		b.nodes = append(b.nodes, node{Feature: f, Threshold: threshold, Size: len(idx)})
		l := b.grow(left, depth+1)
		r := b.grow(right, depth+1)
		b.nodes[self].Left = l
		b.nodes[self].Right = r
		return self
	}

	// every feature is constant over idx
	return b.leaf(len(idx))
}

// validate checks that every split node points forward to existing nodes and
// reads a feature within width. Nodes are stored in preorder, so forward
// children also rule out cycles.
func (t iTree) validate(width int) error {
	if len(t.Nodes) == 0 {
		return errors.New("tree has no nodes")
	}
	for i, n := range t.Nodes {
		if n.Left < 0 {
			continue
		}
		if n.Left <= i || n.Left >= len(t.Nodes) || n.Right <= i || n.Right >= len(t.Nodes) {
			return fmt.Errorf("node %d has children %d/%d outside (%d,%d)", i, n.Left, n.Right, i, len(t.Nodes))
		}
		if n.Feature < 0 || n.Feature >= width {
			return fmt.Errorf("node %d splits on feature %d, width is %d", i, n.Feature, width)
		}
	}
	return nil
}

// pathLength returns the isolation depth of x, adjusted by c(size) at the
// terminating leaf.
func (t iTree) pathLength(x []float64) float64 {
	i, depth := 0, 0.0
	for {
		n := t.Nodes[i]
		if n.Left < 0 {
			return depth + averagePathLength(n.Size)
		}
		if x[n.Feature] < n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
		depth++
	}
}
