package ml

import (
	"math/rand"
	"sort"
)

// treeNode is a flattened regression-tree node. Leaves have Left == -1.
type treeNode struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t"`
	Left      int     `json:"l"`
	Right     int     `json:"r"`
	Value     float64 `json:"v"`
}

// Tree is a binary regression tree grown with a weighted squared-error
// criterion. For 0/1 targets the criterion is proportional to Gini impurity,
// so the same grower serves both ensembles.
type Tree struct {
	Nodes []treeNode `json:"nodes"`
}

// Predict returns the leaf value reached by x.
func (t *Tree) Predict(x []float64) float64 {
	i := 0
	for {
		n := t.Nodes[i]
		if n.Left < 0 {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

type treeParams struct {
	maxDepth       int
	minSamplesLeaf int
	maxFeatures    int // 0 means all features
}

// leafValue computes the prediction stored at a leaf holding idx.
type leafValue func(idx []int) float64

type grower struct {
	x           [][]float64
	target      []float64
	weight      []float64
	params      treeParams
	rng         *rand.Rand
	leaf        leafValue
	importances []float64
	nodes       []treeNode
}

// growTree fits a tree on the rows listed in idx (duplicates allowed, which
// is how bootstrap samples are expressed). Weighted impurity decreases are
// accumulated into importances.
func growTree(x [][]float64, target, weight []float64, idx []int, params treeParams, rng *rand.Rand, leaf leafValue, importances []float64) Tree {
	g := &grower{
		x:           x,
		target:      target,
		weight:      weight,
		params:      params,
		rng:         rng,
		leaf:        leaf,
		importances: importances,
	}
	g.grow(idx, 0)
	return Tree{Nodes: g.nodes}
}

type nodeStats struct {
	w, wy, wyy float64
}

func (s nodeStats) sse() float64 {
	if s.w <= 0 {
		return 0
	}
	return s.wyy - s.wy*s.wy/s.w
}

func (g *grower) stats(idx []int) nodeStats {
	var s nodeStats
	for _, i := range idx {
		w := g.weight[i]
		y := g.target[i]
		s.w += w
		s.wy += w * y
		s.wyy += w * y * y
	}
	return s
}

func (g *grower) makeLeaf(idx []int) int {
	g.nodes = append(g.nodes, treeNode{Feature: -1, Left: -1, Right: -1, Value: g.leaf(idx)})
	return len(g.nodes) - 1
}

func (g *grower) candidateFeatures() []int {
	d := len(g.x[0])
	perm := g.rng.Perm(d)
	if g.params.maxFeatures > 0 && g.params.maxFeatures < d {
		return perm[:g.params.maxFeatures]
	}
	return perm
}

type split struct {
	feature   int
	threshold float64
	gain      float64
	pos       int
	order     []int
}

func (g *grower) bestSplit(idx []int, parent nodeStats) (split, bool) {
	best := split{gain: 1e-12}
	found := false
	minLeaf := g.params.minSamplesLeaf
	if minLeaf < 1 {
		minLeaf = 1
	}
	parentSSE := parent.sse()

	for _, f := range g.candidateFeatures() {
		order := append([]int(nil), idx...)
		sort.SliceStable(order, func(a, b int) bool { return g.x[order[a]][f] < g.x[order[b]][f] })

		var left nodeStats
		for p := 0; p < len(order)-1; p++ {
			i := order[p]
			w := g.weight[i]
			y := g.target[i]
			left.w += w
			left.wy += w * y
			left.wyy += w * y * y

			if p+1 < minLeaf || len(order)-(p+1) < minLeaf {
				continue
			}
			lo, hi := g.x[i][f], g.x[order[p+1]][f]
			if hi <= lo {
				continue
			}
			right := nodeStats{w: parent.w - left.w, wy: parent.wy - left.wy, wyy: parent.wyy - left.wyy}
			if left.w <= 0 || right.w <= 0 {
				continue
			}
			gain := parentSSE - left.sse() - right.sse()
			if gain > best.gain {
				best = split{feature: f, threshold: lo + (hi-lo)/2, gain: gain, pos: p + 1, order: order}
				found = true
			}
		}
	}
	return best, found
}

func (g *grower) grow(idx []int, depth int) int {
	minLeaf := g.params.minSamplesLeaf
	if minLeaf < 1 {
		minLeaf = 1
	}
	if depth >= g.params.maxDepth || len(idx) < 2*minLeaf {
		return g.makeLeaf(idx)
	}

	parent := g.stats(idx)
	if parent.sse() <= 1e-12 {
		return g.makeLeaf(idx)
	}

	s, ok := g.bestSplit(idx, parent)
	if !ok {
		return g.makeLeaf(idx)
	}

	g.importances[s.feature] += s.gain
	self := len(g.nodes)
	g.nodes = append(g.nodes, treeNode{Feature: s.feature, Threshold: s.threshold})
	l := g.grow(s.order[:s.pos], depth+1)
	r := g.grow(s.order[s.pos:], depth+1)
	g.nodes[self].Left = l
	g.nodes[self].Right = r
	return self
}

// normalize scales v to sum to one; an all-zero vector becomes uniform.
func normalize(v []float64) []float64 {
	out := make([]float64, len(v))
	total := 0.0
	for _, x := range v {
		if x > 0 {
			total += x
		}
	}
	for i, x := range v {
		if total == 0 {
			out[i] = 1 / float64(len(v))
			continue
		}
		if x > 0 {
			out[i] = x / total
		}
	}
	return out
}
