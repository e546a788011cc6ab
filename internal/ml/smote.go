package ml

import (
	"errors"
	"math/rand"
	"sort"
)

// ErrOversampleUnavailable is returned when the minority class is too small
// to interpolate between neighbors.
var ErrOversampleUnavailable = errors.New("minority class too small to oversample")

// DefaultNeighbors is the k used by SMOTE.
const DefaultNeighbors = 5

// SMOTE synthesizes minority-class rows by interpolating between a minority
// sample and one of its k nearest minority neighbors until both classes have
// equal counts. Input rows are never modified; synthetic rows are appended.
type SMOTE struct {
	K    int
	Seed int64
}

// Resample returns the balanced rows and labels.
func (s SMOTE) Resample(x [][]float64, y []int) ([][]float64, []int, error) {
	neg, pos := ClassCounts(y)
	minority, deficit := 1, neg-pos
	if pos > neg {
		minority, deficit = 0, pos-neg
	}
	if deficit == 0 {
		return x, y, nil
	}

	var members []int
	for i, label := range y {
		if label == minority {
			members = append(members, i)
		}
	}
	if len(members) < 2 {
		return nil, nil, ErrOversampleUnavailable
	}
	k := s.K
	if k <= 0 {
		k = DefaultNeighbors
	}
	if k > len(members)-1 {
		k = len(members) - 1
	}

	neighbors := make([][]int, len(members))
	for a := range members {
		neighbors[a] = nearest(x, members, a, k)
	}

	rng := rand.New(rand.NewSource(s.Seed))
	outX := make([][]float64, len(x), len(x)+deficit)
	copy(outX, x)
	outY := make([]int, len(y), len(y)+deficit)
	copy(outY, y)

	for n := 0; n < deficit; n++ {
		a := rng.Intn(len(members))
		b := neighbors[a][rng.Intn(len(neighbors[a]))]
		base, other := x[members[a]], x[b]
		gap := rng.Float64()
		row := make([]float64, len(base))
		for j := range row {
			row[j] = base[j] + gap*(other[j]-base[j])
		}
		outX = append(outX, row)
		outY = append(outY, minority)
	}
	return outX, outY, nil
}

// nearest returns the row indices of the k members closest to members[a].
func nearest(x [][]float64, members []int, a, k int) []int {
	type cand struct {
		idx  int
		dist float64
	}
	origin := x[members[a]]
	cands := make([]cand, 0, len(members)-1)
	for b, i := range members {
		if b == a {
			continue
		}
		d := 0.0
		for j, v := range x[i] {
			diff := v - origin[j]
			d += diff * diff
		}
		cands = append(cands, cand{idx: i, dist: d})
	}
	sort.SliceStable(cands, func(p, q int) bool { return cands[p].dist < cands[q].dist })
	out := make([]int, k)
	for j := range out {
		out[j] = cands[j].idx
	}
	return out
}

// Rebalance oversamples with SMOTE and falls back to inverse-frequency sample
// weights when oversampling is not possible. Exactly one of the returned
// weights or the synthetic rows is used; weights is nil when SMOTE succeeded.
func Rebalance(x [][]float64, y []int, k int, seed int64) ([][]float64, []int, []float64, string) {
	bx, by, err := SMOTE{K: k, Seed: seed}.Resample(x, y)
	if err == nil {
		return bx, by, nil, RebalanceSMOTE
	}
	cw := BalancedClassWeights(y)
	w := make([]float64, len(y))
	for i, label := range y {
		w[i] = cw[label]
	}
	return x, y, w, RebalanceClassWeights
}

const (
	RebalanceSMOTE        = "smote"
	RebalanceClassWeights = "class_weights"
)
