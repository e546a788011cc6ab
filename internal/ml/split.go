package ml

import (
	"math"
	"math/rand"
	"sort"
)

// StratifiedSplit partitions row indices into train and test sets, holding
// out testFraction of each class. Both sets are returned in ascending order.
func StratifiedSplit(y []int, testFraction float64, seed int64) (train, test []int) {
	rng := rand.New(rand.NewSource(seed))
	for _, class := range []int{0, 1} {
		members := classMembers(y, class)
		rng.Shuffle(len(members), func(i, j int) { members[i], members[j] = members[j], members[i] })
		nTest := int(math.Round(testFraction * float64(len(members))))
		if nTest == 0 && len(members) > 1 && testFraction > 0 {
			nTest = 1
		}
		if nTest >= len(members) && len(members) > 1 {
			nTest = len(members) - 1
		}
		test = append(test, members[:nTest]...)
		train = append(train, members[nTest:]...)
	}
	sort.Ints(train)
	sort.Ints(test)
	return train, test
}

// Fold is one train/test assignment of a k-fold partition.
type Fold struct {
	Train []int
	Test  []int
}

// StratifiedKFold deals each class round-robin over k folds after a seeded
// shuffle, so every fold keeps roughly the corpus class ratio.
func StratifiedKFold(y []int, k int, seed int64) []Fold {
	if k < 2 {
		k = 2
	}
	rng := rand.New(rand.NewSource(seed))
	assign := make([]int, len(y))
	for _, class := range []int{0, 1} {
		members := classMembers(y, class)
		rng.Shuffle(len(members), func(i, j int) { members[i], members[j] = members[j], members[i] })
		for n, i := range members {
			assign[i] = n % k
		}
	}
	folds := make([]Fold, k)
	for i, f := range assign {
		for j := range folds {
			if j == f {
				folds[j].Test = append(folds[j].Test, i)
			} else {
				folds[j].Train = append(folds[j].Train, i)
			}
		}
	}
	return folds
}

func classMembers(y []int, class int) []int {
	var out []int
	for i, label := range y {
		if label == class {
			out = append(out, i)
		}
	}
	return out
}

// Take selects rows of x and y by index.
func Take(x [][]float64, y []int, idx []int) ([][]float64, []int) {
	ox := make([][]float64, len(idx))
	oy := make([]int, len(idx))
	for n, i := range idx {
		ox[n] = x[i]
		oy[n] = y[i]
	}
	return ox, oy
}
