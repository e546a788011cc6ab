package rules

// DefaultLabelThreshold is deliberately below the Medium tier boundary so the
// positive class is large enough to train on.
const DefaultLabelThreshold = 20.0

// LabelDeriver turns composite risk scores into binary training labels.
type LabelDeriver struct {
	Threshold float64
}

// NewLabelDeriver returns a deriver; a non-positive threshold selects the
// default.
func NewLabelDeriver(threshold float64) LabelDeriver {
	if threshold <= 0 {
		threshold = DefaultLabelThreshold
	}
	return LabelDeriver{Threshold: threshold}
}

// Label returns 1 when score >= threshold, else 0.
func (d LabelDeriver) Label(score float64) int {
	if score >= d.Threshold {
		return 1
	}
	return 0
}
