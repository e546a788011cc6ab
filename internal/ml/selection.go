package ml

// Candidate is a trained model together with its held-out metrics.
type Candidate struct {
	Model   Model
	Metrics Metrics
}

// SelectBest returns the candidate with the highest ROC-AUC, breaking ties by
// F1 and then by input order. It returns false for an empty list.
func SelectBest(cands []Candidate) (Candidate, bool) {
	if len(cands) == 0 {
		return Candidate{}, false
	}
	best := cands[0]
	for _, c := range cands[1:] {
		switch {
		case c.Metrics.ROCAUC > best.Metrics.ROCAUC:
			best = c
		case c.Metrics.ROCAUC == best.Metrics.ROCAUC && c.Metrics.F1 > best.Metrics.F1:
			best = c
		}
	}
	return best, true
}
