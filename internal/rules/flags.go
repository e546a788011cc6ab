package rules

import (
	"fmt"
	"strings"

	"github.com/streamwatch/tender-risk/internal/features"
	"github.com/streamwatch/tender-risk/internal/tender"
)

// Flag identifies one rule-based red flag.
type Flag int

// Flags are declared in descending weight order; explanations follow it.
const (
	SingleBidder Flag = iota
	ZeroBidders
	ShortWindow
	NonOpen
	HighValue
	BuyerConcentration
	RoundAmount
	NumFlags
)

const (
	shortWindowDays       = 7
	buyerConcentrationMax = 0.70
	anomalyExplanation    = "ML model flagged this as a statistical outlier"
	noFlagsExplanation    = "No specific flags triggered"
)

// openMethods is the case-insensitive allow-list of open procurement methods.
var openMethods = map[string]struct{}{
	"open":        {},
	"open tender": {},
}

type input struct {
	rec   tender.Record
	stats *features.CorpusStats
}

type rule struct {
	name     string
	weight   int
	check    func(in input) bool
	describe func(rec tender.Record) string
}

func fixed(s string) func(tender.Record) string {
	return func(tender.Record) string { return s }
}

var registry = [NumFlags]rule{
	SingleBidder: {
		name:     "flag_single_bidder",
		weight:   25,
		check:    func(in input) bool { return in.rec.Tenderers == 1 },
		describe: fixed("Only 1 bidder submitted (possible bid-rigging)"),
	},
	ZeroBidders: {
		name:     "flag_zero_bidders",
		weight:   20,
		check:    func(in input) bool { return in.rec.Tenderers == 0 },
		describe: fixed("No bidders recorded (may be pre-awarded)"),
	},
	ShortWindow: {
		name:   "flag_short_window",
		weight: 15,
		check:  func(in input) bool { return in.rec.DurationDays < shortWindowDays },
		describe: func(rec tender.Record) string {
			return fmt.Sprintf("Very short tender window (%d days)", int(rec.DurationDays))
		},
	},
	NonOpen: {
		name:   "flag_non_open",
		weight: 10,
		check:  func(in input) bool { return !IsOpenMethod(in.rec.Method) },
		describe: func(rec tender.Record) string {
			return "Non-open procurement method: " + rec.Method
		},
	},
	HighValue: {
		name:   "flag_high_value",
		weight: 10,
		check: func(in input) bool {
			p95, ok := in.stats.HighValueThreshold(in.rec.Category)
			return ok && in.rec.Amount > p95
		},
		describe: fixed("Contract value above 95th percentile for this category"),
	},
	BuyerConcentration: {
		name:   "flag_buyer_concentration",
		weight: 10,
		check: func(in input) bool {
			share, ok := in.stats.BuyerShare(in.rec.Category, in.rec.Buyer)
			return ok && share > buyerConcentrationMax
		},
		describe: fixed("This buyer dominates >70% of contracts in this category"),
	},
	RoundAmount: {
		name:     "flag_round_amount",
		weight:   5,
		check:    func(in input) bool { return features.IsRoundAmount(in.rec.Amount) },
		describe: fixed("Contract amount is suspiciously round (possible fixed pricing)"),
	},
}

// MaxWeight is the sum of all rule weights.
var MaxWeight = func() int {
	total := 0
	for _, r := range registry {
		total += r.weight
	}
	return total
}()

// Name returns the output column name of the flag.
func (f Flag) Name() string { return registry[f].name }

// Weight returns the flag's fixed weight.
func (f Flag) Weight() int { return registry[f].weight }

// AllFlags lists every flag in declaration order.
func AllFlags() []Flag {
	out := make([]Flag, NumFlags)
	for i := range out {
		out[i] = Flag(i)
	}
	return out
}

// IsOpenMethod reports whether method is one of the open procurement methods.
func IsOpenMethod(method string) bool {
	_, ok := openMethods[strings.ToLower(strings.TrimSpace(method))]
	return ok
}

// Flags holds the seven rule indicators of a tender.
type Flags [NumFlags]bool

// Evaluate computes every flag for rec.
func Evaluate(rec tender.Record, stats *features.CorpusStats) Flags {
	in := input{rec: rec, stats: stats}
	var f Flags
	for i, r := range registry {
		f[i] = r.check(in)
	}
	return f
}

// Has reports whether flag fired.
func (f Flags) Has(flag Flag) bool { return f[flag] }

// Int returns the 0/1 indicator for flag.
func (f Flags) Int(flag Flag) int {
	if f[flag] {
		return 1
	}
	return 0
}

// WeightedSum sums the weights of the fired flags.
func (f Flags) WeightedSum() int {
	sum := 0
	for i, fired := range f {
		if fired {
			sum += registry[i].weight
		}
	}
	return sum
}

// Reasons lists the descriptions of fired flags in descending weight order.
func (f Flags) Reasons(rec tender.Record) []string {
	var out []string
	for i, fired := range f {
		if fired {
			out = append(out, registry[i].describe(rec))
		}
	}
	return out
}

// Map returns the flags keyed by column name as 0/1 values.
func (f Flags) Map() map[string]int {
	m := make(map[string]int, NumFlags)
	for _, flag := range AllFlags() {
		m[flag.Name()] = f.Int(flag)
	}
	return m
}
