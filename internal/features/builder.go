package features

import (
	"errors"
	"fmt"
	"math"

	"github.com/streamwatch/tender-risk/internal/tender"
)

// Feature positions within a Vector.
const (
	FeatAmount = iota
	FeatTenderers
	FeatDurationDays
	FeatLogAmount
	FeatIsRoundAmount
	FeatAmountVsBuyerAvg
	FeatMethodCode
	FeatCategoryCode
	FeatBuyerCode
	NumFeatures
)

const (
	roundAmountUnit = 100000
	buyerAvgFloor   = 1.0
)

// ErrFeatureMismatch means a persisted feature-column list does not match the
// columns produced by this build.
var ErrFeatureMismatch = errors.New("feature column mismatch")

var columns = [NumFeatures]string{
	"amount",
	"num_tenderers",
	"duration_days",
	"log_amount",
	"is_round_amount",
	"amount_vs_buyer_avg",
	"procurementMethod_enc",
	"tenderclassification_enc",
	"buyer_enc",
}

// Columns returns the ordered feature names.
func Columns() []string {
	out := make([]string, NumFeatures)
	copy(out, columns[:])
	return out
}

// CheckColumns compares a persisted column list against Columns element by
// element.
func CheckColumns(persisted []string) error {
	if len(persisted) != NumFeatures {
		return fmt.Errorf("%w: expected %d columns, got %d", ErrFeatureMismatch, NumFeatures, len(persisted))
	}
	for i, name := range persisted {
		if name != columns[i] {
			return fmt.Errorf("%w: column %d is %q, expected %q", ErrFeatureMismatch, i, name, columns[i])
		}
	}
	return nil
}

// Vector is the fixed-order numeric feature vector of one tender.
type Vector [NumFeatures]float64

// Slice returns a copy of the vector as a slice.
func (v Vector) Slice() []float64 {
	out := make([]float64, NumFeatures)
	copy(out, v[:])
	return out
}

// Map returns the vector keyed by column name.
func (v Vector) Map() map[string]float64 {
	m := make(map[string]float64, NumFeatures)
	for i, name := range columns {
		m[name] = v[i]
	}
	return m
}

// IsRoundAmount reports whether amount is an exact multiple of 100,000.
func IsRoundAmount(amount float64) bool {
	return math.Mod(amount, roundAmountUnit) == 0
}

// Builder turns records into feature vectors using corpus statistics and
// encoders fitted once on the training corpus. It holds no mutable state.
type Builder struct {
	stats    *CorpusStats
	encoders *Encoders
}

// NewBuilder creates a builder. Nil stats or encoders are tolerated: every
// buyer then has no history and every category encodes as UnknownCode.
func NewBuilder(stats *CorpusStats, encoders *Encoders) *Builder {
	if encoders == nil {
		encoders = &Encoders{}
	}
	return &Builder{stats: stats, encoders: encoders}
}

// Build computes the feature vector for r.
func (b *Builder) Build(r tender.Record) Vector {
	var v Vector
	v[FeatAmount] = r.Amount
	v[FeatTenderers] = float64(r.Tenderers)
	v[FeatDurationDays] = r.DurationDays
	v[FeatLogAmount] = math.Log1p(r.Amount)
	if IsRoundAmount(r.Amount) {
		v[FeatIsRoundAmount] = 1
	}
	v[FeatAmountVsBuyerAvg] = r.Amount / math.Max(b.stats.BuyerAverage(r.Category, r.Buyer), buyerAvgFloor)
	v[FeatMethodCode] = float64(b.encoders.Method.Code(r.Method))
	v[FeatCategoryCode] = float64(b.encoders.Category.Code(r.Category))
	v[FeatBuyerCode] = float64(b.encoders.Buyer.Code(r.Buyer))
	return v
}

// BuildAll builds vectors for every record, preserving order.
func (b *Builder) BuildAll(records []tender.Record) []Vector {
	out := make([]Vector, len(records))
	for i, r := range records {
		out[i] = b.Build(r)
	}
	return out
}

// Matrix converts vectors into row slices.
func Matrix(vs []Vector) [][]float64 {
	out := make([][]float64, len(vs))
	for i, v := range vs {
		out[i] = v.Slice()
	}
	return out
}
