package tender

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Wire column names used by the OCDS-flattened procurement exports.
const (
	ColContractID        = "ocid"
	ColTenderID          = "tender/id"
	ColTitle             = "tender/title"
	ColBuyer             = "buyer/name"
	ColAmount            = "tender/value/amount"
	ColTenderers         = "tender/numberOfTenderers"
	ColDuration          = "tender/tenderPeriod/durationInDays"
	ColMethod            = "tender/procurementMethod"
	ColCategory          = "tenderclassification/description"
	ColDatePublished     = "tender/datePublished"
	ColBidOpeningDate    = "tender/bidOpening/date"
	ColScoredAmount      = "amount"
	ColScoredTenderers   = "num_tenderers"
	ColScoredDuration    = "duration_days"
	ColRiskScore         = "risk_score"
	missingCategoryValue = "nan"
)

var (
	// ErrMalformedRow is returned for rows whose numeric fields cannot be trusted.
	ErrMalformedRow = errors.New("malformed tender row")
	// ErrMissingColumns is returned when an input file lacks required columns.
	ErrMissingColumns = errors.New("missing required columns")
)

// Record is one procurement line item. Records are treated as immutable
// once parsed.
type Record struct {
	ContractID    string     `json:"ocid"`
	TenderID      string     `json:"tender_id"`
	Title         string     `json:"title"`
	Buyer         string     `json:"buyer"`
	Category      string     `json:"category"`
	Method        string     `json:"procurement_method"`
	Amount        float64    `json:"amount"`
	Tenderers     int        `json:"num_tenderers"`
	DurationDays  float64    `json:"duration_days"`
	DatePublished *time.Time `json:"date_published,omitempty"`
	BidOpening    *time.Time `json:"bid_opening,omitempty"`
}

// Schema maps record fields to the column names of a particular file layout.
type Schema struct {
	ContractID    string
	TenderID      string
	Title         string
	Buyer         string
	Category      string
	Method        string
	Amount        string
	Tenderers     string
	Duration      string
	DatePublished string
	BidOpening    string
}

// RawSchema describes the yearly input datasets.
var RawSchema = Schema{
	ContractID:    ColContractID,
	TenderID:      ColTenderID,
	Title:         ColTitle,
	Buyer:         ColBuyer,
	Category:      ColCategory,
	Method:        ColMethod,
	Amount:        ColAmount,
	Tenderers:     ColTenderers,
	Duration:      ColDuration,
	DatePublished: ColDatePublished,
	BidOpening:    ColBidOpeningDate,
}

// ScoredSchema describes the scores files written by the batch scorer, which
// are read back as the training corpus.
var ScoredSchema = Schema{
	ContractID: ColContractID,
	TenderID:   ColTenderID,
	Title:      ColTitle,
	Buyer:      ColBuyer,
	Category:   ColCategory,
	Method:     ColMethod,
	Amount:     ColScoredAmount,
	Tenderers:  ColScoredTenderers,
	Duration:   ColScoredDuration,
}

// Required lists the columns that must be present for scoring. Title and the
// date columns are optional.
func (s Schema) Required() []string {
	return []string{s.ContractID, s.TenderID, s.Buyer, s.Amount, s.Tenderers, s.Duration, s.Method, s.Category}
}

// Index resolves column positions from a header row.
type Index struct {
	schema Schema
	pos    map[string]int
}

// NewIndex validates header against the schema's required columns.
func NewIndex(schema Schema, header []string) (*Index, error) {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\uFEFF"))
		if _, dup := pos[h]; !dup {
			pos[h] = i
		}
	}

	var missing []string
	for _, col := range schema.Required() {
		if _, ok := pos[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", "))
	}

	return &Index{schema: schema, pos: pos}, nil
}

func (ix *Index) get(row []string, col string) string {
	if col == "" {
		return ""
	}
	i, ok := ix.pos[col]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// Parse converts a CSV row into a Record. Numeric fields that are empty,
// non-numeric, negative or non-finite reject the row instead of being coerced.
func (ix *Index) Parse(row []string) (Record, error) {
	s := ix.schema

	amount, err := parseNonNegative(ix.get(row, s.Amount))
	if err != nil {
		return Record{}, fmt.Errorf("%w: amount: %v", ErrMalformedRow, err)
	}
	tenderers, err := parseNonNegative(ix.get(row, s.Tenderers))
	if err != nil {
		return Record{}, fmt.Errorf("%w: number of tenderers: %v", ErrMalformedRow, err)
	}
	if tenderers != math.Trunc(tenderers) {
		return Record{}, fmt.Errorf("%w: number of tenderers %v is not a whole number", ErrMalformedRow, tenderers)
	}
	duration, err := parseNonNegative(ix.get(row, s.Duration))
	if err != nil {
		return Record{}, fmt.Errorf("%w: duration: %v", ErrMalformedRow, err)
	}

	return Record{
		ContractID:    ix.get(row, s.ContractID),
		TenderID:      ix.get(row, s.TenderID),
		Title:         ix.get(row, s.Title),
		Buyer:         categorical(ix.get(row, s.Buyer)),
		Category:      categorical(ix.get(row, s.Category)),
		Method:        categorical(ix.get(row, s.Method)),
		Amount:        amount,
		Tenderers:     int(tenderers),
		DurationDays:  duration,
		DatePublished: parseDate(ix.get(row, s.DatePublished)),
		BidOpening:    parseDate(ix.get(row, s.BidOpening)),
	}, nil
}

func parseNonNegative(raw string) (float64, error) {
	if raw == "" {
		return 0, errors.New("value is empty")
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", ""), 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not numeric", raw)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%q is not finite", raw)
	}
	if v < 0 {
		return 0, fmt.Errorf("%v is negative", v)
	}
	return v, nil
}

// categorical normalizes an empty categorical cell to the same token the
// encoders see for missing values, so empty and absent cells share one code.
func categorical(v string) string {
	if v == "" {
		return missingCategoryValue
	}
	return v
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02-01-2006 15:04",
	"02-01-2006",
	"02/01/2006",
}

func parseDate(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t
		}
	}
	return nil
}
