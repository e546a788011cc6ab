package batch

import (
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/streamwatch/tender-risk/internal/predict"
	"github.com/streamwatch/tender-risk/internal/rules"
	"github.com/streamwatch/tender-risk/internal/tender"
)

// Output file names.
const (
	ConsolidatedFile  = "procurement_risk_scores.csv"
	SummaryFile       = "batch_summary.json"
	scoresSuffix      = "_scores.csv"
	predictionsSuffix = "_predictions.csv"
)

// identityColumns lead both the scores and the predictions files.
var identityColumns = []string{
	tender.ColContractID,
	tender.ColTenderID,
	tender.ColTitle,
	tender.ColBuyer,
	tender.ColCategory,
	tender.ColMethod,
	tender.ColScoredAmount,
	tender.ColScoredTenderers,
	tender.ColScoredDuration,
}

// ScoresHeader returns the column layout of a scores file.
func ScoresHeader() []string {
	h := append([]string(nil), identityColumns...)
	for _, f := range rules.AllFlags() {
		h = append(h, f.Name())
	}
	return append(h, "ml_anomaly_flag", "anomaly_score", tender.ColRiskScore, "risk_tier", "risk_explanation")
}

// PredictionsHeader returns the column layout of a predictions file.
func PredictionsHeader() []string {
	return append(append([]string(nil), identityColumns...), predict.AppendedColumns()...)
}

// ScoresPath and PredictionsPath name the per-file outputs for an input file.
func ScoresPath(outDir, input string) string {
	return filepath.Join(outDir, stem(input)+scoresSuffix)
}

func PredictionsPath(outDir, input string) string {
	return filepath.Join(outDir, stem(input)+predictionsSuffix)
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func identity(r tender.Record) []string {
	return []string{
		r.ContractID,
		r.TenderID,
		r.Title,
		r.Buyer,
		r.Category,
		r.Method,
		formatFloat(r.Amount),
		strconv.Itoa(r.Tenderers),
		formatFloat(r.DurationDays),
	}
}

type scoredRow struct {
	score float64
	cells []string
}

func scoresRow(a rules.Assessment) scoredRow {
	cells := identity(a.Record)
	for _, f := range rules.AllFlags() {
		cells = append(cells, strconv.Itoa(a.Flags.Int(f)))
	}
	anomalyFlag := "0"
	if a.AnomalyFlag {
		anomalyFlag = "1"
	}
	cells = append(cells,
		anomalyFlag,
		strconv.FormatFloat(rules.Round(a.AnomalyScore, 4), 'f', -1, 64),
		strconv.FormatFloat(a.RiskScore, 'f', -1, 64),
		string(a.Tier),
		a.Explanation,
	)
	return scoredRow{score: a.RiskScore, cells: cells}
}

func predictionsRow(r tender.Record, res predict.Result) scoredRow {
	cells := append(identity(r),
		strconv.Itoa(res.PredictedSuspicious),
		strconv.FormatFloat(res.Probability, 'f', 4, 64),
		string(res.Tier),
	)
	return scoredRow{score: res.Probability, cells: cells}
}

// sortedCells orders rows by descending score. Ties keep input order.
func sortedCells(rows []scoredRow) [][]string {
	sorted := append([]scoredRow(nil), rows...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].score > sorted[j].score })
	out := make([][]string, len(sorted))
	for i, r := range sorted {
		out[i] = r.cells
	}
	return out
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
