package predict

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamwatch/tender-risk/internal/anomaly"
	"github.com/streamwatch/tender-risk/internal/artifacts"
	"github.com/streamwatch/tender-risk/internal/features"
	"github.com/streamwatch/tender-risk/internal/ml"
	"github.com/streamwatch/tender-risk/internal/rules"
	"github.com/streamwatch/tender-risk/internal/tender"
)

func corpus(n int) []tender.Record {
	out := make([]tender.Record, n)
	for i := range out {
		out[i] = tender.Record{
			ContractID:   fmt.Sprintf("ocds-%d", i),
			TenderID:     fmt.Sprintf("T-%d", i),
			Buyer:        fmt.Sprintf("Buyer %d", i%4),
			Category:     []string{"Works", "Goods"}[i%2],
			Method:       []string{"Open", "Limited"}[i%2],
			Amount:       float64(10000 + i*1373),
			Tenderers:    i % 5,
			DurationDays: float64(3 + i%20),
		}
	}
	return out
}

func fixtures(t *testing.T) (*artifacts.Baseline, *artifacts.Set) {
	t.Helper()
	records := corpus(60)
	b, err := artifacts.FitBaseline(records, 10, anomaly.Config{Trees: 10, SampleSize: 32, Contamination: 0.1, Seed: 1}, nil)
	require.NoError(t, err)

	x := features.Matrix(b.Builder().BuildAll(records))
	y := make([]int, len(records))
	for i, r := range records {
		if r.Tenderers <= 1 {
			y[i] = 1
		}
	}
	scaler, err := features.FitScaler(x)
	require.NoError(t, err)
	model, err := ml.RandomForest{Trees: 10, MaxDepth: 4, Seed: 1}.Fit(context.Background(), scaler.Transform(x), y, nil)
	require.NoError(t, err)

	return b, &artifacts.Set{
		Version:  "v-test",
		Model:    model,
		Scaler:   scaler,
		Encoders: b.Encoders,
		Stats:    b.Stats,
		Columns:  features.Columns(),
		Report:   ml.Report{Model: model.Name(), Features: features.Columns()},
	}
}

func sampleRecord() tender.Record {
	return tender.Record{
		ContractID: "ocds-x", TenderID: "TX", Buyer: "Buyer 1", Category: "Works",
		Method: "Limited", Amount: 5000000, Tenderers: 1, DurationDays: 3,
	}
}

func TestPredictWithoutModel(t *testing.T) {
	s := NewService(nil, nil, nil)
	assert.False(t, s.Ready())

	_, _, err := s.Predict(sampleRecord())
	assert.ErrorIs(t, err, ErrModelUnavailable)

	_, err = s.PredictBatch(strings.NewReader("a,b\n1,2\n"))
	assert.ErrorIs(t, err, ErrModelUnavailable)

	_, err = s.Score(sampleRecord())
	assert.ErrorIs(t, err, ErrScoringUnavailable)
}

func TestScoreWithoutModel(t *testing.T) {
	b, _ := fixtures(t)
	s := NewService(nil, nil, nil)
	require.NoError(t, s.InstallBaseline(b))

	a, err := s.Score(sampleRecord())
	require.NoError(t, err)
	assert.True(t, a.Flags.Has(rules.SingleBidder))
	assert.GreaterOrEqual(t, a.RiskScore, 0.0)
	assert.LessOrEqual(t, a.RiskScore, 100.0)

	_, _, err = s.Predict(sampleRecord())
	assert.ErrorIs(t, err, ErrModelUnavailable, "rule scoring must not imply a model")
}

func TestPredict(t *testing.T) {
	_, set := fixtures(t)
	s := NewService(nil, nil, nil)
	require.NoError(t, s.Install(set))
	require.True(t, s.Ready())

	res, version, err := s.Predict(sampleRecord())
	require.NoError(t, err)
	assert.Equal(t, "v-test", version)
	assert.GreaterOrEqual(t, res.Probability, 0.0)
	assert.LessOrEqual(t, res.Probability, 1.0)
	assert.Equal(t, rules.TierForProbability(res.Probability), res.Tier)
	assert.Equal(t, res.Probability >= ml.DecisionThreshold, res.PredictedSuspicious == 1)
	assert.Len(t, res.Features, features.NumFeatures)

	again, _, err := s.Predict(sampleRecord())
	require.NoError(t, err)
	assert.Equal(t, res, again)
}

func TestInstallRejectsMismatchedColumns(t *testing.T) {
	_, set := fixtures(t)
	s := NewService(nil, nil, nil)
	require.NoError(t, s.Install(set))

	bad := *set
	bad.Columns = append([]string{"extra"}, set.Columns...)
	assert.ErrorIs(t, s.Install(&bad), features.ErrFeatureMismatch)

	current, err := s.Current()
	require.NoError(t, err)
	assert.Same(t, set, current, "a rejected set must not replace the installed one")
}

func TestReloadFromStore(t *testing.T) {
	b, set := fixtures(t)
	store := artifacts.NewStore(t.TempDir())
	s := NewService(store, nil, nil)

	assert.ErrorIs(t, s.Reload(), ErrModelUnavailable)

	require.NoError(t, store.SaveBaseline(b))
	version, err := store.Save(set)
	require.NoError(t, err)

	require.NoError(t, s.Reload())
	current, err := s.Current()
	require.NoError(t, err)
	assert.Equal(t, version, current.Version)
	_, err = s.Baseline()
	assert.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), "CURRENT"), []byte("missing-version"), 0644))
	assert.Error(t, s.Reload())
	kept, err := s.Current()
	require.NoError(t, err)
	assert.Equal(t, version, kept.Version, "failed reload keeps the previous set")
}

func TestConcurrentPredictDuringSwap(t *testing.T) {
	_, set := fixtures(t)
	s := NewService(nil, nil, nil)
	require.NoError(t, s.Install(set))

	other := *set
	other.Version = "v-other"

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if i == 0 && j%10 == 0 {
					_ = s.Install(&other)
				}
				_, version, err := s.Predict(sampleRecord())
				assert.NoError(t, err)
				assert.Contains(t, []string{"v-test", "v-other"}, version)
			}
		}(i)
	}
	wg.Wait()
}

const batchHeader = "ocid,tender/id,tender/title,buyer/name,tender/value/amount,tender/numberOfTenderers,tender/tenderPeriod/durationInDays,tender/procurementMethod,tenderclassification/description,extra"

func TestPredictBatchCSV(t *testing.T) {
	_, set := fixtures(t)
	s := NewService(nil, nil, nil)
	require.NoError(t, s.Install(set))

	body := batchHeader + "\n" +
		"ocds-1,T1,Road,Buyer 1,5000000,1,3,Limited,Works,keep-me\n" +
		"ocds-2,T2,Desk,Buyer 2,abc,3,20,Open,Goods,bad-row\n" +
		"ocds-3,T3,Pump,Unseen Buyer,25000,4,30,Open,Unseen,x\n"

	batch, err := s.PredictBatch(strings.NewReader(body))
	require.NoError(t, err)
	require.Len(t, batch.Rows, 3)
	assert.Nil(t, batch.Rows[1].Result)
	assert.NotEmpty(t, batch.Rows[1].Error)

	var buf bytes.Buffer
	require.NoError(t, batch.WriteCSV(&buf))

	out, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, out, 4, "header plus one row per input row")

	inHeader := strings.Split(batchHeader, ",")
	assert.Equal(t, append(inHeader, AppendedColumns()...), out[0])

	in, err := csv.NewReader(strings.NewReader(body)).ReadAll()
	require.NoError(t, err)
	for i := 1; i < len(out); i++ {
		require.Len(t, out[i], len(inHeader)+3)
		assert.Equal(t, in[i], out[i][:len(inHeader)], "original cells are unchanged")
	}
	assert.Equal(t, []string{"", "", ""}, out[2][len(inHeader):])
	assert.Contains(t, []string{"0", "1"}, out[1][len(inHeader)])
}

func TestPredictBatchRaggedRows(t *testing.T) {
	_, set := fixtures(t)
	s := NewService(nil, nil, nil)
	require.NoError(t, s.Install(set))

	body := batchHeader + "\n" +
		"ocds-1,T1,Road,Buyer 1,5000,1,3,Limited,Works,x,EXTRA-NOTE\n" +
		"ocds-2,T2,Desk,Buyer 2,7000,3,20,Open,Goods\n"

	batch, err := s.PredictBatch(strings.NewReader(body))
	require.NoError(t, err)
	require.Len(t, batch.Rows, 2)
	assert.Nil(t, batch.Rows[0].Result, "a row wider than the header is malformed")
	assert.Contains(t, batch.Rows[0].Error, "11 cells")
	require.NotNil(t, batch.Rows[1].Result, "a short row still parses")

	var buf bytes.Buffer
	require.NoError(t, batch.WriteCSV(&buf))

	r := csv.NewReader(&buf)
	r.FieldsPerRecord = -1
	out, err := r.ReadAll()
	require.NoError(t, err)
	require.Len(t, out, 3)

	width := len(strings.Split(batchHeader, ","))
	tests := []struct {
		name      string
		row       []string
		wantCells []string
	}{
		{"long row kept in full", out[1], []string{"ocds-1", "T1", "Road", "Buyer 1", "5000", "1", "3", "Limited", "Works", "x", "EXTRA-NOTE", "", "", ""}},
		{"short row padded", out[2][:width], []string{"ocds-2", "T2", "Desk", "Buyer 2", "7000", "3", "20", "Open", "Goods", ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantCells, tt.row)
		})
	}
	assert.Len(t, out[2], width+3)
	assert.NotEmpty(t, out[2][width+1])
}

func TestPredictBatchMissingColumns(t *testing.T) {
	_, set := fixtures(t)
	s := NewService(nil, nil, nil)
	require.NoError(t, s.Install(set))

	_, err := s.PredictBatch(strings.NewReader("ocid,tender/id\nx,y\n"))
	assert.ErrorIs(t, err, tender.ErrMissingColumns)
}

func TestSummarize(t *testing.T) {
	batch := &Batch{
		Version: "v1",
		Rows: []Row{
			{Line: 2, Result: &Result{PredictedSuspicious: 1, Probability: 0.9, Tier: rules.TierHigh}},
			{Line: 3, Result: &Result{PredictedSuspicious: 0, Probability: 0.4, Tier: rules.TierMedium}},
			{Line: 4, Error: "malformed"},
			{Line: 5, Result: &Result{PredictedSuspicious: 0, Probability: 0.1, Tier: rules.TierLow}},
		},
	}

	s := batch.Summarize()
	assert.Equal(t, "v1", s.ModelVersion)
	assert.Equal(t, 4, s.TotalRecords)
	assert.Equal(t, 3, s.Predicted)
	assert.Equal(t, 1, s.Skipped)
	assert.Equal(t, 1, s.Suspicious)
	assert.Equal(t, 2, s.Clean)
	assert.InDelta(t, 0.3333, s.SuspicionRate, 1e-9)
	assert.InDelta(t, 0.4667, s.AverageProbability, 1e-9)
	assert.Equal(t, map[string]int{"High": 1, "Medium": 1, "Low": 1}, s.TierCounts)
	assert.Len(t, s.Predictions, 4)
}

func TestRiskDistribution(t *testing.T) {
	tests := []struct {
		name   string
		scores []float64
		check  func(t *testing.T, d Distribution)
	}{
		{
			name: "empty corpus",
			check: func(t *testing.T, d Distribution) {
				assert.Equal(t, 0, d.Total)
				assert.Len(t, d.Bins, DistributionBins)
				assert.Zero(t, d.Mean)
			},
		},
		{
			name:   "edges land in the first and last bins",
			scores: []float64{0, 4.99, 5, 100},
			check: func(t *testing.T, d Distribution) {
				assert.Equal(t, 2, d.Bins[0].Count)
				assert.Equal(t, 1, d.Bins[1].Count)
				assert.Equal(t, 1, d.Bins[DistributionBins-1].Count)
				assert.Equal(t, 95.0, d.Bins[DistributionBins-1].Lower)
			},
		},
		{
			name:   "summary statistics",
			scores: []float64{10, 20, 30, 40, 70},
			check: func(t *testing.T, d Distribution) {
				assert.Equal(t, 5, d.Total)
				assert.Equal(t, 34.0, d.Mean)
				assert.Equal(t, 30.0, d.Median)
				assert.InDelta(t, 23.02, d.Std, 0.01)
				assert.Equal(t, map[string]int{"Low": 2, "Medium": 2, "High": 1}, d.TierCounts)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, RiskDistribution(tt.scores))
		})
	}
}

func TestReadRiskDistribution(t *testing.T) {
	path := filepath.Join(t.TempDir(), "procurement_risk_scores.csv")
	header := []string{"ocid", "tender/id", "buyer/name", "amount", "num_tenderers", "duration_days", "tender/procurementMethod", "tenderclassification/description", "risk_score"}
	require.NoError(t, tender.WriteCSV(path, header, [][]string{
		{"a", "1", "PWD", "100", "1", "3", "Limited", "Works", "49.21"},
		{"b", "2", "PWD", "200", "3", "30", "Open", "Works", "8.5"},
	}))

	d, err := ReadRiskDistribution(path)
	require.NoError(t, err)
	assert.Equal(t, 2, d.Total)
	assert.Equal(t, 1, d.TierCounts["Medium"])

	_, err = ReadRiskDistribution(filepath.Join(t.TempDir(), "nope.csv"))
	assert.Error(t, err)
}
