package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamwatch/tender-risk/internal/anomaly"
	"github.com/streamwatch/tender-risk/internal/artifacts"
	"github.com/streamwatch/tender-risk/internal/batch"
	"github.com/streamwatch/tender-risk/internal/database"
	"github.com/streamwatch/tender-risk/internal/ml"
)

const rawHeader = "ocid,tender/id,tender/title,buyer/name,tender/value/amount,tender/numberOfTenderers,tender/tenderPeriod/durationInDays,tender/procurementMethod,tenderclassification/description"

func writeInputs(t *testing.T, dir string) {
	t.Helper()
	for year, n := range map[string]int{"2016": 80, "2017": 70} {
		var sb strings.Builder
		sb.WriteString(rawHeader + "\n")
		for i := 0; i < n; i++ {
			method := "Open Tender"
			if i%3 == 0 {
				method = "Limited"
			}
			fmt.Fprintf(&sb, "ocds-%s-%d,T%d,Item,Buyer %d,%d,%d,%d,%s,%s\n",
				year, i, i, i%6, 15000+i*6151, i%4, 2+i%28, method, []string{"Works", "Goods"}[i%2])
		}
		require.NoError(t, os.WriteFile(filepath.Join(dir, "ocds_mapped_procurement_data_"+year+".csv"), []byte(sb.String()), 0644))
	}
}

type fixture struct {
	cfg      Config
	store    *artifacts.Store
	registry *database.RegistryService
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	in := t.TempDir()
	writeInputs(t, in)

	db, err := database.NewDB(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return fixture{
		cfg: Config{
			Batch: batch.Config{
				InputDir:           in,
				InputGlob:          "ocds_mapped_procurement_data*.csv",
				OutputDir:          filepath.Join(t.TempDir(), "out"),
				Workers:            2,
				MinCategorySamples: 10,
				Anomaly:            anomaly.Config{Trees: 20, SampleSize: 64, Contamination: 0.1, Seed: 42},
			},
			Train: ml.Config{TestFraction: 0.2, Seed: 42, MinSamples: 20, CVFolds: 3, SMOTENeighbors: 5},
		},
		store:    artifacts.NewStore(t.TempDir()),
		registry: database.NewRegistryService(database.NewRepository(db)),
	}
}

func fastLearners() []ml.Learner {
	return []ml.Learner{
		ml.GradientBoosting{Trees: 20, MaxDepth: 3, LearningRate: 0.1, Subsample: 0.8, MinSamplesLeaf: 1, Seed: 42},
		ml.RandomForest{Trees: 20, MaxDepth: 5, MinSamplesLeaf: 1, Balanced: true, Seed: 42},
	}
}

func TestRunScoresTrainsAndRescores(t *testing.T) {
	f := newFixture(t)
	p := New(f.cfg, f.store, f.registry, nil, nil, fastLearners()...)

	res, err := p.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res.Set)

	assert.Equal(t, 150, res.Scoring.TotalRecords)
	assert.Empty(t, res.Scoring.ModelVersion)
	require.NotNil(t, res.Rescoring)
	assert.Equal(t, res.Set.Version, res.Rescoring.ModelVersion)
	for _, fs := range res.Rescoring.Files {
		assert.FileExists(t, fs.PredictionsPath)
	}

	current, err := f.store.CurrentVersion()
	require.NoError(t, err)
	assert.Equal(t, res.Set.Version, current)

	loaded, err := f.store.LoadCurrent()
	require.NoError(t, err)
	assert.Equal(t, 20.0, loaded.Report.Threshold)
	assert.Equal(t, 150, loaded.Report.TrainSamples+loaded.Report.TestSamples)
	assert.Greater(t, loaded.Report.PositiveSamples, 0)

	_, err = f.store.LoadBaseline()
	assert.NoError(t, err)

	runs, err := f.registry.History(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, database.RunSucceeded, runs[0].Status)
	assert.Equal(t, res.Set.Version, runs[0].Version)
}

func TestTrainFailureKeepsPreviousSet(t *testing.T) {
	f := newFixture(t)
	p := New(f.cfg, f.store, f.registry, nil, nil, fastLearners()...)
	res, err := p.Run(context.Background())
	require.NoError(t, err)

	cfg := f.cfg
	cfg.LabelThreshold = 99
	strict := New(cfg, f.store, f.registry, nil, nil, fastLearners()...)

	_, err = strict.Train(context.Background(), nil)
	assert.ErrorIs(t, err, ml.ErrSingleClass)

	current, err := f.store.CurrentVersion()
	require.NoError(t, err)
	assert.Equal(t, res.Set.Version, current)

	runs, err := f.registry.History(10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, database.RunFailed, runs[0].Status)
}

func TestTrainWithoutScoring(t *testing.T) {
	f := newFixture(t)
	p := New(f.cfg, f.store, nil, nil, nil, fastLearners()...)

	_, err := p.Train(context.Background(), nil)
	assert.ErrorIs(t, err, artifacts.ErrNoBaseline)
}

func TestTrainTooFewSamples(t *testing.T) {
	f := newFixture(t)
	f.cfg.Train.MinSamples = 1000
	p := New(f.cfg, f.store, nil, nil, nil, fastLearners()...)

	_, err := p.Score(context.Background(), "score", nil, nil)
	require.NoError(t, err)

	_, err = p.Train(context.Background(), nil)
	assert.ErrorIs(t, err, ml.ErrInsufficientSamples)

	_, err = f.store.CurrentVersion()
	assert.ErrorIs(t, err, artifacts.ErrNoArtifacts)
}

func TestRunStageHook(t *testing.T) {
	tests := []struct {
		name       string
		minSamples int
		wantStages []string
		wantErr    error
	}{
		{"all stages", 20, []string{"score", "train", "rescore"}, nil},
		{"stops after failed training", 1000, []string{"score", "train"}, ml.ErrInsufficientSamples},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.cfg.Train.MinSamples = tt.minSamples
			p := New(f.cfg, f.store, nil, nil, nil, fastLearners()...)

			var stages []string
			p.SetStageHook(func(ctx context.Context, name string, fn func(context.Context) error) error {
				stages = append(stages, name)
				if err := fn(ctx); err != nil {
					return fmt.Errorf("%s: %w", name, err)
				}
				return nil
			})

			res, err := p.Run(context.Background())
			assert.Equal(t, tt.wantStages, stages)
			require.NotNil(t, res)
			assert.NotNil(t, res.Scoring)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Contains(t, err.Error(), "train: ")
				assert.Nil(t, res.Rescoring)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, res.Rescoring)
		})
	}
}
