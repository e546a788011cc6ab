// Package artifacts persists trained model sets and the scoring baseline.
//
// Layout under the store root:
//
//	baseline.json
//	CURRENT                 version id of the authoritative set
//	versions/<id>/          one directory per training run
//
// A version directory is written completely under a temporary name and
// renamed into place before CURRENT is swapped, so readers only ever see
// complete sets and a failed run leaves the previous set authoritative.
package artifacts

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/streamwatch/tender-risk/internal/features"
	"github.com/streamwatch/tender-risk/internal/ml"
	"github.com/streamwatch/tender-risk/internal/tender"
)

var (
	// ErrNoArtifacts is returned when no model set has been installed yet.
	ErrNoArtifacts = errors.New("no trained model artifacts")
	// ErrNoBaseline is returned when the scoring baseline has not been fitted.
	ErrNoBaseline = errors.New("no scoring baseline")
)

const (
	currentFile  = "CURRENT"
	baselineFile = "baseline.json"
	versionsDir  = "versions"

	modelFile    = "model.json"
	scalerFile   = "scaler.json"
	encodersFile = "label_encoders.json"
	statsFile    = "corpus_stats.json"
	columnsFile  = "feature_columns.json"
	reportFile   = "training_report.json"
)

// Set is one immutable trained artifact set.
type Set struct {
	Version  string
	Model    ml.Model
	Scaler   *features.Scaler
	Encoders *features.Encoders
	Stats    *features.CorpusStats
	Columns  []string
	Report   ml.Report
}

// Validate checks that the set is internally consistent and matches the
// feature layout of this build.
func (s *Set) Validate() error {
	if s.Model == nil || s.Scaler == nil || s.Encoders == nil || s.Stats == nil {
		return errors.New("artifact set is incomplete")
	}
	if err := features.CheckColumns(s.Columns); err != nil {
		return err
	}
	if len(s.Scaler.Mean) != len(s.Columns) || len(s.Scaler.Scale) != len(s.Columns) {
		return fmt.Errorf("scaler has %d columns, expected %d", len(s.Scaler.Mean), len(s.Columns))
	}
	return nil
}

// Builder returns the feature builder the set was trained with.
func (s *Set) Builder() *features.Builder {
	return features.NewBuilder(s.Stats, s.Encoders)
}

// Probability scales v and returns the classifier's positive-class
// probability.
func (s *Set) Probability(v features.Vector) float64 {
	return s.Model.PredictProba(s.Scaler.TransformRow(v.Slice()))
}

// Store reads and writes artifact sets under a root directory.
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir. Nothing is created until the first
// save.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the store root.
func (s *Store) Dir() string { return s.dir }

// Save writes set as a new version and makes it current. set.Version is
// assigned when empty.
func (s *Store) Save(set *Set) (string, error) {
	if err := set.Validate(); err != nil {
		return "", fmt.Errorf("refusing to save artifact set: %w", err)
	}
	if set.Version == "" {
		set.Version = uuid.New().String()
	}

	root := filepath.Join(s.dir, versionsDir)
	if err := os.MkdirAll(root, 0755); err != nil {
		return "", fmt.Errorf("failed to create versions directory: %w", err)
	}
	staging, err := os.MkdirTemp(root, ".staging-")
	if err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	modelData, err := ml.MarshalModel(set.Model)
	if err != nil {
		return "", err
	}
	if err := tender.WriteBytes(filepath.Join(staging, modelFile), modelData); err != nil {
		return "", err
	}
	parts := map[string]interface{}{
		scalerFile:   set.Scaler,
		encodersFile: set.Encoders,
		statsFile:    set.Stats,
		columnsFile:  set.Columns,
		reportFile:   set.Report,
	}
	for name, v := range parts {
		if err := tender.WriteJSON(filepath.Join(staging, name), v); err != nil {
			return "", err
		}
	}

	final := filepath.Join(root, set.Version)
	if err := os.Rename(staging, final); err != nil {
		return "", fmt.Errorf("failed to publish version %s: %w", set.Version, err)
	}
	if err := tender.WriteBytes(filepath.Join(s.dir, currentFile), []byte(set.Version+"\n")); err != nil {
		return "", fmt.Errorf("failed to swap current version: %w", err)
	}

	slog.Info("Artifact set installed", "version", set.Version, "model", set.Model.Name(), "dir", final)
	return set.Version, nil
}

// CurrentVersion returns the id in CURRENT, or ErrNoArtifacts.
func (s *Store) CurrentVersion() (string, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, currentFile))
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNoArtifacts
	}
	if err != nil {
		return "", fmt.Errorf("failed to read current version: %w", err)
	}
	v := strings.TrimSpace(string(data))
	if v == "" {
		return "", ErrNoArtifacts
	}
	return v, nil
}

// LoadCurrent loads the authoritative set.
func (s *Store) LoadCurrent() (*Set, error) {
	v, err := s.CurrentVersion()
	if err != nil {
		return nil, err
	}
	return s.Load(v)
}

// Load reads one version.
func (s *Store) Load(version string) (*Set, error) {
	dir := filepath.Join(s.dir, versionsDir, version)
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: version %s not found", ErrNoArtifacts, version)
	}

	modelData, err := os.ReadFile(filepath.Join(dir, modelFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read model: %w", err)
	}
	model, err := ml.UnmarshalModel(modelData)
	if err != nil {
		return nil, err
	}

	set := &Set{Version: version, Model: model}
	parts := map[string]interface{}{
		scalerFile:   &set.Scaler,
		encodersFile: &set.Encoders,
		statsFile:    &set.Stats,
		columnsFile:  &set.Columns,
		reportFile:   &set.Report,
	}
	for name, v := range parts {
		if err := readJSON(filepath.Join(dir, name), v); err != nil {
			return nil, err
		}
	}
	if err := set.Validate(); err != nil {
		return nil, fmt.Errorf("artifact set %s is invalid: %w", version, err)
	}
	return set, nil
}

// VersionInfo describes one stored version.
type VersionInfo struct {
	Version   string    `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	Current   bool      `json:"current"`
}

// Versions lists stored versions, newest first.
func (s *Store) Versions() ([]VersionInfo, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, versionsDir))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	current, _ := s.CurrentVersion()

	var out []VersionInfo
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, VersionInfo{Version: e.Name(), CreatedAt: info.ModTime(), Current: e.Name() == current})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// SaveBaseline atomically replaces the scoring baseline.
func (s *Store) SaveBaseline(b *Baseline) error {
	if err := b.Validate(); err != nil {
		return fmt.Errorf("refusing to save baseline: %w", err)
	}
	return tender.WriteJSON(filepath.Join(s.dir, baselineFile), b)
}

// LoadBaseline reads the scoring baseline, or ErrNoBaseline.
func (s *Store) LoadBaseline() (*Baseline, error) {
	path := filepath.Join(s.dir, baselineFile)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoBaseline
	}
	var b Baseline
	if err := readJSON(path, &b); err != nil {
		return nil, err
	}
	if err := b.Validate(); err != nil {
		return nil, fmt.Errorf("baseline is invalid: %w", err)
	}
	return &b, nil
}

func readJSON(path string, v interface{}) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", filepath.Base(path), err)
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", filepath.Base(path), err)
	}
	return nil
}
