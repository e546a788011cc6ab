package api

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/streamwatch/tender-risk/internal/artifacts"
	apperrors "github.com/streamwatch/tender-risk/internal/errors"
	"github.com/streamwatch/tender-risk/internal/ml"
	"github.com/streamwatch/tender-risk/internal/monitoring"
	"github.com/streamwatch/tender-risk/internal/predict"
	"github.com/streamwatch/tender-risk/internal/rules"
	"github.com/streamwatch/tender-risk/internal/tender"
)

// ModelVersionHeader names the model that produced a CSV response.
const ModelVersionHeader = "X-Model-Version"

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status        string  `json:"status"`
	Version       string  `json:"version"`
	ModelLoaded   bool    `json:"model_loaded"`
	ScoringReady  bool    `json:"scoring_ready"`
	ModelVersion  string  `json:"model_version,omitempty"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	Timestamp     string  `json:"timestamp"`
}

// ScoreResponse is the rule-stage result for one tender.
type ScoreResponse struct {
	ContractID   string          `json:"ocid"`
	Flags        map[string]int  `json:"flags"`
	AnomalyScore float64         `json:"anomaly_score"`
	AnomalyFlag  bool            `json:"ml_anomaly_flag"`
	RiskScore    float64         `json:"risk_score"`
	Tier         rules.Tier      `json:"risk_tier"`
	Explanation  string          `json:"risk_explanation"`
	Breakdown    rules.Breakdown `json:"breakdown"`
}

// PredictResponse is the classifier result for one tender.
type PredictResponse struct {
	ContractID   string `json:"ocid"`
	ModelVersion string `json:"model_version"`
	predict.Result
}

// ModelInfoResponse mirrors the training report of the installed model.
type ModelInfoResponse struct {
	ModelVersion string                  `json:"model_version"`
	Columns      []string                `json:"feature_columns"`
	Report       ml.Report               `json:"training_report"`
	Versions     []artifacts.VersionInfo `json:"versions,omitempty"`
}

// handleHealth godoc
// @Summary Readiness of the prediction service
// @Description Reports ok when a trained model is installed and not_ready otherwise.
// @Tags System
// @Produce json
// @Success 200 {object} HealthResponse
// @Failure 503 {object} HealthResponse
// @Router /health [get]
func (s *Server) handleHealth(c *gin.Context) {
	resp := HealthResponse{
		Status:        "ok",
		Version:       Version,
		UptimeSeconds: time.Since(s.startedAt).Seconds(),
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}
	if _, err := s.predictor.Baseline(); err == nil {
		resp.ScoringReady = true
	}

	status := http.StatusOK
	if !s.predictor.Ready() {
		resp.Status = "not_ready"
		status = http.StatusServiceUnavailable
	} else if set, err := s.predictor.Current(); err == nil {
		resp.ModelLoaded = true
		resp.ModelVersion = set.Version
	}
	c.JSON(status, resp)
}

// handleMetrics godoc
// @Summary Service metrics
// @Description Request, prediction, rate limit and memory statistics.
// @Tags System
// @Produce json
// @Success 200 {object} map[string]any
// @Router /metrics [get]
func (s *Server) handleMetrics(c *gin.Context) {
	body := gin.H{
		"metrics":      s.metrics.GetStats(),
		"memory":       monitoring.ReadMemory(),
		"model_loaded": s.predictor.Ready(),
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	}
	if s.limiter != nil {
		body["rate_limiter"] = s.limiter.GetStats()
	}
	body["compression"] = s.compressor.GetStats()
	if s.statsCache != nil {
		body["stats_cache"] = s.statsCache.Stats()
	}
	c.JSON(http.StatusOK, body)
}

// handleModelInfo godoc
// @Summary Installed model
// @Description Version, feature columns and training report of the installed model.
// @Tags Model
// @Produce json
// @Success 200 {object} ModelInfoResponse
// @Failure 503 {object} map[string]any
// @Router /model/info [get]
func (s *Server) handleModelInfo(c *gin.Context) {
	set, err := s.predictor.Current()
	if err != nil {
		_ = c.Error(err)
		return
	}

	resp := ModelInfoResponse{
		ModelVersion: set.Version,
		Columns:      set.Columns,
		Report:       set.Report,
	}
	if s.store != nil {
		versions, err := s.store.Versions()
		if err != nil {
			s.logger.Warn("Failed to list model versions", "error", err)
		}
		resp.Versions = versions
	}
	c.JSON(http.StatusOK, resp)
}

// handleReload godoc
// @Summary Reload the current model
// @Description Installs the artifact set the store marks as current. The previous model keeps serving if loading fails.
// @Tags Model
// @Produce json
// @Success 200 {object} map[string]any
// @Failure 503 {object} map[string]any
// @Router /model/reload [post]
func (s *Server) handleReload(c *gin.Context) {
	if err := s.predictor.Reload(); err != nil {
		_ = c.Error(err)
		return
	}
	if s.statsCache != nil {
		s.statsCache.Clear()
	}
	set, err := s.predictor.Current()
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":        "reloaded",
		"model_version": set.Version,
	})
}

// handleRiskDistribution godoc
// @Summary Risk score distribution
// @Description Histogram and summary statistics of risk scores over the last consolidated scores file.
// @Tags Stats
// @Produce json
// @Success 200 {object} predict.Distribution
// @Failure 404 {object} map[string]any
// @Router /stats/risk-distribution [get]
func (s *Server) handleRiskDistribution(c *gin.Context) {
	if s.scoresPath == "" {
		_ = c.Error(apperrors.NewNotFoundError("No scores corpus configured", nil))
		return
	}
	dist, err := predict.ReadRiskDistribution(s.scoresPath)
	if errors.Is(err, os.ErrNotExist) {
		_ = c.Error(apperrors.NewNotFoundError("No scores corpus yet, run batch scoring first", err))
		return
	}
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, dist)
}

// handleScore godoc
// @Summary Rule-based risk score for one tender
// @Description Scores a tender keyed by OCDS wire names. Works before any model is trained.
// @Tags Scoring
// @Accept json
// @Produce json
// @Param tender body map[string]any true "Tender fields keyed by wire name, e.g. tender/value/amount"
// @Success 200 {object} ScoreResponse
// @Failure 400 {object} map[string]any
// @Failure 503 {object} map[string]any
// @Router /score [post]
func (s *Server) handleScore(c *gin.Context) {
	rec, ok := s.bindRecord(c)
	if !ok {
		return
	}
	a, err := s.predictor.Score(rec)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, ScoreResponse{
		ContractID:   rec.ContractID,
		Flags:        a.Flags.Map(),
		AnomalyScore: a.AnomalyScore,
		AnomalyFlag:  a.AnomalyFlag,
		RiskScore:    a.RiskScore,
		Tier:         a.Tier,
		Explanation:  a.Explanation,
		Breakdown:    a.Breakdown(),
	})
}

// handlePredict godoc
// @Summary Classifier prediction for one tender
// @Tags Prediction
// @Accept json
// @Produce json
// @Param tender body map[string]any true "Tender fields keyed by wire name"
// @Success 200 {object} PredictResponse
// @Failure 400 {object} map[string]any
// @Failure 429 {object} map[string]any
// @Failure 503 {object} map[string]any
// @Router /predict [post]
func (s *Server) handlePredict(c *gin.Context) {
	rec, ok := s.bindRecord(c)
	if !ok {
		return
	}
	res, version, err := s.predictor.Predict(rec)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, PredictResponse{
		ContractID:   rec.ContractID,
		ModelVersion: version,
		Result:       res,
	})
}

// handlePredictBatchCSV godoc
// @Summary Batch prediction returning CSV
// @Description Appends predicted_suspicious, suspicion_probability and predicted_risk_tier to every row of the uploaded CSV.
// @Tags Prediction
// @Accept text/csv,multipart/form-data
// @Produce text/csv
// @Param file formData file false "CSV upload (multipart)"
// @Success 200 {file} file
// @Failure 400 {object} map[string]any
// @Failure 503 {object} map[string]any
// @Router /predict/batch [post]
func (s *Server) handlePredictBatchCSV(c *gin.Context) {
	b, ok := s.predictBatch(c)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := b.WriteCSV(&buf); err != nil {
		_ = c.Error(err)
		return
	}
	c.Header(ModelVersionHeader, b.Version)
	c.Header("Content-Disposition", `attachment; filename="predictions.csv"`)
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

// handlePredictBatchJSON godoc
// @Summary Batch prediction returning a JSON summary
// @Tags Prediction
// @Accept text/csv,multipart/form-data
// @Produce json
// @Param file formData file false "CSV upload (multipart)"
// @Success 200 {object} predict.Summary
// @Failure 400 {object} map[string]any
// @Failure 503 {object} map[string]any
// @Router /predict/batch/json [post]
func (s *Server) handlePredictBatchJSON(c *gin.Context) {
	b, ok := s.predictBatch(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, b.Summarize())
}

func (s *Server) bindRecord(c *gin.Context) (tender.Record, bool) {
	var fields map[string]interface{}
	if err := c.ShouldBindJSON(&fields); err != nil {
		_ = c.Error(apperrors.NewValidationError("Request body must be a JSON object of tender fields", err.Error()))
		return tender.Record{}, false
	}
	missing := map[string]string{}
	for _, col := range tender.RawSchema.Required() {
		if v, ok := fields[col]; !ok || v == nil {
			missing[col] = "required"
		}
	}
	if len(missing) > 0 {
		_ = c.Error(apperrors.BuildValidationError("Missing required tender fields", missing))
		return tender.Record{}, false
	}
	rec, err := tender.FromWire(fields)
	if err != nil {
		_ = c.Error(err)
		return tender.Record{}, false
	}
	return rec, true
}

func (s *Server) predictBatch(c *gin.Context) (*predict.Batch, bool) {
	body, closeBody, err := upload(c)
	if err != nil {
		_ = c.Error(err)
		return nil, false
	}
	defer closeBody()

	b, err := s.predictor.PredictBatch(body)
	if err != nil {
		_ = c.Error(err)
		return nil, false
	}
	return b, true
}

// upload returns the CSV payload: the "file" part of a multipart form, or
// the raw request body otherwise.
func upload(c *gin.Context) (io.Reader, func(), error) {
	if !strings.HasPrefix(c.ContentType(), "multipart/") {
		return c.Request.Body, func() {}, nil
	}
	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, nil, err
		}
		return nil, nil, apperrors.NewValidationError("Multipart upload must carry a \"file\" part", err.Error())
	}
	f, err := fh.Open()
	if err != nil {
		return nil, nil, apperrors.WrapError(err, "failed to open upload %q", fh.Filename)
	}
	return f, func() { apperrors.SafeClose(f, "batch upload") }, nil
}
