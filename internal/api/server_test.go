package api

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamwatch/tender-risk/internal/anomaly"
	"github.com/streamwatch/tender-risk/internal/artifacts"
	"github.com/streamwatch/tender-risk/internal/features"
	"github.com/streamwatch/tender-risk/internal/ml"
	"github.com/streamwatch/tender-risk/internal/monitoring"
	"github.com/streamwatch/tender-risk/internal/predict"
	"github.com/streamwatch/tender-risk/internal/ratelimit"
	"github.com/streamwatch/tender-risk/internal/security"
	"github.com/streamwatch/tender-risk/internal/tender"
)

const rawHeader = "ocid,tender/id,tender/title,buyer/name,tender/value/amount,tender/numberOfTenderers,tender/tenderPeriod/durationInDays,tender/procurementMethod,tenderclassification/description"

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
		Version:  "v-api",
		Model:    model,
		Scaler:   scaler,
		Encoders: b.Encoders,
		Stats:    b.Stats,
		Columns:  features.Columns(),
		Report:   ml.Report{Model: model.Name(), Features: features.Columns(), ROCAUC: 0.9},
	}
}

type testServer struct {
	router    *gin.Engine
	predictor *predict.Service
	store     *artifacts.Store
	metrics   *monitoring.Metrics
}

func newTestServer(t *testing.T, ready bool, limiter *ratelimit.RateLimiter) testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := artifacts.NewStore(t.TempDir())
	metrics := monitoring.NewMetrics()
	predictor := predict.NewService(store, metrics, nil)
	if ready {
		b, set := fixtures(t)
		require.NoError(t, predictor.InstallBaseline(b))
		require.NoError(t, predictor.Install(set))
	}

	sec := security.DefaultConfig()
	sec.AllowedOrigins = nil
	srv := NewServer(Deps{
		Predictor:  predictor,
		Store:      store,
		Limiter:    limiter,
		Metrics:    metrics,
		Security:   sec,
		ScoresPath: filepath.Join(t.TempDir(), "procurement_risk_scores.csv"),
	})
	return testServer{router: srv.Router(), predictor: predictor, store: store, metrics: metrics}
}

func (ts testServer) do(method, path, contentType string, body []byte) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.RemoteAddr = "192.0.2.1:4000"
	ts.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body
}

func wireTender() []byte {
	return []byte(`{
		"ocid": "ocds-x",
		"tender/id": "TX",
		"buyer/name": "Buyer 1",
		"tender/value/amount": 5000000,
		"tender/numberOfTenderers": 1,
		"tender/tenderPeriod/durationInDays": "3",
		"tender/procurementMethod": "Limited",
		"tenderclassification/description": "Works"
	}`)
}

func batchCSV() []byte {
	var sb strings.Builder
	sb.WriteString(rawHeader + "\n")
	sb.WriteString("ocds-1,T1,Road,Buyer 1,250000,1,3,Limited,Works\n")
	sb.WriteString("ocds-2,T2,School,Buyer 2,not-a-number,3,20,Open,Goods\n")
	sb.WriteString("ocds-3,T3,Bridge,Buyer 3,12000,4,25,Open Tender,Works\n")
	return []byte(sb.String())
}

func TestHealthEndpoint(t *testing.T) {
	tests := []struct {
		name   string
		ready  bool
		status int
		body   string
	}{
		{"not ready without model", false, http.StatusServiceUnavailable, "not_ready"},
		{"ok with model", true, http.StatusOK, "ok"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, tt.ready, nil)
			w := ts.do(http.MethodGet, "/health", "", nil)
			assert.Equal(t, tt.status, w.Code)

			body := decode(t, w)
			assert.Equal(t, tt.body, body["status"])
			assert.Equal(t, tt.ready, body["model_loaded"])
			assert.Equal(t, tt.ready, body["scoring_ready"])
			assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
			assert.NotEmpty(t, w.Header().Get(monitoring.RequestIDHeader))
		})
	}
}

func TestHealthMethodNotAllowed(t *testing.T) {
	ts := newTestServer(t, true, nil)
	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
		w := ts.do(method, "/health", "", nil)
		assert.Equal(t, http.StatusNotFound, w.Code, method)
	}
}

func TestPredictWithoutModel(t *testing.T) {
	ts := newTestServer(t, false, nil)

	tests := []struct {
		name        string
		path        string
		contentType string
		body        []byte
	}{
		{"single", "/predict", "application/json", wireTender()},
		{"batch csv", "/predict/batch", "text/csv", batchCSV()},
		{"batch json", "/predict/batch/json", "text/csv", batchCSV()},
		{"model info", "/model/info", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method := http.MethodPost
			if tt.body == nil {
				method = http.MethodGet
			}
			w := ts.do(method, tt.path, tt.contentType, tt.body)
			assert.Equal(t, http.StatusServiceUnavailable, w.Code)
			body := decode(t, w)
			assert.Equal(t, "model_unavailable", body["category"])
			assert.Equal(t, w.Header().Get(monitoring.RequestIDHeader), body["request_id"])
		})
	}
}

func TestScoreEndpoint(t *testing.T) {
	ts := newTestServer(t, true, nil)

	w := ts.do(http.MethodPost, "/score", "application/json", wireTender())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp ScoreResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ocds-x", resp.ContractID)
	assert.Equal(t, 1, resp.Flags["flag_single_bidder"])
	assert.Equal(t, 1, resp.Flags["flag_short_window"])
	assert.Equal(t, 1, resp.Flags["flag_non_open"])
	assert.GreaterOrEqual(t, resp.RiskScore, 0.0)
	assert.LessOrEqual(t, resp.RiskScore, 100.0)
	assert.Equal(t, resp.RiskScore, resp.Breakdown.RiskScore)
	assert.Contains(t, resp.Explanation, "Only 1 bidder submitted")
}

func TestScoreWithoutBaseline(t *testing.T) {
	ts := newTestServer(t, false, nil)
	w := ts.do(http.MethodPost, "/score", "application/json", wireTender())
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestPredictEndpoint(t *testing.T) {
	ts := newTestServer(t, true, nil)

	tests := []struct {
		name        string
		contentType string
		body        string
		status      int
		category    string
	}{
		{"valid tender", "application/json", string(wireTender()), http.StatusOK, ""},
		{"negative amount", "application/json", `{"ocid":"a","tender/id":"1","buyer/name":"B","tender/value/amount":-5,"tender/numberOfTenderers":1,"tender/tenderPeriod/durationInDays":3,"tender/procurementMethod":"Open","tenderclassification/description":"Works"}`, http.StatusBadRequest, "validation"},
		{"missing fields", "application/json", `{"ocid":"a"}`, http.StatusBadRequest, "validation"},
		{"not an object", "application/json", `[1,2,3]`, http.StatusBadRequest, "validation"},
		{"unsupported content type", "application/xml", `<tender/>`, http.StatusUnsupportedMediaType, "validation"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(http.MethodPost, "/predict", tt.contentType, []byte(tt.body))
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			body := decode(t, w)
			if tt.category != "" {
				assert.Equal(t, tt.category, body["category"])
				return
			}
			assert.Equal(t, "v-api", body["model_version"])
			assert.Equal(t, "ocds-x", body["ocid"])
			p := body["suspicion_probability"].(float64)
			assert.GreaterOrEqual(t, p, 0.0)
			assert.LessOrEqual(t, p, 1.0)
			assert.Contains(t, []interface{}{"High", "Medium", "Low"}, body["predicted_risk_tier"])
			assert.Len(t, body["features"], features.NumFeatures)
		})
	}
}

func TestScoreMissingFieldsListed(t *testing.T) {
	ts := newTestServer(t, true, nil)

	w := ts.do(http.MethodPost, "/score", "application/json", []byte(`{"ocid":"a","tender/id":"1","buyer/name":null}`))
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

	body := decode(t, w)
	assert.Equal(t, "validation", body["category"])
	fields, ok := body["fields"].(map[string]interface{})
	require.True(t, ok, w.Body.String())
	for _, col := range []string{"buyer/name", "tender/value/amount", "tender/numberOfTenderers", "tender/tenderPeriod/durationInDays", "tender/procurementMethod", "tenderclassification/description"} {
		assert.Equal(t, "required", fields[col], col)
	}
	assert.NotContains(t, fields, "ocid")
}

func TestPredictBatchCSV(t *testing.T) {
	ts := newTestServer(t, true, nil)

	w := ts.do(http.MethodPost, "/predict/batch", "text/csv", batchCSV())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "v-api", w.Header().Get(ModelVersionHeader))
	assert.Contains(t, w.Header().Get("Content-Type"), "text/csv")

	rows, err := csv.NewReader(w.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, predict.AppendedColumns(), rows[0][len(rows[0])-3:])
	assert.Equal(t, "ocds-1", rows[1][0])
	assert.NotEmpty(t, rows[1][len(rows[1])-1])
	assert.Equal(t, []string{"", "", ""}, rows[2][len(rows[2])-3:], "malformed row keeps empty prediction cells")
	assert.Equal(t, "ocds-3", rows[3][0])
}

func TestPredictBatchJSON(t *testing.T) {
	ts := newTestServer(t, true, nil)

	w := ts.do(http.MethodPost, "/predict/batch/json", "text/csv", batchCSV())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var summary predict.Summary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	assert.Equal(t, "v-api", summary.ModelVersion)
	assert.Equal(t, 3, summary.TotalRecords)
	assert.Equal(t, 2, summary.Predicted)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, summary.Predicted, summary.Suspicious+summary.Clean)
	assert.Len(t, summary.Predictions, 3)
	assert.NotEmpty(t, summary.Predictions[1].Error)
}

func TestPredictBatchMultipart(t *testing.T) {
	ts := newTestServer(t, true, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "tenders.csv")
	require.NoError(t, err)
	_, err = part.Write(batchCSV())
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	w := ts.do(http.MethodPost, "/predict/batch/json", mw.FormDataContentType(), buf.Bytes())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(3), decode(t, w)["total_records"])

	var empty bytes.Buffer
	mw = multipart.NewWriter(&empty)
	require.NoError(t, mw.WriteField("note", "no file"))
	require.NoError(t, mw.Close())
	w = ts.do(http.MethodPost, "/predict/batch/json", mw.FormDataContentType(), empty.Bytes())
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPredictBatchMissingColumns(t *testing.T) {
	ts := newTestServer(t, true, nil)
	w := ts.do(http.MethodPost, "/predict/batch", "text/csv", []byte("ocid,amount\na,1\n"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation", decode(t, w)["category"])
}

func TestModelInfoAndReload(t *testing.T) {
	ts := newTestServer(t, false, nil)

	w := ts.do(http.MethodPost, "/model/reload", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	b, set := fixtures(t)
	require.NoError(t, ts.store.SaveBaseline(b))
	version, err := ts.store.Save(set)
	require.NoError(t, err)

	w = ts.do(http.MethodPost, "/model/reload", "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, version, decode(t, w)["model_version"])

	w = ts.do(http.MethodGet, "/model/info", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var info ModelInfoResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, version, info.ModelVersion)
	assert.Equal(t, features.Columns(), info.Columns)
	assert.Equal(t, 0.9, info.Report.ROCAUC)
	require.Len(t, info.Versions, 1)
	assert.True(t, info.Versions[0].Current)

	w = ts.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRiskDistribution(t *testing.T) {
	gin.SetMode(gin.TestMode)
	path := filepath.Join(t.TempDir(), "procurement_risk_scores.csv")
	srv := NewServer(Deps{Predictor: predict.NewService(nil, nil, nil), ScoresPath: path})
	router := srv.Router()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stats/risk-distribution", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	header := []string{"ocid", "tender/id", "buyer/name", "amount", "num_tenderers", "duration_days", "tender/procurementMethod", "tenderclassification/description", "risk_score"}
	require.NoError(t, tender.WriteCSV(path, header, [][]string{
		{"a", "1", "PWD", "100", "1", "3", "Limited", "Works", "72.5"},
		{"b", "2", "PWD", "200", "3", "30", "Open", "Works", "10"},
		{"c", "3", "PWD", "300", "2", "12", "Open", "Goods", "40"},
	}))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stats/risk-distribution", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var d predict.Distribution
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &d))
	assert.Equal(t, 3, d.Total)
	assert.Equal(t, 40.0, d.Median)
	assert.Len(t, d.Bins, predict.DistributionBins)
	assert.Equal(t, map[string]int{"High": 1, "Medium": 1, "Low": 1}, d.TierCounts)
}

func TestMetricsEndpoint(t *testing.T) {
	limiter := ratelimit.NewRateLimiter(nil, ratelimit.DefaultConfig(), nil)
	t.Cleanup(limiter.Close)
	ts := newTestServer(t, true, limiter)

	ts.do(http.MethodPost, "/predict", "application/json", wireTender())
	w := ts.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Contains(t, body, "memory")
	assert.Contains(t, body, "rate_limiter")
	assert.Equal(t, true, body["model_loaded"])

	metrics := body["metrics"].(map[string]interface{})
	assert.Equal(t, float64(1), metrics["predictions_served"])
	assert.GreaterOrEqual(t, metrics["total_requests"].(float64), float64(1))
}

func TestPredictRateLimited(t *testing.T) {
	limiter := ratelimit.NewRateLimiter(nil, ratelimit.Config{IPLimitPerMin: 2, BatchLimitPerMin: 1}, nil)
	t.Cleanup(limiter.Close)
	ts := newTestServer(t, true, limiter)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, ts.do(http.MethodPost, "/predict", "application/json", wireTender()).Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// Status endpoints are not limited.
	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/health", "", nil).Code)

	w := ts.do(http.MethodPost, "/predict/batch/json", "text/csv", batchCSV())
	assert.Equal(t, http.StatusOK, w.Code)
	w = ts.do(http.MethodPost, "/predict/batch/json", "text/csv", batchCSV())
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "rate_limit", decode(t, w)["category"])
}

func TestSwaggerDoc(t *testing.T) {
	ts := newTestServer(t, false, nil)
	w := ts.do(http.MethodGet, "/swagger/doc.json", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "/predict/batch/json")
}

func TestPredictBatchCompressed(t *testing.T) {
	ts := newTestServer(t, true, nil)

	var sb strings.Builder
	sb.WriteString(rawHeader + "\n")
	for i := 0; i < 40; i++ {
		fmt.Fprintf(&sb, "ocds-%d,T%d,Road repair,Buyer %d,%d,%d,%d,Open Tender,Works\n", i, i, i%3, 20000+i*977, i%4, 5+i%20)
	}

	tests := []struct {
		name     string
		encoding string
		gzipped  bool
	}{
		{"gzip accepted", "gzip, deflate", true},
		{"identity", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/predict/batch", strings.NewReader(sb.String()))
			req.Header.Set("Content-Type", "text/csv")
			if tt.encoding != "" {
				req.Header.Set("Accept-Encoding", tt.encoding)
			}
			w := httptest.NewRecorder()
			ts.router.ServeHTTP(w, req)
			require.Equal(t, http.StatusOK, w.Code)

			body := io.Reader(w.Body)
			if tt.gzipped {
				require.Equal(t, "gzip", w.Header().Get("Content-Encoding"))
				zr, err := gzip.NewReader(w.Body)
				require.NoError(t, err)
				body = zr
			} else {
				assert.Empty(t, w.Header().Get("Content-Encoding"))
			}

			rows, err := csv.NewReader(body).ReadAll()
			require.NoError(t, err)
			assert.Len(t, rows, 41)
		})
	}
}

func TestRiskDistributionCached(t *testing.T) {
	gin.SetMode(gin.TestMode)
	path := filepath.Join(t.TempDir(), "procurement_risk_scores.csv")
	metrics := monitoring.NewMetrics()
	srv := NewServer(Deps{
		Predictor:     predict.NewService(nil, metrics, nil),
		Metrics:       metrics,
		ScoresPath:    path,
		StatsCacheTTL: time.Minute,
	})
	t.Cleanup(srv.Close)
	router := srv.Router()

	get := func() *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stats/risk-distribution", nil))
		return w
	}

	assert.Equal(t, http.StatusNotFound, get().Code, "missing corpus is not cached")

	header := []string{"ocid", "tender/id", "buyer/name", "amount", "num_tenderers", "duration_days", "tender/procurementMethod", "tenderclassification/description", "risk_score"}
	require.NoError(t, tender.WriteCSV(path, header, [][]string{
		{"a", "1", "PWD", "100", "1", "3", "Limited", "Works", "80"},
		{"b", "2", "PWD", "200", "3", "30", "Open", "Works", "20"},
	}))

	first := get()
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())
	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))

	require.NoError(t, tender.WriteCSV(path, header, [][]string{
		{"a", "1", "PWD", "100", "1", "3", "Limited", "Works", "80"},
	}))
	second := get()
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, int64(1), metrics.CacheHits)
}
