// Package api exposes rule scoring and model predictions over HTTP.
package api

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/streamwatch/tender-risk/docs"
	"github.com/streamwatch/tender-risk/internal/artifacts"
	"github.com/streamwatch/tender-risk/internal/cache"
	apperrors "github.com/streamwatch/tender-risk/internal/errors"
	"github.com/streamwatch/tender-risk/internal/middleware"
	"github.com/streamwatch/tender-risk/internal/monitoring"
	"github.com/streamwatch/tender-risk/internal/predict"
	"github.com/streamwatch/tender-risk/internal/ratelimit"
	"github.com/streamwatch/tender-risk/internal/security"
)

// Version is reported by /health.
const Version = "1.0.0"

// Deps are the collaborators of the HTTP layer. Limiter, Metrics and Logger
// may be nil.
type Deps struct {
	Predictor *predict.Service
	Store     *artifacts.Store
	Limiter   *ratelimit.RateLimiter
	Metrics   *monitoring.Metrics
	Logger    *monitoring.Logger
	Security  security.Config
	// ScoresPath is the consolidated scores file used for risk distribution
	// stats.
	ScoresPath string
	// StatsCacheTTL caches risk distribution responses. Zero disables it.
	StatsCacheTTL time.Duration
	// Compression defaults to middleware.DefaultCompressionConfig when no
	// content types are set.
	Compression middleware.CompressionConfig
}

// Server holds the HTTP handlers.
type Server struct {
	predictor  *predict.Service
	store      *artifacts.Store
	limiter    *ratelimit.RateLimiter
	metrics    *monitoring.Metrics
	logger     *monitoring.Logger
	tracer     *monitoring.Tracer
	security   *security.Middleware
	maxBody    int64
	scoresPath string
	statsCache *cache.Cache
	compressor *middleware.Compression
	startedAt  time.Time
}

// NewServer creates a server from deps.
func NewServer(deps Deps) *Server {
	if deps.Metrics == nil {
		deps.Metrics = monitoring.NewMetrics()
	}
	if deps.Logger == nil {
		deps.Logger = monitoring.NewLogger(io.Discard, 0)
	}
	if len(deps.Compression.ContentTypes) == 0 {
		deps.Compression = middleware.DefaultCompressionConfig()
	}
	s := &Server{
		predictor:  deps.Predictor,
		store:      deps.Store,
		limiter:    deps.Limiter,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		tracer:     monitoring.NewTracer("tender-risk-api", deps.Logger),
		security:   security.NewMiddleware(deps.Security),
		maxBody:    deps.Security.MaxBodyBytes,
		scoresPath: deps.ScoresPath,
		compressor: middleware.NewCompression(deps.Compression),
		startedAt:  time.Now(),
	}
	if deps.StatsCacheTTL > 0 {
		s.statsCache = cache.NewCache(deps.StatsCacheTTL)
	}
	return s
}

// Close releases background resources.
func (s *Server) Close() {
	if s.statsCache != nil {
		s.statsCache.Close()
	}
}

// Router builds the gin engine with every route and middleware installed.
func (s *Server) Router() *gin.Engine {
	r := gin.New()

	r.Use(apperrors.RecoveryHandler())
	r.Use(monitoring.TracingMiddleware(s.tracer))
	r.Use(monitoring.MonitoringMiddleware(s.metrics, s.logger))
	r.Use(monitoring.SecurityMonitoringMiddleware(s.logger, s.maxBody))
	r.Use(s.security.CORS())
	r.Use(s.security.SecurityHeaders)
	r.Use(s.security.RequestTimeout)
	r.Use(s.compressor.Handler())
	r.Use(apperrors.ErrorHandler())

	r.GET("/health", s.handleHealth)
	r.GET("/metrics", s.handleMetrics)
	r.GET("/model/info", s.handleModelInfo)
	r.POST("/model/reload", s.handleReload)
	stats := r.Group("/stats")
	if s.statsCache != nil {
		stats.Use(s.statsCache.Middleware(s.metrics))
	}
	stats.GET("/risk-distribution", s.handleRiskDistribution)

	single := r.Group("/", s.security.ValidateContentType, s.security.LimitBody)
	batch := r.Group("/predict/batch", s.security.ValidateContentType, s.security.LimitBody)
	if s.limiter != nil {
		single.Use(s.limiter.IPRateLimitMiddleware())
		batch.Use(s.limiter.BatchRateLimitMiddleware())
	}
	single.POST("/score", s.handleScore)
	single.POST("/predict", s.handlePredict)
	batch.POST("", s.handlePredictBatchCSV)
	batch.POST("/json", s.handlePredictBatchJSON)

	docs.SwaggerInfo.BasePath = "/"
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return r
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.Router()
}
