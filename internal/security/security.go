package security

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	apperrors "github.com/streamwatch/tender-risk/internal/errors"
)

// Config holds HTTP hardening settings for the prediction API.
type Config struct {
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxBodyBytes   int64         `mapstructure:"max_body_bytes"`
}

// DefaultConfig returns secure defaults
func DefaultConfig() Config {
	return Config{
		AllowedOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		RequestTimeout: 60 * time.Second,
		MaxBodyBytes:   32 << 20,
	}
}

// allowedContentTypes lists the request bodies the API accepts: JSON records
// and CSV uploads, raw or multipart.
var allowedContentTypes = []string{
	"application/json",
	"text/csv",
	"text/plain",
	"multipart/form-data",
}

// Middleware bundles the hardening middleware.
type Middleware struct {
	config Config
}

// NewMiddleware creates a new security middleware instance
func NewMiddleware(config Config) *Middleware {
	return &Middleware{config: config}
}

// SecurityHeaders adds security headers to responses
func (m *Middleware) SecurityHeaders(c *gin.Context) {
	c.Header("X-Content-Type-Options", "nosniff")
	c.Header("X-Frame-Options", "DENY")
	c.Header("X-XSS-Protection", "1; mode=block")
	c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
	c.Header("Permissions-Policy", "geolocation=(), microphone=(), camera=()")

	if c.Request.TLS != nil {
		c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}

	c.Next()
}

// ValidateContentType rejects request bodies the API cannot parse.
func (m *Middleware) ValidateContentType(c *gin.Context) {
	contentType := strings.ToLower(c.GetHeader("Content-Type"))

	if contentType != "" {
		found := false
		for _, allowed := range allowedContentTypes {
			if strings.Contains(contentType, allowed) {
				found = true
				break
			}
		}

		if !found {
			appErr := apperrors.NewValidationError("Unsupported content type", contentType)
			appErr.HTTPStatus = http.StatusUnsupportedMediaType
			c.AbortWithStatusJSON(appErr.HTTPStatus, appErr.Response())
			return
		}
	}

	c.Next()
}

// LimitBody caps the readable request body at MaxBodyBytes.
func (m *Middleware) LimitBody(c *gin.Context) {
	if m.config.MaxBodyBytes > 0 && c.Request.Body != nil {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, m.config.MaxBodyBytes)
	}
	c.Next()
}

// RequestTimeout enforces request timeout
func (m *Middleware) RequestTimeout(c *gin.Context) {
	if m.config.RequestTimeout <= 0 {
		c.Next()
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), m.config.RequestTimeout)
	defer cancel()

	c.Request = c.Request.WithContext(ctx)
	c.Header("X-Timeout", strconv.Itoa(int(m.config.RequestTimeout.Seconds())))

	c.Next()
}

// CORS allows the configured dashboard origins. With no origins configured
// every origin is allowed without credentials.
func (m *Middleware) CORS() gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Content-Length", "Accept", "X-Request-ID"},
		ExposeHeaders: []string{"X-Request-ID", "X-Model-Version", "X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"},
		MaxAge:        12 * time.Hour,
	}
	if len(m.config.AllowedOrigins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = m.config.AllowedOrigins
		cfg.AllowCredentials = true
	}
	return cors.New(cfg)
}
