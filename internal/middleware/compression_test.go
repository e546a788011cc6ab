package middleware

import (
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompression(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cm := NewCompression(DefaultCompressionConfig())

	large := strings.Repeat("ocds-1,Works,High\n", 200)
	r := gin.New()
	r.Use(cm.Handler())
	r.GET("/csv", func(c *gin.Context) { c.Data(http.StatusOK, "text/csv", []byte(large)) })
	r.GET("/small", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/binary", func(c *gin.Context) { c.Data(http.StatusOK, "application/octet-stream", []byte(large)) })

	tests := []struct {
		name     string
		path     string
		accept   string
		wantGzip bool
		wantBody string
	}{
		{"large csv", "/csv", "gzip", true, large},
		{"client without gzip", "/csv", "", false, large},
		{"below min size", "/small", "gzip", false, "ok"},
		{"content type not listed", "/binary", "gzip", false, large},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.accept != "" {
				req.Header.Set("Accept-Encoding", tt.accept)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			require.Equal(t, http.StatusOK, w.Code)

			var body []byte
			if tt.wantGzip {
				assert.Equal(t, "gzip", w.Header().Get("Content-Encoding"))
				assert.Equal(t, "Accept-Encoding", w.Header().Get("Vary"))
				assert.Less(t, w.Body.Len(), len(large))
				zr, err := gzip.NewReader(w.Body)
				require.NoError(t, err)
				body, err = io.ReadAll(zr)
				require.NoError(t, err)
			} else {
				assert.Empty(t, w.Header().Get("Content-Encoding"))
				body = w.Body.Bytes()
			}
			assert.Equal(t, tt.wantBody, string(body))
		})
	}

	stats := cm.GetStats()
	assert.Equal(t, int64(3), stats["total_requests"], "requests without gzip support are not counted")
	assert.Equal(t, int64(1), stats["compressed_requests"])
	assert.Greater(t, stats["compression_savings"].(float64), 0.0)
}

func TestCompressionStatsEmpty(t *testing.T) {
	stats := NewCompressionStats().GetStats()
	assert.Equal(t, 1.0, stats["compression_ratio"])
	assert.Equal(t, 0.0, stats["compression_savings"])
}
