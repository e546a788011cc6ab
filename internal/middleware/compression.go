// Package middleware holds transport middleware shared by the HTTP server.
package middleware

import (
	"compress/gzip"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
)

// CompressionConfig holds configuration for response compression
type CompressionConfig struct {
	MinSize          int      `mapstructure:"min_size"`
	CompressionLevel int      `mapstructure:"level"`
	ContentTypes     []string `mapstructure:"content_types"`
}

// DefaultCompressionConfig compresses JSON, CSV and text bodies of 1KB or
// more.
func DefaultCompressionConfig() CompressionConfig {
	return CompressionConfig{
		MinSize:          1024,
		CompressionLevel: gzip.DefaultCompression,
		ContentTypes: []string{
			"application/json",
			"text/csv",
			"text/plain",
		},
	}
}

// Compression gzips responses for clients that accept it.
type Compression struct {
	config CompressionConfig
	stats  *CompressionStats
	pool   sync.Pool
}

// NewCompression creates the middleware. An invalid level falls back to the
// gzip default.
func NewCompression(config CompressionConfig) *Compression {
	level := config.CompressionLevel
	if level < gzip.HuffmanOnly || level > gzip.BestCompression {
		level = gzip.DefaultCompression
	}
	return &Compression{
		config: config,
		stats:  NewCompressionStats(),
		pool: sync.Pool{
			New: func() interface{} {
				gz, _ := gzip.NewWriterLevel(io.Discard, level)
				return gz
			},
		},
	}
}

// Handler returns the gin middleware. Whether a response is compressed is
// decided at its first write, from the Content-Type the handler set and the
// size of that write.
func (cm *Compression) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !strings.Contains(c.GetHeader("Accept-Encoding"), "gzip") || c.Request.Method == http.MethodHead {
			c.Next()
			return
		}

		w := &gzipResponseWriter{ResponseWriter: c.Writer, cm: cm}
		c.Writer = w
		c.Next()

		if w.gz == nil {
			if size := w.ResponseWriter.Size(); size > 0 {
				cm.stats.RecordRequest(int64(size), int64(size), false)
			}
			return
		}
		_ = w.gz.Close()
		cm.pool.Put(w.gz)
		cm.stats.RecordRequest(w.original, int64(w.ResponseWriter.Size()), true)
	}
}

func (cm *Compression) shouldCompress(contentType string) bool {
	for _, ct := range cm.config.ContentTypes {
		if strings.Contains(contentType, ct) {
			return true
		}
	}
	return false
}

// GetStats returns compression statistics
func (cm *Compression) GetStats() map[string]interface{} {
	return cm.stats.GetStats()
}

type gzipResponseWriter struct {
	gin.ResponseWriter
	cm       *Compression
	gz       *gzip.Writer
	decided  bool
	original int64
}

func (w *gzipResponseWriter) decide(n int) {
	w.decided = true
	h := w.Header()
	if n < w.cm.config.MinSize || h.Get("Content-Encoding") != "" || !w.cm.shouldCompress(h.Get("Content-Type")) {
		return
	}
	w.gz = w.cm.pool.Get().(*gzip.Writer)
	w.gz.Reset(w.ResponseWriter)
	h.Set("Content-Encoding", "gzip")
	h.Add("Vary", "Accept-Encoding")
	h.Del("Content-Length")
}

func (w *gzipResponseWriter) Write(data []byte) (int, error) {
	if !w.decided {
		w.decide(len(data))
	}
	if w.gz == nil {
		return w.ResponseWriter.Write(data)
	}
	w.original += int64(len(data))
	return w.gz.Write(data)
}

func (w *gzipResponseWriter) WriteString(s string) (int, error) {
	return w.Write([]byte(s))
}

func (w *gzipResponseWriter) Flush() {
	if w.gz != nil {
		_ = w.gz.Flush()
	}
	w.ResponseWriter.Flush()
}

// CompressionStats tracks compression statistics
type CompressionStats struct {
	TotalRequests      int64
	CompressedRequests int64
	TotalBytes         int64
	CompressedBytes    int64
	mutex              sync.RWMutex
}

// NewCompressionStats creates new compression statistics
func NewCompressionStats() *CompressionStats {
	return &CompressionStats{}
}

// RecordRequest records a request's compression stats
func (cs *CompressionStats) RecordRequest(originalSize, compressedSize int64, compressed bool) {
	cs.mutex.Lock()
	defer cs.mutex.Unlock()

	cs.TotalRequests++
	cs.TotalBytes += originalSize
	if compressed {
		cs.CompressedRequests++
		cs.CompressedBytes += compressedSize
	} else {
		cs.CompressedBytes += originalSize
	}
}

// GetStats returns current compression statistics
func (cs *CompressionStats) GetStats() map[string]interface{} {
	cs.mutex.RLock()
	defer cs.mutex.RUnlock()

	compressionRatio := float64(1)
	if cs.TotalBytes > 0 {
		compressionRatio = float64(cs.CompressedBytes) / float64(cs.TotalBytes)
	}

	return map[string]interface{}{
		"total_requests":      cs.TotalRequests,
		"compressed_requests": cs.CompressedRequests,
		"total_bytes":         cs.TotalBytes,
		"compressed_bytes":    cs.CompressedBytes,
		"compression_ratio":   compressionRatio,
		"compression_savings": 1.0 - compressionRatio,
	}
}
