package monitoring

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics holds application metrics
type Metrics struct {
	RequestCount        int64
	ErrorCount          int64
	AverageResponseTime int64 // in nanoseconds
	StartTime           time.Time

	// Response time samples for percentiles
	ResponseTimes      []time.Duration
	ResponseTimesMutex sync.RWMutex

	// Status code tracking
	RequestCountByStatus map[int]int64
	StatusMutex          sync.RWMutex

	// Scoring and inference
	RecordsScored        int64
	PredictionsServed    int64
	BatchRowsPredicted   int64
	SuspiciousPredicted  int64
	ModelUnavailable     int64
	ModelReloads         int64
	ModelReloadFailures  int64
	PredictionsByTier    map[string]int64
	PredictionsTierMutex sync.RWMutex

	// Rate limit metrics
	RateLimitIPBlocks      int64
	RateLimitRedisErrors   int64
	RateLimitFallbackCount int64

	CacheHits   int64
	CacheMisses int64
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		StartTime:            time.Now(),
		ResponseTimes:        make([]time.Duration, 0, 1000),
		RequestCountByStatus: make(map[int]int64),
		PredictionsByTier:    make(map[string]int64),
	}
}

// IncrementRequest increments the request count
func (m *Metrics) IncrementRequest() {
	atomic.AddInt64(&m.RequestCount, 1)
}

// IncrementError increments the error count
func (m *Metrics) IncrementError() {
	atomic.AddInt64(&m.ErrorCount, 1)
}

// RecordResponseTime records response time for averaging and percentiles
func (m *Metrics) RecordResponseTime(duration time.Duration) {
	current := atomic.LoadInt64(&m.AverageResponseTime)
	newAverage := (current + duration.Nanoseconds()) / 2
	atomic.StoreInt64(&m.AverageResponseTime, newAverage)

	// Keep the last 1000 samples
	m.ResponseTimesMutex.Lock()
	m.ResponseTimes = append(m.ResponseTimes, duration)
	if len(m.ResponseTimes) > 1000 {
		m.ResponseTimes = m.ResponseTimes[1:]
	}
	m.ResponseTimesMutex.Unlock()
}

// RecordRequestByStatus records request count by HTTP status code
func (m *Metrics) RecordRequestByStatus(statusCode int) {
	m.StatusMutex.Lock()
	defer m.StatusMutex.Unlock()
	m.RequestCountByStatus[statusCode]++
}

// RecordScored counts records that went through rule scoring.
func (m *Metrics) RecordScored(n int) {
	atomic.AddInt64(&m.RecordsScored, int64(n))
}

// RecordPrediction counts one classifier prediction in its tier.
func (m *Metrics) RecordPrediction(tier string, suspicious bool, batch bool) {
	atomic.AddInt64(&m.PredictionsServed, 1)
	if batch {
		atomic.AddInt64(&m.BatchRowsPredicted, 1)
	}
	if suspicious {
		atomic.AddInt64(&m.SuspiciousPredicted, 1)
	}
	m.PredictionsTierMutex.Lock()
	m.PredictionsByTier[tier]++
	m.PredictionsTierMutex.Unlock()
}

// IncrementModelUnavailable counts predictions refused for lack of a model.
func (m *Metrics) IncrementModelUnavailable() {
	atomic.AddInt64(&m.ModelUnavailable, 1)
}

// RecordReload counts a model reload attempt.
func (m *Metrics) RecordReload(success bool) {
	if success {
		atomic.AddInt64(&m.ModelReloads, 1)
		return
	}
	atomic.AddInt64(&m.ModelReloadFailures, 1)
}

// GetPercentileResponseTime calculates percentile response time
func (m *Metrics) GetPercentileResponseTime(percentile float64) time.Duration {
	m.ResponseTimesMutex.RLock()
	defer m.ResponseTimesMutex.RUnlock()

	if len(m.ResponseTimes) == 0 {
		return 0
	}

	times := make([]time.Duration, len(m.ResponseTimes))
	copy(times, m.ResponseTimes)

	sort.Slice(times, func(i, j int) bool {
		return times[i] < times[j]
	})

	index := int(float64(len(times)-1) * percentile / 100.0)
	if index >= len(times) {
		index = len(times) - 1
	}

	return times[index]
}

// GetStatusCodeDistribution returns request count by status code
func (m *Metrics) GetStatusCodeDistribution() map[int]int64 {
	m.StatusMutex.RLock()
	defer m.StatusMutex.RUnlock()

	distribution := make(map[int]int64)
	for code, count := range m.RequestCountByStatus {
		distribution[code] = count
	}
	return distribution
}

// GetTierDistribution returns predictions served per probability tier
func (m *Metrics) GetTierDistribution() map[string]int64 {
	m.PredictionsTierMutex.RLock()
	defer m.PredictionsTierMutex.RUnlock()

	out := make(map[string]int64, len(m.PredictionsByTier))
	for tier, count := range m.PredictionsByTier {
		out[tier] = count
	}
	return out
}

// GetStats returns current metrics statistics
func (m *Metrics) GetStats() map[string]interface{} {
	requests := atomic.LoadInt64(&m.RequestCount)
	errors := atomic.LoadInt64(&m.ErrorCount)
	avgResponseTime := atomic.LoadInt64(&m.AverageResponseTime)

	errorRate := float64(0)
	if requests > 0 {
		errorRate = float64(errors) / float64(requests) * 100
	}

	return map[string]interface{}{
		"uptime_seconds":       time.Since(m.StartTime).Seconds(),
		"total_requests":       requests,
		"error_count":          errors,
		"error_rate_percent":   errorRate,
		"avg_response_time_ms": float64(avgResponseTime) / 1000000,
		"start_time":           m.StartTime.Format(time.RFC3339),

		"p50_response_time_ms":     float64(m.GetPercentileResponseTime(50)) / 1000000,
		"p95_response_time_ms":     float64(m.GetPercentileResponseTime(95)) / 1000000,
		"p99_response_time_ms":     float64(m.GetPercentileResponseTime(99)) / 1000000,
		"status_code_distribution": m.GetStatusCodeDistribution(),

		"records_scored":        atomic.LoadInt64(&m.RecordsScored),
		"predictions_served":    atomic.LoadInt64(&m.PredictionsServed),
		"batch_rows_predicted":  atomic.LoadInt64(&m.BatchRowsPredicted),
		"suspicious_predicted":  atomic.LoadInt64(&m.SuspiciousPredicted),
		"predictions_by_tier":   m.GetTierDistribution(),
		"model_unavailable":     atomic.LoadInt64(&m.ModelUnavailable),
		"model_reloads":         atomic.LoadInt64(&m.ModelReloads),
		"model_reload_failures": atomic.LoadInt64(&m.ModelReloadFailures),

		"cache_hits":   atomic.LoadInt64(&m.CacheHits),
		"cache_misses": atomic.LoadInt64(&m.CacheMisses),

		"rate_limit": m.GetRateLimitStats(),
	}
}

// Reset resets all metrics (useful for testing)
func (m *Metrics) Reset() {
	for _, p := range []*int64{
		&m.RequestCount, &m.ErrorCount, &m.AverageResponseTime,
		&m.RecordsScored, &m.PredictionsServed, &m.BatchRowsPredicted, &m.SuspiciousPredicted,
		&m.ModelUnavailable, &m.ModelReloads, &m.ModelReloadFailures,
		&m.RateLimitIPBlocks, &m.RateLimitRedisErrors, &m.RateLimitFallbackCount,
		&m.CacheHits, &m.CacheMisses,
	} {
		atomic.StoreInt64(p, 0)
	}

	m.ResponseTimesMutex.Lock()
	m.ResponseTimes = m.ResponseTimes[:0]
	m.ResponseTimesMutex.Unlock()

	m.StatusMutex.Lock()
	m.RequestCountByStatus = make(map[int]int64)
	m.StatusMutex.Unlock()

	m.PredictionsTierMutex.Lock()
	m.PredictionsByTier = make(map[string]int64)
	m.PredictionsTierMutex.Unlock()

	m.StartTime = time.Now()
}

// IncrementRateLimitIPBlock increments IP-based rate limit blocks
func (m *Metrics) IncrementRateLimitIPBlock() {
	atomic.AddInt64(&m.RateLimitIPBlocks, 1)
}

// IncrementRateLimitRedisError increments Redis error count for rate limiting
func (m *Metrics) IncrementRateLimitRedisError() {
	atomic.AddInt64(&m.RateLimitRedisErrors, 1)
}

// IncrementRateLimitFallback increments fallback rate limiter usage count
func (m *Metrics) IncrementRateLimitFallback() {
	atomic.AddInt64(&m.RateLimitFallbackCount, 1)
}

// GetRateLimitStats returns rate limiting statistics
func (m *Metrics) GetRateLimitStats() map[string]interface{} {
	return map[string]interface{}{
		"ip_blocks":      atomic.LoadInt64(&m.RateLimitIPBlocks),
		"redis_errors":   atomic.LoadInt64(&m.RateLimitRedisErrors),
		"fallback_count": atomic.LoadInt64(&m.RateLimitFallbackCount),
	}
}

// IncrementCacheHit increments the cache hit count
func (m *Metrics) IncrementCacheHit() {
	atomic.AddInt64(&m.CacheHits, 1)
}

// IncrementCacheMiss increments the cache miss count
func (m *Metrics) IncrementCacheMiss() {
	atomic.AddInt64(&m.CacheMisses, 1)
}
