package monitoring

import (
	"runtime"
	"time"
)

const mb = 1024 * 1024

// MemoryStats is a point-in-time view of the Go heap. Batch scoring and
// training hold whole corpora in memory, so the CLI logs one after each stage
// and the server exposes one on /metrics.
type MemoryStats struct {
	AllocMB      uint64    `json:"alloc_mb"`
	TotalAllocMB uint64    `json:"total_alloc_mb"`
	SysMB        uint64    `json:"sys_mb"`
	HeapInuseMB  uint64    `json:"heap_inuse_mb"`
	HeapObjects  uint64    `json:"heap_objects"`
	NumGC        uint32    `json:"num_gc"`
	NumGoroutine int       `json:"num_goroutine"`
	Timestamp    time.Time `json:"timestamp"`
}

// ReadMemory samples the runtime memory statistics.
func ReadMemory() MemoryStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return MemoryStats{
		AllocMB:      m.Alloc / mb,
		TotalAllocMB: m.TotalAlloc / mb,
		SysMB:        m.Sys / mb,
		HeapInuseMB:  m.HeapInuse / mb,
		HeapObjects:  m.HeapObjects,
		NumGC:        m.NumGC,
		NumGoroutine: runtime.NumGoroutine(),
		Timestamp:    time.Now(),
	}
}

// MemoryLogger logs a memory sample tagged with the stage that just ran.
func (l *Logger) MemoryLogger(stage string, s MemoryStats) {
	l.Info("Memory Stats",
		"stage", stage,
		"alloc_mb", s.AllocMB,
		"sys_mb", s.SysMB,
		"heap_inuse_mb", s.HeapInuseMB,
		"heap_objects", s.HeapObjects,
		"num_gc", s.NumGC,
		"goroutines", s.NumGoroutine,
	)
}
