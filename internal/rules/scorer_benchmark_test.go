package rules

import (
	"fmt"
	"testing"

	"github.com/streamwatch/tender-risk/internal/features"
	"github.com/streamwatch/tender-risk/internal/tender"
)

func benchRecords(n int) []tender.Record {
	methods := []string{"Open Tender", "Limited", "Direct"}
	categories := []string{"Works", "Goods", "Services"}
	recs := make([]tender.Record, n)
	for i := range recs {
		recs[i] = tender.Record{
			ContractID:   fmt.Sprintf("c-%d", i),
			Buyer:        fmt.Sprintf("buyer-%d", i%17),
			Category:     categories[i%len(categories)],
			Method:       methods[i%len(methods)],
			Amount:       float64(10000 + (i*7919)%900000),
			Tenderers:    i % 6,
			DurationDays: i % 45,
		}
	}
	return recs
}

// BenchmarkAssess benchmarks scoring a single tender against corpus statistics
func BenchmarkAssess(b *testing.B) {
	recs := benchRecords(2000)
	stats := features.ComputeStats(recs, 10)
	s := NewScorer(stats, features.NewBuilder(stats, features.FitEncoders(recs)), fixedDetector{score: 0.4})

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		a := s.Assess(recs[i%len(recs)])
		if a.RiskScore < 0 || a.RiskScore > 100 {
			b.Fatalf("risk score out of range: %f", a.RiskScore)
		}
	}
}

// BenchmarkAssessAll benchmarks scoring a full yearly corpus
func BenchmarkAssessAll(b *testing.B) {
	recs := benchRecords(2000)
	stats := features.ComputeStats(recs, 10)
	s := NewScorer(stats, features.NewBuilder(stats, features.FitEncoders(recs)), fixedDetector{score: 0.4})

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if out := s.AssessAll(recs); len(out) != len(recs) {
			b.Fatalf("expected %d assessments, got %d", len(recs), len(out))
		}
	}
}
