package convert

import (
	"testing"
	"time"
)

func TestMetricsAverageExcludesCacheHits(t *testing.T) {
	m := NewMetrics(0)
	m.RecordSuccess("job-1", "doc-1", 10*time.Second)
	m.RecordSuccess("job-2", "doc-2", 20*time.Second)
	m.RecordCacheHit("doc-3")

	if avg := m.AverageProcessingTime(); avg != 15*time.Second {
		t.Fatalf("average = %s, want 15s", avg)
	}
	if hits := m.CacheHits(); hits != 1 {
		t.Fatalf("cache hits = %d, want 1", hits)
	}
}

func TestMetricsRates(t *testing.T) {
	m := NewMetrics(0)
	if m.SuccessRate() != 0 || m.FailureRate() != 0 {
		t.Fatal("rates on empty collector must be 0")
	}

	m.RecordSuccess("job-1", "doc-1", time.Second)
	m.RecordSuccess("job-2", "doc-2", time.Second)
	m.RecordFailure("job-3", "doc-3", time.Second)
	m.RecordCacheHit("doc-4") // キャッシュヒットは成功率の母数に入らない

	if got := m.SuccessRate(); got < 0.66 || got > 0.67 {
		t.Fatalf("success rate = %f, want 2/3", got)
	}
	if got := m.FailureRate(); got < 0.33 || got > 0.34 {
		t.Fatalf("failure rate = %f, want 1/3", got)
	}
}

func TestMetricsRingCapacity(t *testing.T) {
	m := NewMetrics(3)
	for i := 0; i < 5; i++ {
		m.RecordSuccess("job", "doc", time.Duration(i)*time.Second)
	}

	recent := m.Recent(0)
	if len(recent) != 3 {
		t.Fatalf("retained samples = %d, want 3", len(recent))
	}
	// 新しい順で返る
	if recent[0].Duration != Millis(4*time.Second) || recent[2].Duration != Millis(2*time.Second) {
		t.Fatalf("unexpected sample order: %+v", recent)
	}
}
