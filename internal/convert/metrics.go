package convert

import (
	"sync"
	"time"
)

const defaultMaxSamples = 100

// Sample は完了・失敗したジョブ1件の観測値です。
type Sample struct {
	JobID      string    `json:"jobId"`
	DocumentID string    `json:"documentId"`
	Duration   Millis    `json:"durationMs"`
	Success    bool      `json:"success"`
	Cached     bool      `json:"cached"`
	At         time.Time `json:"at"`
}

// Metrics はスケジューラの観測統計を集計します。
// 純粋に可観測性のためのもので、スケジューリング判断には影響しません。
type Metrics struct {
	mu        sync.Mutex
	completed int64
	failed    int64
	cacheHits int64
	samples   []Sample
	max       int
}

// NewMetrics は直近 max 件のサンプルを保持するコレクタを作成します。
func NewMetrics(max int) *Metrics {
	if max <= 0 {
		max = defaultMaxSamples
	}
	return &Metrics{max: max}
}

// RecordSuccess は変換成功を記録します。
func (m *Metrics) RecordSuccess(jobID, documentID string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed++
	m.push(Sample{JobID: jobID, DocumentID: documentID, Duration: Millis(d), Success: true, At: time.Now().UTC()})
}

// RecordFailure は変換失敗を記録します。
func (m *Metrics) RecordFailure(jobID, documentID string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed++
	m.push(Sample{JobID: jobID, DocumentID: documentID, Duration: Millis(d), Success: false, At: time.Now().UTC()})
}

// RecordCacheHit はキャッシュヒットで解決された投入を記録します。
func (m *Metrics) RecordCacheHit(documentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cacheHits++
	m.push(Sample{DocumentID: documentID, Success: true, Cached: true, At: time.Now().UTC()})
}

func (m *Metrics) push(s Sample) {
	m.samples = append(m.samples, s)
	if len(m.samples) > m.max {
		m.samples = m.samples[len(m.samples)-m.max:]
	}
}

// AverageProcessingTime は直近サンプルの平均処理時間を返します。
// キャッシュヒットは処理時間を持たないため対象外です。
func (m *Metrics) AverageProcessingTime() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	var total time.Duration
	var count int
	for _, s := range m.samples {
		if s.Cached {
			continue
		}
		total += s.Duration.Duration()
		count++
	}
	if count == 0 {
		return 0
	}
	return total / time.Duration(count)
}

// SuccessRate は変換実行の成功率 (0-1) を返します。
func (m *Metrics) SuccessRate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := m.completed + m.failed
	if total == 0 {
		return 0
	}
	return float64(m.completed) / float64(total)
}

// FailureRate は変換実行の失敗率 (0-1) を返します。
func (m *Metrics) FailureRate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := m.completed + m.failed
	if total == 0 {
		return 0
	}
	return float64(m.failed) / float64(total)
}

// CacheHits はキャッシュヒットの累計を返します。
func (m *Metrics) CacheHits() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cacheHits
}

// Recent は新しい順に最大 n 件のサンプルを返します。
func (m *Metrics) Recent(n int) []Sample {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n <= 0 || n > len(m.samples) {
		n = len(m.samples)
	}
	out := make([]Sample, 0, n)
	for i := len(m.samples) - 1; i >= len(m.samples)-n; i-- {
		out = append(out, m.samples[i])
	}
	return out
}
