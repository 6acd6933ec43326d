package convert

import (
	"context"
	"sync"
	"time"
)

// JobStore は終了したジョブの記録を保持ウィンドウ付きで永続化します。
// Registry から取り除かれた後もジョブを照会可能に保つために使います。
// 実体はRedis実装（internal/jobs）で、TTLによる自動退避を担います。
type JobStore interface {
	// Save は終了状態のジョブ記録を保存します。
	Save(ctx context.Context, job *ConversionJob) error
	// Get はジョブ記録を取得します。存在しない場合は (nil, nil) を返します。
	Get(ctx context.Context, jobID string) (*ConversionJob, error)
}

// MemoryJobStore はプロセス内に保持するJobStore実装です。
// 開発環境とテストで使用します。
type MemoryJobStore struct {
	mu        sync.Mutex
	retention time.Duration
	records   map[string]memoryRecord
	now       func() time.Time
}

type memoryRecord struct {
	job       *ConversionJob
	expiresAt time.Time
}

// NewMemoryJobStore は保持期間付きのメモリストアを作成します。
// retention が 0 以下の場合は退避を行いません。
func NewMemoryJobStore(retention time.Duration) *MemoryJobStore {
	return &MemoryJobStore{
		retention: retention,
		records:   make(map[string]memoryRecord),
		now:       time.Now,
	}
}

// Save はジョブ記録を保存します。
func (s *MemoryJobStore) Save(ctx context.Context, job *ConversionJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := memoryRecord{job: job.Clone()}
	if s.retention > 0 {
		record.expiresAt = s.now().Add(s.retention)
	}
	s.records[job.JobID] = record
	s.purgeLocked()
	return nil
}

// Get はジョブ記録を取得します。保持期間を過ぎた記録は返しません。
func (s *MemoryJobStore) Get(ctx context.Context, jobID string) (*ConversionJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[jobID]
	if !ok {
		return nil, nil
	}
	if !record.expiresAt.IsZero() && s.now().After(record.expiresAt) {
		delete(s.records, jobID)
		return nil, nil
	}
	return record.job.Clone(), nil
}

func (s *MemoryJobStore) purgeLocked() {
	now := s.now()
	for id, record := range s.records {
		if !record.expiresAt.IsZero() && now.After(record.expiresAt) {
			delete(s.records, id)
		}
	}
}
