// Package jobs はジョブ記録と変換キャッシュの Redis 永続化を提供します。
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yourusername/page-forge/internal/convert"
)

const jobKeyPrefix = "convjob:"

// Store は終了したジョブ記録を Redis に保存します。
// TTL が保持ウィンドウとなり、期限切れの記録は自動的に退避されます。
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewStore は Store を作成します。
func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{
		rdb: rdb,
		ttl: ttl,
	}
}

// Save はジョブ記録を保持ウィンドウ付きで保存します。
func (s *Store) Save(ctx context.Context, job *convert.ConversionJob) error {
	if job == nil {
		return fmt.Errorf("job is nil")
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, jobKey(job.JobID), payload, s.ttl).Err()
}

// Get はジョブ記録を取得します。存在しない場合は (nil, nil) を返します。
func (s *Store) Get(ctx context.Context, jobID string) (*convert.ConversionJob, error) {
	if jobID == "" {
		return nil, fmt.Errorf("jobID is required")
	}
	data, err := s.rdb.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	var job convert.ConversionJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func jobKey(id string) string {
	return jobKeyPrefix + id
}
