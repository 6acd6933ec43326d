package convert

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Options はスケジューラの構成です。
type Options struct {
	Workers            int           // ワーカースロット数（既定3）
	ConvertTimeout     time.Duration // 1ジョブの変換タイムアウト
	MaxBatchSize       int           // バッチのドキュメント数上限（既定50）
	MaxBatchConcurrent int           // バッチ単位の同時実行数上限（既定10）
	Inspector          SourceInspector
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 3
	}
	if o.ConvertTimeout <= 0 {
		o.ConvertTimeout = 5 * time.Minute
	}
	if o.MaxBatchSize <= 0 {
		o.MaxBatchSize = 50
	}
	if o.MaxBatchConcurrent <= 0 {
		o.MaxBatchConcurrent = 10
	}
	return o
}

// Manager は変換ジョブの投入・実行・状態管理を担います。
// プロセス起動時に1度だけ構築し、ハンドラーへ注入して使います。
type Manager struct {
	opts     Options
	cache    Cache
	store    JobStore
	raster   Rasterizer
	hub      *Hub
	metrics  *Metrics
	registry *Registry
	batches  *Batches
	logger   *log.Logger
	now      func() time.Time

	// queue と stopped は qmu / cond で保護します。
	qmu     sync.Mutex
	cond    *sync.Cond
	queue   *jobQueue
	stopped bool
	wg      sync.WaitGroup
}

// NewManager は Manager を初期化します。
func NewManager(opts Options, raster Rasterizer, cache Cache, store JobStore, hub *Hub, logger *log.Logger) (*Manager, error) {
	if raster == nil {
		return nil, errors.New("rasterizer is nil")
	}
	if cache == nil {
		return nil, errors.New("cache is nil")
	}
	if store == nil {
		return nil, errors.New("store is nil")
	}
	if hub == nil {
		return nil, errors.New("hub is nil")
	}

	m := &Manager{
		opts:     opts.withDefaults(),
		cache:    cache,
		store:    store,
		raster:   raster,
		hub:      hub,
		metrics:  NewMetrics(0),
		registry: NewRegistry(),
		logger:   logger,
		now:      time.Now,
		queue:    newJobQueue(),
	}
	m.cond = sync.NewCond(&m.qmu)
	m.batches = newBatches(m)
	return m, nil
}

// StartWorkers はワーカープールをバックグラウンドで起動します。
func (m *Manager) StartWorkers() {
	for i := 0; i < m.opts.Workers; i++ {
		m.wg.Add(1)
		go m.runWorker(i + 1)
	}
}

// Shutdown は新規のデキューを止め、実行中のワーカーの終了を待ちます。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.qmu.Lock()
	m.stopped = true
	m.qmu.Unlock()
	m.cond.Broadcast()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Metrics は統計コレクタを返します。
func (m *Manager) Metrics() *Metrics {
	return m.metrics
}

// SubmitRequest は変換ジョブの投入依頼です。
type SubmitRequest struct {
	DocumentID string
	OwnerID    string
	Priority   Priority
	Force      bool
	Meta       JobMeta
}

// SubmitOutcome は投入の結果です。キャッシュヒットで解決された場合は
// Cached が true になり、新しいジョブは作成されません。
type SubmitOutcome struct {
	Cached bool
	Entry  *CacheEntry
	Job    *ConversionJob
}

// Submit は単一ドキュメントの変換を投入します。
// キャッシュヒット時は同期的に解決し、競合時は既存ジョブの情報付きで
// エラーを返します。それ以外はジョブを作成してキューへ渡します。
func (m *Manager) Submit(ctx context.Context, req SubmitRequest) (*SubmitOutcome, error) {
	return m.submit(ctx, req, "")
}

func (m *Manager) submit(ctx context.Context, req SubmitRequest, batchID string) (*SubmitOutcome, error) {
	if req.DocumentID == "" {
		return nil, NewError(CodeInvalidInput, "documentId を指定してください。", nil)
	}
	if req.OwnerID == "" {
		return nil, NewError(CodeInvalidInput, "ownerId を指定してください。", nil)
	}
	if req.Priority == "" {
		req.Priority = PriorityNormal
	}
	if !req.Priority.Valid() {
		return nil, NewError(CodeInvalidInput,
			fmt.Sprintf("priority には high / normal / low のいずれかを指定してください (received: %s)", req.Priority), nil)
	}
	req.Meta.Force = req.Force

	// 投入前バリデーション。失敗した投入はキューに載せません。
	var source *SourceInfo
	if m.opts.Inspector != nil {
		info, err := m.opts.Inspector.Inspect(ctx, req.DocumentID)
		if err != nil {
			return nil, AsError(err)
		}
		source = info
	}

	if req.Force {
		if err := m.cache.Invalidate(ctx, req.DocumentID); err != nil {
			m.logf("failed to invalidate cache document=%s: %v", req.DocumentID, err)
		}
	} else {
		entry, err := m.cache.Get(ctx, req.DocumentID)
		switch {
		case err == nil && m.cacheEntryFresh(entry, source):
			// キャッシュヒットはジョブを作らず同期的に解決する。
			// 購読者には決定的な合図として合成の完了イベントを流す。
			m.metrics.RecordCacheHit(req.DocumentID)
			m.publishComplete(req.DocumentID, &CompleteInfo{
				Success:    true,
				TotalPages: entry.PageCount,
				Cached:     true,
			})
			return &SubmitOutcome{Cached: true, Entry: entry}, nil
		case err == nil:
			// フィンガープリント不一致は陳腐化とみなして作り直す
			if invErr := m.cache.Invalidate(ctx, req.DocumentID); invErr != nil {
				m.logf("failed to invalidate stale cache document=%s: %v", req.DocumentID, invErr)
			}
		case !errors.Is(err, ErrCacheMiss):
			// キャッシュ障害は変換を妨げない
			m.logf("cache lookup failed document=%s: %v", req.DocumentID, err)
		}
	}

	job := &ConversionJob{
		JobID:      uuid.NewString(),
		DocumentID: req.DocumentID,
		OwnerID:    req.OwnerID,
		BatchID:    batchID,
		Priority:   req.Priority,
		Status:     StatusQueued,
		CreatedAt:  m.now().UTC(),
		Meta:       req.Meta,
	}

	if err := m.registry.Create(job); err != nil {
		return nil, err
	}

	m.enqueue(job)
	return &SubmitOutcome{Job: job.Clone()}, nil
}

// cacheEntryFresh はキャッシュエントリが現在のソースに対して有効かを判定します。
// フィンガープリント照合は推奨チェックであり、比較材料が無い場合はヒット扱いです。
func (m *Manager) cacheEntryFresh(entry *CacheEntry, source *SourceInfo) bool {
	if entry == nil {
		return false
	}
	if source == nil || source.Fingerprint == "" || entry.SourceFingerprint == "" {
		return true
	}
	return entry.SourceFingerprint == source.Fingerprint
}

func (m *Manager) enqueue(job *ConversionJob) {
	m.qmu.Lock()
	m.queue.Push(job)
	m.qmu.Unlock()
	m.cond.Signal()
}

// CancelJob はジョブをキャンセルします。待機中のジョブはキューから
// 取り除かれ、実行されないまま cancelled になります。実行中のジョブは
// cancelled と記録されますが、進行中のラスタライズ呼び出しは中断されず、
// その結果は到着時に破棄されます。
func (m *Manager) CancelJob(jobID string) bool {
	m.qmu.Lock()
	m.queue.Remove(jobID)
	m.qmu.Unlock()

	snapshot, ok := m.registry.Update(jobID, func(job *ConversionJob) {
		if job.Status.Terminal() {
			return
		}
		now := m.now().UTC()
		job.Status = StatusCancelled
		job.CompletedAt = &now
	})
	if !ok || snapshot.Status != StatusCancelled {
		return false
	}

	if err := m.store.Save(context.Background(), snapshot); err != nil {
		m.logf("failed to persist cancelled job=%s: %v", jobID, err)
	}
	m.publishComplete(snapshot.DocumentID, &CompleteInfo{Success: false, Error: "cancelled"})
	m.batches.observe(snapshot)
	return true
}

// LookupJob はジョブをIDで照会します。Registryに無い終了済みジョブは
// 保持ストアへフォールバックします。
func (m *Manager) LookupJob(ctx context.Context, jobID string) (*ConversionJob, error) {
	if jobID == "" {
		return nil, NewError(CodeInvalidInput, "jobId を指定してください。", nil)
	}
	if job := m.registry.GetByJob(jobID); job != nil {
		return job, nil
	}
	job, err := m.store.Get(ctx, jobID)
	if err != nil {
		return nil, NewError(CodeInternalError, "ジョブ情報の取得に失敗しました。", err)
	}
	if job == nil {
		return nil, NewError(CodeJobNotFound, "指定されたジョブは存在しません。", nil)
	}
	return job, nil
}

// Stats はキューの観測値を返します。
func (m *Manager) Stats() QueueStats {
	m.qmu.Lock()
	depth := m.queue.Len()
	m.qmu.Unlock()
	_, processing := m.registry.Counts()

	avg := m.metrics.AverageProcessingTime()
	stats := QueueStats{
		QueueDepth:            depth,
		ActiveJobs:            processing,
		AverageProcessingTime: avg.Seconds(),
		SuccessRate:           m.metrics.SuccessRate(),
		FailureRate:           m.metrics.FailureRate(),
	}
	if avg > 0 {
		stats.EstimatedWaitTime = avg.Seconds() * float64(depth) / float64(m.opts.Workers)
	}
	return stats
}

// ConversionOptions は投入時に選択可能なオプションの案内です。
type ConversionOptions struct {
	AvailablePriorities []Priority `json:"availablePriorities"`
	CanForceReconvert   bool       `json:"canForceReconvert"`
	RecommendedPriority Priority   `json:"recommendedPriority"`
}

// DocumentStatus はドキュメント1件の変換状況の照会結果です。
type DocumentStatus struct {
	DocumentID        string            `json:"documentId"`
	Convertible       bool              `json:"convertible"`
	HasPages          bool              `json:"hasPages"`
	PageCount         int               `json:"pageCount,omitempty"`
	ExistingPages     []string          `json:"existingPages,omitempty"`
	CurrentConversion *ConversionJob    `json:"currentConversion,omitempty"`
	Queue             QueueStats        `json:"queue"`
	Options           ConversionOptions `json:"options"`
}

// DocumentStatusFor はドキュメントの変換状況をまとめて返します。
func (m *Manager) DocumentStatusFor(ctx context.Context, documentID string) (*DocumentStatus, error) {
	if documentID == "" {
		return nil, NewError(CodeInvalidInput, "documentId を指定してください。", nil)
	}

	status := &DocumentStatus{
		DocumentID:  documentID,
		Convertible: true,
		Queue:       m.Stats(),
	}

	if m.opts.Inspector != nil {
		if _, err := m.opts.Inspector.Inspect(ctx, documentID); err != nil {
			apiErr := AsError(err)
			if apiErr.Code == CodeDocumentNotFound {
				return nil, apiErr
			}
			status.Convertible = false
		}
	}

	if entry, err := m.cache.Get(ctx, documentID); err == nil {
		status.HasPages = true
		status.PageCount = entry.PageCount
		status.ExistingPages = entry.PageURLs
	} else if !errors.Is(err, ErrCacheMiss) {
		m.logf("cache lookup failed document=%s: %v", documentID, err)
	}

	status.CurrentConversion = m.registry.GetByDocument(documentID)

	recommended := PriorityNormal
	if status.Queue.QueueDepth == 0 && status.Queue.ActiveJobs == 0 {
		recommended = PriorityHigh
	}
	status.Options = ConversionOptions{
		AvailablePriorities: []Priority{PriorityHigh, PriorityNormal, PriorityLow},
		CanForceReconvert:   status.HasPages,
		RecommendedPriority: recommended,
	}
	return status, nil
}

func (m *Manager) publishProgress(documentID string, progress int, status Status) {
	p := progress
	m.hub.Publish(documentID, Event{Type: EventProgress, Progress: &p, Status: status})
}

func (m *Manager) publishComplete(documentID string, info *CompleteInfo) {
	m.hub.Publish(documentID, Event{Type: EventComplete, Result: info})
}

func (m *Manager) publishError(documentID string, apiErr *Error) {
	m.hub.Publish(documentID, Event{Type: EventError, Error: &StreamError{
		Message:   apiErr.Message,
		Code:      apiErr.Code,
		Retryable: apiErr.Retryable(),
	}})
}

func (m *Manager) logf(format string, args ...any) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
	}
}
