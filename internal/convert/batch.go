package convert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// BatchSubmitRequest はバッチ投入の依頼です。
type BatchSubmitRequest struct {
	DocumentIDs   []string
	OwnerID       string
	Priority      Priority
	MaxConcurrent int
	Meta          JobMeta
}

// batchMember はバッチ内のドキュメント1件の追跡状態です。
// owned が false のメンバーは、投入時に既存ジョブへ相乗りしたものです。
type batchMember struct {
	documentID     string
	jobID          string
	owned          bool
	resolved       bool
	success        bool
	cached         bool
	errMsg         string
	processingTime time.Duration
}

type batchState struct {
	id            string
	ownerID       string
	documentIDs   []string
	priority      Priority
	maxConcurrent int
	createdAt     time.Time

	members    []*batchMember
	pending    map[string]*batchMember // jobID → 未解決メンバー
	processing int                     // このバッチが作成したジョブのうち実行中の数
	queueing   bool                    // メンバー投入中（まだ全員が登録されていない）
	cancelled  bool
	completed  bool
}

func (b *batchState) resolve(member *batchMember, success, cached bool, errMsg string, d time.Duration) {
	if member.resolved {
		return
	}
	member.resolved = true
	member.success = success
	member.cached = cached
	member.errMsg = errMsg
	member.processingTime = d
	if member.jobID != "" {
		delete(b.pending, member.jobID)
	}
	// 投入が終わるまでは「未解決ゼロ」をバッチ完了とみなせない
	if len(b.pending) == 0 && !b.queueing {
		b.completed = true
	}
}

// Batches は同時に投入されたドキュメント群の変換をまとめて追跡します。
// メンバージョブの状態を読むだけで、スケジューリングの真実の源には
// なりません。
type Batches struct {
	mu  sync.Mutex
	mgr *Manager

	byID  map[string]*batchState
	byJob map[string][]*batchState // jobID → そのジョブを待つバッチ群
}

func newBatches(mgr *Manager) *Batches {
	return &Batches{
		mgr:   mgr,
		byID:  make(map[string]*batchState),
		byJob: make(map[string][]*batchState),
	}
}

// QueueBatch はバッチを検証・投入します。メンバーの投入が
// キャッシュヒットや競合で即時に決まる場合もバッチエラーにはせず、
// メンバー単位の結果として記録します。
func (m *Manager) QueueBatch(ctx context.Context, req BatchSubmitRequest) (*BatchResult, error) {
	return m.batches.queue(ctx, req)
}

func (b *Batches) queue(ctx context.Context, req BatchSubmitRequest) (*BatchResult, error) {
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

	documentIDs := dedupe(req.DocumentIDs)
	if len(documentIDs) == 0 {
		return nil, NewError(CodeInvalidInput, "documentIds を1件以上指定してください。", nil)
	}
	if len(documentIDs) > b.mgr.opts.MaxBatchSize {
		return nil, NewError(CodeInvalidInput,
			fmt.Sprintf("documentIds は最大 %d 件までです (received: %d)", b.mgr.opts.MaxBatchSize, len(documentIDs)), nil)
	}

	maxConcurrent := req.MaxConcurrent
	if maxConcurrent == 0 {
		maxConcurrent = b.mgr.opts.MaxBatchConcurrent
	}
	if maxConcurrent < 1 || maxConcurrent > b.mgr.opts.MaxBatchConcurrent {
		return nil, NewError(CodeInvalidInput,
			fmt.Sprintf("maxConcurrent には 1 から %d を指定してください (received: %d)", b.mgr.opts.MaxBatchConcurrent, req.MaxConcurrent), nil)
	}
	// バッチのゲートはグローバルなワーカープールを締めることはあっても
	// 緩めることはない
	if maxConcurrent > b.mgr.opts.Workers {
		maxConcurrent = b.mgr.opts.Workers
	}

	batch := &batchState{
		id:            uuid.NewString(),
		ownerID:       req.OwnerID,
		documentIDs:   documentIDs,
		priority:      req.Priority,
		maxConcurrent: maxConcurrent,
		createdAt:     b.mgr.now().UTC(),
		pending:       make(map[string]*batchMember),
		queueing:      true,
	}

	// ワーカーは投入直後からメンバージョブを取り出せるので、最初の
	// submit より前にバッチを登録して同時実行ゲートを効かせる
	b.mu.Lock()
	b.byID[batch.id] = batch
	b.mu.Unlock()

	// submit はロック外で行う。ジョブの完了通知 (observe) と
	// ロックを取り合わないようにするため。
	for _, documentID := range documentIDs {
		member := &batchMember{documentID: documentID}

		outcome, err := b.mgr.submit(ctx, SubmitRequest{
			DocumentID: documentID,
			OwnerID:    req.OwnerID,
			Priority:   req.Priority,
			Meta:       req.Meta,
		}, batch.id)

		b.mu.Lock()
		batch.members = append(batch.members, member)
		switch {
		case err == nil && outcome.Cached:
			member.resolved = true
			member.success = true
			member.cached = true
		case err == nil:
			member.jobID = outcome.Job.JobID
			member.owned = true
			batch.pending[member.jobID] = member
			b.byJob[member.jobID] = append(b.byJob[member.jobID], batch)
		default:
			apiErr := AsError(err)
			if apiErr.Code == CodeConversionInProgress && apiErr.ConflictJob != nil {
				// 既に走っているジョブへ相乗りし、終了を待って解決する
				member.jobID = apiErr.ConflictJob.JobID
				batch.pending[member.jobID] = member
				b.byJob[member.jobID] = append(b.byJob[member.jobID], batch)
			} else {
				member.resolved = true
				member.errMsg = apiErr.Message
			}
		}
		b.mu.Unlock()
	}

	b.mu.Lock()
	batch.queueing = false
	if len(batch.pending) == 0 {
		batch.completed = true
	}
	b.mu.Unlock()

	// 登録前に終了していたジョブを取りこぼさないように突き合わせる
	b.reconcile(ctx, batch)

	return b.result(batch), nil
}

// reconcile は登録時点で既に終了していたメンバージョブを解決します。
func (b *Batches) reconcile(ctx context.Context, batch *batchState) {
	b.mu.Lock()
	jobIDs := make([]string, 0, len(batch.pending))
	for jobID := range batch.pending {
		jobIDs = append(jobIDs, jobID)
	}
	b.mu.Unlock()

	for _, jobID := range jobIDs {
		job, err := b.mgr.LookupJob(ctx, jobID)
		if err != nil || !job.Status.Terminal() {
			continue
		}
		b.observe(job)
	}
}

// observe はジョブの終了をバッチへ反映します。Manager が終了遷移の
// たびに呼び出します。
func (b *Batches) observe(job *ConversionJob) {
	b.mu.Lock()
	defer b.mu.Unlock()

	batches := b.byJob[job.JobID]
	if len(batches) == 0 {
		return
	}
	delete(b.byJob, job.JobID)

	for _, batch := range batches {
		member, ok := batch.pending[job.JobID]
		if !ok {
			continue
		}
		switch job.Status {
		case StatusCompleted:
			batch.resolve(member, true, false, "", job.ProcessingTime.Duration())
		case StatusFailed:
			msg := "変換処理に失敗しました。"
			if job.Error != nil {
				msg = job.Error.Message
			}
			batch.resolve(member, false, false, msg, job.ProcessingTime.Duration())
		case StatusCancelled:
			batch.resolve(member, false, false, "ジョブがキャンセルされました。", 0)
		}
	}
}

// tryAcquire はバッチの同時実行枠を確保します。バッチに属さない
// ジョブは常に許可されます。
func (b *Batches) tryAcquire(job *ConversionJob) bool {
	if job.BatchID == "" {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	batch, ok := b.byID[job.BatchID]
	if !ok {
		return true
	}
	if batch.processing >= batch.maxConcurrent {
		return false
	}
	batch.processing++
	return true
}

// release は tryAcquire で確保した枠を返却します。
func (b *Batches) release(job *ConversionJob) {
	if job.BatchID == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	batch, ok := b.byID[job.BatchID]
	if !ok {
		return
	}
	if batch.processing > 0 {
		batch.processing--
	}
}

// BatchProgressFor はバッチの進行状況を返します。メンバージョブの
// 状態を集計し直すだけの読み取り専用の操作です。
func (m *Manager) BatchProgressFor(batchID string) (*BatchProgress, error) {
	return m.batches.progress(batchID)
}

func (b *Batches) progress(batchID string) (*BatchProgress, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	batch, ok := b.byID[batchID]
	if !ok {
		return nil, NewError(CodeBatchNotFound, "指定されたバッチは存在しません。", nil)
	}

	progress := &BatchProgress{
		BatchID:        batchID,
		TotalDocuments: len(batch.members),
	}
	var resolvedDuration time.Duration
	var resolvedJobs int
	for _, member := range batch.members {
		switch {
		case member.resolved && member.success:
			progress.Completed++
		case member.resolved:
			progress.Failed++
		default:
			if job := b.mgr.registry.GetByJob(member.jobID); job != nil && job.Status == StatusProcessing {
				progress.Processing++
			}
		}
		if member.resolved && member.processingTime > 0 {
			resolvedDuration += member.processingTime
			resolvedJobs++
		}
	}
	if progress.TotalDocuments > 0 {
		progress.Progress = float64(progress.Completed+progress.Failed) / float64(progress.TotalDocuments) * 100
	}

	remaining := progress.TotalDocuments - progress.Completed - progress.Failed
	if remaining > 0 {
		avg := time.Duration(0)
		if resolvedJobs > 0 {
			avg = resolvedDuration / time.Duration(resolvedJobs)
		} else {
			avg = b.mgr.metrics.AverageProcessingTime()
		}
		if avg > 0 {
			progress.EstimatedTimeRemaining = avg.Seconds() * float64(remaining) / float64(batch.maxConcurrent)
		}
	}
	return progress, nil
}

// BatchResultFor はバッチの集計結果を返します。
func (m *Manager) BatchResultFor(batchID string) (*BatchResult, error) {
	m.batches.mu.Lock()
	batch, ok := m.batches.byID[batchID]
	m.batches.mu.Unlock()
	if !ok {
		return nil, NewError(CodeBatchNotFound, "指定されたバッチは存在しません。", nil)
	}
	return m.batches.result(batch), nil
}

func (b *Batches) result(batch *batchState) *BatchResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	result := &BatchResult{
		BatchID:        batch.id,
		TotalDocuments: len(batch.members),
		Completed:      batch.completed,
		Successful:     []string{},
		Failed:         []FailedDocument{},
	}
	var total time.Duration
	for _, member := range batch.members {
		if !member.resolved {
			continue
		}
		if member.success {
			result.Successful = append(result.Successful, member.documentID)
		} else {
			result.Failed = append(result.Failed, FailedDocument{DocumentID: member.documentID, Error: member.errMsg})
		}
		total += member.processingTime
	}
	result.TotalProcessingTime = total.Seconds()
	return result
}

// CancelBatch はバッチをキャンセルします。待機中・実行中のメンバー
// ジョブのキャンセルを試み、その時点までの部分的な結果でバッチを
// 完了扱いにします。冪等で、2回目の呼び出しは false を返します。
func (m *Manager) CancelBatch(batchID string) (bool, error) {
	return m.batches.cancel(batchID)
}

func (b *Batches) cancel(batchID string) (bool, error) {
	b.mu.Lock()
	batch, ok := b.byID[batchID]
	if !ok {
		b.mu.Unlock()
		return false, NewError(CodeBatchNotFound, "指定されたバッチは存在しません。", nil)
	}
	if batch.cancelled || batch.completed {
		b.mu.Unlock()
		return false, nil
	}
	batch.cancelled = true

	var owned []string
	for jobID, member := range batch.pending {
		if member.owned {
			owned = append(owned, jobID)
		}
	}
	b.mu.Unlock()

	// CancelJob は observe 経由でメンバーを解決するため、ロック外で呼ぶ
	for _, jobID := range owned {
		b.mgr.CancelJob(jobID)
	}

	b.mu.Lock()
	for _, member := range batch.members {
		if !member.resolved {
			batch.resolve(member, false, false, "バッチがキャンセルされました。", 0)
		}
	}
	batch.completed = true
	b.mu.Unlock()
	return true, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
