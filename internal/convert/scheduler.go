package convert

import (
	"context"
	"errors"
	"time"
)

// runWorker はワーカースロット1つ分の実行ループです。
// キューから優先度順にジョブを取り出し、変換を実行します。
func (m *Manager) runWorker(id int) {
	defer m.wg.Done()
	for {
		job := m.nextJob()
		if job == nil {
			return
		}
		m.logf("worker %d: processing job=%s document=%s priority=%s", id, job.JobID, job.DocumentID, job.Priority)
		m.execute(job)
	}
}

// nextJob は実行可能なジョブが現れるまでブロックします。
// 停止後は nil を返します。
func (m *Manager) nextJob() *ConversionJob {
	m.qmu.Lock()
	defer m.qmu.Unlock()
	for {
		if m.stopped {
			return nil
		}
		if job := m.dequeueEligible(); job != nil {
			return job
		}
		m.cond.Wait()
	}
}

// dequeueEligible は優先度順を保ったまま、バッチの同時実行ゲートが
// 許可する最初のジョブを取り出します。ゲートで弾かれたジョブは
// キューに戻します。キャンセル済みのジョブは黙って捨てます。
// qmu を保持して呼び出します。
func (m *Manager) dequeueEligible() *ConversionJob {
	var held []*ConversionJob
	var selected *ConversionJob

	for {
		job := m.queue.Pop()
		if job == nil {
			break
		}
		// キューに居る間にキャンセルされたジョブはここで消える
		if snapshot := m.registry.GetByJob(job.JobID); snapshot == nil || snapshot.Status != StatusQueued {
			continue
		}
		if !m.batches.tryAcquire(job) {
			held = append(held, job)
			continue
		}
		selected = job
		break
	}

	for _, job := range held {
		m.queue.Push(job)
	}
	return selected
}

// wake はゲートの解放などでデキュー条件が変わったときに
// 待機中のワーカーを起こします。
func (m *Manager) wake() {
	m.cond.Broadcast()
}

// execute はジョブ1件の変換を実行し、結果に応じて状態遷移・キャッシュ
// 更新・イベント配送・統計記録を行います。
func (m *Manager) execute(job *ConversionJob) {
	defer func() {
		m.batches.release(job)
		m.wake()
	}()

	started := m.now().UTC()
	snapshot, ok := m.registry.Update(job.JobID, func(j *ConversionJob) {
		if j.Status != StatusQueued {
			return
		}
		j.Status = StatusProcessing
		j.StartedAt = &started
		j.Progress = 0
		j.Stage = "starting"
		if avg := m.metrics.AverageProcessingTime(); avg > 0 {
			eta := started.Add(avg)
			j.EstimatedCompletion = &eta
		}
	})
	if !ok || snapshot.Status != StatusProcessing {
		// デキュー直前にキャンセルされた場合など。実行せずスロットを返す。
		return
	}
	m.publishProgress(job.DocumentID, 0, StatusProcessing)

	ctx, cancel := context.WithTimeout(context.Background(), m.opts.ConvertTimeout)
	defer cancel()

	result, convErr := m.raster.Convert(ctx, RasterRequest{
		DocumentID: job.DocumentID,
		OwnerID:    job.OwnerID,
		Progress: func(stage string, percent int) {
			percent = clampPercent(percent)
			updated, _ := m.registry.Update(job.JobID, func(j *ConversionJob) {
				if j.Status != StatusProcessing {
					return
				}
				j.Stage = stage
				j.Progress = percent
			})
			if updated != nil && updated.Status == StatusProcessing {
				m.publishProgress(job.DocumentID, percent, StatusProcessing)
			}
		},
	})

	// 実行中にキャンセルされたジョブの結果は適用せず破棄する
	if current := m.registry.GetByJob(job.JobID); current == nil {
		m.logf("worker: discarding result of cancelled job=%s", job.JobID)
		return
	}

	if convErr != nil {
		m.failJob(job, started, convErr)
		return
	}
	m.completeJob(job, started, result)
}

func (m *Manager) completeJob(job *ConversionJob, started time.Time, result *RasterResult) {
	finished := m.now().UTC()
	processing := result.ProcessingTime
	if processing <= 0 {
		processing = finished.Sub(started)
	}

	entry := &CacheEntry{
		DocumentID:        job.DocumentID,
		PageCount:         result.PageCount,
		PageURLs:          result.PageURLs,
		ConvertedAt:       finished,
		SourceFingerprint: result.SourceFingerprint,
	}
	if err := m.cache.Put(context.Background(), entry); err != nil {
		m.logf("failed to cache conversion result document=%s: %v", job.DocumentID, err)
	}

	snapshot, _ := m.registry.Update(job.JobID, func(j *ConversionJob) {
		j.Status = StatusCompleted
		j.Progress = 100
		j.Stage = "completed"
		j.CompletedAt = &finished
		j.PageCount = result.PageCount
		j.PageURLs = result.PageURLs
		j.ProcessingTime = Millis(processing)
	})
	if snapshot == nil {
		return
	}

	if err := m.store.Save(context.Background(), snapshot); err != nil {
		m.logf("failed to persist completed job=%s: %v", job.JobID, err)
	}
	m.metrics.RecordSuccess(job.JobID, job.DocumentID, processing)
	m.publishProgress(job.DocumentID, 100, StatusCompleted)
	m.publishComplete(job.DocumentID, &CompleteInfo{Success: true, TotalPages: result.PageCount})
	m.batches.observe(snapshot)
	m.logf("worker: completed job=%s document=%s pages=%d in %s", job.JobID, job.DocumentID, result.PageCount, processing)
}

func (m *Manager) failJob(job *ConversionJob, started time.Time, convErr error) {
	apiErr := classifyConvertError(convErr)
	finished := m.now().UTC()
	processing := finished.Sub(started)

	snapshot, _ := m.registry.Update(job.JobID, func(j *ConversionJob) {
		j.Status = StatusFailed
		j.Stage = "failed"
		j.CompletedAt = &finished
		j.ProcessingTime = Millis(processing)
		j.Error = &ErrorInfo{Code: apiErr.Code, Message: apiErr.Message}
	})
	if snapshot == nil {
		return
	}

	if err := m.store.Save(context.Background(), snapshot); err != nil {
		m.logf("failed to persist failed job=%s: %v", job.JobID, err)
	}
	m.metrics.RecordFailure(job.JobID, job.DocumentID, processing)
	m.publishError(job.DocumentID, apiErr)
	m.publishComplete(job.DocumentID, &CompleteInfo{Success: false, Error: apiErr.Message})
	m.batches.observe(snapshot)
	m.logf("worker: failed job=%s document=%s: %v", job.JobID, job.DocumentID, convErr)
}

// classifyConvertError は実行時エラーをAPIエラーへ写像します。
// タイムアウトは失敗として扱い、自動再試行は行いません。
func classifyConvertError(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(CodeConversionTimeout, "変換処理が制限時間内に完了しませんでした。", err)
	}
	return NewError(CodeConversionFailed, "変換処理に失敗しました。", err)
}
