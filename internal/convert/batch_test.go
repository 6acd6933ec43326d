package convert

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestQueueBatchValidation(t *testing.T) {
	m := newTestManager(t, Options{MaxBatchSize: 3, MaxBatchConcurrent: 2}, nil)
	ctx := context.Background()

	cases := []BatchSubmitRequest{
		{OwnerID: "user-1"},
		{OwnerID: "user-1", DocumentIDs: []string{""}},
		{DocumentIDs: []string{"doc-1"}},
		{OwnerID: "user-1", DocumentIDs: []string{"d1", "d2", "d3", "d4"}},
		{OwnerID: "user-1", DocumentIDs: []string{"d1"}, MaxConcurrent: 5},
		{OwnerID: "user-1", DocumentIDs: []string{"d1"}, MaxConcurrent: -1},
		{OwnerID: "user-1", DocumentIDs: []string{"d1"}, Priority: "urgent"},
	}
	for i, req := range cases {
		_, err := m.QueueBatch(ctx, req)
		var apiErr *Error
		if !errors.As(err, &apiErr) || apiErr.Code != CodeInvalidInput {
			t.Fatalf("case %d: QueueBatch error = %v, want %s", i, err, CodeInvalidInput)
		}
	}
}

func TestQueueBatchDeduplicates(t *testing.T) {
	m := newTestManager(t, Options{}, nil)

	result, err := m.QueueBatch(context.Background(), BatchSubmitRequest{
		OwnerID:     "user-1",
		DocumentIDs: []string{"doc-1", "doc-2", "doc-1", "doc-2", "doc-3"},
	})
	if err != nil {
		t.Fatalf("QueueBatch returned error: %v", err)
	}
	if result.TotalDocuments != 3 {
		t.Fatalf("total documents = %d, want 3 after dedup", result.TotalDocuments)
	}

	m.qmu.Lock()
	depth := m.queue.Len()
	m.qmu.Unlock()
	if depth != 3 {
		t.Fatalf("queue depth = %d, want 3", depth)
	}
}

func TestBatchCompletesWithPartialFailures(t *testing.T) {
	raster := &stubRasterizer{convert: func(ctx context.Context, req RasterRequest) (*RasterResult, error) {
		if strings.HasPrefix(req.DocumentID, "bad-") {
			return nil, NewError(CodeConversionFailed, "変換処理に失敗しました。", nil)
		}
		return &RasterResult{PageCount: 1, PageURLs: []string{"/p1"}, ProcessingTime: time.Millisecond}, nil
	}}
	m := newTestManager(t, Options{Workers: 2}, raster)
	startTestWorkers(t, m)

	queued, err := m.QueueBatch(context.Background(), BatchSubmitRequest{
		OwnerID:     "user-1",
		DocumentIDs: []string{"doc-1", "bad-2", "doc-3", "doc-4"},
	})
	if err != nil {
		t.Fatalf("QueueBatch returned error: %v", err)
	}

	waitFor(t, "batch completion", func() bool {
		result, err := m.BatchResultFor(queued.BatchID)
		return err == nil && result.Completed
	})

	result, err := m.BatchResultFor(queued.BatchID)
	if err != nil {
		t.Fatalf("BatchResultFor returned error: %v", err)
	}
	if len(result.Successful) != 3 || len(result.Failed) != 1 {
		t.Fatalf("successful=%d failed=%d, want 3/1", len(result.Successful), len(result.Failed))
	}
	if len(result.Successful)+len(result.Failed) != result.TotalDocuments {
		t.Fatalf("member accounting does not add up: %+v", result)
	}
	if result.Failed[0].DocumentID != "bad-2" || result.Failed[0].Error == "" {
		t.Fatalf("unexpected failed document record: %+v", result.Failed[0])
	}

	progress, err := m.BatchProgressFor(queued.BatchID)
	if err != nil {
		t.Fatalf("BatchProgressFor returned error: %v", err)
	}
	if progress.Progress != 100 {
		t.Fatalf("progress = %f, want 100", progress.Progress)
	}
}

func TestBatchGateLimitsConcurrency(t *testing.T) {
	raster := &stubRasterizer{convert: func(ctx context.Context, req RasterRequest) (*RasterResult, error) {
		time.Sleep(20 * time.Millisecond)
		return &RasterResult{PageCount: 1, PageURLs: []string{"/p1"}}, nil
	}}
	m := newTestManager(t, Options{Workers: 3}, raster)
	startTestWorkers(t, m)

	queued, err := m.QueueBatch(context.Background(), BatchSubmitRequest{
		OwnerID:       "user-1",
		DocumentIDs:   []string{"doc-1", "doc-2", "doc-3", "doc-4"},
		MaxConcurrent: 1,
	})
	if err != nil {
		t.Fatalf("QueueBatch returned error: %v", err)
	}

	waitFor(t, "batch completion", func() bool {
		result, err := m.BatchResultFor(queued.BatchID)
		return err == nil && result.Completed
	})

	if got := raster.maxConcurrent(); got != 1 {
		t.Fatalf("observed %d concurrent conversions, want 1", got)
	}
}

// slowInspector は投入前検査に時間がかかるドキュメントストアを模します。
type slowInspector struct {
	delay time.Duration
}

func (s *slowInspector) Inspect(ctx context.Context, documentID string) (*SourceInfo, error) {
	time.Sleep(s.delay)
	return &SourceInfo{Size: 1024, Pages: 1, ContentType: "application/pdf"}, nil
}

func TestBatchGateHoldsDuringSubmission(t *testing.T) {
	raster := &stubRasterizer{convert: func(ctx context.Context, req RasterRequest) (*RasterResult, error) {
		time.Sleep(20 * time.Millisecond)
		return &RasterResult{PageCount: 1, PageURLs: []string{"/p1"}}, nil
	}}
	// 検査が遅いと、後続メンバーの投入が終わる前にワーカーが先行
	// メンバーを取り出し始める。その間も同時実行ゲートは効くこと。
	m := newTestManager(t, Options{Workers: 3, Inspector: &slowInspector{delay: 40 * time.Millisecond}}, raster)
	startTestWorkers(t, m)

	queued, err := m.QueueBatch(context.Background(), BatchSubmitRequest{
		OwnerID:       "user-1",
		DocumentIDs:   []string{"doc-1", "doc-2", "doc-3"},
		MaxConcurrent: 1,
	})
	if err != nil {
		t.Fatalf("QueueBatch returned error: %v", err)
	}

	waitFor(t, "batch completion", func() bool {
		result, err := m.BatchResultFor(queued.BatchID)
		return err == nil && result.Completed
	})

	if got := raster.maxConcurrent(); got != 1 {
		t.Fatalf("observed %d concurrent conversions during submission, want 1", got)
	}
}

func TestBatchCachedMembersResolveImmediately(t *testing.T) {
	m := newTestManager(t, Options{}, nil)
	entry := &CacheEntry{DocumentID: "doc-1", PageCount: 2, PageURLs: []string{"/p1", "/p2"}}
	if err := m.cache.Put(context.Background(), entry); err != nil {
		t.Fatalf("cache Put returned error: %v", err)
	}

	result, err := m.QueueBatch(context.Background(), BatchSubmitRequest{
		OwnerID:     "user-1",
		DocumentIDs: []string{"doc-1", "doc-2"},
	})
	if err != nil {
		t.Fatalf("QueueBatch returned error: %v", err)
	}
	if len(result.Successful) != 1 || result.Successful[0] != "doc-1" {
		t.Fatalf("cached member should resolve at submission, got %+v", result)
	}
	if result.Completed {
		t.Fatal("batch with a pending member must not be completed")
	}
}

func TestBatchAdoptsExistingJob(t *testing.T) {
	m := newTestManager(t, Options{}, nil)
	ctx := context.Background()

	existing, err := m.Submit(ctx, SubmitRequest{DocumentID: "doc-1", OwnerID: "user-1"})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}

	queued, err := m.QueueBatch(ctx, BatchSubmitRequest{
		OwnerID:     "user-2",
		DocumentIDs: []string{"doc-1", "doc-2"},
	})
	if err != nil {
		t.Fatalf("QueueBatch returned error: %v", err)
	}
	if len(queued.Failed) != 0 {
		t.Fatalf("conflicting member must ride along, not fail: %+v", queued.Failed)
	}

	// 相乗り先のジョブの終了がバッチへ反映される
	if !m.CancelJob(existing.Job.JobID) {
		t.Fatal("CancelJob returned false")
	}
	progress, err := m.BatchProgressFor(queued.BatchID)
	if err != nil {
		t.Fatalf("BatchProgressFor returned error: %v", err)
	}
	if progress.Failed != 1 {
		t.Fatalf("failed members = %d, want 1 after adopted job cancellation", progress.Failed)
	}
}

func TestCancelBatchIsIdempotent(t *testing.T) {
	m := newTestManager(t, Options{}, nil)

	queued, err := m.QueueBatch(context.Background(), BatchSubmitRequest{
		OwnerID:     "user-1",
		DocumentIDs: []string{"doc-1", "doc-2"},
	})
	if err != nil {
		t.Fatalf("QueueBatch returned error: %v", err)
	}

	cancelled, err := m.CancelBatch(queued.BatchID)
	if err != nil || !cancelled {
		t.Fatalf("first CancelBatch = (%v, %v), want (true, nil)", cancelled, err)
	}
	cancelled, err = m.CancelBatch(queued.BatchID)
	if err != nil || cancelled {
		t.Fatalf("second CancelBatch = (%v, %v), want (false, nil)", cancelled, err)
	}

	result, err := m.BatchResultFor(queued.BatchID)
	if err != nil {
		t.Fatalf("BatchResultFor returned error: %v", err)
	}
	if !result.Completed {
		t.Fatal("cancelled batch must report completed")
	}
	if len(result.Failed) != 2 {
		t.Fatalf("failed members = %d, want 2", len(result.Failed))
	}

	// メンバージョブはレジストリからも消えている
	queuedCount, processing := m.registry.Counts()
	if queuedCount != 0 || processing != 0 {
		t.Fatalf("registry counts = (%d, %d), want (0, 0)", queuedCount, processing)
	}
}

func TestCancelBatchLeavesAdoptedJobsRunning(t *testing.T) {
	m := newTestManager(t, Options{}, nil)
	ctx := context.Background()

	existing, err := m.Submit(ctx, SubmitRequest{DocumentID: "doc-1", OwnerID: "user-1"})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}

	queued, err := m.QueueBatch(ctx, BatchSubmitRequest{
		OwnerID:     "user-2",
		DocumentIDs: []string{"doc-1", "doc-2"},
	})
	if err != nil {
		t.Fatalf("QueueBatch returned error: %v", err)
	}

	cancelled, err := m.CancelBatch(queued.BatchID)
	if err != nil || !cancelled {
		t.Fatalf("CancelBatch = (%v, %v), want (true, nil)", cancelled, err)
	}

	// バッチ側では相乗りメンバーも失敗として解決される
	result, err := m.BatchResultFor(queued.BatchID)
	if err != nil {
		t.Fatalf("BatchResultFor returned error: %v", err)
	}
	if !result.Completed || len(result.Failed) != 2 {
		t.Fatalf("unexpected batch result after cancel: %+v", result)
	}

	// 相乗り先のジョブは別の投入者のものなので走り続ける
	job := m.registry.GetByJob(existing.Job.JobID)
	if job == nil || job.Status != StatusQueued {
		t.Fatalf("adopted job = %+v, want it to stay queued", job)
	}
}

func TestCancelBatchUnknown(t *testing.T) {
	m := newTestManager(t, Options{}, nil)
	_, err := m.CancelBatch("missing")
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Code != CodeBatchNotFound {
		t.Fatalf("CancelBatch error = %v, want %s", err, CodeBatchNotFound)
	}
}
