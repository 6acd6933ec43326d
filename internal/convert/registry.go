package convert

import "sync"

// Registry はドキュメントごとのアクティブジョブを管理するインメモリマップです。
// 「documentId につきアクティブなジョブは高々1件」という不変条件を
// ここで強制します。確認と登録は単一のクリティカルセクションで行います。
type Registry struct {
	mu     sync.Mutex
	active map[string]*ConversionJob // documentID → 非終了ジョブ
	byJob  map[string]*ConversionJob // jobID → 非終了ジョブ
}

// NewRegistry は空のRegistryを作成します。
func NewRegistry() *Registry {
	return &Registry{
		active: make(map[string]*ConversionJob),
		byJob:  make(map[string]*ConversionJob),
	}
}

// Create はジョブを登録します。同じドキュメントに非終了ジョブが
// 既に存在する場合は、その時点のスナップショット付きの競合エラーを返します。
func (r *Registry) Create(job *ConversionJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.active[job.DocumentID]; ok {
		return newConflictError(existing.Clone())
	}
	r.active[job.DocumentID] = job
	r.byJob[job.JobID] = job
	return nil
}

// GetByDocument はドキュメントの非終了ジョブのスナップショットを返します。
func (r *Registry) GetByDocument(documentID string) *ConversionJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active[documentID].Clone()
}

// GetByJob はジョブIDで非終了ジョブのスナップショットを返します。
func (r *Registry) GetByJob(jobID string) *ConversionJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byJob[jobID].Clone()
}

// Update はジョブに変更を適用し、適用後のスナップショットを返します。
// ジョブが終了状態へ遷移した場合はマップから取り除き、
// 新しい投入を受け付けられるようにします。
func (r *Registry) Update(jobID string, mutate func(*ConversionJob)) (*ConversionJob, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.byJob[jobID]
	if !ok {
		return nil, false
	}
	mutate(job)
	if job.Status.Terminal() {
		delete(r.byJob, jobID)
		if r.active[job.DocumentID] == job {
			delete(r.active, job.DocumentID)
		}
	}
	return job.Clone(), true
}

// Counts は状態別の非終了ジョブ数を返します。
func (r *Registry) Counts() (queued, processing int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, job := range r.byJob {
		switch job.Status {
		case StatusQueued:
			queued++
		case StatusProcessing:
			processing++
		}
	}
	return queued, processing
}
