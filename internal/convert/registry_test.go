package convert

import (
	"errors"
	"testing"
)

func TestRegistryRejectsSecondActiveJob(t *testing.T) {
	r := NewRegistry()
	first := &ConversionJob{JobID: "job-1", DocumentID: "doc-1", Status: StatusQueued, Progress: 40}
	if err := r.Create(first); err != nil {
		t.Fatalf("first Create returned error: %v", err)
	}

	err := r.Create(&ConversionJob{JobID: "job-2", DocumentID: "doc-1", Status: StatusQueued})
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Code != CodeConversionInProgress {
		t.Fatalf("second Create error = %v, want %s", err, CodeConversionInProgress)
	}
	if apiErr.ConflictJob == nil || apiErr.ConflictJob.JobID != "job-1" || apiErr.ConflictJob.Progress != 40 {
		t.Fatalf("conflict snapshot = %+v, want job-1 at 40%%", apiErr.ConflictJob)
	}
}

func TestRegistryTerminalUpdateFreesDocument(t *testing.T) {
	r := NewRegistry()
	if err := r.Create(&ConversionJob{JobID: "job-1", DocumentID: "doc-1", Status: StatusQueued}); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	snapshot, ok := r.Update("job-1", func(j *ConversionJob) {
		j.Status = StatusCompleted
	})
	if !ok || snapshot.Status != StatusCompleted {
		t.Fatalf("Update = (%+v, %v)", snapshot, ok)
	}
	if r.GetByJob("job-1") != nil {
		t.Fatal("terminal job must be removed from the registry")
	}
	if r.GetByDocument("doc-1") != nil {
		t.Fatal("document must be free after terminal transition")
	}

	// 解放後は同じドキュメントへ新しいジョブを登録できる
	if err := r.Create(&ConversionJob{JobID: "job-2", DocumentID: "doc-1", Status: StatusQueued}); err != nil {
		t.Fatalf("Create after terminal transition returned error: %v", err)
	}
}

func TestRegistryCounts(t *testing.T) {
	r := NewRegistry()
	jobs := []*ConversionJob{
		{JobID: "job-1", DocumentID: "doc-1", Status: StatusQueued},
		{JobID: "job-2", DocumentID: "doc-2", Status: StatusQueued},
		{JobID: "job-3", DocumentID: "doc-3", Status: StatusQueued},
	}
	for _, job := range jobs {
		if err := r.Create(job); err != nil {
			t.Fatalf("Create(%s) returned error: %v", job.JobID, err)
		}
	}
	if _, ok := r.Update("job-3", func(j *ConversionJob) { j.Status = StatusProcessing }); !ok {
		t.Fatal("Update returned false")
	}

	queued, processing := r.Counts()
	if queued != 2 || processing != 1 {
		t.Fatalf("Counts = (%d, %d), want (2, 1)", queued, processing)
	}
}

func TestRegistrySnapshotsAreCopies(t *testing.T) {
	r := NewRegistry()
	job := &ConversionJob{JobID: "job-1", DocumentID: "doc-1", Status: StatusQueued, PageURLs: []string{"/p1"}}
	if err := r.Create(job); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	snapshot := r.GetByJob("job-1")
	snapshot.Status = StatusFailed
	snapshot.PageURLs[0] = "/mutated"

	current := r.GetByJob("job-1")
	if current.Status != StatusQueued || current.PageURLs[0] != "/p1" {
		t.Fatalf("registry state leaked through snapshot: %+v", current)
	}
}
