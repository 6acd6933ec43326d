package convert

import (
	"testing"
	"time"
)

func queuedJob(id string, p Priority, createdAt time.Time) *ConversionJob {
	return &ConversionJob{JobID: id, DocumentID: "doc-" + id, Priority: p, Status: StatusQueued, CreatedAt: createdAt}
}

func TestJobQueueOrdering(t *testing.T) {
	q := newJobQueue()
	base := time.Now()

	q.Push(queuedJob("low", PriorityLow, base))
	q.Push(queuedJob("normal-1", PriorityNormal, base.Add(time.Second)))
	q.Push(queuedJob("high", PriorityHigh, base.Add(2*time.Second)))
	q.Push(queuedJob("normal-2", PriorityNormal, base.Add(3*time.Second)))

	want := []string{"high", "normal-1", "normal-2", "low"}
	for i, expected := range want {
		job := q.Pop()
		if job == nil || job.JobID != expected {
			t.Fatalf("pop %d = %v, want %s", i, job, expected)
		}
	}
	if q.Pop() != nil {
		t.Fatal("empty queue must pop nil")
	}
}

func TestJobQueueFIFOWithinSamePriority(t *testing.T) {
	q := newJobQueue()
	now := time.Now()

	// 同時刻に投入されたジョブも投入順を維持する
	for _, id := range []string{"a", "b", "c"} {
		q.Push(queuedJob(id, PriorityNormal, now))
	}
	for _, expected := range []string{"a", "b", "c"} {
		if job := q.Pop(); job.JobID != expected {
			t.Fatalf("pop = %s, want %s", job.JobID, expected)
		}
	}
}

func TestJobQueueRemove(t *testing.T) {
	q := newJobQueue()
	base := time.Now()
	q.Push(queuedJob("a", PriorityNormal, base))
	q.Push(queuedJob("b", PriorityNormal, base.Add(time.Second)))
	q.Push(queuedJob("c", PriorityNormal, base.Add(2*time.Second)))

	if !q.Remove("b") {
		t.Fatal("Remove returned false for a queued job")
	}
	if q.Remove("b") {
		t.Fatal("second Remove must return false")
	}
	if q.Len() != 2 {
		t.Fatalf("queue length = %d, want 2", q.Len())
	}
	if job := q.Pop(); job.JobID != "a" {
		t.Fatalf("pop = %s, want a", job.JobID)
	}
	if job := q.Pop(); job.JobID != "c" {
		t.Fatalf("pop = %s, want c", job.JobID)
	}
}

func TestJobQueueIgnoresDuplicatePush(t *testing.T) {
	q := newJobQueue()
	job := queuedJob("a", PriorityNormal, time.Now())
	q.Push(job)
	q.Push(job)
	if q.Len() != 1 {
		t.Fatalf("queue length = %d, want 1", q.Len())
	}
}
