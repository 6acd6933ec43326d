package convert

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestMemoryJobStoreRoundTrip(t *testing.T) {
	s := NewMemoryJobStore(time.Hour)
	job := &ConversionJob{JobID: "job-1", DocumentID: "doc-1", Status: StatusCompleted, PageCount: 2}

	if err := s.Save(context.Background(), job); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	got, err := s.Get(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got == nil || got.PageCount != 2 {
		t.Fatalf("unexpected record: %+v", got)
	}

	if got, err := s.Get(context.Background(), "missing"); err != nil || got != nil {
		t.Fatalf("Get(missing) = (%+v, %v), want (nil, nil)", got, err)
	}
}

// 永続化とAPI応答は同じJSON形を共有するため、ミリ秒フィールドが
// 名前どおりの単位で出ることをここで固定する。
func TestJobRecordMarshalsProcessingTimeAsMillis(t *testing.T) {
	job := &ConversionJob{JobID: "job-1", DocumentID: "doc-1", Status: StatusCompleted, ProcessingTime: Millis(1500 * time.Millisecond)}

	data, err := json.Marshal(job)
	if err != nil {
		t.Fatalf("Marshal returned error: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatalf("Unmarshal returned error: %v", err)
	}
	if got := payload["processingTimeMs"]; got != float64(1500) {
		t.Fatalf("processingTimeMs = %v, want 1500", got)
	}

	var restored ConversionJob
	if err := json.Unmarshal(data, &restored); err != nil {
		t.Fatalf("Unmarshal into ConversionJob returned error: %v", err)
	}
	if restored.ProcessingTime.Duration() != 1500*time.Millisecond {
		t.Fatalf("restored processing time = %s, want 1.5s", restored.ProcessingTime.Duration())
	}
}

func TestMemoryJobStoreRetentionWindow(t *testing.T) {
	s := NewMemoryJobStore(time.Minute)
	base := time.Now()
	s.now = func() time.Time { return base }

	job := &ConversionJob{JobID: "job-1", DocumentID: "doc-1", Status: StatusFailed}
	if err := s.Save(context.Background(), job); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	s.now = func() time.Time { return base.Add(30 * time.Second) }
	if got, _ := s.Get(context.Background(), "job-1"); got == nil {
		t.Fatal("record must survive within the retention window")
	}

	s.now = func() time.Time { return base.Add(2 * time.Minute) }
	if got, _ := s.Get(context.Background(), "job-1"); got != nil {
		t.Fatalf("record must expire after the retention window, got %+v", got)
	}
}
