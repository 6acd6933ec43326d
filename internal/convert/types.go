// Package convert はPDFからページ画像への変換ジョブのスケジューリング機能を提供します。
package convert

import (
	"strconv"
	"time"
)

// Millis はJSON上では整数のミリ秒として表現される経過時間です。
type Millis time.Duration

// Duration は time.Duration へ変換します。
func (m Millis) Duration() time.Duration { return time.Duration(m) }

func (m Millis) MarshalJSON() ([]byte, error) {
	return strconv.AppendInt(nil, time.Duration(m).Milliseconds(), 10), nil
}

func (m *Millis) UnmarshalJSON(data []byte) error {
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return err
	}
	*m = Millis(time.Duration(n) * time.Millisecond)
	return nil
}

// Priority はジョブのデキュー優先度を表します。
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// rank は優先度の比較用順位を返します（小さいほど先にデキュー）。
func (p Priority) rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityNormal:
		return 1
	default:
		return 2
	}
}

// Valid は既知の優先度かどうかを返します。
func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

// Status はジョブの実行状態を表します。
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal は終了状態かどうかを返します。
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// JobMeta はジョブ投入時に付与される既知のメタデータです。
// 未知のキーは Extra に保持して前方互換性を保ちます。
type JobMeta struct {
	ManualTrigger bool              `json:"manualTrigger,omitempty"`
	Force         bool              `json:"force,omitempty"`
	Reason        string            `json:"reason,omitempty"`
	Extra         map[string]string `json:"extra,omitempty"`
}

// ErrorInfo はジョブ失敗時のエラー情報を保持します。
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ConversionJob は1ドキュメントの変換試行とそのライフサイクル状態を表します。
// documentId につき queued / processing のジョブは常に高々1件です。
type ConversionJob struct {
	JobID      string   `json:"jobId"`
	DocumentID string   `json:"documentId"`
	OwnerID    string   `json:"ownerId"`
	BatchID    string   `json:"batchId,omitempty"`
	Priority   Priority `json:"priority"`
	Status     Status   `json:"status"`
	Progress   int      `json:"progress"`
	Stage      string   `json:"stage,omitempty"`

	CreatedAt           time.Time  `json:"createdAt"`
	StartedAt           *time.Time `json:"startedAt,omitempty"`
	CompletedAt         *time.Time `json:"completedAt,omitempty"`
	EstimatedCompletion *time.Time `json:"estimatedCompletion,omitempty"`

	PageCount      int      `json:"pageCount,omitempty"`
	PageURLs       []string `json:"pageUrls,omitempty"`
	ProcessingTime Millis   `json:"processingTimeMs,omitempty"`

	Error *ErrorInfo `json:"error,omitempty"`
	Meta  JobMeta    `json:"metadata"`

	// ヒープ内のFIFO順維持用の投入連番
	seq uint64
}

// Clone はジョブのスナップショットを返します。
// 内部マップの参照を呼び出し側へ漏らさないために使います。
func (j *ConversionJob) Clone() *ConversionJob {
	if j == nil {
		return nil
	}
	cp := *j
	if j.PageURLs != nil {
		cp.PageURLs = append([]string(nil), j.PageURLs...)
	}
	if j.Meta.Extra != nil {
		extra := make(map[string]string, len(j.Meta.Extra))
		for k, v := range j.Meta.Extra {
			extra[k] = v
		}
		cp.Meta.Extra = extra
	}
	return &cp
}

// CacheEntry は変換済みドキュメントのページURL集合を表します。
type CacheEntry struct {
	DocumentID        string    `json:"documentId"`
	PageCount         int       `json:"pageCount"`
	PageURLs          []string  `json:"pageUrls"`
	ConvertedAt       time.Time `json:"convertedAt"`
	SourceFingerprint string    `json:"sourceFingerprint,omitempty"`
}

// FailedDocument はバッチ内で失敗したドキュメントの記録です。
type FailedDocument struct {
	DocumentID string `json:"documentId"`
	Error      string `json:"error"`
}

// BatchProgress はバッチの進行状況のスナップショットです。
type BatchProgress struct {
	BatchID                string  `json:"batchId"`
	TotalDocuments         int     `json:"totalDocuments"`
	Completed              int     `json:"completed"`
	Failed                 int     `json:"failed"`
	Processing             int     `json:"processing"`
	Progress               float64 `json:"progress"`
	EstimatedTimeRemaining float64 `json:"estimatedTimeRemaining"` // 秒
}

// BatchResult はバッチの集計結果です。部分的な成功が既定の報告形です。
type BatchResult struct {
	BatchID             string           `json:"batchId"`
	TotalDocuments      int              `json:"totalDocuments"`
	Successful          []string         `json:"successful"`
	Failed              []FailedDocument `json:"failedDocuments"`
	Completed           bool             `json:"completed"`
	TotalProcessingTime float64          `json:"totalProcessingTime"` // 秒
}

// QueueStats はキューの観測値です。スケジューリング判断には使いません。
type QueueStats struct {
	QueueDepth            int     `json:"queueDepth"`
	ActiveJobs            int     `json:"activeJobs"`
	AverageProcessingTime float64 `json:"averageProcessingTime"` // 秒
	SuccessRate           float64 `json:"successRate"`
	FailureRate           float64 `json:"failureRate"`
	EstimatedWaitTime     float64 `json:"estimatedWaitTime"` // 秒
}
