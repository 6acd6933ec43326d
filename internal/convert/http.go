package convert

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

// SchedulerService は単一ドキュメントの変換投入と照会を提供します。
type SchedulerService interface {
	Submit(ctx context.Context, req SubmitRequest) (*SubmitOutcome, error)
	DocumentStatusFor(ctx context.Context, documentID string) (*DocumentStatus, error)
	LookupJob(ctx context.Context, jobID string) (*ConversionJob, error)
	Stats() QueueStats
}

// BatchService はバッチ投入・照会・キャンセルを提供します。
type BatchService interface {
	QueueBatch(ctx context.Context, req BatchSubmitRequest) (*BatchResult, error)
	BatchProgressFor(batchID string) (*BatchProgress, error)
	BatchResultFor(batchID string) (*BatchResult, error)
	CancelBatch(batchID string) (bool, error)
}

type submitBody struct {
	OwnerID  string `json:"ownerId" binding:"required"`
	Priority string `json:"priority"`
	Force    bool   `json:"force"`
	Metadata *struct {
		ManualTrigger bool              `json:"manualTrigger"`
		Reason        string            `json:"reason"`
		Extra         map[string]string `json:"extra"`
	} `json:"metadata"`
}

// SubmitHandler は POST /api/convert/:documentId のハンドラーを返します。
func SubmitHandler(svc SchedulerService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body submitBody
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    CodeInvalidInput,
				"message": "ownerId を含むJSONボディを送信してください。",
			})
			return
		}

		req := SubmitRequest{
			DocumentID: c.Param("documentId"),
			OwnerID:    body.OwnerID,
			Priority:   Priority(body.Priority),
			Force:      body.Force,
		}
		if body.Metadata != nil {
			req.Meta = JobMeta{
				ManualTrigger: body.Metadata.ManualTrigger,
				Reason:        body.Metadata.Reason,
				Extra:         body.Metadata.Extra,
			}
		}

		outcome, err := svc.Submit(c.Request.Context(), req)
		if err != nil {
			respondWithError(c, err)
			return
		}

		if outcome.Cached {
			c.JSON(http.StatusOK, gin.H{
				"cached":    true,
				"pageCount": outcome.Entry.PageCount,
				"pageUrls":  outcome.Entry.PageURLs,
			})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{
			"jobId":    outcome.Job.JobID,
			"status":   outcome.Job.Status,
			"priority": outcome.Job.Priority,
		})
	}
}

// DocumentStatusHandler は GET /api/convert/:documentId/status のハンドラーを返します。
func DocumentStatusHandler(svc SchedulerService) gin.HandlerFunc {
	return func(c *gin.Context) {
		status, err := svc.DocumentStatusFor(c.Request.Context(), c.Param("documentId"))
		if err != nil {
			respondWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, status)
	}
}

// JobStatusHandler は GET /api/convert/jobs/:jobId のハンドラーを返します。
func JobStatusHandler(svc SchedulerService) gin.HandlerFunc {
	return func(c *gin.Context) {
		job, err := svc.LookupJob(c.Request.Context(), c.Param("jobId"))
		if err != nil {
			respondWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, job)
	}
}

// StatsHandler は GET /api/convert/queue/stats のハンドラーを返します。
func StatsHandler(svc SchedulerService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, svc.Stats())
	}
}

type batchBody struct {
	DocumentIDs   []string `json:"documentIds" binding:"required"`
	OwnerID       string   `json:"ownerId" binding:"required"`
	Priority      string   `json:"priority"`
	MaxConcurrent int      `json:"maxConcurrent"`
	Metadata      *struct {
		ManualTrigger bool              `json:"manualTrigger"`
		Reason        string            `json:"reason"`
		Extra         map[string]string `json:"extra"`
	} `json:"metadata"`
}

// BatchSubmitHandler は POST /api/convert/batch のハンドラーを返します。
func BatchSubmitHandler(svc BatchService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body batchBody
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    CodeInvalidInput,
				"message": "documentIds と ownerId を含むJSONボディを送信してください。",
			})
			return
		}

		req := BatchSubmitRequest{
			DocumentIDs:   body.DocumentIDs,
			OwnerID:       body.OwnerID,
			Priority:      Priority(body.Priority),
			MaxConcurrent: body.MaxConcurrent,
		}
		if body.Metadata != nil {
			req.Meta = JobMeta{
				ManualTrigger: body.Metadata.ManualTrigger,
				Reason:        body.Metadata.Reason,
				Extra:         body.Metadata.Extra,
			}
		}

		result, err := svc.QueueBatch(c.Request.Context(), req)
		if err != nil {
			respondWithError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, result)
	}
}

// BatchStatusHandler は GET /api/convert/batch/:batchId のハンドラーを返します。
func BatchStatusHandler(svc BatchService) gin.HandlerFunc {
	return func(c *gin.Context) {
		batchID := c.Param("batchId")
		progress, err := svc.BatchProgressFor(batchID)
		if err != nil {
			respondWithError(c, err)
			return
		}
		result, err := svc.BatchResultFor(batchID)
		if err != nil {
			respondWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"progress": progress,
			"result":   result,
		})
	}
}

// BatchCancelHandler は DELETE /api/convert/batch/:batchId のハンドラーを返します。
func BatchCancelHandler(svc BatchService) gin.HandlerFunc {
	return func(c *gin.Context) {
		cancelled, err := svc.CancelBatch(c.Param("batchId"))
		if err != nil {
			respondWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"cancelled": cancelled})
	}
}

// statusForCode はエラーコードをHTTPステータスへ写像します。
func statusForCode(code string) int {
	switch code {
	case CodeInvalidInput, CodeUnsupportedSource:
		return http.StatusBadRequest
	case CodeConversionInProgress:
		return http.StatusConflict
	case CodeDocumentNotFound, CodeJobNotFound, CodeBatchNotFound:
		return http.StatusNotFound
	case CodeConversionFailed, CodeConversionTimeout, CodeStorageError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func respondWithError(c *gin.Context, err error) {
	apiErr := AsError(err)
	payload := gin.H{
		"code":    apiErr.Code,
		"message": apiErr.Message,
	}
	// 競合応答には呼び出し側が判断できるだけの文脈を付ける
	if apiErr.Code == CodeConversionInProgress && apiErr.ConflictJob != nil {
		payload["jobId"] = apiErr.ConflictJob.JobID
		payload["progress"] = apiErr.ConflictJob.Progress
		payload["status"] = apiErr.ConflictJob.Status
	}
	c.JSON(statusForCode(apiErr.Code), payload)
}
