package handlers

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/aether/internal/chat"
	"github.com/suPer8Hu/aether/internal/common"
	"gorm.io/gorm"
)

// SendSessionMessageAsync queues a turn and returns its job id. A repeated
// Idempotency-Key for the same session returns the first job.
func (h *Handler) SendSessionMessageAsync(c *gin.Context) {
	sessionID := c.Param("session_id")
	ctx := c.Request.Context()

	text, ok := bindMessage(c)
	if !ok {
		return
	}

	idempoKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	if len(idempoKey) > 128 {
		common.Fail(c, http.StatusBadRequest, 10003, "idempotency key too long")
		return
	}

	if _, err := h.Sessions.GetOrCreate(ctx, sessionID); err != nil {
		failChat(c, "SendSessionMessageAsync", err)
		return
	}

	jobID, err := common.NewULID()
	if err != nil {
		failChat(c, "SendSessionMessageAsync", err)
		return
	}

	var idempoKeyPtr *string
	if idempoKey != "" && h.Idempotency != nil {
		existing, claimed, err := h.Idempotency.ClaimIdempotencyKey(ctx, sessionID, idempoKey, jobID)
		if err != nil {
			log.Printf("[SendSessionMessageAsync] claim failed session_id=%s key=%s err=%v", sessionID, idempoKey, err)
			common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
			return
		}
		if !claimed {
			c.JSON(http.StatusAccepted, gin.H{"job_id": existing})
			return
		}
		idempoKeyPtr = &idempoKey
	}

	j := &chat.Job{
		ID:             jobID,
		SessionID:      sessionID,
		Prompt:         text,
		IdempotencyKey: idempoKeyPtr,
		Status:         chat.JobQueued,
	}
	if err := h.Jobs.CreateJob(ctx, j); err != nil {
		log.Printf("[SendSessionMessageAsync] CreateJob failed session_id=%s job_id=%s err=%v", sessionID, jobID, err)
		if idempoKeyPtr != nil {
			_ = h.Idempotency.ReleaseIdempotencyKey(ctx, sessionID, idempoKey)
		}
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	if err := h.Queue.PublishJob(ctx, j.ID); err != nil {
		log.Printf("[SendSessionMessageAsync] PublishJob failed session_id=%s job_id=%s err=%v", sessionID, j.ID, err)
		_ = h.Jobs.MarkJobFailed(ctx, j.ID, "enqueue failed")
		if idempoKeyPtr != nil {
			// the failed job must not answer a retry with the same key
			_ = h.Idempotency.ReleaseIdempotencyKey(ctx, sessionID, idempoKey)
		}
		common.Fail(c, http.StatusInternalServerError, 50002, "enqueue failed")
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"job_id": j.ID})
}

func (h *Handler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if jobID == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "job_id required")
		return
	}

	j, err := h.Jobs.GetJobByID(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40402, "job not found")
			return
		}
		failChat(c, "GetJob", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"job": gin.H{
			"id":         j.ID,
			"session_id": j.SessionID,
			"status":     j.Status,
			"response":   j.Reply,
			"error":      j.Error,
			"created_at": j.CreatedAt,
			"updated_at": j.UpdatedAt,
		},
	})
}
