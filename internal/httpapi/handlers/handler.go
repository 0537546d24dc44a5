package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/aether/internal/chat"
	"github.com/suPer8Hu/aether/internal/common"
	"github.com/suPer8Hu/aether/internal/httpapi/middleware"
)

// JobPublisher enqueues a job id for the worker pool.
type JobPublisher interface {
	PublishJob(ctx context.Context, jobID string) error
}

// IdempotencyStore maps (session, key) to the first job created for it.
type IdempotencyStore interface {
	ClaimIdempotencyKey(ctx context.Context, sessionID, key, jobID string) (string, bool, error)
	ReleaseIdempotencyKey(ctx context.Context, sessionID, key string) error
}

type Handler struct {
	Sessions *chat.Registry

	// async; all nil when queued turns are disabled
	Jobs        *chat.Repo
	Queue       JobPublisher
	Idempotency IdempotencyStore
}

func NewHandler(sessions *chat.Registry) *Handler {
	return &Handler{Sessions: sessions}
}

func (h *Handler) WithAsync(jobs *chat.Repo, queue JobPublisher, idem IdempotencyStore) *Handler {
	h.Jobs = jobs
	h.Queue = queue
	h.Idempotency = idem
	return h
}

func (h *Handler) AsyncEnabled() bool {
	return h.Jobs != nil && h.Queue != nil
}

func (h *Handler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Chatbot API is running!"})
}

func (h *Handler) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "pong"})
}

// failChat maps core errors onto the error envelope. Backend details are
// logged, never returned.
func failChat(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, chat.ErrInvalidSessionID):
		common.Fail(c, http.StatusBadRequest, 10004, "invalid session id")
	case errors.Is(err, chat.ErrValidation):
		common.Fail(c, http.StatusBadRequest, 10002, "message must not be empty")
	case errors.Is(err, chat.ErrNotFound):
		common.Fail(c, http.StatusNotFound, 40404, "session not found")
	default:
		log.Printf("[%s] request_id=%s err=%v", op, middleware.RequestIDFrom(c), err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
	}
}
