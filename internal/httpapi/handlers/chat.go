package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/aether/internal/chat"
	"github.com/suPer8Hu/aether/internal/common"
)

type sendMessageReq struct {
	Message string `json:"message"`
}

type historyEntry struct {
	Role  chat.Role `json:"role"`
	Parts []string  `json:"parts"`
}

func historyOf(msgs []chat.Message) []historyEntry {
	out := make([]historyEntry, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, historyEntry{Role: m.Role, Parts: []string{m.Content}})
	}
	return out
}

// bindMessage decodes and validates the body before any session is touched.
func bindMessage(c *gin.Context) (string, bool) {
	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return "", false
	}
	if err := chat.ValidateUserText(req.Message); err != nil {
		failChat(c, "bindMessage", err)
		return "", false
	}
	return req.Message, true
}

func (h *Handler) sendTurn(c *gin.Context, sessionID string) {
	text, ok := bindMessage(c)
	if !ok {
		return
	}

	sess, err := h.Sessions.GetOrCreate(c.Request.Context(), sessionID)
	if err != nil {
		failChat(c, "SendMessage", err)
		return
	}

	reply, err := sess.SendTurn(c.Request.Context(), text)
	if err != nil {
		failChat(c, "SendMessage", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"response": reply})
}

// SendMessage serves POST /send_message against the default session.
func (h *Handler) SendMessage(c *gin.Context) {
	h.sendTurn(c, chat.DefaultSessionID)
}

// ChatHistory serves GET /chat_history.
func (h *Handler) ChatHistory(c *gin.Context) {
	sess, err := h.Sessions.GetOrCreate(c.Request.Context(), chat.DefaultSessionID)
	if err != nil {
		failChat(c, "ChatHistory", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": historyOf(sess.Transcript())})
}

// ClearHistory serves DELETE /clear_history.
func (h *Handler) ClearHistory(c *gin.Context) {
	sess, err := h.Sessions.GetOrCreate(c.Request.Context(), chat.DefaultSessionID)
	if err == nil {
		err = sess.Reset(c.Request.Context())
	}
	if err != nil {
		failChat(c, "ClearHistory", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Chat history reset to default."})
}

func (h *Handler) CreateSession(c *gin.Context) {
	sid, err := common.NewULID()
	if err != nil {
		failChat(c, "CreateSession", err)
		return
	}
	if _, err := h.Sessions.GetOrCreate(c.Request.Context(), sid); err != nil {
		failChat(c, "CreateSession", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"session_id": sid})
}

func (h *Handler) SendSessionMessage(c *gin.Context) {
	h.sendTurn(c, c.Param("session_id"))
}

func (h *Handler) SessionHistory(c *gin.Context) {
	sess, err := h.Sessions.Lookup(c.Param("session_id"))
	if err != nil {
		failChat(c, "SessionHistory", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": historyOf(sess.Transcript())})
}

func (h *Handler) ClearSessionHistory(c *gin.Context) {
	if err := h.Sessions.Reset(c.Request.Context(), c.Param("session_id")); err != nil {
		failChat(c, "ClearSessionHistory", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Chat history reset to default."})
}
