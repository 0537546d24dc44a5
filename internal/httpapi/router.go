package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/aether/internal/common"
	"github.com/suPer8Hu/aether/internal/httpapi/handlers"
	"github.com/suPer8Hu/aether/internal/httpapi/middleware"
)

func NewRouter(h *handlers.Handler) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.GET("/", h.Root)
	r.GET("/ping", h.Ping)

	// single default conversation
	r.POST("/send_message", h.SendMessage)
	r.GET("/chat_history", h.ChatHistory)
	r.DELETE("/clear_history", h.ClearHistory)

	// keyed sessions
	r.POST("/sessions", h.CreateSession)
	r.POST("/sessions/:session_id/messages", h.SendSessionMessage)
	r.GET("/sessions/:session_id/history", h.SessionHistory)
	r.DELETE("/sessions/:session_id/history", h.ClearSessionHistory)

	if h.AsyncEnabled() {
		r.POST("/sessions/:session_id/messages/async", h.SendSessionMessageAsync)
		r.GET("/jobs/:job_id", h.GetJob)
	}
	return r
}
