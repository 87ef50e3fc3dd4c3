// ABOUTME: HTTP routes for the dashboard: page, static files, JSON API and socket.io
// ABOUTME: JSON handlers read through the fleet controller, never a cached session

package websink

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/2389/coven-fleet/internal/assets"
	"github.com/2389/coven-fleet/internal/broadcast"
)

const defaultChatLimit = 50

// Handler returns the HTTP handler serving the dashboard.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/", s.handleIndex)
	r.GET("/health", s.handleHealth)
	r.GET("/static/*filepath", gin.WrapH(http.StripPrefix("/static", assets.FileServer())))

	api := r.Group("/api")
	{
		api.GET("/status", s.handleStatus)
		api.GET("/sessions", s.handleSessions)
		api.GET("/agents/:id/chat", s.handleChatHistory)
		api.POST("/agents/:id/chat", s.handleChatSend)
	}

	io := gin.WrapH(s.io.ServeHandler(nil))
	r.Any(socketPath, io)
	r.Any(socketPath+"/*any", io)
	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.FullPath() == socketPath+"/*any" {
			return
		}
		s.logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

func (s *Server) handleIndex(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", assets.Index())
}

func (s *Server) handleHealth(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

func (s *Server) handleStatus(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), fleetTimeout)
	defer cancel()
	c.JSON(http.StatusOK, s.botsPayload(s.current(ctx)))
}

func (s *Server) handleSessions(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), fleetTimeout)
	defer cancel()
	sessions, err := s.fleet.Sessions(ctx)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (s *Server) handleChatHistory(c *gin.Context) {
	id := c.Param("id")
	limit := defaultChatLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), fleetTimeout)
	defer cancel()
	if _, known := s.current(ctx)[id]; !known {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown agent"})
		return
	}

	messages := s.chat.Chat(id)
	if len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	if messages == nil {
		messages = []broadcast.ChatEvent{}
	}
	c.JSON(http.StatusOK, gin.H{"agent_id": id, "messages": messages})
}

func (s *Server) handleChatSend(c *gin.Context) {
	var body struct {
		Message string `json:"message"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}

	allow := s.cfg.Current().Web.AllowWebChat
	if !allow {
		c.JSON(http.StatusForbidden, gin.H{"error": "web chat is disabled"})
		return
	}
	req := SendRequest{Username: c.Param("id"), Message: body.Message}
	text, ok := ValidateSend(allow, req)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message must be 1 to 100 characters"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), fleetTimeout)
	defer cancel()
	if !s.fleet.SendChat(ctx, req.Username, text) {
		c.JSON(http.StatusConflict, gin.H{"error": "agent is not online"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"sent": true})
}
