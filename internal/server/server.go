// Package server maps the conversation engine onto HTTP. It owns no
// business rules: request shapes in, engine calls, error taxonomy out.
package server

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/GermanQuintana/vetassist/internal/assistant"
	"github.com/GermanQuintana/vetassist/internal/conversation"
	"github.com/GermanQuintana/vetassist/internal/engine"
	"github.com/GermanQuintana/vetassist/internal/ingest"
	"github.com/GermanQuintana/vetassist/internal/provider"
)

// maxUploadBytes caps attachment reads before ingestion sees them
const maxUploadBytes = 10 << 20 // 10 MB

// assistantView is the public shape of an assistant; system prompts
// stay server-side
type assistantView struct {
	ID           string `json:"id"`
	DisplayName  string `json:"display_name"`
	ModelID      string `json:"model_id"`
	AcceptsFiles bool   `json:"accepts_files"`
}

// Server exposes the engine over HTTP
type Server struct {
	engine   *engine.Engine
	registry *assistant.Registry
	logger   *slog.Logger
}

// New creates the HTTP server
func New(e *engine.Engine, registry *assistant.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{engine: e, registry: registry, logger: logger}
}

// Router builds the gin engine with all routes mounted
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "OK"})
	})

	v1 := r.Group("/api/v1")
	v1.GET("/assistants", s.listAssistants)
	v1.POST("/chat", s.chat)
	v1.POST("/sessions/:sessionId/end", s.endSession)
	v1.GET("/usage/:userId", s.usage)

	return r
}

func (s *Server) listAssistants(c *gin.Context) {
	configs := s.registry.List()
	out := make([]assistantView, len(configs))
	for i, a := range configs {
		out[i] = assistantView{
			ID:           a.ID,
			DisplayName:  a.DisplayName,
			ModelID:      a.ModelID,
			AcceptsFiles: a.AcceptsFiles,
		}
	}
	c.JSON(http.StatusOK, gin.H{"assistants": out})
}

// chat runs one turn. Multipart form: user, assistant, message,
// optional session_id to continue and optional file to attach.
func (s *Server) chat(c *gin.Context) {
	userID := c.PostForm("user")
	assistantID := c.PostForm("assistant")
	message := c.PostForm("message")
	if userID == "" || assistantID == "" || message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation", "message": "user, assistant and message are required"})
		return
	}

	req := engine.TurnRequest{
		UserID:      userID,
		AssistantID: assistantID,
		SessionID:   c.PostForm("session_id"),
		Message:     message,
	}

	if fileHeader, err := c.FormFile("file"); err == nil {
		if fileHeader.Size > maxUploadBytes {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "upload_too_large", "message": "file exceeds upload limit"})
			return
		}
		f, err := fileHeader.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "upload", "message": err.Error()})
			return
		}
		data, err := io.ReadAll(io.LimitReader(f, maxUploadBytes))
		f.Close()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "upload", "message": err.Error()})
			return
		}
		req.File = &engine.FileUpload{
			Data:     data,
			MimeType: fileHeader.Header.Get("Content-Type"),
		}
	}

	res, err := s.engine.Turn(c.Request.Context(), req)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) endSession(c *gin.Context) {
	userID := c.Query("user")
	if userID == "" {
		userID = c.PostForm("user")
	}
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation", "message": "user is required"})
		return
	}
	if err := s.engine.EndSession(c.Request.Context(), userID, c.Param("sessionId")); err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ended"})
}

func (s *Server) usage(c *gin.Context) {
	totals, err := s.engine.Usage(c.Request.Context(), c.Param("userId"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user":        c.Param("userId"),
		"totals":      totals,
		"approximate": true,
	})
}

// renderError maps the core error taxonomy onto status codes
func (s *Server) renderError(c *gin.Context, err error) {
	var pErr *provider.Error
	switch {
	case errors.Is(err, assistant.ErrNotFound), errors.Is(err, conversation.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": err.Error()})
	case errors.Is(err, ingest.ErrUnsupportedFormat),
		errors.Is(err, ingest.ErrIngestion),
		errors.Is(err, engine.ErrFileNotAccepted):
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_upload", "message": err.Error()})
	case errors.As(err, &pErr):
		s.logger.Error("provider failure", "backend", pErr.Backend, "error", pErr.Err)
		c.JSON(http.StatusBadGateway, gin.H{
			"error":     "provider",
			"message":   "upstream model call failed",
			"retryable": pErr.Retryable,
		})
	default:
		s.logger.Error("internal error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "internal error"})
	}
}
