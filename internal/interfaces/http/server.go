// Package http exposes the Agent Engine over a Gin-based HTTP API: a
// synchronous run endpoint and an SSE streaming endpoint per session,
// generalized from the teacher's message/OpenAI-compatible handlers onto
// this module's Engine.Run/Execute contract.
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentcore/agentcore/internal/application"
	"github.com/agentcore/agentcore/internal/domain/agent"
	"github.com/agentcore/agentcore/internal/infrastructure/monitoring"
	"github.com/agentcore/agentcore/internal/interfaces/websocket"
)

// Config HTTP 服务器配置
type Config struct {
	Host string
	Port int
	Mode string // debug, release
}

// Server wraps a Gin engine bound to one Application.
type Server struct {
	server *http.Server
	hub    *websocket.Hub
	logger *zap.Logger
}

// NewServer builds the HTTP server and registers every route against app.
func NewServer(cfg Config, app *application.App, logger *zap.Logger) *Server {
	if cfg.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	tracer := monitoring.NewTracer("agentcore-gateway", logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logger))
	router.Use(tracingMiddleware(tracer))

	hub := application.NewWebSocketBridge(app)
	wsHandler := websocket.NewHandler(hub, logger)

	setupRoutes(router, app, logger)
	router.GET("/ws", func(c *gin.Context) {
		wsHandler.ServeWS(c.Writer, c.Request)
	})

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	return &Server{
		server: &http.Server{Addr: addr, Handler: router},
		hub:    hub,
		logger: logger,
	}
}

// Start begins serving in the background, including the WebSocket hub's
// dispatch loop.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("starting HTTP server", zap.String("address", s.server.Addr))
	go s.hub.Run(ctx)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping HTTP server")
	return s.server.Shutdown(ctx)
}

func setupRoutes(router *gin.Engine, app *application.App, logger *zap.Logger) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().Unix()})
	})

	v1 := router.Group("/api/v1")
	{
		v1.POST("/sessions", func(c *gin.Context) {
			var req struct {
				SessionID string `json:"session_id"`
			}
			_ = c.ShouldBindJSON(&req)
			if req.SessionID == "" {
				req.SessionID = "sess_" + uuid.NewString()
			}
			if _, err := app.NewSession(req.SessionID); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusCreated, gin.H{"session_id": req.SessionID})
		})

		v1.POST("/sessions/:id/run", func(c *gin.Context) {
			var req struct {
				Message string `json:"message"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			e, ok := sessionOrCreate(app, c.Param("id"))
			if !ok {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "session init failed"})
				return
			}
			result := e.Run(c.Request.Context(), req.Message)
			c.JSON(http.StatusOK, gin.H{
				"content": result.FinalContent,
				"success": result.Success,
				"steps":   result.Steps,
			})
		})

		v1.GET("/sessions/:id/stream", func(c *gin.Context) {
			query := c.Query("q")
			e, ok := sessionOrCreate(app, c.Param("id"))
			if !ok {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "session init failed"})
				return
			}
			streamSSE(c, e, query, logger)
		})
	}
}

// sessionOrCreate fetches an existing session's Engine or lazily creates one
// — convenient for clients that skip the explicit POST /sessions step.
func sessionOrCreate(app *application.App, id string) (*agent.Engine, bool) {
	if e, ok := app.Session(id); ok {
		return e, true
	}
	e, err := app.NewSession(id)
	return e, err == nil
}

// streamSSE renders one Engine.Execute call as a text/event-stream of JSON
// AgentEvents, flushing after every event.
func streamSSE(c *gin.Context, e *agent.Engine, query string, logger *zap.Logger) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	for ev := range e.Execute(c.Request.Context(), query, agent.ModeAuto) {
		data, err := json.Marshal(ev)
		if err != nil {
			logger.Warn("sse: failed to marshal event", zap.Error(err))
			continue
		}
		fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", ev.Type, data)
		flusher.Flush()
	}
}

// tracingMiddleware wraps every request in a span, exported through
// whatever otel SDK/exporter the process configures and inspectable locally
// via tracer.RecentSpans/SpansByTraceID.
func tracingMiddleware(tracer *monitoring.Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.StartSpan(c.Request.Context(), c.Request.Method+" "+c.FullPath())
		monitoring.SetAttribute(span, "http.method", c.Request.Method)
		monitoring.SetAttribute(span, "http.path", c.Request.URL.Path)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		var err error
		if len(c.Errors) > 0 {
			err = c.Errors.Last().Err
		}
		tracer.EndSpan(span, err)
	}
}

func ginLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		)
	}
}
