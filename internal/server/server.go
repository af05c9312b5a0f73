// Package server exposes the HTTP edge: task submission, the SSE
// event bridge, interrupt resolution and operational endpoints.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"hyperagent/internal/bus"
	"hyperagent/internal/config"
	"hyperagent/internal/hitl"
	"hyperagent/internal/logging"
	"hyperagent/internal/metrics"
	"hyperagent/internal/queue"
)

// Deps are the collaborators the HTTP layer drives. Everything is
// constructed in main and passed down.
type Deps struct {
	Config     config.ServerConfig
	Broker     bus.Broker
	Tasks      queue.TaskStore
	Jobs       queue.JobQueue
	Interrupts *hitl.Manager
	Cancels    *queue.CancelRegistry
	Metrics    *metrics.Metrics
	Logger     logging.Logger
}

// Server is the gin application plus its dependencies.
type Server struct {
	deps   Deps
	engine *gin.Engine
	http   *http.Server
	logger logging.Logger
}

// New assembles the router. It does not start listening.
func New(deps Deps) *Server {
	logger := logging.OrNop(deps.Logger)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestMetrics(deps.Metrics))

	corsConfig := cors.DefaultConfig()
	origins := deps.Config.AllowedOrigins
	// cors.New panics on an empty origin list; an unset config means
	// allow everything, matching the wildcard default.
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = origins
	}
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization", "X-User-ID")
	engine.Use(cors.New(corsConfig))

	s := &Server{deps: deps, engine: engine, logger: logger}

	engine.GET("/healthz", s.handleHealth)
	if deps.Metrics != nil {
		engine.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	v1 := engine.Group("/v1")
	v1.Use(rateLimit(deps.Config.RatePerMinute, deps.Metrics))
	{
		v1.POST("/tasks", s.handleCreateTask)
		v1.GET("/tasks/:id", s.handleGetTask)
		v1.GET("/tasks/:id/events", s.handleTaskEvents)
		v1.DELETE("/tasks/:id", s.handleCancelTask)
		v1.POST("/interrupts/:id/response", s.handleInterruptResponse)
		v1.GET("/threads/:id/interrupt", s.handlePendingInterrupt)
	}

	s.http = &http.Server{
		Addr:        deps.Config.Addr,
		Handler:     engine,
		ReadTimeout: deps.Config.ReadTimeout,
		// WriteTimeout stays zero: SSE connections are long-lived.
		WriteTimeout: deps.Config.WriteTimeout,
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening on %s", s.deps.Config.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	if err := s.deps.Broker.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "broker": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type createTaskRequest struct {
	Query    string `json:"query" binding:"required"`
	ModeHint string `json:"mode_hint"`
	ThreadID string `json:"thread_id"`
}

func (s *Server) handleCreateTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	taskID := uuid.NewString()
	threadID := req.ThreadID
	if threadID == "" {
		threadID = uuid.NewString()
	}

	task := &queue.Task{
		ID:        taskID,
		UserID:    clientID(c),
		ThreadID:  threadID,
		Kind:      queue.KindResearch,
		Query:     req.Query,
		ModeHint:  req.ModeHint,
		Status:    queue.StatusPending,
		CreatedAt: time.Now(),
	}
	if err := s.deps.Tasks.Create(c.Request.Context(), task); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	job := &queue.Job{ID: queue.ResearchJobID(taskID), Kind: queue.KindResearch, TaskID: taskID}
	if _, err := s.deps.Jobs.Enqueue(c.Request.Context(), job, 0); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"task_id":   taskID,
		"thread_id": threadID,
		"status":    queue.StatusPending,
	})
}

func (s *Server) handleGetTask(c *gin.Context) {
	task, err := s.deps.Tasks.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		var notFound *queue.ErrTaskNotFound
		if errors.As(err, &notFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) handleCancelTask(c *gin.Context) {
	taskID := c.Param("id")
	task, err := s.deps.Tasks.Get(c.Request.Context(), taskID)
	if err != nil {
		var notFound *queue.ErrTaskNotFound
		if errors.As(err, &notFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if task.Status.Terminal() {
		c.JSON(http.StatusConflict, gin.H{"error": "task already finished", "status": task.Status})
		return
	}

	// A running job observes its context; a still-pending task is
	// finalized directly since no worker holds it yet.
	if !s.deps.Cancels.Cancel(taskID) && task.Status == queue.StatusPending {
		if err := s.deps.Tasks.Finalize(c.Request.Context(), taskID, queue.StatusCancelled, "", "cancelled before start", time.Now()); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusAccepted, gin.H{"task_id": taskID, "status": queue.StatusCancelled})
}

type interruptResponseRequest struct {
	ThreadID string `json:"thread_id" binding:"required"`
	Action   string `json:"action" binding:"required"`
	Value    string `json:"value"`
}

func (s *Server) handleInterruptResponse(c *gin.Context) {
	var req interruptResponseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	action := hitl.Action(req.Action)
	if !action.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown action " + req.Action})
		return
	}

	delivered := s.deps.Interrupts.SubmitResponse(c.Request.Context(), req.ThreadID, c.Param("id"), hitl.Response{
		Action: action,
		Value:  req.Value,
	})
	if s.deps.Metrics != nil {
		s.deps.Metrics.Interrupts.WithLabelValues(req.Action).Inc()
	}
	c.JSON(http.StatusOK, gin.H{"delivered": delivered})
}

func (s *Server) handlePendingInterrupt(c *gin.Context) {
	interrupt, err := s.deps.Interrupts.GetPendingInterrupt(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if interrupt == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no pending interrupt"})
		return
	}
	c.JSON(http.StatusOK, interrupt)
}

// clientID identifies the caller for rate limiting and task ownership.
// Real deployments put an authenticated id in X-User-ID; anonymous
// callers fall back to their address.
func clientID(c *gin.Context) string {
	if id := c.GetHeader("X-User-ID"); id != "" {
		return id
	}
	return c.ClientIP()
}
