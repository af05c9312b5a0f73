package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"hyperagent/internal/bus"
	"hyperagent/internal/event"
	"hyperagent/internal/queue"
)

const defaultHeartbeat = 15 * time.Second

// handleTaskEvents bridges the task's bus channel onto an SSE stream.
// The stream ends after a terminal event; a client disconnect aborts
// the running job through the cancel registry.
func (s *Server) handleTaskEvents(c *gin.Context) {
	taskID := c.Param("id")

	task, err := s.deps.Tasks.Get(c.Request.Context(), taskID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	// Finished tasks have nothing left to stream; replay the stored
	// outcome as a single terminal event instead of hanging.
	if task.Status.Terminal() {
		s.writeStoredOutcome(c, task)
		return
	}

	sub, err := s.deps.Broker.Subscribe(c.Request.Context(), bus.Channel(taskID))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer sub.Close()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.Flush()

	heartbeat := s.deps.Config.SSEHeartbeat
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	clientGone := c.Request.Context().Done()
	for {
		select {
		case <-clientGone:
			// The consumer left; stop the job so it does not burn
			// model calls into the void.
			if s.deps.Cancels.Cancel(taskID) {
				s.logger.Info("client disconnected, cancelled task %s", taskID)
			}
			return

		case <-ticker.C:
			fmt.Fprint(c.Writer, ": heartbeat\n\n")
			c.Writer.Flush()

		case payload, ok := <-sub.Events():
			if !ok {
				return
			}
			fmt.Fprintf(c.Writer, "data: %s\n\n", payload)
			c.Writer.Flush()

			var ev event.Event
			if err := json.Unmarshal(payload, &ev); err == nil && ev.Type.Terminal() {
				return
			}
		}
	}
}

// writeStoredOutcome emits one synthetic terminal event for a task
// that finished before the client connected.
func (s *Server) writeStoredOutcome(c *gin.Context, task *queue.Task) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")

	var ev event.Event
	switch task.Status {
	case queue.StatusCompleted:
		ev = event.Complete()
	case queue.StatusCancelled:
		ev = event.Error("cancelled", "cancelled")
	default:
		ev = event.Error(task.Error, "failed")
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}
	fmt.Fprintf(c.Writer, "data: %s\n\n", payload)
	c.Writer.Flush()
}
