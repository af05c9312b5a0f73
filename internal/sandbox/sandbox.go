// Package sandbox manages pools of external execution sandboxes so
// multiple tool calls within one task reuse a single live environment.
package sandbox

import (
	"context"
	"time"
)

// Kind distinguishes sandbox families. Each kind gets its own manager
// sharing only the Runtime interface.
type Kind string

const (
	KindExecution Kind = "execution"
	KindDesktop   Kind = "desktop"
	KindApp       Kind = "app"
)

// ExecRequest runs a command inside a sandbox.
type ExecRequest struct {
	Command string
	Timeout time.Duration
}

// ExecResult is the outcome of ExecRequest.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// StreamInfo advertises a live view into a desktop sandbox.
type StreamInfo struct {
	StreamURL string
	AuthKey   string
}

// Executor is one live sandbox instance.
type Executor interface {
	// ID is the provider-side sandbox identifier.
	ID() string
	// Exec runs a command and waits for completion.
	Exec(ctx context.Context, req ExecRequest) (ExecResult, error)
	// ReadFile returns file contents from the sandbox filesystem.
	ReadFile(ctx context.Context, path string) ([]byte, error)
	// WriteFile writes file contents into the sandbox filesystem.
	WriteFile(ctx context.Context, path string, data []byte) error
	// ListFiles lists directory entries.
	ListFiles(ctx context.Context, path string) ([]string, error)
	// DeleteFile removes a file.
	DeleteFile(ctx context.Context, path string) error
	// FileExists reports whether path exists.
	FileExists(ctx context.Context, path string) (bool, error)
	// Alive is a cheap health probe used before session reuse.
	Alive(ctx context.Context) bool
	// Stream returns live-view details, nil when unsupported.
	Stream() *StreamInfo
	// Destroy tears the sandbox down. Must be safe to call twice.
	Destroy(ctx context.Context) error
}

// Runtime creates executors for one sandbox kind.
type Runtime interface {
	Kind() Kind
	Create(ctx context.Context, userID, taskID string) (Executor, error)
}

// Session binds an executor to its owning (user, task) pair.
type Session struct {
	Key          string
	UserID       string
	TaskID       string
	Executor     Executor
	CreatedAt    time.Time
	LastAccessed time.Time
	TTL          time.Duration
}

// Expired reports whether the session outlived its idle TTL.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.LastAccessed.Add(s.TTL))
}

const (
	anonymousUser = "anonymous"
	defaultTask   = "default"
)

// SessionKey derives the pool key, defaulting missing components.
func SessionKey(userID, taskID string) string {
	if userID == "" {
		userID = anonymousUser
	}
	if taskID == "" {
		taskID = defaultTask
	}
	return userID + ":" + taskID
}
