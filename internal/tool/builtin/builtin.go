// Package builtin provides the standard tool catalogue: web search,
// HTTP requests, sandboxed code execution, file access, image
// generation, browser sessions, skill invocation and user prompts.
package builtin

import (
	"context"
	"encoding/json"

	"hyperagent/internal/logging"
	"hyperagent/internal/sandbox"
	"hyperagent/internal/tool"
)

// Config carries the external endpoints the builtin tools talk to.
type Config struct {
	SearchAPIKey  string
	SearchBaseURL string
	ImageBaseURL  string
	ImageAPIKey   string

	Sandboxes *sandbox.ManagerSet
	Skills    SkillInvoker
	Logger    logging.Logger
}

// SkillInvoker decouples the invoke_skill tool from the skill engine.
type SkillInvoker interface {
	Invoke(ctx context.Context, skillID string, params map[string]any) (string, error)
}

// Register installs every builtin tool whose dependencies are
// configured. Missing dependencies skip the tool rather than failing
// startup.
func Register(r *tool.Registry, cfg Config) error {
	logger := logging.OrNop(cfg.Logger)

	if err := r.Register(NewWebSearch(cfg.SearchAPIKey, cfg.SearchBaseURL, nil)); err != nil {
		return err
	}
	if err := r.Register(NewHTTPRequest(nil)); err != nil {
		return err
	}
	if err := r.Register(NewAskUser()); err != nil {
		return err
	}

	if cfg.Sandboxes != nil {
		if err := r.Register(NewExecuteCode(cfg.Sandboxes, logger)); err != nil {
			return err
		}
		if err := r.Register(NewFileRead(cfg.Sandboxes)); err != nil {
			return err
		}
		if err := r.Register(NewSandboxFile(cfg.Sandboxes)); err != nil {
			return err
		}
		if err := r.Register(NewBrowserVisit(cfg.Sandboxes, logger)); err != nil {
			return err
		}
	}
	if cfg.ImageBaseURL != "" {
		if err := r.Register(NewGenerateImage(cfg.ImageBaseURL, cfg.ImageAPIKey, nil)); err != nil {
			return err
		}
	}
	if cfg.Skills != nil {
		if err := r.Register(NewInvokeSkill(cfg.Skills)); err != nil {
			return err
		}
	}
	return nil
}

// schema wraps a JSON schema literal.
func schema(s string) json.RawMessage {
	return json.RawMessage(s)
}
