package builtin

import (
	"context"
	"fmt"
	"time"

	"hyperagent/internal/event"
	agenterrors "hyperagent/internal/errors"
	"hyperagent/internal/logging"
	"hyperagent/internal/sandbox"
	"hyperagent/internal/tool"
)

type browserVisit struct {
	sandboxes *sandbox.ManagerSet
	logger    logging.Logger
}

// NewBrowserVisit builds the browser_visit tool. Pages render inside
// a desktop sandbox whose live stream is surfaced to the client.
func NewBrowserVisit(sandboxes *sandbox.ManagerSet, logger logging.Logger) tool.Tool {
	return &browserVisit{sandboxes: sandboxes, logger: logging.OrNop(logger)}
}

func (t *browserVisit) Descriptor() tool.Descriptor {
	return tool.Descriptor{
		Name:        "browser_visit",
		Description: "Open a URL in the task's browser sandbox and return the extracted page text. The live browser view is streamed to the client.",
		ArgsSchema: schema(`{
			"type": "object",
			"properties": {
				"url": {"type": "string", "description": "Page to open, http or https"}
			},
			"required": ["url"]
		}`),
	}
}

func (t *browserVisit) Category() tool.Category { return tool.CategoryBrowser }
func (t *browserVisit) Risk() tool.Risk         { return tool.RiskHigh }

func (t *browserVisit) Execute(ctx context.Context, args map[string]any) (tool.Result, error) {
	rawURL, _ := args["url"].(string)
	if rawURL == "" {
		return tool.Result{}, agenterrors.Input(nil, "url parameter is required")
	}

	manager := t.sandboxes.Get(sandbox.KindDesktop)
	if manager == nil {
		return tool.Result{}, agenterrors.Resource(nil, "no desktop sandbox configured")
	}
	id := tool.IdentityFrom(ctx)
	session, err := manager.GetOrCreate(ctx, id.UserID, id.TaskID, 0)
	if err != nil {
		return tool.Result{}, agenterrors.Transient(err, "acquiring browser sandbox")
	}

	var events []event.Event
	if stream := session.Executor.Stream(); stream != nil {
		events = append(events, event.BrowserStream(stream.StreamURL, session.Executor.ID(), stream.AuthKey))
	}

	result, err := session.Executor.Exec(ctx, sandbox.ExecRequest{
		Command: fmt.Sprintf("browser open --extract-text %q", rawURL),
		Timeout: 60 * time.Second,
	})
	if err != nil {
		return tool.Result{}, agenterrors.Transient(err, "browser navigation failed")
	}
	if result.ExitCode != 0 {
		return tool.Result{
			Content: fmt.Sprintf("failed to open %s: %s", rawURL, result.Stderr),
			IsError: true,
			Events:  events,
		}, nil
	}

	return tool.Result{
		Content:  result.Stdout,
		Events:   events,
		Metadata: map[string]any{"sandbox_id": session.Executor.ID(), "url": rawURL},
	}, nil
}
