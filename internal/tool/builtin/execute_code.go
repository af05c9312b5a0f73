package builtin

import (
	"context"
	"fmt"
	"strings"
	"time"

	agenterrors "hyperagent/internal/errors"
	"hyperagent/internal/logging"
	"hyperagent/internal/sandbox"
	"hyperagent/internal/tool"
)

type executeCode struct {
	sandboxes *sandbox.ManagerSet
	logger    logging.Logger
}

// NewExecuteCode builds the execute_code tool, running snippets inside
// the caller's execution sandbox session.
func NewExecuteCode(sandboxes *sandbox.ManagerSet, logger logging.Logger) tool.Tool {
	return &executeCode{sandboxes: sandboxes, logger: logging.OrNop(logger)}
}

func (t *executeCode) Descriptor() tool.Descriptor {
	return tool.Descriptor{
		Name:        "execute_code",
		Description: "Run a code snippet in an isolated sandbox and return stdout, stderr and the exit code. The sandbox persists across calls within one task.",
		ArgsSchema: schema(`{
			"type": "object",
			"properties": {
				"code": {"type": "string", "description": "Source code to run"},
				"language": {"type": "string", "enum": ["python", "bash", "node"], "description": "Interpreter, default python"}
			},
			"required": ["code"]
		}`),
	}
}

func (t *executeCode) Category() tool.Category { return tool.CategoryCode }
func (t *executeCode) Risk() tool.Risk         { return tool.RiskHigh }

// interpreter maps a language to the sandbox entry command and
// scratch-file name.
func interpreter(language string) (command, filename string) {
	switch language {
	case "bash":
		return "bash", "snippet.sh"
	case "node":
		return "node", "snippet.js"
	default:
		return "python3", "snippet.py"
	}
}

func (t *executeCode) Execute(ctx context.Context, args map[string]any) (tool.Result, error) {
	code, _ := args["code"].(string)
	if strings.TrimSpace(code) == "" {
		return tool.Result{}, agenterrors.Input(nil, "code parameter is required")
	}
	language, _ := args["language"].(string)

	manager := t.sandboxes.Get(sandbox.KindExecution)
	if manager == nil {
		return tool.Result{}, agenterrors.Resource(nil, "no execution sandbox configured")
	}

	id := tool.IdentityFrom(ctx)
	session, err := manager.GetOrCreate(ctx, id.UserID, id.TaskID, 0)
	if err != nil {
		return tool.Result{}, agenterrors.Transient(err, "acquiring sandbox session")
	}

	command, filename := interpreter(language)
	path := "/workspace/" + filename
	if err := session.Executor.WriteFile(ctx, path, []byte(code)); err != nil {
		return tool.Result{}, agenterrors.Transient(err, "staging code in sandbox")
	}

	result, err := session.Executor.Exec(ctx, sandbox.ExecRequest{
		Command: command + " " + path,
		Timeout: 180 * time.Second,
	})
	if err != nil {
		return tool.Result{}, agenterrors.Transient(err, "sandbox execution failed")
	}

	var b strings.Builder
	if result.Stdout != "" {
		b.WriteString(result.Stdout)
	}
	if result.Stderr != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "stderr:\n%s", result.Stderr)
	}
	if b.Len() == 0 {
		b.WriteString("(no output)")
	}

	return tool.Result{
		Content: b.String(),
		IsError: result.ExitCode != 0,
		Metadata: map[string]any{
			"exit_code":  result.ExitCode,
			"sandbox_id": session.Executor.ID(),
		},
	}, nil
}
