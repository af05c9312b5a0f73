package builtin

import (
	"context"
	"fmt"
	"strings"

	agenterrors "hyperagent/internal/errors"
	"hyperagent/internal/sandbox"
	"hyperagent/internal/tool"
)

// sessionFor resolves the caller's execution sandbox session.
func sessionFor(ctx context.Context, sandboxes *sandbox.ManagerSet) (*sandbox.Session, error) {
	manager := sandboxes.Get(sandbox.KindExecution)
	if manager == nil {
		return nil, agenterrors.Resource(nil, "no execution sandbox configured")
	}
	id := tool.IdentityFrom(ctx)
	session, err := manager.GetOrCreate(ctx, id.UserID, id.TaskID, 0)
	if err != nil {
		return nil, agenterrors.Transient(err, "acquiring sandbox session")
	}
	return session, nil
}

type fileRead struct {
	sandboxes *sandbox.ManagerSet
}

// NewFileRead builds the read-only sandbox filesystem tool.
func NewFileRead(sandboxes *sandbox.ManagerSet) tool.Tool {
	return &fileRead{sandboxes: sandboxes}
}

func (t *fileRead) Descriptor() tool.Descriptor {
	return tool.Descriptor{
		Name:        "file_read",
		Description: "Read a file or list a directory inside the task sandbox.",
		ArgsSchema: schema(`{
			"type": "object",
			"properties": {
				"operation": {"type": "string", "enum": ["read", "list", "exists"], "description": "What to do, default read"},
				"path": {"type": "string", "description": "Absolute path inside the sandbox"}
			},
			"required": ["path"]
		}`),
	}
}

func (t *fileRead) Category() tool.Category { return tool.CategoryData }
func (t *fileRead) Risk() tool.Risk         { return tool.RiskMedium }

func (t *fileRead) Execute(ctx context.Context, args map[string]any) (tool.Result, error) {
	path, _ := args["path"].(string)
	if path == "" {
		return tool.Result{}, agenterrors.Input(nil, "path parameter is required")
	}
	operation, _ := args["operation"].(string)

	session, err := sessionFor(ctx, t.sandboxes)
	if err != nil {
		return tool.Result{}, err
	}

	switch operation {
	case "list":
		entries, err := session.Executor.ListFiles(ctx, path)
		if err != nil {
			return tool.Result{}, agenterrors.Transient(err, "listing directory")
		}
		if len(entries) == 0 {
			return tool.Result{Content: "(empty directory)"}, nil
		}
		return tool.Result{Content: strings.Join(entries, "\n")}, nil
	case "exists":
		exists, err := session.Executor.FileExists(ctx, path)
		if err != nil {
			return tool.Result{}, agenterrors.Transient(err, "checking path")
		}
		return tool.Result{Content: fmt.Sprintf("%t", exists)}, nil
	default:
		data, err := session.Executor.ReadFile(ctx, path)
		if err != nil {
			return tool.Result{}, agenterrors.Transient(err, "reading file")
		}
		return tool.Result{Content: string(data)}, nil
	}
}

type sandboxFile struct {
	sandboxes *sandbox.ManagerSet
}

// NewSandboxFile builds the mutating sandbox filesystem tool.
func NewSandboxFile(sandboxes *sandbox.ManagerSet) tool.Tool {
	return &sandboxFile{sandboxes: sandboxes}
}

func (t *sandboxFile) Descriptor() tool.Descriptor {
	return tool.Descriptor{
		Name:        "sandbox_file",
		Description: "Write or delete a file inside the task sandbox.",
		ArgsSchema: schema(`{
			"type": "object",
			"properties": {
				"operation": {"type": "string", "enum": ["write", "delete"], "description": "What to do"},
				"path": {"type": "string", "description": "Absolute path inside the sandbox"},
				"content": {"type": "string", "description": "File content for write"}
			},
			"required": ["operation", "path"]
		}`),
	}
}

func (t *sandboxFile) Category() tool.Category { return tool.CategoryData }
func (t *sandboxFile) Risk() tool.Risk         { return tool.RiskHigh }

func (t *sandboxFile) Execute(ctx context.Context, args map[string]any) (tool.Result, error) {
	operation, _ := args["operation"].(string)
	path, _ := args["path"].(string)
	if path == "" {
		return tool.Result{}, agenterrors.Input(nil, "path parameter is required")
	}

	session, err := sessionFor(ctx, t.sandboxes)
	if err != nil {
		return tool.Result{}, err
	}

	switch operation {
	case "write":
		content, _ := args["content"].(string)
		if err := session.Executor.WriteFile(ctx, path, []byte(content)); err != nil {
			return tool.Result{}, agenterrors.Transient(err, "writing file")
		}
		return tool.Result{Content: fmt.Sprintf("wrote %d bytes to %s", len(content), path)}, nil
	case "delete":
		if err := session.Executor.DeleteFile(ctx, path); err != nil {
			return tool.Result{}, agenterrors.Transient(err, "deleting file")
		}
		return tool.Result{Content: "deleted " + path}, nil
	default:
		return tool.Result{}, agenterrors.Input(nil, fmt.Sprintf("unsupported operation %q", operation))
	}
}
