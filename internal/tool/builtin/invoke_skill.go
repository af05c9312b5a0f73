package builtin

import (
	"context"

	agenterrors "hyperagent/internal/errors"
	"hyperagent/internal/tool"
)

type invokeSkill struct {
	skills SkillInvoker
}

// NewInvokeSkill builds the invoke_skill tool.
func NewInvokeSkill(skills SkillInvoker) tool.Tool {
	return &invokeSkill{skills: skills}
}

func (t *invokeSkill) Descriptor() tool.Descriptor {
	return tool.Descriptor{
		Name:        "invoke_skill",
		Description: "Run a registered skill with the given parameters and return its output.",
		ArgsSchema: schema(`{
			"type": "object",
			"properties": {
				"skill_id": {"type": "string", "description": "Identifier of the skill to run"},
				"params": {"type": "object", "description": "Skill parameters"}
			},
			"required": ["skill_id"]
		}`),
	}
}

func (t *invokeSkill) Category() tool.Category { return tool.CategorySkill }
func (t *invokeSkill) Risk() tool.Risk         { return tool.RiskMedium }

func (t *invokeSkill) Execute(ctx context.Context, args map[string]any) (tool.Result, error) {
	skillID, _ := args["skill_id"].(string)
	if skillID == "" {
		return tool.Result{}, agenterrors.Input(nil, "skill_id parameter is required")
	}
	params, _ := args["params"].(map[string]any)

	output, err := t.skills.Invoke(ctx, skillID, params)
	if err != nil {
		return tool.Result{}, err
	}
	return tool.Result{Content: output, Metadata: map[string]any{"skill_id": skillID}}, nil
}
