package builtin

import (
	"context"

	agenterrors "hyperagent/internal/errors"
	"hyperagent/internal/tool"
)

type askUser struct{}

// NewAskUser builds the ask_user tool. It never executes directly;
// the risk gate intercepts it and raises an input interrupt whose
// response becomes the tool result.
func NewAskUser() tool.Tool {
	return askUser{}
}

func (askUser) Descriptor() tool.Descriptor {
	return tool.Descriptor{
		Name:        "ask_user",
		Description: "Ask the user a question and wait for their answer. Provide options for a multiple-choice question, omit them for free text.",
		ArgsSchema: schema(`{
			"type": "object",
			"properties": {
				"question": {"type": "string", "description": "The question to ask"},
				"options": {"type": "array", "items": {"type": "string"}, "description": "Choices for the user to pick from"}
			},
			"required": ["question"]
		}`),
	}
}

func (askUser) Category() tool.Category { return tool.CategoryHITL }
func (askUser) Risk() tool.Risk         { return tool.RiskLow }

func (askUser) Execute(context.Context, map[string]any) (tool.Result, error) {
	return tool.Result{}, agenterrors.Fatal(nil, "ask_user reached direct execution; the pipeline gate must intercept it")
}
