package skill

import (
	"context"
	"encoding/json"
)

// Builtins returns the skills shipped with the binary. They exercise
// only registered tools and model calls, never external code.
func Builtins() []*Definition {
	return []*Definition{
		{
			ID:          "summarize_page",
			Name:        "Summarize page",
			Version:     "1.0.0",
			Description: "Fetch a web page and produce a short summary",
			Category:    "research",
			Parameters: []Param{
				{Name: "url", Type: TypeString, Description: "Page to fetch", Required: true},
				{Name: "focus", Type: TypeString, Description: "Aspect to emphasise", Required: false, Default: "main points"},
			},
			RequiredTools:           []string{"http_request"},
			RiskLevel:               "medium",
			MaxExecutionTimeSeconds: 120,
			MaxIterations:           4,
			Enabled:                 true,
			IsBuiltin:               true,
			Steps: []Step{
				{
					Name:      "fetch",
					Kind:      StepTool,
					Tool:      "http_request",
					Args:      map[string]any{"method": "GET", "url": "{{url}}"},
					OutputKey: "page",
				},
				{
					Name:      "summarize",
					Kind:      StepModel,
					Prompt:    "Summarize the following page, focusing on {{focus}}:\n\n{{page}}",
					OutputKey: "output",
				},
			},
			OutputSchema: json.RawMessage(`{"type":"string"}`),
		},
		{
			ID:          "quick_research",
			Name:        "Quick research",
			Version:     "1.0.0",
			Description: "Run a web search and distil the findings",
			Category:    "research",
			Parameters: []Param{
				{Name: "query", Type: TypeString, Description: "What to research", Required: true},
			},
			RequiredTools:           []string{"web_search"},
			RiskLevel:               "low",
			MaxExecutionTimeSeconds: 180,
			MaxIterations:           4,
			Enabled:                 true,
			IsBuiltin:               true,
			Steps: []Step{
				{
					Name:      "search",
					Kind:      StepTool,
					Tool:      "web_search",
					Args:      map[string]any{"query": "{{query}}"},
					OutputKey: "results",
				},
				{
					Name:      "distil",
					Kind:      StepModel,
					Prompt:    "Summarise the key findings for \"{{query}}\" from these search results:\n\n{{results}}",
					OutputKey: "output",
				},
			},
		},
	}
}

// RegisterBuiltins installs the builtin skills into the store.
func RegisterBuiltins(ctx context.Context, store Store) error {
	for _, def := range Builtins() {
		if err := store.PutSkill(ctx, def); err != nil {
			return err
		}
	}
	return nil
}
