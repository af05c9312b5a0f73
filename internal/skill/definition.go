// Package skill runs declarative, schema-validated sub-graphs exposed
// to agents as single tools.
package skill

import (
	"encoding/json"
	"fmt"

	agenterrors "hyperagent/internal/errors"
)

// ParamType enumerates the accepted parameter types.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
	TypeObject  ParamType = "object"
	TypeArray   ParamType = "array"
)

func (t ParamType) valid() bool {
	switch t {
	case TypeString, TypeNumber, TypeBoolean, TypeObject, TypeArray:
		return true
	}
	return false
}

// Param declares one typed input parameter.
type Param struct {
	Name        string    `json:"name" yaml:"name"`
	Type        ParamType `json:"type" yaml:"type"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Required    bool      `json:"required" yaml:"required"`
	Default     any       `json:"default,omitempty" yaml:"default,omitempty"`
}

// StepKind selects how a sub-graph step executes.
type StepKind string

const (
	// StepTool invokes a registered tool with resolved arguments.
	StepTool StepKind = "tool"
	// StepModel makes one model call with a resolved prompt.
	StepModel StepKind = "model"
)

// Step is one node of a skill's sub-graph. String fields support
// {{name}} placeholders resolved against the parameter bindings and
// earlier step outputs.
type Step struct {
	Name      string         `json:"name" yaml:"name"`
	Kind      StepKind       `json:"kind" yaml:"kind"`
	Tool      string         `json:"tool,omitempty" yaml:"tool,omitempty"`
	Args      map[string]any `json:"args,omitempty" yaml:"args,omitempty"`
	Prompt    string         `json:"prompt,omitempty" yaml:"prompt,omitempty"`
	OutputKey string         `json:"output_key,omitempty" yaml:"output_key,omitempty"`
}

// Definition describes a skill: its inputs, its sub-graph and its
// execution limits. Skills never carry user source code executed
// in-process; the sub-graph is data interpreted by the engine.
type Definition struct {
	ID                      string          `json:"id" yaml:"id"`
	Name                    string          `json:"name" yaml:"name"`
	Version                 string          `json:"version" yaml:"version"`
	Description             string          `json:"description" yaml:"description"`
	Category                string          `json:"category" yaml:"category"`
	Parameters              []Param         `json:"parameters" yaml:"parameters"`
	OutputSchema            json.RawMessage `json:"output_schema,omitempty" yaml:"-"`
	RequiredTools           []string        `json:"required_tools,omitempty" yaml:"required_tools,omitempty"`
	RiskLevel               string          `json:"risk_level" yaml:"risk_level"`
	MaxExecutionTimeSeconds int             `json:"max_execution_time_seconds" yaml:"max_execution_time_seconds"`
	MaxIterations           int             `json:"max_iterations" yaml:"max_iterations"`
	Enabled                 bool            `json:"enabled" yaml:"enabled"`
	IsBuiltin               bool            `json:"is_builtin" yaml:"is_builtin"`
	Author                  string          `json:"author,omitempty" yaml:"author,omitempty"`
	Steps                   []Step          `json:"steps" yaml:"steps"`
}

// Validate checks the definition itself is well formed.
func (d *Definition) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("skill has no id")
	}
	if d.Name == "" {
		return fmt.Errorf("skill %s has no name", d.ID)
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("skill %s has no steps", d.ID)
	}
	seen := make(map[string]bool, len(d.Parameters))
	for _, p := range d.Parameters {
		if p.Name == "" {
			return fmt.Errorf("skill %s declares an unnamed parameter", d.ID)
		}
		if !p.Type.valid() {
			return fmt.Errorf("skill %s parameter %s has unknown type %q", d.ID, p.Name, p.Type)
		}
		if seen[p.Name] {
			return fmt.Errorf("skill %s declares parameter %s twice", d.ID, p.Name)
		}
		seen[p.Name] = true
	}
	for i, step := range d.Steps {
		switch step.Kind {
		case StepTool:
			if step.Tool == "" {
				return fmt.Errorf("skill %s step %d names no tool", d.ID, i)
			}
		case StepModel:
			if step.Prompt == "" {
				return fmt.Errorf("skill %s step %d has no prompt", d.ID, i)
			}
		default:
			return fmt.Errorf("skill %s step %d has unknown kind %q", d.ID, i, step.Kind)
		}
	}
	return nil
}

// BindParams validates inputs against the declared parameters and
// returns the bindings with defaults applied. Failures are tagged as
// input errors so callers never retry them.
func (d *Definition) BindParams(params map[string]any) (map[string]any, error) {
	bound := make(map[string]any, len(d.Parameters))
	for _, p := range d.Parameters {
		value, ok := params[p.Name]
		if !ok {
			if p.Required {
				return nil, agenterrors.Input(nil, fmt.Sprintf("skill %s: missing required parameter %s", d.ID, p.Name))
			}
			if p.Default != nil {
				bound[p.Name] = p.Default
			}
			continue
		}
		if !matchesType(value, p.Type) {
			return nil, agenterrors.Input(nil, fmt.Sprintf("skill %s: parameter %s must be %s", d.ID, p.Name, p.Type))
		}
		bound[p.Name] = value
	}
	for name := range params {
		if !declared(d.Parameters, name) {
			return nil, agenterrors.Input(nil, fmt.Sprintf("skill %s: unknown parameter %s", d.ID, name))
		}
	}
	return bound, nil
}

func declared(params []Param, name string) bool {
	for _, p := range params {
		if p.Name == name {
			return true
		}
	}
	return false
}

func matchesType(value any, t ParamType) bool {
	switch t {
	case TypeString:
		_, ok := value.(string)
		return ok
	case TypeNumber:
		switch value.(type) {
		case float64, float32, int, int32, int64, json.Number:
			return true
		}
		return false
	case TypeBoolean:
		_, ok := value.(bool)
		return ok
	case TypeObject:
		_, ok := value.(map[string]any)
		return ok
	case TypeArray:
		switch value.(type) {
		case []any, []string, []map[string]any:
			return true
		}
		return false
	}
	return false
}

// Authorize applies the ownership rule: builtin skills are open to
// every user, dynamic skills only to their author.
func Authorize(def *Definition, userID string) error {
	if def.IsBuiltin {
		return nil
	}
	if def.Author != "" && def.Author == userID {
		return nil
	}
	return agenterrors.Permission(nil, fmt.Sprintf("skill %s is owned by another user", def.ID))
}
