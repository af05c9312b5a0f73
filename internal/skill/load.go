package skill

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// yamlDefinition mirrors Definition with a YAML-friendly output schema.
type yamlDefinition struct {
	Definition   `yaml:",inline"`
	OutputSchema map[string]any `yaml:"output_schema,omitempty"`
}

// LoadDir reads skill definitions from every .yaml/.yml file in dir
// and registers them in the store. A missing or empty dir is not an
// error; duplicate ids are.
func LoadDir(ctx context.Context, store Store, dir string) (int, error) {
	trimmed := strings.TrimSpace(dir)
	if trimmed == "" {
		return 0, nil
	}

	info, err := os.Stat(trimmed)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("stat skills dir: %w", err)
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("skills dir %s is not a directory", trimmed)
	}

	entries, err := os.ReadDir(trimmed)
	if err != nil {
		return 0, fmt.Errorf("read skills dir: %w", err)
	}

	seen := make(map[string]string)
	loaded := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !isYAMLFile(name) {
			continue
		}
		path := filepath.Join(trimmed, name)
		def, err := parseSkillFile(path)
		if err != nil {
			return loaded, err
		}
		if prev, dup := seen[def.ID]; dup {
			return loaded, fmt.Errorf("duplicate skill id %q in %s and %s", def.ID, prev, path)
		}
		seen[def.ID] = path
		if err := store.PutSkill(ctx, def); err != nil {
			return loaded, fmt.Errorf("register skill from %s: %w", path, err)
		}
		loaded++
	}
	return loaded, nil
}

func parseSkillFile(path string) (*Definition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read skill %s: %w", path, err)
	}
	var y yamlDefinition
	if err := yaml.Unmarshal(raw, &y); err != nil {
		return nil, fmt.Errorf("parse skill %s: %w", path, err)
	}
	def := y.Definition
	if len(y.OutputSchema) > 0 {
		encoded, err := json.Marshal(y.OutputSchema)
		if err != nil {
			return nil, fmt.Errorf("skill %s output schema: %w", path, err)
		}
		def.OutputSchema = encoded
	}
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("skill %s: %w", path, err)
	}
	return &def, nil
}

func isYAMLFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
