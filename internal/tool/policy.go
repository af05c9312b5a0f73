package tool

import (
	"time"

	agenterrors "hyperagent/internal/errors"
)

// PolicyConfig tunes per-tool timeouts and retry behaviour.
type PolicyConfig struct {
	DefaultTimeout time.Duration            `yaml:"default_timeout" json:"default_timeout"`
	PerToolTimeout map[string]time.Duration `yaml:"per_tool_timeout" json:"per_tool_timeout"`
	Retry          agenterrors.RetryConfig  `yaml:"retry" json:"retry"`
}

// DefaultPolicyConfig returns production defaults. Network tools get
// short timeouts, sandboxed execution gets room to run.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		DefaultTimeout: 60 * time.Second,
		PerToolTimeout: map[string]time.Duration{
			"http_request": 30 * time.Second,
			"web_search":   30 * time.Second,
			"execute_code": 180 * time.Second,
			"shell_exec":   120 * time.Second,
		},
		Retry: agenterrors.RetryConfig{
			MaxAttempts:  3,
			BaseDelay:    time.Second,
			MaxDelay:     30 * time.Second,
			JitterFactor: 0.2,
		},
	}
}

// Policy resolves the timeout and retry configuration for one tool.
type Policy interface {
	TimeoutFor(toolName string) time.Duration
	RetryFor(toolName string, risk Risk) agenterrors.RetryConfig
}

type configPolicy struct {
	cfg PolicyConfig
}

// NewPolicy builds a Policy from configuration, filling zero values
// with defaults.
func NewPolicy(cfg PolicyConfig) Policy {
	defaults := DefaultPolicyConfig()
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaults.DefaultTimeout
	}
	if cfg.PerToolTimeout == nil {
		cfg.PerToolTimeout = defaults.PerToolTimeout
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = defaults.Retry
	}
	return &configPolicy{cfg: cfg}
}

func (p *configPolicy) TimeoutFor(toolName string) time.Duration {
	if d, ok := p.cfg.PerToolTimeout[toolName]; ok && d > 0 {
		return d
	}
	return p.cfg.DefaultTimeout
}

// RetryFor suppresses retries for HIGH risk tools so side effects are
// never repeated without the user seeing them.
func (p *configPolicy) RetryFor(toolName string, risk Risk) agenterrors.RetryConfig {
	if risk == RiskHigh {
		cfg := p.cfg.Retry
		cfg.MaxAttempts = 1
		return cfg
	}
	return p.cfg.Retry
}
