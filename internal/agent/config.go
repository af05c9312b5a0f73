package agent

import "time"

// Config tunes one engine instance.
type Config struct {
	// MaxIterations bounds tool batches per invocation.
	MaxIterations int `yaml:"max_iterations" json:"max_iterations"`
	// ConsecutiveErrorLimit aborts the loop after this many tool
	// failures in a row.
	ConsecutiveErrorLimit int `yaml:"consecutive_error_limit" json:"consecutive_error_limit"`
	// ModelCallTimeout bounds a single completion call.
	ModelCallTimeout time.Duration `yaml:"model_call_timeout" json:"model_call_timeout"`
	// InterruptTimeout bounds a HITL wait before the loop gives up.
	InterruptTimeout time.Duration `yaml:"interrupt_timeout" json:"interrupt_timeout"`
	// TokenBudget caps the prompt size sent to the model.
	TokenBudget int `yaml:"token_budget" json:"token_budget"`
	// PreserveRecent messages are never elided by truncation.
	PreserveRecent int `yaml:"preserve_recent" json:"preserve_recent"`
	// CompressionThreshold triggers a summarisation call once the
	// conversation grows past this many tokens.
	CompressionThreshold int `yaml:"compression_threshold" json:"compression_threshold"`
	// Temperature forwarded to the model.
	Temperature float64 `yaml:"temperature" json:"temperature"`
}

// DefaultConfig returns the production loop settings.
func DefaultConfig() Config {
	return Config{
		MaxIterations:         25,
		ConsecutiveErrorLimit: 3,
		ModelCallTimeout:      120 * time.Second,
		InterruptTimeout:      30 * time.Minute,
		TokenBudget:           80000,
		PreserveRecent:        10,
		CompressionThreshold:  60000,
		Temperature:           0.7,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.MaxIterations <= 0 {
		c.MaxIterations = defaults.MaxIterations
	}
	if c.ConsecutiveErrorLimit <= 0 {
		c.ConsecutiveErrorLimit = defaults.ConsecutiveErrorLimit
	}
	if c.ModelCallTimeout <= 0 {
		c.ModelCallTimeout = defaults.ModelCallTimeout
	}
	if c.InterruptTimeout <= 0 {
		c.InterruptTimeout = defaults.InterruptTimeout
	}
	if c.TokenBudget <= 0 {
		c.TokenBudget = defaults.TokenBudget
	}
	if c.PreserveRecent <= 0 {
		c.PreserveRecent = defaults.PreserveRecent
	}
	if c.CompressionThreshold <= 0 {
		c.CompressionThreshold = defaults.CompressionThreshold
	}
	if c.Temperature <= 0 {
		c.Temperature = defaults.Temperature
	}
	return c
}
