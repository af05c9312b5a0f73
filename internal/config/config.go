// Package config loads the process configuration from a YAML file and
// HYPERAGENT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full process configuration. Every field has a default
// so a bare binary starts against local services.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Model   ModelConfig   `mapstructure:"model"`
	Agent   AgentConfig   `mapstructure:"agent"`
	Worker  WorkerConfig  `mapstructure:"worker"`
	Sandbox SandboxConfig `mapstructure:"sandbox"`
	Tools   ToolsConfig   `mapstructure:"tools"`
	Skills  SkillsConfig  `mapstructure:"skills"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type ServerConfig struct {
	Addr           string        `mapstructure:"addr"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	RatePerMinute  int           `mapstructure:"rate_per_minute"`
	SSEHeartbeat   time.Duration `mapstructure:"sse_heartbeat"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
}

type RedisConfig struct {
	// Addr empty means in-process broker, queue and stores.
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type ModelConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Name        string        `mapstructure:"name"`
	RouterModel string        `mapstructure:"router_model"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type AgentConfig struct {
	MaxIterations         int           `mapstructure:"max_iterations"`
	ConsecutiveErrorLimit int           `mapstructure:"consecutive_error_limit"`
	TokenBudget           int           `mapstructure:"token_budget"`
	InterruptTimeout      time.Duration `mapstructure:"interrupt_timeout"`
	MaxHandoffs           int           `mapstructure:"max_handoffs"`
	TaskPrompt            string        `mapstructure:"task_prompt"`
	ResearchPrompt        string        `mapstructure:"research_prompt"`
}

type WorkerConfig struct {
	MaxJobs    int           `mapstructure:"max_jobs"`
	PollDelay  time.Duration `mapstructure:"poll_delay"`
	MaxRetries int           `mapstructure:"max_retries"`
	DrainGrace time.Duration `mapstructure:"drain_grace"`
}

type SandboxConfig struct {
	ProviderURL string        `mapstructure:"provider_url"`
	AuthKey     string        `mapstructure:"auth_key"`
	TTL         time.Duration `mapstructure:"ttl"`
	MaxSessions int           `mapstructure:"max_sessions"`
}

type ToolsConfig struct {
	SearchAPIKey  string `mapstructure:"search_api_key"`
	SearchBaseURL string `mapstructure:"search_base_url"`
	ImageBaseURL  string `mapstructure:"image_base_url"`
	ImageAPIKey   string `mapstructure:"image_api_key"`
}

type SkillsConfig struct {
	Dir string `mapstructure:"dir"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads path (optional) and the environment into a Config.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("HYPERAGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.rate_per_minute", 60)
	v.SetDefault("server.sse_heartbeat", 15*time.Second)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 0)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("model.base_url", "https://api.openai.com/v1")
	v.SetDefault("model.api_key", "")
	v.SetDefault("model.name", "gpt-4o")
	v.SetDefault("model.router_model", "gpt-4o-mini")
	v.SetDefault("model.timeout", 120*time.Second)

	v.SetDefault("agent.max_iterations", 25)
	v.SetDefault("agent.consecutive_error_limit", 3)
	v.SetDefault("agent.token_budget", 80000)
	v.SetDefault("agent.interrupt_timeout", 30*time.Minute)
	v.SetDefault("agent.max_handoffs", 3)

	v.SetDefault("worker.max_jobs", 4)
	v.SetDefault("worker.poll_delay", time.Second)
	v.SetDefault("worker.max_retries", 3)
	v.SetDefault("worker.drain_grace", 30*time.Second)

	v.SetDefault("agent.task_prompt", "")
	v.SetDefault("agent.research_prompt", "")

	v.SetDefault("sandbox.provider_url", "")
	v.SetDefault("sandbox.auth_key", "")
	v.SetDefault("sandbox.ttl", 30*time.Minute)
	v.SetDefault("sandbox.max_sessions", 64)

	v.SetDefault("tools.search_api_key", "")
	v.SetDefault("tools.search_base_url", "https://api.tavily.com")
	v.SetDefault("tools.image_base_url", "")
	v.SetDefault("tools.image_api_key", "")

	v.SetDefault("skills.dir", "")

	v.SetDefault("logging.level", "info")
}

// Validate rejects configurations that cannot work at all.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr must not be empty")
	}
	if c.Server.RatePerMinute < 0 {
		return fmt.Errorf("server.rate_per_minute must not be negative")
	}
	if c.Model.BaseURL == "" {
		return fmt.Errorf("model.base_url must not be empty")
	}
	if c.Agent.MaxIterations < 0 {
		return fmt.Errorf("agent.max_iterations must not be negative")
	}
	if c.Worker.MaxJobs < 0 {
		return fmt.Errorf("worker.max_jobs must not be negative")
	}
	return nil
}
