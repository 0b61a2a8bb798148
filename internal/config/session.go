package config

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
)

// SessionPolicyConfig controls the per-session lifecycle.
type SessionPolicyConfig struct {
	MaxInitAttempts int           `env:"SESSION_MAX_INIT_ATTEMPTS" yaml:"max_init_attempts" default:"3"`
	RetryDelay      time.Duration `env:"SESSION_RETRY_DELAY" yaml:"retry_delay" default:"10s"`
	ReconnectDelay  time.Duration `env:"SESSION_RECONNECT_DELAY" yaml:"reconnect_delay" default:"5s"`
	InitTimeout     time.Duration `env:"SESSION_INIT_TIMEOUT" yaml:"init_timeout" default:"30s"`
	LinkTimeout     time.Duration `env:"SESSION_LINK_TIMEOUT" yaml:"link_timeout" default:"3m"`

	// PromptsDir may hold a system.md that overrides DefaultInstruction.
	PromptsDir         string `env:"SESSION_PROMPTS_DIR" yaml:"prompts_dir" default:"prompts"`
	DefaultInstruction string `env:"SESSION_DEFAULT_INSTRUCTION" yaml:"default_instruction" default:"You are a helpful assistant replying to WhatsApp messages. Answer briefly and politely."`
}

// Validate checks the attempt budget and delays.
func (s SessionPolicyConfig) Validate() error {
	var result error
	if s.MaxInitAttempts < 1 {
		result = multierror.Append(result, fmt.Errorf("SESSION_MAX_INIT_ATTEMPTS must be at least 1, got %d", s.MaxInitAttempts))
	}
	if s.RetryDelay <= 0 {
		result = multierror.Append(result, fmt.Errorf("SESSION_RETRY_DELAY must be positive"))
	}
	if s.ReconnectDelay <= 0 {
		result = multierror.Append(result, fmt.Errorf("SESSION_RECONNECT_DELAY must be positive"))
	}
	if s.InitTimeout <= 0 {
		result = multierror.Append(result, fmt.Errorf("SESSION_INIT_TIMEOUT must be positive"))
	}
	if s.LinkTimeout <= 0 {
		result = multierror.Append(result, fmt.Errorf("SESSION_LINK_TIMEOUT must be positive"))
	}
	return result
}
