package config

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
)

// DispatchConfig controls inbound message handling.
type DispatchConfig struct {
	FallbackText       string        `env:"DISPATCH_FALLBACK_TEXT" yaml:"fallback_text" default:"Sorry, I couldn't process your message right now. Please try again in a moment."`
	TempDir            string        `env:"DISPATCH_TEMP_DIR" yaml:"temp_dir"`
	TempCleanupDelay   time.Duration `env:"DISPATCH_TEMP_CLEANUP_DELAY" yaml:"temp_cleanup_delay" default:"30s"`
	VoicePrompt        string        `env:"DISPATCH_VOICE_PROMPT" yaml:"voice_prompt" default:"Summarize the request. Identify what the customer is asking for and, if possible, move the sale forward or answer their questions."`
	CompletionTimeout  time.Duration `env:"DISPATCH_COMPLETION_TIMEOUT" yaml:"completion_timeout" default:"60s"`
	TranscriptionLimit int64         `env:"DISPATCH_MAX_AUDIO_BYTES" yaml:"max_audio_bytes" default:"16777216"`
}

// Validate checks delays and limits.
func (d DispatchConfig) Validate() error {
	var result error
	if d.FallbackText == "" {
		result = multierror.Append(result, fmt.Errorf("DISPATCH_FALLBACK_TEXT cannot be empty"))
	}
	if d.TempCleanupDelay < 0 {
		result = multierror.Append(result, fmt.Errorf("DISPATCH_TEMP_CLEANUP_DELAY cannot be negative"))
	}
	if d.CompletionTimeout <= 0 {
		result = multierror.Append(result, fmt.Errorf("DISPATCH_COMPLETION_TIMEOUT must be positive"))
	}
	if d.TranscriptionLimit <= 0 {
		result = multierror.Append(result, fmt.Errorf("DISPATCH_MAX_AUDIO_BYTES must be positive"))
	}
	return result
}

// BroadcastConfig controls bulk sends.
type BroadcastConfig struct {
	SendInterval time.Duration `env:"BROADCAST_SEND_INTERVAL" yaml:"send_interval"`
	// Timeout bounds a whole broadcast. It runs on after the caller disconnects.
	Timeout time.Duration `env:"BROADCAST_TIMEOUT" yaml:"timeout" default:"10m"`
}

// Validate rejects negative pacing.
func (b BroadcastConfig) Validate() error {
	if b.SendInterval < 0 {
		return fmt.Errorf("BROADCAST_SEND_INTERVAL cannot be negative")
	}
	if b.Timeout < 0 {
		return fmt.Errorf("BROADCAST_TIMEOUT cannot be negative")
	}
	return nil
}
