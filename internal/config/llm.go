package config

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
)

// LLM provider constants
const (
	ProviderClaude = "claude"
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// LLMConfig selects the completion and transcription providers.
type LLMConfig struct {
	Provider              string `env:"LLM_PROVIDER" yaml:"provider" default:"gemini"`
	TranscriptionProvider string `env:"TRANSCRIPTION_PROVIDER" yaml:"transcription_provider" default:"gemini"`
}

// Validate checks the provider names. Claude has no audio input, so it cannot transcribe.
func (l LLMConfig) Validate() error {
	var result error
	switch l.Provider {
	case ProviderGemini, ProviderOpenAI, ProviderClaude:
	default:
		result = multierror.Append(result, fmt.Errorf("LLM_PROVIDER must be one of [gemini, openai, claude], got %q", l.Provider))
	}
	switch l.TranscriptionProvider {
	case ProviderGemini, ProviderOpenAI:
	default:
		result = multierror.Append(result, fmt.Errorf("TRANSCRIPTION_PROVIDER must be one of [gemini, openai], got %q", l.TranscriptionProvider))
	}
	return result
}

// GeminiConfig holds Google Gemini-specific configuration
type GeminiConfig struct {
	APIKey string `env:"GEMINI_API_KEY" yaml:"-"`
	Model  string `env:"GEMINI_MODEL" yaml:"model" default:"gemini-2.5-flash"`
}

// OpenAIConfig holds OpenAI-specific configuration
type OpenAIConfig struct {
	APIKey             string `env:"OPENAI_API_KEY" yaml:"-"`
	Model              string `env:"OPENAI_MODEL" yaml:"model" default:"gpt-4o-mini"`
	TranscriptionModel string `env:"OPENAI_TRANSCRIPTION_MODEL" yaml:"transcription_model" default:"whisper-1"`
	BaseURL            string `env:"OPENAI_BASE_URL" yaml:"base_url"`
}

// AnthropicConfig holds Anthropic-specific configuration
type AnthropicConfig struct {
	APIKey    string        `env:"ANTHROPIC_API_KEY" yaml:"-"`
	Model     string        `env:"CLAUDE_MODEL" yaml:"model" default:"claude-sonnet-4-5"`
	MaxTokens int64         `env:"ANTHROPIC_MAX_TOKENS" yaml:"max_tokens" default:"1024"`
	Timeout   time.Duration `env:"ANTHROPIC_TIMEOUT" yaml:"timeout" default:"60s"`
}

// TranscoderConfig points at the ffmpeg binary.
type TranscoderConfig struct {
	FFmpegPath string        `env:"FFMPEG_PATH" yaml:"ffmpeg_path" default:"ffmpeg"`
	Timeout    time.Duration `env:"TRANSCODER_TIMEOUT" yaml:"timeout" default:"60s"`
}

// Validate requires a binary path and a positive timeout.
func (t TranscoderConfig) Validate() error {
	var result error
	if t.FFmpegPath == "" {
		result = multierror.Append(result, fmt.Errorf("FFMPEG_PATH cannot be empty"))
	}
	if t.Timeout <= 0 {
		result = multierror.Append(result, fmt.Errorf("TRANSCODER_TIMEOUT must be positive"))
	}
	return result
}
