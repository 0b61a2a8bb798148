// Package config defines the gateway's application configuration.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"

	pkgconfig "github.com/lewisedginton/whatsapp_session_gateway/pkg/config"
	"github.com/lewisedginton/whatsapp_session_gateway/pkg/logger"
)

// AppConfig holds all application configuration
type AppConfig struct {
	ServiceName string `env:"SERVICE_NAME" yaml:"service_name" default:"whatsapp-session-gateway"`
	Version     string `env:"VERSION" yaml:"version" default:"dev"`
	Environment string `env:"ENVIRONMENT" yaml:"environment" default:"development"`

	Logging    LoggingConfig           `yaml:"logging"`
	HTTP       HTTPConfig              `yaml:"http"`
	Metrics    pkgconfig.MetricsConfig `yaml:"metrics"`
	Storage    StorageConfig           `yaml:"storage"`
	WhatsApp   WhatsAppConfig          `yaml:"whatsapp"`
	Session    SessionPolicyConfig     `yaml:"session"`
	Dispatch   DispatchConfig          `yaml:"dispatch"`
	Broadcast  BroadcastConfig         `yaml:"broadcast"`
	LLM        LLMConfig               `yaml:"llm"`
	Gemini     GeminiConfig            `yaml:"gemini"`
	OpenAI     OpenAIConfig            `yaml:"openai"`
	Anthropic  AnthropicConfig         `yaml:"anthropic"`
	Transcoder TranscoderConfig        `yaml:"transcoder"`
}

// Load reads configuration from the optional YAML file at path and the environment.
// A .env file in the working directory is applied first when present.
func Load(path string) (*AppConfig, error) {
	if err := pkgconfig.LoadDotEnv(); err != nil && !errors.Is(err, pkgconfig.ErrNoDotEnv) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	var cfg AppConfig
	if err := pkgconfig.GetConfig(&cfg, path, false); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate validates the configuration and returns an error if invalid
func (c *AppConfig) Validate() error {
	var result error

	validators := []pkgconfig.Validator{
		c.Logging, c.HTTP, c.Metrics, c.Storage, c.WhatsApp, c.Session,
		c.Dispatch, c.Broadcast, c.LLM, c.Transcoder,
	}
	for _, v := range validators {
		if err := v.Validate(); err != nil {
			result = multierror.Append(result, err)
		}
	}

	if err := c.validateProviderKeys(); err != nil {
		result = multierror.Append(result, err)
	}
	return result
}

// validateProviderKeys requires an API key for every provider in use.
func (c *AppConfig) validateProviderKeys() error {
	var result error
	needs := map[string]bool{c.LLM.Provider: true, c.LLM.TranscriptionProvider: true}

	if needs[ProviderGemini] && c.Gemini.APIKey == "" {
		result = multierror.Append(result, fmt.Errorf("GEMINI_API_KEY is required when the gemini provider is selected"))
	}
	if needs[ProviderOpenAI] && c.OpenAI.APIKey == "" {
		result = multierror.Append(result, fmt.Errorf("OPENAI_API_KEY is required when the openai provider is selected"))
	}
	if needs[ProviderClaude] && c.Anthropic.APIKey == "" {
		result = multierror.Append(result, fmt.Errorf("ANTHROPIC_API_KEY is required when the claude provider is selected"))
	}
	return result
}

// GetLogLevel returns the parsed logger level
func (c *AppConfig) GetLogLevel() logger.Level {
	return logger.ParseLevel(c.Logging.Level)
}

// IsDevelopment returns true if running in development environment
func (c *AppConfig) IsDevelopment() bool {
	env := strings.ToLower(c.Environment)
	return env == "development" || env == "dev"
}

// LogConfig logs the current configuration (without sensitive data)
func (c *AppConfig) LogConfig(log logger.Logger) {
	log.Info("Application configuration loaded",
		logger.StringField("service_name", c.ServiceName),
		logger.StringField("version", c.Version),
		logger.StringField("environment", c.Environment),
		logger.IntField("http_port", c.HTTP.Port),
		logger.StringField("storage_backend", c.Storage.Backend),
		logger.StringField("sessions_dir", c.WhatsApp.SessionsDir),
		logger.StringField("llm_provider", c.LLM.Provider),
		logger.StringField("transcription_provider", c.LLM.TranscriptionProvider),
		logger.IntField("max_init_attempts", c.Session.MaxInitAttempts),
		logger.StringField("prompts_dir", c.Session.PromptsDir),
		logger.DurationField("retry_delay", c.Session.RetryDelay),
		logger.DurationField("reconnect_delay", c.Session.ReconnectDelay),
		logger.BoolField("metrics_exposed", c.Metrics.Expose),
		logger.StringField("log_level", c.Logging.Level),
	)
}
