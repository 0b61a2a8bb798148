package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lewisedginton/whatsapp_session_gateway/pkg/logger"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("GEMINI_API_KEY", "test-key")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.HTTP.Port)
	assert.Equal(t, "./public", cfg.HTTP.StaticDir)
	assert.Equal(t, 3, cfg.Session.MaxInitAttempts)
	assert.Equal(t, 10*time.Second, cfg.Session.RetryDelay)
	assert.Equal(t, 5*time.Second, cfg.Session.ReconnectDelay)
	assert.Equal(t, 30*time.Second, cfg.Session.InitTimeout)
	assert.Equal(t, 3*time.Minute, cfg.Session.LinkTimeout)
	assert.Equal(t, 30*time.Second, cfg.Dispatch.TempCleanupDelay)
	assert.Equal(t, 256, cfg.WhatsApp.EventBuffer)
	assert.Equal(t, StorageLocal, cfg.Storage.Backend)
	assert.Equal(t, ProviderGemini, cfg.LLM.Provider)
	assert.Equal(t, ProviderGemini, cfg.LLM.TranscriptionProvider)
	assert.Equal(t, []string{"https://*", "http://*"}, cfg.HTTP.CORSAllowedOrigins)
	assert.Equal(t, logger.InfoLevel, cfg.GetLogLevel())
	assert.True(t, cfg.IsDevelopment())
}

func TestLoadFromFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
environment: production
http:
  http_port: 8081
session:
  max_init_attempts: 5
llm:
  provider: openai
  transcription_provider: openai
`), 0o600))
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("SESSION_RETRY_DELAY", "2s")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8081, cfg.HTTP.Port)
	assert.Equal(t, 5, cfg.Session.MaxInitAttempts)
	assert.Equal(t, 2*time.Second, cfg.Session.RetryDelay)
	assert.Equal(t, ProviderOpenAI, cfg.LLM.Provider)
	assert.False(t, cfg.IsDevelopment())
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("GEMINI_API_KEY=from-dotenv\nHTTP_PORT=4000\n"), 0o600))
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("HTTP_PORT", "")
	// t.Setenv registers cleanup; unset so godotenv is allowed to fill them
	require.NoError(t, os.Unsetenv("GEMINI_API_KEY"))
	require.NoError(t, os.Unsetenv("HTTP_PORT"))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Gemini.APIKey)
	assert.Equal(t, 4000, cfg.HTTP.Port)
}

func TestValidate(t *testing.T) {
	valid := func() AppConfig {
		return AppConfig{
			Logging:    LoggingConfig{Level: "info", Format: "json"},
			Storage:    StorageConfig{Backend: StorageLocal, LocalDir: "./data"},
			WhatsApp:   WhatsAppConfig{SessionsDir: "./sessions", EventBuffer: 8},
			Session:    SessionPolicyConfig{MaxInitAttempts: 3, RetryDelay: time.Second, ReconnectDelay: time.Second, InitTimeout: time.Second, LinkTimeout: time.Second},
			Dispatch:   DispatchConfig{FallbackText: "sorry", CompletionTimeout: time.Second, TranscriptionLimit: 1},
			LLM:        LLMConfig{Provider: ProviderGemini, TranscriptionProvider: ProviderGemini},
			Gemini:     GeminiConfig{APIKey: "k"},
			Transcoder: TranscoderConfig{FFmpegPath: "ffmpeg", Timeout: time.Second},
			HTTP:       HTTPConfig{},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *AppConfig)
		wantErr string
	}{
		{name: "valid", mutate: func(c *AppConfig) {}},
		{name: "bad log level", mutate: func(c *AppConfig) { c.Logging.Level = "loud" }, wantErr: "log_level"},
		{name: "zero attempts", mutate: func(c *AppConfig) { c.Session.MaxInitAttempts = 0 }, wantErr: "SESSION_MAX_INIT_ATTEMPTS"},
		{name: "unknown storage", mutate: func(c *AppConfig) { c.Storage.Backend = "ftp" }, wantErr: "storage backend"},
		{name: "s3 without bucket", mutate: func(c *AppConfig) { c.Storage.Backend = StorageS3 }, wantErr: "STORAGE_S3_BUCKET"},
		{name: "claude cannot transcribe", mutate: func(c *AppConfig) { c.LLM.TranscriptionProvider = ProviderClaude }, wantErr: "TRANSCRIPTION_PROVIDER"},
		{name: "missing openai key", mutate: func(c *AppConfig) { c.LLM.Provider = ProviderOpenAI }, wantErr: "OPENAI_API_KEY"},
		{name: "negative broadcast interval", mutate: func(c *AppConfig) { c.Broadcast.SendInterval = -time.Second }, wantErr: "BROADCAST_SEND_INTERVAL"},
		{name: "negative broadcast timeout", mutate: func(c *AppConfig) { c.Broadcast.Timeout = -time.Second }, wantErr: "BROADCAST_TIMEOUT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			cfg.HTTP.Port = 3000
			cfg.HTTP.RequestTimeout = time.Second
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
