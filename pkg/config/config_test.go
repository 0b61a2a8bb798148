package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nested struct {
	Timeout time.Duration `env:"TEST_TIMEOUT" yaml:"timeout" default:"5s"`
	Retries int           `env:"TEST_RETRIES" yaml:"retries" default:"3"`
}

type testConfig struct {
	HTTP    HTTPServerConfig `yaml:"http"`
	Metrics MetricsConfig    `yaml:"metrics"`
	Nested  nested           `yaml:"nested"`

	APIKey   string   `env:"TEST_API_KEY" yaml:"api_key" required:"true"`
	Debug    bool     `env:"TEST_DEBUG" yaml:"debug"`
	Ratio    float64  `env:"TEST_RATIO" yaml:"ratio" default:"0.5"`
	Features []string `env:"TEST_FEATURES" yaml:"features"`
}

func (c testConfig) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return err
	}
	return c.Metrics.Validate()
}

func TestGetConfigFromEnvVars(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		check   func(t *testing.T, cfg testConfig)
		wantErr bool
	}{
		{
			name: "defaults with required field",
			env:  map[string]string{"TEST_API_KEY": "k"},
			check: func(t *testing.T, cfg testConfig) {
				assert.Equal(t, "k", cfg.APIKey)
				assert.Equal(t, 3000, cfg.HTTP.Port)
				assert.Equal(t, 100*time.Second, cfg.HTTP.RequestTimeout)
				assert.Equal(t, 5*time.Second, cfg.Nested.Timeout)
				assert.Equal(t, 3, cfg.Nested.Retries)
				assert.Equal(t, 0.5, cfg.Ratio)
				assert.Equal(t, "/metrics", cfg.Metrics.Path)
				assert.True(t, cfg.Metrics.Expose)
			},
		},
		{
			name: "environment overrides",
			env: map[string]string{
				"TEST_API_KEY":   "k",
				"HTTP_PORT":      "8081",
				"TEST_TIMEOUT":   "1m",
				"TEST_DEBUG":     "true",
				"TEST_FEATURES":  "a, b,,c",
				"METRICS_EXPOSE": "false",
			},
			check: func(t *testing.T, cfg testConfig) {
				assert.Equal(t, 8081, cfg.HTTP.Port)
				assert.Equal(t, time.Minute, cfg.Nested.Timeout)
				assert.True(t, cfg.Debug)
				assert.Equal(t, []string{"a", "b", "c"}, cfg.Features)
				assert.False(t, cfg.Metrics.Expose)
			},
		},
		{
			name:    "missing required field",
			env:     map[string]string{},
			wantErr: true,
		},
		{
			name:    "unparsable duration",
			env:     map[string]string{"TEST_API_KEY": "k", "TEST_TIMEOUT": "soon"},
			wantErr: true,
		},
		{
			name:    "validation failure",
			env:     map[string]string{"TEST_API_KEY": "k", "HTTP_PORT": "70000"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			var cfg testConfig
			err := GetConfigFromEnvVars(&cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestGetConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api_key: from-file\nnested:\n  retries: 7\n"), 0o600))

	t.Run("file values with env overlay", func(t *testing.T) {
		t.Setenv("HTTP_PORT", "9000")
		var cfg testConfig
		require.NoError(t, GetConfig(&cfg, path, false))
		assert.Equal(t, "from-file", cfg.APIKey)
		assert.Equal(t, 7, cfg.Nested.Retries)
		assert.Equal(t, 9000, cfg.HTTP.Port)
	})

	t.Run("missing file is an error unless allowed", func(t *testing.T) {
		var cfg testConfig
		assert.Error(t, GetConfig(&cfg, filepath.Join(dir, "nope.yaml"), false))

		t.Setenv("TEST_API_KEY", "env")
		require.NoError(t, GetConfig(&cfg, filepath.Join(dir, "nope.yaml"), true))
		assert.Equal(t, "env", cfg.APIKey)
	})
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()

	err := LoadDotEnv(filepath.Join(dir, "missing.env"))
	assert.True(t, errors.Is(err, ErrNoDotEnv))

	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte("DOTENV_ONLY_KEY=loaded\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("DOTENV_ONLY_KEY") })

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "loaded", os.Getenv("DOTENV_ONLY_KEY"))
}
