package config

import (
	"fmt"
	"strings"
)

// MetricsConfig holds metrics collection and exposure settings
type MetricsConfig struct {
	// EnableHTTPMetrics enables HTTP request counter and duration metrics
	EnableHTTPMetrics bool `env:"METRICS_ENABLE_HTTP" yaml:"enable_http_metrics" default:"true"`

	// Expose mounts the Prometheus handler on the main router
	Expose bool `env:"METRICS_EXPOSE" yaml:"expose_metrics" default:"true"`

	// Path is the route serving the Prometheus exposition format
	Path string `env:"METRICS_PATH" yaml:"metrics_path" default:"/metrics"`
}

// Validate checks the metrics path when metrics are exposed.
func (m MetricsConfig) Validate() error {
	if m.Expose && !strings.HasPrefix(m.Path, "/") {
		return fmt.Errorf("metrics path must start with '/', got %q", m.Path)
	}
	return nil
}
