package config

import (
	pkgconfig "github.com/lewisedginton/whatsapp_session_gateway/pkg/config"
)

// HTTPConfig holds the control surface listener settings.
type HTTPConfig struct {
	pkgconfig.HTTPServerConfig `yaml:",inline"`

	// StaticDir is served at / when it exists.
	StaticDir string `env:"HTTP_STATIC_DIR" yaml:"static_dir" default:"./public"`

	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" yaml:"cors_allowed_origins" default:"https://*,http://*"`
}
