// Package cli implements the gateway's command-line commands.
package cli

import (
	"fmt"

	"github.com/urfave/cli/v2"

	appconfig "github.com/lewisedginton/whatsapp_session_gateway/internal/config"
	"github.com/lewisedginton/whatsapp_session_gateway/pkg/logger"
)

// getLogger retrieves the logger from the CLI context metadata
func getLogger(ctx *cli.Context) logger.Logger {
	if ctx.App.Metadata != nil {
		if log, ok := ctx.App.Metadata["logger"].(logger.Logger); ok {
			return log
		}
	}

	// Fallback to default logger if not found
	return logger.NewLogger(logger.Config{
		Level:   logger.InfoLevel,
		Format:  "json",
		Service: "whatsapp-session-gateway",
	})
}

// loadConfig reads the configuration named by --config-file. An explicit
// --log-level flag wins over the configured level.
func loadConfig(ctx *cli.Context) (*appconfig.AppConfig, error) {
	cfg, err := appconfig.Load(ctx.String("config-file"))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if ctx.IsSet("log-level") {
		cfg.Logging.Level = ctx.String("log-level")
	}
	return cfg, nil
}

// configuredLogger builds the application logger from loaded configuration.
func configuredLogger(cfg *appconfig.AppConfig) logger.Logger {
	return logger.NewLogger(logger.Config{
		Level:   cfg.GetLogLevel(),
		Format:  cfg.Logging.Format,
		Service: cfg.ServiceName,
	})
}
