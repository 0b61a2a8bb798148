package cli

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/lewisedginton/whatsapp_session_gateway/internal/server"
	"github.com/lewisedginton/whatsapp_session_gateway/pkg/logger"
)

// ServeCommand returns the command running the gateway.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Run the session gateway and its HTTP control surface",
		Action:  serveAction,
	}
}

func serveAction(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		getLogger(ctx).Error("Failed to load config", logger.ErrorField(err))
		return err
	}
	if err := cfg.Validate(); err != nil {
		getLogger(ctx).Error("Invalid configuration", logger.ErrorField(err))
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log := configuredLogger(cfg)
	cfg.LogConfig(log)

	runCtx, stop := signal.NotifyContext(ctx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := server.New(runCtx, cfg, log)
	if err != nil {
		log.Error("Failed to create server", logger.ErrorField(err))
		return fmt.Errorf("failed to create server: %w", err)
	}

	if err := s.Run(runCtx); err != nil {
		log.Error("Server exited with error", logger.ErrorField(err))
		return fmt.Errorf("server error: %w", err)
	}

	log.Info("Server exited gracefully")
	return nil
}
