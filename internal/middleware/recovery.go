// Package middleware wraps session message handlers with recovery and logging.
package middleware

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/lewisedginton/whatsapp_session_gateway/internal/connectors"
	"github.com/lewisedginton/whatsapp_session_gateway/internal/session_manager"
	"github.com/lewisedginton/whatsapp_session_gateway/pkg/logger"
)

// Middleware decorates a message handler.
type Middleware func(session_manager.MessageHandler) session_manager.MessageHandler

// RecoveryConfig holds configuration for the recovery middleware
type RecoveryConfig struct {
	Logger           logger.Logger
	EnableStackTrace bool // Whether to log full stack traces
	// OnPanic runs after the panic is logged. Optional.
	OnPanic func(sessionID string, recovered interface{})
}

// DefaultRecoveryConfig returns a sensible default configuration
func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		EnableStackTrace: true,
	}
}

// Recovery returns a middleware that recovers from handler panics and logs
// them. A panic while handling one message must not take down the session's
// controller goroutine.
func Recovery(config RecoveryConfig) Middleware {
	return func(next session_manager.MessageHandler) session_manager.MessageHandler {
		return session_manager.MessageHandlerFunc(func(ctx context.Context, sessionID string, conn connectors.Connector, msg connectors.Message) {
			defer func() {
				if rec := recover(); rec != nil {
					handlePanic(sessionID, msg, rec, config)
				}
			}()

			next.Handle(ctx, sessionID, conn, msg)
		})
	}
}

// handlePanic handles a recovered panic
func handlePanic(sessionID string, msg connectors.Message, rec interface{}, config RecoveryConfig) {
	var stackTrace string
	if config.EnableStackTrace {
		stackTrace = string(debug.Stack())
	}

	logPanic(sessionID, msg, rec, stackTrace, config.Logger)

	if config.OnPanic != nil {
		config.OnPanic(sessionID, rec)
	}
}

func logPanic(sessionID string, msg connectors.Message, rec interface{}, stackTrace string, log logger.Logger) {
	if log == nil {
		fmt.Printf("PANIC: %v\nSession: %s Message: %s\nStack:\n%s\n", rec, sessionID, msg.ID, stackTrace)
		return
	}

	fields := []logger.LogField{
		logger.StringField("panic_error", fmt.Sprintf("%v", rec)),
		logger.SessionIDField(sessionID),
		logger.ChatIDField(msg.ChatID),
		logger.StringField("message_id", msg.ID),
	}
	if stackTrace != "" {
		fields = append(fields, logger.StringField("stack_trace", stackTrace))
	}

	log.Error("Message handler panic recovered", fields...)
}

// MessageLogging logs each handled message with its duration at debug level.
func MessageLogging(log logger.Logger) Middleware {
	return func(next session_manager.MessageHandler) session_manager.MessageHandler {
		return session_manager.MessageHandlerFunc(func(ctx context.Context, sessionID string, conn connectors.Connector, msg connectors.Message) {
			start := time.Now()
			next.Handle(ctx, sessionID, conn, msg)

			if log == nil {
				return
			}
			log.Debug("Message handled",
				logger.SessionIDField(sessionID),
				logger.ChatIDField(msg.ChatID),
				logger.StringField("message_id", msg.ID),
				logger.BoolField("voice", msg.Voice),
				logger.DurationField("duration", time.Since(start)))
		})
	}
}

// ChainMiddleware applies middlewares so the first one listed is outermost.
func ChainMiddleware(middlewares ...Middleware) Middleware {
	return func(next session_manager.MessageHandler) session_manager.MessageHandler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
