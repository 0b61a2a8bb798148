package whatsapp

import (
	"fmt"

	waLog "go.mau.fi/whatsmeow/util/log"

	"github.com/lewisedginton/whatsapp_session_gateway/pkg/logger"
)

// waLogger routes whatsmeow's printf-style logging into the structured logger.
type waLogger struct {
	log    logger.Logger
	module string
	min    logger.Level
}

var _ waLog.Logger = (*waLogger)(nil)

func newWALogger(log logger.Logger, module string, min logger.Level) *waLogger {
	return &waLogger{log: log, module: module, min: min}
}

func (w *waLogger) emit(level logger.Level, msg string, args []any) {
	if level < w.min {
		return
	}
	text := fmt.Sprintf(msg, args...)
	field := logger.StringField("module", w.module)
	switch level {
	case logger.DebugLevel:
		w.log.Debug(text, field)
	case logger.InfoLevel:
		w.log.Info(text, field)
	case logger.WarnLevel:
		w.log.Warn(text, field)
	default:
		w.log.Error(text, field)
	}
}

func (w *waLogger) Debugf(msg string, args ...any) { w.emit(logger.DebugLevel, msg, args) }
func (w *waLogger) Infof(msg string, args ...any)  { w.emit(logger.InfoLevel, msg, args) }
func (w *waLogger) Warnf(msg string, args ...any)  { w.emit(logger.WarnLevel, msg, args) }
func (w *waLogger) Errorf(msg string, args ...any) { w.emit(logger.ErrorLevel, msg, args) }

func (w *waLogger) Sub(module string) waLog.Logger {
	return &waLogger{log: w.log, module: w.module + "/" + module, min: w.min}
}
