package config

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// WhatsAppConfig holds connector settings shared by every session.
type WhatsAppConfig struct {
	// SessionsDir holds one credential directory per session.
	SessionsDir string `env:"WHATSAPP_SESSIONS_DIR" yaml:"sessions_dir" default:"./sessions"`
	EventBuffer int    `env:"WHATSAPP_EVENT_BUFFER" yaml:"event_buffer" default:"256"`
	// HistoryLimit caps the per-chat message buffer backing the chat history route.
	HistoryLimit int    `env:"WHATSAPP_HISTORY_LIMIT" yaml:"history_limit" default:"100"`
	LogLevel     string `env:"WHATSAPP_LOG_LEVEL" yaml:"log_level" default:"warn"`
}

// Validate checks directory and buffer sizes.
func (w WhatsAppConfig) Validate() error {
	var result error
	if w.SessionsDir == "" {
		result = multierror.Append(result, fmt.Errorf("WHATSAPP_SESSIONS_DIR is required"))
	}
	if w.EventBuffer < 1 {
		result = multierror.Append(result, fmt.Errorf("WHATSAPP_EVENT_BUFFER must be positive, got %d", w.EventBuffer))
	}
	if w.HistoryLimit < 0 {
		result = multierror.Append(result, fmt.Errorf("WHATSAPP_HISTORY_LIMIT cannot be negative"))
	}
	return result
}
