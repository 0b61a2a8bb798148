// Package prompt_manager resolves the system instruction given to sessions
// that have no instruction of their own.
package prompt_manager

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lewisedginton/whatsapp_session_gateway/internal/storage_manager"
	"github.com/lewisedginton/whatsapp_session_gateway/pkg/logger"
)

const systemPromptPath = "system.md"

// ErrEmptyPrompt is returned when system.md exists but holds only whitespace.
var ErrEmptyPrompt = errors.New("system prompt is empty")

// PromptManager reads prompt files from a FileProvider.
type PromptManager struct {
	provider storage_manager.FileProvider
}

// New creates a new PromptManager with the given file provider.
func New(provider storage_manager.FileProvider) *PromptManager {
	if provider == nil {
		panic("file provider cannot be nil")
	}
	return &PromptManager{
		provider: provider,
	}
}

// GetSystemPrompt retrieves the trimmed system prompt from system.md.
func (m *PromptManager) GetSystemPrompt(ctx context.Context) (string, error) {
	data, err := m.provider.Read(ctx, systemPromptPath)
	if err != nil {
		return "", fmt.Errorf("failed to read system prompt: %w", err)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", ErrEmptyPrompt
	}
	return prompt, nil
}

// DefaultInstruction returns system.md when it is present and non-blank,
// otherwise fallback. Read failures other than a missing file are logged.
func (m *PromptManager) DefaultInstruction(ctx context.Context, fallback string, log logger.Logger) string {
	prompt, err := m.GetSystemPrompt(ctx)
	switch {
	case err == nil:
		log.Info("Using default instruction from prompt file", logger.StringField("file", systemPromptPath))
		return prompt
	case errors.Is(err, storage_manager.ErrNotFound):
		log.Debug("No prompt file, using configured default instruction")
	default:
		log.Warn("Failed to load prompt file, using configured default instruction", logger.ErrorField(err))
	}
	return fallback
}
