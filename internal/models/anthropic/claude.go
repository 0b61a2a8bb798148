// Package anthropic answers text messages with Anthropic Claude models.
package anthropic

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/lewisedginton/whatsapp_session_gateway/pkg/logger"
)

const defaultMaxTokens = 1024

// ClaudeModel completes text with a Claude model.
type ClaudeModel struct {
	client    anthropic.Client
	modelName string
	maxTokens int64
	logger    logger.Logger
}

// NewClaudeModel creates a new Claude model instance
func NewClaudeModel(apiKey, modelName string, maxTokens int64, log logger.Logger, opts ...option.RequestOption) (*ClaudeModel, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}
	if modelName == "" {
		modelName = string(anthropic.ModelClaudeSonnet4_5_20250929)
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	if log == nil {
		log = logger.NewNopLogger()
	}

	client := anthropic.NewClient(
		append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...,
	)

	return &ClaudeModel{
		client:    client,
		modelName: modelName,
		maxTokens: maxTokens,
		logger: log.WithFields(
			logger.ComponentField("claude_model"),
			logger.StringField("model", modelName),
		),
	}, nil
}

// Name returns the name of the model
func (c *ClaudeModel) Name() string {
	return c.modelName
}

// Complete replies to text under the given system instruction.
func (c *ClaudeModel) Complete(ctx context.Context, text, instruction string) (string, error) {
	params := buildMessageParams(c.modelName, c.maxTokens, text, instruction)

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("claude api error: %w", err)
	}

	reply := extractText(resp)
	c.logger.Debug("Received response from anthropic",
		logger.IntField("content_blocks", len(resp.Content)),
		logger.StringField("stop_reason", string(resp.StopReason)))
	return reply, nil
}
