package anthropic

import (
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
)

// buildMessageParams turns one inbound message into a single-turn request.
func buildMessageParams(modelName string, maxTokens int64, text, instruction string) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(modelName),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(text)),
		},
	}
	if instruction != "" {
		params.System = []anthropic.TextBlockParam{{Text: instruction}}
	}
	return params
}

// extractText joins the text blocks of a response. Other block types are skipped.
func extractText(message *anthropic.Message) string {
	if message == nil {
		return ""
	}
	var parts []string
	for _, block := range message.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok && text.Text != "" {
			parts = append(parts, text.Text)
		}
	}
	return strings.Join(parts, "\n")
}
