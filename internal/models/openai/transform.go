package openai

import (
	"fmt"
	"strings"

	"github.com/openai/openai-go"
)

// buildChatParams turns one inbound message into a single-turn chat request.
func buildChatParams(modelName string, maxTokens int64, text, instruction string) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if instruction != "" {
		messages = append(messages, openai.SystemMessage(instruction))
	}
	messages = append(messages, openai.UserMessage(text))

	return openai.ChatCompletionNewParams{
		Model:     modelName,
		MaxTokens: openai.Int(maxTokens),
		Messages:  messages,
	}
}

func extractChoiceText(completion *openai.ChatCompletion) (string, error) {
	if completion == nil || len(completion.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	choice := completion.Choices[0]
	if choice.Message.Refusal != "" {
		return "", fmt.Errorf("model refused: %s", choice.Message.Refusal)
	}
	return strings.TrimSpace(choice.Message.Content), nil
}

// voiceMessage combines the voice prompt with a transcript into one user turn.
func voiceMessage(prompt, transcript string) string {
	if prompt == "" {
		return transcript
	}
	return prompt + "\n\nVoice note transcript:\n" + transcript
}
