// Package gemini answers text messages and voice notes with Google Gemini models.
// Voice notes are sent to the model as inline audio alongside a prompt.
package gemini

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"google.golang.org/genai"

	"github.com/lewisedginton/whatsapp_session_gateway/pkg/logger"
)

// AudioMIMEType is the type of the transcoded voice notes passed to Transcribe.
const AudioMIMEType = "audio/mp3"

// Config configures a Model.
type Config struct {
	APIKey string
	Model  string
	// VoicePrompt accompanies every voice note.
	VoicePrompt string
	// BaseURL overrides the API endpoint.
	BaseURL    string
	HTTPClient *http.Client
}

// Model talks to the Gemini API.
type Model struct {
	client      *genai.Client
	modelName   string
	voicePrompt string
	logger      logger.Logger
}

// New creates a Gemini model client.
func New(ctx context.Context, cfg Config, log logger.Logger) (*Model, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model name is required")
	}
	if log == nil {
		log = logger.NewNopLogger()
	}

	clientConfig := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &Model{
		client:      client,
		modelName:   cfg.Model,
		voicePrompt: cfg.VoicePrompt,
		logger: log.WithFields(
			logger.ComponentField("gemini_model"),
			logger.StringField("model", cfg.Model),
		),
	}, nil
}

// Name returns the model name.
func (m *Model) Name() string {
	return m.modelName
}

// Complete replies to text under the given system instruction.
func (m *Model) Complete(ctx context.Context, text, instruction string) (string, error) {
	contents := []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}
	return m.generate(ctx, contents, instruction)
}

// Transcribe replies to the MP3 voice note at audioPath under the given system instruction.
func (m *Model) Transcribe(ctx context.Context, audioPath, instruction string) (string, error) {
	data, err := os.ReadFile(audioPath)
	if err != nil {
		return "", fmt.Errorf("failed to read audio: %w", err)
	}

	parts := []*genai.Part{genai.NewPartFromBytes(data, AudioMIMEType)}
	if m.voicePrompt != "" {
		parts = append(parts, genai.NewPartFromText(m.voicePrompt))
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
	return m.generate(ctx, contents, instruction)
}

func (m *Model) generate(ctx context.Context, contents []*genai.Content, instruction string) (string, error) {
	config := &genai.GenerateContentConfig{}
	if instruction != "" {
		config.SystemInstruction = genai.NewContentFromText(instruction, genai.RoleUser)
	}

	result, err := m.client.Models.GenerateContent(ctx, m.modelName, contents, config)
	if err != nil {
		return "", fmt.Errorf("gemini request failed: %w", err)
	}

	text := responseText(result)
	m.logger.Debug("Gemini response received", logger.IntField("content_length", len(text)))
	return text, nil
}

// responseText joins the text parts of the first candidate, skipping thought parts.
func responseText(result *genai.GenerateContentResponse) string {
	if result == nil || len(result.Candidates) == 0 {
		return ""
	}
	candidate := result.Candidates[0]
	if candidate.Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range candidate.Content.Parts {
		if part == nil || part.Thought || part.Text == "" {
			continue
		}
		b.WriteString(part.Text)
	}
	return strings.TrimSpace(b.String())
}
