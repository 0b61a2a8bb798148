// Package openai answers text messages with chat completions and voice notes with
// Whisper transcription followed by a chat completion.
package openai

import (
	"context"
	"fmt"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/lewisedginton/whatsapp_session_gateway/pkg/logger"
)

// Config configures a Model.
type Config struct {
	APIKey             string
	Model              string
	TranscriptionModel string
	// BaseURL overrides the API endpoint, for compatible gateways.
	BaseURL string
	// VoicePrompt is prepended to the transcript of a voice note.
	VoicePrompt string
	MaxTokens   int64
}

// Model talks to the OpenAI API.
type Model struct {
	client             *openai.Client
	modelName          string
	transcriptionModel string
	voicePrompt        string
	maxTokens          int64
	logger             logger.Logger
}

// New creates a new OpenAI model instance.
func New(cfg Config, log logger.Logger, opts ...option.RequestOption) (*Model, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model name is required")
	}
	if cfg.TranscriptionModel == "" {
		cfg.TranscriptionModel = string(openai.AudioModelWhisper1)
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	if log == nil {
		log = logger.NewNopLogger()
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(append(reqOpts, opts...)...)

	return &Model{
		client:             &client,
		modelName:          cfg.Model,
		transcriptionModel: cfg.TranscriptionModel,
		voicePrompt:        cfg.VoicePrompt,
		maxTokens:          cfg.MaxTokens,
		logger: log.WithFields(
			logger.ComponentField("openai_model"),
			logger.StringField("model", cfg.Model),
		),
	}, nil
}

// Name returns the model name.
func (o *Model) Name() string {
	return o.modelName
}

// Complete replies to text under the given system instruction.
func (o *Model) Complete(ctx context.Context, text, instruction string) (string, error) {
	completion, err := o.client.Chat.Completions.New(ctx, buildChatParams(o.modelName, o.maxTokens, text, instruction))
	if err != nil {
		return "", fmt.Errorf("openai API error: %w", err)
	}
	reply, err := extractChoiceText(completion)
	if err != nil {
		return "", err
	}
	return reply, nil
}

// Transcribe transcribes the audio at audioPath and replies to the transcript.
func (o *Model) Transcribe(ctx context.Context, audioPath, instruction string) (string, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return "", fmt.Errorf("failed to open audio: %w", err)
	}
	defer func() { _ = f.Close() }()

	transcription, err := o.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		File:  f,
		Model: openai.AudioModel(o.transcriptionModel),
	})
	if err != nil {
		return "", fmt.Errorf("openai transcription error: %w", err)
	}
	if transcription.Text == "" {
		return "", fmt.Errorf("empty transcription")
	}
	o.logger.Debug("Transcribed voice note", logger.IntField("transcript_length", len(transcription.Text)))

	return o.Complete(ctx, voiceMessage(o.voicePrompt, transcription.Text), instruction)
}
