// Package dispatch routes inbound messages of a Ready session to the text or voice
// responder and sends the reply back through the session's connector.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lewisedginton/whatsapp_session_gateway/internal/config_store"
	"github.com/lewisedginton/whatsapp_session_gateway/internal/connectors"
	"github.com/lewisedginton/whatsapp_session_gateway/pkg/logger"
	"github.com/lewisedginton/whatsapp_session_gateway/pkg/metrics"
)

var (
	// ErrCompletion wraps a failed text completion. The fallback text is sent instead.
	ErrCompletion = errors.New("completion failed")
	// ErrTranscode wraps a failed audio conversion. The message is dropped.
	ErrTranscode = errors.New("audio transcode failed")
	// ErrTranscription wraps a failed transcription. The message is dropped.
	ErrTranscription = errors.New("transcription failed")
)

// Defaults applied by New when a Config field is zero.
const (
	DefaultFallbackText      = "Sorry, I couldn't process your message right now. Please try again in a moment."
	DefaultCleanupDelay      = 30 * time.Second
	DefaultCompletionTimeout = 60 * time.Second
)

// Kind classifies an inbound message.
type Kind string

const (
	KindText  Kind = "text"
	KindVoice Kind = "voice"
	KindOther Kind = "other"
)

// Classify returns the route a message takes. Voice notes win over any caption text.
func Classify(msg connectors.Message) Kind {
	switch {
	case msg.Voice:
		return KindVoice
	case strings.TrimSpace(msg.Body) != "":
		return KindText
	default:
		return KindOther
	}
}

// Completer produces a reply to a text message under a system instruction.
type Completer interface {
	Complete(ctx context.Context, text, instruction string) (string, error)
}

// Transcriber produces a reply to the audio file at audioPath under a system instruction.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath, instruction string) (string, error)
}

// Transcoder converts the audio file at src to MP3 at dst.
type Transcoder interface {
	Convert(ctx context.Context, src, dst string) error
}

// ConfigSource resolves the current config of a session.
type ConfigSource interface {
	SessionConfig(id string) (config_store.SessionConfig, bool)
}

// Config holds the dispatcher's collaborators and settings.
type Config struct {
	Configs     ConfigSource
	Completer   Completer
	Transcriber Transcriber
	Transcoder  Transcoder
	Metrics     *metrics.Metrics
	Logger      logger.Logger

	FallbackText      string
	TempDir           string
	CleanupDelay      time.Duration
	CompletionTimeout time.Duration
	// MaxAudioBytes skips voice notes whose announced size exceeds it. Zero disables the check.
	MaxAudioBytes int64
}

// Dispatcher handles inbound messages. It is safe for concurrent use by many sessions.
type Dispatcher struct {
	configs     ConfigSource
	completer   Completer
	transcriber Transcriber
	transcoder  Transcoder
	metrics     *metrics.Metrics
	log         logger.Logger

	fallbackText      string
	tempDir           string
	cleanupDelay      time.Duration
	completionTimeout time.Duration
	maxAudioBytes     int64

	seq atomic.Uint64

	cleanupMu  sync.Mutex
	cleanupSeq uint64
	pending    map[uint64][]string
}

// New creates a Dispatcher. The temp directory is created when missing.
func New(config Config) (*Dispatcher, error) {
	if config.Configs == nil {
		return nil, fmt.Errorf("config source is required")
	}
	if config.Completer == nil {
		return nil, fmt.Errorf("completer is required")
	}
	if config.Transcriber == nil {
		return nil, fmt.Errorf("transcriber is required")
	}
	if config.Transcoder == nil {
		return nil, fmt.Errorf("transcoder is required")
	}
	if config.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	d := &Dispatcher{
		configs:           config.Configs,
		completer:         config.Completer,
		transcriber:       config.Transcriber,
		transcoder:        config.Transcoder,
		metrics:           config.Metrics,
		log:               config.Logger.WithFields(logger.ComponentField("dispatch")),
		fallbackText:      config.FallbackText,
		tempDir:           config.TempDir,
		cleanupDelay:      config.CleanupDelay,
		completionTimeout: config.CompletionTimeout,
		maxAudioBytes:     config.MaxAudioBytes,
		pending:           make(map[uint64][]string),
	}
	if d.fallbackText == "" {
		d.fallbackText = DefaultFallbackText
	}
	if d.tempDir == "" {
		d.tempDir = filepath.Join(os.TempDir(), "whatsapp_session_gateway")
	}
	if d.cleanupDelay <= 0 {
		d.cleanupDelay = DefaultCleanupDelay
	}
	if d.completionTimeout <= 0 {
		d.completionTimeout = DefaultCompletionTimeout
	}
	if err := os.MkdirAll(d.tempDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	return d, nil
}

// Handle runs one message through the pipeline. Failures are logged and never returned.
func (d *Dispatcher) Handle(ctx context.Context, sessionID string, conn connectors.Connector, msg connectors.Message) {
	log := d.log.WithFields(
		logger.SessionIDField(sessionID),
		logger.ChatIDField(msg.ChatID),
		logger.StringField("message_id", msg.ID),
	)
	kind := Classify(msg)

	cfg, ok := d.configs.SessionConfig(sessionID)
	if !ok {
		log.Warn("No config for session, ignoring message")
		d.metrics.MessageHandled(string(kind), "no_config")
		return
	}
	if msg.FromMe || msg.IsStatus {
		d.metrics.MessageHandled(string(kind), "ignored")
		return
	}
	if msg.IsGroup && !cfg.AllowGroupReplies {
		d.metrics.MessageHandled(string(kind), "group_disabled")
		return
	}

	switch kind {
	case KindText:
		d.metrics.MessageHandled(string(kind), d.handleText(ctx, log, conn, msg, cfg))
	case KindVoice:
		d.metrics.MessageHandled(string(kind), d.handleVoice(ctx, log, sessionID, conn, msg, cfg))
	default:
		d.metrics.MessageHandled(string(kind), "ignored")
	}
}

func (d *Dispatcher) handleText(ctx context.Context, log logger.Logger, conn connectors.Connector, msg connectors.Message, cfg config_store.SessionConfig) string {
	outcome := "replied"
	reply, err := d.complete(ctx, msg.Body, cfg.SystemInstruction)
	if err != nil {
		log.Warn("Completion failed, sending fallback", logger.ErrorField(err))
		reply = d.fallbackText
		outcome = "fallback"
	}

	if err := conn.SendText(ctx, msg.ChatID, reply); err != nil {
		log.Error("Failed to send reply", logger.ErrorField(err))
		return "send_failed"
	}
	log.Debug("Replied to text message", logger.StringField("outcome", outcome))
	return outcome
}

func (d *Dispatcher) complete(ctx context.Context, text, instruction string) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, d.completionTimeout)
	defer cancel()

	reply, err := d.completer.Complete(cctx, text, instruction)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCompletion, err)
	}
	if strings.TrimSpace(reply) == "" {
		return "", fmt.Errorf("%w: empty reply", ErrCompletion)
	}
	return reply, nil
}

func (d *Dispatcher) handleVoice(ctx context.Context, log logger.Logger, sessionID string, conn connectors.Connector, msg connectors.Message, cfg config_store.SessionConfig) string {
	if d.maxAudioBytes > 0 && msg.MediaSize > uint64(d.maxAudioBytes) {
		log.Warn("Voice note too large, ignoring",
			logger.Int64Field("size", int64(msg.MediaSize)),
			logger.Int64Field("limit", d.maxAudioBytes))
		return "too_large"
	}

	base := filepath.Join(d.tempDir, fmt.Sprintf("voice_%s_%d_%d", sessionID, time.Now().UnixNano(), d.seq.Add(1)))
	oggPath, mp3Path := base+".ogg", base+".mp3"
	// The delay runs from the reply or failure, not from when the note arrived.
	defer d.armCleanup(d.registerCleanup(oggPath, mp3Path))

	if err := conn.DownloadMedia(ctx, msg, oggPath); err != nil {
		log.Error("Failed to download voice note", logger.ErrorField(err))
		return "download_failed"
	}

	if err := d.transcoder.Convert(ctx, oggPath, mp3Path); err != nil {
		log.Error("Dropping voice note", logger.ErrorField(fmt.Errorf("%w: %w", ErrTranscode, err)))
		return "transcode_failed"
	}

	cctx, cancel := context.WithTimeout(ctx, d.completionTimeout)
	reply, err := d.transcriber.Transcribe(cctx, mp3Path, cfg.SystemInstruction)
	cancel()
	if err == nil && strings.TrimSpace(reply) == "" {
		err = errors.New("empty reply")
	}
	if err != nil {
		log.Error("Dropping voice note", logger.ErrorField(fmt.Errorf("%w: %w", ErrTranscription, err)))
		return "transcription_failed"
	}

	if err := conn.SendText(ctx, msg.ChatID, reply); err != nil {
		log.Error("Failed to send reply", logger.ErrorField(err))
		return "send_failed"
	}
	log.Debug("Replied to voice note")
	return "replied"
}

// registerCleanup records paths so Close can remove them before any timer is armed.
func (d *Dispatcher) registerCleanup(paths ...string) uint64 {
	d.cleanupMu.Lock()
	defer d.cleanupMu.Unlock()
	d.cleanupSeq++
	d.pending[d.cleanupSeq] = paths
	return d.cleanupSeq
}

// armCleanup removes the registered paths once the cleanup delay has passed.
func (d *Dispatcher) armCleanup(id uint64) {
	time.AfterFunc(d.cleanupDelay, func() {
		d.cleanupMu.Lock()
		paths, ok := d.pending[id]
		delete(d.pending, id)
		d.cleanupMu.Unlock()
		if ok {
			d.removeFiles(paths)
		}
	})
}

func (d *Dispatcher) removeFiles(paths []string) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			d.log.Warn("Failed to remove temp file", logger.StringField("path", p), logger.ErrorField(err))
		}
	}
}

// Close removes every temp file still waiting for its cleanup timer.
func (d *Dispatcher) Close() {
	d.cleanupMu.Lock()
	pending := d.pending
	d.pending = make(map[uint64][]string)
	d.cleanupMu.Unlock()

	for _, paths := range pending {
		d.removeFiles(paths)
	}
}
