// Package server wires the gateway's components together and serves the HTTP control surface.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/hashicorp/go-multierror"

	"github.com/lewisedginton/whatsapp_session_gateway/internal/broadcast"
	appconfig "github.com/lewisedginton/whatsapp_session_gateway/internal/config"
	"github.com/lewisedginton/whatsapp_session_gateway/internal/config_store"
	"github.com/lewisedginton/whatsapp_session_gateway/internal/connectors"
	"github.com/lewisedginton/whatsapp_session_gateway/internal/connectors/whatsapp"
	"github.com/lewisedginton/whatsapp_session_gateway/internal/dispatch"
	"github.com/lewisedginton/whatsapp_session_gateway/internal/middleware"
	"github.com/lewisedginton/whatsapp_session_gateway/internal/models/anthropic"
	"github.com/lewisedginton/whatsapp_session_gateway/internal/models/gemini"
	"github.com/lewisedginton/whatsapp_session_gateway/internal/models/openai"
	"github.com/lewisedginton/whatsapp_session_gateway/internal/monitoring"
	"github.com/lewisedginton/whatsapp_session_gateway/internal/prompt_manager"
	"github.com/lewisedginton/whatsapp_session_gateway/internal/session_manager"
	"github.com/lewisedginton/whatsapp_session_gateway/internal/storage_manager"
	"github.com/lewisedginton/whatsapp_session_gateway/internal/transcoder"
	"github.com/lewisedginton/whatsapp_session_gateway/pkg/logger"
	"github.com/lewisedginton/whatsapp_session_gateway/pkg/metrics"
	"github.com/lewisedginton/whatsapp_session_gateway/pkg/utils"
)

// shutdownTimeout bounds the whole graceful shutdown sequence.
const shutdownTimeout = 30 * time.Second

// Server encapsulates the gateway components and their lifecycle.
type Server struct {
	cfg         *appconfig.AppConfig
	log         logger.Logger
	metrics     *metrics.Metrics
	storage     *storage_manager.StorageManager
	store       *config_store.Store
	registry    *session_manager.Registry
	dispatcher  *dispatch.Dispatcher
	broadcaster *broadcast.Engine
	health      *monitoring.HealthMonitor
	httpServer  *http.Server
}

// Option overrides a collaborator that New would otherwise build from configuration.
type Option func(*options)

type options struct {
	factory     connectors.Factory
	completer   dispatch.Completer
	transcriber dispatch.Transcriber
	transcoder  dispatch.Transcoder
}

// WithConnectorFactory replaces the WhatsApp connector factory.
func WithConnectorFactory(f connectors.Factory) Option {
	return func(o *options) { o.factory = f }
}

// WithCompleter replaces the configured LLM_PROVIDER model.
func WithCompleter(c dispatch.Completer) Option {
	return func(o *options) { o.completer = c }
}

// WithTranscriber replaces the configured TRANSCRIPTION_PROVIDER model.
func WithTranscriber(t dispatch.Transcriber) Option {
	return func(o *options) { o.transcriber = t }
}

// WithTranscoder replaces the ffmpeg transcoder.
func WithTranscoder(t dispatch.Transcoder) Option {
	return func(o *options) { o.transcoder = t }
}

// New creates a Server with all components initialized. Sessions are not
// restored until Run.
//
//nolint:revive // cognitive-complexity: Server initialization requires sequential component setup
func New(ctx context.Context, cfg *appconfig.AppConfig, log logger.Logger, opts ...Option) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if log == nil {
		return nil, fmt.Errorf("logger is required")
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	s := &Server{
		cfg:     cfg,
		log:     log,
		metrics: metrics.NewMetrics(cfg.Metrics.EnableHTTPMetrics, log),
	}

	var err error
	s.storage, err = storage_manager.FromAppConfig(ctx, cfg.Storage, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage manager: %w", err)
	}

	// Prompts ship with the deployment, so they are read from local disk.
	prompts := prompt_manager.New(storage_manager.NewLocalFileProvider(cfg.Session.PromptsDir))
	defaultInstruction := prompts.DefaultInstruction(ctx, cfg.Session.DefaultInstruction, log)

	s.store, err = config_store.New(s.storage.GetProvider(config_store.Namespace), defaultInstruction, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create config store: %w", err)
	}

	if o.factory == nil {
		o.factory, err = whatsapp.NewFactory(whatsapp.FactoryConfig{
			SessionsDir:  cfg.WhatsApp.SessionsDir,
			EventBuffer:  cfg.WhatsApp.EventBuffer,
			HistoryLimit: cfg.WhatsApp.HistoryLimit,
			LogLevel:     cfg.WhatsApp.LogLevel,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create WhatsApp connector factory: %w", err)
		}
	}

	s.registry, err = session_manager.New(session_manager.Config{
		Factory: o.factory,
		Store:   s.store,
		Policy: session_manager.Policy{
			MaxInitAttempts: cfg.Session.MaxInitAttempts,
			RetryDelay:      cfg.Session.RetryDelay,
			ReconnectDelay:  cfg.Session.ReconnectDelay,
			InitTimeout:     cfg.Session.InitTimeout,
			LinkTimeout:     cfg.Session.LinkTimeout,
		},
		Metrics: s.metrics,
		Logger:  log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session registry: %w", err)
	}

	if o.completer == nil {
		o.completer, err = s.createCompleter(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create LLM model: %w", err)
		}
	}
	if o.transcriber == nil {
		o.transcriber, err = s.createTranscriber(ctx, o.completer)
		if err != nil {
			return nil, fmt.Errorf("failed to create transcription model: %w", err)
		}
	}
	log.Info("Models ready",
		logger.StringField("completion_model", modelName(o.completer)),
		logger.StringField("transcription_model", modelName(o.transcriber)))

	if o.transcoder == nil {
		o.transcoder, err = transcoder.New(cfg.Transcoder.FFmpegPath, cfg.Transcoder.Timeout, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create transcoder: %w", err)
		}
	}

	s.dispatcher, err = dispatch.New(dispatch.Config{
		Configs:           s.registry,
		Completer:         o.completer,
		Transcriber:       o.transcriber,
		Transcoder:        o.transcoder,
		Metrics:           s.metrics,
		Logger:            log,
		FallbackText:      cfg.Dispatch.FallbackText,
		TempDir:           cfg.Dispatch.TempDir,
		CleanupDelay:      cfg.Dispatch.TempCleanupDelay,
		CompletionTimeout: cfg.Dispatch.CompletionTimeout,
		MaxAudioBytes:     cfg.Dispatch.TranscriptionLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatcher: %w", err)
	}
	recovery := middleware.DefaultRecoveryConfig()
	recovery.Logger = log
	s.registry.SetHandler(middleware.ChainMiddleware(
		middleware.Recovery(recovery),
		middleware.MessageLogging(log),
	)(s.dispatcher))

	s.broadcaster, err = broadcast.New(broadcast.Config{
		Sessions:     s.registry,
		SendInterval: cfg.Broadcast.SendInterval,
		Metrics:      s.metrics,
		Logger:       log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create broadcast engine: %w", err)
	}

	healthCfg := monitoring.Config{
		Logger:   log,
		Version:  cfg.Version,
		Sessions: s.registry,
		Storage:  s.storage,
	}
	if checker, ok := o.transcoder.(interface{ Check() error }); ok {
		healthCfg.Transcoder = checker.Check
	}
	s.health = monitoring.NewHealthMonitor(healthCfg)

	s.httpServer = &http.Server{
		Addr:              cfg.HTTP.Addr(),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.HTTP.ReadTimeout(),
		WriteTimeout:      cfg.HTTP.WriteTimeout(),
		IdleTimeout:       cfg.HTTP.IdleTimeout(),
		MaxHeaderBytes:    cfg.HTTP.MaxHeaderBytes,
	}

	return s, nil
}

// Registry exposes the session registry.
func (s *Server) Registry() *session_manager.Registry {
	return s.registry
}

// Run serves HTTP, restores persisted sessions and blocks until ctx is
// cancelled or a component fails. It always shuts down before returning.
func (s *Server) Run(ctx context.Context) error {
	httpErrs := make(chan error, 1)
	go func() {
		defer close(httpErrs)
		s.log.Info("HTTP server listening", logger.StringField("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErrs <- fmt.Errorf("http server: %w", err)
		}
	}()

	restoreErrs := make(chan error, 1)
	go func() {
		defer close(restoreErrs)
		if err := s.registry.RestoreAll(ctx); err != nil && ctx.Err() == nil {
			restoreErrs <- fmt.Errorf("session restore: %w", err)
		}
	}()

	// fatal yields nil only once every component stopped without error.
	fatal := make(chan error, 1)
	go func() {
		fatal <- utils.FirstError(utils.MergeErrorChans(httpErrs, restoreErrs))
	}()

	var runErr error
	select {
	case <-ctx.Done():
		s.log.Info("Shutdown requested")
	case err := <-fatal:
		if err != nil {
			runErr = err
			s.log.Error("Fatal server error occurred", logger.ErrorField(err))
		} else {
			s.log.Info("HTTP server stopped")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		runErr = multierror.Append(runErr, err)
	}
	return runErr
}

// Shutdown stops accepting traffic, stops every session without logging it
// out and releases resources.
func (s *Server) Shutdown(ctx context.Context) error {
	var result error
	s.health.MarkShuttingDown()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("http shutdown: %w", err))
	}
	if err := s.registry.Shutdown(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("session shutdown: %w", err))
	}
	s.dispatcher.Close()
	if err := s.storage.Close(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("storage close: %w", err))
	}

	if result == nil {
		s.log.Info("Server stopped")
	}
	return result
}

// createCompleter creates the model answering text, based on the configured provider.
func (s *Server) createCompleter(ctx context.Context) (dispatch.Completer, error) {
	provider := strings.ToLower(s.cfg.LLM.Provider)

	switch provider {
	case appconfig.ProviderClaude:
		s.log.Info("Initializing Claude model", logger.StringField("model", s.cfg.Anthropic.Model))
		var opts []option.RequestOption
		if s.cfg.Anthropic.Timeout > 0 {
			opts = append(opts, option.WithRequestTimeout(s.cfg.Anthropic.Timeout))
		}
		return anthropic.NewClaudeModel(s.cfg.Anthropic.APIKey, s.cfg.Anthropic.Model, s.cfg.Anthropic.MaxTokens, s.log, opts...)

	case appconfig.ProviderGemini:
		s.log.Info("Initializing Gemini model", logger.StringField("model", s.cfg.Gemini.Model))
		return s.geminiModel(ctx)

	case appconfig.ProviderOpenAI:
		s.log.Info("Initializing OpenAI model", logger.StringField("model", s.cfg.OpenAI.Model))
		return s.openAIModel()

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", provider)
	}
}

// createTranscriber creates the model answering voice notes. It reuses the
// completer when both settings name the same provider.
func (s *Server) createTranscriber(ctx context.Context, completer dispatch.Completer) (dispatch.Transcriber, error) {
	if t, ok := completer.(dispatch.Transcriber); ok &&
		strings.EqualFold(s.cfg.LLM.Provider, s.cfg.LLM.TranscriptionProvider) {
		return t, nil
	}

	provider := strings.ToLower(s.cfg.LLM.TranscriptionProvider)
	s.log.Info("Initializing transcription model", logger.StringField("provider", provider))

	switch provider {
	case appconfig.ProviderGemini:
		return s.geminiModel(ctx)
	case appconfig.ProviderOpenAI:
		return s.openAIModel()
	default:
		return nil, fmt.Errorf("unsupported transcription provider: %s", provider)
	}
}

// modelName reports the model identifier of clients that expose one.
func modelName(m interface{}) string {
	if named, ok := m.(interface{ Name() string }); ok {
		return named.Name()
	}
	return "custom"
}

func (s *Server) geminiModel(ctx context.Context) (*gemini.Model, error) {
	return gemini.New(ctx, gemini.Config{
		APIKey:      s.cfg.Gemini.APIKey,
		Model:       s.cfg.Gemini.Model,
		VoicePrompt: s.cfg.Dispatch.VoicePrompt,
	}, s.log)
}

func (s *Server) openAIModel() (*openai.Model, error) {
	return openai.New(openai.Config{
		APIKey:             s.cfg.OpenAI.APIKey,
		Model:              s.cfg.OpenAI.Model,
		TranscriptionModel: s.cfg.OpenAI.TranscriptionModel,
		BaseURL:            s.cfg.OpenAI.BaseURL,
		VoicePrompt:        s.cfg.Dispatch.VoicePrompt,
	}, s.log)
}
