package session_manager //nolint:revive // var-naming: using underscores for domain clarity

import (
	"context"
	"time"

	"github.com/lewisedginton/whatsapp_session_gateway/internal/config_store"
	"github.com/lewisedginton/whatsapp_session_gateway/internal/connectors"
	"github.com/lewisedginton/whatsapp_session_gateway/pkg/logger"
	"github.com/lewisedginton/whatsapp_session_gateway/pkg/metrics"
)

// State is a session's lifecycle state.
type State string

const (
	StateCreated       State = "created"
	StateAwaitingLink  State = "awaiting_link"
	StateAuthenticated State = "authenticated"
	StateReady         State = "ready"
	StateDisconnected  State = "disconnected"
	StateRetrying      State = "retrying"
	StateFailed        State = "failed"
	StateTerminated    State = "terminated"
)

// AllStates lists every state in lifecycle order.
var AllStates = []State{
	StateCreated,
	StateAwaitingLink,
	StateAuthenticated,
	StateReady,
	StateDisconnected,
	StateRetrying,
	StateFailed,
	StateTerminated,
}

// initialising reports whether s is a state in which an init failure counts against the budget.
func (s State) initialising() bool {
	return s == StateCreated || s == StateAwaitingLink || s == StateAuthenticated
}

// Summary is a point-in-time view of a session.
type Summary struct {
	SessionID       string                     `json:"sessionId"`
	State           State                      `json:"state"`
	Ready           bool                       `json:"ready"`
	LinkPayload     string                     `json:"linkPayload,omitempty"`
	InitAttempts    int                        `json:"initAttempts"`
	MaxInitAttempts int                        `json:"maxInitAttempts"`
	Config          config_store.SessionConfig `json:"config"`
	CreatedAt       time.Time                  `json:"createdAt"`
	ReadyAt         *time.Time                 `json:"readyAt,omitempty"`
	LastError       string                     `json:"lastError,omitempty"`
}

// ConfigPatch is a partial config update. Nil fields are left unchanged.
type ConfigPatch struct {
	SystemInstruction *string `json:"systemInstruction,omitempty"`
	AllowGroupReplies *bool   `json:"allowGroupReplies,omitempty"`
}

func (p ConfigPatch) apply(cfg *config_store.SessionConfig) {
	if p.SystemInstruction != nil {
		cfg.SystemInstruction = *p.SystemInstruction
	}
	if p.AllowGroupReplies != nil {
		cfg.AllowGroupReplies = *p.AllowGroupReplies
	}
}

// Policy bounds initialisation and reconnection.
type Policy struct {
	MaxInitAttempts int
	RetryDelay      time.Duration
	ReconnectDelay  time.Duration
	InitTimeout     time.Duration
	LinkTimeout     time.Duration
}

// DefaultPolicy returns the stock lifecycle policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxInitAttempts: 3,
		RetryDelay:      10 * time.Second,
		ReconnectDelay:  5 * time.Second,
		InitTimeout:     30 * time.Second,
		LinkTimeout:     3 * time.Minute,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.MaxInitAttempts <= 0 {
		p.MaxInitAttempts = d.MaxInitAttempts
	}
	if p.RetryDelay <= 0 {
		p.RetryDelay = d.RetryDelay
	}
	if p.ReconnectDelay <= 0 {
		p.ReconnectDelay = d.ReconnectDelay
	}
	if p.InitTimeout <= 0 {
		p.InitTimeout = d.InitTimeout
	}
	if p.LinkTimeout <= 0 {
		p.LinkTimeout = d.LinkTimeout
	}
	return p
}

// ConfigStore persists session configs.
type ConfigStore interface {
	Defaults(id string) config_store.SessionConfig
	Save(ctx context.Context, cfg config_store.SessionConfig) error
	Load(ctx context.Context, id string) (config_store.SessionConfig, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]string, error)
}

// MessageHandler receives inbound messages for Ready sessions. Handle runs on the
// session's controller goroutine.
type MessageHandler interface {
	Handle(ctx context.Context, sessionID string, conn connectors.Connector, msg connectors.Message)
}

// MessageHandlerFunc adapts a function to MessageHandler.
type MessageHandlerFunc func(ctx context.Context, sessionID string, conn connectors.Connector, msg connectors.Message)

// Handle calls f.
func (f MessageHandlerFunc) Handle(ctx context.Context, sessionID string, conn connectors.Connector, msg connectors.Message) {
	f(ctx, sessionID, conn, msg)
}

// Config holds the registry's dependencies.
type Config struct {
	Factory connectors.Factory
	Store   ConfigStore
	// Handler may be set after construction with SetHandler, before any session starts.
	Handler MessageHandler
	Policy  Policy
	// Metrics is optional.
	Metrics *metrics.Metrics
	Logger  logger.Logger
}
