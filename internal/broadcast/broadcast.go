// Package broadcast sends one message to every contact of a session whose id
// matches any of a set of fragments.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lewisedginton/whatsapp_session_gateway/internal/connectors"
	"github.com/lewisedginton/whatsapp_session_gateway/internal/session_manager"
	"github.com/lewisedginton/whatsapp_session_gateway/pkg/logger"
	"github.com/lewisedginton/whatsapp_session_gateway/pkg/metrics"
	"github.com/lewisedginton/whatsapp_session_gateway/pkg/prefixed_uuid"
)

var (
	// ErrSend wraps a failed delivery to one recipient.
	ErrSend = errors.New("send failed")
	// ErrEmptyMessage is returned when there is nothing to send.
	ErrEmptyMessage = errors.New("broadcast message is empty")
)

// ConnectorSource resolves the connector of a Ready session.
type ConnectorSource interface {
	ReadyConnector(id string) (connectors.Connector, error)
}

// RecipientResult is the outcome for one recipient.
type RecipientResult struct {
	Recipient string `json:"recipient"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

// Result summarises a broadcast. Recipients are listed in send order.
type Result struct {
	ID         string            `json:"broadcastId,omitempty"`
	Recipients []RecipientResult `json:"recipients"`
	Matched    int               `json:"matched"`
	Sent       int               `json:"sent"`
	Failed     int               `json:"failed"`
	// Invalid lists requested fragments that matched no contact.
	Invalid []string `json:"invalid"`
}

// Config holds the engine's dependencies.
type Config struct {
	Sessions ConnectorSource
	// SendInterval is the pause between consecutive sends.
	SendInterval time.Duration
	Metrics      *metrics.Metrics
	Logger       logger.Logger
}

// Engine runs broadcasts.
type Engine struct {
	sessions ConnectorSource
	interval time.Duration
	metrics  *metrics.Metrics
	log      logger.Logger
}

// New creates an Engine.
func New(config Config) (*Engine, error) {
	if config.Sessions == nil {
		return nil, fmt.Errorf("connector source is required")
	}
	if config.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if config.SendInterval < 0 {
		return nil, fmt.Errorf("send interval cannot be negative")
	}
	return &Engine{
		sessions: config.Sessions,
		interval: config.SendInterval,
		metrics:  config.Metrics,
		log:      config.Logger.WithFields(logger.ComponentField("broadcast")),
	}, nil
}

// Broadcast sends message to every user contact whose id contains one of fragments.
// Individual send failures are recorded in the result and do not stop the loop.
func (e *Engine) Broadcast(ctx context.Context, sessionID, message string, fragments []string) (*Result, error) {
	conn, err := e.sessions.ReadyConnector(sessionID)
	if err != nil {
		return nil, err
	}

	result := &Result{Recipients: []RecipientResult{}, Invalid: []string{}}
	frags := nonBlank(fragments)
	if len(frags) == 0 {
		return result, nil
	}
	if strings.TrimSpace(message) == "" {
		return nil, ErrEmptyMessage
	}

	contacts, err := conn.Contacts(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list contacts: %v", session_manager.ErrSessionNotReady, err)
	}

	recipients, invalid := match(contacts, frags)
	result.ID = prefixed_uuid.New(prefixed_uuid.BroadcastPrefix).String()
	result.Matched = len(recipients)
	result.Invalid = invalid

	log := e.log.WithFields(
		logger.SessionIDField(sessionID),
		logger.StringField("broadcast_id", result.ID),
	)
	log.Info("Starting broadcast",
		logger.IntField("recipients", len(recipients)),
		logger.IntField("invalid_fragments", len(invalid)))

	for i, recipient := range recipients {
		if i > 0 && e.interval > 0 {
			if err := sleep(ctx, e.interval); err != nil {
				e.abort(result, recipients[i:], err)
				break
			}
		}
		if err := ctx.Err(); err != nil {
			e.abort(result, recipients[i:], err)
			break
		}

		if err := conn.SendText(ctx, recipient, message); err != nil {
			result.Recipients = append(result.Recipients, RecipientResult{
				Recipient: recipient,
				Error:     fmt.Errorf("%w: %v", ErrSend, err).Error(),
			})
			result.Failed++
			e.metrics.BroadcastSend(false)
			log.Warn("Broadcast send failed", logger.ChatIDField(recipient), logger.ErrorField(err))
			continue
		}
		result.Recipients = append(result.Recipients, RecipientResult{Recipient: recipient, Success: true})
		result.Sent++
		e.metrics.BroadcastSend(true)
	}

	log.Info("Broadcast finished",
		logger.IntField("sent", result.Sent),
		logger.IntField("failed", result.Failed))
	return result, nil
}

// abort records every remaining recipient as failed with err.
func (e *Engine) abort(result *Result, remaining []string, err error) {
	for _, recipient := range remaining {
		result.Recipients = append(result.Recipients, RecipientResult{Recipient: recipient, Error: err.Error()})
		result.Failed++
		e.metrics.BroadcastSend(false)
	}
}

// match returns the sorted, de-duplicated ids of user contacts containing any
// fragment, and the fragments that matched nothing in request order.
func match(contacts []connectors.Contact, fragments []string) ([]string, []string) {
	users := make([]string, 0, len(contacts))
	seen := make(map[string]bool, len(contacts))
	for _, c := range contacts {
		if c.IsGroup || c.ID == "" || seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		users = append(users, c.ID)
	}
	sort.Strings(users)

	selected := make(map[string]bool)
	invalid := []string{}
	for _, frag := range fragments {
		hits := 0
		for _, id := range users {
			if strings.Contains(id, frag) {
				selected[id] = true
				hits++
			}
		}
		if hits == 0 {
			invalid = append(invalid, frag)
		}
	}

	recipients := make([]string, 0, len(selected))
	for _, id := range users {
		if selected[id] {
			recipients = append(recipients, id)
		}
	}
	return recipients, invalid
}

func nonBlank(fragments []string) []string {
	out := make([]string, 0, len(fragments))
	for _, f := range fragments {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
