// Package connectors defines the capability a messaging account exposes to the
// session lifecycle and dispatch layers, independent of the underlying protocol client.
package connectors

import (
	"context"
	"time"
)

// EventKind tags a connector event.
type EventKind int

const (
	// EventLinkChallenge carries a device-link code to be rendered for the user to scan.
	EventLinkChallenge EventKind = iota + 1
	// EventAuthenticated means credentials are present or linking just succeeded.
	EventAuthenticated
	// EventReady means the account is connected and can send.
	EventReady
	// EventDisconnected means an established connection dropped or was replaced.
	EventDisconnected
	// EventInitFailed reports an asynchronous initialisation failure, such as an expired challenge.
	EventInitFailed
	// EventMessage carries an inbound message.
	EventMessage
)

func (k EventKind) String() string {
	switch k {
	case EventLinkChallenge:
		return "link_challenge"
	case EventAuthenticated:
		return "authenticated"
	case EventReady:
		return "ready"
	case EventDisconnected:
		return "disconnected"
	case EventInitFailed:
		return "init_failed"
	case EventMessage:
		return "message"
	default:
		return "unknown"
	}
}

// Event is one tagged notification from a connector.
type Event struct {
	Kind EventKind
	// Code is the opaque link challenge for EventLinkChallenge.
	Code string
	// Reason describes EventDisconnected and EventInitFailed.
	Reason  string
	Message *Message
}

// Message is an inbound or recorded chat message.
type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chatId"`
	SenderID  string    `json:"senderId"`
	PushName  string    `json:"pushName,omitempty"`
	Body      string    `json:"body,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	FromMe    bool      `json:"fromMe"`
	IsGroup   bool      `json:"isGroup"`
	// IsStatus marks status broadcast posts.
	IsStatus bool `json:"isStatus,omitempty"`
	// Voice marks push-to-talk audio notes.
	Voice         bool   `json:"voice,omitempty"`
	MediaMimeType string `json:"mediaMimeType,omitempty"`
	MediaSize     uint64 `json:"mediaSize,omitempty"`

	// Media is the connector's own download handle. Only the connector that produced
	// the message can interpret it.
	Media any `json:"-"`
}

// Contact is an address-book entry or a joined group.
type Contact struct {
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
	IsGroup bool   `json:"isGroup"`
}

// Chat is a conversation the account has seen traffic in or belongs to.
type Chat struct {
	ID            string    `json:"id"`
	Name          string    `json:"name,omitempty"`
	IsGroup       bool      `json:"isGroup"`
	LastMessageAt time.Time `json:"lastMessageAt,omitempty"`
	MessageCount  int       `json:"messageCount"`
}

// Connector is one account's connection. A connector is owned by exactly one
// session and is not reused after Close.
type Connector interface {
	// Initialize starts authentication and connection. Progress is reported on Events.
	Initialize(ctx context.Context) error
	// Events delivers events in order on a bounded channel. It is never closed.
	Events() <-chan Event
	// Logout unlinks the device from the account.
	Logout(ctx context.Context) error
	// Close releases the connection and local handles, keeping credentials on disk.
	Close() error

	SendText(ctx context.Context, chatID, text string) error
	// DownloadMedia writes the media attached to msg to destPath.
	DownloadMedia(ctx context.Context, msg Message, destPath string) error
	Contacts(ctx context.Context) ([]Contact, error)
	Chats(ctx context.Context) ([]Chat, error)
	ChatMessages(ctx context.Context, chatID string, limit int) ([]Message, error)
	IsReady() bool
}

// Factory creates connectors and manages their persisted credentials.
type Factory interface {
	New(sessionID string) (Connector, error)
	// List returns the session ids that have persisted credentials.
	List(ctx context.Context) ([]string, error)
	// Purge deletes the persisted credentials of a session.
	Purge(ctx context.Context, sessionID string) error
}
