// Package whatsapp implements connectors.Connector on top of whatsmeow, keeping
// one sqlite device store per session.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"

	"github.com/lewisedginton/whatsapp_session_gateway/internal/connectors"
	"github.com/lewisedginton/whatsapp_session_gateway/pkg/logger"
)

var (
	errClosed         = errors.New("connector closed")
	errNotInitialized = errors.New("connector not initialized")
)

// Client is the whatsmeow connector for one session.
type Client struct {
	sessionID string
	dbPath    string
	log       logger.Logger
	wa        *waLogger
	events    chan connectors.Event
	history   *history

	// ctx lives as long as the connector; the link channel and event delivery use it.
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	container *sqlstore.Container
	client    *whatsmeow.Client
	closed    bool
}

var _ connectors.Connector = (*Client)(nil)

func newClient(sessionID, dbPath string, buffer, historyLimit int, log logger.Logger, waLevel logger.Level) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	log = log.WithFields(logger.ComponentField("whatsapp"), logger.SessionIDField(sessionID))
	return &Client{
		sessionID: sessionID,
		dbPath:    dbPath,
		log:       log,
		wa:        newWALogger(log, "whatsmeow", waLevel),
		events:    make(chan connectors.Event, buffer),
		history:   newHistory(historyLimit),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Events implements connectors.Connector.
func (c *Client) Events() <-chan connectors.Event { return c.events }

// emit delivers evt unless the connector is closed first.
func (c *Client) emit(evt connectors.Event) {
	select {
	case c.events <- evt:
	case <-c.ctx.Done():
	}
}

func (c *Client) handleEvent(evt any) {
	out, ok := translate(evt)
	if !ok {
		return
	}
	if out.Kind == connectors.EventMessage {
		c.history.add(*out.Message)
	}
	c.log.Debug("WhatsApp event", logger.StringField("event", out.Kind.String()), logger.StringField("reason", out.Reason))
	c.emit(out)
}

func (c *Client) dsn() string {
	return "file:" + c.dbPath + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}

// Initialize opens the device store and connects. An unlinked device starts the
// link flow and reports challenges as EventLinkChallenge; a linked one reports
// EventAuthenticated straight away.
func (c *Client) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errClosed
	}
	if c.client != nil {
		return fmt.Errorf("connector already initialized")
	}
	if err := os.MkdirAll(filepath.Dir(c.dbPath), 0o700); err != nil {
		return fmt.Errorf("failed to create credential directory: %w", err)
	}

	container, err := sqlstore.New(ctx, "sqlite", c.dsn(), c.wa.Sub("Database"))
	if err != nil {
		return fmt.Errorf("failed to open device store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		_ = container.Close()
		return fmt.Errorf("failed to load device: %w", err)
	}

	cli := whatsmeow.NewClient(device, c.wa.Sub("Client"))
	// reconnect policy belongs to the session controller
	cli.EnableAutoReconnect = false
	cli.AddEventHandler(c.handleEvent)

	if cli.Store.ID == nil {
		qrChan, err := cli.GetQRChannel(c.ctx)
		if err != nil {
			_ = container.Close()
			return fmt.Errorf("failed to open link channel: %w", err)
		}
		go c.watchLink(qrChan)
	} else {
		c.emit(connectors.Event{Kind: connectors.EventAuthenticated})
	}

	if err := cli.Connect(); err != nil {
		_ = container.Close()
		return fmt.Errorf("failed to connect: %w", err)
	}

	c.container, c.client = container, cli
	return nil
}

func (c *Client) watchLink(items <-chan whatsmeow.QRChannelItem) {
	for item := range items {
		evt, ok := translateQR(item.Event, item.Code)
		if !ok {
			continue
		}
		if item.Error != nil {
			evt.Reason += ": " + item.Error.Error()
		}
		c.emit(evt)
	}
}

// ready returns the underlying client once it is connected and logged in.
func (c *Client) ready() (*whatsmeow.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.closed:
		return nil, errClosed
	case c.client == nil:
		return nil, errNotInitialized
	case !c.client.IsConnected() || !c.client.IsLoggedIn():
		return nil, fmt.Errorf("connector not ready")
	}
	return c.client, nil
}

// IsReady implements connectors.Connector.
func (c *Client) IsReady() bool {
	_, err := c.ready()
	return err == nil
}

// Logout unlinks this device. The device store entry is removed by whatsmeow.
func (c *Client) Logout(ctx context.Context) error {
	cli, err := c.ready()
	if err != nil {
		return err
	}
	if err := cli.Logout(ctx); err != nil {
		return fmt.Errorf("logout failed: %w", err)
	}
	return nil
}

// Close disconnects and closes the device store. It is safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.cancel()

	if c.client != nil {
		c.client.Disconnect()
	}
	if c.container != nil {
		if err := c.container.Close(); err != nil {
			return fmt.Errorf("failed to close device store: %w", err)
		}
	}
	return nil
}

// SendText sends a plain text message and records it in the chat history.
func (c *Client) SendText(ctx context.Context, chatID, text string) error {
	cli, err := c.ready()
	if err != nil {
		return err
	}
	jid, err := parseChatID(chatID)
	if err != nil {
		return err
	}

	resp, err := cli.SendMessage(ctx, jid, &waE2E.Message{Conversation: proto.String(text)})
	if err != nil {
		return fmt.Errorf("send to %s failed: %w", jid, err)
	}

	var self string
	if cli.Store.ID != nil {
		self = cli.Store.ID.ToNonAD().String()
	}
	c.history.add(connectors.Message{
		ID:        string(resp.ID),
		ChatID:    jid.String(),
		SenderID:  self,
		Body:      text,
		Timestamp: resp.Timestamp,
		FromMe:    true,
		IsGroup:   jid.Server == types.GroupServer,
	})
	return nil
}

// DownloadMedia decrypts the media attached to msg into destPath.
func (c *Client) DownloadMedia(ctx context.Context, msg connectors.Message, destPath string) error {
	cli, err := c.ready()
	if err != nil {
		return err
	}
	media, ok := msg.Media.(whatsmeow.DownloadableMessage)
	if !ok {
		return fmt.Errorf("message %s has no downloadable media", msg.ID)
	}
	data, err := cli.Download(ctx, media)
	if err != nil {
		return fmt.Errorf("media download failed: %w", err)
	}
	if err := os.WriteFile(destPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write media: %w", err)
	}
	return nil
}

// Contacts returns address-book users and joined groups, sorted by id.
func (c *Client) Contacts(ctx context.Context) ([]connectors.Contact, error) {
	cli, err := c.ready()
	if err != nil {
		return nil, err
	}

	all, err := cli.Store.Contacts.GetAllContacts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read contacts: %w", err)
	}
	out := make([]connectors.Contact, 0, len(all))
	for jid, info := range all {
		if jid.Server != types.DefaultUserServer {
			continue
		}
		out = append(out, connectors.Contact{
			ID:   jid.String(),
			Name: firstNonEmpty(info.FullName, info.PushName, info.BusinessName, info.FirstName),
		})
	}

	groups, err := cli.GetJoinedGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	for _, g := range groups {
		out = append(out, connectors.Contact{ID: g.JID.String(), Name: g.Name, IsGroup: true})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Chats lists chats seen since the connector started plus every joined group.
func (c *Client) Chats(ctx context.Context) ([]connectors.Chat, error) {
	cli, err := c.ready()
	if err != nil {
		return nil, err
	}
	chats := c.history.list()

	groups, err := cli.GetJoinedGroups(ctx)
	if err != nil {
		c.log.Warn("Failed to list groups for chats", logger.ErrorField(err))
		return chats, nil
	}
	index := make(map[string]int, len(chats))
	for i, ch := range chats {
		index[ch.ID] = i
	}
	for _, g := range groups {
		id := g.JID.String()
		if i, ok := index[id]; ok {
			chats[i].Name = g.Name
			continue
		}
		chats = append(chats, connectors.Chat{ID: id, Name: g.Name, IsGroup: true})
	}
	sortChats(chats)
	return chats, nil
}

// ChatMessages returns buffered messages for chatID, oldest first.
func (c *Client) ChatMessages(_ context.Context, chatID string, limit int) ([]connectors.Message, error) {
	if _, err := c.ready(); err != nil {
		return nil, err
	}
	jid, err := parseChatID(chatID)
	if err != nil {
		return nil, err
	}
	return c.history.messages(jid.String(), limit), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
