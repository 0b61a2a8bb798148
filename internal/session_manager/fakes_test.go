package session_manager //nolint:revive // var-naming: using underscores for domain clarity

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lewisedginton/whatsapp_session_gateway/internal/config_store"
	"github.com/lewisedginton/whatsapp_session_gateway/internal/connectors"
	"github.com/lewisedginton/whatsapp_session_gateway/internal/storage_manager"
	"github.com/lewisedginton/whatsapp_session_gateway/pkg/logger"
)

type fakeConnector struct {
	id      string
	attempt int
	events  chan connectors.Event

	initErr error
	onInit  func(c *fakeConnector)

	ready     atomic.Bool
	closed    atomic.Bool
	loggedOut atomic.Bool
}

func newFakeConnector(id string, attempt int) *fakeConnector {
	return &fakeConnector{id: id, attempt: attempt, events: make(chan connectors.Event, 16)}
}

func (c *fakeConnector) emit(evt connectors.Event) {
	if evt.Kind == connectors.EventReady {
		c.ready.Store(true)
	}
	if evt.Kind == connectors.EventDisconnected {
		c.ready.Store(false)
	}
	c.events <- evt
}

func (c *fakeConnector) Initialize(context.Context) error {
	if c.onInit != nil {
		c.onInit(c)
	}
	return c.initErr
}

func (c *fakeConnector) Events() <-chan connectors.Event { return c.events }

func (c *fakeConnector) Logout(context.Context) error {
	c.loggedOut.Store(true)
	return nil
}

func (c *fakeConnector) Close() error {
	c.closed.Store(true)
	return nil
}

func (c *fakeConnector) SendText(context.Context, string, string) error { return nil }

func (c *fakeConnector) DownloadMedia(context.Context, connectors.Message, string) error {
	return errors.New("no media")
}

func (c *fakeConnector) Contacts(context.Context) ([]connectors.Contact, error) { return nil, nil }
func (c *fakeConnector) Chats(context.Context) ([]connectors.Chat, error)       { return nil, nil }

func (c *fakeConnector) ChatMessages(context.Context, string, int) ([]connectors.Message, error) {
	return nil, nil
}

func (c *fakeConnector) IsReady() bool { return c.ready.Load() }

// linkAndReady is the default init script: credentials present, connection up.
func linkAndReady(c *fakeConnector) {
	c.emit(connectors.Event{Kind: connectors.EventAuthenticated})
	c.emit(connectors.Event{Kind: connectors.EventReady})
}

type fakeFactory struct {
	mu        sync.Mutex
	setup     func(attempt int, c *fakeConnector)
	created   map[string][]*fakeConnector
	persisted map[string]bool
	purged    []string
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{
		created:   make(map[string][]*fakeConnector),
		persisted: make(map[string]bool),
	}
}

func (f *fakeFactory) New(sessionID string) (connectors.Connector, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	attempt := len(f.created[sessionID]) + 1
	c := newFakeConnector(sessionID, attempt)
	c.onInit = linkAndReady
	if f.setup != nil {
		f.setup(attempt, c)
	}
	f.created[sessionID] = append(f.created[sessionID], c)
	f.persisted[sessionID] = true
	return c, nil
}

func (f *fakeFactory) List(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.persisted))
	for id := range f.persisted {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (f *fakeFactory) Purge(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.persisted, sessionID)
	f.purged = append(f.purged, sessionID)
	return nil
}

func (f *fakeFactory) all(id string) []*fakeConnector {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeConnector(nil), f.created[id]...)
}

func (f *fakeFactory) latest(id string) *fakeConnector {
	all := f.all(id)
	if len(all) == 0 {
		return nil
	}
	return all[len(all)-1]
}

func (f *fakeFactory) wasPurged(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.purged {
		if p == id {
			return true
		}
	}
	return false
}

type recordedMessage struct {
	sessionID string
	msg       connectors.Message
}

type recordingHandler struct {
	mu       sync.Mutex
	received []recordedMessage
}

func (h *recordingHandler) Handle(_ context.Context, sessionID string, _ connectors.Connector, msg connectors.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.received = append(h.received, recordedMessage{sessionID: sessionID, msg: msg})
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.received)
}

func fastPolicy() Policy {
	return Policy{
		MaxInitAttempts: 3,
		RetryDelay:      10 * time.Millisecond,
		ReconnectDelay:  10 * time.Millisecond,
		InitTimeout:     time.Second,
		LinkTimeout:     time.Second,
	}
}

func newTestStore(t *testing.T, dir string) *config_store.Store {
	t.Helper()
	files := storage_manager.NewWithProvider(storage_manager.NewLocalFileProvider(dir)).GetProvider(config_store.Namespace)
	store, err := config_store.New(files, "", logger.NewNopLogger())
	require.NoError(t, err)
	return store
}

type testEnv struct {
	reg     *Registry
	factory *fakeFactory
	store   *config_store.Store
	handler *recordingHandler
}

func setupTestRegistry(t *testing.T, policy Policy) *testEnv {
	t.Helper()
	env := &testEnv{
		factory: newFakeFactory(),
		store:   newTestStore(t, t.TempDir()),
		handler: &recordingHandler{},
	}
	reg, err := New(Config{
		Factory: env.factory,
		Store:   env.store,
		Handler: env.handler,
		Policy:  policy,
		Logger:  logger.NewNopLogger(),
	})
	require.NoError(t, err)
	env.reg = reg
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = reg.Shutdown(ctx)
	})
	return env
}

func (e *testEnv) stateOf(id string) State {
	s, err := e.reg.Get(id)
	if err != nil {
		return ""
	}
	return s.State
}

func (e *testEnv) listed(id string) bool {
	for _, s := range e.reg.List() {
		if s.SessionID == id {
			return true
		}
	}
	return false
}

func (f *fakeFactory) setSetup(setup func(attempt int, c *fakeConnector)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setup = setup
}
