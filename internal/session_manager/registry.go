// Package session_manager keeps the set of live WhatsApp sessions and runs each
// one through its lifecycle: linking, readiness, reconnection, retries and teardown.
package session_manager //nolint:revive // var-naming: using underscores for domain clarity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/lewisedginton/whatsapp_session_gateway/internal/config_store"
	"github.com/lewisedginton/whatsapp_session_gateway/internal/connectors"
	"github.com/lewisedginton/whatsapp_session_gateway/pkg/logger"
	"github.com/lewisedginton/whatsapp_session_gateway/pkg/metrics"
	"github.com/lewisedginton/whatsapp_session_gateway/pkg/prefixed_uuid"
)

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidSessionID reports whether id can be used as a session id.
func ValidSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}

// Registry maps session ids to live sessions.
type Registry struct {
	factory connectors.Factory
	store   ConfigStore
	policy  Policy
	metrics *metrics.Metrics
	log     logger.Logger

	mu       sync.RWMutex
	handler  MessageHandler
	sessions map[string]*record
	// closing holds sessions that left the map but are still tearing down.
	closing  map[string]*record
	restored atomic.Bool
}

// New creates a Registry.
func New(config Config) (*Registry, error) {
	if config.Factory == nil {
		return nil, fmt.Errorf("connector factory is required")
	}
	if config.Store == nil {
		return nil, fmt.Errorf("config store is required")
	}
	if config.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	r := &Registry{
		factory:  config.Factory,
		store:    config.Store,
		handler:  config.Handler,
		policy:   config.Policy.withDefaults(),
		metrics:  config.Metrics,
		log:      config.Logger.WithFields(logger.ComponentField("session_registry")),
		sessions: make(map[string]*record),
		closing:  make(map[string]*record),
	}
	if config.Metrics != nil {
		config.Metrics.RegisterSessionStates(r.StateCounts)
	}
	return r, nil
}

// SetHandler installs the inbound message handler. Call it before starting sessions.
func (r *Registry) SetHandler(h MessageHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handler = h
}

func (r *Registry) messageHandler() MessageHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handler
}

// Policy returns the effective lifecycle policy.
func (r *Registry) Policy() Policy {
	return r.policy
}

// Create registers a session and starts its controller. An empty id is generated.
// When the id is already registered, the existing id is returned with ErrAlreadyExists.
func (r *Registry) Create(ctx context.Context, id string, patch ConfigPatch) (string, error) {
	if id == "" {
		id = prefixed_uuid.New(prefixed_uuid.SessionPrefix).String()
	} else if !ValidSessionID(id) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSessionID, id)
	}

	cfg := r.store.Defaults(id)
	patch.apply(&cfg)

	if _, err := r.register(ctx, id, cfg); err != nil {
		return id, err
	}
	if err := r.store.Save(ctx, cfg); err != nil {
		r.log.Error("Failed to persist session config", logger.SessionIDField(id), logger.ErrorField(err))
	}
	r.log.Info("Session created", logger.SessionIDField(id))
	return id, nil
}

// register inserts a record and starts its controller, waiting for any previous
// session with the same id to finish tearing down.
func (r *Registry) register(ctx context.Context, id string, cfg config_store.SessionConfig) (*record, error) {
	for {
		r.mu.Lock()
		if _, ok := r.sessions[id]; ok {
			r.mu.Unlock()
			return nil, ErrAlreadyExists
		}
		if prev, ok := r.closing[id]; ok {
			r.mu.Unlock()
			if err := prev.ctrl.wait(ctx); err != nil {
				return nil, err
			}
			continue
		}

		rec := newRecord(id, cfg, r.policy.MaxInitAttempts)
		rec.ctrl = newController(r, rec)
		r.sessions[id] = rec
		rec.ctrl.start()
		r.mu.Unlock()
		return rec, nil
	}
}

// Get returns the summary of a session.
func (r *Registry) Get(id string) (Summary, error) {
	rec, ok := r.lookup(id)
	if !ok {
		return Summary{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return rec.summary(), nil
}

// List returns every registered session ordered by id.
func (r *Registry) List() []Summary {
	r.mu.RLock()
	recs := make([]*record, 0, len(r.sessions))
	for _, rec := range r.sessions {
		recs = append(recs, rec)
	}
	r.mu.RUnlock()

	out := make([]Summary, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

// Remove terminates a session: logout, connector close, credential purge and
// config delete. Removing an unknown id is a no-op.
func (r *Registry) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	rec, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
		r.closing[id] = rec
	}
	r.mu.Unlock()
	if !ok {
		return nil
	}

	r.log.Info("Terminating session", logger.SessionIDField(id))
	rec.ctrl.stop(stopTerminate)
	return rec.ctrl.wait(ctx)
}

// RestoreAll starts a controller for every session with persisted credentials.
// Per-session problems are logged and skipped.
func (r *Registry) RestoreAll(ctx context.Context) error {
	ids, err := r.factory.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to enumerate persisted sessions: %w", err)
	}

	restored := 0
	for _, id := range ids {
		log := r.log.WithFields(logger.SessionIDField(id))
		if !ValidSessionID(id) {
			log.Warn("Skipping persisted session with invalid id")
			continue
		}

		cfg, err := r.store.Load(ctx, id)
		switch {
		case errors.Is(err, config_store.ErrConfigNotFound):
			cfg = r.store.Defaults(id)
		case err != nil:
			log.Error("Failed to load session config, skipping", logger.ErrorField(err))
			continue
		}

		if _, err := r.register(ctx, id, cfg); err != nil {
			if errors.Is(err, ErrAlreadyExists) {
				log.Debug("Session already running")
			} else {
				log.Error("Failed to restore session", logger.ErrorField(err))
			}
			continue
		}
		restored++
	}
	r.discardOrphanConfigs(ctx, ids)

	r.restored.Store(true)
	r.log.Info("Restored persisted sessions",
		logger.IntField("restored", restored),
		logger.IntField("found", len(ids)))
	return nil
}

// discardOrphanConfigs deletes stored configs of sessions that have no
// credentials and are not running. Such a session never linked, so it cannot
// be restored and its record would otherwise stay behind forever.
func (r *Registry) discardOrphanConfigs(ctx context.Context, persisted []string) {
	stored, err := r.store.List(ctx)
	if err != nil {
		r.log.Warn("Failed to list stored session configs", logger.ErrorField(err))
		return
	}

	keep := make(map[string]bool, len(persisted))
	for _, id := range persisted {
		keep[id] = true
	}
	for _, id := range stored {
		if keep[id] || r.active(id) {
			continue
		}
		if err := r.store.Delete(ctx, id); err != nil {
			r.log.Warn("Failed to delete orphaned session config",
				logger.SessionIDField(id), logger.ErrorField(err))
			continue
		}
		r.log.Info("Deleted config of session without credentials", logger.SessionIDField(id))
	}
}

// active reports whether id is registered or still tearing down.
func (r *Registry) active(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, running := r.sessions[id]
	_, closing := r.closing[id]
	return running || closing
}

// Restored reports whether RestoreAll has completed.
func (r *Registry) Restored() bool {
	return r.restored.Load()
}

// UpdateConfig applies patch to a session's config and persists it. Persistence
// errors are logged.
func (r *Registry) UpdateConfig(ctx context.Context, id string, patch ConfigPatch) (Summary, error) {
	rec, ok := r.lookup(id)
	if !ok {
		return Summary{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	var cfg config_store.SessionConfig
	s := rec.update(func(rr *record) {
		patch.apply(&rr.cfg)
		cfg = rr.cfg
	})
	if err := r.store.Save(ctx, cfg); err != nil {
		r.log.Error("Failed to persist session config", logger.SessionIDField(id), logger.ErrorField(err))
	}
	return s, nil
}

// SessionConfig returns the in-memory config of a registered session.
func (r *Registry) SessionConfig(id string) (config_store.SessionConfig, bool) {
	rec, ok := r.lookup(id)
	if !ok {
		return config_store.SessionConfig{}, false
	}
	return rec.config(), true
}

// ReadyConnector returns the connector of a Ready session.
func (r *Registry) ReadyConnector(id string) (connectors.Connector, error) {
	rec, ok := r.lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	rec.mu.Lock()
	state, conn := rec.state, rec.conn
	rec.mu.Unlock()

	if state != StateReady || conn == nil {
		return nil, fmt.Errorf("%w: %s is %s", ErrSessionNotReady, id, state)
	}
	return conn, nil
}

// Watch streams a session's summary: the current one first, then each change.
// The channel closes when the session terminates or cancel is called.
func (r *Registry) Watch(id string) (<-chan Summary, func(), error) {
	rec, ok := r.lookup(id)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	ch, cancel, ok := rec.watch()
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return ch, cancel, nil
}

// StateCounts returns the number of registered sessions in each state.
func (r *Registry) StateCounts() map[string]int {
	counts := make(map[string]int, len(AllStates))
	for _, s := range AllStates {
		counts[string(s)] = 0
	}
	for _, s := range r.List() {
		counts[string(s.State)]++
	}
	return counts
}

// Shutdown stops every controller, keeping credentials and configs so the
// sessions can be restored on the next start.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	recs := make([]*record, 0, len(r.sessions)+len(r.closing))
	for _, rec := range r.closing {
		recs = append(recs, rec)
	}
	for id, rec := range r.sessions {
		r.closing[id] = rec
		recs = append(recs, rec)
	}
	r.sessions = make(map[string]*record)
	r.mu.Unlock()

	for _, rec := range recs {
		rec.ctrl.stop(stopShutdown)
	}

	var (
		wg       sync.WaitGroup
		errMu    sync.Mutex
		firstErr error
	)
	for _, rec := range recs {
		wg.Add(1)
		go func(rec *record) {
			defer wg.Done()
			if err := rec.ctrl.wait(ctx); err != nil {
				errMu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				errMu.Unlock()
			}
		}(rec)
	}
	wg.Wait()

	r.log.Info("Session registry shut down", logger.IntField("sessions", len(recs)))
	return firstErr
}

func (r *Registry) lookup(id string) (*record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.sessions[id]
	return rec, ok
}

// detach removes a failed session from the map while its teardown runs.
func (r *Registry) detach(rec *record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[rec.id] == rec {
		delete(r.sessions, rec.id)
		r.closing[rec.id] = rec
	}
}

// release forgets a session whose controller has finished.
func (r *Registry) release(rec *record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closing[rec.id] == rec {
		delete(r.closing, rec.id)
	}
	if r.sessions[rec.id] == rec {
		delete(r.sessions, rec.id)
	}
}
