package session_manager //nolint:revive // var-naming: using underscores for domain clarity

import (
	"sync"
	"time"

	"github.com/lewisedginton/whatsapp_session_gateway/internal/config_store"
	"github.com/lewisedginton/whatsapp_session_gateway/internal/connectors"
)

// record is the registry's entry for one session. The controller goroutine is its
// only writer apart from config updates; mu guards every field below it.
type record struct {
	id          string
	maxAttempts int
	ctrl        *controller

	mu             sync.Mutex
	cfg            config_store.SessionConfig
	state          State
	linkPayload    string
	initAttempts   int
	conn           connectors.Connector
	createdAt      time.Time
	readyAt        time.Time
	lastError      string
	lastTransition time.Time
	watchers       map[chan Summary]struct{}
}

func newRecord(id string, cfg config_store.SessionConfig, maxAttempts int) *record {
	now := time.Now()
	return &record{
		id:             id,
		maxAttempts:    maxAttempts,
		cfg:            cfg,
		state:          StateCreated,
		createdAt:      now,
		lastTransition: now,
		watchers:       make(map[chan Summary]struct{}),
	}
}

func (r *record) summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.summaryLocked()
}

func (r *record) summaryLocked() Summary {
	s := Summary{
		SessionID:       r.id,
		State:           r.state,
		Ready:           r.state == StateReady,
		LinkPayload:     r.linkPayload,
		InitAttempts:    r.initAttempts,
		MaxInitAttempts: r.maxAttempts,
		Config:          r.cfg,
		CreatedAt:       r.createdAt,
		LastError:       r.lastError,
	}
	if !r.readyAt.IsZero() {
		readyAt := r.readyAt
		s.ReadyAt = &readyAt
	}
	return s
}

func (r *record) config() config_store.SessionConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg
}

func (r *record) currentState() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *record) attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.initAttempts
}

// update applies fn under the lock and notifies watchers of the result.
func (r *record) update(fn func(r *record)) Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r)
	s := r.summaryLocked()
	r.publishLocked(s)
	return s
}

// publishLocked hands s to every watcher, replacing any summary the watcher has not read yet.
func (r *record) publishLocked(s Summary) {
	for ch := range r.watchers {
		select {
		case ch <- s:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- s:
		default:
		}
	}
	if s.State == StateTerminated {
		for ch := range r.watchers {
			close(ch)
		}
		r.watchers = nil
	}
}

// watch returns a channel that receives the current summary and every later change.
// The channel is closed when the session terminates or cancel is called.
func (r *record) watch() (<-chan Summary, func(), bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateTerminated || r.watchers == nil {
		return nil, nil, false
	}
	ch := make(chan Summary, 1)
	ch <- r.summaryLocked()
	r.watchers[ch] = struct{}{}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if _, ok := r.watchers[ch]; ok {
				delete(r.watchers, ch)
				close(ch)
			}
		})
	}
	return ch, cancel, true
}
