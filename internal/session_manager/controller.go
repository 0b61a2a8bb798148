package session_manager //nolint:revive // var-naming: using underscores for domain clarity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lewisedginton/whatsapp_session_gateway/internal/connectors"
	"github.com/lewisedginton/whatsapp_session_gateway/pkg/logger"
)

// teardownTimeout bounds logout, purge and config deletion once a controller stops.
const teardownTimeout = 15 * time.Second

type stopReason int

const (
	stopNone stopReason = iota
	// stopShutdown closes the connector and keeps credentials and config for the next start.
	stopShutdown
	// stopTerminate logs out and deletes everything the session persisted.
	stopTerminate
)

func (r stopReason) String() string {
	switch r {
	case stopShutdown:
		return "shutdown"
	case stopTerminate:
		return "terminate"
	default:
		return "none"
	}
}

type timerPurpose int

const (
	timerNone timerPurpose = iota
	timerRetry
	timerReconnect
	timerLinkDeadline
)

// controller runs one session's state machine on its own goroutine. Everything
// below the stop fields is owned by that goroutine.
type controller struct {
	rec    *record
	reg    *Registry
	policy Policy
	log    logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	stopMu sync.Mutex
	reason stopReason

	conn      connectors.Connector
	timer     *time.Timer
	timerC    <-chan time.Time
	purpose   timerPurpose
	exhausted bool
}

func newController(reg *Registry, rec *record) *controller {
	ctx, cancel := context.WithCancel(context.Background())
	return &controller{
		rec:    rec,
		reg:    reg,
		policy: reg.policy,
		log:    reg.log.WithFields(logger.SessionIDField(rec.id)),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

func (c *controller) start() {
	go c.run()
}

// stop asks the controller to exit. A terminate request is never downgraded to a shutdown.
func (c *controller) stop(reason stopReason) {
	c.stopMu.Lock()
	if reason > c.reason {
		c.reason = reason
	}
	c.stopMu.Unlock()
	c.cancel()
}

// wait blocks until the controller has finished its teardown.
func (c *controller) wait(ctx context.Context) error {
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("session %s did not stop in time: %w", c.rec.id, ctx.Err())
	}
}

func (c *controller) run() {
	defer close(c.done)
	defer c.teardown()

	c.initialize()
	for !c.exhausted && c.ctx.Err() == nil {
		var events <-chan connectors.Event
		if c.conn != nil {
			events = c.conn.Events()
		}
		select {
		case <-c.ctx.Done():
			return
		case evt := <-events:
			c.handleEvent(evt)
		case <-c.timerC:
			c.onTimer()
		}
	}
}

// initialize replaces any previous connector with a fresh one and starts it.
func (c *controller) initialize() {
	c.stopTimer()
	c.closeConn()
	c.transition(StateCreated, func(r *record) { r.linkPayload = "" })

	conn, err := c.reg.factory.New(c.rec.id)
	if err == nil {
		c.setConn(conn)
		ictx, cancel := context.WithTimeout(c.ctx, c.policy.InitTimeout)
		err = conn.Initialize(ictx)
		cancel()
	}
	if err != nil {
		if c.ctx.Err() != nil {
			return
		}
		c.initFailed(fmt.Errorf("%w: %w", ErrConnectorInit, err))
		return
	}
	c.armTimer(c.policy.LinkTimeout, timerLinkDeadline)
}

func (c *controller) handleEvent(evt connectors.Event) {
	state := c.rec.currentState()

	switch evt.Kind {
	case connectors.EventLinkChallenge:
		if state != StateCreated && state != StateAwaitingLink {
			c.log.Debug("Ignoring link challenge", logger.StringField("state", string(state)))
			return
		}
		payload, err := renderLinkPayload(evt.Code)
		if err != nil {
			c.log.Error("Failed to render link challenge", logger.ErrorField(err))
			return
		}
		c.transition(StateAwaitingLink, func(r *record) { r.linkPayload = payload })

	case connectors.EventAuthenticated:
		if state == StateCreated || state == StateAwaitingLink {
			c.transition(StateAuthenticated, func(r *record) { r.linkPayload = "" })
		}

	case connectors.EventReady:
		if !state.initialising() {
			return
		}
		c.stopTimer()
		c.transition(StateReady, func(r *record) {
			r.initAttempts = 0
			r.linkPayload = ""
			r.readyAt = time.Now()
			r.lastError = ""
		})

	case connectors.EventDisconnected:
		reason := reasonOrUnknown(evt.Reason)
		switch {
		case state == StateReady:
			c.transition(StateDisconnected, func(r *record) { r.lastError = "disconnected: " + reason })
			c.armTimer(c.policy.ReconnectDelay, timerReconnect)
			c.log.Warn("Session disconnected, reconnect scheduled",
				logger.StringField("reason", reason),
				logger.DurationField("reconnect_in", c.policy.ReconnectDelay))
		case state.initialising():
			c.initFailed(fmt.Errorf("%w: disconnected: %s", ErrConnectorInit, reason))
		}

	case connectors.EventInitFailed:
		if state.initialising() {
			c.initFailed(fmt.Errorf("%w: %s", ErrConnectorInit, reasonOrUnknown(evt.Reason)))
		}

	case connectors.EventMessage:
		if evt.Message == nil {
			return
		}
		if state != StateReady {
			c.log.Debug("Dropping message received before ready", logger.StringField("state", string(state)))
			return
		}
		if h := c.reg.messageHandler(); h != nil {
			h.Handle(c.ctx, c.rec.id, c.conn, *evt.Message)
		}
	}
}

// initFailed counts a failed attempt and either schedules a retry or gives up.
func (c *controller) initFailed(err error) {
	c.stopTimer()
	c.reg.metrics.SessionInitFailure()

	attempts := c.rec.attempts() + 1
	if attempts < c.policy.MaxInitAttempts {
		c.closeConn()
		c.transition(StateRetrying, func(r *record) {
			r.initAttempts = attempts
			r.lastError = err.Error()
			r.linkPayload = ""
		})
		c.armTimer(c.policy.RetryDelay, timerRetry)
		c.log.Warn("Session initialisation failed, retry scheduled",
			logger.ErrorField(err),
			logger.IntField("attempt", attempts),
			logger.IntField("max_attempts", c.policy.MaxInitAttempts),
			logger.DurationField("retry_in", c.policy.RetryDelay))
		return
	}

	c.transition(StateFailed, func(r *record) {
		r.initAttempts = attempts
		r.lastError = err.Error()
		r.linkPayload = ""
	})
	c.log.Error("Session initialisation attempts exhausted",
		logger.ErrorField(fmt.Errorf("%w: %w", ErrConnectorInitExhausted, err)),
		logger.IntField("attempts", attempts))
	c.exhausted = true
	c.stop(stopTerminate)
	c.reg.detach(c.rec)
}

func (c *controller) onTimer() {
	purpose := c.purpose
	c.timer, c.timerC, c.purpose = nil, nil, timerNone

	switch purpose {
	case timerRetry, timerReconnect:
		c.initialize()
	case timerLinkDeadline:
		if c.rec.currentState().initialising() {
			c.initFailed(fmt.Errorf("%w: not ready after %s", ErrConnectorInit, c.policy.LinkTimeout))
		}
	}
}

func (c *controller) teardown() {
	c.stopTimer()

	c.stopMu.Lock()
	reason := c.reason
	c.stopMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()

	if reason == stopTerminate {
		if c.conn != nil {
			if err := c.conn.Logout(ctx); err != nil {
				c.log.Warn("Logout failed during teardown", logger.ErrorField(err))
			}
		}
		c.closeConn()
		if err := c.reg.factory.Purge(ctx, c.rec.id); err != nil {
			c.log.Error("Failed to purge session credentials", logger.ErrorField(err))
		}
		if err := c.reg.store.Delete(ctx, c.rec.id); err != nil {
			c.log.Error("Failed to delete session config", logger.ErrorField(err))
		}
	} else {
		c.closeConn()
	}

	c.transition(StateTerminated, func(r *record) { r.linkPayload = "" })
	c.reg.release(c.rec)
	c.log.Info("Session stopped", logger.StringField("reason", reason.String()))
}

func (c *controller) transition(state State, mutate func(r *record)) {
	var prev State
	c.rec.update(func(r *record) {
		prev = r.state
		r.state = state
		r.lastTransition = time.Now()
		if mutate != nil {
			mutate(r)
		}
	})
	if prev == state {
		return
	}
	c.reg.metrics.SessionTransition(string(state))
	c.log.Info("Session state changed",
		logger.StringField("from", string(prev)),
		logger.StringField("to", string(state)))
}

func (c *controller) setConn(conn connectors.Connector) {
	c.conn = conn
	c.rec.mu.Lock()
	c.rec.conn = conn
	c.rec.mu.Unlock()
}

func (c *controller) closeConn() {
	if c.conn == nil {
		return
	}
	if err := c.conn.Close(); err != nil {
		c.log.Warn("Failed to close connector", logger.ErrorField(err))
	}
	c.setConn(nil)
}

func (c *controller) armTimer(d time.Duration, purpose timerPurpose) {
	c.stopTimer()
	c.timer = time.NewTimer(d)
	c.timerC = c.timer.C
	c.purpose = purpose
}

func (c *controller) stopTimer() {
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer, c.timerC, c.purpose = nil, nil, timerNone
}

func reasonOrUnknown(reason string) string {
	if reason == "" {
		return "unknown"
	}
	return reason
}
