package notify

import (
	"context"
	"errors"
	"sync"

	apperrors "permit-workflow/internal/common/errors"
	"permit-workflow/internal/common/logger"
	"permit-workflow/internal/common/metrics"
	"permit-workflow/internal/events"
	"permit-workflow/internal/models"

	"github.com/redis/go-redis/v9"
)

var errHubClosed = errors.New("delivery hub is closed")

// Hub is the concrete delivery transport. It subscribes to scope channels
// on the broker and forwards envelopes to attached client sessions in
// broker order. Delivery is at-least-once; a session whose buffer is full
// loses the event and reconciles through the store on reconnect.
type Hub struct {
	rdb    *redis.Client
	prefix string
	buffer int
	logger logger.Logger

	mu       sync.Mutex
	closed   bool
	sessions map[string]map[*Session]struct{}
	subs     map[string]*redis.PubSub
}

// Session is one connected client's view of a single scope channel.
type Session struct {
	hub     *Hub
	channel string
	scope   models.Scope
	events  chan *events.Envelope
	once    sync.Once
}

// Events is the stream of envelopes for this session.
func (s *Session) Events() <-chan *events.Envelope {
	return s.events
}

// Close detaches the session from the hub.
func (s *Session) Close() {
	s.once.Do(func() {
		s.hub.detach(s)
		close(s.events)
	})
}

func NewHub(rdb *redis.Client, prefix string, buffer int, log logger.Logger) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{
		rdb:      rdb,
		prefix:   prefix,
		buffer:   buffer,
		logger:   log.WithFields(map[string]interface{}{"component": "delivery-hub"}),
		sessions: make(map[string]map[*Session]struct{}),
		subs:     make(map[string]*redis.PubSub),
	}
}

// Attach subscribes a client session to the channel for the given scope.
// The broker subscription is confirmed before Attach returns, so events
// published afterwards are guaranteed to reach the session (buffer
// permitting).
func (h *Hub) Attach(ctx context.Context, scope models.Scope, targetID string) (*Session, error) {
	if !scope.Valid() {
		return nil, apperrors.NewValidationError("unknown scope")
	}
	if scope == models.ScopeVendor && targetID == "" {
		return nil, apperrors.NewValidationError("vendor-scoped session requires a targetId")
	}

	channel := ChannelName(h.prefix, scope, targetID)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, apperrors.NewInternalError(errHubClosed)
	}
	needSub := h.subs[channel] == nil
	var ps *redis.PubSub
	if needSub {
		ps = h.rdb.Subscribe(ctx, channel)
		h.subs[channel] = ps
		if h.sessions[channel] == nil {
			h.sessions[channel] = make(map[*Session]struct{})
		}
	}
	sess := &Session{
		hub:     h,
		channel: channel,
		scope:   scope,
		events:  make(chan *events.Envelope, h.buffer),
	}
	if h.sessions[channel] == nil {
		h.sessions[channel] = make(map[*Session]struct{})
	}
	h.sessions[channel][sess] = struct{}{}
	h.mu.Unlock()

	if needSub {
		// Wait for the subscription confirmation so callers can rely
		// on receiving everything published after Attach.
		if _, err := ps.Receive(ctx); err != nil {
			h.teardownChannel(channel, ps)
			return nil, apperrors.NewInternalError(err)
		}
		go h.forward(channel, ps)
	}

	return sess, nil
}

func (h *Hub) forward(channel string, ps *redis.PubSub) {
	for msg := range ps.Channel() {
		env, err := events.Unmarshal([]byte(msg.Payload))
		if err != nil {
			h.logger.Warn("dropping malformed envelope", map[string]interface{}{
				"channel": channel,
				"error":   err.Error(),
			})
			continue
		}

		h.mu.Lock()
		for sess := range h.sessions[channel] {
			select {
			case sess.events <- env:
				metrics.EventsDelivered.WithLabelValues(string(env.Scope)).Inc()
			default:
				metrics.EventsDropped.WithLabelValues(string(env.Scope)).Inc()
			}
		}
		h.mu.Unlock()
	}
}

// teardownChannel drops a channel whose subscription never confirmed.
// Every session registered on it is closed, including ones other callers
// attached while the confirmation was pending; without this they would
// sit on a subscription with no forward loop and never receive anything.
// Their owners re-attach and backfill through the store.
func (h *Hub) teardownChannel(channel string, ps *redis.PubSub) {
	_ = ps.Close()

	h.mu.Lock()
	if h.subs[channel] == ps {
		delete(h.subs, channel)
	}
	set := h.sessions[channel]
	delete(h.sessions, channel)
	h.mu.Unlock()

	for sess := range set {
		sess.once.Do(func() { close(sess.events) })
	}
}

func (h *Hub) detach(sess *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.sessions[sess.channel]
	if set != nil {
		delete(set, sess)
		if len(set) == 0 {
			delete(h.sessions, sess.channel)
			if ps := h.subs[sess.channel]; ps != nil {
				_ = ps.Close()
				delete(h.subs, sess.channel)
			}
		}
	}
}

// Close shuts down all subscriptions and sessions. Sessions are closed
// after h.mu is released: a concurrent Session.Close takes h.mu through
// detach inside its once body, so running the once bodies under the lock
// would wedge both sides.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	var stale []*Session
	for channel, set := range h.sessions {
		for sess := range set {
			stale = append(stale, sess)
		}
		delete(h.sessions, channel)
	}
	for channel, ps := range h.subs {
		_ = ps.Close()
		delete(h.subs, channel)
	}
	h.mu.Unlock()

	for _, sess := range stale {
		sess.once.Do(func() { close(sess.events) })
	}
}
