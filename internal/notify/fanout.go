package notify

import (
	"context"
	"encoding/json"
	"fmt"

	apperrors "permit-workflow/internal/common/errors"
	"permit-workflow/internal/common/logger"
	"permit-workflow/internal/common/metrics"
	"permit-workflow/internal/events"
	"permit-workflow/internal/models"

	"github.com/redis/go-redis/v9"
)

// Publisher is the broker side the router writes through.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// RedisPublisher publishes through Redis Pub/Sub so events triggered on
// one application instance reach clients connected to another.
type RedisPublisher struct {
	client *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, channel string, payload []byte) error {
	return p.client.Publish(ctx, channel, payload).Err()
}

// ChannelName maps an audience scope to its broker channel. Role scopes
// share one channel each; vendor scope is partitioned by vendor id.
func ChannelName(prefix string, scope models.Scope, targetID string) string {
	if scope == models.ScopeVendor {
		return fmt.Sprintf("%s:vendor:%s", prefix, targetID)
	}
	return fmt.Sprintf("%s:%s", prefix, scope)
}

// Router maps a domain event envelope to its scope channel and publishes
// it. The router is transport-agnostic; delivery adapters subscribe on
// the other side of the broker.
type Router struct {
	publisher Publisher
	prefix    string
	logger    logger.Logger
}

func NewRouter(publisher Publisher, prefix string, log logger.Logger) *Router {
	return &Router{
		publisher: publisher,
		prefix:    prefix,
		logger:    log.WithFields(map[string]interface{}{"component": "fanout-router"}),
	}
}

// Publish writes the serialized envelope to its scope channel.
func (r *Router) Publish(ctx context.Context, env *events.Envelope) error {
	if !env.Scope.Valid() {
		return apperrors.NewValidationError(fmt.Sprintf("unknown scope %q", env.Scope))
	}
	if env.Scope == models.ScopeVendor && env.TargetID == "" {
		return apperrors.NewValidationError("vendor-scoped event requires a targetId")
	}

	data, err := env.Marshal()
	if err != nil {
		return apperrors.NewInternalError(err)
	}

	channel := ChannelName(r.prefix, env.Scope, env.TargetID)
	if err := r.publisher.Publish(ctx, channel, data); err != nil {
		return apperrors.NewInternalError(err)
	}

	metrics.EventsPublished.WithLabelValues(string(env.Scope)).Inc()
	r.logger.Debug("event published", map[string]interface{}{
		"channel": channel,
		"type":    string(env.Type),
	})
	return nil
}

// Service couples the durable store with the fan-out router. It is the
// workflow engine's Announcer: one notification record plus one broker
// publish per triggering event.
type Service struct {
	store  *Store
	router *Router
}

func NewService(store *Store, router *Router) *Service {
	return &Service{store: store, router: router}
}

func (s *Service) Announce(ctx context.Context, scope models.Scope, targetID string, event events.Event, title, message string) error {
	payload, err := eventPayload(event)
	if err != nil {
		return apperrors.NewInternalError(err)
	}

	if _, err := s.store.Create(ctx, CreateInput{
		Scope:    scope,
		TargetID: targetID,
		Type:     string(event.EventType()),
		Title:    title,
		Message:  message,
		Payload:  payload,
	}); err != nil {
		return err
	}

	env, err := events.NewEnvelope(scope, targetID, event)
	if err != nil {
		return apperrors.NewInternalError(err)
	}
	return s.router.Publish(ctx, env)
}

func eventPayload(event events.Event) (map[string]interface{}, error) {
	raw, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}
