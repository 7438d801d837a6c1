package ws

import (
	"context"
	"encoding/json"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	goredis "github.com/redis/go-redis/v9"

	"grievanceportal/internal/metrics"
	"grievanceportal/pkg/logging"
	pkgredis "grievanceportal/pkg/redis"
)

// DefaultBackboneChannel is the shared Redis channel carrying group
// broadcasts between processes.
const DefaultBackboneChannel = "realtime_groups"

// GroupMessage is the backbone wire format: a serialized frame addressed to
// one group. Every process delivers it to its local members of that group.
type GroupMessage struct {
	Group string          `json:"group"`
	Frame json.RawMessage `json:"frame"`
}

// Broadcaster fans envelopes out to a group across all processes via the
// Redis backbone. It is constructed at startup and injected; there is no
// ambient global client.
type Broadcaster struct {
	hub     *Hub
	pubsub  *pkgredis.TypedPubSub[GroupMessage]
	channel string
	logger  logging.Logger
	metrics *metrics.Metrics
}

// NewBroadcaster creates a broadcaster. A nil redis client degrades to
// local-process delivery only.
func NewBroadcaster(hub *Hub, client goredis.UniversalClient, channel string, logger logging.Logger, m *metrics.Metrics) *Broadcaster {
	if channel == "" {
		channel = DefaultBackboneChannel
	}
	b := &Broadcaster{
		hub:     hub,
		channel: channel,
		logger:  logger,
		metrics: m,
	}
	if client != nil {
		b.pubsub = pkgredis.NewTypedPubSub[GroupMessage](client, logger)
	}
	return b
}

// Broadcast publishes an envelope to a group. With a healthy backbone the
// local delivery happens when the published message loops back through the
// subscription; on publish failure the frame is still delivered to local
// members so a backbone outage degrades to single-process fan-out.
func (b *Broadcaster) Broadcast(ctx context.Context, group string, env Envelope) error {
	frame, err := env.Encode()
	if err != nil {
		return err
	}

	if b.metrics != nil {
		b.metrics.BroadcastsTotal.WithLabelValues(env.Type).Inc()
	}

	if b.pubsub == nil {
		b.hub.BroadcastLocal(group, frame)
		return nil
	}

	if err := b.pubsub.Publish(ctx, b.channel, GroupMessage{Group: group, Frame: frame}); err != nil {
		b.logger.WithError(err).WithField("group", group).Warn("Backbone publish failed; delivering to local members only")
		b.hub.BroadcastLocal(group, frame)
	}
	return nil
}

// Run subscribes to the backbone channel and delivers incoming group
// messages to local members, reconnecting with backoff when the
// subscription drops. It blocks until ctx is cancelled. A nil backbone
// returns immediately.
func (b *Broadcaster) Run(ctx context.Context) error {
	if b.pubsub == nil {
		b.logger.Warn("No backbone configured; group broadcasts are local to this process")
		return nil
	}

	retry := retrypolicy.NewBuilder[any]().
		WithBackoff(time.Second, 30*time.Second).
		WithJitterFactor(0.2).
		WithMaxRetries(-1).
		Build()

	_, err := failsafe.With(retry).WithContext(ctx).Get(func() (any, error) {
		err := b.pubsub.Subscribe(ctx, b.channel, func(msg GroupMessage) {
			b.hub.BroadcastLocal(msg.Group, msg.Frame)
		})
		if err != nil && ctx.Err() == nil {
			b.logger.WithError(err).Warn("Backbone subscription dropped; reconnecting")
		}
		return nil, err
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}
