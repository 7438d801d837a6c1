package notify

import (
	"context"
	"encoding/json"

	"grievanceportal/internal/metrics"
	"grievanceportal/pkg/kafka"
	"grievanceportal/pkg/logging"
)

// DefaultEventTopic is the topic the portal's CRUD services publish domain
// events to after their transactions commit.
const DefaultEventTopic = "portal_events"

// DomainEventHandler decodes domain events off the event topic and routes
// them to the notification router. Use with Consumer.AddHandler.
func DomainEventHandler(router *Router, logger logging.Logger, m *metrics.Metrics) kafka.Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		var ev kafka.DomainEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			// A poison record would block the partition forever if treated
			// as a handler failure. Skip it.
			logger.WithError(err).WithFields(logging.Fields{
				"topic":  msg.Topic,
				"offset": msg.Offset,
			}).Warn("Dropping undecodable domain event")
			if m != nil {
				m.KafkaMessages.WithLabelValues("invalid", "dropped").Inc()
			}
			return nil
		}

		if err := router.HandleDomainEvent(ctx, ev); err != nil {
			if m != nil {
				m.KafkaMessages.WithLabelValues(ev.Type, "error").Inc()
			}
			return err
		}

		if m != nil {
			m.KafkaMessages.WithLabelValues(ev.Type, "ok").Inc()
		}
		return nil
	}
}
