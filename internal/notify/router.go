package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"grievanceportal/internal/metrics"
	"grievanceportal/internal/store"
	"grievanceportal/internal/ws"
	"grievanceportal/pkg/kafka"
	"grievanceportal/pkg/logging"
)

// RecipientStore is the subset of the record store the router needs to
// resolve notification recipients.
type RecipientStore interface {
	GetIdentity(ctx context.Context, id int64) (*store.Identity, error)
	GetConversation(ctx context.Context, id int64) (*store.Conversation, error)
	GetGrievance(ctx context.Context, id int64) (*store.Grievance, error)
	ListActivePrivileged(ctx context.Context) ([]store.Identity, error)
}

// Broadcaster publishes an envelope to a named group.
type Broadcaster interface {
	Broadcast(ctx context.Context, group string, env ws.Envelope) error
}

// Router turns committed domain writes into targeted notification
// broadcasts. Chat message events are invoked in-process by the message
// pipeline after its persistence commit; the remaining event kinds arrive
// post-commit on the domain event topic and are dispatched through an
// explicit handler table keyed by event type.
type Router struct {
	store       RecipientStore
	broadcaster Broadcaster
	logger      logging.Logger
	metrics     *metrics.Metrics
	handlers    map[string]func(ctx context.Context, data json.RawMessage) error
}

// NewRouter creates a router with its dispatch table. metrics may be nil.
func NewRouter(recipientStore RecipientStore, broadcaster Broadcaster, logger logging.Logger, m *metrics.Metrics) *Router {
	r := &Router{
		store:       recipientStore,
		broadcaster: broadcaster,
		logger:      logger,
		metrics:     m,
	}
	r.handlers = map[string]func(ctx context.Context, data json.RawMessage) error{
		kafka.EventUserProfileUpdated:     decodeInto(r.ProfileUpdated),
		kafka.EventGrievanceCreated:       decodeInto(r.GrievanceCreated),
		kafka.EventGrievanceStatusChanged: decodeInto(r.GrievanceStatusChanged),
	}
	return r
}

func decodeInto[T any](handle func(ctx context.Context, ev T) error) func(ctx context.Context, data json.RawMessage) error {
	return func(ctx context.Context, data json.RawMessage) error {
		var ev T
		if err := json.Unmarshal(data, &ev); err != nil {
			return fmt.Errorf("decode event payload: %w", err)
		}
		return handle(ctx, ev)
	}
}

// HandleDomainEvent dispatches a domain event to its registered handler.
// Unknown event types are skipped.
func (r *Router) HandleDomainEvent(ctx context.Context, ev kafka.DomainEvent) error {
	handler, ok := r.handlers[ev.Type]
	if !ok {
		r.logger.WithField("event_type", ev.Type).Debug("No notification handler for event type")
		return nil
	}
	return handler(ctx, ev.Data)
}

// ChatMessageCreated resolves recipients for a committed chat message: a
// privileged sender notifies the conversation owner, any other sender
// notifies every active privileged identity. The sender never receives a
// notification about their own message.
func (r *Router) ChatMessageCreated(ctx context.Context, ev ChatMessageEvent) error {
	var recipients []store.Identity

	if store.IsPrivileged(ev.SenderRole) {
		conv, err := r.store.GetConversation(ctx, ev.ConversationID)
		if err != nil {
			return fmt.Errorf("resolve conversation owner: %w", err)
		}
		owner, err := r.store.GetIdentity(ctx, conv.UserID)
		if err != nil {
			return fmt.Errorf("resolve conversation owner identity: %w", err)
		}
		recipients = append(recipients, *owner)
	} else {
		privileged, err := r.store.ListActivePrivileged(ctx)
		if err != nil {
			return fmt.Errorf("resolve privileged recipients: %w", err)
		}
		recipients = privileged
	}

	env := ws.Envelope{
		Type: ws.TypeNewMessage,
		Payload: NewMessagePayload{
			ConversationID: ev.ConversationID,
			SenderID:       ev.SenderID,
			SenderName:     ev.SenderName,
			Preview:        ev.Preview,
		},
	}
	r.deliver(ctx, recipients, ev.SenderID, env)
	return nil
}

// ProfileUpdated notifies the updated identity's own sessions. The
// canonical name and avatar are read back from the store, which already
// reflects the committed write.
func (r *Router) ProfileUpdated(ctx context.Context, ev ProfileUpdatedEvent) error {
	ident, err := r.store.GetIdentity(ctx, ev.UserID)
	if err != nil {
		return fmt.Errorf("resolve updated identity: %w", err)
	}
	if !ident.Active {
		return nil
	}

	env := ws.Envelope{
		Type: ws.TypeProfileUpdated,
		Payload: ProfileUpdatedPayload{
			ID:           ident.ID,
			Name:         ident.DisplayName(),
			ProfileImage: ident.ProfileImage,
		},
	}
	r.deliver(ctx, []store.Identity{*ident}, 0, env)
	return nil
}

// GrievanceCreated notifies every active privileged identity except the
// submitter.
func (r *Router) GrievanceCreated(ctx context.Context, ev GrievanceCreatedEvent) error {
	recipients, err := r.store.ListActivePrivileged(ctx)
	if err != nil {
		return fmt.Errorf("resolve privileged recipients: %w", err)
	}

	env := ws.Envelope{
		Type: ws.TypeGrievanceCreated,
		Payload: GrievancePayload{
			GrievanceID: ev.GrievanceID,
			Title:       ev.Title,
			Status:      ev.Status,
			SubmittedBy: ev.SubmittedBy,
		},
	}
	r.deliver(ctx, recipients, ev.SubmittedBy, env)
	return nil
}

// GrievanceStatusChanged notifies the submitting identity.
func (r *Router) GrievanceStatusChanged(ctx context.Context, ev GrievanceStatusChangedEvent) error {
	submittedBy := ev.SubmittedBy
	if submittedBy == 0 {
		grievance, err := r.store.GetGrievance(ctx, ev.GrievanceID)
		if err != nil {
			return fmt.Errorf("resolve grievance submitter: %w", err)
		}
		submittedBy = grievance.SubmittedBy
	}

	ident, err := r.store.GetIdentity(ctx, submittedBy)
	if err != nil {
		return fmt.Errorf("resolve submitter identity: %w", err)
	}

	env := ws.Envelope{
		Type: ws.TypeGrievanceStatusChanged,
		Payload: GrievancePayload{
			GrievanceID: ev.GrievanceID,
			Status:      ev.Status,
		},
	}
	r.deliver(ctx, []store.Identity{*ident}, 0, env)
	return nil
}

// deliver broadcasts the envelope to each recipient's personal group,
// skipping inactive identities and the excluded sender. A failed broadcast
// to one recipient does not abort delivery to the rest.
func (r *Router) deliver(ctx context.Context, recipients []store.Identity, excludeID int64, env ws.Envelope) {
	for _, recipient := range recipients {
		if !recipient.Active || recipient.ID == excludeID {
			continue
		}
		if err := r.broadcaster.Broadcast(ctx, ws.NotifyGroup(recipient.ID), env); err != nil {
			r.logger.WithError(err).WithFields(logging.Fields{
				"recipient":  recipient.ID,
				"event_type": env.Type,
			}).Warn("Failed to broadcast notification")
			continue
		}
		if r.metrics != nil {
			r.metrics.NotificationsSent.WithLabelValues(env.Type).Inc()
		}
	}
}
