package chat

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"grievanceportal/internal/metrics"
	"grievanceportal/internal/notify"
	"grievanceportal/internal/store"
	"grievanceportal/internal/ws"
	"grievanceportal/pkg/logging"
)

const (
	// maxMessageRunes bounds a single chat message; the frontend enforces
	// the same limit.
	maxMessageRunes = 2000

	// previewRunes is the truncation point for notification previews.
	previewRunes = 80

	// defaultDBConcurrency bounds concurrent persistence calls across all
	// connections so a stampede cannot exhaust the pool.
	defaultDBConcurrency = 32
)

// Conn is the connection surface the pipeline needs: sender identity for
// the broadcast frame, the bound conversation, and a way to push an error
// frame back to the offending connection only.
type Conn interface {
	UserID() int64
	DisplayName() string
	ProfileImage() *string
	Role() string
	ConversationID() int64
	SendFrame(frame []byte) bool
}

// MessageStore persists chat messages.
type MessageStore interface {
	CreateChatMessage(ctx context.Context, conversationID, senderID int64, text string) (*store.ChatMessage, error)
}

// Notifier receives the post-commit event for a persisted message.
type Notifier interface {
	ChatMessageCreated(ctx context.Context, ev notify.ChatMessageEvent) error
}

// inboundFrame is the only client-to-server frame the chat socket accepts.
type inboundFrame struct {
	Message string `json:"message"`
}

// Pipeline validates, persists and fans out inbound chat messages. Each
// connection's read loop calls Handle synchronously, so per-sender order
// is wire order through persistence and broadcast.
type Pipeline struct {
	store       MessageStore
	broadcaster notify.Broadcaster
	notifier    Notifier
	sem         *semaphore.Weighted
	logger      logging.Logger
	metrics     *metrics.Metrics
}

// NewPipeline creates a pipeline. notifier and metrics may be nil.
func NewPipeline(messageStore MessageStore, broadcaster notify.Broadcaster, notifier Notifier, logger logging.Logger, m *metrics.Metrics) *Pipeline {
	return &Pipeline{
		store:       messageStore,
		broadcaster: broadcaster,
		notifier:    notifier,
		sem:         semaphore.NewWeighted(defaultDBConcurrency),
		logger:      logger,
		metrics:     m,
	}
}

// Handle runs one inbound frame through validate, persist, broadcast and
// notify. Every failure is reported to the sending connection as an error
// frame; the connection stays open.
func (p *Pipeline) Handle(ctx context.Context, conn Conn, raw []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		conn.SendFrame(ws.ErrorFrame("Invalid JSON format."))
		return
	}

	text := strings.TrimSpace(frame.Message)
	if text == "" || len([]rune(text)) > maxMessageRunes {
		conn.SendFrame(ws.ErrorFrame("Invalid message content."))
		return
	}

	msg, err := p.persist(ctx, conn.ConversationID(), conn.UserID(), text)
	if err != nil {
		if errors.Is(err, store.ErrConversationNotFound) {
			conn.SendFrame(ws.ErrorFrame("Conversation no longer exists."))
			return
		}
		p.logger.WithError(err).WithFields(logging.Fields{
			"conversation_id": conn.ConversationID(),
			"user_id":         conn.UserID(),
		}).Error("Failed to persist chat message")
		if p.metrics != nil {
			p.metrics.DeliveryFailures.WithLabelValues("persist").Inc()
		}
		conn.SendFrame(ws.ErrorFrame("Failed to save message."))
		return
	}

	env := ws.Envelope{
		Type: ws.TypeChatMessage,
		Payload: ws.ChatMessagePayload{
			ID: msg.ID,
			User: ws.UserSummary{
				ID:           conn.UserID(),
				Name:         conn.DisplayName(),
				ProfileImage: conn.ProfileImage(),
			},
			Message:   msg.Message,
			Timestamp: msg.CreatedAt.UTC().Format(time.RFC3339),
		},
	}
	if err := p.broadcaster.Broadcast(ctx, ws.ChatGroup(msg.ConversationID), env); err != nil {
		p.logger.WithError(err).WithField("conversation_id", msg.ConversationID).Error("Failed to broadcast chat message")
	}

	if p.notifier == nil {
		return
	}
	if err := p.notifier.ChatMessageCreated(ctx, notify.ChatMessageEvent{
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		SenderID:       conn.UserID(),
		SenderName:     conn.DisplayName(),
		SenderRole:     conn.Role(),
		Preview:        truncate(msg.Message, previewRunes),
	}); err != nil {
		p.logger.WithError(err).WithField("message_id", msg.ID).Warn("Failed to route new-message notifications")
	}
}

// persist writes the message under the shared concurrency bound so the
// socket fleet cannot starve the connection pool.
func (p *Pipeline) persist(ctx context.Context, conversationID, senderID int64, text string) (*store.ChatMessage, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer p.sem.Release(1)
	return p.store.CreateChatMessage(ctx, conversationID, senderID, text)
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
