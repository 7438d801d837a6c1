package gate

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"grievanceportal/internal/chat"
	"grievanceportal/internal/metrics"
	"grievanceportal/internal/store"
	"grievanceportal/internal/ws"
	"grievanceportal/pkg/logging"
)

// historyLimit is the number of recent messages replayed to a freshly
// connected chat client. Must stay below the connection's send buffer.
const historyLimit = 50

// RecordStore is the store surface the gate needs for authorization and
// history replay.
type RecordStore interface {
	GetConversation(ctx context.Context, id int64) (*store.Conversation, error)
	ListConversationMessages(ctx context.Context, conversationID int64, limit int) ([]store.ConversationMessage, error)
}

// ChatPipeline handles inbound frames from accepted chat connections.
type ChatPipeline interface {
	Handle(ctx context.Context, conn chat.Conn, raw []byte)
}

// Gate upgrades authenticated websocket handshakes and binds the resulting
// connections to their groups. Every rejection happens before the upgrade,
// with a bare status code.
type Gate struct {
	verifier *Verifier
	store    RecordStore
	hub      *ws.Hub
	pipeline ChatPipeline
	upgrader websocket.Upgrader
	logger   logging.Logger
	metrics  *metrics.Metrics
}

// NewGate creates a gate. metrics may be nil.
func NewGate(verifier *Verifier, recordStore RecordStore, hub *ws.Hub, pipeline ChatPipeline, logger logging.Logger, m *metrics.Metrics) *Gate {
	return &Gate{
		verifier: verifier,
		store:    recordStore,
		hub:      hub,
		pipeline: pipeline,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser origin enforcement happens at the edge proxy.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:  logger,
		metrics: m,
	}
}

// HandleChat accepts GET /ws/chat/:conversationID. The caller must own the
// conversation or hold a privileged role.
func (g *Gate) HandleChat(c *gin.Context) {
	ident, ok := g.authenticate(c)
	if !ok {
		return
	}

	conversationID, err := strconv.ParseInt(c.Param("conversationID"), 10, 64)
	if err != nil || conversationID <= 0 {
		c.AbortWithStatus(http.StatusForbidden)
		return
	}

	conv, err := g.store.GetConversation(c.Request.Context(), conversationID)
	if err != nil {
		// An unknown conversation and a real denial look identical, so a
		// probing client cannot map conversation ids.
		if !errors.Is(err, store.ErrConversationNotFound) {
			g.logger.WithError(err).Error("Failed to load conversation for handshake")
		}
		c.AbortWithStatus(http.StatusForbidden)
		return
	}
	if conv.UserID != ident.ID && !store.IsPrivileged(ident.Role) {
		c.AbortWithStatus(http.StatusForbidden)
		return
	}

	history, err := g.store.ListConversationMessages(c.Request.Context(), conversationID, historyLimit)
	if err != nil {
		g.logger.WithError(err).WithField("conversation_id", conversationID).Error("Failed to load chat history")
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.logger.WithError(err).Warn("Websocket upgrade failed")
		return
	}

	client := ws.NewClient(g.hub, conn, *ident, conversationID, nil, g.logger)
	client.SetMessageHandler(func(ctx context.Context, raw []byte) {
		g.pipeline.Handle(ctx, client, raw)
	})
	g.hub.Join(ws.ChatGroup(conversationID), client)
	g.replayHistory(client, history)
	client.Start()

	g.logger.WithFields(logging.Fields{
		"user_id":         ident.ID,
		"conversation_id": conversationID,
	}).Info("Chat connection established")
}

// HandleNotifications accepts GET /ws/notifications. Every identity joins
// its personal group; privileged identities additionally join the
// role-wide broadcast group.
func (g *Gate) HandleNotifications(c *gin.Context) {
	ident, ok := g.authenticate(c)
	if !ok {
		return
	}

	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.logger.WithError(err).Warn("Websocket upgrade failed")
		return
	}

	client := ws.NewClient(g.hub, conn, *ident, 0, nil, g.logger)
	g.hub.Join(ws.NotifyGroup(ident.ID), client)
	if store.IsPrivileged(ident.Role) {
		g.hub.Join(ws.AdminBroadcastGroup, client)
	}
	client.Start()

	g.logger.WithFields(logging.Fields{
		"user_id": ident.ID,
		"role":    ident.Role,
	}).Info("Notification connection established")
}

func (g *Gate) authenticate(c *gin.Context) (*store.Identity, bool) {
	ident, err := g.verifier.Verify(c.Request.Context(), c.Query("token"))
	if err != nil {
		if errors.Is(err, ErrUnauthenticated) {
			c.AbortWithStatus(http.StatusUnauthorized)
		} else {
			g.logger.WithError(err).Error("Handshake identity lookup failed")
			c.AbortWithStatus(http.StatusInternalServerError)
		}
		return nil, false
	}
	return ident, true
}

// replayHistory queues the recent conversation messages, oldest first, so
// they reach the client before any live broadcast accepted after the join.
func (g *Gate) replayHistory(client *ws.Client, history []store.ConversationMessage) {
	for _, msg := range history {
		name := msg.SenderName
		if name == "" {
			name = msg.SenderUsername
		}
		env := ws.Envelope{
			Type: ws.TypeChatMessage,
			Payload: ws.ChatMessagePayload{
				ID: msg.ID,
				User: ws.UserSummary{
					ID:           msg.UserID,
					Name:         name,
					ProfileImage: msg.SenderProfileImage,
				},
				Message:   msg.Message,
				Timestamp: msg.CreatedAt.UTC().Format(time.RFC3339),
			},
		}
		frame, err := env.Encode()
		if err != nil {
			g.logger.WithError(err).Warn("Skipping undecodable history message")
			continue
		}
		if !client.SendFrame(frame) {
			return
		}
	}
}
