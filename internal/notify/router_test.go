package notify

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grievanceportal/internal/store"
	"grievanceportal/internal/ws"
	"grievanceportal/pkg/kafka"
	"grievanceportal/pkg/logging"
)

type fakeStore struct {
	identities    map[int64]store.Identity
	conversations map[int64]store.Conversation
	grievances    map[int64]store.Grievance
	privileged    []store.Identity
}

func (f *fakeStore) GetIdentity(_ context.Context, id int64) (*store.Identity, error) {
	ident, ok := f.identities[id]
	if !ok {
		return nil, store.ErrIdentityNotFound
	}
	return &ident, nil
}

func (f *fakeStore) GetConversation(_ context.Context, id int64) (*store.Conversation, error) {
	conv, ok := f.conversations[id]
	if !ok {
		return nil, store.ErrConversationNotFound
	}
	return &conv, nil
}

func (f *fakeStore) GetGrievance(_ context.Context, id int64) (*store.Grievance, error) {
	g, ok := f.grievances[id]
	if !ok {
		return nil, store.ErrIdentityNotFound
	}
	return &g, nil
}

func (f *fakeStore) ListActivePrivileged(_ context.Context) ([]store.Identity, error) {
	return f.privileged, nil
}

type recordedBroadcast struct {
	group string
	env   ws.Envelope
}

type fakeBroadcaster struct {
	sent []recordedBroadcast
}

func (f *fakeBroadcaster) Broadcast(_ context.Context, group string, env ws.Envelope) error {
	f.sent = append(f.sent, recordedBroadcast{group: group, env: env})
	return nil
}

func newTestRouter(s *fakeStore) (*Router, *fakeBroadcaster) {
	b := &fakeBroadcaster{}
	return NewRouter(s, b, logging.NewLogger(), nil), b
}

func TestChatMessageFromStudentNotifiesPrivileged(t *testing.T) {
	s := &fakeStore{
		privileged: []store.Identity{
			{ID: 1, Username: "admin", Role: store.RoleAdmin, Active: true},
			{ID: 2, Username: "cell", Role: store.RoleGrievanceCell, Active: true},
		},
	}
	router, b := newTestRouter(s)

	err := router.ChatMessageCreated(context.Background(), ChatMessageEvent{
		ConversationID: 42,
		SenderID:       7,
		SenderName:     "Uma",
		SenderRole:     store.RoleStudent,
		Preview:        "Hello",
	})
	require.NoError(t, err)

	require.Len(t, b.sent, 2)
	assert.Equal(t, ws.NotifyGroup(1), b.sent[0].group)
	assert.Equal(t, ws.NotifyGroup(2), b.sent[1].group)
	assert.Equal(t, ws.TypeNewMessage, b.sent[0].env.Type)

	payload := b.sent[0].env.Payload.(NewMessagePayload)
	assert.Equal(t, "Uma", payload.SenderName)
	assert.Equal(t, int64(42), payload.ConversationID)
}

func TestChatMessageFromAdminNotifiesOwnerOnly(t *testing.T) {
	s := &fakeStore{
		identities: map[int64]store.Identity{
			7: {ID: 7, Username: "uma", Role: store.RoleStudent, Active: true},
		},
		conversations: map[int64]store.Conversation{
			42: {ID: 42, UserID: 7},
		},
		privileged: []store.Identity{
			{ID: 1, Role: store.RoleAdmin, Active: true},
		},
	}
	router, b := newTestRouter(s)

	err := router.ChatMessageCreated(context.Background(), ChatMessageEvent{
		ConversationID: 42,
		SenderID:       1,
		SenderName:     "Admin",
		SenderRole:     store.RoleAdmin,
		Preview:        "We are on it",
	})
	require.NoError(t, err)

	require.Len(t, b.sent, 1)
	assert.Equal(t, ws.NotifyGroup(7), b.sent[0].group)
}

func TestChatMessageExcludesSenderAndInactive(t *testing.T) {
	s := &fakeStore{
		privileged: []store.Identity{
			{ID: 1, Role: store.RoleAdmin, Active: true},
			{ID: 2, Role: store.RoleGrievanceCell, Active: false},
			{ID: 3, Role: store.RoleGrievanceCell, Active: true},
		},
	}
	router, b := newTestRouter(s)

	// Sender 3 is itself privileged-adjacent in the recipient list; it must
	// not be notified about its own message.
	err := router.ChatMessageCreated(context.Background(), ChatMessageEvent{
		ConversationID: 42,
		SenderID:       3,
		SenderRole:     store.RoleStudent,
	})
	require.NoError(t, err)

	require.Len(t, b.sent, 1)
	assert.Equal(t, ws.NotifyGroup(1), b.sent[0].group)
}

func TestProfileUpdatedNotifiesOnlySelf(t *testing.T) {
	image := "/media/avatars/a.png"
	s := &fakeStore{
		identities: map[int64]store.Identity{
			1: {ID: 1, Username: "admin", Name: "Admin", Role: store.RoleAdmin, Active: true, ProfileImage: &image},
		},
	}
	router, b := newTestRouter(s)

	err := router.ProfileUpdated(context.Background(), ProfileUpdatedEvent{UserID: 1})
	require.NoError(t, err)

	require.Len(t, b.sent, 1)
	assert.Equal(t, ws.NotifyGroup(1), b.sent[0].group)
	assert.Equal(t, ws.TypeProfileUpdated, b.sent[0].env.Type)

	payload := b.sent[0].env.Payload.(ProfileUpdatedPayload)
	assert.Equal(t, "Admin", payload.Name)
	require.NotNil(t, payload.ProfileImage)
	assert.Equal(t, image, *payload.ProfileImage)
}

func TestProfileUpdatedInactiveIdentitySkipped(t *testing.T) {
	s := &fakeStore{
		identities: map[int64]store.Identity{
			1: {ID: 1, Role: store.RoleStudent, Active: false},
		},
	}
	router, b := newTestRouter(s)

	require.NoError(t, router.ProfileUpdated(context.Background(), ProfileUpdatedEvent{UserID: 1}))
	assert.Empty(t, b.sent)
}

func TestGrievanceCreatedNotifiesPrivilegedExceptSubmitter(t *testing.T) {
	s := &fakeStore{
		privileged: []store.Identity{
			{ID: 1, Role: store.RoleAdmin, Active: true},
			{ID: 2, Role: store.RoleGrievanceCell, Active: true},
		},
	}
	router, b := newTestRouter(s)

	err := router.GrievanceCreated(context.Background(), GrievanceCreatedEvent{
		GrievanceID: 9,
		Title:       "Broken projector",
		Status:      store.StatusSubmitted,
		SubmittedBy: 2,
	})
	require.NoError(t, err)

	require.Len(t, b.sent, 1)
	assert.Equal(t, ws.NotifyGroup(1), b.sent[0].group)
}

func TestGrievanceStatusChangedNotifiesSubmitter(t *testing.T) {
	s := &fakeStore{
		identities: map[int64]store.Identity{
			7: {ID: 7, Role: store.RoleStudent, Active: true},
		},
		grievances: map[int64]store.Grievance{
			9: {ID: 9, SubmittedBy: 7, Status: store.StatusInReview},
		},
	}
	router, b := newTestRouter(s)

	// submitted_by omitted from the event: resolved via the grievance row.
	err := router.GrievanceStatusChanged(context.Background(), GrievanceStatusChangedEvent{
		GrievanceID: 9,
		Status:      store.StatusInReview,
	})
	require.NoError(t, err)

	require.Len(t, b.sent, 1)
	assert.Equal(t, ws.NotifyGroup(7), b.sent[0].group)
	payload := b.sent[0].env.Payload.(GrievancePayload)
	assert.Equal(t, store.StatusInReview, payload.Status)
}

func TestHandleDomainEventDispatch(t *testing.T) {
	s := &fakeStore{
		identities: map[int64]store.Identity{
			1: {ID: 1, Name: "Admin", Role: store.RoleAdmin, Active: true},
		},
	}
	router, b := newTestRouter(s)

	data, err := json.Marshal(ProfileUpdatedEvent{UserID: 1})
	require.NoError(t, err)

	err = router.HandleDomainEvent(context.Background(), kafka.DomainEvent{
		Type: kafka.EventUserProfileUpdated,
		Data: data,
	})
	require.NoError(t, err)
	require.Len(t, b.sent, 1)
	assert.Equal(t, ws.TypeProfileUpdated, b.sent[0].env.Type)
}

func TestHandleDomainEventUnknownTypeSkipped(t *testing.T) {
	router, b := newTestRouter(&fakeStore{})

	err := router.HandleDomainEvent(context.Background(), kafka.DomainEvent{Type: "totally-unknown"})
	require.NoError(t, err)
	assert.Empty(t, b.sent)
}

func TestDomainEventHandlerSkipsPoisonRecord(t *testing.T) {
	router, b := newTestRouter(&fakeStore{})
	handler := DomainEventHandler(router, logging.NewLogger(), nil)

	err := handler(context.Background(), kafka.Message{
		Topic: DefaultEventTopic,
		Value: []byte("not json"),
	})
	require.NoError(t, err)
	assert.Empty(t, b.sent)
}
