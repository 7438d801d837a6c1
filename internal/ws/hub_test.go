package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"grievanceportal/internal/store"
	"grievanceportal/pkg/logging"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// newTestClient opens a real websocket pair and wraps the server side in a
// Client. The returned peer connection reads what the client is sent.
func newTestClient(t *testing.T, hub *Hub, identity store.Identity, conversationID int64, onMessage MessageHandler) (*Client, *websocket.Conn) {
	t.Helper()

	clientCh := make(chan *Client, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		c := NewClient(hub, conn, identity, conversationID, onMessage, logging.NewLogger())
		c.Start()
		clientCh <- c
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	peer, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { peer.Close() })

	select {
	case c := <-clientCh:
		t.Cleanup(c.Close)
		return c, peer
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server-side client")
		return nil, nil
	}
}

func readFrame(t *testing.T, peer *websocket.Conn) []byte {
	t.Helper()
	_ = peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, frame, err := peer.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return frame
}

func testIdentity(id int64, role string) store.Identity {
	return store.Identity{ID: id, Username: "user", Name: "User", Role: role, Active: true}
}

func TestJoinIsIdempotent(t *testing.T) {
	hub := NewHub(logging.NewLogger(), nil)
	c, _ := newTestClient(t, hub, testIdentity(1, store.RoleStudent), 42, nil)

	hub.Join(ChatGroup(42), c)
	hub.Join(ChatGroup(42), c)

	if got := hub.MemberCount(ChatGroup(42)); got != 1 {
		t.Fatalf("expected 1 member after double join, got %d", got)
	}
}

func TestLeaveIsIdempotent(t *testing.T) {
	hub := NewHub(logging.NewLogger(), nil)
	c, _ := newTestClient(t, hub, testIdentity(1, store.RoleStudent), 42, nil)

	hub.Join(ChatGroup(42), c)
	hub.Leave(ChatGroup(42), c)
	if got := hub.MemberCount(ChatGroup(42)); got != 0 {
		t.Fatalf("expected 0 members after leave, got %d", got)
	}

	// Second leave, and a leave on a group that no longer exists.
	hub.Leave(ChatGroup(42), c)
	hub.Leave("chat:999", c)
	if got := hub.MemberCount(ChatGroup(42)); got != 0 {
		t.Fatalf("expected member count unaffected by repeated leave, got %d", got)
	}
}

func TestBroadcastLocalDeliversToAllMembers(t *testing.T) {
	hub := NewHub(logging.NewLogger(), nil)
	a, peerA := newTestClient(t, hub, testIdentity(1, store.RoleStudent), 42, nil)
	b, peerB := newTestClient(t, hub, testIdentity(2, store.RoleAdmin), 42, nil)

	hub.Join(ChatGroup(42), a)
	hub.Join(ChatGroup(42), b)

	hub.BroadcastLocal(ChatGroup(42), []byte(`{"type":"chat_message"}`))

	for _, peer := range []*websocket.Conn{peerA, peerB} {
		var decoded map[string]interface{}
		if err := json.Unmarshal(readFrame(t, peer), &decoded); err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		if decoded["type"] != "chat_message" {
			t.Fatalf("unexpected frame type %v", decoded["type"])
		}
	}
}

func TestBroadcastToEmptyGroupIsNoop(t *testing.T) {
	hub := NewHub(logging.NewLogger(), nil)
	// Must not panic or error.
	hub.BroadcastLocal("chat:404", []byte(`{}`))
}

func TestBroadcastSurvivesClosedMember(t *testing.T) {
	hub := NewHub(logging.NewLogger(), nil)
	a, peerA := newTestClient(t, hub, testIdentity(1, store.RoleStudent), 42, nil)
	b, _ := newTestClient(t, hub, testIdentity(2, store.RoleStudent), 42, nil)

	hub.Join(ChatGroup(42), a)
	hub.Join(ChatGroup(42), b)

	// Abrupt disconnect of one member mid-session.
	b.Close()

	hub.BroadcastLocal(ChatGroup(42), []byte(`{"type":"chat_message"}`))

	frame := readFrame(t, peerA)
	if !strings.Contains(string(frame), "chat_message") {
		t.Fatalf("remaining member did not receive broadcast: %s", frame)
	}
	if got := hub.MemberCount(ChatGroup(42)); got != 1 {
		t.Fatalf("expected closed member removed, got %d members", got)
	}
}

func TestCloseRemovesFromAllGroups(t *testing.T) {
	hub := NewHub(logging.NewLogger(), nil)
	c, _ := newTestClient(t, hub, testIdentity(3, store.RoleAdmin), 0, nil)

	hub.Join(NotifyGroup(3), c)
	hub.Join(AdminBroadcastGroup, c)

	c.Close()

	if got := hub.MemberCount(NotifyGroup(3)); got != 0 {
		t.Fatalf("expected personal group empty after close, got %d", got)
	}
	if got := hub.MemberCount(AdminBroadcastGroup); got != 0 {
		t.Fatalf("expected broadcast group empty after close, got %d", got)
	}
	if c.SendFrame([]byte(`{}`)) {
		t.Fatal("expected SendFrame to report failure after close")
	}
}

func TestGetStats(t *testing.T) {
	hub := NewHub(logging.NewLogger(), nil)
	c, _ := newTestClient(t, hub, testIdentity(3, store.RoleAdmin), 0, nil)

	hub.Join(NotifyGroup(3), c)
	hub.Join(AdminBroadcastGroup, c)

	stats := hub.GetStats()
	if stats["total_clients"] != 1 {
		t.Fatalf("expected 1 client, got %v", stats["total_clients"])
	}
	groups := stats["group_memberships"].(map[string]int)
	if groups[NotifyGroup(3)] != 1 || groups[AdminBroadcastGroup] != 1 {
		t.Fatalf("unexpected group stats: %v", groups)
	}
}

func TestBroadcasterLocalFallback(t *testing.T) {
	hub := NewHub(logging.NewLogger(), nil)
	c, peer := newTestClient(t, hub, testIdentity(1, store.RoleStudent), 42, nil)
	hub.Join(ChatGroup(42), c)

	// No backbone configured: frames go straight to local members.
	b := NewBroadcaster(hub, nil, "", logging.NewLogger(), nil)
	err := b.Broadcast(context.Background(), ChatGroup(42), Envelope{
		Type:    TypeChatMessage,
		Payload: ChatMessagePayload{ID: 7, Message: "Hello", Timestamp: "2026-01-02T15:04:05Z"},
	})
	if err != nil {
		t.Fatalf("broadcast: %v", err)
	}

	var env struct {
		Type    string             `json:"type"`
		Payload ChatMessagePayload `json:"payload"`
	}
	if err := json.Unmarshal(readFrame(t, peer), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Type != TypeChatMessage || env.Payload.ID != 7 {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}

func TestErrorFrameShape(t *testing.T) {
	frame := ErrorFrame("Invalid message content.")
	var decoded map[string]string
	if err := json.Unmarshal(frame, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded["type"] != "error" || decoded["message"] != "Invalid message content." {
		t.Fatalf("unexpected error frame: %v", decoded)
	}
}

func TestGroupNames(t *testing.T) {
	if ChatGroup(42) != "chat:42" {
		t.Fatalf("unexpected chat group name %q", ChatGroup(42))
	}
	if NotifyGroup(7) != "notify:7" {
		t.Fatalf("unexpected notify group name %q", NotifyGroup(7))
	}
}
