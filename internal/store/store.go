package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"grievanceportal/pkg/database"

	"github.com/lib/pq"
)

// Identity roles. Admin and grievance-cell members hold cross-user
// read/moderate access over conversations.
const (
	RoleStudent       = "student"
	RoleTeacher       = "teacher"
	RoleStaff         = "staff"
	RoleGrievanceCell = "grievance_cell"
	RoleAdmin         = "admin"
)

// Grievance statuses
const (
	StatusSubmitted   = "SUBMITTED"
	StatusInReview    = "IN_REVIEW"
	StatusActionTaken = "ACTION_TAKEN"
	StatusResolved    = "RESOLVED"
)

var (
	ErrIdentityNotFound     = errors.New("identity not found")
	ErrConversationNotFound = errors.New("conversation not found")
)

// IsPrivileged reports whether a role grants cross-user conversation access.
func IsPrivileged(role string) bool {
	return role == RoleAdmin || role == RoleGrievanceCell
}

type Identity struct {
	ID           int64
	Username     string
	Name         string
	Role         string
	Active       bool
	ProfileImage *string
}

// DisplayName returns the identity's name, falling back to the username.
func (i *Identity) DisplayName() string {
	if i.Name != "" {
		return i.Name
	}
	return i.Username
}

type Conversation struct {
	ID        int64
	UserID    int64
	CreatedAt time.Time
}

type ChatMessage struct {
	ID             int64
	ConversationID int64
	UserID         int64
	Message        string
	CreatedAt      time.Time
}

// ConversationMessage is a chat message joined with its sender's summary,
// used for history replay.
type ConversationMessage struct {
	ChatMessage
	SenderName         string
	SenderUsername     string
	SenderProfileImage *string
}

// Store provides key lookups and inserts over the portal's record store.
// All methods are blocking; callers dispatch them off connection read loops.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// GetIdentity looks up an identity by id.
func (s *Store) GetIdentity(ctx context.Context, id int64) (*Identity, error) {
	var ident Identity
	err := s.db.QueryRowContext(
		ctx,
		`SELECT id, username, name, role, is_active, profile_image
		 FROM users
		 WHERE id = $1`,
		id,
	).Scan(&ident.ID, &ident.Username, &ident.Name, &ident.Role, &ident.Active, &ident.ProfileImage)
	if err != nil {
		if errors.Is(err, database.ErrNoRows) {
			return nil, ErrIdentityNotFound
		}
		return nil, fmt.Errorf("get identity: %w", err)
	}
	return &ident, nil
}

// GetConversation looks up a conversation by id.
func (s *Store) GetConversation(ctx context.Context, id int64) (*Conversation, error) {
	var conv Conversation
	err := s.db.QueryRowContext(
		ctx,
		`SELECT id, user_id, created_at
		 FROM conversations
		 WHERE id = $1`,
		id,
	).Scan(&conv.ID, &conv.UserID, &conv.CreatedAt)
	if err != nil {
		if errors.Is(err, database.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return &conv, nil
}

// CreateConversation provisions the per-user conversation. Each
// non-privileged identity owns exactly one; a duplicate insert returns the
// existing conversation id.
func (s *Store) CreateConversation(ctx context.Context, userID int64) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(
		ctx,
		`INSERT INTO conversations (user_id)
		 VALUES ($1)
		 ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
		 RETURNING id`,
		userID,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create conversation: %w", err)
	}
	return id, nil
}

// CreateChatMessage persists a chat message. The insert is guarded on the
// conversation still existing, in a single statement, so the result is
// create-or-nothing. The returned id and created_at are the canonical values
// for the broadcast frame.
func (s *Store) CreateChatMessage(ctx context.Context, conversationID, senderID int64, text string) (*ChatMessage, error) {
	msg := ChatMessage{
		ConversationID: conversationID,
		UserID:         senderID,
		Message:        text,
	}
	err := s.db.QueryRowContext(
		ctx,
		`INSERT INTO chat_messages (conversation_id, user_id, message)
		 SELECT c.id, $2, $3
		 FROM conversations c
		 WHERE c.id = $1
		 RETURNING id, created_at`,
		conversationID,
		senderID,
		text,
	).Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		if errors.Is(err, database.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("create chat message: %w", err)
	}
	return &msg, nil
}

// ListConversationMessages returns the most recent messages of a
// conversation in chronological order, each joined with its sender summary.
func (s *Store) ListConversationMessages(ctx context.Context, conversationID int64, limit int) ([]ConversationMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT m.id, m.conversation_id, m.user_id, m.message, m.created_at,
		        u.name, u.username, u.profile_image
		 FROM (
		     SELECT id, conversation_id, user_id, message, created_at
		     FROM chat_messages
		     WHERE conversation_id = $1
		     ORDER BY id DESC
		     LIMIT $2
		 ) m
		 JOIN users u ON u.id = m.user_id
		 ORDER BY m.id ASC`,
		conversationID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list conversation messages: %w", err)
	}
	defer rows.Close()

	var messages []ConversationMessage
	for rows.Next() {
		var m ConversationMessage
		if err := rows.Scan(
			&m.ID,
			&m.ConversationID,
			&m.UserID,
			&m.Message,
			&m.CreatedAt,
			&m.SenderName,
			&m.SenderUsername,
			&m.SenderProfileImage,
		); err != nil {
			return nil, fmt.Errorf("scan conversation message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation messages: %w", err)
	}
	return messages, nil
}

// ListActivePrivileged returns every active identity holding a privileged
// role. Used for notification recipient resolution.
func (s *Store) ListActivePrivileged(ctx context.Context) ([]Identity, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, username, name, role, is_active, profile_image
		 FROM users
		 WHERE role = ANY($1) AND is_active`,
		pq.Array([]string{RoleAdmin, RoleGrievanceCell}),
	)
	if err != nil {
		return nil, fmt.Errorf("list privileged identities: %w", err)
	}
	defer rows.Close()

	var identities []Identity
	for rows.Next() {
		var ident Identity
		if err := rows.Scan(&ident.ID, &ident.Username, &ident.Name, &ident.Role, &ident.Active, &ident.ProfileImage); err != nil {
			return nil, fmt.Errorf("scan privileged identity: %w", err)
		}
		identities = append(identities, ident)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate privileged identities: %w", err)
	}
	return identities, nil
}

// GetGrievance looks up a grievance by id for notification routing.
func (s *Store) GetGrievance(ctx context.Context, id int64) (*Grievance, error) {
	var g Grievance
	err := s.db.QueryRowContext(
		ctx,
		`SELECT id, submitted_by, title, status
		 FROM grievances
		 WHERE id = $1`,
		id,
	).Scan(&g.ID, &g.SubmittedBy, &g.Title, &g.Status)
	if err != nil {
		if errors.Is(err, database.ErrNoRows) {
			return nil, fmt.Errorf("grievance %d not found", id)
		}
		return nil, fmt.Errorf("get grievance: %w", err)
	}
	return &g, nil
}

type Grievance struct {
	ID          int64
	SubmittedBy int64
	Title       string
	Status      string
}
