package notify

// ChatMessageEvent is raised in-process by the message pipeline after a
// chat message's persistence commit.
type ChatMessageEvent struct {
	ConversationID int64
	MessageID      int64
	SenderID       int64
	SenderName     string
	SenderRole     string
	Preview        string
}

// ProfileUpdatedEvent arrives on the domain event topic when an identity's
// profile is updated by the user-management collaborator.
type ProfileUpdatedEvent struct {
	UserID int64 `json:"user_id"`
}

// GrievanceCreatedEvent arrives on the domain event topic when a grievance
// is submitted.
type GrievanceCreatedEvent struct {
	GrievanceID int64  `json:"grievance_id"`
	Title       string `json:"title"`
	Status      string `json:"status"`
	SubmittedBy int64  `json:"submitted_by"`
}

// GrievanceStatusChangedEvent arrives on the domain event topic when a
// grievance's status moves.
type GrievanceStatusChangedEvent struct {
	GrievanceID int64  `json:"grievance_id"`
	Status      string `json:"status"`
	SubmittedBy int64  `json:"submitted_by"`
}

// NewMessagePayload is the notification payload for a new chat message.
type NewMessagePayload struct {
	ConversationID int64  `json:"conversation_id"`
	SenderID       int64  `json:"sender_id"`
	SenderName     string `json:"sender_name"`
	Preview        string `json:"preview"`
}

// ProfileUpdatedPayload mirrors the updated identity back to its own open
// sessions (multi-tab avatar/name sync).
type ProfileUpdatedPayload struct {
	ID           int64   `json:"id"`
	Name         string  `json:"name"`
	ProfileImage *string `json:"profile_image"`
}

// GrievancePayload carries grievance notification fields.
type GrievancePayload struct {
	GrievanceID int64  `json:"grievance_id"`
	Title       string `json:"title,omitempty"`
	Status      string `json:"status"`
	SubmittedBy int64  `json:"submitted_by,omitempty"`
}
