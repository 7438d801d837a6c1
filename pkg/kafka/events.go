package kafka

import (
	"encoding/json"
	"time"
)

// Domain event types published by the portal's CRUD services after their
// write transactions commit.
const (
	EventUserProfileUpdated     = "user-profile-updated"
	EventGrievanceCreated       = "grievance-created"
	EventGrievanceStatusChanged = "grievance-status-changed"
)

// DomainEvent represents an entity-write event on the portal event topic.
// Data carries the event-specific payload; each consumer decodes the shape
// it expects for the given Type.
type DomainEvent struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Source    string          `json:"source"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}
