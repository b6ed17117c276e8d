package events

import (
	"time"

	"github.com/spec-kit/doubt-service/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventDoubtCreated       EventType = "doubt_created"
	EventDoubtReplied       EventType = "doubt_replied"
	EventDoubtStatusChanged EventType = "doubt_status_changed"
	EventDoubtAssigned      EventType = "doubt_assigned"
)

// AllEventTypes lists every event the services emit.
func AllEventTypes() []EventType {
	return []EventType{EventDoubtCreated, EventDoubtReplied, EventDoubtStatusChanged, EventDoubtAssigned}
}

// Event represents a domain event emitted by services.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	DoubtID   int64       `json:"doubt_id"`
	CourseID  int64       `json:"course_id"`
	ScopeID   int64       `json:"scope_id"`
	ActorID   int64       `json:"actor_id"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// DoubtCreatedPayload payload.
type DoubtCreatedPayload struct {
	StudentID int64                `json:"student_id"`
	Priority  domain.DoubtPriority `json:"priority"`
	Subject   string               `json:"subject"`
	MessageID int64                `json:"message_id"`
}

// DoubtRepliedPayload payload.
type DoubtRepliedPayload struct {
	MessageID    int64             `json:"message_id"`
	ActorRole    domain.ActorRole  `json:"actor_role"`
	Visibility   domain.Visibility `json:"visibility"`
	IsResolution bool              `json:"is_resolution"`
	Attachments  int               `json:"attachments"`
}

// DoubtStatusChangedPayload payload.
type DoubtStatusChangedPayload struct {
	OldStatus domain.DoubtStatus `json:"old_status"`
	NewStatus domain.DoubtStatus `json:"new_status"`
	Note      string             `json:"note,omitempty"`
}

// DoubtAssignedPayload payload. AssigneeID is nil when the doubt was unassigned.
type DoubtAssignedPayload struct {
	PreviousAssigneeID *int64 `json:"previous_assignee_id,omitempty"`
	AssigneeID         *int64 `json:"assignee_id,omitempty"`
}
