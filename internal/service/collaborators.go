package service

import (
	"context"

	"github.com/spec-kit/doubt-service/internal/domain"
	"github.com/spec-kit/doubt-service/internal/events"
)

// AuthorizationGate answers capability checks for a user on a scope.
type AuthorizationGate interface {
	HasCapability(ctx context.Context, capability domain.Capability, scopeID, userID int64) (bool, error)
}

// AttachmentStore persists attachment blobs keyed by scope, area and item.
type AttachmentStore interface {
	Verify(upload domain.Upload) error
	Store(ctx context.Context, scopeID int64, area string, itemID int64, upload domain.Upload) (domain.StoredFile, error)
	List(ctx context.Context, scopeID int64, area string, itemID int64) ([]domain.StoredFile, error)
	URLFor(handle string) (string, error)
	PromoteDraft(ctx context.Context, userID, draftItemID, scopeID int64, area string, itemID int64) ([]domain.StoredFile, error)
	DeleteArea(ctx context.Context, scopeID int64, area string, itemID int64) error
}

// Notifier delivers a notification to a user. Delivery is best-effort.
type Notifier interface {
	Send(ctx context.Context, notification domain.Notification) error
}

// EventEmitter publishes workflow events.
type EventEmitter interface {
	Publish(ctx context.Context, event events.Event) error
}

// LocalizationProvider resolves display labels.
type LocalizationProvider interface {
	Label(key string) string
}

// EnrollmentProvider reports course membership.
type EnrollmentProvider interface {
	IsEnrolled(ctx context.Context, courseID, userID int64) (bool, error)
}
