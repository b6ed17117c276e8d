package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/doubt-service/internal/domain"
	"github.com/spec-kit/doubt-service/internal/events"
	"github.com/spec-kit/doubt-service/internal/repository"
	apperrors "github.com/spec-kit/doubt-service/pkg/util/errorutil"
)

// StudentService handles ownership-scoped student workflows.
type StudentService struct {
	workflow
	enrolment EnrollmentProvider
}

// StudentDependencies bundles collaborators for the student service.
type StudentDependencies struct {
	Repo      repository.DoubtRepository
	Users     repository.UserRepository
	Courses   repository.CourseRepository
	Enrolment EnrollmentProvider
	Store     AttachmentStore
	Notifier  Notifier
	Events    EventEmitter
	Labels    LocalizationProvider
	Logger    *zap.Logger
	Clock     func() time.Time
	SiteURL   string
}

// CreateInput is a new doubt submitted by a student.
type CreateInput struct {
	CourseID int64
	Subject  string
	Details  string
	Priority string
	Uploads  domain.Uploads
}

// NewStudentService constructs the service.
func NewStudentService(deps StudentDependencies) *StudentService {
	enrolment := deps.Enrolment
	if enrolment == nil {
		enrolment = deps.Courses
	}
	return &StudentService{
		workflow: newWorkflow(deps.Repo, deps.Users, deps.Courses, deps.Store, deps.Notifier,
			deps.Events, deps.Labels, deps.Logger, deps.Clock, deps.SiteURL),
		enrolment: enrolment,
	}
}

// List returns the student's own doubts, optionally limited to one course.
func (s *StudentService) List(ctx context.Context, studentID int64, courseID *int64) ([]DoubtListItem, error) {
	rows, err := s.repo.ListDoubtsForStudent(ctx, studentID, courseID)
	if err != nil {
		return nil, fmt.Errorf("list student doubts: %w", err)
	}
	items := make([]DoubtListItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, s.listItem(row))
	}
	return items, nil
}

// Create opens a doubt with its first message. An unknown priority falls
// back to normal.
func (s *StudentService) Create(ctx context.Context, studentID int64, input CreateInput) (*CreateResult, error) {
	subject := strings.TrimSpace(input.Subject)
	details := strings.TrimSpace(input.Details)
	if subject == "" || details == "" {
		return nil, apperrors.NewValidationError("subject and details are required", map[string]any{
			"subject": subject == "",
			"details": details == "",
		})
	}
	course, err := s.courses.GetByID(ctx, input.CourseID)
	if err != nil {
		return nil, loadError("course", err)
	}
	enrolled, err := s.enrolment.IsEnrolled(ctx, course.ID, studentID)
	if err != nil {
		return nil, fmt.Errorf("check enrolment: %w", err)
	}
	if !enrolled {
		return nil, apperrors.NewForbidden("you are not enrolled in this course")
	}
	if err := s.verifyUploads(input.Uploads); err != nil {
		return nil, err
	}

	now := s.now()
	doubt := &domain.Doubt{
		CourseID:     course.ID,
		ContextID:    course.ContextID,
		StudentID:    studentID,
		Subject:      subject,
		Summary:      details,
		Status:       domain.DoubtStatusOpen,
		Priority:     domain.CoercePriority(input.Priority),
		TimeCreated:  now,
		TimeModified: now,
	}
	msg := &domain.Message{
		AuthorID:       studentID,
		ActorRole:      domain.ActorRoleStudent,
		Body:           details,
		BodyFormat:     domain.FormatHTML,
		Visibility:     domain.VisibilityPublic,
		HasAttachments: !input.Uploads.Empty(),
		TimeCreated:    now,
		TimeModified:   now,
	}

	err = s.repo.WithinTx(ctx, func(tx repository.DoubtRepository) error {
		id, err := tx.CreateDoubt(ctx, doubt)
		if err != nil {
			return apperrors.NewStorageFailure("create doubt", err)
		}
		doubt.ID = id
		msg.DoubtID = id

		if msg.ID, err = tx.InsertMessage(ctx, msg); err != nil {
			return apperrors.NewStorageFailure("insert message", err)
		}
		if err := tx.UpdateDoubtFields(ctx, doubt.ID, repository.DoubtFields{LastMessageID: &msg.ID, TimeModified: &now}); err != nil {
			return apperrors.NewStorageFailure("update doubt", err)
		}
		_, err = s.storeUploads(ctx, tx, studentID, doubt, msg, input.Uploads)
		return err
	})
	if err != nil {
		if msg.HasAttachments {
			s.discardBlobs(ctx, doubt, msg)
		}
		return nil, storageFailure("create doubt", err)
	}

	s.publishEvent(ctx, events.Event{
		Type:     events.EventDoubtCreated,
		DoubtID:  doubt.ID,
		CourseID: doubt.CourseID,
		ScopeID:  doubt.ContextID,
		ActorID:  studentID,
		Payload: events.DoubtCreatedPayload{
			StudentID: studentID,
			Priority:  doubt.Priority,
			Subject:   doubt.Subject,
			MessageID: msg.ID,
		},
	})
	return &CreateResult{DoubtID: doubt.ID, MessageID: msg.ID}, nil
}

// GetDetail returns the owner's view of a doubt. Doubts owned by someone
// else are reported as not found.
func (s *StudentService) GetDetail(ctx context.Context, doubtID, studentID int64) (*StudentDoubtDetail, error) {
	doubt, err := s.repo.GetDoubtForStudent(ctx, doubtID, studentID)
	if err != nil {
		return nil, loadError("doubt", err)
	}
	header, err := s.doubtView(ctx, doubt)
	if err != nil {
		return nil, err
	}
	msgs, err := s.repo.GetMessagesVisibleToStudent(ctx, doubt.ID)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	messages, err := s.messageViews(ctx, doubt, msgs)
	if err != nil {
		return nil, err
	}
	return &StudentDoubtDetail{Doubt: header, Messages: messages}, nil
}

// nextStatusAfterStudentReply applies the implicit transition of a student
// reply and reports whether the doubt is being reopened.
func nextStatusAfterStudentReply(current domain.DoubtStatus) (domain.DoubtStatus, bool) {
	switch current {
	case domain.DoubtStatusWaitingStudent:
		return domain.DoubtStatusInProgress, false
	case domain.DoubtStatusResolved, domain.DoubtStatusArchived:
		return domain.DoubtStatusOpen, true
	default:
		return current, false
	}
}

// Reply posts a student message on an owned doubt.
func (s *StudentService) Reply(ctx context.Context, doubtID, studentID int64, message string, uploads domain.Uploads) (*ReplyResult, error) {
	doubt, err := s.repo.GetDoubtForStudent(ctx, doubtID, studentID)
	if err != nil {
		return nil, loadError("doubt", err)
	}
	body := strings.TrimSpace(message)
	if body == "" && uploads.Empty() {
		return nil, apperrors.NewValidationError("message or attachment required", nil)
	}
	if err := s.verifyUploads(uploads); err != nil {
		return nil, err
	}

	now := s.now()
	msg := &domain.Message{
		DoubtID:        doubt.ID,
		AuthorID:       studentID,
		ActorRole:      domain.ActorRoleStudent,
		Body:           body,
		BodyFormat:     domain.FormatHTML,
		Visibility:     domain.VisibilityPublic,
		HasAttachments: !uploads.Empty(),
		TimeCreated:    now,
		TimeModified:   now,
	}
	oldStatus := doubt.Status
	newStatus, reopened := nextStatusAfterStudentReply(oldStatus)
	note := s.label("note_student_reply")

	var attachments []domain.Attachment
	err = s.repo.WithinTx(ctx, func(tx repository.DoubtRepository) error {
		id, err := tx.InsertMessage(ctx, msg)
		if err != nil {
			return apperrors.NewStorageFailure("insert message", err)
		}
		msg.ID = id

		if attachments, err = s.storeUploads(ctx, tx, studentID, doubt, msg, uploads); err != nil {
			return err
		}
		if body == "" && len(attachments) == 0 {
			return apperrors.NewValidationError("message or attachment required", nil)
		}

		fields := repository.DoubtFields{LastMessageID: &msg.ID, TimeModified: &now}
		if newStatus != oldStatus {
			fields.Status = &newStatus
		}
		if reopened && doubt.TimeResolved != 0 {
			zero := int64(0)
			fields.TimeResolved = &zero
		}
		if err := tx.UpdateDoubtFields(ctx, doubt.ID, fields); err != nil {
			return apperrors.NewStorageFailure("update doubt", err)
		}
		if newStatus != oldStatus {
			actor := studentID
			if _, err := tx.LogStatusChange(ctx, &domain.StatusHistory{
				DoubtID:     doubt.ID,
				ActorID:     &actor,
				OldStatus:   oldStatus,
				NewStatus:   newStatus,
				Note:        note,
				TimeCreated: now,
			}); err != nil {
				return apperrors.NewStorageFailure("log status change", err)
			}
		}
		return nil
	})
	if err != nil {
		if msg.HasAttachments {
			s.discardBlobs(ctx, doubt, msg)
		}
		return nil, storageFailure("reply", err)
	}

	statusChanged := newStatus != oldStatus
	s.publishEvent(ctx, events.Event{
		Type:     events.EventDoubtReplied,
		DoubtID:  doubt.ID,
		CourseID: doubt.CourseID,
		ScopeID:  doubt.ContextID,
		ActorID:  studentID,
		Payload: events.DoubtRepliedPayload{
			MessageID:   msg.ID,
			ActorRole:   domain.ActorRoleStudent,
			Visibility:  domain.VisibilityPublic,
			Attachments: len(attachments),
		},
	})
	if statusChanged {
		s.publishEvent(ctx, events.Event{
			Type:     events.EventDoubtStatusChanged,
			DoubtID:  doubt.ID,
			CourseID: doubt.CourseID,
			ScopeID:  doubt.ContextID,
			ActorID:  studentID,
			Payload:  events.DoubtStatusChangedPayload{OldStatus: oldStatus, NewStatus: newStatus, Note: note},
		})
	}
	if assignee := doubt.Assignee(); assignee != nil {
		s.notify(ctx, s.notification("student_reply", *assignee, studentID, doubt, s.notificationVars(ctx, studentID, doubt)))
	}

	return &ReplyResult{
		MessageID:     msg.ID,
		Status:        newStatus,
		StatusChanged: statusChanged,
		Attachments:   len(attachments),
	}, nil
}
