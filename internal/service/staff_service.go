package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/doubt-service/internal/domain"
	"github.com/spec-kit/doubt-service/internal/events"
	"github.com/spec-kit/doubt-service/internal/repository"
	apperrors "github.com/spec-kit/doubt-service/pkg/util/errorutil"
)

// StaffService orchestrates teacher and manager workflows.
type StaffService struct {
	workflow
	gate AuthorizationGate
}

// StaffDependencies bundles collaborators for the staff service.
type StaffDependencies struct {
	Repo     repository.DoubtRepository
	Users    repository.UserRepository
	Courses  repository.CourseRepository
	Gate     AuthorizationGate
	Store    AttachmentStore
	Notifier Notifier
	Events   EventEmitter
	Labels   LocalizationProvider
	Logger   *zap.Logger
	Clock    func() time.Time
	SiteURL  string
}

// ReplyInput is a staff reply.
type ReplyInput struct {
	Message      string
	Format       int
	Visibility   string
	IsResolution bool
	Uploads      domain.Uploads
}

// NewStaffService constructs the service.
func NewStaffService(deps StaffDependencies) *StaffService {
	return &StaffService{
		workflow: newWorkflow(deps.Repo, deps.Users, deps.Courses, deps.Store, deps.Notifier,
			deps.Events, deps.Labels, deps.Logger, deps.Clock, deps.SiteURL),
		gate: deps.Gate,
	}
}

type tiers struct {
	view, reply, manage bool
}

// tiersFor resolves the caller's capability tiers on a scope. A higher tier
// implies the lower ones.
func (s *StaffService) tiersFor(ctx context.Context, scopeID, userID int64) (tiers, error) {
	var t tiers
	var err error
	if t.manage, err = s.gate.HasCapability(ctx, domain.CapabilityManage, scopeID, userID); err != nil {
		return t, fmt.Errorf("check manage capability: %w", err)
	}
	if !t.manage {
		if t.reply, err = s.gate.HasCapability(ctx, domain.CapabilityReply, scopeID, userID); err != nil {
			return t, fmt.Errorf("check reply capability: %w", err)
		}
	}
	if !t.manage && !t.reply {
		if t.view, err = s.gate.HasCapability(ctx, domain.CapabilityView, scopeID, userID); err != nil {
			return t, fmt.Errorf("check view capability: %w", err)
		}
	}
	t.reply = t.reply || t.manage
	t.view = t.view || t.reply
	return t, nil
}

// loadForStaff loads a doubt and the caller's tiers, requiring view access.
func (s *StaffService) loadForStaff(ctx context.Context, doubtID, userID int64) (*domain.Doubt, tiers, error) {
	doubt, err := s.repo.GetDoubt(ctx, doubtID)
	if err != nil {
		return nil, tiers{}, loadError("doubt", err)
	}
	t, err := s.tiersFor(ctx, doubt.ContextID, userID)
	if err != nil {
		return nil, tiers{}, err
	}
	if !t.view {
		return nil, tiers{}, apperrors.NewForbidden("you cannot view this doubt")
	}
	return doubt, t, nil
}

// ListForTeacher lists doubts in the caller's accessible scopes.
func (s *StaffService) ListForTeacher(ctx context.Context, userID int64, filters ListFilters, page, perPage int) (*DoubtListResult, error) {
	if page < 1 {
		page = 1
	}
	filter := s.sanitizeFilters(userID, filters)

	scopeIDs, err := s.repo.ListAccessibleScopeIDs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve scopes: %w", err)
	}

	result := &DoubtListResult{
		Records:    []DoubtListItem{},
		Pagination: Pagination{Page: page, PerPage: perPage},
	}
	if scopeIDs != nil && len(scopeIDs) == 0 {
		return result, nil
	}

	total, rows, err := s.repo.ListDoubts(ctx, scopeIDs, filter, page, perPage)
	if err != nil {
		return nil, fmt.Errorf("list doubts: %w", err)
	}
	for _, row := range rows {
		result.Records = append(result.Records, s.listItem(row))
	}
	result.Pagination.Total = total
	result.Pagination.PageCount = pageCount(total, perPage)
	return result, nil
}

func pageCount(total, perPage int) int {
	if perPage <= 0 {
		return 0
	}
	return (total + perPage - 1) / perPage
}

// sanitizeFilters drops status and priority values outside the enumerations.
func (s *StaffService) sanitizeFilters(userID int64, filters ListFilters) repository.DoubtFilter {
	filter := repository.DoubtFilter{Search: strings.TrimSpace(filters.Search)}
	if status, ok := domain.ParseDoubtStatus(strings.TrimSpace(filters.Status)); ok {
		filter.Status = &status
	}
	if priority, ok := domain.ParseDoubtPriority(strings.TrimSpace(filters.Priority)); ok {
		filter.Priority = &priority
	}
	switch assigned := strings.TrimSpace(filters.Assigned); assigned {
	case "":
	case "unassigned":
		unassigned := domain.Unassigned
		filter.AssignedTo = &unassigned
	case "me":
		me := userID
		filter.AssignedTo = &me
	default:
		if id, err := strconv.ParseInt(assigned, 10, 64); err == nil && id > 0 {
			filter.AssignedTo = &id
		}
	}
	return filter
}

// GetSummary returns status counts over the caller's accessible scopes.
func (s *StaffService) GetSummary(ctx context.Context, userID int64) (domain.SummaryCounts, error) {
	scopeIDs, err := s.repo.ListAccessibleScopeIDs(ctx, userID)
	if err != nil {
		return domain.SummaryCounts{}, fmt.Errorf("resolve scopes: %w", err)
	}
	counts, err := s.repo.GetSummaryCounts(ctx, scopeIDs)
	if err != nil {
		return domain.SummaryCounts{}, fmt.Errorf("summary counts: %w", err)
	}
	return counts, nil
}

// GetDetail returns the full staff view of a doubt.
func (s *StaffService) GetDetail(ctx context.Context, doubtID, userID int64) (*StaffDoubtDetail, error) {
	doubt, t, err := s.loadForStaff(ctx, doubtID, userID)
	if err != nil {
		return nil, err
	}
	return s.detail(ctx, doubt, t)
}

func (s *StaffService) detail(ctx context.Context, doubt *domain.Doubt, t tiers) (*StaffDoubtDetail, error) {
	header, err := s.doubtView(ctx, doubt)
	if err != nil {
		return nil, err
	}
	msgs, err := s.repo.GetMessages(ctx, doubt.ID)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	messages, err := s.messageViews(ctx, doubt, msgs)
	if err != nil {
		return nil, err
	}
	history, err := s.historyViews(ctx, doubt.ID)
	if err != nil {
		return nil, err
	}
	return &StaffDoubtDetail{
		Doubt:         header,
		Messages:      messages,
		History:       history,
		StatusOptions: s.statusOptions(doubt.Status),
		CanReply:      t.reply,
		CanManage:     t.manage,
	}, nil
}

func (s *StaffService) historyViews(ctx context.Context, doubtID int64) ([]HistoryView, error) {
	entries, err := s.repo.GetStatusHistory(ctx, doubtID)
	if err != nil {
		return nil, fmt.Errorf("load status history: %w", err)
	}
	actorIDs := make([]int64, 0, len(entries))
	for _, entry := range entries {
		if entry.ActorID != nil {
			actorIDs = append(actorIDs, *entry.ActorID)
		}
	}
	actors, err := s.users.GetByIDs(ctx, actorIDs)
	if err != nil {
		return nil, fmt.Errorf("load history actors: %w", err)
	}
	views := make([]HistoryView, 0, len(entries))
	for _, entry := range entries {
		view := HistoryView{
			ID:                 entry.ID,
			ActorID:            entry.ActorID,
			OldStatus:          entry.OldStatus,
			OldStatusLabel:     s.statusLabel(entry.OldStatus),
			NewStatus:          entry.NewStatus,
			NewStatusLabel:     s.statusLabel(entry.NewStatus),
			Note:               entry.Note,
			TimeCreated:        entry.TimeCreated,
			TimeCreatedDisplay: formatTime(entry.TimeCreated),
		}
		if entry.ActorID != nil {
			view.ActorName = actors[*entry.ActorID].FullName()
		}
		views = append(views, view)
	}
	return views, nil
}

func (s *StaffService) statusOptions(current domain.DoubtStatus) []StatusOption {
	all := domain.AllDoubtStatuses()
	options := make([]StatusOption, 0, len(all))
	for _, status := range all {
		options = append(options, StatusOption{
			Value:    status,
			Label:    s.statusLabel(status),
			Selected: status == current,
		})
	}
	return options
}

// Reply posts a staff message. The message, its attachments, the doubt
// update and any history row are written in one transaction; events and
// notifications follow only after it commits.
func (s *StaffService) Reply(ctx context.Context, doubtID, userID int64, input ReplyInput) (*ReplyResult, error) {
	doubt, t, err := s.loadForStaff(ctx, doubtID, userID)
	if err != nil {
		return nil, err
	}
	if !t.reply {
		return nil, apperrors.NewForbidden("you cannot reply to this doubt")
	}
	visibility, ok := domain.ParseVisibility(strings.TrimSpace(input.Visibility))
	if !ok {
		return nil, apperrors.NewValidationError("invalid visibility", map[string]any{"visibility": input.Visibility})
	}
	body := strings.TrimSpace(input.Message)
	if body == "" && input.Uploads.Empty() {
		return nil, apperrors.NewValidationError("message or attachment required", nil)
	}
	if err := s.verifyUploads(input.Uploads); err != nil {
		return nil, err
	}

	role := domain.ActorRoleTeacher
	if t.manage {
		role = domain.ActorRoleManager
	}
	now := s.now()
	msg := &domain.Message{
		DoubtID:        doubt.ID,
		AuthorID:       userID,
		ActorRole:      role,
		Body:           body,
		BodyFormat:     domain.NormalizeFormat(input.Format),
		Visibility:     visibility,
		HasAttachments: !input.Uploads.Empty(),
		IsResolution:   input.IsResolution,
		TimeCreated:    now,
		TimeModified:   now,
	}
	oldStatus := doubt.Status
	newStatus := oldStatus
	if input.IsResolution {
		newStatus = domain.DoubtStatusResolved
	}
	note := s.label("note_resolved_by_reply")

	var attachments []domain.Attachment
	err = s.repo.WithinTx(ctx, func(tx repository.DoubtRepository) error {
		id, err := tx.InsertMessage(ctx, msg)
		if err != nil {
			return apperrors.NewStorageFailure("insert message", err)
		}
		msg.ID = id

		if attachments, err = s.storeUploads(ctx, tx, userID, doubt, msg, input.Uploads); err != nil {
			return err
		}
		if body == "" && len(attachments) == 0 {
			return apperrors.NewValidationError("message or attachment required", nil)
		}

		fields := repository.DoubtFields{LastMessageID: &msg.ID, TimeModified: &now}
		if newStatus != oldStatus {
			fields.Status = &newStatus
			fields.TimeResolved = &now
		}
		if err := tx.UpdateDoubtFields(ctx, doubt.ID, fields); err != nil {
			return apperrors.NewStorageFailure("update doubt", err)
		}
		if newStatus != oldStatus {
			actor := userID
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
		ActorID:  userID,
		Payload: events.DoubtRepliedPayload{
			MessageID:    msg.ID,
			ActorRole:    role,
			Visibility:   visibility,
			IsResolution: input.IsResolution,
			Attachments:  len(attachments),
		},
	})
	if visibility == domain.VisibilityPublic || statusChanged {
		vars := s.notificationVars(ctx, userID, doubt)
		if visibility == domain.VisibilityPublic {
			s.notify(ctx, s.notification("reply", doubt.StudentID, userID, doubt, vars))
		}
		if statusChanged {
			s.publishEvent(ctx, events.Event{
				Type:     events.EventDoubtStatusChanged,
				DoubtID:  doubt.ID,
				CourseID: doubt.CourseID,
				ScopeID:  doubt.ContextID,
				ActorID:  userID,
				Payload:  events.DoubtStatusChangedPayload{OldStatus: oldStatus, NewStatus: newStatus, Note: note},
			})
			s.notify(ctx, s.notification("resolved", doubt.StudentID, userID, doubt, vars))
		}
	}

	return &ReplyResult{
		MessageID:     msg.ID,
		Status:        newStatus,
		StatusChanged: statusChanged,
		Attachments:   len(attachments),
	}, nil
}

// UpdateStatus moves a doubt to status. Setting the current status is a no-op.
func (s *StaffService) UpdateStatus(ctx context.Context, doubtID, userID int64, status, note string) (*StaffDoubtDetail, error) {
	doubt, t, err := s.loadForStaff(ctx, doubtID, userID)
	if err != nil {
		return nil, err
	}
	if !t.manage {
		return nil, apperrors.NewForbidden("you cannot change the status of this doubt")
	}
	newStatus, ok := domain.ParseDoubtStatus(strings.TrimSpace(status))
	if !ok {
		return nil, apperrors.NewValidationError("invalid status", map[string]any{"status": status})
	}
	if newStatus == doubt.Status {
		return s.detail(ctx, doubt, t)
	}

	oldStatus := doubt.Status
	note = strings.TrimSpace(note)
	now := s.now()
	err = s.repo.WithinTx(ctx, func(tx repository.DoubtRepository) error {
		fields := repository.DoubtFields{Status: &newStatus, TimeModified: &now}
		if newStatus == domain.DoubtStatusResolved {
			fields.TimeResolved = &now
		}
		if err := tx.UpdateDoubtFields(ctx, doubt.ID, fields); err != nil {
			return apperrors.NewStorageFailure("update doubt", err)
		}
		actor := userID
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
		return nil
	})
	if err != nil {
		return nil, storageFailure("update status", err)
	}

	s.publishEvent(ctx, events.Event{
		Type:     events.EventDoubtStatusChanged,
		DoubtID:  doubt.ID,
		CourseID: doubt.CourseID,
		ScopeID:  doubt.ContextID,
		ActorID:  userID,
		Payload:  events.DoubtStatusChangedPayload{OldStatus: oldStatus, NewStatus: newStatus, Note: note},
	})
	vars := s.notificationVars(ctx, userID, doubt)
	vars["status"] = s.statusLabel(newStatus)
	s.notify(ctx, s.notification("status", doubt.StudentID, userID, doubt, vars))

	return s.reload(ctx, doubt.ID, t)
}

// Assign sets or clears the assignee. A nil assigneeID unassigns.
func (s *StaffService) Assign(ctx context.Context, doubtID, userID int64, assigneeID *int64) (*StaffDoubtDetail, error) {
	doubt, t, err := s.loadForStaff(ctx, doubtID, userID)
	if err != nil {
		return nil, err
	}
	if !t.manage {
		return nil, apperrors.NewForbidden("you cannot assign this doubt")
	}

	target := domain.Unassigned
	if assigneeID != nil && *assigneeID != domain.Unassigned {
		assignee, err := s.users.GetByID(ctx, *assigneeID)
		if err != nil {
			return nil, loadError("assignee", err)
		}
		target = assignee.ID
	}

	previous := doubt.Assignee()
	if err := s.repo.UpdateDoubtFields(ctx, doubt.ID, repository.DoubtFields{AssignedTo: &target}); err != nil {
		return nil, storageFailure("assign doubt", err)
	}
	doubt.AssignedTo = target

	s.publishEvent(ctx, events.Event{
		Type:     events.EventDoubtAssigned,
		DoubtID:  doubt.ID,
		CourseID: doubt.CourseID,
		ScopeID:  doubt.ContextID,
		ActorID:  userID,
		Payload:  events.DoubtAssignedPayload{PreviousAssigneeID: previous, AssigneeID: doubt.Assignee()},
	})
	if target != domain.Unassigned && target != userID {
		s.notify(ctx, s.notification("assigned", target, userID, doubt, s.notificationVars(ctx, userID, doubt)))
	}

	return s.reload(ctx, doubt.ID, t)
}

func (s *StaffService) reload(ctx context.Context, doubtID int64, t tiers) (*StaffDoubtDetail, error) {
	doubt, err := s.repo.GetDoubt(ctx, doubtID)
	if err != nil {
		return nil, loadError("doubt", err)
	}
	return s.detail(ctx, doubt, t)
}
