package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/doubt-service/internal/domain"
	"github.com/spec-kit/doubt-service/internal/events"
	"github.com/spec-kit/doubt-service/internal/repository"
	apperrors "github.com/spec-kit/doubt-service/pkg/util/errorutil"
)

// workflow holds the collaborators and helpers shared by the staff and
// student services.
type workflow struct {
	repo     repository.DoubtRepository
	users    repository.UserRepository
	courses  repository.CourseRepository
	store    AttachmentStore
	notifier Notifier
	events   EventEmitter
	labels   LocalizationProvider
	logger   *zap.Logger
	clock    func() time.Time
	siteURL  string
}

func newWorkflow(repo repository.DoubtRepository, users repository.UserRepository, courses repository.CourseRepository,
	store AttachmentStore, notifier Notifier, emitter EventEmitter, labels LocalizationProvider,
	logger *zap.Logger, clock func() time.Time, siteURL string) workflow {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = time.Now
	}
	return workflow{
		repo:     repo,
		users:    users,
		courses:  courses,
		store:    store,
		notifier: notifier,
		events:   emitter,
		labels:   labels,
		logger:   logger,
		clock:    clock,
		siteURL:  strings.TrimRight(siteURL, "/"),
	}
}

func (w *workflow) now() int64 {
	return w.clock().Unix()
}

func (w *workflow) label(key string) string {
	if w.labels == nil {
		return "[[" + key + "]]"
	}
	return w.labels.Label(key)
}

func (w *workflow) statusLabel(status domain.DoubtStatus) string {
	return w.label("status_" + string(status))
}

func (w *workflow) priorityLabel(priority domain.DoubtPriority) string {
	return w.label("priority_" + string(priority))
}

func formatTime(ts int64) string {
	if ts <= 0 {
		return ""
	}
	return time.Unix(ts, 0).UTC().Format(DisplayTimeFormat)
}

func (w *workflow) doubtURL(doubtID int64) string {
	return w.siteURL + "/doubts/" + strconv.FormatInt(doubtID, 10)
}

func render(template string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for key, value := range vars {
		pairs = append(pairs, "{"+key+"}", value)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// listItem converts a joined listing row into its display form.
func (w *workflow) listItem(row domain.DoubtRow) DoubtListItem {
	assigneeName := strings.TrimSpace(row.AssigneeFirstName + " " + row.AssigneeLastName)
	if row.AssignedTo == domain.Unassigned {
		assigneeName = w.label("unassigned")
	}
	return DoubtListItem{
		ID:                  row.ID,
		Subject:             row.Subject,
		CourseID:            row.CourseID,
		CourseName:          row.CourseName,
		StudentID:           row.StudentID,
		StudentName:         strings.TrimSpace(row.StudentFirstName + " " + row.StudentLastName),
		StudentEmail:        row.StudentEmail,
		AssigneeID:          row.Assignee(),
		AssigneeName:        assigneeName,
		Status:              row.Status,
		StatusLabel:         w.statusLabel(row.Status),
		Priority:            row.Priority,
		PriorityLabel:       w.priorityLabel(row.Priority),
		Resolved:            row.Status == domain.DoubtStatusResolved,
		TimeCreated:         row.TimeCreated,
		TimeModified:        row.TimeModified,
		TimeCreatedDisplay:  formatTime(row.TimeCreated),
		TimeModifiedDisplay: formatTime(row.TimeModified),
	}
}

// doubtView assembles the detail header, joining course and people names.
func (w *workflow) doubtView(ctx context.Context, doubt *domain.Doubt) (DoubtView, error) {
	row := domain.DoubtRow{Doubt: *doubt}
	course, err := w.courses.GetByID(ctx, doubt.CourseID)
	switch {
	case err == nil:
		row.CourseName = course.FullName
	case !errors.Is(err, sql.ErrNoRows):
		return DoubtView{}, fmt.Errorf("load course: %w", err)
	}
	people, err := w.users.GetByIDs(ctx, []int64{doubt.StudentID, doubt.AssignedTo})
	if err != nil {
		return DoubtView{}, fmt.Errorf("load users: %w", err)
	}
	if student, ok := people[doubt.StudentID]; ok {
		row.StudentFirstName, row.StudentLastName, row.StudentEmail = student.FirstName, student.LastName, student.Email
	}
	if assignee, ok := people[doubt.AssignedTo]; ok {
		row.AssigneeFirstName, row.AssigneeLastName = assignee.FirstName, assignee.LastName
	}
	return DoubtView{
		DoubtListItem:       w.listItem(row),
		Summary:             doubt.Summary,
		GradeBand:           doubt.GradeBand,
		Tags:                doubt.Tags,
		DueDate:             doubt.DueDate,
		TimeResolved:        doubt.TimeResolved,
		TimeResolvedDisplay: formatTime(doubt.TimeResolved),
	}, nil
}

// messageViews renders a thread. Attachments are read from the storage area
// matching each message's visibility, so internal files stay out of public
// messages even when metadata rows disagree.
func (w *workflow) messageViews(ctx context.Context, doubt *domain.Doubt, msgs []domain.Message) ([]MessageView, error) {
	views := make([]MessageView, 0, len(msgs))
	if len(msgs) == 0 {
		return views, nil
	}
	authorIDs := make([]int64, 0, len(msgs))
	messageIDs := make([]int64, 0, len(msgs))
	for _, msg := range msgs {
		authorIDs = append(authorIDs, msg.AuthorID)
		messageIDs = append(messageIDs, msg.ID)
	}
	authors, err := w.users.GetByIDs(ctx, authorIDs)
	if err != nil {
		return nil, fmt.Errorf("load authors: %w", err)
	}
	rows, err := w.repo.GetAttachmentsForMessages(ctx, messageIDs)
	if err != nil {
		return nil, fmt.Errorf("load attachments: %w", err)
	}

	for _, msg := range msgs {
		attachments, err := w.attachmentViews(ctx, doubt, msg, rows[msg.ID])
		if err != nil {
			return nil, err
		}
		views = append(views, MessageView{
			ID:                 msg.ID,
			AuthorID:           msg.AuthorID,
			AuthorName:         authors[msg.AuthorID].FullName(),
			ActorRole:          msg.ActorRole,
			Body:               msg.Body,
			BodyFormat:         msg.BodyFormat,
			Visibility:         msg.Visibility,
			IsResolution:       msg.IsResolution,
			Attachments:        attachments,
			TimeCreated:        msg.TimeCreated,
			TimeCreatedDisplay: formatTime(msg.TimeCreated),
		})
	}
	return views, nil
}

func (w *workflow) attachmentViews(ctx context.Context, doubt *domain.Doubt, msg domain.Message, rows []domain.Attachment) ([]AttachmentView, error) {
	views := []AttachmentView{}
	if !msg.HasAttachments {
		return views, nil
	}
	files, err := w.store.List(ctx, doubt.ContextID, msg.Visibility.AttachmentArea(), msg.ID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	byHandle := make(map[string]domain.Attachment, len(rows))
	for _, row := range rows {
		byHandle[row.FilePath] = row
	}
	for _, file := range files {
		view := AttachmentView{Filename: file.Filename, MimeType: file.MimeType, Size: file.Size}
		if row, ok := byHandle[file.Handle]; ok {
			view.ID = row.ID
			view.Filename = row.Filename
			if row.MimeType != "" {
				view.MimeType = row.MimeType
			}
		}
		url, err := w.store.URLFor(file.Handle)
		if err != nil {
			w.logger.Warn("unable to sign attachment url", zap.Int64("message_id", msg.ID), zap.Error(err))
		}
		view.URL = url
		views = append(views, view)
	}
	return views, nil
}

// verifyUploads rejects uploads before any mutation happens.
func (w *workflow) verifyUploads(uploads domain.Uploads) error {
	for _, upload := range uploads.Files {
		if err := w.store.Verify(upload); err != nil {
			return uploadError(upload.Filename, err)
		}
	}
	return nil
}

// storeUploads writes the files of msg into its storage area and replaces the
// message's attachment rows. It runs inside the reply transaction.
func (w *workflow) storeUploads(ctx context.Context, repo repository.DoubtRepository, userID int64, doubt *domain.Doubt, msg *domain.Message, uploads domain.Uploads) ([]domain.Attachment, error) {
	if uploads.Empty() {
		return nil, nil
	}
	area := msg.Visibility.AttachmentArea()
	files := make([]domain.StoredFile, 0, len(uploads.Files))
	for _, upload := range uploads.Files {
		file, err := w.store.Store(ctx, doubt.ContextID, area, msg.ID, upload)
		if err != nil {
			return nil, uploadError(upload.Filename, err)
		}
		files = append(files, file)
	}
	if uploads.DraftItemID != 0 {
		promoted, err := w.store.PromoteDraft(ctx, userID, uploads.DraftItemID, doubt.ContextID, area, msg.ID)
		if err != nil {
			return nil, uploadError("", err)
		}
		files = append(files, promoted...)
	}

	now := w.now()
	rows := make([]domain.Attachment, 0, len(files))
	for _, file := range files {
		rows = append(rows, domain.Attachment{
			MessageID:    msg.ID,
			Filename:     file.Filename,
			FilePath:     file.Handle,
			MimeType:     file.MimeType,
			FileSize:     file.Size,
			ContentHash:  file.ContentHash,
			TimeCreated:  now,
			TimeModified: now,
		})
	}
	if err := repo.ReplaceAttachments(ctx, msg.ID, rows); err != nil {
		return nil, apperrors.NewStorageFailure("record attachments", err)
	}
	if len(rows) == 0 && msg.HasAttachments {
		if err := repo.SetMessageHasAttachments(ctx, msg.ID, false); err != nil {
			return nil, apperrors.NewStorageFailure("update message", err)
		}
		msg.HasAttachments = false
	}
	return rows, nil
}

// discardBlobs removes files written for a message whose transaction failed.
func (w *workflow) discardBlobs(ctx context.Context, doubt *domain.Doubt, msg *domain.Message) {
	if msg.ID == 0 {
		return
	}
	if err := w.store.DeleteArea(ctx, doubt.ContextID, msg.Visibility.AttachmentArea(), msg.ID); err != nil {
		w.logger.Warn("unable to discard attachment blobs",
			zap.Int64("doubt_id", doubt.ID),
			zap.Int64("message_id", msg.ID),
			zap.Error(err))
	}
}

func uploadError(filename string, err error) error {
	var domainErr *apperrors.DomainError
	if errors.As(err, &domainErr) {
		return err
	}
	if errors.Is(err, domain.ErrUploadRejected) {
		return apperrors.NewUploadRejected(filename, err.Error())
	}
	return apperrors.NewStorageFailure("store attachment", err)
}

// storageFailure keeps domain errors and wraps everything else.
func storageFailure(operation string, err error) error {
	var domainErr *apperrors.DomainError
	if errors.As(err, &domainErr) {
		return err
	}
	return apperrors.NewStorageFailure(operation, err)
}

// loadError maps a missing row to NotFound for resource.
func loadError(resource string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.NewNotFound(resource, nil)
	}
	return fmt.Errorf("load %s: %w", resource, err)
}

func (w *workflow) publishEvent(ctx context.Context, event events.Event) {
	if w.events == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = w.clock()
	}
	if err := w.events.Publish(ctx, event); err != nil {
		w.logger.Warn("event publish failed",
			zap.String("event_type", string(event.Type)),
			zap.Int64("doubt_id", event.DoubtID),
			zap.Error(err))
	}
}

func (w *workflow) notify(ctx context.Context, notification domain.Notification) {
	if w.notifier == nil || notification.ToUserID == 0 {
		return
	}
	if err := w.notifier.Send(ctx, notification); err != nil {
		w.logger.Warn("notification failed",
			zap.String("notification", notification.Name),
			zap.Int64("to_user_id", notification.ToUserID),
			zap.Error(err))
	}
}

// notification renders the subject and body labels for name.
func (w *workflow) notification(name string, to, from int64, doubt *domain.Doubt, vars map[string]string) domain.Notification {
	if vars == nil {
		vars = map[string]string{}
	}
	vars["subject"] = doubt.Subject
	return domain.Notification{
		Name:       name,
		ToUserID:   to,
		FromUserID: from,
		Subject:    render(w.label("notify_"+name+"_subject"), vars),
		Body:       render(w.label("notify_"+name+"_body"), vars),
		ContextURL: w.doubtURL(doubt.ID),
	}
}

// notificationVars resolves author and course names for notification text.
func (w *workflow) notificationVars(ctx context.Context, authorID int64, doubt *domain.Doubt) map[string]string {
	vars := map[string]string{}
	if author, err := w.users.GetByID(ctx, authorID); err == nil {
		vars["author"] = author.FullName()
	}
	if course, err := w.courses.GetByID(ctx, doubt.CourseID); err == nil {
		vars["course"] = course.FullName
	}
	return vars
}
