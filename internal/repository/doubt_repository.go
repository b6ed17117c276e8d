package repository

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/spec-kit/doubt-service/internal/domain"
)

// DoubtFilter captures staff listing parameters. Nil fields are not applied.
type DoubtFilter struct {
	Status     *domain.DoubtStatus
	Priority   *domain.DoubtPriority
	AssignedTo *int64
	Search     string
}

// DoubtFields is a partial update of a doubt row. Nil fields are left untouched.
type DoubtFields struct {
	Status        *domain.DoubtStatus
	Priority      *domain.DoubtPriority
	AssignedTo    *int64
	LastMessageID *int64
	TimeResolved  *int64
	TimeModified  *int64
}

// DoubtRepository is the sole data-access layer for doubts, messages,
// status history and attachment metadata.
type DoubtRepository interface {
	ListAccessibleScopeIDs(ctx context.Context, userID int64) ([]int64, error)
	ListDoubts(ctx context.Context, scopeIDs []int64, filter DoubtFilter, page, perPage int) (int, []domain.DoubtRow, error)
	GetDoubt(ctx context.Context, id int64) (*domain.Doubt, error)
	GetMessages(ctx context.Context, doubtID int64) ([]domain.Message, error)
	GetMessagesVisibleToStudent(ctx context.Context, doubtID int64) ([]domain.Message, error)
	InsertMessage(ctx context.Context, msg *domain.Message) (int64, error)
	SetMessageHasAttachments(ctx context.Context, messageID int64, has bool) error
	UpdateDoubtFields(ctx context.Context, id int64, fields DoubtFields) error
	LogStatusChange(ctx context.Context, entry *domain.StatusHistory) (int64, error)
	GetStatusHistory(ctx context.Context, doubtID int64) ([]domain.StatusHistory, error)
	InsertAttachment(ctx context.Context, attachment *domain.Attachment) (int64, error)
	DeleteAttachmentsForMessage(ctx context.Context, messageID int64) error
	ReplaceAttachments(ctx context.Context, messageID int64, attachments []domain.Attachment) error
	GetAttachmentsForMessages(ctx context.Context, messageIDs []int64) (map[int64][]domain.Attachment, error)
	GetSummaryCounts(ctx context.Context, scopeIDs []int64) (domain.SummaryCounts, error)
	CreateDoubt(ctx context.Context, doubt *domain.Doubt) (int64, error)
	ListDoubtsForStudent(ctx context.Context, studentID int64, courseID *int64) ([]domain.DoubtRow, error)
	GetDoubtForStudent(ctx context.Context, id, studentID int64) (*domain.Doubt, error)
	// WithinTx runs fn against a repository bound to a single transaction.
	// The transaction commits when fn returns nil and rolls back otherwise.
	WithinTx(ctx context.Context, fn func(DoubtRepository) error) error
}

type doubtRepository struct {
	db  *sqlx.DB
	q   sqlx.ExtContext
	now func() time.Time
}

// NewDoubtRepository instantiates the sqlx-backed repository.
func NewDoubtRepository(db *sqlx.DB) DoubtRepository {
	return &doubtRepository{db: db, q: db, now: time.Now}
}

const doubtColumns = `d.id, d.course_id, d.context_id, d.student_id, d.assigned_to, d.subject, d.summary,
        d.status, d.priority, d.grade_band, d.tags, d.last_message_id, d.due_date,
        d.time_created, d.time_modified, d.time_resolved, d.extra_data`

const doubtRowColumns = doubtColumns + `,
        COALESCE(c.full_name, '') AS course_name,
        COALESCE(s.first_name, '') AS student_first_name,
        COALESCE(s.last_name, '') AS student_last_name,
        COALESCE(s.email, '') AS student_email,
        COALESCE(a.first_name, '') AS assignee_first_name,
        COALESCE(a.last_name, '') AS assignee_last_name`

const doubtRowJoins = `FROM doubts d
        LEFT JOIN courses c ON c.id = d.course_id
        LEFT JOIN users s ON s.id = d.student_id
        LEFT JOIN users a ON a.id = d.assigned_to AND d.assigned_to <> 0`

const messageColumns = `id, doubt_id, author_id, actor_role, body, body_format, visibility,
        has_attachments, is_resolution, time_created, time_modified`

func (r *doubtRepository) WithinTx(ctx context.Context, fn func(DoubtRepository) error) error {
	if r.db == nil {
		// already bound to a transaction; join it
		return fn(r)
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin doubt transaction: %w", err)
	}
	if err := fn(&doubtRepository{q: tx, now: r.now}); err != nil {
		tx.Rollback() //nolint:errcheck
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit doubt transaction: %w", err)
	}
	return nil
}

func (r *doubtRepository) ListAccessibleScopeIDs(ctx context.Context, userID int64) ([]int64, error) {
	const systemQuery = `
        SELECT COUNT(1) FROM doubt_capability_grants
        WHERE user_id=$1 AND scope_id=$2 AND capability=$3`
	var systemGrants int
	if err := sqlx.GetContext(ctx, r.q, &systemGrants, systemQuery, userID, domain.SystemScopeID, domain.CapabilityManage); err != nil {
		return nil, fmt.Errorf("check system grant: %w", err)
	}
	if systemGrants > 0 {
		return nil, nil
	}

	const scopeQuery = `
        SELECT DISTINCT scope_id FROM doubt_capability_grants
        WHERE user_id=$1 AND scope_id<>$2 AND capability IN ($3,$4,$5)
        ORDER BY scope_id`
	scopeIDs := []int64{}
	if err := sqlx.SelectContext(ctx, r.q, &scopeIDs, scopeQuery, userID, domain.SystemScopeID,
		domain.CapabilityView, domain.CapabilityReply, domain.CapabilityManage); err != nil {
		return nil, fmt.Errorf("list accessible scopes: %w", err)
	}
	return scopeIDs, nil
}

func (r *doubtRepository) ListDoubts(ctx context.Context, scopeIDs []int64, filter DoubtFilter, page, perPage int) (int, []domain.DoubtRow, error) {
	if scopeIDs != nil && len(scopeIDs) == 0 {
		return 0, []domain.DoubtRow{}, nil
	}

	clauses := []string{"1=1"}
	args := []any{}

	if scopeIDs != nil {
		clauses = append(clauses, inClause("d.context_id", scopeIDs, &args))
	}
	if filter.Status != nil && filter.Status.IsValid() {
		args = append(args, *filter.Status)
		clauses = append(clauses, fmt.Sprintf("d.status=$%d", len(args)))
	}
	if filter.Priority != nil && filter.Priority.IsValid() {
		args = append(args, *filter.Priority)
		clauses = append(clauses, fmt.Sprintf("d.priority=$%d", len(args)))
	}
	if filter.AssignedTo != nil {
		args = append(args, *filter.AssignedTo)
		clauses = append(clauses, fmt.Sprintf("d.assigned_to=$%d", len(args)))
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		args = append(args, "%"+strings.ToLower(search)+"%")
		placeholder := fmt.Sprintf("$%d", len(args))
		clauses = append(clauses, fmt.Sprintf(
			"(LOWER(d.subject) LIKE %[1]s OR LOWER(COALESCE(s.first_name, '') || ' ' || COALESCE(s.last_name, '')) LIKE %[1]s OR LOWER(COALESCE(s.email, '')) LIKE %[1]s)",
			placeholder))
	}
	where := strings.Join(clauses, " AND ")

	countQuery := fmt.Sprintf(`SELECT COUNT(1) FROM doubts d LEFT JOIN users s ON s.id = d.student_id WHERE %s`, where)
	var total int
	if err := sqlx.GetContext(ctx, r.q, &total, countQuery, args...); err != nil {
		return 0, nil, fmt.Errorf("count doubts: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s %s WHERE %s ORDER BY d.time_modified DESC, d.id DESC`, doubtRowColumns, doubtRowJoins, where)
	if perPage > 0 {
		if page < 1 {
			page = 1
		}
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", perPage, (page-1)*perPage)
	}

	records := []domain.DoubtRow{}
	if err := sqlx.SelectContext(ctx, r.q, &records, query, args...); err != nil {
		return 0, nil, fmt.Errorf("list doubts: %w", err)
	}
	return total, records, nil
}

func (r *doubtRepository) GetDoubt(ctx context.Context, id int64) (*domain.Doubt, error) {
	query := fmt.Sprintf(`SELECT %s FROM doubts d WHERE d.id=$1`, doubtColumns)
	var doubt domain.Doubt
	if err := sqlx.GetContext(ctx, r.q, &doubt, query, id); err != nil {
		return nil, err
	}
	return &doubt, nil
}

func (r *doubtRepository) GetDoubtForStudent(ctx context.Context, id, studentID int64) (*domain.Doubt, error) {
	query := fmt.Sprintf(`SELECT %s FROM doubts d WHERE d.id=$1 AND d.student_id=$2`, doubtColumns)
	var doubt domain.Doubt
	if err := sqlx.GetContext(ctx, r.q, &doubt, query, id, studentID); err != nil {
		return nil, err
	}
	return &doubt, nil
}

func (r *doubtRepository) ListDoubtsForStudent(ctx context.Context, studentID int64, courseID *int64) ([]domain.DoubtRow, error) {
	args := []any{studentID}
	clauses := []string{"d.student_id=$1"}
	if courseID != nil {
		args = append(args, *courseID)
		clauses = append(clauses, fmt.Sprintf("d.course_id=$%d", len(args)))
	}
	query := fmt.Sprintf(`SELECT %s %s WHERE %s ORDER BY d.time_modified DESC, d.id DESC`,
		doubtRowColumns, doubtRowJoins, strings.Join(clauses, " AND "))

	records := []domain.DoubtRow{}
	if err := sqlx.SelectContext(ctx, r.q, &records, query, args...); err != nil {
		return nil, fmt.Errorf("list student doubts: %w", err)
	}
	return records, nil
}

func (r *doubtRepository) CreateDoubt(ctx context.Context, doubt *domain.Doubt) (int64, error) {
	if doubt.Status == "" {
		doubt.Status = domain.DoubtStatusOpen
	}
	if doubt.Priority == "" {
		doubt.Priority = domain.DoubtPriorityNormal
	}
	now := r.now().Unix()
	if doubt.TimeCreated == 0 {
		doubt.TimeCreated = now
	}
	if doubt.TimeModified == 0 {
		doubt.TimeModified = doubt.TimeCreated
	}

	const query = `
        INSERT INTO doubts (course_id, context_id, student_id, assigned_to, subject, summary, status, priority,
            grade_band, tags, last_message_id, due_date, time_created, time_modified, time_resolved, extra_data)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
        RETURNING id`
	var id int64
	if err := r.q.QueryRowxContext(ctx, query,
		doubt.CourseID,
		doubt.ContextID,
		doubt.StudentID,
		doubt.AssignedTo,
		doubt.Subject,
		doubt.Summary,
		doubt.Status,
		doubt.Priority,
		doubt.GradeBand,
		doubt.Tags,
		doubt.LastMessageID,
		doubt.DueDate,
		doubt.TimeCreated,
		doubt.TimeModified,
		doubt.TimeResolved,
		doubt.ExtraData,
	).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert doubt: %w", err)
	}
	doubt.ID = id
	return id, nil
}

func (r *doubtRepository) UpdateDoubtFields(ctx context.Context, id int64, fields DoubtFields) error {
	sets := []string{}
	args := []any{}
	set := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s=$%d", column, len(args)))
	}

	if fields.Status != nil {
		set("status", *fields.Status)
	}
	if fields.Priority != nil {
		set("priority", *fields.Priority)
	}
	if fields.AssignedTo != nil {
		set("assigned_to", *fields.AssignedTo)
	}
	if fields.LastMessageID != nil {
		set("last_message_id", *fields.LastMessageID)
	}
	if fields.TimeResolved != nil {
		set("time_resolved", *fields.TimeResolved)
	}
	if fields.TimeModified != nil {
		set("time_modified", *fields.TimeModified)
	} else {
		set("time_modified", r.now().Unix())
	}

	args = append(args, id)
	query := fmt.Sprintf(`UPDATE doubts SET %s WHERE id=$%d`, strings.Join(sets, ", "), len(args))
	res, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update doubt: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update doubt: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("update doubt %d: no rows affected", id)
	}
	return nil
}

func (r *doubtRepository) GetMessages(ctx context.Context, doubtID int64) ([]domain.Message, error) {
	query := fmt.Sprintf(`SELECT %s FROM doubt_messages WHERE doubt_id=$1 ORDER BY time_created ASC, id ASC`, messageColumns)
	messages := []domain.Message{}
	if err := sqlx.SelectContext(ctx, r.q, &messages, query, doubtID); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return messages, nil
}

func (r *doubtRepository) GetMessagesVisibleToStudent(ctx context.Context, doubtID int64) ([]domain.Message, error) {
	query := fmt.Sprintf(`SELECT %s FROM doubt_messages WHERE doubt_id=$1 AND visibility<>$2 ORDER BY time_created ASC, id ASC`, messageColumns)
	messages := []domain.Message{}
	if err := sqlx.SelectContext(ctx, r.q, &messages, query, doubtID, domain.VisibilityInternal); err != nil {
		return nil, fmt.Errorf("list public messages: %w", err)
	}
	return messages, nil
}

func (r *doubtRepository) InsertMessage(ctx context.Context, msg *domain.Message) (int64, error) {
	now := r.now().Unix()
	if msg.TimeCreated == 0 {
		msg.TimeCreated = now
	}
	if msg.TimeModified == 0 {
		msg.TimeModified = msg.TimeCreated
	}

	const query = `
        INSERT INTO doubt_messages (doubt_id, author_id, actor_role, body, body_format, visibility,
            has_attachments, is_resolution, time_created, time_modified)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
        RETURNING id`
	var id int64
	if err := r.q.QueryRowxContext(ctx, query,
		msg.DoubtID,
		msg.AuthorID,
		msg.ActorRole,
		msg.Body,
		msg.BodyFormat,
		msg.Visibility,
		msg.HasAttachments,
		msg.IsResolution,
		msg.TimeCreated,
		msg.TimeModified,
	).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}
	msg.ID = id
	return id, nil
}

func (r *doubtRepository) SetMessageHasAttachments(ctx context.Context, messageID int64, has bool) error {
	const query = `UPDATE doubt_messages SET has_attachments=$1, time_modified=$2 WHERE id=$3`
	if _, err := r.q.ExecContext(ctx, query, has, r.now().Unix(), messageID); err != nil {
		return fmt.Errorf("flag message attachments: %w", err)
	}
	return nil
}

func (r *doubtRepository) LogStatusChange(ctx context.Context, entry *domain.StatusHistory) (int64, error) {
	if entry.TimeCreated == 0 {
		entry.TimeCreated = r.now().Unix()
	}
	const query = `
        INSERT INTO doubt_status_history (doubt_id, actor_id, old_status, new_status, note, time_created)
        VALUES ($1,$2,$3,$4,$5,$6)
        RETURNING id`
	var id int64
	if err := r.q.QueryRowxContext(ctx, query,
		entry.DoubtID,
		entry.ActorID,
		entry.OldStatus,
		entry.NewStatus,
		entry.Note,
		entry.TimeCreated,
	).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert status history: %w", err)
	}
	entry.ID = id
	return id, nil
}

func (r *doubtRepository) GetStatusHistory(ctx context.Context, doubtID int64) ([]domain.StatusHistory, error) {
	const query = `
        SELECT id, doubt_id, actor_id, old_status, new_status, note, time_created
        FROM doubt_status_history WHERE doubt_id=$1 ORDER BY time_created ASC, id ASC`
	history := []domain.StatusHistory{}
	if err := sqlx.SelectContext(ctx, r.q, &history, query, doubtID); err != nil {
		return nil, fmt.Errorf("list status history: %w", err)
	}
	return history, nil
}

func (r *doubtRepository) InsertAttachment(ctx context.Context, attachment *domain.Attachment) (int64, error) {
	now := r.now().Unix()
	if attachment.TimeCreated == 0 {
		attachment.TimeCreated = now
	}
	if attachment.TimeModified == 0 {
		attachment.TimeModified = attachment.TimeCreated
	}
	const query = `
        INSERT INTO doubt_attachments (message_id, filename, file_path, mime_type, file_size, content_hash,
            time_created, time_modified)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        RETURNING id`
	var id int64
	if err := r.q.QueryRowxContext(ctx, query,
		attachment.MessageID,
		attachment.Filename,
		attachment.FilePath,
		attachment.MimeType,
		attachment.FileSize,
		attachment.ContentHash,
		attachment.TimeCreated,
		attachment.TimeModified,
	).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert attachment: %w", err)
	}
	attachment.ID = id
	return id, nil
}

func (r *doubtRepository) DeleteAttachmentsForMessage(ctx context.Context, messageID int64) error {
	if _, err := r.q.ExecContext(ctx, `DELETE FROM doubt_attachments WHERE message_id=$1`, messageID); err != nil {
		return fmt.Errorf("delete attachments: %w", err)
	}
	return nil
}

// ReplaceAttachments rewrites the attachment set of a message.
func (r *doubtRepository) ReplaceAttachments(ctx context.Context, messageID int64, attachments []domain.Attachment) error {
	if err := r.DeleteAttachmentsForMessage(ctx, messageID); err != nil {
		return err
	}
	for i := range attachments {
		attachments[i].MessageID = messageID
		if _, err := r.InsertAttachment(ctx, &attachments[i]); err != nil {
			return err
		}
	}
	return nil
}

func (r *doubtRepository) GetAttachmentsForMessages(ctx context.Context, messageIDs []int64) (map[int64][]domain.Attachment, error) {
	result := make(map[int64][]domain.Attachment)
	if len(messageIDs) == 0 {
		return result, nil
	}
	args := []any{}
	query := fmt.Sprintf(`
        SELECT id, message_id, filename, file_path, mime_type, file_size, content_hash, time_created, time_modified
        FROM doubt_attachments WHERE %s ORDER BY id ASC`, inClause("message_id", messageIDs, &args))

	attachments := []domain.Attachment{}
	if err := sqlx.SelectContext(ctx, r.q, &attachments, query, args...); err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	for _, attachment := range attachments {
		result[attachment.MessageID] = append(result[attachment.MessageID], attachment)
	}
	return result, nil
}

func (r *doubtRepository) GetSummaryCounts(ctx context.Context, scopeIDs []int64) (domain.SummaryCounts, error) {
	counts := domain.SummaryCounts{}
	if scopeIDs != nil && len(scopeIDs) == 0 {
		return counts, nil
	}

	where := "1=1"
	args := []any{}
	if scopeIDs != nil {
		where = inClause("context_id", scopeIDs, &args)
	}

	type statusCount struct {
		Status domain.DoubtStatus `db:"status"`
		Total  int                `db:"total"`
	}
	rows := []statusCount{}
	statusQuery := fmt.Sprintf(`SELECT status, COUNT(1) AS total FROM doubts WHERE %s GROUP BY status`, where)
	if err := sqlx.SelectContext(ctx, r.q, &rows, statusQuery, args...); err != nil {
		return counts, fmt.Errorf("count doubts by status: %w", err)
	}
	for _, row := range rows {
		counts.Add(row.Status, row.Total)
	}

	unassignedQuery := fmt.Sprintf(`SELECT COUNT(1) FROM doubts WHERE %s AND assigned_to=%d`, where, domain.Unassigned)
	if err := sqlx.GetContext(ctx, r.q, &counts.Unassigned, unassignedQuery, args...); err != nil {
		return counts, fmt.Errorf("count unassigned doubts: %w", err)
	}
	return counts, nil
}

func inClause(column string, ids []int64, args *[]any) string {
	placeholders := make([]string, len(ids))
	for i, id := range ids {
		*args = append(*args, id)
		placeholders[i] = "$" + strconv.Itoa(len(*args))
	}
	return fmt.Sprintf("%s IN (%s)", column, strings.Join(placeholders, ","))
}
