// Package mock provides in-memory repositories for tests.
package mock

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spec-kit/doubt-service/internal/domain"
	"github.com/spec-kit/doubt-service/internal/repository"
)

var (
	_ repository.DoubtRepository  = (*Store)(nil)
	_ repository.UserRepository   = userRepo{}
	_ repository.CourseRepository = courseRepo{}
	_ repository.GrantRepository  = grantRepo{}
)

type grantKey struct {
	userID  int64
	scopeID int64
	cap     domain.Capability
}

type enrolKey struct {
	courseID int64
	userID   int64
}

// Store is an in-memory stand-in for the doubt tables plus users, courses,
// enrolments and capability grants.
type Store struct {
	mu sync.Mutex

	doubts      map[int64]domain.Doubt
	messages    map[int64]domain.Message
	history     []domain.StatusHistory
	attachments map[int64]domain.Attachment
	users       map[int64]domain.User
	courses     map[int64]domain.Course
	enrolments  map[enrolKey]bool
	grants      map[grantKey]bool
	nextID      int64
	failures    map[string]error

	// Now stamps rows the same way the SQL repository does.
	Now func() time.Time
	// ListCalls counts ListDoubts invocations that reached the query stage.
	ListCalls int
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		doubts:      make(map[int64]domain.Doubt),
		messages:    make(map[int64]domain.Message),
		attachments: make(map[int64]domain.Attachment),
		users:       make(map[int64]domain.User),
		courses:     make(map[int64]domain.Course),
		enrolments:  make(map[enrolKey]bool),
		grants:      make(map[grantKey]bool),
		failures:    make(map[string]error),
		nextID:      100,
		Now:         time.Now,
	}
}

// FailOn makes the named write operation return err until cleared with nil.
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

// AddUser seeds a user.
func (s *Store) AddUser(user domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = user
}

// AddCourse seeds a course.
func (s *Store) AddCourse(course domain.Course) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.courses[course.ID] = course
}

// Enrol seeds an active enrolment.
func (s *Store) Enrol(courseID, userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enrolments[enrolKey{courseID, userID}] = true
}

// Grant seeds a capability grant.
func (s *Store) Grant(userID, scopeID int64, capability domain.Capability) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants[grantKey{userID, scopeID, capability}] = true
}

// PutDoubt stores a doubt as-is, assigning an id when missing.
func (s *Store) PutDoubt(doubt domain.Doubt) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doubt.ID == 0 {
		doubt.ID = s.allocID()
	}
	s.doubts[doubt.ID] = doubt
	return doubt.ID
}

// PutMessage stores a message as-is, assigning an id when missing.
func (s *Store) PutMessage(msg domain.Message) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.ID == 0 {
		msg.ID = s.allocID()
	}
	s.messages[msg.ID] = msg
	return msg.ID
}

// Doubt returns a copy of the stored doubt.
func (s *Store) Doubt(id int64) (domain.Doubt, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.doubts[id]
	return d, ok
}

// History returns every history row for a doubt.
func (s *Store) History(doubtID int64) []domain.StatusHistory {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []domain.StatusHistory{}
	for _, entry := range s.history {
		if entry.DoubtID == doubtID {
			out = append(out, entry)
		}
	}
	return out
}

// Messages returns every message of a doubt in creation order.
func (s *Store) Messages(doubtID int64) []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messagesFor(doubtID, false)
}

// Attachments returns the attachment rows of a message.
func (s *Store) Attachments(messageID int64) []domain.Attachment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []domain.Attachment{}
	for _, attachment := range s.sortedAttachments() {
		if attachment.MessageID == messageID {
			out = append(out, attachment)
		}
	}
	return out
}

// UserRepo exposes the users as a repository.UserRepository.
func (s *Store) UserRepo() repository.UserRepository { return userRepo{s} }

// CourseRepo exposes courses and enrolments as a repository.CourseRepository.
func (s *Store) CourseRepo() repository.CourseRepository { return courseRepo{s} }

// GrantRepo exposes grants as a repository.GrantRepository.
func (s *Store) GrantRepo() repository.GrantRepository { return grantRepo{s} }

func (s *Store) allocID() int64 {
	s.nextID++
	return s.nextID
}

func (s *Store) failure(op string) error {
	if err, ok := s.failures[op]; ok {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

type snapshot struct {
	doubts      map[int64]domain.Doubt
	messages    map[int64]domain.Message
	history     []domain.StatusHistory
	attachments map[int64]domain.Attachment
	nextID      int64
}

func (s *Store) snapshot() snapshot {
	snap := snapshot{
		doubts:      make(map[int64]domain.Doubt, len(s.doubts)),
		messages:    make(map[int64]domain.Message, len(s.messages)),
		history:     append([]domain.StatusHistory(nil), s.history...),
		attachments: make(map[int64]domain.Attachment, len(s.attachments)),
		nextID:      s.nextID,
	}
	for k, v := range s.doubts {
		snap.doubts[k] = v
	}
	for k, v := range s.messages {
		snap.messages[k] = v
	}
	for k, v := range s.attachments {
		snap.attachments[k] = v
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.doubts = snap.doubts
	s.messages = snap.messages
	s.history = snap.history
	s.attachments = snap.attachments
	s.nextID = snap.nextID
}

// WithinTx restores the pre-call state when fn fails.
func (s *Store) WithinTx(ctx context.Context, fn func(repository.DoubtRepository) error) error {
	s.mu.Lock()
	snap := s.snapshot()
	s.mu.Unlock()

	if err := fn(s); err != nil {
		s.mu.Lock()
		s.restore(snap)
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *Store) ListAccessibleScopeIDs(ctx context.Context, userID int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.grants[grantKey{userID, domain.SystemScopeID, domain.CapabilityManage}] {
		return nil, nil
	}
	seen := map[int64]bool{}
	scopes := []int64{}
	for key := range s.grants {
		if key.userID != userID || key.scopeID == domain.SystemScopeID || seen[key.scopeID] {
			continue
		}
		seen[key.scopeID] = true
		scopes = append(scopes, key.scopeID)
	}
	sort.Slice(scopes, func(i, j int) bool { return scopes[i] < scopes[j] })
	return scopes, nil
}

func (s *Store) ListDoubts(ctx context.Context, scopeIDs []int64, filter repository.DoubtFilter, page, perPage int) (int, []domain.DoubtRow, error) {
	if scopeIDs != nil && len(scopeIDs) == 0 {
		return 0, []domain.DoubtRow{}, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ListCalls++

	allowed := map[int64]bool{}
	for _, id := range scopeIDs {
		allowed[id] = true
	}
	search := strings.ToLower(strings.TrimSpace(filter.Search))

	rows := []domain.DoubtRow{}
	for _, doubt := range s.doubts {
		if scopeIDs != nil && !allowed[doubt.ContextID] {
			continue
		}
		if filter.Status != nil && filter.Status.IsValid() && doubt.Status != *filter.Status {
			continue
		}
		if filter.Priority != nil && filter.Priority.IsValid() && doubt.Priority != *filter.Priority {
			continue
		}
		if filter.AssignedTo != nil && doubt.AssignedTo != *filter.AssignedTo {
			continue
		}
		row := s.row(doubt)
		if search != "" {
			name := strings.ToLower(row.StudentFirstName + " " + row.StudentLastName)
			if !strings.Contains(strings.ToLower(doubt.Subject), search) &&
				!strings.Contains(name, search) &&
				!strings.Contains(strings.ToLower(row.StudentEmail), search) {
				continue
			}
		}
		rows = append(rows, row)
	}
	sortRows(rows)

	total := len(rows)
	if perPage > 0 {
		if page < 1 {
			page = 1
		}
		start := (page - 1) * perPage
		if start > len(rows) {
			start = len(rows)
		}
		end := start + perPage
		if end > len(rows) {
			end = len(rows)
		}
		rows = rows[start:end]
	}
	return total, rows, nil
}

func (s *Store) row(doubt domain.Doubt) domain.DoubtRow {
	row := domain.DoubtRow{Doubt: doubt}
	if course, ok := s.courses[doubt.CourseID]; ok {
		row.CourseName = course.FullName
	}
	if student, ok := s.users[doubt.StudentID]; ok {
		row.StudentFirstName = student.FirstName
		row.StudentLastName = student.LastName
		row.StudentEmail = student.Email
	}
	if assignee, ok := s.users[doubt.AssignedTo]; ok && doubt.AssignedTo != domain.Unassigned {
		row.AssigneeFirstName = assignee.FirstName
		row.AssigneeLastName = assignee.LastName
	}
	return row
}

func sortRows(rows []domain.DoubtRow) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].TimeModified != rows[j].TimeModified {
			return rows[i].TimeModified > rows[j].TimeModified
		}
		return rows[i].ID > rows[j].ID
	})
}

func (s *Store) GetDoubt(ctx context.Context, id int64) (*domain.Doubt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doubt, ok := s.doubts[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &doubt, nil
}

func (s *Store) GetDoubtForStudent(ctx context.Context, id, studentID int64) (*domain.Doubt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doubt, ok := s.doubts[id]
	if !ok || doubt.StudentID != studentID {
		return nil, sql.ErrNoRows
	}
	return &doubt, nil
}

func (s *Store) ListDoubtsForStudent(ctx context.Context, studentID int64, courseID *int64) ([]domain.DoubtRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := []domain.DoubtRow{}
	for _, doubt := range s.doubts {
		if doubt.StudentID != studentID {
			continue
		}
		if courseID != nil && doubt.CourseID != *courseID {
			continue
		}
		rows = append(rows, s.row(doubt))
	}
	sortRows(rows)
	return rows, nil
}

func (s *Store) CreateDoubt(ctx context.Context, doubt *domain.Doubt) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("CreateDoubt"); err != nil {
		return 0, err
	}
	if doubt.Status == "" {
		doubt.Status = domain.DoubtStatusOpen
	}
	if doubt.Priority == "" {
		doubt.Priority = domain.DoubtPriorityNormal
	}
	now := s.Now().Unix()
	if doubt.TimeCreated == 0 {
		doubt.TimeCreated = now
	}
	if doubt.TimeModified == 0 {
		doubt.TimeModified = doubt.TimeCreated
	}
	doubt.ID = s.allocID()
	s.doubts[doubt.ID] = *doubt
	return doubt.ID, nil
}

func (s *Store) UpdateDoubtFields(ctx context.Context, id int64, fields repository.DoubtFields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("UpdateDoubtFields"); err != nil {
		return err
	}
	doubt, ok := s.doubts[id]
	if !ok {
		return fmt.Errorf("update doubt %d: no rows affected", id)
	}
	if fields.Status != nil {
		doubt.Status = *fields.Status
	}
	if fields.Priority != nil {
		doubt.Priority = *fields.Priority
	}
	if fields.AssignedTo != nil {
		doubt.AssignedTo = *fields.AssignedTo
	}
	if fields.LastMessageID != nil {
		doubt.LastMessageID = *fields.LastMessageID
	}
	if fields.TimeResolved != nil {
		doubt.TimeResolved = *fields.TimeResolved
	}
	if fields.TimeModified != nil {
		doubt.TimeModified = *fields.TimeModified
	} else {
		doubt.TimeModified = s.Now().Unix()
	}
	s.doubts[id] = doubt
	return nil
}

func (s *Store) messagesFor(doubtID int64, publicOnly bool) []domain.Message {
	out := []domain.Message{}
	for _, msg := range s.messages {
		if msg.DoubtID != doubtID {
			continue
		}
		if publicOnly && msg.Visibility == domain.VisibilityInternal {
			continue
		}
		out = append(out, msg)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TimeCreated != out[j].TimeCreated {
			return out[i].TimeCreated < out[j].TimeCreated
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Store) GetMessages(ctx context.Context, doubtID int64) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messagesFor(doubtID, false), nil
}

func (s *Store) GetMessagesVisibleToStudent(ctx context.Context, doubtID int64) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messagesFor(doubtID, true), nil
}

func (s *Store) InsertMessage(ctx context.Context, msg *domain.Message) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("InsertMessage"); err != nil {
		return 0, err
	}
	now := s.Now().Unix()
	if msg.TimeCreated == 0 {
		msg.TimeCreated = now
	}
	if msg.TimeModified == 0 {
		msg.TimeModified = msg.TimeCreated
	}
	msg.ID = s.allocID()
	s.messages[msg.ID] = *msg
	return msg.ID, nil
}

func (s *Store) SetMessageHasAttachments(ctx context.Context, messageID int64, has bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("SetMessageHasAttachments"); err != nil {
		return err
	}
	msg, ok := s.messages[messageID]
	if !ok {
		return fmt.Errorf("message %d missing", messageID)
	}
	msg.HasAttachments = has
	s.messages[messageID] = msg
	return nil
}

func (s *Store) LogStatusChange(ctx context.Context, entry *domain.StatusHistory) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("LogStatusChange"); err != nil {
		return 0, err
	}
	if entry.TimeCreated == 0 {
		entry.TimeCreated = s.Now().Unix()
	}
	entry.ID = s.allocID()
	s.history = append(s.history, *entry)
	return entry.ID, nil
}

func (s *Store) GetStatusHistory(ctx context.Context, doubtID int64) ([]domain.StatusHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []domain.StatusHistory{}
	for _, entry := range s.history {
		if entry.DoubtID == doubtID {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (s *Store) InsertAttachment(ctx context.Context, attachment *domain.Attachment) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertAttachment(attachment)
}

func (s *Store) insertAttachment(attachment *domain.Attachment) (int64, error) {
	if err := s.failure("InsertAttachment"); err != nil {
		return 0, err
	}
	if _, ok := s.messages[attachment.MessageID]; !ok {
		return 0, fmt.Errorf("message %d missing", attachment.MessageID)
	}
	now := s.Now().Unix()
	if attachment.TimeCreated == 0 {
		attachment.TimeCreated = now
	}
	if attachment.TimeModified == 0 {
		attachment.TimeModified = attachment.TimeCreated
	}
	attachment.ID = s.allocID()
	s.attachments[attachment.ID] = *attachment
	return attachment.ID, nil
}

func (s *Store) DeleteAttachmentsForMessage(ctx context.Context, messageID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, attachment := range s.attachments {
		if attachment.MessageID == messageID {
			delete(s.attachments, id)
		}
	}
	return nil
}

func (s *Store) ReplaceAttachments(ctx context.Context, messageID int64, attachments []domain.Attachment) error {
	if err := s.DeleteAttachmentsForMessage(ctx, messageID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range attachments {
		attachments[i].MessageID = messageID
		if _, err := s.insertAttachment(&attachments[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) sortedAttachments() []domain.Attachment {
	out := make([]domain.Attachment, 0, len(s.attachments))
	for _, attachment := range s.attachments {
		out = append(out, attachment)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) GetAttachmentsForMessages(ctx context.Context, messageIDs []int64) (map[int64][]domain.Attachment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make(map[int64][]domain.Attachment)
	wanted := map[int64]bool{}
	for _, id := range messageIDs {
		wanted[id] = true
	}
	for _, attachment := range s.sortedAttachments() {
		if wanted[attachment.MessageID] {
			result[attachment.MessageID] = append(result[attachment.MessageID], attachment)
		}
	}
	return result, nil
}

func (s *Store) GetSummaryCounts(ctx context.Context, scopeIDs []int64) (domain.SummaryCounts, error) {
	counts := domain.SummaryCounts{}
	if scopeIDs != nil && len(scopeIDs) == 0 {
		return counts, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	allowed := map[int64]bool{}
	for _, id := range scopeIDs {
		allowed[id] = true
	}
	for _, doubt := range s.doubts {
		if scopeIDs != nil && !allowed[doubt.ContextID] {
			continue
		}
		counts.Add(doubt.Status, 1)
		if doubt.AssignedTo == domain.Unassigned {
			counts.Unassigned++
		}
	}
	return counts, nil
}

type userRepo struct{ s *Store }

func (r userRepo) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	user, ok := r.s.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &user, nil
}

func (r userRepo) GetByIDs(ctx context.Context, ids []int64) (map[int64]domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make(map[int64]domain.User, len(ids))
	for _, id := range ids {
		if user, ok := r.s.users[id]; ok {
			out[id] = user
		}
	}
	return out, nil
}

type courseRepo struct{ s *Store }

func (r courseRepo) GetByID(ctx context.Context, id int64) (*domain.Course, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	course, ok := r.s.courses[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &course, nil
}

func (r courseRepo) GetByIDs(ctx context.Context, ids []int64) (map[int64]domain.Course, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make(map[int64]domain.Course, len(ids))
	for _, id := range ids {
		if course, ok := r.s.courses[id]; ok {
			out[id] = course
		}
	}
	return out, nil
}

func (r courseRepo) IsEnrolled(ctx context.Context, courseID, userID int64) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.enrolments[enrolKey{courseID, userID}], nil
}

type grantRepo struct{ s *Store }

func (r grantRepo) HasGrant(ctx context.Context, userID, scopeID int64, capability domain.Capability) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.grants[grantKey{userID, scopeID, capability}] ||
		r.s.grants[grantKey{userID, domain.SystemScopeID, capability}], nil
}
