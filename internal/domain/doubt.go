package domain

// DoubtStatus enumerates lifecycle states for doubts.
type DoubtStatus string

const (
	DoubtStatusOpen           DoubtStatus = "open"
	DoubtStatusInProgress     DoubtStatus = "inprogress"
	DoubtStatusWaitingStudent DoubtStatus = "waiting_student"
	DoubtStatusResolved       DoubtStatus = "resolved"
	DoubtStatusArchived       DoubtStatus = "archived"
)

var doubtStatuses = []DoubtStatus{
	DoubtStatusOpen,
	DoubtStatusInProgress,
	DoubtStatusWaitingStudent,
	DoubtStatusResolved,
	DoubtStatusArchived,
}

// AllDoubtStatuses returns every status in display order.
func AllDoubtStatuses() []DoubtStatus {
	return append([]DoubtStatus(nil), doubtStatuses...)
}

// IsValid reports whether s belongs to the closed status vocabulary.
func (s DoubtStatus) IsValid() bool {
	for _, candidate := range doubtStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseDoubtStatus returns the status for raw and whether it was valid.
func ParseDoubtStatus(raw string) (DoubtStatus, bool) {
	status := DoubtStatus(raw)
	return status, status.IsValid()
}

// DoubtPriority enumerates triage urgency.
type DoubtPriority string

const (
	DoubtPriorityLow    DoubtPriority = "low"
	DoubtPriorityNormal DoubtPriority = "normal"
	DoubtPriorityHigh   DoubtPriority = "high"
	DoubtPriorityUrgent DoubtPriority = "urgent"
)

var doubtPriorities = []DoubtPriority{
	DoubtPriorityLow,
	DoubtPriorityNormal,
	DoubtPriorityHigh,
	DoubtPriorityUrgent,
}

// AllDoubtPriorities returns every priority from lowest to highest.
func AllDoubtPriorities() []DoubtPriority {
	return append([]DoubtPriority(nil), doubtPriorities...)
}

// IsValid reports whether p belongs to the closed priority vocabulary.
func (p DoubtPriority) IsValid() bool {
	for _, candidate := range doubtPriorities {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParseDoubtPriority returns the priority for raw and whether it was valid.
func ParseDoubtPriority(raw string) (DoubtPriority, bool) {
	priority := DoubtPriority(raw)
	return priority, priority.IsValid()
}

// CoercePriority maps anything outside the vocabulary to normal.
func CoercePriority(raw string) DoubtPriority {
	if priority, ok := ParseDoubtPriority(raw); ok {
		return priority
	}
	return DoubtPriorityNormal
}

// Unassigned is the storage sentinel for a doubt without an assignee.
const Unassigned int64 = 0

// Doubt is the aggregate for a student-raised question.
type Doubt struct {
	ID            int64         `db:"id"`
	CourseID      int64         `db:"course_id"`
	ContextID     int64         `db:"context_id"`
	StudentID     int64         `db:"student_id"`
	AssignedTo    int64         `db:"assigned_to"`
	Subject       string        `db:"subject"`
	Summary       string        `db:"summary"`
	Status        DoubtStatus   `db:"status"`
	Priority      DoubtPriority `db:"priority"`
	GradeBand     string        `db:"grade_band"`
	Tags          string        `db:"tags"`
	LastMessageID int64         `db:"last_message_id"`
	DueDate       int64         `db:"due_date"`
	TimeCreated   int64         `db:"time_created"`
	TimeModified  int64         `db:"time_modified"`
	TimeResolved  int64         `db:"time_resolved"`
	ExtraData     string        `db:"extra_data"`
}

// Assignee returns the assigned staff id, or nil when unassigned.
func (d *Doubt) Assignee() *int64 {
	if d.AssignedTo == Unassigned {
		return nil
	}
	id := d.AssignedTo
	return &id
}

// IsClosed reports whether the doubt sits in a state a student reply reopens.
func (d *Doubt) IsClosed() bool {
	return d.Status == DoubtStatusResolved || d.Status == DoubtStatusArchived
}

// DoubtRow is a doubt joined with the display columns used by listings.
type DoubtRow struct {
	Doubt
	CourseName        string `db:"course_name"`
	StudentFirstName  string `db:"student_first_name"`
	StudentLastName   string `db:"student_last_name"`
	StudentEmail      string `db:"student_email"`
	AssigneeFirstName string `db:"assignee_first_name"`
	AssigneeLastName  string `db:"assignee_last_name"`
}

// SummaryCounts is a point-in-time tally of doubts per status.
type SummaryCounts struct {
	Open           int `json:"open"`
	InProgress     int `json:"inprogress"`
	WaitingStudent int `json:"waiting_student"`
	Resolved       int `json:"resolved"`
	Archived       int `json:"archived"`
	Unassigned     int `json:"unassigned"`
	Total          int `json:"total"`
}

// Add increments the bucket for status by n.
func (c *SummaryCounts) Add(status DoubtStatus, n int) {
	switch status {
	case DoubtStatusOpen:
		c.Open += n
	case DoubtStatusInProgress:
		c.InProgress += n
	case DoubtStatusWaitingStudent:
		c.WaitingStudent += n
	case DoubtStatusResolved:
		c.Resolved += n
	case DoubtStatusArchived:
		c.Archived += n
	default:
		return
	}
	c.Total += n
}
