package service

import (
	"github.com/spec-kit/doubt-service/internal/domain"
)

// DisplayTimeFormat renders epoch timestamps for listings and threads.
const DisplayTimeFormat = "02 Jan 2006, 15:04"

// ListFilters are the raw staff listing filters. Invalid status or priority
// values are dropped rather than rejected.
type ListFilters struct {
	Status   string
	Priority string
	// Assigned is "unassigned", "me", or a numeric user id.
	Assigned string
	Search   string
}

// Pagination describes one page of a listing.
type Pagination struct {
	Page      int `json:"page"`
	PerPage   int `json:"perPage"`
	Total     int `json:"total"`
	PageCount int `json:"pageCount"`
}

// DoubtListItem is one row of a doubt listing.
type DoubtListItem struct {
	ID                  int64                `json:"id"`
	Subject             string               `json:"subject"`
	CourseID            int64                `json:"courseId"`
	CourseName          string               `json:"courseName"`
	StudentID           int64                `json:"studentId"`
	StudentName         string               `json:"studentName"`
	StudentEmail        string               `json:"studentEmail,omitempty"`
	AssigneeID          *int64               `json:"assigneeId"`
	AssigneeName        string               `json:"assigneeName"`
	Status              domain.DoubtStatus   `json:"status"`
	StatusLabel         string               `json:"statusLabel"`
	Priority            domain.DoubtPriority `json:"priority"`
	PriorityLabel       string               `json:"priorityLabel"`
	Resolved            bool                 `json:"resolved"`
	TimeCreated         int64                `json:"timeCreated"`
	TimeModified        int64                `json:"timeModified"`
	TimeCreatedDisplay  string               `json:"timeCreatedDisplay"`
	TimeModifiedDisplay string               `json:"timeModifiedDisplay"`
}

// DoubtListResult is a page of doubts plus pagination metadata.
type DoubtListResult struct {
	Records    []DoubtListItem `json:"records"`
	Pagination Pagination      `json:"pagination"`
}

// AttachmentView is an attachment as shown in a thread.
type AttachmentView struct {
	ID       int64  `json:"id"`
	Filename string `json:"filename"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
	URL      string `json:"url"`
}

// MessageView is one message of a thread.
type MessageView struct {
	ID                 int64             `json:"id"`
	AuthorID           int64             `json:"authorId"`
	AuthorName         string            `json:"authorName"`
	ActorRole          domain.ActorRole  `json:"actorRole"`
	Body               string            `json:"body"`
	BodyFormat         int               `json:"bodyFormat"`
	Visibility         domain.Visibility `json:"visibility"`
	IsResolution       bool              `json:"isResolution"`
	Attachments        []AttachmentView  `json:"attachments"`
	TimeCreated        int64             `json:"timeCreated"`
	TimeCreatedDisplay string            `json:"timeCreatedDisplay"`
}

// HistoryView is one status history entry.
type HistoryView struct {
	ID                 int64              `json:"id"`
	ActorID            *int64             `json:"actorId"`
	ActorName          string             `json:"actorName"`
	OldStatus          domain.DoubtStatus `json:"oldStatus"`
	OldStatusLabel     string             `json:"oldStatusLabel"`
	NewStatus          domain.DoubtStatus `json:"newStatus"`
	NewStatusLabel     string             `json:"newStatusLabel"`
	Note               string             `json:"note"`
	TimeCreated        int64              `json:"timeCreated"`
	TimeCreatedDisplay string             `json:"timeCreatedDisplay"`
}

// StatusOption is one entry of the status picker.
type StatusOption struct {
	Value    domain.DoubtStatus `json:"value"`
	Label    string             `json:"label"`
	Selected bool               `json:"selected"`
}

// DoubtView is the header of a doubt detail page.
type DoubtView struct {
	DoubtListItem
	Summary             string `json:"summary"`
	GradeBand           string `json:"gradeBand"`
	Tags                string `json:"tags"`
	DueDate             int64  `json:"dueDate"`
	TimeResolved        int64  `json:"timeResolved"`
	TimeResolvedDisplay string `json:"timeResolvedDisplay"`
}

// StaffDoubtDetail is the full staff view of a doubt.
type StaffDoubtDetail struct {
	Doubt         DoubtView      `json:"doubt"`
	Messages      []MessageView  `json:"messages"`
	History       []HistoryView  `json:"history"`
	StatusOptions []StatusOption `json:"statusOptions"`
	CanReply      bool           `json:"canReply"`
	CanManage     bool           `json:"canManage"`
}

// StudentDoubtDetail is the owner's view of a doubt: public messages only.
type StudentDoubtDetail struct {
	Doubt    DoubtView     `json:"doubt"`
	Messages []MessageView `json:"messages"`
}

// ReplyResult reports the outcome of a reply.
type ReplyResult struct {
	MessageID     int64              `json:"messageId"`
	Status        domain.DoubtStatus `json:"status"`
	StatusChanged bool               `json:"statusChanged"`
	Attachments   int                `json:"attachments"`
}

// CreateResult reports a newly created doubt.
type CreateResult struct {
	DoubtID   int64 `json:"doubtId"`
	MessageID int64 `json:"messageId"`
}
