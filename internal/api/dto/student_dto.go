package dto

// StudentListRequest payload.
type StudentListRequest struct {
	CourseID *int64 `json:"course_id" form:"course_id" validate:"omitempty,gt=0"`
}

// CreateDoubtRequest payload.
type CreateDoubtRequest struct {
	CourseID    int64  `json:"course_id" form:"course_id" validate:"required,gt=0"`
	Subject     string `json:"subject" form:"subject" validate:"required,max=255"`
	Details     string `json:"details" form:"details" validate:"required"`
	Priority    string `json:"priority" form:"priority"`
	DraftItemID int64  `json:"draft_item_id" form:"draft_item_id" validate:"gte=0"`
}

// StudentReplyRequest payload.
type StudentReplyRequest struct {
	DoubtID     int64  `json:"doubt_id" form:"doubt_id" validate:"required,gt=0"`
	Message     string `json:"message" form:"message"`
	DraftItemID int64  `json:"draft_item_id" form:"draft_item_id" validate:"gte=0"`
}

// DraftFile describes a file staged in a draft area.
type DraftFile struct {
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

// DraftResponse is returned after staging files.
type DraftResponse struct {
	DraftItemID int64       `json:"draft_item_id"`
	Files       []DraftFile `json:"files"`
}
