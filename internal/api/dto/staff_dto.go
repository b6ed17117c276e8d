package dto

// StaffListRequest payload for the staff listing.
type StaffListRequest struct {
	Status   string `json:"status" form:"status"`
	Priority string `json:"priority" form:"priority"`
	Assigned string `json:"assigned" form:"assigned"`
	Search   string `json:"search" form:"search" validate:"max=255"`
	Page     int    `json:"page" form:"page" validate:"gte=0"`
	PerPage  int    `json:"per_page" form:"per_page" validate:"gte=0,lte=200"`
}

// DoubtRequest addresses a single doubt.
type DoubtRequest struct {
	DoubtID int64 `json:"doubt_id" form:"doubt_id" validate:"required,gt=0"`
}

// StaffReplyRequest payload. Files arrive as multipart parts named "attachments".
type StaffReplyRequest struct {
	DoubtID      int64  `json:"doubt_id" form:"doubt_id" validate:"required,gt=0"`
	Message      string `json:"message" form:"message"`
	Format       int    `json:"format" form:"format" validate:"omitempty,oneof=1 2 4"`
	Visibility   string `json:"visibility" form:"visibility"`
	IsResolution bool   `json:"is_resolution" form:"is_resolution"`
	DraftItemID  int64  `json:"draft_item_id" form:"draft_item_id" validate:"gte=0"`
}

// UpdateStatusRequest payload.
type UpdateStatusRequest struct {
	DoubtID int64  `json:"doubt_id" form:"doubt_id" validate:"required,gt=0"`
	Status  string `json:"status" form:"status" validate:"required"`
	Note    string `json:"note" form:"note" validate:"max=1000"`
}

// AssignRequest payload. A missing or zero assignee clears the assignment.
type AssignRequest struct {
	DoubtID    int64  `json:"doubt_id" form:"doubt_id" validate:"required,gt=0"`
	AssigneeID *int64 `json:"assignee_id" form:"assignee_id" validate:"omitempty,gte=0"`
}
