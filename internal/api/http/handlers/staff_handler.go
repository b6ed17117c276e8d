package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/doubt-service/internal/api/dto"
	"github.com/spec-kit/doubt-service/internal/service"
	apperrors "github.com/spec-kit/doubt-service/pkg/util/errorutil"
)

// StaffHandler serves the teacher and manager actions.
type StaffHandler struct {
	service        *service.StaffService
	validate       *dto.Validator
	uploads        *uploadStager
	defaultPerPage int
}

// NewStaffHandler constructs handler. uploadDir must match the attachment
// store's upload directory.
func NewStaffHandler(staffService *service.StaffService, validate *dto.Validator, uploadDir string, defaultPerPage int) *StaffHandler {
	return &StaffHandler{
		service:        staffService,
		validate:       validate,
		uploads:        &uploadStager{dir: uploadDir},
		defaultPerPage: defaultPerPage,
	}
}

// Handle dispatches POST /api/staff/:action.
func (h *StaffHandler) Handle(c *fiber.Ctx) error {
	userID, err := callerID(c)
	if err != nil {
		return err
	}
	switch c.Params("action") {
	case "list":
		return h.list(c, userID)
	case "summary":
		counts, err := h.service.GetSummary(c.UserContext(), userID)
		if err != nil {
			return err
		}
		return respond(c, fiber.StatusOK, counts)
	case "detail":
		var req dto.DoubtRequest
		if err := bind(c, h.validate, &req); err != nil {
			return err
		}
		detail, err := h.service.GetDetail(c.UserContext(), req.DoubtID, userID)
		if err != nil {
			return err
		}
		return respond(c, fiber.StatusOK, detail)
	case "reply":
		return h.reply(c, userID)
	case "update_status":
		var req dto.UpdateStatusRequest
		if err := bind(c, h.validate, &req); err != nil {
			return err
		}
		detail, err := h.service.UpdateStatus(c.UserContext(), req.DoubtID, userID, req.Status, req.Note)
		if err != nil {
			return err
		}
		return respond(c, fiber.StatusOK, detail)
	case "assign":
		var req dto.AssignRequest
		if err := bind(c, h.validate, &req); err != nil {
			return err
		}
		detail, err := h.service.Assign(c.UserContext(), req.DoubtID, userID, req.AssigneeID)
		if err != nil {
			return err
		}
		return respond(c, fiber.StatusOK, detail)
	default:
		return apperrors.NewNotFound("action", map[string]any{"action": c.Params("action")})
	}
}

func (h *StaffHandler) list(c *fiber.Ctx, userID int64) error {
	var req dto.StaffListRequest
	if err := bind(c, h.validate, &req); err != nil {
		return err
	}
	perPage := req.PerPage
	if perPage == 0 {
		perPage = h.defaultPerPage
	}
	result, err := h.service.ListForTeacher(c.UserContext(), userID, service.ListFilters{
		Status:   req.Status,
		Priority: req.Priority,
		Assigned: req.Assigned,
		Search:   req.Search,
	}, req.Page, perPage)
	if err != nil {
		return err
	}
	return respond(c, fiber.StatusOK, result)
}

func (h *StaffHandler) reply(c *fiber.Ctx, userID int64) error {
	var req dto.StaffReplyRequest
	if err := bind(c, h.validate, &req); err != nil {
		return err
	}
	uploads, cleanup, err := h.uploads.stage(c, req.DraftItemID)
	defer cleanup()
	if err != nil {
		return apperrors.NewValidationError("invalid multipart payload", nil)
	}
	visibility := req.Visibility
	if visibility == "" {
		visibility = "public"
	}
	result, err := h.service.Reply(c.UserContext(), req.DoubtID, userID, service.ReplyInput{
		Message:      req.Message,
		Format:       req.Format,
		Visibility:   visibility,
		IsResolution: req.IsResolution,
		Uploads:      uploads,
	})
	if err != nil {
		return err
	}
	return respond(c, fiber.StatusOK, result)
}
