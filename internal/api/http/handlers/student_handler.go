package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/doubt-service/internal/api/dto"
	"github.com/spec-kit/doubt-service/internal/service"
	apperrors "github.com/spec-kit/doubt-service/pkg/util/errorutil"
)

// StudentHandler serves the student actions.
type StudentHandler struct {
	service  *service.StudentService
	validate *dto.Validator
	uploads  *uploadStager
}

// NewStudentHandler constructs handler.
func NewStudentHandler(studentService *service.StudentService, validate *dto.Validator, uploadDir string) *StudentHandler {
	return &StudentHandler{service: studentService, validate: validate, uploads: &uploadStager{dir: uploadDir}}
}

// Handle dispatches POST /api/student/:action.
func (h *StudentHandler) Handle(c *fiber.Ctx) error {
	userID, err := callerID(c)
	if err != nil {
		return err
	}
	switch c.Params("action") {
	case "list":
		var req dto.StudentListRequest
		if err := bind(c, h.validate, &req); err != nil {
			return err
		}
		items, err := h.service.List(c.UserContext(), userID, req.CourseID)
		if err != nil {
			return err
		}
		return respond(c, fiber.StatusOK, items)
	case "create":
		return h.create(c, userID)
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
	default:
		return apperrors.NewNotFound("action", map[string]any{"action": c.Params("action")})
	}
}

func (h *StudentHandler) create(c *fiber.Ctx, userID int64) error {
	var req dto.CreateDoubtRequest
	if err := bind(c, h.validate, &req); err != nil {
		return err
	}
	uploads, cleanup, err := h.uploads.stage(c, req.DraftItemID)
	defer cleanup()
	if err != nil {
		return apperrors.NewValidationError("invalid multipart payload", nil)
	}
	result, err := h.service.Create(c.UserContext(), userID, service.CreateInput{
		CourseID: req.CourseID,
		Subject:  req.Subject,
		Details:  req.Details,
		Priority: req.Priority,
		Uploads:  uploads,
	})
	if err != nil {
		return err
	}
	return respond(c, fiber.StatusCreated, result)
}

func (h *StudentHandler) reply(c *fiber.Ctx, userID int64) error {
	var req dto.StudentReplyRequest
	if err := bind(c, h.validate, &req); err != nil {
		return err
	}
	uploads, cleanup, err := h.uploads.stage(c, req.DraftItemID)
	defer cleanup()
	if err != nil {
		return apperrors.NewValidationError("invalid multipart payload", nil)
	}
	result, err := h.service.Reply(c.UserContext(), req.DoubtID, userID, req.Message, uploads)
	if err != nil {
		return err
	}
	return respond(c, fiber.StatusOK, result)
}
