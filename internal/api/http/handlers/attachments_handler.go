package handlers

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/spec-kit/doubt-service/internal/api/dto"
	"github.com/spec-kit/doubt-service/internal/storage"
	apperrors "github.com/spec-kit/doubt-service/pkg/util/errorutil"
)

// AttachmentsHandler stages draft files and serves signed downloads.
type AttachmentsHandler struct {
	store *storage.FileStore
}

// NewAttachmentsHandler constructs handler.
func NewAttachmentsHandler(store *storage.FileStore) *AttachmentsHandler {
	return &AttachmentsHandler{store: store}
}

// StageDraft POST /api/drafts. Files are kept in the caller's draft area
// until a create or reply names the returned draft_item_id.
func (h *AttachmentsHandler) StageDraft(c *fiber.Ctx) error {
	userID, err := callerID(c)
	if err != nil {
		return err
	}
	if !isMultipart(c) {
		return apperrors.NewValidationError("multipart payload required", nil)
	}
	form, err := c.MultipartForm()
	if err != nil {
		return apperrors.NewValidationError("invalid multipart payload", nil)
	}
	headers := form.File[uploadFormField]
	if len(headers) == 0 {
		return apperrors.NewValidationError("no files attached", map[string]any{uploadFormField: "required"})
	}

	draftID := int64(uuid.New().ID())
	if raw := c.FormValue("draft_item_id"); raw != "" {
		if _, err := fmt.Sscan(raw, &draftID); err != nil || draftID <= 0 {
			return apperrors.NewValidationError("invalid payload", map[string]any{"draft_item_id": "gt"})
		}
	}

	resp := dto.DraftResponse{DraftItemID: draftID, Files: make([]dto.DraftFile, 0, len(headers))}
	for _, header := range headers {
		src, err := header.Open()
		if err != nil {
			return apperrors.NewUploadRejected(header.Filename, "unreadable part")
		}
		file, err := h.store.StoreDraft(c.UserContext(), userID, draftID, header.Filename, src)
		_ = src.Close()
		if err != nil {
			return apperrors.NewUploadRejected(header.Filename, err.Error())
		}
		resp.Files = append(resp.Files, dto.DraftFile{Filename: file.Filename, MimeType: file.MimeType, Size: file.Size})
	}
	return respond(c, fiber.StatusCreated, resp)
}

// Download GET /files/:token.
func (h *AttachmentsHandler) Download(c *fiber.Ctx) error {
	file, meta, err := h.store.OpenToken(c.Params("token"))
	if err != nil {
		if errors.Is(err, storage.ErrInvalidToken) {
			return apperrors.NewForbidden("download link is invalid or expired")
		}
		if errors.Is(err, storage.ErrNotFound) {
			return apperrors.NewNotFound("file", nil)
		}
		return err
	}
	if meta.MimeType != "" {
		c.Set(fiber.HeaderContentType, meta.MimeType)
	}
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", meta.Filename))
	return c.SendStream(file, int(meta.Size))
}
