package handlers

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/spec-kit/doubt-service/internal/domain"
)

// uploadFormField is the multipart field carrying attachments.
const uploadFormField = "attachments"

// errCodeNotStaged marks a part the handler could not write to the upload dir.
const errCodeNotStaged = 7

// uploadStager writes multipart parts into the upload directory so the
// attachment store can verify where they came from.
type uploadStager struct {
	dir string
}

func isMultipart(c *fiber.Ctx) bool {
	return strings.HasPrefix(string(c.Request().Header.ContentType()), fiber.MIMEMultipartForm)
}

// stage saves every attachment part and returns the uploads plus a cleanup
// func removing the staged copies.
func (s *uploadStager) stage(c *fiber.Ctx, draftItemID int64) (domain.Uploads, func(), error) {
	uploads := domain.Uploads{DraftItemID: draftItemID}
	var staged []string
	cleanup := func() {
		for _, p := range staged {
			_ = os.Remove(p)
		}
	}
	if !isMultipart(c) {
		return uploads, cleanup, nil
	}
	form, err := c.MultipartForm()
	if err != nil {
		return uploads, cleanup, err
	}
	for _, header := range form.File[uploadFormField] {
		target := filepath.Join(s.dir, uuid.NewString()+filepath.Ext(header.Filename))
		upload := domain.Upload{Filename: filepath.Base(header.Filename), TempPath: target}
		if err := c.SaveFile(header, target); err != nil {
			upload.ErrorCode = errCodeNotStaged
		} else {
			staged = append(staged, target)
		}
		uploads.Files = append(uploads.Files, upload)
	}
	return uploads, cleanup, nil
}
