package domain

import "errors"

// ErrUploadRejected marks uploads that fail transport or provenance checks.
var ErrUploadRejected = errors.New("upload rejected")

// Attachment stores metadata for a file bound to a message.
type Attachment struct {
	ID           int64  `db:"id"`
	MessageID    int64  `db:"message_id"`
	Filename     string `db:"filename"`
	FilePath     string `db:"file_path"`
	MimeType     string `db:"mime_type"`
	FileSize     int64  `db:"file_size"`
	ContentHash  string `db:"content_hash"`
	TimeCreated  int64  `db:"time_created"`
	TimeModified int64  `db:"time_modified"`
}

// StoredFile describes a blob held by the attachment store.
type StoredFile struct {
	Handle      string
	Filename    string
	MimeType    string
	Size        int64
	ContentHash string
	TimeCreated int64
}

// UploadOK is the transport error code of a clean upload.
const UploadOK = 0

// Upload is a file handed over by the transport before it reaches storage.
type Upload struct {
	Filename  string
	TempPath  string
	ErrorCode int
}

// Uploads carries either direct uploads or a staged draft area id.
type Uploads struct {
	Files       []Upload
	DraftItemID int64
}

// Empty reports whether nothing was attached.
func (u Uploads) Empty() bool {
	return len(u.Files) == 0 && u.DraftItemID == 0
}
