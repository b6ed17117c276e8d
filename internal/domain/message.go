package domain

// Visibility controls who may read a message.
type Visibility string

const (
	VisibilityPublic   Visibility = "public"
	VisibilityInternal Visibility = "internal"
)

// IsValid reports whether v belongs to the closed visibility vocabulary.
func (v Visibility) IsValid() bool {
	return v == VisibilityPublic || v == VisibilityInternal
}

// ParseVisibility returns the visibility for raw and whether it was valid.
func ParseVisibility(raw string) (Visibility, bool) {
	v := Visibility(raw)
	return v, v.IsValid()
}

// Attachment storage areas. Internal messages keep their files apart so they
// never surface through student-facing listings.
const (
	AreaAttachments         = "attachments"
	AreaInternalAttachments = "internal_attachments"
)

// AttachmentArea returns the storage area holding files for messages of this visibility.
func (v Visibility) AttachmentArea() string {
	if v == VisibilityInternal {
		return AreaInternalAttachments
	}
	return AreaAttachments
}

// ActorRole labels the author of a message.
type ActorRole string

const (
	ActorRoleStudent ActorRole = "student"
	ActorRoleTeacher ActorRole = "teacher"
	ActorRoleManager ActorRole = "manager"
)

// Message body formats.
const (
	FormatHTML     = 1
	FormatPlain    = 2
	FormatMarkdown = 4
)

// NormalizeFormat falls back to HTML for unknown formats.
func NormalizeFormat(format int) int {
	switch format {
	case FormatHTML, FormatPlain, FormatMarkdown:
		return format
	default:
		return FormatHTML
	}
}

// Message is one entry in a doubt thread.
type Message struct {
	ID             int64      `db:"id"`
	DoubtID        int64      `db:"doubt_id"`
	AuthorID       int64      `db:"author_id"`
	ActorRole      ActorRole  `db:"actor_role"`
	Body           string     `db:"body"`
	BodyFormat     int        `db:"body_format"`
	Visibility     Visibility `db:"visibility"`
	HasAttachments bool       `db:"has_attachments"`
	IsResolution   bool       `db:"is_resolution"`
	TimeCreated    int64      `db:"time_created"`
	TimeModified   int64      `db:"time_modified"`
}
