// Package storage keeps attachment blobs on the local filesystem, laid out as
// scope/area/item/filename under a base directory.
package storage

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/crypto/blake2b"

	"github.com/spec-kit/doubt-service/internal/domain"
)

const draftsDir = "drafts"

// ErrNotFound is returned when a handle does not reference a stored blob.
var ErrNotFound = errors.New("stored file not found")

// Options configures a FileStore.
type Options struct {
	BaseDir          string
	UploadDir        string
	PublicBaseURL    string
	MaxFileSize      int64
	AllowedMimeTypes []string
	Signer           *SignedURLSigner
	Now              func() time.Time
}

// FileStore persists attachment blobs on disk.
type FileStore struct {
	baseDir   string
	uploadDir string
	publicURL string
	maxSize   int64
	allowed   map[string]struct{}
	signer    *SignedURLSigner
	now       func() time.Time
}

// NewFileStore ensures the base directory exists and returns a store.
func NewFileStore(opts Options) (*FileStore, error) {
	if opts.BaseDir == "" {
		opts.BaseDir = "./data/files"
	}
	if err := os.MkdirAll(opts.BaseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	base, err := canonical(opts.BaseDir)
	if err != nil {
		return nil, err
	}
	upload := ""
	if opts.UploadDir != "" {
		if upload, err = canonical(opts.UploadDir); err != nil {
			return nil, err
		}
	}
	if opts.Signer == nil {
		return nil, fmt.Errorf("url signer required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	allowed := make(map[string]struct{}, len(opts.AllowedMimeTypes))
	for _, mt := range opts.AllowedMimeTypes {
		allowed[strings.ToLower(mt)] = struct{}{}
	}
	return &FileStore{
		baseDir:   base,
		uploadDir: upload,
		publicURL: strings.TrimRight(opts.PublicBaseURL, "/"),
		maxSize:   opts.MaxFileSize,
		allowed:   allowed,
		signer:    opts.Signer,
		now:       opts.Now,
	}, nil
}

// UploadDir returns the directory transports must stage uploads in.
func (s *FileStore) UploadDir() string {
	return s.uploadDir
}

// Verify checks the transport error code and that TempPath is a regular file
// inside the upload directory.
func (s *FileStore) Verify(upload domain.Upload) error {
	if upload.ErrorCode != domain.UploadOK {
		return fmt.Errorf("%w: transport error code %d", domain.ErrUploadRejected, upload.ErrorCode)
	}
	if upload.TempPath == "" {
		return fmt.Errorf("%w: missing temp path", domain.ErrUploadRejected)
	}
	if s.uploadDir == "" {
		return fmt.Errorf("%w: upload directory not configured", domain.ErrUploadRejected)
	}
	dir, err := canonical(filepath.Dir(upload.TempPath))
	if err != nil || !within(s.uploadDir, dir) {
		return fmt.Errorf("%w: file was not staged by the upload handler", domain.ErrUploadRejected)
	}
	info, err := os.Lstat(filepath.Join(dir, filepath.Base(upload.TempPath)))
	if err != nil || !info.Mode().IsRegular() {
		return fmt.Errorf("%w: staged file missing", domain.ErrUploadRejected)
	}
	if s.maxSize > 0 && info.Size() > s.maxSize {
		return fmt.Errorf("%w: file exceeds %d bytes", domain.ErrUploadRejected, s.maxSize)
	}
	return nil
}

// Store copies a verified upload into scope/area/item and returns its metadata.
func (s *FileStore) Store(ctx context.Context, scopeID int64, area string, itemID int64, upload domain.Upload) (domain.StoredFile, error) {
	if err := s.Verify(upload); err != nil {
		return domain.StoredFile{}, err
	}
	src, err := os.Open(upload.TempPath)
	if err != nil {
		return domain.StoredFile{}, fmt.Errorf("open upload: %w", err)
	}
	defer src.Close() //nolint:errcheck
	return s.write(ctx, areaPath(scopeID, area, itemID), upload.Filename, src)
}

// StoreDraft stages a file in the user's draft area.
func (s *FileStore) StoreDraft(ctx context.Context, userID, draftItemID int64, filename string, r io.Reader) (domain.StoredFile, error) {
	return s.write(ctx, draftPath(userID, draftItemID), filename, r)
}

// List returns the files held in scope/area/item ordered by filename.
func (s *FileStore) List(ctx context.Context, scopeID int64, area string, itemID int64) ([]domain.StoredFile, error) {
	return s.list(areaPath(scopeID, area, itemID))
}

// PromoteDraft moves every staged draft file of userID into scope/area/item.
func (s *FileStore) PromoteDraft(ctx context.Context, userID, draftItemID, scopeID int64, area string, itemID int64) ([]domain.StoredFile, error) {
	drafts, err := s.list(draftPath(userID, draftItemID))
	if err != nil {
		return nil, err
	}
	target := areaPath(scopeID, area, itemID)
	if err := os.MkdirAll(s.abs(target), 0o755); err != nil {
		return nil, fmt.Errorf("prepare attachment directory: %w", err)
	}
	out := make([]domain.StoredFile, 0, len(drafts))
	for _, draft := range drafts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := s.uniqueName(target, draft.Filename)
		handle := path.Join(target, name)
		if err := os.Rename(s.abs(draft.Handle), s.abs(handle)); err != nil {
			return nil, fmt.Errorf("promote draft file: %w", err)
		}
		draft.Handle = handle
		draft.Filename = name
		out = append(out, draft)
	}
	_ = os.RemoveAll(s.abs(draftPath(userID, draftItemID)))
	return out, nil
}

// DeleteArea removes every blob stored for scope/area/item.
func (s *FileStore) DeleteArea(ctx context.Context, scopeID int64, area string, itemID int64) error {
	if err := os.RemoveAll(s.abs(areaPath(scopeID, area, itemID))); err != nil {
		return fmt.Errorf("delete attachment area: %w", err)
	}
	return nil
}

// URLFor returns a signed download URL for handle.
func (s *FileStore) URLFor(handle string) (string, error) {
	if _, err := s.resolve(handle); err != nil {
		return "", err
	}
	token, _, err := s.signer.Generate(handle)
	if err != nil {
		return "", err
	}
	return s.publicURL + "/" + token, nil
}

// OpenToken validates a download token and opens the referenced blob.
func (s *FileStore) OpenToken(token string) (*os.File, domain.StoredFile, error) {
	handle, err := s.signer.Parse(token)
	if err != nil {
		return nil, domain.StoredFile{}, err
	}
	full, err := s.resolve(handle)
	if err != nil {
		return nil, domain.StoredFile{}, err
	}
	file, err := os.Open(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.StoredFile{}, ErrNotFound
		}
		return nil, domain.StoredFile{}, fmt.Errorf("open stored file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, domain.StoredFile{}, fmt.Errorf("stat stored file: %w", err)
	}
	meta := domain.StoredFile{
		Handle:      handle,
		Filename:    path.Base(handle),
		Size:        info.Size(),
		TimeCreated: info.ModTime().Unix(),
	}
	if mt, err := mimetype.DetectFile(full); err == nil {
		meta.MimeType = mt.String()
	}
	return file, meta, nil
}

func (s *FileStore) write(ctx context.Context, dir, filename string, r io.Reader) (domain.StoredFile, error) {
	if err := ctx.Err(); err != nil {
		return domain.StoredFile{}, err
	}
	if err := os.MkdirAll(s.abs(dir), 0o755); err != nil {
		return domain.StoredFile{}, fmt.Errorf("prepare attachment directory: %w", err)
	}
	name := s.uniqueName(dir, filename)
	handle := path.Join(dir, name)
	full := s.abs(handle)

	dst, err := os.Create(full)
	if err != nil {
		return domain.StoredFile{}, fmt.Errorf("create attachment file: %w", err)
	}
	hasher, err := blake2b.New256(nil)
	if err != nil {
		_ = dst.Close()
		return domain.StoredFile{}, err
	}
	var src io.Reader = r
	if s.maxSize > 0 {
		src = io.LimitReader(r, s.maxSize+1)
	}
	size, err := io.Copy(io.MultiWriter(dst, hasher), src)
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(full)
		return domain.StoredFile{}, fmt.Errorf("write attachment file: %w", err)
	}
	if s.maxSize > 0 && size > s.maxSize {
		_ = os.Remove(full)
		return domain.StoredFile{}, fmt.Errorf("%w: file exceeds %d bytes", domain.ErrUploadRejected, s.maxSize)
	}

	mime := "application/octet-stream"
	if mt, err := mimetype.DetectFile(full); err == nil {
		mime = mt.String()
	}
	if !s.mimeAllowed(mime) {
		_ = os.Remove(full)
		return domain.StoredFile{}, fmt.Errorf("%w: type %s not allowed", domain.ErrUploadRejected, mime)
	}

	return domain.StoredFile{
		Handle:      handle,
		Filename:    name,
		MimeType:    mime,
		Size:        size,
		ContentHash: hex.EncodeToString(hasher.Sum(nil)),
		TimeCreated: s.now().Unix(),
	}, nil
}

func (s *FileStore) list(dir string) ([]domain.StoredFile, error) {
	entries, err := os.ReadDir(s.abs(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return []domain.StoredFile{}, nil
		}
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	out := make([]domain.StoredFile, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		meta, err := s.describe(path.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Filename < out[j].Filename })
	return out, nil
}

func (s *FileStore) describe(handle string) (domain.StoredFile, error) {
	full := s.abs(handle)
	file, err := os.Open(full)
	if err != nil {
		return domain.StoredFile{}, fmt.Errorf("open attachment: %w", err)
	}
	defer file.Close() //nolint:errcheck

	hasher, err := blake2b.New256(nil)
	if err != nil {
		return domain.StoredFile{}, err
	}
	size, err := io.Copy(hasher, file)
	if err != nil {
		return domain.StoredFile{}, fmt.Errorf("hash attachment: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		return domain.StoredFile{}, fmt.Errorf("stat attachment: %w", err)
	}
	mime := "application/octet-stream"
	if mt, err := mimetype.DetectFile(full); err == nil {
		mime = mt.String()
	}
	return domain.StoredFile{
		Handle:      handle,
		Filename:    path.Base(handle),
		MimeType:    mime,
		Size:        size,
		ContentHash: hex.EncodeToString(hasher.Sum(nil)),
		TimeCreated: info.ModTime().Unix(),
	}, nil
}

func (s *FileStore) mimeAllowed(mime string) bool {
	if len(s.allowed) == 0 {
		return true
	}
	base := strings.ToLower(strings.TrimSpace(strings.SplitN(mime, ";", 2)[0]))
	_, ok := s.allowed[base]
	return ok
}

func (s *FileStore) uniqueName(dir, filename string) string {
	name := cleanFilename(filename)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	candidate := name
	for i := 1; ; i++ {
		if _, err := os.Lstat(s.abs(path.Join(dir, candidate))); os.IsNotExist(err) {
			return candidate
		}
		candidate = fmt.Sprintf("%s (%d)%s", stem, i, ext)
	}
}

func (s *FileStore) abs(handle string) string {
	return filepath.Join(s.baseDir, filepath.FromSlash(handle))
}

func (s *FileStore) resolve(handle string) (string, error) {
	clean := path.Clean("/" + handle)[1:]
	if clean == "" || clean != handle || strings.HasPrefix(clean, draftsDir+"/") {
		return "", ErrNotFound
	}
	return s.abs(clean), nil
}

func areaPath(scopeID int64, area string, itemID int64) string {
	return path.Join(strconv.FormatInt(scopeID, 10), cleanFilename(area), strconv.FormatInt(itemID, 10))
}

func draftPath(userID, draftItemID int64) string {
	return path.Join(draftsDir, strconv.FormatInt(userID, 10), strconv.FormatInt(draftItemID, 10))
}

func cleanFilename(name string) string {
	name = strings.TrimSpace(filepath.Base(strings.ReplaceAll(name, "\\", "/")))
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == '/' || r == 0x7f {
			return -1
		}
		return r
	}, name)
	if name == "" || name == "." || name == ".." {
		return "file"
	}
	return name
}

func canonical(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", dir, err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	return abs, nil
}

func within(root, dir string) bool {
	rel, err := filepath.Rel(root, dir)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
