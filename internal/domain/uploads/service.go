// Package uploads stores files attached to chats and medical records.
package uploads

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/telemed/telemed/internal/platform/auth"
	"github.com/telemed/telemed/internal/platform/blobstore"
)

const (
	DirImages    = "images"
	DirDocuments = "documents"
	DirMedical   = "medical"

	CategoryMedical = "medical"

	// MaxFiles caps a single multi-file upload.
	MaxFiles = 10
)

// Subdirs are created under the upload root at startup.
var Subdirs = []string{DirImages, DirDocuments, DirMedical}

var allowedTypes = map[string]bool{
	"image/jpeg":         true,
	"image/png":          true,
	"image/gif":          true,
	"image/webp":         true,
	"application/pdf":    true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"text/plain":        true,
	"application/rtf":   true,
	"image/dicom":       true,
	"application/dicom": true,
}

var (
	ErrNoFile          = errors.New("no file uploaded")
	ErrTooManyFiles    = fmt.Errorf("at most %d files may be uploaded at once", MaxFiles)
	ErrUnsupportedType = errors.New("file type not allowed")
	ErrTooLarge        = errors.New("file too large")
	ErrInvalidPath     = errors.New("invalid file path")
)

// Upload is one incoming file.
type Upload struct {
	Name     string
	MimeType string
	Size     int64
	Content  io.Reader
}

// File describes a stored upload.
type File struct {
	Filename     string `json:"filename"`
	OriginalName string `json:"originalname"`
	MimeType     string `json:"mimetype"`
	Size         int64  `json:"size"`
	URL          string `json:"url"`
	Path         string `json:"path"`
}

type Service struct {
	store    blobstore.Store
	root     string
	maxBytes int64
	logger   zerolog.Logger
	newName  func(ext string) string
}

// NewService stores files in store. root is only used to report each
// file's path relative to the working directory.
func NewService(store blobstore.Store, root string, maxBytes int64, logger zerolog.Logger) *Service {
	return &Service{
		store:    store,
		root:     root,
		maxBytes: maxBytes,
		logger:   logger.With().Str("component", "uploads").Logger(),
		newName:  func(ext string) string { return uuid.NewString() + ext },
	}
}

func (s *Service) MaxBytes() int64 { return s.maxBytes }

// MediaType normalises a declared content type, falling back to the file
// extension when the client sent none.
func MediaType(declared, filename string) string {
	mt, _, err := mime.ParseMediaType(declared)
	if err != nil || mt == "" || mt == "application/octet-stream" {
		byExt, _, _ := mime.ParseMediaType(mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))))
		if byExt != "" {
			return byExt
		}
		if mt == "" {
			return "application/octet-stream"
		}
	}
	return strings.ToLower(mt)
}

func AllowedType(mimeType string) bool { return allowedTypes[mimeType] }

// SubDirectory picks the directory for a file: images by type, documents
// and text under medical when the caller says so, everything else under
// documents.
func SubDirectory(mimeType, category string) string {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return DirImages
	case mimeType == "application/pdf", strings.HasPrefix(mimeType, "text/"), strings.Contains(mimeType, "document"):
		if category == CategoryMedical {
			return DirMedical
		}
		return DirDocuments
	default:
		return DirDocuments
	}
}

func (s *Service) check(u Upload) error {
	if u.Name == "" || u.Content == nil {
		return ErrNoFile
	}
	if !AllowedType(u.MimeType) {
		return fmt.Errorf("%w: %s", ErrUnsupportedType, u.MimeType)
	}
	if u.Size > s.maxBytes {
		return fmt.Errorf("%w: limit is %d bytes", ErrTooLarge, s.maxBytes)
	}
	return nil
}

// Save stores one file.
func (s *Service) Save(ctx context.Context, p *auth.Principal, u Upload, category string) (*File, error) {
	if err := s.check(u); err != nil {
		return nil, err
	}
	return s.put(ctx, p, u, category)
}

func (s *Service) put(ctx context.Context, p *auth.Principal, u Upload, category string) (*File, error) {
	dir := SubDirectory(u.MimeType, category)
	name := s.newName(strings.ToLower(filepath.Ext(u.Name)))
	n, err := s.store.Put(ctx, dir, name, u.Content, s.maxBytes)
	if errors.Is(err, blobstore.ErrTooLarge) {
		return nil, fmt.Errorf("%w: limit is %d bytes", ErrTooLarge, s.maxBytes)
	}
	if err != nil {
		return nil, fmt.Errorf("store %s: %w", u.Name, err)
	}

	f := &File{
		Filename:     name,
		OriginalName: u.Name,
		MimeType:     u.MimeType,
		Size:         n,
		URL:          blobstore.URLFor(dir, name),
		Path:         path.Join(filepath.ToSlash(s.root), dir, name),
	}
	s.logger.Info().
		Str("user_id", p.UserID.String()).
		Str("url", f.URL).
		Str("mimetype", f.MimeType).
		Int64("size", f.Size).
		Msg("file uploaded")
	return f, nil
}

// SaveMany stores up to MaxFiles files. Every file is checked before any
// is written, and a failed write removes the files already stored.
func (s *Service) SaveMany(ctx context.Context, p *auth.Principal, files []Upload, category string) ([]*File, error) {
	if len(files) == 0 {
		return nil, ErrNoFile
	}
	if len(files) > MaxFiles {
		return nil, ErrTooManyFiles
	}
	for _, u := range files {
		if err := s.check(u); err != nil {
			return nil, fmt.Errorf("%s: %w", u.Name, err)
		}
	}

	out := make([]*File, 0, len(files))
	for _, u := range files {
		f, err := s.put(ctx, p, u, category)
		if err != nil {
			for _, done := range out {
				if rerr := s.store.Remove(ctx, done.URL); rerr != nil {
					s.logger.Warn().Err(rerr).Str("url", done.URL).Msg("failed to roll back upload")
				}
			}
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// Delete removes the file behind a public URL. A file that is already
// gone is not an error.
func (s *Service) Delete(ctx context.Context, p *auth.Principal, url string) error {
	rel, err := blobstore.RelPath(url)
	if err != nil {
		return ErrInvalidPath
	}
	err = s.store.Remove(ctx, rel)
	switch {
	case errors.Is(err, blobstore.ErrNotFound):
		s.logger.Warn().Str("url", url).Msg("file to delete was already missing")
		return nil
	case errors.Is(err, blobstore.ErrInvalidPath):
		return ErrInvalidPath
	case err != nil:
		return err
	}
	s.logger.Info().Str("user_id", p.UserID.String()).Str("url", url).Msg("file deleted")
	return nil
}

func (s *Service) Stats(ctx context.Context) (*blobstore.Stats, error) {
	return s.store.Stats(ctx)
}
