// Package blob stores binary message payloads under type-derived paths and
// issues time-boxed signed URLs for read access.
package blob

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/xid"

	"github.com/tzuhan/linevault/internal/config"
)

// Sentinel errors for the two admission checks and reference lookup.
var (
	ErrContentTooLarge  = errors.New("content exceeds size ceiling")
	ErrUnsupportedType  = errors.New("unsupported content type")
	ErrBlobNotFound     = errors.New("blob not found")
	ErrInvalidSignedURL = errors.New("invalid signed url token")
)

// Ref identifies a stored blob. ID doubles as the storage path so the
// reference stays stable across processes.
type Ref struct {
	ID           string `json:"file_id"`
	Path         string `json:"file_path"`
	OriginalName string `json:"original_name"`
}

// Store is the capability interface for blob storage.
type Store interface {
	// CheckSize validates a declared payload size against the ceiling
	// without touching storage.
	CheckSize(size int64) error

	// CheckMIME validates a content type against the allow-list.
	CheckMIME(mimeType string) error

	// Put stores a payload under a type-derived path and returns its reference.
	Put(ctx context.Context, data []byte, fileName, mimeType string) (*Ref, error)

	// SignedURL issues a time-boxed read URL for a reference id.
	// Returns "" and no error if the reference does not exist.
	SignedURL(ctx context.Context, refID string) (string, error)

	// Resolve verifies a signed-URL token and returns the filesystem path of
	// the referenced blob.
	Resolve(token string) (string, error)

	// Delete removes a stored blob.
	Delete(ctx context.Context, refID string) error
}

// allowedTypes is the explicit MIME allow-list for uploads.
var allowedTypes = map[string]struct{}{
	"image/jpeg":      {},
	"image/png":       {},
	"image/gif":       {},
	"image/webp":      {},
	"application/pdf": {},
	"application/msword": {},
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": {},
	"application/vnd.ms-excel": {},
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": {},
	"text/plain":      {},
	"audio/mpeg":      {},
	"audio/wav":       {},
	"audio/mp4":       {},
	"video/mp4":       {},
	"video/quicktime": {},
}

// extensionMIMEs infers a MIME type from a file extension when the platform
// does not supply one.
var extensionMIMEs = map[string]string{
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"webp": "image/webp",
	"pdf":  "application/pdf",
	"doc":  "application/msword",
	"docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"xls":  "application/vnd.ms-excel",
	"xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"txt":  "text/plain",
	"mp3":  "audio/mpeg",
	"wav":  "audio/wav",
	"m4a":  "audio/mp4",
	"mp4":  "video/mp4",
	"mov":  "video/quicktime",
}

// MIMEFromFileName infers the content type of a file from its extension,
// defaulting to application/octet-stream.
func MIMEFromFileName(fileName string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(fileName), "."))
	if mime, ok := extensionMIMEs[ext]; ok {
		return mime
	}
	return "application/octet-stream"
}

// folderFor routes a content type into a coarse storage folder.
func folderFor(mimeType string) string {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return "images"
	case strings.HasPrefix(mimeType, "audio/"):
		return "audio"
	case strings.HasPrefix(mimeType, "video/"):
		return "video"
	case mimeType == "application/pdf":
		return "documents/pdf"
	case strings.Contains(mimeType, "word") || strings.Contains(mimeType, "document"):
		return "documents/word"
	case strings.Contains(mimeType, "excel") || strings.Contains(mimeType, "sheet"):
		return "documents/excel"
	default:
		return "files"
	}
}

// fsStore implements Store on the local filesystem with HMAC-signed URLs.
type fsStore struct {
	dir        string
	baseURL    string
	signingKey []byte
	urlTTL     time.Duration
	maxSize    int64
	now        func() time.Time
	logger     *slog.Logger
}

// NewStore creates a filesystem-backed blob store from configuration.
func NewStore(cfg config.BlobConfig, logger *slog.Logger) (Store, error) {
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &fsStore{
		dir:        cfg.Dir,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		signingKey: []byte(cfg.SigningKey),
		urlTTL:     cfg.URLTTL,
		maxSize:    cfg.MaxFileSize,
		now:        time.Now,
		logger:     logger.With("component", "blob_store"),
	}, nil
}

func (s *fsStore) CheckSize(size int64) error {
	if size > s.maxSize {
		return fmt.Errorf("%w: %d bytes, ceiling %d", ErrContentTooLarge, size, s.maxSize)
	}
	return nil
}

func (s *fsStore) CheckMIME(mimeType string) error {
	if _, ok := allowedTypes[mimeType]; !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedType, mimeType)
	}
	return nil
}

func (s *fsStore) Put(ctx context.Context, data []byte, fileName, mimeType string) (*Ref, error) {
	if err := s.CheckSize(int64(len(data))); err != nil {
		return nil, err
	}
	if err := s.CheckMIME(mimeType); err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	// Timestamp prefix keeps repeated original names unique.
	unique := fmt.Sprintf("%d_%s", s.now().UnixMilli(), sanitizeFileName(fileName))
	relPath := path.Join(folderFor(mimeType), unique)

	fullPath := filepath.Join(s.dir, filepath.FromSlash(relPath))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create blob folder: %w", err)
	}
	if err := os.WriteFile(fullPath, data, 0o640); err != nil {
		return nil, fmt.Errorf("failed to write blob %s: %w", relPath, err)
	}

	s.logger.InfoContext(ctx, "Blob stored",
		"path", relPath, "bytes", len(data), "mime_type", mimeType)
	return &Ref{ID: relPath, Path: relPath, OriginalName: fileName}, nil
}

// urlClaims carries the blob reference inside a signed-URL token.
type urlClaims struct {
	jwt.RegisteredClaims
	RefID string `json:"ref"`
}

func (s *fsStore) SignedURL(ctx context.Context, refID string) (string, error) {
	fullPath, err := s.fullPath(refID)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(fullPath); err != nil {
		// Lookup failure degrades to no URL, not an error.
		s.logger.WarnContext(ctx, "Signed URL requested for missing blob", "ref_id", refID)
		return "", nil
	}

	now := s.now()
	claims := urlClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        xid.New().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.urlTTL)),
		},
		RefID: refID,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign url token: %w", err)
	}

	return fmt.Sprintf("%s/api/files/content?token=%s", s.baseURL, url.QueryEscape(token)), nil
}

func (s *fsStore) Resolve(token string) (string, error) {
	claims := &urlClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.signingKey, nil
	})
	if err != nil || !parsed.Valid {
		return "", ErrInvalidSignedURL
	}

	fullPath, err := s.fullPath(claims.RefID)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(fullPath); err != nil {
		return "", ErrBlobNotFound
	}
	return fullPath, nil
}

func (s *fsStore) Delete(ctx context.Context, refID string) error {
	fullPath, err := s.fullPath(refID)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil {
		if os.IsNotExist(err) {
			return ErrBlobNotFound
		}
		return fmt.Errorf("failed to delete blob %s: %w", refID, err)
	}

	s.logger.InfoContext(ctx, "Blob deleted", "ref_id", refID)
	return nil
}

// fullPath maps a reference id onto the storage directory, rejecting any id
// that would escape it.
func (s *fsStore) fullPath(refID string) (string, error) {
	cleaned := path.Clean("/" + refID)
	if cleaned == "/" {
		return "", ErrBlobNotFound
	}
	return filepath.Join(s.dir, filepath.FromSlash(strings.TrimPrefix(cleaned, "/"))), nil
}

func sanitizeFileName(name string) string {
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, " ", "_")
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = "file"
	}
	return name
}
