package blob_test

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tzuhan/linevault/internal/blob"
	"github.com/tzuhan/linevault/internal/config"
)

func newTestStore(t *testing.T) blob.Store {
	t.Helper()

	store, err := blob.NewStore(config.BlobConfig{
		Dir:         t.TempDir(),
		BaseURL:     "http://localhost:3000",
		SigningKey:  "0123456789abcdef0123456789abcdef",
		URLTTL:      time.Hour,
		MaxFileSize: 1 << 20,
	}, nil)
	require.NoError(t, err)
	return store
}

func TestMIMEFromFileName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		fileName string
		want     string
	}{
		{"photo.JPG", "image/jpeg"},
		{"report.pdf", "application/pdf"},
		{"notes.docx", "application/vnd.openxmlformats-officedocument.wordprocessingml.document"},
		{"sheet.xlsx", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"},
		{"voice.m4a", "audio/mp4"},
		{"clip.mp4", "video/mp4"},
		{"archive.rar", "application/octet-stream"},
		{"noextension", "application/octet-stream"},
	}

	for _, tt := range tests {
		t.Run(tt.fileName, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, blob.MIMEFromFileName(tt.fileName))
		})
	}
}

func TestPutRoutesByType(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name       string
		fileName   string
		mimeType   string
		wantFolder string
	}{
		{"image", "photo.jpg", "image/jpeg", "images/"},
		{"audio", "voice.m4a", "audio/mp4", "audio/"},
		{"video", "clip.mp4", "video/mp4", "video/"},
		{"pdf", "report.pdf", "application/pdf", "documents/pdf/"},
		{"word", "notes.docx", "application/vnd.openxmlformats-officedocument.wordprocessingml.document", "documents/word/"},
		{"excel", "sheet.xlsx", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "documents/excel/"},
		{"plain text", "readme.txt", "text/plain", "files/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, err := store.Put(ctx, []byte("payload"), tt.fileName, tt.mimeType)
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(ref.ID, tt.wantFolder),
				"ref id %q should start with %q", ref.ID, tt.wantFolder)
			assert.Equal(t, tt.fileName, ref.OriginalName)
		})
	}
}

func TestPutRejectsBeforeWriting(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := blob.NewStore(config.BlobConfig{
		Dir:         dir,
		BaseURL:     "http://localhost:3000",
		SigningKey:  "0123456789abcdef0123456789abcdef",
		URLTTL:      time.Hour,
		MaxFileSize: 16,
	}, nil)
	require.NoError(t, err)

	ctx := context.Background()

	_, err = store.Put(ctx, make([]byte, 32), "big.jpg", "image/jpeg")
	require.ErrorIs(t, err, blob.ErrContentTooLarge)

	_, err = store.Put(ctx, []byte("x"), "app.exe", "application/x-msdownload")
	require.ErrorIs(t, err, blob.ErrUnsupportedType)

	// Nothing may be written on rejection.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCheckSizeAndMIME(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)

	assert.NoError(t, store.CheckSize(1<<20))
	assert.ErrorIs(t, store.CheckSize(1<<20+1), blob.ErrContentTooLarge)

	assert.NoError(t, store.CheckMIME("image/png"))
	assert.ErrorIs(t, store.CheckMIME("application/octet-stream"), blob.ErrUnsupportedType)
}

func TestSignedURLRoundTrip(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	ref, err := store.Put(ctx, []byte("hello"), "greeting.txt", "text/plain")
	require.NoError(t, err)

	url, err := store.SignedURL(ctx, ref.ID)
	require.NoError(t, err)
	require.Contains(t, url, "/api/files/content?token=")

	token := url[strings.Index(url, "token=")+len("token="):]
	path, err := store.Resolve(token)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestSignedURLMissingBlob(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)

	url, err := store.SignedURL(context.Background(), "images/nope.jpg")
	require.NoError(t, err)
	assert.Empty(t, url)
}

func TestResolveRejectsBadTokens(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	ref, err := store.Put(ctx, []byte("hello"), "greeting.txt", "text/plain")
	require.NoError(t, err)

	url, err := store.SignedURL(ctx, ref.ID)
	require.NoError(t, err)
	token := url[strings.Index(url, "token=")+len("token="):]

	_, err = store.Resolve("not-a-token")
	assert.ErrorIs(t, err, blob.ErrInvalidSignedURL)

	// A token signed with a different key must not resolve.
	other, err := blob.NewStore(config.BlobConfig{
		Dir:         t.TempDir(),
		BaseURL:     "http://localhost:3000",
		SigningKey:  "ffffffffffffffffffffffffffffffff",
		URLTTL:      time.Hour,
		MaxFileSize: 1 << 20,
	}, nil)
	require.NoError(t, err)

	_, err = other.Resolve(token)
	assert.ErrorIs(t, err, blob.ErrInvalidSignedURL)
}

func TestDelete(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	ref, err := store.Put(ctx, []byte("hello"), "greeting.txt", "text/plain")
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, ref.ID))

	err = store.Delete(ctx, ref.ID)
	assert.True(t, errors.Is(err, blob.ErrBlobNotFound))

	url, err := store.SignedURL(ctx, ref.ID)
	require.NoError(t, err)
	assert.Empty(t, url)
}
