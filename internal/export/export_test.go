package export_test

import (
	"archive/zip"
	"context"
	"database/sql"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tzuhan/linevault/internal/blob"
	"github.com/tzuhan/linevault/internal/config"
	"github.com/tzuhan/linevault/internal/database"
	"github.com/tzuhan/linevault/internal/export"
)

// fakeStore serves canned rows to the exporter.
type fakeStore struct {
	database.Store

	users    []database.User
	messages []database.MessageWithUser
}

func (f *fakeStore) ListActiveUsers(_ context.Context) ([]database.User, error) {
	return f.users, nil
}

func (f *fakeStore) ListMessages(_ context.Context, _, _ int) ([]database.MessageWithUser, error) {
	return f.messages, nil
}

func (f *fakeStore) GetStats(_ context.Context) (*database.Stats, error) {
	return &database.Stats{TotalUsers: 2, ActiveUsers: 2, TotalMessages: 3, TextMessages: 2, FileMessages: 1}, nil
}

func (f *fakeStore) GetLimits(_ context.Context) ([]database.LimitStatus, error) {
	return []database.LimitStatus{
		{LimitType: database.LimitMaxUsers, LimitValue: 100, CurrentCount: 2, IsActive: true},
		{LimitType: database.LimitMaxMessages, LimitValue: 5000, CurrentCount: 3, IsActive: true},
	}, nil
}

// fakeBlobs returns a deterministic signed url for any reference.
type fakeBlobs struct {
	blob.Store
}

func (f *fakeBlobs) SignedURL(_ context.Context, refID string) (string, error) {
	return "http://localhost:3000/api/files/content?token=signed-" + refID, nil
}

func seededStore() *fakeStore {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return &fakeStore{
		users: []database.User{
			{
				ID:           1,
				LineUserID:   "U001",
				DisplayName:  sql.NullString{String: "陳大文", Valid: true},
				CustomerName: sql.NullString{String: "王小明", Valid: true},
				MessageCount: 2,
				CreatedAt:    now,
				UpdatedAt:    now,
			},
			{
				ID:         2,
				LineUserID: "U002",
				CreatedAt:  now,
				UpdatedAt:  now,
			},
		},
		messages: []database.MessageWithUser{
			{
				Message: database.Message{
					ID:            1,
					LineMessageID: "M001",
					UserID:        1,
					MessageType:   database.MessageTypeText,
					TextContent:   sql.NullString{String: "哈囉", Valid: true},
					Timestamp:     now,
					CreatedAt:     now,
				},
				OwnerLineUserID:  "U001",
				OwnerDisplayName: sql.NullString{String: "陳大文", Valid: true},
			},
			{
				Message: database.Message{
					ID:            2,
					LineMessageID: "M002",
					UserID:        1,
					MessageType:   database.MessageTypeImage,
					FileID:        sql.NullString{String: "images/x.jpg", Valid: true},
					FileName:      sql.NullString{String: "x.jpg", Valid: true},
					FileSize:      sql.NullInt64{Int64: 123, Valid: true},
					Timestamp:     now,
					CreatedAt:     now,
				},
				OwnerLineUserID: "U001",
			},
		},
	}
}

func newTestExporter(t *testing.T) (*export.Exporter, string) {
	t.Helper()

	dir := t.TempDir()
	e, err := export.NewExporter(config.ExportConfig{TempDir: dir, MaxAge: time.Hour},
		seededStore(), &fakeBlobs{}, nil)
	require.NoError(t, err)
	return e, dir
}

func TestUsersCSV(t *testing.T) {
	t.Parallel()

	e, _ := newTestExporter(t)

	res, err := e.UsersCSV(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.RecordCount)
	assert.True(t, strings.HasSuffix(res.FileName, ".csv"))

	data, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	content := string(data)

	assert.True(t, strings.HasPrefix(content, "\xEF\xBB\xBF"), "BOM for spreadsheet apps")
	assert.Contains(t, content, "LINE User ID")
	assert.Contains(t, content, "U001")
	assert.Contains(t, content, "王小明")
}

func TestMessagesCSVIncludesSignedURL(t *testing.T) {
	t.Parallel()

	e, _ := newTestExporter(t)

	res, err := e.MessagesCSV(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.RecordCount)

	data, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	content := string(data)

	assert.Contains(t, content, "哈囉")
	assert.Contains(t, content, "signed-images/x.jpg")
}

func TestExcelWorkbook(t *testing.T) {
	t.Parallel()

	e, _ := newTestExporter(t)

	res, err := e.Excel(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, res.RecordCount)
	assert.True(t, strings.HasSuffix(res.FileName, ".xlsx"))

	info, err := os.Stat(res.Path)
	require.NoError(t, err)
	assert.NotZero(t, info.Size())
}

func TestArchiveBundlesCSVs(t *testing.T) {
	t.Parallel()

	e, _ := newTestExporter(t)

	res, err := e.Archive(context.Background())
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(res.FileName, ".zip"))

	zr, err := zip.OpenReader(res.Path)
	require.NoError(t, err)
	defer zr.Close()

	require.Len(t, zr.File, 2)
	names := []string{zr.File[0].Name, zr.File[1].Name}
	assert.Contains(t, names[0]+names[1], "users_export_")
	assert.Contains(t, names[0]+names[1], "messages_export_")
}

func TestReportPDF(t *testing.T) {
	t.Parallel()

	e, _ := newTestExporter(t)

	res, err := e.Report(context.Background())
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(res.FileName, ".pdf"))

	data, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "%PDF"))
}

func TestCleanupRemovesOnlyStaleFiles(t *testing.T) {
	t.Parallel()

	e, dir := newTestExporter(t)
	ctx := context.Background()

	stale, err := e.UsersCSV(ctx)
	require.NoError(t, err)
	fresh, err := e.MessagesCSV(ctx)
	require.NoError(t, err)

	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(stale.Path, old, old))

	removed, err := e.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = os.Stat(stale.Path)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(fresh.Path)
	assert.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
