// Package export renders collected users and messages to downloadable
// files: CSV, Excel workbook, ZIP archive, and a PDF summary report.
// Rendered files live in a temp directory and are purged by a scheduled
// cleanup task.
package export

import (
	"archive/zip"
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/rs/xid"
	"github.com/xuri/excelize/v2"

	"github.com/tzuhan/linevault/internal/blob"
	"github.com/tzuhan/linevault/internal/config"
	"github.com/tzuhan/linevault/internal/database"
)

// messageExportLimit caps how many messages a single export renders.
const messageExportLimit = 1000

// Result describes one rendered export file.
type Result struct {
	FileName    string `json:"file_name"`
	Path        string `json:"-"`
	RecordCount int    `json:"record_count"`
}

// Exporter renders export files from the read side of the store.
type Exporter struct {
	store   database.Store
	blobs   blob.Store
	tempDir string
	maxAge  time.Duration
	logger  *slog.Logger
}

// NewExporter creates an exporter and ensures its temp directory exists.
func NewExporter(cfg config.ExportConfig, store database.Store, blobs blob.Store, logger *slog.Logger) (*Exporter, error) {
	if err := os.MkdirAll(cfg.TempDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create export temp directory: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{
		store:   store,
		blobs:   blobs,
		tempDir: cfg.TempDir,
		maxAge:  cfg.MaxAge,
		logger:  logger.With("component", "exporter"),
	}, nil
}

var userHeader = []string{
	"ID", "LINE User ID", "Display Name", "Group Display Name", "Customer Name",
	"Status Message", "Language", "First Message At", "Last Message At",
	"Message Count", "Created At",
}

func userRow(u database.User) []string {
	return []string{
		strconv.FormatInt(u.ID, 10),
		u.LineUserID,
		u.DisplayName.String,
		u.GroupDisplayName.String,
		u.CustomerName.String,
		u.StatusMessage.String,
		u.Language.String,
		formatNullTime(u.FirstMessageAt),
		formatNullTime(u.LastMessageAt),
		strconv.FormatInt(u.MessageCount, 10),
		u.CreatedAt.Format(time.RFC3339),
	}
}

var messageHeader = []string{
	"ID", "LINE Message ID", "User", "LINE User ID", "Type", "Content",
	"File Name", "File Size", "File URL", "Timestamp", "Created At",
}

func (e *Exporter) messageRow(ctx context.Context, m database.MessageWithUser) []string {
	fileURL := ""
	if m.FileID.Valid {
		if url, err := e.blobs.SignedURL(ctx, m.FileID.String); err == nil {
			fileURL = url
		}
	}

	fileSize := ""
	if m.FileSize.Valid {
		fileSize = strconv.FormatInt(m.FileSize.Int64, 10)
	}

	return []string{
		strconv.FormatInt(m.ID, 10),
		m.LineMessageID,
		m.OwnerDisplayName.String,
		m.OwnerLineUserID,
		m.MessageType,
		m.TextContent.String,
		m.FileName.String,
		fileSize,
		fileURL,
		m.Timestamp.Format(time.RFC3339),
		m.CreatedAt.Format(time.RFC3339),
	}
}

// UsersCSV renders all active users to a CSV file.
func (e *Exporter) UsersCSV(ctx context.Context) (*Result, error) {
	users, err := e.store.ListActiveUsers(ctx)
	if err != nil {
		return nil, err
	}

	fileName := fmt.Sprintf("users_export_%s.csv", xid.New())
	path := filepath.Join(e.tempDir, fileName)

	rows := make([][]string, 0, len(users)+1)
	rows = append(rows, userHeader)
	for _, u := range users {
		rows = append(rows, userRow(u))
	}

	if err := writeCSV(path, rows); err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "Users CSV exported", "file", fileName, "records", len(users))
	return &Result{FileName: fileName, Path: path, RecordCount: len(users)}, nil
}

// MessagesCSV renders recent messages (joined with owners) to a CSV file.
func (e *Exporter) MessagesCSV(ctx context.Context) (*Result, error) {
	messages, err := e.store.ListMessages(ctx, messageExportLimit, 0)
	if err != nil {
		return nil, err
	}

	fileName := fmt.Sprintf("messages_export_%s.csv", xid.New())
	path := filepath.Join(e.tempDir, fileName)

	rows := make([][]string, 0, len(messages)+1)
	rows = append(rows, messageHeader)
	for _, m := range messages {
		rows = append(rows, e.messageRow(ctx, m))
	}

	if err := writeCSV(path, rows); err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "Messages CSV exported", "file", fileName, "records", len(messages))
	return &Result{FileName: fileName, Path: path, RecordCount: len(messages)}, nil
}

// Excel renders users and messages into one workbook with two sheets.
func (e *Exporter) Excel(ctx context.Context) (*Result, error) {
	users, err := e.store.ListActiveUsers(ctx)
	if err != nil {
		return nil, err
	}
	messages, err := e.store.ListMessages(ctx, messageExportLimit, 0)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer f.Close()

	const usersSheet = "Users"
	const messagesSheet = "Messages"

	f.SetSheetName(f.GetSheetName(0), usersSheet)
	if _, err := f.NewSheet(messagesSheet); err != nil {
		return nil, fmt.Errorf("failed to create messages sheet: %w", err)
	}

	if err := writeSheet(f, usersSheet, userHeader, len(users), func(i int) []string {
		return userRow(users[i])
	}); err != nil {
		return nil, err
	}
	if err := writeSheet(f, messagesSheet, messageHeader, len(messages), func(i int) []string {
		return e.messageRow(ctx, messages[i])
	}); err != nil {
		return nil, err
	}

	fileName := fmt.Sprintf("linevault_export_%s.xlsx", xid.New())
	path := filepath.Join(e.tempDir, fileName)
	if err := f.SaveAs(path); err != nil {
		return nil, fmt.Errorf("failed to save workbook: %w", err)
	}

	count := len(users) + len(messages)
	e.logger.InfoContext(ctx, "Excel workbook exported", "file", fileName, "records", count)
	return &Result{FileName: fileName, Path: path, RecordCount: count}, nil
}

// Archive renders the users and messages CSVs and bundles them into a ZIP.
func (e *Exporter) Archive(ctx context.Context) (*Result, error) {
	usersRes, err := e.UsersCSV(ctx)
	if err != nil {
		return nil, err
	}
	messagesRes, err := e.MessagesCSV(ctx)
	if err != nil {
		return nil, err
	}

	fileName := fmt.Sprintf("linevault_export_%s.zip", xid.New())
	path := filepath.Join(e.tempDir, fileName)

	out, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create archive: %w", err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	for _, res := range []*Result{usersRes, messagesRes} {
		if err := addToZip(zw, res.Path, res.FileName); err != nil {
			zw.Close()
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize archive: %w", err)
	}

	count := usersRes.RecordCount + messagesRes.RecordCount
	e.logger.InfoContext(ctx, "Archive exported", "file", fileName, "records", count)
	return &Result{FileName: fileName, Path: path, RecordCount: count}, nil
}

// Report renders a one-page PDF summary of system counters and limits.
func (e *Exporter) Report(ctx context.Context) (*Result, error) {
	stats, err := e.store.GetStats(ctx)
	if err != nil {
		return nil, err
	}
	limitRows, err := e.store.GetLimits(ctx)
	if err != nil {
		return nil, err
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 16)
	pdf.Cell(0, 10, "LINE Message Collector Report")
	pdf.Ln(14)

	pdf.SetFont("Helvetica", "", 11)
	pdf.Cell(0, 8, fmt.Sprintf("Generated: %s", time.Now().UTC().Format(time.RFC3339)))
	pdf.Ln(12)

	lines := []string{
		fmt.Sprintf("Total users: %d (active: %d)", stats.TotalUsers, stats.ActiveUsers),
		fmt.Sprintf("Total messages: %d", stats.TotalMessages),
		fmt.Sprintf("Text messages: %d", stats.TextMessages),
		fmt.Sprintf("File messages: %d", stats.FileMessages),
	}
	for _, line := range lines {
		pdf.Cell(0, 8, line)
		pdf.Ln(8)
	}

	pdf.Ln(4)
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Admission ceilings")
	pdf.Ln(10)
	pdf.SetFont("Helvetica", "", 11)
	for _, limit := range limitRows {
		pdf.Cell(0, 8, fmt.Sprintf("%s: %d / %d", limit.LimitType, limit.CurrentCount, limit.LimitValue))
		pdf.Ln(8)
	}

	fileName := fmt.Sprintf("linevault_report_%s.pdf", xid.New())
	path := filepath.Join(e.tempDir, fileName)
	if err := pdf.OutputFileAndClose(path); err != nil {
		return nil, fmt.Errorf("failed to save report: %w", err)
	}

	e.logger.InfoContext(ctx, "Report exported", "file", fileName)
	return &Result{FileName: fileName, Path: path, RecordCount: len(limitRows)}, nil
}

// Cleanup removes export files older than the configured max age and
// returns how many were deleted.
func (e *Exporter) Cleanup(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(e.tempDir)
	if err != nil {
		return 0, fmt.Errorf("failed to read export temp directory: %w", err)
	}

	cutoff := time.Now().Add(-e.maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(e.tempDir, entry.Name())); err != nil {
			e.logger.WarnContext(ctx, "Failed to remove stale export", "file", entry.Name(), "error", err)
			continue
		}
		removed++
	}

	if removed > 0 {
		e.logger.InfoContext(ctx, "Stale exports removed", "count", removed)
	}
	return removed, nil
}

func writeCSV(path string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create csv file: %w", err)
	}
	defer f.Close()

	// UTF-8 BOM so spreadsheet apps detect CJK content correctly.
	if _, err := f.Write([]byte{0xEF, 0xBB, 0xBF}); err != nil {
		return fmt.Errorf("failed to write BOM: %w", err)
	}

	w := csv.NewWriter(f)
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("failed to write csv rows: %w", err)
	}
	return w.Error()
}

func writeSheet(f *excelize.File, sheet string, header []string, n int, row func(int) []string) error {
	if err := setRow(f, sheet, 1, header); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if err := setRow(f, sheet, i+2, row(i)); err != nil {
			return err
		}
	}
	return nil
}

func setRow(f *excelize.File, sheet string, rowNum int, values []string) error {
	cell, err := excelize.CoordinatesToCellName(1, rowNum)
	if err != nil {
		return fmt.Errorf("failed to compute cell name: %w", err)
	}

	row := make([]any, len(values))
	for i, v := range values {
		row[i] = v
	}
	if err := f.SetSheetRow(sheet, cell, &row); err != nil {
		return fmt.Errorf("failed to write sheet row: %w", err)
	}
	return nil
}

func addToZip(zw *zip.Writer, path, name string) error {
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s for archiving: %w", name, err)
	}
	defer src.Close()

	dst, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("failed to add %s to archive: %w", name, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("failed to copy %s into archive: %w", name, err)
	}
	return nil
}

func formatNullTime(t sql.NullTime) string {
	if !t.Valid {
		return ""
	}
	return t.Time.Format(time.RFC3339)
}
