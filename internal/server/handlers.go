package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tzuhan/linevault/internal/blob"
	"github.com/tzuhan/linevault/internal/database"
	"github.com/tzuhan/linevault/internal/export"
	"github.com/tzuhan/linevault/internal/platform"
	"github.com/tzuhan/linevault/internal/recorder"
	"github.com/tzuhan/linevault/internal/users"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// Handlers bundles the dependencies of all HTTP endpoints.
type Handlers struct {
	channelSecret string
	maxBodyBytes  int64
	recorder      *recorder.Recorder
	store         database.Store
	registry      *users.Registry
	blobs         blob.Store
	exporter      *export.Exporter
	logger        *slog.Logger
	started       time.Time
}

// NewHandlers creates the endpoint set.
func NewHandlers(
	channelSecret string,
	maxBodyBytes int64,
	rec *recorder.Recorder,
	store database.Store,
	registry *users.Registry,
	blobs blob.Store,
	exporter *export.Exporter,
	logger *slog.Logger,
) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		channelSecret: channelSecret,
		maxBodyBytes:  maxBodyBytes,
		recorder:      rec,
		store:         store,
		registry:      registry,
		blobs:         blobs,
		exporter:      exporter,
		logger:        logger.With("component", "http"),
		started:       time.Now(),
	}
}

// handleWebhook ingests a platform webhook delivery. The delivery signature
// is verified before any parsing; a verified delivery always gets a 200 so
// the platform does not retry events we have already judged.
func (h *Handlers) handleWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)

	events, err := platform.ParseWebhook(h.channelSecret, r)
	if err != nil {
		if errors.Is(err, platform.ErrInvalidSignature) {
			h.logger.WarnContext(r.Context(), "Webhook signature validation failed")
			writeError(w, http.StatusUnauthorized, "invalid_signature", "signature validation failed")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_payload", "failed to parse webhook payload")
		return
	}

	outcomes := h.recorder.ProcessEvents(r.Context(), events)

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"processed": len(outcomes),
		"results":   outcomes,
	})
}

// handleHealth reports liveness of the service and its database.
func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "unhealthy", "database unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(h.started).Round(time.Second).String(),
	})
}

// handleStats returns aggregate counters and the live admission ceilings.
func (h *Handlers) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.GetStats(r.Context())
	if err != nil {
		h.internalError(w, r, "Failed to load stats", err)
		return
	}
	limits, err := h.store.GetLimits(r.Context())
	if err != nil {
		h.internalError(w, r, "Failed to load limits", err)
		return
	}

	limitViews := make([]map[string]any, 0, len(limits))
	for _, l := range limits {
		limitViews = append(limitViews, map[string]any{
			"limit_type":    l.LimitType,
			"limit_value":   l.LimitValue,
			"current_count": l.CurrentCount,
			"is_active":     l.IsActive,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"total_users":    stats.TotalUsers,
		"active_users":   stats.ActiveUsers,
		"total_messages": stats.TotalMessages,
		"text_messages":  stats.TextMessages,
		"file_messages":  stats.FileMessages,
		"limits":         limitViews,
	})
}

// handleListUsers returns all active users.
func (h *Handlers) handleListUsers(w http.ResponseWriter, r *http.Request) {
	list, err := h.registry.ListActive(r.Context())
	if err != nil {
		h.internalError(w, r, "Failed to list users", err)
		return
	}

	views := make([]userView, 0, len(list))
	for _, u := range list {
		views = append(views, toUserView(u))
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": views, "count": len(views)})
}

// handleListMessages returns a page of messages, newest first. An optional
// user_id query narrows the page to one platform user.
func (h *Handlers) handleListMessages(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultPageLimit)
	if limit < 1 || limit > maxPageLimit {
		limit = defaultPageLimit
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	var (
		messages []database.MessageWithUser
		err      error
	)
	if lineUserID := r.URL.Query().Get("user_id"); lineUserID != "" {
		messages, err = h.store.ListMessagesByExternalUser(r.Context(), lineUserID, limit, offset)
	} else {
		messages, err = h.store.ListMessages(r.Context(), limit, offset)
	}
	if err != nil {
		h.internalError(w, r, "Failed to list messages", err)
		return
	}

	h.writeMessagePage(w, r, messages, limit, offset)
}

// handleUserMessages returns a page of one user's messages by platform id.
func (h *Handlers) handleUserMessages(w http.ResponseWriter, r *http.Request) {
	lineUserID := chi.URLParam(r, "lineUserID")

	limit := queryInt(r, "limit", defaultPageLimit)
	if limit < 1 || limit > maxPageLimit {
		limit = defaultPageLimit
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	messages, err := h.store.ListMessagesByExternalUser(r.Context(), lineUserID, limit, offset)
	if err != nil {
		h.internalError(w, r, "Failed to list user messages", err)
		return
	}

	h.writeMessagePage(w, r, messages, limit, offset)
}

func (h *Handlers) writeMessagePage(w http.ResponseWriter, r *http.Request, messages []database.MessageWithUser, limit, offset int) {
	views := make([]messageView, 0, len(messages))
	for _, m := range messages {
		fileURL := ""
		if m.FileID.Valid {
			url, err := h.blobs.SignedURL(r.Context(), m.FileID.String)
			if err != nil {
				h.logger.WarnContext(r.Context(), "Failed to sign file URL", "file_id", m.FileID.String, "error", err)
			} else {
				fileURL = url
			}
		}
		views = append(views, toMessageView(m, fileURL))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"messages": views,
		"count":    len(views),
		"limit":    limit,
		"offset":   offset,
	})
}

// handleFileRedirect issues a temporary redirect to a freshly signed URL
// for the referenced blob.
func (h *Handlers) handleFileRedirect(w http.ResponseWriter, r *http.Request) {
	refID := chi.URLParam(r, "refID")

	url, err := h.blobs.SignedURL(r.Context(), refID)
	if err != nil {
		h.internalError(w, r, "Failed to sign file URL", err)
		return
	}
	if url == "" {
		writeError(w, http.StatusNotFound, "not_found", "file not found")
		return
	}

	http.Redirect(w, r, url, http.StatusFound)
}

// handleFileContent serves blob bytes for a valid signed token.
func (h *Handlers) handleFileContent(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeError(w, http.StatusBadRequest, "missing_token", "token query parameter is required")
		return
	}

	path, err := h.blobs.Resolve(token)
	switch {
	case errors.Is(err, blob.ErrInvalidSignedURL):
		writeError(w, http.StatusUnauthorized, "invalid_token", "signed url is invalid or expired")
		return
	case errors.Is(err, blob.ErrBlobNotFound):
		writeError(w, http.StatusNotFound, "not_found", "file not found")
		return
	case err != nil:
		h.internalError(w, r, "Failed to resolve signed url", err)
		return
	}

	http.ServeFile(w, r, path)
}

type groupNameRequest struct {
	Name string `json:"name"`
}

// handleSetGroupName lets an operator set a user's group display name.
func (h *Handlers) handleSetGroupName(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "user id must be an integer")
		return
	}

	var req groupNameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "invalid_payload", "name is required")
		return
	}

	if err := h.registry.SetGroupDisplayName(r.Context(), userID, req.Name); err != nil {
		h.internalError(w, r, "Failed to set group display name", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleNeedingNames lists users without a confirmed customer name,
// each with recent texts and any heuristic suggestion for review.
func (h *Handlers) handleNeedingNames(w http.ResponseWriter, r *http.Request) {
	list, err := h.registry.ListNeedingNames(r.Context())
	if err != nil {
		h.internalError(w, r, "Failed to list users needing names", err)
		return
	}

	views := make([]needingNameView, 0, len(list))
	for _, n := range list {
		views = append(views, toNeedingNameView(n))
	}
	writeJSON(w, http.StatusOK, map[string]any{"customers": views, "count": len(views)})
}

type batchUpdateRequest struct {
	Updates []users.NameUpdate `json:"updates"`
}

// handleBatchUpdate confirms customer names in bulk. Entries fail
// independently; the response reports each one.
func (h *Handlers) handleBatchUpdate(w http.ResponseWriter, r *http.Request) {
	var req batchUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", "failed to parse request body")
		return
	}
	if len(req.Updates) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_payload", "updates must not be empty")
		return
	}

	results := h.registry.BatchSetCustomerNames(r.Context(), req.Updates)

	succeeded := 0
	for _, res := range results {
		if res.Success {
			succeeded++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results":   results,
		"succeeded": succeeded,
		"failed":    len(results) - succeeded,
	})
}

// handleExport renders an export in the requested format and streams the
// file back as an attachment.
func (h *Handlers) handleExport(w http.ResponseWriter, r *http.Request) {
	format := chi.URLParam(r, "format")

	var (
		res *export.Result
		err error
	)
	switch format {
	case "users":
		res, err = h.exporter.UsersCSV(r.Context())
	case "messages":
		res, err = h.exporter.MessagesCSV(r.Context())
	case "excel":
		res, err = h.exporter.Excel(r.Context())
	case "archive":
		res, err = h.exporter.Archive(r.Context())
	case "report":
		res, err = h.exporter.Report(r.Context())
	default:
		writeError(w, http.StatusBadRequest, "invalid_format", "format must be one of users, messages, excel, archive, report")
		return
	}
	if err != nil {
		h.internalError(w, r, "Export failed", err)
		return
	}

	w.Header().Set("Content-Disposition", "attachment; filename=\""+res.FileName+"\"")
	http.ServeFile(w, r, res.Path)
}

func (h *Handlers) internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.ErrorContext(r.Context(), msg, "error", err)
	writeError(w, http.StatusInternalServerError, "internal_error", "an internal error occurred")
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
