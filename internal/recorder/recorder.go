// Package recorder orchestrates the ingestion pipeline for inbound webhook
// events: admission gating, sender enrichment, payload upload, and the
// idempotent commit of one message record per platform message id.
package recorder

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tzuhan/linevault/internal/blob"
	"github.com/tzuhan/linevault/internal/database"
	"github.com/tzuhan/linevault/internal/limits"
	"github.com/tzuhan/linevault/internal/platform"
	"github.com/tzuhan/linevault/internal/users"
)

// Outcome statuses. Every event reaches exactly one of these.
const (
	StatusSuccess  = "success"
	StatusRejected = "rejected"
	StatusIgnored  = "ignored"
	StatusError    = "error"
)

// Rejection and ignore reasons reported in outcomes.
const (
	ReasonNotMessageEvent      = "not_message_event"
	ReasonMissingSender        = "missing_sender"
	ReasonUserLimitExceeded    = "user_limit_exceeded"
	ReasonMessageLimitExceeded = "message_limit_exceeded"
	ReasonUnsupportedType      = "unsupported_message_type"
	ReasonUnsupportedFileType  = "unsupported_file_type"
	ReasonContentTooLarge      = "content_too_large"
)

// Outcome is the terminal result of processing one event.
type Outcome struct {
	Status   string `json:"status"`
	Type     string `json:"type,omitempty"`
	RecordID int64  `json:"record_id,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Recorder wires the pipeline collaborators together.
type Recorder struct {
	limiter  limits.Limiter
	registry *users.Registry
	blobs    blob.Store
	client   platform.Client
	store    database.Store
	logger   *slog.Logger
}

// New creates a Recorder with all collaborators injected.
func New(
	limiter limits.Limiter,
	registry *users.Registry,
	blobs blob.Store,
	client platform.Client,
	store database.Store,
	logger *slog.Logger,
) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		limiter:  limiter,
		registry: registry,
		blobs:    blobs,
		client:   client,
		store:    store,
		logger:   logger.With("component", "recorder"),
	}
}

// ProcessEvents handles one webhook delivery. Events are processed
// independently; a failure in one becomes its error outcome and never
// aborts the siblings.
func (r *Recorder) ProcessEvents(ctx context.Context, events []platform.Event) []Outcome {
	outcomes := make([]Outcome, 0, len(events))
	for _, event := range events {
		outcome, err := r.ProcessEvent(ctx, event)
		if err != nil {
			r.logger.ErrorContext(ctx, "Event processing failed",
				"event_type", event.Type, "line_user_id", event.Source.UserID, "error", err)
			outcome = Outcome{Status: StatusError, Error: err.Error()}
			if event.Message != nil {
				outcome.Type = event.Message.Type
			}
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

// ProcessEvent runs a single event through the pipeline stages:
// admission, enrichment, classification, persistence. The returned error is
// reserved for persistence-affecting failures; everything else terminates
// in a rejected or ignored outcome.
func (r *Recorder) ProcessEvent(ctx context.Context, event platform.Event) (Outcome, error) {
	if event.Type != platform.EventTypeMessage || event.Message == nil {
		r.logger.DebugContext(ctx, "Ignoring non-message event", "event_type", event.Type)
		return Outcome{Status: StatusIgnored, Reason: ReasonNotMessageEvent}, nil
	}

	lineUserID := event.Source.UserID
	if lineUserID == "" {
		return Outcome{Status: StatusIgnored, Reason: ReasonMissingSender}, nil
	}

	// Admission gates run before any mutation; either rejection halts the
	// event with no profile lookup, no upload, no write.
	if !r.limiter.CanAdmitUser(ctx, lineUserID) {
		return Outcome{Status: StatusRejected, Reason: ReasonUserLimitExceeded}, nil
	}
	if !r.limiter.CanAdmitMessage(ctx) {
		return Outcome{Status: StatusRejected, Reason: ReasonMessageLimitExceeded}, nil
	}

	profile := r.resolveProfile(ctx, lineUserID)
	groupHint := r.resolveGroupName(ctx, event.Source)

	user, created, err := r.registry.GetOrCreate(ctx, lineUserID, profile, groupHint)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to resolve user %s: %w", lineUserID, err)
	}
	if created {
		if err := r.store.IncrementLimit(ctx, database.LimitMaxUsers); err != nil {
			r.logger.WarnContext(ctx, "Failed to bump user counter", "error", err)
		}
	}

	switch event.Message.Type {
	case database.MessageTypeText:
		return r.handleText(ctx, event, user)
	case database.MessageTypeImage:
		return r.handleImage(ctx, event, user)
	case database.MessageTypeFile:
		return r.handleFile(ctx, event, user)
	case database.MessageTypeAudio:
		return r.handleMedia(ctx, event, user, database.MessageTypeAudio,
			fmt.Sprintf("audio_%s.m4a", event.Message.ID), "audio/mp4")
	case database.MessageTypeVideo:
		return r.handleMedia(ctx, event, user, database.MessageTypeVideo,
			fmt.Sprintf("video_%s.mp4", event.Message.ID), "video/mp4")
	default:
		r.logger.DebugContext(ctx, "Ignoring unsupported message type", "message_type", event.Message.Type)
		return Outcome{Status: StatusIgnored, Type: event.Message.Type, Reason: ReasonUnsupportedType}, nil
	}
}

// resolveProfile is best-effort: a lookup failure degrades to nil and is
// logged, never raised.
func (r *Recorder) resolveProfile(ctx context.Context, lineUserID string) *platform.Profile {
	profile, err := r.client.GetProfile(ctx, lineUserID)
	if err != nil {
		r.logger.WarnContext(ctx, "Profile lookup failed, proceeding without",
			"line_user_id", lineUserID, "error", err)
		return nil
	}
	return profile
}

// resolveGroupName fetches the group's display name for group-context
// events, best-effort.
func (r *Recorder) resolveGroupName(ctx context.Context, source platform.Source) string {
	if source.Origin() != platform.SourceTypeGroup {
		return ""
	}

	summary, err := r.client.GetGroupSummary(ctx, source.GroupID)
	if err != nil {
		r.logger.WarnContext(ctx, "Group summary lookup failed, proceeding without",
			"group_id", source.GroupID, "error", err)
		return ""
	}
	return summary.GroupName
}

func (r *Recorder) handleText(ctx context.Context, event platform.Event, user *database.User) (Outcome, error) {
	// Side effect only: the heuristic must never block persistence.
	r.registry.ApplyMessageHeuristic(ctx, user, event.Message.Text)

	message := &database.Message{
		LineMessageID: event.Message.ID,
		UserID:        user.ID,
		MessageType:   database.MessageTypeText,
		TextContent:   sql.NullString{String: event.Message.Text, Valid: true},
		Timestamp:     event.OriginTime(),
		Metadata:      originMetadata(event.Source),
	}

	return r.commit(ctx, message)
}

func (r *Recorder) handleImage(ctx context.Context, event platform.Event, user *database.User) (Outcome, error) {
	fileName := fmt.Sprintf("image_%s.jpg", event.Message.ID)
	return r.downloadAndCommit(ctx, event, user, database.MessageTypeImage, fileName, "image/jpeg")
}

func (r *Recorder) handleFile(ctx context.Context, event platform.Event, user *database.User) (Outcome, error) {
	// Declared size is checked before the payload is ever downloaded.
	if event.Message.FileSize > 0 {
		if err := r.blobs.CheckSize(event.Message.FileSize); err != nil {
			r.logger.InfoContext(ctx, "Rejecting oversized file",
				"line_message_id", event.Message.ID, "declared_size", event.Message.FileSize)
			return Outcome{Status: StatusRejected, Type: database.MessageTypeFile, Reason: ReasonContentTooLarge}, nil
		}
	}

	mimeType := blob.MIMEFromFileName(event.Message.FileName)
	if err := r.blobs.CheckMIME(mimeType); err != nil {
		r.logger.InfoContext(ctx, "Ignoring unsupported file type",
			"line_message_id", event.Message.ID, "mime_type", mimeType)
		return Outcome{Status: StatusIgnored, Type: database.MessageTypeFile, Reason: ReasonUnsupportedFileType}, nil
	}

	return r.downloadAndCommit(ctx, event, user, database.MessageTypeFile, event.Message.FileName, mimeType)
}

// handleMedia treats audio and video like file uploads with a synthesized
// filename embedding the message id.
func (r *Recorder) handleMedia(ctx context.Context, event platform.Event, user *database.User, messageType, fileName, mimeType string) (Outcome, error) {
	return r.downloadAndCommit(ctx, event, user, messageType, fileName, mimeType)
}

// downloadAndCommit fetches the binary payload, uploads it, and commits a
// binary record. Download and upload failures abort this event only.
func (r *Recorder) downloadAndCommit(ctx context.Context, event platform.Event, user *database.User, messageType, fileName, mimeType string) (Outcome, error) {
	data, err := r.client.GetMessageContent(ctx, event.Message.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to download content for message %s: %w", event.Message.ID, err)
	}

	ref, err := r.blobs.Put(ctx, data, fileName, mimeType)
	if err != nil {
		switch {
		case errors.Is(err, blob.ErrContentTooLarge):
			return Outcome{Status: StatusRejected, Type: messageType, Reason: ReasonContentTooLarge}, nil
		case errors.Is(err, blob.ErrUnsupportedType):
			return Outcome{Status: StatusIgnored, Type: messageType, Reason: ReasonUnsupportedFileType}, nil
		}
		return Outcome{}, fmt.Errorf("failed to upload content for message %s: %w", event.Message.ID, err)
	}

	message := &database.Message{
		LineMessageID: event.Message.ID,
		UserID:        user.ID,
		MessageType:   messageType,
		FileID:        sql.NullString{String: ref.ID, Valid: true},
		FileName:      sql.NullString{String: fileName, Valid: true},
		FileSize:      sql.NullInt64{Int64: int64(len(data)), Valid: true},
		FileType:      sql.NullString{String: mimeType, Valid: true},
		Timestamp:     event.OriginTime(),
		Metadata:      originMetadata(event.Source),
	}

	return r.commit(ctx, message)
}

// commit persists the message record. Redelivery of an already-committed
// platform message id is a successful no-op.
func (r *Recorder) commit(ctx context.Context, message *database.Message) (Outcome, error) {
	err := r.store.InsertMessage(ctx, message)
	if errors.Is(err, database.ErrDuplicateMessage) {
		existing, lookupErr := r.store.GetMessageByExternalID(ctx, message.LineMessageID)
		if lookupErr != nil {
			return Outcome{}, lookupErr
		}

		outcome := Outcome{Status: StatusSuccess, Type: message.MessageType}
		if existing != nil {
			outcome.RecordID = existing.ID
		}
		return outcome, nil
	}
	if err != nil {
		return Outcome{}, err
	}

	if err := r.store.RecordMessageStats(ctx, message.UserID, message.Timestamp); err != nil {
		r.logger.WarnContext(ctx, "Failed to record message stats",
			"user_id", message.UserID, "error", err)
	}

	r.logger.InfoContext(ctx, "Message committed",
		"line_message_id", message.LineMessageID, "type", message.MessageType, "record_id", message.ID)
	return Outcome{Status: StatusSuccess, Type: message.MessageType, RecordID: message.ID}, nil
}

// originMetadata records the event-origin shape alongside the message.
func originMetadata(source platform.Source) sql.NullString {
	meta := map[string]string{"source_type": source.Origin()}
	if source.GroupID != "" {
		meta["group_id"] = source.GroupID
	}
	if source.RoomID != "" {
		meta["room_id"] = source.RoomID
	}

	encoded, err := json.Marshal(meta)
	if err != nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(encoded), Valid: true}
}
