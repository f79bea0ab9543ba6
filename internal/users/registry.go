// Package users implements the user registry: upsert-by-external-id with
// profile refresh, fill-only-if-empty name semantics, and the operator
// surface for confirming customer names.
package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tzuhan/linevault/internal/database"
	"github.com/tzuhan/linevault/internal/names"
	"github.com/tzuhan/linevault/internal/platform"
)

// Registry provides user record operations on top of the store.
type Registry struct {
	store  database.Store
	logger *slog.Logger
}

// NewRegistry creates a user registry.
func NewRegistry(store database.Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:  store,
		logger: logger.With("component", "user_registry"),
	}
}

// GetOrCreate looks up a user by platform id, creating the record on first
// contact. The returned bool reports whether a new row was created.
//
// On update, mutable profile fields are refreshed unconditionally when a
// fresh profile is supplied; groupNameHint and the profile-derived name
// heuristic only ever fill empty fields. A unique-constraint violation on
// insert means another event won the race, so the record is re-read and
// taken down the update path instead.
func (r *Registry) GetOrCreate(ctx context.Context, lineUserID string, profile *platform.Profile, groupNameHint string) (*database.User, bool, error) {
	if lineUserID == "" {
		return nil, false, fmt.Errorf("line user id cannot be empty")
	}

	user, err := r.store.GetUserByExternalID(ctx, lineUserID)
	if err != nil {
		return nil, false, err
	}

	if user == nil {
		user, err = r.create(ctx, lineUserID, profile, groupNameHint)
		if err == nil {
			return user, true, nil
		}
		if !errors.Is(err, database.ErrUserExists) {
			return nil, false, err
		}

		// Lost the insert race; re-read and continue as an update.
		user, err = r.store.GetUserByExternalID(ctx, lineUserID)
		if err != nil {
			return nil, false, err
		}
		if user == nil {
			return nil, false, fmt.Errorf("user %s vanished after duplicate insert", lineUserID)
		}
	}

	if err := r.refresh(ctx, user, profile, groupNameHint); err != nil {
		return nil, false, err
	}

	return user, false, nil
}

func (r *Registry) create(ctx context.Context, lineUserID string, profile *platform.Profile, groupNameHint string) (*database.User, error) {
	user := &database.User{
		LineUserID: lineUserID,
		IsActive:   true,
	}
	applyProfile(user, profile)

	if groupNameHint != "" {
		user.GroupDisplayName = nullString(groupNameHint)
	}
	r.applyProfileHeuristic(user)

	if err := r.store.InsertUser(ctx, user); err != nil {
		return nil, err
	}

	r.logger.InfoContext(ctx, "New user created",
		"line_user_id", lineUserID, "display_name", user.DisplayName.String)
	return user, nil
}

func (r *Registry) refresh(ctx context.Context, user *database.User, profile *platform.Profile, groupNameHint string) error {
	if profile != nil {
		applyProfile(user, profile)
	}
	if groupNameHint != "" && !user.GroupDisplayName.Valid {
		user.GroupDisplayName = nullString(groupNameHint)
	}
	r.applyProfileHeuristic(user)

	return r.store.UpdateUserProfile(ctx, user)
}

// applyProfileHeuristic runs the display-name heuristic against the user's
// current state. A medium-or-better suggestion fills an empty group display
// name; any suggestion is recorded for operator review while the customer
// name is unconfirmed. Existing names are never overwritten.
func (r *Registry) applyProfileHeuristic(user *database.User) {
	if !user.DisplayName.Valid || user.CustomerName.Valid {
		return
	}

	suggestion, ok := names.FromDisplayName(user.DisplayName.String)
	if !ok {
		return
	}

	if !user.GroupDisplayName.Valid && suggestion.Confidence != names.ConfidenceLow {
		user.GroupDisplayName = nullString(suggestion.Name)
	}
	user.SuggestedName = nullString(suggestion.Name)
	user.NameSource = nullString(string(suggestion.Source))
}

// ApplyMessageHeuristic runs the free-text self-introduction heuristic as a
// side effect of a text message. It only fills an empty group display name
// and swallows all errors: enrichment must never block persistence.
func (r *Registry) ApplyMessageHeuristic(ctx context.Context, user *database.User, text string) {
	if user.GroupDisplayName.Valid {
		return
	}

	suggestion, ok := names.FromMessage(text)
	if !ok {
		// Fall back to the sender's display name.
		if !user.DisplayName.Valid {
			return
		}
		if suggestion, ok = names.FromDisplayName(user.DisplayName.String); !ok || suggestion.Confidence == names.ConfidenceLow {
			return
		}
	}

	if err := r.store.SetGroupDisplayName(ctx, user.ID, suggestion.Name); err != nil {
		r.logger.WarnContext(ctx, "Failed to apply name heuristic",
			"user_id", user.ID, "name", suggestion.Name, "error", err)
		return
	}

	user.GroupDisplayName = nullString(suggestion.Name)
	r.logger.InfoContext(ctx, "Group display name set from heuristic",
		"user_id", user.ID, "name", suggestion.Name, "source", suggestion.Source)
}

// Deactivate flips the user's active flag. Records are never hard-deleted.
func (r *Registry) Deactivate(ctx context.Context, lineUserID string) error {
	return r.store.DeactivateUser(ctx, lineUserID)
}

// SetGroupDisplayName is the explicit operator overwrite, always allowed
// regardless of the current value.
func (r *Registry) SetGroupDisplayName(ctx context.Context, userID int64, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("group display name cannot be empty")
	}
	return r.store.SetGroupDisplayName(ctx, userID, name)
}

// SetCustomerName records the operator-confirmed customer name.
func (r *Registry) SetCustomerName(ctx context.Context, userID int64, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("customer name cannot be empty")
	}
	return r.store.SetCustomerName(ctx, userID, name)
}

// ListActive returns all active users, newest first.
func (r *Registry) ListActive(ctx context.Context) ([]database.User, error) {
	return r.store.ListActiveUsers(ctx)
}

// NeedingName is a user without a confirmed customer name plus recent
// message texts for operator reference.
type NeedingName struct {
	User           database.User
	RecentMessages []string
}

// ListNeedingNames returns active users lacking a customer name, each with
// up to three recent text messages.
func (r *Registry) ListNeedingNames(ctx context.Context) ([]NeedingName, error) {
	users, err := r.store.ListUsersNeedingNames(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]NeedingName, 0, len(users))
	for _, user := range users {
		texts, err := r.store.RecentTextsForUser(ctx, user.ID, 3)
		if err != nil {
			r.logger.WarnContext(ctx, "Failed to load recent texts", "user_id", user.ID, "error", err)
		}

		recent := make([]string, 0, len(texts))
		for _, m := range texts {
			if m.TextContent.Valid {
				recent = append(recent, m.TextContent.String)
			}
		}
		result = append(result, NeedingName{User: user, RecentMessages: recent})
	}

	return result, nil
}

// NameUpdate is one entry of a batch customer-name confirmation.
type NameUpdate struct {
	UserID       int64  `json:"user_id"`
	CustomerName string `json:"customer_name"`
}

// BatchResult reports the outcome of one batch entry.
type BatchResult struct {
	UserID  int64  `json:"user_id"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// BatchSetCustomerNames applies customer-name confirmations one by one;
// a failed entry does not abort its siblings.
func (r *Registry) BatchSetCustomerNames(ctx context.Context, updates []NameUpdate) []BatchResult {
	results := make([]BatchResult, 0, len(updates))
	for _, update := range updates {
		if update.UserID == 0 || strings.TrimSpace(update.CustomerName) == "" {
			results = append(results, BatchResult{UserID: update.UserID, Message: "missing user id or name"})
			continue
		}

		if err := r.SetCustomerName(ctx, update.UserID, update.CustomerName); err != nil {
			r.logger.WarnContext(ctx, "Batch name update failed", "user_id", update.UserID, "error", err)
			results = append(results, BatchResult{UserID: update.UserID, Message: err.Error()})
			continue
		}
		results = append(results, BatchResult{UserID: update.UserID, Success: true})
	}
	return results
}

func applyProfile(user *database.User, profile *platform.Profile) {
	if profile == nil {
		return
	}
	user.DisplayName = nullString(profile.DisplayName)
	user.PictureURL = nullString(profile.PictureURL)
	user.StatusMessage = nullString(profile.StatusMessage)
	user.Language = nullString(profile.Language)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
