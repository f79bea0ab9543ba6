package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// Sentinel errors surfaced by the store. Both correspond to unique
// constraint violations that callers are expected to handle: a concurrent
// user upsert resolves by re-reading, a redelivered message resolves as a
// successful no-op.
var (
	ErrUserExists       = errors.New("user already exists")
	ErrDuplicateMessage = errors.New("message already recorded")
)

// Store defines the interface for database operations.
// Methods accept context.Context for cancellation and timeouts.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// GetUserByExternalID retrieves a user by platform user id. Returns nil, nil if not found.
	GetUserByExternalID(ctx context.Context, lineUserID string) (*User, error)

	// GetUserByID retrieves a user by row id. Returns nil, nil if not found.
	GetUserByID(ctx context.Context, id int64) (*User, error)

	// InsertUser inserts a new user record and fills in its generated id.
	// Returns ErrUserExists if the platform user id is already present.
	InsertUser(ctx context.Context, user *User) error

	// UpdateUserProfile refreshes the mutable profile and name fields of an existing user.
	UpdateUserProfile(ctx context.Context, user *User) error

	// SetGroupDisplayName overwrites the group display name (operator action, always allowed).
	SetGroupDisplayName(ctx context.Context, userID int64, name string) error

	// SetCustomerName sets the operator-confirmed customer name and clears the pending suggestion.
	SetCustomerName(ctx context.Context, userID int64, name string) error

	// DeactivateUser flips the active flag. Rows are never hard-deleted.
	DeactivateUser(ctx context.Context, lineUserID string) error

	// ListActiveUsers returns all active users, newest first.
	ListActiveUsers(ctx context.Context) ([]User, error)

	// ListUsersNeedingNames returns active users without a confirmed customer name,
	// most recently heard from first.
	ListUsersNeedingNames(ctx context.Context) ([]User, error)

	// InsertMessage inserts a message record and fills in its generated id.
	// Returns ErrDuplicateMessage if the platform message id is already present.
	InsertMessage(ctx context.Context, message *Message) error

	// GetMessageByExternalID retrieves a message by platform message id. Returns nil, nil if not found.
	GetMessageByExternalID(ctx context.Context, lineMessageID string) (*Message, error)

	// ListMessages returns stored messages joined with their owners, newest
	// origin timestamp first, with limit/offset pagination.
	ListMessages(ctx context.Context, limit, offset int) ([]MessageWithUser, error)

	// ListMessagesByExternalUser returns the most recent messages of one user,
	// with limit/offset pagination.
	ListMessagesByExternalUser(ctx context.Context, lineUserID string, limit, offset int) ([]MessageWithUser, error)

	// RecentTextsForUser returns up to limit recent text messages of a user,
	// used as reference material when confirming customer names.
	RecentTextsForUser(ctx context.Context, userID int64, limit int) ([]Message, error)

	// RecordMessageStats bumps the owner's message counters and the
	// message admission counter after a successful commit.
	RecordMessageStats(ctx context.Context, userID int64, timestamp time.Time) error

	// CheckUserAdmission reports whether an event from the given platform
	// user may be admitted under the max_users ceiling. Known users are
	// always admitted.
	CheckUserAdmission(ctx context.Context, lineUserID string) (bool, error)

	// CheckMessageAdmission reports whether another message may be admitted
	// under the max_messages ceiling.
	CheckMessageAdmission(ctx context.Context) (bool, error)

	// IncrementLimit bumps a named admission counter.
	IncrementLimit(ctx context.Context, limitType string) error

	// GetLimits returns all active admission ceilings with their live counts.
	GetLimits(ctx context.Context) ([]LimitStatus, error)

	// GetStats returns aggregate system counters.
	GetStats(ctx context.Context) (*Stats, error)

	// RunSQLMaintenance performs database maintenance tasks like VACUUM.
	RunSQLMaintenance(ctx context.Context) error
}

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store implementation backed by sqlx.
// It requires a connected sqlx.DB instance and a logger.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
	}
}

// isUniqueViolation reports whether err is a SQLite unique constraint failure.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Ping checks the database connection.
func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const userColumns = `id, created_at, updated_at, line_user_id, display_name, picture_url,
	status_message, language, group_display_name, customer_name, suggested_name,
	name_source, is_active, first_message_at, last_message_at, message_count`

func (s *sqlxStore) GetUserByExternalID(ctx context.Context, lineUserID string) (*User, error) {
	if lineUserID == "" {
		return nil, fmt.Errorf("line_user_id cannot be empty")
	}

	var user User
	query := `SELECT ` + userColumns + ` FROM users WHERE line_user_id = ?`

	err := s.db.GetContext(ctx, &user, query, lineUserID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting user by external id", "line_user_id", lineUserID, "error", err)
		return nil, fmt.Errorf("failed to get user %s: %w", lineUserID, err)
	}

	return &user, nil
}

func (s *sqlxStore) GetUserByID(ctx context.Context, id int64) (*User, error) {
	var user User
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ?`

	err := s.db.GetContext(ctx, &user, query, id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting user by id", "user_id", id, "error", err)
		return nil, fmt.Errorf("failed to get user %d: %w", id, err)
	}

	return &user, nil
}

func (s *sqlxStore) InsertUser(ctx context.Context, user *User) error {
	if user == nil {
		return fmt.Errorf("cannot insert nil user")
	}
	if user.LineUserID == "" {
		return fmt.Errorf("user must have a non-empty line_user_id")
	}

	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	query := `
        INSERT INTO users (line_user_id, display_name, picture_url, status_message, language,
            group_display_name, customer_name, suggested_name, name_source, is_active,
            first_message_at, last_message_at, message_count, created_at, updated_at)
        VALUES (:line_user_id, :display_name, :picture_url, :status_message, :language,
            :group_display_name, :customer_name, :suggested_name, :name_source, :is_active,
            :first_message_at, :last_message_at, :message_count, :created_at, :updated_at);
    `

	result, err := s.db.NamedExecContext(ctx, query, user)
	if err != nil {
		if isUniqueViolation(err) {
			s.logger.DebugContext(ctx, "Concurrent insert for existing user", "line_user_id", user.LineUserID)
			return ErrUserExists
		}
		s.logger.ErrorContext(ctx, "Error inserting user", "line_user_id", user.LineUserID, "error", err)
		return fmt.Errorf("failed to insert user %s: %w", user.LineUserID, err)
	}

	if id, err := result.LastInsertId(); err == nil {
		user.ID = id
	} else {
		s.logger.WarnContext(ctx, "Could not retrieve last insert id after inserting user",
			"line_user_id", user.LineUserID, "error", err)
	}

	s.logger.DebugContext(ctx, "User created", "line_user_id", user.LineUserID, "user_id", user.ID)
	return nil
}

func (s *sqlxStore) UpdateUserProfile(ctx context.Context, user *User) error {
	if user == nil {
		return fmt.Errorf("cannot update nil user")
	}

	user.UpdatedAt = time.Now().UTC()

	query := `
        UPDATE users SET
            display_name = :display_name,
            picture_url = :picture_url,
            status_message = :status_message,
            language = :language,
            group_display_name = :group_display_name,
            suggested_name = :suggested_name,
            name_source = :name_source,
            updated_at = :updated_at
        WHERE id = :id
    `

	result, err := s.db.NamedExecContext(ctx, query, user)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error updating user profile", "user_id", user.ID, "error", err)
		return fmt.Errorf("failed to update user %d: %w", user.ID, err)
	}

	if affected, err := result.RowsAffected(); err == nil && affected != 1 {
		s.logger.WarnContext(ctx, "Unexpected number of rows affected when updating user",
			"user_id", user.ID, "affected", affected)
	}

	return nil
}

func (s *sqlxStore) SetGroupDisplayName(ctx context.Context, userID int64, name string) error {
	query := `UPDATE users SET group_display_name = ?, updated_at = ? WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, name, time.Now().UTC(), userID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error setting group display name", "user_id", userID, "error", err)
		return fmt.Errorf("failed to set group display name for user %d: %w", userID, err)
	}

	if affected, _ := result.RowsAffected(); affected == 0 {
		return fmt.Errorf("user %d not found", userID)
	}

	s.logger.DebugContext(ctx, "Group display name updated", "user_id", userID, "name", name)
	return nil
}

func (s *sqlxStore) SetCustomerName(ctx context.Context, userID int64, name string) error {
	query := `UPDATE users SET customer_name = ?, suggested_name = NULL, name_source = NULL,
		updated_at = ? WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, name, time.Now().UTC(), userID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error setting customer name", "user_id", userID, "error", err)
		return fmt.Errorf("failed to set customer name for user %d: %w", userID, err)
	}

	if affected, _ := result.RowsAffected(); affected == 0 {
		return fmt.Errorf("user %d not found", userID)
	}

	return nil
}

func (s *sqlxStore) DeactivateUser(ctx context.Context, lineUserID string) error {
	query := `UPDATE users SET is_active = 0, updated_at = ? WHERE line_user_id = ?`

	result, err := s.db.ExecContext(ctx, query, time.Now().UTC(), lineUserID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error deactivating user", "line_user_id", lineUserID, "error", err)
		return fmt.Errorf("failed to deactivate user %s: %w", lineUserID, err)
	}

	if affected, _ := result.RowsAffected(); affected == 0 {
		return fmt.Errorf("user %s not found", lineUserID)
	}

	s.logger.InfoContext(ctx, "User deactivated", "line_user_id", lineUserID)
	return nil
}

func (s *sqlxStore) ListActiveUsers(ctx context.Context) ([]User, error) {
	var users []User
	query := `SELECT ` + userColumns + ` FROM users WHERE is_active = 1 ORDER BY created_at DESC`

	if err := s.db.SelectContext(ctx, &users, query); err != nil {
		s.logger.ErrorContext(ctx, "Error listing active users", "error", err)
		return nil, fmt.Errorf("failed to list active users: %w", err)
	}

	return users, nil
}

func (s *sqlxStore) ListUsersNeedingNames(ctx context.Context) ([]User, error) {
	var users []User
	query := `SELECT ` + userColumns + ` FROM users
		WHERE is_active = 1 AND (customer_name IS NULL OR customer_name = '')
		ORDER BY last_message_at DESC`

	if err := s.db.SelectContext(ctx, &users, query); err != nil {
		s.logger.ErrorContext(ctx, "Error listing users needing names", "error", err)
		return nil, fmt.Errorf("failed to list users needing names: %w", err)
	}

	return users, nil
}

func (s *sqlxStore) InsertMessage(ctx context.Context, message *Message) error {
	if message == nil {
		return fmt.Errorf("cannot insert nil message")
	}
	if message.LineMessageID == "" {
		return fmt.Errorf("message must have a non-empty line_message_id")
	}
	if message.UserID == 0 {
		return fmt.Errorf("message must have a non-zero user_id")
	}
	if message.Timestamp.IsZero() {
		return fmt.Errorf("message must have a non-zero timestamp")
	}

	message.CreatedAt = time.Now().UTC()

	query := `
        INSERT INTO messages (line_message_id, user_id, message_type, text_content,
            file_id, file_name, file_size, file_type, timestamp, metadata, created_at)
        VALUES (:line_message_id, :user_id, :message_type, :text_content,
            :file_id, :file_name, :file_size, :file_type, :timestamp, :metadata, :created_at);
    `

	result, err := s.db.NamedExecContext(ctx, query, message)
	if err != nil {
		if isUniqueViolation(err) {
			s.logger.DebugContext(ctx, "Duplicate message delivery", "line_message_id", message.LineMessageID)
			return ErrDuplicateMessage
		}
		s.logger.ErrorContext(ctx, "Error inserting message",
			"line_message_id", message.LineMessageID, "user_id", message.UserID, "error", err)
		return fmt.Errorf("failed to insert message %s: %w", message.LineMessageID, err)
	}

	if id, err := result.LastInsertId(); err == nil {
		message.ID = id
	} else {
		s.logger.WarnContext(ctx, "Could not retrieve last insert id after inserting message",
			"line_message_id", message.LineMessageID, "error", err)
	}

	s.logger.DebugContext(ctx, "Message saved",
		"line_message_id", message.LineMessageID, "type", message.MessageType, "message_id", message.ID)
	return nil
}

func (s *sqlxStore) GetMessageByExternalID(ctx context.Context, lineMessageID string) (*Message, error) {
	var message Message
	query := `SELECT id, created_at, line_message_id, user_id, message_type, text_content,
		file_id, file_name, file_size, file_type, timestamp, metadata
		FROM messages WHERE line_message_id = ?`

	err := s.db.GetContext(ctx, &message, query, lineMessageID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting message by external id",
			"line_message_id", lineMessageID, "error", err)
		return nil, fmt.Errorf("failed to get message %s: %w", lineMessageID, err)
	}

	return &message, nil
}

const messageJoinColumns = `m.id, m.created_at, m.line_message_id, m.user_id, m.message_type,
	m.text_content, m.file_id, m.file_name, m.file_size, m.file_type, m.timestamp, m.metadata,
	u.line_user_id AS owner_line_user_id,
	u.display_name AS owner_display_name,
	u.picture_url AS owner_picture_url`

func (s *sqlxStore) ListMessages(ctx context.Context, limit, offset int) ([]MessageWithUser, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var messages []MessageWithUser
	query := `SELECT ` + messageJoinColumns + `
		FROM messages m JOIN users u ON u.id = m.user_id
		ORDER BY m.timestamp DESC
		LIMIT ? OFFSET ?`

	if err := s.db.SelectContext(ctx, &messages, query, limit, offset); err != nil {
		s.logger.ErrorContext(ctx, "Error listing messages", "limit", limit, "offset", offset, "error", err)
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	return messages, nil
}

func (s *sqlxStore) ListMessagesByExternalUser(ctx context.Context, lineUserID string, limit, offset int) ([]MessageWithUser, error) {
	if lineUserID == "" {
		return nil, fmt.Errorf("line_user_id cannot be empty")
	}
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var messages []MessageWithUser
	query := `SELECT ` + messageJoinColumns + `
		FROM messages m JOIN users u ON u.id = m.user_id
		WHERE u.line_user_id = ?
		ORDER BY m.timestamp DESC
		LIMIT ? OFFSET ?`

	if err := s.db.SelectContext(ctx, &messages, query, lineUserID, limit, offset); err != nil {
		s.logger.ErrorContext(ctx, "Error listing user messages", "line_user_id", lineUserID, "error", err)
		return nil, fmt.Errorf("failed to list messages for user %s: %w", lineUserID, err)
	}

	return messages, nil
}

func (s *sqlxStore) RecentTextsForUser(ctx context.Context, userID int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 3
	}

	var messages []Message
	query := `SELECT id, created_at, line_message_id, user_id, message_type, text_content,
		file_id, file_name, file_size, file_type, timestamp, metadata
		FROM messages
		WHERE user_id = ? AND message_type = 'text'
		ORDER BY timestamp DESC
		LIMIT ?`

	if err := s.db.SelectContext(ctx, &messages, query, userID, limit); err != nil {
		s.logger.ErrorContext(ctx, "Error getting recent texts", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to get recent texts for user %d: %w", userID, err)
	}

	return messages, nil
}

func (s *sqlxStore) RecordMessageStats(ctx context.Context, userID int64, timestamp time.Time) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
				s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
			}
		}
	}()

	now := time.Now().UTC()
	userQuery := `UPDATE users SET
		message_count = message_count + 1,
		first_message_at = COALESCE(first_message_at, ?),
		last_message_at = ?,
		updated_at = ?
		WHERE id = ?`

	if _, err := tx.ExecContext(ctx, userQuery, timestamp, timestamp, now, userID); err != nil {
		s.logger.ErrorContext(ctx, "Error updating user message stats", "user_id", userID, "error", err)
		return fmt.Errorf("failed to update message stats for user %d: %w", userID, err)
	}

	limitQuery := `UPDATE message_limits SET current_count = current_count + 1, updated_at = ?
		WHERE limit_type = ?`

	if _, err := tx.ExecContext(ctx, limitQuery, now, LimitMaxMessages); err != nil {
		s.logger.ErrorContext(ctx, "Error incrementing message counter", "error", err)
		return fmt.Errorf("failed to increment message counter: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	tx = nil

	return nil
}

func (s *sqlxStore) CheckUserAdmission(ctx context.Context, lineUserID string) (bool, error) {
	if lineUserID == "" {
		return false, fmt.Errorf("line_user_id cannot be empty")
	}

	var exists bool
	err := s.db.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM users WHERE line_user_id = ?)`, lineUserID)
	if err != nil {
		return false, fmt.Errorf("failed to check user existence: %w", err)
	}
	if exists {
		// Known senders are never turned away by the user ceiling.
		return true, nil
	}

	return s.headroom(ctx, LimitMaxUsers)
}

func (s *sqlxStore) CheckMessageAdmission(ctx context.Context) (bool, error) {
	return s.headroom(ctx, LimitMaxMessages)
}

// headroom reports whether the named counter is below its ceiling.
// A missing or disabled ceiling row imposes no limit.
func (s *sqlxStore) headroom(ctx context.Context, limitType string) (bool, error) {
	var status LimitStatus
	query := `SELECT limit_type, limit_value, current_count, is_active, updated_at
		FROM message_limits WHERE limit_type = ? AND is_active = 1`

	err := s.db.GetContext(ctx, &status, query, limitType)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return true, nil
	case err != nil:
		return false, fmt.Errorf("failed to read limit %s: %w", limitType, err)
	}

	return status.CurrentCount < status.LimitValue, nil
}

func (s *sqlxStore) IncrementLimit(ctx context.Context, limitType string) error {
	query := `UPDATE message_limits SET current_count = current_count + 1, updated_at = ?
		WHERE limit_type = ?`

	if _, err := s.db.ExecContext(ctx, query, time.Now().UTC(), limitType); err != nil {
		s.logger.ErrorContext(ctx, "Error incrementing limit counter", "limit_type", limitType, "error", err)
		return fmt.Errorf("failed to increment limit %s: %w", limitType, err)
	}

	return nil
}

func (s *sqlxStore) GetLimits(ctx context.Context) ([]LimitStatus, error) {
	var limits []LimitStatus
	query := `SELECT limit_type, limit_value, current_count, is_active, updated_at
		FROM message_limits WHERE is_active = 1`

	if err := s.db.SelectContext(ctx, &limits, query); err != nil {
		s.logger.ErrorContext(ctx, "Error getting limits", "error", err)
		return nil, fmt.Errorf("failed to get limits: %w", err)
	}

	return limits, nil
}

func (s *sqlxStore) GetStats(ctx context.Context) (*Stats, error) {
	var stats Stats
	query := `SELECT
		(SELECT COUNT(*) FROM users) AS total_users,
		(SELECT COUNT(*) FROM users WHERE is_active = 1) AS active_users,
		(SELECT COUNT(*) FROM messages) AS total_messages,
		(SELECT COUNT(*) FROM messages WHERE message_type = 'text') AS text_messages,
		(SELECT COUNT(*) FROM messages WHERE message_type != 'text') AS file_messages`

	if err := s.db.GetContext(ctx, &stats, query); err != nil {
		s.logger.ErrorContext(ctx, "Error getting stats", "error", err)
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}

	return &stats, nil
}

// RunSQLMaintenance executes a VACUUM command on the SQLite database.
func (s *sqlxStore) RunSQLMaintenance(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	s.logger.InfoContext(ctx, "Starting database maintenance (VACUUM)")

	// VACUUM must run outside a transaction in SQLite.
	if _, err := s.db.ExecContext(ctx, "VACUUM;"); err != nil {
		s.logger.ErrorContext(ctx, "Database maintenance (VACUUM) failed", "error", err)
		return fmt.Errorf("failed to execute VACUUM: %w", err)
	}

	s.logger.InfoContext(ctx, "Database maintenance (VACUUM) completed")
	return nil
}
