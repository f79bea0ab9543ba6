package database

import (
	"database/sql"
	"time"
)

// Message type enumeration. Exactly one content representation is populated
// per type: TextContent for text, the file columns for everything else.
const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"
	MessageTypeFile  = "file"
	MessageTypeAudio = "audio"
	MessageTypeVideo = "video"
)

// Limit counter names maintained in the message_limits table.
const (
	LimitMaxUsers    = "max_users"
	LimitMaxMessages = "max_messages"
)

// User represents a sender known to the collector, anchored on the
// platform's immutable user id. Profile fields are refreshed on every
// inbound event; name fields are only filled when empty. CustomerName is
// operator-confirmed and never auto-written.
type User struct {
	ID        int64     `db:"id"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`

	LineUserID    string         `db:"line_user_id"`
	DisplayName   sql.NullString `db:"display_name"`
	PictureURL    sql.NullString `db:"picture_url"`
	StatusMessage sql.NullString `db:"status_message"`
	Language      sql.NullString `db:"language"`

	GroupDisplayName sql.NullString `db:"group_display_name"`
	CustomerName     sql.NullString `db:"customer_name"`
	SuggestedName    sql.NullString `db:"suggested_name"`
	NameSource       sql.NullString `db:"name_source"`

	IsActive       bool         `db:"is_active"`
	FirstMessageAt sql.NullTime `db:"first_message_at"`
	LastMessageAt  sql.NullTime `db:"last_message_at"`
	MessageCount   int64        `db:"message_count"`
}

// Message is an immutable record of one inbound platform message,
// deduplicated on the platform-assigned message id.
type Message struct {
	ID        int64     `db:"id"`
	CreatedAt time.Time `db:"created_at"`

	LineMessageID string         `db:"line_message_id"`
	UserID        int64          `db:"user_id"`
	MessageType   string         `db:"message_type"`
	TextContent   sql.NullString `db:"text_content"`
	FileID        sql.NullString `db:"file_id"`
	FileName      sql.NullString `db:"file_name"`
	FileSize      sql.NullInt64  `db:"file_size"`
	FileType      sql.NullString `db:"file_type"`
	Timestamp     time.Time      `db:"timestamp"`
	Metadata      sql.NullString `db:"metadata"`
}

// MessageWithUser joins a message with identifying fields of its owner,
// used by the query/export surface.
type MessageWithUser struct {
	Message
	OwnerLineUserID  string         `db:"owner_line_user_id"`
	OwnerDisplayName sql.NullString `db:"owner_display_name"`
	OwnerPictureURL  sql.NullString `db:"owner_picture_url"`
}

// LimitStatus is one named admission ceiling with its live count.
type LimitStatus struct {
	LimitType    string    `db:"limit_type"`
	LimitValue   int64     `db:"limit_value"`
	CurrentCount int64     `db:"current_count"`
	IsActive     bool      `db:"is_active"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// Stats aggregates system counters for the stats endpoint.
type Stats struct {
	TotalUsers    int64 `db:"total_users"`
	ActiveUsers   int64 `db:"active_users"`
	TotalMessages int64 `db:"total_messages"`
	TextMessages  int64 `db:"text_messages"`
	FileMessages  int64 `db:"file_messages"`
}
