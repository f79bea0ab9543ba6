package server

import (
	"database/sql"
	"time"

	"github.com/tzuhan/linevault/internal/database"
	"github.com/tzuhan/linevault/internal/users"
)

// userView is the JSON shape of a user returned by the query surface.
type userView struct {
	ID               int64      `json:"id"`
	LineUserID       string     `json:"line_user_id"`
	DisplayName      string     `json:"display_name,omitempty"`
	PictureURL       string     `json:"picture_url,omitempty"`
	StatusMessage    string     `json:"status_message,omitempty"`
	Language         string     `json:"language,omitempty"`
	GroupDisplayName string     `json:"group_display_name,omitempty"`
	CustomerName     string     `json:"customer_name,omitempty"`
	SuggestedName    string     `json:"suggested_name,omitempty"`
	NameSource       string     `json:"name_source,omitempty"`
	IsActive         bool       `json:"is_active"`
	FirstMessageAt   *time.Time `json:"first_message_at,omitempty"`
	LastMessageAt    *time.Time `json:"last_message_at,omitempty"`
	MessageCount     int64      `json:"message_count"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func toUserView(u database.User) userView {
	return userView{
		ID:               u.ID,
		LineUserID:       u.LineUserID,
		DisplayName:      u.DisplayName.String,
		PictureURL:       u.PictureURL.String,
		StatusMessage:    u.StatusMessage.String,
		Language:         u.Language.String,
		GroupDisplayName: u.GroupDisplayName.String,
		CustomerName:     u.CustomerName.String,
		SuggestedName:    u.SuggestedName.String,
		NameSource:       u.NameSource.String,
		IsActive:         u.IsActive,
		FirstMessageAt:   nullTimePtr(u.FirstMessageAt),
		LastMessageAt:    nullTimePtr(u.LastMessageAt),
		MessageCount:     u.MessageCount,
		CreatedAt:        u.CreatedAt,
		UpdatedAt:        u.UpdatedAt,
	}
}

// messageView is the JSON shape of a message joined with its owner. FileURL
// is a short-lived signed link, present only for file-bearing messages.
type messageView struct {
	ID            int64     `json:"id"`
	LineMessageID string    `json:"line_message_id"`
	UserID        int64     `json:"user_id"`
	LineUserID    string    `json:"line_user_id"`
	DisplayName   string    `json:"display_name,omitempty"`
	MessageType   string    `json:"message_type"`
	TextContent   string    `json:"text_content,omitempty"`
	FileID        string    `json:"file_id,omitempty"`
	FileName      string    `json:"file_name,omitempty"`
	FileSize      int64     `json:"file_size,omitempty"`
	FileType      string    `json:"file_type,omitempty"`
	FileURL       string    `json:"file_url,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	CreatedAt     time.Time `json:"created_at"`
}

func toMessageView(m database.MessageWithUser, fileURL string) messageView {
	return messageView{
		ID:            m.ID,
		LineMessageID: m.LineMessageID,
		UserID:        m.UserID,
		LineUserID:    m.OwnerLineUserID,
		DisplayName:   m.OwnerDisplayName.String,
		MessageType:   m.MessageType,
		TextContent:   m.TextContent.String,
		FileID:        m.FileID.String,
		FileName:      m.FileName.String,
		FileSize:      m.FileSize.Int64,
		FileType:      m.FileType.String,
		FileURL:       fileURL,
		Timestamp:     m.Timestamp,
		CreatedAt:     m.CreatedAt,
	}
}

// needingNameView pairs a user lacking a confirmed customer name with
// recent texts for operator reference.
type needingNameView struct {
	User           userView `json:"user"`
	RecentMessages []string `json:"recent_messages"`
}

func toNeedingNameView(n users.NeedingName) needingNameView {
	return needingNameView{
		User:           toUserView(n.User),
		RecentMessages: n.RecentMessages,
	}
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
