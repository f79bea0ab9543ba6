// Package platform wraps the messaging platform boundary: webhook delivery
// parsing and signature validation via the official SDK, and the bot API
// client used for profile lookups and binary content retrieval. SDK types
// stay at the edge; the pipeline consumes the event model defined here.
package platform

import "time"

// Event types delivered by the webhook. Only EventTypeMessage carries content;
// everything else is acknowledged as ignored.
const (
	EventTypeMessage  = "message"
	EventTypeFollow   = "follow"
	EventTypeUnfollow = "unfollow"
	EventTypeJoin     = "join"
	EventTypeLeave    = "leave"
)

// Source types of an event origin.
const (
	SourceTypeUser  = "user"
	SourceTypeGroup = "group"
	SourceTypeRoom  = "room"
)

// Event is one platform event inside a webhook delivery.
type Event struct {
	Type      string
	Timestamp int64 // origin time, unix milliseconds
	Source    Source
	Message   *EventMessage
}

// OriginTime converts the platform's millisecond timestamp to time.Time.
func (e Event) OriginTime() time.Time {
	return time.UnixMilli(e.Timestamp).UTC()
}

// Source describes where an event came from. GroupID and RoomID are only set
// for their respective source types; UserID identifies the sender in all
// three shapes.
type Source struct {
	Type    string
	UserID  string
	GroupID string
	RoomID  string
}

// Origin classifies the event-origin shape by id presence: a group id means
// group chat, a room id means multi-user room, absence of both means direct
// user chat.
func (s Source) Origin() string {
	switch {
	case s.GroupID != "":
		return SourceTypeGroup
	case s.RoomID != "":
		return SourceTypeRoom
	default:
		return SourceTypeUser
	}
}

// EventMessage is the message sub-object of a message event. FileName and
// FileSize are only present for file messages.
type EventMessage struct {
	ID       string
	Type     string
	Text     string
	FileName string
	FileSize int64
}

// Profile is a sender's display identity. Every field except UserID is
// best-effort and may be empty.
type Profile struct {
	UserID        string
	DisplayName   string
	PictureURL    string
	StatusMessage string
	Language      string
}

// GroupSummary is a group's display identity.
type GroupSummary struct {
	GroupID    string
	GroupName  string
	PictureURL string
}
