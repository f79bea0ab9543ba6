package platform

import (
	"net/http"

	"github.com/line/line-bot-sdk-go/v8/linebot/webhook"
)

// ErrInvalidSignature reports a delivery whose signature header does not
// match the channel secret.
var ErrInvalidSignature = webhook.ErrInvalidSignature

// ParseWebhook verifies the delivery signature against the channel secret
// and converts the callback payload into pipeline events. Both the
// signature check and the payload parse are the SDK's.
func ParseWebhook(channelSecret string, r *http.Request) ([]Event, error) {
	cb, err := webhook.ParseRequest(channelSecret, r)
	if err != nil {
		return nil, err
	}

	events := make([]Event, 0, len(cb.Events))
	for _, ev := range cb.Events {
		events = append(events, fromCallbackEvent(ev))
	}
	return events, nil
}

func fromCallbackEvent(ev webhook.EventInterface) Event {
	switch e := ev.(type) {
	case webhook.MessageEvent:
		return Event{
			Type:      EventTypeMessage,
			Timestamp: e.Timestamp,
			Source:    fromCallbackSource(e.Source),
			Message:   fromCallbackMessage(e.Message),
		}
	case webhook.FollowEvent:
		return Event{Type: EventTypeFollow, Timestamp: e.Timestamp, Source: fromCallbackSource(e.Source)}
	case webhook.UnfollowEvent:
		return Event{Type: EventTypeUnfollow, Timestamp: e.Timestamp, Source: fromCallbackSource(e.Source)}
	case webhook.JoinEvent:
		return Event{Type: EventTypeJoin, Timestamp: e.Timestamp, Source: fromCallbackSource(e.Source)}
	case webhook.LeaveEvent:
		return Event{Type: EventTypeLeave, Timestamp: e.Timestamp, Source: fromCallbackSource(e.Source)}
	default:
		return Event{Type: ev.GetType()}
	}
}

func fromCallbackSource(src webhook.SourceInterface) Source {
	switch s := src.(type) {
	case webhook.UserSource:
		return Source{Type: SourceTypeUser, UserID: s.UserId}
	case webhook.GroupSource:
		return Source{Type: SourceTypeGroup, UserID: s.UserId, GroupID: s.GroupId}
	case webhook.RoomSource:
		return Source{Type: SourceTypeRoom, UserID: s.UserId, RoomID: s.RoomId}
	default:
		return Source{}
	}
}

func fromCallbackMessage(msg webhook.MessageContentInterface) *EventMessage {
	switch m := msg.(type) {
	case webhook.TextMessageContent:
		return &EventMessage{ID: m.Id, Type: "text", Text: m.Text}
	case webhook.ImageMessageContent:
		return &EventMessage{ID: m.Id, Type: "image"}
	case webhook.AudioMessageContent:
		return &EventMessage{ID: m.Id, Type: "audio"}
	case webhook.VideoMessageContent:
		return &EventMessage{ID: m.Id, Type: "video"}
	case webhook.FileMessageContent:
		return &EventMessage{ID: m.Id, Type: "file", FileName: m.FileName, FileSize: int64(m.FileSize)}
	case webhook.StickerMessageContent:
		return &EventMessage{ID: m.Id, Type: "sticker"}
	case webhook.LocationMessageContent:
		return &EventMessage{ID: m.Id, Type: "location"}
	default:
		return nil
	}
}
