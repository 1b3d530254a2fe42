package inbound

import (
	"fmt"

	"github.com/tidwall/gjson"
)

type Source struct {
	Type    string
	UserID  string
	GroupID string
	RoomID  string
}

// ID is the identifier a reply or push to this source should target.
func (s Source) ID() string {
	switch s.Type {
	case "group":
		return s.GroupID
	case "room":
		return s.RoomID
	default:
		return s.UserID
	}
}

type EventMessage struct {
	Type string
	Text string
}

// Event is the subset of a webhook event the handlers act on.
type Event struct {
	Type       string
	ReplyToken string
	Source     Source
	Message    EventMessage
	Timestamp  int64
}

// ParseEvents reads the events array of a webhook body. A body with no events yields an empty slice.
func ParseEvents(body []byte) ([]Event, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("webhook body is not valid JSON")
	}
	raw := gjson.GetBytes(body, "events")
	if !raw.Exists() {
		return nil, nil
	}
	if !raw.IsArray() {
		return nil, fmt.Errorf("webhook events is not an array")
	}
	items := raw.Array()
	events := make([]Event, 0, len(items))
	for _, item := range items {
		events = append(events, Event{
			Type:       item.Get("type").String(),
			ReplyToken: item.Get("replyToken").String(),
			Timestamp:  item.Get("timestamp").Int(),
			Source: Source{
				Type:    item.Get("source.type").String(),
				UserID:  item.Get("source.userId").String(),
				GroupID: item.Get("source.groupId").String(),
				RoomID:  item.Get("source.roomId").String(),
			},
			Message: EventMessage{
				Type: item.Get("message.type").String(),
				Text: item.Get("message.text").String(),
			},
		})
	}
	return events, nil
}
