package line

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType はWebhookイベントの種別。
type EventType string

const (
	EventMessage  EventType = "message"
	EventPostback EventType = "postback"
	EventFollow   EventType = "follow"
	EventUnfollow EventType = "unfollow"
)

// Event は会話処理に必要な項目だけを取り出したWebhookイベント。
type Event struct {
	Type           EventType
	WebhookEventID string
	ReplyToken     string
	UserID         string
	// MessageType はメッセージイベントの種類（text, image など）。
	MessageType  string
	Text         string
	PostbackData string
	Redelivery   bool
	Timestamp    time.Time
}

type webhookBody struct {
	Destination string         `json:"destination"`
	Events      []webhookEvent `json:"events"`
}

type webhookEvent struct {
	Type            string `json:"type"`
	WebhookEventID  string `json:"webhookEventId"`
	ReplyToken      string `json:"replyToken"`
	Timestamp       int64  `json:"timestamp"`
	DeliveryContext struct {
		IsRedelivery bool `json:"isRedelivery"`
	} `json:"deliveryContext"`
	Source struct {
		Type   string `json:"type"`
		UserID string `json:"userId"`
	} `json:"source"`
	Message *struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"message"`
	Postback *struct {
		Data string `json:"data"`
	} `json:"postback"`
}

// ParseEvents はWebhookのボディを解析する。
// 個人チャット以外のイベントと未対応のイベント種別は読み飛ばす。
func ParseEvents(body []byte) ([]Event, error) {
	var wb webhookBody
	if err := json.Unmarshal(body, &wb); err != nil {
		return nil, fmt.Errorf("failed to parse webhook body: %w", err)
	}

	events := make([]Event, 0, len(wb.Events))
	for _, we := range wb.Events {
		if we.Source.Type != "user" || we.Source.UserID == "" {
			continue
		}
		ev := Event{
			Type:           EventType(we.Type),
			WebhookEventID: we.WebhookEventID,
			ReplyToken:     we.ReplyToken,
			UserID:         we.Source.UserID,
			Redelivery:     we.DeliveryContext.IsRedelivery,
			Timestamp:      time.UnixMilli(we.Timestamp),
		}
		switch ev.Type {
		case EventMessage:
			if we.Message == nil {
				continue
			}
			ev.MessageType = we.Message.Type
			ev.Text = we.Message.Text
		case EventPostback:
			if we.Postback == nil {
				continue
			}
			ev.PostbackData = we.Postback.Data
		case EventFollow, EventUnfollow:
		default:
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}
