package line

import (
	"unicode/utf8"

	"github.com/hitoshi/docbot/internal/model"
)

// LINEの各フィールドの文字数上限。
const (
	maxActionLabel    = 20
	maxButtonsTitle   = 40
	maxButtonsText    = 160
	maxButtonsTextTtl = 60
	maxButtonActions  = 4
	maxQuickReplies   = 13
	maxText           = 5000
)

type action struct {
	Type        string `json:"type"`
	Label       string `json:"label"`
	Text        string `json:"text,omitempty"`
	Data        string `json:"data,omitempty"`
	DisplayText string `json:"displayText,omitempty"`
}

type quickReplyItem struct {
	Type   string `json:"type"`
	Action action `json:"action"`
}

type quickReply struct {
	Items []quickReplyItem `json:"items"`
}

type buttonsTemplate struct {
	Type    string   `json:"type"`
	Title   string   `json:"title,omitempty"`
	Text    string   `json:"text"`
	Actions []action `json:"actions"`
}

// outMessage はMessaging APIへ送るメッセージオブジェクト。
type outMessage struct {
	Type       string           `json:"type"`
	Text       string           `json:"text,omitempty"`
	AltText    string           `json:"altText,omitempty"`
	Template   *buttonsTemplate `json:"template,omitempty"`
	QuickReply *quickReply      `json:"quickReply,omitempty"`
}

// toAction は Data があればポストバック、なければラベルをそのまま送るアクションにする。
func toAction(c model.Choice) action {
	label := truncate(c.Label, maxActionLabel)
	if c.Data != "" {
		return action{Type: "postback", Label: label, Data: c.Data, DisplayText: c.Label}
	}
	return action{Type: "message", Label: label, Text: c.Label}
}

func convertMessage(m model.Message) outMessage {
	var out outMessage
	if m.Buttons != nil {
		textLimit := maxButtonsText
		if m.Buttons.Title != "" {
			textLimit = maxButtonsTextTtl
		}
		tmpl := &buttonsTemplate{
			Type:  "buttons",
			Title: truncate(m.Buttons.Title, maxButtonsTitle),
			Text:  truncate(m.Buttons.Text, textLimit),
		}
		for i, c := range m.Buttons.Choices {
			if i == maxButtonActions {
				break
			}
			tmpl.Actions = append(tmpl.Actions, toAction(c))
		}
		alt := m.Text
		if alt == "" {
			alt = m.Buttons.Text
		}
		out = outMessage{Type: "template", AltText: truncate(alt, 400), Template: tmpl}
	} else {
		out = outMessage{Type: "text", Text: truncate(m.Text, maxText)}
	}

	if len(m.QuickReplies) > 0 {
		qr := &quickReply{}
		for i, c := range m.QuickReplies {
			if i == maxQuickReplies {
				break
			}
			qr.Items = append(qr.Items, quickReplyItem{Type: "action", Action: toAction(c)})
		}
		out.QuickReply = qr
	}
	return out
}

func convertMessages(msgs []model.Message) []outMessage {
	out := make([]outMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, convertMessage(m))
	}
	return out
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
