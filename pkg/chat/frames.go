package chat

import (
	"bytes"
	"encoding/json"
	"time"
)

// Frame type discriminators on the duplex wire.
const (
	FrameTypeUser    = "user_message"
	FrameTypeDestroy = "destroy"
	FrameTypeText    = "text"
)

// UserFrame is the outbound duplex payload for a user turn.
type UserFrame struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
}

func NewUserFrame(text string) UserFrame {
	return UserFrame{
		Message:   text,
		Timestamp: DisplayTime(time.Now()),
		Type:      FrameTypeUser,
	}
}

// InboundFrame is the decoded shape of a duplex server frame. Servers send
// arbitrary JSON; only Type carries protocol meaning (FrameTypeDestroy tears
// the session down), the text fields are best-effort.
type InboundFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Text    string `json:"text"`
}

// BodyText picks the display text of a frame: message, then text, then the
// compacted raw payload so nothing is ever silently dropped.
func (f InboundFrame) BodyText(raw []byte) string {
	if f.Message != "" {
		return f.Message
	}
	if f.Text != "" {
		return f.Text
	}
	var out bytes.Buffer
	if err := json.Compact(&out, raw); err == nil {
		return out.String()
	}
	return string(raw)
}
