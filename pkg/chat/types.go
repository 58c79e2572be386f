// Package chat holds the core conversation types shared by the session
// manager, the transports and the persistence layer: conversation kinds,
// chat messages and the duplex wire frames.
package chat

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Kind discriminates a conversation and selects its transport. All kinds are
// request/response API conversations except KindOrderService, which runs over
// a persistent duplex connection.
type Kind string

const (
	KindPlanMyTrip        Kind = "plan-my-trip"
	KindWhatToDo          Kind = "what-to-do"
	KindCurrencyConverter Kind = "currency-converter"
	KindVoiceTranslator   Kind = "voice-translator"
	KindGeneral           Kind = "general"
	KindOrderService      Kind = "order-service"
)

// APIKinds lists the kinds served by the request/response API.
func APIKinds() []Kind {
	return []Kind{KindPlanMyTrip, KindWhatToDo, KindCurrencyConverter, KindVoiceTranslator, KindGeneral}
}

// IsDuplex reports whether the kind is carried over the persistent duplex
// connection instead of the request/response API.
func (k Kind) IsDuplex() bool {
	return k == KindOrderService
}

func (k Kind) Valid() bool {
	switch k {
	case KindPlanMyTrip, KindWhatToDo, KindCurrencyConverter, KindVoiceTranslator, KindGeneral, KindOrderService:
		return true
	}
	return false
}

func (k Kind) String() string {
	return string(k)
}

// ParseKind validates a raw kind string.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", errors.Errorf("unknown conversation kind %q", s)
	}
	return k, nil
}

// Sender identifies who authored a message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// Message is a single chat turn. IDs are unique (uuid) rather than timestamps
// so rapid successive appends can never collide; display order is insertion
// order, the ID is only an identity key.
type Message struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Sender    Sender `json:"sender"`
	Timestamp string `json:"timestamp"`
	Kind      string `json:"kind,omitempty"`
}

// DisplayTime formats a wall-clock time the way messages show it.
func DisplayTime(t time.Time) string {
	return t.Format("15:04")
}

func NewUserMessage(text string) Message {
	return Message{
		ID:        uuid.NewString(),
		Text:      text,
		Sender:    SenderUser,
		Timestamp: DisplayTime(time.Now()),
	}
}

func NewBotMessage(text string) Message {
	return Message{
		ID:        uuid.NewString(),
		Text:      text,
		Sender:    SenderBot,
		Timestamp: DisplayTime(time.Now()),
	}
}
