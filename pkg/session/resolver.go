// Package session implements the chat session manager: exactly-once
// initialization from competing input sources, the growing conversation log
// with write-through persistence, and per-turn transport routing between the
// request/response API and the duplex connection.
package session

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/easybali/travelchat/pkg/chat"
	"github.com/easybali/travelchat/pkg/persistence/history"
)

// Identity supplies the stable per-device user identifier.
type Identity interface {
	UserID() string
}

// Navigation is the payload carried over from the previous screen transition.
type Navigation struct {
	Kind               chat.Kind
	UserID             string
	ActiveTab          string
	InitialBotMessage  *chat.Message
	InitialUserMessage *chat.Message

	// Duplex entry: an order-service flow hands over its session and the
	// first line of the order conversation.
	SessionID string
	Message   string
}

// Inputs are the competing initialization sources for one mount. Kind set
// directly is the strongest signal (a dedicated tool screen); Nav carries the
// legacy navigation-state entry points.
type Inputs struct {
	Kind              chat.Kind
	UserID            string
	ToolName          string
	InitialBotMessage *chat.Message

	Nav *Navigation
}

// Source tags which input source won the resolution.
type Source int

const (
	SourceNone Source = iota
	SourceProps
	SourceNavigation
	SourceDuplex
)

func (s Source) String() string {
	switch s {
	case SourceNone:
		return "none"
	case SourceProps:
		return "props"
	case SourceNavigation:
		return "navigation"
	case SourceDuplex:
		return "duplex"
	}
	return fmt.Sprintf("source(%d)", int(s))
}

// Resolution is the tagged result of initialization: conversation identity
// plus the seed log. AwaitingReply marks a seed consisting of a single user
// message that still needs its API reply; the auto-send path consumes it
// exactly once.
type Resolution struct {
	Source        Source
	Kind          chat.Kind
	UserID        string
	SessionID     string
	ActiveTab     string
	Seed          []chat.Message
	AwaitingReply bool
}

// Resolve picks the conversation identity and seed messages from the
// competing sources in precedence order: explicit kind, then navigation
// kind+user, then a navigation duplex session, else nothing. It is the single
// decision point; no cascading flags survive it.
func Resolve(ctx context.Context, in Inputs, store history.Store, identity Identity) Resolution {
	switch {
	case in.Kind != "":
		return resolveProps(ctx, in, store, identity)
	case in.Nav != nil && in.Nav.Kind != "" && in.Nav.UserID != "":
		return resolveNavigation(ctx, *in.Nav, store)
	case in.Nav != nil && in.Nav.SessionID != "" && in.Nav.Message != "":
		return resolveDuplex(ctx, *in.Nav, store)
	default:
		log.Debug().Str("component", "session").Msg("no initial state provided")
		return Resolution{Source: SourceNone}
	}
}

func resolveProps(ctx context.Context, in Inputs, store history.Store, identity Identity) Resolution {
	userID := in.UserID
	if userID == "" && identity != nil {
		userID = identity.UserID()
	}
	res := Resolution{
		Source:    SourceProps,
		Kind:      in.Kind,
		UserID:    userID,
		ActiveTab: in.ToolName,
	}
	if res.ActiveTab == "" {
		res.ActiveTab = "Chat"
	}
	if in.InitialBotMessage != nil {
		// A caller-supplied greeting seeds the log verbatim, no history lookup.
		res.Seed = []chat.Message{*in.InitialBotMessage}
		return res
	}
	res.Seed = loadHistory(ctx, store, history.APIKey(userID, in.Kind))
	return res
}

func resolveNavigation(ctx context.Context, nav Navigation, store history.Store) Resolution {
	res := Resolution{
		Source:    SourceNavigation,
		Kind:      nav.Kind,
		UserID:    nav.UserID,
		ActiveTab: nav.ActiveTab,
	}
	if res.ActiveTab == "" {
		res.ActiveTab = "Chat"
	}
	switch {
	case nav.InitialBotMessage != nil:
		res.Seed = []chat.Message{*nav.InitialBotMessage}
	case nav.InitialUserMessage != nil:
		// The handed-over user message still needs its reply; auto-send fires
		// once for it and history is not consulted.
		res.Seed = []chat.Message{*nav.InitialUserMessage}
		res.AwaitingReply = true
	default:
		res.Seed = loadHistory(ctx, store, history.APIKey(nav.UserID, nav.Kind))
	}
	return res
}

func resolveDuplex(ctx context.Context, nav Navigation, store history.Store) Resolution {
	res := Resolution{
		Source:    SourceDuplex,
		Kind:      chat.KindOrderService,
		SessionID: nav.SessionID,
		ActiveTab: "Order Services",
	}
	if seed := loadHistory(ctx, store, history.DuplexKey(nav.SessionID)); len(seed) > 0 {
		res.Seed = seed
		return res
	}
	res.Seed = []chat.Message{chat.NewBotMessage(nav.Message)}
	return res
}

func loadHistory(ctx context.Context, store history.Store, key history.Key) []chat.Message {
	if store == nil {
		return nil
	}
	msgs, err := store.Load(ctx, key)
	if err != nil {
		log.Warn().Err(err).Str("component", "session").Str("key", key.ID).Msg("history load failed, starting empty")
		return nil
	}
	return msgs
}
