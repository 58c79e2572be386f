package session

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/easybali/travelchat/pkg/chat"
	"github.com/easybali/travelchat/pkg/client"
	"github.com/easybali/travelchat/pkg/duplex"
	"github.com/easybali/travelchat/pkg/persistence/history"
)

var (
	// ErrBusy rejects a user turn while a prior API call is still in flight.
	ErrBusy = errors.New("a reply is still pending")
	// ErrClosed rejects operations after teardown.
	ErrClosed = errors.New("session closed")
	// ErrNotStarted rejects sends before Start resolved the conversation.
	ErrNotStarted = errors.New("session not started")
	// ErrNoConversation rejects sends when resolution produced no conversation.
	ErrNoConversation = errors.New("no conversation initialized")
)

// Fallback texts appended in place of a reply that never came.
const (
	apologyText      = "Sorry, I couldn't process that. Please try again! 🙏"
	notConnectedText = "Connection not established. Please wait or try again."
	sendFailedText   = "Failed to send message. Please check your connection."
)

// Options wires a session's collaborators.
type Options struct {
	Inputs   Inputs
	Store    history.Store
	API      client.API
	Identity Identity

	// Duplex carries connection settings; SessionID is filled from the
	// resolution when the duplex path wins.
	Duplex duplex.Config

	// OnMessage observes every append, seeds included, in insertion order.
	OnMessage func(chat.Message)
	// OnConnectionState observes duplex lifecycle transitions.
	OnConnectionState func(duplex.State)
}

// Session owns one mounted conversation: the ordered log, its write-through
// persistence, the auto-send rule and per-turn transport dispatch. All
// mutation is serialized behind mu; asynchronous results re-check the closed
// flag before appending.
type Session struct {
	opts   Options
	logger zerolog.Logger

	mu       sync.Mutex
	started  bool
	closed   bool
	res      Resolution
	messages []chat.Message
	inFlight bool
	awaiting bool

	dm *duplex.Manager
}

func New(opts Options) *Session {
	return &Session{
		opts:   opts,
		logger: log.With().Str("component", "session").Logger(),
	}
}

// Start resolves the conversation exactly once, seeds the log, connects the
// duplex transport when applicable and arms the one-shot auto-send. Further
// calls are no-ops: a re-mounted view must not duplicate messages or reopen
// connections.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.closed {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	res := Resolve(ctx, s.opts.Inputs, s.opts.Store, s.opts.Identity)
	s.logger = s.logger.With().Str("source", res.Source.String()).Str("kind", string(res.Kind)).Logger()
	s.logger.Info().Int("seed", len(res.Seed)).Bool("awaiting_reply", res.AwaitingReply).Msg("session initialized")

	s.mu.Lock()
	s.res = res
	s.messages = append([]chat.Message(nil), res.Seed...)
	s.awaiting = res.AwaitingReply
	s.mu.Unlock()

	for i := range res.Seed {
		s.notify(res.Seed[i])
	}
	s.persist(ctx)

	if res.Kind.IsDuplex() && res.SessionID != "" {
		cfg := s.opts.Duplex
		cfg.SessionID = res.SessionID
		s.mu.Lock()
		s.dm = duplex.NewManager(cfg, s)
		dm := s.dm
		s.mu.Unlock()
		dm.Connect(ctx)
	}

	s.maybeAutoSend(ctx)
}

// maybeAutoSend issues the API call for a freshly handed-over user message.
// Fires at most once per mount; the awaiting bit set during resolution is the
// only trigger and is consumed under the lock.
func (s *Session) maybeAutoSend(ctx context.Context) {
	s.mu.Lock()
	ok := s.awaiting &&
		s.res.Kind != "" && !s.res.Kind.IsDuplex() &&
		len(s.messages) == 1 && s.messages[0].Sender == chat.SenderUser &&
		!s.inFlight
	var text string
	if ok {
		s.awaiting = false
		s.inFlight = true
		text = s.messages[0].Text
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	s.logger.Info().Msg("auto-sending initial message")
	go s.callAPI(ctx, text)
}

// Send appends one user turn and routes it by conversation kind: a
// synchronous API round-trip, or a fire-and-forget duplex frame.
func (s *Session) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return ErrClosed
	case !s.started:
		s.mu.Unlock()
		return ErrNotStarted
	case s.res.Kind == "":
		s.mu.Unlock()
		return ErrNoConversation
	}
	kind := s.res.Kind
	if !kind.IsDuplex() && s.inFlight {
		s.mu.Unlock()
		return ErrBusy
	}
	user := chat.NewUserMessage(text)
	s.messages = append(s.messages, user)
	if !kind.IsDuplex() {
		s.inFlight = true
	}
	dm := s.dm
	s.mu.Unlock()

	s.notify(user)
	s.persist(ctx)

	if kind.IsDuplex() {
		s.sendDuplex(ctx, dm, text)
		return nil
	}
	s.callAPI(ctx, text)
	return nil
}

// sendDuplex forwards the turn over the duplex connection. There is no
// synchronous reply; failures surface as locally generated bot messages and
// sends while not Open are rejected, never queued.
func (s *Session) sendDuplex(ctx context.Context, dm *duplex.Manager, text string) {
	if dm == nil {
		s.appendBot(ctx, chat.NewBotMessage(notConnectedText))
		return
	}
	err := dm.Send(text)
	switch {
	case err == nil:
	case errors.Is(err, duplex.ErrNotOpen):
		s.logger.Warn().Msg("duplex send while not open")
		s.appendBot(ctx, chat.NewBotMessage(notConnectedText))
	default:
		s.logger.Warn().Err(err).Msg("duplex send failed")
		s.appendBot(ctx, chat.NewBotMessage(sendFailedText))
	}
}

// callAPI performs the single request/response round-trip for a user turn and
// appends exactly one bot message: the reply, or a fallback carrying the
// server's error detail when one can be extracted.
func (s *Session) callAPI(ctx context.Context, text string) {
	s.mu.Lock()
	kind := s.res.Kind
	userID := s.res.UserID
	s.mu.Unlock()

	reply, err := s.opts.API.SendMessage(ctx, kind, userID, text)
	var bot chat.Message
	if err != nil {
		s.logger.Warn().Err(err).Msg("api call failed")
		detail := client.ErrorDetail(err)
		if detail == "" {
			detail = apologyText
		}
		bot = chat.NewBotMessage(detail)
	} else {
		bot = chat.NewBotMessage(reply)
	}

	s.mu.Lock()
	s.inFlight = false
	if s.closed {
		// The conversation is gone; drop the stale result.
		s.mu.Unlock()
		return
	}
	s.messages = append(s.messages, bot)
	s.mu.Unlock()

	s.notify(bot)
	s.persist(ctx)
}

func (s *Session) appendBot(ctx context.Context, msg chat.Message) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.messages = append(s.messages, msg)
	s.mu.Unlock()
	s.notify(msg)
	s.persist(ctx)
}

// HandleFrame implements duplex.Handler: inbound frames append as bot turns.
func (s *Session) HandleFrame(msg chat.Message) {
	s.appendBot(context.Background(), msg)
}

// HandleDestroy implements duplex.Handler: the server ended the session, so
// its durable log is erased. The frame itself never reaches the log.
func (s *Session) HandleDestroy() {
	s.mu.Lock()
	sessionID := s.res.SessionID
	s.mu.Unlock()
	if sessionID == "" || s.opts.Store == nil {
		return
	}
	if err := s.opts.Store.Clear(context.Background(), history.DuplexKey(sessionID)); err != nil {
		s.logger.Warn().Err(err).Msg("could not clear duplex history")
	}
}

// HandleState implements duplex.Handler.
func (s *Session) HandleState(state duplex.State) {
	s.mu.Lock()
	closed := s.closed
	cb := s.opts.OnConnectionState
	s.mu.Unlock()
	if closed || cb == nil {
		return
	}
	cb(state)
}

// Busy reports whether an API round-trip is in flight (the input control is
// disabled while it is).
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// Resolution returns the initialization outcome. Valid after Start.
func (s *Session) Resolution() Resolution {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.res
}

// Messages returns a copy of the conversation log in insertion order.
func (s *Session) Messages() []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]chat.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// ConnectionState reports the duplex transport state, StateIdle when the
// conversation has no duplex transport.
func (s *Session) ConnectionState() duplex.State {
	s.mu.Lock()
	dm := s.dm
	s.mu.Unlock()
	if dm == nil {
		return duplex.StateIdle
	}
	return dm.State()
}

// Close tears the session down: further appends from stale callbacks are
// suppressed and the duplex transport is shut down. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	dm := s.dm
	s.mu.Unlock()
	if dm != nil {
		dm.Teardown()
	}
	s.logger.Info().Msg("session closed")
}

func (s *Session) notify(msg chat.Message) {
	if s.opts.OnMessage != nil {
		s.opts.OnMessage(msg)
	}
}

// persist re-serializes and stores the whole log under its owning key. Every
// append that grows the log past zero length triggers this; failures are
// logged, never propagated.
func (s *Session) persist(ctx context.Context) {
	s.mu.Lock()
	res := s.res
	msgs := make([]chat.Message, len(s.messages))
	copy(msgs, s.messages)
	s.mu.Unlock()

	if len(msgs) == 0 || s.opts.Store == nil {
		return
	}
	var key history.Key
	switch {
	case res.Kind.IsDuplex() && res.SessionID != "":
		key = history.DuplexKey(res.SessionID)
	case res.Kind != "" && !res.Kind.IsDuplex() && res.UserID != "":
		key = history.APIKey(res.UserID, res.Kind)
	default:
		return
	}
	if err := s.opts.Store.Save(ctx, key, msgs); err != nil {
		s.logger.Warn().Err(err).Msg("could not persist history")
	}
}
