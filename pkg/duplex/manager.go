// Package duplex owns the lifecycle of the persistent bidirectional chat
// connection: connect, idle auto-close, reconnect on abnormal close, inbound
// frame decoding and teardown. One Manager serves one mounted conversation.
package duplex

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/easybali/travelchat/pkg/chat"
)

// State is the connection lifecycle state. Transitions:
// Idle -> Connecting -> Open -> Closed, and Closed -> Connecting via the
// single scheduled reconnect.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ErrNotOpen is returned by Send while no connection is open. Sends are never
// queued; callers surface a local warning instead.
var ErrNotOpen = errors.New("duplex connection not open")

// Handler receives decoded inbound traffic and lifecycle notifications.
type Handler interface {
	// HandleFrame delivers a regular inbound frame as a bot message.
	HandleFrame(msg chat.Message)
	// HandleDestroy signals a server-initiated session termination. The
	// connection is already closed when this fires; the durable log for the
	// session must be cleared by the receiver.
	HandleDestroy()
	// HandleState reports lifecycle transitions.
	HandleState(state State)
}

const (
	DefaultIdleTimeout      = 120 * time.Second
	DefaultReconnectDelay   = 3 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
)

// Config controls one manager.
type Config struct {
	// BaseURL is the http(s) backend base; the ws endpoint is derived from it.
	BaseURL   string
	SessionID string

	IdleTimeout      time.Duration
	ReconnectDelay   time.Duration
	HandshakeTimeout time.Duration

	// Dialer overrides the websocket dialer, for tests.
	Dialer Dialer
}

// Manager is the duplex connection state machine. All state mutation happens
// under mu; timer and read-loop callbacks re-check the teardown flag after
// every asynchronous boundary.
type Manager struct {
	cfg     Config
	handler Handler
	logger  zerolog.Logger

	mu             sync.Mutex
	state          State
	conn           Conn
	idleTimer      *time.Timer
	reconnectTimer *time.Timer
	tearingDown    bool
	localClose     bool
}

func NewManager(cfg Config, handler Handler) *Manager {
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.ReconnectDelay == 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.Dialer == nil {
		cfg.Dialer = gorillaDialer{handshakeTimeout: cfg.HandshakeTimeout}
	}
	return &Manager{
		cfg:     cfg,
		handler: handler,
		logger:  log.With().Str("component", "duplex").Str("session_id", cfg.SessionID).Logger(),
		state:   StateIdle,
	}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect starts a connection attempt unless one is already open or underway.
// A missing base URL aborts the attempt; the user only notices the absence of
// connectivity.
func (m *Manager) Connect(ctx context.Context) {
	m.mu.Lock()
	if m.tearingDown || m.cfg.SessionID == "" || m.state == StateOpen || m.state == StateConnecting {
		m.mu.Unlock()
		return
	}
	if m.cfg.BaseURL == "" {
		m.mu.Unlock()
		m.logger.Error().Msg("no base url configured, skipping duplex connection")
		return
	}
	m.state = StateConnecting
	m.mu.Unlock()
	m.notifyState(StateConnecting)
	go m.dial(ctx)
}

func (m *Manager) dial(ctx context.Context) {
	urlStr, err := endpointURL(m.cfg.BaseURL, m.cfg.SessionID)
	if err != nil {
		m.mu.Lock()
		m.state = StateClosed
		m.mu.Unlock()
		m.logger.Error().Err(err).Msg("invalid duplex endpoint")
		m.notifyState(StateClosed)
		return
	}
	m.logger.Info().Str("url", urlStr).Msg("connecting")
	conn, err := m.cfg.Dialer.DialContext(ctx, urlStr)

	m.mu.Lock()
	if m.tearingDown {
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		m.state = StateClosed
		m.mu.Unlock()
		m.logger.Warn().Err(err).Msg("duplex connect failed")
		m.notifyState(StateClosed)
		return
	}
	m.conn = conn
	m.localClose = false
	m.state = StateOpen
	m.resetIdleTimerLocked()
	m.mu.Unlock()

	m.logger.Info().Msg("duplex connection open")
	m.notifyState(StateOpen)
	go m.readLoop(conn)
}

// Send transmits one user turn as a framed payload, fire-and-forget. Sending
// while not Open fails with ErrNotOpen rather than queueing.
func (m *Manager) Send(text string) error {
	payload, err := json.Marshal(chat.NewUserFrame(text))
	if err != nil {
		return errors.Wrap(err, "marshal user frame")
	}
	m.mu.Lock()
	if m.state != StateOpen || m.conn == nil {
		m.mu.Unlock()
		return ErrNotOpen
	}
	m.resetIdleTimerLocked()
	err = m.conn.WriteMessage(websocket.TextMessage, payload)
	m.mu.Unlock()
	if err != nil {
		return errors.Wrap(err, "write frame")
	}
	m.logger.Debug().Msg("sent user frame")
	return nil
}

func (m *Manager) readLoop(conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.handleClose(conn, err)
			return
		}
		m.handleFrame(conn, data)
	}
}

func (m *Manager) handleFrame(conn Conn, data []byte) {
	m.mu.Lock()
	if m.tearingDown || m.conn != conn {
		m.mu.Unlock()
		return
	}
	m.resetIdleTimerLocked()
	m.mu.Unlock()

	var frame chat.InboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		// Unparseable frames surface verbatim instead of being dropped.
		m.logger.Warn().Err(err).Msg("unparseable frame, appending raw text")
		m.handler.HandleFrame(chat.NewBotMessage(string(data)))
		return
	}
	if frame.Type == chat.FrameTypeDestroy {
		m.logger.Info().Msg("destroy frame received, closing connection")
		m.closeConn(websocket.CloseNormalClosure, "destroy message received")
		m.handler.HandleDestroy()
		return
	}
	msg := chat.NewBotMessage(frame.BodyText(data))
	msg.Kind = frame.Type
	if msg.Kind == "" {
		msg.Kind = chat.FrameTypeText
	}
	m.handler.HandleFrame(msg)
}

// handleClose runs when the read loop exits. Reconnects exactly once after the
// configured delay unless the close was deliberate (local normal close or
// teardown) or the peer shut down cleanly (normal/going-away).
func (m *Manager) handleClose(conn Conn, err error) {
	m.mu.Lock()
	if m.conn != conn {
		// A stale read loop from a superseded connection.
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.stopIdleTimerLocked()
	m.state = StateClosed
	code := closeCode(err)
	retry := !m.tearingDown && !m.localClose &&
		code != websocket.CloseNormalClosure && code != websocket.CloseGoingAway
	if retry {
		m.scheduleReconnectLocked()
	}
	m.mu.Unlock()

	m.logger.Info().Int("code", code).Bool("reconnect", retry).Err(err).Msg("duplex connection closed")
	m.notifyState(StateClosed)
}

// closeCode extracts the websocket close code from a read error. Unknown
// errors map to 0, which counts as an abnormal closure.
func closeCode(err error) int {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return 0
}

func (m *Manager) scheduleReconnectLocked() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
	}
	m.logger.Info().Dur("delay", m.cfg.ReconnectDelay).Msg("scheduling reconnect")
	m.reconnectTimer = time.AfterFunc(m.cfg.ReconnectDelay, func() {
		m.mu.Lock()
		m.reconnectTimer = nil
		// The delay is asynchronous relative to teardown; re-check before acting.
		if m.tearingDown || m.cfg.SessionID == "" || m.state == StateOpen || m.state == StateConnecting {
			m.mu.Unlock()
			return
		}
		m.state = StateConnecting
		m.mu.Unlock()
		m.notifyState(StateConnecting)
		m.dial(context.Background())
	})
}

// resetIdleTimerLocked cancels and reschedules the idle auto-close timer.
// Called on open and on every inbound frame and outbound send.
func (m *Manager) resetIdleTimerLocked() {
	m.stopIdleTimerLocked()
	if m.cfg.IdleTimeout <= 0 {
		return
	}
	m.idleTimer = time.AfterFunc(m.cfg.IdleTimeout, func() {
		m.logger.Info().Dur("idle", m.cfg.IdleTimeout).Msg("idle timeout reached, closing connection")
		m.closeConn(websocket.CloseNormalClosure,
			fmt.Sprintf("auto-close after %s of inactivity", m.cfg.IdleTimeout))
	})
}

func (m *Manager) stopIdleTimerLocked() {
	if m.idleTimer != nil {
		m.idleTimer.Stop()
		m.idleTimer = nil
	}
}

// closeConn performs a deliberate local close with a normal-closure code. The
// read loop observes the closed socket and finishes the state transition
// without scheduling a reconnect.
func (m *Manager) closeConn(code int, reason string) {
	m.mu.Lock()
	conn := m.conn
	if conn == nil {
		m.mu.Unlock()
		return
	}
	m.localClose = true
	m.stopIdleTimerLocked()
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	m.mu.Unlock()
	_ = conn.Close()
}

// Teardown shuts the manager down for good: suppresses all further
// transitions and reconnects, cancels both timers and closes any live
// connection with a normal-closure code. Idempotent.
func (m *Manager) Teardown() {
	m.mu.Lock()
	if m.tearingDown {
		m.mu.Unlock()
		return
	}
	m.tearingDown = true
	m.localClose = true
	m.stopIdleTimerLocked()
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	conn := m.conn
	m.conn = nil
	m.state = StateClosed
	m.mu.Unlock()

	if conn != nil {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client tearing down"))
		_ = conn.Close()
	}
	m.logger.Info().Msg("duplex manager torn down")
}

func (m *Manager) notifyState(state State) {
	if m.handler == nil {
		return
	}
	m.mu.Lock()
	tearing := m.tearingDown
	m.mu.Unlock()
	if tearing {
		return
	}
	m.handler.HandleState(state)
}
