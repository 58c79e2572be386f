package duplex

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/easybali/travelchat/pkg/chat"
)

type readResult struct {
	data []byte
	err  error
}

type stubConn struct {
	mu     sync.Mutex
	reads  chan readResult
	writes []writeRecord
	once   sync.Once
}

type writeRecord struct {
	messageType int
	data        []byte
}

func newStubConn() *stubConn {
	return &stubConn{reads: make(chan readResult, 16)}
}

func (c *stubConn) ReadMessage() (int, []byte, error) {
	r, ok := <-c.reads
	if !ok {
		return 0, nil, errors.New("connection closed")
	}
	if r.err != nil {
		return 0, nil, r.err
	}
	return websocket.TextMessage, r.data, nil
}

func (c *stubConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	c.writes = append(c.writes, writeRecord{messageType: messageType, data: cp})
	return nil
}

func (c *stubConn) Close() error {
	c.once.Do(func() { close(c.reads) })
	return nil
}

func (c *stubConn) push(data string) {
	c.reads <- readResult{data: []byte(data)}
}

func (c *stubConn) pushErr(err error) {
	c.reads <- readResult{err: err}
}

// closeFrames returns the close codes of all close frames written so far.
func (c *stubConn) closeFrames() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	var codes []int
	for _, w := range c.writes {
		if w.messageType == websocket.CloseMessage && len(w.data) >= 2 {
			codes = append(codes, int(binary.BigEndian.Uint16(w.data[:2])))
		}
	}
	return codes
}

func (c *stubConn) textFrames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out [][]byte
	for _, w := range c.writes {
		if w.messageType == websocket.TextMessage {
			out = append(out, w.data)
		}
	}
	return out
}

type stubDialer struct {
	mu    sync.Mutex
	conns []*stubConn
	err   error
}

func (d *stubDialer) DialContext(_ context.Context, _ string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	c := newStubConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *stubDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func (d *stubDialer) conn(i int) *stubConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

type recordingHandler struct {
	mu       sync.Mutex
	frames   []chat.Message
	destroys int
	states   []State
}

func (h *recordingHandler) HandleFrame(msg chat.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frames = append(h.frames, msg)
}

func (h *recordingHandler) HandleDestroy() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.destroys++
}

func (h *recordingHandler) HandleState(state State) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.states = append(h.states, state)
}

func (h *recordingHandler) frameCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.frames)
}

func (h *recordingHandler) destroyCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.destroys
}

func newTestManager(t *testing.T, cfg Config) (*Manager, *stubDialer, *recordingHandler) {
	t.Helper()
	d := &stubDialer{}
	h := &recordingHandler{}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://chat.example.com"
	}
	if cfg.SessionID == "" {
		cfg.SessionID = "sess-1"
	}
	cfg.Dialer = d
	m := NewManager(cfg, h)
	return m, d, h
}

func waitOpen(t *testing.T, m *Manager) {
	t.Helper()
	require.Eventually(t, func() bool {
		return m.State() == StateOpen
	}, time.Second, 5*time.Millisecond)
}

func TestEndpointURL(t *testing.T) {
	u, err := endpointURL("http://chat.example.com", "abc")
	require.NoError(t, err)
	assert.Equal(t, "ws://chat.example.com/ws/abc", u)

	u, err = endpointURL("https://chat.example.com/api", "abc")
	require.NoError(t, err)
	assert.Equal(t, "wss://chat.example.com/api/ws/abc", u)

	_, err = endpointURL("ftp://chat.example.com", "abc")
	require.Error(t, err)
}

func TestConnectWithoutBaseURLStaysIdle(t *testing.T) {
	d := &stubDialer{}
	m := NewManager(Config{SessionID: "sess-1", Dialer: d}, &recordingHandler{})
	m.Connect(context.Background())
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, StateIdle, m.State())
	assert.Equal(t, 0, d.dials())
}

func TestConnectTwiceDialsOnce(t *testing.T) {
	m, d, _ := newTestManager(t, Config{})
	m.Connect(context.Background())
	m.Connect(context.Background())
	waitOpen(t, m)
	m.Connect(context.Background())
	assert.Equal(t, 1, d.dials())
}

func TestSendBeforeOpenRejected(t *testing.T) {
	m, _, _ := newTestManager(t, Config{})
	err := m.Send("hello")
	require.ErrorIs(t, err, ErrNotOpen)
}

func TestSendWritesUserFrame(t *testing.T) {
	m, d, _ := newTestManager(t, Config{})
	m.Connect(context.Background())
	waitOpen(t, m)
	require.NoError(t, m.Send("two massages please"))

	frames := d.conn(0).textFrames()
	require.Len(t, frames, 1)
	var frame chat.UserFrame
	require.NoError(t, json.Unmarshal(frames[0], &frame))
	assert.Equal(t, "two massages please", frame.Message)
	assert.Equal(t, chat.FrameTypeUser, frame.Type)
	assert.NotEmpty(t, frame.Timestamp)
}

func TestInboundFrameAppendsBotMessage(t *testing.T) {
	m, d, h := newTestManager(t, Config{})
	m.Connect(context.Background())
	waitOpen(t, m)

	d.conn(0).push(`{"message":"Your driver is on the way","type":"info"}`)
	require.Eventually(t, func() bool { return h.frameCount() == 1 }, time.Second, 5*time.Millisecond)

	h.mu.Lock()
	msg := h.frames[0]
	h.mu.Unlock()
	assert.Equal(t, "Your driver is on the way", msg.Text)
	assert.Equal(t, chat.SenderBot, msg.Sender)
	assert.Equal(t, "info", msg.Kind)
}

func TestUnparseableFrameFallsBackToRawText(t *testing.T) {
	m, d, h := newTestManager(t, Config{})
	m.Connect(context.Background())
	waitOpen(t, m)

	d.conn(0).push("plain text, not json")
	require.Eventually(t, func() bool { return h.frameCount() == 1 }, time.Second, 5*time.Millisecond)

	h.mu.Lock()
	msg := h.frames[0]
	h.mu.Unlock()
	assert.Equal(t, "plain text, not json", msg.Text)
}

func TestDestroyFrameClosesClearsAndSwallows(t *testing.T) {
	m, d, h := newTestManager(t, Config{ReconnectDelay: 30 * time.Millisecond})
	m.Connect(context.Background())
	waitOpen(t, m)

	d.conn(0).push(`{"type":"destroy"}`)
	require.Eventually(t, func() bool { return h.destroyCount() == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return m.State() == StateClosed }, time.Second, 5*time.Millisecond)

	// The destroy frame never surfaces as a chat message and the local normal
	// close must not trigger a reconnect.
	assert.Equal(t, 0, h.frameCount())
	assert.Equal(t, []int{websocket.CloseNormalClosure}, d.conn(0).closeFrames())
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, d.dials())
}

func TestIdleTimeoutClosesOnceWithNormalCode(t *testing.T) {
	m, d, _ := newTestManager(t, Config{IdleTimeout: 60 * time.Millisecond, ReconnectDelay: 30 * time.Millisecond})
	m.Connect(context.Background())
	waitOpen(t, m)

	require.Eventually(t, func() bool { return m.State() == StateClosed }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int{websocket.CloseNormalClosure}, d.conn(0).closeFrames())

	// Idle hangup is deliberate; no reconnect may follow.
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 1, d.dials())
}

func TestInboundFrameResetsIdleTimer(t *testing.T) {
	m, d, h := newTestManager(t, Config{IdleTimeout: 500 * time.Millisecond})
	m.Connect(context.Background())
	waitOpen(t, m)

	time.Sleep(300 * time.Millisecond)
	d.conn(0).push(`{"message":"still here"}`)
	require.Eventually(t, func() bool { return h.frameCount() == 1 }, time.Second, 5*time.Millisecond)

	// The original expiry would have hit at 500ms; the frame pushed it out.
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, StateOpen, m.State())

	require.Eventually(t, func() bool { return m.State() == StateClosed }, 2*time.Second, 10*time.Millisecond)
}

func TestAbnormalCloseReconnectsExactlyOnce(t *testing.T) {
	m, d, _ := newTestManager(t, Config{ReconnectDelay: 40 * time.Millisecond})
	m.Connect(context.Background())
	waitOpen(t, m)

	d.conn(0).pushErr(&websocket.CloseError{Code: websocket.CloseAbnormalClosure})
	require.Eventually(t, func() bool { return d.dials() == 2 }, time.Second, 5*time.Millisecond)
	waitOpen(t, m)

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 2, d.dials())
}

func TestUnknownCloseErrorReconnects(t *testing.T) {
	m, d, _ := newTestManager(t, Config{ReconnectDelay: 40 * time.Millisecond})
	m.Connect(context.Background())
	waitOpen(t, m)

	d.conn(0).pushErr(errors.New("connection reset by peer"))
	require.Eventually(t, func() bool { return d.dials() == 2 }, time.Second, 5*time.Millisecond)
}

func TestCleanRemoteCloseDoesNotReconnect(t *testing.T) {
	for _, code := range []int{websocket.CloseNormalClosure, websocket.CloseGoingAway} {
		m, d, _ := newTestManager(t, Config{ReconnectDelay: 30 * time.Millisecond})
		m.Connect(context.Background())
		waitOpen(t, m)

		d.conn(0).pushErr(&websocket.CloseError{Code: code})
		require.Eventually(t, func() bool { return m.State() == StateClosed }, time.Second, 5*time.Millisecond)
		time.Sleep(100 * time.Millisecond)
		assert.Equal(t, 1, d.dials(), "code %d must not reconnect", code)
	}
}

func TestTeardownCancelsPendingReconnect(t *testing.T) {
	m, d, _ := newTestManager(t, Config{ReconnectDelay: 80 * time.Millisecond})
	m.Connect(context.Background())
	waitOpen(t, m)

	d.conn(0).pushErr(&websocket.CloseError{Code: websocket.CloseAbnormalClosure})
	require.Eventually(t, func() bool { return m.State() == StateClosed }, time.Second, 5*time.Millisecond)

	m.Teardown()
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, d.dials())
}

func TestTeardownClosesOpenConnection(t *testing.T) {
	m, d, _ := newTestManager(t, Config{})
	m.Connect(context.Background())
	waitOpen(t, m)

	m.Teardown()
	assert.Equal(t, StateClosed, m.State())
	assert.Equal(t, []int{websocket.CloseNormalClosure}, d.conn(0).closeFrames())
}

func TestTeardownIsIdempotentWithoutConnection(t *testing.T) {
	m, _, _ := newTestManager(t, Config{})
	m.Teardown()
	m.Teardown()
	assert.Equal(t, StateClosed, m.State())
}

func TestDialFailureLandsClosed(t *testing.T) {
	d := &stubDialer{err: errors.New("connection refused")}
	m := NewManager(Config{BaseURL: "http://chat.example.com", SessionID: "sess-1", Dialer: d}, &recordingHandler{})
	m.Connect(context.Background())
	require.Eventually(t, func() bool { return m.State() == StateClosed }, time.Second, 5*time.Millisecond)
}
