package duplex

import (
	"context"
	"net/url"
	"path"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// Conn is the subset of a websocket connection the manager needs. Satisfied by
// *websocket.Conn; tests inject stubs.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens duplex connections.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string) (Conn, error)
}

type gorillaDialer struct {
	handshakeTimeout time.Duration
}

func (d gorillaDialer) DialContext(ctx context.Context, urlStr string) (Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: d.handshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, urlStr, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, errors.Wrap(err, "ws dial")
	}
	return conn, nil
}

// endpointURL derives the duplex endpoint from the configured base URL by
// swapping the scheme (http -> ws) and appending /ws/{sessionID}.
func endpointURL(base, sessionID string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", errors.Wrap(err, "parse base url")
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", errors.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = path.Join(u.Path, "ws", sessionID)
	return u.String(), nil
}
