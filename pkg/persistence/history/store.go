// Package history persists conversation logs. Two keyspaces exist because the
// two transports have different lifetimes: API conversations are keyed by
// (user, kind) and live until the user clears them, duplex conversations are
// keyed by session and are erased when the remote end destroys the session.
package history

import (
	"context"

	"github.com/easybali/travelchat/pkg/chat"
)

// Namespace separates the two persistence keyspaces.
type Namespace string

const (
	NamespaceAPI    Namespace = "api"
	NamespaceDuplex Namespace = "duplex"
)

// Key addresses one stored conversation log.
type Key struct {
	Namespace Namespace
	ID        string
}

// APIKey builds the key for an API-based conversation.
func APIKey(userID string, kind chat.Kind) Key {
	return Key{Namespace: NamespaceAPI, ID: userID + "/" + string(kind)}
}

// DuplexKey builds the key for a duplex conversation.
func DuplexKey(sessionID string) Key {
	return Key{Namespace: NamespaceDuplex, ID: sessionID}
}

func (k Key) Empty() bool {
	return k.ID == "" || k.ID == "/"
}

// Store is a durable, whole-log message store. Load must fail soft: corrupt or
// missing data comes back as an empty log, never an error the caller has to
// recover from mid-conversation.
type Store interface {
	Load(ctx context.Context, key Key) ([]chat.Message, error)
	Save(ctx context.Context, key Key, msgs []chat.Message) error
	Clear(ctx context.Context, key Key) error
	Close() error
}
