package history

import (
	"context"
	"sync"

	"github.com/easybali/travelchat/pkg/chat"
)

// MemoryStore keeps logs in process memory. Used by tests and as a degraded
// fallback when the sqlite database cannot be opened.
type MemoryStore struct {
	mu   sync.Mutex
	logs map[Key][]chat.Message
}

var _ Store = &MemoryStore{}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{logs: map[Key][]chat.Message{}}
}

func (s *MemoryStore) Load(_ context.Context, key Key) ([]chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs, ok := s.logs[key]
	if !ok {
		return nil, nil
	}
	out := make([]chat.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *MemoryStore) Save(_ context.Context, key Key, msgs []chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]chat.Message, len(msgs))
	copy(cp, msgs)
	s.logs[key] = cp
	return nil
}

func (s *MemoryStore) Clear(_ context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.logs, key)
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
