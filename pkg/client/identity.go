package client

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// UserIDProvider hands out the stable per-device user identifier. The ID is
// generated once and persisted next to the config so every conversation on
// this device shares it.
type UserIDProvider struct {
	path string

	mu     sync.Mutex
	cached string
}

func NewUserIDProvider(path string) *UserIDProvider {
	return &UserIDProvider{path: path}
}

// UserID returns the stored identifier, minting and persisting a fresh one on
// first use. Persistence failures degrade to a process-lifetime ID.
func (p *UserIDProvider) UserID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cached != "" {
		return p.cached
	}
	if raw, err := os.ReadFile(p.path); err == nil {
		if id := strings.TrimSpace(string(raw)); id != "" {
			p.cached = id
			return id
		}
	}
	id := uuid.NewString()
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err == nil {
		if err := os.WriteFile(p.path, []byte(id+"\n"), 0o600); err != nil {
			log.Warn().Err(err).Str("component", "identity").Str("path", p.path).Msg("could not persist user id")
		}
	}
	p.cached = id
	return id
}
