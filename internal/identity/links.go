package identity

import (
	"context"
	"strings"
	"sync"

	"mssecurity.org/internal/auth"
)

// LinkStore remembers which provider first signed in with an email.
type LinkStore interface {
	LinkedProvider(ctx context.Context, email string) (auth.ProviderID, bool, error)
	Link(ctx context.Context, email string, provider auth.ProviderID) error
}

// MemoryLinks is a process-local LinkStore.
type MemoryLinks struct {
	mu    sync.Mutex
	links map[string]auth.ProviderID
}

func NewMemoryLinks() *MemoryLinks {
	return &MemoryLinks{links: make(map[string]auth.ProviderID)}
}

func (m *MemoryLinks) LinkedProvider(_ context.Context, email string) (auth.ProviderID, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.links[NormalizeEmail(email)]
	return p, ok, nil
}

func (m *MemoryLinks) Link(_ context.Context, email string, provider auth.ProviderID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links[NormalizeEmail(email)] = provider
	return nil
}

// NormalizeEmail lowercases and trims an address for use as a link key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
