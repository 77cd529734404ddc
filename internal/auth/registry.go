package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"mssecurity.org/internal/audit"
	"mssecurity.org/internal/clock"
	"mssecurity.org/internal/ids"
	"mssecurity.org/internal/obs"
)

// TokenStoreFactory returns the durable storage for one console session.
type TokenStoreFactory func(sid string) TokenStore

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	Provider IdentityProvider
	Tokens   TokenStoreFactory
	Clock    clock.Clock
	Audit    audit.Recorder
	// IdleEviction closes unauthenticated managers nobody has used for
	// this long. Zero disables eviction.
	IdleEviction time.Duration
	Manager      Options
}

// Registry maps console-session ids to their managers.
type Registry struct {
	cfg RegistryConfig

	mu      sync.Mutex
	entries map[string]*registryEntry
	reaper  *clock.Timer
	closed  bool
}

type registryEntry struct {
	m        *Manager
	lastSeen time.Time
}

// NewRegistry returns an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Tokens == nil {
		cfg.Tokens = func(string) TokenStore { return &MemoryTokens{} }
	}
	cfg.Manager.Clock = cfg.Clock
	if cfg.Manager.Audit == nil {
		cfg.Manager.Audit = cfg.Audit
	}
	return &Registry{cfg: cfg, entries: make(map[string]*registryEntry)}
}

// NewSessionID mints an id for a new console session.
func (r *Registry) NewSessionID() string { return ids.New() }

// Get returns the manager for sid, creating and starting it on first use.
func (r *Registry) Get(ctx context.Context, sid string) (*Manager, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	e, ok := r.entries[sid]
	if !ok {
		e = &registryEntry{m: NewManager(sid, r.cfg.Provider, r.cfg.Tokens(sid), r.cfg.Manager)}
		r.entries[sid] = e
	}
	e.lastSeen = r.cfg.Clock.Now()
	m := e.m
	r.mu.Unlock()

	if err := m.Start(ctx); err != nil && !errors.Is(err, ErrClosed) {
		obs.Logger().WithError(err).WithField("session_id", sid).Warn("resume session")
	}
	return m, nil
}

// Len reports the number of live managers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Sweep closes unauthenticated managers idle for longer than the eviction
// window and returns how many were removed.
func (r *Registry) Sweep() int {
	if r.cfg.IdleEviction <= 0 {
		return 0
	}
	cutoff := r.cfg.Clock.Now().Add(-r.cfg.IdleEviction)
	var victims []*Manager

	r.mu.Lock()
	for sid, e := range r.entries {
		if e.lastSeen.After(cutoff) {
			continue
		}
		if e.m.Snapshot().State == StateAuthenticated {
			continue
		}
		delete(r.entries, sid)
		victims = append(victims, e.m)
	}
	r.mu.Unlock()

	for _, m := range victims {
		m.Close()
	}
	return len(victims)
}

// StartReaper runs Sweep every interval until Close.
func (r *Registry) StartReaper(interval time.Duration) {
	if interval <= 0 {
		return
	}
	var tick func()
	tick = func() {
		r.Sweep()
		r.mu.Lock()
		defer r.mu.Unlock()
		if !r.closed {
			r.reaper = r.cfg.Clock.AfterFunc(interval, tick)
		}
	}
	r.mu.Lock()
	r.reaper = r.cfg.Clock.AfterFunc(interval, tick)
	r.mu.Unlock()
}

// Close stops the reaper and closes every manager.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.reaper.Stop()
	entries := r.entries
	r.entries = make(map[string]*registryEntry)
	r.mu.Unlock()

	for _, e := range entries {
		e.m.Close()
	}
}
