package auth

import (
	"context"
	"sync"
)

// Reader is the read-only view of a Store handed to pages and handlers.
type Reader interface {
	Snapshot() Session
	Subscribe(ctx context.Context) <-chan Session
}

// Store holds the current Session of one console session and fans out
// every change to subscribers. Only the Manager writes to it.
type Store struct {
	mu     sync.RWMutex
	cur    Session
	subs   map[int]chan Session
	next   int
	closed bool
}

// NewStore returns a store in StateUnknown.
func NewStore() *Store {
	return &Store{
		cur:  Session{State: StateUnknown},
		subs: make(map[int]chan Session),
	}
}

// Snapshot returns a copy of the current session. The identity never
// carries provider credentials.
func (s *Store) Snapshot() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.cur
	out.Identity = s.cur.Identity.clone()
	return out
}

// Subscribe returns a channel receiving every subsequent session change.
// The channel is closed when ctx ends or the store is closed. Slow
// subscribers miss updates rather than block writers.
func (s *Store) Subscribe(ctx context.Context) <-chan Session {
	ch := make(chan Session, 16)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch
	}
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
		s.mu.Unlock()
	}()

	return ch
}

func (s *Store) set(next Session) {
	if next.State != StateAuthenticated {
		next.Token = ""
	}
	if next.Token == "" && next.State == StateAuthenticated {
		next.State = StateUnauthenticated
	}
	if next.State == StateUnauthenticated {
		next.Identity = nil
	}
	next.Identity = next.Identity.Public()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.cur = next
	for _, ch := range s.subs {
		evt := next
		evt.Identity = next.Identity.clone()
		select {
		case ch <- evt:
		default:
		}
	}
}

// close drops every subscription.
func (s *Store) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}
