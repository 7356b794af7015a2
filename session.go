package kgsearch

import (
	"context"
	"sync"

	"github.com/brunobiangulo/kgsearch/store"
)

// Opener opens graph handles by name.
type Opener interface {
	Open(ctx context.Context, name string) (store.Graph, error)
}

// Session remembers which database one client is working against. It holds
// no connection; callers open a handle per operation.
type Session struct {
	opener Opener

	mu      sync.RWMutex
	current string
}

// NewSession returns a session positioned on database.
func NewSession(o Opener, database string) *Session {
	return &Session{opener: o, current: database}
}

// Current returns the selected database name.
func (s *Session) Current() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Select switches to name after checking that it can be opened. On failure
// the previous selection is kept.
func (s *Session) Select(ctx context.Context, name string) error {
	g, err := s.opener.Open(ctx, name)
	if err != nil {
		return err
	}
	g.Close()

	s.mu.Lock()
	s.current = name
	s.mu.Unlock()
	return nil
}

// Open opens the selected database.
func (s *Session) Open(ctx context.Context) (store.Graph, error) {
	name := s.Current()
	if name == "" {
		return nil, ErrNoDatabaseSelected
	}
	return s.opener.Open(ctx, name)
}
