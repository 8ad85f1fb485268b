package auth

import (
	"context"
	"sync"

	"github.com/PabloGalante/persona-chat/internal/domain"
)

// Registry is a bearer-token table. Each token maps to one principal and one
// session lifetime; revoking the token ends that session for every watcher.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*tokenSession
}

type tokenSession struct {
	principal domain.Principal
	ended     chan struct{}
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*tokenSession)}
}

// Add registers (or re-registers after revocation) a token for a principal.
func (r *Registry) Add(token string, p domain.Principal) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[token]; ok && !closed(s.ended) {
		s.principal = p
		return
	}
	r.sessions[token] = &tokenSession{principal: p, ended: make(chan struct{})}
}

// Revoke ends the token's session. Unknown tokens are ignored.
func (r *Registry) Revoke(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[token]
	if !ok {
		return
	}
	if !closed(s.ended) {
		close(s.ended)
	}
	delete(r.sessions, token)
}

// Lookup returns the principal for a live token.
func (r *Registry) Lookup(token string) (domain.Principal, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[token]
	if !ok {
		return domain.Principal{}, false
	}
	return s.principal, true
}

// Gate returns the AuthGate a controller uses for the given token.
func (r *Registry) Gate(token string) domain.AuthGate {
	return &gate{registry: r, token: token}
}

type gate struct {
	registry *Registry
	token    string

	mu    sync.Mutex
	ended <-chan struct{}
}

func (g *gate) ResolveSession(ctx context.Context) (*domain.Principal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.registry.mu.Lock()
	defer g.registry.mu.Unlock()

	s, ok := g.registry.sessions[g.token]
	if !ok || g.token == "" {
		return nil, domain.ErrAuthRequired
	}

	g.mu.Lock()
	g.ended = s.ended
	g.mu.Unlock()

	p := s.principal
	return &p, nil
}

// Watch returns the session-ended channel captured by ResolveSession.
// If the session was never resolved the returned channel is already closed.
func (g *gate) Watch(p domain.Principal) <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.ended == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	return g.ended
}

func closed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
