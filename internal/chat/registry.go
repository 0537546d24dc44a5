package chat

import (
	"context"
	"strings"
	"sync"
)

// DefaultSessionID names the process-wide session behind the
// single-conversation routes.
const DefaultSessionID = "default"

// MaxSessionIDLen matches the session_id column of chat_jobs.
const MaxSessionIDLen = 128

// Registry maps session ids to sessions. Every session it creates shares the
// same backend, prefix and policy.
type Registry struct {
	backend Backend
	opts    SessionOptions

	mu       sync.RWMutex
	sessions map[string]*Session
	pending  map[string]*pendingSession
}

// pendingSession is a creation in progress. Callers asking for the same id
// wait on done instead of starting a second backend chat.
type pendingSession struct {
	done chan struct{}
	s    *Session
	err  error
}

func NewRegistry(backend Backend, opts SessionOptions) (*Registry, error) {
	if _, err := NewTranscript(opts.Prefix, opts.Policy); err != nil {
		return nil, err
	}
	return &Registry{
		backend:  backend,
		opts:     opts,
		sessions: make(map[string]*Session),
		pending:  make(map[string]*pendingSession),
	}, nil
}

// GetOrCreate returns the session for id, creating it when absent. The
// backend chat is started without holding the registry lock.
func (r *Registry) GetOrCreate(ctx context.Context, id string) (*Session, error) {
	id = strings.TrimSpace(id)
	if id == "" || len(id) > MaxSessionIDLen {
		return nil, ErrInvalidSessionID
	}

	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if ok {
		return s, nil
	}

	r.mu.Lock()
	if s, ok := r.sessions[id]; ok {
		r.mu.Unlock()
		return s, nil
	}
	p, waiting := r.pending[id]
	if !waiting {
		p = &pendingSession{done: make(chan struct{})}
		r.pending[id] = p
	}
	r.mu.Unlock()

	if waiting {
		select {
		case <-p.done:
			return p.s, p.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.s, p.err = NewSession(ctx, id, r.backend, r.opts)

	r.mu.Lock()
	delete(r.pending, id)
	if p.err == nil {
		r.sessions[id] = p.s
	}
	r.mu.Unlock()
	close(p.done)
	return p.s, p.err
}

// Lookup returns ErrNotFound for unknown ids.
func (r *Registry) Lookup(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[strings.TrimSpace(id)]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

func (r *Registry) Reset(ctx context.Context, id string) error {
	s, err := r.Lookup(id)
	if err != nil {
		return err
	}
	return s.Reset(ctx)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
