package ai

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/suPer8Hu/aether/internal/chat"
)

type BackendFactory func(ctx context.Context, model string) (chat.Backend, error)

type Registry struct {
	mu        sync.RWMutex
	factories map[string]BackendFactory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]BackendFactory)}
}

func (r *Registry) Register(name string, f BackendFactory) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

func (r *Registry) Get(ctx context.Context, name string, model string) (chat.Backend, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown ai provider: %s", name)
	}
	return f(ctx, model)
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
