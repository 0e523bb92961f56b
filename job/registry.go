package job

import (
	"context"
	"fmt"
	"sync"

	"github.com/fivestones/gmpreport/codec"
)

// HandlerFunc is a type-erased job handler that accepts the encoded payload.
type HandlerFunc func(ctx context.Context, payload []byte) error

type entry struct {
	handler HandlerFunc
	opts    Options
}

// Registry maps job names to type-erased handlers and their default
// options. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
	codec   codec.Codec
}

// NewRegistry creates an empty job registry that decodes payloads with c.
// A nil codec means codec.JSON.
func NewRegistry(c codec.Codec) *Registry {
	if c == nil {
		c = codec.JSON{}
	}
	return &Registry{
		entries: make(map[string]entry),
		codec:   c,
	}
}

// Codec returns the payload codec.
func (r *Registry) Codec() codec.Codec { return r.codec }

// RegisterDefinition registers a typed job definition. The typed handler is
// wrapped in a closure that decodes the payload into T first.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) {
	handler := func(ctx context.Context, payload []byte) error {
		var t T
		if len(payload) > 0 {
			if err := r.codec.Unmarshal(payload, &t); err != nil {
				return fmt.Errorf("decode payload for job %q: %w", def.Name, err)
			}
		}
		return def.Handler(ctx, t)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[def.Name] = entry{handler: handler, opts: def.Opts}
}

// Get returns the handler for the given job name.
func (r *Registry) Get(name string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e.handler, ok
}

// Options returns the default options registered for name, or
// DefaultOptions when the name is unknown.
func (r *Registry) Options(name string) Options {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[name]; ok {
		return e.opts
	}
	return DefaultOptions()
}

// Names returns all registered job names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	return names
}
