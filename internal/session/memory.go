package session

import (
	"context"
	"sync"
)

// MemoryPersister keeps entries for the lifetime of the process.
type MemoryPersister struct {
	mu      sync.Mutex
	entries map[string]string
}

var _ Persister = (*MemoryPersister)(nil)

func NewMemoryPersister() *MemoryPersister {
	return &MemoryPersister{entries: make(map[string]string)}
}

func (p *MemoryPersister) Load(_ context.Context, keys ...string) (map[string]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := p.entries[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (p *MemoryPersister) Store(_ context.Context, entries map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, v := range entries {
		p.entries[k] = v
	}
	return nil
}

func (p *MemoryPersister) Delete(_ context.Context, keys ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, k := range keys {
		delete(p.entries, k)
	}
	return nil
}
