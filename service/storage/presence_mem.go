package storage

import (
	"context"
	"sync"
)

// MemPresence is a process-local PresenceStore for single-node setups
// and tests. Same atomicity contract as the Redis implementation, held
// by a mutex instead of a script.
type MemPresence struct {
	mu    sync.Mutex
	conns map[string]map[string]struct{}
}

func NewMemPresence() *MemPresence {
	return &MemPresence{conns: make(map[string]map[string]struct{})}
}

func (p *MemPresence) AddAndCount(_ context.Context, userID, connID string) (bool, int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	set := p.conns[userID]
	if set == nil {
		set = make(map[string]struct{})
		p.conns[userID] = set
	}
	_, exists := set[connID]
	set[connID] = struct{}{}
	return !exists, int64(len(set)), nil
}

func (p *MemPresence) RemoveAndCount(_ context.Context, userID, connID string) (bool, int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	set := p.conns[userID]
	if set == nil {
		return false, 0, nil
	}
	_, exists := set[connID]
	delete(set, connID)
	if len(set) == 0 {
		delete(p.conns, userID)
	}
	return exists, int64(len(set)), nil
}

// Touch is a no-op: the in-process store has no TTL to refresh.
func (p *MemPresence) Touch(context.Context, string) error { return nil }

func (p *MemPresence) ListOnline(_ context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.conns))
	for u := range p.conns {
		out = append(out, u)
	}
	return out, nil
}
