package locks

import (
	"context"
	"sync"
)

// Mem is an in-process Locker for tests and single-process runs.
type Mem struct {
	mu   sync.Mutex
	sems map[string]chan struct{}
}

var _ Locker = (*Mem)(nil)

// NewMem returns an empty in-process locker.
func NewMem() *Mem {
	return &Mem{sems: map[string]chan struct{}{}}
}

func (m *Mem) sem(name string) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	sem, ok := m.sems[name]
	if !ok {
		sem = make(chan struct{}, 1)
		m.sems[name] = sem
	}
	return sem
}

func (m *Mem) Do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	sem := m.sem(name)
	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-sem }()
	return fn(ctx)
}
