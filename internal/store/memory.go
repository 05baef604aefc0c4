package store

import (
	"context"
	"sync"

	"fieldline/internal/domain"
)

// Memory is an in-memory Store for tests and ephemeral runs. It hands out
// deep copies so callers can never alias a stored history slice.
type Memory struct {
	mu      sync.Mutex
	records map[string]domain.Solicitation
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{records: map[string]domain.Solicitation{}}
}

func (m *Memory) ListAll(ctx context.Context) ([]domain.Solicitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]domain.Solicitation, 0, len(m.records))
	for _, s := range m.records {
		res = append(res, clone(s))
	}
	return res, nil
}

func (m *Memory) GetByID(ctx context.Context, id string) (domain.Solicitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.records[id]
	if !ok {
		return domain.Solicitation{}, ErrNotFound
	}
	return clone(s), nil
}

func (m *Memory) Insert(ctx context.Context, s domain.Solicitation) (domain.Solicitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[s.ID]; ok {
		return domain.Solicitation{}, ErrDuplicateID
	}
	m.records[s.ID] = clone(s)
	return s, nil
}

func (m *Memory) Replace(ctx context.Context, s domain.Solicitation) (domain.Solicitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[s.ID]; !ok {
		return domain.Solicitation{}, ErrNotFound
	}
	m.records[s.ID] = clone(s)
	return s, nil
}

func clone(s domain.Solicitation) domain.Solicitation {
	out := s
	out.History = make([]domain.StatusEntry, len(s.History))
	copy(out.History, s.History)
	if s.Address != nil {
		addr := *s.Address
		out.Address = &addr
	}
	return out
}
