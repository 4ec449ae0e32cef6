package repo

import (
	"context"
	"sync"

	"pwdemo/internal/domain"
	"pwdemo/internal/seed"
)

// Memory is the ephemeral backend. State lives for the process lifetime and
// is restored from the seed on Reset.
type Memory struct {
	mu        sync.RWMutex
	seed      seed.Data
	users     []domain.User
	protocols []domain.Protocol
	index     map[string]int
}

var _ ProtocolStore = (*Memory)(nil)

func NewMemory(data seed.Data) *Memory {
	m := &Memory{seed: data.Clone()}
	m.load()
	return m
}

func (m *Memory) load() {
	data := m.seed.Clone()
	m.users = data.Users
	m.protocols = data.Protocols
	m.index = make(map[string]int, len(m.protocols))
	for i, p := range m.protocols {
		m.index[p.ID] = i
	}
}

func (m *Memory) Kind() string { return "memory" }

func (m *Memory) Close() error { return nil }

func (m *Memory) Users(_ context.Context) ([]domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.User{}, m.users...), nil
}

func (m *Memory) Protocols(_ context.Context, f ProtocolFilter) ([]domain.Protocol, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := []domain.Protocol{}
	for _, p := range m.protocols {
		if f.match(p) {
			res = append(res, p.Clone())
		}
	}
	return res, nil
}

func (m *Memory) Protocol(_ context.Context, id string) (domain.Protocol, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.index[id]
	if !ok {
		return domain.Protocol{}, ErrNotFound
	}
	return m.protocols[i].Clone(), nil
}

func (m *Memory) CountOpenForUser(_ context.Context, userID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, p := range m.protocols {
		if p.AssigneeID == userID && domain.IsOpenStatus(p.Status) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) UpdateProtocolStatus(_ context.Context, id, status string, completedAt *string) error {
	if err := checkStatusUpdate(status, completedAt); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.index[id]
	if !ok {
		return ErrNotFound
	}
	if current := m.protocols[i].Status; !domain.IsOpenStatus(current) {
		return &InvalidStateError{ID: id, Current: current}
	}
	m.protocols[i].Status = status
	m.protocols[i].CompletedAt = completionStamp(status, completedAt)
	return nil
}

func (m *Memory) CloseProtocol(_ context.Context, id, completedAt string) (domain.Protocol, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.index[id]
	if !ok {
		return domain.Protocol{}, ErrNotFound
	}
	p := &m.protocols[i]
	if !domain.IsOpenStatus(p.Status) {
		return domain.Protocol{}, &InvalidStateError{ID: id, Current: p.Status}
	}
	p.Status = domain.StatusClosed
	p.CompletedAt = &completedAt
	return p.Clone(), nil
}

func (m *Memory) Reset(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.load()
	return len(m.protocols), nil
}
