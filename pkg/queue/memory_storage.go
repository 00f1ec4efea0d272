package queue

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStorage keeps tasks in process memory.
type MemoryStorage struct {
	mu      sync.Mutex
	pending map[uuid.UUID]*Task
	locked  map[uuid.UUID]time.Time
	dead    []Task
	now     func() time.Time
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		pending: map[uuid.UUID]*Task{},
		locked:  map[uuid.UUID]time.Time{},
		now:     time.Now,
	}
}

func (m *MemoryStorage) Push(_ context.Context, task *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *task
	m.pending[task.ID] = &cp
	return nil
}

// Claim returns the earliest due task; expired locks are released first.
func (m *MemoryStorage) Claim(_ context.Context, queues []string, lock time.Duration) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for id, until := range m.locked {
		if until.Before(now) {
			delete(m.locked, id)
		}
	}

	var best *Task
	for id, t := range m.pending {
		if _, busy := m.locked[id]; busy {
			continue
		}
		if !slices.Contains(queues, t.Queue) || t.RunAt.After(now) {
			continue
		}
		if best == nil || t.RunAt.Before(best.RunAt) {
			best = t
		}
	}
	if best == nil {
		return nil, ErrNoTask
	}
	m.locked[best.ID] = now.Add(lock)
	cp := *best
	return &cp, nil
}

func (m *MemoryStorage) Ack(_ context.Context, task *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pending[task.ID]; !ok {
		return ErrTaskNotFound
	}
	delete(m.pending, task.ID)
	delete(m.locked, task.ID)
	return nil
}

func (m *MemoryStorage) Retry(_ context.Context, task *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pending[task.ID]; !ok {
		return ErrTaskNotFound
	}
	cp := *task
	m.pending[task.ID] = &cp
	delete(m.locked, task.ID)
	return nil
}

func (m *MemoryStorage) Bury(_ context.Context, task *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, task.ID)
	delete(m.locked, task.ID)
	m.dead = append(m.dead, *task)
	return nil
}

// Pending returns the number of tasks not yet acknowledged or buried.
func (m *MemoryStorage) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Dead returns a copy of the dead letter queue.
func (m *MemoryStorage) Dead() []Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.dead)
}
