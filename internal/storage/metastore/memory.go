package metastore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/archive-module/internal/domain/model"
)

// Memory: потокобезопасное in-memory хранилище метаданных.
// Хранит копии записей, наружу отдаёт копии.
type Memory struct {
	mu       sync.RWMutex
	archives map[string]*model.Archive
	now      func() time.Time
}

// NewMemory создаёт пустое in-memory хранилище.
func NewMemory() *Memory {
	return &Memory{
		archives: make(map[string]*model.Archive),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (m *Memory) Create(_ context.Context, author string, url *string) (*model.Archive, error) {
	now := m.now()
	a := &model.Archive{
		ID:        uuid.New().String(),
		Author:    author,
		Status:    model.StatusDownloading,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if url != nil {
		u := *url
		a.URL = &u
	}

	m.mu.Lock()
	m.archives[a.ID] = a
	m.mu.Unlock()

	return a.Clone(), nil
}

func (m *Memory) Get(_ context.Context, id string) (*model.Archive, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.archives[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a.Clone(), nil
}

func (m *Memory) Update(_ context.Context, id string, upd model.ArchiveUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.archives[id]
	if !ok {
		return ErrNotFound
	}
	upd.Apply(a, m.now())
	return nil
}

func (m *Memory) Remove(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.archives[id]; !ok {
		return false, nil
	}
	delete(m.archives, id)
	return true, nil
}

func (m *Memory) ListByStatus(_ context.Context, statuses ...model.ArchiveStatus) ([]*model.Archive, error) {
	want := make(map[model.ArchiveStatus]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}

	m.mu.RLock()
	result := make([]*model.Archive, 0)
	for _, a := range m.archives {
		if want[a.Status] {
			result = append(result, a.Clone())
		}
	}
	m.mu.RUnlock()

	// Стабильный порядок: по времени создания (как ORDER BY created_at в Postgres)
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// Проверка соответствия интерфейсу на этапе компиляции.
var _ Store = (*Memory)(nil)
