// Пакет progress: эфемерный реестр прогресса активных архивов.
//
// Запись реестра существует, пока архив находится в стадии downloading
// или unpacking. Каждую запись пишет только единица работы своего архива
// (через Handle); читатели получают копию (Snapshot), опубликованную
// атомарно, поэтому пара BytesDone/StageTotal всегда согласована.
//
// Не персистентный: после рестарта записи не восстанавливаются.
package progress

import (
	"sync"
	"sync/atomic"

	"github.com/bigkaa/goartstore/archive-module/internal/domain/model"
)

// UnknownTotal: общий объём стадии ещё не известен.
const UnknownTotal int64 = -1

// Snapshot: согласованная копия счётчиков стадии.
type Snapshot struct {
	// Stage: стадия, к которой относятся счётчики
	Stage model.ArchiveStatus
	// BytesDone: обработано байт в текущей стадии
	BytesDone int64
	// StageTotal: ожидаемый объём стадии или UnknownTotal
	StageTotal int64
}

// Percent возвращает процент выполнения в диапазоне [0, 100].
// Второе значение false, если общий объём неизвестен или равен нулю.
func (s Snapshot) Percent() (int, bool) {
	if s.StageTotal <= 0 {
		return 0, false
	}
	p := s.BytesDone * 100 / s.StageTotal
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	return int(p), true
}

// Registry: потокобезопасное отображение id архива → Handle.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Handle
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Handle)}
}

// Begin создаёт запись для новой стадии архива и возвращает её Handle.
// Предыдущая запись того же id (если осталась) замещается.
func (r *Registry) Begin(id string, stage model.ArchiveStatus, total int64) *Handle {
	h := &Handle{id: id, registry: r}
	h.state.Store(&Snapshot{Stage: stage, StageTotal: normalizeTotal(total)})

	r.mu.Lock()
	r.entries[id] = h
	r.mu.Unlock()
	return h
}

// Get возвращает копию счётчиков архива. false: записи нет.
func (r *Registry) Get(id string) (Snapshot, bool) {
	r.mu.RLock()
	h, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}
	return h.Snapshot(), true
}

// Remove удаляет запись архива независимо от владельца.
// Используется при удалении архива. Возвращает true, если запись была.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; !ok {
		return false
	}
	delete(r.entries, id)
	return true
}

// Len возвращает количество активных записей.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// release удаляет запись, только если она всё ещё принадлежит h.
func (r *Registry) release(h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.entries[h.id]; ok && cur == h {
		delete(r.entries, h.id)
	}
}

// Handle: владеющая ссылка единицы работы на запись реестра.
// Методы Add/SetTotal вызываются только из одной горутины.
type Handle struct {
	id       string
	registry *Registry
	state    atomic.Pointer[Snapshot]
	closed   atomic.Bool
}

// Add увеличивает BytesDone на n. Отрицательные n игнорируются.
func (h *Handle) Add(n int64) {
	if n <= 0 {
		return
	}
	cur := h.state.Load()
	next := *cur
	next.BytesDone += n
	h.state.Store(&next)
}

// SetTotal задаёт общий объём стадии.
func (h *Handle) SetTotal(total int64) {
	cur := h.state.Load()
	next := *cur
	next.StageTotal = normalizeTotal(total)
	h.state.Store(&next)
}

// Snapshot возвращает копию текущих счётчиков.
func (h *Handle) Snapshot() Snapshot {
	return *h.state.Load()
}

// Close снимает запись с реестра. Повторный вызов: no-op.
func (h *Handle) Close() {
	if h.closed.Swap(true) {
		return
	}
	h.registry.release(h)
}

func normalizeTotal(total int64) int64 {
	if total < 0 {
		return UnknownTotal
	}
	return total
}
