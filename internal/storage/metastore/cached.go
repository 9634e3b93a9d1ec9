package metastore

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/archive-module/internal/domain/model"
)

// Prometheus-метрики кэша.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ar_metastore_cache_hits_total",
		Help: "Общее количество попаданий в LRU-кэш метаданных архивов.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ar_metastore_cache_misses_total",
		Help: "Общее количество промахов LRU-кэша метаданных архивов.",
	})
)

// Cached: LRU-кэш с TTL поверх Store.
//
// Кэшируются только записи в конечном статусе (ok, failed): активные записи
// меняются на каждой стадии и всегда читаются из нижележащего хранилища.
// Update и Remove инвалидируют ключ до и после обращения к хранилищу.
// Каждая инвалидация увеличивает поколение; Get кладёт прочитанную запись
// в кэш, только если поколение не изменилось с момента чтения. Так удалённая
// запись не возвращается в кэш запоздавшим Get.
type Cached struct {
	next  Store
	cache *expirable.LRU[string, *model.Archive]

	mu  sync.Mutex
	gen uint64
}

// NewCached оборачивает store кэшем на maxSize записей с временем жизни ttl.
func NewCached(store Store, maxSize int, ttl time.Duration) *Cached {
	return &Cached{
		next:  store,
		cache: expirable.NewLRU[string, *model.Archive](maxSize, nil, ttl),
	}
}

func (c *Cached) Create(ctx context.Context, author string, url *string) (*model.Archive, error) {
	return c.next.Create(ctx, author, url)
}

func (c *Cached) Get(ctx context.Context, id string) (*model.Archive, error) {
	if a, ok := c.cache.Get(id); ok {
		cacheHitsTotal.Inc()
		return a.Clone(), nil
	}
	cacheMissesTotal.Inc()

	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()

	a, err := c.next.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status.IsTerminal() {
		c.mu.Lock()
		if c.gen == gen {
			c.cache.Add(id, a.Clone())
		}
		c.mu.Unlock()
	}
	return a, nil
}

func (c *Cached) Update(ctx context.Context, id string, upd model.ArchiveUpdate) error {
	c.invalidate(id)
	defer c.invalidate(id)
	return c.next.Update(ctx, id, upd)
}

func (c *Cached) Remove(ctx context.Context, id string) (bool, error) {
	c.invalidate(id)
	defer c.invalidate(id)
	return c.next.Remove(ctx, id)
}

// invalidate удаляет ключ из кэша и отменяет незавершённые заполнения.
func (c *Cached) invalidate(id string) {
	c.mu.Lock()
	c.gen++
	c.cache.Remove(id)
	c.mu.Unlock()
}

// ListByStatus всегда идёт в хранилище (используется только при старте).
func (c *Cached) ListByStatus(ctx context.Context, statuses ...model.ArchiveStatus) ([]*model.Archive, error) {
	return c.next.ListByStatus(ctx, statuses...)
}

// Len: текущее количество записей в кэше.
func (c *Cached) Len() int {
	return c.cache.Len()
}

// Проверка соответствия интерфейсу на этапе компиляции.
var _ Store = (*Cached)(nil)
