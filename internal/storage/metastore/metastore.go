// Пакет metastore: хранилище метаданных архивов.
//
// Конвейер работает только через интерфейс Store. Реализации:
//   - Memory: in-memory отображение (тесты, одиночный узел)
//   - Postgres: PostgreSQL через pgx
//   - Cached: LRU-кэш завершённых записей поверх любой реализации
//
// Реализация выбирается при старте по AR_METADATA_STORE.
package metastore

import (
	"context"
	"errors"

	"github.com/bigkaa/goartstore/archive-module/internal/domain/model"
)

// ErrNotFound: запись не найдена (не создавалась или удалена).
var ErrNotFound = errors.New("запись архива не найдена")

// Store: контракт хранилища метаданных.
type Store interface {
	// Create выделяет новый id и создаёт запись в статусе downloading.
	// url == nil для загруженных файлов.
	Create(ctx context.Context, author string, url *string) (*model.Archive, error)
	// Get возвращает копию записи или ErrNotFound.
	Get(ctx context.Context, id string) (*model.Archive, error)
	// Update объединяет поля с существующей записью.
	// Возвращает ErrNotFound, если запись удалена конкурентно.
	Update(ctx context.Context, id string, upd model.ArchiveUpdate) error
	// Remove удаляет запись. Возвращает false, если записи не было.
	Remove(ctx context.Context, id string) (bool, error)
	// ListByStatus возвращает записи с любым из указанных статусов.
	ListByStatus(ctx context.Context, statuses ...model.ArchiveStatus) ([]*model.Archive, error)
}
