package metastore

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bigkaa/goartstore/archive-module/internal/domain/model"
)

const testSchema = `
CREATE TABLE archives (
    id          UUID PRIMARY KEY,
    url         TEXT,
    author      TEXT        NOT NULL,
    status      VARCHAR(16) NOT NULL,
    size        BIGINT,
    files       TEXT[],
    detail      TEXT,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// setupPostgres поднимает PostgreSQL и создаёт таблицу archives.
func setupPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("archives_test"),
		postgres.WithUsername("archive"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Не удалось получить строку подключения: %v", err)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("Не удалось создать пул: %v", err)
	}
	t.Cleanup(pool.Close)

	if _, err := pool.Exec(ctx, testSchema); err != nil {
		t.Fatalf("Не удалось создать схему: %v", err)
	}
	return pool
}

func TestPostgres_Contract(t *testing.T) {
	pool := setupPostgres(t)
	runStoreContract(t, NewPostgres(pool))
}

func TestPostgres_InvalidID(t *testing.T) {
	pool := setupPostgres(t)
	store := NewPostgres(pool)
	ctx := context.Background()

	if _, err := store.Get(ctx, "не-uuid"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get с некорректным id: ожидалась ErrNotFound, получено %v", err)
	}
	if removed, err := store.Remove(ctx, "не-uuid"); err != nil || removed {
		t.Errorf("Remove с некорректным id: %v, %v", removed, err)
	}
}

func TestBuildArchiveSet(t *testing.T) {
	set, args := buildArchiveSet(model.ArchiveUpdate{
		Status: ptr(model.StatusFailed),
		Size:   ptr(int64(10)),
		Files:  ptr([]string{}),
		Detail: ptr("ошибка"),
	}, 2)

	want := "updated_at = now(), status = $2, size = $3, files = $4, detail = $5"
	if set != want {
		t.Errorf("SET:\n  получено  %q\n  ожидалось %q", set, want)
	}
	if len(args) != 4 {
		t.Errorf("ожидалось 4 аргумента, получено %d", len(args))
	}

	set, args = buildArchiveSet(model.ArchiveUpdate{}, 2)
	if set != "updated_at = now()" || len(args) != 0 {
		t.Errorf("пустое обновление: %q, %v", set, args)
	}
}
