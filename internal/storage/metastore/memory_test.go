package metastore

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/archive-module/internal/domain/model"
)

func ptr[T any](v T) *T { return &v }

// runStoreContract проверяет общий контракт Store для любой реализации.
func runStoreContract(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("CreateGet", func(t *testing.T) {
		a, err := store.Create(ctx, "alice", ptr("http://example.com/a.tar.gz"))
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if _, err := uuid.Parse(a.ID); err != nil {
			t.Errorf("id не является UUID: %q", a.ID)
		}
		if a.Status != model.StatusDownloading {
			t.Errorf("статус новой записи: %s", a.Status)
		}

		got, err := store.Get(ctx, a.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Author != "alice" || got.URL == nil || *got.URL != "http://example.com/a.tar.gz" {
			t.Errorf("неожиданная запись: %+v", got)
		}
		if got.Size != nil || got.Files != nil || got.Detail != nil {
			t.Errorf("необязательные поля должны быть пустыми: %+v", got)
		}
	})

	t.Run("UploadWithoutURL", func(t *testing.T) {
		a, err := store.Create(ctx, "bob", nil)
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		got, err := store.Get(ctx, a.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.URL != nil {
			t.Errorf("URL должен быть nil, получено %q", *got.URL)
		}
	})

	t.Run("UniqueIDs", func(t *testing.T) {
		seen := make(map[string]bool)
		for i := 0; i < 50; i++ {
			a, err := store.Create(ctx, "alice", nil)
			if err != nil {
				t.Fatalf("Create: %v", err)
			}
			if seen[a.ID] {
				t.Fatalf("повтор id: %s", a.ID)
			}
			seen[a.ID] = true
		}
	})

	t.Run("UpdateMerge", func(t *testing.T) {
		a, _ := store.Create(ctx, "alice", nil)

		if err := store.Update(ctx, a.ID, model.ArchiveUpdate{Size: ptr(int64(4096))}); err != nil {
			t.Fatalf("Update size: %v", err)
		}
		if err := store.Update(ctx, a.ID, model.ArchiveUpdate{
			Status: ptr(model.StatusCompleted),
			Files:  ptr([]string{"a.txt", "dir/b.txt"}),
		}); err != nil {
			t.Fatalf("Update status: %v", err)
		}

		got, err := store.Get(ctx, a.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Status != model.StatusCompleted {
			t.Errorf("статус: %s", got.Status)
		}
		if got.Size == nil || *got.Size != 4096 {
			t.Errorf("size должен сохраниться после второго Update: %v", got.Size)
		}
		if len(got.Files) != 2 || got.Files[0] != "a.txt" || got.Files[1] != "dir/b.txt" {
			t.Errorf("files: %v", got.Files)
		}
	})

	t.Run("UpdateMissing", func(t *testing.T) {
		err := store.Update(ctx, uuid.New().String(), model.ArchiveUpdate{Status: ptr(model.StatusFailed)})
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("ожидалась ErrNotFound, получено %v", err)
		}
	})

	t.Run("Remove", func(t *testing.T) {
		a, _ := store.Create(ctx, "alice", nil)

		removed, err := store.Remove(ctx, a.ID)
		if err != nil || !removed {
			t.Fatalf("Remove: %v, %v", removed, err)
		}
		if _, err := store.Get(ctx, a.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get после Remove: %v", err)
		}
		removed, err = store.Remove(ctx, a.ID)
		if err != nil || removed {
			t.Errorf("повторный Remove: %v, %v", removed, err)
		}
		if err := store.Update(ctx, a.ID, model.ArchiveUpdate{Status: ptr(model.StatusFailed)}); !errors.Is(err, ErrNotFound) {
			t.Errorf("Update после Remove: %v", err)
		}
	})

	t.Run("ListByStatus", func(t *testing.T) {
		active, _ := store.Create(ctx, "list", nil)
		unpacking, _ := store.Create(ctx, "list", nil)
		done, _ := store.Create(ctx, "list", nil)
		_ = store.Update(ctx, unpacking.ID, model.ArchiveUpdate{Status: ptr(model.StatusUnpacking)})
		_ = store.Update(ctx, done.ID, model.ArchiveUpdate{Status: ptr(model.StatusFailed)})

		list, err := store.ListByStatus(ctx, model.StatusDownloading, model.StatusUnpacking)
		if err != nil {
			t.Fatalf("ListByStatus: %v", err)
		}
		found := make(map[string]bool)
		for _, a := range list {
			if !a.Status.IsActive() {
				t.Errorf("в списке неактивная запись: %s %s", a.ID, a.Status)
			}
			found[a.ID] = true
		}
		if !found[active.ID] || !found[unpacking.ID] {
			t.Error("активные записи не найдены в списке")
		}
		if found[done.ID] {
			t.Error("запись failed не должна попадать в список")
		}
	})
}

func TestMemory_Contract(t *testing.T) {
	runStoreContract(t, NewMemory())
}

func TestMemory_ReturnsCopies(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	a, _ := store.Create(ctx, "alice", nil)
	_ = store.Update(ctx, a.ID, model.ArchiveUpdate{Files: ptr([]string{"x"})})

	got, _ := store.Get(ctx, a.ID)
	got.Files[0] = "изменено"
	got.Status = model.StatusFailed

	again, _ := store.Get(ctx, a.ID)
	if again.Files[0] != "x" || again.Status != model.StatusDownloading {
		t.Errorf("изменение копии затронуло хранилище: %+v", again)
	}
}

func TestMemory_ConcurrentAccess(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, err := store.Create(ctx, "alice", nil)
			if err != nil {
				t.Errorf("Create: %v", err)
				return
			}
			_ = store.Update(ctx, a.ID, model.ArchiveUpdate{Status: ptr(model.StatusUnpacking)})
			_, _ = store.Get(ctx, a.ID)
			_, _ = store.Remove(ctx, a.ID)
		}()
	}
	wg.Wait()
}
