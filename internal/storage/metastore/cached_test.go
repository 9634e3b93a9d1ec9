package metastore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/archive-module/internal/domain/model"
)

// countingStore считает обращения Get к нижележащему хранилищу.
type countingStore struct {
	Store
	gets int
}

func (c *countingStore) Get(ctx context.Context, id string) (*model.Archive, error) {
	c.gets++
	return c.Store.Get(ctx, id)
}

func TestCached_Contract(t *testing.T) {
	runStoreContract(t, NewCached(NewMemory(), 100, time.Minute))
}

func TestCached_ActiveNotCached(t *testing.T) {
	inner := &countingStore{Store: NewMemory()}
	store := NewCached(inner, 100, time.Minute)
	ctx := context.Background()

	a, _ := store.Create(ctx, "alice", nil)
	_, _ = store.Get(ctx, a.ID)
	_, _ = store.Get(ctx, a.ID)

	if inner.gets != 2 {
		t.Errorf("активная запись не должна кэшироваться: gets = %d", inner.gets)
	}
	if store.Len() != 0 {
		t.Errorf("кэш должен быть пуст, Len = %d", store.Len())
	}
}

func TestCached_TerminalCachedAndInvalidated(t *testing.T) {
	inner := &countingStore{Store: NewMemory()}
	store := NewCached(inner, 100, time.Minute)
	ctx := context.Background()

	a, _ := store.Create(ctx, "alice", nil)
	_ = store.Update(ctx, a.ID, model.ArchiveUpdate{Status: ptr(model.StatusCompleted), Files: ptr([]string{"a"})})

	_, _ = store.Get(ctx, a.ID)
	_, _ = store.Get(ctx, a.ID)
	if inner.gets != 1 {
		t.Errorf("завершённая запись должна читаться из кэша: gets = %d", inner.gets)
	}

	removed, err := store.Remove(ctx, a.ID)
	if err != nil || !removed {
		t.Fatalf("Remove: %v, %v", removed, err)
	}
	if _, err := store.Get(ctx, a.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get после Remove должен вернуть ErrNotFound, получено %v", err)
	}
}

func TestCached_ReturnsCopies(t *testing.T) {
	store := NewCached(NewMemory(), 100, time.Minute)
	ctx := context.Background()

	a, _ := store.Create(ctx, "alice", nil)
	_ = store.Update(ctx, a.ID, model.ArchiveUpdate{Status: ptr(model.StatusCompleted), Files: ptr([]string{"a"})})

	first, _ := store.Get(ctx, a.ID)
	first.Files[0] = "изменено"

	second, _ := store.Get(ctx, a.ID)
	if second.Files[0] != "a" {
		t.Errorf("изменение копии затронуло кэш: %v", second.Files)
	}
}

func TestCached_TTLExpiration(t *testing.T) {
	inner := &countingStore{Store: NewMemory()}
	store := NewCached(inner, 100, 50*time.Millisecond)
	ctx := context.Background()

	a, _ := store.Create(ctx, "alice", nil)
	_ = store.Update(ctx, a.ID, model.ArchiveUpdate{Status: ptr(model.StatusFailed), Detail: ptr("ошибка")})
	_, _ = store.Get(ctx, a.ID)

	time.Sleep(100 * time.Millisecond)

	_, _ = store.Get(ctx, a.ID)
	if inner.gets != 2 {
		t.Errorf("после TTL запись должна читаться из хранилища: gets = %d", inner.gets)
	}
}

// pausingStore останавливает первый Get после чтения записи, до возврата в кэш.
type pausingStore struct {
	Store
	once    sync.Once
	read    chan struct{}
	release chan struct{}
}

func (p *pausingStore) Get(ctx context.Context, id string) (*model.Archive, error) {
	a, err := p.Store.Get(ctx, id)
	p.once.Do(func() {
		close(p.read)
		<-p.release
	})
	return a, err
}

func TestCached_RemoveDuringGet(t *testing.T) {
	memory := NewMemory()
	ctx := context.Background()

	a, _ := memory.Create(ctx, "alice", nil)
	_ = memory.Update(ctx, a.ID, model.ArchiveUpdate{Status: ptr(model.StatusCompleted), Files: ptr([]string{"a"})})

	inner := &pausingStore{Store: memory, read: make(chan struct{}), release: make(chan struct{})}
	store := NewCached(inner, 100, time.Minute)

	done := make(chan error, 1)
	go func() {
		_, err := store.Get(ctx, a.ID)
		done <- err
	}()

	// Get прочитал запись и ещё не положил её в кэш
	<-inner.read
	removed, err := store.Remove(ctx, a.ID)
	if err != nil || !removed {
		t.Fatalf("Remove: %v, %v", removed, err)
	}
	close(inner.release)

	if err := <-done; err != nil {
		t.Fatalf("Get: %v", err)
	}

	if store.Len() != 0 {
		t.Errorf("удалённая запись попала в кэш, Len = %d", store.Len())
	}
	// Следующий Get идёт в хранилище и не ждёт
	if _, err := store.Get(ctx, a.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get после Remove должен вернуть ErrNotFound, получено %v", err)
	}
}
