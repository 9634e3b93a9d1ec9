// pipeline.go: оркестратор жизненного цикла архивов.
//
// Каждый принятый архив обрабатывается отдельной горутиной (единицей работы):
// скачивание → распаковка → ok, либо failed на любой стадии.
// Переходы проверяются таблицей lifecycle и сохраняются в хранилище
// метаданных до снятия записи прогресса предыдущей стадии.
//
// Удаление архива во время обработки: запись удаляется сразу,
// последующие Update единицы работы получают ErrNotFound и игнорируются,
// единица останавливается на ближайшей границе стадий.
// Очистка артефактов на диске выполняется ровно одним участником:
// единицей работы, если она ещё жива, иначе: кодом удаления.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/archive-module/internal/domain/lifecycle"
	"github.com/bigkaa/goartstore/archive-module/internal/domain/model"
	"github.com/bigkaa/goartstore/archive-module/internal/progress"
	"github.com/bigkaa/goartstore/archive-module/internal/storage/metastore"
	"github.com/bigkaa/goartstore/archive-module/internal/storage/workspace"
)

// detailInterruptedByRestart: detail для записей, оставшихся активными после рестарта.
const detailInterruptedByRestart = "Обработка прервана перезапуском сервиса"

// StatusView: представление архива для запроса статуса.
type StatusView struct {
	ID     string
	Status model.ArchiveStatus
	Author string
	// Progress: процент 0..100; nil, если архив не активен или объём неизвестен
	Progress *int
	// Files: только для ok
	Files []string
	// Detail: только для failed
	Detail *string
}

// RecoverResult: результат восстановления при старте.
type RecoverResult struct {
	// Interrupted: записей переведено в failed
	Interrupted int
	// Orphans: id, чьи артефакты удалены с диска
	Orphans int
}

// job: живая единица работы архива.
type job struct {
	id      string
	machine *lifecycle.Machine
	// deleted: запись удалена, единица должна остановиться
	deleted atomic.Bool
}

// Pipeline: оркестратор конвейера.
type Pipeline struct {
	store     metastore.Store
	registry  *progress.Registry
	ws        *workspace.Workspace
	acquirer  *Acquirer
	extractor *Extractor
	logger    *slog.Logger

	// ctx: базовый контекст единиц работы, отменяется при остановке
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	jobs   map[string]*job
	closed bool
	wg     sync.WaitGroup
}

// NewPipeline создаёт оркестратор.
func NewPipeline(
	store metastore.Store,
	registry *progress.Registry,
	ws *workspace.Workspace,
	acquirer *Acquirer,
	extractor *Extractor,
	logger *slog.Logger,
) *Pipeline {
	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		store:     store,
		registry:  registry,
		ws:        ws,
		acquirer:  acquirer,
		extractor: extractor,
		logger:    logger.With(slog.String("component", "pipeline")),
		ctx:       ctx,
		cancel:    cancel,
		jobs:      make(map[string]*job),
	}
}

// Submit принимает архив по URL. Создаёт запись в статусе downloading,
// запускает скачивание и распаковку в отдельной горутине и сразу
// возвращает id.
func (p *Pipeline) Submit(ctx context.Context, author, rawURL string) (string, error) {
	if err := validateURL(rawURL); err != nil {
		return "", err
	}
	if p.isClosed() {
		return "", ErrShuttingDown
	}

	rec, err := p.store.Create(ctx, author, &rawURL)
	if err != nil {
		return "", fmt.Errorf("создание записи архива: %w", err)
	}

	j, err := p.register(rec.ID)
	if err != nil {
		p.abandon(rec.ID)
		return "", err
	}

	archivesSubmittedTotal.WithLabelValues(sourceURL).Inc()
	p.logger.Info("Архив принят",
		slog.String("archive_id", rec.ID),
		slog.String("url", rawURL),
		slog.String("author", author),
	)

	go func() {
		defer p.finish(j)
		p.runDownload(j, rawURL)
	}()

	return rec.ID, nil
}

// SubmitUpload принимает загружаемый архив. Копирование из r выполняется
// синхронно (байты приходят из запроса вызывающего), распаковка
// запускается в отдельной горутине. size < 0: размер неизвестен.
// Ошибка копирования не возвращается: она записывается в архив как failed.
func (p *Pipeline) SubmitUpload(ctx context.Context, author string, r io.Reader, size int64) (string, error) {
	if p.isClosed() {
		return "", ErrShuttingDown
	}

	rec, err := p.store.Create(ctx, author, nil)
	if err != nil {
		return "", fmt.Errorf("создание записи архива: %w", err)
	}

	j, err := p.register(rec.ID)
	if err != nil {
		p.abandon(rec.ID)
		return "", err
	}

	archivesSubmittedTotal.WithLabelValues(sourceUpload).Inc()
	p.logger.Info("Загрузка архива начата",
		slog.String("archive_id", rec.ID),
		slog.String("author", author),
		slog.Int64("size", size),
	)

	if size >= 0 {
		p.update(j, model.ArchiveUpdate{Size: &size})
	}

	h := p.registry.Begin(j.id, model.StatusDownloading, size)
	started := time.Now()
	written, err := p.acquirer.Store(p.ctx, j.id, r, h, describeSource(nil))
	bytesAcquiredTotal.Add(float64(written))
	stageDuration.WithLabelValues(string(model.StatusDownloading)).Observe(time.Since(started).Seconds())
	if err != nil {
		p.fail(j, h, err)
		p.finish(j)
		return rec.ID, nil
	}

	go func() {
		defer p.finish(j)
		p.runExtract(j, h)
	}()

	return rec.ID, nil
}

// Status возвращает текущее состояние архива.
func (p *Pipeline) Status(ctx context.Context, id string) (*StatusView, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}

	rec, err := p.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, metastore.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("получение записи архива: %w", err)
	}

	view := &StatusView{
		ID:     rec.ID,
		Status: rec.Status,
		Author: rec.Author,
	}

	switch rec.Status {
	case model.StatusDownloading, model.StatusUnpacking:
		// Снимок учитывается, только если относится к текущей стадии записи:
		// между сохранением перехода и сменой записи прогресса они расходятся.
		if snap, ok := p.registry.Get(id); ok && snap.Stage == rec.Status {
			if pct, ok := snap.Percent(); ok {
				view.Progress = &pct
			}
		}
	case model.StatusCompleted:
		view.Files = rec.Files
		if view.Files == nil {
			view.Files = []string{}
		}
	case model.StatusFailed:
		view.Detail = rec.Detail
	default:
		p.logger.Warn("Неизвестный статус архива",
			slog.String("archive_id", id),
			slog.String("status", string(rec.Status)),
		)
	}

	return view, nil
}

// Delete удаляет запись архива и его артефакты на диске.
// ErrNotFound, если записи нет.
func (p *Pipeline) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}

	removed, err := p.store.Remove(ctx, id)
	if err != nil {
		return fmt.Errorf("удаление записи архива: %w", err)
	}
	if !removed {
		return ErrNotFound
	}
	p.registry.Remove(id)
	archivesDeletedTotal.Inc()

	p.mu.Lock()
	j, live := p.jobs[id]
	if live {
		// Очистку выполнит единица работы в finish
		j.deleted.Store(true)
		p.mu.Unlock()
		p.logger.Info("Архив удалён во время обработки",
			slog.String("archive_id", id),
		)
		return nil
	}
	if p.closed {
		p.mu.Unlock()
		p.cleanup(id)
		return nil
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		p.cleanup(id)
	}()

	p.logger.Info("Архив удалён", slog.String("archive_id", id))
	return nil
}

// Wait блокируется до завершения всех единиц работы.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// Shutdown прекращает приём новых архивов и ждёт завершения единиц работы.
// Если ctx истекает раньше, базовый контекст отменяется: незавершённые
// архивы записываются как failed, после чего Shutdown возвращает ctx.Err().
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	active := len(p.jobs)
	p.mu.Unlock()

	p.logger.Info("Остановка конвейера", slog.Int("active", active))

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.logger.Warn("Таймаут ожидания единиц работы, обработка прерывается")
		p.cancel()
		<-done
		return ctx.Err()
	}
}

// Recover переводит в failed записи, оставшиеся активными после
// предыдущего процесса, и удаляет с диска артефакты, не принадлежащие
// живым единицам работы. Вызывается при старте до приёма запросов.
func (p *Pipeline) Recover(ctx context.Context) (*RecoverResult, error) {
	result := &RecoverResult{}

	stale, err := p.store.ListByStatus(ctx, model.StatusDownloading, model.StatusUnpacking)
	if err != nil {
		return nil, fmt.Errorf("получение активных записей: %w", err)
	}

	failed := model.StatusFailed
	detail := detailInterruptedByRestart
	for _, rec := range stale {
		if p.isLive(rec.ID) {
			continue
		}
		err := p.store.Update(ctx, rec.ID, model.ArchiveUpdate{Status: &failed, Detail: &detail})
		if err != nil && !errors.Is(err, metastore.ErrNotFound) {
			return result, fmt.Errorf("обновление записи %s: %w", rec.ID, err)
		}
		archivesFailedTotal.WithLabelValues(string(FailureInterrupted)).Inc()
		result.Interrupted++
	}

	ids, err := p.ws.IDs()
	if err != nil {
		return result, err
	}
	for _, id := range ids {
		if p.isLive(id) {
			continue
		}
		p.cleanup(id)
		result.Orphans++
	}

	p.logger.Info("Восстановление после рестарта завершено",
		slog.Int("interrupted", result.Interrupted),
		slog.Int("orphans", result.Orphans),
	)
	return result, nil
}

// runDownload: стадия скачивания по URL с переходом к распаковке.
func (p *Pipeline) runDownload(j *job, rawURL string) {
	started := time.Now()

	src, err := p.acquirer.Open(p.ctx, rawURL)
	if err != nil {
		p.fail(j, nil, err)
		return
	}
	defer src.Body.Close()

	if src.Size >= 0 {
		size := src.Size
		p.update(j, model.ArchiveUpdate{Size: &size})
	}

	h := p.registry.Begin(j.id, model.StatusDownloading, src.Size)
	written, err := p.acquirer.Store(p.ctx, j.id, src.Body, h, rawURL)
	bytesAcquiredTotal.Add(float64(written))
	stageDuration.WithLabelValues(string(model.StatusDownloading)).Observe(time.Since(started).Seconds())
	if err != nil {
		p.fail(j, h, err)
		return
	}
	src.Body.Close()

	p.logger.Debug("Архив скачан",
		slog.String("archive_id", j.id),
		slog.Int64("bytes", written),
	)

	p.runExtract(j, h)
}

// runExtract выполняет стадию распаковки. prev: запись прогресса стадии
// скачивания, снимается после сохранения перехода в unpacking.
func (p *Pipeline) runExtract(j *job, prev *progress.Handle) {
	if p.stopped(j) {
		prev.Close()
		return
	}

	p.transition(j, model.StatusUnpacking, model.ArchiveUpdate{})
	prev.Close()
	if p.stopped(j) {
		return
	}

	started := time.Now()
	h := p.registry.Begin(j.id, model.StatusUnpacking, progress.UnknownTotal)

	files, err := p.extractor.Extract(p.ctx, j.id, h)
	stageDuration.WithLabelValues(string(model.StatusUnpacking)).Observe(time.Since(started).Seconds())
	if err != nil {
		p.fail(j, h, err)
		return
	}
	if p.stopped(j) {
		h.Close()
		return
	}

	p.transition(j, model.StatusCompleted, model.ArchiveUpdate{Files: &files})
	h.Close()
	archivesCompletedTotal.Inc()

	p.logger.Info("Архив распакован",
		slog.String("archive_id", j.id),
		slog.Int("files", len(files)),
	)
}

// fail переводит архив в failed с detail из err и снимает запись прогресса.
func (p *Pipeline) fail(j *job, h *progress.Handle, err error) {
	kind := FailureKindOf(err)
	detail := failureDetail(err)

	if !j.deleted.Load() {
		p.transition(j, model.StatusFailed, model.ArchiveUpdate{Detail: &detail})
		archivesFailedTotal.WithLabelValues(string(kind)).Inc()
	}
	if h != nil {
		h.Close()
	}

	p.logger.Warn("Обработка архива завершилась ошибкой",
		slog.String("archive_id", j.id),
		slog.String("kind", string(kind)),
		slog.String("error", err.Error()),
	)
}

// transition проверяет переход по таблице и сохраняет его вместе с upd.
func (p *Pipeline) transition(j *job, target model.ArchiveStatus, upd model.ArchiveUpdate) {
	if err := j.machine.TransitionTo(target); err != nil {
		p.logger.Error("Недопустимый переход статуса",
			slog.String("archive_id", j.id),
			slog.String("error", err.Error()),
		)
		return
	}
	upd.Status = &target
	p.update(j, upd)
}

// update сохраняет изменения записи. ErrNotFound означает, что архив
// удалён конкурентно: запись игнорируется, единица помечается удалённой.
// Остановка сервиса не мешает сохранить итоговый статус.
func (p *Pipeline) update(j *job, upd model.ArchiveUpdate) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(p.ctx), 10*time.Second)
	defer cancel()

	err := p.store.Update(ctx, j.id, upd)
	if err == nil {
		return
	}
	if errors.Is(err, metastore.ErrNotFound) {
		j.deleted.Store(true)
		p.logger.Debug("Запись архива удалена, обновление пропущено",
			slog.String("archive_id", j.id),
		)
		return
	}
	p.logger.Error("Ошибка обновления записи архива",
		slog.String("archive_id", j.id),
		slog.String("error", err.Error()),
	)
}

// register регистрирует живую единицу работы.
func (p *Pipeline) register(id string) (*job, error) {
	machine, err := lifecycle.New(model.StatusDownloading)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrShuttingDown
	}
	j := &job{id: id, machine: machine}
	p.jobs[id] = j
	p.wg.Add(1)
	activeArchives.Inc()
	return j, nil
}

// finish очищает артефакты завершённой единицы и снимает её с учёта.
// Снятие с учёта выполняется после очистки, иначе Delete мог бы выполнить её повторно.
func (p *Pipeline) finish(j *job) {
	p.cleanup(j.id)
	p.registry.Remove(j.id)

	p.mu.Lock()
	delete(p.jobs, j.id)
	p.mu.Unlock()

	activeArchives.Dec()
	p.wg.Done()
}

// abandon помечает failed запись, для которой не удалось запустить единицу.
func (p *Pipeline) abandon(id string) {
	failed := model.StatusFailed
	detail := "Сервис останавливается, архив не обработан"
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.store.Update(ctx, id, model.ArchiveUpdate{Status: &failed, Detail: &detail}); err != nil &&
		!errors.Is(err, metastore.ErrNotFound) {
		p.logger.Error("Ошибка обновления записи архива",
			slog.String("archive_id", id),
			slog.String("error", err.Error()),
		)
	}
}

// cleanup удаляет все артефакты id. Ошибки только логируются.
func (p *Pipeline) cleanup(id string) {
	if err := p.ws.Cleanup(id); err != nil {
		cleanupErrorsTotal.Inc()
		p.logger.Warn("Не удалось удалить артефакты архива",
			slog.String("archive_id", id),
			slog.String("error", err.Error()),
		)
	}
}

// stopped проверяет на границе стадий, удалён ли архив.
func (p *Pipeline) stopped(j *job) bool {
	return j.deleted.Load()
}

func (p *Pipeline) isLive(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.jobs[id]
	return ok
}

func (p *Pipeline) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// validateURL допускает только абсолютные http/https URL с хостом.
func validateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("%w: url не указан", ErrValidation)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: некорректный url: %v", ErrValidation, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: схема url должна быть http или https", ErrValidation)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("%w: в url не указан хост", ErrValidation)
	}
	return nil
}
