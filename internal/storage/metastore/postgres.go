package metastore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/bigkaa/goartstore/archive-module/internal/domain/model"
)

// DBTX: интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres: хранилище метаданных в таблице archives.
// Все запросы: чистый SQL через pgx, без ORM.
type Postgres struct {
	db DBTX
}

// NewPostgres создаёт хранилище поверх пула или транзакции.
func NewPostgres(db DBTX) *Postgres {
	return &Postgres{db: db}
}

const archiveColumns = `id, url, author, status, size, files, detail, created_at, updated_at`

func (p *Postgres) Create(ctx context.Context, author string, url *string) (*model.Archive, error) {
	query := `
		INSERT INTO archives (id, url, author, status)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + archiveColumns

	id := uuid.New().String()
	a, err := scanArchive(p.db.QueryRow(ctx, query, id, url, author, model.StatusDownloading))
	if err != nil {
		return nil, fmt.Errorf("ошибка создания записи архива: %w", err)
	}
	return a, nil
}

func (p *Postgres) Get(ctx context.Context, id string) (*model.Archive, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	query := `SELECT ` + archiveColumns + ` FROM archives WHERE id = $1`

	a, err := scanArchive(p.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения записи архива: %w", err)
	}
	return a, nil
}

// Update обновляет только переданные поля одним UPDATE.
func (p *Postgres) Update(ctx context.Context, id string, upd model.ArchiveUpdate) error {
	if !validID(id) {
		return ErrNotFound
	}
	set, args := buildArchiveSet(upd, 2)
	query := fmt.Sprintf(`UPDATE archives SET %s WHERE id = $1`, set)

	tag, err := p.db.Exec(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("ошибка обновления записи архива: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) Remove(ctx context.Context, id string) (bool, error) {
	if !validID(id) {
		return false, nil
	}
	tag, err := p.db.Exec(ctx, `DELETE FROM archives WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("ошибка удаления записи архива: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (p *Postgres) ListByStatus(ctx context.Context, statuses ...model.ArchiveStatus) ([]*model.Archive, error) {
	values := make([]string, 0, len(statuses))
	for _, s := range statuses {
		values = append(values, string(s))
	}

	query := `SELECT ` + archiveColumns + ` FROM archives WHERE status = ANY($1) ORDER BY created_at`

	rows, err := p.db.Query(ctx, query, values)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка архивов: %w", err)
	}
	defer rows.Close()

	result := make([]*model.Archive, 0)
	for rows.Next() {
		a, err := scanArchive(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования архива: %w", err)
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

// buildArchiveSet строит SET-часть UPDATE и аргументы.
// updated_at обновляется всегда.
func buildArchiveSet(upd model.ArchiveUpdate, startArg int) (string, []any) {
	assignments := []string{"updated_at = now()"}
	var args []any
	argNum := startArg

	if upd.Status != nil {
		assignments = append(assignments, fmt.Sprintf("status = $%d", argNum))
		args = append(args, string(*upd.Status))
		argNum++
	}
	if upd.Size != nil {
		assignments = append(assignments, fmt.Sprintf("size = $%d", argNum))
		args = append(args, *upd.Size)
		argNum++
	}
	if upd.Files != nil {
		files := *upd.Files
		if files == nil {
			files = []string{}
		}
		assignments = append(assignments, fmt.Sprintf("files = $%d", argNum))
		args = append(args, files)
		argNum++
	}
	if upd.Detail != nil {
		assignments = append(assignments, fmt.Sprintf("detail = $%d", argNum))
		args = append(args, *upd.Detail)
	}

	return strings.Join(assignments, ", "), args
}

// validID: колонка id имеет тип UUID, не-UUID строка дала бы ошибку приведения.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// scanArchive читает одну строку в порядке archiveColumns.
func scanArchive(row pgx.Row) (*model.Archive, error) {
	a := &model.Archive{}
	var status string
	if err := row.Scan(
		&a.ID, &a.URL, &a.Author, &status, &a.Size, &a.Files, &a.Detail, &a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	a.Status = model.ArchiveStatus(status)
	return a, nil
}

// Проверка соответствия интерфейсу на этапе компиляции.
var _ Store = (*Postgres)(nil)
