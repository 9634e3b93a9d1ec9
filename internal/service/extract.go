// extract.go: стадия распаковки архива {id}.tar.gz в директорию {id}/.
//
// Два прохода по архиву:
//  1. чтение таблицы членов (только заголовки) и подсчёт суммарного
//     размера обычных файлов: общий объём стадии для прогресса;
//  2. распаковка по одному члену; размер члена добавляется в прогресс
//     только после того, как файл полностью записан и закрыт.
//
// Формат определяется по содержимому (mimetype): tar в gzip, bzip2 или xz
// либо tar без сжатия. Всё остальное сразу отклоняется как неверный формат.
package service

import (
	"archive/tar"
	"bufio"
	"compress/bzip2"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/gabriel-vasile/mimetype"
	"github.com/klauspost/compress/gzip"
	"github.com/ulikunitz/xz"

	"github.com/bigkaa/goartstore/archive-module/internal/progress"
	"github.com/bigkaa/goartstore/archive-module/internal/storage/workspace"
)

// detailInvalidArchive: detail для файлов, не являющихся архивом.
const detailInvalidArchive = "Файл не является архивом .tar.gz"

// sniffLen: сколько байт из начала файла смотрит mimetype.
const sniffLen = 3072

// Extractor: стадия распаковки.
type Extractor struct {
	ws        *workspace.Workspace
	chunkSize int
	logger    *slog.Logger

	// memberWritten вызывается после записи члена и учёта его в прогрессе
	memberWritten func(id, name string)
}

// NewExtractor создаёт стадию распаковки.
func NewExtractor(ws *workspace.Workspace, chunkSize int, logger *slog.Logger) *Extractor {
	return &Extractor{
		ws:        ws,
		chunkSize: chunkSize,
		logger:    logger.With(slog.String("component", "extractor")),
	}
}

// member: обычный файл из таблицы членов.
type member struct {
	name string
	size int64
}

// Extract распаковывает архив id и возвращает относительные пути
// извлечённых файлов в порядке следования в архиве.
// Частично распакованное дерево не удаляется: это делает вызывающий код.
func (e *Extractor) Extract(ctx context.Context, id string, h *progress.Handle) ([]string, error) {
	archivePath := e.ws.ArchivePath(id)

	info, err := os.Stat(archivePath)
	if err != nil {
		return nil, failure(FailureLocalIO, err, "Сжатый архив не найден на диске")
	}
	if info.Size() == 0 {
		return nil, failure(FailureInvalidArchive, nil, "%s: пустой файл", detailInvalidArchive)
	}

	// Проход 1: таблица членов
	var members []member
	var total int64
	err = e.walk(archivePath, func(hdr *tar.Header, name string, _ io.Reader) error {
		if hdr.Typeflag == tar.TypeReg {
			members = append(members, member{name: name, size: hdr.Size})
			total += hdr.Size
		}
		return ctx.Err()
	})
	if err != nil {
		return nil, e.classify(ctx, err)
	}
	h.SetTotal(total)

	e.logger.Debug("Таблица членов прочитана",
		slog.String("archive_id", id),
		slog.Int("files", len(members)),
		slog.Int64("total_bytes", total),
	)

	// Проход 2: распаковка
	root := e.ws.ExtractDir(id)
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, failure(FailureLocalIO, err, "Ошибка создания директории распаковки")
	}

	files := make([]string, 0, len(members))
	seen := make(map[string]bool, len(members))
	buf := make([]byte, e.chunkSize)

	err = e.walk(archivePath, func(hdr *tar.Header, name string, r io.Reader) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		dest, err := securejoin.SecureJoin(root, name)
		if err != nil {
			return &invalidArchiveError{reason: fmt.Sprintf("недопустимый путь %q", hdr.Name)}
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(dest, 0o750); err != nil {
				return failure(FailureLocalIO, err, "Ошибка создания директории %s", name)
			}
		case tar.TypeReg:
			if err := writeMember(dest, r, buf); err != nil {
				return err
			}
			h.Add(hdr.Size)
			if !seen[name] {
				seen[name] = true
				files = append(files, name)
			}
			if e.memberWritten != nil {
				e.memberWritten(id, name)
			}
		default:
			// Ссылки, устройства и прочие типы не извлекаются
			e.logger.Debug("Член архива пропущен",
				slog.String("archive_id", id),
				slog.String("name", hdr.Name),
				slog.String("type", string(hdr.Typeflag)),
			)
		}
		return nil
	})
	if err != nil {
		return nil, e.classify(ctx, err)
	}

	return files, nil
}

// walk открывает архив и вызывает fn для каждого члена с проверенным
// относительным путём. Член "." (корень) пропускается.
func (e *Extractor) walk(archivePath string, fn func(hdr *tar.Header, name string, r io.Reader) error) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return failure(FailureLocalIO, err, "Ошибка открытия сжатого архива")
	}
	defer f.Close()

	br := bufio.NewReaderSize(f, max(e.chunkSize, sniffLen))
	src, closeSrc, err := openPayload(br)
	if err != nil {
		return err
	}
	defer closeSrc()

	tr := tar.NewReader(src)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return &invalidArchiveError{reason: err.Error(), err: err}
		}

		name, ok := memberName(hdr.Name)
		if !ok {
			return &invalidArchiveError{reason: fmt.Sprintf("недопустимый путь %q", hdr.Name)}
		}
		if name == "" {
			continue
		}

		if err := fn(hdr, name, &archiveReader{r: tr}); err != nil {
			return err
		}
	}
}

// openPayload определяет формат по первым байтам и возвращает поток tar.
func openPayload(br *bufio.Reader) (io.Reader, func(), error) {
	head, err := br.Peek(sniffLen)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, nil, failure(FailureLocalIO, err, "Ошибка чтения сжатого архива")
	}

	mt := mimetype.Detect(head)
	switch {
	case mt.Is("application/gzip"):
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, nil, &invalidArchiveError{reason: err.Error(), err: err}
		}
		return zr, func() { _ = zr.Close() }, nil
	case mt.Is("application/x-bzip2"):
		return bzip2.NewReader(br), func() {}, nil
	case mt.Is("application/x-xz"):
		xr, err := xz.NewReader(br)
		if err != nil {
			return nil, nil, &invalidArchiveError{reason: err.Error(), err: err}
		}
		return xr, func() {}, nil
	case mt.Is("application/x-tar"):
		return br, func() {}, nil
	default:
		return nil, nil, &invalidArchiveError{reason: "обнаружен тип " + mt.String()}
	}
}

// classify превращает ошибку прохода в FailureError.
func (e *Extractor) classify(ctx context.Context, err error) error {
	var fe *FailureError
	if errors.As(err, &fe) {
		return fe
	}
	var ie *invalidArchiveError
	if errors.As(err, &ie) {
		return failure(FailureInvalidArchive, ie.err, "%s: %s", detailInvalidArchive, ie.reason)
	}
	if ctx.Err() != nil {
		return failure(FailureInterrupted, err, "Распаковка прервана остановкой сервиса")
	}
	return failure(FailureLocalIO, err, "Ошибка распаковки архива")
}

// memberName нормализует имя члена в относительный путь со слешами.
// false: абсолютный путь или выход за пределы директории распаковки.
// Пустая строка: корень архива.
func memberName(raw string) (string, bool) {
	name := strings.ReplaceAll(raw, "\\", "/")
	if strings.HasPrefix(name, "/") || filepath.IsAbs(raw) {
		return "", false
	}
	clean := path.Clean(name)
	if clean == "." {
		return "", true
	}
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", false
	}
	return clean, true
}

// writeMember записывает тело члена в dest и закрывает файл.
func writeMember(dest string, r io.Reader, buf []byte) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return failure(FailureLocalIO, err, "Ошибка создания директории %s", filepath.Base(filepath.Dir(dest)))
	}

	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return failure(FailureLocalIO, err, "Ошибка создания файла %s", filepath.Base(dest))
	}

	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			if _, err := f.Write(buf[:n]); err != nil {
				f.Close()
				return failure(FailureLocalIO, err, "Ошибка записи файла %s", filepath.Base(dest))
			}
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			f.Close()
			return readErr
		}
	}

	if err := f.Close(); err != nil {
		return failure(FailureLocalIO, err, "Ошибка записи файла %s", filepath.Base(dest))
	}
	return nil
}

// invalidArchiveError: повреждённые или нераспознанные данные архива.
type invalidArchiveError struct {
	reason string
	err    error
}

func (e *invalidArchiveError) Error() string {
	return e.reason
}

func (e *invalidArchiveError) Unwrap() error {
	return e.err
}

// archiveReader помечает ошибки чтения тела члена как повреждение архива,
// чтобы отличать их от ошибок записи на диск.
type archiveReader struct {
	r io.Reader
}

func (a *archiveReader) Read(p []byte) (int, error) {
	n, err := a.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, &invalidArchiveError{reason: err.Error(), err: err}
	}
	return n, err
}
