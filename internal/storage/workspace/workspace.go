// Пакет workspace: раскладка артефактов архивов на диске.
//
// Под корневой директорией (AR_DOWNLOADS_DIR) для каждого id:
//
//	{id}.tar.gz.part: временный файл, пока идёт скачивание/загрузка
//	{id}.tar.gz     : сжатый архив
//	{id}/           : дерево распаковки
//
// Все функции удаления считают отсутствие артефакта успехом.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
)

const (
	archiveExt = ".tar.gz"
	partExt    = ".part"
)

// Workspace: управление артефактами архивов в корневой директории.
type Workspace struct {
	root string
}

// New создаёт Workspace. Создаёт корневую директорию, если её нет.
func New(root string) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("некорректный путь %s: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию загрузок %s: %w", abs, err)
	}
	return &Workspace{root: abs}, nil
}

// Root возвращает абсолютный путь корневой директории.
func (w *Workspace) Root() string {
	return w.root
}

// ArchivePath: путь сжатого архива.
func (w *Workspace) ArchivePath(id string) string {
	return filepath.Join(w.root, id+archiveExt)
}

// PartPath: путь временного файла скачивания.
func (w *Workspace) PartPath(id string) string {
	return w.ArchivePath(id) + partExt
}

// ExtractDir: путь дерева распаковки.
func (w *Workspace) ExtractDir(id string) string {
	return filepath.Join(w.root, id)
}

// CreatePart создаёт (перезаписывает) временный файл скачивания.
func (w *Workspace) CreatePart(id string) (*os.File, error) {
	f, err := os.OpenFile(w.PartPath(id), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}
	return f, nil
}

// CommitPart атомарно переименовывает временный файл в {id}.tar.gz.
// При ошибке временный файл удаляется.
func (w *Workspace) CommitPart(id string) error {
	if err := os.Rename(w.PartPath(id), w.ArchivePath(id)); err != nil {
		_ = w.RemovePart(id)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}
	return nil
}

// RemovePart удаляет временный файл. nil, если файла нет.
func (w *Workspace) RemovePart(id string) error {
	return removeFile(w.PartPath(id))
}

// RemoveArchive удаляет сжатый архив. nil, если файла нет.
func (w *Workspace) RemoveArchive(id string) error {
	return removeFile(w.ArchivePath(id))
}

// RemoveTree удаляет дерево распаковки. nil, если его нет.
func (w *Workspace) RemoveTree(id string) error {
	if err := os.RemoveAll(w.ExtractDir(id)); err != nil {
		return fmt.Errorf("ошибка удаления директории %s: %w", id, err)
	}
	return nil
}

// Cleanup удаляет все артефакты id. Возвращает объединённую ошибку
// тех удалений, что не удались (отсутствие ошибкой не считается).
func (w *Workspace) Cleanup(id string) error {
	return errors.Join(w.RemovePart(id), w.RemoveArchive(id), w.RemoveTree(id))
}

// IDs возвращает отсортированный список id, для которых на диске есть
// хотя бы один артефакт. Записи, не похожие на артефакты, игнорируются.
func (w *Workspace) IDs() ([]string, error) {
	entries, err := os.ReadDir(w.root)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения директории загрузок: %w", err)
	}

	seen := make(map[string]bool)
	for _, e := range entries {
		id, ok := artifactID(e.Name(), e.IsDir())
		if ok {
			seen[id] = true
		}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// CheckWritable проверяет, что в корневую директорию можно писать.
func (w *Workspace) CheckWritable() error {
	f, err := os.CreateTemp(w.root, ".probe-*")
	if err != nil {
		return fmt.Errorf("директория загрузок недоступна для записи: %w", err)
	}
	name := f.Name()
	f.Close()
	return removeFile(name)
}

// artifactID извлекает id из имени артефакта.
func artifactID(name string, isDir bool) (string, bool) {
	var id string
	switch {
	case isDir:
		id = name
	case strings.HasSuffix(name, archiveExt+partExt):
		id = strings.TrimSuffix(name, archiveExt+partExt)
	case strings.HasSuffix(name, archiveExt):
		id = strings.TrimSuffix(name, archiveExt)
	default:
		return "", false
	}
	if _, err := uuid.Parse(id); err != nil {
		return "", false
	}
	return id, true
}

func removeFile(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления файла %s: %w", filepath.Base(path), err)
	}
	return nil
}
