// Пакет model: доменные модели Archive Module.
// Archive: долговременная запись об архиве, которой владеет хранилище метаданных.
package model

import (
	"time"
)

// ArchiveStatus: статус архива в конвейере.
type ArchiveStatus string

const (
	// StatusDownloading: архив скачивается или загружается
	StatusDownloading ArchiveStatus = "downloading"
	// StatusUnpacking: архив распаковывается
	StatusUnpacking ArchiveStatus = "unpacking"
	// StatusCompleted: распаковка завершена, список файлов сохранён
	StatusCompleted ArchiveStatus = "ok"
	// StatusFailed: конвейер завершился ошибкой (конечный статус)
	StatusFailed ArchiveStatus = "failed"
)

// IsTerminal возвращает true для конечных статусов (ok, failed).
func (s ArchiveStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IsActive возвращает true, пока архив обрабатывается.
func (s ArchiveStatus) IsActive() bool {
	return s == StatusDownloading || s == StatusUnpacking
}

// Archive: метаданные архива.
type Archive struct {
	// ID: уникальный идентификатор (UUID v4), не переиспользуется
	ID string `json:"id"`

	// URL: источник архива. nil для загруженных файлов.
	URL *string `json:"url,omitempty"`

	// Author: идентификатор отправителя (sub из JWT)
	Author string `json:"author"`

	// Status: текущий статус
	Status ArchiveStatus `json:"status"`

	// Size: ожидаемый размер сжатого архива в байтах.
	// nil, пока источник не ответил или размер неизвестен.
	Size *int64 `json:"size,omitempty"`

	// Files: относительные пути извлечённых файлов (только для ok)
	Files []string `json:"files,omitempty"`

	// Detail: описание ошибки (только для failed)
	Detail *string `json:"detail,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone возвращает глубокую копию записи.
func (a *Archive) Clone() *Archive {
	c := *a
	if a.URL != nil {
		u := *a.URL
		c.URL = &u
	}
	if a.Size != nil {
		s := *a.Size
		c.Size = &s
	}
	if a.Detail != nil {
		d := *a.Detail
		c.Detail = &d
	}
	if a.Files != nil {
		c.Files = make([]string, len(a.Files))
		copy(c.Files, a.Files)
	}
	return &c
}

// ArchiveUpdate: частичное обновление записи. nil-поля не изменяются.
type ArchiveUpdate struct {
	Status *ArchiveStatus
	Size   *int64
	Files  *[]string
	Detail *string
}

// Apply применяет обновление к записи.
func (u ArchiveUpdate) Apply(a *Archive, now time.Time) {
	if u.Status != nil {
		a.Status = *u.Status
	}
	if u.Size != nil {
		s := *u.Size
		a.Size = &s
	}
	if u.Files != nil {
		a.Files = make([]string, len(*u.Files))
		copy(a.Files, *u.Files)
	}
	if u.Detail != nil {
		d := *u.Detail
		a.Detail = &d
	}
	a.UpdatedAt = now
}

// Empty возвращает true, если обновление ничего не меняет.
func (u ArchiveUpdate) Empty() bool {
	return u.Status == nil && u.Size == nil && u.Files == nil && u.Detail == nil
}
