// errors.go: ошибки сервисного слоя.
package service

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound: архив не найден (не создавался или удалён).
	ErrNotFound = errors.New("архив не найден")
	// ErrValidation: ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
	// ErrShuttingDown: сервис останавливается, новые архивы не принимаются.
	ErrShuttingDown = errors.New("сервис останавливается")
)

// FailureKind: класс ошибки конвейера, записываемой в архив как failed.
type FailureKind string

const (
	// FailureSourceUnreachable: источник недоступен, вернул не-2xx
	// или соединение оборвалось во время передачи
	FailureSourceUnreachable FailureKind = "source_unreachable"
	// FailureSourceTimeout: истёк таймаут подключения или ожидания заголовков
	FailureSourceTimeout FailureKind = "source_timeout"
	// FailureInvalidArchive: данные не являются корректным tar/tar.gz архивом
	FailureInvalidArchive FailureKind = "invalid_archive_format"
	// FailureLocalIO: ошибка записи на локальный диск
	FailureLocalIO FailureKind = "local_io"
	// FailureInterrupted: обработка прервана остановкой или рестартом сервиса
	FailureInterrupted FailureKind = "interrupted"
)

// FailureError: классифицированная ошибка стадии конвейера.
// Detail: человекочитаемое описание, сохраняемое в записи архива.
type FailureError struct {
	Kind   FailureKind
	Detail string
	Err    error
}

func (e *FailureError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *FailureError) Unwrap() error {
	return e.Err
}

func failure(kind FailureKind, err error, format string, args ...any) *FailureError {
	return &FailureError{Kind: kind, Detail: fmt.Sprintf(format, args...), Err: err}
}

// FailureKindOf возвращает класс ошибки. Неклассифицированные ошибки
// считаются локальными (FailureLocalIO).
func FailureKindOf(err error) FailureKind {
	var fe *FailureError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return FailureLocalIO
}

// failureDetail возвращает текст для поля detail записи архива.
func failureDetail(err error) string {
	var fe *FailureError
	if errors.As(err, &fe) {
		return fe.Detail
	}
	return err.Error()
}
