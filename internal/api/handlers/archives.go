// archives.go содержит HTTP handlers архивов: приём по URL, загрузка, статус, удаление.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	openapi_types "github.com/oapi-codegen/runtime/types"

	apierrors "github.com/bigkaa/goartstore/archive-module/internal/api/errors"
	"github.com/bigkaa/goartstore/archive-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/archive-module/internal/service"
)

// multipartMemory: объём multipart-формы в памяти, остальное уходит во временный файл.
const multipartMemory = 32 << 20

// multipartOverhead: запас на заголовки и границы multipart сверх размера файла.
const multipartOverhead = 1 << 20

// ArchiveService: операции конвейера, которые вызывает HTTP-слой.
type ArchiveService interface {
	Submit(ctx context.Context, author, rawURL string) (string, error)
	SubmitUpload(ctx context.Context, author string, r io.Reader, size int64) (string, error)
	Status(ctx context.Context, id string) (*service.StatusView, error)
	Delete(ctx context.Context, id string) error
}

// ArchivesHandler: обработчик endpoints архивов.
type ArchivesHandler struct {
	svc           ArchiveService
	maxUploadSize int64
	logger        *slog.Logger
}

// NewArchivesHandler создаёт обработчик endpoints архивов.
func NewArchivesHandler(svc ArchiveService, maxUploadSize int64, logger *slog.Logger) *ArchivesHandler {
	return &ArchivesHandler{
		svc:           svc,
		maxUploadSize: maxUploadSize,
		logger:        logger.With(slog.String("component", "archives_handler")),
	}
}

type submitRequest struct {
	URL string `json:"url"`
}

type submitResponse struct {
	ID string `json:"id"`
}

type statusResponse struct {
	ID       string    `json:"id"`
	Status   string    `json:"status"`
	Author   string    `json:"author"`
	Progress *int      `json:"progress,omitempty"`
	Files    *[]string `json:"files,omitempty"`
	Detail   *string   `json:"detail,omitempty"`
}

type deleteResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// Submit обрабатывает POST /api/v1/archives.
// Тело: {"url": "http(s)://..."}. Ответ 202 {"id": "..."}.
func (h *ArchivesHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса: ожидается JSON с полем url")
		return
	}

	id, err := h.svc.Submit(r.Context(), middleware.AuthorFromContext(r.Context()), req.URL)
	if err != nil {
		h.writeServiceError(w, err, "")
		return
	}

	writeJSON(w, http.StatusAccepted, submitResponse{ID: id})
}

// Upload обрабатывает POST /api/v1/archives/upload.
// Multipart form: file (обязательно). Ответ 202 {"id": "..."}; ошибка
// копирования или распаковки отражается в статусе архива.
func (h *ArchivesHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize+multipartOverhead)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.uploadTooLarge(w)
			return
		}
		apierrors.ValidationError(w, fmt.Sprintf("Ошибка парсинга multipart: %s", err.Error()))
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		apierrors.ValidationError(w, "Поле 'file' обязательно")
		return
	}
	defer file.Close()

	if header.Size > h.maxUploadSize {
		h.uploadTooLarge(w)
		return
	}

	id, err := h.svc.SubmitUpload(r.Context(), middleware.AuthorFromContext(r.Context()), file, header.Size)
	if err != nil {
		h.writeServiceError(w, err, "")
		return
	}

	writeJSON(w, http.StatusAccepted, submitResponse{ID: id})
}

// GetStatus обрабатывает GET /api/v1/archives/{id}.
func (h *ArchivesHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := archiveID(r)
	if !ok {
		apierrors.NotFound(w, fmt.Sprintf("Архив %s не найден", id))
		return
	}

	view, err := h.svc.Status(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, id)
		return
	}

	resp := statusResponse{
		ID:       view.ID,
		Status:   string(view.Status),
		Author:   view.Author,
		Progress: view.Progress,
		Detail:   view.Detail,
	}
	if view.Files != nil {
		resp.Files = &view.Files
	}

	writeJSON(w, http.StatusOK, resp)
}

// Delete обрабатывает DELETE /api/v1/archives/{id}.
func (h *ArchivesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := archiveID(r)
	if !ok {
		apierrors.NotFound(w, fmt.Sprintf("Архив %s не найден", id))
		return
	}

	if err := h.svc.Delete(r.Context(), id); err != nil {
		h.writeServiceError(w, err, id)
		return
	}

	writeJSON(w, http.StatusOK, deleteResponse{
		OK:      true,
		Message: fmt.Sprintf("Архив %s удалён", id),
	})
}

// archiveID связывает path-параметр {id} как UUID.
// Если значение не UUID, возвращает исходную строку и false: такого архива нет.
func archiveID(r *http.Request) (string, bool) {
	raw := chi.URLParam(r, "id")

	var id openapi_types.UUID
	err := runtime.BindStyledParameterWithOptions("simple", "id", raw, &id, runtime.BindStyledParameterOptions{
		ParamLocation: runtime.ParamLocationPath,
		Explode:       false,
		Required:      true,
	})
	if err != nil {
		return raw, false
	}
	return id.String(), true
}

func (h *ArchivesHandler) uploadTooLarge(w http.ResponseWriter) {
	apierrors.PayloadTooLarge(w, fmt.Sprintf("Размер файла превышает допустимый (%d байт)", h.maxUploadSize))
}

// writeServiceError отображает ошибку сервисного слоя в HTTP-ответ.
func (h *ArchivesHandler) writeServiceError(w http.ResponseWriter, err error, id string) {
	switch {
	case errors.Is(err, service.ErrValidation):
		apierrors.ValidationError(w, err.Error())
	case errors.Is(err, service.ErrNotFound):
		apierrors.NotFound(w, fmt.Sprintf("Архив %s не найден", id))
	case errors.Is(err, service.ErrShuttingDown):
		apierrors.Unavailable(w, "Сервис останавливается, новые архивы не принимаются")
	default:
		h.logger.Error("Ошибка обработки запроса",
			slog.String("archive_id", id),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Внутренняя ошибка сервера")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
