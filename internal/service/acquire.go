// acquire.go реализует стадию получения архива: скачивание по URL или приём загрузки.
//
// Байты пишутся во временный файл {id}.tar.gz.part кусками фиксированного
// размера; после успешной записи куска его длина добавляется в прогресс.
// По завершении файл атомарно переименовывается в {id}.tar.gz.
// При любой ошибке временный файл удаляется сразу.
package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/bigkaa/goartstore/archive-module/internal/progress"
	"github.com/bigkaa/goartstore/archive-module/internal/storage/workspace"
)

// AcquirerConfig: параметры стадии получения.
type AcquirerConfig struct {
	// ConnectTimeout: таймаут установления соединения (AR_CONNECT_TIMEOUT)
	ConnectTimeout time.Duration
	// ResponseHeaderTimeout: таймаут ожидания заголовков ответа (AR_RESPONSE_HEADER_TIMEOUT)
	ResponseHeaderTimeout time.Duration
	// ChunkSize: размер куска чтения/записи в байтах (AR_CHUNK_SIZE)
	ChunkSize int
}

// Acquirer: стадия получения сжатого архива.
type Acquirer struct {
	client    *http.Client
	ws        *workspace.Workspace
	chunkSize int
	logger    *slog.Logger
}

// NewAcquirer создаёт стадию получения с собственным HTTP-клиентом.
// Клиент не распаковывает Content-Encoding: байты пишутся как есть.
func NewAcquirer(ws *workspace.Workspace, cfg AcquirerConfig, logger *slog.Logger) *Acquirer {
	dialer := &net.Dialer{
		Timeout:   cfg.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		DisableCompression:    true,
		MaxIdleConnsPerHost:   4,
	}

	return &Acquirer{
		client:    &http.Client{Transport: transport},
		ws:        ws,
		chunkSize: cfg.ChunkSize,
		logger:    logger.With(slog.String("component", "acquirer")),
	}
}

// Source: открытый поток скачивания.
type Source struct {
	// Body: тело ответа; закрывается вызывающим кодом
	Body io.ReadCloser
	// Size: Content-Length или progress.UnknownTotal
	Size int64
}

// Open выполняет потоковый GET и проверяет статус ответа.
// Таймауты подключения и заголовков → FailureSourceTimeout,
// остальные ошибки подключения и не-2xx → FailureSourceUnreachable.
func (a *Acquirer) Open(ctx context.Context, rawURL string) (*Source, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, failure(FailureSourceUnreachable, err, "Некорректный URL %s", rawURL)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, classifyConnectError(ctx, rawURL, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, failure(FailureSourceUnreachable, nil,
			"Не удалось скачать %s: сервер вернул статус %d", rawURL, resp.StatusCode)
	}

	size := resp.ContentLength
	if size < 0 {
		size = progress.UnknownTotal
	}

	a.logger.Debug("Источник ответил",
		slog.String("url", rawURL),
		slog.Int("status", resp.StatusCode),
		slog.Int64("content_length", size),
	)

	return &Source{Body: resp.Body, Size: size}, nil
}

// Store копирует поток r в {id}.tar.gz кусками, добавляя длину каждого
// записанного куска в h. source: описание источника для detail.
// Возвращает количество записанных байт.
func (a *Acquirer) Store(ctx context.Context, id string, r io.Reader, h *progress.Handle, source string) (int64, error) {
	f, err := a.ws.CreatePart(id)
	if err != nil {
		return 0, failure(FailureLocalIO, err, "Ошибка записи архива на диск")
	}

	written, copyErr := a.copyChunks(ctx, f, r, h, source)
	closeErr := f.Close()

	if copyErr == nil && closeErr != nil {
		copyErr = failure(FailureLocalIO, closeErr, "Ошибка записи архива на диск")
	}
	if copyErr != nil {
		if err := a.ws.RemovePart(id); err != nil {
			a.logger.Warn("Не удалось удалить временный файл",
				slog.String("archive_id", id),
				slog.String("error", err.Error()),
			)
		}
		return written, copyErr
	}

	if err := a.ws.CommitPart(id); err != nil {
		return written, failure(FailureLocalIO, err, "Ошибка записи архива на диск")
	}
	return written, nil
}

// copyChunks: цикл чтения/записи кусками chunkSize.
func (a *Acquirer) copyChunks(ctx context.Context, w io.Writer, r io.Reader, h *progress.Handle, source string) (int64, error) {
	buf := make([]byte, a.chunkSize)
	var written int64

	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return written, failure(FailureLocalIO, err, "Ошибка записи архива на диск")
			}
			written += int64(n)
			h.Add(int64(n))
		}
		if errors.Is(readErr, io.EOF) {
			return written, nil
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return written, failure(FailureInterrupted, ctx.Err(), "Передача %s прервана остановкой сервиса", source)
			}
			return written, failure(FailureSourceUnreachable, readErr,
				"Передача %s оборвалась: %v", source, readErr)
		}
	}
}

// classifyConnectError определяет класс ошибки http.Client.Do.
func classifyConnectError(ctx context.Context, rawURL string, err error) error {
	if ctx.Err() != nil {
		return failure(FailureInterrupted, err, "Скачивание %s прервано остановкой сервиса", rawURL)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return failure(FailureSourceTimeout, err, "Истёк таймаут подключения к %s", rawURL)
	}

	// url.Error оборачивает исходную ошибку dial; в detail: только её текст
	cause := err
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		cause = urlErr.Err
	}
	return failure(FailureSourceUnreachable, err, "Не удалось подключиться к %s: %v", rawURL, cause)
}

// describeSource: описание источника для сообщений об ошибках.
func describeSource(rawURL *string) string {
	if rawURL == nil {
		return "загружаемого файла"
	}
	return *rawURL
}
