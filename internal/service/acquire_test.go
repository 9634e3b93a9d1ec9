package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/archive-module/internal/domain/model"
	"github.com/bigkaa/goartstore/archive-module/internal/progress"
	"github.com/bigkaa/goartstore/archive-module/internal/storage/workspace"
)

func newTestAcquirer(t *testing.T, headerTimeout time.Duration) (*Acquirer, *workspace.Workspace) {
	t.Helper()
	ws, err := workspace.New(t.TempDir())
	if err != nil {
		t.Fatalf("workspace.New: %v", err)
	}
	return NewAcquirer(ws, AcquirerConfig{
		ConnectTimeout:        time.Second,
		ResponseHeaderTimeout: headerTimeout,
		ChunkSize:             100,
	}, testLogger()), ws
}

// closedAddr возвращает адрес, на котором никто не слушает.
func closedAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func TestAcquirer_Open(t *testing.T) {
	payload := bytes.Repeat([]byte("a"), 1000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/gzip")
		w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	a, _ := newTestAcquirer(t, time.Second)

	src, err := a.Open(context.Background(), srv.URL+"/a.tar.gz")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer src.Body.Close()

	if src.Size != 1000 {
		t.Errorf("Size = %d, ожидалось 1000", src.Size)
	}
}

func TestAcquirer_Open_UnknownLength(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Flush до записи тела: chunked transfer без Content-Length
		w.(http.Flusher).Flush()
		_, _ = w.Write([]byte("данные"))
	}))
	defer srv.Close()

	a, _ := newTestAcquirer(t, time.Second)

	src, err := a.Open(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer src.Body.Close()

	if src.Size != progress.UnknownTotal {
		t.Errorf("Size = %d, ожидалось UnknownTotal", src.Size)
	}
}

func TestAcquirer_Open_Failures(t *testing.T) {
	notFound := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer notFound.Close()

	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer slow.Close()
	defer close(release)

	tests := []struct {
		name       string
		url        string
		wantKind   FailureKind
		wantDetail string
	}{
		{"не-2xx", notFound.URL + "/a.tar.gz", FailureSourceUnreachable, "статус 404"},
		{"нет соединения", "http://" + closedAddr(t) + "/a.tar.gz", FailureSourceUnreachable, "Не удалось подключиться"},
		{"таймаут заголовков", slow.URL, FailureSourceTimeout, "таймаут"},
	}

	a, _ := newTestAcquirer(t, 200*time.Millisecond)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Open(context.Background(), tt.url)
			if err == nil {
				t.Fatal("ожидалась ошибка")
			}
			if kind := FailureKindOf(err); kind != tt.wantKind {
				t.Errorf("класс = %s, ожидался %s (%v)", kind, tt.wantKind, err)
			}
			detail := failureDetail(err)
			if !strings.Contains(detail, tt.wantDetail) {
				t.Errorf("detail %q не содержит %q", detail, tt.wantDetail)
			}
			if tt.name != "таймаут заголовков" && !strings.Contains(detail, tt.url) {
				t.Errorf("detail %q не называет источник", detail)
			}
		})
	}
}

func TestAcquirer_Open_Cancelled(t *testing.T) {
	a, _ := newTestAcquirer(t, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.Open(ctx, "http://"+closedAddr(t))
	if FailureKindOf(err) != FailureInterrupted {
		t.Errorf("ожидалась FailureInterrupted, получено %v", err)
	}
}

// checkedReader проверяет, что прогресс не опережает отданные байты.
type checkedReader struct {
	t      *testing.T
	r      io.Reader
	h      *progress.Handle
	served int64
}

func (c *checkedReader) Read(p []byte) (int, error) {
	if done := c.h.Snapshot().BytesDone; done > c.served {
		c.t.Errorf("прогресс %d опережает отданные байты %d", done, c.served)
	}
	n, err := c.r.Read(p)
	c.served += int64(n)
	return n, err
}

func TestAcquirer_Store(t *testing.T) {
	a, ws := newTestAcquirer(t, time.Second)
	id := uuid.New().String()
	payload := bytes.Repeat([]byte("0123456789"), 105)

	h := progress.NewRegistry().Begin(id, model.StatusDownloading, int64(len(payload)))
	r := &checkedReader{t: t, r: bytes.NewReader(payload), h: h}

	written, err := a.Store(context.Background(), id, r, h, "тест")
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if written != int64(len(payload)) {
		t.Errorf("written = %d, ожидалось %d", written, len(payload))
	}
	if h.Snapshot().BytesDone != int64(len(payload)) {
		t.Errorf("BytesDone = %d", h.Snapshot().BytesDone)
	}

	data, err := os.ReadFile(ws.ArchivePath(id))
	if err != nil || !bytes.Equal(data, payload) {
		t.Errorf("содержимое архива не совпадает: %v", err)
	}
	if _, err := os.Stat(ws.PartPath(id)); !os.IsNotExist(err) {
		t.Error("временный файл должен быть переименован")
	}
}

// failingReader отдаёт n байт, затем ошибку.
type failingReader struct {
	n int
}

func (f *failingReader) Read(p []byte) (int, error) {
	if f.n <= 0 {
		return 0, errors.New("connection reset by peer")
	}
	k := min(len(p), f.n)
	for i := range k {
		p[i] = 'x'
	}
	f.n -= k
	return k, nil
}

func TestAcquirer_Store_MidTransferFailure(t *testing.T) {
	a, ws := newTestAcquirer(t, time.Second)
	id := uuid.New().String()
	h := progress.NewRegistry().Begin(id, model.StatusDownloading, 1000)

	written, err := a.Store(context.Background(), id, &failingReader{n: 250}, h, "http://host/a.tar.gz")
	if err == nil {
		t.Fatal("ожидалась ошибка")
	}
	if FailureKindOf(err) != FailureSourceUnreachable {
		t.Errorf("класс = %s", FailureKindOf(err))
	}
	if !strings.Contains(failureDetail(err), "http://host/a.tar.gz") {
		t.Errorf("detail не называет источник: %q", failureDetail(err))
	}
	if written != 250 || h.Snapshot().BytesDone != 250 {
		t.Errorf("written = %d, BytesDone = %d", written, h.Snapshot().BytesDone)
	}

	// Частично записанный файл удаляется сразу
	for _, p := range []string{ws.PartPath(id), ws.ArchivePath(id)} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("файл не удалён: %s", p)
		}
	}
}

func TestValidateURL(t *testing.T) {
	tests := []struct {
		url   string
		valid bool
	}{
		{"http://example.com/a.tar.gz", true},
		{"https://example.com:8443/path?q=1", true},
		{"", false},
		{"example.com/a.tar.gz", false},
		{"ftp://example.com/a.tar.gz", false},
		{"http://", false},
		{"http:///a.tar.gz", false},
		{"://bad", false},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			err := validateURL(tt.url)
			if tt.valid && err != nil {
				t.Errorf("validateURL(%q) = %v, ожидался nil", tt.url, err)
			}
			if !tt.valid && !errors.Is(err, ErrValidation) {
				t.Errorf("validateURL(%q) = %v, ожидалась ErrValidation", tt.url, err)
			}
		})
	}
}
