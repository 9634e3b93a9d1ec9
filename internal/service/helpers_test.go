package service

import (
	"archive/tar"
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/ulikunitz/xz"

	"github.com/bigkaa/goartstore/archive-module/internal/progress"
	"github.com/bigkaa/goartstore/archive-module/internal/storage/metastore"
	"github.com/bigkaa/goartstore/archive-module/internal/storage/workspace"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// tarEntry: член тестового архива.
type tarEntry struct {
	name     string
	body     string
	typeflag byte
	linkname string
}

// file: обычный файл.
func file(name, body string) tarEntry {
	return tarEntry{name: name, body: body, typeflag: tar.TypeReg}
}

// dir: директория.
func dir(name string) tarEntry {
	return tarEntry{name: name, typeflag: tar.TypeDir}
}

// buildArchive собирает tar (gz=false) или tar.gz (gz=true) в памяти.
func buildArchive(t *testing.T, gz bool, entries ...tarEntry) []byte {
	t.Helper()

	var buf bytes.Buffer
	var tw *tar.Writer
	var zw *gzip.Writer
	if gz {
		zw = gzip.NewWriter(&buf)
		tw = tar.NewWriter(zw)
	} else {
		tw = tar.NewWriter(&buf)
	}

	for _, e := range entries {
		hdr := &tar.Header{
			Name:     e.name,
			Typeflag: e.typeflag,
			Linkname: e.linkname,
			Mode:     0o644,
			ModTime:  time.Unix(1700000000, 0),
		}
		if e.typeflag == tar.TypeDir {
			hdr.Mode = 0o755
		}
		if e.typeflag == tar.TypeReg {
			hdr.Size = int64(len(e.body))
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("WriteHeader %s: %v", e.name, err)
		}
		if e.typeflag == tar.TypeReg {
			if _, err := tw.Write([]byte(e.body)); err != nil {
				t.Fatalf("Write %s: %v", e.name, err)
			}
		}
	}

	if err := tw.Close(); err != nil {
		t.Fatalf("tar Close: %v", err)
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			t.Fatalf("gzip Close: %v", err)
		}
	}
	return buf.Bytes()
}

// compressXZ сжимает data в формат xz.
func compressXZ(t *testing.T, data []byte) []byte {
	t.Helper()

	var buf bytes.Buffer
	xw, err := xz.NewWriter(&buf)
	if err != nil {
		t.Fatalf("xz.NewWriter: %v", err)
	}
	if _, err := xw.Write(data); err != nil {
		t.Fatalf("xz Write: %v", err)
	}
	if err := xw.Close(); err != nil {
		t.Fatalf("xz Close: %v", err)
	}
	return buf.Bytes()
}

// sampleTar: содержимое sampleArchive без сжатия.
func sampleTar(t *testing.T) []byte {
	return buildArchive(t, false,
		dir("docs/"),
		file("docs/readme.txt", "документация"),
		file("docs/guide/intro.md", "# Введение"),
		file("main.go", "package main"),
	)
}

// sampleBzip2 читает testdata/sample.tar.bz2 (те же члены, что у sampleArchive).
// В стандартной библиотеке нет bzip2-кодировщика, поэтому архив собран заранее.
func sampleBzip2(t *testing.T) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", "sample.tar.bz2"))
	if err != nil {
		t.Fatalf("чтение testdata: %v", err)
	}
	return data
}

// sampleArchive: типичный архив с вложенной директорией.
func sampleArchive(t *testing.T) []byte {
	return buildArchive(t, true,
		dir("docs/"),
		file("docs/readme.txt", "документация"),
		file("docs/guide/intro.md", "# Введение"),
		file("main.go", "package main"),
	)
}

var sampleFiles = []string{"docs/readme.txt", "docs/guide/intro.md", "main.go"}

// testEnv: собранный конвейер поверх in-memory хранилища.
type testEnv struct {
	pipeline *Pipeline
	store    metastore.Store
	registry *progress.Registry
	ws       *workspace.Workspace
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	ws, err := workspace.New(filepath.Join(t.TempDir(), "downloads"))
	if err != nil {
		t.Fatalf("workspace.New: %v", err)
	}
	store := metastore.NewMemory()
	registry := progress.NewRegistry()
	logger := testLogger()

	acquirer := NewAcquirer(ws, AcquirerConfig{
		ConnectTimeout:        2 * time.Second,
		ResponseHeaderTimeout: 2 * time.Second,
		ChunkSize:             512,
	}, logger)
	extractor := NewExtractor(ws, 512, logger)

	p := NewPipeline(store, registry, ws, acquirer, extractor, logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = p.Shutdown(ctx)
	})

	return &testEnv{pipeline: p, store: store, registry: registry, ws: ws}
}

// waitStatus опрашивает статус, пока cond не вернёт true (не дольше 5 секунд).
func waitStatus(t *testing.T, p *Pipeline, id string, cond func(*StatusView) bool) *StatusView {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for {
		view, err := p.Status(context.Background(), id)
		if err != nil {
			t.Fatalf("Status(%s): %v", id, err)
		}
		if cond(view) {
			return view
		}
		if time.Now().After(deadline) {
			t.Fatalf("условие не выполнено за 5s, последний статус: %+v", view)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func isTerminal(v *StatusView) bool {
	return v.Status.IsTerminal()
}

// assertNoArtifacts проверяет, что на диске не осталось артефактов id.
func assertNoArtifacts(t *testing.T, ws *workspace.Workspace, id string) {
	t.Helper()
	for _, p := range []string{ws.ArchivePath(id), ws.PartPath(id), ws.ExtractDir(id)} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("артефакт не удалён: %s", p)
		}
	}
}
