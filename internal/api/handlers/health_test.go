package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bigkaa/goartstore/archive-module/internal/storage/workspace"
)

type stubChecker struct {
	name   string
	status string
}

func (s stubChecker) Name() string { return s.name }

func (s stubChecker) CheckReady() (string, string) { return s.status, "stub" }

type brokenDir struct{}

func (brokenDir) CheckWritable() error { return errors.New("read-only file system") }

func TestHealthLive(t *testing.T) {
	h := NewHealthHandler(nil)
	rec := httptest.NewRecorder()
	h.HealthLive(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("статус = %d", rec.Code)
	}
	var resp healthLiveResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil || resp.Service != "archive-module" {
		t.Errorf("ответ = %s", rec.Body.String())
	}
}

func TestHealthReady(t *testing.T) {
	ws, err := workspace.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name       string
		downloads  WritableChecker
		checkers   []ReadinessChecker
		wantCode   int
		wantStatus string
	}{
		{"только файловая система", ws, nil, http.StatusOK, "ok"},
		{"postgres ok", ws, []ReadinessChecker{stubChecker{"postgresql", "ok"}}, http.StatusOK, "ok"},
		{"postgres degraded", ws, []ReadinessChecker{stubChecker{"postgresql", "degraded"}}, http.StatusOK, "degraded"},
		{"postgres fail", ws, []ReadinessChecker{stubChecker{"postgresql", "fail"}}, http.StatusServiceUnavailable, "fail"},
		{"директория недоступна", brokenDir{}, nil, http.StatusServiceUnavailable, "fail"},
		{"не инициализирован", nil, nil, http.StatusServiceUnavailable, "fail"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.downloads, tt.checkers...)
			rec := httptest.NewRecorder()
			h.HealthReady(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			if rec.Code != tt.wantCode {
				t.Errorf("статус = %d, ожидался %d", rec.Code, tt.wantCode)
			}
			var resp healthReadyResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatal(err)
			}
			if resp.Status != tt.wantStatus {
				t.Errorf("status = %s, ожидался %s", resp.Status, tt.wantStatus)
			}
			if _, ok := resp.Checks["filesystem"]; !ok {
				t.Error("нет проверки filesystem")
			}
			for _, c := range tt.checkers {
				if _, ok := resp.Checks[c.Name()]; !ok {
					t.Errorf("нет проверки %s", c.Name())
				}
			}
		})
	}
}

func TestGetMetrics(t *testing.T) {
	h := NewHealthHandler(nil)
	rec := httptest.NewRecorder()
	h.GetMetrics(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("статус = %d", rec.Code)
	}
}
