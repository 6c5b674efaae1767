package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dokzlo13/pixied/internal/config"
)

type fakeReporter struct {
	ready       bool
	last        time.Time
	connections int64
}

func (f *fakeReporter) Ready() bool            { return f.ready }
func (f *fakeReporter) LastRefresh() time.Time { return f.last }
func (f *fakeReporter) LiveConnections() int64 { return f.connections }

func TestHealthService_Router(t *testing.T) {
	refreshed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name       string
		path       string
		reporter   ReadinessReporter
		wantStatus int
		wantBody   map[string]any
	}{
		{"health always ok", "/health", nil, http.StatusOK, map[string]any{"status": "healthy"}},
		{"ready without reporter", "/ready", nil, http.StatusServiceUnavailable, map[string]any{"status": "not_ready"}},
		{"not ready", "/ready", &fakeReporter{}, http.StatusServiceUnavailable, map[string]any{"status": "not_ready"}},
		{
			"ready before refresh", "/ready", &fakeReporter{ready: true, connections: 1}, http.StatusOK,
			map[string]any{"status": "ready", "live_connections": float64(1)},
		},
		{
			"ready with refresh", "/ready", &fakeReporter{ready: true, last: refreshed, connections: 3}, http.StatusOK,
			map[string]any{"status": "ready", "last_refresh": "2026-01-02T03:04:05Z", "live_connections": float64(3)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewHealthService(&config.Config{})
			s.reporter = tt.reporter

			rec := httptest.NewRecorder()
			s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}

			var body map[string]any
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if len(body) != len(tt.wantBody) {
				t.Fatalf("body = %v, want %v", body, tt.wantBody)
			}
			for k, v := range tt.wantBody {
				if body[k] != v {
					t.Errorf("body[%q] = %v, want %v", k, body[k], v)
				}
			}
		})
	}
}

func TestHealthService_UnknownRoute(t *testing.T) {
	s := NewHealthService(&config.Config{})

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
