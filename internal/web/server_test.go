package web

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database/mock"
	"github.com/kozaktomas/face-attendance/internal/detection"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/metrics"
	"github.com/kozaktomas/face-attendance/internal/settings"
)

type notReadyEngine struct{}

func (notReadyEngine) Ready(context.Context) error { return errors.New("models not loaded") }
func (notReadyEngine) Detect(context.Context, []byte, float64) (*facematch.Detection, error) {
	return nil, nil
}

func testServer(t *testing.T) *Server {
	t.Helper()
	m, err := metrics.New()
	if err != nil {
		t.Fatalf("metrics.New() error = %v", err)
	}
	store := mock.NewMockStore()
	tunables := settings.NewStaticStore(settings.Defaults())

	return NewServer(
		config.WebConfig{Host: "127.0.0.1", Port: 0, AllowedOrigins: []string{"https://kiosk.example.com"}},
		Deps{
			Sessions:   detection.NewManager(detection.Config{Engine: notReadyEngine{}, Metrics: m}),
			Settings:   tunables,
			Attendance: attendance.NewRecorder(store, time.UTC, tunables),
			Store:      store,
			Metrics:    m,
		},
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
}

func TestRoutes(t *testing.T) {
	srv := testServer(t)

	tests := []struct {
		method     string
		path       string
		wantStatus int
	}{
		{"GET", "/api/v1/health", http.StatusOK},
		{"GET", "/metrics", http.StatusOK},
		{"GET", "/api/v1/settings", http.StatusOK},
		{"GET", "/api/v1/settings/info", http.StatusOK},
		{"POST", "/api/v1/settings/reset", http.StatusOK},
		{"GET", "/api/v1/session", http.StatusOK},
		{"GET", "/api/v1/session/log", http.StatusOK},
		{"GET", "/api/v1/session/events", http.StatusNotFound},
		{"POST", "/api/v1/session/stop", http.StatusConflict},
		{"POST", "/api/v1/session/start", http.StatusServiceUnavailable},
		{"GET", "/api/v1/attendance/today", http.StatusOK},
		{"GET", "/api/v1/unknown", http.StatusNotFound},
	}

	for _, tc := range tests {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			srv.Router().ServeHTTP(recorder, httptest.NewRequest(tc.method, tc.path, nil))

			if recorder.Code != tc.wantStatus {
				t.Errorf("expected status %d, got %d: %s", tc.wantStatus, recorder.Code, recorder.Body.String())
			}
		})
	}
}

func TestMetricsExposed(t *testing.T) {
	srv := testServer(t)
	recorder := httptest.NewRecorder()
	srv.Router().ServeHTTP(recorder, httptest.NewRequest("GET", "/metrics", nil))

	if !strings.Contains(recorder.Body.String(), "face_attendance_ticks_total") {
		t.Error("expected detection metrics in exposition")
	}
}

func TestPreflight(t *testing.T) {
	srv := testServer(t)
	req := httptest.NewRequest("OPTIONS", "/api/v1/settings", nil)
	req.Header.Set("Origin", "https://kiosk.example.com")
	req.Header.Set("Access-Control-Request-Method", "PUT")
	recorder := httptest.NewRecorder()
	srv.Router().ServeHTTP(recorder, req)

	if got := recorder.Header().Get("Access-Control-Allow-Origin"); got != "https://kiosk.example.com" {
		t.Errorf("expected allowed origin, got '%s'", got)
	}
}
