package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics(t *testing.T) {
	m, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	m.ObserveTick(0.02)
	m.ObserveTick(0.03)
	m.DropTick()
	m.Reject("face too small or too far")
	m.Reject("face too small or too far")
	m.ObserveWrite(OutcomeRecorded, 0.01)
	m.ObserveWrite(OutcomeError, 0.5)
	m.SetGallerySize(12)
	m.SetDegraded(true)

	if got := testutil.ToFloat64(m.Ticks); got != 2 {
		t.Errorf("ticks = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.DroppedTicks); got != 1 {
		t.Errorf("dropped = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Rejections.WithLabelValues("face too small or too far")); got != 2 {
		t.Errorf("rejections = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.StoreErrors); got != 1 {
		t.Errorf("store errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.GallerySize); got != 12 {
		t.Errorf("gallery size = %v, want 12", got)
	}
	if got := testutil.ToFloat64(m.Degraded); got != 1 {
		t.Errorf("degraded = %v, want 1", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{"face_attendance_ticks_total 2", "face_attendance_gallery_identities 12", "go_goroutines"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.ObserveTick(1)
	m.DropTick()
	m.TickError("capture")
	m.Reject("x")
	m.Identified()
	m.Unknown()
	m.Confirmed()
	m.ObserveWrite(OutcomeRecorded, 1)
	m.SetGallerySize(1)
	m.SetRunning(true)
	m.SetDegraded(true)
	if m.Registry() != nil {
		t.Error("nil metrics should have no registry")
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("nil handler status = %d, want 404", rec.Code)
	}
}
