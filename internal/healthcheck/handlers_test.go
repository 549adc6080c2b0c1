package healthcheck

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func serve(t *testing.T, handler http.HandlerFunc, path string) (*httptest.ResponseRecorder, Snapshot) {
	t.Helper()
	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var payload Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return rec, payload
}

func TestHealthHandlerHealthy(t *testing.T) {
	tracker := NewTracker()
	tracker.RecordCycle(150*time.Millisecond, 4, 1)

	rec, payload := serve(t, HealthHandler(tracker, 5*time.Second), "/healthz")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if payload.LastCycleTime == nil {
		t.Fatalf("expected last cycle time to be set")
	}
	if payload.ServicesEvaluated != 4 {
		t.Fatalf("expected services evaluated 4, got %d", payload.ServicesEvaluated)
	}
	if payload.ServicesDown != 1 {
		t.Fatalf("expected services down 1, got %d", payload.ServicesDown)
	}
	if payload.CycleDurationMS != 150 {
		t.Fatalf("expected duration 150ms, got %d", payload.CycleDurationMS)
	}
	if !payload.MonitorEnabled {
		t.Fatalf("expected monitor enabled")
	}
}

func TestHealthHandlerUnhealthyWhenStale(t *testing.T) {
	tracker := NewTracker()
	tracker.now = func() time.Time { return time.Now().Add(-10 * time.Second) }
	tracker.RecordCycle(10*time.Millisecond, 4, 0)

	rec, _ := serve(t, HealthHandler(tracker, 3*time.Second), "/healthz")

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestHealthHandlerBeforeFirstCycle(t *testing.T) {
	rec, payload := serve(t, HealthHandler(NewTracker(), time.Minute), "/healthz")

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if payload.LastCycleTime != nil {
		t.Fatalf("expected no last cycle time")
	}
}

func TestAPIOnlyTrackerIsHealthyAndReady(t *testing.T) {
	tracker := NewAPIOnlyTracker()

	rec, payload := serve(t, HealthHandler(tracker, 0), "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if payload.MonitorEnabled {
		t.Fatalf("expected monitor disabled")
	}

	rec, _ = serve(t, ReadyHandler(tracker), "/readyz")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestReadyHandler(t *testing.T) {
	tracker := NewTracker()
	handler := ReadyHandler(tracker)

	rec, _ := serve(t, handler, "/readyz")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before ready, got %d", rec.Code)
	}

	tracker.RecordCycle(5*time.Millisecond, 4, 0)

	rec, _ = serve(t, handler, "/readyz")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 after ready, got %d", rec.Code)
	}
}

func TestNilTracker(t *testing.T) {
	var tracker *Tracker
	tracker.RecordCycle(time.Second, 1, 1)

	rec, _ := serve(t, HealthHandler(tracker, time.Minute), "/healthz")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
