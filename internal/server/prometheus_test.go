package server

import (
	"math"
	"net/http"
	"strings"
	"testing"
	"time"

	"user-records/internal/store"
)

func TestWriteText(t *testing.T) {
	m := NewMetrics()
	m.registerServerGauges(`v1"beta`, func() CircuitState { return StateOpen }, time.Now().Add(-90*time.Second))
	for i := 0; i < 4; i++ {
		m.ConnectionOpened()
	}
	m.RecordRequest(http.StatusOK, 2*time.Millisecond)
	m.RecordRequest(http.StatusNotFound, 3*time.Millisecond)
	m.RecordRequest(http.StatusOK, 2*time.Second)
	m.RecordUserChange("create")

	var out strings.Builder
	if err := m.WriteText(&out); err != nil {
		t.Fatalf("write: %v", err)
	}
	text := out.String()

	for _, want := range []string{
		`user_records_info{version="v1\"beta"} 1`,
		"# TYPE user_records_connections_total counter",
		"user_records_connections_total 4",
		"user_records_request_errors_4xx_total 1",
		"# TYPE user_records_request_duration_seconds histogram",
		`user_records_request_duration_seconds_bucket{le="0.005"} 2`,
		`user_records_request_duration_seconds_bucket{le="2.5"} 3`,
		"user_records_request_duration_seconds_count 3",
		`user_records_user_changes_total{op="create"} 1`,
		`user_records_user_changes_total{op="delete"} 0`,
		"user_records_store_errors_total 0",
		`user_records_circuit_state{state="closed"} 0`,
		`user_records_circuit_state{state="open"} 1`,
		`user_records_circuit_state{state="half-open"} 0`,
		"# TYPE user_records_uptime_seconds gauge",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q", want)
		}
	}
	if strings.Contains(text, "avg_duration") {
		t.Error("output still carries a mean-only duration gauge")
	}
}

func TestHandleMetrics(t *testing.T) {
	s := New(Config{Store: store.NewMemory(), Version: "test"})
	do(s, post("/users", `{"name":"Ada","email":"ada@example.org"}`))
	s.metrics.RecordRequest(http.StatusOK, 3*time.Millisecond)

	resp := do(s, get("/metrics"))
	if resp.Status != http.StatusOK {
		t.Fatalf("status = %d", resp.Status)
	}
	if resp.ContentType != prometheusContentType {
		t.Errorf("content type = %q", resp.ContentType)
	}
	for _, want := range []string{
		`user_records_info{version="test"} 1`,
		`user_records_user_changes_total{op="create"} 1`,
		"user_records_requests_total 1",
		"user_records_request_duration_seconds_count 1",
		`user_records_circuit_state{state="closed"} 1`,
	} {
		if !strings.Contains(resp.Body, want) {
			t.Errorf("body missing %q", want)
		}
	}
}

func TestMetricsSnapshot(t *testing.T) {
	m := NewMetrics()
	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()
	m.RecordConnectionError()
	m.RecordRateLimited()
	m.RecordUserChange("create")
	m.RecordUserChange("unknown")
	m.RecordStoreError()
	m.RecordRequest(http.StatusOK, 10*time.Millisecond)
	m.RecordRequest(http.StatusNotFound, 20*time.Millisecond)
	m.RecordRequest(http.StatusServiceUnavailable, 30*time.Millisecond)

	snap := m.Snapshot()
	if snap.ConnectionsTotal != 2 || snap.ConnectionsActive != 1 {
		t.Errorf("connections = %d total, %d active", snap.ConnectionsTotal, snap.ConnectionsActive)
	}
	if snap.ConnectionErrors != 1 || snap.RateLimitedRequests != 1 || snap.StoreErrorsTotal != 1 {
		t.Errorf("unexpected error counters %+v", snap)
	}
	if snap.UsersCreatedTotal != 1 || snap.UsersUpdatedTotal != 0 {
		t.Errorf("unexpected user counters %+v", snap)
	}
	if snap.RequestsTotal != 3 || snap.RequestErrors4xx != 1 || snap.RequestErrors5xx != 1 {
		t.Errorf("unexpected request counters %+v", snap)
	}
	if math.Abs(snap.RequestAvgDurationMs-20) > 1e-6 {
		t.Errorf("avg duration = %v, want 20", snap.RequestAvgDurationMs)
	}
}
