package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.ObserveRequest("await", "ok", time.Millisecond)
	m.FrameReceived("matched")
	m.Reconnected()
	m.SetConnected(true)
	m.SetPending(3)
	m.Poll("ok")
	m.SetDevices(map[string]int{"light": 1})
}

func TestMetricsRecorded(t *testing.T) {
	reg := NewRegistry()
	m := New(reg)

	m.ObserveRequest("await", "ok", 20*time.Millisecond)
	m.ObserveRequest("await", "timeout", 0)
	m.FrameReceived("unmatched")
	m.Reconnected()
	m.Reconnected()
	m.SetConnected(true)
	m.SetDevices(map[string]int{"light": 4, "cover": 2})

	if got := testutil.ToFloat64(m.Requests.WithLabelValues("await", "timeout")); got != 1 {
		t.Errorf("timeouts = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Reconnects); got != 2 {
		t.Errorf("reconnects = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ConnectionUp); got != 1 {
		t.Errorf("connection_up = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Devices.WithLabelValues("cover")); got != 2 {
		t.Errorf("covers = %v, want 2", got)
	}

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "domestia_reconnects_total 2") {
		t.Error("metrics output missing domestia_reconnects_total")
	}
}
