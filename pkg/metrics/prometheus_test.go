package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestExporterFormatsCounterAndGauge(t *testing.T) {
	reg := NewRegistry()
	c := reg.Counter("bytes_sent_total", "total bytes written")
	c.Add(42)
	g := reg.Gauge("ack_window_out", "current outbound ack window")
	g.Set(2500000)

	exporter := NewExporter(reg)
	rec := httptest.NewRecorder()
	exporter.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	if !strings.Contains(body, "# HELP bytes_sent_total total bytes written\n") {
		t.Errorf("missing HELP line: %s", body)
	}
	if !strings.Contains(body, "# TYPE bytes_sent_total counter\n") {
		t.Errorf("missing TYPE line: %s", body)
	}
	if !strings.Contains(body, "bytes_sent_total 42\n") {
		t.Errorf("missing value line: %s", body)
	}
	if !strings.Contains(body, "# TYPE ack_window_out gauge\n") {
		t.Errorf("missing gauge TYPE line: %s", body)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("unexpected content-type: %s", ct)
	}
}

func TestRegistryCounterIsIdempotentByName(t *testing.T) {
	reg := NewRegistry()
	a := reg.Counter("x", "help a")
	b := reg.Counter("x", "help a")
	a.Inc()
	if b.Value() != 1 {
		t.Errorf("expected second Counter() call to return the same instance, got value %d", b.Value())
	}
}

func TestSnapshotIsSortedByName(t *testing.T) {
	reg := NewRegistry()
	reg.Counter("zeta", "")
	reg.Counter("alpha", "")
	snap := reg.Snapshot()
	if len(snap) != 2 || snap[0].Name != "alpha" || snap[1].Name != "zeta" {
		t.Errorf("expected sorted snapshot, got %+v", snap)
	}
}
