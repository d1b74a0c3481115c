package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/castflow/rtmpub/pkg/config"
	"github.com/castflow/rtmpub/pkg/logger"
	"github.com/castflow/rtmpub/pkg/publisher"
)

func TestCollectorPollsZeroValuesBeforeStart(t *testing.T) {
	ctrl := publisher.New(config.DefaultConfig(), logger.NewDefaultLogger(logger.ErrorLevel, "text"))
	reg := NewRegistry()
	collector := NewCollector(ctrl, reg)

	collector.Poll()

	for _, m := range reg.Snapshot() {
		if m.Value != 0 {
			t.Errorf("expected metric %s to be 0 before Start, got %d", m.Name, m.Value)
		}
	}
}

func TestCollectorHandlerServesCurrentSnapshot(t *testing.T) {
	ctrl := publisher.New(config.DefaultConfig(), logger.NewDefaultLogger(logger.ErrorLevel, "text"))
	reg := NewRegistry()
	collector := NewCollector(ctrl, reg)

	rec := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	if !strings.Contains(body, "bytes_sent_total 0") {
		t.Errorf("expected bytes_sent_total to appear, got %s", body)
	}
	if !strings.Contains(body, "reconnect_total 0") {
		t.Errorf("expected reconnect_total to appear, got %s", body)
	}
}
