package metrics

import (
	"fmt"
	"net/http"
	"strings"
)

// Exporter serves a Registry's metrics in Prometheus text exposition
// format (spec.md §6.8), following the teacher's own hand-rolled
// formatPrometheusMetrics shape: one HELP line, one TYPE line, and one
// value line per metric, grouped and sorted by name.
type Exporter struct {
	registry *Registry
}

// NewExporter builds an Exporter over registry.
func NewExporter(registry *Registry) *Exporter {
	return &Exporter{registry: registry}
}

// ServeHTTP writes the current snapshot in Prometheus text format.
func (e *Exporter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(e.format()))
}

// Handler returns an http.Handler serving the exporter.
func (e *Exporter) Handler() http.Handler {
	return http.HandlerFunc(e.ServeHTTP)
}

func (e *Exporter) format() string {
	var sb strings.Builder
	for _, m := range e.registry.Snapshot() {
		if m.Help != "" {
			sb.WriteString(fmt.Sprintf("# HELP %s %s\n", m.Name, m.Help))
		}
		sb.WriteString(fmt.Sprintf("# TYPE %s %s\n", m.Name, m.Type))
		sb.WriteString(fmt.Sprintf("%s %d\n", m.Name, m.Value))
	}
	return sb.String()
}
