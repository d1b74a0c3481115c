package metrics

import (
	"net/http"

	"github.com/castflow/rtmpub/pkg/publisher"
)

// Collector mirrors one publisher.Controller's accounting counters into
// a Registry on demand. Unlike pkg/registry and pkg/monitor, it is pulled
// rather than pushed: Poll is called once per /metrics scrape.
type Collector struct {
	ctrl     *publisher.Controller
	registry *Registry

	bytesSentTotal    *Counter
	bytesReadTotal    *Counter
	acksReceivedTotal *Counter
	ackWaitBlocks     *Counter
	reconnectTotal    *Counter
}

// NewCollector registers the publisher's metric names on registry and
// returns a Collector that keeps them current.
func NewCollector(ctrl *publisher.Controller, registry *Registry) *Collector {
	return &Collector{
		ctrl:              ctrl,
		registry:          registry,
		bytesSentTotal:    registry.Counter("bytes_sent_total", "total bytes written to the RTMP transport"),
		bytesReadTotal:    registry.Counter("bytes_read_total", "total bytes read from the RTMP transport"),
		acksReceivedTotal: registry.Counter("acks_received_total", "total ACK messages processed"),
		ackWaitBlocks:     registry.Counter("ack_wait_blocks_total", "total sends that blocked on ACK-wait backpressure"),
		reconnectTotal:    registry.Counter("reconnect_total", "total times Start has been called again after an earlier session"),
	}
}

// Poll refreshes every registered metric from the controller's current
// state. Safe to call before Start (accounting fields read as zero).
func (c *Collector) Poll() {
	if w := c.ctrl.Accounting(); w != nil {
		c.bytesSentTotal.SetAbsolute(w.BytesSentTotal())
		c.acksReceivedTotal.SetAbsolute(w.AcksReceivedTotal())
		c.ackWaitBlocks.SetAbsolute(w.AckWaitBlocksTotal())
	}
	c.bytesReadTotal.SetAbsolute(uint64(c.ctrl.BytesReadTotal()))
	c.reconnectTotal.SetAbsolute(c.ctrl.ReconnectTotal())
}

// Handler returns an http.Handler that polls the controller's current
// state and serves it in Prometheus text format on each request.
func (c *Collector) Handler() http.Handler {
	exporter := NewExporter(c.registry)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.Poll()
		exporter.ServeHTTP(w, r)
	})
}
