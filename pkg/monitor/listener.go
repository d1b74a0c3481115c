package monitor

import (
	"time"

	"github.com/castflow/rtmpub/pkg/publisher"
)

// StatusListener wraps an application publisher.Listener, broadcasting
// every lifecycle callback to a Hub before forwarding it unchanged. It
// reads accounting counters from ctrl at broadcast time, so it can be
// registered on a Controller before Start is called.
type StatusListener struct {
	hub   *Hub
	ctrl  *publisher.Controller
	inner publisher.Listener
}

// NewStatusListener builds a listener that broadcasts lifecycle events
// on hub, reading accounting fields from ctrl, and forwards every
// callback to inner.
func NewStatusListener(hub *Hub, ctrl *publisher.Controller, inner publisher.Listener) *StatusListener {
	return &StatusListener{hub: hub, ctrl: ctrl, inner: inner}
}

func (s *StatusListener) snapshot(event, state string) Status {
	status := Status{
		Timestamp: time.Now(),
		Event:     event,
		State:     state,
	}
	if w := s.ctrl.Accounting(); w != nil {
		status.BytesSentTotal = w.BytesSentTotal()
		status.BytesSentSinceAck = w.BytesSentSinceAck()
		status.AckWindowOut = w.AckWindowOut()
	}
	return status
}

func (s *StatusListener) OnConnected() {
	s.hub.Broadcast(s.snapshot(EventState, "connected"))
	s.inner.OnConnected()
}

func (s *StatusListener) OnReadyToPublish() {
	s.hub.Broadcast(s.snapshot(EventState, "streaming"))
	s.inner.OnReadyToPublish()
}

func (s *StatusListener) OnConnectionError(err error) {
	status := s.snapshot(EventError, "stopped")
	status.Error = err.Error()
	s.hub.Broadcast(status)
	s.inner.OnConnectionError(err)
}
