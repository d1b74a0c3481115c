package registry

import (
	"context"

	"github.com/castflow/rtmpub/pkg/logger"
	"github.com/castflow/rtmpub/pkg/publisher"
)

// MirrorListener wraps an application publisher.Listener and mirrors every
// lifecycle callback into the registry under ctrl's session id, before
// forwarding to the wrapped listener unchanged. It reads the session id
// from ctrl at callback time (Start stamps a fresh one on every call),
// so it can be registered on a Controller before Start is called.
type MirrorListener struct {
	registry *Registry
	ctrl     *publisher.Controller
	inner    publisher.Listener
	log      logger.Logger
}

// NewMirrorListener builds a listener that mirrors ctrl's session
// lifecycle events into reg and forwards them to inner.
func NewMirrorListener(reg *Registry, ctrl *publisher.Controller, inner publisher.Listener, log logger.Logger) *MirrorListener {
	return &MirrorListener{registry: reg, ctrl: ctrl, inner: inner, log: log}
}

func (m *MirrorListener) OnConnected() {
	sessionID := m.ctrl.SessionID()
	if err := m.registry.UpdateState(context.Background(), sessionID, "connected"); err != nil && m.log != nil {
		m.log.Warn("failed to mirror connected state", logger.String("session", sessionID), logger.Err(err))
	}
	m.inner.OnConnected()
}

func (m *MirrorListener) OnReadyToPublish() {
	sessionID := m.ctrl.SessionID()
	ctx := context.Background()
	if err := m.registry.UpdateState(ctx, sessionID, "streaming"); err != nil && m.log != nil {
		m.log.Warn("failed to mirror streaming state", logger.String("session", sessionID), logger.Err(err))
	}

	var bytesSentTotal uint64
	if w := m.ctrl.Accounting(); w != nil {
		bytesSentTotal = w.BytesSentTotal()
	}
	if err := m.registry.UpdateStream(ctx, sessionID, m.ctrl.App(), m.ctrl.StreamID(), m.ctrl.Playpath(),
		bytesSentTotal, m.ctrl.BytesReadTotal()); err != nil && m.log != nil {
		m.log.Warn("failed to mirror stream info", logger.String("session", sessionID), logger.Err(err))
	}

	m.inner.OnReadyToPublish()
}

func (m *MirrorListener) OnConnectionError(err error) {
	sessionID := m.ctrl.SessionID()
	ctx := context.Background()
	if updateErr := m.registry.UpdateState(ctx, sessionID, "stopped"); updateErr != nil && m.log != nil {
		m.log.Warn("failed to mirror stopped state", logger.String("session", sessionID), logger.Err(updateErr))
	}
	if recErr := m.registry.RecordError(ctx, sessionID, err); recErr != nil && m.log != nil {
		m.log.Warn("failed to record session error", logger.String("session", sessionID), logger.Err(recErr))
	}
	m.inner.OnConnectionError(err)
}
