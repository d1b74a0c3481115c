// Package transport wraps a TCP socket with a dedicated writer goroutine so
// callers can impose a wall-clock deadline on a write without racing the
// connection's own SetWriteDeadline state (spec.md §4.E).
package transport

import (
	"context"
	"io"
	"net"
	"time"

	rtmperrors "github.com/castflow/rtmpub/pkg/errors"
	"github.com/castflow/rtmpub/pkg/logger"
)

// defaultWriteTimeout is used when the caller configures a zero write
// timeout (spec.md §4.D: "if write_timeout is zero the framer uses a
// 60-second safety cap").
const defaultWriteTimeout = 60 * time.Second

type writeRequest struct {
	data   []byte
	result chan error
}

// Transport is a timeout-aware wrapper over a net.Conn.
type Transport struct {
	conn   net.Conn
	log    logger.Logger
	writes chan writeRequest
	done   chan struct{}
}

// Connect dials addr with a connect timeout and starts the transport's
// writer goroutine.
func Connect(ctx context.Context, addr string, connectTimeout time.Duration, log logger.Logger) (*Transport, error) {
	dialer := net.Dialer{Timeout: connectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, rtmperrors.Wrap(rtmperrors.ErrCodeConnectionFailed, "failed to connect to rtmp target", err)
	}
	return newTransport(conn, log), nil
}

func newTransport(conn net.Conn, log logger.Logger) *Transport {
	t := &Transport{
		conn:   conn,
		log:    log,
		writes: make(chan writeRequest),
		done:   make(chan struct{}),
	}
	go t.writerLoop()
	return t
}

func (t *Transport) writerLoop() {
	for {
		select {
		case req, ok := <-t.writes:
			if !ok {
				return
			}
			_, err := t.conn.Write(req.data)
			req.result <- err
		case <-t.done:
			return
		}
	}
}

// Write hands data to the dedicated writer goroutine and blocks until it
// has been fully handed to the OS or timeout elapses, whichever is first.
// The timeout is applied as the connection's write deadline; when it
// passes, the writer goroutine's write fails and Write returns a
// WriteTimeout error. If Close runs first, Write returns a Disconnected
// error.
func (t *Transport) Write(data []byte, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}
	if err := t.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return rtmperrors.Wrap(rtmperrors.ErrCodeNetworkError, "failed to set write deadline", err)
	}

	req := writeRequest{data: data, result: make(chan error, 1)}
	select {
	case t.writes <- req:
	case <-t.done:
		return rtmperrors.New(rtmperrors.ErrCodeDisconnected, "transport closed")
	}

	select {
	case err := <-req.result:
		if err != nil {
			if isTimeout(err) {
				return rtmperrors.Wrap(rtmperrors.ErrCodeWriteTimeout, "write deadline exceeded", err)
			}
			return rtmperrors.Wrap(rtmperrors.ErrCodeNetworkError, "write failed", err)
		}
		return nil
	case <-t.done:
		return rtmperrors.New(rtmperrors.ErrCodeDisconnected, "transport closed")
	}
}

// ReadBlocking blocks until buf is filled from the underlying connection.
// Higher layers that need a deadline apply it themselves. The handshake
// driver and the deframer do not use it; they read through Conn and
// Reader instead.
func (t *Transport) ReadBlocking(buf []byte) (int, error) {
	n, err := io.ReadFull(t.conn, buf)
	if err != nil {
		return n, rtmperrors.Wrap(rtmperrors.ErrCodeNetworkError, "read failed", err)
	}
	return n, nil
}

// Reader exposes the underlying connection as a plain io.Reader, for
// components (the deframer) that manage their own buffering.
func (t *Transport) Reader() io.Reader {
	return t.conn
}

// Conn exposes the underlying net.Conn directly, for the handshake driver
// which needs both read and write ends without deadline plumbing.
func (t *Transport) Conn() net.Conn {
	return t.conn
}

// Close cancels any blocked writer and closes the socket. Safe to call more
// than once.
func (t *Transport) Close() error {
	select {
	case <-t.done:
		return nil
	default:
		close(t.done)
	}
	return t.conn.Close()
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
