package transport

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/castflow/rtmpub/pkg/logger"
)

func pipeTransport(t *testing.T) (*Transport, net.Conn) {
	t.Helper()
	clientConn, peerConn := net.Pipe()
	tr := newTransport(clientConn, logger.NewDefaultLogger(logger.ErrorLevel, "text"))
	t.Cleanup(func() { tr.Close() })
	return tr, peerConn
}

func TestWriteDeliversBytesToPeer(t *testing.T) {
	tr, peer := pipeTransport(t)
	defer peer.Close()

	writeErr := make(chan error, 1)
	go func() {
		writeErr <- tr.Write([]byte("hello"), time.Second)
	}()

	buf := make([]byte, 5)
	if _, err := io.ReadFull(peer, buf); err != nil {
		t.Fatalf("peer read failed: %v", err)
	}
	if string(buf) != "hello" {
		t.Errorf("expected %q, got %q", "hello", buf)
	}
	if err := <-writeErr; err != nil {
		t.Errorf("Write failed: %v", err)
	}
}

func TestWriteTimesOutWhenPeerNeverReads(t *testing.T) {
	tr, peer := pipeTransport(t)
	defer peer.Close()

	err := tr.Write([]byte("hello"), 50*time.Millisecond)
	if err == nil {
		t.Fatal("expected a write timeout error")
	}
}

func TestCloseUnblocksPendingWrite(t *testing.T) {
	tr, peer := pipeTransport(t)
	defer peer.Close()

	done := make(chan error, 1)
	go func() {
		done <- tr.Write([]byte("hello"), 5*time.Second)
	}()

	time.Sleep(20 * time.Millisecond)
	tr.Close()

	select {
	case err := <-done:
		if err == nil {
			t.Error("expected an error after Close")
		}
	case <-time.After(time.Second):
		t.Fatal("Write did not unblock after Close")
	}
}

func TestConnectFailsFastOnRefusedConnection(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to open listener: %v", err)
	}
	addr := l.Addr().String()
	l.Close() // nothing listening now

	_, err = Connect(context.Background(), addr, 200*time.Millisecond, logger.NewDefaultLogger(logger.ErrorLevel, "text"))
	if err == nil {
		t.Fatal("expected a connection error")
	}
}
