package writer

import (
	"bytes"
	"sync"
	"testing"
	"time"
)

type fakeConn struct {
	mu      sync.Mutex
	written [][]byte
	delay   time.Duration
}

func (f *fakeConn) Write(data []byte, timeout time.Duration) error {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	cp := append([]byte{}, data...)
	f.mu.Lock()
	f.written = append(f.written, cp)
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) all() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	buf := &bytes.Buffer{}
	for _, w := range f.written {
		buf.Write(w)
	}
	return buf.Bytes()
}

func (f *fakeConn) chunkCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.written)
}

func TestWriteControlUsesType0OnChunkStream2(t *testing.T) {
	conn := &fakeConn{}
	w := New(conn, 4096, 5000000, time.Second, time.Second)

	if err := w.WriteControl(1, []byte{0, 0, 0x10, 0x00}); err != nil {
		t.Fatalf("WriteControl failed: %v", err)
	}

	got := conn.all()
	if got[0] != 0x02 { // fmt0<<6 | csID 2
		t.Errorf("expected basic header 0x02, got 0x%02x", got[0])
	}
	if got[7] != 1 {
		t.Errorf("expected message type id 1, got %d", got[7])
	}
}

func TestWriteMediaSingleChunkUsesType1(t *testing.T) {
	conn := &fakeConn{}
	w := New(conn, 4096, 5000000, time.Second, time.Second)

	payload := []byte{0x17, 0x01, 0x00, 0x00, 0x00}
	if err := w.WriteMedia(9, 9, 100, payload); err != nil {
		t.Fatalf("WriteMedia failed: %v", err)
	}

	if conn.chunkCount() != 1 {
		t.Fatalf("expected exactly 1 chunk, got %d", conn.chunkCount())
	}
	got := conn.all()
	wantBasic := byte(1)<<6 | byte(9)
	if got[0] != wantBasic {
		t.Errorf("expected basic header 0x%02x, got 0x%02x", wantBasic, got[0])
	}
	// delta bytes (first 3 bytes of type-1 header) must be zero for the
	// first message on this chunk-stream id.
	if got[1] != 0 || got[2] != 0 || got[3] != 0 {
		t.Errorf("expected zero delta on first message, got %v", got[1:4])
	}
}

func TestWriteMediaSplitsIntoType1PlusType3Continuations(t *testing.T) {
	conn := &fakeConn{}
	w := New(conn, 4096, 5000000, time.Second, time.Second)

	payload := make([]byte, 9009)
	for i := range payload {
		payload[i] = byte(i)
	}

	if err := w.WriteMedia(9, 9, 100, payload); err != nil {
		t.Fatalf("WriteMedia failed: %v", err)
	}

	if conn.chunkCount() != 3 {
		t.Fatalf("expected 3 chunks (S4 scenario), got %d", conn.chunkCount())
	}

	conn.mu.Lock()
	chunks := conn.written
	conn.mu.Unlock()

	if chunks[0][0] != byte(1)<<6|9 {
		t.Errorf("expected leading chunk basic header fmt1, got 0x%02x", chunks[0][0])
	}
	if len(chunks[0]) != 1+7+4096 {
		t.Errorf("expected leading chunk length %d, got %d", 1+7+4096, len(chunks[0]))
	}
	if chunks[1][0] != byte(3)<<6|9 {
		t.Errorf("expected continuation chunk basic header fmt3, got 0x%02x", chunks[1][0])
	}
	if len(chunks[1]) != 1+4096 {
		t.Errorf("expected continuation chunk length %d, got %d", 1+4096, len(chunks[1]))
	}
	if len(chunks[2]) != 1+(9009-2*4096) {
		t.Errorf("expected trailing continuation chunk length %d, got %d", 1+(9009-2*4096), len(chunks[2]))
	}
}

func TestWriteMediaHeaderUsesType0WithStreamID(t *testing.T) {
	conn := &fakeConn{}
	w := New(conn, 4096, 5000000, time.Second, time.Second)

	payload := []byte{0x17, 0x00, 0x00, 0x00, 0x00, 0x01, 0x42}
	if err := w.WriteMediaHeader(9, 9, 0, 7, payload); err != nil {
		t.Fatalf("WriteMediaHeader failed: %v", err)
	}

	if conn.chunkCount() != 1 {
		t.Fatalf("expected exactly 1 chunk, got %d", conn.chunkCount())
	}
	got := conn.all()
	wantBasic := byte(0)<<6 | byte(9)
	if got[0] != wantBasic {
		t.Errorf("expected basic header 0x%02x (fmt0, cs9), got 0x%02x", wantBasic, got[0])
	}
	if got[7] != 9 {
		t.Errorf("expected message type id 9, got %d", got[7])
	}
	streamID := uint32(got[8]) | uint32(got[9])<<8 | uint32(got[10])<<16 | uint32(got[11])<<24
	if streamID != 7 {
		t.Errorf("expected message-stream id 7 little-endian, got %d", streamID)
	}
}

func TestWriteMediaComputesDeltaFromPriorTimestamp(t *testing.T) {
	conn := &fakeConn{}
	w := New(conn, 4096, 5000000, time.Second, time.Second)

	if err := w.WriteMedia(9, 9, 100, []byte{1}); err != nil {
		t.Fatalf("first WriteMedia failed: %v", err)
	}
	if err := w.WriteMedia(9, 9, 140, []byte{2}); err != nil {
		t.Fatalf("second WriteMedia failed: %v", err)
	}

	conn.mu.Lock()
	second := conn.written[1]
	conn.mu.Unlock()

	delta := uint32(second[1])<<16 | uint32(second[2])<<8 | uint32(second[3])
	if delta != 40 {
		t.Errorf("expected delta 40, got %d", delta)
	}
}

func TestWriteMediaRejectsConcurrentSendWithBusy(t *testing.T) {
	conn := &fakeConn{delay: 100 * time.Millisecond}
	w := New(conn, 4096, 5000000, time.Second, time.Second)

	errCh := make(chan error, 1)
	go func() {
		errCh <- w.WriteMedia(9, 9, 0, make([]byte, 10))
	}()

	time.Sleep(10 * time.Millisecond)
	err := w.WriteMedia(8, 8, 0, make([]byte, 10))
	if err == nil {
		t.Fatal("expected a Busy error for a concurrent send")
	}

	if firstErr := <-errCh; firstErr != nil {
		t.Fatalf("first send should have succeeded, got %v", firstErr)
	}
}

func TestAckBackpressureBlocksUntilOnAck(t *testing.T) {
	conn := &fakeConn{}
	w := New(conn, 4096, 1000, time.Second, 2*time.Second)

	// Push bytes_sent_since_ack past the 1.2x threshold directly.
	if err := w.WriteMedia(8, 8, 0, make([]byte, 1300)); err != nil {
		t.Fatalf("priming send failed: %v", err)
	}
	if w.BytesSentSinceAck() < 1200 {
		t.Fatalf("expected bytes_sent_since_ack >= 1200, got %d", w.BytesSentSinceAck())
	}

	done := make(chan error, 1)
	go func() {
		done <- w.WriteMedia(8, 8, 0, []byte{1})
	}()

	select {
	case <-done:
		t.Fatal("expected WriteMedia to block on ack-wait backpressure")
	case <-time.After(100 * time.Millisecond):
	}

	w.OnAck()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected send to succeed after OnAck, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("send did not unblock after OnAck")
	}
}

func TestAckBackpressureTimesOut(t *testing.T) {
	conn := &fakeConn{}
	w := New(conn, 4096, 1000, time.Second, 50*time.Millisecond)

	if err := w.WriteMedia(8, 8, 0, make([]byte, 1300)); err != nil {
		t.Fatalf("priming send failed: %v", err)
	}

	err := w.WriteMedia(8, 8, 0, []byte{1})
	if err == nil {
		t.Fatal("expected an AckTimeout error")
	}
}
