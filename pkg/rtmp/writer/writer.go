// Package writer implements the RTMP framer: it serializes one message at a
// time into chunks, applies ACK-wait backpressure ahead of non-control
// sends, and enforces the single-writer discipline (spec.md §4.D).
package writer

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/castflow/rtmpub/pkg/rtmp/bufpool"
	"github.com/castflow/rtmpub/pkg/rtmp/chunk"

	rtmperrors "github.com/castflow/rtmpub/pkg/errors"
)

// ControlChunkStreamID is the single chunk-stream ID this publisher uses
// for both protocol-control messages and AMF0 commands (spec.md: "uses a
// type-0 header with chunk-stream ID 2" for both).
const ControlChunkStreamID uint32 = 2

// writeCloser is the subset of transport.Transport the writer needs; kept
// as an interface so tests can substitute an in-memory sink.
type writeCloser interface {
	Write(data []byte, timeout time.Duration) error
}

// Writer serializes outbound RTMP messages into chunks over a transport.
type Writer struct {
	conn writeCloser

	writeTimeout   time.Duration
	ackWaitTimeout time.Duration

	mu           sync.Mutex
	chunkSizeOut uint32
	lastTs       map[uint32]uint32
	pool         *bufpool.Pool

	ackMu             sync.Mutex
	ackWindowOut      uint32
	bytesSentSinceAck uint64
	ackSignal         chan struct{}

	bytesSentTotal    atomic.Uint64
	acksReceivedTotal atomic.Uint64
	ackWaitBlocks     atomic.Uint64

	busy atomic.Bool
}

// New builds a Writer. chunkSizeOut and ackWindowOut seed the outbound
// chunking and flow-control defaults (spec.md §6.4); SetChunkSize and
// SetAckWindowOut update them as the session negotiates changes.
func New(conn writeCloser, chunkSizeOut, ackWindowOut uint32, writeTimeout, ackWaitTimeout time.Duration) *Writer {
	return &Writer{
		conn:           conn,
		writeTimeout:   writeTimeout,
		ackWaitTimeout: ackWaitTimeout,
		chunkSizeOut:   chunkSizeOut,
		lastTs:         make(map[uint32]uint32),
		pool:           bufpool.New(chunkSizeOut),
		ackWindowOut:   ackWindowOut,
		ackSignal:      make(chan struct{}),
	}
}

// SetChunkSize updates the outbound chunk size used to split future
// messages, and resizes the scratch-buffer pool to match (spec.md §9
// Q6: resize on change rather than first-setter-wins).
func (w *Writer) SetChunkSize(size uint32) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.chunkSizeOut = size
	w.pool.Resize(size)
}

// BufPoolStats reports the writer's scratch-buffer pool usage, for
// pkg/metrics.
func (w *Writer) BufPoolStats() bufpool.Stats {
	return w.pool.Stats()
}

// SetAckWindowOut updates the self-imposed outbound ACK window.
func (w *Writer) SetAckWindowOut(size uint32) {
	w.ackMu.Lock()
	defer w.ackMu.Unlock()
	w.ackWindowOut = size
}

// OnAck resets the bytes-sent-since-ack counter and wakes any send blocked
// on ACK-wait backpressure.
func (w *Writer) OnAck() {
	w.ackMu.Lock()
	w.bytesSentSinceAck = 0
	close(w.ackSignal)
	w.ackSignal = make(chan struct{})
	w.ackMu.Unlock()
	w.acksReceivedTotal.Add(1)
}

// AcksReceivedTotal reports the lifetime count of ACK messages
// processed, for pkg/metrics.
func (w *Writer) AcksReceivedTotal() uint64 {
	return w.acksReceivedTotal.Load()
}

// AckWaitBlocksTotal reports the lifetime count of sends that had to
// block on ACK-wait backpressure, for pkg/metrics.
func (w *Writer) AckWaitBlocksTotal() uint64 {
	return w.ackWaitBlocks.Load()
}

// BytesSentSinceAck reports the current backpressure counter (test/metrics
// observability).
func (w *Writer) BytesSentSinceAck() uint64 {
	w.ackMu.Lock()
	defer w.ackMu.Unlock()
	return w.bytesSentSinceAck
}

// BytesSentTotal reports the lifetime count of bytes written to the
// transport, for pkg/monitor and pkg/metrics.
func (w *Writer) BytesSentTotal() uint64 {
	return w.bytesSentTotal.Load()
}

// AckWindowOut reports the current self-imposed outbound ACK window.
func (w *Writer) AckWindowOut() uint32 {
	w.ackMu.Lock()
	defer w.ackMu.Unlock()
	return w.ackWindowOut
}

// WriteControl sends a protocol-control or AMF0-command message: a single
// type-0 chunk on ControlChunkStreamID, message-stream ID 0, timestamp 0.
// Control messages are never subject to ACK-wait backpressure.
func (w *Writer) WriteControl(typeID uint8, payload []byte) error {
	return w.WriteControlOnStream(typeID, payload, 0)
}

// WriteControlOnStream is WriteControl with an explicit message-stream ID,
// for AMF0 commands the protocol addresses to the assigned stream (e.g.
// `publish`, which is sent on message-stream `stream_id` rather than 0).
func (w *Writer) WriteControlOnStream(typeID uint8, payload []byte, streamID uint32) error {
	if !w.acquire() {
		return rtmperrors.New(rtmperrors.ErrCodeBusy, "a send is already in progress")
	}
	defer w.release()

	buf := make([]byte, 0, 1+11+len(payload))
	buf = appendBasicHeader(buf, chunk.Format0, ControlChunkStreamID)
	buf = appendType0(buf, 0, uint32(len(payload)), typeID, streamID)
	buf = append(buf, payload...)

	if err := w.conn.Write(buf, w.writeTimeout); err != nil {
		return err
	}
	w.addBytesSent(uint64(len(buf)))
	return nil
}

// WriteMedia sends a media message (audio, video, or metadata) on csID.
// The leading chunk carries a type-1 header with the timestamp delta since
// the last message on csID; a type-1 header carries no message-stream ID,
// so the message inherits the one last set by a type-0 header on csID;
// continuation chunks carry type-3 headers. ACK-wait backpressure is
// checked once before the leading chunk; continuations bypass it so a
// single logical frame is never split across a backpressure stall.
func (w *Writer) WriteMedia(csID uint32, typeID uint8, timestamp uint32, payload []byte) error {
	w.mu.Lock()
	prev, seen := w.lastTs[csID]
	delta := uint32(0)
	if seen {
		delta = timestamp - prev
	}
	w.lastTs[csID] = timestamp
	w.mu.Unlock()

	return w.writeMediaChunks(csID, payload, func(buf []byte) []byte {
		buf = appendBasicHeader(buf, chunk.Format1, csID)
		return appendType1(buf, delta, uint32(len(payload)), typeID)
	})
}

// WriteMediaHeader sends a media message's leading chunk as a type-0
// header carrying streamID explicitly, instead of WriteMedia's type-1
// delta header (spec.md §4.G postVideo, §6.2): the AVC sequence header
// must establish stream_id on chunk-stream 9 before the following
// type-1 frames can rely on a per-chunk-stream state already existing.
// Continuation chunks, if the payload crosses the chunk size, still
// carry type-3 headers like WriteMedia.
func (w *Writer) WriteMediaHeader(csID uint32, typeID uint8, timestamp, streamID uint32, payload []byte) error {
	w.mu.Lock()
	w.lastTs[csID] = timestamp
	w.mu.Unlock()

	return w.writeMediaChunks(csID, payload, func(buf []byte) []byte {
		buf = appendBasicHeader(buf, chunk.Format0, csID)
		return appendType0(buf, timestamp, uint32(len(payload)), typeID, streamID)
	})
}

// writeMediaChunks drives ACK-wait backpressure, chunking, and the
// buffer pool for both WriteMedia and WriteMediaHeader; firstHeader
// appends the leading chunk's basic+type header (type-1 or type-0) to
// the pooled buffer it is handed.
func (w *Writer) writeMediaChunks(csID uint32, payload []byte, firstHeader func([]byte) []byte) error {
	if !w.acquire() {
		return rtmperrors.New(rtmperrors.ErrCodeBusy, "a send is already in progress")
	}
	defer w.release()

	if err := w.waitForAckCapacity(); err != nil {
		return err
	}

	w.mu.Lock()
	chunkSize := w.chunkSizeOut
	w.mu.Unlock()

	total := uint64(0)
	offset := 0
	first := true
	for offset < len(payload) || (len(payload) == 0 && first) {
		end := offset + int(chunkSize)
		if end > len(payload) {
			end = len(payload)
		}
		slice := payload[offset:end]

		buf := w.pool.Get()
		if first {
			buf = firstHeader(buf)
			first = false
		} else {
			buf = appendBasicHeader(buf, chunk.Format3, csID)
		}
		buf = append(buf, slice...)

		n := len(buf)
		err := w.conn.Write(buf, w.writeTimeout)
		w.pool.Put(buf)
		if err != nil {
			return err
		}
		total += uint64(n)
		offset = end
	}

	w.addBytesSent(total)
	return nil
}

func (w *Writer) acquire() bool {
	return w.busy.CompareAndSwap(false, true)
}

func (w *Writer) release() {
	w.busy.Store(false)
}

func (w *Writer) addBytesSent(n uint64) {
	w.ackMu.Lock()
	w.bytesSentSinceAck += n
	w.ackMu.Unlock()
	w.bytesSentTotal.Add(n)
}

// waitForAckCapacity blocks while bytes_sent_since_ack has crossed the
// 1.2x threshold, until OnAck resets it or ackWaitTimeout elapses.
func (w *Writer) waitForAckCapacity() error {
	deadline := time.Now().Add(w.ackWaitTimeout)
	for {
		w.ackMu.Lock()
		threshold := uint64(float64(w.ackWindowOut) * 1.2)
		over := w.bytesSentSinceAck >= threshold
		signal := w.ackSignal
		w.ackMu.Unlock()

		if !over {
			return nil
		}
		w.ackWaitBlocks.Add(1)

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return rtmperrors.New(rtmperrors.ErrCodeAckTimeout, "timed out waiting for ack-wait backpressure to clear")
		}

		select {
		case <-signal:
			continue
		case <-time.After(remaining):
			return rtmperrors.New(rtmperrors.ErrCodeAckTimeout, "timed out waiting for ack-wait backpressure to clear")
		}
	}
}

func appendBasicHeader(b []byte, format chunk.Format, csID uint32) []byte {
	return append(b, byte(format)<<6|byte(csID))
}

func appendType0(b []byte, timestamp, length uint32, typeID uint8, streamID uint32) []byte {
	ts := chunk.TruncateTimestamp(timestamp)
	b = append(b, byte(ts>>16), byte(ts>>8), byte(ts))
	b = append(b, byte(length>>16), byte(length>>8), byte(length))
	b = append(b, typeID)
	b = append(b, byte(streamID), byte(streamID>>8), byte(streamID>>16), byte(streamID>>24))
	return b
}

func appendType1(b []byte, delta, length uint32, typeID uint8) []byte {
	d := chunk.TruncateTimestamp(delta)
	b = append(b, byte(d>>16), byte(d>>8), byte(d))
	b = append(b, byte(length>>16), byte(length>>8), byte(length))
	b = append(b, typeID)
	return b
}
