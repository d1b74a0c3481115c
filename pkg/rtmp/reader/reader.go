// Package reader implements the RTMP deframer: a single-threaded loop that
// reads chunk headers, reassembles message payloads, and dispatches
// protocol-control and AMF0 command messages to a Handler (spec.md §4.C).
//
// This publisher's peer is expected to reply only with single-chunk,
// type-0-header messages on chunk-stream IDs 2, 3, or 5 (spec.md §4.C
// step 3); any other basic header value is a protocol error. Because this
// loop always performs full blocking reads on a dedicated goroutine rather
// than a non-blocking state machine, the "mark position and reschedule on
// partial header" behaviour in spec.md collapses to an ordinary blocking
// read — there is no partial-read state to rewind.
package reader

import (
	"encoding/binary"
	"io"
	"sync/atomic"

	rtmperrors "github.com/castflow/rtmpub/pkg/errors"
	"github.com/castflow/rtmpub/pkg/rtmp/amf0"
)

// Message type IDs this publisher's deframer dispatches on (spec.md §6.2).
const (
	MessageTypeSetChunkSize     uint8 = 1
	MessageTypeAck              uint8 = 3
	MessageTypeUserControl      uint8 = 4
	MessageTypeWindowAckSize    uint8 = 5
	MessageTypeSetPeerBandwidth uint8 = 6
	MessageTypeAudio            uint8 = 8
	MessageTypeVideo            uint8 = 9
	MessageTypeDataAMF0         uint8 = 18
	MessageTypeCommandAMF0      uint8 = 20
)

// User control event types this publisher recognizes.
const userControlPingRequest uint16 = 6

// Transaction IDs fixed by this protocol profile (spec.md §6.4).
const (
	connectTransactionID      = 1
	createStreamTransactionID = 10
	defaultCommandTID         = 0
)

// Handler receives the events the deframer raises. The controller
// implements it; methods run synchronously on the reader's goroutine.
type Handler interface {
	OnConnectSuccess()
	OnConnectError(code string)
	OnStreamCreated(streamID uint32)
	OnPublishStart()
	OnPublishError(code string)
	OnAck(bytesAcked uint32)
	OnNeedAck(bytesReadTotal uint32)
	OnNeedPingResponse(timestamp uint32)
	OnSetPeerBandwidth(size uint32, limitType byte)
	OnSetChunkSize(size uint32)
	OnReaderError(err error)
}

// observedChunkStreamIDs are the only chunk-stream IDs this publisher's
// peer is expected to use (spec.md §4.C step 3).
func isObservedChunkStreamID(csID uint32) bool {
	return csID == 2 || csID == 3 || csID == 5
}

// Reader runs the deframing loop over an io.Reader.
type Reader struct {
	r       io.Reader
	handler Handler

	ackWindowIn   uint32
	bytesReadTot  atomic.Uint32
	bytesSinceAck uint32
}

// BytesReadTotal reports the lifetime count of bytes read from the peer,
// for pkg/registry and pkg/metrics.
func (rd *Reader) BytesReadTotal() uint32 {
	return rd.bytesReadTot.Load()
}

// New builds a Reader. ackWindowIn is the inbound ACK window announced (or
// defaulted) for this session; it gates when NeedAck fires.
func New(r io.Reader, ackWindowIn uint32, handler Handler) *Reader {
	return &Reader{r: r, ackWindowIn: ackWindowIn, handler: handler}
}

// SetAckWindowIn updates the inbound ACK window (from a WINDOW_ACK_SIZE
// message).
func (rd *Reader) SetAckWindowIn(size uint32) {
	rd.ackWindowIn = size
}

// Run reads and dispatches messages until the underlying reader returns an
// error. It always returns a non-nil error (io.EOF on orderly close is
// reported to the handler as a reader error like any other failure, per
// spec.md §7: "End-of-stream on the basic-header read is reported as
// TransportClosed").
func (rd *Reader) Run() error {
	for {
		if err := rd.readOne(); err != nil {
			rd.handler.OnReaderError(err)
			return err
		}
	}
}

func (rd *Reader) readOne() error {
	var basic [1]byte
	if _, err := io.ReadFull(rd.r, basic[:]); err != nil {
		return rtmperrors.Wrap(rtmperrors.ErrCodeDisconnected, "transport closed while reading basic header", err)
	}

	csID := uint32(basic[0] & 0x3F)
	if !isObservedChunkStreamID(csID) {
		return rtmperrors.New(rtmperrors.ErrCodeBadFraming, "unexpected chunk-stream id in basic header")
	}

	var hdr [11]byte
	if _, err := io.ReadFull(rd.r, hdr[:]); err != nil {
		return rtmperrors.Wrap(rtmperrors.ErrCodeBadFraming, "failed to read type-0 message header", err)
	}
	length := uint32(hdr[3])<<16 | uint32(hdr[4])<<8 | uint32(hdr[5])
	typeID := hdr[6]

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(rd.r, payload); err != nil {
			return rtmperrors.Wrap(rtmperrors.ErrCodeBadFraming, "failed to read message payload", err)
		}
	}

	total := rd.bytesReadTot.Add(length + 12)
	rd.bytesSinceAck += length + 12
	if rd.ackWindowIn > 0 && rd.bytesSinceAck >= rd.ackWindowIn {
		rd.handler.OnNeedAck(total)
		rd.bytesSinceAck = 0
	}

	rd.dispatch(typeID, payload)
	return nil
}

func (rd *Reader) dispatch(typeID uint8, payload []byte) {
	switch typeID {
	case MessageTypeSetChunkSize:
		if len(payload) < 4 {
			return
		}
		size := binary.BigEndian.Uint32(payload) & 0x7FFFFFFF
		rd.handler.OnSetChunkSize(size)

	case MessageTypeAck:
		if len(payload) < 4 {
			return
		}
		rd.handler.OnAck(binary.BigEndian.Uint32(payload))

	case MessageTypeUserControl:
		if len(payload) < 2 {
			return
		}
		event := binary.BigEndian.Uint16(payload[0:2])
		if event == userControlPingRequest && len(payload) >= 6 {
			ts := binary.BigEndian.Uint32(payload[2:6])
			rd.handler.OnNeedPingResponse(ts)
		}

	case MessageTypeWindowAckSize:
		if len(payload) < 4 {
			return
		}
		rd.ackWindowIn = binary.BigEndian.Uint32(payload)

	case MessageTypeSetPeerBandwidth:
		if len(payload) < 5 {
			return
		}
		size := binary.BigEndian.Uint32(payload[0:4])
		limitType := payload[4]
		rd.handler.OnSetPeerBandwidth(size, limitType)

	case MessageTypeCommandAMF0:
		if err := rd.dispatchCommand(payload); err != nil {
			rd.handler.OnReaderError(err)
		}

	default:
		// Unknown message types are skipped (non-fatal, spec.md §7).
	}
}

func (rd *Reader) dispatchCommand(payload []byte) error {
	name, n, err := amf0.DecodeString(payload)
	if err != nil {
		return rtmperrors.Wrap(rtmperrors.ErrCodeAmfDecode, "failed to decode command name", err)
	}
	payload = payload[n:]

	tidVal, n, err := amf0.DecodeNumber(payload)
	if err != nil {
		return rtmperrors.Wrap(rtmperrors.ErrCodeAmfDecode, "failed to decode transaction id", err)
	}
	payload = payload[n:]
	tid := int(tidVal)

	switch name {
	case "_result":
		return rd.dispatchResult(tid, payload)
	case "onStatus":
		return rd.dispatchOnStatus(tid, payload)
	case "_error":
		return rtmperrors.New(rtmperrors.ErrCodeServerError, "server returned _error")
	default:
		// Unrecognized command names are ignored, not fatal.
		return nil
	}
}

func (rd *Reader) dispatchResult(tid int, payload []byte) error {
	switch tid {
	case connectTransactionID:
		_, n, err := amf0.DecodeMaybeObject(payload) // properties
		if err != nil {
			return rtmperrors.Wrap(rtmperrors.ErrCodeAmfDecode, "failed to decode _result properties", err)
		}
		payload = payload[n:]
		info, _, err := amf0.DecodeMaybeObject(payload)
		if err != nil {
			return rtmperrors.Wrap(rtmperrors.ErrCodeAmfDecode, "failed to decode _result information", err)
		}
		code, _ := stringField(info, "code")
		if code == "NetConnection.Connect.Success" {
			rd.handler.OnConnectSuccess()
			return nil
		}
		if hasPrefix(code, "NetConnection.Connect") {
			rd.handler.OnConnectError(code)
			return nil
		}
		return rtmperrors.New(rtmperrors.ErrCodeProtocolError, "unrecognized _result for connect transaction")

	case createStreamTransactionID:
		_, n, err := amf0.DecodeMaybeObject(payload) // command object, may be null
		if err != nil {
			return rtmperrors.Wrap(rtmperrors.ErrCodeAmfDecode, "failed to decode createStream _result command object", err)
		}
		payload = payload[n:]
		streamIDVal, _, err := amf0.DecodeNumber(payload)
		if err != nil {
			return rtmperrors.Wrap(rtmperrors.ErrCodeAmfDecode, "failed to decode createStream _result stream id", err)
		}
		rd.handler.OnStreamCreated(uint32(streamIDVal))
		return nil

	default:
		return nil
	}
}

func (rd *Reader) dispatchOnStatus(tid int, payload []byte) error {
	if tid != defaultCommandTID {
		return rtmperrors.New(rtmperrors.ErrCodeProtocolError, "onStatus with non-zero transaction id")
	}

	_, n, err := amf0.DecodeMaybeObject(payload) // null command object
	if err != nil {
		return rtmperrors.Wrap(rtmperrors.ErrCodeAmfDecode, "failed to decode onStatus command object", err)
	}
	payload = payload[n:]

	info, _, err := amf0.DecodeObject(payload)
	if err != nil {
		return rtmperrors.Wrap(rtmperrors.ErrCodeAmfDecode, "failed to decode onStatus information object", err)
	}

	code, ok := stringField(info, "code")
	if !ok {
		// §9 decision: the source silently ignores a missing `code` key;
		// this reimplementation raises a protocol error instead.
		return rtmperrors.New(rtmperrors.ErrCodeProtocolError, "onStatus information object missing code")
	}

	if code == "NetStream.Publish.Start" {
		rd.handler.OnPublishStart()
		return nil
	}
	if hasPrefix(code, "NetStream.Publish") {
		rd.handler.OnPublishError(code)
		return nil
	}
	return nil
}

func stringField(obj map[string]interface{}, key string) (string, bool) {
	if obj == nil {
		return "", false
	}
	v, ok := obj[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
