// Package publisher implements the RTMP publishing controller: the state
// machine that drives handshake, connect/createStream/publish, outbound
// media, and inbound flow-control events (spec.md §4.G).
package publisher

import (
	"bytes"
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/castflow/rtmpub/pkg/config"
	rtmperrors "github.com/castflow/rtmpub/pkg/errors"
	"github.com/castflow/rtmpub/pkg/logger"
	"github.com/castflow/rtmpub/pkg/rtmp/amf0"
	"github.com/castflow/rtmpub/pkg/rtmp/flv"
	"github.com/castflow/rtmpub/pkg/rtmp/handshake"
	"github.com/castflow/rtmpub/pkg/rtmp/reader"
	"github.com/castflow/rtmpub/pkg/rtmp/transport"
	"github.com/castflow/rtmpub/pkg/rtmp/writer"
)

// Chunk-stream IDs this publisher writes on (spec.md §6.1).
const (
	csAudio = 8
	csVideo = 9
	csData  = 18
)

const noTimestamp = -1

// Controller owns one publishing session (spec.md §4.G).
type Controller struct {
	cfg     *config.Config
	baseLog logger.Logger
	log     logger.Logger

	mu    sync.Mutex
	state State

	transport *transport.Transport
	writer    *writer.Writer
	reader    *reader.Reader
	listener  Listener

	sessionID string
	streamID  uint32
	playpath  string

	archive ArchiveWriter

	everStarted    bool
	reconnectTotal uint64

	lastVideoTS int64
	lastAudioTS int64

	videoHeaderSent bool
	audioHeaderSent bool
	aacHeader       *AACHeader

	ackWindowOut               uint32
	lastPeerBandwidthLimitType PeerBandwidthLimitType
	havePeerBandwidthLimitType bool

	pendingAckBytes uint32
	havePendingAck  bool
	pendingPingTS   uint32
	havePendingPing bool

	stopping bool
}

// New builds a Controller bound to cfg. The transport is not opened until
// Start is called.
func New(cfg *config.Config, log logger.Logger) *Controller {
	return &Controller{
		cfg:         cfg,
		baseLog:     log,
		log:         log,
		state:       StateStopped,
		lastVideoTS: noTimestamp,
		lastAudioTS: noTimestamp,
	}
}

// SetArchiveSink registers the optional archive writer that receives a
// copy of every outbound FLV tag payload. It may be set before or after
// Start; tags written before it is set are not archived.
func (c *Controller) SetArchiveSink(sink ArchiveWriter) {
	c.mu.Lock()
	c.archive = sink
	c.mu.Unlock()
}

// Accounting returns the session's wire-level byte/ack-window counters
// (bytes_sent_total, bytes_sent_since_ack, ack_window_out), for
// pkg/monitor and pkg/metrics. It is nil until Start has completed the
// handshake and built the writer; callers check for nil before use.
func (c *Controller) Accounting() *writer.Writer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writer
}

// BytesReadTotal returns the lifetime count of bytes read from the
// peer, for pkg/registry and pkg/metrics.
func (c *Controller) BytesReadTotal() uint32 {
	c.mu.Lock()
	r := c.reader
	c.mu.Unlock()
	if r == nil {
		return 0
	}
	return r.BytesReadTotal()
}

// SessionID returns the UUID stamped on the most recent Start call, or
// the empty string if Start has never been called.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// App returns the configured target application name, for
// pkg/registry's session mirror.
func (c *Controller) App() string {
	return c.cfg.Target.App
}

// Playpath returns the stream key passed to the most recent
// CreateStream call, for pkg/registry's session mirror.
func (c *Controller) Playpath() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playpath
}

// StreamID returns the message-stream ID assigned by OnStreamCreated,
// or 0 before createStream completes, for pkg/registry's session
// mirror.
func (c *Controller) StreamID() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streamID
}

// ReconnectTotal reports how many times Start has been called after an
// earlier session on this Controller, for pkg/metrics.
func (c *Controller) ReconnectTotal() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnectTotal
}

// IsStarted reports whether the session is anywhere past stopped.
func (c *Controller) IsStarted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state != StateStopped
}

func (c *Controller) getState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Start opens the transport, performs the handshake, negotiates chunking,
// and sends the AMF0 connect command (spec.md §4.G start).
func (c *Controller) Start(ctx context.Context, listener Listener) error {
	if c.getState() != StateStopped {
		return rtmperrors.NewInvalidStateError("start requires the session to be stopped")
	}
	c.setState(StateConnecting)
	c.listener = listener
	c.mu.Lock()
	c.ackWindowOut = c.cfg.Chunking.AckWindowOut
	if c.everStarted {
		c.reconnectTotal++
	}
	c.everStarted = true
	c.sessionID = uuid.New().String()
	c.mu.Unlock()
	c.log = c.baseLog.With(logger.String("session_id", c.sessionID))

	addr := c.cfg.Target.Host + ":" + portString(c.cfg.Target.Port)
	c.log.Debug("dialing rtmp target", logger.String("addr", addr))
	tr, err := transport.Connect(ctx, addr, c.cfg.Timeouts.ConnectTimeout, c.log)
	if err != nil {
		return c.teardown(rtmperrors.Wrap(rtmperrors.ErrCodeConnectionFailed, "failed to connect", err))
	}
	c.transport = tr

	if err := c.runHandshake(); err != nil {
		return c.teardown(err)
	}
	c.log.Debug("handshake complete")

	c.writer = writer.New(tr, c.cfg.Chunking.ChunkSizeOut, c.cfg.Chunking.AckWindowOut,
		c.cfg.Timeouts.WriteTimeout, c.cfg.Timeouts.AckWaitTimeout)
	c.reader = reader.New(tr.Reader(), c.cfg.Chunking.AckWindowOut, c)

	go func() {
		_ = c.reader.Run()
	}()

	if err := c.writer.WriteControl(reader.MessageTypeSetChunkSize, encodeUint32(c.cfg.Chunking.ChunkSizeOut)); err != nil {
		return c.teardown(err)
	}
	if err := c.writer.WriteControl(reader.MessageTypeWindowAckSize, encodeUint32(c.cfg.Chunking.AckWindowOut)); err != nil {
		return c.teardown(err)
	}

	connectObj := map[string]interface{}{"app": c.cfg.Target.App}
	if c.cfg.Target.ServerURL != "" {
		connectObj["tcUrl"] = c.cfg.Target.ServerURL
	}
	if c.cfg.Target.PageURL != "" {
		connectObj["pageUrl"] = c.cfg.Target.PageURL
	}
	if err := c.sendCommand("connect", 1, 0, func(enc *amf0.Encoder) {
		enc.Object(connectObj)
	}); err != nil {
		return c.teardown(err)
	}

	c.setState(StateAwaitingConnect)
	return nil
}

func (c *Controller) runHandshake() error {
	done := make(chan error, 1)
	go func() { done <- handshake.Do(c.transport.Conn()) }()

	select {
	case err := <-done:
		return err
	case <-time.After(c.cfg.Timeouts.HandshakeTimeout):
		return rtmperrors.New(rtmperrors.ErrCodeHandshakeTimeout, "handshake did not complete in time")
	}
}

// CreateStream sends the AMF0 createStream command (spec.md §4.G
// createStream).
func (c *Controller) CreateStream(playpath string) error {
	if c.getState() != StateConnected {
		return rtmperrors.NewInvalidStateError("createStream requires the session to be connected")
	}
	c.mu.Lock()
	c.playpath = playpath
	c.mu.Unlock()

	if err := c.sendCommand("createStream", 10, 0, func(enc *amf0.Encoder) {
		enc.Null()
	}); err != nil {
		return err
	}
	c.setState(StateAwaitingStream)
	return nil
}

// PostVideo emits one H.264 frame as an FLV-enveloped VIDEO message
// (spec.md §4.G postVideo).
func (c *Controller) PostVideo(frame H264Frame) error {
	if c.getState() != StateStreaming {
		return rtmperrors.NewInvalidStateError("postVideo requires the session to be streaming")
	}

	if err := c.flushPendingControl(); err != nil {
		return err
	}

	if frame.IsHeader {
		sps, pps, err := flv.SplitSPSPPS(frame.Payload)
		if err != nil {
			return err
		}
		tag := flv.AVCSequenceHeaderTag(sps, pps)
		ts := c.advanceVideoTimestamp(frame.Timestamp)

		c.mu.Lock()
		streamID := c.streamID
		c.mu.Unlock()

		if err := c.writeMediaHeaderAndArchive(csVideo, reader.MessageTypeVideo, ts, streamID, tag); err != nil {
			return err
		}
		c.mu.Lock()
		c.videoHeaderSent = true
		c.mu.Unlock()
		return nil
	}

	tag := flv.VideoTag(frame.IsKeyframe, frame.Payload)
	ts := c.advanceVideoTimestamp(frame.Timestamp)
	return c.writeMediaAndArchive(csVideo, reader.MessageTypeVideo, ts, tag)
}

// SetAudioHeader registers the AAC decoder configuration; PostAudio emits
// it once, lazily, on the first call (spec.md §4.G postAudio).
func (c *Controller) SetAudioHeader(header AACHeader) {
	c.mu.Lock()
	h := header
	c.aacHeader = &h
	c.mu.Unlock()
}

// PostAudio emits one AAC frame, first emitting the registered AAC
// sequence header if it has not yet been sent (spec.md §4.G postAudio).
func (c *Controller) PostAudio(frame AACFrame) error {
	if c.getState() != StateStreaming {
		return rtmperrors.NewInvalidStateError("postAudio requires the session to be streaming")
	}

	if err := c.flushPendingControl(); err != nil {
		return err
	}

	c.mu.Lock()
	header := c.aacHeader
	headerSent := c.audioHeaderSent
	c.mu.Unlock()

	if header != nil && !headerSent {
		hdrTag := flv.AACSequenceHeaderTag(header.AudioSpecificConfig, header.SampleRateIndex, header.Stereo)
		ts := c.advanceAudioTimestamp(frame.Timestamp)
		if err := c.writeMediaAndArchive(csAudio, reader.MessageTypeAudio, ts, hdrTag); err != nil {
			return err
		}
		c.mu.Lock()
		c.audioHeaderSent = true
		c.mu.Unlock()
	}

	c.mu.Lock()
	rateIndex, stereo := byte(0), false
	if c.aacHeader != nil {
		rateIndex, stereo = c.aacHeader.SampleRateIndex, c.aacHeader.Stereo
	}
	c.mu.Unlock()

	tag := flv.AACRawTag(frame.Payload, rateIndex, stereo)
	ts := c.advanceAudioTimestamp(frame.Timestamp)
	return c.writeMediaAndArchive(csAudio, reader.MessageTypeAudio, ts, tag)
}

// SendMetaData emits an AMF0 onTextData message on the data chunk stream
// (spec.md §4.G sendMetaData).
func (c *Controller) SendMetaData(text string) error {
	if c.getState() != StateStreaming {
		return rtmperrors.NewInvalidStateError("sendMetaData requires the session to be streaming")
	}
	if err := c.flushPendingControl(); err != nil {
		return err
	}

	buf := &bytes.Buffer{}
	enc := amf0.NewEncoder(buf)
	enc.String("onTextData")
	enc.ECMAArray(map[string]interface{}{"text": text})

	return c.writeMediaAndArchive(csData, reader.MessageTypeDataAMF0, c.dataTimestamp(), buf.Bytes())
}

// SendDataFrame emits the onMetaData message describing stream parameters
// (spec.md §4.G sendDataFrame).
func (c *Controller) SendDataFrame(frame RtmpDataFrame) error {
	if c.getState() != StateStreaming {
		return rtmperrors.NewInvalidStateError("sendDataFrame requires the session to be streaming")
	}
	if err := c.flushPendingControl(); err != nil {
		return err
	}

	buf := &bytes.Buffer{}
	enc := amf0.NewEncoder(buf)
	enc.String("@setDataFrame")
	enc.String("onMetaData")
	enc.ECMAArray(map[string]interface{}{
		"width":           float64(frame.Width),
		"height":          float64(frame.Height),
		"framerate":       float64(frame.Framerate),
		"audiosamplerate": float64(frame.AudioSampleRate),
		"videocodecid":    float64(frame.VideoCodecID),
		"audiocodecid":    float64(frame.AudioCodecID),
	})

	return c.writeMediaAndArchive(csData, reader.MessageTypeDataAMF0, c.dataTimestamp(), buf.Bytes())
}

// writeMediaAndArchive writes one media message to the wire and, on
// success, forwards the same tag bytes to the archive sink if one is
// registered (spec.md §6.6: archive payloads mirror what was written).
func (c *Controller) writeMediaAndArchive(csID uint32, typeID uint8, ts uint32, tag []byte) error {
	if err := c.writer.WriteMedia(csID, typeID, ts, tag); err != nil {
		return err
	}
	c.mu.Lock()
	sink := c.archive
	c.mu.Unlock()
	if sink != nil {
		sink.Write(typeID, ts, tag)
	}
	return nil
}

// writeMediaHeaderAndArchive writes a sequence-header chunk as a single
// type-0 message on csID, carrying streamID explicitly (spec.md §4.G
// postVideo, §6.2), then mirrors the same tag bytes to the archive sink
// like writeMediaAndArchive does for regular frames.
func (c *Controller) writeMediaHeaderAndArchive(csID uint32, typeID uint8, ts, streamID uint32, tag []byte) error {
	if err := c.writer.WriteMediaHeader(csID, typeID, ts, streamID, tag); err != nil {
		return err
	}
	c.mu.Lock()
	sink := c.archive
	c.mu.Unlock()
	if sink != nil {
		sink.Write(typeID, ts, tag)
	}
	return nil
}

// DeleteStream sends deleteStream(stream_id) and resets streaming-level
// state; the connection itself remains open (spec.md §4.G deleteStream).
func (c *Controller) DeleteStream() error {
	state := c.getState()
	if state != StateStreaming && state != StatePublishSent {
		return rtmperrors.NewInvalidStateError("deleteStream requires an active publish")
	}

	c.mu.Lock()
	streamID := c.streamID
	c.mu.Unlock()

	if err := c.sendCommand("deleteStream", 0, 0, func(enc *amf0.Encoder) {
		enc.Null()
		enc.Number(float64(streamID))
	}); err != nil {
		return err
	}

	c.mu.Lock()
	c.streamID = 0
	c.playpath = ""
	c.videoHeaderSent = false
	c.audioHeaderSent = false
	c.lastVideoTS = noTimestamp
	c.lastAudioTS = noTimestamp
	c.mu.Unlock()

	c.setState(StateConnected)
	return nil
}

// Stop idempotently tears the session down to stopped.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if c.stopping || c.state == StateStopped {
		c.mu.Unlock()
		return nil
	}
	c.stopping = true
	c.mu.Unlock()

	if c.transport != nil {
		c.transport.Close()
	}

	c.mu.Lock()
	c.state = StateStopped
	c.streamID = 0
	c.playpath = ""
	c.videoHeaderSent = false
	c.audioHeaderSent = false
	c.lastVideoTS = noTimestamp
	c.lastAudioTS = noTimestamp
	c.havePendingAck = false
	c.havePendingPing = false
	c.havePeerBandwidthLimitType = false
	c.stopping = false
	c.mu.Unlock()
	return nil
}

func (c *Controller) teardown(err error) error {
	c.log.Error("session torn down", logger.Err(err))
	c.Stop()
	if c.listener != nil {
		c.listener.OnConnectionError(err)
	}
	return err
}

func (c *Controller) sendCommand(name string, transactionID float64, streamID uint32, writeArgs func(enc *amf0.Encoder)) error {
	buf := &bytes.Buffer{}
	enc := amf0.NewEncoder(buf)
	enc.String(name)
	enc.Number(transactionID)
	writeArgs(enc)
	return c.writer.WriteControlOnStream(reader.MessageTypeCommandAMF0, buf.Bytes(), streamID)
}

// --- reader.Handler ---------------------------------------------------
// These methods run on the reader's goroutine (spec.md §4.G "Inbound
// event handling"); each one either mutates c.mu-guarded state directly
// or defers work to the application via c.listener, which is always
// invoked with the lock released.

// OnConnectSuccess handles the `connect` _result carrying
// NetConnection.Connect.Success (spec.md: "OnConnect: raise Connected to
// the application listener").
func (c *Controller) OnConnectSuccess() {
	c.log.Info("rtmp connect succeeded")
	c.setState(StateConnected)
	if c.listener != nil {
		c.listener.OnConnected()
	}
}

// OnConnectError handles a `connect` _result carrying any other
// NetConnection.Connect.* code.
func (c *Controller) OnConnectError(code string) {
	c.log.Error("rtmp connect rejected", logger.String("code", code))
	c.teardown(rtmperrors.New(rtmperrors.ErrCodeServerError, "connect rejected: "+code))
}

// OnStreamCreated stores the assigned stream id and immediately sends
// `publish(playpath, "live")` on that message stream (spec.md §4.G "On
// OnStreamCreated(id)").
func (c *Controller) OnStreamCreated(streamID uint32) {
	c.mu.Lock()
	c.streamID = streamID
	playpath := c.playpath
	c.mu.Unlock()

	err := c.sendCommand("publish", 0, streamID, func(enc *amf0.Encoder) {
		enc.Null()
		enc.String(playpath)
		enc.String("live")
	})
	if err != nil {
		c.teardown(err)
		return
	}
	c.log.Debug("publish command sent", logger.Int("stream_id", int(streamID)), logger.String("playpath", playpath))
	c.setState(StatePublishSent)
}

// OnPublishStart handles onStatus(NetStream.Publish.Start): the session
// is now streaming (spec.md §4.G "On OnPublish").
func (c *Controller) OnPublishStart() {
	c.log.Info("publish started, session is now streaming")
	c.setState(StateStreaming)
	if c.listener != nil {
		c.listener.OnReadyToPublish()
	}
}

// OnPublishError handles any other NetStream.Publish.* status code.
func (c *Controller) OnPublishError(code string) {
	c.log.Error("publish rejected", logger.String("code", code))
	c.teardown(rtmperrors.New(rtmperrors.ErrCodeServerError, "publish rejected: "+code))
}

// OnAck resets the writer's ACK-wait backpressure counter.
func (c *Controller) OnAck(bytesAcked uint32) {
	if c.writer != nil {
		c.writer.OnAck()
	}
}

// OnNeedAck queues an ACK to be flushed before the next media send
// (spec.md §4.G "NeedAck(bytes)").
func (c *Controller) OnNeedAck(bytesReadTotal uint32) {
	c.mu.Lock()
	c.pendingAckBytes = bytesReadTotal
	c.havePendingAck = true
	c.mu.Unlock()
}

// OnNeedPingResponse either answers inline (before streaming begins) or
// queues the response for the next media send (spec.md §4.G
// "NeedPingResponse(ts)").
func (c *Controller) OnNeedPingResponse(timestamp uint32) {
	state := c.getState()
	if state == StateConnected || state == StateAwaitingStream || state == StatePublishSent {
		if c.writer != nil {
			_ = c.writer.WriteControl(reader.MessageTypeUserControl, encodePingResponse(timestamp))
		}
		return
	}
	c.mu.Lock()
	c.pendingPingTS = timestamp
	c.havePendingPing = true
	c.mu.Unlock()
}

// OnSetPeerBandwidth applies the PEER_BANDWIDTH negotiation rule (spec.md
// §4.G "SetPeerBandwidth(size, type)").
func (c *Controller) OnSetPeerBandwidth(size uint32, limitType byte) {
	c.mu.Lock()
	lt := PeerBandwidthLimitType(limitType)
	if lt == PeerBandwidthDynamic {
		if c.havePeerBandwidthLimitType && c.lastPeerBandwidthLimitType == PeerBandwidthHard {
			lt = PeerBandwidthHard
		} else {
			c.mu.Unlock()
			return
		}
	}
	c.lastPeerBandwidthLimitType = lt
	c.havePeerBandwidthLimitType = true

	current := c.ackWindowOut
	changed := false
	switch lt {
	case PeerBandwidthHard:
		if size != current {
			c.ackWindowOut = size
			changed = true
		}
	case PeerBandwidthSoft:
		if size < current {
			c.ackWindowOut = size
			changed = true
		}
	}
	newSize := c.ackWindowOut
	c.mu.Unlock()

	if changed && c.writer != nil {
		c.writer.SetAckWindowOut(newSize)
		_ = c.writer.WriteControl(reader.MessageTypeWindowAckSize, encodeUint32(newSize))
	}
}

// OnSetChunkSize logs the peer's announced inbound chunk size. The
// reader never reassembles multi-chunk messages (it only accepts
// single-chunk, type-0 replies from the peer), so there is no inbound
// scratch buffer to resize here; the outbound scratch-buffer pool lives
// on Writer and is resized from SetChunkSize instead.
func (c *Controller) OnSetChunkSize(size uint32) {
	c.log.Debug("peer announced chunk size", logger.Int("chunk_size_in", int(size)))
}

// OnReaderError tears the session down and raises ConnectionError.
func (c *Controller) OnReaderError(err error) {
	c.teardown(err)
}

// flushPendingControl emits any queued ACK and PING_RESPONSE, in that
// order, before a media send (spec.md §4.G sequencing invariant).
func (c *Controller) flushPendingControl() error {
	c.mu.Lock()
	var ackBytes uint32
	sendAck := c.havePendingAck
	if sendAck {
		ackBytes = c.pendingAckBytes
		c.havePendingAck = false
	}
	var pingTS uint32
	sendPing := c.havePendingPing
	if sendPing {
		pingTS = c.pendingPingTS
		c.havePendingPing = false
	}
	c.mu.Unlock()

	if sendAck {
		if err := c.writer.WriteControl(reader.MessageTypeAck, encodeUint32(ackBytes)); err != nil {
			return err
		}
	}
	if sendPing {
		if err := c.writer.WriteControl(reader.MessageTypeUserControl, encodePingResponse(pingTS)); err != nil {
			return err
		}
	}
	return nil
}

// advanceVideoTimestamp records ts as the last video timestamp. The
// writer derives the wire delta itself from its own per-chunk-stream
// history; last_video_ts here only tracks session-level progress.
func (c *Controller) advanceVideoTimestamp(ts uint32) uint32 {
	c.mu.Lock()
	c.lastVideoTS = int64(ts)
	c.mu.Unlock()
	return ts
}

func (c *Controller) advanceAudioTimestamp(ts uint32) uint32 {
	c.mu.Lock()
	c.lastAudioTS = int64(ts)
	c.mu.Unlock()
	return ts
}

func (c *Controller) dataTimestamp() uint32 {
	return 0
}

func portString(port int) string {
	return strconv.Itoa(port)
}

func encodeUint32(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

func encodePingResponse(ts uint32) []byte {
	buf := make([]byte, 6)
	buf[0], buf[1] = 0x00, 0x07 // PING_RESPONSE event type
	buf[2] = byte(ts >> 24)
	buf[3] = byte(ts >> 16)
	buf[4] = byte(ts >> 8)
	buf[5] = byte(ts)
	return buf
}
