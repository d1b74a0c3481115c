package publisher

// State is a publishing session's lifecycle state (spec.md §3, §4.G).
type State int

const (
	StateStopped State = iota
	StateConnecting
	StateAwaitingConnect
	StateConnected
	StateAwaitingStream
	StatePublishSent
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateConnecting:
		return "connecting"
	case StateAwaitingConnect:
		return "awaiting_connect"
	case StateConnected:
		return "connected"
	case StateAwaitingStream:
		return "awaiting_stream"
	case StatePublishSent:
		return "publish_sent"
	case StateStreaming:
		return "streaming"
	default:
		return "unknown"
	}
}

// PeerBandwidthLimitType is the limit-type byte carried in a
// SET_PEER_BANDWIDTH message (spec.md §6.1).
type PeerBandwidthLimitType byte

const (
	PeerBandwidthHard PeerBandwidthLimitType = 0
	PeerBandwidthSoft PeerBandwidthLimitType = 1
	PeerBandwidthDynamic PeerBandwidthLimitType = 2
)

// H264Frame is one encoded video access unit handed to PostVideo. IsHeader
// frames carry an Annex-B buffer with exactly one SPS NALU followed by one
// PPS NALU, delimited by start codes (spec.md §4.G postVideo).
type H264Frame struct {
	Timestamp  uint32 // ms
	IsHeader   bool
	IsKeyframe bool
	Payload    []byte
}

// AACHeader describes the AAC stream's decoder-specific configuration,
// supplied once via SetAudioHeader before the first PostAudio.
type AACHeader struct {
	SampleRateIndex     byte
	Stereo              bool
	AudioSpecificConfig []byte
}

// AACFrame is one raw AAC access unit handed to PostAudio.
type AACFrame struct {
	Timestamp uint32 // ms
	Payload   []byte
}

// RtmpDataFrame carries the recognized onMetaData keys sent by
// SendDataFrame (spec.md §4.G sendDataFrame).
type RtmpDataFrame struct {
	Width           int32
	Height          int32
	Framerate       int32
	AudioSampleRate int32
	VideoCodecID    int32
	AudioCodecID    int32
}

// Listener receives session lifecycle events (spec.md §9 design note: "a
// small interface the controller invokes").
type Listener interface {
	OnConnected()
	OnReadyToPublish()
	OnConnectionError(err error)
}

// ArchiveWriter receives a copy of every outbound FLV tag payload for
// independent archiving (pkg/archive), decoupled from the controller by
// interface so the RTMP wire path never depends on S3/AWS directly.
type ArchiveWriter interface {
	Write(typeID uint8, timestamp uint32, payload []byte)
}
