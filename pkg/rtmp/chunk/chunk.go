// Package chunk implements the RTMP chunk-stream header codec: the basic
// header and the type-0/1/2/3 message header forms. It carries no session
// state of its own beyond what's passed in; per-chunk-stream bookkeeping
// (last timestamp, last length, scratch buffers) lives in the reader and
// writer components built on top of it.
package chunk

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Format is an RTMP chunk message-header format (the 2-bit fmt field of the
// basic header).
type Format byte

const (
	Format0 Format = 0 // full header: timestamp, length, type, stream ID
	Format1 Format = 1 // no stream ID: timestamp delta, length, type
	Format2 Format = 2 // timestamp delta only
	Format3 Format = 3 // no header; continues the previous chunk
)

// MinChunkStreamID and MaxChunkStreamID bound the one-byte basic-header
// chunk-stream ID range this publisher supports (spec.md §1 Non-goals:
// "chunk-stream IDs outside [2,63]"). The 2-byte and 3-byte extended basic
// header forms (chunk-stream IDs 0, 1, and values beyond 63) are not
// implemented.
const (
	MinChunkStreamID uint32 = 2
	MaxChunkStreamID uint32 = 63
)

// MaxTimestamp is the largest value a 24-bit chunk timestamp field can
// carry. Timestamps that would overflow it are truncated; the extended
// timestamp word is not implemented (spec.md §4.B, §9 limitation).
const MaxTimestamp uint32 = 0xFFFFFF

// Header is a decoded chunk message header together with the basic header's
// format and chunk-stream ID.
type Header struct {
	Format          Format
	ChunkStreamID   uint32
	Timestamp       uint32 // absolute (format 0) or delta (format 1/2)
	MessageLength   uint32
	MessageTypeID   uint8
	MessageStreamID uint32
}

// ValidateChunkStreamID rejects chunk-stream IDs outside [2,63].
func ValidateChunkStreamID(csID uint32) error {
	if csID < MinChunkStreamID || csID > MaxChunkStreamID {
		return fmt.Errorf("chunk: chunk-stream id %d out of range [%d,%d]", csID, MinChunkStreamID, MaxChunkStreamID)
	}
	return nil
}

// WriteBasicHeader writes the one-byte basic header: fmt (2 bits) || csID
// (6 bits). csID must already be in [2,63].
func WriteBasicHeader(w io.Writer, format Format, csID uint32) error {
	if err := ValidateChunkStreamID(csID); err != nil {
		return err
	}
	b := byte(format)<<6 | byte(csID)
	_, err := w.Write([]byte{b})
	return err
}

// ReadBasicHeader reads the one-byte basic header and returns its format and
// chunk-stream ID.
func ReadBasicHeader(r io.Reader) (Format, uint32, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, 0, err
	}
	format := Format(b[0] >> 6)
	csID := uint32(b[0] & 0x3F)
	if err := ValidateChunkStreamID(csID); err != nil {
		return 0, 0, err
	}
	return format, csID, nil
}

// TruncateTimestamp clamps a timestamp to the 24-bit field this publisher
// writes; it never emits the extended-timestamp word.
func TruncateTimestamp(ts uint32) uint32 {
	if ts > MaxTimestamp {
		return MaxTimestamp
	}
	return ts
}

// WriteType0 writes an 11-byte type-0 message header: absolute timestamp
// (3B BE), message length (3B BE), message type (1B), message stream ID
// (4B little-endian).
func WriteType0(w io.Writer, timestamp, length uint32, typeID uint8, streamID uint32) error {
	var buf [11]byte
	put24(buf[0:3], TruncateTimestamp(timestamp))
	put24(buf[3:6], length)
	buf[6] = typeID
	binary.LittleEndian.PutUint32(buf[7:11], streamID)
	_, err := w.Write(buf[:])
	return err
}

// ReadType0 reads an 11-byte type-0 message header.
func ReadType0(r io.Reader) (timestamp, length uint32, typeID uint8, streamID uint32, err error) {
	var buf [11]byte
	if _, err = io.ReadFull(r, buf[:]); err != nil {
		return
	}
	timestamp = get24(buf[0:3])
	length = get24(buf[3:6])
	typeID = buf[6]
	streamID = binary.LittleEndian.Uint32(buf[7:11])
	return
}

// WriteType1 writes a 7-byte type-1 message header: timestamp delta
// (3B BE), message length (3B BE), message type (1B). No message stream ID;
// it is inherited from the chunk stream's prior type-0/1 header.
func WriteType1(w io.Writer, delta, length uint32, typeID uint8) error {
	var buf [7]byte
	put24(buf[0:3], TruncateTimestamp(delta))
	put24(buf[3:6], length)
	buf[6] = typeID
	_, err := w.Write(buf[:])
	return err
}

// ReadType1 reads a 7-byte type-1 message header.
func ReadType1(r io.Reader) (delta, length uint32, typeID uint8, err error) {
	var buf [7]byte
	if _, err = io.ReadFull(r, buf[:]); err != nil {
		return
	}
	delta = get24(buf[0:3])
	length = get24(buf[3:6])
	typeID = buf[6]
	return
}

// WriteType2 writes a 3-byte type-2 message header: timestamp delta only.
func WriteType2(w io.Writer, delta uint32) error {
	var buf [3]byte
	put24(buf[0:3], TruncateTimestamp(delta))
	_, err := w.Write(buf[:])
	return err
}

// ReadType2 reads a 3-byte type-2 message header.
func ReadType2(r io.Reader) (delta uint32, err error) {
	var buf [3]byte
	if _, err = io.ReadFull(r, buf[:]); err != nil {
		return
	}
	delta = get24(buf[:])
	return
}

// Type-3 headers carry no bytes beyond the basic header; there is
// intentionally no ReadType3/WriteType3.

func put24(b []byte, v uint32) {
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}

func get24(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}
