// Package archive implements the optional S3-backed archive sink
// (spec.md §6.6): a local, independent backup of every FLV tag payload
// this publisher emits, reassembled into a standalone FLV file.
package archive

import "encoding/binary"

const (
	flvHeaderSize = 13
	flvTagHeader  = 11
)

// buildFLVHeader returns the fixed 13-byte FLV container header: the
// "FLV" signature, version 1, a flags byte announcing both audio and
// video present, the 9-byte DataOffset, and the 4-byte zero
// PreviousTagSize0 that precedes the first tag.
func buildFLVHeader() []byte {
	h := make([]byte, flvHeaderSize)
	h[0], h[1], h[2] = 'F', 'L', 'V'
	h[3] = 1
	h[4] = 0x05 // audio(0x04) | video(0x01)
	binary.BigEndian.PutUint32(h[5:9], 9)
	binary.BigEndian.PutUint32(h[9:13], 0)
	return h
}

// appendFLVTag appends one FLV tag (type, 24-bit size, 24-bit timestamp
// plus extension byte, 3-byte stream id always zero, payload) followed
// by its 4-byte previous-tag-size trailer, per spec.md §6.6.
func appendFLVTag(buf []byte, typeID uint8, timestamp uint32, payload []byte) []byte {
	start := len(buf)
	buf = append(buf, typeID)
	buf = append24(buf, uint32(len(payload)))
	buf = append24(buf, timestamp&0xFFFFFF)
	buf = append(buf, byte(timestamp>>24))
	buf = append(buf, 0, 0, 0) // stream id, always 0
	buf = append(buf, payload...)

	tagSize := uint32(len(buf) - start)
	var trailer [4]byte
	binary.BigEndian.PutUint32(trailer[:], tagSize)
	buf = append(buf, trailer[:]...)
	return buf
}

func append24(buf []byte, v uint32) []byte {
	return append(buf, byte(v>>16), byte(v>>8), byte(v))
}
