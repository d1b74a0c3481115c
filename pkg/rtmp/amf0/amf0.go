// Package amf0 encodes and decodes Action Message Format version 0 values,
// the typed, self-delimiting value encoding RTMP uses for its commands.
package amf0

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Marker is an AMF0 type tag byte.
type Marker byte

// AMF0 data type markers (spec.md §6.1)
const (
	MarkerNumber      Marker = 0x00
	MarkerBoolean     Marker = 0x01
	MarkerString      Marker = 0x02
	MarkerObject      Marker = 0x03
	MarkerNull        Marker = 0x05
	MarkerECMAArray   Marker = 0x08
	MarkerObjectEnd   Marker = 0x09
	MarkerUndefined   Marker = 0x06
	MarkerStrictArray Marker = 0x0A
)

// ErrTruncated is returned when fewer bytes remain than a value requires.
var ErrTruncated = errors.New("amf0: truncated value")

// KindMismatchError reports that a typed decoder found a marker other than
// the one it expected.
type KindMismatchError struct {
	Expected Marker
	Observed byte
}

func (e *KindMismatchError) Error() string {
	return fmt.Sprintf("amf0: kind mismatch: expected marker 0x%02x, observed 0x%02x", byte(e.Expected), e.Observed)
}

func kindMismatch(expected Marker, observed byte) error {
	return &KindMismatchError{Expected: expected, Observed: observed}
}

// Encoder appends AMF0-encoded values to an underlying byte buffer. It
// carries no session state of its own; every method is a pure append.
type Encoder struct {
	buf *bytes.Buffer
}

// NewEncoder wraps a buffer for AMF0 encoding.
func NewEncoder(buf *bytes.Buffer) *Encoder {
	return &Encoder{buf: buf}
}

// Number appends an AMF0 number (marker 0x00, big-endian IEEE-754 double).
func (e *Encoder) Number(n float64) {
	e.buf.WriteByte(byte(MarkerNumber))
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], math.Float64bits(n))
	e.buf.Write(b[:])
}

// Boolean appends an AMF0 boolean (marker 0x01).
func (e *Encoder) Boolean(v bool) {
	e.buf.WriteByte(byte(MarkerBoolean))
	if v {
		e.buf.WriteByte(1)
	} else {
		e.buf.WriteByte(0)
	}
}

// String appends an AMF0 string (marker 0x02, 16-bit length prefix).
func (e *Encoder) String(s string) {
	e.buf.WriteByte(byte(MarkerString))
	e.writeUTF8(s)
}

// Null appends an AMF0 null (marker 0x05).
func (e *Encoder) Null() {
	e.buf.WriteByte(byte(MarkerNull))
}

// Object appends an AMF0 object (marker 0x03): unordered key/value pairs
// terminated by the end-of-object sentinel. Keys are never marker-tagged.
func (e *Encoder) Object(obj map[string]interface{}) {
	e.buf.WriteByte(byte(MarkerObject))
	for key, value := range obj {
		e.writeUTF8(key)
		e.Encode(value)
	}
	e.writeEndOfObject()
}

// ECMAArray appends an AMF0 ECMA array (marker 0x08): a 32-bit associative
// count followed by key/value pairs and the end-of-object sentinel.
func (e *Encoder) ECMAArray(arr map[string]interface{}) {
	e.buf.WriteByte(byte(MarkerECMAArray))
	var cnt [4]byte
	binary.BigEndian.PutUint32(cnt[:], uint32(len(arr)))
	e.buf.Write(cnt[:])
	for key, value := range arr {
		e.writeUTF8(key)
		e.Encode(value)
	}
	e.writeEndOfObject()
}

// Encode appends v, dispatching on its Go type to the matching AMF0 kind.
func (e *Encoder) Encode(v interface{}) error {
	switch val := v.(type) {
	case nil:
		e.Null()
	case float64:
		e.Number(val)
	case float32:
		e.Number(float64(val))
	case int:
		e.Number(float64(val))
	case int32:
		e.Number(float64(val))
	case int64:
		e.Number(float64(val))
	case uint32:
		e.Number(float64(val))
	case bool:
		e.Boolean(val)
	case string:
		e.String(val)
	case map[string]interface{}:
		e.Object(val)
	default:
		return fmt.Errorf("amf0: unsupported encode type %T", v)
	}
	return nil
}

func (e *Encoder) writeUTF8(s string) {
	var l [2]byte
	binary.BigEndian.PutUint16(l[:], uint16(len(s)))
	e.buf.Write(l[:])
	e.buf.WriteString(s)
}

func (e *Encoder) writeEndOfObject() {
	e.buf.Write([]byte{0x00, 0x00, byte(MarkerObjectEnd)})
}

// Decode reads one AMF0 value starting at data[0] and returns the decoded
// value together with the number of bytes consumed. Object and ECMA-array
// markers decode to map[string]interface{}; null decodes to a nil
// interface{}.
func Decode(data []byte) (interface{}, int, error) {
	if len(data) < 1 {
		return nil, 0, ErrTruncated
	}

	switch Marker(data[0]) {
	case MarkerNumber:
		v, n, err := DecodeNumber(data)
		return v, n, err
	case MarkerBoolean:
		v, n, err := DecodeBoolean(data)
		return v, n, err
	case MarkerString:
		v, n, err := DecodeString(data)
		return v, n, err
	case MarkerObject:
		v, n, err := DecodeObject(data)
		return v, n, err
	case MarkerNull, MarkerUndefined:
		return nil, 1, nil
	case MarkerECMAArray:
		v, n, err := DecodeECMAArray(data)
		return v, n, err
	default:
		return nil, 0, fmt.Errorf("amf0: unsupported marker 0x%02x", data[0])
	}
}

// DecodeNumber decodes an AMF0 number, failing with a KindMismatchError if
// data does not begin with MarkerNumber.
func DecodeNumber(data []byte) (float64, int, error) {
	if len(data) < 1 {
		return 0, 0, ErrTruncated
	}
	if Marker(data[0]) != MarkerNumber {
		return 0, 0, kindMismatch(MarkerNumber, data[0])
	}
	if len(data) < 9 {
		return 0, 0, ErrTruncated
	}
	bits := binary.BigEndian.Uint64(data[1:9])
	return math.Float64frombits(bits), 9, nil
}

// DecodeBoolean decodes an AMF0 boolean.
func DecodeBoolean(data []byte) (bool, int, error) {
	if len(data) < 1 {
		return false, 0, ErrTruncated
	}
	if Marker(data[0]) != MarkerBoolean {
		return false, 0, kindMismatch(MarkerBoolean, data[0])
	}
	if len(data) < 2 {
		return false, 0, ErrTruncated
	}
	return data[1] != 0, 2, nil
}

// DecodeString decodes an AMF0 UTF-8 string with a 16-bit length prefix.
func DecodeString(data []byte) (string, int, error) {
	if len(data) < 1 {
		return "", 0, ErrTruncated
	}
	if Marker(data[0]) != MarkerString {
		return "", 0, kindMismatch(MarkerString, data[0])
	}
	s, n, err := readUTF8(data[1:])
	if err != nil {
		return "", 0, err
	}
	return s, n + 1, nil
}

// DecodeNull consumes an AMF0 null marker and returns the bytes consumed.
func DecodeNull(data []byte) (int, error) {
	if len(data) < 1 {
		return 0, ErrTruncated
	}
	if Marker(data[0]) != MarkerNull {
		return 0, kindMismatch(MarkerNull, data[0])
	}
	return 1, nil
}

// DecodeObject decodes an AMF0 object: key/value pairs until the
// end-of-object sentinel. An over-long key-length field (one whose value
// would run past the end of data) stops decoding and returns the object
// accumulated so far, rather than failing outright.
func DecodeObject(data []byte) (map[string]interface{}, int, error) {
	if len(data) < 1 {
		return nil, 0, ErrTruncated
	}
	if Marker(data[0]) != MarkerObject {
		return nil, 0, kindMismatch(MarkerObject, data[0])
	}
	obj, n, err := decodeKeyedValues(data[1:])
	return obj, n + 1, err
}

// DecodeECMAArray decodes an AMF0 ECMA array: a 32-bit associative count
// (not validated against the actual pair count) followed by the same
// key/value-pairs-then-sentinel shape as an object.
func DecodeECMAArray(data []byte) (map[string]interface{}, int, error) {
	if len(data) < 1 {
		return nil, 0, ErrTruncated
	}
	if Marker(data[0]) != MarkerECMAArray {
		return nil, 0, kindMismatch(MarkerECMAArray, data[0])
	}
	if len(data) < 5 {
		return nil, 0, ErrTruncated
	}
	obj, n, err := decodeKeyedValues(data[5:])
	return obj, n + 5, err
}

// DecodeMaybeObject peeks the marker before deciding whether to decode an
// object or a null, replacing the source's try-decode-then-fall-back-to-null
// control flow (spec.md §9) with an explicit branch.
func DecodeMaybeObject(data []byte) (map[string]interface{}, int, error) {
	if len(data) < 1 {
		return nil, 0, ErrTruncated
	}
	if Marker(data[0]) == MarkerNull || Marker(data[0]) == MarkerUndefined {
		return nil, 1, nil
	}
	return DecodeObject(data)
}

// decodeKeyedValues reads repeated (key, value) pairs until the end-of-object
// sentinel (a zero-length key followed by MarkerObjectEnd). It is shared by
// DecodeObject and DecodeECMAArray so both use the same raw-value semantics
// (spec.md §9 decision: no special wrapped-null case for ECMA arrays).
func decodeKeyedValues(data []byte) (map[string]interface{}, int, error) {
	obj := make(map[string]interface{})
	offset := 0

	for {
		if offset+2 > len(data) {
			// Over-long/truncated key-length field: stop, return what we have.
			return obj, offset, nil
		}
		keyLen := int(binary.BigEndian.Uint16(data[offset : offset+2]))
		offset += 2

		if keyLen == 0 {
			if offset >= len(data) {
				return obj, offset, nil
			}
			if Marker(data[offset]) == MarkerObjectEnd {
				offset++
				return obj, offset, nil
			}
			return nil, offset, fmt.Errorf("amf0: expected end-of-object marker, got 0x%02x", data[offset])
		}

		if offset+keyLen > len(data) {
			// Over-long key-length field: stop, return what we have (spec.md §9 Q3).
			return obj, offset, nil
		}
		key := string(data[offset : offset+keyLen])
		offset += keyLen

		value, n, err := Decode(data[offset:])
		if err != nil {
			return nil, offset, err
		}
		offset += n
		obj[key] = value
	}
}

func readUTF8(data []byte) (string, int, error) {
	if len(data) < 2 {
		return "", 0, ErrTruncated
	}
	l := int(binary.BigEndian.Uint16(data[0:2]))
	if len(data) < 2+l {
		return "", 0, ErrTruncated
	}
	return string(data[2 : 2+l]), 2 + l, nil
}
