package amf0

import (
	"bytes"
	"testing"
)

func TestRoundTripNumber(t *testing.T) {
	buf := &bytes.Buffer{}
	NewEncoder(buf).Number(123.456)

	v, n, err := DecodeNumber(buf.Bytes())
	if err != nil {
		t.Fatalf("DecodeNumber failed: %v", err)
	}
	if v != 123.456 {
		t.Errorf("expected 123.456, got %v", v)
	}
	if n != buf.Len() {
		t.Errorf("expected %d bytes consumed, got %d", buf.Len(), n)
	}
}

func TestRoundTripBoolean(t *testing.T) {
	for _, want := range []bool{true, false} {
		buf := &bytes.Buffer{}
		NewEncoder(buf).Boolean(want)

		got, n, err := DecodeBoolean(buf.Bytes())
		if err != nil {
			t.Fatalf("DecodeBoolean failed: %v", err)
		}
		if got != want {
			t.Errorf("expected %v, got %v", want, got)
		}
		if n != buf.Len() {
			t.Errorf("expected %d bytes consumed, got %d", buf.Len(), n)
		}
	}
}

func TestRoundTripString(t *testing.T) {
	buf := &bytes.Buffer{}
	NewEncoder(buf).String("onStatus")

	got, n, err := DecodeString(buf.Bytes())
	if err != nil {
		t.Fatalf("DecodeString failed: %v", err)
	}
	if got != "onStatus" {
		t.Errorf("expected %q, got %q", "onStatus", got)
	}
	if n != buf.Len() {
		t.Errorf("expected %d bytes consumed, got %d", buf.Len(), n)
	}
}

func TestRoundTripNull(t *testing.T) {
	buf := &bytes.Buffer{}
	NewEncoder(buf).Null()

	v, n, err := Decode(buf.Bytes())
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if v != nil {
		t.Errorf("expected nil, got %v", v)
	}
	if n != 1 {
		t.Errorf("expected 1 byte consumed, got %d", n)
	}
}

func TestRoundTripObject(t *testing.T) {
	obj := map[string]interface{}{
		"app":    "live",
		"tcUrl":  "rtmp://example.com/live",
		"fpad":   false,
		"number": float64(3),
	}

	buf := &bytes.Buffer{}
	NewEncoder(buf).Object(obj)

	got, n, err := DecodeObject(buf.Bytes())
	if err != nil {
		t.Fatalf("DecodeObject failed: %v", err)
	}
	if n != buf.Len() {
		t.Errorf("expected %d bytes consumed, got %d", buf.Len(), n)
	}
	if len(got) != len(obj) {
		t.Fatalf("expected %d keys, got %d", len(obj), len(got))
	}
	for k, want := range obj {
		if got[k] != want {
			t.Errorf("key %q: expected %v, got %v", k, want, got[k])
		}
	}
}

func TestRoundTripECMAArray(t *testing.T) {
	arr := map[string]interface{}{
		"width":           float64(1280),
		"height":          float64(720),
		"framerate":       float64(30),
		"videocodecid":    float64(7),
		"audiocodecid":    float64(10),
		"audiosamplerate": float64(44100),
	}

	buf := &bytes.Buffer{}
	NewEncoder(buf).ECMAArray(arr)

	got, n, err := DecodeECMAArray(buf.Bytes())
	if err != nil {
		t.Fatalf("DecodeECMAArray failed: %v", err)
	}
	if n != buf.Len() {
		t.Errorf("expected %d bytes consumed, got %d", buf.Len(), n)
	}
	for k, want := range arr {
		// Bug-fix per spec.md §9 Q5: ECMA-array values decode to the same raw
		// Go types as object values, with no special wrapped-null case.
		if got[k] != want {
			t.Errorf("key %q: expected %v (%T), got %v (%T)", k, want, want, got[k], got[k])
		}
	}
}

func TestKindMismatchReportsObservedMarker(t *testing.T) {
	buf := &bytes.Buffer{}
	NewEncoder(buf).String("oops")

	_, _, err := DecodeNumber(buf.Bytes())
	if err == nil {
		t.Fatal("expected an error")
	}
	mismatch, ok := err.(*KindMismatchError)
	if !ok {
		t.Fatalf("expected *KindMismatchError, got %T", err)
	}
	if mismatch.Observed != byte(MarkerString) {
		t.Errorf("expected observed marker 0x%02x, got 0x%02x", byte(MarkerString), mismatch.Observed)
	}
}

func TestObjectDecoderTruncatesOnOverLongKeyLength(t *testing.T) {
	// A well-formed one-key object, followed by a corrupt over-long key
	// length with no bytes behind it. The decoder must return the first
	// key/value pair rather than erroring (spec.md §9 Q3).
	buf := &bytes.Buffer{}
	buf.WriteByte(byte(MarkerObject))
	writeRawKey(buf, "ok")
	NewEncoder(buf).Number(1)
	// corrupt: a key-length field claiming more bytes than remain
	writeRawKeyLenOnly(buf, 0xFFFF)

	got, n, err := DecodeObject(buf.Bytes())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if n != buf.Len() {
		t.Errorf("expected decoder to consume to end of buffer (%d), got %d", buf.Len(), n)
	}
	if len(got) != 1 || got["ok"] != float64(1) {
		t.Errorf("expected {ok: 1}, got %v", got)
	}
}

func TestDecodeMaybeObjectPeeksNull(t *testing.T) {
	buf := &bytes.Buffer{}
	NewEncoder(buf).Null()

	got, n, err := DecodeMaybeObject(buf.Bytes())
	if err != nil {
		t.Fatalf("DecodeMaybeObject failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil map, got %v", got)
	}
	if n != 1 {
		t.Errorf("expected 1 byte consumed, got %d", n)
	}
}

func writeRawKey(buf *bytes.Buffer, key string) {
	writeRawKeyLenOnly(buf, len(key))
	buf.WriteString(key)
}

func writeRawKeyLenOnly(buf *bytes.Buffer, n int) {
	buf.WriteByte(byte(n >> 8))
	buf.WriteByte(byte(n))
}
