package chunk

import (
	"bytes"
	"testing"
)

func TestBasicHeaderRoundTrip(t *testing.T) {
	cases := []struct {
		format Format
		csID   uint32
	}{
		{Format0, 2},
		{Format1, 8},
		{Format2, 9},
		{Format3, 63},
	}

	for _, c := range cases {
		buf := &bytes.Buffer{}
		if err := WriteBasicHeader(buf, c.format, c.csID); err != nil {
			t.Fatalf("WriteBasicHeader(%v, %d) failed: %v", c.format, c.csID, err)
		}
		if buf.Len() != 1 {
			t.Fatalf("expected 1-byte basic header, got %d bytes", buf.Len())
		}
		gotFormat, gotCsID, err := ReadBasicHeader(buf)
		if err != nil {
			t.Fatalf("ReadBasicHeader failed: %v", err)
		}
		if gotFormat != c.format || gotCsID != c.csID {
			t.Errorf("expected (%v,%d), got (%v,%d)", c.format, c.csID, gotFormat, gotCsID)
		}
	}
}

func TestBasicHeaderRejectsOutOfRangeChunkStreamID(t *testing.T) {
	for _, csID := range []uint32{0, 1, 64, 1000} {
		buf := &bytes.Buffer{}
		if err := WriteBasicHeader(buf, Format0, csID); err == nil {
			t.Errorf("expected error writing chunk-stream id %d, got none", csID)
		}
	}
}

func TestType0HeaderRoundTrip(t *testing.T) {
	buf := &bytes.Buffer{}
	if err := WriteType0(buf, 1000, 9009, 9, 1); err != nil {
		t.Fatalf("WriteType0 failed: %v", err)
	}
	if buf.Len() != 11 {
		t.Fatalf("expected 11-byte type-0 header, got %d", buf.Len())
	}
	ts, length, typeID, streamID, err := ReadType0(buf)
	if err != nil {
		t.Fatalf("ReadType0 failed: %v", err)
	}
	if ts != 1000 || length != 9009 || typeID != 9 || streamID != 1 {
		t.Errorf("unexpected decode: ts=%d length=%d typeID=%d streamID=%d", ts, length, typeID, streamID)
	}
}

func TestType0TimestampTruncatesAt24Bits(t *testing.T) {
	buf := &bytes.Buffer{}
	if err := WriteType0(buf, MaxTimestamp+500, 0, 9, 1); err != nil {
		t.Fatalf("WriteType0 failed: %v", err)
	}
	ts, _, _, _, err := ReadType0(buf)
	if err != nil {
		t.Fatalf("ReadType0 failed: %v", err)
	}
	if ts != MaxTimestamp {
		t.Errorf("expected truncated timestamp %d, got %d", MaxTimestamp, ts)
	}
}

func TestType1HeaderRoundTrip(t *testing.T) {
	buf := &bytes.Buffer{}
	if err := WriteType1(buf, 0, 9009, 9); err != nil {
		t.Fatalf("WriteType1 failed: %v", err)
	}
	if buf.Len() != 7 {
		t.Fatalf("expected 7-byte type-1 header, got %d", buf.Len())
	}
	delta, length, typeID, err := ReadType1(buf)
	if err != nil {
		t.Fatalf("ReadType1 failed: %v", err)
	}
	if delta != 0 || length != 9009 || typeID != 9 {
		t.Errorf("unexpected decode: delta=%d length=%d typeID=%d", delta, length, typeID)
	}
}

func TestType2HeaderRoundTrip(t *testing.T) {
	buf := &bytes.Buffer{}
	if err := WriteType2(buf, 33); err != nil {
		t.Fatalf("WriteType2 failed: %v", err)
	}
	if buf.Len() != 3 {
		t.Fatalf("expected 3-byte type-2 header, got %d", buf.Len())
	}
	delta, err := ReadType2(buf)
	if err != nil {
		t.Fatalf("ReadType2 failed: %v", err)
	}
	if delta != 33 {
		t.Errorf("expected delta 33, got %d", delta)
	}
}

func TestZeroDeltaIsValidAndEncodesAsThreeZeroBytes(t *testing.T) {
	buf := &bytes.Buffer{}
	if err := WriteType2(buf, 0); err != nil {
		t.Fatalf("WriteType2 failed: %v", err)
	}
	want := []byte{0x00, 0x00, 0x00}
	if !bytes.Equal(buf.Bytes(), want) {
		t.Errorf("expected %v, got %v", want, buf.Bytes())
	}
}
