package flv

import (
	"bytes"
	"testing"
)

func TestSplitSPSPPS(t *testing.T) {
	sps := []byte{0x67, 0x42, 0x00, 0x1E, 0xAB, 0xCD}
	pps := []byte{0x68, 0xCE, 0x3C, 0x80}

	buf := append([]byte{}, startCode...)
	buf = append(buf, sps...)
	buf = append(buf, startCode...)
	buf = append(buf, pps...)

	gotSPS, gotPPS, err := SplitSPSPPS(buf)
	if err != nil {
		t.Fatalf("SplitSPSPPS failed: %v", err)
	}
	if !bytes.Equal(gotSPS, sps) {
		t.Errorf("expected SPS %v, got %v", sps, gotSPS)
	}
	if !bytes.Equal(gotPPS, pps) {
		t.Errorf("expected PPS %v, got %v", pps, gotPPS)
	}
}

func TestSplitSPSPPSFailsWithoutSecondStartCode(t *testing.T) {
	buf := append([]byte{}, startCode...)
	buf = append(buf, 0x67, 0x42, 0x00, 0x1E)

	if _, _, err := SplitSPSPPS(buf); err == nil {
		t.Fatal("expected an error with only one start code present")
	}
}

func TestAVCSequenceHeaderTagShape(t *testing.T) {
	sps := []byte{0x67, 0x42, 0x00, 0x1E}
	pps := []byte{0x68, 0xCE}

	tag := AVCSequenceHeaderTag(sps, pps)
	want := []byte{0x17, 0x00, 0x00, 0x00, 0x00}
	if !bytes.Equal(tag[:5], want) {
		t.Errorf("expected tag preamble %v, got %v", want, tag[:5])
	}

	record := AVCDecoderConfigurationRecord(sps, pps)
	if !bytes.Equal(tag[5:], record) {
		t.Errorf("expected AVCDecoderConfigurationRecord to follow the preamble")
	}
}

func TestAVCDecoderConfigurationRecordShape(t *testing.T) {
	sps := []byte{0x67, 0x42, 0x00, 0x1E, 0xAA}
	pps := []byte{0x68, 0xCE, 0x3C}

	rec := AVCDecoderConfigurationRecord(sps, pps)

	if rec[0] != 0x01 {
		t.Errorf("expected configurationVersion 1, got %d", rec[0])
	}
	if rec[1] != sps[1] || rec[2] != sps[2] || rec[3] != sps[3] {
		t.Errorf("expected profile/compat/level from SPS[1:4], got %v", rec[1:4])
	}
	if rec[4] != 0xFF {
		t.Errorf("expected lengthSizeMinusOne byte 0xFF, got 0x%02x", rec[4])
	}
	if rec[5] != 0xE1 {
		t.Errorf("expected numOfSequenceParameterSets byte 0xE1, got 0x%02x", rec[5])
	}
	spsLen := int(rec[6])<<8 | int(rec[7])
	if spsLen != len(sps) {
		t.Errorf("expected SPS length %d, got %d", len(sps), spsLen)
	}
}

func TestVideoTagKeyframeVsInter(t *testing.T) {
	nalu := []byte{0xAA, 0xBB, 0xCC}

	key := VideoTag(true, nalu)
	if key[0] != 0x17 {
		t.Errorf("expected keyframe tag byte 0x17, got 0x%02x", key[0])
	}
	inter := VideoTag(false, nalu)
	if inter[0] != 0x27 {
		t.Errorf("expected interframe tag byte 0x27, got 0x%02x", inter[0])
	}
	if key[1] != avcPacketTypeNALU || inter[1] != avcPacketTypeNALU {
		t.Error("expected AVC packet type NALU (1) in both tags")
	}

	naluLen := uint32(key[5])<<24 | uint32(key[6])<<16 | uint32(key[7])<<8 | uint32(key[8])
	if naluLen != uint32(len(nalu)) {
		t.Errorf("expected NALU length %d, got %d", len(nalu), naluLen)
	}
	if !bytes.Equal(key[9:], nalu) {
		t.Errorf("expected trailing payload %v, got %v", nalu, key[9:])
	}
}

func TestAudioTagByte(t *testing.T) {
	b := AudioTagByte(3, true)
	if b>>4 != soundFormatAAC {
		t.Errorf("expected sound format AAC (10), got %d", b>>4)
	}
	if b&0x01 != 1 {
		t.Errorf("expected stereo sound type bit set")
	}

	mono := AudioTagByte(3, false)
	if mono&0x01 != 0 {
		t.Errorf("expected mono sound type bit clear")
	}
}

func TestAACSequenceHeaderTag(t *testing.T) {
	asc := []byte{0x12, 0x10}
	tag := AACSequenceHeaderTag(asc, 4, true)
	if tag[1] != aacPacketTypeHeader {
		t.Errorf("expected AAC packet type sequence header (0), got %d", tag[1])
	}
	if !bytes.Equal(tag[2:], asc) {
		t.Errorf("expected AudioSpecificConfig to follow, got %v", tag[2:])
	}
}

func TestAACRawTag(t *testing.T) {
	payload := []byte{0x21, 0x22, 0x23}
	tag := AACRawTag(payload, 4, true)
	if tag[1] != aacPacketTypeRawData {
		t.Errorf("expected AAC packet type raw (1), got %d", tag[1])
	}
	if !bytes.Equal(tag[2:], payload) {
		t.Errorf("expected payload to follow, got %v", tag[2:])
	}
}
