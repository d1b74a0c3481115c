// Package flv builds the FLV tag envelopes this publisher embeds inside
// RTMP AUDIO and VIDEO messages: AVC (H.264) sequence headers and NALU
// tags, and AAC sequence headers and raw-frame tags (spec.md §4.G).
package flv

import (
	"encoding/binary"

	rtmperrors "github.com/castflow/rtmpub/pkg/errors"
)

// Video frame types, packed into the top nibble of the VIDEODATA byte.
const (
	frameTypeKey        = 1
	frameTypeInter      = 2
	codecIDAVC          = 7
	avcPacketTypeHeader = 0
	avcPacketTypeNALU   = 1

	soundFormatAAC       = 10
	soundSizeSixteenBit  = 1
	aacPacketTypeHeader  = 0
	aacPacketTypeRawData = 1
)

// startCode is the Annex-B NALU start code this publisher looks for when
// splitting an H.264 parameter-set buffer into SPS and PPS.
var startCode = []byte{0x00, 0x00, 0x00, 0x01}

// SplitSPSPPS extracts SPS and PPS from an Annex-B-like buffer containing
// exactly two start-code-delimited NALUs: SPS then PPS. It locates the
// second start code and slices around it (spec.md §4.G postVideo).
func SplitSPSPPS(buf []byte) (sps, pps []byte, err error) {
	first := indexStartCode(buf, 0)
	if first < 0 {
		return nil, nil, rtmperrors.New(rtmperrors.ErrCodeValidationFailed, "no start code found in video header buffer")
	}
	second := indexStartCode(buf, first+len(startCode))
	if second < 0 {
		return nil, nil, rtmperrors.New(rtmperrors.ErrCodeValidationFailed, "no second start code found in video header buffer")
	}
	sps = buf[first+len(startCode) : second]
	pps = buf[second+len(startCode):]
	return sps, pps, nil
}

func indexStartCode(buf []byte, from int) int {
	for i := from; i+len(startCode) <= len(buf); i++ {
		if buf[i] == 0 && buf[i+1] == 0 && buf[i+2] == 0 && buf[i+3] == 1 {
			return i
		}
	}
	return -1
}

// AVCDecoderConfigurationRecord builds the AVCC-format sequence header
// carried inside the AVC sequence-header FLV tag: one SPS and one PPS,
// 4-byte NALU length field size.
func AVCDecoderConfigurationRecord(sps, pps []byte) []byte {
	rec := make([]byte, 0, 11+len(sps)+len(pps))
	rec = append(rec, 0x01)             // configurationVersion
	rec = append(rec, sps[1])           // AVCProfileIndication
	rec = append(rec, sps[2])           // profile_compatibility
	rec = append(rec, sps[3])           // AVCLevelIndication
	rec = append(rec, 0xFF)             // reserved(6) + lengthSizeMinusOne(2) = 3
	rec = append(rec, 0xE1)             // reserved(3) + numOfSequenceParameterSets(5) = 1
	rec = appendUint16(rec, len(sps))
	rec = append(rec, sps...)
	rec = append(rec, 0x01) // numOfPictureParameterSets
	rec = appendUint16(rec, len(pps))
	rec = append(rec, pps...)
	return rec
}

// AVCSequenceHeaderTag builds the FLV VIDEODATA tag carrying an AVC
// sequence header: `0x17 0x00 0x00 0x00 0x00` followed by the
// AVCDecoderConfigurationRecord.
func AVCSequenceHeaderTag(sps, pps []byte) []byte {
	record := AVCDecoderConfigurationRecord(sps, pps)
	tag := make([]byte, 0, 5+len(record))
	tag = append(tag, videoTagByte(true), avcPacketTypeHeader, 0x00, 0x00, 0x00)
	tag = append(tag, record...)
	return tag
}

// VideoTag builds the FLV VIDEODATA tag carrying one AVC NALU: tag byte,
// packet type (NALU), 3 zero composition-time-offset bytes, 4-byte
// big-endian NALU length, then the NALU payload.
func VideoTag(keyframe bool, nalu []byte) []byte {
	tag := make([]byte, 0, 9+len(nalu))
	tag = append(tag, videoTagByte(keyframe), avcPacketTypeNALU, 0x00, 0x00, 0x00)
	tag = appendUint32(tag, uint32(len(nalu)))
	tag = append(tag, nalu...)
	return tag
}

func videoTagByte(keyframe bool) byte {
	frameType := byte(frameTypeInter)
	if keyframe {
		frameType = frameTypeKey
	}
	return frameType<<4 | codecIDAVC
}

// AudioTagByte computes the FLV AUDIODATA tag byte for an AAC stream:
// soundFormat(4) || soundRate(2) || soundSize(1) || soundType(1), per
// spec.md §4.G postAudio.
func AudioTagByte(rateIndex byte, stereo bool) byte {
	soundType := byte(0)
	if stereo {
		soundType = 1
	}
	return soundFormatAAC<<4 | (rateIndex<<2)&0x0C | (soundSizeSixteenBit<<1)&0x02 | soundType&0x01
}

// AACSequenceHeaderTag builds the FLV AUDIODATA tag carrying an AAC
// sequence header: the AAC tag byte, `0x00` (sequence header), then the
// raw AudioSpecificConfig.
func AACSequenceHeaderTag(audioSpecificConfig []byte, rateIndex byte, stereo bool) []byte {
	tag := make([]byte, 0, 2+len(audioSpecificConfig))
	tag = append(tag, AudioTagByte(rateIndex, stereo), aacPacketTypeHeader)
	tag = append(tag, audioSpecificConfig...)
	return tag
}

// AACRawTag builds the FLV AUDIODATA tag carrying one raw AAC frame: the
// AAC tag byte, `0x01` (raw data), then the frame payload.
func AACRawTag(payload []byte, rateIndex byte, stereo bool) []byte {
	tag := make([]byte, 0, 2+len(payload))
	tag = append(tag, AudioTagByte(rateIndex, stereo), aacPacketTypeRawData)
	tag = append(tag, payload...)
	return tag
}

func appendUint16(b []byte, v int) []byte {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], uint16(v))
	return append(b, tmp[:]...)
}

func appendUint32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}
