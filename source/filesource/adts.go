package filesource

import "github.com/pkg/errors"

// adtsSampleRates is the ISO/IEC 13818-7 Table 35 sampling_frequency_index
// table.
var adtsSampleRates = [16]int{
	96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050,
	16000, 12000, 11025, 8000, 7350, 0, 0, 0,
}

var errShortADTSHeader = errors.New("filesource: ADTS header truncated")
var errBadADTSSync = errors.New("filesource: ADTS sync word not found")

type adtsHeader struct {
	objectType    int // MPEG-4 Audio Object Type, 2 = AAC LC
	sampleRateIdx int
	channelConfig int
	headerLen     int
	frameLength   int // total frame length including header
}

// parseADTSHeader reads the 7-byte fixed ADTS header.
func parseADTSHeader(b []byte) (adtsHeader, error) {
	if len(b) < 7 {
		return adtsHeader{}, errShortADTSHeader
	}
	if b[0] != 0xFF || b[1]&0xF0 != 0xF0 {
		return adtsHeader{}, errBadADTSSync
	}
	protectionAbsent := b[1] & 0x01
	profile := int(b[2] >> 6 & 0x03)
	sampleRateIdx := int(b[2] >> 2 & 0x0F)
	channelConfig := int(b[2]&0x01)<<2 | int(b[3]>>6&0x03)
	frameLength := int(b[3]&0x03)<<11 | int(b[4])<<3 | int(b[5]>>5&0x07)

	headerLen := 7
	if protectionAbsent == 0 {
		headerLen = 9
	}
	return adtsHeader{
		objectType:    profile + 1,
		sampleRateIdx: sampleRateIdx,
		channelConfig: channelConfig,
		headerLen:     headerLen,
		frameLength:   frameLength,
	}, nil
}

// audioSpecificConfig builds the 2-byte MPEG-4 AudioSpecificConfig this
// package's Track carries as codec-config (no SBR/PS extension, the
// common case for plain AAC-LC ADTS streams).
func (h adtsHeader) audioSpecificConfig() []byte {
	v := uint16(h.objectType&0x1F)<<11 | uint16(h.sampleRateIdx&0x0F)<<7 | uint16(h.channelConfig&0x0F)<<3
	return []byte{byte(v >> 8), byte(v)}
}
