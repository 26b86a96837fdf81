package mp4mux

import (
	"bytes"

	"github.com/streammux/mp4mux/utils/bits/pio"
)

var startCode = []byte{0x00, 0x00, 0x00, 0x01}

// volStartCode is the MPEG-4 Part 2 Visual Object Layer start code the
// MPEG-4 codec-config fallback scans for.
var volStartCode = []byte{0x00, 0x00, 0x01, 0xB6}

// findStartCode returns the index of the first 00 00 00 01 start code in
// b at or after from, or -1.
func findStartCode(b []byte, from int) int {
	if from < 0 || from > len(b) {
		return -1
	}
	return indexOf(b[from:], startCode, from)
}

func indexOf(haystack, needle []byte, base int) int {
	i := bytes.Index(haystack, needle)
	if i < 0 {
		return -1
	}
	return base + i
}

// stripStartCode removes a single leading 00 00 00 01 start code from p,
// if present.
func stripStartCode(p []byte) []byte {
	if bytes.HasPrefix(p, startCode) {
		return p[len(startCode):]
	}
	return p
}

// makeAVCConfig builds the avcC DecoderConfigurationRecord from raw
// Annex-B bytes: the input begins with a start code, the next start code
// marks the SPS/PPS boundary, SPS is the bytes between the two, PPS is
// everything after the second.
func makeAVCConfig(data []byte) ([]byte, error) {
	if !bytes.HasPrefix(data, startCode) {
		return nil, ErrMalformedAVC
	}
	second := findStartCode(data, len(startCode))
	if second < 0 {
		return nil, ErrMalformedAVC
	}
	sps := data[len(startCode):second]
	pps := data[second+len(startCode):]

	out := make([]byte, 0, 11+len(sps)+len(pps))
	out = append(out, 0x01)       // configurationVersion
	out = append(out, 0x42)       // AVCProfileIndication: hardcoded, see DESIGN.md Open Question 1
	out = append(out, 0x80)       // profile_compatibility
	out = append(out, 0x1E)       // AVCLevelIndication: hardcoded, see DESIGN.md Open Question 1
	out = append(out, 0xFC|3)     // reserved(6) + lengthSizeMinusOne(2) = 4-byte lengths
	out = append(out, 0xE0|1)     // reserved(3) + numOfSPS(5) = 1

	var l16 [2]byte
	pio.PutU16BE(l16[:], uint16(len(sps)))
	out = append(out, l16[:]...)
	out = append(out, sps...)

	out = append(out, 0x01) // numOfPPS = 1
	pio.PutU16BE(l16[:], uint16(len(pps)))
	out = append(out, l16[:]...)
	out = append(out, pps...)

	return out, nil
}

// splitMPEG4VOL splits an MPEG-4 Part 2 sample at its Visual Object Layer
// start code: bytes before it are codec config, bytes from it onward are
// the first real sample. If the start code is absent the whole sample is
// codec config and ok is false.
func splitMPEG4VOL(data []byte) (config, sample []byte, ok bool) {
	i := bytes.Index(data, volStartCode)
	if i < 0 {
		return data, nil, false
	}
	return data[:i], data[i:], true
}
