package filesource

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// qcifSPS is a hand-built Baseline SPS (profile 0x42, level 0x1E,
// frame_mbs_only, no cropping) whose exponential-Golomb-coded
// pic_width_in_mbs_minus1=10 and pic_height_in_map_units_minus1=8 decode
// to 176x144 (QCIF).
var qcifSPS = []byte{0x67, 0x42, 0x00, 0x1E, 0xF8, 0x58, 0x9C}
var dummyPPSBytes = []byte{0x68, 0xCE, 0x3C, 0x80}

func TestParseSPSDimensionsQCIF(t *testing.T) {
	w, h, err := parseSPSDimensions(qcifSPS)
	require.NoError(t, err)
	require.Equal(t, 176, w)
	require.Equal(t, 144, h)
}

func writeAnnexBFile(t *testing.T, nals ...[]byte) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "stream.h264")
	var buf []byte
	for _, nal := range nals {
		buf = append(buf, h264StartCode...)
		buf = append(buf, nal...)
	}
	require.NoError(t, os.WriteFile(path, buf, 0o644))
	return path
}

func TestNewH264ParsesSPSDimensionsWhenUnset(t *testing.T) {
	path := writeAnnexBFile(t, qcifSPS, dummyPPSBytes, []byte{0x05, 0x01, 0x02, 0x03})
	h, err := NewH264(path, 25, 0, 0)
	require.NoError(t, err)
	require.Equal(t, 176, h.Format().Width)
	require.Equal(t, 144, h.Format().Height)
}

func TestNewH264ExplicitDimensionsOverrideSPS(t *testing.T) {
	path := writeAnnexBFile(t, qcifSPS, dummyPPSBytes, []byte{0x05, 0x01, 0x02, 0x03})
	h, err := NewH264(path, 25, 640, 480)
	require.NoError(t, err)
	require.Equal(t, 640, h.Format().Width)
	require.Equal(t, 480, h.Format().Height)
}

func TestNewH264ErrorsWithoutLeadingSPSPPS(t *testing.T) {
	path := writeAnnexBFile(t, []byte{0x05, 0x01, 0x02, 0x03})
	_, err := NewH264(path, 25, 320, 240)
	require.Error(t, err)
}

func TestH264ReadYieldsCodecConfigThenFrames(t *testing.T) {
	path := writeAnnexBFile(t, qcifSPS, dummyPPSBytes, []byte{0x05, 0x01, 0x02, 0x03}, []byte{0x01, 0x04, 0x05, 0x06})
	h, err := NewH264(path, 25, 0, 0)
	require.NoError(t, err)

	cfgBuf, err := h.Read()
	require.NoError(t, err)
	require.True(t, cfgBuf.Meta.IsCodecConfig)

	idrBuf, err := h.Read()
	require.NoError(t, err)
	require.False(t, idrBuf.Meta.IsCodecConfig)
	require.True(t, idrBuf.Meta.IsSyncFrame)
	require.Zero(t, idrBuf.Meta.TimestampUS)

	nextBuf, err := h.Read()
	require.NoError(t, err)
	require.False(t, nextBuf.Meta.IsSyncFrame)
	require.Equal(t, int64(40000), nextBuf.Meta.TimestampUS) // 1/25s spacing

	_, err = h.Read()
	require.ErrorIs(t, err, io.EOF)
}

// adtsFrame is a hand-built 7-byte ADTS header (AAC LC, 44100Hz, stereo,
// protection_absent) followed by payloadLen bytes of payload.
func adtsFrame(payloadLen int, fill byte) []byte {
	frameLength := 7 + payloadLen
	hdr := []byte{
		0xFF, 0xF1,
		0x50, // profile=1 (AAC LC), sampleRateIdx=4 (44100), private=0, channel_config bit2=0
		byte(0x80 | (frameLength>>11)&0x03),      // channel_config low2="10", frameLength bits12-11
		byte((frameLength >> 3) & 0xFF),          // frameLength bits10-3
		byte(((frameLength & 0x07) << 5) | 0x1F), // frameLength bits2-0, buffer fullness high bits
		0x00, // buffer fullness low bits + num_raw_data_blocks
	}
	payload := make([]byte, payloadLen)
	for i := range payload {
		payload[i] = fill
	}
	return append(hdr, payload...)
}

func writeADTSFile(t *testing.T, frames ...[]byte) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "stream.aac")
	var buf []byte
	for _, f := range frames {
		buf = append(buf, f...)
	}
	require.NoError(t, os.WriteFile(path, buf, 0o644))
	return path
}

func TestNewAACParsesFormatFromFirstFrame(t *testing.T) {
	path := writeADTSFile(t, adtsFrame(100, 0xAA), adtsFrame(100, 0xBB))
	a, err := NewAAC(path)
	require.NoError(t, err)
	require.Equal(t, 2, a.Format().ChannelCount)
	require.Equal(t, 44100, a.Format().SampleRate)
	require.Equal(t, "audio/mp4a-latm", a.Format().MimeType)
}

func TestAACReadYieldsConfigThenFramePayloads(t *testing.T) {
	path := writeADTSFile(t, adtsFrame(10, 0xAA), adtsFrame(10, 0xBB))
	a, err := NewAAC(path)
	require.NoError(t, err)

	cfgBuf, err := a.Read()
	require.NoError(t, err)
	require.True(t, cfgBuf.Meta.IsCodecConfig)
	require.Len(t, cfgBuf.Bytes(), 2) // AudioSpecificConfig is 2 bytes

	first, err := a.Read()
	require.NoError(t, err)
	require.Len(t, first.Bytes(), 10)
	require.Equal(t, byte(0xAA), first.Bytes()[0])
	require.Zero(t, first.Meta.TimestampUS)

	second, err := a.Read()
	require.NoError(t, err)
	require.Len(t, second.Bytes(), 10)
	require.Equal(t, byte(0xBB), second.Bytes()[0])
	require.Equal(t, int64(1024)*1e6/44100, second.Meta.TimestampUS)

	_, err = a.Read()
	require.ErrorIs(t, err, io.EOF)
}

func TestNewAACErrorsOnBadSync(t *testing.T) {
	path := writeADTSFile(t, []byte{0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06})
	_, err := NewAAC(path)
	require.Error(t, err)
}
