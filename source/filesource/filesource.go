// Package filesource reads a raw elementary stream from disk - Annex-B
// H.264 or ADTS AAC - as a source.Source, for the cmd/mp4muxd demo and
// for integration tests.
package filesource

import (
	"bytes"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/streammux/mp4mux/source"
)

var h264StartCode = []byte{0x00, 0x00, 0x00, 0x01}

// H264 reads Annex-B NAL units from a .h264 file and replays them at a
// fixed frame rate (the file itself carries no timing), emitting one
// codec-config buffer (SPS+PPS) followed by one NAL unit per Read, each
// one frame duration after the last.
type H264 struct {
	frameDur time.Duration
	width    int
	height   int
	cfg      []byte

	nals    [][]byte
	cursor  int
	sentCfg bool
	tsUS    int64
	stopped bool
}

// NewH264 reads path and its leading SPS/PPS eagerly, so Format can
// report the frame size parsed from the SPS without waiting for Start.
// fps paces playback since a raw Annex-B file carries no timing of its
// own; width/height override the SPS-parsed size when positive (some
// encoders emit SPS variants this package's golomb parser does not
// cover; see parseSPSDimensions).
func NewH264(path string, fps, width, height int) (*H264, error) {
	if fps <= 0 {
		fps = 30
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "filesource: reading %s", path)
	}
	h := &H264{frameDur: time.Second / time.Duration(fps), nals: splitAnnexB(data)}

	cfg, rest, ok := h.takeConfig()
	if !ok {
		return nil, errors.New("filesource: no SPS/PPS found before first frame")
	}
	h.cfg = cfg
	h.nals = rest

	h.width, h.height = width, height
	if h.width <= 0 || h.height <= 0 {
		sps := stripStartCodeH264(cfg)
		if end := bytes.Index(sps, h264StartCode); end >= 0 {
			sps = sps[:end]
		}
		if w, hh, err := parseSPSDimensions(sps); err == nil {
			h.width, h.height = w, hh
		}
	}
	return h, nil
}

func stripStartCodeH264(p []byte) []byte {
	if bytes.HasPrefix(p, h264StartCode) {
		return p[len(h264StartCode):]
	}
	return p
}

func (h *H264) Format() source.Format {
	return source.Format{MimeType: "video/avc", Width: h.width, Height: h.height}
}

func (h *H264) Stop() { h.stopped = true }

func (h *H264) Read() (*source.Buffer, error) {
	if h.stopped {
		return nil, io.EOF
	}
	if !h.sentCfg {
		h.sentCfg = true
		return source.NewBuffer(h.cfg, source.Meta{IsCodecConfig: true}, nil), nil
	}
	if h.cursor >= len(h.nals) {
		return nil, io.EOF
	}
	nal := h.nals[h.cursor]
	h.cursor++

	isIDR := len(nal) > 0 && nal[0]&0x1F == 5
	meta := source.Meta{IsSyncFrame: isIDR, HasTimestamp: true, TimestampUS: h.tsUS}
	h.tsUS += h.frameDur.Microseconds()

	payload := append(append([]byte(nil), h264StartCode...), nal...)
	return source.NewBuffer(payload, meta, nil), nil
}

// takeConfig pulls the leading SPS (type 7) and PPS (type 8) NALs out of
// h.nals and returns a single start-code-delimited blob matching what
// mp4mux's AVC config parser expects.
func (h *H264) takeConfig() (cfg []byte, rest [][]byte, ok bool) {
	var sps, pps []byte
	i := 0
	for i < len(h.nals) {
		nalType := h.nals[i][0] & 0x1F
		switch nalType {
		case 7:
			sps = h.nals[i]
			i++
			continue
		case 8:
			pps = h.nals[i]
			i++
			continue
		}
		break
	}
	if sps == nil || pps == nil {
		return nil, h.nals, false
	}
	cfg = append(append([]byte(nil), h264StartCode...), sps...)
	cfg = append(cfg, h264StartCode...)
	cfg = append(cfg, pps...)
	return cfg, h.nals[i:], true
}

// splitAnnexB breaks data into individual NAL units, stripping their
// Annex-B start codes (3- or 4-byte).
func splitAnnexB(data []byte) [][]byte {
	var nals [][]byte
	starts := findAllStartCodes(data)
	for i, s := range starts {
		end := len(data)
		if i+1 < len(starts) {
			end = starts[i+1].pos
		}
		nal := data[s.pos+s.len : end]
		if len(nal) > 0 {
			nals = append(nals, nal)
		}
	}
	return nals
}

type startCodeMatch struct {
	pos int
	len int
}

func findAllStartCodes(data []byte) []startCodeMatch {
	var out []startCodeMatch
	i := 0
	for i < len(data) {
		if bytes.HasPrefix(data[i:], []byte{0, 0, 1}) {
			if bytes.HasPrefix(data[i:], h264StartCode) {
				out = append(out, startCodeMatch{i, 4})
				i += 4
			} else {
				out = append(out, startCodeMatch{i, 3})
				i += 3
			}
			continue
		}
		i++
	}
	return out
}

// AAC reads ADTS frames from a .aac file, emitting a synthesized
// AudioSpecificConfig as codec-config followed by each frame's raw
// payload.
type AAC struct {
	data    []byte
	pos     int
	cfg     adtsHeader
	sentCfg bool
	tsUS    int64
	stopped bool
}

// NewAAC reads path and its leading ADTS header eagerly, so Format can
// report the real channel count and sample rate without waiting for
// Start.
func NewAAC(path string) (*AAC, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "filesource: reading %s", path)
	}
	hdr, err := parseADTSHeader(data)
	if err != nil {
		return nil, errors.Wrap(err, "filesource: parsing first ADTS frame")
	}
	return &AAC{data: data, cfg: hdr}, nil
}

func (a *AAC) Format() source.Format {
	return source.Format{
		MimeType:     "audio/mp4a-latm",
		ChannelCount: a.cfg.channelConfig,
		SampleRate:   adtsSampleRates[a.cfg.sampleRateIdx],
	}
}

func (a *AAC) Stop() { a.stopped = true }

func (a *AAC) Read() (*source.Buffer, error) {
	if a.stopped {
		return nil, io.EOF
	}
	if !a.sentCfg {
		a.sentCfg = true
		return source.NewBuffer(a.cfg.audioSpecificConfig(), source.Meta{IsCodecConfig: true}, nil), nil
	}
	if a.pos >= len(a.data) {
		return nil, io.EOF
	}
	hdr, err := parseADTSHeader(a.data[a.pos:])
	if err != nil {
		return nil, err
	}
	frameEnd := a.pos + hdr.frameLength
	if frameEnd > len(a.data) {
		return nil, io.EOF
	}
	payload := append([]byte(nil), a.data[a.pos+hdr.headerLen:frameEnd]...)
	a.pos = frameEnd

	meta := source.Meta{HasTimestamp: true, TimestampUS: a.tsUS}
	sampleRate := adtsSampleRates[hdr.sampleRateIdx]
	if sampleRate > 0 {
		a.tsUS += int64(1024) * 1e6 / int64(sampleRate)
	}
	return source.NewBuffer(payload, meta, nil), nil
}
