// Package rtpsource adapts a live WebRTC track into a source.Source,
// depacketizing RTP into the Annex-B NAL units mp4mux's AVC track
// expects.
package rtpsource

import (
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v3"

	"github.com/streammux/mp4mux/source"
)

var h264StartCode = []byte{0x00, 0x00, 0x00, 0x01}

// pendingNAL is one decoded NAL unit waiting to be handed out as a
// source.Buffer, with the metadata it should carry.
type pendingNAL struct {
	data          []byte
	isCodecConfig bool
	isSyncFrame   bool
	timestampUS   int64
}

// H264 depacketizes a webrtc.TrackRemote carrying H.264 into Annex-B NAL
// units, one per Read, pairing SPS+PPS into a single codec-config Buffer
// the first time both are seen in the same access unit.
type H264 struct {
	SessionID uuid.UUID

	track        *webrtc.TrackRemote
	depacketizer rtp.Depacketizer
	width        int
	height       int

	mu        sync.Mutex
	accum     []byte
	pending   []pendingNAL
	sentCfg   bool
	firstRTP  uint32
	haveFirst bool
	stopped   bool
}

// NewH264 wraps track, which must carry the H.264 payload type negotiated
// in the SDP answer (mp4mux has no SDP layer of its own; the caller's
// signaling does that negotiation). width/height come from the same
// signaling, since RTP carries no frame-size hint of its own.
func NewH264(track *webrtc.TrackRemote, width, height int) *H264 {
	return &H264{
		SessionID:    uuid.New(),
		track:        track,
		depacketizer: &codecs.H264Packet{},
		width:        width,
		height:       height,
	}
}

func (h *H264) Format() source.Format {
	return source.Format{MimeType: "video/avc", Width: h.width, Height: h.height}
}

func (h *H264) Stop() {
	h.mu.Lock()
	h.stopped = true
	h.mu.Unlock()
}

// Read blocks on the track's RTP stream until a full access unit (marked
// by the RTP marker bit) has been depacketized, then drains it one NAL
// at a time.
func (h *H264) Read() (*source.Buffer, error) {
	for {
		h.mu.Lock()
		if h.stopped {
			h.mu.Unlock()
			return nil, io.EOF
		}
		if len(h.pending) > 0 {
			nal := h.pending[0]
			h.pending = h.pending[1:]
			h.mu.Unlock()
			return bufferFor(nal), nil
		}
		h.mu.Unlock()

		pkt, _, err := h.track.ReadRTP()
		if err != nil {
			return nil, err
		}

		out, err := h.depacketizer.Unmarshal(pkt.Payload)
		if err != nil {
			continue // malformed fragment; drop and resync on the next packet
		}

		h.mu.Lock()
		h.accum = append(h.accum, out...)
		if pkt.Marker {
			nals := splitAnnexB(h.accum)
			h.accum = nil
			h.queueAccessUnit(nals, pkt.Timestamp)
		}
		h.mu.Unlock()
	}
}

// queueAccessUnit splits a completed access unit into its SPS/PPS
// codec-config pair (queued once, the first time it's seen) and its
// ordinary slice NALs, stamping each with the RTP-clock-derived
// timestamp. Called with h.mu held.
func (h *H264) queueAccessUnit(nals [][]byte, rtpTimestamp uint32) {
	if !h.haveFirst {
		h.firstRTP = rtpTimestamp
		h.haveFirst = true
	}

	var sps, pps []byte
	for _, nal := range nals {
		switch nal[0] & 0x1F {
		case 7:
			sps = nal
		case 8:
			pps = nal
		}
	}
	if !h.sentCfg && sps != nil && pps != nil {
		cfg := append(append([]byte(nil), h264StartCode...), sps...)
		cfg = append(cfg, h264StartCode...)
		cfg = append(cfg, pps...)
		h.pending = append(h.pending, pendingNAL{data: cfg, isCodecConfig: true})
		h.sentCfg = true
	}

	timestampUS := h.rtpToUS(rtpTimestamp)
	for _, nal := range nals {
		switch nal[0] & 0x1F {
		case 7, 8:
			continue // already folded into the codec-config pair above
		}
		h.pending = append(h.pending, pendingNAL{
			data:        nal,
			isSyncFrame: nal[0]&0x1F == 5,
			timestampUS: timestampUS,
		})
	}
}

// rtpToUS converts an RTP timestamp (90kHz clock for H.264) to
// microseconds elapsed since the track's first packet, handling 32-bit
// wraparound via signed wrap-safe subtraction.
func (h *H264) rtpToUS(ts uint32) int64 {
	delta := int64(int32(ts - h.firstRTP))
	return delta * 1000000 / 90000
}

func bufferFor(p pendingNAL) *source.Buffer {
	meta := source.Meta{
		IsCodecConfig: p.isCodecConfig,
		IsSyncFrame:   p.isSyncFrame,
		HasTimestamp:  !p.isCodecConfig,
		TimestampUS:   p.timestampUS,
	}
	return source.NewBuffer(p.data, meta, nil)
}

func splitAnnexB(data []byte) [][]byte {
	var nals [][]byte
	starts := findStartCodes(data)
	for i, pos := range starts {
		end := len(data)
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		start := pos + 3
		if nal := data[start:end]; len(nal) > 0 {
			nals = append(nals, nal)
		}
	}
	return nals
}

func findStartCodes(data []byte) []int {
	var out []int
	i := 0
	for i < len(data)-2 {
		if data[i] == 0 && data[i+1] == 0 && data[i+2] == 1 {
			out = append(out, i)
			i += 3
			continue
		}
		i++
	}
	return out
}
