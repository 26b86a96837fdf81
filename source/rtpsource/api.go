package rtpsource

import (
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"
)

// NewAPI builds a pion webrtc.API registering only the H.264 codec this
// package's H264 source depacketizes, with the default interceptor set
// (NACK generation/response, RTCP sender/receiver reports) a live peer
// connection needs for usable RTP.
func NewAPI() (*webrtc.API, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeH264,
			ClockRate:   90000,
			SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
		},
		PayloadType: 102,
	}, webrtc.RTPCodecTypeVideo); err != nil {
		return nil, err
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, err
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
	), nil
}

// NewPeerConnection builds a webrtc.PeerConnection through NewAPI, the
// entry point a signaling layer uses before calling NewH264 on the
// TrackRemote it receives via OnTrack.
func NewPeerConnection(cfg webrtc.Configuration) (*webrtc.PeerConnection, error) {
	api, err := NewAPI()
	if err != nil {
		return nil, err
	}
	return api.NewPeerConnection(cfg)
}
