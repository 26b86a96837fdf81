package mp4mux

import "github.com/pkg/errors"

// Sentinel errors surfaced across package boundaries.
var (
	ErrNoFile          = errors.New("mp4mux: no output file")
	ErrAlreadyStarted  = errors.New("mp4mux: writer already started")
	ErrNotStarted      = errors.New("mp4mux: writer not started")
	ErrMalformedAVC    = errors.New("mp4mux: malformed AVC codec config")
	ErrMissingMIME     = errors.New("mp4mux: sample source missing mime_type")
	ErrMissingTime     = errors.New("mp4mux: sample missing timestamp_us")
	ErrMissingVideoDim = errors.New("mp4mux: video source missing width/height")
	ErrMissingAudioFmt = errors.New("mp4mux: audio source missing channel_count/sample_rate")
	ErrUnknownMIME     = errors.New("mp4mux: unrecognised mime_type")
)
