package mp4mux

import "github.com/sirupsen/logrus"

// Event is one of the host notifications a Writer can raise.
type Event int

const (
	InfoMaxFileSizeReached Event = iota
	InfoMaxDurationReached
	InfoStopPrematurely
)

func (e Event) String() string {
	switch e {
	case InfoMaxFileSizeReached:
		return "INFO_MAX_FILESIZE_REACHED"
	case InfoMaxDurationReached:
		return "INFO_MAX_DURATION_REACHED"
	case InfoStopPrematurely:
		return "INFO_STOP_PREMATURELY"
	default:
		return "INFO_UNKNOWN"
	}
}

// EventSink is the host-defined notification mechanism for Events.
// TrackID is 1-based, matching track insertion order.
type EventSink interface {
	OnEvent(event Event, trackID int)
}

// logSink is the default EventSink: it logs through the Writer's own
// *logrus.Entry rather than dropping events silently.
type logSink struct {
	log *logrus.Entry
}

func (s logSink) OnEvent(event Event, trackID int) {
	s.log.WithField("track", trackID).Info(event.String())
}
