// Package memsource is a synthetic in-memory source.Source used to drive
// a Track's producer loop deterministically in tests, generalising the
// role a hand-rolled fake codec fixture plays in other muxer test suites.
package memsource

import (
	"io"
	"sync"

	"github.com/streammux/mp4mux/source"
)

// Sample is one canned entry a Source replays in order.
type Sample struct {
	Data          []byte
	IsCodecConfig bool
	IsSyncFrame   bool
	TimestampUS   int64
}

// Source replays a fixed slice of Samples, then returns io.EOF.
type Source struct {
	format  source.Format
	samples []Sample

	mu      sync.Mutex
	cursor  int
	stopped bool
}

func New(format source.Format, samples []Sample) *Source {
	return &Source{format: format, samples: samples}
}

func (s *Source) Format() source.Format { return s.format }

func (s *Source) Read() (*source.Buffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.cursor >= len(s.samples) {
		return nil, io.EOF
	}
	sm := s.samples[s.cursor]
	s.cursor++
	buf := source.NewBuffer(sm.Data, source.Meta{
		IsCodecConfig: sm.IsCodecConfig,
		IsSyncFrame:   sm.IsSyncFrame,
		HasTimestamp:  true,
		TimestampUS:   sm.TimestampUS,
	}, nil)
	return buf, nil
}

// Stop unblocks any future Read with io.EOF; Read never actually blocks
// in this Source, but Stop satisfies source.Stopper for symmetry with
// real sources.
func (s *Source) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}
