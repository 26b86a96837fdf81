package mp4mux

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/streammux/mp4mux/source"
	"github.com/streammux/mp4mux/utils/bits/pio"
)

const (
	defaultEstimatedMoovSize   = 0x0F00
	defaultInterleaveDuration  = 500 * time.Millisecond
	timescale                  = 1000 // mvhd/mdhd timescale: milliseconds
)

// Writer coordinates the output stream and every Track pulling samples
// into it. The zero value is not usable; construct with NewWriter or Open.
type Writer struct {
	mu sync.Mutex

	f       io.WriteSeeker
	closer  io.Closer
	offset  int64

	mdatOffset int64
	freeOffset int64

	estimatedMoovSize int64
	boxStack          []int64
	moovInMemory      bool
	moovBuf           []byte
	moovBufOffset     int64
	streamable        bool

	haveStartTimestamp bool
	startTimestampUS    int64

	interleaveDurationUS int64
	maxFileSizeBytes     int64
	maxFileDurationUS    int64

	tracks []*Track

	log  *logrus.Entry
	sink EventSink

	started bool
	stopped bool

	movieDurationMS int64
}

// NewWriter wraps an already-open output handle. f must support Seek so
// stop() can patch box lengths and the reserved moov region in place.
func NewWriter(f io.WriteSeeker) *Writer {
	w := &Writer{
		f:                     f,
		estimatedMoovSize:     defaultEstimatedMoovSize,
		interleaveDurationUS:  defaultInterleaveDuration.Microseconds(),
		streamable:            true,
		log:                   logrus.NewEntry(logrus.StandardLogger()),
	}
	w.sink = logSink{log: w.log}
	return w
}

// Open creates path for writing and returns a Writer over it. The file is
// closed by Stop.
func Open(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "mp4mux: open %s", path)
	}
	w := NewWriter(f)
	w.closer = f
	return w, nil
}

// SetLogger overrides the default logrus.StandardLogger() entry, letting
// a host attach its own fields (e.g. a recording-session ID).
func (w *Writer) SetLogger(log *logrus.Entry) {
	w.log = log
	w.sink = logSink{log: log}
}

// SetEventSink overrides the default log-only EventSink.
func (w *Writer) SetEventSink(sink EventSink) {
	w.sink = sink
}

// SetEstimatedMoovSize overrides the default 0x0F00-byte moov reservation.
func (w *Writer) SetEstimatedMoovSize(n int64) {
	if n < 8 {
		n = 8
	}
	w.estimatedMoovSize = n
}

// SetInterleaveDuration overrides the default 500ms chunk accumulation
// threshold. A zero duration makes every sample its own chunk.
func (w *Writer) SetInterleaveDuration(d time.Duration) {
	w.interleaveDurationUS = d.Microseconds()
}

// SetMaxFileSize bounds the total mdat payload size; 0 means unbounded.
func (w *Writer) SetMaxFileSize(bytes int64) {
	w.maxFileSizeBytes = bytes
}

// SetMaxFileDuration bounds the aggregate recording duration; 0 means
// unbounded.
func (w *Writer) SetMaxFileDuration(d time.Duration) {
	w.maxFileDurationUS = d.Microseconds()
}

// AddSource attaches a new Track wrapping src. Must be called before
// Start.
func (w *Writer) AddSource(src source.Source) *Track {
	t := newTrack(w, src, len(w.tracks)+1)
	w.tracks = append(w.tracks, t)
	return t
}

// Start writes the ftyp prelude, reserves the moov placeholder, opens
// mdat, and launches every Track's producer goroutine. If any Track
// fails to start, the Tracks already started are stopped and the error
// is returned.
func (w *Writer) Start() error {
	if w.f == nil {
		return ErrNoFile
	}
	if w.started {
		return ErrAlreadyStarted
	}
	w.started = true

	if err := w.writeFtyp(); err != nil {
		return err
	}

	w.freeOffset = w.offset
	if err := w.writeReservedFree(); err != nil {
		return err
	}

	w.mdatOffset = w.offset
	if err := w.writeMdatPlaceholder(); err != nil {
		return err
	}

	var started []*Track
	for _, t := range w.tracks {
		if err := t.start(); err != nil {
			for _, s := range started {
				s.requestStop()
				s.join()
			}
			return errors.Wrap(err, "mp4mux: starting track")
		}
		started = append(started, t)
	}
	return nil
}

func (w *Writer) writeFtyp() error {
	if err := w.beginBox("ftyp"); err != nil {
		return err
	}
	if err := w.writeFourCC("isom"); err != nil {
		return err
	}
	if err := w.writeU32(0); err != nil {
		return err
	}
	if err := w.writeFourCC("isom"); err != nil {
		return err
	}
	return w.endBox()
}

// writeReservedFree writes a free box whose body fills estimatedMoovSize
// bytes, later overwritten in place by the real moov plus a trailing
// free box sized to the slack.
func (w *Writer) writeReservedFree() error {
	if err := w.writeU32(uint32(w.estimatedMoovSize)); err != nil {
		return err
	}
	if err := w.writeFourCC("free"); err != nil {
		return err
	}
	return w.writeZeros(int(w.estimatedMoovSize) - 8)
}

// writeMdatPlaceholder writes the 16-byte mdat header with a 64-bit
// length placeholder, patched by Stop once every Track has finished.
func (w *Writer) writeMdatPlaceholder() error {
	if err := w.writeU32(1); err != nil { // length==1 signals a 64-bit size follows
		return err
	}
	if err := w.writeFourCC("mdat"); err != nil {
		return err
	}
	return w.writeU64(0)
}

// ReachedEOS reports whether every Track's producer has returned.
func (w *Writer) ReachedEOS() bool {
	for _, t := range w.tracks {
		if !t.reachedEOS() {
			return false
		}
	}
	return true
}

// setStartTimestamp elects the file-wide zero of the media timeline:
// first writer-wins, serialised by w.mu.
func (w *Writer) setStartTimestamp(us int64) int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.haveStartTimestamp {
		w.haveStartTimestamp = true
		w.startTimestampUS = us
	}
	return w.startTimestampUS
}

func (w *Writer) exceedsFileSizeLimit() bool {
	if w.maxFileSizeBytes <= 0 {
		return false
	}
	var total int64
	for _, t := range w.tracks {
		total += t.estimatedSizeBytesRead()
	}
	return total > w.maxFileSizeBytes
}

func (w *Writer) exceedsFileDurationLimit(timestampUS int64) bool {
	if w.maxFileDurationUS <= 0 {
		return false
	}
	if !w.haveStartTimestamp {
		return false
	}
	return timestampUS-w.startTimestampUS > w.maxFileDurationUS
}

// Stop is idempotent. It signals and joins every Track, patches the mdat
// size, then assembles moov - preferring the reserved free region, and
// falling back to an end-of-file placement when it doesn't fit.
func (w *Writer) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	w.mu.Unlock()

	for _, t := range w.tracks {
		t.requestStop()
	}
	for _, t := range w.tracks {
		t.join()
		if t.runErr != nil {
			w.log.WithError(t.runErr).WithField("track", t.id).Error("mp4mux: track aborted")
		}
	}

	var maxDuration int64
	for _, t := range w.tracks {
		if d := t.durationMS(); d > maxDuration {
			maxDuration = d
		}
	}
	w.movieDurationMS = maxDuration

	mdatSize := uint64(w.offset - w.mdatOffset)
	var sizeBuf [8]byte
	pio.PutU64BE(sizeBuf[:], mdatSize)
	if err := w.patchAt(w.mdatOffset+8, sizeBuf[:]); err != nil {
		return errors.Wrap(err, "mp4mux: patching mdat size")
	}

	w.moovBuf = make([]byte, w.estimatedMoovSize)
	w.moovBufOffset = 0
	w.moovInMemory = true

	if err := w.writeMoov(); err != nil {
		return errors.Wrap(err, "mp4mux: writing moov")
	}

	if w.moovInMemory {
		finishedBuf := w.moovBuf[:w.moovBufOffset]
		bufOffset := w.moovBufOffset
		w.moovInMemory = false // from here on, patchAt must target the file
		w.moovBuf = nil
		if err := w.patchAt(w.freeOffset, finishedBuf); err != nil {
			return err
		}
		slack := w.estimatedMoovSize - bufOffset
		var freeHdr [8]byte
		pio.PutU32BE(freeHdr[:4], uint32(slack))
		copy(freeHdr[4:], "free")
		if err := w.patchAt(w.freeOffset+bufOffset, freeHdr[:]); err != nil {
			return err
		}
	} else {
		w.log.Debug("mp4mux: moov exceeded reserved region, falling back to non-streamable layout")
	}

	if w.closer != nil {
		return w.closer.Close()
	}
	return nil
}

// IsStreamable reports whether moov ended up before mdat.
func (w *Writer) IsStreamable() bool { return w.streamable }

func (w *Writer) writeMoov() error {
	if err := w.beginBox("moov"); err != nil {
		return err
	}
	if err := w.writeMvhd(); err != nil {
		return err
	}
	for _, t := range w.tracks {
		if err := t.writeTrackHeader(); err != nil {
			return err
		}
	}
	return w.endBox()
}

// writeMvhd emits the movie header: timescale 1000 (ms), identity matrix,
// creation/modification time as 32-bit seconds since the local epoch
// rather than the 1904 ISO-BMFF epoch; see DESIGN.md Open Question 2.
func (w *Writer) writeMvhd() error {
	if err := w.beginBox("mvhd"); err != nil {
		return err
	}
	if err := w.writeU32(0); err != nil { // version + flags
		return err
	}
	now := uint32(time.Now().Unix())
	if err := w.writeU32(now); err != nil {
		return err
	}
	if err := w.writeU32(now); err != nil {
		return err
	}
	if err := w.writeU32(timescale); err != nil {
		return err
	}
	if err := w.writeU32(uint32(w.movieDurationMS)); err != nil {
		return err
	}
	if err := w.writeU32(0x00010000); err != nil { // rate 1.0
		return err
	}
	if err := w.writeU16(0x0100); err != nil { // volume 1.0
		return err
	}
	if err := w.writeU16(0); err != nil { // reserved
		return err
	}
	if err := w.writeU32(0); err != nil { // reserved
		return err
	}
	if err := w.writeU32(0); err != nil { // reserved
		return err
	}
	matrix := []uint32{0x00010000, 0, 0, 0, 0x00010000, 0, 0, 0, 0x40000000}
	for _, v := range matrix {
		if err := w.writeU32(v); err != nil {
			return err
		}
	}
	if err := w.writeZeros(24); err != nil { // pre_defined
		return err
	}
	if err := w.writeU32(uint32(len(w.tracks) + 1)); err != nil { // next_track_ID
		return err
	}
	return w.endBox()
}
