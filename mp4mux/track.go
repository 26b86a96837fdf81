package mp4mux

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/streammux/mp4mux/codec"
	"github.com/streammux/mp4mux/source"
)

// sampleInfo is one accepted sample's accounting entry.
type sampleInfo struct {
	sizeBytes   int
	timestampMS int64
}

// sttsEntry run-length-encodes consecutive samples sharing a decode-time
// delta.
type sttsEntry struct {
	sampleCount      int64
	sampleDurationMS int64
}

// stscEntry is one run of chunks carrying the same sample count.
type stscEntry struct {
	firstChunk      int64
	samplesPerChunk int64
	descriptionID   int64
}

// chunkSample is a fully-conditioned sample payload waiting in the
// current chunk for its flush.
type chunkSample struct {
	payload []byte
	info    sampleInfo
}

// Track owns one media stream's producer goroutine and the index tables
// its samples build. Create one with Writer.AddSource.
type Track struct {
	w   *Writer
	src source.Source
	id  int

	format source.Format
	kind   codec.Kind

	codecConfig       []byte
	gotAllCodecConfig bool

	doneCh   chan struct{}
	finished chan struct{}
	runErr   error

	estimatedSizeBytes atomic.Int64
	maxTimestampUS     atomic.Int64
	reachedEOSFlag     atomic.Bool
	acceptedAnySample  bool

	haveFirstTimestamp  bool
	firstTimestampUS    int64
	startTimestampUS    int64 // this track's offset from the writer's zero

	sampleInfos []sampleInfo
	sameSize    bool
	firstSize   int

	sttsEntries      []sttsEntry
	sttsSampleCount  int64
	sttsLastDuration int64
	lastTimestampMS  int64

	stssEntries []int64

	stscEntries     []stscEntry
	chunkCount      int64
	chunkTimestampUS int64
	chunkSamples     []chunkSample

	chunkOffsets []int64

	mu sync.Mutex // guards doneCh close against double-stop
}

func newTrack(w *Writer, src source.Source, id int) *Track {
	return &Track{
		w:        w,
		src:      src,
		id:       id,
		format:   src.Format(),
		doneCh:   make(chan struct{}),
		finished: make(chan struct{}),
		sameSize: true,
	}
}

// ID returns this track's 1-based index in insertion order.
func (t *Track) ID() int { return t.id }

// estimatedSizeBytesRead reads the running sum of emitted sample sizes,
// used by Writer.exceedsFileSizeLimit to sum across tracks.
func (t *Track) estimatedSizeBytesRead() int64 { return t.estimatedSizeBytes.Load() }

func (t *Track) reachedEOS() bool { return t.reachedEOSFlag.Load() }

func (t *Track) durationMS() int64 {
	if !t.haveFirstTimestamp {
		return 0
	}
	maxUS := t.maxTimestampUS.Load()
	d := (maxUS - t.firstTimestampUS + 500) / 1000
	if d < 0 {
		return 0
	}
	return d
}

// start resolves the track's codec.Kind from its format and launches the
// producer goroutine. Kind resolution happening here (rather than lazily
// on the first sample) is what lets the sample loop carry it as an
// immutable field instead of re-deriving it per sample.
func (t *Track) start() error {
	kind, ok := codec.FromMIME(t.format.MimeType)
	if !ok {
		return errors.Wrapf(ErrUnknownMIME, "mime=%q", t.format.MimeType)
	}
	t.kind = kind

	if kind.IsVideo() && (t.format.Width <= 0 || t.format.Height <= 0) {
		return ErrMissingVideoDim
	}
	if kind.IsAudio() && (t.format.ChannelCount <= 0 || t.format.SampleRate <= 0) {
		return ErrMissingAudioFmt
	}

	if starter, ok := t.src.(source.Starter); ok {
		if err := starter.Start(); err != nil {
			return errors.Wrap(err, "starting source")
		}
	}

	go t.run()
	return nil
}

func (t *Track) requestStop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	select {
	case <-t.doneCh:
	default:
		close(t.doneCh)
	}
	if stopper, ok := t.src.(source.Stopper); ok {
		stopper.Stop()
	}
}

func (t *Track) join() {
	<-t.finished
}

func (t *Track) stopRequested() bool {
	select {
	case <-t.doneCh:
		return true
	default:
		return false
	}
}

// run is the producer loop driving one Track: pull samples, capture codec
// config, feed the index tables, and flush chunks until the source ends
// or the track is asked to stop.
func (t *Track) run() {
	defer func() {
		t.reachedEOSFlag.Store(true)
		close(t.finished)
	}()

	zeroLenCount := 0
	firstFallbackSample := []byte(nil)
	fallbackSampleCount := 0

	for {
		if t.stopRequested() {
			break
		}

		buf, err := t.src.Read()
		if err != nil {
			break
		}

		data := buf.Bytes()
		if len(data) == 0 {
			zeroLenCount++
			buf.Release()
			continue
		}

		if buf.Meta.IsCodecConfig {
			if t.kind == codec.AVC {
				cfg, cfgErr := makeAVCConfig(data)
				if cfgErr != nil {
					t.runErr = cfgErr
					buf.Release()
					break
				}
				t.codecConfig = cfg
			} else {
				t.codecConfig = append([]byte(nil), data...)
			}
			t.gotAllCodecConfig = true
			buf.Release()
			continue
		}

		if !t.gotAllCodecConfig && t.kind == codec.MPEG4V {
			if config, sample, ok := splitMPEG4VOL(data); ok {
				t.codecConfig = append([]byte(nil), config...)
				t.gotAllCodecConfig = true
				data = append([]byte(nil), sample...)
			} else {
				t.codecConfig = append([]byte(nil), config...)
				t.gotAllCodecConfig = true
				buf.Release()
				continue
			}
		} else if !t.gotAllCodecConfig && t.kind == codec.AVC {
			fallbackSampleCount++
			switch fallbackSampleCount {
			case 1:
				firstFallbackSample = append([]byte(nil), data...)
				buf.Release()
				continue
			case 2:
				combined := append(append([]byte(nil), startCode...), firstFallbackSample...)
				combined = append(combined, startCode...)
				combined = append(combined, data...)
				cfg, cfgErr := makeAVCConfig(combined)
				if cfgErr != nil {
					t.runErr = cfgErr
					break
				}
				t.codecConfig = cfg
				t.gotAllCodecConfig = true
				buf.Release()
				continue
			}
		}
		if t.runErr != nil {
			buf.Release()
			break
		}

		if !t.processSample(data, buf.Meta) {
			buf.Release()
			break
		}
		buf.Release()
	}

	if len(t.chunkSamples) > 0 {
		t.chunkCount++
		t.stscEntries = append(t.stscEntries, stscEntry{t.chunkCount, int64(len(t.chunkSamples)), 1})
	}
	t.flushChunk()
	t.finalizeSTTS()

	if !t.acceptedAnySample {
		t.w.sink.OnEvent(InfoStopPrematurely, t.id)
	}
	_ = zeroLenCount
}

// processSample accounts one sample into the size/duration/sync/chunk
// tables and writer-wide limits. It returns false if the track should
// stop (limit reached or malformed metadata).
func (t *Track) processSample(data []byte, meta source.Meta) bool {
	payload := data
	if t.kind == codec.AVC {
		payload = stripStartCode(payload)
	}
	payload = append([]byte(nil), payload...) // deep copy; source buffer released by caller

	size := len(payload)
	if t.kind == codec.AVC {
		size += 4
	}

	t.estimatedSizeBytes.Add(int64(size))
	if t.w.exceedsFileSizeLimit() {
		t.estimatedSizeBytes.Add(-int64(size))
		t.w.sink.OnEvent(InfoMaxFileSizeReached, t.id)
		return false
	}

	if !meta.HasTimestamp {
		t.runErr = ErrMissingTime
		return false
	}
	timestampUS := meta.TimestampUS

	if t.w.exceedsFileDurationLimit(timestampUS) {
		t.w.sink.OnEvent(InfoMaxDurationReached, t.id)
		return false
	}

	if !t.haveFirstTimestamp {
		writerStart := t.w.setStartTimestamp(timestampUS)
		t.startTimestampUS = timestampUS - writerStart
		t.haveFirstTimestamp = true
		t.firstTimestampUS = timestampUS
	}

	if cur := t.maxTimestampUS.Load(); timestampUS > cur {
		t.maxTimestampUS.Store(timestampUS)
	}

	timestampMS := (timestampUS + 500) / 1000
	info := sampleInfo{sizeBytes: size, timestampMS: timestampMS}
	t.acceptedAnySample = true

	if len(t.sampleInfos) == 0 {
		t.firstSize = size
	} else if size != t.firstSize {
		t.sameSize = false
	}

	if len(t.sampleInfos) >= 2 {
		delta := timestampMS - t.lastTimestampMS
		if delta != t.sttsLastDuration {
			t.sttsEntries = append(t.sttsEntries, sttsEntry{t.sttsSampleCount, t.sttsLastDuration})
			t.sttsSampleCount = 1
		} else {
			t.sttsSampleCount++
		}
	}
	if len(t.sampleInfos) == 0 {
		t.sttsSampleCount = 1
	} else {
		t.sttsLastDuration = timestampMS - t.lastTimestampMS
	}
	t.lastTimestampMS = timestampMS

	t.sampleInfos = append(t.sampleInfos, info)

	if meta.IsSyncFrame {
		t.stssEntries = append(t.stssEntries, int64(len(t.sampleInfos)))
	}

	t.chunkSamples = append(t.chunkSamples, chunkSample{payload: payload, info: info})

	t.accountChunkBoundary(timestampUS)

	return true
}

// accountChunkBoundary closes the current chunk once interleaveDurationUS
// has elapsed since the chunk's first sample (or, with interleaving
// disabled, after every sample).
func (t *Track) accountChunkBoundary(timestampUS int64) {
	if t.w.interleaveDurationUS == 0 {
		t.chunkCount++
		t.stscEntries = append(t.stscEntries, stscEntry{t.chunkCount, 1, 1})
		t.flushChunk()
		return
	}

	if len(t.chunkSamples) == 1 {
		t.chunkTimestampUS = timestampUS
		return
	}

	if timestampUS-t.chunkTimestampUS > t.w.interleaveDurationUS {
		t.chunkCount++
		n := int64(len(t.chunkSamples))
		if len(t.stscEntries) == 0 || t.stscEntries[len(t.stscEntries)-1].samplesPerChunk != n {
			t.stscEntries = append(t.stscEntries, stscEntry{t.chunkCount, n, 1})
		}
		t.flushChunk()
		t.chunkTimestampUS = timestampUS
	}
}

// flushChunk acquires the Writer lock, appends every pending sample,
// records the first sample's offset as the chunk offset, and releases
// the lock.
func (t *Track) flushChunk() {
	if len(t.chunkSamples) == 0 {
		return
	}

	t.w.mu.Lock()
	var firstOffset int64
	for i, cs := range t.chunkSamples {
		var off int64
		var err error
		if t.kind == codec.AVC {
			off, err = t.w.addLengthPrefixedSample(cs.payload)
		} else {
			off, err = t.w.addSample(cs.payload)
		}
		if i == 0 {
			firstOffset = off
		}
		if err != nil {
			t.w.log.WithError(err).WithField("track", t.id).Error("mp4mux: writing sample")
			break
		}
	}
	t.w.mu.Unlock()

	t.chunkOffsets = append(t.chunkOffsets, firstOffset)
	t.chunkSamples = t.chunkSamples[:0]
}

// finalizeSTTS closes out the run-length stts accumulator with whatever
// run was still open when the track ran out of samples.
func (t *Track) finalizeSTTS() {
	if len(t.sampleInfos) == 0 {
		return
	}
	if len(t.sampleInfos) == 1 {
		t.sttsEntries = append(t.sttsEntries, sttsEntry{1, 0})
		return
	}
	t.sttsSampleCount++
	t.sttsEntries = append(t.sttsEntries, sttsEntry{t.sttsSampleCount, t.sttsLastDuration})
}
