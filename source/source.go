// Package source defines the pull interface mp4mux tracks consume.
package source

// Format describes a track's static shape, reported once by its Source.
type Format struct {
	MimeType     string
	Width        int
	Height       int
	ChannelCount int
	SampleRate   int
}

// Meta is the per-sample metadata bag a Source attaches to every Buffer.
type Meta struct {
	IsCodecConfig bool
	IsSyncFrame   bool
	HasTimestamp  bool
	TimestampUS   int64
}

// Buffer is one sample handed to a Track by its Source. RangeOffset and
// RangeLength let a Source reuse a backing array across buffers without
// copying; Bytes returns the active slice.
type Buffer struct {
	Data        []byte
	RangeOffset int
	RangeLength int
	Meta        Meta

	release func()
}

func NewBuffer(data []byte, meta Meta, release func()) *Buffer {
	return &Buffer{Data: data, RangeOffset: 0, RangeLength: len(data), Meta: meta, release: release}
}

func (b *Buffer) SetRange(offset, length int) {
	b.RangeOffset = offset
	b.RangeLength = length
}

func (b *Buffer) Bytes() []byte {
	return b.Data[b.RangeOffset : b.RangeOffset+b.RangeLength]
}

// Release returns the buffer to its Source's pool, if it has one.
func (b *Buffer) Release() {
	if b.release != nil {
		b.release()
	}
}

// Source is the blocking sample producer a Track pulls from. Read returns
// io.EOF (or any other non-nil error) as the terminal status; a nil error
// means buf is a valid sample.
type Source interface {
	Format() Format
	Read() (buf *Buffer, err error)
}

// Starter is an optional interface a Source may implement to run setup
// that can fail when a Writer starts its tracks.
type Starter interface {
	Start() error
}

// Stopper is an optional interface a Source may implement to unblock a
// pending Read when the owning Track is asked to stop.
type Stopper interface {
	Stop()
}
