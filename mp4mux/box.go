package mp4mux

import (
	"io"

	"github.com/pkg/errors"
	"github.com/streammux/mp4mux/utils/bits/pio"
)

// curPos returns the current emission position in whichever target
// (moov buffer or file) is presently active.
func (w *Writer) curPos() int64 {
	if w.moovInMemory {
		return w.moovBufOffset
	}
	return w.offset
}

// writeRaw appends p to the active target, switching out of the moov
// buffer into the file mid-emission if p would overflow the reserved
// region minus the 8 bytes the trailing free box needs.
func (w *Writer) writeRaw(p []byte) error {
	if w.moovInMemory {
		if w.moovBufOffset+int64(len(p)) > w.estimatedMoovSize-8 {
			return w.overflowToFile(p)
		}
		copy(w.moovBuf[w.moovBufOffset:], p)
		w.moovBufOffset += int64(len(p))
		return nil
	}
	n, err := w.f.Write(p)
	w.offset += int64(n)
	return err
}

// overflowToFile is the moov-placement fallback: every open box's saved
// stack position was relative to the buffer, so each is rebased by the
// current file offset before the buffered prefix and the rest of the
// moov are appended directly to the file, past mdat.
func (w *Writer) overflowToFile(pending []byte) error {
	for i := range w.boxStack {
		w.boxStack[i] += w.offset
	}
	prefix := w.moovBuf[:w.moovBufOffset]
	w.moovInMemory = false
	w.streamable = false
	if err := w.writeRaw(prefix); err != nil {
		return err
	}
	w.moovBuf = nil
	return w.writeRaw(pending)
}

// patchAt overwrites len(p) bytes already committed at pos, restoring
// the file cursor to w.offset afterwards so sequential writes continue
// correctly.
func (w *Writer) patchAt(pos int64, p []byte) error {
	if w.moovInMemory {
		copy(w.moovBuf[pos:], p)
		return nil
	}
	if _, err := w.f.Seek(pos, io.SeekStart); err != nil {
		return err
	}
	if _, err := w.f.Write(p); err != nil {
		return err
	}
	_, err := w.f.Seek(w.offset, io.SeekStart)
	return err
}

// beginBox pushes the current position and writes a 4-byte zero length
// placeholder followed by the FourCC.
func (w *Writer) beginBox(fourcc string) error {
	w.boxStack = append(w.boxStack, w.curPos())
	var hdr [8]byte
	copy(hdr[4:8], fourcc)
	return w.writeRaw(hdr[:])
}

// endBox pops the matching beginBox position and patches its length.
func (w *Writer) endBox() error {
	n := len(w.boxStack)
	if n == 0 {
		return errors.New("mp4mux: endBox with empty box stack")
	}
	pos := w.boxStack[n-1]
	w.boxStack = w.boxStack[:n-1]
	size := w.curPos() - pos
	var buf [4]byte
	pio.PutU32BE(buf[:], uint32(size))
	return w.patchAt(pos, buf[:])
}

func (w *Writer) writeU8(v uint8) error {
	return w.writeRaw([]byte{v})
}

func (w *Writer) writeU16(v uint16) error {
	var b [2]byte
	pio.PutU16BE(b[:], v)
	return w.writeRaw(b[:])
}

func (w *Writer) writeU24(v uint32) error {
	var b [3]byte
	pio.PutU24BE(b[:], v)
	return w.writeRaw(b[:])
}

func (w *Writer) writeU32(v uint32) error {
	var b [4]byte
	pio.PutU32BE(b[:], v)
	return w.writeRaw(b[:])
}

func (w *Writer) writeU64(v uint64) error {
	var b [8]byte
	pio.PutU64BE(b[:], v)
	return w.writeRaw(b[:])
}

func (w *Writer) writeFourCC(s string) error {
	return w.writeRaw([]byte(s))
}

// writeBytes appends an arbitrary-length payload (descriptor bodies,
// codec config blobs) verbatim.
func (w *Writer) writeBytes(p []byte) error {
	return w.writeRaw(p)
}

// writeCString writes s followed by a single NUL terminator.
func (w *Writer) writeCString(s string) error {
	if err := w.writeRaw([]byte(s)); err != nil {
		return err
	}
	return w.writeU8(0)
}

func (w *Writer) writeZeros(n int) error {
	if n <= 0 {
		return nil
	}
	return w.writeRaw(make([]byte, n))
}

// addSample appends a raw sample payload to the file at the current
// offset and returns the pre-write offset to record as a chunk offset.
// Callers must hold w.mu.
func (w *Writer) addSample(p []byte) (int64, error) {
	pre := w.offset
	return pre, w.writeRaw(p)
}

// addLengthPrefixedSample writes a 4-byte big-endian length followed by
// the payload, used for H.264 NAL units. Callers must hold w.mu.
func (w *Writer) addLengthPrefixedSample(p []byte) (int64, error) {
	pre := w.offset
	var lenbuf [4]byte
	pio.PutU32BE(lenbuf[:], uint32(len(p)))
	if err := w.writeRaw(lenbuf[:]); err != nil {
		return pre, err
	}
	return pre, w.writeRaw(p)
}
