package mp4mux

import (
	"encoding/binary"
	"io"
	"time"

	"github.com/pkg/errors"
)

// memFile is an in-memory io.WriteSeeker standing in for an *os.File in
// tests, so Writer's Seek-based patching can be exercised without
// touching the filesystem.
type memFile struct {
	buf []byte
	pos int64
}

func (m *memFile) Write(p []byte) (int, error) {
	end := m.pos + int64(len(p))
	if end > int64(len(m.buf)) {
		grown := make([]byte, end)
		copy(grown, m.buf)
		m.buf = grown
	}
	copy(m.buf[m.pos:end], p)
	m.pos = end
	return len(p), nil
}

func (m *memFile) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		m.pos = offset
	case io.SeekCurrent:
		m.pos += offset
	case io.SeekEnd:
		m.pos = int64(len(m.buf)) + offset
	default:
		return 0, errors.New("memFile: bad whence")
	}
	return m.pos, nil
}

func (m *memFile) Close() error { return nil }

// parsedBox is one box's header and payload slice, as found by parseBoxes.
type parsedBox struct {
	fourcc string
	size   int64
	header int64
	data   []byte
}

// parseBoxes walks a flat byte run as a sequence of ISO-BMFF boxes,
// requiring the declared sizes to exactly tile the input with no gap or
// overlap - which is exactly invariant 1 (box length == byte span).
func parseBoxes(data []byte) ([]parsedBox, error) {
	var out []parsedBox
	pos := int64(0)
	for pos < int64(len(data)) {
		if pos+8 > int64(len(data)) {
			return nil, errors.New("parseBoxes: truncated header")
		}
		size32 := binary.BigEndian.Uint32(data[pos : pos+4])
		fourcc := string(data[pos+4 : pos+8])
		boxSize := int64(size32)
		header := int64(8)
		if size32 == 1 {
			if pos+16 > int64(len(data)) {
				return nil, errors.New("parseBoxes: truncated largesize")
			}
			boxSize = int64(binary.BigEndian.Uint64(data[pos+8 : pos+16]))
			header = 16
		}
		if boxSize < header || pos+boxSize > int64(len(data)) {
			return nil, errors.Errorf("parseBoxes: box %q invalid size %d at %d", fourcc, boxSize, pos)
		}
		out = append(out, parsedBox{fourcc: fourcc, size: boxSize, header: header, data: data[pos+header : pos+boxSize]})
		pos += boxSize
	}
	return out, nil
}

// containerPrefixLen gives the number of bytes of fixed fields preceding
// a container box's list of children, for the box types write_track_header
// and writeMoov ever nest boxes under.
var containerPrefixLen = map[string]int{
	"moov": 0, "trak": 0, "mdia": 0, "minf": 0, "dinf": 0, "edts": 0, "stbl": 0,
	"stsd": 8, "dref": 8,
	"avc1": 78, "mp4v": 78, "s263": 78,
	"mp4a": 28, "samr": 28, "sawb": 28,
}

// walkBoxTree recursively parses every box reachable from data, calling
// visit on each. A parse error (size mismatch anywhere in the tree) is
// returned rather than panicking, so callers can assert on it.
func walkBoxTree(data []byte, visit func(parsedBox)) error {
	boxes, err := parseBoxes(data)
	if err != nil {
		return err
	}
	for _, b := range boxes {
		visit(b)
		if prefix, ok := containerPrefixLen[b.fourcc]; ok {
			if prefix > len(b.data) {
				return errors.Errorf("walkBoxTree: box %q shorter than its fixed prefix", b.fourcc)
			}
			if err := walkBoxTree(b.data[prefix:], visit); err != nil {
				return err
			}
		}
	}
	return nil
}

// findBox returns the first top-level box in data with the given fourcc.
func findBox(data []byte, fourcc string) (parsedBox, bool) {
	boxes, err := parseBoxes(data)
	if err != nil {
		return parsedBox{}, false
	}
	for _, b := range boxes {
		if b.fourcc == fourcc {
			return b, true
		}
	}
	return parsedBox{}, false
}

// findChild looks up a child box by fourcc inside a container box already
// located by findBox/findChild, accounting for containerPrefixLen.
func findChild(b parsedBox, fourcc string) (parsedBox, bool) {
	prefix := containerPrefixLen[b.fourcc]
	if prefix > len(b.data) {
		return parsedBox{}, false
	}
	boxes, err := parseBoxes(b.data[prefix:])
	if err != nil {
		return parsedBox{}, false
	}
	for _, c := range boxes {
		if c.fourcc == fourcc {
			return c, true
		}
	}
	return parsedBox{}, false
}

// findPath walks a sequence of fourccs from the top level down, using
// findBox for the first hop and findChild for every subsequent one.
func findPath(data []byte, path ...string) (parsedBox, bool) {
	if len(path) == 0 {
		return parsedBox{}, false
	}
	cur, ok := findBox(data, path[0])
	if !ok {
		return parsedBox{}, false
	}
	for _, name := range path[1:] {
		cur, ok = findChild(cur, name)
		if !ok {
			return parsedBox{}, false
		}
	}
	return cur, true
}

func waitForEOS(w *Writer, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if w.ReachedEOS() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return w.ReachedEOS()
}
