package mp4mux

import (
	"time"

	"github.com/streammux/mp4mux/codec"
)

// writeTrackHeader emits this track's trak subtree: tkhd, an optional
// edts for tracks that start later than the movie, then mdia.
func (t *Track) writeTrackHeader() error {
	w := t.w

	if err := w.beginBox("trak"); err != nil {
		return err
	}
	if err := t.writeTkhd(); err != nil {
		return err
	}
	if t.startTimestampUS > 0 {
		if err := t.writeEdts(); err != nil {
			return err
		}
	}
	if err := t.writeMdia(); err != nil {
		return err
	}
	return w.endBox()
}

// writeTkhd emits tkhd: width/height as 16.16 fixed point, audio volume
// 0x0100, video volume 0.
func (t *Track) writeTkhd() error {
	w := t.w
	if err := w.beginBox("tkhd"); err != nil {
		return err
	}
	if err := w.writeU32(0x00000007); err != nil { // version 0, flags enabled|in-movie|in-preview
		return err
	}
	now := uint32(time.Now().Unix()) // local epoch, see DESIGN.md Open Question 2
	if err := w.writeU32(now); err != nil {
		return err
	}
	if err := w.writeU32(now); err != nil {
		return err
	}
	if err := w.writeU32(uint32(t.id)); err != nil {
		return err
	}
	if err := w.writeU32(0); err != nil { // reserved
		return err
	}
	if err := w.writeU32(uint32(t.durationMS())); err != nil {
		return err
	}
	if err := w.writeU64(0); err != nil { // reserved
		return err
	}
	if err := w.writeU32(0); err != nil { // layer + alternate_group
		return err
	}
	if t.kind.IsAudio() {
		if err := w.writeU16(0x0100); err != nil {
			return err
		}
	} else {
		if err := w.writeU16(0); err != nil {
			return err
		}
	}
	if err := w.writeU16(0); err != nil { // reserved
		return err
	}
	matrix := []uint32{0x00010000, 0, 0, 0, 0x00010000, 0, 0, 0, 0x40000000}
	for _, v := range matrix {
		if err := w.writeU32(v); err != nil {
			return err
		}
	}
	width, height := 0, 0
	if t.kind.IsVideo() {
		width, height = t.format.Width, t.format.Height
	}
	if err := w.writeU32(uint32(width) << 16); err != nil {
		return err
	}
	if err := w.writeU32(uint32(height) << 16); err != nil {
		return err
	}
	return w.endBox()
}

// writeEdts emits edts/elst: a single empty edit delaying playback by
// this track's start offset.
func (t *Track) writeEdts() error {
	w := t.w
	if err := w.beginBox("edts"); err != nil {
		return err
	}
	if err := w.beginBox("elst"); err != nil {
		return err
	}
	if err := w.writeU32(0); err != nil { // version + flags
		return err
	}
	if err := w.writeU32(1); err != nil { // entry count
		return err
	}
	durationMS := (t.startTimestampUS + 500) / 1000
	if err := w.writeU32(uint32(durationMS)); err != nil {
		return err
	}
	if err := w.writeU32(0xFFFFFFFF); err != nil { // media_time = -1
		return err
	}
	if err := w.writeU32(0x00010000); err != nil { // rate = 1
		return err
	}
	if err := w.endBox(); err != nil {
		return err
	}
	return w.endBox()
}

func (t *Track) writeMdia() error {
	w := t.w
	if err := w.beginBox("mdia"); err != nil {
		return err
	}
	if err := t.writeMdhd(); err != nil {
		return err
	}
	if err := t.writeHdlr(); err != nil {
		return err
	}
	if err := t.writeMinf(); err != nil {
		return err
	}
	return w.endBox()
}

func (t *Track) writeMdhd() error {
	w := t.w
	if err := w.beginBox("mdhd"); err != nil {
		return err
	}
	if err := w.writeU32(0); err != nil {
		return err
	}
	now := uint32(time.Now().Unix()) // local epoch, see DESIGN.md Open Question 2
	if err := w.writeU32(now); err != nil {
		return err
	}
	if err := w.writeU32(now); err != nil {
		return err
	}
	if err := w.writeU32(timescale); err != nil {
		return err
	}
	if err := w.writeU32(uint32(t.durationMS())); err != nil {
		return err
	}
	if err := w.writeU16(0x55C4); err != nil { // language "und"
		return err
	}
	if err := w.writeU16(0); err != nil { // pre_defined
		return err
	}
	return w.endBox()
}

func (t *Track) writeHdlr() error {
	w := t.w
	if err := w.beginBox("hdlr"); err != nil {
		return err
	}
	if err := w.writeU32(0); err != nil {
		return err
	}
	if err := w.writeU32(0); err != nil { // pre_defined
		return err
	}
	if err := w.writeFourCC(t.kind.HandlerSubtype()); err != nil {
		return err
	}
	if err := w.writeZeros(12); err != nil { // reserved
		return err
	}
	name := ""
	if t.kind.IsAudio() {
		name = "SoundHandler"
	}
	if err := w.writeCString(name); err != nil {
		return err
	}
	return w.endBox()
}

func (t *Track) writeMinf() error {
	w := t.w
	if err := w.beginBox("minf"); err != nil {
		return err
	}
	if t.kind.IsAudio() {
		if err := t.writeSmhd(); err != nil {
			return err
		}
	} else {
		if err := t.writeVmhd(); err != nil {
			return err
		}
	}
	if err := t.writeDinf(); err != nil {
		return err
	}
	if err := t.writeStbl(); err != nil {
		return err
	}
	return w.endBox()
}

func (t *Track) writeSmhd() error {
	w := t.w
	if err := w.beginBox("smhd"); err != nil {
		return err
	}
	if err := w.writeU32(0); err != nil {
		return err
	}
	if err := w.writeU16(0); err != nil { // balance
		return err
	}
	if err := w.writeU16(0); err != nil { // reserved
		return err
	}
	return w.endBox()
}

func (t *Track) writeVmhd() error {
	w := t.w
	if err := w.beginBox("vmhd"); err != nil {
		return err
	}
	if err := w.writeU32(1); err != nil { // version 0, flags 1
		return err
	}
	if err := w.writeU64(0); err != nil { // graphicsmode + opcolor
		return err
	}
	return w.endBox()
}

func (t *Track) writeDinf() error {
	w := t.w
	if err := w.beginBox("dinf"); err != nil {
		return err
	}
	if err := w.beginBox("dref"); err != nil {
		return err
	}
	if err := w.writeU32(0); err != nil {
		return err
	}
	if err := w.writeU32(1); err != nil { // entry count
		return err
	}
	if err := w.beginBox("url "); err != nil {
		return err
	}
	if err := w.writeU32(1); err != nil { // version 0, flags 1 (self-contained)
		return err
	}
	if err := w.endBox(); err != nil {
		return err
	}
	if err := w.endBox(); err != nil {
		return err
	}
	return w.endBox()
}

func (t *Track) writeStbl() error {
	w := t.w
	if err := w.beginBox("stbl"); err != nil {
		return err
	}
	if err := t.writeStsd(); err != nil {
		return err
	}
	if err := t.writeStts(); err != nil {
		return err
	}
	if t.kind.IsVideo() {
		if err := t.writeStss(); err != nil {
			return err
		}
	}
	if err := t.writeStsz(); err != nil {
		return err
	}
	if err := t.writeStsc(); err != nil {
		return err
	}
	if err := t.writeCo64(); err != nil {
		return err
	}
	return w.endBox()
}

func (t *Track) writeStsd() error {
	w := t.w
	if err := w.beginBox("stsd"); err != nil {
		return err
	}
	if err := w.writeU32(0); err != nil {
		return err
	}
	if err := w.writeU32(1); err != nil { // entry count
		return err
	}
	if err := t.writeSampleEntry(); err != nil {
		return err
	}
	return w.endBox()
}

func (t *Track) writeSampleEntry() error {
	w := t.w
	if err := w.beginBox(t.kind.SampleEntryFourCC()); err != nil {
		return err
	}
	if err := w.writeZeros(6); err != nil { // reserved
		return err
	}
	if err := w.writeU16(1); err != nil { // data_reference_index
		return err
	}

	if t.kind.IsAudio() {
		if err := t.writeAudioSampleEntryBody(); err != nil {
			return err
		}
	} else {
		if err := t.writeVideoSampleEntryBody(); err != nil {
			return err
		}
	}

	switch t.kind {
	case codec.AAC, codec.MPEG4V:
		if err := t.writeEsds(); err != nil {
			return err
		}
	case codec.H263:
		if err := t.writeD263(); err != nil {
			return err
		}
	case codec.AVC:
		if err := t.writeAvcC(); err != nil {
			return err
		}
	}

	return w.endBox()
}

func (t *Track) writeAudioSampleEntryBody() error {
	w := t.w
	if err := w.writeU32(0); err != nil { // reserved
		return err
	}
	if err := w.writeU32(0); err != nil { // reserved
		return err
	}
	if err := w.writeU16(uint16(t.format.ChannelCount)); err != nil {
		return err
	}
	if err := w.writeU16(16); err != nil { // sample size bits
		return err
	}
	if err := w.writeU16(0); err != nil { // pre_defined
		return err
	}
	if err := w.writeU16(0); err != nil { // reserved
		return err
	}
	return w.writeU32(uint32(t.format.SampleRate) << 16)
}

func (t *Track) writeVideoSampleEntryBody() error {
	w := t.w
	if err := w.writeU16(0); err != nil { // pre_defined
		return err
	}
	if err := w.writeU16(0); err != nil { // reserved
		return err
	}
	if err := w.writeZeros(12); err != nil { // pre_defined[3]
		return err
	}
	if err := w.writeU16(uint16(t.format.Width)); err != nil {
		return err
	}
	if err := w.writeU16(uint16(t.format.Height)); err != nil {
		return err
	}
	if err := w.writeU32(0x00480000); err != nil { // horizresolution 72dpi
		return err
	}
	if err := w.writeU32(0x00480000); err != nil { // vertresolution 72dpi
		return err
	}
	if err := w.writeU32(0); err != nil { // reserved
		return err
	}
	if err := w.writeU16(1); err != nil { // frame_count
		return err
	}
	if err := w.writeZeros(32); err != nil { // compressorname
		return err
	}
	if err := w.writeU16(0x0018); err != nil { // depth
		return err
	}
	return w.writeU16(0xFFFF) // pre_defined = -1
}

// fillDescLength writes the ISO/IEC 14496-1 variable-length descriptor
// size in up to 4 continuation bytes.
func fillDescLength(n int) []byte {
	var out []byte
	for {
		b := byte(n & 0x7F)
		n >>= 7
		if len(out) > 0 {
			b |= 0x80
		}
		out = append([]byte{b}, out...)
		if n == 0 {
			break
		}
	}
	return out
}

// writeEsds emits the esds descriptor tree: ES_Descr (0x03) >
// DecoderConfigDescr (0x04) > DecoderSpecificInfo (0x05) carrying the
// captured codec config, and SLConfigDescr (0x06) = 01 02.
func (t *Track) writeEsds() error {
	w := t.w
	if err := w.beginBox("esds"); err != nil {
		return err
	}
	if err := w.writeU32(0); err != nil {
		return err
	}

	objectType := byte(0x20) // MPEG4_V
	streamType := byte(0x11)
	if t.kind == codec.AAC {
		objectType = 0x40
		streamType = 0x15
	}

	dsi := t.codecConfig
	decConfigBody := 15 + len(dsi)
	slBody := 1
	esBody := 3 + (2 + decConfigBody) + (2 + slBody)

	if err := w.writeU8(0x03); err != nil { // ES_DescrTag
		return err
	}
	if err := w.writeBytes(fillDescLength(esBody)); err != nil {
		return err
	}
	if err := w.writeU16(0); err != nil { // ES_ID
		return err
	}
	if err := w.writeU8(0); err != nil { // flags/streamPriority
		return err
	}

	if err := w.writeU8(0x04); err != nil { // DecoderConfigDescrTag
		return err
	}
	if err := w.writeBytes(fillDescLength(decConfigBody)); err != nil {
		return err
	}
	if err := w.writeU8(objectType); err != nil {
		return err
	}
	if err := w.writeU8(streamType); err != nil { // streamType(6)+upStream(1)+reserved(1), already packed
		return err
	}
	if err := w.writeU24(0); err != nil { // bufferSizeDB
		return err
	}
	if err := w.writeU32(96000); err != nil { // maxBitrate: hardcoded, see DESIGN.md Open Question 3
		return err
	}
	if err := w.writeU32(96000); err != nil { // avgBitrate: hardcoded, see DESIGN.md Open Question 3
		return err
	}

	if err := w.writeU8(0x05); err != nil { // DecSpecificInfoTag
		return err
	}
	if err := w.writeBytes(fillDescLength(len(dsi))); err != nil {
		return err
	}
	if err := w.writeBytes(dsi); err != nil {
		return err
	}

	if err := w.writeU8(0x06); err != nil { // SLConfigDescrTag
		return err
	}
	if err := w.writeBytes(fillDescLength(slBody)); err != nil {
		return err
	}
	if err := w.writeU8(0x02); err != nil { // predefined = 2
		return err
	}

	return w.endBox()
}

func (t *Track) writeD263() error {
	w := t.w
	if err := w.beginBox("d263"); err != nil {
		return err
	}
	if err := w.writeFourCC("stre"); err != nil { // vendor
		return err
	}
	if err := w.writeU8(0); err != nil { // decoder version
		return err
	}
	if err := w.writeU8(10); err != nil { // level
		return err
	}
	if err := w.writeU8(0); err != nil { // profile
		return err
	}
	return w.endBox()
}

func (t *Track) writeAvcC() error {
	w := t.w
	if err := w.beginBox("avcC"); err != nil {
		return err
	}
	if err := w.writeBytes(t.codecConfig); err != nil {
		return err
	}
	return w.endBox()
}

func (t *Track) writeStts() error {
	w := t.w
	if err := w.beginBox("stts"); err != nil {
		return err
	}
	if err := w.writeU32(0); err != nil {
		return err
	}
	if err := w.writeU32(uint32(len(t.sttsEntries))); err != nil {
		return err
	}
	for _, e := range t.sttsEntries {
		if err := w.writeU32(uint32(e.sampleCount)); err != nil {
			return err
		}
		if err := w.writeU32(uint32(e.sampleDurationMS)); err != nil {
			return err
		}
	}
	return w.endBox()
}

func (t *Track) writeStss() error {
	if len(t.stssEntries) == 0 {
		return nil
	}
	w := t.w
	if err := w.beginBox("stss"); err != nil {
		return err
	}
	if err := w.writeU32(0); err != nil {
		return err
	}
	if err := w.writeU32(uint32(len(t.stssEntries))); err != nil {
		return err
	}
	for _, idx := range t.stssEntries {
		if err := w.writeU32(uint32(idx)); err != nil {
			return err
		}
	}
	return w.endBox()
}

func (t *Track) writeStsz() error {
	w := t.w
	if err := w.beginBox("stsz"); err != nil {
		return err
	}
	if err := w.writeU32(0); err != nil {
		return err
	}
	if t.sameSize && len(t.sampleInfos) > 0 {
		if err := w.writeU32(uint32(t.firstSize)); err != nil {
			return err
		}
		if err := w.writeU32(uint32(len(t.sampleInfos))); err != nil {
			return err
		}
		return w.endBox()
	}
	if err := w.writeU32(0); err != nil { // default sample size 0: per-sample table follows
		return err
	}
	if err := w.writeU32(uint32(len(t.sampleInfos))); err != nil {
		return err
	}
	for _, info := range t.sampleInfos {
		if err := w.writeU32(uint32(info.sizeBytes)); err != nil {
			return err
		}
	}
	return w.endBox()
}

func (t *Track) writeStsc() error {
	w := t.w
	if err := w.beginBox("stsc"); err != nil {
		return err
	}
	if err := w.writeU32(0); err != nil {
		return err
	}
	if err := w.writeU32(uint32(len(t.stscEntries))); err != nil {
		return err
	}
	for _, e := range t.stscEntries {
		if err := w.writeU32(uint32(e.firstChunk)); err != nil {
			return err
		}
		if err := w.writeU32(uint32(e.samplesPerChunk)); err != nil {
			return err
		}
		if err := w.writeU32(uint32(e.descriptionID)); err != nil {
			return err
		}
	}
	return w.endBox()
}

func (t *Track) writeCo64() error {
	w := t.w
	if err := w.beginBox("co64"); err != nil {
		return err
	}
	if err := w.writeU32(0); err != nil {
		return err
	}
	if err := w.writeU32(uint32(len(t.chunkOffsets))); err != nil {
		return err
	}
	for _, off := range t.chunkOffsets {
		if err := w.writeU64(uint64(off)); err != nil {
			return err
		}
	}
	return w.endBox()
}
