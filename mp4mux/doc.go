// Package mp4mux multiplexes live elementary audio/video streams into a
// single streamable MPEG-4 Part 14 (ISO-BMFF) file.
//
// A Writer owns the output stream and coordinates one Track per media
// stream added with AddSource. Each Track runs its own producer goroutine
// pulling samples from a source.Source, building that track's index
// tables as it goes; Writer.Stop joins every producer and assembles the
// moov box, preferring a moov-before-mdat layout when the metadata fits
// the reserved placeholder.
package mp4mux
