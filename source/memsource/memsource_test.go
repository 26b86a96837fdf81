package memsource

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/streammux/mp4mux/source"
)

func TestSourceReplaysSamplesInOrderThenEOF(t *testing.T) {
	format := source.Format{MimeType: "audio/mp4a-latm", ChannelCount: 1, SampleRate: 8000}
	samples := []Sample{
		{Data: []byte{1, 2, 3}, TimestampUS: 0},
		{Data: []byte{4, 5, 6}, TimestampUS: 1000, IsSyncFrame: true},
	}
	s := New(format, samples)
	require.Equal(t, format, s.Format())

	first, err := s.Read()
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, first.Bytes())
	require.False(t, first.Meta.IsSyncFrame)
	require.True(t, first.Meta.HasTimestamp)

	second, err := s.Read()
	require.NoError(t, err)
	require.Equal(t, []byte{4, 5, 6}, second.Bytes())
	require.True(t, second.Meta.IsSyncFrame)
	require.Equal(t, int64(1000), second.Meta.TimestampUS)

	_, err = s.Read()
	require.ErrorIs(t, err, io.EOF)
}

func TestStopShortCircuitsFurtherReads(t *testing.T) {
	s := New(source.Format{}, []Sample{{Data: []byte{1}}, {Data: []byte{2}}})
	s.Stop()
	_, err := s.Read()
	require.ErrorIs(t, err, io.EOF)
}
