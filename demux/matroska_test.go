package demux

import (
	"bytes"
	"io"
	"testing"

	"github.com/at-wat/ebml-go"
	"github.com/at-wat/ebml-go/webm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dialup-inc/asciiplayer/media"
)

type bufferCloser struct{ bytes.Buffer }

func (*bufferCloser) Close() error { return nil }

type webmFrame struct {
	key  bool
	ms   int64
	data []byte
}

func webmStream(t *testing.T, frames ...webmFrame) []byte {
	t.Helper()
	out := &bufferCloser{}
	writers, err := webm.NewSimpleBlockWriter(out, []webm.TrackEntry{
		{
			Name:        "Audio",
			TrackNumber: 1,
			TrackUID:    1,
			CodecID:     "A_OPUS",
			TrackType:   2,
			Audio:       &webm.Audio{SamplingFrequency: 48000, Channels: 2},
		},
		{
			Name:            "Video",
			TrackNumber:     2,
			TrackUID:        2,
			CodecID:         "V_VP8",
			TrackType:       1,
			DefaultDuration: 33333333,
			Video:           &webm.Video{PixelWidth: 4, PixelHeight: 2},
		},
	})
	require.NoError(t, err)
	require.Len(t, writers, 2)

	for _, f := range frames {
		_, err := writers[1].Write(f.key, f.ms, f.data)
		require.NoError(t, err)
	}
	for _, w := range writers {
		require.NoError(t, w.Close())
	}
	return out.Bytes()
}

func TestOpenWebM(t *testing.T) {
	d, err := Open(source(webmStream(t,
		webmFrame{true, 0, []byte{0x10, 1}},
		webmFrame{false, 33, []byte{0x11, 2}},
		webmFrame{false, 66, []byte{0x11, 3}},
	)))
	require.NoError(t, err)
	defer d.Close()

	tracks := d.Tracks()
	require.Len(t, tracks, 2)
	assert.Equal(t, "audio/opus", tracks[0].MimeType)

	tr := d.Track()
	assert.Equal(t, 2, tr.ID)
	assert.Equal(t, media.MimeVP8, tr.MimeType)
	assert.Equal(t, 4, tr.Width)
	assert.Equal(t, 2, tr.Height)
	assert.InDelta(t, 30.0, tr.FrameRate, 0.01)

	var got []media.Sample
	for {
		s, err := d.ReadSample()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, s)
		require.NoError(t, d.Advance())
	}
	require.Len(t, got, 3)
	assert.Equal(t, []byte{0x10, 1}, got[0].Data)
	assert.True(t, got[0].Keyframe)
	assert.False(t, got[1].Keyframe)
	assert.EqualValues(t, 33000, got[1].PTS)
	assert.EqualValues(t, 66000, got[2].PTS)

	require.NoError(t, d.Rewind())
	s, err := d.ReadSample()
	require.NoError(t, err)
	assert.EqualValues(t, 0, s.PTS)
}

func TestOpenMatroskaDocType(t *testing.T) {
	var doc struct {
		Header struct {
			DocType string `ebml:"EBMLDocType"`
		} `ebml:"EBML"`
	}
	doc.Header.DocType = "x-other"

	var buf bytes.Buffer
	require.NoError(t, ebml.Marshal(&doc, &buf))

	_, err := Open(source(buf.Bytes()))
	assert.ErrorIs(t, err, ErrUnsupportedContainer)
}

func TestSplitLengthPrefixed(t *testing.T) {
	nalus, err := splitLengthPrefixed([]byte{0, 2, 0x65, 0xaa, 0, 1, 0x41}, 2)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{{0x65, 0xaa}, {0x41}}, nalus)

	_, err = splitLengthPrefixed([]byte{0, 5, 0x65}, 2)
	assert.Error(t, err)

	_, err = splitLengthPrefixed([]byte{0x65}, 3)
	assert.Error(t, err)
}

func TestToAnnexB(t *testing.T) {
	sps := []byte{0x67, 0x42}
	pps := []byte{0x68, 0xce}

	data, key, err := toAnnexB([]byte{0, 0, 0, 2, 0x65, 0x88}, 4, [][]byte{sps, pps})
	require.NoError(t, err)
	assert.True(t, key)
	assert.Equal(t, []byte{
		0, 0, 0, 1, 0x67, 0x42,
		0, 0, 0, 1, 0x68, 0xce,
		0, 0, 0, 1, 0x65, 0x88,
	}, data)

	data, key, err = toAnnexB([]byte{1, 0x41}, 1, [][]byte{sps, pps})
	require.NoError(t, err)
	assert.False(t, key)
	assert.Equal(t, []byte{0, 0, 0, 1, 0x41}, data)
}
