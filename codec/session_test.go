package codec

import (
	"image"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dialup-inc/asciiplayer/media"
	"github.com/dialup-inc/asciiplayer/yuv"
)

const wait = 2 * time.Second

var errBadFrame = errors.New("bad frame")

// sizeDecoder emits one picture per access unit. The first byte of the data
// selects the picture size (width = height = 2*b); 0xff fails.
type sizeDecoder struct {
	closed bool
}

func (d *sizeDecoder) Decode(data []byte, pts int64) ([]Picture, error) {
	if data[0] == 0xff {
		return nil, errBadFrame
	}
	n := 2 * int(data[0])
	img := image.NewYCbCr(image.Rect(0, 0, n, n), image.YCbCrSubsampleRatio420)
	for i := range img.Y {
		img.Y[i] = data[0]
	}
	return []Picture{{Image: img, PTS: pts}}, nil
}

func (d *sizeDecoder) Flush() ([]Picture, error) { return nil, nil }

func (d *sizeDecoder) Close() error {
	d.closed = true
	return nil
}

const testMime = "video/x-test"

func newTestSession(t *testing.T, opts ...Option) (*Session, *sizeDecoder) {
	t.Helper()
	dec := &sizeDecoder{}
	reg := NewRegistry()
	reg.Register(testMime, func(media.Track) (Decoder, error) { return dec, nil })

	s := NewSession(append([]Option{WithRegistry(reg), WithAlignment(1)}, opts...)...)
	require.NoError(t, s.Configure(media.Track{MimeType: testMime, Geometry: media.Geometry{Width: 4, Height: 4}}))
	require.NoError(t, s.Start())
	return s, dec
}

func submit(t *testing.T, s *Session, data []byte, pts int64, last bool) {
	t.Helper()
	in, ok := s.DequeueInputSlot(wait)
	require.True(t, ok)
	require.NoError(t, s.SubmitInput(in, media.Sample{Data: data, PTS: pts}, last))
}

// collect dequeues until the end of stream, releasing every Ready.
func collect(t *testing.T, s *Session) []OutputStatus {
	t.Helper()
	var out []OutputStatus
	deadline := time.Now().Add(wait)
	for s.State() != Drained {
		require.True(t, time.Now().Before(deadline), "timed out waiting for end of stream")
		st, err := s.DequeueOutputSlot(50 * time.Millisecond)
		require.NoError(t, err)
		if _, ok := st.(TryAgainLater); ok {
			continue
		}
		out = append(out, st)
		if r, ok := st.(Ready); ok {
			require.NoError(t, s.ReleaseOutputSlot(r.Slot, !r.EOS))
		}
	}
	return out
}

func readies(statuses []OutputStatus) (frames []Ready, eos int) {
	for _, st := range statuses {
		if r, ok := st.(Ready); ok {
			if r.EOS {
				eos++
			} else {
				frames = append(frames, r)
			}
		}
	}
	return frames, eos
}

func TestLifecycleErrors(t *testing.T) {
	s := NewSession()
	assert.Equal(t, Unconfigured, s.State())
	assert.Equal(t, ErrNotConfigured, s.Start())

	_, err := s.DequeueOutputSlot(0)
	assert.Equal(t, ErrNotStarted, err)
	_, ok := s.DequeueInputSlot(0)
	assert.False(t, ok)

	err = s.Configure(media.Track{MimeType: "video/x-unknown"})
	var ce *ConfigureError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "video/x-unknown", ce.Mime)
	assert.ErrorIs(t, err, ErrUnsupportedMime)

	require.NoError(t, s.Configure(media.Track{MimeType: media.MimeRaw, Format: "I420", Geometry: media.Geometry{Width: 2, Height: 2}}))
	assert.Equal(t, ErrAlreadyConfigured, s.Configure(media.Track{MimeType: media.MimeRaw}))
	require.NoError(t, s.Start())
	assert.Equal(t, Configured, s.State())
	assert.Equal(t, ErrAlreadyStarted, s.Start())

	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
	assert.Equal(t, Stopped, s.State())
	_, err = s.DequeueOutputSlot(0)
	assert.Equal(t, ErrStopped, err)
}

func TestConfigureFactoryError(t *testing.T) {
	s := NewSession()
	err := s.Configure(media.Track{MimeType: media.MimeRaw, Format: "I420", Geometry: media.Geometry{Width: 3, Height: 3}})
	var ce *ConfigureError
	require.ErrorAs(t, err, &ce)
	assert.ErrorIs(t, err, yuv.ErrOddDimensions)
}

func TestDecodeToEndOfStream(t *testing.T) {
	s, dec := newTestSession(t)

	submit(t, s, []byte{2}, 0, false)
	submit(t, s, []byte{2}, 33333, false)
	submit(t, s, []byte{2}, 66666, true)
	assert.Equal(t, Draining, s.State())

	statuses := collect(t, s)
	frames, eos := readies(statuses)
	require.Len(t, frames, 3)
	assert.Equal(t, 1, eos)
	assert.EqualValues(t, 33333, frames[1].Frame.PTS)

	// format announced once, before the first frame
	require.IsType(t, BuffersChanged{}, statuses[0])
	require.IsType(t, FormatChanged{}, statuses[1])
	assert.Equal(t, media.Geometry{Width: 4, Height: 4, Stride: 4, SliceHeight: 4}, statuses[1].(FormatChanged).Geometry)
	assert.Equal(t, 24, frames[0].Frame.Size)
	assert.Equal(t, byte(2), frames[0].Frame.Data[0])

	for i := 0; i < 3; i++ {
		st, err := s.DequeueOutputSlot(10 * time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, TryAgainLater{}, st)
	}

	_, ok := s.DequeueInputSlot(0)
	assert.False(t, ok)

	require.NoError(t, s.Stop())
	assert.True(t, dec.closed)
	assert.Zero(t, s.Outstanding())
}

func TestEmptyStreamDrains(t *testing.T) {
	s, _ := newTestSession(t)
	submit(t, s, nil, 0, true)

	frames, eos := readies(collect(t, s))
	assert.Empty(t, frames)
	assert.Equal(t, 1, eos)
	require.NoError(t, s.Stop())
}

func TestInputAfterEOS(t *testing.T) {
	s, _ := newTestSession(t)
	in, ok := s.DequeueInputSlot(wait)
	require.True(t, ok)
	submit(t, s, []byte{1}, 0, true)

	err := s.SubmitInput(in, media.Sample{Data: []byte{1}}, false)
	assert.Equal(t, ErrInputAfterEOS, err)
	assert.Equal(t, 1, s.Outstanding())
	require.NoError(t, in.Close())
	require.NoError(t, in.Close())
	assert.Zero(t, s.Outstanding())

	collect(t, s)
	require.NoError(t, s.Stop())
}

func TestFormatChangeMidStream(t *testing.T) {
	s, _ := newTestSession(t, WithAlignment(16))
	submit(t, s, []byte{2}, 0, false)
	submit(t, s, []byte{10}, 1, true)

	statuses := collect(t, s)
	var geoms []media.Geometry
	changed := 0
	for _, st := range statuses {
		switch st := st.(type) {
		case FormatChanged:
			geoms = append(geoms, st.Geometry)
		case BuffersChanged:
			changed++
		}
	}
	require.Len(t, geoms, 2)
	assert.Equal(t, media.Geometry{Width: 4, Height: 4, Stride: 16, SliceHeight: 16}, geoms[0])
	assert.Equal(t, media.Geometry{Width: 20, Height: 20, Stride: 32, SliceHeight: 32}, geoms[1])
	assert.Equal(t, 2, changed)
	assert.Equal(t, geoms[1], s.OutputGeometry())

	frames, _ := readies(statuses)
	require.Len(t, frames, 2)
	assert.Equal(t, 20, frames[1].Frame.Width)
	assert.Equal(t, 32*32+32*16, frames[1].Frame.Size)
	require.NoError(t, s.Stop())
}

func TestDecodeErrorIsReported(t *testing.T) {
	s, _ := newTestSession(t)
	submit(t, s, []byte{0xff}, 0, false)
	submit(t, s, []byte{1}, 1, true)

	statuses := collect(t, s)
	var errs []StatusError
	for _, st := range statuses {
		if e, ok := st.(StatusError); ok {
			errs = append(errs, e)
		}
	}
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0].Err, errBadFrame)

	frames, eos := readies(statuses)
	assert.Len(t, frames, 1)
	assert.Equal(t, 1, eos)
	require.NoError(t, s.Stop())
}

func TestReleaseRules(t *testing.T) {
	s, _ := newTestSession(t)
	submit(t, s, []byte{1}, 0, true)

	var ready Ready
	deadline := time.Now().Add(wait)
	for {
		require.True(t, time.Now().Before(deadline))
		st, err := s.DequeueOutputSlot(50 * time.Millisecond)
		require.NoError(t, err)
		if r, ok := st.(Ready); ok {
			ready = r
			break
		}
	}
	require.False(t, ready.EOS)
	assert.Equal(t, 1, s.Outstanding())

	require.NoError(t, s.ReleaseOutputSlot(ready.Slot, true))
	assert.Equal(t, ErrSlotNotOwned, s.ReleaseOutputSlot(ready.Slot, true))
	require.NoError(t, ready.Slot.Close())

	other := NewSession()
	assert.Equal(t, ErrSlotNotOwned, other.ReleaseOutputSlot(ready.Slot, false))
	require.NoError(t, s.Stop())
}

func TestStopWithOutstandingSlot(t *testing.T) {
	s, _ := newTestSession(t)
	in, ok := s.DequeueInputSlot(wait)
	require.True(t, ok)

	err := s.Stop()
	assert.ErrorIs(t, err, ErrSlotsOutstanding)
	assert.Equal(t, Stopped, s.State())

	require.NoError(t, in.Close())
	assert.Zero(t, s.Outstanding())
	require.NoError(t, s.Stop())
}

func TestInputSlotsExhausted(t *testing.T) {
	s, _ := newTestSession(t, WithSlots(2, 2))
	a, ok := s.DequeueInputSlot(0)
	require.True(t, ok)
	b, ok := s.DequeueInputSlot(0)
	require.True(t, ok)
	assert.NotEqual(t, a.Index(), b.Index())

	_, ok = s.DequeueInputSlot(10 * time.Millisecond)
	assert.False(t, ok)

	require.NoError(t, a.Close())
	c, ok := s.DequeueInputSlot(0)
	require.True(t, ok)
	assert.Equal(t, a.Index(), c.Index())

	require.NoError(t, b.Close())
	require.NoError(t, c.Close())
	require.NoError(t, s.Stop())
}

func TestRawDecoder(t *testing.T) {
	nv12 := []byte{1, 2, 3, 4, 50, 60}
	dec, err := NewRawDecoder(media.Track{Format: "NV12", Geometry: media.Geometry{Width: 2, Height: 2}})
	require.NoError(t, err)

	pics, err := dec.Decode(nv12, 7)
	require.NoError(t, err)
	require.Len(t, pics, 1)
	assert.EqualValues(t, 7, pics[0].PTS)
	assert.Equal(t, []byte{50}, pics[0].Image.Cb)
	assert.Equal(t, []byte{60}, pics[0].Image.Cr)

	_, err = dec.Decode(nv12[:4], 0)
	assert.ErrorIs(t, err, yuv.ErrShortFrame)

	_, err = NewRawDecoder(media.Track{Format: "YUY2", Geometry: media.Geometry{Width: 2, Height: 2}})
	assert.Error(t, err)
}

func TestRegistryMimes(t *testing.T) {
	r := NewRegistry()
	r.Register(media.MimeVP8, NewRawDecoder)
	assert.Equal(t, []string{media.MimeRaw, media.MimeVP8}, r.Mimes())
	_, ok := r.Lookup(media.MimeAVC)
	assert.False(t, ok)
}
