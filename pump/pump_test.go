package pump

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/dialup-inc/asciiplayer/codec"
	"github.com/dialup-inc/asciiplayer/demux"
	"github.com/dialup-inc/asciiplayer/ivf"
	"github.com/dialup-inc/asciiplayer/media"
)

type release struct {
	slot   *codec.OutputSlot
	render bool
}

// scriptCodec replays a fixed list of output statuses.
type scriptCodec struct {
	state     codec.State
	statuses  []codec.OutputStatus
	submitted []media.Sample
	lastSeen  bool
	dequeues  int
	released  []release
}

func (c *scriptCodec) State() codec.State { return c.state }

func (c *scriptCodec) DequeueInputSlot(time.Duration) (*codec.InputSlot, bool) {
	if c.state != codec.Configured {
		return nil, false
	}
	return &codec.InputSlot{}, true
}

func (c *scriptCodec) SubmitInput(_ *codec.InputSlot, s media.Sample, last bool) error {
	if last {
		c.lastSeen = true
		c.state = codec.Draining
		return nil
	}
	c.submitted = append(c.submitted, s)
	return nil
}

func (c *scriptCodec) DequeueOutputSlot(time.Duration) (codec.OutputStatus, error) {
	c.dequeues++
	if len(c.statuses) == 0 {
		return codec.TryAgainLater{}, nil
	}
	st := c.statuses[0]
	c.statuses = c.statuses[1:]
	if r, ok := st.(codec.Ready); ok && r.EOS {
		c.state = codec.Drained
	}
	return st, nil
}

func (c *scriptCodec) ReleaseOutputSlot(slot *codec.OutputSlot, render bool) error {
	for _, r := range c.released {
		if r.slot == slot {
			return codec.ErrSlotNotOwned
		}
	}
	c.released = append(c.released, release{slot, render})
	return nil
}

type sliceSource struct {
	samples []media.Sample
	pos     int
	err     error
}

func (s *sliceSource) ReadSample() (media.Sample, error) {
	if s.err != nil {
		return media.Sample{}, s.err
	}
	if s.pos >= len(s.samples) {
		return media.Sample{}, io.EOF
	}
	return s.samples[s.pos], nil
}

func (s *sliceSource) Advance() error {
	s.pos++
	return nil
}

type frameLog struct {
	frames []*Frame
	err    error
}

func (l *frameLog) Render(f *Frame) error {
	if l.err != nil {
		return l.err
	}
	l.frames = append(l.frames, f)
	return nil
}

type eventLog []Event

func (l *eventLog) Observe(e Event) { *l = append(*l, e) }

func (l eventLog) kinds(k EventKind) []Event {
	var out []Event
	for _, e := range l {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}

func ready(pts int64, g media.Geometry, data []byte) codec.Ready {
	return codec.Ready{
		Slot:  &codec.OutputSlot{},
		Frame: codec.DecodedFrame{Geometry: g, Size: len(data), Data: data, PTS: pts},
	}
}

var (
	g2x2  = media.Geometry{Width: 2, Height: 2, Stride: 2, SliceHeight: 2}
	nv2x2 = []byte{1, 2, 3, 4, 50, 60}
	epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
)

func newTestPump(src Source, c Codec, r Renderer, cfg Config) (*Pump, *testingclock.FakeClock, *eventLog) {
	clk := testingclock.NewFakeClock(epoch)
	events := &eventLog{}
	p := New(src, c, r, WithClock(clk), WithConfig(cfg), WithObserver(events))
	return p, clk, events
}

func TestEndToEndRawStream(t *testing.T) {
	var buf bytes.Buffer
	w, err := ivf.NewWriter(&buf, "NV12", 2, 2, 30, 1)
	require.NoError(t, err)
	const n = 5
	for i := 0; i < n; i++ {
		require.NoError(t, w.WriteFrame([]byte{byte(i), 2, 3, 4, 50, 60}, uint64(i)))
	}

	d, err := demux.Open(demux.Source{R: bytes.NewReader(buf.Bytes()), Length: int64(buf.Len())})
	require.NoError(t, err)

	s := codec.NewSession()
	require.NoError(t, s.Configure(d.Track()))
	require.NoError(t, s.Start())

	cfg := DefaultConfig
	cfg.Pacing = PacingSleep
	cfg.OutputTimeout = 20 * time.Millisecond
	out := &frameLog{}
	p, _, events := newTestPump(d, s, out, cfg)

	ctx := context.Background()
	for i := 0; i < 1000 && !p.Done(); i++ {
		require.NoError(t, p.Tick(ctx))
	}
	require.True(t, p.Done())
	assert.Equal(t, codec.Drained, s.State())

	require.Len(t, out.frames, n)
	for i, f := range out.frames {
		assert.Equal(t, 2, f.Width)
		assert.Equal(t, []byte{byte(i), 2, 3, 4, 50, 60}, f.Data)
	}
	assert.Equal(t, n, p.Stats().Submitted)
	assert.Equal(t, n, p.Stats().Rendered)
	assert.Len(t, events.kinds(EventEndOfStream), 1)
	assert.Equal(t, media.Geometry{Width: 2, Height: 2, Stride: 16, SliceHeight: 16}, p.Geometry())

	// further ticks after the end are no-ops
	require.NoError(t, p.Tick(ctx))
	assert.Len(t, out.frames, n)

	require.NoError(t, p.Close())
	require.NoError(t, s.Stop())
}

func TestEmptySource(t *testing.T) {
	c := &scriptCodec{
		state:    codec.Configured,
		statuses: []codec.OutputStatus{codec.Ready{Slot: &codec.OutputSlot{}, EOS: true}},
	}
	out := &frameLog{}
	p, _, events := newTestPump(&sliceSource{}, c, out, DefaultConfig)

	require.NoError(t, p.Tick(context.Background()))
	assert.True(t, c.lastSeen)
	assert.Empty(t, c.submitted)
	assert.Equal(t, codec.Drained, c.state)
	assert.True(t, p.Done())
	assert.Empty(t, out.frames)
	assert.Len(t, events.kinds(EventEndOfStream), 1)
	require.Len(t, c.released, 1)
	assert.False(t, c.released[0].render)
}

func TestFormatChangeUsesNewGeometry(t *testing.T) {
	g4 := media.Geometry{Width: 4, Height: 2, Stride: 6, SliceHeight: 3}
	padded := []byte{
		1, 2, 3, 4, 0, 0,
		5, 6, 7, 8, 0, 0,
		0, 0, 0, 0, 0, 0,
		10, 20, 11, 21, 0, 0,
	}
	c := &scriptCodec{
		state: codec.Draining,
		statuses: []codec.OutputStatus{
			codec.FormatChanged{Geometry: g2x2},
			ready(0, g2x2, nv2x2),
			codec.FormatChanged{Geometry: g4},
			ready(0, g4, padded),
		},
	}
	out := &frameLog{}
	p, _, _ := newTestPump(&sliceSource{}, c, out, DefaultConfig)
	ctx := context.Background()

	require.NoError(t, p.Tick(ctx))
	assert.Empty(t, out.frames, "format change tick presents nothing")
	require.NoError(t, p.Tick(ctx))
	require.Len(t, out.frames, 1)
	assert.Equal(t, []byte{1, 2, 3, 4, 50, 60}, out.frames[0].Data)

	require.NoError(t, p.Tick(ctx))
	assert.Len(t, out.frames, 1)
	require.NoError(t, p.Tick(ctx))
	require.Len(t, out.frames, 2)
	f := out.frames[1]
	assert.Equal(t, 4, f.Width)
	assert.Equal(t, 2, f.Height)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8, 10, 11, 20, 21}, f.Data)
	assert.Equal(t, 2, p.Stats().FormatChanges)
}

func TestLateFrameRendersImmediately(t *testing.T) {
	c := &scriptCodec{
		state:    codec.Draining,
		statuses: []codec.OutputStatus{ready(0, g2x2, nv2x2), ready(33333, g2x2, nv2x2)},
	}
	out := &frameLog{}
	cfg := DefaultConfig
	cfg.Pacing = PacingSleep
	p, clk, _ := newTestPump(&sliceSource{}, c, out, cfg)
	ctx := context.Background()

	require.NoError(t, p.Tick(ctx))
	clk.Step(100 * time.Millisecond)
	before := clk.Now()

	require.NoError(t, p.Tick(ctx))
	assert.Len(t, out.frames, 2)
	assert.Equal(t, before, clk.Now(), "no sleep for a late frame")
}

func TestSleepPacingIsBounded(t *testing.T) {
	c := &scriptCodec{
		state:    codec.Draining,
		statuses: []codec.OutputStatus{ready(1000, g2x2, nv2x2), ready(41000, g2x2, nv2x2)},
	}
	out := &frameLog{}
	cfg := DefaultConfig
	cfg.Pacing = PacingSleep
	cfg.MaxSleep = 25 * time.Millisecond
	p, clk, events := newTestPump(&sliceSource{}, c, out, cfg)
	ctx := context.Background()

	require.NoError(t, p.Tick(ctx))
	require.NoError(t, p.Tick(ctx))
	assert.Len(t, out.frames, 2)
	assert.Equal(t, epoch.Add(25*time.Millisecond), clk.Now())

	rendered := events.kinds(EventFrameRendered)
	require.Len(t, rendered, 2)
	assert.Equal(t, 40*time.Millisecond, rendered[1].Delay)

	start, base := p.clock.Anchor()
	assert.Equal(t, epoch, start)
	assert.EqualValues(t, 1000, base)
}

func TestNoPacingNeverWaits(t *testing.T) {
	c := &scriptCodec{
		state:    codec.Draining,
		statuses: []codec.OutputStatus{ready(0, g2x2, nv2x2), ready(5000000, g2x2, nv2x2)},
	}
	out := &frameLog{}
	cfg := DefaultConfig
	cfg.Pacing = PacingNone
	p, clk, _ := newTestPump(&sliceSource{}, c, out, cfg)

	require.NoError(t, p.Tick(context.Background()))
	require.NoError(t, p.Tick(context.Background()))
	assert.Len(t, out.frames, 2)
	assert.Equal(t, epoch, clk.Now())
}

func TestSkipPacingHoldsFrame(t *testing.T) {
	c := &scriptCodec{
		state: codec.Draining,
		statuses: []codec.OutputStatus{
			ready(0, g2x2, nv2x2),
			ready(33333, g2x2, nv2x2),
			codec.Ready{Slot: &codec.OutputSlot{}, EOS: true},
		},
	}
	out := &frameLog{}
	p, clk, _ := newTestPump(&sliceSource{}, c, out, DefaultConfig)
	ctx := context.Background()

	require.NoError(t, p.Tick(ctx))
	require.Len(t, out.frames, 1)

	require.NoError(t, p.Tick(ctx))
	require.NoError(t, p.Tick(ctx))
	assert.Len(t, out.frames, 1)
	assert.Equal(t, 2, c.dequeues, "no dequeue while a frame is held")
	assert.Len(t, c.released, 1)

	clk.Step(34 * time.Millisecond)
	require.NoError(t, p.Tick(ctx))
	assert.Len(t, out.frames, 2)
	require.Len(t, c.released, 2)
	assert.True(t, c.released[1].render)

	require.NoError(t, p.Tick(ctx))
	assert.True(t, p.Done())
}

func TestCloseReleasesHeldFrame(t *testing.T) {
	c := &scriptCodec{
		state:    codec.Draining,
		statuses: []codec.OutputStatus{ready(0, g2x2, nv2x2), ready(1e6, g2x2, nv2x2)},
	}
	p, _, _ := newTestPump(&sliceSource{}, c, &frameLog{}, DefaultConfig)
	require.NoError(t, p.Tick(context.Background()))
	require.NoError(t, p.Tick(context.Background()))
	require.Len(t, c.released, 1)

	require.NoError(t, p.Close())
	require.Len(t, c.released, 2)
	assert.False(t, c.released[1].render)
	require.NoError(t, p.Close())
	assert.Equal(t, 1, p.Stats().Dropped)
}

type bogusStatus struct {
	codec.TryAgainLater
}

func TestUnexpectedStatusIsReported(t *testing.T) {
	c := &scriptCodec{
		state: codec.Draining,
		statuses: []codec.OutputStatus{
			bogusStatus{},
			codec.StatusError{Err: errors.New("corrupt")},
			codec.BuffersChanged{},
			ready(0, g2x2, nv2x2),
		},
	}
	out := &frameLog{}
	p, _, events := newTestPump(&sliceSource{}, c, out, DefaultConfig)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		require.NoError(t, p.Tick(ctx))
	}

	unexpected := events.kinds(EventUnexpectedStatus)
	require.Len(t, unexpected, 1)
	assert.Equal(t, "pump.bogusStatus", unexpected[0].Status)
	require.Len(t, events.kinds(EventDecodeError), 1)
	assert.Len(t, out.frames, 1)
	assert.Equal(t, 1, p.Stats().Unexpected)
	assert.Equal(t, 1, p.Stats().DecodeErrors)
}

func TestRenderErrorStillReleases(t *testing.T) {
	c := &scriptCodec{
		state:    codec.Draining,
		statuses: []codec.OutputStatus{ready(0, g2x2, nv2x2)},
	}
	out := &frameLog{err: errors.New("surface lost")}
	p, _, events := newTestPump(&sliceSource{}, c, out, DefaultConfig)

	require.NoError(t, p.Tick(context.Background()))
	require.Len(t, c.released, 1)
	assert.False(t, c.released[0].render)
	assert.Len(t, events.kinds(EventRenderError), 1)
	assert.Len(t, events.kinds(EventFrameDropped), 1)
}

func TestConvertErrorStillReleases(t *testing.T) {
	c := &scriptCodec{
		state:    codec.Draining,
		statuses: []codec.OutputStatus{ready(0, g2x2, nv2x2[:3])},
	}
	p, _, events := newTestPump(&sliceSource{}, c, &frameLog{}, DefaultConfig)

	require.NoError(t, p.Tick(context.Background()))
	require.Len(t, c.released, 1)
	assert.False(t, c.released[0].render)
	assert.Len(t, events.kinds(EventConvertError), 1)
}

func TestInputBeforeOutput(t *testing.T) {
	src := &sliceSource{samples: []media.Sample{{Data: []byte{1}, PTS: 0}, {Data: []byte{2}, PTS: 10}}}
	c := &scriptCodec{state: codec.Configured}
	p, _, _ := newTestPump(src, c, &frameLog{}, DefaultConfig)
	ctx := context.Background()

	require.NoError(t, p.Tick(ctx))
	assert.Len(t, c.submitted, 1)
	assert.Equal(t, 1, c.dequeues)

	require.NoError(t, p.Tick(ctx))
	require.NoError(t, p.Tick(ctx))
	assert.Len(t, c.submitted, 2)
	assert.True(t, c.lastSeen)
	assert.Equal(t, codec.Draining, c.state)
	assert.Equal(t, 2, p.Stats().Submitted)
}

func TestSourceErrorEndsInput(t *testing.T) {
	src := &sliceSource{err: errors.New("disk gone")}
	c := &scriptCodec{state: codec.Configured}
	p, _, events := newTestPump(src, c, &frameLog{}, DefaultConfig)

	require.NoError(t, p.Tick(context.Background()))
	assert.True(t, c.lastSeen)
	assert.Len(t, events.kinds(EventSourceError), 1)
}

func TestTickHonoursContext(t *testing.T) {
	c := &scriptCodec{state: codec.Configured}
	p, _, _ := newTestPump(&sliceSource{}, c, &frameLog{}, DefaultConfig)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, context.Canceled, p.Tick(ctx))

	c.state = codec.Stopped
	assert.Equal(t, codec.ErrStopped, p.Tick(context.Background()))
}

func TestParsePacing(t *testing.T) {
	pc, err := ParsePacing("sleep")
	require.NoError(t, err)
	assert.Equal(t, PacingSleep, pc)
	assert.Equal(t, "skip", PacingSkip.String())
	pc, err = ParsePacing(PacingNone.String())
	require.NoError(t, err)
	assert.Equal(t, PacingNone, pc)
	_, err = ParsePacing("warp")
	assert.Error(t, err)
}
