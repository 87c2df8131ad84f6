// Package pump runs the decode loop: each Tick feeds the codec one access
// unit, polls it for output and presents at most one frame.
package pump

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"k8s.io/utils/clock"

	"github.com/dialup-inc/asciiplayer/codec"
	"github.com/dialup-inc/asciiplayer/media"
	"github.com/dialup-inc/asciiplayer/yuv"
)

// Source yields compressed access units in decode order.
type Source interface {
	ReadSample() (media.Sample, error)
	Advance() error
}

// Codec is the part of *codec.Session the pump drives.
type Codec interface {
	State() codec.State
	DequeueInputSlot(timeout time.Duration) (*codec.InputSlot, bool)
	SubmitInput(slot *codec.InputSlot, sample media.Sample, isLast bool) error
	DequeueOutputSlot(timeout time.Duration) (codec.OutputStatus, error)
	ReleaseOutputSlot(slot *codec.OutputSlot, render bool) error
}

type Pacing int

const (
	// PacingSkip holds an early frame and checks it again next tick.
	PacingSkip Pacing = iota
	// PacingSleep blocks the tick until the frame is due, up to MaxSleep.
	PacingSleep
	// PacingNone presents every frame as soon as it is decoded.
	PacingNone
)

func (p Pacing) String() string {
	switch p {
	case PacingSkip:
		return "skip"
	case PacingSleep:
		return "sleep"
	case PacingNone:
		return "none"
	default:
		return fmt.Sprintf("Pacing(%d)", int(p))
	}
}

func ParsePacing(s string) (Pacing, error) {
	switch s {
	case "skip":
		return PacingSkip, nil
	case "sleep":
		return PacingSleep, nil
	case "none":
		return PacingNone, nil
	default:
		return 0, errors.Errorf("unknown pacing %q", s)
	}
}

type Config struct {
	InputTimeout  time.Duration
	OutputTimeout time.Duration
	MaxSleep      time.Duration
	Pacing        Pacing
}

var DefaultConfig = Config{
	InputTimeout:  2 * time.Millisecond,
	OutputTimeout: 2 * time.Millisecond,
	MaxSleep:      25 * time.Millisecond,
	Pacing:        PacingSkip,
}

type Stats struct {
	Submitted     int
	Rendered      int
	Dropped       int
	FormatChanges int
	Unexpected    int
	DecodeErrors  int
}

func (s Stats) Add(o Stats) Stats {
	s.Submitted += o.Submitted
	s.Rendered += o.Rendered
	s.Dropped += o.Dropped
	s.FormatChanges += o.FormatChanges
	s.Unexpected += o.Unexpected
	s.DecodeErrors += o.DecodeErrors
	return s
}

type Pump struct {
	src      Source
	codec    Codec
	renderer Renderer
	clock    *PresentationClock
	observer Observer
	cfg      Config
	log      zerolog.Logger

	inputDone bool
	geometry  media.Geometry
	pending   *codec.Ready
	eos       bool
	stats     Stats
}

type Option func(*Pump)

func WithConfig(c Config) Option {
	return func(p *Pump) { p.cfg = c }
}

func WithClock(c clock.Clock) Option {
	return func(p *Pump) { p.clock = NewPresentationClock(c) }
}

func WithObserver(o Observer) Option {
	return func(p *Pump) { p.observer = o }
}

func WithLogger(l zerolog.Logger) Option {
	return func(p *Pump) { p.log = l }
}

func New(src Source, c Codec, r Renderer, opts ...Option) *Pump {
	p := &Pump{
		src:      src,
		codec:    c,
		renderer: r,
		cfg:      DefaultConfig,
		log:      log.Logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.clock == nil {
		p.clock = NewPresentationClock(clock.RealClock{})
	}
	if p.observer == nil {
		p.observer = Observers()
	}
	p.log = p.log.With().Str("component", "pump").Logger()
	return p
}

// Tick advances the pipeline by one render frame. Input is serviced before
// output. It returns an error only when the codec can no longer be driven.
func (p *Pump) Tick(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	state := p.codec.State()
	if state == codec.Stopped {
		return codec.ErrStopped
	}
	if state == codec.Configured && !p.inputDone {
		p.feed()
	}
	if p.codec.State() == codec.Drained {
		return nil
	}
	return p.drain()
}

// Done reports whether the end of stream has been presented.
func (p *Pump) Done() bool { return p.eos }

func (p *Pump) Stats() Stats { return p.stats }

// Geometry is the output geometry from the last format change.
func (p *Pump) Geometry() media.Geometry { return p.geometry }

// Close gives back a held frame without rendering it.
func (p *Pump) Close() error {
	if p.pending == nil {
		return nil
	}
	slot := p.pending.Slot
	p.pending = nil
	p.stats.Dropped++
	return p.codec.ReleaseOutputSlot(slot, false)
}

func (p *Pump) feed() {
	in, ok := p.codec.DequeueInputSlot(p.cfg.InputTimeout)
	if !ok {
		return
	}

	sample, err := p.src.ReadSample()
	last := false
	if err != nil {
		if err != io.EOF {
			p.log.Warn().Err(err).Msg("source read failed, ending input")
			p.observer.Observe(Event{Kind: EventSourceError, Err: err})
		}
		sample, last = media.Sample{}, true
	}

	if err := p.codec.SubmitInput(in, sample, last); err != nil {
		p.log.Warn().Err(err).Msg("submit input")
		in.Close()
		return
	}
	if last {
		p.inputDone = true
		p.log.Debug().Int("samples", p.stats.Submitted).Msg("input exhausted")
		return
	}
	p.stats.Submitted++

	if err := p.src.Advance(); err != nil {
		p.log.Warn().Err(err).Msg("source advance failed")
		p.observer.Observe(Event{Kind: EventSourceError, Err: err})
	}
}

func (p *Pump) drain() error {
	if p.pending == nil {
		status, err := p.codec.DequeueOutputSlot(p.cfg.OutputTimeout)
		if err != nil {
			return err
		}

		switch st := status.(type) {
		case codec.Ready:
			if st.EOS {
				p.eos = true
				p.observer.Observe(Event{Kind: EventEndOfStream})
				p.log.Info().Int("rendered", p.stats.Rendered).Msg("end of stream")
				return p.codec.ReleaseOutputSlot(st.Slot, false)
			}
			p.pending = &st
		case codec.FormatChanged:
			p.geometry = st.Geometry
			p.stats.FormatChanges++
			p.log.Info().Int("width", st.Geometry.Width).Int("height", st.Geometry.Height).Msg("video size changed")
			p.observer.Observe(Event{Kind: EventFormatChanged, Geometry: st.Geometry})
			return nil
		case codec.TryAgainLater, codec.BuffersChanged:
			return nil
		case codec.StatusError:
			p.stats.DecodeErrors++
			p.log.Warn().Err(st.Err).Msg("decode error")
			p.observer.Observe(Event{Kind: EventDecodeError, Err: st.Err})
			return nil
		default:
			p.stats.Unexpected++
			name := fmt.Sprintf("%T", status)
			p.log.Warn().Str("status", name).Msg("unexpected output status")
			p.observer.Observe(Event{Kind: EventUnexpectedStatus, Status: name})
			return nil
		}
	}
	return p.present()
}

func (p *Pump) present() error {
	r := p.pending
	delay := p.clock.Delay(r.Frame.PTS)
	if delay > 0 {
		switch p.cfg.Pacing {
		case PacingSkip:
			return nil
		case PacingSleep:
			d := delay
			if p.cfg.MaxSleep > 0 && d > p.cfg.MaxSleep {
				d = p.cfg.MaxSleep
			}
			p.clock.Sleep(d)
		}
	}
	p.pending = nil

	rendered := false
	defer func() {
		if !rendered {
			p.stats.Dropped++
			p.observer.Observe(Event{Kind: EventFrameDropped, PTS: r.Frame.PTS})
		}
		if err := p.codec.ReleaseOutputSlot(r.Slot, rendered); err != nil {
			p.log.Error().Err(err).Msg("release output slot")
		}
	}()

	frame, err := p.convert(r.Frame)
	if err != nil {
		p.log.Warn().Err(err).Msg("convert frame")
		p.observer.Observe(Event{Kind: EventConvertError, PTS: r.Frame.PTS, Err: err})
		return nil
	}
	if err := p.renderer.Render(frame); err != nil {
		p.log.Warn().Err(err).Msg("render frame")
		p.observer.Observe(Event{Kind: EventRenderError, PTS: r.Frame.PTS, Err: err})
		return nil
	}

	rendered = true
	p.stats.Rendered++
	p.observer.Observe(Event{Kind: EventFrameRendered, PTS: r.Frame.PTS, Delay: delay})
	return nil
}

// convert packs and splits the frame using the geometry from the last
// format change. Frames seen before any format change use their own.
func (p *Pump) convert(f codec.DecodedFrame) (*Frame, error) {
	g := p.geometry
	if g.Width == 0 || g.Height == 0 {
		g = f.Geometry
	}

	packed, err := yuv.PackSemiPlanar(f.Data, g.Width, g.Height, g.Stride, g.SliceHeight)
	if err != nil {
		return nil, err
	}
	i420, err := yuv.NV12ToI420(packed, g.Width, g.Height)
	if err != nil {
		return nil, err
	}
	return &Frame{Width: g.Width, Height: g.Height, Data: i420, PTS: f.PTS}, nil
}
