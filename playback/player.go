// Package playback wires a demuxer, a codec session and a decode loop into
// one playable pipeline.
package playback

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"k8s.io/utils/clock"

	"github.com/dialup-inc/asciiplayer/codec"
	"github.com/dialup-inc/asciiplayer/demux"
	"github.com/dialup-inc/asciiplayer/media"
	"github.com/dialup-inc/asciiplayer/pump"
)

type Options struct {
	Registry    *codec.Registry
	InputSlots  int
	OutputSlots int
	Pump        pump.Config
	Loop        bool
	Clock       clock.WithTicker
	Observer    pump.Observer
	Logger      *zerolog.Logger
}

// Player plays the first video track of a demuxer into a renderer.
type Player struct {
	id       string
	d        *demux.Demuxer
	renderer pump.Renderer
	opts     Options
	log      zerolog.Logger

	session *codec.Session
	pump    *pump.Pump
	loops   int
	total   pump.Stats
	done    bool
}

// OpenFile opens path and prepares it for playback.
func OpenFile(path string, r pump.Renderer, opts Options) (*Player, error) {
	d, err := demux.OpenFile(path, demux.WithLogger(logger(opts)))
	if err != nil {
		return nil, err
	}
	p, err := New(d, r, opts)
	if err != nil {
		d.Close()
		return nil, err
	}
	return p, nil
}

// New configures and starts a codec session for the demuxer's video track.
// The player takes ownership of d.
func New(d *demux.Demuxer, r pump.Renderer, opts Options) (*Player, error) {
	if opts.Registry == nil {
		opts.Registry = codec.NewRegistry()
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Pump == (pump.Config{}) {
		opts.Pump = pump.DefaultConfig
	}

	p := &Player{
		id:       uuid.NewString(),
		d:        d,
		renderer: r,
		opts:     opts,
	}
	p.log = logger(opts).With().Str("component", "playback").Str("playback", p.id).Logger()

	if err := p.start(); err != nil {
		return nil, err
	}
	t := d.Track()
	p.log.Info().Str("mime", t.MimeType).Int("width", t.Width).Int("height", t.Height).Bool("loop", opts.Loop).Msg("playback started")
	return p, nil
}

func logger(opts Options) zerolog.Logger {
	if opts.Logger != nil {
		return *opts.Logger
	}
	return log.Logger
}

func (p *Player) start() error {
	s := codec.NewSession(
		codec.WithRegistry(p.opts.Registry),
		codec.WithSlots(p.opts.InputSlots, p.opts.OutputSlots),
		codec.WithLogger(p.log),
	)
	if err := s.Configure(p.d.Track()); err != nil {
		s.Stop()
		return err
	}
	if err := s.Start(); err != nil {
		s.Stop()
		return err
	}

	popts := []pump.Option{
		pump.WithConfig(p.opts.Pump),
		pump.WithClock(p.opts.Clock),
		pump.WithLogger(p.log),
	}
	if p.opts.Observer != nil {
		popts = append(popts, pump.WithObserver(p.opts.Observer))
	}
	p.session = s
	p.pump = pump.New(p.d, s, p.renderer, popts...)
	return nil
}

// stop tears down the current pipeline instance, folding its stats into the
// running totals.
func (p *Player) stop() error {
	if p.pump == nil {
		return nil
	}
	var errs []error
	if err := p.pump.Close(); err != nil {
		errs = append(errs, err)
	}
	p.total = p.total.Add(p.pump.Stats())
	if err := p.session.Stop(); err != nil {
		errs = append(errs, err)
	}
	p.pump, p.session = nil, nil
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// Tick runs one iteration of the decode loop. At the end of the stream it
// restarts from the first access unit when looping, and otherwise marks the
// player done.
func (p *Player) Tick(ctx context.Context) error {
	if p.done {
		return nil
	}
	if p.pump == nil {
		return codec.ErrStopped
	}
	if err := p.pump.Tick(ctx); err != nil {
		return err
	}
	if !p.pump.Done() {
		return nil
	}

	rendered := p.pump.Stats().Rendered
	if err := p.stop(); err != nil {
		return errors.Wrap(err, "stop pipeline")
	}
	if !p.opts.Loop || rendered == 0 {
		p.done = true
		p.log.Info().Int("rendered", p.total.Rendered).Msg("playback finished")
		return nil
	}

	if err := p.d.Rewind(); err != nil {
		return errors.Wrap(err, "rewind")
	}
	p.loops++
	p.log.Debug().Int("loop", p.loops).Msg("looping")
	return p.start()
}

// Play ticks the player at fps until it finishes or ctx is done.
func (p *Player) Play(ctx context.Context, fps float64) error {
	if fps <= 0 {
		fps = 30
	}
	t := p.opts.Clock.NewTicker(time.Duration(float64(time.Second) / fps))
	defer t.Stop()

	for !p.Done() {
		if err := p.Tick(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C():
		}
	}
	return nil
}

func (p *Player) ID() string { return p.id }

func (p *Player) Done() bool { return p.done }

func (p *Player) Loops() int { return p.loops }

func (p *Player) Track() media.Track { return p.d.Track() }

// State is the codec state of the current pipeline instance.
func (p *Player) State() codec.State {
	if p.session == nil {
		return codec.Stopped
	}
	return p.session.State()
}

// Stats sums the decode loop counters over every loop iteration.
func (p *Player) Stats() pump.Stats {
	if p.pump == nil {
		return p.total
	}
	return p.total.Add(p.pump.Stats())
}

// Close releases every slot, stops the session and closes the source.
func (p *Player) Close() error {
	err := p.stop()
	if cerr := p.d.Close(); err == nil {
		err = cerr
	}
	p.done = true
	return err
}
