package asciiplayer

import (
	"bytes"
	"context"
	"fmt"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/dialup-inc/asciiplayer/codec"
	"github.com/dialup-inc/asciiplayer/config"
	"github.com/dialup-inc/asciiplayer/demux"
	"github.com/dialup-inc/asciiplayer/media"
	"github.com/dialup-inc/asciiplayer/monitor"
	"github.com/dialup-inc/asciiplayer/playback"
	"github.com/dialup-inc/asciiplayer/pump"
	"github.com/dialup-inc/asciiplayer/term"
	"github.com/dialup-inc/asciiplayer/ui"
	"github.com/dialup-inc/asciiplayer/yuv"
)

type Option func(*App)

// WithOutput sends the terminal drawing to w instead of stdout.
func WithOutput(w io.Writer) Option {
	return func(a *App) { a.out = w }
}

func WithClock(c clock.WithTicker) Option {
	return func(a *App) { a.clock = c }
}

func WithLogger(l zerolog.Logger) Option {
	return func(a *App) { a.base = l }
}

type App struct {
	cfg      config.Config
	registry *codec.Registry
	out      io.Writer
	clock    clock.WithTicker
	base     zerolog.Logger
	log      zerolog.Logger

	cancelMu sync.Mutex
	quit     context.CancelFunc

	renderer *ui.Renderer
	surface  *pump.Surface
	monitor  *monitor.Server

	statusMu sync.Mutex
	status   monitor.Status
}

func New(cfg config.Config, reg *codec.Registry, opts ...Option) *App {
	a := &App{
		cfg:      cfg,
		registry: reg,
		out:      os.Stdout,
		clock:    clock.RealClock{},
		base:     log.Logger,
		surface:  &pump.Surface{},
	}
	for _, opt := range opts {
		opt(a)
	}
	a.log = a.base.With().Str("component", "app").Logger()
	a.renderer = ui.NewRenderer(a.out, a.clock)
	a.surface.OnFrameAvailable = a.renderer.RequestFrame
	if cfg.MonitorAddr != "" {
		a.monitor = monitor.NewServer(a.Status, monitor.WithLogger(a.base))
	}
	a.status = monitor.Status{Source: cfg.Source, State: codec.Unconfigured.String()}
	return a
}

// Status is a snapshot of the current playback for the monitor.
func (a *App) Status() monitor.Status {
	a.statusMu.Lock()
	defer a.statusMu.Unlock()
	return a.status
}

func (a *App) setStatus(fn func(*monitor.Status)) {
	a.statusMu.Lock()
	fn(&a.status)
	a.statusMu.Unlock()
}

// UI exposes the renderer so callers can inspect what is on screen.
func (a *App) UI() *ui.Renderer { return a.renderer }

func (a *App) run(ctx context.Context) error {
	a.cancelMu.Lock()
	if a.quit != nil {
		a.cancelMu.Unlock()
		return errors.New("app can only be run once")
	}
	ctx, cancel := context.WithCancel(ctx)
	a.quit = cancel
	a.cancelMu.Unlock()
	defer cancel()

	if err := term.CaptureStdin(a.onKeypress); err != nil {
		return err
	}

	winSize, _ := term.GetWinSize()
	if winSize.Rows < 15 || winSize.Cols < 50 {
		ansi := term.ANSI{Writer: a.out}
		ansi.ResizeWindow(15, 50)
	}

	a.renderer.Start()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.watchWinSize(ctx) })
	if a.monitor != nil {
		g.Go(func() error {
			// the player keeps going without diagnostics
			if err := a.monitor.ListenAndServe(ctx, a.cfg.MonitorAddr); err != nil {
				a.log.Error().Err(err).Msg("monitor stopped")
				a.renderer.Dispatch(ui.LogEvent{Level: ui.LogLevelError, Text: err.Error()})
			}
			return nil
		})
	}
	g.Go(func() error { return a.Play(ctx) })

	return g.Wait()
}

// Play runs the pipeline for the configured source until ctx is done. Setup
// failures switch the UI to the unavailable page instead of returning.
func (a *App) Play(ctx context.Context) error {
	title := filepath.Base(a.cfg.Source)
	a.renderer.Dispatch(ui.TrackEvent{Title: title})

	p, err := playback.OpenFile(a.cfg.Source, a.surface, playback.Options{
		Registry:    a.registry,
		InputSlots:  a.cfg.InputSlots,
		OutputSlots: a.cfg.OutputSlots,
		Pump:        a.cfg.Pump(),
		Loop:        a.cfg.Loop,
		Clock:       a.clock,
		Observer:    pump.Observers(pump.ObserverFunc(a.observe), a.observer()),
		Logger:      &a.base,
	})
	if err != nil {
		a.unavailable(err)
		<-ctx.Done()
		return nil
	}
	defer func() {
		if err := p.Close(); err != nil {
			a.log.Warn().Err(err).Msg("close playback")
		}
	}()

	track := p.Track()
	a.renderer.Dispatch(ui.TrackEvent{Title: title, Mime: track.MimeType, Width: track.Width, Height: track.Height})
	a.setStatus(func(s *monitor.Status) {
		s.ID = p.ID()
		s.Mime = track.MimeType
		s.Width, s.Height = track.Width, track.Height
	})

	fps := a.cfg.FPS
	if fps <= 0 {
		fps = 30
	}
	ticker := a.clock.NewTicker(time.Duration(float64(time.Second) / fps))
	defer ticker.Stop()

	for !p.Done() {
		if err := p.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			a.unavailable(err)
			<-ctx.Done()
			return nil
		}
		a.present()
		a.publish(p)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
		}
	}

	a.publish(p)
	a.renderer.Dispatch(ui.SetPageEvent(ui.FinishedPage))
	<-ctx.Done()
	return nil
}

func (a *App) present() {
	f, ok := a.surface.Update()
	if !ok {
		return
	}
	img, err := yuv.FromI420(f.Data, f.Width, f.Height)
	if err != nil {
		a.log.Warn().Err(err).Msg("frame dropped by the UI")
		return
	}
	a.renderer.Dispatch(ui.FrameEvent{Image: img, PTS: media.Micros(f.PTS)})
}

func (a *App) publish(p *playback.Player) {
	st := p.Stats()
	a.renderer.Dispatch(ui.StatsEvent{Rendered: st.Rendered, Dropped: st.Dropped, Loops: p.Loops()})
	a.setStatus(func(s *monitor.Status) {
		s.State = p.State().String()
		s.Rendered = st.Rendered
		s.Dropped = st.Dropped
		s.Loops = p.Loops()
	})
}

func (a *App) observer() pump.Observer {
	if a.monitor == nil {
		return nil
	}
	return a.monitor
}

func (a *App) observe(e pump.Event) {
	switch e.Kind {
	case pump.EventFormatChanged:
		a.renderer.Dispatch(ui.FormatEvent{Width: e.Geometry.Width, Height: e.Geometry.Height})
		a.renderer.Dispatch(ui.LogEvent{
			Level: ui.LogLevelInfo,
			Text:  fmt.Sprintf("video size changed to %dx%d", e.Geometry.Width, e.Geometry.Height),
		})
		a.setStatus(func(s *monitor.Status) {
			s.Width, s.Height = e.Geometry.Width, e.Geometry.Height
		})

	case pump.EventDecodeError, pump.EventSourceError, pump.EventConvertError, pump.EventRenderError:
		a.renderer.Dispatch(ui.LogEvent{Level: ui.LogLevelError, Text: fmt.Sprintf("%s: %v", e.Kind, e.Err)})

	case pump.EventUnexpectedStatus:
		a.renderer.Dispatch(ui.LogEvent{Level: ui.LogLevelError, Text: "unexpected codec status " + e.Status})
	}
}

func (a *App) unavailable(err error) {
	a.log.Error().Err(err).Str("source", a.cfg.Source).Msg("video unavailable")
	a.setStatus(func(s *monitor.Status) { s.State = codec.Stopped.String() })
	a.renderer.Dispatch(ui.UnavailableEvent{Reason: reason(err)})
}

func reason(err error) string {
	switch {
	case errors.Is(err, demux.ErrSourceUnavailable):
		return "The file could not be opened."
	case errors.Is(err, demux.ErrUnsupportedContainer):
		return "The container format is not supported."
	case errors.Is(err, demux.ErrNoVideoTrack):
		return "The file has no video track."
	case errors.Is(err, codec.ErrUnsupportedMime):
		return "No decoder is available for this video."
	default:
		return err.Error()
	}
}

func (a *App) catchError(msg interface{}, stack []byte) {
	buf := bytes.NewBuffer(nil)
	ansi := term.ANSI{Writer: buf}

	ansi.CursorPosition(1, 1)
	ansi.Reset()

	ansi.Bold()
	ansi.Foreground(color.RGBA{0xFF, 0x00, 0x00, 0xFF})
	buf.WriteString("Oops! asciiplayer hit a snag.\n")
	ansi.Normal()
	ansi.ForegroundReset()

	buf.WriteString("\n")
	buf.WriteString(fmt.Sprintf("[panic] %v\n", msg))
	buf.WriteString("\n")
	buf.Write(stack)
	buf.WriteString("\n")

	data := bytes.ReplaceAll(buf.Bytes(), []byte("\n"), []byte("\r\n"))
	os.Stderr.Write(data)
}

func (a *App) Run(ctx context.Context) error {
	// Show a nice error page if there's a panic somewhere in the code
	defer func() {
		if r := recover(); r != nil {
			term.RestoreStdin()
			a.catchError(r, debug.Stack())
		}
	}()

	err := a.run(ctx)

	// Clean up:
	a.renderer.Stop()
	if rerr := term.RestoreStdin(); err == nil {
		err = rerr
	}

	return err
}

func (a *App) watchWinSize(ctx context.Context) error {
	checkWinSize := func() {
		winSize, err := term.GetWinSize()
		if err != nil {
			return
		}
		a.renderer.Dispatch(ui.ResizeEvent(winSize))
	}

	checkWinSize()

	tick := a.clock.NewTicker(500 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C():
			checkWinSize()
		}
	}
}

func (a *App) Quit() {
	a.cancelMu.Lock()
	if a.quit != nil {
		a.quit()
	}
	a.cancelMu.Unlock()
}

func (a *App) onKeypress(c rune) {
	switch c {
	case 3, 'q': // ctrl-c
		a.renderer.Dispatch(ui.LogEvent{
			Level: ui.LogLevelInfo,
			Text:  "Quitting...",
		})
		a.Quit()

	case 'h', 20: // ctrl-t
		a.renderer.Dispatch(ui.ToggleHelpEvent{})
	}
}
