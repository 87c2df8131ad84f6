package playback

import (
	"context"

	"github.com/pkg/errors"

	"github.com/dialup-inc/asciiplayer/demux"
	"github.com/dialup-inc/asciiplayer/pump"
)

var ErrFrameNotFound = errors.New("stream ended before the requested frame")

// Snapshot decodes d as fast as possible and returns the n-th rendered frame
// (counting from 0). d is closed on return.
func Snapshot(ctx context.Context, d *demux.Demuxer, n int, opts Options) (*pump.Frame, error) {
	if opts.Pump == (pump.Config{}) {
		opts.Pump = pump.DefaultConfig
	}
	opts.Pump.Pacing = pump.PacingNone
	opts.Loop = false

	var (
		seen  int
		frame *pump.Frame
	)
	grab := pump.RendererFunc(func(f *pump.Frame) error {
		if seen == n {
			frame = f
		}
		seen++
		return nil
	})

	p, err := New(d, grab, opts)
	if err != nil {
		d.Close()
		return nil, err
	}
	defer p.Close()

	for frame == nil && !p.Done() {
		if err := p.Tick(ctx); err != nil {
			return nil, err
		}
	}
	if frame == nil {
		return nil, errors.Wrapf(ErrFrameNotFound, "frame %d of %d", n, seen)
	}
	return frame, nil
}
