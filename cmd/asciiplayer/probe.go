package main

import (
	"context"
	"fmt"
	"image/png"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/dialup-inc/asciiplayer/demux"
	"github.com/dialup-inc/asciiplayer/media"
	"github.com/dialup-inc/asciiplayer/playback"
	"github.com/dialup-inc/asciiplayer/yuv"
)

type probeOptions struct {
	png   string
	frame int
}

func newProbeCommand(root *rootOptions) *cobra.Command {
	opts := &probeOptions{}

	cmd := &cobra.Command{
		Use:   "probe <file>",
		Short: "Print the tracks of a video file",
		Example: `  asciiplayer probe clip.ivf
  asciiplayer probe movie.mp4 --png frame.png --frame 30`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProbe(cmd.Context(), root, opts, args[0], cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.png, "png", "", "decode one frame and write it to this PNG file")
	flags.IntVar(&opts.frame, "frame", 0, "index of the frame written by --png")

	return cmd
}

func runProbe(ctx context.Context, root *rootOptions, opts *probeOptions, path string, out io.Writer) error {
	cfg, err := root.load()
	if err != nil {
		return err
	}
	logger := consoleLogger(cfg)

	d, err := demux.OpenFile(path, demux.WithLogger(logger))
	if err != nil {
		return err
	}

	bold := color.New(color.Bold, color.FgCyan)
	dim := color.New(color.FgHiBlack)

	bold.Fprintln(out, path)
	for _, t := range d.Tracks() {
		selected := " "
		if t.ID == d.Track().ID {
			selected = "*"
		}
		fmt.Fprintf(out, "%s track %d  %s", selected, t.ID, color.YellowString(t.MimeType))
		if media.IsVideo(t.MimeType) {
			fmt.Fprintf(out, "  %dx%d", t.Width, t.Height)
		}
		if t.FrameRate > 0 {
			fmt.Fprintf(out, "  %.2f fps", t.FrameRate)
		}
		if t.Duration > 0 {
			fmt.Fprintf(out, "  %s", t.Duration.Round(time.Millisecond))
		}
		if len(t.CodecPrivate) > 0 {
			dim.Fprintf(out, "  codec private %d bytes", len(t.CodecPrivate))
		}
		fmt.Fprintln(out)
	}

	samples, keys, err := countSamples(d)
	if err != nil {
		d.Close()
		return err
	}
	fmt.Fprintf(out, "  %d samples, %d key frames\n", samples, keys)

	if opts.png == "" {
		return d.Close()
	}

	if ctx == nil {
		ctx = context.Background()
	}
	if err := d.Rewind(); err != nil {
		d.Close()
		return err
	}
	f, err := playback.Snapshot(ctx, d, opts.frame, playback.Options{Registry: registry(), Logger: &logger})
	if err != nil {
		return err
	}
	img, err := yuv.FromI420(f.Data, f.Width, f.Height)
	if err != nil {
		return err
	}

	w, err := os.Create(opts.png)
	if err != nil {
		return err
	}
	if err := png.Encode(w, img); err != nil {
		w.Close()
		return errors.Wrap(err, "encode png")
	}
	if err := w.Close(); err != nil {
		return err
	}
	color.New(color.FgGreen).Fprintf(out, "wrote frame %d (%s) to %s\n", opts.frame, f.Timestamp(), opts.png)
	return nil
}

func countSamples(d *demux.Demuxer) (samples, keys int, err error) {
	for {
		s, err := d.ReadSample()
		if err == io.EOF {
			return samples, keys, nil
		}
		if err != nil {
			return samples, keys, err
		}
		samples++
		if s.Keyframe {
			keys++
		}
		if err := d.Advance(); err != nil {
			return samples, keys, err
		}
	}
}
