// Package demux splits a container into the compressed access units of its
// first video track.
package demux

import (
	"bytes"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dialup-inc/asciiplayer/media"
)

var (
	ErrSourceUnavailable    = errors.New("source unavailable")
	ErrNoVideoTrack         = errors.New("no video track")
	ErrUnsupportedContainer = errors.New("unsupported container")
)

// OpenError describes a failure to open a source. It matches one of the
// package sentinels with errors.Is.
type OpenError struct {
	Op   string
	Path string
	Kind error
	Err  error
}

func (e *OpenError) Error() string {
	msg := "demux " + e.Op
	if e.Path != "" {
		msg += " " + e.Path
	}
	msg += ": " + e.Kind.Error()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *OpenError) Is(target error) bool { return target == e.Kind }
func (e *OpenError) Unwrap() error        { return e.Err }

// Source is a readable byte range, e.g. a region of a packaged asset.
type Source struct {
	R      io.ReaderAt
	Offset int64
	Length int64

	// Path is used for diagnostics only.
	Path string
}

type sampleReader interface {
	next() (media.Sample, error)
	rewind() error
}

// Demuxer exposes the access units of one video track in decode order.
type Demuxer struct {
	path   string
	tracks []media.Track
	video  int
	r      sampleReader
	closer io.Closer
	log    zerolog.Logger

	cur *media.Sample
	err error
}

type Option func(*Demuxer)

func WithLogger(l zerolog.Logger) Option {
	return func(d *Demuxer) { d.log = l }
}

// OpenFile opens the file at path as a Source. The file is closed by Close.
func OpenFile(path string, opts ...Option) (*Demuxer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &OpenError{Op: "open", Path: path, Kind: ErrSourceUnavailable, Err: err}
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, &OpenError{Op: "stat", Path: path, Kind: ErrSourceUnavailable, Err: err}
	}

	d, err := Open(Source{R: f, Length: fi.Size(), Path: path}, opts...)
	if err != nil {
		f.Close()
		return nil, err
	}
	d.closer = f
	return d, nil
}

// Open detects the container in src and selects its first video track.
func Open(src Source, opts ...Option) (*Demuxer, error) {
	d := &Demuxer{path: src.Path, log: log.Logger}
	for _, opt := range opts {
		opt(d)
	}
	d.log = d.log.With().Str("component", "demux").Logger()

	if src.R == nil || src.Length <= 0 {
		return nil, &OpenError{Op: "open", Path: src.Path, Kind: ErrSourceUnavailable}
	}
	sr := io.NewSectionReader(src.R, src.Offset, src.Length)

	magic := make([]byte, 8)
	n, err := sr.ReadAt(magic, 0)
	if err != nil && err != io.EOF {
		return nil, &OpenError{Op: "read", Path: src.Path, Kind: ErrSourceUnavailable, Err: err}
	}
	magic = magic[:n]

	switch {
	case bytes.HasPrefix(magic, []byte("DKIF")):
		d.tracks, d.r, err = openIVF(sr)
	case len(magic) == 8 && bytes.Equal(magic[4:8], []byte("ftyp")):
		d.tracks, d.r, err = openMP4(sr)
	case bytes.HasPrefix(magic, ebmlMagic):
		d.tracks, d.r, err = openMatroska(sr)
	default:
		return nil, &OpenError{Op: "probe", Path: src.Path, Kind: ErrUnsupportedContainer,
			Err: errors.Errorf("magic % x", magic)}
	}
	if err != nil {
		var oe *OpenError
		if errors.As(err, &oe) {
			oe.Path = src.Path
			return nil, oe
		}
		return nil, &OpenError{Op: "probe", Path: src.Path, Kind: ErrUnsupportedContainer, Err: err}
	}

	d.video = -1
	for i, t := range d.tracks {
		if media.IsVideo(t.MimeType) {
			d.video = i
			break
		}
	}
	if d.video < 0 {
		return nil, &OpenError{Op: "select", Path: src.Path, Kind: ErrNoVideoTrack}
	}

	t := d.tracks[d.video]
	d.log.Info().
		Str("path", src.Path).
		Str("mime", t.MimeType).
		Int("width", t.Width).
		Int("height", t.Height).
		Float64("fps", t.FrameRate).
		Msg("opened")
	return d, nil
}

// Tracks lists every track of the container.
func (d *Demuxer) Tracks() []media.Track {
	return append([]media.Track(nil), d.tracks...)
}

// Track is the selected video track.
func (d *Demuxer) Track() media.Track {
	return d.tracks[d.video]
}

// ReadSample returns the access unit at the cursor without moving it. At the
// end of the stream it returns io.EOF, and keeps doing so.
func (d *Demuxer) ReadSample() (media.Sample, error) {
	if d.cur == nil && d.err == nil {
		s, err := d.r.next()
		if err != nil {
			d.err = err
		} else {
			d.cur = &s
		}
	}
	if d.err != nil {
		return media.Sample{}, d.err
	}
	return *d.cur, nil
}

// Advance moves the cursor forward exactly one access unit.
func (d *Demuxer) Advance() error {
	if d.err != nil {
		return nil
	}
	if d.cur == nil {
		if _, err := d.r.next(); err != nil {
			d.err = err
			if err != io.EOF {
				return err
			}
			return nil
		}
	}
	d.cur = nil
	return nil
}

// Rewind moves the cursor back to the first access unit.
func (d *Demuxer) Rewind() error {
	d.cur, d.err = nil, nil
	return d.r.rewind()
}

func (d *Demuxer) Close() error {
	if d.closer == nil {
		return nil
	}
	err := d.closer.Close()
	d.closer = nil
	return err
}
