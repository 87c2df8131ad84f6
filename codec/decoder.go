package codec

import (
	"image"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/dialup-inc/asciiplayer/media"
	"github.com/dialup-inc/asciiplayer/yuv"
)

// Picture is a decoded 4:2:0 image. Image may alias decoder memory and is
// only valid until the next call on the Decoder.
type Picture struct {
	Image *image.YCbCr
	PTS   int64
}

// Decoder turns access units into pictures. Implementations need not be
// safe for concurrent use; a Session calls them from one goroutine.
type Decoder interface {
	Decode(data []byte, pts int64) ([]Picture, error)
	// Flush returns any pictures still buffered in the decoder.
	Flush() ([]Picture, error)
	Close() error
}

type Factory func(track media.Track) (Decoder, error)

// Registry maps mime types to decoder factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns a registry holding the built-in raw decoder.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register(media.MimeRaw, NewRawDecoder)
	return r
}

func (r *Registry) Register(mime string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[mime] = f
}

func (r *Registry) Lookup(mime string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[mime]
	return f, ok
}

func (r *Registry) Mimes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for m := range r.factories {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

type rawDecoder struct {
	width, height int
	nv12          bool
}

// NewRawDecoder handles uncompressed I420 and NV12 tracks.
func NewRawDecoder(t media.Track) (Decoder, error) {
	d := &rawDecoder{width: t.Width, height: t.Height}
	switch t.Format {
	case "", "I420":
	case "NV12":
		d.nv12 = true
	default:
		return nil, errors.Errorf("raw format %q", t.Format)
	}
	if t.Width <= 0 || t.Height <= 0 || t.Width%2 != 0 || t.Height%2 != 0 {
		return nil, errors.Wrapf(yuv.ErrOddDimensions, "%dx%d", t.Width, t.Height)
	}
	return d, nil
}

func (d *rawDecoder) Decode(data []byte, pts int64) ([]Picture, error) {
	var (
		img *image.YCbCr
		err error
	)
	if d.nv12 {
		img, err = yuv.FromNV12(data, d.width, d.height)
	} else {
		img, err = yuv.FromI420(data, d.width, d.height)
	}
	if err != nil {
		return nil, err
	}
	return []Picture{{Image: img, PTS: pts}}, nil
}

func (d *rawDecoder) Flush() ([]Picture, error) { return nil, nil }
func (d *rawDecoder) Close() error              { return nil }
