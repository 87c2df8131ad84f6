package demux

import (
	"io"
	"time"

	"github.com/pkg/errors"

	"github.com/dialup-inc/asciiplayer/ivf"
	"github.com/dialup-inc/asciiplayer/media"
)

var ivfMimes = map[string]string{
	"VP80": media.MimeVP8,
	"VP90": media.MimeVP9,
	"I420": media.MimeRaw,
	"NV12": media.MimeRaw,
}

type ivfSamples struct {
	r   *ivf.Reader
	hdr ivf.Header
}

func openIVF(rs io.ReadSeeker) ([]media.Track, sampleReader, error) {
	r, err := ivf.NewReader(rs)
	if err != nil {
		return nil, nil, errors.Wrap(err, "ivf")
	}

	hdr := r.Header
	mime, ok := ivfMimes[r.Codec()]
	if !ok {
		mime = "video/x-ivf-" + r.Codec()
	}
	t := media.Track{
		ID:       1,
		MimeType: mime,
		Geometry: media.Geometry{
			Width:  int(hdr.Width),
			Height: int(hdr.Height),
		}.Normalize(),
		FrameRate: hdr.FPS(),
		Format:    r.Codec(),
	}
	if hdr.FrameCount > 0 {
		t.Duration = time.Duration(hdr.Micros(uint64(hdr.FrameCount))) * time.Microsecond
	}

	return []media.Track{t}, &ivfSamples{r: r, hdr: hdr}, nil
}

func (s *ivfSamples) next() (media.Sample, error) {
	data, pts, err := s.r.ReadFrame()
	if err != nil {
		return media.Sample{}, err
	}
	return media.Sample{
		Data:     data,
		PTS:      s.hdr.Micros(pts),
		Keyframe: isIVFKeyframe(s.r.Codec(), data),
	}, nil
}

func (s *ivfSamples) rewind() error {
	return s.r.Rewind()
}

// VP8 and VP9 flag key frames in the first byte of the frame tag.
func isIVFKeyframe(codec string, data []byte) bool {
	if len(data) == 0 {
		return false
	}
	switch codec {
	case "VP80":
		return data[0]&0x01 == 0
	case "VP90":
		// frame_marker(2) profile(2) show_existing(1) frame_type(1)
		return data[0]&0xc0 == 0x80 && data[0]&0x08 == 0 && data[0]&0x04 == 0
	default:
		return true
	}
}
