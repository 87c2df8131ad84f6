package demux

import (
	"io"
	"strings"
	"time"

	"github.com/at-wat/ebml-go"
	"github.com/pkg/errors"

	"github.com/dialup-inc/asciiplayer/media"
)

// ebmlMagic starts every Matroska and WebM file.
var ebmlMagic = []byte{0x1a, 0x45, 0xdf, 0xa3}

const (
	mkvTrackVideo = 1
	mkvTrackAudio = 2

	defaultTimecodeScale = 1000000 // ns
)

var mkvMimes = map[string]string{
	"V_VP8":           media.MimeVP8,
	"V_VP9":           media.MimeVP9,
	"V_MPEG4/ISO/AVC": media.MimeAVC,
	"A_AAC":           media.MimeAAC,
	"A_OPUS":          "audio/opus",
}

type mkvVideo struct {
	PixelWidth  uint64 `ebml:"PixelWidth"`
	PixelHeight uint64 `ebml:"PixelHeight"`
}

type mkvTrackEntry struct {
	TrackNumber     uint64    `ebml:"TrackNumber"`
	TrackType       uint64    `ebml:"TrackType"`
	CodecID         string    `ebml:"CodecID"`
	CodecPrivate    []byte    `ebml:"CodecPrivate"`
	DefaultDuration uint64    `ebml:"DefaultDuration"`
	Video           *mkvVideo `ebml:"Video"`
}

type mkvBlockGroup struct {
	Block          ebml.Block `ebml:"Block"`
	ReferenceBlock []int64    `ebml:"ReferenceBlock"`
}

type mkvCluster struct {
	Timecode    uint64          `ebml:"Timecode"`
	SimpleBlock []ebml.Block    `ebml:"SimpleBlock"`
	BlockGroup  []mkvBlockGroup `ebml:"BlockGroup"`
}

type mkvFile struct {
	Header struct {
		DocType string `ebml:"EBMLDocType"`
	} `ebml:"EBML"`
	Segment struct {
		Info struct {
			TimecodeScale uint64  `ebml:"TimecodeScale"`
			Duration      float64 `ebml:"Duration"`
		} `ebml:"Info"`
		Tracks struct {
			TrackEntry []mkvTrackEntry `ebml:"TrackEntry"`
		} `ebml:"Tracks"`
		Cluster []mkvCluster `ebml:"Cluster"`
	} `ebml:"Segment"`
}

type mkvFrame struct {
	data []byte
	pts  int64 // µs
	key  bool
}

type mkvSamples struct {
	frames []mkvFrame
	avc    *avcParams
	pos    int
}

// openMatroska parses the whole file up front; clusters are small enough for
// terminal playback.
func openMatroska(r io.Reader) ([]media.Track, sampleReader, error) {
	var f mkvFile
	if err := ebml.Unmarshal(r, &f); err != nil {
		return nil, nil, errors.Wrap(err, "ebml")
	}
	switch f.Header.DocType {
	case "webm", "matroska":
	default:
		return nil, nil, errors.Errorf("doc type %q", f.Header.DocType)
	}
	seg := &f.Segment

	scale := int64(seg.Info.TimecodeScale)
	if scale == 0 {
		scale = defaultTimecodeScale
	}

	var (
		tracks []media.Track
		video  *mkvTrackEntry
		avc    *avcParams
	)
	for i := range seg.Tracks.TrackEntry {
		te := &seg.Tracks.TrackEntry[i]
		t := media.Track{ID: int(te.TrackNumber)}

		mime, ok := mkvMimes[te.CodecID]
		switch {
		case ok:
			t.MimeType = mime
		case te.TrackType == mkvTrackVideo:
			t.MimeType = "video/x-matroska-" + strings.ToLower(te.CodecID)
		case te.TrackType == mkvTrackAudio:
			t.MimeType = "audio/x-matroska-" + strings.ToLower(te.CodecID)
		default:
			t.MimeType = "application/octet-stream"
		}

		if te.Video != nil {
			t.Geometry = media.Geometry{Width: int(te.Video.PixelWidth), Height: int(te.Video.PixelHeight)}
		}
		if te.DefaultDuration > 0 {
			t.FrameRate = float64(time.Second) / float64(te.DefaultDuration)
		}
		if seg.Info.Duration > 0 {
			t.Duration = time.Duration(seg.Info.Duration * float64(scale))
		}

		if t.MimeType == media.MimeAVC {
			p, err := parseAVCC(te.CodecPrivate)
			if err != nil {
				return nil, nil, err
			}
			if w, h, ok := spsGeometry(p.sps); ok {
				t.Width, t.Height = w, h
			}
			if t.CodecPrivate, err = annexBParams(p.all()); err != nil {
				return nil, nil, err
			}
			if video == nil {
				avc = &p
			}
		} else {
			t.CodecPrivate = te.CodecPrivate
		}

		if video == nil && media.IsVideo(t.MimeType) {
			video = te
		}
		t.Geometry = t.Geometry.Normalize()
		tracks = append(tracks, t)
	}

	s := &mkvSamples{avc: avc}
	if video == nil {
		return tracks, s, nil
	}

	for _, c := range seg.Cluster {
		add := func(b ebml.Block, key bool) {
			if b.TrackNumber != video.TrackNumber {
				return
			}
			pts := (int64(c.Timecode) + int64(b.Timecode)) * scale / 1000
			for _, data := range b.Data {
				s.frames = append(s.frames, mkvFrame{data: data, pts: pts, key: key})
			}
		}
		for _, b := range c.SimpleBlock {
			add(b, b.Keyframe)
		}
		for _, g := range c.BlockGroup {
			add(g.Block, len(g.ReferenceBlock) == 0)
		}
	}
	return tracks, s, nil
}

func (s *mkvSamples) next() (media.Sample, error) {
	if s.pos >= len(s.frames) {
		return media.Sample{}, io.EOF
	}
	f := s.frames[s.pos]
	s.pos++

	if s.avc == nil {
		return media.Sample{Data: f.data, PTS: f.pts, Keyframe: f.key}, nil
	}

	data, key, err := toAnnexB(f.data, s.avc.lengthSize, s.avc.all())
	if err != nil {
		return media.Sample{}, errors.Wrapf(err, "sample %d", s.pos-1)
	}
	return media.Sample{Data: data, PTS: f.pts, Keyframe: key || f.key}, nil
}

func (s *mkvSamples) rewind() error {
	s.pos = 0
	return nil
}
