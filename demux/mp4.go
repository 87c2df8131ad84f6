package demux

import (
	"io"
	"time"

	"github.com/abema/go-mp4"
	"github.com/pkg/errors"

	"github.com/dialup-inc/asciiplayer/media"
)

var errFragmented = errors.New("fragmented mp4 is not supported")

type mp4Entry struct {
	offset int64
	size   uint32
	pts    int64 // media timescale
}

type mp4Samples struct {
	r         io.ReaderAt
	entries   []mp4Entry
	timescale int64
	params    [][]byte // SPS and PPS, without start codes
	pos       int
}

type trakInfo struct {
	handler string
	sps     [][]byte
	pps     [][]byte
}

func openMP4(rs io.ReadSeeker) ([]media.Track, sampleReader, error) {
	info, err := mp4.Probe(rs)
	if err != nil {
		return nil, nil, errors.Wrap(err, "mp4 probe")
	}

	traks, err := readTraks(rs)
	if err != nil {
		return nil, nil, err
	}

	var (
		tracks []media.Track
		video  *mp4Samples
	)
	for _, tr := range info.Tracks {
		ti := traks[tr.TrackID]

		t := media.Track{ID: int(tr.TrackID)}
		if tr.Timescale > 0 {
			t.Duration = time.Duration(tr.Duration) * time.Second / time.Duration(tr.Timescale)
		}

		switch {
		case tr.Codec == mp4.CodecAVC1 && tr.AVC != nil:
			t.MimeType = media.MimeAVC
			t.Geometry = media.Geometry{Width: int(tr.AVC.Width), Height: int(tr.AVC.Height)}
		case tr.Codec == mp4.CodecMP4A:
			t.MimeType = media.MimeAAC
		case ti.handler == "vide":
			t.MimeType = "video/x-mp4-unknown"
		default:
			t.MimeType = "application/octet-stream"
		}

		if t.Duration > 0 && len(tr.Samples) > 0 {
			t.FrameRate = float64(len(tr.Samples)) / t.Duration.Seconds()
		}

		if t.MimeType == media.MimeAVC {
			if w, h, ok := spsGeometry(ti.sps); ok {
				t.Width, t.Height = w, h
			}
			params := append(append([][]byte(nil), ti.sps...), ti.pps...)
			if t.CodecPrivate, err = annexBParams(params); err != nil {
				return nil, nil, err
			}

			if video == nil && media.IsVideo(t.MimeType) {
				if tr.AVC.LengthSize != 4 {
					return nil, nil, errors.Errorf("unsupported NALU length size %d", tr.AVC.LengthSize)
				}
				video = &mp4Samples{
					r:         readerAt(rs),
					entries:   sampleTable(tr),
					timescale: int64(tr.Timescale),
					params:    params,
				}
			}
		}
		t.Geometry = t.Geometry.Normalize()
		tracks = append(tracks, t)
	}

	if len(info.Segments) > 0 && video != nil && len(video.entries) == 0 {
		return nil, nil, errFragmented
	}
	if video == nil {
		// Selection fails later with ErrNoVideoTrack; any remaining video
		// track here has a codec the session will reject.
		video = &mp4Samples{r: readerAt(rs), timescale: 1}
	}
	return tracks, video, nil
}

func readTraks(rs io.ReadSeeker) (map[uint32]trakInfo, error) {
	boxes, err := mp4.ExtractBox(rs, nil, mp4.BoxPath{mp4.BoxTypeMoov(), mp4.BoxTypeTrak()})
	if err != nil {
		return nil, errors.Wrap(err, "extract trak")
	}

	out := make(map[uint32]trakInfo, len(boxes))
	for _, trak := range boxes {
		tkhd, err := mp4.ExtractBoxWithPayload(rs, trak, mp4.BoxPath{mp4.BoxTypeTkhd()})
		if err != nil || len(tkhd) == 0 {
			continue
		}
		id := tkhd[0].Payload.(*mp4.Tkhd).TrackID

		var ti trakInfo
		hdlr, err := mp4.ExtractBoxWithPayload(rs, trak, mp4.BoxPath{mp4.BoxTypeMdia(), mp4.BoxTypeHdlr()})
		if err == nil && len(hdlr) > 0 {
			ht := hdlr[0].Payload.(*mp4.Hdlr).HandlerType
			ti.handler = string(ht[:])
		}

		avcC, err := mp4.ExtractBoxWithPayload(rs, trak, mp4.BoxPath{
			mp4.BoxTypeMdia(), mp4.BoxTypeMinf(), mp4.BoxTypeStbl(),
			mp4.BoxTypeStsd(), mp4.BoxTypeAvc1(), mp4.BoxTypeAvcC(),
		})
		if err == nil && len(avcC) > 0 {
			cfg := avcC[0].Payload.(*mp4.AVCDecoderConfiguration)
			for _, ps := range cfg.SequenceParameterSets {
				ti.sps = append(ti.sps, ps.NALUnit)
			}
			for _, ps := range cfg.PictureParameterSets {
				ti.pps = append(ti.pps, ps.NALUnit)
			}
		}
		out[id] = ti
	}
	return out, nil
}

// sampleTable flattens the chunk and sample tables into per-sample file
// offsets and presentation times.
func sampleTable(tr *mp4.Track) []mp4Entry {
	entries := make([]mp4Entry, 0, len(tr.Samples))
	var (
		idx int
		dts int64
	)
	for _, c := range tr.Chunks {
		off := int64(c.DataOffset)
		for j := uint32(0); j < c.SamplesPerChunk && idx < len(tr.Samples); j++ {
			s := tr.Samples[idx]
			entries = append(entries, mp4Entry{
				offset: off,
				size:   s.Size,
				pts:    dts + s.CompositionTimeOffset,
			})
			off += int64(s.Size)
			dts += int64(s.TimeDelta)
			idx++
		}
	}
	return entries
}

func (s *mp4Samples) next() (media.Sample, error) {
	if s.pos >= len(s.entries) {
		return media.Sample{}, io.EOF
	}
	e := s.entries[s.pos]
	s.pos++

	buf := make([]byte, e.size)
	if _, err := s.r.ReadAt(buf, e.offset); err != nil {
		return media.Sample{}, errors.Wrapf(err, "read sample %d", s.pos-1)
	}

	data, key, err := toAnnexB(buf, 4, s.params)
	if err != nil {
		return media.Sample{}, errors.Wrapf(err, "sample %d", s.pos-1)
	}

	return media.Sample{
		Data:     data,
		PTS:      e.pts * 1e6 / s.timescale,
		Keyframe: key,
	}, nil
}

func (s *mp4Samples) rewind() error {
	s.pos = 0
	return nil
}

func readerAt(rs io.ReadSeeker) io.ReaderAt {
	if ra, ok := rs.(io.ReaderAt); ok {
		return ra
	}
	return &seekReaderAt{rs}
}

type seekReaderAt struct{ rs io.ReadSeeker }

func (s *seekReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if _, err := s.rs.Seek(off, io.SeekStart); err != nil {
		return 0, err
	}
	return io.ReadFull(s.rs, p)
}
