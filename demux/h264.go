package demux

import (
	"bytes"
	"encoding/binary"

	"github.com/abema/go-mp4"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/pkg/errors"
)

// avcParams holds the parameter sets from an avcC record.
type avcParams struct {
	lengthSize int
	sps        [][]byte
	pps        [][]byte
}

func (p avcParams) all() [][]byte {
	return append(append([][]byte(nil), p.sps...), p.pps...)
}

// parseAVCC decodes a bare avcC record, as carried in Matroska CodecPrivate.
func parseAVCC(record []byte) (avcParams, error) {
	var cfg mp4.AVCDecoderConfiguration
	if _, err := mp4.Unmarshal(bytes.NewReader(record), uint64(len(record)), &cfg, mp4.Context{}); err != nil {
		return avcParams{}, errors.Wrap(err, "avcC")
	}
	p := avcParams{lengthSize: int(cfg.LengthSizeMinusOne) + 1}
	for _, ps := range cfg.SequenceParameterSets {
		p.sps = append(p.sps, ps.NALUnit)
	}
	for _, ps := range cfg.PictureParameterSets {
		p.pps = append(p.pps, ps.NALUnit)
	}
	return p, nil
}

// annexBParams renders parameter sets in Annex-B form for CodecPrivate.
func annexBParams(params [][]byte) ([]byte, error) {
	if len(params) == 0 {
		return nil, nil
	}
	out, err := h264.AnnexB(params).Marshal()
	return out, errors.Wrap(err, "marshal parameter sets")
}

// spsGeometry reads the picture size from the first SPS.
func spsGeometry(sps [][]byte) (width, height int, ok bool) {
	if len(sps) == 0 {
		return 0, 0, false
	}
	var s h264.SPS
	if err := s.Unmarshal(sps[0]); err != nil {
		return 0, 0, false
	}
	return s.Width(), s.Height(), true
}

// splitLengthPrefixed splits an access unit of length-prefixed NAL units.
func splitLengthPrefixed(buf []byte, lengthSize int) ([][]byte, error) {
	if lengthSize == 4 {
		var au h264.AVCC
		if err := au.Unmarshal(buf); err != nil {
			return nil, err
		}
		return au, nil
	}
	if lengthSize != 1 && lengthSize != 2 {
		return nil, errors.Errorf("unsupported NALU length size %d", lengthSize)
	}

	var nalus [][]byte
	for len(buf) > 0 {
		if len(buf) < lengthSize {
			return nil, errors.New("truncated NALU length")
		}
		var n int
		if lengthSize == 1 {
			n = int(buf[0])
		} else {
			n = int(binary.BigEndian.Uint16(buf))
		}
		buf = buf[lengthSize:]
		if n > len(buf) {
			return nil, errors.New("truncated NALU")
		}
		nalus = append(nalus, buf[:n])
		buf = buf[n:]
	}
	return nalus, nil
}

// toAnnexB rewrites a length-prefixed access unit to Annex-B, prepending
// params in front of IDR pictures.
func toAnnexB(buf []byte, lengthSize int, params [][]byte) (data []byte, key bool, err error) {
	nalus, err := splitLengthPrefixed(buf, lengthSize)
	if err != nil {
		return nil, false, err
	}

	for _, nalu := range nalus {
		if len(nalu) > 0 && h264.NALUType(nalu[0]&0x1F) == h264.NALUTypeIDR {
			key = true
			break
		}
	}
	if key {
		nalus = append(append([][]byte(nil), params...), nalus...)
	}

	data, err = h264.AnnexB(nalus).Marshal()
	return data, key, err
}
