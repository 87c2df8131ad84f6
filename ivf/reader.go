// Package ivf reads and writes the IVF container used for raw VP8/VP9 and
// uncompressed streams.
package ivf

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

const (
	Signature   = "DKIF"
	headerSize  = 32
	frameHdrLen = 12
)

var (
	ErrBadSignature = errors.New("not a valid IVF file")
	ErrBadVersion   = errors.New("unsupported IVF version")
	ErrFrameSize    = errors.New("frame size exceeds stream")
)

type Header struct {
	Signature  [4]byte
	Version    uint16
	Size       uint16
	Codec      [4]byte
	Width      uint16
	Height     uint16
	FrameRate  uint32
	FrameScale uint32
	FrameCount uint32
	_          uint32
}

type FrameHeader struct {
	Size uint32
	PTS  uint64
}

// Reader reads frames sequentially from an IVF stream.
type Reader struct {
	reader io.ReadSeeker
	end    int64
	Header Header
}

func NewReader(r io.ReadSeeker) (*Reader, error) {
	var hdr Header
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, errors.Wrap(err, "read ivf header")
	}

	if string(hdr.Signature[:]) != Signature {
		return nil, ErrBadSignature
	}
	if hdr.Version != 0 {
		return nil, ErrBadVersion
	}

	end, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, errors.Wrap(err, "seek ivf end")
	}
	if _, err := r.Seek(headerSize, io.SeekStart); err != nil {
		return nil, errors.Wrap(err, "seek ivf frames")
	}

	return &Reader{
		reader: r,
		end:    end,
		Header: hdr,
	}, nil
}

func (i *Reader) Codec() string {
	return string(i.Header.Codec[:])
}

// ReadFrame returns the next frame and its timestamp in time base units.
// It returns io.EOF when no further frame header is present.
func (i *Reader) ReadFrame() (data []byte, pts uint64, err error) {
	var hdr FrameHeader
	if err := binary.Read(i.reader, binary.LittleEndian, &hdr); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, 0, errors.Wrap(err, "truncated frame header")
		}
		return nil, 0, err
	}

	pos, err := i.reader.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, 0, errors.Wrap(err, "frame offset")
	}
	if int64(hdr.Size) > i.end-pos {
		return nil, 0, errors.Wrapf(ErrFrameSize, "%d bytes at offset %d, %d left", hdr.Size, pos, i.end-pos)
	}

	frame := make([]byte, hdr.Size)
	if _, err := io.ReadFull(i.reader, frame); err != nil {
		return nil, 0, errors.Wrapf(err, "read frame of %d bytes", hdr.Size)
	}

	return frame, hdr.PTS, nil
}

func (i *Reader) Rewind() error {
	_, err := i.reader.Seek(headerSize, io.SeekStart)
	return err
}

// Micros converts a timestamp in the stream time base to microseconds. The
// IVF time base is FrameScale/FrameRate seconds; a zero rate is read as 30fps.
func (h Header) Micros(pts uint64) int64 {
	rate, scale := uint64(h.FrameRate), uint64(h.FrameScale)
	if rate == 0 || scale == 0 {
		rate, scale = 30, 1
	}
	return int64(pts * scale * 1e6 / rate)
}

// FPS is the nominal frame rate, or 0 when the header does not carry one.
func (h Header) FPS() float64 {
	if h.FrameRate == 0 || h.FrameScale == 0 {
		return 0
	}
	return float64(h.FrameRate) / float64(h.FrameScale)
}
