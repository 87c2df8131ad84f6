package ivf

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// Writer produces an IVF stream. The frame count in the header is patched on
// Close when the underlying writer can seek.
type Writer struct {
	w      io.Writer
	header Header
	frames uint32
}

func NewWriter(w io.Writer, codec string, width, height int, rate, scale uint32) (*Writer, error) {
	if len(codec) != 4 {
		return nil, errors.Errorf("codec fourcc %q must be 4 bytes", codec)
	}

	hdr := Header{
		Version:    0,
		Size:       headerSize,
		Width:      uint16(width),
		Height:     uint16(height),
		FrameRate:  rate,
		FrameScale: scale,
	}
	copy(hdr.Signature[:], Signature)
	copy(hdr.Codec[:], codec)

	if err := binary.Write(w, binary.LittleEndian, &hdr); err != nil {
		return nil, errors.Wrap(err, "write ivf header")
	}
	return &Writer{w: w, header: hdr}, nil
}

func (i *Writer) WriteFrame(data []byte, pts uint64) error {
	hdr := FrameHeader{Size: uint32(len(data)), PTS: pts}
	if err := binary.Write(i.w, binary.LittleEndian, &hdr); err != nil {
		return err
	}
	if _, err := i.w.Write(data); err != nil {
		return err
	}
	i.frames++
	return nil
}

func (i *Writer) Close() error {
	ws, ok := i.w.(io.WriteSeeker)
	if !ok {
		return nil
	}
	if _, err := ws.Seek(24, io.SeekStart); err != nil {
		return err
	}
	if err := binary.Write(ws, binary.LittleEndian, i.frames); err != nil {
		return err
	}
	_, err := ws.Seek(0, io.SeekEnd)
	return err
}
