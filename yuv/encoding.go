package yuv

import (
	"image"
	"image/color"

	"github.com/pkg/errors"
)

var (
	ErrOddDimensions = errors.New("dimensions must be positive and even")
	ErrShortFrame    = errors.New("frame too short")
	ErrNot420        = errors.New("image is not 4:2:0")
)

// I420Size is the exact byte length of a tightly packed 4:2:0 frame.
func I420Size(width, height int) int {
	return width * height * 3 / 2
}

func checkDims(width, height int) error {
	if width <= 0 || height <= 0 || width%2 != 0 || height%2 != 0 {
		return errors.Wrapf(ErrOddDimensions, "%dx%d", width, height)
	}
	return nil
}

func checkLen(frame []byte, want int) error {
	if len(frame) < want {
		return errors.Wrapf(ErrShortFrame, "frame length (%d) less than expected (%d)", len(frame), want)
	}
	return nil
}

// NV12ToI420 converts a tightly packed NV12 frame (Y plane, then interleaved
// UV) into I420 (Y plane, U plane, V plane). The output is always exactly
// I420Size(width, height) bytes and src is never modified.
//
// See https://www.fourcc.org/pixel-format/yuv-nv12/
func NV12ToI420(src []byte, width, height int) ([]byte, error) {
	return splitChroma(src, width, height, 0)
}

// NV21ToI420 is NV12ToI420 for frames with VU chroma ordering.
//
// See https://www.fourcc.org/pixel-format/yuv-nv21/
func NV21ToI420(src []byte, width, height int) ([]byte, error) {
	return splitChroma(src, width, height, 1)
}

func splitChroma(src []byte, width, height, first int) ([]byte, error) {
	if err := checkDims(width, height); err != nil {
		return nil, err
	}
	size := I420Size(width, height)
	if err := checkLen(src, size); err != nil {
		return nil, err
	}

	yi := width * height
	ci := yi / 4

	dst := make([]byte, size)
	copy(dst, src[:yi])

	u := dst[yi : yi+ci]
	v := dst[yi+ci : size]
	uv := src[yi:size]
	for i := 0; i < ci; i++ {
		u[i] = uv[2*i+first]
		v[i] = uv[2*i+1-first]
	}

	return dst, nil
}

// PackSemiPlanar strips row padding (stride > width) and plane padding
// (sliceHeight > height) from a semi-planar frame. When there is no padding
// the result aliases src.
func PackSemiPlanar(src []byte, width, height, stride, sliceHeight int) ([]byte, error) {
	if err := checkDims(width, height); err != nil {
		return nil, err
	}
	if stride < width {
		stride = width
	}
	if sliceHeight < height {
		sliceHeight = height
	}

	cOff := stride * sliceHeight
	need := cOff + stride*(height/2-1) + width
	if err := checkLen(src, need); err != nil {
		return nil, err
	}

	size := I420Size(width, height)
	if stride == width && sliceHeight == height {
		return src[:size], nil
	}

	dst := make([]byte, size)
	for y := 0; y < height; y++ {
		copy(dst[y*width:(y+1)*width], src[y*stride:y*stride+width])
	}
	yi := width * height
	for y := 0; y < height/2; y++ {
		copy(dst[yi+y*width:yi+(y+1)*width], src[cOff+y*stride:cOff+y*stride+width])
	}
	return dst, nil
}

// PutNV12 writes img into dst as NV12 with the given row stride and luma
// slice height.
func PutNV12(dst []byte, img *image.YCbCr, stride, sliceHeight int) error {
	if img.SubsampleRatio != image.YCbCrSubsampleRatio420 {
		return ErrNot420
	}
	b := img.Bounds()
	width, height := b.Dx(), b.Dy()
	if err := checkDims(width, height); err != nil {
		return err
	}
	if stride < width {
		stride = width
	}
	if sliceHeight < height {
		sliceHeight = height
	}
	cOff := stride * sliceHeight
	if err := checkLen(dst, cOff+stride*(height/2-1)+width); err != nil {
		return err
	}

	for y := 0; y < height; y++ {
		yo := img.YOffset(b.Min.X, b.Min.Y+y)
		copy(dst[y*stride:y*stride+width], img.Y[yo:yo+width])
	}
	for y := 0; y < height/2; y++ {
		row := dst[cOff+y*stride : cOff+y*stride+width]
		co := img.COffset(b.Min.X, b.Min.Y+2*y)
		for x := 0; x < width/2; x++ {
			row[2*x] = img.Cb[co+x]
			row[2*x+1] = img.Cr[co+x]
		}
	}
	return nil
}

// ToNV12 converts a Go image into a tightly packed NV12 frame.
func ToNV12(img image.Image) (frame []byte, width, height int, err error) {
	img420 := as420(img)
	b := img420.Bounds()
	width, height = b.Dx(), b.Dy()
	frame = make([]byte, I420Size(width, height))
	if err := PutNV12(frame, img420, width, height); err != nil {
		return nil, 0, 0, err
	}
	return frame, width, height, nil
}

// FromI420 decodes an i420-encoded YUV image into a Go Image.
//
// See https://www.fourcc.org/pixel-format/yuv-i420/
func FromI420(frame []byte, width, height int) (*image.YCbCr, error) {
	yi := width * height
	cbi := yi + width*height/4
	cri := cbi + width*height/4

	if err := checkLen(frame, cri); err != nil {
		return nil, err
	}

	return &image.YCbCr{
		Y:              frame[:yi],
		YStride:        width,
		Cb:             frame[yi:cbi],
		Cr:             frame[cbi:cri],
		CStride:        width / 2,
		SubsampleRatio: image.YCbCrSubsampleRatio420,
		Rect:           image.Rect(0, 0, width, height),
	}, nil
}

// FromNV12 decodes a tightly packed NV12 frame into a Go Image.
func FromNV12(frame []byte, width, height int) (*image.YCbCr, error) {
	i420, err := NV12ToI420(frame, width, height)
	if err != nil {
		return nil, err
	}
	return FromI420(i420, width, height)
}

// FromNV21 decodes an NV21-encoded YUV image into a Go Image.
func FromNV21(frame []byte, width, height int) (*image.YCbCr, error) {
	i420, err := NV21ToI420(frame, width, height)
	if err != nil {
		return nil, err
	}
	return FromI420(i420, width, height)
}

func as420(img image.Image) *image.YCbCr {
	if y, ok := img.(*image.YCbCr); ok && y.SubsampleRatio == image.YCbCrSubsampleRatio420 {
		return y
	}
	return convertTo420(img)
}

func convertTo420(img image.Image) *image.YCbCr {
	bounds := img.Bounds()
	img420 := image.NewYCbCr(bounds, image.YCbCrSubsampleRatio420)

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			yy, cb, cr := color.RGBToYCbCr(uint8(r>>8), uint8(g>>8), uint8(b>>8))

			cy := img420.YOffset(x, y)
			ci := img420.COffset(x, y)
			img420.Y[cy] = yy
			img420.Cb[ci] = cb
			img420.Cr[ci] = cr
		}
	}

	return img420
}

// ToI420 converts a Go image into an I420-encoded YUV raw image slice
//
// See https://www.fourcc.org/pixel-format/yuv-i420/
func ToI420(img image.Image) (frame []byte, width, height int) {
	img420 := as420(img)
	bounds := img420.Bounds()
	width, height = bounds.Dx(), bounds.Dy()

	frame = make([]byte, 0, I420Size(width, height))
	for y := 0; y < height; y++ {
		o := img420.YOffset(bounds.Min.X, bounds.Min.Y+y)
		frame = append(frame, img420.Y[o:o+width]...)
	}
	for _, plane := range [][]byte{img420.Cb, img420.Cr} {
		for y := 0; y < (height+1)/2; y++ {
			o := img420.COffset(bounds.Min.X, bounds.Min.Y+2*y)
			frame = append(frame, plane[o:o+(width+1)/2]...)
		}
	}

	return frame, width, height
}
