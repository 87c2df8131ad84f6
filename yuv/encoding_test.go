package yuv

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nv12Frame4x4() []byte {
	return []byte{
		0, 1, 2, 3,
		4, 5, 6, 7,
		8, 9, 10, 11,
		12, 13, 14, 15,
		100, 200, 101, 201,
		102, 202, 103, 203,
	}
}

func TestNV12ToI420(t *testing.T) {
	out, err := NV12ToI420(nv12Frame4x4(), 4, 4)
	require.NoError(t, err)

	want := []byte{
		0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15,
		100, 101, 102, 103,
		200, 201, 202, 203,
	}
	assert.Equal(t, want, out)
	assert.Len(t, out, I420Size(4, 4))
}

func TestNV21ToI420(t *testing.T) {
	out, err := NV21ToI420(nv12Frame4x4(), 4, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{200, 201, 202, 203}, out[16:20])
	assert.Equal(t, []byte{100, 101, 102, 103}, out[20:24])
}

func TestNV12ToI420Deterministic(t *testing.T) {
	src := nv12Frame4x4()
	orig := append([]byte(nil), src...)

	a, err := NV12ToI420(src, 4, 4)
	require.NoError(t, err)
	b, err := NV12ToI420(src, 4, 4)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, orig, src)
}

func TestNV12ToI420IgnoresTrailingBytes(t *testing.T) {
	src := append(nv12Frame4x4(), 9, 9, 9, 9)
	out, err := NV12ToI420(src, 4, 4)
	require.NoError(t, err)
	assert.Len(t, out, 24)
}

func TestNV12ToI420Errors(t *testing.T) {
	_, err := NV12ToI420(nv12Frame4x4(), 3, 4)
	assert.ErrorIs(t, err, ErrOddDimensions)

	_, err = NV12ToI420(nv12Frame4x4(), 0, 0)
	assert.ErrorIs(t, err, ErrOddDimensions)

	_, err = NV12ToI420(nv12Frame4x4()[:20], 4, 4)
	assert.ErrorIs(t, err, ErrShortFrame)
}

func TestPackSemiPlanar(t *testing.T) {
	// 2x2 picture, stride 4, slice height 4
	src := []byte{
		1, 2, 0, 0,
		3, 4, 0, 0,
		0, 0, 0, 0,
		0, 0, 0, 0,
		50, 60, 0, 0,
	}
	out, err := PackSemiPlanar(src, 2, 2, 4, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4, 50, 60}, out)

	tight := []byte{1, 2, 3, 4, 50, 60}
	out, err = PackSemiPlanar(tight, 2, 2, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, tight, out)

	_, err = PackSemiPlanar(src[:17], 2, 2, 4, 4)
	assert.ErrorIs(t, err, ErrShortFrame)
}

func TestPutNV12RoundTrip(t *testing.T) {
	img := image.NewYCbCr(image.Rect(0, 0, 4, 2), image.YCbCrSubsampleRatio420)
	for i := range img.Y {
		img.Y[i] = byte(i)
	}
	img.Cb[0], img.Cb[1] = 10, 11
	img.Cr[0], img.Cr[1] = 20, 21

	dst := make([]byte, 6*4)
	require.NoError(t, PutNV12(dst, img, 6, 3))

	packed, err := PackSemiPlanar(dst, 4, 2, 6, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 2, 3, 4, 5, 6, 7, 10, 20, 11, 21}, packed)

	i420, err := NV12ToI420(packed, 4, 2)
	require.NoError(t, err)
	back, err := FromI420(i420, 4, 2)
	require.NoError(t, err)
	assert.Equal(t, img.Y, back.Y)
	assert.Equal(t, img.Cb, back.Cb)
	assert.Equal(t, img.Cr, back.Cr)
}

func TestToI420(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	for x := 0; x < 2; x++ {
		for y := 0; y < 2; y++ {
			img.Set(x, y, color.White)
		}
	}

	frame, w, h := ToI420(img)
	assert.Equal(t, 2, w)
	assert.Equal(t, 2, h)
	require.Len(t, frame, 6)
	assert.Equal(t, []byte{255, 255, 255, 255}, frame[:4])
	assert.Equal(t, []byte{128, 128}, frame[4:])
}

func TestFromI420Short(t *testing.T) {
	_, err := FromI420(make([]byte, 5), 2, 2)
	assert.ErrorIs(t, err, ErrShortFrame)
}
