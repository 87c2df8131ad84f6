// Package vpx decodes VP8 and VP9 with libvpx.
package vpx

/*
#cgo pkg-config: vpx

#include <stdlib.h>
#include <vpx/vpx_decoder.h>
#include <vpx/vp8dx.h>

static vpx_codec_ctx_t *vpx_new_dec(int vp9, int *err) {
	vpx_codec_ctx_t *ctx = calloc(1, sizeof(vpx_codec_ctx_t));
	if (ctx == NULL) {
		*err = VPX_CODEC_MEM_ERROR;
		return NULL;
	}
	vpx_codec_iface_t *iface = vp9 ? vpx_codec_vp9_dx() : vpx_codec_vp8_dx();
	*err = vpx_codec_dec_init(ctx, iface, NULL, 0);
	if (*err != VPX_CODEC_OK) {
		free(ctx);
		return NULL;
	}
	return ctx;
}

static int vpx_free_dec(vpx_codec_ctx_t *ctx) {
	int err = vpx_codec_destroy(ctx);
	free(ctx);
	return err;
}

static int vpx_decode(vpx_codec_ctx_t *ctx, const uint8_t *data, unsigned int len) {
	return vpx_codec_decode(ctx, data, len, NULL, 0);
}

static vpx_image_t *vpx_next_frame(vpx_codec_ctx_t *ctx, vpx_codec_iter_t *iter) {
	return vpx_codec_get_frame(ctx, iter);
}
*/
import "C"
import (
	"image"
	"sync"
	"unsafe"

	"github.com/pkg/errors"

	"github.com/dialup-inc/asciiplayer/codec"
	"github.com/dialup-inc/asciiplayer/media"
)

type Codec int

const (
	VP8 Codec = iota
	VP9
)

var errUnsupportedImage = errors.New("vpx: unsupported image format")

// Register adds the VP8 and VP9 decoders to r.
func Register(r *codec.Registry) {
	r.Register(media.MimeVP8, func(media.Track) (codec.Decoder, error) { return NewDecoder(VP8) })
	r.Register(media.MimeVP9, func(media.Track) (codec.Decoder, error) { return NewDecoder(VP9) })
}

type Decoder struct {
	mu sync.Mutex

	ctx *C.vpx_codec_ctx_t
	img *image.YCbCr
}

func NewDecoder(c Codec) (*Decoder, error) {
	var vp9 C.int
	if c == VP9 {
		vp9 = 1
	}
	var ret C.int
	ctx := C.vpx_new_dec(vp9, &ret)
	if ctx == nil {
		return nil, CodecError(ret)
	}
	return &Decoder{ctx: ctx}, nil
}

func (d *Decoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ctx == nil {
		return nil
	}
	ret := C.vpx_free_dec(d.ctx)
	d.ctx = nil
	if ret != 0 {
		return CodecError(ret)
	}
	return nil
}

// Decode decodes one compressed frame. The returned pictures share a buffer
// that is overwritten by the next call.
func (d *Decoder) Decode(b []byte, pts int64) ([]codec.Picture, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(b) == 0 {
		return nil, nil
	}

	ret := C.vpx_decode(d.ctx, (*C.uint8_t)(unsafe.Pointer(&b[0])), C.uint(len(b)))
	if ret != 0 {
		return nil, CodecError(ret)
	}
	return d.frames(pts)
}

// Flush drains frames held back by the decoder.
func (d *Decoder) Flush() ([]codec.Picture, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if ret := C.vpx_decode(d.ctx, nil, 0); ret != 0 {
		return nil, CodecError(ret)
	}
	return d.frames(0)
}

func (d *Decoder) frames(pts int64) ([]codec.Picture, error) {
	var (
		iter C.vpx_codec_iter_t
		out  []codec.Picture
	)
	for {
		img := C.vpx_next_frame(d.ctx, &iter)
		if img == nil {
			return out, nil
		}
		if img.fmt != C.VPX_IMG_FMT_I420 {
			return out, errUnsupportedImage
		}
		out = append(out, codec.Picture{Image: d.copyImage(img, len(out) == 0), PTS: pts})
	}
}

func (d *Decoder) copyImage(img *C.vpx_image_t, shared bool) *image.YCbCr {
	w, h := int(img.d_w), int(img.d_h)
	r := image.Rect(0, 0, w, h)

	dst := d.img
	if !shared || dst == nil || dst.Rect != r {
		dst = image.NewYCbCr(r, image.YCbCrSubsampleRatio420)
		if shared {
			d.img = dst
		}
	}

	copyPlane(dst.Y, dst.YStride, img.planes[0], int(img.stride[0]), w, h)
	cw, ch := (w+1)/2, (h+1)/2
	copyPlane(dst.Cb, dst.CStride, img.planes[1], int(img.stride[1]), cw, ch)
	copyPlane(dst.Cr, dst.CStride, img.planes[2], int(img.stride[2]), cw, ch)
	return dst
}

func copyPlane(dst []byte, dstStride int, src *C.uchar, srcStride, w, h int) {
	plane := unsafe.Slice((*byte)(unsafe.Pointer(src)), srcStride*(h-1)+w)
	for y := 0; y < h; y++ {
		copy(dst[y*dstStride:y*dstStride+w], plane[y*srcStride:y*srcStride+w])
	}
}
