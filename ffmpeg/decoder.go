// Package ffmpeg decodes H.264 Annex-B access units with libavcodec.
package ffmpeg

/*
#cgo pkg-config: libavcodec libavutil

#include <errno.h>
#include <stdlib.h>
#include <string.h>
#include <libavcodec/avcodec.h>
#include <libavutil/error.h>
#include <libavutil/frame.h>
#include <libavutil/mem.h>

typedef struct {
	AVCodecContext *ctx;
	AVPacket *pkt;
	AVFrame *frame;
} ffdec;

static int ffdec_open(ffdec *d, const uint8_t *extra, int extra_len) {
	const AVCodec *c = avcodec_find_decoder(AV_CODEC_ID_H264);
	if (c == NULL)
		return AVERROR_DECODER_NOT_FOUND;
	d->ctx = avcodec_alloc_context3(c);
	d->pkt = av_packet_alloc();
	d->frame = av_frame_alloc();
	if (d->ctx == NULL || d->pkt == NULL || d->frame == NULL)
		return AVERROR(ENOMEM);
	if (extra_len > 0) {
		d->ctx->extradata = av_mallocz(extra_len + AV_INPUT_BUFFER_PADDING_SIZE);
		if (d->ctx->extradata == NULL)
			return AVERROR(ENOMEM);
		memcpy(d->ctx->extradata, extra, extra_len);
		d->ctx->extradata_size = extra_len;
	}
	return avcodec_open2(d->ctx, c, NULL);
}

static void ffdec_close(ffdec *d) {
	av_frame_free(&d->frame);
	av_packet_free(&d->pkt);
	avcodec_free_context(&d->ctx);
}

static int ffdec_send(ffdec *d, uint8_t *data, int size, int64_t pts) {
	if (data == NULL)
		return avcodec_send_packet(d->ctx, NULL);
	d->pkt->data = data;
	d->pkt->size = size;
	d->pkt->pts = pts;
	int ret = avcodec_send_packet(d->ctx, d->pkt);
	d->pkt->data = NULL;
	d->pkt->size = 0;
	return ret;
}

static int ffdec_receive(ffdec *d) {
	return avcodec_receive_frame(d->ctx, d->frame);
}

static void ffdec_reset(ffdec *d) {
	avcodec_flush_buffers(d->ctx);
}

static int ff_eagain() { return AVERROR(EAGAIN); }
static int ff_eof() { return AVERROR_EOF; }
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

const inputPadding = 64

var errPixelFormat = errors.New("ffmpeg: unsupported pixel format")

// Register adds the H.264 decoder to r.
func Register(r *codec.Registry) {
	r.Register(media.MimeAVC, func(t media.Track) (codec.Decoder, error) {
		return NewDecoder(t.CodecPrivate)
	})
}

type Decoder struct {
	mu  sync.Mutex
	d   *C.ffdec
	buf []byte
	img *image.YCbCr
}

// NewDecoder opens an H.264 decoder. extradata holds the parameter sets in
// Annex-B form and may be empty when they are sent in band.
func NewDecoder(extradata []byte) (*Decoder, error) {
	d := &Decoder{d: (*C.ffdec)(C.calloc(1, C.sizeof_ffdec))}
	if d.d == nil {
		return nil, errors.New("ffmpeg: out of memory")
	}

	var (
		extra    *C.uint8_t
		extraLen C.int
	)
	if len(extradata) > 0 {
		extra = (*C.uint8_t)(unsafe.Pointer(&extradata[0]))
		extraLen = C.int(len(extradata))
	}
	if ret := C.ffdec_open(d.d, extra, extraLen); ret < 0 {
		d.free()
		return nil, errors.Wrap(Error(ret), "avcodec_open2")
	}
	return d, nil
}

func (d *Decoder) free() {
	C.ffdec_close(d.d)
	C.free(unsafe.Pointer(d.d))
	d.d = nil
}

func (d *Decoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.d != nil {
		d.free()
	}
	return nil
}

// Decode sends one access unit and returns the pictures the decoder has
// ready. Pictures share a buffer that the next call overwrites.
func (d *Decoder) Decode(data []byte, pts int64) ([]codec.Picture, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(data) == 0 {
		return nil, nil
	}
	d.buf = append(d.buf[:0], data...)
	d.buf = append(d.buf, make([]byte, inputPadding)...)

	ret := C.ffdec_send(d.d, (*C.uint8_t)(unsafe.Pointer(&d.buf[0])), C.int(len(data)), C.int64_t(pts))
	if ret < 0 && ret != C.ff_eagain() {
		return nil, errors.Wrap(Error(ret), "avcodec_send_packet")
	}
	return d.receive()
}

// Flush drains delayed pictures and resets the decoder for reuse.
func (d *Decoder) Flush() ([]codec.Picture, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if ret := C.ffdec_send(d.d, nil, 0, 0); ret < 0 && ret != C.ff_eof() {
		return nil, errors.Wrap(Error(ret), "avcodec_send_packet")
	}
	pics, err := d.receive()
	C.ffdec_reset(d.d)
	return pics, err
}

func (d *Decoder) receive() ([]codec.Picture, error) {
	var pics []codec.Picture
	for {
		ret := C.ffdec_receive(d.d)
		if ret == C.ff_eagain() || ret == C.ff_eof() {
			return pics, nil
		}
		if ret < 0 {
			return pics, errors.Wrap(Error(ret), "avcodec_receive_frame")
		}

		f := d.d.frame
		if f.format != C.AV_PIX_FMT_YUV420P && f.format != C.AV_PIX_FMT_YUVJ420P {
			return pics, errPixelFormat
		}
		pics = append(pics, codec.Picture{Image: d.copyFrame(f, len(pics) == 0), PTS: int64(f.pts)})
	}
}

// copyFrame copies f out of decoder memory. The first picture of a call
// reuses the shared buffer; any further ones get their own.
func (d *Decoder) copyFrame(f *C.AVFrame, shared bool) *image.YCbCr {
	w, h := int(f.width), int(f.height)
	r := image.Rect(0, 0, w, h)

	img := d.img
	if !shared || img == nil || img.Rect != r {
		img = image.NewYCbCr(r, image.YCbCrSubsampleRatio420)
		if shared {
			d.img = img
		}
	}

	cw, ch := (w+1)/2, (h+1)/2
	copyPlane(img.Y, img.YStride, f.data[0], int(f.linesize[0]), w, h)
	copyPlane(img.Cb, img.CStride, f.data[1], int(f.linesize[1]), cw, ch)
	copyPlane(img.Cr, img.CStride, f.data[2], int(f.linesize[2]), cw, ch)
	return img
}

func copyPlane(dst []byte, dstStride int, src *C.uint8_t, srcStride, w, h int) {
	plane := unsafe.Slice((*byte)(unsafe.Pointer(src)), srcStride*(h-1)+w)
	for y := 0; y < h; y++ {
		copy(dst[y*dstStride:y*dstStride+w], plane[y*srcStride:y*srcStride+w])
	}
}
