package ffmpeg

/*
#include <libavutil/error.h>

static void ff_strerror(int err, char *buf, size_t size) {
	if (av_strerror(err, buf, size) < 0)
		buf[0] = 0;
}
*/
import "C"
import (
	"fmt"
	"unsafe"
)

// Error is a negative AVERROR code.
type Error int

func (e Error) Error() string {
	buf := make([]byte, 128)
	C.ff_strerror(C.int(e), (*C.char)(unsafe.Pointer(&buf[0])), C.size_t(len(buf)))
	msg := C.GoString((*C.char)(unsafe.Pointer(&buf[0])))
	if msg == "" {
		return fmt.Sprintf("ffmpeg: error %d", int(e))
	}
	return "ffmpeg: " + msg
}
