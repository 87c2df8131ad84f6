package vpx

import "fmt"

// CodecError is a vpx_codec_err_t.
type CodecError int

const (
	CodecOK CodecError = iota
	CodecUnspecified
	CodecMemError
	CodecABIMismatch
	CodecIncapable
	CodecUnsupBitstream
	CodecUnsupFeature
	CodecCorruptFrame
	CodecInvalidParam
	CodecListEnd
)

func (e CodecError) Error() string {
	switch e {
	case CodecOK:
		return "vpx: success"
	case CodecUnspecified:
		return "vpx: unspecified internal error"
	case CodecMemError:
		return "vpx: memory allocation error"
	case CodecABIMismatch:
		return "vpx: ABI version mismatch"
	case CodecIncapable:
		return "vpx: codec does not implement requested capability"
	case CodecUnsupBitstream:
		return "vpx: bitstream not supported by this decoder"
	case CodecUnsupFeature:
		return "vpx: bitstream required feature not supported by this decoder"
	case CodecCorruptFrame:
		return "vpx: corrupt frame detected"
	case CodecInvalidParam:
		return "vpx: invalid parameter"
	case CodecListEnd:
		return "vpx: end of iterated list"
	default:
		return fmt.Sprintf("vpx: codec error %d", int(e))
	}
}
