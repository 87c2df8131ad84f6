package codec

import (
	"fmt"

	"github.com/dialup-inc/asciiplayer/media"
)

type State int

const (
	Unconfigured State = iota
	Configured
	Draining
	Drained
	Stopped
)

func (s State) String() string {
	switch s {
	case Unconfigured:
		return "unconfigured"
	case Configured:
		return "configured"
	case Draining:
		return "draining"
	case Drained:
		return "drained"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// OutputStatus is the result of DequeueOutputSlot. It is one of Ready,
// TryAgainLater, BuffersChanged, FormatChanged or StatusError.
type OutputStatus interface {
	outputStatus()
}

// DecodedFrame is a semi-planar (NV12) picture in an output slot. Data is
// only valid until the slot is released.
type DecodedFrame struct {
	media.Geometry
	Size int
	Data []byte
	PTS  int64
}

// Ready carries a decoded frame. The caller owns Slot and must release it
// exactly once. An EOS Ready has an empty frame.
type Ready struct {
	Slot  *OutputSlot
	Frame DecodedFrame
	EOS   bool
}

type TryAgainLater struct{}

// BuffersChanged means the output buffers were reallocated.
type BuffersChanged struct{}

// FormatChanged announces the geometry of the frames that follow.
type FormatChanged struct {
	Geometry media.Geometry
}

// StatusError is a non-fatal decode failure.
type StatusError struct {
	Err error
}

func (Ready) outputStatus()          {}
func (TryAgainLater) outputStatus()  {}
func (BuffersChanged) outputStatus() {}
func (FormatChanged) outputStatus()  {}
func (StatusError) outputStatus()    {}

func (e StatusError) Error() string { return "decode: " + e.Err.Error() }
