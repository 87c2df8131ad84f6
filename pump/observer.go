package pump

import (
	"fmt"
	"time"

	"github.com/dialup-inc/asciiplayer/media"
)

type EventKind int

const (
	EventFrameRendered EventKind = iota
	EventFrameDropped
	EventFormatChanged
	EventEndOfStream
	EventDecodeError
	EventUnexpectedStatus
	EventSourceError
	EventConvertError
	EventRenderError
)

func (k EventKind) String() string {
	switch k {
	case EventFrameRendered:
		return "frame_rendered"
	case EventFrameDropped:
		return "frame_dropped"
	case EventFormatChanged:
		return "format_changed"
	case EventEndOfStream:
		return "end_of_stream"
	case EventDecodeError:
		return "decode_error"
	case EventUnexpectedStatus:
		return "unexpected_status"
	case EventSourceError:
		return "source_error"
	case EventConvertError:
		return "convert_error"
	case EventRenderError:
		return "render_error"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event reports something the pump observed. Only the fields relevant to
// Kind are set.
type Event struct {
	Kind     EventKind
	PTS      int64
	Delay    time.Duration
	Geometry media.Geometry
	Status   string
	Err      error
}

type Observer interface {
	Observe(e Event)
}

type ObserverFunc func(e Event)

func (fn ObserverFunc) Observe(e Event) { fn(e) }

type multiObserver []Observer

func (m multiObserver) Observe(e Event) {
	for _, o := range m {
		o.Observe(e)
	}
}

// Observers fans events out to every non-nil observer.
func Observers(obs ...Observer) Observer {
	var m multiObserver
	for _, o := range obs {
		if o != nil {
			m = append(m, o)
		}
	}
	return m
}
