package pump

import (
	"sync"

	"github.com/dialup-inc/asciiplayer/media"
)

// Frame is a planar I420 picture handed to a Renderer. The renderer owns it.
type Frame struct {
	Width  int
	Height int
	Data   []byte
	PTS    int64
}

func (f *Frame) Timestamp() string {
	return media.Micros(f.PTS).String()
}

// Renderer displays converted frames.
type Renderer interface {
	Render(f *Frame) error
}

type RendererFunc func(f *Frame) error

func (fn RendererFunc) Render(f *Frame) error { return fn(f) }

// Surface is a Renderer that latches the newest frame for a consumer that
// samples it on its own schedule, the way an external texture is updated
// once per draw.
type Surface struct {
	// OnFrameAvailable, if set, is called after each new frame is stored.
	OnFrameAvailable func()

	mu        sync.Mutex
	frame     *Frame
	available bool
}

func (s *Surface) Render(f *Frame) error {
	s.mu.Lock()
	s.frame = f
	s.available = true
	cb := s.OnFrameAvailable
	s.mu.Unlock()

	if cb != nil {
		cb()
	}
	return nil
}

// Update returns the newest frame if one arrived since the last Update.
func (s *Surface) Update() (*Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.available {
		return nil, false
	}
	s.available = false
	return s.frame, true
}

// Current returns the last latched frame, or nil.
func (s *Surface) Current() *Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame
}
