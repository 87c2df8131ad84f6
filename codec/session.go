// Package codec drives a decoder through an asynchronous buffer-queue
// protocol: the caller dequeues input slots, fills and submits them, and polls
// for output statuses while a worker decodes in the background.
package codec

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"k8s.io/utils/clock"

	"github.com/dialup-inc/asciiplayer/media"
	"github.com/dialup-inc/asciiplayer/yuv"
)

const (
	defaultInputSlots  = 4
	defaultOutputSlots = 4
	defaultAlignment   = 16
	initialInputSize   = 64 << 10
)

type queuedInput struct {
	slot *InputSlot
	size int
	pts  int64
	last bool
}

type Session struct {
	registry  *Registry
	clock     clock.Clock
	log       zerolog.Logger
	nIn, nOut int
	align     int

	mu          sync.Mutex
	state       State
	track       media.Track
	dec         Decoder
	configured  bool
	outstanding int
	geometry    media.Geometry
	rendered    int

	freeIn  chan *InputSlot
	queued  chan queuedInput
	freeOut chan *OutputSlot
	events  chan OutputStatus
	stop    chan struct{}
	done    chan struct{}

	// Owned by the worker goroutine.
	workerGeom media.Geometry
	capacity   int
}

type Option func(*Session)

func WithRegistry(r *Registry) Option {
	return func(s *Session) { s.registry = r }
}

func WithSlots(input, output int) Option {
	return func(s *Session) {
		if input > 0 {
			s.nIn = input
		}
		if output > 0 {
			s.nOut = output
		}
	}
}

// WithAlignment pads output rows and planes to a multiple of n bytes.
func WithAlignment(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.align = n
		}
	}
}

func WithClock(c clock.Clock) Option {
	return func(s *Session) { s.clock = c }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) { s.log = l }
}

func NewSession(opts ...Option) *Session {
	s := &Session{
		clock: clock.RealClock{},
		log:   log.Logger,
		nIn:   defaultInputSlots,
		nOut:  defaultOutputSlots,
		align: defaultAlignment,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = NewRegistry()
	}
	s.log = s.log.With().Str("component", "codec").Logger()
	return s
}

// Configure binds the session to a track. It must be called exactly once,
// before Start.
func (s *Session) Configure(track media.Track) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Stopped {
		return ErrStopped
	}
	if s.configured {
		return ErrAlreadyConfigured
	}

	factory, ok := s.registry.Lookup(track.MimeType)
	if !ok {
		return &ConfigureError{Mime: track.MimeType, Err: ErrUnsupportedMime}
	}
	dec, err := factory(track)
	if err != nil {
		return &ConfigureError{Mime: track.MimeType, Err: err}
	}

	s.track = track
	s.dec = dec
	s.configured = true
	s.log.Info().Str("mime", track.MimeType).Int("width", track.Width).Int("height", track.Height).Msg("configured")
	return nil
}

// Start allocates the slots and launches the decode worker.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.state == Stopped:
		return ErrStopped
	case !s.configured:
		return ErrNotConfigured
	case s.state != Unconfigured:
		return ErrAlreadyStarted
	}

	s.freeIn = make(chan *InputSlot, s.nIn)
	s.queued = make(chan queuedInput, s.nIn)
	for i := 0; i < s.nIn; i++ {
		s.freeIn <- &InputSlot{s: s, index: i, buf: make([]byte, 0, initialInputSize)}
	}
	s.freeOut = make(chan *OutputSlot, s.nOut)
	for i := 0; i < s.nOut; i++ {
		s.freeOut <- &OutputSlot{s: s, index: i}
	}
	s.events = make(chan OutputStatus, s.nOut+4*s.nIn)
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	s.state = Configured
	go s.run()
	return nil
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OutputGeometry is the geometry announced by the last FormatChanged the
// caller dequeued.
func (s *Session) OutputGeometry() media.Geometry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.geometry
}

// Outstanding is the number of slots currently owned by the caller.
func (s *Session) Outstanding() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outstanding
}

// DequeueInputSlot returns a free input slot, waiting at most timeout. It
// reports false when none became free or the session no longer accepts
// input.
func (s *Session) DequeueInputSlot(timeout time.Duration) (*InputSlot, bool) {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	if state != Configured {
		return nil, false
	}

	var in *InputSlot
	select {
	case in = <-s.freeIn:
	default:
		if timeout <= 0 {
			return nil, false
		}
		t := s.clock.NewTimer(timeout)
		defer t.Stop()
		select {
		case in = <-s.freeIn:
		case <-t.C():
			return nil, false
		case <-s.stop:
			return nil, false
		}
	}

	s.mu.Lock()
	in.owned = true
	s.outstanding++
	s.mu.Unlock()
	return in, true
}

// SubmitInput copies sample into slot and queues it for decoding. With
// isLast set the session starts draining and refuses further input.
func (s *Session) SubmitInput(slot *InputSlot, sample media.Sample, isLast bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if slot == nil || slot.s != s || !slot.owned {
		return ErrSlotNotOwned
	}
	switch s.state {
	case Configured:
	case Draining, Drained:
		return ErrInputAfterEOS
	case Stopped:
		return ErrStopped
	default:
		return ErrNotStarted
	}

	slot.buf = append(slot.buf[:0], sample.Data...)
	slot.owned = false
	s.outstanding--
	s.queued <- queuedInput{slot: slot, size: len(sample.Data), pts: sample.PTS, last: isLast}

	if isLast {
		s.state = Draining
		s.log.Debug().Msg("input end of stream")
	}
	return nil
}

func (s *Session) returnInput(in *InputSlot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !in.owned {
		return nil
	}
	in.owned = false
	s.outstanding--
	s.freeIn <- in
	return nil
}

// DequeueOutputSlot polls for the next output status, waiting at most
// timeout. Once the end of stream has been dequeued it only reports
// TryAgainLater.
func (s *Session) DequeueOutputSlot(timeout time.Duration) (OutputStatus, error) {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	switch state {
	case Unconfigured:
		return nil, ErrNotStarted
	case Stopped:
		return nil, ErrStopped
	case Drained:
		return TryAgainLater{}, nil
	}

	var st OutputStatus
	select {
	case st = <-s.events:
	default:
		if timeout <= 0 {
			return TryAgainLater{}, nil
		}
		t := s.clock.NewTimer(timeout)
		defer t.Stop()
		select {
		case st = <-s.events:
		case <-t.C():
			return TryAgainLater{}, nil
		case <-s.stop:
			return nil, ErrStopped
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch st := st.(type) {
	case Ready:
		st.Slot.owned = true
		s.outstanding++
		if st.EOS {
			s.state = Drained
			s.log.Debug().Msg("output end of stream")
		}
	case FormatChanged:
		s.geometry = st.Geometry
	}
	return st, nil
}

// ReleaseOutputSlot returns slot to the codec. render records whether the
// frame was presented.
func (s *Session) ReleaseOutputSlot(slot *OutputSlot, render bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if slot == nil || slot.s != s || !slot.owned {
		return ErrSlotNotOwned
	}
	slot.owned = false
	s.outstanding--
	if render {
		s.rendered++
	}
	s.freeOut <- slot
	return nil
}

// Stop halts the worker and closes the decoder. Calling it again is a
// no-op. It reports ErrSlotsOutstanding if the caller still owns slots.
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.state == Stopped {
		s.mu.Unlock()
		return nil
	}
	started := s.state != Unconfigured
	s.state = Stopped
	s.mu.Unlock()

	if started {
		close(s.stop)
		<-s.done
	}

	var err error
	if s.dec != nil {
		err = s.dec.Close()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outstanding > 0 {
		s.log.Warn().Int("outstanding", s.outstanding).Msg("stopped with slots outstanding")
		return errors.Wrapf(ErrSlotsOutstanding, "%d slots", s.outstanding)
	}
	s.log.Debug().Int("rendered", s.rendered).Msg("stopped")
	return err
}

func (s *Session) run() {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		case q := <-s.queued:
			if !s.process(q) {
				return
			}
		}
	}
}

// process decodes one queued input. It returns false when the session is
// stopping.
func (s *Session) process(q queuedInput) bool {
	if q.size > 0 {
		pics, err := s.dec.Decode(q.slot.buf[:q.size], q.pts)
		if err != nil {
			s.log.Debug().Err(err).Int64("pts", q.pts).Msg("decode failed")
			if !s.emit(StatusError{Err: err}) {
				return false
			}
		}
		if !s.emitPictures(pics) {
			return false
		}
	}
	s.freeIn <- q.slot

	if !q.last {
		return true
	}

	pics, err := s.dec.Flush()
	if err != nil && !s.emit(StatusError{Err: err}) {
		return false
	}
	if !s.emitPictures(pics) {
		return false
	}

	out, ok := s.takeOutput()
	if !ok {
		return false
	}
	return s.emit(Ready{Slot: out, EOS: true})
}

func (s *Session) emitPictures(pics []Picture) bool {
	for _, pic := range pics {
		if !s.emitPicture(pic) {
			return false
		}
	}
	return true
}

func (s *Session) emitPicture(pic Picture) bool {
	b := pic.Image.Bounds()
	g := media.Geometry{
		Width:       b.Dx(),
		Height:      b.Dy(),
		Stride:      alignUp(b.Dx(), s.align),
		SliceHeight: alignUp(b.Dy(), s.align),
	}

	if size := g.Size(); size > s.capacity {
		s.capacity = size
		if !s.emit(BuffersChanged{}) {
			return false
		}
	}
	if g != s.workerGeom {
		s.workerGeom = g
		s.log.Info().Int("width", g.Width).Int("height", g.Height).
			Int("stride", g.Stride).Int("slice_height", g.SliceHeight).Msg("output format changed")
		if !s.emit(FormatChanged{Geometry: g}) {
			return false
		}
	}

	out, ok := s.takeOutput()
	if !ok {
		return false
	}
	if cap(out.buf) < s.capacity {
		out.buf = make([]byte, s.capacity)
	}
	out.buf = out.buf[:g.Size()]
	if err := yuv.PutNV12(out.buf, pic.Image, g.Stride, g.SliceHeight); err != nil {
		s.freeOut <- out
		return s.emit(StatusError{Err: err})
	}

	return s.emit(Ready{
		Slot: out,
		Frame: DecodedFrame{
			Geometry: g,
			Size:     len(out.buf),
			Data:     out.buf,
			PTS:      pic.PTS,
		},
	})
}

func (s *Session) takeOutput() (*OutputSlot, bool) {
	select {
	case out := <-s.freeOut:
		return out, true
	case <-s.stop:
		return nil, false
	}
}

func (s *Session) emit(st OutputStatus) bool {
	select {
	case s.events <- st:
		return true
	case <-s.stop:
		return false
	}
}

func alignUp(n, a int) int {
	return (n + a - 1) / a * a
}
