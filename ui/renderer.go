package ui

import (
	"bytes"
	"fmt"
	"image/color"
	"io"
	"math"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"k8s.io/utils/clock"

	"github.com/dialup-inc/asciiplayer/term"
)

const statusHeight = 2

const redrawInterval = 200 * time.Millisecond

func NewRenderer(w io.Writer, c clock.WithTicker) *Renderer {
	if c == nil {
		c = clock.RealClock{}
	}
	return &Renderer{
		out:          w,
		clock:        c,
		requestFrame: make(chan struct{}, 1),
		quit:         make(chan struct{}),
		stopped:      make(chan struct{}),
		state:        State{Page: LoadingPage},
	}
}

// Renderer draws State to a terminal. Events are applied with Dispatch and
// the screen is redrawn on change or every redrawInterval.
type Renderer struct {
	out   io.Writer
	clock clock.WithTicker

	requestFrame chan struct{}
	quit         chan struct{}
	stopped      chan struct{}
	stopOnce     sync.Once
	started      atomic.Bool

	stateMu sync.Mutex
	state   State

	start time.Time
}

func (r *Renderer) GetState() State {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()

	return r.state
}

func (r *Renderer) Dispatch(e Event) {
	r.stateMu.Lock()
	newState := StateReducer(r.state, e)
	changed := !reflect.DeepEqual(r.state, newState)
	r.state = newState
	r.stateMu.Unlock()

	if changed {
		r.RequestFrame()
	}
}

func (r *Renderer) RequestFrame() {
	select {
	case r.requestFrame <- struct{}{}:
	default:
	}
}

// pixels are rectangular, not square in the terminal. add a scale factor to account for this
func getAspect(w term.WinSize) float64 {
	if w.Width == 0 || w.Height == 0 || w.Rows == 0 || w.Cols == 0 {
		return 2.0
	}
	return float64(w.Height) * float64(w.Cols) / float64(w.Rows) / float64(w.Width)
}

func (r *Renderer) drawVideo(buf *bytes.Buffer, s State) {
	a := term.ANSI{Writer: buf}

	vidW, vidH := s.WinSize.Cols, s.WinSize.Rows-statusHeight

	a.CursorPosition(1, 1)
	a.Background(color.Black)
	a.Bold()

	aspect := getAspect(s.WinSize)
	buf.Write(Image2ANSI(s.Image, vidW, vidH, aspect, false))
}

func padLine(buf *bytes.Buffer, text string, width int) {
	n := utf8.RuneCountInString(text)
	if n > width {
		text = string([]rune(text)[:width])
		n = width
	}
	buf.WriteString(text)
	if width > n {
		buf.WriteString(strings.Repeat(" ", width-n))
	}
}

func formatPTS(d time.Duration) string {
	d = d.Truncate(100 * time.Millisecond)
	m := d / time.Minute
	sec := float64(d%time.Minute) / float64(time.Second)
	return fmt.Sprintf("%02d:%04.1f", int64(m), sec)
}

func (r *Renderer) drawStatus(buf *bytes.Buffer, s State) {
	a := term.ANSI{Writer: buf}
	width := s.WinSize.Cols
	top := s.WinSize.Rows - statusHeight + 1

	a.Normal()
	a.CursorPosition(top, 1)
	a.Background(color.RGBA{0x12, 0x12, 0x12, 0xFF})
	a.Foreground(color.RGBA{0x00, 0xff, 0xff, 0xff})

	left := " " + s.Track.Title
	right := fmt.Sprintf("%dx%d  %s  %d drawn  %d dropped ", s.Track.Width, s.Track.Height, formatPTS(s.PTS), s.Stats.Rendered, s.Stats.Dropped)
	if s.Stats.Loops > 0 {
		right = fmt.Sprintf("loop %d  ", s.Stats.Loops+1) + right
	}
	gap := width - utf8.RuneCountInString(left) - utf8.RuneCountInString(right)
	if gap > 0 {
		padLine(buf, left+strings.Repeat(" ", gap)+right, width)
	} else {
		padLine(buf, left, width)
	}

	a.CursorPosition(top+1, 1)
	a.Background(color.RGBA{0x22, 0x22, 0x22, 0xFF})
	if s.HelpOn {
		a.Foreground(color.White)
		padLine(buf, " q: quit   h: hide help", width)
		return
	}
	if len(s.Logs) == 0 {
		a.Foreground(color.RGBA{0x99, 0x99, 0x99, 0xFF})
		padLine(buf, " h: help", width)
		return
	}
	last := s.Logs[len(s.Logs)-1]
	if last.Level == LogLevelError {
		a.Foreground(color.RGBA{0xFF, 0, 0, 0xFF})
	} else {
		a.Foreground(color.RGBA{0x99, 0x99, 0x99, 0xFF})
	}
	padLine(buf, " "+last.Text, width)
}

func (r *Renderer) drawBlank(buf *bytes.Buffer, s State) {
	a := term.ANSI{Writer: buf}

	a.Background(color.RGBA{0x00, 0x00, 0x00, 0xFF})

	a.CursorPosition(1, 1)
	buf.WriteString(strings.Repeat(" ", s.WinSize.Cols*s.WinSize.Rows))
}

func (r *Renderer) drawCentered(buf *bytes.Buffer, s State, title string, body string) {
	a := term.ANSI{Writer: buf}
	r.drawBlank(buf, s)

	if s.WinSize.Rows > 2 {
		timeOffset := float64(r.clock.Since(r.start)/time.Millisecond) / 2000.0

		a.Bold()
		a.CursorPosition(s.WinSize.Rows/2-1, (s.WinSize.Cols-len(title))/2+1)
		for i, c := range title {
			t := float64(i)/float64(len(title)) + timeOffset
			a.Foreground(rainbow(t))
			buf.WriteRune(c)
		}
	}

	descWidth := 40
	if maxWidth := s.WinSize.Cols - 2; maxWidth < descWidth {
		descWidth = maxWidth
	}
	a.Normal()
	a.Foreground(color.RGBA{0xAA, 0xAA, 0xAA, 0xFF})
	for i, line := range wordWrap(body, descWidth) {
		row := s.WinSize.Rows/2 + 1 + i
		if row > s.WinSize.Rows {
			break
		}
		a.CursorPosition(row, (s.WinSize.Cols-len(line))/2+1)
		buf.WriteString(line)
	}
}

func wordWrap(s string, lineLen int) []string {
	var lines []string

	var line string
	for _, word := range strings.Split(s, " ") {
		if len(line) > 0 && len(line)+len(word)+1 > lineLen {
			lines = append(lines, line)
			line = ""
		}
		line += " " + word
	}
	if len(line) > 0 {
		lines = append(lines, line)
	}

	return lines
}

func rainbow(t float64) *color.RGBA {
	const freq = math.Pi
	r := math.Sin(freq*t)*127 + 128
	g := math.Sin(freq*t+2*math.Pi/3)*127 + 128
	b := math.Sin(freq*t+4*math.Pi/3)*127 + 128

	return &color.RGBA{uint8(r), uint8(g), uint8(b), 0xFF}
}

// Draw renders the current state into a buffer.
func (r *Renderer) Draw() []byte {
	buf := bytes.NewBuffer(nil)
	s := r.GetState()

	switch s.Page {
	case LoadingPage:
		r.drawCentered(buf, s, "asciiplayer", "Loading "+s.Track.Title)

	case PlayerPage:
		r.drawVideo(buf, s)
		r.drawStatus(buf, s)

	case UnavailablePage:
		r.drawCentered(buf, s, "Video unavailable", s.Reason)

	case FinishedPage:
		r.drawCentered(buf, s, "Finished", fmt.Sprintf("%d frames drawn, %d dropped. Press q to quit", s.Stats.Rendered, s.Stats.Dropped))

	default:
		r.drawBlank(buf, s)
	}

	return buf.Bytes()
}

func (r *Renderer) draw() {
	r.out.Write(r.Draw())
}

func (r *Renderer) loop() {
	defer close(r.stopped)

	ticker := r.clock.NewTicker(redrawInterval)
	defer ticker.Stop()
	for {
		r.draw()

		select {
		case <-r.requestFrame:
		case <-ticker.C():
		case <-r.quit:
			return
		}
	}
}

func (r *Renderer) Start() {
	r.start = r.clock.Now()

	a := term.ANSI{Writer: r.out}
	a.HideCursor()

	r.started.Store(true)
	go r.loop()
}

// Stop ends the draw loop and restores the terminal.
func (r *Renderer) Stop() {
	r.stopOnce.Do(func() {
		close(r.quit)
		if !r.started.Load() {
			return
		}
		<-r.stopped

		buf := bytes.NewBuffer(nil)
		a := term.ANSI{Writer: buf}

		a.ShowCursor()
		a.Reset()
		a.BackgroundReset()
		a.ForegroundReset()
		a.Normal()
		a.Clear()
		a.CursorPosition(1, 1)

		r.out.Write(buf.Bytes())
	})
}
