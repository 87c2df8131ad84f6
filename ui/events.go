package ui

import (
	"image"
	"time"

	"github.com/dialup-inc/asciiplayer/term"
)

// An Event represents something that changes the UI state.
//
// They're processed by Renderer's Dispatch method.
type Event interface{}

// FrameEvent is sent when the decode loop presents a new frame
type FrameEvent struct {
	Image image.Image
	PTS   time.Duration
}

// ResizeEvent indicates that the terminal window's size has changed to the specified dimensions
type ResizeEvent term.WinSize

// ToggleHelpEvent toggles the help bar
type ToggleHelpEvent struct{}

// TrackEvent describes the clip being played
type TrackEvent struct {
	Title  string
	Mime   string
	Width  int
	Height int
}

// FormatEvent fires when the decoder reports a new output size
type FormatEvent struct {
	Width  int
	Height int
}

// StatsEvent carries running decode loop counters
type StatsEvent struct {
	Rendered int
	Dropped  int
	Loops    int
}

// UnavailableEvent switches to the fallback page with the given reason
type UnavailableEvent struct {
	Reason string
}

// SetPageEvent transitions to the specified page
type SetPageEvent Page

// LogLevel indicates the severity of a LogEvent message
type LogLevel int

const (
	// LogLevelInfo is for non-urgent, informational logs
	LogLevelInfo LogLevel = iota
	// LogLevelError is for logs that indicate problems
	LogLevelError
)

// A LogEvent prints a message to the status bar
type LogEvent struct {
	Text  string
	Level LogLevel
}
