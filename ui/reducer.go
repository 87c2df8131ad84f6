package ui

import (
	"image"
	"regexp"
	"strings"
	"time"

	"github.com/dialup-inc/asciiplayer/term"
)

const maxLogs = 3

func StateReducer(s State, event Event) State {
	s.Image = imageReducer(s.Image, event)
	s.PTS = ptsReducer(s.PTS, event)
	s.Page = pageReducer(s.Page, event)
	s.WinSize = winSizeReducer(s.WinSize, event)
	s.Track = trackReducer(s.Track, event)
	s.Stats = statsReducer(s.Stats, event)
	s.Reason = reasonReducer(s.Reason, event)
	s.Logs = logsReducer(s.Logs, event)
	s.HelpOn = helpReducer(s.HelpOn, event)

	return s
}

func pageReducer(s Page, event Event) Page {
	switch e := event.(type) {
	case SetPageEvent:
		return Page(e)
	case UnavailableEvent:
		return UnavailablePage
	case FrameEvent:
		if s == LoadingPage || s == "" {
			return PlayerPage
		}
		return s
	default:
		return s
	}
}

func winSizeReducer(s term.WinSize, event Event) term.WinSize {
	switch e := event.(type) {
	case ResizeEvent:
		return term.WinSize(e)
	default:
		return s
	}
}

func imageReducer(s image.Image, event Event) image.Image {
	switch e := event.(type) {
	case FrameEvent:
		return e.Image

	case SetPageEvent, UnavailableEvent:
		return nil

	default:
		return s
	}
}

func ptsReducer(s time.Duration, event Event) time.Duration {
	switch e := event.(type) {
	case FrameEvent:
		return e.PTS
	case SetPageEvent, UnavailableEvent:
		return 0
	default:
		return s
	}
}

func trackReducer(s TrackEvent, event Event) TrackEvent {
	switch e := event.(type) {
	case TrackEvent:
		return e
	case FormatEvent:
		s.Width, s.Height = e.Width, e.Height
		return s
	default:
		return s
	}
}

func statsReducer(s StatsEvent, event Event) StatsEvent {
	if e, ok := event.(StatsEvent); ok {
		return e
	}
	return s
}

func reasonReducer(s string, event Event) string {
	switch e := event.(type) {
	case UnavailableEvent:
		return e.Reason
	case SetPageEvent:
		return ""
	default:
		return s
	}
}

// OSC sequences run to BEL; everything else is a CSI or a short escape.
var ansiRegex = regexp.MustCompile("\u001B\\][^\u0007]*\u0007|[\u001B\u009B][[()#;?]*(?:\\d{1,4}(?:;\\d{0,4})*)?[\\dA-PRZcf-ntqry=><~]")

func logsReducer(s []LogEvent, event Event) []LogEvent {
	e, ok := event.(LogEvent)
	if !ok {
		return s
	}

	// Strip ansi codes and bell characters
	e.Text = ansiRegex.ReplaceAllString(e.Text, "")
	e.Text = strings.Replace(e.Text, "\a", "", -1)

	out := append(append([]LogEvent(nil), s...), e)
	if len(out) > maxLogs {
		out = out[len(out)-maxLogs:]
	}
	return out
}

func helpReducer(s bool, event Event) bool {
	if _, ok := event.(ToggleHelpEvent); ok {
		return !s
	}
	return s
}
