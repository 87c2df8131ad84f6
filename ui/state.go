package ui

import (
	"image"
	"time"

	"github.com/dialup-inc/asciiplayer/term"
)

type Page string

var (
	LoadingPage     Page = "loading"
	PlayerPage      Page = "player"
	UnavailablePage Page = "unavailable"
	FinishedPage    Page = "finished"
)

type State struct {
	Page Page

	Image   image.Image
	PTS     time.Duration
	WinSize term.WinSize

	Track  TrackEvent
	Stats  StatsEvent
	Reason string
	Logs   []LogEvent

	HelpOn bool
}
