// Package media holds the types shared by the demuxer, the codec session and
// the decode loop.
package media

import (
	"strings"
	"time"
)

// Mime types understood by the codec registry.
const (
	MimeVP8 = "video/x-vnd.on2.vp8"
	MimeVP9 = "video/x-vnd.on2.vp9"
	MimeAVC = "video/avc"
	MimeRaw = "video/raw"
	MimeAAC = "audio/mp4a-latm"
)

// IsVideo reports whether mime names a video format.
func IsVideo(mime string) bool {
	return strings.HasPrefix(mime, "video/")
}

// Geometry describes the layout of a decoded picture. Stride and SliceHeight
// may exceed Width and Height when the producer pads rows or planes.
type Geometry struct {
	Width       int
	Height      int
	Stride      int
	SliceHeight int
}

// Normalize fills in a zero stride or slice height with the visible size.
func (g Geometry) Normalize() Geometry {
	if g.Stride < g.Width {
		g.Stride = g.Width
	}
	if g.SliceHeight < g.Height {
		g.SliceHeight = g.Height
	}
	return g
}

// Size is the number of bytes a semi-planar 4:2:0 picture with this geometry
// occupies.
func (g Geometry) Size() int {
	g = g.Normalize()
	return g.Stride*g.SliceHeight + g.Stride*((g.SliceHeight+1)/2)
}

// Track is a single elementary stream inside a container.
type Track struct {
	ID       int
	MimeType string
	Geometry

	// FrameRate is the nominal rate in frames per second, zero when unknown.
	FrameRate float64
	Duration  time.Duration

	// CodecPrivate carries out-of-band decoder configuration, e.g. H.264
	// parameter sets in Annex-B form.
	CodecPrivate []byte

	// Format is the container fourcc for raw tracks ("I420", "NV12").
	Format string
}

// Sample is one compressed access unit. PTS is in microseconds.
type Sample struct {
	Data     []byte
	PTS      int64
	Keyframe bool
}

// Micros converts a presentation timestamp to a duration.
func Micros(pts int64) time.Duration {
	return time.Duration(pts) * time.Microsecond
}
