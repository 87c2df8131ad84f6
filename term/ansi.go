package term

import (
	"fmt"
	"image/color"
	"io"
)

// ANSIPalette is the 16 color palette most terminals support. Colors from
// it are written with the short SGR codes; anything else uses 24-bit color.
var ANSIPalette = color.Palette{
	color.RGBA{0x00, 0x00, 0x00, 0xff},
	color.RGBA{0xcd, 0x00, 0x00, 0xff},
	color.RGBA{0x00, 0xcd, 0x00, 0xff},
	color.RGBA{0xcd, 0xcd, 0x00, 0xff},
	color.RGBA{0x00, 0x00, 0xee, 0xff},
	color.RGBA{0xcd, 0x00, 0xcd, 0xff},
	color.RGBA{0x00, 0xcd, 0xcd, 0xff},
	color.RGBA{0xe5, 0xe5, 0xe5, 0xff},
	color.RGBA{0x7f, 0x7f, 0x7f, 0xff},
	color.RGBA{0xff, 0x00, 0x00, 0xff},
	color.RGBA{0x00, 0xff, 0x00, 0xff},
	color.RGBA{0xff, 0xff, 0x00, 0xff},
	color.RGBA{0x5c, 0x5c, 0xff, 0xff},
	color.RGBA{0xff, 0x00, 0xff, 0xff},
	color.RGBA{0x00, 0xff, 0xff, 0xff},
	color.RGBA{0xff, 0xff, 0xff, 0xff},
}

// ANSI writes escape sequences to the wrapped writer.
type ANSI struct {
	io.Writer
}

func (a ANSI) csi(format string, args ...interface{}) {
	fmt.Fprintf(a.Writer, "\x1b["+format, args...)
}

func paletteIndex(c color.Color) int {
	r, g, b, _ := c.RGBA()
	for i, p := range ANSIPalette {
		pr, pg, pb, _ := p.RGBA()
		if r == pr && g == pg && b == pb {
			return i
		}
	}
	return -1
}

func (a ANSI) color(c color.Color, base int) {
	if i := paletteIndex(c); i >= 0 {
		if i < 8 {
			a.csi("%dm", base+i)
		} else {
			a.csi("%dm", base+60+i-8)
		}
		return
	}
	r, g, b, _ := c.RGBA()
	a.csi("%d;2;%d;%d;%dm", base+8, r>>8, g>>8, b>>8)
}

func (a ANSI) Foreground(c color.Color) { a.color(c, 30) }
func (a ANSI) Background(c color.Color) { a.color(c, 40) }
func (a ANSI) ForegroundReset()         { a.csi("39m") }
func (a ANSI) BackgroundReset()         { a.csi("49m") }

func (a ANSI) Bold()     { a.csi("1m") }
func (a ANSI) Normal()   { a.csi("22m") }
func (a ANSI) Blink()    { a.csi("5m") }
func (a ANSI) BlinkOff() { a.csi("25m") }
func (a ANSI) Reset()    { a.csi("0m") }

// CursorPosition moves the cursor to a 1-based row and column.
func (a ANSI) CursorPosition(row, col int) { a.csi("%d;%dH", row, col) }

func (a ANSI) HideCursor()  { a.csi("?25l") }
func (a ANSI) ShowCursor()  { a.csi("?25h") }
func (a ANSI) Clear()       { a.csi("2J") }

// ResizeWindow asks the terminal emulator to resize to rows by cols. Many
// terminals ignore it.
func (a ANSI) ResizeWindow(rows, cols int) { a.csi("8;%d;%dt", rows, cols) }
