// Package color maps arbitrary hex colors onto the fixed palette of
// calendar color ids.
package color

import (
	"math"
	"strconv"

	"github.com/lucasb-eyer/go-colorful"
)

// Slot is a destination calendar color id in the range 1..11.
type Slot int

// DefaultHex is used when an event carries no background color.
const DefaultHex = "#8E24AA"

// Palette holds the reference colors in slot order; Palette[i] is Slot(i+1).
var Palette = [...]string{
	"#7986CB", "#33B679", "#8E24AA", "#E67C73",
	"#F6BF26", "#F4511E", "#039BE5", "#616161",
	"#3F51B5", "#0B8043", "#D50000",
}

type rgb struct{ r, g, b float64 }

var paletteRGB = func() [len(Palette)]rgb {
	var out [len(Palette)]rgb
	for i, h := range Palette {
		c, err := parse(h)
		if err != nil {
			panic("color: bad palette entry " + h)
		}
		out[i] = c
	}
	return out
}()

// String returns the id as the calendar API expects it ("1".."11").
func (s Slot) String() string {
	return strconv.Itoa(int(s))
}

// Hex returns the reference color of the slot, or "" when out of range.
func (s Slot) Hex() string {
	if s < 1 || int(s) > len(Palette) {
		return ""
	}
	return Palette[s-1]
}

// Valid reports whether hex is a #RRGGBB color.
func Valid(hex string) bool {
	if len(hex) != 7 || hex[0] != '#' {
		return false
	}
	_, err := colorful.Hex(hex)
	return err == nil
}

// Map returns the palette slot nearest to hex by Euclidean distance in RGB
// space. The first of equally distant entries wins. An empty or malformed
// value maps as DefaultHex.
func Map(hex string) Slot {
	target, err := parse(hex)
	if err != nil {
		target = paletteRGB[2]
	}

	best := Slot(1)
	minDistance := math.Inf(1)
	for i, c := range paletteRGB {
		d := math.Sqrt(sq(target.r-c.r) + sq(target.g-c.g) + sq(target.b-c.b))
		if d < minDistance {
			minDistance = d
			best = Slot(i + 1)
		}
	}
	return best
}

func parse(hex string) (rgb, error) {
	c, err := colorful.Hex(hex)
	if err != nil {
		return rgb{}, err
	}
	r, g, b := c.RGB255()
	return rgb{float64(r), float64(g), float64(b)}, nil
}

func sq(v float64) float64 { return v * v }
