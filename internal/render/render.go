// Package render draws labelled coordinates and the distortion curve that
// chose their cluster count. Sinks write PNG via gonum/plot or HTML via
// go-echarts.
package render

import (
	"errors"
	"fmt"
	"image/color"
	"math"
	"sort"

	"github.com/banshee-data/coordcluster/internal/coords"
	"github.com/banshee-data/coordcluster/internal/sweep"
)

// Frame is everything a sink needs to draw one transformed dataset.
type Frame struct {
	Points   *coords.Matrix
	Labels   []int
	Curve    sweep.Curve
	OptimalK int
	Title    string
}

// Sink consumes a Frame.
type Sink interface {
	Render(Frame) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Frame) error

func (f SinkFunc) Render(fr Frame) error { return f(fr) }

var errEmptyFrame = errors.New("render: frame has no points")

func (f Frame) validate() error {
	if f.Points == nil || f.Points.Len() == 0 {
		return errEmptyFrame
	}
	if len(f.Labels) != f.Points.Len() {
		return fmt.Errorf("render: %d labels for %d points", len(f.Labels), f.Points.Len())
	}
	return nil
}

func (f Frame) title() string {
	if f.Title != "" {
		return f.Title
	}
	return fmt.Sprintf("Coordinate clusters (k=%d)", f.OptimalK)
}

// group splits point indices by label, ordered by label.
func (f Frame) group() (labels []int, members map[int][]int) {
	members = make(map[int][]int)
	for i, l := range f.Labels {
		members[l] = append(members[l], i)
	}
	for l := range members {
		labels = append(labels, l)
	}
	sort.Ints(labels)
	return labels, members
}

// palette spreads n hues around the colour wheel.
func palette(n int) []color.Color {
	if n <= 0 {
		return nil
	}
	colors := make([]color.Color, n)
	for i := range colors {
		r, g, b := hslToRGB(float64(i)/float64(n), 0.7, 0.5)
		colors[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return colors
}

func hexColor(c color.Color) string {
	r, g, b, _ := c.RGBA()
	return fmt.Sprintf("#%02x%02x%02x", r>>8, g>>8, b>>8)
}

func hslToRGB(h, s, l float64) (r, g, b uint8) {
	if s == 0 {
		v := uint8(math.Round(l * 255))
		return v, v, v
	}
	var q float64
	if l < 0.5 {
		q = l * (1 + s)
	} else {
		q = l + s - l*s
	}
	p := 2*l - q
	conv := func(v float64) uint8 { return uint8(math.Round(v * 255)) }
	return conv(hueToRGB(p, q, h+1.0/3)), conv(hueToRGB(p, q, h)), conv(hueToRGB(p, q, h-1.0/3))
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t++
	}
	if t > 1 {
		t--
	}
	switch {
	case t < 1.0/6:
		return p + (q-p)*6*t
	case t < 1.0/2:
		return q
	case t < 2.0/3:
		return p + (q-p)*(2.0/3-t)*6
	}
	return p
}
