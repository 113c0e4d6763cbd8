package heatmap

import (
	"github.com/lucasb-eyer/go-colorful"
)

// jetStops approximates the classic "jet" colormap: dark blue through
// cyan and yellow to dark red, matching the visual convention of
// activation-map renderings.
var jetStops = []struct {
	pos float64
	col colorful.Color
}{
	{0.000, colorful.Color{R: 0, G: 0, B: 0.5}},
	{0.125, colorful.Color{R: 0, G: 0, B: 1}},
	{0.375, colorful.Color{R: 0, G: 1, B: 1}},
	{0.625, colorful.Color{R: 1, G: 1, B: 0}},
	{0.875, colorful.Color{R: 1, G: 0, B: 0}},
	{1.000, colorful.Color{R: 0.5, G: 0, B: 0}},
}

// jet maps a scalar in [0,1] to its colormap color. Values outside the
// range clamp to the endpoints.
func jet(v float64) colorful.Color {
	if v <= jetStops[0].pos {
		return jetStops[0].col
	}
	for i := 0; i < len(jetStops)-1; i++ {
		lo, hi := jetStops[i], jetStops[i+1]
		if v <= hi.pos {
			t := (v - lo.pos) / (hi.pos - lo.pos)
			return lo.col.BlendRgb(hi.col, t)
		}
	}
	return jetStops[len(jetStops)-1].col
}
