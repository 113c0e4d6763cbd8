package heatmap

import (
	"image"
	"math"

	"gonum.org/v1/gonum/mat"
)

// grayscale converts an image to a single-channel intensity field in
// [0,255] using the Rec.601 luma weights, the same conversion OpenCV's
// BGR2GRAY applies.
func grayscale(img image.Image) *mat.Dense {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	gray := mat.NewDense(h, w, nil)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			v := 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(bl>>8)
			gray.Set(y, x, v)
		}
	}
	return gray
}

// reflectIdx maps an out-of-range coordinate back into [0,n) with
// border-reflect-101 semantics (edge pixel not repeated): -1 -> 1,
// n -> n-2.
func reflectIdx(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		}
		if i >= n {
			i = 2*n - 2 - i
		}
	}
	return i
}

// gaussianKernel builds a normalized 1D Gaussian of the given odd size.
// Sigma follows the size-derived rule used when no explicit sigma is
// given: 0.3*((ksize-1)*0.5 - 1) + 0.8.
func gaussianKernel(ksize int) []float64 {
	sigma := 0.3*(float64(ksize-1)*0.5-1) + 0.8
	k := make([]float64, ksize)
	half := ksize / 2
	var sum float64
	for i := range k {
		d := float64(i - half)
		k[i] = math.Exp(-d * d / (2 * sigma * sigma))
		sum += k[i]
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}

// convolveSeparable applies a 1D kernel horizontally then vertically.
func convolveSeparable(src *mat.Dense, kernel []float64) *mat.Dense {
	h, w := src.Dims()
	half := len(kernel) / 2

	tmp := mat.NewDense(h, w, nil)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var acc float64
			for i, kv := range kernel {
				acc += kv * src.At(y, reflectIdx(x+i-half, w))
			}
			tmp.Set(y, x, acc)
		}
	}

	dst := mat.NewDense(h, w, nil)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var acc float64
			for i, kv := range kernel {
				acc += kv * tmp.At(reflectIdx(y+i-half, h), x)
			}
			dst.Set(y, x, acc)
		}
	}
	return dst
}

// gaussianBlur smooths the field with an odd-sized Gaussian window.
func gaussianBlur(src *mat.Dense, ksize int) *mat.Dense {
	return convolveSeparable(src, gaussianKernel(ksize))
}

// boxBlur computes the windowed mean over a ksize x ksize neighborhood.
func boxBlur(src *mat.Dense, ksize int) *mat.Dense {
	k := make([]float64, ksize)
	for i := range k {
		k[i] = 1 / float64(ksize)
	}
	return convolveSeparable(src, k)
}

// sobelMagnitude computes the Euclidean norm of the horizontal and
// vertical 3x3 Sobel responses.
func sobelMagnitude(src *mat.Dense) *mat.Dense {
	h, w := src.Dims()
	out := mat.NewDense(h, w, nil)
	for y := 0; y < h; y++ {
		ym := reflectIdx(y-1, h)
		yp := reflectIdx(y+1, h)
		for x := 0; x < w; x++ {
			xm := reflectIdx(x-1, w)
			xp := reflectIdx(x+1, w)

			gx := -src.At(ym, xm) + src.At(ym, xp) +
				-2*src.At(y, xm) + 2*src.At(y, xp) +
				-src.At(yp, xm) + src.At(yp, xp)
			gy := -src.At(ym, xm) - 2*src.At(ym, x) - src.At(ym, xp) +
				src.At(yp, xm) + 2*src.At(yp, x) + src.At(yp, xp)

			out.Set(y, x, math.Hypot(gx, gy))
		}
	}
	return out
}

// localVariance computes E[x^2]-E[x]^2 over a sliding window. Values
// below epsilon are clamped to zero: floating-point cancellation on
// near-uniform regions leaves residue of either sign around 1e-11,
// and the zero-guard in normalizeMax must see a truly zero field for
// a blank image. Real texture variance on an 8-bit scale is orders of
// magnitude above the threshold.
func localVariance(src *mat.Dense, ksize int) *mat.Dense {
	h, w := src.Dims()
	sq := mat.NewDense(h, w, nil)
	sq.MulElem(src, src)

	mean := boxBlur(src, ksize)
	meanSq := boxBlur(sq, ksize)

	out := mat.NewDense(h, w, nil)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			m := mean.At(y, x)
			v := meanSq.At(y, x) - m*m
			if v < 1e-9 {
				v = 0
			}
			out.Set(y, x, v)
		}
	}
	return out
}

// normalizeMax rescales the field to [0,1] by its own maximum. An
// all-zero field is left untouched so a blank input never divides by
// zero.
func normalizeMax(m *mat.Dense) {
	max := mat.Max(m)
	if max <= 0 {
		return
	}
	m.Scale(1/max, m)
}
