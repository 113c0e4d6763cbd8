// Package heatmap renders a heuristic saliency overlay for a classified
// X-ray image. The map is built from classical image statistics (edge
// magnitude fused with local variance) and is a visualization aid only;
// it does not reflect the classifier's actual attention.
package heatmap

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// DefaultAlpha is the overlay opacity used when the caller has no
// preference.
const DefaultAlpha = 0.5

const (
	// noiseKernel smooths the grayscale field before edge detection.
	noiseKernel = 21
	// varianceWindow is the side of the sliding window for local
	// texture statistics.
	varianceWindow = 31
	// smoothKernel softens the fused map before colorizing.
	smoothKernel = 31
)

// Fusion weights per predicted class. Cancerous tissue tends to show as
// texture irregularity, normal bone as edge structure, so the variance
// field dominates for a cancer verdict and the edge field otherwise.
// These constants are a heuristic, not learned parameters.
const (
	cancerEdgeWeight     = 0.4
	cancerVarianceWeight = 0.6
	normalEdgeWeight     = 0.6
	normalVarianceWeight = 0.4
)

// ClassCancer is the label that selects the variance-dominant weighting.
// Any other label gets the edge-dominant pair.
const ClassCancer = "cancer"

// Saliency computes the normalized fused saliency field for an image,
// with values in [0,1] and the same dimensions as the input. A uniform
// image yields an all-zero field.
func Saliency(img image.Image, predictedClass string) *mat.Dense {
	gray := grayscale(img)

	blurred := gaussianBlur(gray, noiseKernel)
	magnitude := sobelMagnitude(blurred)
	normalizeMax(magnitude)

	variance := localVariance(gray, varianceWindow)
	normalizeMax(variance)

	edgeW, varW := normalEdgeWeight, normalVarianceWeight
	if predictedClass == ClassCancer {
		edgeW, varW = cancerEdgeWeight, cancerVarianceWeight
	}

	h, w := gray.Dims()
	fused := mat.NewDense(h, w, nil)
	scaled := mat.NewDense(h, w, nil)
	fused.Scale(edgeW, magnitude)
	scaled.Scale(varW, variance)
	fused.Add(fused, scaled)

	smoothed := gaussianBlur(fused, smoothKernel)
	normalizeMax(smoothed)
	return smoothed
}

// Overlay alpha-composites the colorized saliency field onto the source
// image. Alpha is clamped to [0,1]: 0 reproduces the source, 1 yields
// the pure color field. The result always has the source's dimensions.
func Overlay(img image.Image, predictedClass string, alpha float64) *image.RGBA {
	if alpha < 0 {
		alpha = 0
	} else if alpha > 1 {
		alpha = 1
	}

	sal := Saliency(img, predictedClass)

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			c := jet(sal.At(y, x))

			i := out.PixOffset(x, y)
			out.Pix[i+0] = blend8(uint8(r>>8), c.R, alpha)
			out.Pix[i+1] = blend8(uint8(g>>8), c.G, alpha)
			out.Pix[i+2] = blend8(uint8(bl>>8), c.B, alpha)
			out.Pix[i+3] = 0xff
		}
	}
	return out
}

func blend8(orig uint8, overlay, alpha float64) uint8 {
	v := math.Round((1-alpha)*float64(orig) + alpha*overlay*255)
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

// Render reads the image at inputPath, generates the overlay and writes
// it to outputPath. The codec is chosen by the output extension (.jpg
// and .jpeg produce JPEG, everything else PNG). The output file is
// written in one shot after encoding succeeds, so a failed run leaves no
// partial file behind.
func Render(inputPath, outputPath, predictedClass string, alpha float64) error {
	f, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("open source image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return fmt.Errorf("decode source image %s: %w", inputPath, err)
	}

	overlay := Overlay(img, predictedClass, alpha)

	var buf bytes.Buffer
	switch strings.ToLower(filepath.Ext(outputPath)) {
	case ".jpg", ".jpeg":
		err = jpeg.Encode(&buf, overlay, &jpeg.Options{Quality: 95})
	default:
		err = png.Encode(&buf, overlay)
	}
	if err != nil {
		return fmt.Errorf("encode overlay: %w", err)
	}

	if err := os.WriteFile(outputPath, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write overlay: %w", err)
	}
	return nil
}
