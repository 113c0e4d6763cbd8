package classifier

import (
	"image"

	"github.com/nfnt/resize"
)

// Preprocess resizes an image to the model's square input size and
// flattens it to CHW float32 values normalized to [0,1].
func Preprocess(img image.Image, size int) []float32 {
	resized := resize.Resize(uint(size), uint(size), img, resize.Lanczos3)

	bounds := resized.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	plane := width * height

	data := make([]float32, 3*plane)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := resized.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()

			i := y*width + x
			data[i] = float32(r) / 65535.0
			data[plane+i] = float32(g) / 65535.0
			data[2*plane+i] = float32(b) / 65535.0
		}
	}
	return data
}

// Classify is the convenience path used by the service: preprocess and
// predict in one call.
func (c *Classifier) Classify(img image.Image) (*Verdict, error) {
	return c.Predict(Preprocess(img, c.Metadata.ImageSize))
}
