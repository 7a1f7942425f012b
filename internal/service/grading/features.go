package grading

import (
	"bytes"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Placeholder statistics used when the upload cannot be decoded.
const (
	placeholderMean = 128
	placeholderStd  = 40
)

// DefaultMaxPixels bounds the decoded size of an upload. A few hundred KB of
// PNG can declare gigabytes of pixels.
const DefaultMaxPixels = 40_000_000

// Features are the grayscale statistics the classifiers work on.
type Features struct {
	Mean  float64 `json:"mean"`
	Std   float64 `json:"std"`
	Valid bool    `json:"valid"`
	// Format is the decoder that recognised the image, empty when invalid.
	Format string `json:"format,omitempty"`
	// Oversized is set when the header declared more than the pixel limit
	// and the image was not decoded.
	Oversized bool `json:"-"`
}

func placeholderFeatures() Features {
	return Features{Mean: placeholderMean, Std: placeholderStd}
}

// ExtractFeatures computes the grayscale mean and population standard
// deviation of an encoded image. Images whose header declares more than
// maxPixels pixels are not decoded; maxPixels <= 0 means DefaultMaxPixels.
func ExtractFeatures(data []byte, maxPixels int) Features {
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return placeholderFeatures()
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels) {
		f := placeholderFeatures()
		f.Oversized = cfg.Width > 0 && cfg.Height > 0
		return f
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return placeholderFeatures()
	}

	bounds := img.Bounds()
	n := float64(bounds.Dx() * bounds.Dy())
	if n == 0 {
		return placeholderFeatures()
	}

	var sum, sumSq float64
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			v := float64(color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y)
			sum += v
			sumSq += v * v
		}
	}

	mean := sum / n
	variance := sumSq/n - mean*mean
	if variance < 0 {
		variance = 0
	}

	return Features{
		Mean:   mean,
		Std:    math.Sqrt(variance),
		Valid:  true,
		Format: format,
	}
}
