package imaging

import (
	"bytes"
	"fmt"
	"image"
	"math"

	// Decoders for the formats providers return.
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// ValidationLimits are the decoded-image floors a candidate must clear.
type ValidationLimits struct {
	MinWidth   int
	MinHeight  int
	AspectMin  float64
	AspectMax  float64
	MinStdDev  float64
	MinColours int
}

// Validate decodes and sanity-checks candidate bytes. It rejects tiny or
// extreme-aspect images, near-solid fills, and low-color graphics that are
// usually logos or UI sprites.
func Validate(data []byte, lim ValidationLimits) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding: %w", err)
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < lim.MinWidth || h < lim.MinHeight {
		return nil, fmt.Errorf("too small: %dx%d", w, h)
	}
	aspect := float64(w) / float64(h)
	if aspect < lim.AspectMin || aspect > lim.AspectMax {
		return nil, fmt.Errorf("aspect ratio %.2f out of range", aspect)
	}

	std, colours := sampleStats(img)
	if std < lim.MinStdDev {
		return nil, fmt.Errorf("luminance std %.1f below %.1f, near-solid image", std, lim.MinStdDev)
	}
	if colours < lim.MinColours {
		return nil, fmt.Errorf("%d distinct colours below %d", colours, lim.MinColours)
	}
	return img, nil
}

const sampleGrid = 64

// sampleStats walks a coarse grid over the image and returns the luminance
// standard deviation and the distinct quantized colour count.
func sampleStats(img image.Image) (float64, int) {
	b := img.Bounds()
	stepX := b.Dx() / sampleGrid
	if stepX < 1 {
		stepX = 1
	}
	stepY := b.Dy() / sampleGrid
	if stepY < 1 {
		stepY = 1
	}

	var sum, sumSq float64
	var n int
	colours := make(map[uint32]struct{})

	for y := b.Min.Y; y < b.Max.Y; y += stepY {
		for x := b.Min.X; x < b.Max.X; x += stepX {
			r, g, bl, _ := img.At(x, y).RGBA()
			r8, g8, b8 := r>>8, g>>8, bl>>8
			lum := 0.299*float64(r8) + 0.587*float64(g8) + 0.114*float64(b8)
			sum += lum
			sumSq += lum * lum
			n++
			// Quantize to 4 bits per channel so JPEG noise does not
			// inflate the count.
			colours[(r8>>4)<<8|(g8>>4)<<4|(b8>>4)] = struct{}{}
		}
	}
	if n == 0 {
		return 0, 0
	}
	mean := sum / float64(n)
	variance := sumSq/float64(n) - mean*mean
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance), len(colours)
}
