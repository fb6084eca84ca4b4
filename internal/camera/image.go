package camera

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/kozaktomas/face-attendance/internal/facematch"
)

// lumaSampleSize is the side of the thumbnail brightness is measured on.
const lumaSampleSize = 32

// Analyze decodes an encoded frame, downscales it to fit maxWidth x
// maxHeight (zero disables a bound) and measures its mean luminance.
// The returned data is the original bytes when no resize was needed,
// otherwise a JPEG of the resized frame.
func Analyze(data []byte, maxWidth, maxHeight int) ([]byte, facematch.FrameInfo, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, facematch.FrameInfo{}, fmt.Errorf("failed to decode frame: %w", err)
	}

	bounds := img.Bounds()
	width, height := fitWithin(bounds.Dx(), bounds.Dy(), maxWidth, maxHeight)

	out := data
	if width != bounds.Dx() || height != bounds.Dy() {
		resized := image.NewRGBA(image.Rect(0, 0, width, height))
		draw.BiLinear.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)

		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: 85}); err != nil {
			return nil, facematch.FrameInfo{}, fmt.Errorf("failed to encode resized frame: %w", err)
		}
		out = buf.Bytes()
	}

	return out, facematch.FrameInfo{
		Width:      width,
		Height:     height,
		Brightness: meanLuma(img),
	}, nil
}

// fitWithin scales width x height down to fit the bounds, keeping the
// aspect ratio.
func fitWithin(width, height, maxWidth, maxHeight int) (int, int) {
	scale := 1.0
	if maxWidth > 0 && width > maxWidth {
		scale = min(scale, float64(maxWidth)/float64(width))
	}
	if maxHeight > 0 && height > maxHeight {
		scale = min(scale, float64(maxHeight)/float64(height))
	}
	if scale == 1.0 {
		return width, height
	}
	return max(1, int(float64(width)*scale)), max(1, int(float64(height)*scale))
}

// meanLuma returns the average BT.601 luma of img in [0,1], measured on a
// small thumbnail.
func meanLuma(img image.Image) float64 {
	thumb := image.NewRGBA(image.Rect(0, 0, lumaSampleSize, lumaSampleSize))
	draw.BiLinear.Scale(thumb, thumb.Bounds(), img, img.Bounds(), draw.Over, nil)

	var sum float64
	for y := range lumaSampleSize {
		for x := range lumaSampleSize {
			r, g, b, _ := thumb.At(x, y).RGBA()
			sum += 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(b>>8)
		}
	}
	return sum / float64(lumaSampleSize*lumaSampleSize) / 255
}
