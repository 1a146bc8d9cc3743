package scoring

import (
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"os"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/Rudra775/pixelate-saas/internal/models"
)

const (
	// ExposureBonus is added when mean luminance sits inside (ExposureMin, ExposureMax).
	ExposureBonus = 500.0
	ExposureMin   = 80.0
	ExposureMax   = 220.0
)

// laplacian approximates the second derivative; flat regions convolve to 0.
var laplacian = [3][3]float64{
	{0, 1, 0},
	{1, -4, 1},
	{0, 1, 0},
}

// FrameScorer rates still frames by sharpness and exposure.
type FrameScorer struct{}

// NewFrameScorer creates a new frame scorer
func NewFrameScorer() *FrameScorer {
	return &FrameScorer{}
}

// Score decodes the image at path and returns its quality score.
// A file that cannot be opened or decoded yields a *models.ScoreError.
func (s *FrameScorer) Score(path string) (float64, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, &models.ScoreError{Path: path, Err: err}
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return 0, &models.ScoreError{Path: path, Err: fmt.Errorf("decode image: %w", err)}
	}

	return ScoreImage(img), nil
}

// ScoreImage is the pure scoring function: the variance of the luminance of
// the Laplacian-convolved image, plus ExposureBonus when the mean luminance of
// the original image is neither under- nor over-exposed.
func ScoreImage(img image.Image) float64 {
	px := toNRGBA(img)
	w, h := px.Rect.Dx(), px.Rect.Dy()
	if w == 0 || h == 0 {
		return 0
	}

	score := Sharpness(px)
	if mean := MeanLuminance(px); mean > ExposureMin && mean < ExposureMax {
		score += ExposureBonus
	}
	return score
}

// Sharpness convolves each colour channel with the Laplacian kernel, clamps
// the result to 0..255 the way an 8-bit bitmap stores it, and returns the
// population variance of the resulting luminance values. Border pixels
// reuse their nearest in-bounds neighbour.
func Sharpness(px *image.NRGBA) float64 {
	w, h := px.Rect.Dx(), px.Rect.Dy()
	n := float64(w * h)
	if n == 0 {
		return 0
	}

	lum := make([]float64, 0, w*h)
	var sum float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var acc [3]float64
			for ky := -1; ky <= 1; ky++ {
				for kx := -1; kx <= 1; kx++ {
					k := laplacian[ky+1][kx+1]
					if k == 0 {
						continue
					}
					off := px.PixOffset(px.Rect.Min.X+clamp(x+kx, 0, w-1), px.Rect.Min.Y+clamp(y+ky, 0, h-1))
					acc[0] += k * float64(px.Pix[off])
					acc[1] += k * float64(px.Pix[off+1])
					acc[2] += k * float64(px.Pix[off+2])
				}
			}
			l := Luminance(clamp255(acc[0]), clamp255(acc[1]), clamp255(acc[2]))
			lum = append(lum, l)
			sum += l
		}
	}

	mean := sum / n
	var variance float64
	for _, l := range lum {
		d := l - mean
		variance += d * d
	}
	return variance / n
}

// MeanLuminance averages the perceptual luminance over every pixel.
func MeanLuminance(px *image.NRGBA) float64 {
	w, h := px.Rect.Dx(), px.Rect.Dy()
	if w == 0 || h == 0 {
		return 0
	}
	var sum float64
	for y := 0; y < h; y++ {
		off := px.PixOffset(px.Rect.Min.X, px.Rect.Min.Y+y)
		for x := 0; x < w; x++ {
			sum += Luminance(float64(px.Pix[off]), float64(px.Pix[off+1]), float64(px.Pix[off+2]))
			off += 4
		}
	}
	return sum / float64(w*h)
}

// Luminance uses the Rec. 709 weights.
func Luminance(r, g, b float64) float64 {
	return 0.2126*r + 0.7152*g + 0.0722*b
}

func toNRGBA(img image.Image) *image.NRGBA {
	if px, ok := img.(*image.NRGBA); ok {
		return px
	}
	b := img.Bounds()
	px := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(px, px.Bounds(), img, b.Min, draw.Src)
	return px
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clamp255(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return v
}
