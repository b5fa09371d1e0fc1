// Package classify counts lamp-colored pixels in a region image.
package classify

import (
	"errors"
	"image"

	"gocv.io/x/gocv"
	"golang.org/x/image/draw"
	"gonum.org/v1/gonum/stat"

	"github.com/dj-oyu/lamp-monitor/pkg/types"
)

// ErrClassificationEmpty reports a sub-image with no readable pixels.
// Classify never returns it; Analyze does, alongside zero counts.
var ErrClassificationEmpty = errors.New("classification input empty")

// Counts maps a color class to its pixel count.
type Counts map[types.ColorClass]int

// Get returns the count for c, zero when absent.
func (c Counts) Get(class types.ColorClass) int {
	return c[class]
}

// Total sums every class.
func (c Counts) Total() int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}

// Percentage returns class as a share of the orange+green total, 0 when the total is 0.
func (c Counts) Percentage(class types.ColorClass) float64 {
	total := c[types.Orange] + c[types.Green]
	if total == 0 {
		return 0
	}
	return float64(c[class]) * 100 / float64(total)
}

// Classifier applies one preset to region images.
type Classifier struct {
	Preset     Preset
	Preprocess bool // blur + saturation boost; the live path always sets this
	IncludeRed bool
}

// New returns the live-path classifier for p.
func New(p Preset) *Classifier {
	return &Classifier{Preset: p, Preprocess: true}
}

// Classify counts pixels per class. Empty or nil input yields zero counts.
func (c *Classifier) Classify(img image.Image) (Counts, error) {
	counts := c.zero()
	if empty(img) {
		return counts, nil
	}

	bgr, err := toMat(img)
	if err != nil {
		return counts, err
	}
	defer bgr.Close()
	if c.Preprocess {
		enhanced := enhanceMat(bgr)
		bgr.Close()
		bgr = enhanced
	}

	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(bgr, &hsv, gocv.ColorBGRToHSV)

	ranges := Ranges(c.Preset)
	if c.IncludeRed {
		ranges[types.Red] = RedRanges()
	}
	for class, rs := range ranges {
		counts[class] = countInRanges(hsv, rs)
	}
	return counts, nil
}

// countInRanges ORs one mask per range so a pixel is counted once.
func countInRanges(hsv gocv.Mat, ranges []Range) int {
	total := gocv.Zeros(hsv.Rows(), hsv.Cols(), gocv.MatTypeCV8U)
	defer total.Close()
	mask := gocv.NewMat()
	defer mask.Close()

	for _, r := range ranges {
		gocv.InRangeWithScalar(hsv, scalar(r.Lo), scalar(r.Hi), &mask)
		gocv.BitwiseOr(total, mask, &total)
	}
	return gocv.CountNonZero(total)
}

func scalar(c HSV) gocv.Scalar {
	return gocv.NewScalar(float64(c.H), float64(c.S), float64(c.V), 0)
}

func (c *Classifier) zero() Counts {
	counts := Counts{types.Orange: 0, types.Green: 0}
	if c.IncludeRed {
		counts[types.Red] = 0
	}
	return counts
}

// Sample is one region's classification plus brightness.
type Sample struct {
	Counts     Counts
	Brightness float64
	Pixels     int
}

// Analyze classifies img and measures its brightness. For empty input it returns
// a zero Sample and ErrClassificationEmpty; callers treat that as zero counts.
func (c *Classifier) Analyze(img image.Image) (Sample, error) {
	if empty(img) {
		return Sample{Counts: c.zero()}, ErrClassificationEmpty
	}
	counts, err := c.Classify(img)
	if err != nil {
		return Sample{Counts: c.zero()}, err
	}
	brightness, err := Brightness(img)
	if err != nil {
		return Sample{Counts: c.zero()}, err
	}
	b := img.Bounds()
	return Sample{
		Counts:     counts,
		Brightness: brightness,
		Pixels:     b.Dx() * b.Dy(),
	}, nil
}

// Brightness returns the mean of the OpenCV grayscale conversion of the raw image.
func Brightness(img image.Image) (float64, error) {
	if empty(img) {
		return 0, nil
	}
	bgr, err := toMat(img)
	if err != nil {
		return 0, err
	}
	defer bgr.Close()
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(bgr, &gray, gocv.ColorBGRToGray)

	px := gray.ToBytes()
	values := make([]float64, len(px))
	for i, v := range px {
		values[i] = float64(v)
	}
	return stat.Mean(values, nil), nil
}

func empty(img image.Image) bool {
	if img == nil {
		return true
	}
	if rgba, ok := img.(*image.RGBA); ok && rgba == nil {
		return true
	}
	return img.Bounds().Empty()
}

// compact returns img as a zero-origin RGBA with a tight stride, copying only when needed.
func compact(img image.Image) *image.RGBA {
	b := img.Bounds()
	if rgba, ok := img.(*image.RGBA); ok && b.Min == (image.Point{}) && rgba.Stride == 4*b.Dx() {
		return rgba
	}
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}
