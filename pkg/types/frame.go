package types

import (
	"image"
	"time"
)

// Frame is one captured camera image with metadata.
// Pixels are never modified in place; consumers derive copies.
type Frame struct {
	Image    *image.RGBA // Decoded pixels (RGB, alpha ignored)
	Captured time.Time   // Capture timestamp
	Seq      uint64      // Sequential frame number
	Source   string      // Capture source name (e.g. "video0", "sample_img/1.png")
}

// Width returns the frame width in pixels.
func (f Frame) Width() int {
	if f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dx()
}

// Height returns the frame height in pixels.
func (f Frame) Height() int {
	if f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dy()
}

// Empty reports whether the frame carries no pixels.
func (f Frame) Empty() bool {
	return f.Width() == 0 || f.Height() == 0
}

// Rect is an axis-aligned pixel rectangle with exclusive upper bounds.
type Rect struct {
	X1 int `yaml:"x1" json:"x1"`
	Y1 int `yaml:"y1" json:"y1"`
	X2 int `yaml:"x2" json:"x2"`
	Y2 int `yaml:"y2" json:"y2"`
}

// Valid reports whether x1 < x2 and y1 < y2.
func (r Rect) Valid() bool {
	return r.X1 < r.X2 && r.Y1 < r.Y2
}

// Image converts to image.Rectangle.
func (r Rect) Image() image.Rectangle {
	return image.Rect(r.X1, r.Y1, r.X2, r.Y2)
}
