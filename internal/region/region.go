// Package region cuts lamp sub-images out of camera frames.
package region

import (
	"errors"
	"fmt"
	"image"

	"golang.org/x/image/draw"

	"github.com/dj-oyu/lamp-monitor/pkg/types"
)

// ErrInvalidRegion is returned when a rectangle has no area after clamping.
var ErrInvalidRegion = errors.New("invalid region")

// Clamp restricts r to [0, w] x [0, h] of bounds (bounds origin is treated as 0,0).
func Clamp(r types.Rect, bounds image.Rectangle) types.Rect {
	w, h := bounds.Dx(), bounds.Dy()
	return types.Rect{
		X1: clampInt(r.X1, 0, w),
		Y1: clampInt(r.Y1, 0, h),
		X2: clampInt(r.X2, 0, w),
		Y2: clampInt(r.Y2, 0, h),
	}
}

// Area returns the pixel area of r, never negative.
func Area(r types.Rect) int {
	if !r.Valid() {
		return 0
	}
	return (r.X2 - r.X1) * (r.Y2 - r.Y1)
}

// Extract returns a fresh copy of the clamped region. The frame is not modified.
func Extract(frame types.Frame, r types.Rect) (*image.RGBA, error) {
	if frame.Empty() {
		return nil, fmt.Errorf("%w: empty frame", ErrInvalidRegion)
	}
	src := frame.Image.Bounds()
	c := Clamp(r, src)
	if !c.Valid() {
		return nil, fmt.Errorf("%w: (%d,%d)-(%d,%d) clamps to (%d,%d)-(%d,%d) in %dx%d frame",
			ErrInvalidRegion, r.X1, r.Y1, r.X2, r.Y2, c.X1, c.Y1, c.X2, c.Y2, src.Dx(), src.Dy())
	}

	sub := c.Image().Add(src.Min)
	dst := image.NewRGBA(image.Rect(0, 0, sub.Dx(), sub.Dy()))
	draw.Copy(dst, image.Point{}, frame.Image, sub, draw.Src, nil)
	return dst, nil
}

// ExtractPair extracts the orange and green regions, returning the first error.
func ExtractPair(frame types.Frame, orange, green types.Rect) (*image.RGBA, *image.RGBA, error) {
	o, err := Extract(frame, orange)
	if err != nil {
		return nil, nil, fmt.Errorf("orange region: %w", err)
	}
	g, err := Extract(frame, green)
	if err != nil {
		return nil, nil, fmt.Errorf("green region: %w", err)
	}
	return o, g, nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
