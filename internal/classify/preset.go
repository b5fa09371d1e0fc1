package classify

import (
	"fmt"
	"strings"

	"github.com/dj-oyu/lamp-monitor/pkg/types"
)

// Preset selects a family of color ranges.
type Preset int

const (
	Default Preset = iota
	Enhanced
	Strict
)

var presetNames = map[Preset]string{
	Default:  "default",
	Enhanced: "enhanced",
	Strict:   "strict",
}

// Presets lists every preset in a stable order.
func Presets() []Preset {
	return []Preset{Default, Enhanced, Strict}
}

func (p Preset) String() string {
	if name, ok := presetNames[p]; ok {
		return name
	}
	return fmt.Sprintf("preset(%d)", int(p))
}

// ParsePreset accepts a preset name, case-insensitively. Empty means Strict.
func ParsePreset(s string) (Preset, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "strict":
		return Strict, nil
	case "default":
		return Default, nil
	case "enhanced":
		return Enhanced, nil
	default:
		return Strict, fmt.Errorf("unknown color preset %q (want default, enhanced or strict)", s)
	}
}

// HSV is an 8-bit hue/saturation/value triple. H is in [0,180), S and V in [0,255].
type HSV struct {
	H, S, V uint8
}

// Range is an inclusive box in HSV space.
type Range struct {
	Lo, Hi HSV
}

func box(h1, s1, v1, h2, s2, v2 uint8) Range {
	return Range{Lo: HSV{h1, s1, v1}, Hi: HSV{h2, s2, v2}}
}

// Ranges maps a preset to its per-class ranges. A pixel belongs to a class when any range contains it.
func Ranges(p Preset) map[types.ColorClass][]Range {
	switch p {
	case Default:
		return map[types.ColorClass][]Range{
			types.Orange: {box(11, 50, 50, 25, 255, 255)},
			types.Green:  {box(40, 50, 50, 80, 255, 255)},
		}
	case Enhanced:
		return map[types.ColorClass][]Range{
			types.Orange: {box(8, 30, 30, 30, 255, 255)},
			types.Green:  {box(35, 30, 30, 85, 255, 255)},
		}
	case Strict:
		return map[types.ColorClass][]Range{
			types.Orange: {box(10, 100, 120, 25, 255, 255)},
			types.Green:  {box(40, 100, 120, 80, 255, 255)},
		}
	default:
		panic(fmt.Sprintf("classify: unhandled preset %d", int(p)))
	}
}

// RedRanges is the legacy red class; hue wraps around 0.
func RedRanges() []Range {
	return []Range{
		box(0, 50, 50, 10, 255, 255),
		box(170, 50, 50, 180, 255, 255),
	}
}
