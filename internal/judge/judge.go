// Package judge turns two region classifications into one lamp verdict.
package judge

import (
	"fmt"
	"math"

	"github.com/dj-oyu/lamp-monitor/internal/classify"
	"github.com/dj-oyu/lamp-monitor/pkg/types"
)

const (
	MaxConfidence   = 95.0
	BrightnessBonus = 15.0
	PixelBonus      = 10.0
)

// Thresholds are the three per-region acceptance conditions.
type Thresholds struct {
	Percentage float64 // minimum share of the expected class, 0-100
	Brightness float64 // minimum mean grayscale value
	MinPixels  int     // minimum raw count of the expected class
}

// StrictThresholds are the live defaults.
func StrictThresholds() Thresholds {
	return Thresholds{Percentage: 50, Brightness: 100, MinPixels: 100}
}

// RegionSample is the input for one region.
type RegionSample struct {
	Expected   types.ColorClass
	Counts     classify.Counts
	Brightness float64
}

// Score is the evaluation of one region.
type Score struct {
	Expected     types.ColorClass
	Percentage   float64
	Brightness   float64
	Pixels       int
	PercentageOK bool
	BrightnessOK bool
	PixelsOK     bool
	Composite    float64 // percentage plus earned bonuses, uncapped
}

// Passed reports whether all three conditions hold.
func (s Score) Passed() bool {
	return s.PercentageOK && s.BrightnessOK && s.PixelsOK
}

// Judgment is the verdict of one cycle.
type Judgment struct {
	Verdict    types.Verdict
	Confidence float64
	Reasons    []string
	Scores     [2]Score
}

// Percentage returns the score for the region expecting class, 0 when none does.
func (j Judgment) Percentage(class types.ColorClass) float64 {
	for _, s := range j.Scores {
		if s.Expected == class {
			return s.Percentage
		}
	}
	return 0
}

// OrangePercentage is the share of orange in the orange region.
func (j Judgment) OrangePercentage() float64 { return j.Percentage(types.Orange) }

// GreenPercentage is the share of green in the green region.
func (j Judgment) GreenPercentage() float64 { return j.Percentage(types.Green) }

func score(s RegionSample, th Thresholds) Score {
	sc := Score{
		Expected:   s.Expected,
		Percentage: s.Counts.Percentage(s.Expected),
		Brightness: s.Brightness,
		Pixels:     s.Counts.Get(s.Expected),
	}
	sc.PercentageOK = sc.Percentage >= th.Percentage
	sc.BrightnessOK = sc.Brightness >= th.Brightness
	sc.PixelsOK = sc.Pixels >= th.MinPixels

	sc.Composite = sc.Percentage
	if sc.BrightnessOK {
		sc.Composite += BrightnessBonus
	}
	if sc.PixelsOK {
		sc.Composite += PixelBonus
	}
	return sc
}

func reasons(s Score, th Thresholds) []string {
	out := make([]string, 0, 3)
	cmp := func(ok bool) string {
		if ok {
			return ">="
		}
		return "<"
	}
	out = append(out,
		fmt.Sprintf("%s region: %s share %.1f%% %s %.1f%%", s.Expected, s.Expected, s.Percentage, cmp(s.PercentageOK), th.Percentage),
		fmt.Sprintf("%s region: brightness %.1f %s %.1f", s.Expected, s.Brightness, cmp(s.BrightnessOK), th.Brightness),
		fmt.Sprintf("%s region: %s pixels %d %s %d", s.Expected, s.Expected, s.Pixels, cmp(s.PixelsOK), th.MinPixels),
	)
	return out
}

// Judge applies the strict rule: a region's color is the verdict only when all three
// conditions hold. If both regions pass, the higher composite wins; equal composites
// resolve to the alert color. Judge is deterministic.
func Judge(samples [2]RegionSample, th Thresholds) Judgment {
	var j Judgment
	for i, s := range samples {
		j.Scores[i] = score(s, th)
		j.Reasons = append(j.Reasons, reasons(j.Scores[i], th)...)
	}

	winner := -1
	for i, s := range j.Scores {
		if !s.Passed() {
			continue
		}
		if winner < 0 {
			winner = i
			continue
		}
		w := j.Scores[winner]
		if s.Composite > w.Composite || (s.Composite == w.Composite && s.Expected == types.Orange) {
			winner = i
		}
	}

	if winner < 0 {
		j.Verdict = types.VerdictUnknown
		j.Confidence = 0
		j.Reasons = append(j.Reasons, "no region met all conditions")
		return j
	}

	w := j.Scores[winner]
	j.Verdict = types.VerdictOf(w.Expected)
	j.Confidence = math.Min(MaxConfidence, w.Composite)
	if j.Scores[0].Passed() && j.Scores[1].Passed() {
		j.Reasons = append(j.Reasons, fmt.Sprintf("both regions passed; %s chosen with score %.1f", w.Expected, w.Composite))
	} else {
		j.Reasons = append(j.Reasons, fmt.Sprintf("%s region met all conditions", w.Expected))
	}
	return j
}
