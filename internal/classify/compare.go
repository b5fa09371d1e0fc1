package classify

import (
	"fmt"
	"image"

	"github.com/dj-oyu/lamp-monitor/pkg/types"
)

// Comparison is one preset's result on a calibration image.
type Comparison struct {
	Preset      Preset
	Preprocess  bool
	Counts      Counts
	Total       int
	Percentages map[types.ColorClass]float64 // share of Total
}

// Compare runs every preset with and without preprocessing.
func Compare(img image.Image) ([]Comparison, error) {
	var out []Comparison
	for _, pre := range []bool{false, true} {
		for _, p := range Presets() {
			c := &Classifier{Preset: p, Preprocess: pre}
			counts, err := c.Classify(img)
			if err != nil {
				return nil, fmt.Errorf("%s preset: %w", p, err)
			}
			total := counts.Total()
			pct := make(map[types.ColorClass]float64, len(counts))
			for class, n := range counts {
				if total > 0 {
					pct[class] = float64(n) * 100 / float64(total)
				} else {
					pct[class] = 0
				}
			}
			out = append(out, Comparison{Preset: p, Preprocess: pre, Counts: counts, Total: total, Percentages: pct})
		}
	}
	return out, nil
}

// Best returns the comparison with the most classified pixels; ties keep the earlier entry.
// ok is false when nothing matched at all.
func Best(results []Comparison) (Comparison, bool) {
	var best Comparison
	found := false
	for _, r := range results {
		if r.Total > 0 && (!found || r.Total > best.Total) {
			best = r
			found = true
		}
	}
	return best, found
}
