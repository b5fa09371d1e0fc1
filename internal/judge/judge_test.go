package judge

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dj-oyu/lamp-monitor/internal/classify"
	"github.com/dj-oyu/lamp-monitor/pkg/types"
)

func sample(expected types.ColorClass, orange, green int, brightness float64) RegionSample {
	return RegionSample{
		Expected:   expected,
		Counts:     classify.Counts{types.Orange: orange, types.Green: green},
		Brightness: brightness,
	}
}

func TestOrangeLampLit(t *testing.T) {
	j := Judge([2]RegionSample{
		sample(types.Orange, 2000, 500, 150), // 80 %
		sample(types.Green, 900, 100, 60),    // 10 %
	}, StrictThresholds())

	assert.Equal(t, types.VerdictOrange, j.Verdict)
	assert.Equal(t, MaxConfidence, j.Confidence)
	assert.InDelta(t, 80.0, j.OrangePercentage(), 1e-9)
	assert.InDelta(t, 10.0, j.GreenPercentage(), 1e-9)
	assert.True(t, j.Scores[0].Passed())
	assert.False(t, j.Scores[1].Passed())
}

func TestNothingPasses(t *testing.T) {
	j := Judge([2]RegionSample{
		sample(types.Orange, 10, 90, 40),
		sample(types.Green, 80, 20, 30),
	}, StrictThresholds())

	assert.Equal(t, types.VerdictUnknown, j.Verdict)
	assert.Zero(t, j.Confidence)
	assert.NotEmpty(t, j.Reasons)
}

func TestAllConditionsRequired(t *testing.T) {
	th := StrictThresholds()
	// tiny saturated region: 100 % but under the pixel minimum
	j := Judge([2]RegionSample{sample(types.Orange, 5, 0, 200), sample(types.Green, 0, 0, 0)}, th)
	assert.Equal(t, types.VerdictUnknown, j.Verdict)

	// bright enough and large, but too dark
	j = Judge([2]RegionSample{sample(types.Orange, 500, 0, 99.9), sample(types.Green, 0, 0, 0)}, th)
	assert.Equal(t, types.VerdictUnknown, j.Verdict)

	// exactly on every threshold
	j = Judge([2]RegionSample{sample(types.Orange, 0, 0, 0), sample(types.Green, 100, 100, 100)}, th)
	assert.Equal(t, types.VerdictGreen, j.Verdict)
	assert.InDelta(t, 75.0, j.Confidence, 1e-9)
}

func TestConfidenceUncappedBelowMax(t *testing.T) {
	th := Thresholds{Percentage: 30, Brightness: 200, MinPixels: 10}
	j := Judge([2]RegionSample{sample(types.Orange, 0, 0, 0), sample(types.Green, 60, 40, 100)}, Thresholds{Percentage: 30, Brightness: 80, MinPixels: 10})
	assert.Equal(t, types.VerdictGreen, j.Verdict)
	assert.InDelta(t, 40+BrightnessBonus+PixelBonus, j.Confidence, 1e-9)

	// brightness fails -> not accepted at all
	j = Judge([2]RegionSample{sample(types.Orange, 0, 0, 0), sample(types.Green, 60, 40, 100)}, th)
	assert.Equal(t, types.VerdictUnknown, j.Verdict)
}

func TestTieBreak(t *testing.T) {
	th := Thresholds{Percentage: 30, Brightness: 80}
	// both pass; green has higher composite
	j := Judge([2]RegionSample{sample(types.Orange, 40, 60, 120), sample(types.Green, 20, 80, 120)}, th)
	assert.Equal(t, types.VerdictGreen, j.Verdict)

	// equal composites -> orange
	j = Judge([2]RegionSample{sample(types.Orange, 70, 30, 120), sample(types.Green, 30, 70, 120)}, th)
	assert.Equal(t, types.VerdictOrange, j.Verdict)
	j = Judge([2]RegionSample{sample(types.Green, 30, 70, 120), sample(types.Orange, 70, 30, 120)}, th)
	assert.Equal(t, types.VerdictOrange, j.Verdict)
}

func TestDeterministic(t *testing.T) {
	in := [2]RegionSample{sample(types.Orange, 300, 120, 130), sample(types.Green, 40, 60, 70)}
	first := Judge(in, StrictThresholds())
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, Judge(in, StrictThresholds()))
	}
}
