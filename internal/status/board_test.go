package status

import (
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/lamp-monitor/internal/analytics"
	"github.com/dj-oyu/lamp-monitor/internal/detection"
	"github.com/dj-oyu/lamp-monitor/pkg/types"
)

var t0 = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

func TestFreshness(t *testing.T) {
	b := NewBoard("run", 10*time.Second, t0)
	img, _, fresh := b.LatestFrame(t0)
	assert.Nil(t, img)
	assert.False(t, fresh)

	b.PublishFrame(image.NewRGBA(image.Rect(0, 0, 4, 4)), t0)
	img, captured, fresh := b.LatestFrame(t0.Add(10 * time.Second))
	require.NotNil(t, img)
	assert.Equal(t, t0, captured)
	assert.True(t, fresh)

	_, _, fresh = b.LatestFrame(t0.Add(11 * time.Second))
	assert.False(t, fresh)
}

func TestHistoryIsCappedNewestFirst(t *testing.T) {
	b := NewBoard("run", time.Second, t0)
	for i := 0; i < HistorySize+3; i++ {
		b.PublishCycle(Cycle{Time: t0.Add(time.Duration(i) * time.Minute), Verdict: types.VerdictGreen}, detection.Status{}, nil)
	}
	s := b.Snapshot()
	require.Len(t, s.History, HistorySize)
	assert.Equal(t, t0.Add(time.Duration(HistorySize+2)*time.Minute), s.History[0].Time)
	assert.Equal(t, HistorySize+3, s.Cycles)
	assert.Equal(t, s.History[0], *s.Latest)
}

func TestSnapshotIsACopy(t *testing.T) {
	b := NewBoard("run", time.Second, t0)
	b.PublishCycle(Cycle{Verdict: types.VerdictOrange, Reasons: []string{"a"}}, detection.Status{Active: true}, []string{"line"})
	b.PublishDurations(analytics.Summary{Count: 2})

	s := b.Snapshot()
	s.History[0].Verdict = types.VerdictUnknown
	s.RecentLines[0] = "changed"
	s.Latest.Verdict = types.VerdictGreen
	s.Durations.Count = 99

	again := b.Snapshot()
	assert.Equal(t, types.VerdictOrange, again.History[0].Verdict)
	assert.Equal(t, "line", again.RecentLines[0])
	assert.Equal(t, types.VerdictOrange, again.Latest.Verdict)
	assert.Equal(t, 2, again.Durations.Count)
	assert.True(t, again.Detection.Active)
}

func TestSnapshotSlicesAreIndependent(t *testing.T) {
	b := NewBoard("run", time.Second, t0)
	start := t0
	reasons := []string{"orange ok", "green low"}
	b.PublishCycle(Cycle{Verdict: types.VerdictOrange, Reasons: reasons}, detection.Status{Active: true, EpisodeStart: &start}, nil)
	b.PublishDurations(analytics.Summary{Count: 1, Recent: []analytics.Sample{{Duration: 60}}})
	reasons[0] = "caller changed"

	s := b.Snapshot()
	s.Latest.Reasons[1] = "changed"
	s.History[0].Reasons[1] = "changed"
	s.Durations.Recent[0].Duration = 1
	*s.Detection.EpisodeStart = t0.Add(time.Hour)

	again := b.Snapshot()
	assert.Equal(t, []string{"orange ok", "green low"}, again.Latest.Reasons)
	assert.Equal(t, []string{"orange ok", "green low"}, again.History[0].Reasons)
	assert.Equal(t, 60.0, again.Durations.Recent[0].Duration)
	assert.Equal(t, t0, *again.Detection.EpisodeStart)
}

func TestVersionAdvances(t *testing.T) {
	b := NewBoard("run", time.Second, t0)
	v0 := b.Snapshot().Version
	b.PublishState(detection.Status{}, t0.Add(time.Minute))
	assert.Greater(t, b.Snapshot().Version, v0)
	assert.Equal(t, t0.Add(time.Minute), b.Snapshot().NextDetection)
}
