package detection

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/lamp-monitor/pkg/types"
)

var t0 = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		name    string
		prepare func(m *Machine)
		verdict types.Verdict
		at      time.Duration
		want    Event
		active  bool
	}{
		{"idle+orange", func(*Machine) {}, types.VerdictOrange, 0, EventAlertStart, true},
		{"idle+green", func(*Machine) {}, types.VerdictGreen, 0, EventNormalDetection, false},
		{"idle+unknown", func(*Machine) {}, types.VerdictUnknown, 0, EventUnknownDetection, false},
		{"active+orange early", startAt(t0), types.VerdictOrange, 5 * time.Minute, EventAlertContinue, true},
		{"active+orange late", startAt(t0), types.VerdictOrange, 10 * time.Minute, EventNotification, true},
		{"active+green", startAt(t0), types.VerdictGreen, 3 * time.Minute, EventAlertEnd, false},
		{"active+unknown", startAt(t0), types.VerdictUnknown, 3 * time.Minute, EventAlertInterrupted, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := New(10, TimeScale{})
			tc.prepare(m)
			tr := m.Observe(t0.Add(tc.at), tc.verdict)
			assert.Equal(t, tc.want, tr.Event)
			assert.Equal(t, tc.active, tr.After.Active)
			require.NoError(t, tr.After.Check())
		})
	}
}

func startAt(at time.Time) func(*Machine) {
	return func(m *Machine) { m.Observe(at, types.VerdictOrange) }
}

// One sample per minute for 11 minutes, then green.
func TestEpisodeNotifiesOnceThenEnds(t *testing.T) {
	m := New(10, TimeScale{})
	var notifications []time.Duration
	for i := 0; i <= 11; i++ {
		tr := m.Observe(t0.Add(time.Duration(i)*time.Minute), types.VerdictOrange)
		if tr.Event == EventNotification {
			assert.True(t, tr.Notify)
			notifications = append(notifications, tr.Elapsed)
		}
		if i == 11 {
			assert.Equal(t, EventAlreadyNotified, tr.Event)
			assert.False(t, tr.Event.Logged())
		}
	}
	require.Len(t, notifications, 1)
	assert.GreaterOrEqual(t, notifications[0], 10*time.Minute)
	assert.True(t, m.State().Notified)

	tr := m.Observe(t0.Add(11*time.Minute+30*time.Second), types.VerdictGreen)
	assert.Equal(t, EventAlertEnd, tr.Event)
	assert.InDelta(t, (11*time.Minute + 30*time.Second).Seconds(), tr.Elapsed.Seconds(), 60)
	assert.Equal(t, State{}, m.State())
}

func TestDebugScaleIsPureMultiplier(t *testing.T) {
	run := func(scale TimeScale) []Event {
		m := New(10, scale)
		var events []Event
		for i := 0; i <= 12; i++ {
			events = append(events, m.Observe(t0.Add(time.Duration(i)*scale.Unit()), types.VerdictOrange).Event)
		}
		events = append(events, m.Observe(t0.Add(13*scale.Unit()), types.VerdictGreen).Event)
		return events
	}
	assert.Equal(t, run(TimeScale{}), run(TimeScale{Debug: true}))
	assert.Equal(t, 10*time.Second, New(10, TimeScale{Debug: true}).Threshold())
	assert.Equal(t, 10*time.Minute, New(10, TimeScale{}).Threshold())
}

func TestMissedCycleDoesNotBiasElapsed(t *testing.T) {
	m := New(10, TimeScale{})
	m.Observe(t0, types.VerdictOrange)
	m.Observe(t0.Add(time.Minute), types.VerdictOrange)
	// cycles at 2..6 minutes were lost
	tr := m.Observe(t0.Add(7*time.Minute), types.VerdictOrange)
	assert.Equal(t, 7*time.Minute, tr.Elapsed)
}

func TestRandomSequencesKeepInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	verdicts := []types.Verdict{types.VerdictOrange, types.VerdictGreen, types.VerdictUnknown}
	for run := 0; run < 50; run++ {
		m := New(1+rng.Intn(5), TimeScale{Debug: rng.Intn(2) == 0})
		now := t0
		notifiedInEpisode := 0
		for step := 0; step < 200; step++ {
			now = now.Add(time.Duration(rng.Intn(90)) * time.Second)
			tr := m.Observe(now, verdicts[rng.Intn(len(verdicts))])
			require.NoError(t, tr.After.Check(), "run %d step %d", run, step)
			if tr.Event == EventAlertStart {
				notifiedInEpisode = 0
			}
			if tr.Notify {
				notifiedInEpisode++
			}
			require.LessOrEqual(t, notifiedInEpisode, 1)
			if !tr.After.Active {
				require.False(t, tr.After.Notified)
			}
		}
	}
}

func TestResetAndSnapshot(t *testing.T) {
	m := New(10, TimeScale{Debug: true})
	m.Observe(t0, types.VerdictOrange)

	s := m.Snapshot(t0.Add(4 * time.Second))
	assert.True(t, s.Active)
	assert.Equal(t, 4*time.Second, s.Elapsed)
	assert.Equal(t, 6*time.Second, s.Remaining)
	assert.False(t, s.Ready)
	assert.Equal(t, "debug", s.Mode)

	s = m.Snapshot(t0.Add(12 * time.Second))
	assert.True(t, s.Ready)
	assert.Zero(t, s.Remaining)

	tr := m.Reset(t0.Add(15 * time.Second))
	assert.Equal(t, EventManualReset, tr.Event)
	assert.True(t, tr.Event.Logged())
	assert.Equal(t, 15*time.Second, tr.Elapsed)
	assert.True(t, tr.Before.Active)
	assert.Equal(t, State{}, tr.After)
	assert.Equal(t, State{}, m.State())
	assert.False(t, m.Snapshot(t0).Active)

	tr = m.Reset(t0.Add(20 * time.Second))
	assert.Zero(t, tr.Elapsed)
	assert.False(t, tr.Before.Active)
}

func TestStateCopyIsIndependent(t *testing.T) {
	m := New(10, TimeScale{})
	m.Observe(t0, types.VerdictOrange)
	st := m.State()
	*st.EpisodeStart = t0.Add(time.Hour)
	assert.Equal(t, t0, *m.State().EpisodeStart)
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "05:07", TimeScale{}.Format(5*time.Minute+7*time.Second))
	assert.Equal(t, "42s", TimeScale{Debug: true}.Format(42*time.Second))
	assert.Equal(t, "00:00", TimeScale{}.Format(-time.Second))
}
