// Package detection tracks alert episodes across successive verdicts.
//
// Machine is a plain value owned by the sampling loop. Observe computes the
// transition and updates the state; the caller performs logging and
// notification from the returned Transition.
package detection

import (
	"fmt"
	"time"

	"github.com/dj-oyu/lamp-monitor/pkg/types"
)

// Event names one row kind of the episode log.
type Event string

const (
	EventAlertStart       Event = "alert_start"
	EventAlertContinue    Event = "alert_continue"
	EventNotification     Event = "notification"
	EventAlreadyNotified  Event = "already_notified" // not logged
	EventAlertEnd         Event = "alert_end"
	EventAlertInterrupted Event = "alert_interrupted"
	EventNormalDetection  Event = "normal_detection"
	EventUnknownDetection Event = "unknown_detection"
	EventCycleError       Event = "cycle_error"
	EventManualReset      Event = "manual_reset"
)

// Logged reports whether the event produces an episode log row.
func (e Event) Logged() bool {
	return e != EventAlreadyNotified
}

// TimeScale converts configured "minutes" into wall-clock durations.
// In debug mode one unit is a second instead of a minute; nothing else changes.
type TimeScale struct {
	Debug bool
}

// Unit returns the length of one configured unit.
func (s TimeScale) Unit() time.Duration {
	if s.Debug {
		return time.Second
	}
	return time.Minute
}

// Threshold returns n units.
func (s TimeScale) Threshold(n int) time.Duration {
	return time.Duration(n) * s.Unit()
}

// UnitName is "seconds" or "minutes".
func (s TimeScale) UnitName() string {
	if s.Debug {
		return "seconds"
	}
	return "minutes"
}

// Mode is the log mode column value.
func (s TimeScale) Mode() string {
	if s.Debug {
		return "debug"
	}
	return "normal"
}

// Format renders d in units: plain seconds in debug mode, mm:ss otherwise.
func (s TimeScale) Format(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	if s.Debug {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	total := int(d.Seconds())
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

// State is the mutable detection state.
type State struct {
	Active       bool
	EpisodeStart *time.Time
	Notified     bool
}

// Check verifies the state invariants.
func (s State) Check() error {
	if s.Active != (s.EpisodeStart != nil) {
		return fmt.Errorf("episode start set=%v but active=%v", s.EpisodeStart != nil, s.Active)
	}
	if s.Notified && !s.Active {
		return fmt.Errorf("notified while inactive")
	}
	return nil
}

// Transition is the result of one observation.
type Transition struct {
	Event   Event
	Verdict types.Verdict
	Elapsed time.Duration // since episode start; episode duration for alert_end
	Notify  bool          // caller must dispatch a notification
	Before  State
	After   State
}

// Machine is the detection state machine.
type Machine struct {
	state     State
	threshold time.Duration
	scale     TimeScale
	units     int
}

// New returns an idle machine that notifies after thresholdUnits units of continuous alert.
func New(thresholdUnits int, scale TimeScale) *Machine {
	return &Machine{
		threshold: scale.Threshold(thresholdUnits),
		scale:     scale,
		units:     thresholdUnits,
	}
}

// State returns a copy of the current state.
func (m *Machine) State() State {
	s := m.state
	if s.EpisodeStart != nil {
		t := *s.EpisodeStart
		s.EpisodeStart = &t
	}
	return s
}

// Scale returns the machine's time scale.
func (m *Machine) Scale() TimeScale { return m.scale }

// Threshold returns the notification threshold as a duration.
func (m *Machine) Threshold() time.Duration { return m.threshold }

// ThresholdUnits returns the configured threshold in units.
func (m *Machine) ThresholdUnits() int { return m.units }

// Reset returns the machine to idle at now. An open episode is abandoned and
// its elapsed time reported.
func (m *Machine) Reset(now time.Time) Transition {
	tr := Transition{Event: EventManualReset, Verdict: types.VerdictUnknown, Before: m.State()}
	if m.state.Active {
		tr.Elapsed = m.elapsed(now)
	}
	m.state = State{}
	tr.After = m.State()
	return tr
}

// Observe feeds one verdict observed at now.
func (m *Machine) Observe(now time.Time, v types.Verdict) Transition {
	tr := Transition{Verdict: v, Before: m.State()}

	switch {
	case !m.state.Active && v.IsAlert():
		start := now
		m.state = State{Active: true, EpisodeStart: &start}
		tr.Event = EventAlertStart

	case m.state.Active && v.IsAlert():
		tr.Elapsed = m.elapsed(now)
		switch {
		case m.state.Notified:
			tr.Event = EventAlreadyNotified
		case tr.Elapsed >= m.threshold:
			m.state.Notified = true
			tr.Event = EventNotification
			tr.Notify = true
		default:
			tr.Event = EventAlertContinue
		}

	case m.state.Active && v.IsNormal():
		tr.Elapsed = m.elapsed(now)
		m.state = State{}
		tr.Event = EventAlertEnd

	case m.state.Active:
		tr.Elapsed = m.elapsed(now)
		m.state = State{}
		tr.Event = EventAlertInterrupted

	case v.IsNormal():
		tr.Event = EventNormalDetection

	default:
		tr.Event = EventUnknownDetection
	}

	tr.After = m.State()
	return tr
}

// elapsed is recomputed from the wall clock every cycle.
func (m *Machine) elapsed(now time.Time) time.Duration {
	d := now.Sub(*m.state.EpisodeStart)
	if d < 0 {
		return 0
	}
	return d
}

// Status is a read-only view for overlays and the dashboard.
type Status struct {
	Active       bool          `json:"active"`
	Notified     bool          `json:"notified"`
	EpisodeStart *time.Time    `json:"episode_start,omitempty"`
	Elapsed      time.Duration `json:"-"`
	Remaining    time.Duration `json:"-"`
	Ready        bool          `json:"ready"` // threshold reached but not yet notified
	Threshold    time.Duration `json:"-"`
	Mode         string        `json:"mode"`
}

// Snapshot describes the state as of now.
func (m *Machine) Snapshot(now time.Time) Status {
	st := m.State()
	s := Status{
		Active:       st.Active,
		Notified:     st.Notified,
		EpisodeStart: st.EpisodeStart,
		Threshold:    m.threshold,
		Mode:         m.scale.Mode(),
	}
	if st.Active {
		s.Elapsed = m.elapsed(now)
		if s.Elapsed < m.threshold {
			s.Remaining = m.threshold - s.Elapsed
		}
		s.Ready = !st.Notified && s.Elapsed >= m.threshold
	}
	return s
}
