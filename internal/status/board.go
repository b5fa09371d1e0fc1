// Package status holds the latest frame and detection snapshot for readers.
//
// The sampling loop is the only writer. Dashboard handlers only read, and
// always receive copies.
package status

import (
	"image"
	"slices"
	"sync"
	"time"

	"github.com/dj-oyu/lamp-monitor/internal/analytics"
	"github.com/dj-oyu/lamp-monitor/internal/detection"
	"github.com/dj-oyu/lamp-monitor/pkg/types"
)

// HistorySize caps the judgment history.
const HistorySize = 8

// Cycle is the outcome of one detection cycle.
type Cycle struct {
	Time        time.Time       `json:"time"`
	Event       detection.Event `json:"event"`
	Verdict     types.Verdict   `json:"verdict"`
	Confidence  float64         `json:"confidence"`
	OrangePct   float64         `json:"orange_percentage"`
	GreenPct    float64         `json:"green_percentage"`
	Reasons     []string        `json:"reasons,omitempty"`
	SourceImage string          `json:"source_image,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// Snapshot is a consistent copy of the board.
type Snapshot struct {
	RunID         string
	StartedAt     time.Time
	Detection     detection.Status
	Latest        *Cycle
	History       []Cycle // newest first
	RecentLines   []string
	Durations     *analytics.Summary
	NextDetection time.Time
	Cycles        int
	Version       int
}

// Board is the shared read-only view.
type Board struct {
	freshness time.Duration

	mu       sync.RWMutex
	frame    *image.RGBA
	captured time.Time
	snap     Snapshot
}

// NewBoard returns an empty board. Frames older than freshness count as stale.
func NewBoard(runID string, freshness time.Duration, startedAt time.Time) *Board {
	return &Board{
		freshness: freshness,
		snap:      Snapshot{RunID: runID, StartedAt: startedAt},
	}
}

// Freshness returns the staleness window.
func (b *Board) Freshness() time.Duration { return b.freshness }

// PublishFrame replaces the latest annotated frame. The board keeps img; callers must not modify it afterwards.
func (b *Board) PublishFrame(img *image.RGBA, captured time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frame = img
	b.captured = captured
}

// PublishState updates the detection status and next-cycle time.
func (b *Board) PublishState(st detection.Status, next time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snap.Detection = st
	b.snap.NextDetection = next
	b.snap.Version++
}

// PublishCycle records a finished cycle.
func (b *Board) PublishCycle(c Cycle, st detection.Status, recentLines []string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c.Reasons = slices.Clone(c.Reasons)
	b.snap.Cycles++
	b.snap.Version++
	b.snap.Detection = st
	b.snap.Latest = &c
	b.snap.History = append([]Cycle{c}, b.snap.History...)
	if len(b.snap.History) > HistorySize {
		b.snap.History = b.snap.History[:HistorySize]
	}
	if recentLines != nil {
		b.snap.RecentLines = append([]string(nil), recentLines...)
	}
}

// PublishDurations stores the latest duration summary.
func (b *Board) PublishDurations(s analytics.Summary) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snap.Durations = &s
	b.snap.Version++
}

// Snapshot returns a deep copy of the current state.
func (b *Board) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s := b.snap
	if s.Latest != nil {
		c := cloneCycle(*s.Latest)
		s.Latest = &c
	}
	s.History = slices.Clone(s.History)
	for i := range s.History {
		s.History[i] = cloneCycle(s.History[i])
	}
	s.RecentLines = slices.Clone(s.RecentLines)
	if s.Durations != nil {
		d := *s.Durations
		d.Recent = slices.Clone(d.Recent)
		s.Durations = &d
	}
	if s.Detection.EpisodeStart != nil {
		t := *s.Detection.EpisodeStart
		s.Detection.EpisodeStart = &t
	}
	return s
}

func cloneCycle(c Cycle) Cycle {
	c.Reasons = slices.Clone(c.Reasons)
	return c
}

// LatestFrame returns the latest frame and whether it is still fresh at now.
// A nil image means no frame was ever published.
func (b *Board) LatestFrame(now time.Time) (*image.RGBA, time.Time, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.frame == nil {
		return nil, time.Time{}, false
	}
	fresh := now.Sub(b.captured) <= b.freshness
	return b.frame, b.captured, fresh
}
