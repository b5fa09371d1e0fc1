package webmonitor

import (
	"time"

	"github.com/dj-oyu/lamp-monitor/internal/analytics"
	"github.com/dj-oyu/lamp-monitor/internal/status"
)

// DetectionStatus is the JSON shape of the detection state.
type DetectionStatus struct {
	Active           bool     `json:"active"`
	Notified         bool     `json:"notified"`
	Ready            bool     `json:"ready"`
	Mode             string   `json:"mode"`
	EpisodeStart     *float64 `json:"episode_start"`
	ElapsedSeconds   float64  `json:"elapsed_seconds"`
	RemainingSeconds float64  `json:"remaining_seconds"`
	ThresholdSeconds float64  `json:"threshold_seconds"`
}

// FrameStatus describes the preview frame.
type FrameStatus struct {
	Available  bool    `json:"available"`
	Fresh      bool    `json:"fresh"`
	CapturedAt float64 `json:"captured_at"`
	AgeSeconds float64 `json:"age_seconds"`
}

// StatusPayload is served by /api/status and /api/status/stream.
type StatusPayload struct {
	RunID         string             `json:"run_id"`
	StartedAt     float64            `json:"started_at"`
	Timestamp     float64            `json:"timestamp"`
	Detection     DetectionStatus    `json:"detection"`
	Frame         FrameStatus        `json:"frame"`
	Latest        *status.Cycle      `json:"latest_judgment"`
	History       []status.Cycle     `json:"judgment_history"`
	RecentLines   []string           `json:"recent_lines"`
	Durations     *analytics.Summary `json:"durations"`
	NextDetection *float64           `json:"next_detection"`
	Cycles        int                `json:"cycles"`
	Version       int                `json:"version"`
}

// LogsPayload is served by /api/logs.
type LogsPayload struct {
	Path  string   `json:"path"`
	Count int      `json:"count"`
	Lines []string `json:"lines"`
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func buildStatus(snap status.Snapshot, frameCaptured time.Time, hasFrame, fresh bool, now time.Time) StatusPayload {
	d := snap.Detection
	p := StatusPayload{
		RunID:     snap.RunID,
		StartedAt: unixSeconds(snap.StartedAt),
		Timestamp: unixSeconds(now),
		Detection: DetectionStatus{
			Active:           d.Active,
			Notified:         d.Notified,
			Ready:            d.Ready,
			Mode:             d.Mode,
			ElapsedSeconds:   d.Elapsed.Seconds(),
			RemainingSeconds: d.Remaining.Seconds(),
			ThresholdSeconds: d.Threshold.Seconds(),
		},
		Latest:      snap.Latest,
		History:     snap.History,
		RecentLines: snap.RecentLines,
		Durations:   snap.Durations,
		Cycles:      snap.Cycles,
		Version:     snap.Version,
	}
	if d.EpisodeStart != nil {
		v := unixSeconds(*d.EpisodeStart)
		p.Detection.EpisodeStart = &v
	}
	if !snap.NextDetection.IsZero() {
		v := unixSeconds(snap.NextDetection)
		p.NextDetection = &v
	}
	if p.History == nil {
		p.History = []status.Cycle{}
	}
	if p.RecentLines == nil {
		p.RecentLines = []string{}
	}
	if hasFrame {
		p.Frame = FrameStatus{
			Available:  true,
			Fresh:      fresh,
			CapturedAt: unixSeconds(frameCaptured),
			AgeSeconds: now.Sub(frameCaptured).Seconds(),
		}
	}
	return p
}
