// Package analytics summarizes alert episode durations from the episode log.
package analytics

import (
	"fmt"
	"math"
	"time"

	"github.com/samber/lo"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/dj-oyu/lamp-monitor/internal/detection"
	"github.com/dj-oyu/lamp-monitor/internal/episodelog"
)

// RecentWindow is how many of the latest episodes feed the trend.
const RecentWindow = 5

// Sample is one finished episode.
type Sample struct {
	Timestamp time.Time `json:"timestamp"`
	Duration  float64   `json:"duration_seconds"`
	Mode      string    `json:"mode"`
}

// Summary holds episode duration statistics in seconds.
type Summary struct {
	Mode   string   `json:"mode,omitempty"`
	Count  int      `json:"count"`
	Mean   float64  `json:"mean"`
	Min    float64  `json:"min"`
	Max    float64  `json:"max"`
	StdDev float64  `json:"stddev"`
	Recent []Sample `json:"recent"`
	// Trend is the first recent duration minus the last; positive means episodes are getting shorter.
	Trend    float64 `json:"trend"`
	HasTrend bool    `json:"has_trend"`
}

// Episodes extracts finished episodes (alert_end with positive duration), optionally for one mode.
func Episodes(recs []episodelog.Record, mode string) []Sample {
	f := episodelog.Filter{Events: []detection.Event{detection.EventAlertEnd}}
	if mode != "" {
		f.Modes = []string{mode}
	}
	ended := lo.Filter(f.Apply(recs), func(r episodelog.Record, _ int) bool { return r.Duration > 0 })
	return lo.Map(ended, func(r episodelog.Record, _ int) Sample {
		return Sample{Timestamp: r.Timestamp, Duration: r.Duration, Mode: r.Mode}
	})
}

// Durations summarizes finished episodes. An empty mode includes every mode.
func Durations(recs []episodelog.Record, mode string) Summary {
	samples := Episodes(recs, mode)
	s := Summary{Mode: mode, Count: len(samples)}
	if len(samples) == 0 {
		return s
	}

	values := lo.Map(samples, func(x Sample, _ int) float64 { return x.Duration })
	s.Mean = stat.Mean(values, nil)
	s.Min = floats.Min(values)
	s.Max = floats.Max(values)
	if len(values) > 1 {
		s.StdDev = stat.StdDev(values, nil)
	}

	s.Recent = samples[max(0, len(samples)-RecentWindow):]
	if len(s.Recent) >= 2 {
		s.Trend = s.Recent[0].Duration - s.Recent[len(s.Recent)-1].Duration
		s.HasTrend = true
	}
	return s
}

// TrendLabel describes the trend in words.
func (s Summary) TrendLabel() string {
	switch {
	case !s.HasTrend:
		return "not enough data"
	case s.Trend > 0:
		return fmt.Sprintf("improving: %.1fs shorter", s.Trend)
	case s.Trend < 0:
		return fmt.Sprintf("worsening: %.1fs longer", math.Abs(s.Trend))
	default:
		return "flat"
	}
}

// FormatDuration renders seconds as "12.0s" or "3.5m (210.0s)" once past a minute.
func FormatDuration(seconds float64, debug bool) string {
	if debug || seconds < 60 {
		return fmt.Sprintf("%.1fs", seconds)
	}
	return fmt.Sprintf("%.1fm (%.1fs)", seconds/60, seconds)
}
