// Package sampler runs the detection cycle at a fixed interval and keeps the
// dashboard preview fresh in between.
//
// One goroutine owns the detection state. Notification, publishing and archiving
// are handed off to their own workers, so a slow transport never shifts the
// timing of a state transition.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dj-oyu/lamp-monitor/internal/analytics"
	"github.com/dj-oyu/lamp-monitor/internal/archive"
	"github.com/dj-oyu/lamp-monitor/internal/capture"
	"github.com/dj-oyu/lamp-monitor/internal/classify"
	"github.com/dj-oyu/lamp-monitor/internal/detection"
	"github.com/dj-oyu/lamp-monitor/internal/episodelog"
	"github.com/dj-oyu/lamp-monitor/internal/judge"
	"github.com/dj-oyu/lamp-monitor/internal/metrics"
	"github.com/dj-oyu/lamp-monitor/internal/notify"
	"github.com/dj-oyu/lamp-monitor/internal/overlay"
	"github.com/dj-oyu/lamp-monitor/internal/publish"
	"github.com/dj-oyu/lamp-monitor/internal/region"
	"github.com/dj-oyu/lamp-monitor/internal/status"
	"github.com/dj-oyu/lamp-monitor/pkg/types"
)

// Config holds the per-cycle parameters.
type Config struct {
	Orange          types.Rect
	Green           types.Rect
	Thresholds      judge.Thresholds
	Interval        time.Duration
	PreviewInterval time.Duration // 0 disables the preview refresh
	RecentLines     int
	NotifyTitle     string
}

// Deps are the collaborators. Source, Classifier, Machine and Log are required.
type Deps struct {
	Source     capture.Source
	Classifier *classify.Classifier
	Machine    *detection.Machine
	Log        *episodelog.Log

	Board      *status.Board
	Metrics    *metrics.Metrics
	Dispatcher *notify.Dispatcher
	Publisher  publish.Publisher
	Archiver   *archive.Archiver
	Logger     *zap.Logger
	RunID      string
	Now        func() time.Time
}

// Outcome describes one finished cycle.
type Outcome struct {
	Event       detection.Event
	Transition  detection.Transition // zero for failed cycles
	Judgment    judge.Judgment
	Record      *episodelog.Record // nil when nothing was logged
	SourceImage string
	Err         error
}

// Sampler drives the detection cycle.
type Sampler struct {
	cfg  Config
	deps Deps

	seq    uint64
	resetC chan struct{}
}

// New returns a sampler. A missing run id is generated.
func New(cfg Config, deps Deps) *Sampler {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.RunID == "" {
		deps.RunID = uuid.NewString()
	}
	if cfg.RecentLines < 1 {
		cfg.RecentLines = 10
	}
	if cfg.NotifyTitle == "" {
		cfg.NotifyTitle = "Lamp monitor"
	}
	return &Sampler{cfg: cfg, deps: deps, resetC: make(chan struct{}, 1)}
}

// RunID identifies this process in logs and published events.
func (s *Sampler) RunID() string { return s.deps.RunID }

// Run executes the first cycle immediately, then one cycle per interval, refreshing
// the preview between cycles. On cancel it closes the source and the log.
func (s *Sampler) Run(ctx context.Context) error {
	defer s.shutdown()

	s.deps.Logger.Info("sampler started",
		zap.String("run_id", s.deps.RunID),
		zap.String("source", s.deps.Source.Name()),
		zap.Duration("interval", s.cfg.Interval),
		zap.Duration("threshold", s.deps.Machine.Threshold()),
		zap.String("mode", s.deps.Machine.Scale().Mode()),
	)

	s.Cycle(ctx, s.deps.Now())

	detect := time.NewTicker(s.cfg.Interval)
	defer detect.Stop()

	var previewC <-chan time.Time
	if s.cfg.PreviewInterval > 0 && s.deps.Board != nil {
		preview := time.NewTicker(s.cfg.PreviewInterval)
		defer preview.Stop()
		previewC = preview.C
	}

	for {
		select {
		case <-ctx.Done():
			s.deps.Logger.Info("sampler stopping", zap.Error(ctx.Err()))
			return nil
		case <-detect.C:
			s.Cycle(ctx, s.deps.Now())
		case <-previewC:
			s.Preview(ctx)
		case <-s.resetC:
			s.Reset(ctx, s.deps.Now())
		}
	}
}

// RequestReset asks Run to return the detection state to idle. It never blocks;
// requests made while one is pending are merged.
func (s *Sampler) RequestReset() {
	select {
	case s.resetC <- struct{}{}:
	default:
	}
}

// Reset abandons any open episode at now and logs a manual_reset row.
// It must be called from the goroutine that runs cycles.
func (s *Sampler) Reset(ctx context.Context, now time.Time) Outcome {
	tr := s.deps.Machine.Reset(now)
	j := judge.Judgment{Verdict: types.VerdictUnknown}
	rec := s.append(episodelog.Record{
		Timestamp: now,
		Event:     tr.Event,
		Result:    "reset",
		Duration:  durationColumn(tr),
		Mode:      s.deps.Machine.Scale().Mode(),
	})
	s.deps.Logger.Info("detection reset",
		zap.Bool("episode_open", tr.Before.Active),
		zap.Bool("notified", tr.Before.Notified),
		zap.String("elapsed", s.deps.Machine.Scale().Format(tr.Elapsed)),
	)
	s.publish(ctx, now, tr.Event, j, "")

	st := s.deps.Machine.Snapshot(now)
	if s.deps.Metrics != nil {
		s.deps.Metrics.UpdateAlert(st.Active, st.Elapsed)
	}
	if s.deps.Board != nil {
		s.deps.Board.PublishCycle(status.Cycle{
			Time:    now,
			Event:   tr.Event,
			Verdict: j.Verdict,
		}, st, s.recentLines())
		s.deps.Board.PublishState(st, s.nextDetection())
	}
	return Outcome{Event: tr.Event, Transition: tr, Judgment: j, Record: &rec}
}

func (s *Sampler) shutdown() {
	if err := s.deps.Source.Close(); err != nil {
		s.deps.Logger.Warn("close source", zap.Error(err))
	}
	if err := s.deps.Log.Close(); err != nil {
		s.deps.Logger.Warn("close episode log", zap.Error(err))
	}
}

// Preview reads a frame and publishes it annotated with the current state.
func (s *Sampler) Preview(ctx context.Context) {
	frame, err := s.deps.Source.Read(ctx)
	if err != nil {
		s.deps.Logger.Debug("preview frame unavailable", zap.Error(err))
		return
	}
	now := s.deps.Now()
	s.publishFrame(frame, now, s.nextDetection())
}

// Cycle runs one detection cycle observed at now.
func (s *Sampler) Cycle(ctx context.Context, now time.Time) Outcome {
	started := s.deps.Now()
	if s.deps.Metrics != nil {
		s.deps.Metrics.Cycles.Add(1)
		defer func() { s.deps.Metrics.UpdateCycleLatency(s.deps.Now().Sub(started)) }()
	}

	frame, err := s.deps.Source.Read(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return Outcome{Err: ctx.Err()}
		}
		if s.deps.Metrics != nil {
			s.deps.Metrics.FrameErrors.Add(1)
		}
		return s.fail(now, "", err)
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.FramesCaptured.Add(1)
		s.deps.Metrics.UpdateFrameAge(frame.Captured, now)
	}

	s.seq++
	name := SourceImageName(now, s.seq)

	orangeImg, greenImg, err := region.ExtractPair(frame, s.cfg.Orange, s.cfg.Green)
	if err != nil {
		if s.deps.Metrics != nil {
			s.deps.Metrics.RegionErrors.Add(1)
		}
		return s.fail(now, name, err)
	}

	orange := s.analyze(types.Orange, orangeImg)
	green := s.analyze(types.Green, greenImg)
	j := judge.Judge([2]judge.RegionSample{orange, green}, s.cfg.Thresholds)
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordVerdict(j.Verdict)
	}
	s.deps.Logger.Debug("judgment",
		zap.String("verdict", string(j.Verdict)),
		zap.Float64("confidence", j.Confidence),
		zap.Strings("reasons", j.Reasons),
	)

	tr := s.deps.Machine.Observe(now, j.Verdict)
	if err := tr.After.Check(); err != nil {
		s.deps.Logger.Error("detection state inconsistent", zap.Error(err))
	}
	out := Outcome{Event: tr.Event, Transition: tr, Judgment: j, SourceImage: name}

	if tr.Event.Logged() {
		rec := episodelog.Record{
			Timestamp:   now,
			Event:       tr.Event,
			Result:      string(j.Verdict),
			OrangePct:   j.OrangePercentage(),
			GreenPct:    j.GreenPercentage(),
			Duration:    durationColumn(tr),
			Mode:        s.deps.Machine.Scale().Mode(),
			SourceImage: name,
		}
		rec = s.append(rec)
		out.Record = &rec
	}
	if tr.Event != detection.EventAlertContinue && tr.Event != detection.EventAlreadyNotified {
		s.deps.Logger.Info("detection event",
			zap.String("event", string(tr.Event)),
			zap.String("verdict", string(j.Verdict)),
			zap.Float64("confidence", j.Confidence),
			zap.String("elapsed", s.deps.Machine.Scale().Format(tr.Elapsed)),
		)
	}

	if tr.Notify {
		s.notify(now, tr)
	}
	s.publish(ctx, now, tr.Event, j, name)

	switch tr.Event {
	case detection.EventAlertStart, detection.EventNotification, detection.EventAlertEnd:
		s.archive(frame, name)
	}
	if tr.Event == detection.EventAlertEnd {
		if s.deps.Metrics != nil {
			s.deps.Metrics.Episodes.Add(1)
		}
		s.recomputeDurations()
	}

	st := s.deps.Machine.Snapshot(now)
	if s.deps.Metrics != nil {
		s.deps.Metrics.UpdateAlert(st.Active, st.Elapsed)
	}
	if s.deps.Board != nil {
		s.deps.Board.PublishCycle(status.Cycle{
			Time:        now,
			Event:       tr.Event,
			Verdict:     j.Verdict,
			Confidence:  j.Confidence,
			OrangePct:   j.OrangePercentage(),
			GreenPct:    j.GreenPercentage(),
			Reasons:     j.Reasons,
			SourceImage: name,
		}, st, s.recentLines())
		s.publishFrame(frame, now, now.Add(s.cfg.Interval))
	}
	return out
}

func (s *Sampler) analyze(class types.ColorClass, img *image.RGBA) judge.RegionSample {
	sample, err := s.deps.Classifier.Analyze(img)
	if errors.Is(err, classify.ErrClassificationEmpty) {
		if s.deps.Metrics != nil {
			s.deps.Metrics.EmptyRegions.Add(1)
		}
		s.deps.Logger.Warn("empty region, counted as zero", zap.String("region", string(class)))
	} else if err != nil {
		s.deps.Logger.Warn("classification failed, counted as zero", zap.String("region", string(class)), zap.Error(err))
	}
	if red, ok := sample.Counts[types.Red]; ok {
		s.deps.Logger.Debug("red pixels", zap.String("region", string(class)), zap.Int("count", red))
	}
	return judge.RegionSample{Expected: class, Counts: sample.Counts, Brightness: sample.Brightness}
}

// fail records a skipped cycle. The detection state is left untouched.
func (s *Sampler) fail(now time.Time, name string, err error) Outcome {
	s.deps.Logger.Warn("cycle failed", zap.Error(err))

	rec := episodelog.Record{
		Timestamp:   now,
		Event:       detection.EventCycleError,
		Result:      "error",
		Mode:        s.deps.Machine.Scale().Mode(),
		SourceImage: name,
	}
	rec = s.append(rec)
	s.publish(context.Background(), now, detection.EventCycleError, judge.Judgment{Verdict: types.VerdictUnknown}, name)

	if s.deps.Board != nil {
		s.deps.Board.PublishCycle(status.Cycle{
			Time:        now,
			Event:       detection.EventCycleError,
			Verdict:     types.VerdictUnknown,
			SourceImage: name,
			Error:       err.Error(),
		}, s.deps.Machine.Snapshot(now), s.recentLines())
		s.deps.Board.PublishState(s.deps.Machine.Snapshot(now), now.Add(s.cfg.Interval))
	}
	return Outcome{Event: detection.EventCycleError, Record: &rec, SourceImage: name, Err: err}
}

// append writes rec and returns it in the form the log reads it back.
func (s *Sampler) append(rec episodelog.Record) episodelog.Record {
	rec = rec.Canonical()
	if err := s.deps.Log.Append(rec); err != nil {
		if s.deps.Metrics != nil {
			s.deps.Metrics.LogErrors.Add(1)
		}
		s.deps.Logger.Error("episode log append failed", zap.String("event", string(rec.Event)), zap.Error(err))
	}
	return rec
}

func (s *Sampler) notify(now time.Time, tr detection.Transition) {
	if s.deps.Dispatcher == nil {
		return
	}
	msg := notify.Message{
		Title: s.cfg.NotifyTitle,
		Text:  AlertText(s.deps.Machine.ThresholdUnits(), s.deps.Machine.Scale()),
		Time:  now,
	}
	if !s.deps.Dispatcher.Submit(msg) && s.deps.Metrics != nil {
		s.deps.Metrics.NotificationsDropped.Add(1)
	}
}

// AlertText is the notification body.
func AlertText(units int, scale detection.TimeScale) string {
	return fmt.Sprintf("Orange lamp has been lit continuously for %d %s", units, scale.UnitName())
}

func (s *Sampler) publish(ctx context.Context, now time.Time, ev detection.Event, j judge.Judgment, name string) {
	if s.deps.Publisher == nil {
		return
	}
	st := s.deps.Machine.Snapshot(now)
	err := s.deps.Publisher.Publish(ctx, publish.Event{
		RunID:          s.deps.RunID,
		Time:           now,
		Event:          string(ev),
		Verdict:        string(j.Verdict),
		Confidence:     j.Confidence,
		OrangePct:      j.OrangePercentage(),
		GreenPct:       j.GreenPercentage(),
		ElapsedSeconds: st.Elapsed.Seconds(),
		Active:         st.Active,
		Notified:       st.Notified,
		Mode:           st.Mode,
		SourceImage:    name,
	})
	if err != nil {
		if s.deps.Metrics != nil {
			s.deps.Metrics.PublishErrors.Add(1)
		}
		s.deps.Logger.Warn("publish failed", zap.String("event", string(ev)), zap.Error(err))
	}
}

func (s *Sampler) archive(frame types.Frame, name string) {
	if s.deps.Archiver == nil {
		return
	}
	// Frames from the source are never modified, so the archiver may keep the pointer.
	ok := s.deps.Archiver.Submit(frame.Image, strings.TrimSuffix(name, ".png")+".jpg")
	if s.deps.Metrics == nil {
		return
	}
	if ok {
		s.deps.Metrics.ArchivedFrames.Add(1)
	} else {
		s.deps.Metrics.ArchiveDropped.Add(1)
	}
}

// recomputeDurations re-reads the log after an episode ends.
func (s *Sampler) recomputeDurations() {
	recs, err := s.deps.Log.ReadAll()
	if err != nil {
		s.deps.Logger.Warn("duration analysis skipped", zap.Error(err))
		return
	}
	mode := s.deps.Machine.Scale().Mode()
	sum := analytics.Durations(recs, mode)
	s.deps.Logger.Info("episode durations",
		zap.String("mode", mode),
		zap.Int("episodes", sum.Count),
		zap.String("mean", analytics.FormatDuration(sum.Mean, s.deps.Machine.Scale().Debug)),
		zap.String("min", analytics.FormatDuration(sum.Min, s.deps.Machine.Scale().Debug)),
		zap.String("max", analytics.FormatDuration(sum.Max, s.deps.Machine.Scale().Debug)),
		zap.String("trend", sum.TrendLabel()),
	)
	if s.deps.Board != nil {
		s.deps.Board.PublishDurations(sum)
	}
}

func (s *Sampler) recentLines() []string {
	recs, err := s.deps.Log.Recent(s.cfg.RecentLines)
	if err != nil {
		s.deps.Logger.Debug("recent log lines unavailable", zap.Error(err))
		return nil
	}
	lines := make([]string, len(recs))
	for i, r := range recs {
		lines[i] = r.Line()
	}
	return lines
}

func (s *Sampler) nextDetection() time.Time {
	if s.deps.Board == nil {
		return time.Time{}
	}
	return s.deps.Board.Snapshot().NextDetection
}

func (s *Sampler) publishFrame(frame types.Frame, now, next time.Time) {
	if s.deps.Board == nil || frame.Empty() {
		return
	}
	snap := s.deps.Board.Snapshot()
	st := s.deps.Machine.Snapshot(now)
	annotated := overlay.Render(frame.Image, overlay.Info{
		Now:           now,
		Scale:         s.deps.Machine.Scale(),
		Status:        st,
		Recent:        snap.History,
		NextDetection: next,
		Orange:        s.cfg.Orange,
		Green:         s.cfg.Green,
	})
	s.deps.Board.PublishFrame(annotated, frame.Captured)
	s.deps.Board.PublishState(st, next)
}

// SourceImageName names the per-cycle frame, e.g. frame_20250601_080001_0003.png.
func SourceImageName(now time.Time, seq uint64) string {
	return fmt.Sprintf("frame_%s_%04d.png", now.Format("20060102_150405"), seq)
}

// durationColumn is the elapsed episode time for events inside or closing an episode.
func durationColumn(tr detection.Transition) float64 {
	switch tr.Event {
	case detection.EventAlertContinue, detection.EventNotification,
		detection.EventAlertEnd, detection.EventAlertInterrupted, detection.EventManualReset:
		return tr.Elapsed.Seconds()
	default:
		return 0
	}
}
