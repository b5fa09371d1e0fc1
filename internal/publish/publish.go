// Package publish fans detection events out to external systems.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event is one episode log record enriched with the detection state.
type Event struct {
	RunID          string    `json:"run_id"`
	Time           time.Time `json:"time"`
	Event          string    `json:"event"`
	Verdict        string    `json:"verdict"`
	Confidence     float64   `json:"confidence"`
	OrangePct      float64   `json:"orange_percentage"`
	GreenPct       float64   `json:"green_percentage"`
	ElapsedSeconds float64   `json:"elapsed_seconds"`
	Active         bool      `json:"active"`
	Notified       bool      `json:"notified"`
	Mode           string    `json:"mode"`
	SourceImage    string    `json:"source_image,omitempty"`
}

// JSON encodes the event.
func (e Event) JSON() ([]byte, error) {
	return json.Marshal(e)
}

// Publisher sends events somewhere.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
	Name() string
}

// Multi publishes to every target and joins the errors.
type Multi []Publisher

func (m Multi) Name() string { return "multi" }

func (m Multi) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		errs = append(errs, p.Close())
	}
	return errors.Join(errs...)
}

// Async publishes from a background goroutine. Publish never blocks; a full
// queue drops the event.
type Async struct {
	target  Publisher
	timeout time.Duration
	log     *zap.Logger
	onError func(error)

	queue chan Event
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewAsync starts the worker immediately.
func NewAsync(target Publisher, queueSize int, timeout time.Duration, log *zap.Logger, onError func(error)) *Async {
	if queueSize < 1 {
		queueSize = 1
	}
	a := &Async{
		target:  target,
		timeout: timeout,
		log:     log,
		onError: onError,
		queue:   make(chan Event, queueSize),
	}
	a.wg.Add(1)
	go a.run()
	return a
}

func (a *Async) Name() string { return "async(" + a.target.Name() + ")" }

// Publish enqueues ev. The returned error is non-nil only when the event was dropped.
func (a *Async) Publish(_ context.Context, ev Event) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return errors.New("publisher closed")
	}
	select {
	case a.queue <- ev:
		return nil
	default:
		a.log.Warn("publish queue full, event dropped", zap.String("event", ev.Event))
		return errors.New("publish queue full")
	}
}

// Close drains pending events and closes the target.
func (a *Async) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	a.wg.Wait()
	return a.target.Close()
}

func (a *Async) run() {
	defer a.wg.Done()
	for ev := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		err := a.target.Publish(ctx, ev)
		cancel()
		if err != nil {
			a.log.Warn("publish failed", zap.String("target", a.target.Name()), zap.String("event", ev.Event), zap.Error(err))
			if a.onError != nil {
				a.onError(err)
			}
		}
	}
}
