package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Result is the outcome of one delivery attempt.
type Result struct {
	Message Message
	Err     error
	Sent    time.Time
	Took    time.Duration
}

// Dispatcher delivers messages on its own goroutine so a slow transport never
// delays the detection cycle. Submit never blocks; a full queue drops the message.
type Dispatcher struct {
	notifier Notifier
	timeout  time.Duration
	log      *zap.Logger
	onResult func(Result)

	queue chan Message
	wg    sync.WaitGroup

	mu      sync.RWMutex
	running bool
	last    *Result
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithResultHook registers fn to observe every delivery outcome.
func WithResultHook(fn func(Result)) DispatcherOption {
	return func(d *Dispatcher) { d.onResult = fn }
}

// NewDispatcher returns a stopped dispatcher with a queue of size queueSize.
func NewDispatcher(n Notifier, queueSize int, timeout time.Duration, log *zap.Logger, opts ...DispatcherOption) *Dispatcher {
	if queueSize < 1 {
		queueSize = 1
	}
	d := &Dispatcher{
		notifier: n,
		timeout:  timeout,
		log:      log,
		queue:    make(chan Message, queueSize),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Start launches the delivery goroutine.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}
	d.running = true
	d.wg.Add(1)
	go d.run()
}

// Stop stops accepting messages, drains the queue and waits for the worker.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
}

// Submit enqueues msg without blocking. It reports whether the message was accepted.
func (d *Dispatcher) Submit(msg Message) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.running {
		d.log.Warn("dispatcher stopped, notification dropped", zap.String("title", msg.Title))
		return false
	}
	select {
	case d.queue <- msg:
		return true
	default:
		d.log.Warn("notification queue full, message dropped", zap.String("title", msg.Title))
		return false
	}
}

// LastResult returns the most recent outcome, if any.
func (d *Dispatcher) LastResult() (Result, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.last == nil {
		return Result{}, false
	}
	return *d.last, true
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for msg := range d.queue {
		d.deliver(msg)
	}
}

func (d *Dispatcher) deliver(msg Message) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	start := time.Now()
	err := d.notifier.Notify(ctx, msg)
	res := Result{Message: msg, Err: err, Sent: start, Took: time.Since(start)}

	if err != nil {
		d.log.Error("notification failed",
			zap.String("transport", d.notifier.Name()),
			zap.Duration("took", res.Took),
			zap.Error(err),
		)
	} else {
		d.log.Info("notification sent",
			zap.String("transport", d.notifier.Name()),
			zap.Duration("took", res.Took),
		)
	}

	d.mu.Lock()
	d.last = &res
	d.mu.Unlock()

	if d.onResult != nil {
		d.onResult(res)
	}
}
