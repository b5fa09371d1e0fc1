// Package notify delivers alert notifications to chat transports.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ErrNotificationFailure wraps every delivery error.
var ErrNotificationFailure = errors.New("notification failed")

// Message is one human-readable notification.
type Message struct {
	Title      string
	Text       string
	Recipients []string // transport-specific ids; empty uses the transport defaults
	Time       time.Time
}

// Notifier delivers a message. Implementations must honor ctx cancellation.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
	Name() string
}

func failure(transport string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrNotificationFailure, transport, err)
}

// LogNotifier writes notifications to the application log.
type LogNotifier struct {
	log *zap.Logger
}

// NewLogNotifier returns a notifier backed by log.
func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Name() string { return "log" }

func (n *LogNotifier) Notify(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return failure(n.Name(), err)
	}
	n.log.Warn("!!! "+msg.Title+" !!!",
		zap.String("text", msg.Text),
		zap.Strings("recipients", msg.Recipients),
		zap.Time("at", msg.Time),
	)
	return nil
}

// Multi fans a message out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Name() string { return "multi" }

func (m Multi) Notify(ctx context.Context, msg Message) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
