// Package notify tells users when their generation finished or permanently failed.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/benvon/studygen/internal/logger"
	"github.com/benvon/studygen/internal/models"
	"go.uber.org/zap"
)

// Notification is a user-facing message about a terminal generation outcome
type Notification struct {
	Event   *models.GenerationEvent `json:"event"`
	Subject string                  `json:"subject"`
	Body    string                  `json:"body"`
}

// Notifier delivers notifications. Delivery is best effort; callers log failures.
type Notifier interface {
	Notify(ctx context.Context, n *Notification) error
}

// NewNotification builds the message for an event about a request with the given prompt
func NewNotification(event *models.GenerationEvent, prompt string) *Notification {
	n := &Notification{Event: event}
	switch event.Kind {
	case models.EventKindCompleted:
		n.Subject = fmt.Sprintf("Content ready: %s", event.Type)
		n.Body = fmt.Sprintf("Your content for %q has been generated successfully.", prompt)
	default:
		n.Subject = "Content generation failed"
		n.Body = fmt.Sprintf("Content generation for %q failed after the maximum number of retries. Please contact your administrator.", prompt)
	}
	return n
}

// LogNotifier writes notifications to the log
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a notifier backed by the logger
func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.OrNop(log).Named("notify")}
}

// Notify logs the notification
func (l *LogNotifier) Notify(_ context.Context, n *Notification) error {
	l.logger.Info("user_notified",
		zap.String("user_id", n.Event.UserID.String()),
		zap.String("owner_id", n.Event.OwnerID.String()),
		zap.String("kind", string(n.Event.Kind)),
		zap.String("subject", n.Subject),
	)
	return nil
}

// Multi delivers to every notifier and joins their errors
type Multi []Notifier

// Notify fans the notification out
func (m Multi) Notify(ctx context.Context, n *Notification) error {
	var errs error
	for _, notifier := range m {
		if notifier == nil {
			continue
		}
		if err := notifier.Notify(ctx, n); err != nil {
			errs = errors.Join(errs, err)
		}
	}
	return errs
}

var (
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = Multi(nil)
)
