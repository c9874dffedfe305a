package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// EventType names a notification.
type EventType string

const (
	EventApprovalNeeded   EventType = "approval_needed"
	EventEscalated        EventType = "escalated"
	EventConsensusReached EventType = "consensus_reached"
	EventConflictOpened   EventType = "conflict_opened"
)

// Event is a fire-and-forget notification about a queue item.
type Event struct {
	Type   EventType
	OrgID  string
	ItemID string

	// Recipients are operator ids. Empty means every subscriber in the organization.
	Recipients []string

	Summary   string
	Details   map[string]any
	Timestamp time.Time
}

// Notifier delivers events.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, ev Event) error

func (f NotifierFunc) Notify(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Nop discards every event.
type Nop struct{}

func (Nop) Notify(context.Context, Event) error { return nil }

// LogNotifier writes events to a structured logger.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger.With("component", "notify")}
}

func (n *LogNotifier) Notify(ctx context.Context, ev Event) error {
	n.logger.InfoContext(ctx, "notification",
		"event", ev.Type,
		"org_id", ev.OrgID,
		"item_id", ev.ItemID,
		"recipients", ev.Recipients,
		"summary", ev.Summary,
	)
	return nil
}

// Multi fans an event out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Dispatch sends ev and logs any failure instead of returning it.
// A nil notifier is ignored.
func Dispatch(ctx context.Context, n Notifier, logger *slog.Logger, ev Event) {
	if n == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if err := n.Notify(ctx, ev); err != nil {
		if logger == nil {
			logger = slog.Default()
		}
		logger.WarnContext(ctx, "notification failed",
			"event", ev.Type,
			"org_id", ev.OrgID,
			"item_id", ev.ItemID,
			"error", err,
		)
	}
}
