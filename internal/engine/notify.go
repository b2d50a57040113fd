package engine

import (
	"context"
	"time"

	"refnet.org/internal/obs"
)

// Event types delivered to the notification collaborator.
const (
	EventCommissionCredited  = "commission.credited"
	EventWindowExtended      = "earning_window.extended"
	EventDailyCredited       = "daily_earning.credited"
	EventMembershipActivated = "membership.activated"
	EventMembershipExpiring  = "membership.expiring"
	EventMembershipExpired   = "membership.expired"
)

// Event is one fire-and-forget notification.
type Event struct {
	Type      string            `json:"type"`
	MemberID  string            `json:"member_id"`
	Amount    int64             `json:"amount,omitempty"`
	Meta      map[string]string `json:"meta,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Notifier delivers events to the notification collaborator. Delivery is
// advisory: a failure must never roll back the financial write that
// produced the event.
type Notifier interface {
	Notify(ctx context.Context, evt Event) error
}

// NopNotifier discards every event.
type NopNotifier struct{}

func (NopNotifier) Notify(ctx context.Context, evt Event) error { return nil }

// notify delivers an event, logging and suppressing any delivery failure.
// The financial effect has already committed and must stand.
func notify(ctx context.Context, n Notifier, evt Event) {
	if n == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	if err := n.Notify(ctx, evt); err != nil {
		obs.LogEvent(map[string]any{
			"level":     "warn",
			"msg":       "notification delivery failed",
			"event":     evt.Type,
			"member_id": evt.MemberID,
			"error":     err.Error(),
		})
	}
}
