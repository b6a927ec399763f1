// Package dispatch routes alert decisions to delivery channels and records
// every outcome in the delivery log.
package dispatch

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/couchcryptid/flow-alert-service/internal/adapter/push"
	"github.com/couchcryptid/flow-alert-service/internal/domain"
	"github.com/couchcryptid/flow-alert-service/internal/observability"
	"github.com/jonboulle/clockwork"
)

// Recipient carries the delivery endpoints for one user. Phone and Email
// are optional; channels without an endpoint are skipped.
type Recipient struct {
	UserID      string
	DeviceToken string
	Phone       string
	Email       string
}

// Record is one delivery-log entry: the only durable trace of an alert.
type Record struct {
	UserID   string               `json:"user_id"`
	ReachID  string               `json:"reach_id"`
	Category string               `json:"category"`
	Priority domain.AlertPriority `json:"priority"`
	Urgency  domain.Urgency       `json:"urgency"`
	Channel  domain.Channel       `json:"channel"`
	Sent     bool                 `json:"sent"`
	Error    string               `json:"error,omitempty"`
	At       time.Time            `json:"at"`
}

// DeliveryLog persists delivery records. LastSent returns the most recent
// record with Sent=true for a (user, reach) pair, or nil when none exists;
// the scheduler uses it as the repeat-alert watermark.
type DeliveryLog interface {
	Append(ctx context.Context, rec Record) error
	LastSent(ctx context.Context, userID, reachID string) (*Record, error)
}

// EventPublisher mirrors delivery records to a downstream stream. Optional.
type EventPublisher interface {
	Publish(ctx context.Context, rec Record) error
}

// Pusher sends one push notification to a device token.
type Pusher interface {
	Push(ctx context.Context, token string, n push.Notification, data domain.NotificationData) error
}

// SMSSender sends one text message.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// EmailSender sends one plain-text email.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// Result reports a dispatch outcome. Delivery failure is data, not an
// error: the batch counters depend on Send never raising.
type Result struct {
	Sent bool
	Err  error
}

// Dispatcher fans a decision out to its channels. sms, email, and events
// may be nil when the corresponding integration is disabled.
type Dispatcher struct {
	push    Pusher
	sms     SMSSender
	email   EmailSender
	log     DeliveryLog
	events  EventPublisher
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics
}

// New creates a Dispatcher.
func New(pusher Pusher, sms SMSSender, email EmailSender, log DeliveryLog, events EventPublisher, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Dispatcher {
	return &Dispatcher{
		push:    pusher,
		sms:     sms,
		email:   email,
		log:     log,
		events:  events,
		clock:   clock,
		logger:  logger,
		metrics: metrics,
	}
}

// Send delivers the decision over its selected channel(s) and appends one
// delivery-log record regardless of outcome. The all channel is
// best-effort across push, sms, and email: the delivery counts as sent if
// any channel succeeded.
func (d *Dispatcher) Send(ctx context.Context, rcpt Recipient, decision domain.AlertDecision) Result {
	var errs []string
	sent := false

	deliver := func(channel string, fn func() error) {
		if err := fn(); err != nil {
			d.metrics.DeliveriesTotal.WithLabelValues(channel, "error").Inc()
			d.logger.Warn("delivery failed",
				"channel", channel,
				"user_id", rcpt.UserID,
				"reach_id", decision.Data.ReachID,
				"error", err,
			)
			errs = append(errs, channel+": "+err.Error())
			return
		}
		d.metrics.DeliveriesTotal.WithLabelValues(channel, "success").Inc()
		sent = true
	}

	smsAvailable := d.sms != nil && rcpt.Phone != ""

	// The sms channel falls back to push when no SMS endpoint exists, so a
	// high-urgency safety alert is never silently dropped.
	if decision.Channel == domain.ChannelPush || decision.Channel == domain.ChannelAll ||
		(decision.Channel == domain.ChannelSMS && !smsAvailable) {
		deliver("push", func() error {
			return d.push.Push(ctx, rcpt.DeviceToken,
				push.Notification{Title: decision.Title, Body: decision.Body}, decision.Data)
		})
	}
	if (decision.Channel == domain.ChannelSMS || decision.Channel == domain.ChannelAll) && smsAvailable {
		deliver("sms", func() error {
			return d.sms.SendSMS(ctx, rcpt.Phone, decision.Title+" "+decision.Body)
		})
	}
	if decision.Channel == domain.ChannelAll && d.email != nil && rcpt.Email != "" {
		deliver("email", func() error {
			return d.email.SendEmail(ctx, rcpt.Email, decision.Title, decision.Body)
		})
	}

	rec := Record{
		UserID:   rcpt.UserID,
		ReachID:  decision.Data.ReachID,
		Category: decision.Data.Category,
		Priority: decision.Priority,
		Urgency:  decision.Urgency,
		Channel:  decision.Channel,
		Sent:     sent,
		Error:    strings.Join(errs, "; "),
		At:       d.clock.Now(),
	}

	if err := d.log.Append(ctx, rec); err != nil {
		d.logger.Error("delivery log append failed",
			"user_id", rec.UserID, "reach_id", rec.ReachID, "error", err)
	}
	if d.events != nil {
		if err := d.events.Publish(ctx, rec); err != nil {
			d.logger.Warn("alert event publish failed",
				"user_id", rec.UserID, "reach_id", rec.ReachID, "error", err)
		}
	}

	if !sent {
		return Result{Sent: false, Err: errorsFrom(errs)}
	}
	return Result{Sent: true}
}

func errorsFrom(errs []string) error {
	if len(errs) == 0 {
		return nil
	}
	return &deliveryError{msg: strings.Join(errs, "; ")}
}

type deliveryError struct{ msg string }

func (e *deliveryError) Error() string { return e.msg }
