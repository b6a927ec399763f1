package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/couchcryptid/flow-alert-service/internal/adapter/push"
	"github.com/couchcryptid/flow-alert-service/internal/domain"
	"github.com/couchcryptid/flow-alert-service/internal/observability"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockPusher struct {
	calls int
	err   error
	last  push.Notification
}

func (m *mockPusher) Push(_ context.Context, _ string, n push.Notification, _ domain.NotificationData) error {
	m.calls++
	m.last = n
	return m.err
}

type mockSMS struct {
	calls int
	err   error
	to    string
}

func (m *mockSMS) SendSMS(_ context.Context, to, _ string) error {
	m.calls++
	m.to = to
	return m.err
}

type mockEmail struct {
	calls int
	err   error
}

func (m *mockEmail) SendEmail(_ context.Context, _, _, _ string) error {
	m.calls++
	return m.err
}

type mockEvents struct {
	published []Record
	err       error
}

func (m *mockEvents) Publish(_ context.Context, rec Record) error {
	m.published = append(m.published, rec)
	return m.err
}

func decision(channel domain.Channel) domain.AlertDecision {
	return domain.AlertDecision{
		ShouldSend: true,
		Priority:   domain.PrioritySafety,
		Urgency:    domain.UrgencyCritical,
		Channel:    channel,
		Title:      "Flood safety alert: Clear Creek",
		Body:       "Flow is 700 CFS (very high).",
		Data: domain.NotificationData{
			Type:     "flow_alert",
			ReachID:  "12345",
			Category: "very_high",
		},
	}
}

func recipient() Recipient {
	return Recipient{UserID: "user-1", DeviceToken: "tok", Phone: "+15550199", Email: "u@example.com"}
}

func newDispatcher(p *mockPusher, s *mockSMS, e *mockEmail, log DeliveryLog, ev EventPublisher) *Dispatcher {
	var sms SMSSender
	if s != nil {
		sms = s
	}
	var email EmailSender
	if e != nil {
		email = e
	}
	return New(p, sms, email, log, ev, clockwork.NewFakeClock(), slog.Default(), observability.NewMetricsForTesting())
}

// --- tests ---

func TestSend_PushOnly(t *testing.T) {
	p := &mockPusher{}
	s := &mockSMS{}
	e := &mockEmail{}
	log := NewMemoryLog()
	d := newDispatcher(p, s, e, log, nil)

	res := d.Send(context.Background(), recipient(), decision(domain.ChannelPush))
	assert.True(t, res.Sent)
	assert.Equal(t, 1, p.calls)
	assert.Equal(t, 0, s.calls)
	assert.Equal(t, 0, e.calls)

	recs := log.Records()
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Sent)
	assert.Equal(t, "12345", recs[0].ReachID)
}

func TestSend_AllChannels(t *testing.T) {
	p := &mockPusher{}
	s := &mockSMS{}
	e := &mockEmail{}
	d := newDispatcher(p, s, e, NewMemoryLog(), nil)

	res := d.Send(context.Background(), recipient(), decision(domain.ChannelAll))
	assert.True(t, res.Sent)
	assert.Equal(t, 1, p.calls)
	assert.Equal(t, 1, s.calls)
	assert.Equal(t, 1, e.calls)
	assert.Equal(t, "+15550199", s.to)
}

func TestSend_SMSFallsBackToPush(t *testing.T) {
	p := &mockPusher{}
	d := newDispatcher(p, nil, nil, NewMemoryLog(), nil)

	rcpt := recipient()
	rcpt.Phone = ""
	res := d.Send(context.Background(), rcpt, decision(domain.ChannelSMS))
	assert.True(t, res.Sent)
	assert.Equal(t, 1, p.calls, "sms routing without an sms endpoint must fall back to push")
}

func TestSend_DeliveryFailureIsNotAnError(t *testing.T) {
	p := &mockPusher{err: errors.New("gateway down")}
	log := NewMemoryLog()
	d := newDispatcher(p, nil, nil, log, nil)

	res := d.Send(context.Background(), recipient(), decision(domain.ChannelPush))
	assert.False(t, res.Sent)
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "gateway down")

	// The failure is still logged.
	recs := log.Records()
	require.Len(t, recs, 1)
	assert.False(t, recs[0].Sent)
	assert.Contains(t, recs[0].Error, "gateway down")
}

func TestSend_PartialSuccessCountsAsSent(t *testing.T) {
	p := &mockPusher{err: errors.New("bad token")}
	s := &mockSMS{}
	e := &mockEmail{err: errors.New("smtp down")}
	log := NewMemoryLog()
	d := newDispatcher(p, s, e, log, nil)

	res := d.Send(context.Background(), recipient(), decision(domain.ChannelAll))
	assert.True(t, res.Sent, "any successful channel counts as delivered")

	recs := log.Records()
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Sent)
	assert.Contains(t, recs[0].Error, "bad token")
	assert.Contains(t, recs[0].Error, "smtp down")
}

func TestSend_MirrorsToEventPublisher(t *testing.T) {
	p := &mockPusher{}
	ev := &mockEvents{}
	d := newDispatcher(p, nil, nil, NewMemoryLog(), ev)

	d.Send(context.Background(), recipient(), decision(domain.ChannelPush))
	require.Len(t, ev.published, 1)
	assert.Equal(t, "user-1", ev.published[0].UserID)

	// Publisher failures never affect the dispatch result.
	ev.err = errors.New("kafka down")
	res := d.Send(context.Background(), recipient(), decision(domain.ChannelPush))
	assert.True(t, res.Sent)
}

func TestMemoryLog_LastSent(t *testing.T) {
	log := NewMemoryLog()
	ctx := context.Background()

	last, err := log.LastSent(ctx, "user-1", "12345")
	require.NoError(t, err)
	assert.Nil(t, last)

	require.NoError(t, log.Append(ctx, Record{UserID: "user-1", ReachID: "12345", Category: "high", Sent: true}))
	require.NoError(t, log.Append(ctx, Record{UserID: "user-1", ReachID: "12345", Category: "very_high", Sent: false}))

	last, err = log.LastSent(ctx, "user-1", "12345")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "high", last.Category, "unsent records are not watermarks")
}
