package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/couchcryptid/flow-alert-service/internal/cache"
	"github.com/couchcryptid/flow-alert-service/internal/dispatch"
	"github.com/couchcryptid/flow-alert-service/internal/domain"
	"github.com/couchcryptid/flow-alert-service/internal/observability"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUserStore struct {
	users        []User
	favorites    map[string][]Favorite
	preferences  map[string]domain.NotificationPreference
	thresholds   map[string][]domain.UserThreshold
	usersErr     error
	favoritesErr map[string]error
}

func (f *fakeUserStore) NotificationUsers(context.Context) ([]User, error) {
	return f.users, f.usersErr
}

func (f *fakeUserStore) Favorites(_ context.Context, userID string) ([]Favorite, error) {
	if err := f.favoritesErr[userID]; err != nil {
		return nil, err
	}
	return f.favorites[userID], nil
}

func (f *fakeUserStore) Preferences(_ context.Context, userID string) (domain.NotificationPreference, error) {
	return f.preferences[userID], nil
}

func (f *fakeUserStore) Thresholds(_ context.Context, userID string) ([]domain.UserThreshold, error) {
	return f.thresholds[userID], nil
}

type fakeForecasts struct {
	flows map[string]float64 // reachID -> short-range flow in CFS
	errs  map[string]error
}

func (f *fakeForecasts) Streamflow(_ context.Context, reachID string, _ []domain.ForecastHorizon) ([]domain.FlowObservation, error) {
	if err := f.errs[reachID]; err != nil {
		return nil, err
	}
	flow, ok := f.flows[reachID]
	if !ok {
		return nil, nil
	}
	return []domain.FlowObservation{{
		ReachID: reachID,
		Value:   flow,
		Unit:    domain.UnitCFS,
		Horizon: domain.HorizonShort,
		ValidAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}}, nil
}

type fakeTables struct {
	tables map[string]*domain.ReturnPeriodTable
	errs   map[string]error
}

func (f *fakeTables) Get(_ context.Context, reachID string) (cache.Result, error) {
	if err := f.errs[reachID]; err != nil {
		return cache.Result{}, err
	}
	return cache.Result{Table: f.tables[reachID]}, nil
}

type sentAlert struct {
	rcpt     dispatch.Recipient
	decision domain.AlertDecision
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentAlert
	log  dispatch.DeliveryLog
	now  func() time.Time
}

func (f *fakeSender) Send(ctx context.Context, rcpt dispatch.Recipient, decision domain.AlertDecision) dispatch.Result {
	f.mu.Lock()
	f.sent = append(f.sent, sentAlert{rcpt: rcpt, decision: decision})
	f.mu.Unlock()
	if f.log != nil {
		_ = f.log.Append(ctx, dispatch.Record{
			UserID:   rcpt.UserID,
			ReachID:  decision.Data.ReachID,
			Category: decision.Data.Category,
			Urgency:  decision.Urgency,
			Channel:  decision.Channel,
			Sent:     true,
			At:       f.now(),
		})
	}
	return dispatch.Result{Sent: true}
}

func (f *fakeSender) alerts() []sentAlert {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentAlert(nil), f.sent...)
}

func testTable(reachID string) *domain.ReturnPeriodTable {
	return &domain.ReturnPeriodTable{
		ReachID: reachID,
		Unit:    domain.UnitCFS,
		FlowByYear: map[int]float64{
			2: 150, 5: 250, 10: 350, 25: 500, 50: 650, 100: 800,
		},
		RetrievedAt: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

func allOnPreference(userID, reachID string) domain.NotificationPreference {
	return domain.NotificationPreference{
		UserID:            userID,
		EnabledReachIDs:   map[string]bool{reachID: true},
		EmergencyAlerts:   true,
		ActivityAlerts:    true,
		InformationAlerts: true,
	}
}

func newTestScheduler(t *testing.T, store *fakeUserStore, forecasts *fakeForecasts, tables *fakeTables, cfg Config) (*Scheduler, *fakeSender, *dispatch.MemoryLog, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	log := dispatch.NewMemoryLog()
	sender := &fakeSender{log: log, now: clock.Now}
	sched := New(store, forecasts, tables, sender, log, clock,
		slog.Default(), observability.NewMetricsForTesting(), cfg)
	return sched, sender, log, clock
}

func TestRunSweepCriticalFlowAlertsAllChannels(t *testing.T) {
	store := &fakeUserStore{
		users:       []User{{ID: "u1", DeviceToken: "tok", Phone: "+15550100", Email: "u1@example.com"}},
		favorites:   map[string][]Favorite{"u1": {{ReachID: "r1", Name: "Clear Creek"}}},
		preferences: map[string]domain.NotificationPreference{"u1": allOnPreference("u1", "r1")},
	}
	forecasts := &fakeForecasts{flows: map[string]float64{"r1": 700}}
	tables := &fakeTables{tables: map[string]*domain.ReturnPeriodTable{"r1": testTable("r1")}}

	sched, sender, _, _ := newTestScheduler(t, store, forecasts, tables, Config{Cooldown: 6 * time.Hour})

	require.NoError(t, sched.RunSweep(context.Background()))

	alerts := sender.alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, "u1", alerts[0].rcpt.UserID)
	assert.Equal(t, domain.UrgencyCritical, alerts[0].decision.Urgency)
	assert.Equal(t, domain.ChannelAll, alerts[0].decision.Channel)
	assert.Equal(t, domain.CategoryVeryHigh.String(), alerts[0].decision.Data.Category)
}

func TestRunSweepNormalFlowSendsNothing(t *testing.T) {
	store := &fakeUserStore{
		users:     []User{{ID: "u1", DeviceToken: "tok"}},
		favorites: map[string][]Favorite{"u1": {{ReachID: "r1", Name: "Clear Creek"}}},
		preferences: map[string]domain.NotificationPreference{"u1": {
			UserID:          "u1",
			EnabledReachIDs: map[string]bool{"r1": true},
			EmergencyAlerts: true,
			ActivityAlerts:  true,
		}},
	}
	forecasts := &fakeForecasts{flows: map[string]float64{"r1": 200}}
	tables := &fakeTables{tables: map[string]*domain.ReturnPeriodTable{"r1": testTable("r1")}}

	sched, sender, _, _ := newTestScheduler(t, store, forecasts, tables, Config{})

	require.NoError(t, sched.RunSweep(context.Background()))
	assert.Empty(t, sender.alerts())
}

func TestRunSweepSkipsReachWithoutReturnPeriods(t *testing.T) {
	store := &fakeUserStore{
		users:       []User{{ID: "u1", DeviceToken: "tok"}},
		favorites:   map[string][]Favorite{"u1": {{ReachID: "r1", Name: "Clear Creek"}}},
		preferences: map[string]domain.NotificationPreference{"u1": allOnPreference("u1", "r1")},
	}
	forecasts := &fakeForecasts{flows: map[string]float64{"r1": 10000}}
	tables := &fakeTables{tables: map[string]*domain.ReturnPeriodTable{}}

	sched, sender, _, _ := newTestScheduler(t, store, forecasts, tables, Config{})

	require.NoError(t, sched.RunSweep(context.Background()))
	assert.Empty(t, sender.alerts())
}

func TestRunSweepSkipsUsersWithoutDeviceToken(t *testing.T) {
	// Even an extreme flow must not dispatch to a user with no registered
	// device; there is no channel to deliver on.
	store := &fakeUserStore{
		users: []User{
			{ID: "u1", DeviceToken: "", Phone: "+15550100", Email: "u1@example.com"},
			{ID: "u2", DeviceToken: "tok"},
		},
		favorites: map[string][]Favorite{
			"u1": {{ReachID: "r1", Name: "Clear Creek"}},
			"u2": {{ReachID: "r1", Name: "Clear Creek"}},
		},
		preferences: map[string]domain.NotificationPreference{
			"u1": allOnPreference("u1", "r1"),
			"u2": allOnPreference("u2", "r1"),
		},
	}
	forecasts := &fakeForecasts{flows: map[string]float64{"r1": 900}}
	tables := &fakeTables{tables: map[string]*domain.ReturnPeriodTable{"r1": testTable("r1")}}

	sched, sender, _, _ := newTestScheduler(t, store, forecasts, tables, Config{})

	require.NoError(t, sched.RunSweep(context.Background()))
	alerts := sender.alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, "u2", alerts[0].rcpt.UserID)
	assert.Equal(t, "tok", alerts[0].rcpt.DeviceToken)
}

func TestRunSweepIsolatesPerItemFailures(t *testing.T) {
	store := &fakeUserStore{
		users: []User{{ID: "u1", DeviceToken: "tok"}},
		favorites: map[string][]Favorite{"u1": {
			{ReachID: "broken", Name: "Broken Reach"},
			{ReachID: "r1", Name: "Clear Creek"},
		}},
		preferences: map[string]domain.NotificationPreference{"u1": {
			UserID:          "u1",
			EnabledReachIDs: map[string]bool{"broken": true, "r1": true},
			EmergencyAlerts: true,
		}},
	}
	forecasts := &fakeForecasts{
		flows: map[string]float64{"r1": 700},
		errs:  map[string]error{"broken": errors.New("upstream 502")},
	}
	tables := &fakeTables{tables: map[string]*domain.ReturnPeriodTable{"r1": testTable("r1")}}

	sched, sender, _, _ := newTestScheduler(t, store, forecasts, tables, Config{})

	require.NoError(t, sched.RunSweep(context.Background()))

	alerts := sender.alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, "r1", alerts[0].decision.Data.ReachID)
}

func TestRunSweepIsolatesPerUserLoadFailures(t *testing.T) {
	store := &fakeUserStore{
		users: []User{{ID: "bad"}, {ID: "u1", DeviceToken: "tok"}},
		favorites: map[string][]Favorite{
			"u1": {{ReachID: "r1", Name: "Clear Creek"}},
		},
		preferences:  map[string]domain.NotificationPreference{"u1": allOnPreference("u1", "r1")},
		favoritesErr: map[string]error{"bad": errors.New("connection reset")},
	}
	forecasts := &fakeForecasts{flows: map[string]float64{"r1": 700}}
	tables := &fakeTables{tables: map[string]*domain.ReturnPeriodTable{"r1": testTable("r1")}}

	sched, sender, _, _ := newTestScheduler(t, store, forecasts, tables, Config{})

	require.NoError(t, sched.RunSweep(context.Background()))
	require.Len(t, sender.alerts(), 1)
}

func TestRunSweepUserListFailureAborts(t *testing.T) {
	store := &fakeUserStore{usersErr: errors.New("db down")}
	sched, sender, _, _ := newTestScheduler(t, store, &fakeForecasts{}, &fakeTables{}, Config{})

	err := sched.RunSweep(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list notification users")
	assert.Empty(t, sender.alerts())
}

func TestCooldownSuppressesRepeatCategory(t *testing.T) {
	store := &fakeUserStore{
		users:       []User{{ID: "u1", DeviceToken: "tok"}},
		favorites:   map[string][]Favorite{"u1": {{ReachID: "r1", Name: "Clear Creek"}}},
		preferences: map[string]domain.NotificationPreference{"u1": allOnPreference("u1", "r1")},
	}
	// An activity-threshold breach yields a medium-urgency alert, which is
	// subject to the cool-down (critical alerts are not).
	low := 400.0
	store.thresholds = map[string][]domain.UserThreshold{"u1": {{
		ID: "t1", UserID: "u1", ReachID: "r1", Activity: "kayaking",
		Unit: domain.UnitCFS, MaxFlow: &low, Enabled: true,
	}}}
	forecasts := &fakeForecasts{flows: map[string]float64{"r1": 450}}
	tables := &fakeTables{tables: map[string]*domain.ReturnPeriodTable{"r1": testTable("r1")}}

	sched, sender, _, clock := newTestScheduler(t, store, forecasts, tables, Config{Cooldown: 6 * time.Hour})

	require.NoError(t, sched.RunSweep(context.Background()))
	require.Len(t, sender.alerts(), 1)
	require.NotEqual(t, domain.UrgencyCritical, sender.alerts()[0].decision.Urgency)

	// Same category again within the window: suppressed.
	require.NoError(t, sched.RunSweep(context.Background()))
	assert.Len(t, sender.alerts(), 1)

	// After the window expires the alert repeats.
	clock.Advance(7 * time.Hour)
	require.NoError(t, sched.RunSweep(context.Background()))
	assert.Len(t, sender.alerts(), 2)
}

func TestCooldownDoesNotSuppressCritical(t *testing.T) {
	store := &fakeUserStore{
		users:       []User{{ID: "u1", DeviceToken: "tok"}},
		favorites:   map[string][]Favorite{"u1": {{ReachID: "r1", Name: "Clear Creek"}}},
		preferences: map[string]domain.NotificationPreference{"u1": allOnPreference("u1", "r1")},
	}
	forecasts := &fakeForecasts{flows: map[string]float64{"r1": 900}}
	tables := &fakeTables{tables: map[string]*domain.ReturnPeriodTable{"r1": testTable("r1")}}

	sched, sender, _, _ := newTestScheduler(t, store, forecasts, tables, Config{Cooldown: 6 * time.Hour})

	require.NoError(t, sched.RunSweep(context.Background()))
	require.NoError(t, sched.RunSweep(context.Background()))
	assert.Len(t, sender.alerts(), 2)
}

func TestCooldownAllowsCategoryEscalation(t *testing.T) {
	low := 400.0
	store := &fakeUserStore{
		users:       []User{{ID: "u1", DeviceToken: "tok"}},
		favorites:   map[string][]Favorite{"u1": {{ReachID: "r1", Name: "Clear Creek"}}},
		preferences: map[string]domain.NotificationPreference{"u1": allOnPreference("u1", "r1")},
		thresholds: map[string][]domain.UserThreshold{"u1": {{
			ID: "t1", UserID: "u1", ReachID: "r1", Activity: "kayaking",
			Unit: domain.UnitCFS, MaxFlow: &low, Enabled: true,
		}}},
	}
	forecasts := &fakeForecasts{flows: map[string]float64{"r1": 450}}
	tables := &fakeTables{tables: map[string]*domain.ReturnPeriodTable{"r1": testTable("r1")}}

	sched, sender, _, _ := newTestScheduler(t, store, forecasts, tables, Config{Cooldown: 6 * time.Hour})

	require.NoError(t, sched.RunSweep(context.Background()))
	require.Len(t, sender.alerts(), 1)
	first := sender.alerts()[0].decision.Data.Category

	// Flow jumps into a different category inside the window; the change
	// must not be suppressed.
	forecasts.flows["r1"] = 700
	require.NoError(t, sched.RunSweep(context.Background()))
	alerts := sender.alerts()
	require.Len(t, alerts, 2)
	assert.NotEqual(t, first, alerts[1].decision.Data.Category)
}

func TestRunnerSweepsOnInterval(t *testing.T) {
	store := &fakeUserStore{
		users:       []User{{ID: "u1", DeviceToken: "tok"}},
		favorites:   map[string][]Favorite{"u1": {{ReachID: "r1", Name: "Clear Creek"}}},
		preferences: map[string]domain.NotificationPreference{"u1": allOnPreference("u1", "r1")},
	}
	forecasts := &fakeForecasts{flows: map[string]float64{"r1": 900}}
	tables := &fakeTables{tables: map[string]*domain.ReturnPeriodTable{"r1": testTable("r1")}}

	sched, sender, _, clock := newTestScheduler(t, store, forecasts, tables, Config{})
	runner := NewRunner(sched, 15*time.Minute, clock, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		runner.Run(ctx)
		close(done)
	}()

	require.Eventually(t, runner.Ready, time.Second, time.Millisecond)
	require.Len(t, sender.alerts(), 1)

	clock.BlockUntilContext(ctx, 1) //nolint:errcheck
	clock.Advance(15 * time.Minute)
	require.Eventually(t, func() bool {
		return len(sender.alerts()) == 2
	}, time.Second, time.Millisecond)

	cancel()
	<-done
}
