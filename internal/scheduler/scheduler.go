// Package scheduler drives the periodic evaluation of every
// notification-enabled user's favorite reaches against their flood
// thresholds.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/flow-alert-service/internal/cache"
	"github.com/couchcryptid/flow-alert-service/internal/dispatch"
	"github.com/couchcryptid/flow-alert-service/internal/domain"
	"github.com/couchcryptid/flow-alert-service/internal/observability"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

// User is a notification-enabled account with its delivery endpoints.
type User struct {
	ID          string
	DeviceToken string
	Phone       string
	Email       string
}

// Favorite is one reach a user tracks.
type Favorite struct {
	ReachID  string
	Name     string
	Activity string
}

// UserStore supplies users, their favorites, preferences, and custom
// thresholds.
type UserStore interface {
	NotificationUsers(ctx context.Context) ([]User, error)
	Favorites(ctx context.Context, userID string) ([]Favorite, error)
	Preferences(ctx context.Context, userID string) (domain.NotificationPreference, error)
	Thresholds(ctx context.Context, userID string) ([]domain.UserThreshold, error)
}

// TableSource is the return-period cache interface the scheduler consumes.
type TableSource interface {
	Get(ctx context.Context, reachID string) (cache.Result, error)
}

// AlertSender dispatches a decision; satisfied by *dispatch.Dispatcher.
type AlertSender interface {
	Send(ctx context.Context, rcpt dispatch.Recipient, decision domain.AlertDecision) dispatch.Result
}

// Config tunes one scheduler instance.
type Config struct {
	ScaleFactor    float64
	MaxConcurrent  int
	Cooldown       time.Duration
	DemoMode       bool
	QuietHoursLoc  *time.Location
	EmergencyRules []domain.EmergencyRule
}

// Scheduler runs evaluation sweeps.
type Scheduler struct {
	users     UserStore
	forecasts domain.ForecastProvider
	tables    TableSource
	sender    AlertSender
	log       dispatch.DeliveryLog
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *observability.Metrics
	cfg       Config
}

// New creates a Scheduler.
func New(users UserStore, forecasts domain.ForecastProvider, tables TableSource, sender AlertSender, log dispatch.DeliveryLog, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics, cfg Config) *Scheduler {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 8
	}
	if cfg.ScaleFactor <= 0 {
		cfg.ScaleFactor = 1
	}
	if cfg.EmergencyRules == nil {
		cfg.EmergencyRules = domain.DefaultEmergencyRules()
	}
	return &Scheduler{
		users:     users,
		forecasts: forecasts,
		tables:    tables,
		sender:    sender,
		log:       log,
		clock:     clock,
		logger:    logger,
		metrics:   metrics,
		cfg:       cfg,
	}
}

// workItem is one independent (user, reach) evaluation.
type workItem struct {
	user       User
	favorite   Favorite
	preference domain.NotificationPreference
	thresholds []domain.UserThreshold
}

// RunSweep evaluates every (user, favorite reach) pair once. Failing to
// list users aborts the sweep; any per-item failure is isolated, logged,
// and counted, and the remaining items proceed. Items run concurrently up
// to the configured bound since each performs blocking network I/O.
func (s *Scheduler) RunSweep(ctx context.Context) error {
	start := s.clock.Now()
	s.metrics.SweepsTotal.Inc()
	s.metrics.SweepRunning.Set(1)
	defer s.metrics.SweepRunning.Set(0)

	users, err := s.users.NotificationUsers(ctx)
	if err != nil {
		s.metrics.SweepFailures.Inc()
		return fmt.Errorf("list notification users: %w", err)
	}

	items := s.collectItems(ctx, users)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxConcurrent)
	for _, item := range items {
		g.Go(func() error {
			s.evaluateItem(gctx, item)
			return nil
		})
	}
	g.Wait() //nolint:errcheck // evaluateItem never returns an error

	s.metrics.SweepDuration.Observe(s.clock.Since(start).Seconds())
	s.logger.Info("sweep complete",
		"users", len(users),
		"items", len(items),
		"duration", s.clock.Since(start),
	)
	return nil
}

// collectItems expands users into per-reach work items. A failure loading
// one user's favorites, preferences, or thresholds skips that user only.
func (s *Scheduler) collectItems(ctx context.Context, users []User) []workItem {
	var items []workItem
	for _, user := range users {
		if user.DeviceToken == "" {
			// No registered device means no deliverable channel.
			s.logger.Warn("skipping user without device token", "user_id", user.ID)
			continue
		}
		preference, err := s.users.Preferences(ctx, user.ID)
		if err != nil {
			s.logger.Warn("load preferences failed", "user_id", user.ID, "error", err)
			s.metrics.ItemErrors.Inc()
			continue
		}
		thresholds, err := s.users.Thresholds(ctx, user.ID)
		if err != nil {
			s.logger.Warn("load thresholds failed", "user_id", user.ID, "error", err)
			s.metrics.ItemErrors.Inc()
			continue
		}
		favorites, err := s.users.Favorites(ctx, user.ID)
		if err != nil {
			s.logger.Warn("load favorites failed", "user_id", user.ID, "error", err)
			s.metrics.ItemErrors.Inc()
			continue
		}
		for _, favorite := range favorites {
			items = append(items, workItem{
				user:       user,
				favorite:   favorite,
				preference: preference,
				thresholds: thresholds,
			})
		}
	}
	return items
}

// alertHorizons restricts alerting to forecasts confident enough to act on.
var alertHorizons = []domain.ForecastHorizon{domain.HorizonShort, domain.HorizonMedium}

// evaluateItem runs the full classify-decide-dispatch chain for one
// (user, reach) pair. It never returns: every failure mode ends here.
func (s *Scheduler) evaluateItem(ctx context.Context, item workItem) {
	s.metrics.EvaluationsTotal.Inc()
	reachID := item.favorite.ReachID

	observations, err := s.forecasts.Streamflow(ctx, reachID, alertHorizons)
	if err != nil {
		s.logger.Warn("forecast fetch failed",
			"user_id", item.user.ID, "reach_id", reachID, "error", err)
		s.metrics.ItemErrors.Inc()
		return
	}

	obs, current := reduceForecast(observations, reachID)

	tableResult, err := s.tables.Get(ctx, reachID)
	if err != nil {
		s.logger.Warn("return-period lookup failed",
			"user_id", item.user.ID, "reach_id", reachID, "error", err)
		s.metrics.ItemErrors.Inc()
		return
	}
	if tableResult.Table == nil {
		// No flood-frequency data exists for this reach; nothing to alert on.
		s.logger.Debug("no return-period table", "reach_id", reachID)
		s.metrics.EvaluationsSkipped.Inc()
		return
	}

	classification := domain.Classify(obs, tableResult.Table, s.cfg.ScaleFactor)

	decision := domain.Decide(domain.DecisionInput{
		Observation:    obs,
		Classification: classification,
		Table:          tableResult.Table,
		Thresholds:     item.thresholds,
		Preference:     item.preference,
		EmergencyRules: s.cfg.EmergencyRules,
		ReachName:      item.favorite.Name,
		PreviousFlow:   current,
		ScaleFactor:    s.cfg.ScaleFactor,
		DemoMode:       s.cfg.DemoMode,
		Now:            s.clock.Now(),
		Location:       s.cfg.QuietHoursLoc,
	})

	if !decision.ShouldSend {
		return
	}

	if s.inCooldown(ctx, item.user.ID, reachID, decision) {
		s.logger.Info("alert suppressed by cool-down",
			"user_id", item.user.ID, "reach_id", reachID, "category", decision.Data.Category)
		s.metrics.CooldownSuppressed.Inc()
		return
	}

	result := s.sender.Send(ctx, dispatch.Recipient{
		UserID:      item.user.ID,
		DeviceToken: item.user.DeviceToken,
		Phone:       item.user.Phone,
		Email:       item.user.Email,
	}, decision)
	if !result.Sent {
		s.metrics.ItemErrors.Inc()
	}
}

// reduceForecast collapses the fetched observations to the maximum flow
// across the alerting horizons. An empty forecast evaluates as zero flow
// ("no elevated signal"). The second return is the chronologically first
// short-range value, used as the current flow for trend rendering.
func reduceForecast(observations []domain.FlowObservation, reachID string) (domain.FlowObservation, *float64) {
	obs, ok := domain.ReduceMaxFlow(observations, alertHorizons...)
	if !ok {
		return domain.FlowObservation{ReachID: reachID, Value: 0, Unit: domain.UnitCFS}, nil
	}

	for _, o := range observations {
		if o.Horizon != domain.HorizonShort {
			continue
		}
		if o.ValidAt.Equal(obs.ValidAt) && o.Value == obs.Value {
			// The max observation is itself the current one; no trend baseline.
			return obs, nil
		}
		current := domain.Convert(o.Value, o.Unit, obs.Unit)
		return obs, &current
	}
	return obs, nil
}

// inCooldown reports whether the same category was already sent to this
// user for this reach within the cool-down window. Category changes and
// critical urgency always pass. Watermark lookup failures fail open: a
// possibly duplicated safety alert beats a silently dropped one.
func (s *Scheduler) inCooldown(ctx context.Context, userID, reachID string, decision domain.AlertDecision) bool {
	if s.cfg.Cooldown <= 0 || decision.Urgency == domain.UrgencyCritical {
		return false
	}
	last, err := s.log.LastSent(ctx, userID, reachID)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.logger.Warn("delivery-log watermark lookup failed",
				"user_id", userID, "reach_id", reachID, "error", err)
		}
		return false
	}
	if last == nil || last.Category != decision.Data.Category {
		return false
	}
	return s.clock.Since(last.At) < s.cfg.Cooldown
}
