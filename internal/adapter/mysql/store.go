// Package mysql persists users, favorites, alert preferences, custom
// thresholds, and the delivery log.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/couchcryptid/flow-alert-service/internal/dispatch"
	"github.com/couchcryptid/flow-alert-service/internal/domain"
	"github.com/couchcryptid/flow-alert-service/internal/scheduler"
)

// Store implements scheduler.UserStore and dispatch.DeliveryLog on MySQL.
type Store struct {
	db *sql.DB
}

// Open connects to MySQL and verifies the connection. The DSN must include
// parseTime=true so DATETIME columns scan into time.Time.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	return &Store{db: db}, nil
}

// NewStore wraps an existing connection pool; used by tests.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable; the readiness probe uses it.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// EnsureSchema creates the tables this service owns if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id VARCHAR(64) NOT NULL PRIMARY KEY,
			device_token VARCHAR(256) NOT NULL DEFAULT '',
			phone VARCHAR(32) NOT NULL DEFAULT '',
			email VARCHAR(256) NOT NULL DEFAULT '',
			notifications_enabled BOOLEAN NOT NULL DEFAULT TRUE
		)`,
		`CREATE TABLE IF NOT EXISTS favorites (
			user_id VARCHAR(64) NOT NULL,
			reach_id VARCHAR(32) NOT NULL,
			name VARCHAR(256) NOT NULL DEFAULT '',
			activity VARCHAR(64) NOT NULL DEFAULT '',
			notify BOOLEAN NOT NULL DEFAULT TRUE,
			PRIMARY KEY (user_id, reach_id)
		)`,
		`CREATE TABLE IF NOT EXISTS notification_preferences (
			user_id VARCHAR(64) NOT NULL PRIMARY KEY,
			emergency_alerts BOOLEAN NOT NULL DEFAULT TRUE,
			activity_alerts BOOLEAN NOT NULL DEFAULT TRUE,
			information_alerts BOOLEAN NOT NULL DEFAULT FALSE,
			quiet_enabled BOOLEAN NOT NULL DEFAULT FALSE,
			quiet_start VARCHAR(5) NOT NULL DEFAULT '',
			quiet_end VARCHAR(5) NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS flow_thresholds (
			id VARCHAR(64) NOT NULL PRIMARY KEY,
			user_id VARCHAR(64) NOT NULL,
			reach_id VARCHAR(32) NOT NULL,
			activity VARCHAR(64) NOT NULL DEFAULT '',
			unit VARCHAR(8) NOT NULL DEFAULT 'cfs',
			min_flow DOUBLE NULL,
			max_flow DOUBLE NULL,
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			INDEX idx_thresholds_user (user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS delivery_log (
			id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
			user_id VARCHAR(64) NOT NULL,
			reach_id VARCHAR(32) NOT NULL,
			category VARCHAR(16) NOT NULL,
			priority VARCHAR(16) NOT NULL,
			urgency VARCHAR(16) NOT NULL,
			channel VARCHAR(8) NOT NULL,
			sent BOOLEAN NOT NULL,
			error TEXT,
			sent_at DATETIME(6) NOT NULL,
			INDEX idx_delivery_user_reach (user_id, reach_id, sent_at)
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// NotificationUsers returns every user with notifications enabled and a
// registered device token. A user without a token has no reachable channel,
// so enumerating them would only burn evaluations.
func (s *Store) NotificationUsers(ctx context.Context) ([]scheduler.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, device_token, phone, email FROM users WHERE notifications_enabled = TRUE AND device_token <> ''`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var users []scheduler.User
	for rows.Next() {
		var u scheduler.User
		if err := rows.Scan(&u.ID, &u.DeviceToken, &u.Phone, &u.Email); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

// Favorites returns the reaches a user tracks.
func (s *Store) Favorites(ctx context.Context, userID string) ([]scheduler.Favorite, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT reach_id, name, activity FROM favorites WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("query favorites: %w", err)
	}
	defer rows.Close()

	var favorites []scheduler.Favorite
	for rows.Next() {
		var f scheduler.Favorite
		if err := rows.Scan(&f.ReachID, &f.Name, &f.Activity); err != nil {
			return nil, fmt.Errorf("scan favorite: %w", err)
		}
		favorites = append(favorites, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate favorites: %w", err)
	}
	return favorites, nil
}

// Preferences loads a user's alert preferences. A user with no stored row
// gets the defaults: emergency and activity alerts on, information off.
// Per-reach enablement comes from the favorite rows' notify flag.
func (s *Store) Preferences(ctx context.Context, userID string) (domain.NotificationPreference, error) {
	pref := domain.NotificationPreference{
		UserID:          userID,
		EmergencyAlerts: true,
		ActivityAlerts:  true,
	}

	err := s.db.QueryRowContext(ctx,
		`SELECT emergency_alerts, activity_alerts, information_alerts,
		        quiet_enabled, quiet_start, quiet_end
		 FROM notification_preferences WHERE user_id = ?`, userID).
		Scan(&pref.EmergencyAlerts, &pref.ActivityAlerts, &pref.InformationAlerts,
			&pref.QuietHours.Enabled, &pref.QuietHours.Start, &pref.QuietHours.End)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return domain.NotificationPreference{}, fmt.Errorf("query preferences: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT reach_id FROM favorites WHERE user_id = ? AND notify = TRUE`, userID)
	if err != nil {
		return domain.NotificationPreference{}, fmt.Errorf("query enabled reaches: %w", err)
	}
	defer rows.Close()

	pref.EnabledReachIDs = make(map[string]bool)
	for rows.Next() {
		var reachID string
		if err := rows.Scan(&reachID); err != nil {
			return domain.NotificationPreference{}, fmt.Errorf("scan enabled reach: %w", err)
		}
		pref.EnabledReachIDs[reachID] = true
	}
	if err := rows.Err(); err != nil {
		return domain.NotificationPreference{}, fmt.Errorf("iterate enabled reaches: %w", err)
	}
	return pref, nil
}

// Thresholds returns a user's custom flow thresholds, enabled or not;
// the decision engine filters disabled ones.
func (s *Store) Thresholds(ctx context.Context, userID string) ([]domain.UserThreshold, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, reach_id, activity, unit, min_flow, max_flow, enabled
		 FROM flow_thresholds WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("query thresholds: %w", err)
	}
	defer rows.Close()

	var thresholds []domain.UserThreshold
	for rows.Next() {
		var (
			t        domain.UserThreshold
			unit     string
			min, max sql.NullFloat64
		)
		if err := rows.Scan(&t.ID, &t.UserID, &t.ReachID, &t.Activity, &unit, &min, &max, &t.Enabled); err != nil {
			return nil, fmt.Errorf("scan threshold: %w", err)
		}
		t.Unit = domain.FlowUnit(unit)
		if min.Valid {
			t.MinFlow = &min.Float64
		}
		if max.Valid {
			t.MaxFlow = &max.Float64
		}
		thresholds = append(thresholds, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate thresholds: %w", err)
	}
	return thresholds, nil
}

// Append inserts one delivery record.
func (s *Store) Append(ctx context.Context, rec dispatch.Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO delivery_log
		 (user_id, reach_id, category, priority, urgency, channel, sent, error, sent_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.UserID, rec.ReachID, rec.Category, string(rec.Priority),
		string(rec.Urgency), string(rec.Channel), rec.Sent, rec.Error, rec.At)
	if err != nil {
		return fmt.Errorf("insert delivery record: %w", err)
	}
	return nil
}

// LastSent returns the newest successfully sent record for a (user, reach)
// pair, or nil when none exists.
func (s *Store) LastSent(ctx context.Context, userID, reachID string) (*dispatch.Record, error) {
	var (
		rec                        dispatch.Record
		priority, urgency, channel string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, reach_id, category, priority, urgency, channel, sent, error, sent_at
		 FROM delivery_log
		 WHERE user_id = ? AND reach_id = ? AND sent = TRUE
		 ORDER BY sent_at DESC LIMIT 1`, userID, reachID).
		Scan(&rec.UserID, &rec.ReachID, &rec.Category, &priority, &urgency,
			&channel, &rec.Sent, &rec.Error, &rec.At)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query last sent: %w", err)
	}
	rec.Priority = domain.AlertPriority(priority)
	rec.Urgency = domain.Urgency(urgency)
	rec.Channel = domain.Channel(channel)
	return &rec, nil
}
