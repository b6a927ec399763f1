package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	CheckInterval time.Duration
	ScaleFactor   float64
	QuietHoursTZ  *time.Location
	AlertCooldown time.Duration
	CacheTTL      time.Duration
	MaxConcurrent int
	RunOnce       bool
	DemoMode      bool

	NWPSBaseURL string
	NWPSTimeout time.Duration

	// Push is the only mandatory channel; SMS, email, and the Kafka event
	// mirror are feature-flagged by their credentials being present.
	PushGatewayURL string
	PushAPIKey     string

	SMSAccountSID string
	SMSAuthToken  string
	SMSFrom       string
	SMSBaseURL    string
	SMSEnabled    bool

	SendGridAPIKey string
	SendGridFrom   string
	EmailEnabled   bool

	MySQLDSN string

	RedisAddr    string
	RedisEnabled bool

	KafkaBrokers    []string
	KafkaAlertTopic string
	KafkaEnabled    bool

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	checkMinutes, err := parsePositiveInt("CHECK_INTERVAL_MINUTES", 60)
	if err != nil {
		return nil, err
	}

	scaleFactor, err := parseScaleFactor()
	if err != nil {
		return nil, err
	}

	quietTZ, err := time.LoadLocation(envOrDefault("QUIET_HOURS_TZ", "UTC"))
	if err != nil {
		return nil, fmt.Errorf("invalid QUIET_HOURS_TZ: %w", err)
	}

	cooldown, err := parseDuration("ALERT_COOLDOWN", 6*time.Hour)
	if err != nil {
		return nil, err
	}

	cacheTTL, err := parseDuration("CACHE_TTL", 168*time.Hour)
	if err != nil {
		return nil, err
	}

	maxConcurrent, err := parsePositiveInt("MAX_CONCURRENT", 8)
	if err != nil {
		return nil, err
	}

	nwpsTimeout, err := parseDuration("NWPS_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}

	shutdownTimeout, err := parseDuration("SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		CheckInterval: time.Duration(checkMinutes) * time.Minute,
		ScaleFactor:   scaleFactor,
		QuietHoursTZ:  quietTZ,
		AlertCooldown: cooldown,
		CacheTTL:      cacheTTL,
		MaxConcurrent: maxConcurrent,
		RunOnce:       os.Getenv("RUN_ONCE") == "true",
		DemoMode:      os.Getenv("DEMO_MODE") == "true",

		NWPSBaseURL: os.Getenv("NWPS_BASE_URL"),
		NWPSTimeout: nwpsTimeout,

		PushGatewayURL: os.Getenv("PUSH_GATEWAY_URL"),
		PushAPIKey:     os.Getenv("PUSH_API_KEY"),

		SMSAccountSID: os.Getenv("SMS_ACCOUNT_SID"),
		SMSAuthToken:  os.Getenv("SMS_AUTH_TOKEN"),
		SMSFrom:       os.Getenv("SMS_FROM"),
		SMSBaseURL:    os.Getenv("SMS_BASE_URL"),

		SendGridAPIKey: os.Getenv("SENDGRID_API_KEY"),
		SendGridFrom:   os.Getenv("SENDGRID_FROM"),

		MySQLDSN: os.Getenv("MYSQL_DSN"),

		RedisAddr: os.Getenv("REDIS_ADDR"),

		KafkaBrokers:    parseBrokers(os.Getenv("KAFKA_BROKERS")),
		KafkaAlertTopic: envOrDefault("KAFKA_ALERT_TOPIC", "flow-alerts"),

		HTTPAddr:        envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        envOrDefault("LOG_LEVEL", "info"),
		LogFormat:       envOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,
	}

	cfg.SMSEnabled = cfg.SMSAccountSID != "" && cfg.SMSAuthToken != "" && cfg.SMSFrom != ""
	cfg.EmailEnabled = cfg.SendGridAPIKey != "" && cfg.SendGridFrom != ""
	cfg.RedisEnabled = cfg.RedisAddr != ""
	cfg.KafkaEnabled = len(cfg.KafkaBrokers) > 0

	if cfg.MySQLDSN == "" {
		return nil, errors.New("MYSQL_DSN is required")
	}
	if cfg.PushGatewayURL == "" {
		return nil, errors.New("PUSH_GATEWAY_URL is required")
	}
	if partialSMS := cfg.SMSAccountSID != "" || cfg.SMSAuthToken != "" || cfg.SMSFrom != ""; partialSMS && !cfg.SMSEnabled {
		return nil, errors.New("SMS_ACCOUNT_SID, SMS_AUTH_TOKEN, and SMS_FROM must be set together")
	}
	if cfg.SendGridAPIKey != "" && cfg.SendGridFrom == "" {
		return nil, errors.New("SENDGRID_API_KEY is set but SENDGRID_FROM is not")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseBrokers(s string) []string {
	if s == "" {
		return nil
	}
	var brokers []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

func parsePositiveInt(key string, fallback int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return n, nil
}

func parseDuration(key string, fallback time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return d, nil
}

func parseScaleFactor() (float64, error) {
	s := os.Getenv("SCALE_FACTOR")
	if s == "" {
		return 1, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f <= 0 {
		return 0, fmt.Errorf("invalid SCALE_FACTOR: %q", s)
	}
	return f, nil
}
