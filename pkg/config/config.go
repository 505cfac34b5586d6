package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	Scheduling   SchedulingConfig
	Reposition   RepositionConfig
	Payments     PaymentsConfig
	Cron         CronConfig
	Square       SquareConfig
	Invoicing    InvoicingConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"DRIVEHUB_APP_ENV" required:"true"`
	Port         string `envconfig:"DRIVEHUB_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"DRIVEHUB_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"DRIVEHUB_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"DRIVEHUB_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"DRIVEHUB_DB_DSN"`
	Driver string `envconfig:"DRIVEHUB_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"DRIVEHUB_DB_HOST"`
	LegacyPort     int    `envconfig:"DRIVEHUB_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"DRIVEHUB_DB_USER"`
	LegacyPassword string `envconfig:"DRIVEHUB_DB_PASSWORD"`
	LegacyName     string `envconfig:"DRIVEHUB_DB_NAME"`
	LegacySSLMode  string `envconfig:"DRIVEHUB_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"DRIVEHUB_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"DRIVEHUB_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"DRIVEHUB_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"DRIVEHUB_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"DRIVEHUB_REDIS_URL" required:"true"`
	Password     string        `envconfig:"DRIVEHUB_REDIS_PASSWORD"`
	DB           int           `envconfig:"DRIVEHUB_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"DRIVEHUB_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"DRIVEHUB_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"DRIVEHUB_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"DRIVEHUB_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"DRIVEHUB_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// SchedulingConfig tunes slot generation and the reposition matcher.
type SchedulingConfig struct {
	SlotStepMinutes     int `envconfig:"DRIVEHUB_SCHED_SLOT_STEP_MINUTES" default:"30"`
	MinDurationMinutes  int `envconfig:"DRIVEHUB_SCHED_MIN_DURATION_MINUTES" default:"30"`
	HorizonDays         int `envconfig:"DRIVEHUB_SCHED_HORIZON_DAYS" default:"14"`
	ScanPaddingHours    int `envconfig:"DRIVEHUB_SCHED_SCAN_PADDING_HOURS" default:"24"`
	DefaultTimezoneName string `envconfig:"DRIVEHUB_SCHED_DEFAULT_TZ" default:"Europe/Rome"`
}

func (s SchedulingConfig) SlotStep() time.Duration {
	return time.Duration(s.SlotStepMinutes) * time.Minute
}

func (s SchedulingConfig) MinDuration() time.Duration {
	return time.Duration(s.MinDurationMinutes) * time.Minute
}

func (s SchedulingConfig) ScanPadding() time.Duration {
	return time.Duration(s.ScanPaddingHours) * time.Hour
}

// RepositionConfig tunes the reposition task queue.
type RepositionConfig struct {
	RetryDelayMinutes int `envconfig:"DRIVEHUB_REPOSITION_RETRY_DELAY_MINUTES" default:"30"`
}

func (r RepositionConfig) RetryDelay() time.Duration {
	return time.Duration(r.RetryDelayMinutes) * time.Minute
}

// PaymentsConfig tunes the settlement state machine. Lesson pricing is
// tiered by duration: the first slot costs the base price, every further
// slot the extra-slot price.
type PaymentsConfig struct {
	MaxAttempts         int    `envconfig:"DRIVEHUB_PAYMENTS_MAX_ATTEMPTS" default:"3"`
	RetryDelaysHours    []int  `envconfig:"DRIVEHUB_PAYMENTS_RETRY_DELAYS_HOURS" default:"4,8"`
	PenaltyPercent      int    `envconfig:"DRIVEHUB_PAYMENTS_PENALTY_PERCENT" default:"50"`
	PenaltyCutoffHours  int    `envconfig:"DRIVEHUB_PAYMENTS_PENALTY_CUTOFF_HOURS" default:"24"`
	BasePriceCents      int64  `envconfig:"DRIVEHUB_PAYMENTS_BASE_PRICE_CENTS" default:"2500"`
	ExtraSlotPriceCents int64  `envconfig:"DRIVEHUB_PAYMENTS_EXTRA_SLOT_PRICE_CENTS" default:"2000"`
	Currency            string `envconfig:"DRIVEHUB_PAYMENTS_CURRENCY" default:"EUR"`
	GatewayTimeout      time.Duration `envconfig:"DRIVEHUB_PAYMENTS_GATEWAY_TIMEOUT" default:"15s"`
}

// RetryDelays converts the configured hour ladder into durations.
func (p PaymentsConfig) RetryDelays() []time.Duration {
	delays := make([]time.Duration, 0, len(p.RetryDelaysHours))
	for _, h := range p.RetryDelaysHours {
		delays = append(delays, time.Duration(h)*time.Hour)
	}
	if len(delays) == 0 {
		delays = []time.Duration{4 * time.Hour, 8 * time.Hour}
	}
	return delays
}

func (p PaymentsConfig) PenaltyCutoff() time.Duration {
	return time.Duration(p.PenaltyCutoffHours) * time.Hour
}

type CronConfig struct {
	Interval time.Duration `envconfig:"DRIVEHUB_CRON_INTERVAL" default:"5m"`
	LockTTL  time.Duration `envconfig:"DRIVEHUB_CRON_LOCK_TTL" default:"10m"`
}

type SquareConfig struct {
	AccessToken string `envconfig:"DRIVEHUB_SQUARE_ACCESS_TOKEN"`
	Env         string `envconfig:"DRIVEHUB_SQUARE_ENV" default:"sandbox"`
	LocationID  string `envconfig:"DRIVEHUB_SQUARE_LOCATION_ID"`
}

// Environment returns the normalized Square environment (sandbox/production).
func (s SquareConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "sandbox"
	}
	return env
}

type InvoicingConfig struct {
	BaseURL     string        `envconfig:"DRIVEHUB_INVOICING_BASE_URL" default:"https://api-v2.fattureincloud.it"`
	AccessToken string        `envconfig:"DRIVEHUB_INVOICING_ACCESS_TOKEN"`
	CompanyRef  string        `envconfig:"DRIVEHUB_INVOICING_COMPANY_REF"`
	VatRuleRef  string        `envconfig:"DRIVEHUB_INVOICING_VAT_RULE_REF" default:"N4"`
	Timeout     time.Duration `envconfig:"DRIVEHUB_INVOICING_TIMEOUT" default:"15s"`
}

// Configured reports whether the provider credentials are present.
func (i InvoicingConfig) Configured() bool {
	return strings.TrimSpace(i.AccessToken) != "" && strings.TrimSpace(i.CompanyRef) != ""
}

type PubSubConfig struct {
	ProjectID         string `envconfig:"DRIVEHUB_PUBSUB_PROJECT_ID"`
	NotificationTopic string `envconfig:"DRIVEHUB_PUBSUB_NOTIFICATION_TOPIC" default:"dh-notification-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"DRIVEHUB_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"DRIVEHUB_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"DRIVEHUB_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"DRIVEHUB_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"DRIVEHUB_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
