package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Engine       EngineConfig
	Quota        QuotaConfig
	RateLimit    RateLimitConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Retention    RetentionConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	var errs error
	switch strings.ToLower(c.App.LogFormat) {
	case LogFormatJSON, LogFormatConsole:
	default:
		errs = multierr.Append(errs, fmt.Errorf("%s must be json|console, got %q", EnvLogFormat, c.App.LogFormat))
	}
	if _, err := c.Engine.Location(); err != nil {
		errs = multierr.Append(errs, err)
	}
	if !c.Engine.CursorBackendValid() {
		errs = multierr.Append(errs, fmt.Errorf("%s must be one of db|redis, got %q", EnvEngineCursorBackend, c.Engine.CursorBackend))
	}
	errs = multierr.Append(errs, c.Quota.Validate())
	switch strings.ToLower(strings.TrimSpace(c.Quota.OverflowPolicy)) {
	case QuotaOverflowDowngrade, QuotaOverflowReject:
	default:
		errs = multierr.Append(errs, fmt.Errorf("%s must be downgrade|reject, got %q", EnvQuotaOverflowPolicy, c.Quota.OverflowPolicy))
	}
	return errs
}

type AppConfig struct {
	Env          string `envconfig:"JOBROUTER_APP_ENV" required:"true"`
	Port         string `envconfig:"JOBROUTER_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"JOBROUTER_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"JOBROUTER_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"JOBROUTER_LOG_WARN_STACK" default:"false"`

	CORSAllowedOrigins []string `envconfig:"JOBROUTER_CORS_ALLOWED_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"JOBROUTER_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"JOBROUTER_DB_DSN"`
	Driver string `envconfig:"JOBROUTER_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"JOBROUTER_DB_HOST"`
	LegacyPort     int    `envconfig:"JOBROUTER_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"JOBROUTER_DB_USER"`
	LegacyPassword string `envconfig:"JOBROUTER_DB_PASSWORD"`
	LegacyName     string `envconfig:"JOBROUTER_DB_NAME"`
	LegacySSLMode  string `envconfig:"JOBROUTER_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"JOBROUTER_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"JOBROUTER_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"JOBROUTER_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"JOBROUTER_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

// IsSQLite reports whether the embedded sqlite driver should be used instead of Postgres.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(strings.TrimSpace(db.Driver), DBDriverSQLite)
}

type RedisConfig struct {
	URL          string        `envconfig:"JOBROUTER_REDIS_URL"`
	Address      string        `envconfig:"JOBROUTER_REDIS_ADDR"`
	Password     string        `envconfig:"JOBROUTER_REDIS_PASSWORD"`
	DB           int           `envconfig:"JOBROUTER_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"JOBROUTER_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"JOBROUTER_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"JOBROUTER_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"JOBROUTER_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"JOBROUTER_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// Enabled reports whether a redis endpoint was configured at all.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

type JWTConfig struct {
	Secret            string `envconfig:"JOBROUTER_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"JOBROUTER_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"JOBROUTER_JWT_EXPIRATION_MINUTES" default:"60"`
}

// EngineConfig tunes the assignment engine.
type EngineConfig struct {
	Timezone       string        `envconfig:"JOBROUTER_ENGINE_TIMEZONE" default:"UTC"`
	CursorBackend  string        `envconfig:"JOBROUTER_ENGINE_CURSOR_BACKEND" default:"db"`
	JobLockTTL     time.Duration `envconfig:"JOBROUTER_ENGINE_JOB_LOCK_TTL" default:"30s"`
	DefaultUnits   int           `envconfig:"JOBROUTER_ENGINE_DEFAULT_UNITS" default:"1"`
	MaxCommitTries int           `envconfig:"JOBROUTER_ENGINE_MAX_COMMIT_TRIES" default:"5"`
}

// Location resolves the canonical timezone used for capacity day buckets.
func (e EngineConfig) Location() (*time.Location, error) {
	name := strings.TrimSpace(e.Timezone)
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", EnvEngineTimezone, err)
	}
	return loc, nil
}

func (e EngineConfig) CursorBackendValid() bool {
	switch strings.ToLower(strings.TrimSpace(e.CursorBackend)) {
	case CursorBackendDB, CursorBackendRedis:
		return true
	}
	return false
}

// QuotaConfig holds the platform-wide priority quota percentages.
type QuotaConfig struct {
	MaxUrgentPercent string `envconfig:"JOBROUTER_QUOTA_MAX_URGENT_PERCENT" default:"20"`
	MaxHighPercent   string `envconfig:"JOBROUTER_QUOTA_MAX_HIGH_PERCENT" default:"30"`
	OverflowPolicy   string `envconfig:"JOBROUTER_QUOTA_OVERFLOW_POLICY" default:"downgrade"`
}

// Percents parses both quota percentages as decimals.
func (q QuotaConfig) Percents() (decimal.Decimal, decimal.Decimal, error) {
	urgent, err := decimal.NewFromString(strings.TrimSpace(q.MaxUrgentPercent))
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%s: %w", EnvQuotaMaxUrgentPercent, err)
	}
	high, err := decimal.NewFromString(strings.TrimSpace(q.MaxHighPercent))
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%s: %w", EnvQuotaMaxHighPercent, err)
	}
	return urgent, high, nil
}

// Validate enforces 0..100 bounds and a combined total of at most 100.
func (q QuotaConfig) Validate() error {
	urgent, high, err := q.Percents()
	if err != nil {
		return err
	}
	return ValidateQuotaPercents(urgent, high)
}

// ValidateQuotaPercents is shared with the settings surface that edits the stored values.
func ValidateQuotaPercents(urgent, high decimal.Decimal) error {
	hundred := decimal.NewFromInt(100)
	var errs error
	if urgent.IsNegative() || urgent.GreaterThan(hundred) {
		errs = multierr.Append(errs, fmt.Errorf("max urgent percent must be within 0..100, got %s", urgent))
	}
	if high.IsNegative() || high.GreaterThan(hundred) {
		errs = multierr.Append(errs, fmt.Errorf("max high percent must be within 0..100, got %s", high))
	}
	if urgent.Add(high).GreaterThan(hundred) {
		errs = multierr.Append(errs, fmt.Errorf("combined quota %s exceeds 100", urgent.Add(high)))
	}
	return errs
}

type RateLimitConfig struct {
	RerunWindow time.Duration `envconfig:"JOBROUTER_RATE_LIMIT_RERUN_WINDOW" default:"1m"`
	RerunLimit  int           `envconfig:"JOBROUTER_RATE_LIMIT_RERUN_LIMIT" default:"10"`
}

type FeatureFlagsConfig struct {
	AutoMigrate   bool `envconfig:"JOBROUTER_AUTO_MIGRATE" default:"false"`
	JobRunLock    bool `envconfig:"JOBROUTER_FEATURE_JOB_RUN_LOCK" default:"true"`
	Notifications bool `envconfig:"JOBROUTER_FEATURE_NOTIFICATIONS" default:"true"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"JOBROUTER_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"JOBROUTER_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"JOBROUTER_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	NotificationTopic        string `envconfig:"JOBROUTER_PUBSUB_NOTIFICATION_TOPIC" default:"jr-assignment-notifications"`
	NotificationSubscription string `envconfig:"JOBROUTER_PUBSUB_NOTIFICATION_SUBSCRIPTION"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"JOBROUTER_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"JOBROUTER_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"JOBROUTER_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type RetentionConfig struct {
	CapacityUsageDays int           `envconfig:"JOBROUTER_RETENTION_CAPACITY_USAGE_DAYS" default:"90"`
	OutboxDays        int           `envconfig:"JOBROUTER_RETENTION_OUTBOX_DAYS" default:"30"`
	Interval          time.Duration `envconfig:"JOBROUTER_RETENTION_INTERVAL" default:"24h"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}
	if db.IsSQLite() {
		return fmt.Errorf("%s is required for the sqlite driver", EnvDBDSN)
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
