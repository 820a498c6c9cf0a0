package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = ""

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "MARKETLOOP_DB_DSN"
	EnvDBHost = "MARKETLOOP_DB_HOST"
	EnvDBUser = "MARKETLOOP_DB_USER"
	EnvDBName = "MARKETLOOP_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	Square       SquareConfig
	Fulfillment  FulfillmentConfig
	Offers       OffersConfig
	Refunds      RefundsConfig
	Sweep        SweepConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
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
	Env          string `envconfig:"MARKETLOOP_APP_ENV" required:"true"`
	Port         string `envconfig:"MARKETLOOP_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"MARKETLOOP_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"MARKETLOOP_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"MARKETLOOP_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"MARKETLOOP_DB_DSN"`
	Driver string `envconfig:"MARKETLOOP_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"MARKETLOOP_DB_HOST"`
	LegacyPort     int    `envconfig:"MARKETLOOP_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"MARKETLOOP_DB_USER"`
	LegacyPassword string `envconfig:"MARKETLOOP_DB_PASSWORD"`
	LegacyName     string `envconfig:"MARKETLOOP_DB_NAME"`
	LegacySSLMode  string `envconfig:"MARKETLOOP_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"MARKETLOOP_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"MARKETLOOP_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"MARKETLOOP_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"MARKETLOOP_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"MARKETLOOP_REDIS_URL" required:"true"`
	Address      string        `envconfig:"MARKETLOOP_REDIS_ADDR"`
	Password     string        `envconfig:"MARKETLOOP_REDIS_PASSWORD"`
	DB           int           `envconfig:"MARKETLOOP_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"MARKETLOOP_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"MARKETLOOP_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"MARKETLOOP_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"MARKETLOOP_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"MARKETLOOP_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type SquareConfig struct {
	AccessToken   string `envconfig:"MARKETLOOP_SQUARE_ACCESS_TOKEN"`
	Env           string `envconfig:"MARKETLOOP_SQUARE_ENV" default:"sandbox"`
	WebhookSecret string `envconfig:"MARKETLOOP_SQUARE_WEBHOOK_SECRET"`
}

// Environment returns the normalized Square environment (sandbox/production).
func (s SquareConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "sandbox"
	}
	return env
}

// FulfillmentConfig carries the SLA offsets applied when payment confirms.
type FulfillmentConfig struct {
	StartSLA    time.Duration `envconfig:"MARKETLOOP_FULFILLMENT_START_SLA" default:"48h"`
	CompleteSLA time.Duration `envconfig:"MARKETLOOP_FULFILLMENT_COMPLETE_SLA" default:"168h"`
}

type OffersConfig struct {
	PaymentWindow  time.Duration `envconfig:"MARKETLOOP_OFFERS_PAYMENT_WINDOW" default:"24h"`
	DefaultTTL     time.Duration `envconfig:"MARKETLOOP_OFFERS_DEFAULT_TTL" default:"72h"`
	PlatformFeeBps int           `envconfig:"MARKETLOOP_OFFERS_PLATFORM_FEE_BPS" default:"1000"`
}

// RefundsConfig controls the guarded-mutator lock discipline. MarkerReclaimAfter
// is the age past which a refund-in-progress marker is treated as abandoned.
type RefundsConfig struct {
	MarkerReclaimAfter time.Duration `envconfig:"MARKETLOOP_REFUNDS_MARKER_RECLAIM_AFTER" default:"15m"`
}

type SweepConfig struct {
	Interval   time.Duration `envconfig:"MARKETLOOP_SWEEP_INTERVAL" default:"10m"`
	TimeBudget time.Duration `envconfig:"MARKETLOOP_SWEEP_TIME_BUDGET" default:"45s"`
	PageSize   int           `envconfig:"MARKETLOOP_SWEEP_PAGE_SIZE" default:"200"`
	LockTTL    time.Duration `envconfig:"MARKETLOOP_SWEEP_LOCK_TTL" default:"15m"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"MARKETLOOP_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"MARKETLOOP_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	NotificationDedupeTTL time.Duration `envconfig:"MARKETLOOP_EVENTING_NOTIFICATION_DEDUPE_TTL" default:"720h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"MARKETLOOP_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"MARKETLOOP_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"MARKETLOOP_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	NotificationTopic        string `envconfig:"MARKETLOOP_PUBSUB_NOTIFICATION_TOPIC" default:"ml-notification-events"`
	NotificationSubscription string `envconfig:"MARKETLOOP_PUBSUB_NOTIFICATION_SUBSCRIPTION"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"MARKETLOOP_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"MARKETLOOP_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"MARKETLOOP_OUTBOX_MAX_ATTEMPTS" default:"10"`
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
