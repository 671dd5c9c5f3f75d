package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App            AppConfig
	Service        ServiceConfig
	DB             DBConfig
	Redis          RedisConfig
	FeatureFlags   FeatureFlagsConfig
	GCP            GCPConfig
	PubSub         PubSubConfig
	Stripe         StripeConfig
	Outbox         OutboxConfig
	Fees           FeesConfig
	Payouts        PayoutsConfig
	Webhooks       WebhooksConfig
	Reconciliation ReconciliationConfig
	Locks          LocksConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Fees.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"SETTLEMENT_APP_ENV" required:"true"`
	Port         string `envconfig:"SETTLEMENT_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"SETTLEMENT_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"SETTLEMENT_LOG_WARN_STACK" default:"false"`
	LogFile      string `envconfig:"SETTLEMENT_LOG_FILE"`
	LogFormat    string `envconfig:"SETTLEMENT_LOG_FORMAT" default:"json"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"SETTLEMENT_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"SETTLEMENT_DB_DSN"`
	Driver string `envconfig:"SETTLEMENT_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"SETTLEMENT_DB_HOST"`
	LegacyPort     int    `envconfig:"SETTLEMENT_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"SETTLEMENT_DB_USER"`
	LegacyPassword string `envconfig:"SETTLEMENT_DB_PASSWORD"`
	LegacyName     string `envconfig:"SETTLEMENT_DB_NAME"`
	LegacySSLMode  string `envconfig:"SETTLEMENT_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"SETTLEMENT_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"SETTLEMENT_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"SETTLEMENT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"SETTLEMENT_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"SETTLEMENT_REDIS_URL" required:"true"`
	Address      string        `envconfig:"SETTLEMENT_REDIS_ADDR"`
	Password     string        `envconfig:"SETTLEMENT_REDIS_PASSWORD"`
	DB           int           `envconfig:"SETTLEMENT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"SETTLEMENT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"SETTLEMENT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"SETTLEMENT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"SETTLEMENT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"SETTLEMENT_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"SETTLEMENT_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"SETTLEMENT_AUTO_MIGRATE" default:"false"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"SETTLEMENT_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"SETTLEMENT_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"SETTLEMENT_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	SettlementTopic string `envconfig:"SETTLEMENT_PUBSUB_SETTLEMENT_TOPIC" default:"settlement-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"SETTLEMENT_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"SETTLEMENT_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"SETTLEMENT_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type StripeConfig struct {
	APIKey string `envconfig:"SETTLEMENT_STRIPE_API_KEY"`
	Secret string `envconfig:"SETTLEMENT_STRIPE_SECRET"`
	Env    string `envconfig:"SETTLEMENT_STRIPE_ENV" default:"test"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

// FeesConfig holds the volume tier table and collaborator fallbacks.
// Tier breakpoints are monthly completed volume in cents.
type FeesConfig struct {
	StarterMaxVolumeCents int64 `envconfig:"SETTLEMENT_FEES_STARTER_MAX_VOLUME_CENTS" default:"1000000"`
	GrowthMaxVolumeCents  int64 `envconfig:"SETTLEMENT_FEES_GROWTH_MAX_VOLUME_CENTS" default:"10000000"`
	StarterBasisPoints    int64 `envconfig:"SETTLEMENT_FEES_STARTER_BPS" default:"800"`
	GrowthBasisPoints     int64 `envconfig:"SETTLEMENT_FEES_GROWTH_BPS" default:"650"`
	EnterpriseBasisPoints int64 `envconfig:"SETTLEMENT_FEES_ENTERPRISE_BPS" default:"500"`

	DefaultStateTaxBasisPoints int64 `envconfig:"SETTLEMENT_FEES_DEFAULT_STATE_TAX_BPS" default:"700"`
	DefaultLocalTaxBasisPoints int64 `envconfig:"SETTLEMENT_FEES_DEFAULT_LOCAL_TAX_BPS" default:"225"`

	DefaultNetwork string `envconfig:"SETTLEMENT_FEES_DEFAULT_NETWORK" default:"solana"`

	VolumeCacheTTL time.Duration `envconfig:"SETTLEMENT_FEES_VOLUME_CACHE_TTL" default:"5m"`
	TaxCacheTTL    time.Duration `envconfig:"SETTLEMENT_FEES_TAX_CACHE_TTL" default:"15m"`
	GasCacheTTL    time.Duration `envconfig:"SETTLEMENT_FEES_GAS_CACHE_TTL" default:"1m"`
}

func (f FeesConfig) validate() error {
	if f.StarterMaxVolumeCents <= 0 || f.GrowthMaxVolumeCents <= f.StarterMaxVolumeCents {
		return fmt.Errorf("fee tier breakpoints must be positive and increasing")
	}
	if f.StarterBasisPoints < f.GrowthBasisPoints || f.GrowthBasisPoints < f.EnterpriseBasisPoints {
		return fmt.Errorf("fee tier rates must be non-increasing with volume")
	}
	if f.EnterpriseBasisPoints < 0 {
		return fmt.Errorf("fee tier rates must be non-negative")
	}
	return nil
}

type PayoutsConfig struct {
	MinPayoutCents       int64 `envconfig:"SETTLEMENT_PAYOUT_MIN_CENTS" default:"10000"`
	MaxDailyPayoutCents  int64 `envconfig:"SETTLEMENT_PAYOUT_MAX_DAILY_CENTS" default:"5000000"`
	LowRiskReserveBPS    int64 `envconfig:"SETTLEMENT_PAYOUT_RESERVE_LOW_BPS" default:"500"`
	MediumRiskReserveBPS int64 `envconfig:"SETTLEMENT_PAYOUT_RESERVE_MEDIUM_BPS" default:"1000"`
	HighRiskReserveBPS   int64 `envconfig:"SETTLEMENT_PAYOUT_RESERVE_HIGH_BPS" default:"2000"`
}

type WebhooksConfig struct {
	BatchSize      int           `envconfig:"SETTLEMENT_WEBHOOK_BATCH_SIZE" default:"10"`
	MaxRetries     int           `envconfig:"SETTLEMENT_WEBHOOK_MAX_RETRIES" default:"5"`
	RetentionDays  int           `envconfig:"SETTLEMENT_WEBHOOK_RETENTION_DAYS" default:"30"`
	PollInterval   time.Duration `envconfig:"SETTLEMENT_WEBHOOK_POLL_INTERVAL" default:"2s"`
	ItemTimeout    time.Duration `envconfig:"SETTLEMENT_WEBHOOK_ITEM_TIMEOUT" default:"15s"`
	MaxPayloadSize int64         `envconfig:"SETTLEMENT_WEBHOOK_MAX_PAYLOAD_BYTES" default:"1048576"`
}

type ReconciliationConfig struct {
	Interval         time.Duration `envconfig:"SETTLEMENT_RECONCILE_INTERVAL" default:"5m"`
	StaleAfter       time.Duration `envconfig:"SETTLEMENT_RECONCILE_STALE_AFTER" default:"10m"`
	BackfillLookback time.Duration `envconfig:"SETTLEMENT_RECONCILE_BACKFILL_LOOKBACK" default:"1h"`
	BatchLimit       int           `envconfig:"SETTLEMENT_RECONCILE_BATCH_LIMIT" default:"100"`
}

type LocksConfig struct {
	Timeout         time.Duration `envconfig:"SETTLEMENT_LOCK_TIMEOUT" default:"12s"`
	RetryInterval   time.Duration `envconfig:"SETTLEMENT_LOCK_RETRY_INTERVAL" default:"50ms"`
	ProviderTimeout time.Duration `envconfig:"SETTLEMENT_PROVIDER_TIMEOUT" default:"12s"`
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
