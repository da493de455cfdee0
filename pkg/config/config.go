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
	GCP          GCPConfig
	PubSub       PubSubConfig
	GoogleMaps   GoogleMapsConfig
	Pricing      PricingConfig
	Earnings     EarningsConfig
	Assignment   AssignmentConfig
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
	Env          string `envconfig:"BASKETLY_APP_ENV" required:"true"`
	Port         string `envconfig:"BASKETLY_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"BASKETLY_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"BASKETLY_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"BASKETLY_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"BASKETLY_DB_DSN"`
	Driver string `envconfig:"BASKETLY_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"BASKETLY_DB_HOST"`
	LegacyPort     int    `envconfig:"BASKETLY_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"BASKETLY_DB_USER"`
	LegacyPassword string `envconfig:"BASKETLY_DB_PASSWORD"`
	LegacyName     string `envconfig:"BASKETLY_DB_NAME"`
	LegacySSLMode  string `envconfig:"BASKETLY_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"BASKETLY_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"BASKETLY_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"BASKETLY_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"BASKETLY_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"BASKETLY_REDIS_URL" required:"true"`
	Address      string        `envconfig:"BASKETLY_REDIS_ADDR"`
	Password     string        `envconfig:"BASKETLY_REDIS_PASSWORD"`
	DB           int           `envconfig:"BASKETLY_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"BASKETLY_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"BASKETLY_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"BASKETLY_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"BASKETLY_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"BASKETLY_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"BASKETLY_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"BASKETLY_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"BASKETLY_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	OrderEventsTopic  string `envconfig:"BASKETLY_PUBSUB_ORDER_EVENTS_TOPIC" required:"true"`
	NotificationTopic string `envconfig:"BASKETLY_PUBSUB_NOTIFICATION_TOPIC" default:"basketly-notification-events"`
}

type GoogleMapsConfig struct {
	APIKey string `envconfig:"BASKETLY_GOOGLE_MAPS_API_KEY"`
}

// PricingConfig carries the fallback delivery-charge schedule used when the
// platform settings row has no value for a category.
type PricingConfig struct {
	GroceryDeliveryCharge float64 `envconfig:"BASKETLY_PRICING_GROCERY_DELIVERY_CHARGE" default:"30"`
	FoodDeliveryCharge    float64 `envconfig:"BASKETLY_PRICING_FOOD_DELIVERY_CHARGE" default:"40"`
	FreeDeliveryThreshold float64 `envconfig:"BASKETLY_PRICING_FREE_DELIVERY_THRESHOLD" default:"100"`
}

type EarningsConfig struct {
	CommissionRate float64 `envconfig:"BASKETLY_EARNINGS_COMMISSION_RATE" default:"0.1"`
	AgentShareRate float64 `envconfig:"BASKETLY_EARNINGS_AGENT_SHARE_RATE" default:"0.8"`
}

type AssignmentConfig struct {
	OfferTimeout         time.Duration `envconfig:"BASKETLY_ASSIGNMENT_OFFER_TIMEOUT" default:"3m"`
	SweepBatchSize       int           `envconfig:"BASKETLY_ASSIGNMENT_SWEEP_BATCH_SIZE" default:"50"`
	SweepInterval        time.Duration `envconfig:"BASKETLY_ASSIGNMENT_SWEEP_INTERVAL" default:"1m"`
	RetryBatchSize       int           `envconfig:"BASKETLY_ASSIGNMENT_RETRY_BATCH_SIZE" default:"20"`
	RetryInterval        time.Duration `envconfig:"BASKETLY_ASSIGNMENT_RETRY_INTERVAL" default:"1m"`
	MaxRetryAttempts     int           `envconfig:"BASKETLY_ASSIGNMENT_MAX_RETRY_ATTEMPTS" default:"10"`
	OrderRetryCooldown   time.Duration `envconfig:"BASKETLY_ASSIGNMENT_ORDER_RETRY_COOLDOWN" default:"2m"`
	AgentCapacity        int           `envconfig:"BASKETLY_ASSIGNMENT_AGENT_CAPACITY" default:"3"`
	LowAvailabilityFloor int           `envconfig:"BASKETLY_ASSIGNMENT_LOW_AVAILABILITY_FLOOR" default:"3"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"BASKETLY_AUTO_MIGRATE" default:"false"`
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
