package config

// EnvPrefix is passed to envconfig; individual tags carry the full name so the
// prefix only matters for variables without an explicit tag.
const EnvPrefix = "BASKETLY"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "production"
)

// Environment variable names referenced outside struct tags (tests, error
// messages).
const (
	EnvAppEnv   = "BASKETLY_APP_ENV"
	EnvPort     = "BASKETLY_APP_PORT"
	EnvDBDSN    = "BASKETLY_DB_DSN"
	EnvDBHost   = "BASKETLY_DB_HOST"
	EnvDBUser   = "BASKETLY_DB_USER"
	EnvDBName   = "BASKETLY_DB_NAME"
	EnvRedisURL = "BASKETLY_REDIS_URL"

	EnvGCPProjectID = "BASKETLY_GCP_PROJECT_ID"

	EnvPubSubOrderEventsTopic   = "BASKETLY_PUBSUB_ORDER_EVENTS_TOPIC"
	EnvPubSubNotificationsTopic = "BASKETLY_PUBSUB_NOTIFICATION_TOPIC"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
