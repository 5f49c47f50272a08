package config

const EnvPrefix = "JOBROUTER"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"

	CursorBackendDB    = "db"
	CursorBackendRedis = "redis"

	QuotaOverflowDowngrade = "downgrade"
	QuotaOverflowReject    = "reject"

	LogFormatJSON    = "json"
	LogFormatConsole = "console"
)

const (
	EnvAppEnv    = "JOBROUTER_APP_ENV"
	EnvPort      = "JOBROUTER_APP_PORT"
	EnvLogLevel  = "JOBROUTER_LOG_LEVEL"
	EnvLogFormat = "JOBROUTER_LOG_FORMAT"

	EnvDBDSN    = "JOBROUTER_DB_DSN"
	EnvDBDriver = "JOBROUTER_DB_DRIVER"
	EnvDBHost   = "JOBROUTER_DB_HOST"
	EnvDBUser   = "JOBROUTER_DB_USER"
	EnvDBName   = "JOBROUTER_DB_NAME"

	EnvRedisURL = "JOBROUTER_REDIS_URL"

	EnvJWTSecret  = "JOBROUTER_JWT_SECRET"
	EnvJWTIssuer  = "JOBROUTER_JWT_ISSUER"
	EnvJWTExpMins = "JOBROUTER_JWT_EXPIRATION_MINUTES"

	EnvEngineTimezone      = "JOBROUTER_ENGINE_TIMEZONE"
	EnvEngineCursorBackend = "JOBROUTER_ENGINE_CURSOR_BACKEND"

	EnvQuotaMaxUrgentPercent = "JOBROUTER_QUOTA_MAX_URGENT_PERCENT"
	EnvQuotaMaxHighPercent   = "JOBROUTER_QUOTA_MAX_HIGH_PERCENT"
	EnvQuotaOverflowPolicy   = "JOBROUTER_QUOTA_OVERFLOW_POLICY"

	EnvGCPProjectID      = "JOBROUTER_GCP_PROJECT_ID"
	EnvPubSubNotifyTopic = "JOBROUTER_PUBSUB_NOTIFICATION_TOPIC"
	EnvPubSubNotifySub   = "JOBROUTER_PUBSUB_NOTIFICATION_SUBSCRIPTION"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
