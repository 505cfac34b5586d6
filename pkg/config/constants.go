package config

// EnvPrefix is passed to envconfig; variables carry the full DRIVEHUB_ name in
// their struct tags so the prefix stays empty.
const EnvPrefix = ""

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv   = "DRIVEHUB_APP_ENV"
	EnvPort     = "DRIVEHUB_APP_PORT"
	EnvRedisURL = "DRIVEHUB_REDIS_URL"

	EnvDBDSN  = "DRIVEHUB_DB_DSN"
	EnvDBHost = "DRIVEHUB_DB_HOST"
	EnvDBUser = "DRIVEHUB_DB_USER"
	EnvDBName = "DRIVEHUB_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
