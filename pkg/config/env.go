package config

const (
	EnvPrefix = "SETTLEMENT"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv   = "SETTLEMENT_APP_ENV"
	EnvPort     = "SETTLEMENT_APP_PORT"
	EnvDBDSN    = "SETTLEMENT_DB_DSN"
	EnvDBHost   = "SETTLEMENT_DB_HOST"
	EnvDBUser   = "SETTLEMENT_DB_USER"
	EnvDBName   = "SETTLEMENT_DB_NAME"
	EnvRedisURL = "SETTLEMENT_REDIS_URL"

	EnvFeesStarterBPS    = "SETTLEMENT_FEES_STARTER_BPS"
	EnvFeesGrowthBPS     = "SETTLEMENT_FEES_GROWTH_BPS"
	EnvPayoutMinCents    = "SETTLEMENT_PAYOUT_MIN_CENTS"
	EnvWebhookBatchSize  = "SETTLEMENT_WEBHOOK_BATCH_SIZE"
	EnvReconcileInterval = "SETTLEMENT_RECONCILE_INTERVAL"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
