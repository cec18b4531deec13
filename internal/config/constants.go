package config

const (
	// DefaultConfigPath is used when --config is not provided.
	DefaultConfigPath = "config.yml"
	defaultPort       = 2335
	defaultEnv        = "development"
	defaultDBHost     = "127.0.0.1"
	defaultDBPort     = 3306
	defaultDBUser     = "root"
	defaultDBPassword = "password"
	defaultDBName     = "researchflow_ai"
	defaultDBCharset  = "utf8mb4"
	defaultDBLoc      = "Local"
	defaultRedisHost  = "localhost"
	defaultRedisPort  = 6379
	defaultRedisDB    = 0

	defaultRequestTimeoutSeconds = 45
	defaultMaxEscalations        = 2
	defaultFallbackTier          = "MINI"
	defaultRetryMaxAttempts      = 2
	defaultRetryBaseBackoffMs    = 250
	defaultRetryMaxBackoffMs     = 4000
	defaultCacheTTLHours         = 24
	defaultBatchWorkers          = 4
	defaultBatchMaxRequests      = 500
	defaultArchiveRetentionDays  = 365
)

// TaskTypes enumerates the work categories the router understands. The
// zero-config tier defaults below follow the cost profile of each task:
// extraction and classification stay on the cheapest tier, synthesis and
// review need frontier reasoning.
var defaultTaskTierDefaults = map[string]string{
	"EXTRACT":    "NANO",
	"CLASSIFY":   "NANO",
	"SUMMARIZE":  "MINI",
	"DRAFT":      "MINI",
	"SYNTHESIZE": "FRONTIER",
	"REVIEW":     "FRONTIER",
}
