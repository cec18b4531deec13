package config

// AppConfig holds runtime startup configuration loaded from YAML.
type AppConfig struct {
	Port           int                   `yaml:"port"`
	DSN            string                `yaml:"dsn"` // MySQL DSN
	RedisURL       string                `yaml:"redis_url"`
	Database       DatabaseRuntimeConfig `yaml:"database"`
	Redis          RedisRuntimeConfig    `yaml:"redis"`
	Env            string                `yaml:"env"` // "development" | "production"
	Paths          RuntimePathsConfig    `yaml:"paths"`
	LogRotateSize  *int                  `yaml:"log_rotate_size_mb"`
	LogRotateKeep  *int                  `yaml:"log_rotate_keep"`
	AllowedOrigins []string              `yaml:"allowed_origins"`
	JWTSecret      string                `yaml:"jwt_secret"`
	Timezone       string                `yaml:"timezone"`
	AI             AIRuntimeConfig       `yaml:"ai"`
	Cache          CacheRuntimeConfig    `yaml:"cache"`
	PHI            PHIRuntimeConfig      `yaml:"phi"`
	Batch          BatchRuntimeConfig    `yaml:"batch"`
	Archive        ArchiveRuntimeConfig  `yaml:"archive"`
	Alerts         AlertsRuntimeConfig   `yaml:"alerts"`
	Mail           MailRuntimeConfig     `yaml:"mail"`
}

type DatabaseRuntimeConfig struct {
	DSN       string            `yaml:"dsn"`
	URL       string            `yaml:"url"`
	Host      string            `yaml:"host"`
	Port      int               `yaml:"port"`
	User      string            `yaml:"user"`
	Username  string            `yaml:"username"`
	Password  string            `yaml:"password"`
	Name      string            `yaml:"name"`
	DBName    string            `yaml:"db_name"`
	Charset   string            `yaml:"charset"`
	ParseTime bool              `yaml:"parse_time"`
	Loc       string            `yaml:"loc"`
	Params    map[string]string `yaml:"params"`
}

type RedisRuntimeConfig struct {
	URL      string            `yaml:"url"`
	Host     string            `yaml:"host"`
	Port     int               `yaml:"port"`
	Username string            `yaml:"username"`
	Password string            `yaml:"password"`
	DB       int               `yaml:"db"`
	TLS      bool              `yaml:"tls"`
	Scheme   string            `yaml:"scheme"`
	Params   map[string]string `yaml:"params"`
}

type RuntimePathsConfig struct {
	Logs    string `yaml:"logs"`
	Archive string `yaml:"archive"`
}

// AIRuntimeConfig is the routing core configuration: upstream providers,
// tier assignments with pricing, default tier per task type, and the
// escalation/retry knobs. Default tiers may be overridden at runtime
// through the settings module.
type AIRuntimeConfig struct {
	RequestTimeoutSeconds int                `yaml:"request_timeout_seconds"`
	MaxEscalations        int                `yaml:"max_escalations"`
	AllowUnknownTaskTypes bool               `yaml:"allow_unknown_task_types"`
	FallbackTier          string             `yaml:"fallback_tier"`
	DefaultTiers          map[string]string  `yaml:"default_tiers"`
	Retry                 RetryRuntimeConfig `yaml:"retry"`
	Providers             []AIProvider       `yaml:"providers"`
	Tiers                 TierAssignments    `yaml:"tiers"`
	Schemas               []TaskSchema       `yaml:"schemas"`
}

// TaskSchema configures extra structural validation for JSON responses of
// one task type.
type TaskSchema struct {
	TaskType     string   `yaml:"task_type" json:"taskType"`
	RequiredKeys []string `yaml:"required_keys" json:"requiredKeys,omitempty"`
	ValidatorJS  string   `yaml:"validator_js" json:"validatorJs,omitempty"`
}

type RetryRuntimeConfig struct {
	MaxAttempts   int `yaml:"max_attempts"`
	BaseBackoffMs int `yaml:"base_backoff_ms"`
	MaxBackoffMs  int `yaml:"max_backoff_ms"`
}

// AIProvider describes one upstream model backend.
type AIProvider struct {
	ID           string `yaml:"id" json:"id"`
	Name         string `yaml:"name" json:"name"`
	Type         string `yaml:"type" json:"type"` // OpenAI | OpenAI-Compatible | Anthropic | OpenRouter
	APIKey       string `yaml:"api_key" json:"api_key"`
	Endpoint     string `yaml:"endpoint" json:"endpoint,omitempty"`
	DefaultModel string `yaml:"default_model" json:"default_model"`
	Enabled      bool   `yaml:"enabled" json:"enabled"`
}

// TierAssignment binds a model tier to a provider, a concrete model and
// its pricing per 1K tokens.
type TierAssignment struct {
	ProviderID      string  `yaml:"provider_id" json:"provider_id"`
	Model           string  `yaml:"model" json:"model"`
	InputCostPer1K  float64 `yaml:"input_cost_per_1k" json:"input_cost_per_1k"`
	OutputCostPer1K float64 `yaml:"output_cost_per_1k" json:"output_cost_per_1k"`
	MaxOutputTokens int     `yaml:"max_output_tokens" json:"max_output_tokens"`
}

type TierAssignments struct {
	Nano     TierAssignment `yaml:"nano" json:"nano"`
	Mini     TierAssignment `yaml:"mini" json:"mini"`
	Frontier TierAssignment `yaml:"frontier" json:"frontier"`
}

type CacheRuntimeConfig struct {
	Enabled  bool `yaml:"enabled"`
	TTLHours int  `yaml:"ttl_hours"`
}

type PHIRuntimeConfig struct {
	FailClosed    bool `yaml:"fail_closed"`
	ScanResponses bool `yaml:"scan_responses"`
}

type BatchRuntimeConfig struct {
	Workers     int `yaml:"workers"`
	MaxRequests int `yaml:"max_requests"`
}

type ArchiveRuntimeConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Prefix          string `yaml:"prefix"`
	PathStyleAccess bool   `yaml:"path_style_access"`
	RetentionDays   int    `yaml:"retention_days"`
}

type AlertsRuntimeConfig struct {
	Enable         bool    `yaml:"enable"`
	WebhookURL     string  `yaml:"webhook_url"`
	BudgetDailyUsd float64 `yaml:"budget_daily_usd"`
}

type MailRuntimeConfig struct {
	Enable bool              `yaml:"enable"`
	From   string            `yaml:"from"`
	To     string            `yaml:"to"`
	SMTP   SMTPRuntimeConfig `yaml:"smtp"`
}

type SMTPRuntimeConfig struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	Secure bool   `yaml:"secure"`
	User   string `yaml:"user"`
	Pass   string `yaml:"pass"`
}
