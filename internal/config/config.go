package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type rawAppConfig struct {
	Port               int                   `yaml:"port"`
	DSN                string                `yaml:"dsn"`
	DatabaseURL        string                `yaml:"database_url"`
	RedisURL           string                `yaml:"redis_url"`
	Database           rawDatabaseConfig     `yaml:"database"`
	Redis              rawRedisConfig        `yaml:"redis"`
	DBHost             string                `yaml:"db_host"`
	DBPort             int                   `yaml:"db_port"`
	DBUser             string                `yaml:"db_user"`
	DBPassword         string                `yaml:"db_password"`
	DBName             string                `yaml:"db_name"`
	DBCharset          string                `yaml:"db_charset"`
	DBLoc              string                `yaml:"db_loc"`
	DBParseTime        *bool                 `yaml:"db_parse_time"`
	RedisHost          string                `yaml:"redis_host"`
	RedisPort          int                   `yaml:"redis_port"`
	RedisUsername      string                `yaml:"redis_username"`
	RedisPassword      string                `yaml:"redis_password"`
	RedisDB            *int                  `yaml:"redis_db"`
	RedisTLS           *bool                 `yaml:"redis_tls"`
	Env                string                `yaml:"env"`
	Environment        string                `yaml:"environment"`
	Paths              rawPathsConfig        `yaml:"paths"`
	LogDir             string                `yaml:"log_dir"`
	LogsDir            string                `yaml:"logs_dir"`
	LogRotateSize      *int                  `yaml:"log_rotate_size_mb"`
	LogRotateKeep      *int                  `yaml:"log_rotate_keep"`
	ArchiveDir         string                `yaml:"archive_dir"`
	AllowedOrigins     []string              `yaml:"allowed_origins"`
	CORSAllowedOrigins []string              `yaml:"cors_allowed_origins"`
	JWTSecret          string                `yaml:"jwt_secret"`
	JWTSecretLegacy    string                `yaml:"jwtsecret"`
	Timezone           string                `yaml:"timezone"`
	TimeZone           string                `yaml:"time_zone"`
	TZ                 string                `yaml:"tz"`
	AI                 rawAIConfig           `yaml:"ai"`
	Cache              rawCacheConfig        `yaml:"cache"`
	PHI                rawPHIConfig          `yaml:"phi"`
	Batch              rawBatchConfig        `yaml:"batch"`
	Archive            *ArchiveRuntimeConfig `yaml:"archive"`
	Alerts             *AlertsRuntimeConfig  `yaml:"alerts"`
	Mail               *MailRuntimeConfig    `yaml:"mail"`
}

type rawDatabaseConfig struct {
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
	ParseTime *bool             `yaml:"parse_time"`
	Loc       string            `yaml:"loc"`
	Params    map[string]string `yaml:"params"`
}

type rawRedisConfig struct {
	URL      string            `yaml:"url"`
	Host     string            `yaml:"host"`
	Port     int               `yaml:"port"`
	Username string            `yaml:"username"`
	Password string            `yaml:"password"`
	DB       *int              `yaml:"db"`
	TLS      *bool             `yaml:"tls"`
	Scheme   string            `yaml:"scheme"`
	Params   map[string]string `yaml:"params"`
}

type rawPathsConfig struct {
	Logs    string `yaml:"logs"`
	Archive string `yaml:"archive"`
}

type rawAIConfig struct {
	RequestTimeoutSeconds *int              `yaml:"request_timeout_seconds"`
	TimeoutSeconds        *int              `yaml:"timeout_seconds"`
	MaxEscalations        *int              `yaml:"max_escalations"`
	AllowUnknownTaskTypes *bool             `yaml:"allow_unknown_task_types"`
	FallbackTier          string            `yaml:"fallback_tier"`
	DefaultTiers          map[string]string `yaml:"default_tiers"`
	Retry                 rawRetryConfig    `yaml:"retry"`
	Providers             []AIProvider      `yaml:"providers"`
	Tiers                 rawTierSet        `yaml:"tiers"`
	Schemas               []TaskSchema      `yaml:"schemas"`
}

type rawRetryConfig struct {
	MaxAttempts   *int `yaml:"max_attempts"`
	BaseBackoffMs *int `yaml:"base_backoff_ms"`
	MaxBackoffMs  *int `yaml:"max_backoff_ms"`
}

type rawTierSet struct {
	Nano     *TierAssignment `yaml:"nano"`
	Mini     *TierAssignment `yaml:"mini"`
	Frontier *TierAssignment `yaml:"frontier"`
}

type rawCacheConfig struct {
	Enabled  *bool `yaml:"enabled"`
	TTLHours *int  `yaml:"ttl_hours"`
}

type rawPHIConfig struct {
	FailClosed    *bool `yaml:"fail_closed"`
	ScanResponses *bool `yaml:"scan_responses"`
}

type rawBatchConfig struct {
	Workers     *int `yaml:"workers"`
	MaxRequests *int `yaml:"max_requests"`
}

func Load(configPath string) (*AppConfig, error) {
	path := strings.TrimSpace(configPath)
	if path == "" {
		path = DefaultConfigPath
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %q: %w", path, err)
	}

	cfg := defaultAppConfig()
	decoder := yaml.NewDecoder(bytes.NewReader(content))
	decoder.KnownFields(true)
	raw := rawAppConfig{}
	if err := decoder.Decode(&raw); err != nil {
		return nil, fmt.Errorf("parse config file %q: %w", path, err)
	}

	applyRawAppConfig(&cfg, raw)
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d in %q, expected 1-65535", cfg.Port, path)
	}
	if cfg.Database.Port < 1 || cfg.Database.Port > 65535 {
		return nil, fmt.Errorf("invalid database.port %d in %q, expected 1-65535", cfg.Database.Port, path)
	}
	if cfg.Redis.Port < 1 || cfg.Redis.Port > 65535 {
		return nil, fmt.Errorf("invalid redis.port %d in %q, expected 1-65535", cfg.Redis.Port, path)
	}
	if cfg.Redis.DB < 0 {
		return nil, fmt.Errorf("invalid redis.db %d in %q, expected >= 0", cfg.Redis.DB, path)
	}
	if err := validateAIConfig(cfg.AI, path); err != nil {
		return nil, err
	}
	if !cfg.PHI.FailClosed && cfg.Env != "development" {
		return nil, fmt.Errorf("phi.fail_closed cannot be disabled in %q environment", cfg.Env)
	}

	return &cfg, nil
}

func defaultAppConfig() AppConfig {
	cfg := AppConfig{
		Port: defaultPort,
		Env:  defaultEnv,
		Database: DatabaseRuntimeConfig{
			Host:      defaultDBHost,
			Port:      defaultDBPort,
			User:      defaultDBUser,
			Password:  defaultDBPassword,
			Name:      defaultDBName,
			Charset:   defaultDBCharset,
			ParseTime: true,
			Loc:       defaultDBLoc,
		},
		Redis: RedisRuntimeConfig{
			Host: defaultRedisHost,
			Port: defaultRedisPort,
			DB:   defaultRedisDB,
		},
		AI: AIRuntimeConfig{
			RequestTimeoutSeconds: defaultRequestTimeoutSeconds,
			MaxEscalations:        defaultMaxEscalations,
			FallbackTier:          defaultFallbackTier,
		},
		Cache: CacheRuntimeConfig{
			Enabled:  true,
			TTLHours: defaultCacheTTLHours,
		},
		PHI: PHIRuntimeConfig{
			FailClosed:    true,
			ScanResponses: true,
		},
		Batch: BatchRuntimeConfig{
			Workers:     defaultBatchWorkers,
			MaxRequests: defaultBatchMaxRequests,
		},
	}
	cfg.Database = normalizeDatabaseConfig(cfg.Database)
	cfg.Redis = normalizeRedisConfig(cfg.Redis)
	cfg.AI = normalizeAIConfig(cfg.AI)
	cfg.DSN = cfg.Database.DSNValue()
	cfg.RedisURL = cfg.Redis.URLValue()
	return cfg
}

func applyRawAppConfig(cfg *AppConfig, raw rawAppConfig) {
	if raw.Port != 0 {
		cfg.Port = raw.Port
	}
	cfg.Database = applyRawDatabaseConfig(cfg.Database, raw)
	cfg.Redis = applyRawRedisConfig(cfg.Redis, raw)
	if v := strings.TrimSpace(raw.Env); v != "" {
		cfg.Env = v
	}
	if v := strings.TrimSpace(raw.Environment); v != "" {
		cfg.Env = v
	}
	if v := strings.TrimSpace(raw.Paths.Logs); v != "" {
		cfg.Paths.Logs = v
	}
	if v := strings.TrimSpace(raw.LogDir); v != "" {
		cfg.Paths.Logs = v
	}
	if v := strings.TrimSpace(raw.LogsDir); v != "" {
		cfg.Paths.Logs = v
	}
	if v := strings.TrimSpace(raw.Paths.Archive); v != "" {
		cfg.Paths.Archive = v
	}
	if v := strings.TrimSpace(raw.ArchiveDir); v != "" {
		cfg.Paths.Archive = v
	}
	if raw.LogRotateSize != nil {
		v := *raw.LogRotateSize
		cfg.LogRotateSize = &v
	}
	if raw.LogRotateKeep != nil {
		v := *raw.LogRotateKeep
		cfg.LogRotateKeep = &v
	}

	switch {
	case raw.AllowedOrigins != nil:
		cfg.AllowedOrigins = normalizeOrigins(raw.AllowedOrigins)
	case raw.CORSAllowedOrigins != nil:
		cfg.AllowedOrigins = normalizeOrigins(raw.CORSAllowedOrigins)
	}

	if v := strings.TrimSpace(raw.JWTSecret); v != "" {
		cfg.JWTSecret = v
	}
	if v := strings.TrimSpace(raw.JWTSecretLegacy); v != "" {
		cfg.JWTSecret = v
	}
	if v := strings.TrimSpace(raw.Timezone); v != "" {
		cfg.Timezone = v
	}
	if v := strings.TrimSpace(raw.TimeZone); v != "" {
		cfg.Timezone = v
	}
	if v := strings.TrimSpace(raw.TZ); v != "" {
		cfg.Timezone = v
	}

	cfg.AI = applyRawAIConfig(cfg.AI, raw.AI)
	cfg.Cache = applyRawCacheConfig(cfg.Cache, raw.Cache)
	cfg.PHI = applyRawPHIConfig(cfg.PHI, raw.PHI)
	cfg.Batch = applyRawBatchConfig(cfg.Batch, raw.Batch)
	if raw.Archive != nil {
		cfg.Archive = normalizeArchiveConfig(*raw.Archive)
	}
	if raw.Alerts != nil {
		cfg.Alerts = *raw.Alerts
		cfg.Alerts.WebhookURL = strings.TrimSpace(cfg.Alerts.WebhookURL)
	}
	if raw.Mail != nil {
		cfg.Mail = *raw.Mail
	}

	cfg.DSN = cfg.Database.DSNValue()
	cfg.RedisURL = cfg.Redis.URLValue()
	cfg.Paths = normalizeRuntimePaths(cfg.Paths)
	cfg.Env = normalizeEnv(cfg.Env)
}

func applyRawDatabaseConfig(current DatabaseRuntimeConfig, raw rawAppConfig) DatabaseRuntimeConfig {
	cfg := current

	if v := strings.TrimSpace(raw.Database.DSN); v != "" {
		cfg.DSN = v
	}
	if v := strings.TrimSpace(raw.Database.URL); v != "" {
		cfg.DSN = v
	}
	if v := strings.TrimSpace(raw.DSN); v != "" {
		cfg.DSN = v
	}
	if v := strings.TrimSpace(raw.DatabaseURL); v != "" {
		cfg.DSN = v
	}
	if v := strings.TrimSpace(raw.Database.Host); v != "" {
		cfg.Host = v
	}
	if v := strings.TrimSpace(raw.DBHost); v != "" {
		cfg.Host = v
	}
	if raw.Database.Port != 0 {
		cfg.Port = raw.Database.Port
	}
	if raw.DBPort != 0 {
		cfg.Port = raw.DBPort
	}
	if v := strings.TrimSpace(raw.Database.User); v != "" {
		cfg.User = v
	}
	if v := strings.TrimSpace(raw.Database.Username); v != "" {
		cfg.User = v
	}
	if v := strings.TrimSpace(raw.DBUser); v != "" {
		cfg.User = v
	}
	if v := strings.TrimSpace(raw.Database.Password); v != "" {
		cfg.Password = v
	}
	if v := strings.TrimSpace(raw.DBPassword); v != "" {
		cfg.Password = v
	}
	if v := strings.TrimSpace(raw.Database.Name); v != "" {
		cfg.Name = v
	}
	if v := strings.TrimSpace(raw.Database.DBName); v != "" {
		cfg.Name = v
	}
	if v := strings.TrimSpace(raw.DBName); v != "" {
		cfg.Name = v
	}
	if v := strings.TrimSpace(raw.Database.Charset); v != "" {
		cfg.Charset = v
	}
	if v := strings.TrimSpace(raw.DBCharset); v != "" {
		cfg.Charset = v
	}
	if raw.Database.ParseTime != nil {
		cfg.ParseTime = *raw.Database.ParseTime
	}
	if raw.DBParseTime != nil {
		cfg.ParseTime = *raw.DBParseTime
	}
	if v := strings.TrimSpace(raw.Database.Loc); v != "" {
		cfg.Loc = v
	}
	if v := strings.TrimSpace(raw.DBLoc); v != "" {
		cfg.Loc = v
	}
	if raw.Database.Params != nil {
		cfg.Params = copyStringMap(raw.Database.Params)
	}

	return normalizeDatabaseConfig(cfg)
}

func applyRawRedisConfig(current RedisRuntimeConfig, raw rawAppConfig) RedisRuntimeConfig {
	cfg := current

	if v := strings.TrimSpace(raw.Redis.URL); v != "" {
		cfg.URL = v
	}
	if v := strings.TrimSpace(raw.RedisURL); v != "" {
		cfg.URL = v
	}
	if v := strings.TrimSpace(raw.Redis.Host); v != "" {
		cfg.Host = v
	}
	if v := strings.TrimSpace(raw.RedisHost); v != "" {
		cfg.Host = v
	}
	if raw.Redis.Port != 0 {
		cfg.Port = raw.Redis.Port
	}
	if raw.RedisPort != 0 {
		cfg.Port = raw.RedisPort
	}
	if v := strings.TrimSpace(raw.Redis.Username); v != "" {
		cfg.Username = v
	}
	if v := strings.TrimSpace(raw.RedisUsername); v != "" {
		cfg.Username = v
	}
	if v := strings.TrimSpace(raw.Redis.Password); v != "" {
		cfg.Password = v
	}
	if v := strings.TrimSpace(raw.RedisPassword); v != "" {
		cfg.Password = v
	}
	if raw.Redis.DB != nil {
		cfg.DB = *raw.Redis.DB
	}
	if raw.RedisDB != nil {
		cfg.DB = *raw.RedisDB
	}
	if raw.Redis.TLS != nil {
		cfg.TLS = *raw.Redis.TLS
	}
	if raw.RedisTLS != nil {
		cfg.TLS = *raw.RedisTLS
	}
	if v := strings.TrimSpace(raw.Redis.Scheme); v != "" {
		cfg.Scheme = v
	}
	if raw.Redis.Params != nil {
		cfg.Params = copyStringMap(raw.Redis.Params)
	}

	return normalizeRedisConfig(cfg)
}

func applyRawAIConfig(current AIRuntimeConfig, raw rawAIConfig) AIRuntimeConfig {
	cfg := current

	if raw.RequestTimeoutSeconds != nil {
		cfg.RequestTimeoutSeconds = *raw.RequestTimeoutSeconds
	}
	if raw.TimeoutSeconds != nil {
		cfg.RequestTimeoutSeconds = *raw.TimeoutSeconds
	}
	if raw.MaxEscalations != nil {
		cfg.MaxEscalations = *raw.MaxEscalations
	}
	if raw.AllowUnknownTaskTypes != nil {
		cfg.AllowUnknownTaskTypes = *raw.AllowUnknownTaskTypes
	}
	if v := strings.TrimSpace(raw.FallbackTier); v != "" {
		cfg.FallbackTier = v
	}
	if raw.DefaultTiers != nil {
		cfg.DefaultTiers = raw.DefaultTiers
	}
	if raw.Retry.MaxAttempts != nil {
		cfg.Retry.MaxAttempts = *raw.Retry.MaxAttempts
	}
	if raw.Retry.BaseBackoffMs != nil {
		cfg.Retry.BaseBackoffMs = *raw.Retry.BaseBackoffMs
	}
	if raw.Retry.MaxBackoffMs != nil {
		cfg.Retry.MaxBackoffMs = *raw.Retry.MaxBackoffMs
	}
	if raw.Providers != nil {
		cfg.Providers = raw.Providers
	}
	if raw.Tiers.Nano != nil {
		cfg.Tiers.Nano = *raw.Tiers.Nano
	}
	if raw.Tiers.Mini != nil {
		cfg.Tiers.Mini = *raw.Tiers.Mini
	}
	if raw.Tiers.Frontier != nil {
		cfg.Tiers.Frontier = *raw.Tiers.Frontier
	}
	if raw.Schemas != nil {
		cfg.Schemas = raw.Schemas
	}

	return normalizeAIConfig(cfg)
}

func applyRawCacheConfig(current CacheRuntimeConfig, raw rawCacheConfig) CacheRuntimeConfig {
	cfg := current
	if raw.Enabled != nil {
		cfg.Enabled = *raw.Enabled
	}
	if raw.TTLHours != nil {
		cfg.TTLHours = *raw.TTLHours
	}
	return normalizeCacheConfig(cfg)
}

func applyRawPHIConfig(current PHIRuntimeConfig, raw rawPHIConfig) PHIRuntimeConfig {
	cfg := current
	if raw.FailClosed != nil {
		cfg.FailClosed = *raw.FailClosed
	}
	if raw.ScanResponses != nil {
		cfg.ScanResponses = *raw.ScanResponses
	}
	return cfg
}

func applyRawBatchConfig(current BatchRuntimeConfig, raw rawBatchConfig) BatchRuntimeConfig {
	cfg := current
	if raw.Workers != nil {
		cfg.Workers = *raw.Workers
	}
	if raw.MaxRequests != nil {
		cfg.MaxRequests = *raw.MaxRequests
	}
	return normalizeBatchConfig(cfg)
}

func validateAIConfig(cfg AIRuntimeConfig, path string) error {
	if cfg.RequestTimeoutSeconds < 1 {
		return fmt.Errorf("invalid ai.request_timeout_seconds %d in %q, expected >= 1", cfg.RequestTimeoutSeconds, path)
	}
	known := make(map[string]bool, len(cfg.Providers))
	for _, provider := range cfg.Providers {
		if provider.ID == "" {
			continue
		}
		if known[provider.ID] {
			return fmt.Errorf("duplicate ai provider id %q in %q", provider.ID, path)
		}
		known[provider.ID] = true
	}
	for _, binding := range []struct {
		tier       string
		assignment TierAssignment
	}{
		{TierNano, cfg.Tiers.Nano},
		{TierMini, cfg.Tiers.Mini},
		{TierFrontier, cfg.Tiers.Frontier},
	} {
		if binding.assignment.ProviderID == "" {
			continue
		}
		if !known[binding.assignment.ProviderID] {
			return fmt.Errorf("tier %s references unknown provider %q in %q", binding.tier, binding.assignment.ProviderID, path)
		}
		if binding.assignment.Model == "" {
			return fmt.Errorf("tier %s is missing a model in %q", binding.tier, path)
		}
	}
	return nil
}
