package config

import "strings"

func normalizeDatabaseConfig(cfg DatabaseRuntimeConfig) DatabaseRuntimeConfig {
	cfg.DSN = strings.TrimSpace(cfg.DSN)
	cfg.URL = strings.TrimSpace(cfg.URL)
	cfg.Host = strings.TrimSpace(cfg.Host)
	cfg.User = strings.TrimSpace(cfg.User)
	cfg.Username = strings.TrimSpace(cfg.Username)
	cfg.Password = strings.TrimSpace(cfg.Password)
	cfg.Name = strings.TrimSpace(cfg.Name)
	cfg.DBName = strings.TrimSpace(cfg.DBName)
	cfg.Charset = strings.TrimSpace(cfg.Charset)
	cfg.Loc = strings.TrimSpace(cfg.Loc)

	if cfg.User == "" && cfg.Username != "" {
		cfg.User = cfg.Username
	}
	if cfg.Name == "" && cfg.DBName != "" {
		cfg.Name = cfg.DBName
	}
	if cfg.Host == "" {
		cfg.Host = defaultDBHost
	}
	if cfg.Port == 0 {
		cfg.Port = defaultDBPort
	}
	if cfg.User == "" {
		cfg.User = defaultDBUser
	}
	if cfg.Password == "" {
		cfg.Password = defaultDBPassword
	}
	if cfg.Name == "" {
		cfg.Name = defaultDBName
	}
	if cfg.Charset == "" {
		cfg.Charset = defaultDBCharset
	}
	if cfg.Loc == "" {
		cfg.Loc = defaultDBLoc
	}
	if cfg.Params != nil {
		cfg.Params = copyStringMap(cfg.Params)
	}
	return cfg
}

func normalizeRedisConfig(cfg RedisRuntimeConfig) RedisRuntimeConfig {
	cfg.URL = normalizeRedisRawURL(cfg.URL)
	cfg.Host = strings.TrimSpace(cfg.Host)
	cfg.Username = strings.TrimSpace(cfg.Username)
	cfg.Password = strings.TrimSpace(cfg.Password)
	cfg.Scheme = strings.ToLower(strings.TrimSpace(cfg.Scheme))

	if cfg.Host == "" && cfg.URL == "" {
		cfg.Host = defaultRedisHost
	}
	if cfg.Port == 0 {
		cfg.Port = defaultRedisPort
	}
	if cfg.DB < 0 {
		cfg.DB = defaultRedisDB
	}
	if cfg.Scheme == "" {
		if cfg.TLS {
			cfg.Scheme = "rediss"
		} else {
			cfg.Scheme = "redis"
		}
	}
	if cfg.Params != nil {
		cfg.Params = copyStringMap(cfg.Params)
	}
	return cfg
}

func normalizeRedisRawURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(trimmed, "redis://") || strings.HasPrefix(trimmed, "rediss://") {
		return trimmed
	}
	return "redis://" + trimmed
}

func normalizeAIConfig(cfg AIRuntimeConfig) AIRuntimeConfig {
	if cfg.RequestTimeoutSeconds <= 0 {
		cfg.RequestTimeoutSeconds = defaultRequestTimeoutSeconds
	}
	if cfg.MaxEscalations < 0 {
		cfg.MaxEscalations = 0
	}
	if cfg.MaxEscalations == 0 {
		cfg.MaxEscalations = defaultMaxEscalations
	}
	cfg.FallbackTier = NormalizeTierName(cfg.FallbackTier)
	if cfg.FallbackTier == "" {
		cfg.FallbackTier = defaultFallbackTier
	}
	cfg.DefaultTiers = normalizeTaskTiers(cfg.DefaultTiers)
	cfg.Retry = normalizeRetryConfig(cfg.Retry)

	providers := make([]AIProvider, 0, len(cfg.Providers))
	for _, provider := range cfg.Providers {
		p := normalizeProvider(provider)
		if p.ID == "" {
			continue
		}
		providers = append(providers, p)
	}
	cfg.Providers = providers

	cfg.Tiers.Nano = normalizeTierAssignment(cfg.Tiers.Nano)
	cfg.Tiers.Mini = normalizeTierAssignment(cfg.Tiers.Mini)
	cfg.Tiers.Frontier = normalizeTierAssignment(cfg.Tiers.Frontier)
	return cfg
}

// normalizeTaskTiers keeps only entries whose tier resolves to a known
// name; task type keys are upper-cased so lookups are case-insensitive.
func normalizeTaskTiers(in map[string]string) map[string]string {
	if len(in) == 0 {
		return copyStringMap(defaultTaskTierDefaults)
	}
	out := copyStringMap(defaultTaskTierDefaults)
	for key, value := range in {
		task := strings.ToUpper(strings.TrimSpace(key))
		tier := NormalizeTierName(value)
		if task == "" || tier == "" {
			continue
		}
		out[task] = tier
	}
	return out
}

func normalizeRetryConfig(cfg RetryRuntimeConfig) RetryRuntimeConfig {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultRetryMaxAttempts
	}
	if cfg.BaseBackoffMs <= 0 {
		cfg.BaseBackoffMs = defaultRetryBaseBackoffMs
	}
	if cfg.MaxBackoffMs <= 0 {
		cfg.MaxBackoffMs = defaultRetryMaxBackoffMs
	}
	if cfg.MaxBackoffMs < cfg.BaseBackoffMs {
		cfg.MaxBackoffMs = cfg.BaseBackoffMs
	}
	return cfg
}

func normalizeProvider(p AIProvider) AIProvider {
	p.ID = strings.TrimSpace(p.ID)
	p.Name = strings.TrimSpace(p.Name)
	p.Type = strings.TrimSpace(p.Type)
	p.APIKey = strings.TrimSpace(p.APIKey)
	p.Endpoint = strings.TrimSpace(p.Endpoint)
	p.DefaultModel = strings.TrimSpace(p.DefaultModel)
	if p.Name == "" {
		p.Name = p.ID
	}
	return p
}

func normalizeTierAssignment(t TierAssignment) TierAssignment {
	t.ProviderID = strings.TrimSpace(t.ProviderID)
	t.Model = strings.TrimSpace(t.Model)
	if t.InputCostPer1K < 0 {
		t.InputCostPer1K = 0
	}
	if t.OutputCostPer1K < 0 {
		t.OutputCostPer1K = 0
	}
	if t.MaxOutputTokens < 0 {
		t.MaxOutputTokens = 0
	}
	return t
}

func normalizeCacheConfig(cfg CacheRuntimeConfig) CacheRuntimeConfig {
	if cfg.TTLHours <= 0 {
		cfg.TTLHours = defaultCacheTTLHours
	}
	return cfg
}

func normalizeBatchConfig(cfg BatchRuntimeConfig) BatchRuntimeConfig {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultBatchWorkers
	}
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = defaultBatchMaxRequests
	}
	return cfg
}

func normalizeArchiveConfig(cfg ArchiveRuntimeConfig) ArchiveRuntimeConfig {
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	cfg.Region = strings.TrimSpace(cfg.Region)
	cfg.Bucket = strings.TrimSpace(cfg.Bucket)
	cfg.AccessKeyID = strings.TrimSpace(cfg.AccessKeyID)
	cfg.SecretAccessKey = strings.TrimSpace(cfg.SecretAccessKey)
	cfg.Prefix = strings.Trim(strings.TrimSpace(cfg.Prefix), "/")
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = defaultArchiveRetentionDays
	}
	return cfg
}

func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(env string) string {
	trimmed := strings.ToLower(strings.TrimSpace(env))
	if trimmed == "" {
		return defaultEnv
	}
	return trimmed
}

func normalizeRuntimePaths(paths RuntimePathsConfig) RuntimePathsConfig {
	paths.Logs = strings.TrimSpace(paths.Logs)
	paths.Archive = strings.TrimSpace(paths.Archive)
	return paths
}

func copyStringMap(input map[string]string) map[string]string {
	if input == nil {
		return nil
	}
	out := make(map[string]string, len(input))
	for key, value := range input {
		k := strings.TrimSpace(key)
		v := strings.TrimSpace(value)
		if k != "" && v != "" {
			out[k] = v
		}
	}
	return out
}
