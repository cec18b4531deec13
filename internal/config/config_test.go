package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "env: development\n"))
	require.NoError(t, err)

	require.Equal(t, 2335, cfg.Port)
	require.Equal(t, "development", cfg.Env)
	require.Equal(t, "root:password@tcp(127.0.0.1:3306)/researchflow_ai?charset=utf8mb4&loc=Local&parseTime=true", cfg.DSN)
	require.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)

	require.Equal(t, 45, cfg.AI.RequestTimeoutSeconds)
	require.Equal(t, 2, cfg.AI.MaxEscalations)
	require.Equal(t, "MINI", cfg.AI.FallbackTier)
	require.Equal(t, "NANO", cfg.AI.DefaultTiers["EXTRACT"])
	require.Equal(t, "FRONTIER", cfg.AI.DefaultTiers["SYNTHESIZE"])
	require.Equal(t, 2, cfg.AI.Retry.MaxAttempts)
	require.Equal(t, 250, cfg.AI.Retry.BaseBackoffMs)
	require.Equal(t, 4000, cfg.AI.Retry.MaxBackoffMs)

	require.True(t, cfg.Cache.Enabled)
	require.Equal(t, 24, cfg.Cache.TTLHours)
	require.True(t, cfg.PHI.FailClosed)
	require.True(t, cfg.PHI.ScanResponses)
	require.Equal(t, 4, cfg.Batch.Workers)
	require.Equal(t, 500, cfg.Batch.MaxRequests)
}

func TestLoadFullConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
port: 8443
env: production
timezone: America/New_York
jwt_secret: s3cret
allowed_origins:
  - "https://research.example.com"
database:
  host: db.internal
  port: 3307
  user: rf
  password: pw
  name: rfcore
redis:
  host: cache.internal
  port: 6380
  db: 2
ai:
  request_timeout_seconds: 30
  max_escalations: 1
  fallback_tier: nano
  default_tiers:
    triage: nano
  retry:
    max_attempts: 3
  providers:
    - id: openai-main
      type: OpenAI
      api_key: sk-test
      default_model: gpt-small
      enabled: true
  tiers:
    nano:
      provider_id: openai-main
      model: gpt-small
      input_cost_per_1k: 0.1
      output_cost_per_1k: 0.4
phi:
  fail_closed: true
  scan_responses: false
cache:
  enabled: false
  ttl_hours: 6
batch:
  workers: 8
  max_requests: 100
`))
	require.NoError(t, err)

	require.Equal(t, 8443, cfg.Port)
	require.Equal(t, "production", cfg.Env)
	require.Equal(t, "America/New_York", cfg.Timezone)
	require.Equal(t, "s3cret", cfg.JWTSecret)
	require.Equal(t, []string{"https://research.example.com"}, cfg.AllowedOrigins)

	require.Equal(t, "rf:pw@tcp(db.internal:3307)/rfcore?charset=utf8mb4&loc=Local&parseTime=true", cfg.DSN)
	require.Equal(t, "redis://cache.internal:6380/2", cfg.RedisURL)

	require.Equal(t, 30, cfg.AI.RequestTimeoutSeconds)
	require.Equal(t, 1, cfg.AI.MaxEscalations)
	require.Equal(t, "NANO", cfg.AI.FallbackTier)
	require.Equal(t, "NANO", cfg.AI.DefaultTiers["TRIAGE"], "custom task types merge in upper-cased")
	require.Equal(t, "NANO", cfg.AI.DefaultTiers["EXTRACT"], "built-in defaults survive the merge")
	require.Equal(t, 3, cfg.AI.Retry.MaxAttempts)
	require.Equal(t, 250, cfg.AI.Retry.BaseBackoffMs)
	require.Equal(t, "openai-main", cfg.AI.Tiers.Nano.ProviderID)

	require.False(t, cfg.PHI.ScanResponses)
	require.False(t, cfg.Cache.Enabled)
	require.Equal(t, 6, cfg.Cache.TTLHours)
	require.Equal(t, 8, cfg.Batch.Workers)
	require.Equal(t, 100, cfg.Batch.MaxRequests)
}

func TestLoadLegacyAliases(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
environment: production
db_host: legacy-db
db_port: 3310
redis_host: legacy-cache
jwtsecret: legacy-secret
log_dir: /var/log/rf
cors_allowed_origins:
  - "https://app.example.com"
`))
	require.NoError(t, err)

	require.Equal(t, "production", cfg.Env)
	require.Equal(t, "legacy-db", cfg.Database.Host)
	require.Equal(t, 3310, cfg.Database.Port)
	require.Contains(t, cfg.DSN, "legacy-db:3310")
	require.Equal(t, "legacy-cache", cfg.Redis.Host)
	require.Equal(t, "legacy-secret", cfg.JWTSecret)
	require.Equal(t, "/var/log/rf", cfg.Paths.Logs)
	require.Equal(t, []string{"https://app.example.com"}, cfg.AllowedOrigins)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "read config file")
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeConfig(t, "bogus_key: 1\n"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "parse config file")
}

func TestLoadRejectsInvalidPort(t *testing.T) {
	_, err := Load(writeConfig(t, "port: 70000\n"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid port")
}

func TestLoadRequiresFailClosedOutsideDevelopment(t *testing.T) {
	_, err := Load(writeConfig(t, `
env: production
phi:
  fail_closed: false
`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "fail_closed")

	cfg, err := Load(writeConfig(t, `
env: development
phi:
  fail_closed: false
`))
	require.NoError(t, err)
	require.False(t, cfg.PHI.FailClosed)
}

func TestLoadValidatesTierBindings(t *testing.T) {
	_, err := Load(writeConfig(t, `
ai:
  tiers:
    nano:
      provider_id: ghost
      model: gpt-small
`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown provider")

	_, err = Load(writeConfig(t, `
ai:
  providers:
    - id: openai-main
      type: OpenAI
      api_key: sk-test
      enabled: true
  tiers:
    nano:
      provider_id: openai-main
`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing a model")
}

func TestLoadRejectsDuplicateProviderIDs(t *testing.T) {
	_, err := Load(writeConfig(t, `
ai:
  providers:
    - id: main
      type: OpenAI
      api_key: k1
    - id: main
      type: Anthropic
      api_key: k2
`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "duplicate ai provider id")
}

func TestDSNValuePrefersExplicitDSN(t *testing.T) {
	cfg := DatabaseRuntimeConfig{DSN: "rf:pw@tcp(10.0.0.5:3306)/custom?parseTime=true"}
	require.Equal(t, "rf:pw@tcp(10.0.0.5:3306)/custom?parseTime=true", cfg.DSNValue())
}

func TestRedisURLValue(t *testing.T) {
	cfg := RedisRuntimeConfig{Host: "cache.internal", Port: 7000, DB: 1, Password: "pw"}
	require.Equal(t, "redis://:pw@cache.internal:7000/1", cfg.URLValue())

	cfg.Username = "rf"
	require.Equal(t, "redis://rf:pw@cache.internal:7000/1", cfg.URLValue())

	cfg.TLS = true
	require.Equal(t, "rediss://rf:pw@cache.internal:7000/1", cfg.URLValue())

	raw := RedisRuntimeConfig{URL: "cache.internal:6379"}
	require.Equal(t, "redis://cache.internal:6379", raw.URLValue())
}

func TestNormalizeTierName(t *testing.T) {
	require.Equal(t, "NANO", NormalizeTierName("nano"))
	require.Equal(t, "MINI", NormalizeTierName(" Mini "))
	require.Equal(t, "FRONTIER", NormalizeTierName("FRONTIER"))
	require.Empty(t, NormalizeTierName("turbo"))
}
