package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/config"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/modules/routing"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/modules/settings"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/pkg/cluster"
	jwtpkg "github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/pkg/jwt"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/pkg/nativelog"
	"go.uber.org/zap"
)

func applyRuntimeSettings(cfg *config.AppConfig, logger *zap.Logger) error {
	_ = os.Setenv(nativelog.EnvLogDir, cfg.LogDir())

	if secret := strings.TrimSpace(cfg.JWTSecret); secret != "" {
		jwtpkg.SetSecret(secret)
	} else {
		if cluster.ShouldLogBootstrap() {
			logger.Warn("jwt_secret is empty, using built-in default secret")
		}
	}

	tz := strings.TrimSpace(cfg.Timezone)
	if tz == "" {
		return nil
	}
	loc, err := parseTimezoneLocation(tz)
	if err != nil {
		return fmt.Errorf("invalid timezone %q: %w", tz, err)
	}
	time.Local = loc
	_ = os.Setenv("TZ", tz)
	return nil
}

func parseTimezoneLocation(raw string) (*time.Location, error) {
	tz := strings.TrimSpace(raw)
	if tz == "" {
		return time.Local, nil
	}
	if loc, err := time.LoadLocation(tz); err == nil {
		return loc, nil
	}
	if len(tz) == 6 && (tz[0] == '+' || tz[0] == '-') && tz[3] == ':' {
		h, errH := strconv.Atoi(tz[1:3])
		m, errM := strconv.Atoi(tz[4:6])
		if errH == nil && errM == nil && h <= 23 && m <= 59 {
			offset := h*3600 + m*60
			if tz[0] == '-' {
				offset = -offset
			}
			return time.FixedZone(tz, offset), nil
		}
	}
	return nil, fmt.Errorf("expect IANA zone (e.g. America/New_York) or UTC offset (e.g. +08:00)")
}

// buildPolicyFunc assembles the per-request routing policy. Retry, timeout
// and fallback knobs come from the YAML config; everything the settings
// module owns is re-read on each call so PATCH /settings applies without a
// restart.
func buildPolicyFunc(cfg *config.AppConfig, settingsSvc *settings.Service) routing.PolicyFunc {
	fallback, ok := routing.ParseTier(cfg.AI.FallbackTier)
	if !ok {
		fallback = routing.TierMini
	}

	return func() routing.Policy {
		pol := routing.Policy{
			DefaultTiers:          parseTierMap(cfg.AI.DefaultTiers),
			FallbackTier:          fallback,
			AllowUnknownTaskTypes: cfg.AI.AllowUnknownTaskTypes,
			MaxEscalations:        cfg.AI.MaxEscalations,
			RetryMaxAttempts:      cfg.AI.Retry.MaxAttempts,
			RetryBaseBackoff:      cfg.AI.Retry.BaseBackoff(),
			RetryMaxBackoff:       cfg.AI.Retry.MaxBackoff(),
			RequestTimeout:        cfg.AI.RequestTimeout(),
			CacheEnabled:          cfg.Cache.Enabled,
			ScanResponses:         cfg.PHI.ScanResponses,
		}

		current, err := settingsSvc.Get()
		if err != nil {
			return pol
		}
		pol.MaxEscalations = current.Routing.MaxEscalations
		pol.AllowUnknownTaskTypes = current.Routing.AllowUnknownTaskTypes
		pol.CacheEnabled = current.Routing.CacheEnabled
		if tiers := parseTierMap(current.Routing.DefaultTiers); len(tiers) > 0 {
			pol.DefaultTiers = tiers
		}
		return pol
	}
}

func parseTierMap(in map[string]string) map[string]routing.ModelTier {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]routing.ModelTier, len(in))
	for taskType, raw := range in {
		tier, ok := routing.ParseTier(raw)
		if !ok {
			continue
		}
		out[strings.ToUpper(strings.TrimSpace(taskType))] = tier
	}
	return out
}

func humanizeDuration(d time.Duration) string {
	if d < time.Minute {
		return d.Truncate(time.Second).String()
	}
	if d < time.Hour {
		return d.Truncate(time.Minute).String()
	}
	if d < 24*time.Hour {
		return d.Truncate(time.Hour).String()
	}
	return d.Truncate(24 * time.Hour).String()
}
