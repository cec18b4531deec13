package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/config"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const optionKey = "settings"

// ErrInvalidSettings wraps any patch rejected by validation.
var ErrInvalidSettings = errors.New("invalid settings")

// Service manages the persisted runtime settings. The options row is the
// source of truth; the YAML config only seeds it on first load.
type Service struct {
	db     *gorm.DB
	appCfg *config.AppConfig
	logger *zap.Logger

	mu      sync.RWMutex
	current *config.Settings
}

func NewService(db *gorm.DB, appCfg *config.AppConfig, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: db, appCfg: appCfg, logger: logger.Named("SettingsService")}
}

// Get returns the current settings, loading from DB if not cached.
func (s *Service) Get() (*config.Settings, error) {
	s.mu.RLock()
	if s.current != nil {
		defer s.mu.RUnlock()
		return s.current, nil
	}
	s.mu.RUnlock()

	return s.load()
}

func (s *Service) load() (*config.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil {
		return s.current, nil
	}

	var opt models.OptionModel
	err := s.db.Where("name = ?", optionKey).First(&opt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		defaults := config.DefaultSettings(s.appCfg).Normalize()
		s.current = &defaults
		_ = s.persist(&defaults)
		return s.current, nil
	}
	if err != nil {
		return nil, err
	}

	// Fields absent from the stored row keep their seeded defaults.
	loaded := config.DefaultSettings(s.appCfg)
	if err := json.Unmarshal([]byte(opt.Value), &loaded); err != nil {
		return nil, fmt.Errorf("settings row is corrupt: %w", err)
	}
	loaded = loaded.Normalize()
	s.current = &loaded
	return s.current, nil
}

// Patch merges the given partial JSON update into the current settings,
// validates the result, and persists it.
func (s *Service) Patch(partial map[string]json.RawMessage) (*config.Settings, error) {
	current, err := s.Get()
	if err != nil {
		return nil, err
	}

	updated, err := applyPartial(*current, partial)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}

	s.mu.Lock()
	s.current = &updated
	s.mu.Unlock()

	if err := s.persist(&updated); err != nil {
		return nil, err
	}
	s.logger.Info("runtime settings updated")
	return &updated, nil
}

func (s *Service) persist(settings *config.Settings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	opt := models.OptionModel{Name: optionKey, Value: string(data)}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&opt).Error
}

// Invalidate clears the in-memory cache, forcing a DB reload on next Get.
func (s *Service) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = nil
}

// applyPartial merges a partial update into the current settings and
// validates the outcome. Section objects merge key-wise; arrays and
// scalars replace.
func applyPartial(current config.Settings, partial map[string]json.RawMessage) (config.Settings, error) {
	for key := range partial {
		switch key {
		case "routing", "alerts", "digest":
		default:
			return config.Settings{}, fmt.Errorf("unknown settings section %q", key)
		}
	}

	currentJSON, err := json.Marshal(current)
	if err != nil {
		return config.Settings{}, err
	}
	merged := map[string]interface{}{}
	if err := json.Unmarshal(currentJSON, &merged); err != nil {
		return config.Settings{}, err
	}

	for key, raw := range partial {
		if len(strings.TrimSpace(string(raw))) == 0 {
			continue
		}
		var incoming interface{}
		if err := json.Unmarshal(raw, &incoming); err != nil {
			return config.Settings{}, fmt.Errorf("section %q is not valid JSON: %w", key, err)
		}
		if existing, ok := merged[key]; ok {
			merged[key] = deepMergeJSON(existing, incoming)
			continue
		}
		merged[key] = incoming
	}

	mergedJSON, err := json.Marshal(merged)
	if err != nil {
		return config.Settings{}, err
	}
	updated := current
	if err := json.Unmarshal(mergedJSON, &updated); err != nil {
		return config.Settings{}, err
	}

	if err := validateSettings(updated); err != nil {
		return config.Settings{}, err
	}
	return updated.Normalize(), nil
}

// validateSettings rejects values Normalize would otherwise drop silently.
func validateSettings(s config.Settings) error {
	for taskType, tier := range s.Routing.DefaultTiers {
		if strings.TrimSpace(taskType) == "" {
			return errors.New("routing.default_tiers contains an empty task type")
		}
		if config.NormalizeTierName(tier) == "" {
			return fmt.Errorf("routing.default_tiers[%s]: unknown tier %q", taskType, tier)
		}
	}
	if s.Routing.MaxEscalations < 0 {
		return errors.New("routing.max_escalations must not be negative")
	}
	if s.Alerts.BudgetDailyUsd < 0 {
		return errors.New("alerts.budget_daily_usd must not be negative")
	}
	if s.Digest.SendHour < 0 || s.Digest.SendHour > 23 {
		return errors.New("digest.send_hour must be between 0 and 23")
	}
	return nil
}

// deepMergeJSON merges newVal over oldVal. Objects merge recursively;
// arrays replace as a whole.
func deepMergeJSON(oldVal, newVal interface{}) interface{} {
	oldMap, oldIsMap := oldVal.(map[string]interface{})
	newMap, newIsMap := newVal.(map[string]interface{})
	if oldIsMap && newIsMap {
		out := make(map[string]interface{}, len(oldMap))
		for k, v := range oldMap {
			out[k] = v
		}
		for k, v := range newMap {
			if existing, ok := out[k]; ok {
				out[k] = deepMergeJSON(existing, v)
				continue
			}
			out[k] = v
		}
		return out
	}
	return newVal
}
