package alerts

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/xenlix/citeline/app/database"
)

const defaultCooldownSeconds = 3600

// ThresholdCache loads alert threshold rules from *.yml files and keeps
// them in memory. Rules are synced to the database at startup so trigger
// state (last_triggered_at) survives restarts.
type ThresholdCache struct {
	thresholdsDir string
	cache         map[string]*ThresholdConfig
	mu            sync.RWMutex
}

func NewThresholdCache(thresholdsDir string) *ThresholdCache {
	return &ThresholdCache{
		thresholdsDir: thresholdsDir,
		cache:         make(map[string]*ThresholdConfig),
	}
}

func (tc *ThresholdCache) Run() error {
	if _, err := os.Stat(tc.thresholdsDir); os.IsNotExist(err) {
		return nil
	}

	files, err := filepath.Glob(filepath.Join(tc.thresholdsDir, "*.yml"))
	if err != nil {
		return fmt.Errorf("failed to find YML files: %w", err)
	}

	for _, file := range files {
		name := strings.TrimSuffix(filepath.Base(file), ".yml")

		config, err := tc.LoadConfig(name)
		if err != nil {
			return fmt.Errorf("error loading %s: %w", file, err)
		}

		slog.Debug("Threshold loaded", "threshold", name, "metric", config.Metric, "enabled", config.IsEnabled())
	}

	return nil
}

func (tc *ThresholdCache) LoadConfig(name string) (*ThresholdConfig, error) {
	configFile := filepath.Join(tc.thresholdsDir, name+".yml")

	config, err := tc.parseConfig(configFile)
	if err != nil {
		return nil, err
	}

	config.Name = name

	if err := tc.validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid threshold %s: %w", configFile, err)
	}

	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.cache[config.Name] = config

	return config, nil
}

func (tc *ThresholdCache) GetConfig(name string) (*ThresholdConfig, error) {
	tc.mu.RLock()
	defer tc.mu.RUnlock()

	config, ok := tc.cache[name]
	if !ok {
		return nil, fmt.Errorf("threshold with name '%s' not found", name)
	}
	return config, nil
}

func (tc *ThresholdCache) GetConfigs() map[string]*ThresholdConfig {
	tc.mu.RLock()
	defer tc.mu.RUnlock()

	configsCopy := make(map[string]*ThresholdConfig, len(tc.cache))
	for k, v := range tc.cache {
		configsCopy[k] = v
	}
	return configsCopy
}

func (tc *ThresholdCache) GetConfigCount() int {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return len(tc.cache)
}

// SyncToDB upserts every loaded rule so the evaluator reads a consistent
// set with its persisted trigger state.
func (tc *ThresholdCache) SyncToDB(repo database.ThresholdRepository) error {
	for name, config := range tc.GetConfigs() {
		err := repo.UpsertThreshold(database.Threshold{
			ID:              name,
			URL:             config.URL,
			Metric:          config.Metric,
			Operator:        config.Operator,
			Bound:           config.Bound,
			Severity:        config.Severity,
			CooldownSeconds: config.CooldownSeconds,
			Enabled:         config.IsEnabled(),
		})
		if err != nil {
			return fmt.Errorf("failed to sync threshold %s: %w", name, err)
		}
	}
	return nil
}

func (tc *ThresholdCache) parseConfig(configFile string) (*ThresholdConfig, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var config ThresholdConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if config.Severity == "" {
		config.Severity = "warning"
	}
	if config.CooldownSeconds == 0 {
		config.CooldownSeconds = defaultCooldownSeconds
	}

	return &config, nil
}

func (tc *ThresholdCache) validateConfig(config *ThresholdConfig) error {
	if config == nil {
		return fmt.Errorf("config is nil")
	}

	requiredFields := map[string]string{
		"url":    config.URL,
		"metric": config.Metric,
	}
	for fieldName, fieldValue := range requiredFields {
		if fieldValue == "" {
			return fmt.Errorf("%s is required", fieldName)
		}
	}

	validOperators := map[string]bool{
		OperatorGT:  true,
		OperatorGTE: true,
		OperatorLT:  true,
		OperatorLTE: true,
	}
	if !validOperators[config.Operator] {
		return fmt.Errorf("invalid operator: %s", config.Operator)
	}

	validSeverities := map[string]bool{
		"info":     true,
		"warning":  true,
		"critical": true,
	}
	if !validSeverities[config.Severity] {
		return fmt.Errorf("invalid severity: %s", config.Severity)
	}

	if config.CooldownSeconds < 0 {
		return fmt.Errorf("cooldown must be non-negative")
	}

	return nil
}
