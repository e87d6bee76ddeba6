package cfg

import (
	"testing"
)

func TestGetVersion(t *testing.T) {
	// Test default version
	if GetVersion() == "" {
		t.Error("GetVersion should never return empty string")
	}

	version := GetVersion()
	if version != "dev" && version != "unknown" {
		// This is fine, version could be set at build time
		t.Logf("Version: %s", version)
	}
}

func TestConfigFields(t *testing.T) {
	cfg := &Cfg{
		DBPath:             "./test.db",
		RedisURL:           "redis://localhost:6379/0",
		AuthorityAPIURL:    "https://rank.example.com/v1/domains",
		AuthorityAPIKey:    "rank-key",
		ThresholdsDir:      "./thresholds",
		AlertWebhookURL:    "https://hooks.example.com/alerts",
		AlertCheckInterval: 300,
		AlertSendCap:       10,
		Port:               "8080",
		APIAccessKey:       "test-key",
		UserAgent:          "Test Agent",
		Timezone:           "UTC",
		Debug:              true,
		Version:            "test-version",
	}

	if cfg.DBPath != "./test.db" {
		t.Errorf("Expected DB path './test.db', got '%s'", cfg.DBPath)
	}
	if cfg.RedisURL != "redis://localhost:6379/0" {
		t.Errorf("Expected redis URL 'redis://localhost:6379/0', got '%s'", cfg.RedisURL)
	}
	if cfg.AuthorityAPIURL != "https://rank.example.com/v1/domains" {
		t.Errorf("Expected authority API URL 'https://rank.example.com/v1/domains', got '%s'", cfg.AuthorityAPIURL)
	}
	if cfg.AuthorityAPIKey != "rank-key" {
		t.Errorf("Expected authority API key 'rank-key', got '%s'", cfg.AuthorityAPIKey)
	}
	if cfg.ThresholdsDir != "./thresholds" {
		t.Errorf("Expected thresholds dir './thresholds', got '%s'", cfg.ThresholdsDir)
	}
	if cfg.AlertCheckInterval != 300 {
		t.Errorf("Expected alert check interval 300, got %d", cfg.AlertCheckInterval)
	}
	if cfg.AlertSendCap != 10 {
		t.Errorf("Expected alert send cap 10, got %d", cfg.AlertSendCap)
	}
	if cfg.Port != "8080" {
		t.Errorf("Expected port '8080', got '%s'", cfg.Port)
	}
	if cfg.APIAccessKey != "test-key" {
		t.Errorf("Expected API key 'test-key', got '%s'", cfg.APIAccessKey)
	}
	if cfg.UserAgent != "Test Agent" {
		t.Errorf("Expected user agent 'Test Agent', got '%s'", cfg.UserAgent)
	}
	if cfg.Timezone != "UTC" {
		t.Errorf("Expected timezone 'UTC', got '%s'", cfg.Timezone)
	}
	if !cfg.Debug {
		t.Error("Expected debug to be enabled")
	}
	if cfg.Version != "test-version" {
		t.Errorf("Expected version 'test-version', got '%s'", cfg.Version)
	}
}
