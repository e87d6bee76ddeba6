package alerts

import (
	"os"
	"path/filepath"
	"testing"
)

func writeThresholdFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
}

func TestThresholdCacheLoadsValidConfig(t *testing.T) {
	dir := t.TempDir()
	writeThresholdFile(t, dir, "low-authority.yml", `
url: example.com
metric: authority_score
operator: lt
bound: 0.4
severity: critical
cooldown_seconds: 600
`)

	tc := NewThresholdCache(dir)
	if err := tc.Run(); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if tc.GetConfigCount() != 1 {
		t.Fatalf("Expected 1 threshold, got: %d", tc.GetConfigCount())
	}

	config, err := tc.GetConfig("low-authority")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if config.Metric != "authority_score" {
		t.Errorf("Expected metric 'authority_score', got: %s", config.Metric)
	}
	if config.Operator != OperatorLT {
		t.Errorf("Expected operator 'lt', got: %s", config.Operator)
	}
	if config.Bound != 0.4 {
		t.Errorf("Expected bound 0.4, got: %f", config.Bound)
	}
	if !config.IsEnabled() {
		t.Error("Expected threshold to default to enabled")
	}
}

func TestThresholdCacheAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	writeThresholdFile(t, dir, "dead-links.yml", `
url: example.com
metric: liveness
operator: lt
bound: 1
`)

	tc := NewThresholdCache(dir)
	if err := tc.Run(); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	config, err := tc.GetConfig("dead-links")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if config.Severity != "warning" {
		t.Errorf("Expected default severity 'warning', got: %s", config.Severity)
	}
	if config.CooldownSeconds != defaultCooldownSeconds {
		t.Errorf("Expected default cooldown %d, got: %d", defaultCooldownSeconds, config.CooldownSeconds)
	}
}

func TestThresholdCacheRejectsInvalidOperator(t *testing.T) {
	dir := t.TempDir()
	writeThresholdFile(t, dir, "bad.yml", `
url: example.com
metric: liveness
operator: between
bound: 1
`)

	tc := NewThresholdCache(dir)
	if err := tc.Run(); err == nil {
		t.Error("Expected error for invalid operator")
	}
}

func TestThresholdCacheRejectsMissingFields(t *testing.T) {
	dir := t.TempDir()
	writeThresholdFile(t, dir, "bad.yml", `
operator: gt
bound: 1
`)

	tc := NewThresholdCache(dir)
	if err := tc.Run(); err == nil {
		t.Error("Expected error for missing url and metric")
	}
}

func TestThresholdCacheMissingDirIsEmpty(t *testing.T) {
	tc := NewThresholdCache(filepath.Join(t.TempDir(), "does-not-exist"))
	if err := tc.Run(); err != nil {
		t.Fatalf("Expected no error for missing directory, got: %v", err)
	}
	if tc.GetConfigCount() != 0 {
		t.Errorf("Expected 0 thresholds, got: %d", tc.GetConfigCount())
	}
}

func TestViolates(t *testing.T) {
	cases := []struct {
		operator string
		value    float64
		bound    float64
		want     bool
	}{
		{OperatorGT, 2, 1, true},
		{OperatorGT, 1, 1, false},
		{OperatorGTE, 1, 1, true},
		{OperatorLT, 0.3, 0.4, true},
		{OperatorLT, 0.4, 0.4, false},
		{OperatorLTE, 0.4, 0.4, true},
		{"between", 5, 1, false},
	}

	for _, c := range cases {
		if got := Violates(c.operator, c.value, c.bound); got != c.want {
			t.Errorf("Violates(%s, %f, %f): expected %v, got %v", c.operator, c.value, c.bound, c.want, got)
		}
	}
}
