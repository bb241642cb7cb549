package config

import (
	"testing"
)

func TestBuildConfigDefaults(t *testing.T) {
	cfg := buildConfig()

	if cfg.Provider.BaseURL != "https://integrate.api.nvidia.com/v1" {
		t.Fatalf("unexpected base url: %s", cfg.Provider.BaseURL)
	}
	if cfg.Provider.RateLimitPerKey != 40 {
		t.Fatalf("unexpected per-key rate limit: %d", cfg.Provider.RateLimitPerKey)
	}
	if cfg.Provider.MaxAttempts != 2 {
		t.Fatalf("unexpected max attempts: %d", cfg.Provider.MaxAttempts)
	}
	if cfg.Admission.TrialDailyLimit != 10 {
		t.Fatalf("unexpected trial limit: %d", cfg.Admission.TrialDailyLimit)
	}
	if cfg.Admission.OnStorageError != StoragePolicyFailOpen {
		t.Fatalf("unexpected storage policy: %s", cfg.Admission.OnStorageError)
	}
	if cfg.Shedder.PriorityThreshold != 0.95 || cfg.Shedder.StandardThreshold != 0.80 {
		t.Fatalf(
			"unexpected thresholds: %.2f/%.2f",
			cfg.Shedder.PriorityThreshold,
			cfg.Shedder.StandardThreshold,
		)
	}
}

func TestProviderAPIKeysFromEnv(t *testing.T) {
	t.Setenv("NVIDIA_API_KEYS", "key-a, key-b\nkey-c")

	keys := parseAPIKeys()
	if len(keys) != 3 {
		t.Fatalf("expected 3 keys, got %d", len(keys))
	}
	if keys[0] != "key-a" || keys[2] != "key-c" {
		t.Fatalf("unexpected keys: %v", keys)
	}
}

func TestProviderSingleKeyFallback(t *testing.T) {
	t.Setenv("NVIDIA_API_KEYS", "")
	t.Setenv("NVIDIA_API_KEY", "solo-key")

	keys := parseAPIKeys()
	if len(keys) != 1 || keys[0] != "solo-key" {
		t.Fatalf("unexpected keys: %v", keys)
	}
}

func TestTotalCapacityRPM(t *testing.T) {
	p := ProviderConfig{APIKeys: []string{"a", "b", "c"}, RateLimitPerKey: 40}
	if got := p.TotalCapacityRPM(); got != 120 {
		t.Fatalf("expected capacity 120, got %d", got)
	}

	empty := ProviderConfig{RateLimitPerKey: 40}
	if got := empty.TotalCapacityRPM(); got != 0 {
		t.Fatalf("expected zero capacity, got %d", got)
	}
}

func TestValidateStoragePolicy(t *testing.T) {
	cfg := buildConfig()
	cfg.Admission.OnStorageError = "sometimes"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected invalid storage policy error")
	}

	cfg.Admission.OnStorageError = StoragePolicyFailClosed
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateThresholdOrder(t *testing.T) {
	cfg := buildConfig()
	cfg.Shedder.StandardThreshold = 0.99
	cfg.Shedder.PriorityThreshold = 0.90
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected threshold order error")
	}
}

func TestMaskSecret(t *testing.T) {
	if got := maskSecret(""); got != "<missing>" {
		t.Fatalf("unexpected mask: %s", got)
	}
	if got := maskSecret("ab"); got != "**" {
		t.Fatalf("unexpected mask: %s", got)
	}
	if got := maskSecret("nvapi-abcdef"); got != "nv***ef" {
		t.Fatalf("unexpected mask: %s", got)
	}
}
