package health

import (
	"context"
	"testing"

	"github.com/park285/llm-kakao-bots/nexus-gateway-go/internal/config"
	"github.com/park285/llm-kakao-bots/nexus-gateway-go/internal/ledger"
)

func TestCollectDegradedWithoutKeys(t *testing.T) {
	cfg := &config.Config{
		Provider: config.ProviderConfig{
			APIKeys:         nil,
			BaseURL:         "https://integrate.api.nvidia.com/v1",
			RateLimitPerKey: 40,
		},
		AccountStore: config.AccountStoreConfig{Enabled: false},
	}

	resp := Collect(context.Background(), cfg, nil, false)
	if resp.Status != "degraded" {
		t.Fatalf("expected degraded status, got %s", resp.Status)
	}
	if resp.Components["provider"].Status != "degraded" {
		t.Fatalf("expected provider degraded, got %s", resp.Components["provider"].Status)
	}
	if resp.Components["account_store"].Status != "ok" {
		t.Fatalf("expected account_store ok, got %s", resp.Components["account_store"].Status)
	}
}

func TestCollectDeepChecksMemoryStore(t *testing.T) {
	cfg := &config.Config{
		Provider: config.ProviderConfig{
			APIKeys:         []string{"nvapi-test"},
			RateLimitPerKey: 40,
		},
		AccountStore: config.AccountStoreConfig{Enabled: false},
	}
	store := ledger.NewMemoryStore()

	resp := Collect(context.Background(), cfg, store, true)
	if resp.Status != "ok" {
		t.Fatalf("expected ok status, got %+v", resp)
	}
	if reachable := resp.Components["account_store"].Detail["reachable"]; reachable != true {
		t.Fatalf("expected memory store reachable, got %v", reachable)
	}
}
