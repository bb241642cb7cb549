package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/park285/llm-kakao-bots/nexus-gateway-go/internal/config"
)

var testFreeTier = map[string]int{"llama": 10, "kimi": 5, "deepseek": 0}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mini := miniredis.RunT(t)
	cfg := &config.Config{
		AccountStore: config.AccountStoreConfig{URL: "redis://" + mini.Addr(), Enabled: true, DisableCache: true},
	}
	store, err := NewStore(cfg)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
		mini.Close()
	})
	return store
}

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	return New(newTestStore(t), testFreeTier)
}

func seedAccount(t *testing.T, l *Ledger, id string, subs ...Subscription) {
	t.Helper()
	now := time.Now().UTC()
	acct := &Account{ID: id, Subscriptions: subs, CreatedAt: now}
	acct.EnsureDay(now)
	if err := l.Store().SaveAccount(context.Background(), acct); err != nil {
		t.Fatalf("seed account: %v", err)
	}
}

func TestNewStoreRequiredButDisabled(t *testing.T) {
	cfg := &config.Config{
		AccountStore: config.AccountStoreConfig{Enabled: false, Required: true},
	}
	if _, err := NewStore(cfg); err == nil {
		t.Fatalf("expected error")
	}
}

func TestGetAccountNotFound(t *testing.T) {
	l := newTestLedger(t)

	_, err := l.Get(context.Background(), "nobody@example.com")
	if !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSaveAndGetAccountRoundTrip(t *testing.T) {
	l := newTestLedger(t)
	seedAccount(t, l, "user@example.com", Subscription{
		PlanKey:         "deepseek",
		Period:          "monthly",
		DailyLimits:     map[string]int{"deepseek": 300},
		OverdraftCredit: 600,
		GrantedAt:       time.Now().UTC(),
		ExpiresAt:       time.Now().UTC().Add(30 * 24 * time.Hour),
	})

	acct, err := l.Get(context.Background(), "user@example.com")
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if len(acct.Subscriptions) != 1 || acct.Subscriptions[0].PlanKey != "deepseek" {
		t.Fatalf("unexpected account: %+v", acct)
	}
}

func TestEffectiveLimitsFreeTierBaseline(t *testing.T) {
	l := newTestLedger(t)

	limits := l.EffectiveLimits(&Account{ID: "free@example.com"})
	if limits.Daily["llama"] != 10 || limits.Daily["kimi"] != 5 {
		t.Fatalf("expected free tier baseline, got %v", limits.Daily)
	}
	if limits.Overdraft != 0 {
		t.Fatalf("expected zero overdraft, got %d", limits.Overdraft)
	}
}

func TestEffectiveLimitsStacksActiveSubscriptions(t *testing.T) {
	l := newTestLedger(t)
	future := time.Now().UTC().Add(24 * time.Hour)
	past := time.Now().UTC().Add(-24 * time.Hour)

	acct := &Account{
		ID: "stacked@example.com",
		Subscriptions: []Subscription{
			{PlanKey: "deepseek", DailyLimits: map[string]int{"deepseek": 300}, OverdraftCredit: 100, ExpiresAt: future},
			{PlanKey: "nexus_global", DailyLimits: map[string]int{"deepseek": 150, "kimi": 100}, OverdraftCredit: 50, ExpiresAt: future},
			{PlanKey: "kimi", DailyLimits: map[string]int{"kimi": 200}, OverdraftCredit: 75, ExpiresAt: past},
		},
	}

	limits := l.EffectiveLimits(acct)
	if limits.Daily["deepseek"] != 450 {
		t.Fatalf("expected stacked cap 450, got %d", limits.Daily["deepseek"])
	}
	if limits.Daily["kimi"] != 100 {
		t.Fatalf("expected expired subscription to contribute 0, got %d", limits.Daily["kimi"])
	}
	if limits.Overdraft != 150 {
		t.Fatalf("expected stacked overdraft 150, got %d", limits.Overdraft)
	}
}

func TestEffectiveLimitsCapturedAtGrant(t *testing.T) {
	l := newTestLedger(t)
	future := time.Now().UTC().Add(24 * time.Hour)

	// 부여 시점 스냅샷이므로 현재 플랜 테이블 값과 달라도 그대로 유지된다.
	acct := &Account{
		ID: "legacy@example.com",
		Subscriptions: []Subscription{
			{PlanKey: "deepseek", DailyLimits: map[string]int{"deepseek": 999}, OverdraftCredit: 1, ExpiresAt: future},
		},
	}

	limits := l.EffectiveLimits(acct)
	if limits.Daily["deepseek"] != 999 || limits.Overdraft != 1 {
		t.Fatalf("expected captured limits, got %v overdraft=%d", limits.Daily, limits.Overdraft)
	}
}

func TestDailyResetPreservesOverdraft(t *testing.T) {
	l := newTestLedger(t)
	seedAccount(t, l, "roll@example.com")

	base := time.Date(2026, 8, 29, 23, 0, 0, 0, time.UTC)
	l.SetNowFunc(func() time.Time { return base })

	_, err := l.Update(context.Background(), "roll@example.com", func(acct *Account, _ Limits) (bool, error) {
		acct.Usage.Requests["llama"] = 7
		acct.Usage.OverdraftUsed = 3
		acct.Usage.TotalRequests = 10
		acct.Usage.TotalErrors = 2
		acct.Usage.InputTokens = 1234
		return true, nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	// 하루 경과 후 첫 조회에서 지연 리셋이 일어난다.
	l.SetNowFunc(func() time.Time { return base.Add(2 * time.Hour) })

	acct, err := l.Get(context.Background(), "roll@example.com")
	if err != nil {
		t.Fatalf("get after rollover: %v", err)
	}
	if acct.Usage.Date != "2026-08-30" {
		t.Fatalf("expected new date tag, got %s", acct.Usage.Date)
	}
	if acct.Usage.Requests["llama"] != 0 || acct.Usage.TotalRequests != 0 || acct.Usage.TotalErrors != 0 || acct.Usage.InputTokens != 0 {
		t.Fatalf("expected counters reset, got %+v", acct.Usage)
	}
	if acct.Usage.OverdraftUsed != 3 {
		t.Fatalf("expected overdraft preserved, got %d", acct.Usage.OverdraftUsed)
	}

	// 리셋은 즉시 저장되어 다음 읽기가 같은 상태를 본다.
	again, err := l.Store().GetAccount(context.Background(), "roll@example.com")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.Usage.Date != "2026-08-30" || again.Usage.OverdraftUsed != 3 {
		t.Fatalf("expected persisted reset, got %+v", again.Usage)
	}
}

func TestUpdateSkipsSaveWhenClean(t *testing.T) {
	l := newTestLedger(t)
	seedAccount(t, l, "clean@example.com")

	before, err := l.Get(context.Background(), "clean@example.com")
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	_, err = l.Update(context.Background(), "clean@example.com", func(acct *Account, _ Limits) (bool, error) {
		acct.Usage.Requests["llama"] = 99
		return false, nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	after, err := l.Get(context.Background(), "clean@example.com")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if after.Usage.Requests["llama"] != before.Usage.Requests["llama"] {
		t.Fatalf("expected no persisted mutation, got %d", after.Usage.Requests["llama"])
	}
}

func TestTrackRequestAccumulates(t *testing.T) {
	l := newTestLedger(t)
	seedAccount(t, l, "track@example.com")

	stats := RequestStats{Resource: "deepseek", InputTokens: 100, OutputTokens: 42, LatencySeconds: 0.8, IsError: false}
	if err := l.TrackRequest(context.Background(), "track@example.com", stats); err != nil {
		t.Fatalf("track: %v", err)
	}
	stats.IsError = true
	if err := l.TrackRequest(context.Background(), "track@example.com", stats); err != nil {
		t.Fatalf("track: %v", err)
	}

	acct, err := l.Get(context.Background(), "track@example.com")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if acct.Usage.InputTokens != 200 || acct.Usage.OutputTokens != 84 {
		t.Fatalf("unexpected token totals: %+v", acct.Usage)
	}
	if acct.Usage.TotalErrors != 1 {
		t.Fatalf("expected one error, got %d", acct.Usage.TotalErrors)
	}
}

func TestGrantSubscriptionCreatesAccount(t *testing.T) {
	l := newTestLedger(t)

	sub := Subscription{
		PlanKey:         "kimi",
		Period:          "weekly",
		DailyLimits:     map[string]int{"kimi": 200},
		OverdraftCredit: 75,
		GrantedAt:       time.Now().UTC(),
		ExpiresAt:       time.Now().UTC().Add(7 * 24 * time.Hour),
	}
	acct, err := l.GrantSubscription(context.Background(), "new@example.com", sub)
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if len(acct.Subscriptions) != 1 {
		t.Fatalf("expected one subscription, got %d", len(acct.Subscriptions))
	}

	limits := l.EffectiveLimits(acct)
	if limits.Daily["kimi"] != 200 || limits.Overdraft != 75 {
		t.Fatalf("unexpected limits: %v overdraft=%d", limits.Daily, limits.Overdraft)
	}
}

func TestAPIKeyBinding(t *testing.T) {
	l := newTestLedger(t)

	if err := l.Store().BindAPIKey(context.Background(), "sk-test-1", "user@example.com"); err != nil {
		t.Fatalf("bind: %v", err)
	}
	id, err := l.Store().ResolveAPIKey(context.Background(), "sk-test-1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if id != "user@example.com" {
		t.Fatalf("unexpected account id: %s", id)
	}

	if _, err := l.Store().ResolveAPIKey(context.Background(), "sk-unknown"); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryStoreBlobTTL(t *testing.T) {
	store := NewMemoryStore()

	if err := store.SetBlob(context.Background(), "global_stats:2026-08-30", []byte(`{"total":1}`), 10*time.Millisecond); err != nil {
		t.Fatalf("set blob: %v", err)
	}
	data, err := store.GetBlob(context.Background(), "global_stats:2026-08-30")
	if err != nil {
		t.Fatalf("get blob: %v", err)
	}
	if string(data) != `{"total":1}` {
		t.Fatalf("unexpected blob: %s", data)
	}

	time.Sleep(30 * time.Millisecond)
	if _, err := store.GetBlob(context.Background(), "global_stats:2026-08-30"); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected expired blob, got %v", err)
	}
}
