package health

import (
	"context"
	"time"

	"github.com/park285/llm-kakao-bots/nexus-gateway-go/internal/config"
	"github.com/park285/llm-kakao-bots/nexus-gateway-go/internal/ledger"
)

var startTime = time.Now()

// Component 는 상태 구성 요소다.
type Component struct {
	Status string         `json:"status"`
	Detail map[string]any `json:"detail"`
}

// Response 는 상태 응답 본문이다.
type Response struct {
	Status     string               `json:"status"`
	Components map[string]Component `json:"components"`
}

// Collect 는 헬스 상태를 수집한다. deepChecks 가 true 면 계정 저장소에
// 실제 ping 을 보낸다. liveness 경로는 외부 의존성 상태에 좌우되지 않도록
// shallow 로 유지한다.
func Collect(ctx context.Context, cfg *config.Config, store *ledger.Store, deepChecks bool) Response {
	components := make(map[string]Component)

	components["app"] = buildAppStatus()
	components["account_store"] = buildAccountStoreStatus(ctx, cfg, store, deepChecks)
	components["provider"] = buildProviderStatus(cfg)
	components["stats_db"] = buildStatsDBStatus(cfg)

	overall := "ok"
	for _, component := range components {
		if component.Status != "ok" {
			overall = "degraded"
			break
		}
	}

	return Response{
		Status:     overall,
		Components: components,
	}
}

func buildAppStatus() Component {
	uptimeSeconds := int(time.Since(startTime).Seconds())
	return Component{
		Status: "ok",
		Detail: map[string]any{
			"uptime_seconds": uptimeSeconds,
		},
	}
}

func buildProviderStatus(cfg *config.Config) Component {
	keyCount := 0
	baseURL := ""
	capacityRPM := 0
	if cfg != nil {
		keyCount = len(cfg.Provider.APIKeys)
		baseURL = cfg.Provider.BaseURL
		capacityRPM = cfg.Provider.TotalCapacityRPM()
	}

	status := "ok"
	if keyCount == 0 {
		status = "degraded"
	}

	return Component{
		Status: status,
		Detail: map[string]any{
			"api_key_count": keyCount,
			"base_url":      baseURL,
			"capacity_rpm":  capacityRPM,
		},
	}
}

func buildAccountStoreStatus(ctx context.Context, cfg *config.Config, store *ledger.Store, deepChecks bool) Component {
	backend := "memory"
	storeEnabled := false
	reachable := false
	pingErr := ""

	if cfg != nil {
		storeEnabled = cfg.AccountStore.Enabled
	}
	if storeEnabled {
		backend = "valkey"
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if deepChecks && store != nil {
		checkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()

		if err := store.Ping(checkCtx); err != nil {
			pingErr = err.Error()
		} else {
			reachable = true
		}
	}

	status := "ok"
	if storeEnabled && deepChecks && !reachable {
		status = "degraded"
	}

	detail := map[string]any{
		"backend":      backend,
		"enabled":      storeEnabled,
		"reachable":    reachable,
		"deep_checked": deepChecks,
	}
	if pingErr != "" {
		detail["error"] = pingErr
	}

	return Component{
		Status: status,
		Detail: detail,
	}
}

func buildStatsDBStatus(cfg *config.Config) Component {
	configured := false
	batchEnabled := false
	if cfg != nil {
		configured = cfg.Database.Host != "" && cfg.Database.Name != ""
		batchEnabled = cfg.Database.StatsBatchEnabled
	}

	// 통계 DB는 최선 노력 경로라 미설정이어도 degraded 로 치지 않는다.
	return Component{
		Status: "ok",
		Detail: map[string]any{
			"configured":    configured,
			"batch_enabled": batchEnabled,
		},
	}
}
