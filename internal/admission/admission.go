package admission

import (
	"context"
	"errors"
	"log/slog"

	"github.com/park285/llm-kakao-bots/nexus-gateway-go/internal/catalog"
	"github.com/park285/llm-kakao-bots/nexus-gateway-go/internal/config"
	"github.com/park285/llm-kakao-bots/nexus-gateway-go/internal/ledger"
)

// 판정 사유 코드. 로그와 통계 집계에 쓰인다.
const (
	ReasonPrimaryQuota    = "primary_quota"
	ReasonOverdraft       = "overdraft"
	ReasonQuotaExhausted  = "quota_exhausted"
	ReasonAccountNotFound = "account_not_found"
	ReasonUnknownModel    = "unknown_model"
	ReasonAdminBypass     = "admin_bypass"
	ReasonStorageFailOpen = "storage_fail_open"
	ReasonTrialExhausted  = "trial_exhausted"
)

// Decision 은 단일 요청에 대한 허용 판정이다. 영속화되지 않는다.
// Priority=true 는 일일 기본 쿼터, false 는 overdraft 소비를 뜻한다.
type Decision struct {
	Allowed  bool
	Priority bool
	Resource string
	Reason   string
}

// Controller 는 (계정, 리소스) 쌍의 허용 여부와 우선순위를 판정하고
// 그 자리에서 사용량을 차감한다 (check-and-deduct).
type Controller struct {
	ledger *ledger.Ledger
	cfg    config.AdmissionConfig
	logger *slog.Logger
}

// NewController 는 어드미션 컨트롤러를 생성한다.
func NewController(l *ledger.Ledger, cfg config.AdmissionConfig, logger *slog.Logger) *Controller {
	return &Controller{ledger: l, cfg: cfg, logger: logger}
}

// Check 는 고정된 2단계 순서로 판정한다:
// 기본 일일 쿼터 → overdraft 크레딧 → 거부. 거부 시 카운터는 변하지 않는다.
// 매핑에 없는 모델은 사용량 차감 없이 우선 허용된다 (의도된 fail-open).
func (c *Controller) Check(ctx context.Context, accountID string, modelID string) (Decision, error) {
	if c.cfg.AdminAccount != "" && accountID == c.cfg.AdminAccount {
		return Decision{Allowed: true, Priority: true, Reason: ReasonAdminBypass}, nil
	}

	resource, ok := catalog.Resolve(modelID)
	if !ok {
		c.logger.Warn("admission_unknown_model_fail_open", "account", accountID, "model", modelID)
		return Decision{Allowed: true, Priority: true, Reason: ReasonUnknownModel}, nil
	}

	decision := Decision{Resource: resource}
	_, err := c.ledger.Update(ctx, accountID, func(acct *ledger.Account, limits ledger.Limits) (bool, error) {
		decision = evaluate(&acct.Usage, limits, resource)
		return decision.Allowed, nil
	})
	if err != nil {
		return c.checkError(accountID, resource, err)
	}

	if !decision.Allowed {
		c.logger.Info("admission_denied", "account", accountID, "resource", resource, "reason", decision.Reason)
	}
	return decision, nil
}

// evaluate 는 잠금 아래에서 호출되어 판정과 차감을 함께 수행한다.
func evaluate(usage *ledger.DailyUsage, limits ledger.Limits, resource string) Decision {
	if usage.Requests[resource] < limits.Daily[resource] {
		usage.Requests[resource]++
		usage.TotalRequests++
		return Decision{Allowed: true, Priority: true, Resource: resource, Reason: ReasonPrimaryQuota}
	}

	if usage.OverdraftUsed < limits.Overdraft {
		usage.OverdraftUsed++
		usage.TotalRequests++
		return Decision{Allowed: true, Priority: false, Resource: resource, Reason: ReasonOverdraft}
	}

	return Decision{Allowed: false, Priority: false, Resource: resource, Reason: ReasonQuotaExhausted}
}

// checkError 는 저장소 오류를 설정된 정책대로 처리한다.
// fail_open 은 무료 티어 기준치와 0 사용량으로 판정하되 아무것도 저장하지 않는다.
func (c *Controller) checkError(accountID string, resource string, err error) (Decision, error) {
	if errors.Is(err, ledger.ErrAccountNotFound) {
		return Decision{Allowed: false, Resource: resource, Reason: ReasonAccountNotFound}, nil
	}

	if errors.Is(err, ledger.ErrStoreUnavailable) {
		if c.cfg.OnStorageError == config.StoragePolicyFailClosed {
			return Decision{}, err
		}

		c.logger.Warn("admission_storage_fail_open", "account", accountID, "resource", resource, "err", err)
		limits := c.ledger.FreeTierLimits()
		zero := ledger.DailyUsage{Requests: make(map[string]int)}
		decision := evaluate(&zero, limits, resource)
		decision.Reason = ReasonStorageFailOpen
		return decision, nil
	}

	return Decision{}, err
}

// CheckTrial 은 비인증 체험 요청의 일일 한도를 판정한다.
// 플랜 사용량과 무관한 별도 카운터를 쓰며 같은 지연 리셋 규칙을 따른다.
func (c *Controller) CheckTrial(ctx context.Context, accountID string) (Decision, error) {
	allowed := false
	_, err := c.ledger.UpdateOrCreate(ctx, accountID, func(acct *ledger.Account, _ ledger.Limits) (bool, error) {
		if acct.Trial.Count >= c.cfg.TrialDailyLimit {
			return false, nil
		}
		acct.Trial.Count++
		allowed = true
		return true, nil
	})
	if err != nil {
		if errors.Is(err, ledger.ErrStoreUnavailable) && c.cfg.OnStorageError != config.StoragePolicyFailClosed {
			c.logger.Warn("trial_storage_fail_open", "account", accountID, "err", err)
			return Decision{Allowed: true, Reason: ReasonStorageFailOpen}, nil
		}
		return Decision{}, err
	}

	if !allowed {
		return Decision{Allowed: false, Reason: ReasonTrialExhausted}, nil
	}
	return Decision{Allowed: true, Reason: ReasonPrimaryQuota}, nil
}

// TrialLimit 는 설정된 일일 체험 한도를 반환한다.
func (c *Controller) TrialLimit() int {
	return c.cfg.TrialDailyLimit
}
