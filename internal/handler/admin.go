package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/park285/llm-kakao-bots/nexus-gateway-go/internal/handler/shared"
	"github.com/park285/llm-kakao-bots/nexus-gateway-go/internal/httperror"
	"github.com/park285/llm-kakao-bots/nexus-gateway-go/internal/ledger"
	"github.com/park285/llm-kakao-bots/nexus-gateway-go/internal/plan"
)

// GrantRequest 는 구독 부여 요청 본문이다.
type GrantRequest struct {
	AccountID string `json:"account_id" binding:"required"`
	PlanKey   string `json:"plan_key" binding:"required"`
	Period    string `json:"period" binding:"required,oneof=weekly monthly yearly"`
}

// GrantResponse 는 구독 부여 결과다.
type GrantResponse struct {
	AccountID   string         `json:"account_id"`
	PlanKey     string         `json:"plan_key"`
	Period      string         `json:"period"`
	DailyLimits map[string]int `json:"daily_limits"`
	Overdraft   int            `json:"overdraft"`
	ExpiresAt   time.Time      `json:"expires_at"`
}

// BindKeyRequest 는 API 키 바인딩 요청 본문이다.
type BindKeyRequest struct {
	AccountID string `json:"account_id" binding:"required"`
	APIKey    string `json:"api_key" binding:"required,min=8"`
}

// AccountResponse 는 계정 조회 응답이다.
type AccountResponse struct {
	AccountID     string                `json:"account_id"`
	Subscriptions []ledger.Subscription `json:"subscriptions"`
	Usage         ledger.DailyUsage     `json:"usage"`
	Limits        ledger.Limits         `json:"limits"`
}

// AdminHandler 는 서비스 키로 보호되는 운영 API 핸들러다.
type AdminHandler struct {
	ledger  *ledger.Ledger
	catalog *plan.Catalog
	logger  *slog.Logger
}

// NewAdminHandler 는 운영 핸들러를 생성한다.
func NewAdminHandler(quotaLedger *ledger.Ledger, planCatalog *plan.Catalog, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{ledger: quotaLedger, catalog: planCatalog, logger: logger}
}

// RegisterRoutes 는 운영 라우트를 등록한다.
func (h *AdminHandler) RegisterRoutes(admin gin.IRoutes) {
	admin.POST("/api/subscriptions", h.handleGrant)
	admin.POST("/api/accounts/keys", h.handleBindKey)
	admin.GET("/api/accounts/:id", h.handleGetAccount)
	admin.GET("/api/plans", h.handleListPlans)
}

// handleGrant 는 플랜 카탈로그의 현재 한도를 구독에 캡처해 부여한다.
// 이후 카탈로그가 바뀌어도 이미 부여된 구독의 한도는 변하지 않는다.
func (h *AdminHandler) handleGrant(c *gin.Context) {
	var req GrantRequest
	if !bindJSON(c, &req) {
		return
	}

	if _, ok := h.catalog.Get(req.PlanKey); !ok {
		writeError(c, httperror.NewInvalidInput("unknown plan key: "+req.PlanKey))
		return
	}

	limits, overdraft := h.catalog.GrantLimits(req.PlanKey, req.Period)
	now := time.Now().UTC()
	sub := ledger.Subscription{
		PlanKey:         req.PlanKey,
		Period:          req.Period,
		DailyLimits:     limits,
		OverdraftCredit: overdraft,
		GrantedAt:       now,
		ExpiresAt:       now.Add(plan.PeriodDuration(req.Period)),
	}

	if _, err := h.ledger.GrantSubscription(c.Request.Context(), req.AccountID, sub); err != nil {
		shared.LogError(h.logger, "subscription_grant", err)
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, GrantResponse{
		AccountID:   req.AccountID,
		PlanKey:     req.PlanKey,
		Period:      req.Period,
		DailyLimits: limits,
		Overdraft:   overdraft,
		ExpiresAt:   sub.ExpiresAt,
	})
}

func (h *AdminHandler) handleBindKey(c *gin.Context) {
	var req BindKeyRequest
	if !bindJSON(c, &req) {
		return
	}

	if err := h.ledger.Store().BindAPIKey(c.Request.Context(), req.APIKey, req.AccountID); err != nil {
		shared.LogError(h.logger, "key_bind", err)
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"account_id": req.AccountID})
}

func (h *AdminHandler) handleGetAccount(c *gin.Context) {
	accountID := c.Param("id")

	acct, err := h.ledger.Get(c.Request.Context(), accountID)
	if err != nil {
		shared.LogError(h.logger, "account_get", err)
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, AccountResponse{
		AccountID:     acct.ID,
		Subscriptions: acct.Subscriptions,
		Usage:         acct.Usage,
		Limits:        h.ledger.EffectiveLimits(acct),
	})
}

func (h *AdminHandler) handleListPlans(c *gin.Context) {
	keys := h.catalog.Keys()
	plans := make(map[string]plan.Plan, len(keys))
	for _, key := range keys {
		if p, ok := h.catalog.Get(key); ok {
			plans[key] = p
		}
	}
	c.JSON(http.StatusOK, plans)
}
