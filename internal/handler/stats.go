package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/park285/llm-kakao-bots/nexus-gateway-go/internal/catalog"
	"github.com/park285/llm-kakao-bots/nexus-gateway-go/internal/stats"
)

// StatsHandler 는 공개 통계/모델 목록 핸들러다.
type StatsHandler struct {
	stats *stats.Store
}

// NewStatsHandler 는 통계 핸들러를 생성한다.
func NewStatsHandler(statsStore *stats.Store) *StatsHandler {
	return &StatsHandler{stats: statsStore}
}

// RegisterRoutes 는 통계 라우트를 등록한다.
func (h *StatsHandler) RegisterRoutes(router gin.IRoutes) {
	router.GET("/api/stats", h.handleStats)
	router.GET("/api/models", h.handleModels)
}

// handleStats 는 당일 전역 통계를 반환한다. 다중 인스턴스 배포에서는
// valkey 블롭 덕에 인스턴스 경계를 넘어 합산된 값이 나온다.
func (h *StatsHandler) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.stats.Global(c.Request.Context()))
}

func (h *StatsHandler) handleModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"models": catalog.Models()})
}
