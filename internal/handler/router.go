package handler

import (
	"log/slog"
	"strings"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"

	"github.com/park285/llm-kakao-bots/nexus-gateway-go/internal/config"
	"github.com/park285/llm-kakao-bots/nexus-gateway-go/internal/ledger"
	"github.com/park285/llm-kakao-bots/nexus-gateway-go/internal/middleware"
)

// NewRouter 는 HTTP 라우터를 구성한다.
// 채팅 경로는 계정 인증, 운영 경로는 서비스 키 인증을 받는다.
// 체험/통계/헬스 경로는 열려 있다.
func NewRouter(
	cfg *config.Config,
	logger *slog.Logger,
	store *ledger.Store,
	chatHandler *ChatHandler,
	adminHandler *AdminHandler,
	statsHandler *StatsHandler,
) *gin.Engine {
	setGinMode(cfg.Logging.Level)

	router := gin.New()
	router.Use(
		middleware.RequestID(),
		middleware.RequestLogger(logger),
		gin.Recovery(),
		newGzipMiddleware(),
	)

	RegisterHealthRoutes(router, cfg, store)
	statsHandler.RegisterRoutes(router)

	authed := router.Group("", middleware.AccountAuth(store), middleware.RateLimit(cfg))
	chatHandler.RegisterRoutes(authed)

	trial := router.Group("", middleware.RateLimit(cfg))
	chatHandler.RegisterTrialRoutes(trial)

	admin := router.Group("", middleware.ServiceKeyAuth(cfg))
	adminHandler.RegisterRoutes(admin)

	return router
}

// newGzipMiddleware 는 스트리밍 응답을 제외한 경로만 압축한다.
func newGzipMiddleware() gin.HandlerFunc {
	return gzip.Gzip(gzip.DefaultCompression, gzip.WithCustomShouldCompressFn(func(c *gin.Context) bool {
		path := c.Request.URL.Path
		if path == "/health" || path == "/metrics" {
			return false
		}
		// SSE 스트림은 압축하면 청크 플러시가 깨진다.
		if strings.HasPrefix(path, "/v1/chat") || strings.HasPrefix(path, "/api/chat") {
			return false
		}
		return true
	}))
}

func setGinMode(level string) {
	if strings.EqualFold(strings.TrimSpace(level), "debug") {
		gin.SetMode(gin.DebugMode)
		return
	}
	gin.SetMode(gin.ReleaseMode)
}
