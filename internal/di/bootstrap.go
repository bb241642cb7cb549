package di

import (
	"fmt"

	"github.com/park285/llm-kakao-bots/nexus-gateway-go/internal/admission"
	"github.com/park285/llm-kakao-bots/nexus-gateway-go/internal/config"
	"github.com/park285/llm-kakao-bots/nexus-gateway-go/internal/dispatch"
	"github.com/park285/llm-kakao-bots/nexus-gateway-go/internal/handler"
	"github.com/park285/llm-kakao-bots/nexus-gateway-go/internal/ledger"
	"github.com/park285/llm-kakao-bots/nexus-gateway-go/internal/plan"
	"github.com/park285/llm-kakao-bots/nexus-gateway-go/internal/server"
	"github.com/park285/llm-kakao-bots/nexus-gateway-go/internal/shedder"
	"github.com/park285/llm-kakao-bots/nexus-gateway-go/internal/stats"
	"github.com/park285/llm-kakao-bots/nexus-gateway-go/internal/usecase/chat"
)

// InitializeApp 은 애플리케이션 의존성을 초기화하고 App 인스턴스를 반환한다.
func InitializeApp() (*App, error) {
	cfg, err := config.ProvideConfig()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	logger, err := ProvideLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	accountStore, err := ledger.NewStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("account store: %w", err)
	}

	planCatalog, err := plan.NewCatalog()
	if err != nil {
		return nil, fmt.Errorf("plan catalog: %w", err)
	}

	quotaLedger := ledger.New(accountStore, planCatalog.FreeTierLimits())
	admissionController := admission.NewController(quotaLedger, cfg.Admission, logger)
	loadGate := shedder.New(cfg.Shedder, cfg.Provider.TotalCapacityRPM())
	dispatcher := dispatch.New(cfg.Provider, logger)

	statsRepository := stats.NewRepository(cfg, logger)
	statsRecorder := stats.NewRecorder(cfg, statsRepository, logger)
	statsStore := stats.NewStore(accountStore, logger)

	chatService := chat.New(admissionController, loadGate, dispatcher, quotaLedger, statsStore, statsRecorder, logger)

	chatHandler := handler.NewChatHandler(chatService, logger)
	adminHandler := handler.NewAdminHandler(quotaLedger, planCatalog, logger)
	statsHandler := handler.NewStatsHandler(statsStore)

	router := handler.NewRouter(cfg, logger, accountStore, chatHandler, adminHandler, statsHandler)
	httpServer := server.NewHTTPServer(cfg, router)

	return NewApp(httpServer, logger, cfg, accountStore, statsRepository, statsRecorder), nil
}
