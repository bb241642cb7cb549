package di

import (
	"log/slog"
	"net/http"

	"github.com/park285/llm-kakao-bots/nexus-gateway-go/internal/config"
	"github.com/park285/llm-kakao-bots/nexus-gateway-go/internal/ledger"
	"github.com/park285/llm-kakao-bots/nexus-gateway-go/internal/stats"
)

// App: 애플리케이션 구성 요소를 묶는다.
type App struct {
	Server          *http.Server
	Logger          *slog.Logger
	Config          *config.Config
	AccountStore    *ledger.Store
	StatsRepository *stats.Repository
	StatsRecorder   *stats.Recorder
}

// NewApp: App 인스턴스를 생성합니다.
func NewApp(
	server *http.Server,
	logger *slog.Logger,
	cfg *config.Config,
	accountStore *ledger.Store,
	statsRepository *stats.Repository,
	statsRecorder *stats.Recorder,
) *App {
	return &App{
		Server:          server,
		Logger:          logger,
		Config:          cfg,
		AccountStore:    accountStore,
		StatsRepository: statsRepository,
		StatsRecorder:   statsRecorder,
	}
}

// Close: 앱 리소스를 정리합니다.
func (a *App) Close() {
	if a.StatsRecorder != nil {
		a.StatsRecorder.Close()
	}
	if a.StatsRepository != nil {
		a.StatsRepository.Close()
	}
	if a.AccountStore != nil {
		a.AccountStore.Close()
	}
}
