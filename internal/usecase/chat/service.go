package chat

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/park285/llm-kakao-bots/nexus-gateway-go/internal/admission"
	"github.com/park285/llm-kakao-bots/nexus-gateway-go/internal/catalog"
	"github.com/park285/llm-kakao-bots/nexus-gateway-go/internal/dispatch"
	"github.com/park285/llm-kakao-bots/nexus-gateway-go/internal/httperror"
	"github.com/park285/llm-kakao-bots/nexus-gateway-go/internal/ledger"
	"github.com/park285/llm-kakao-bots/nexus-gateway-go/internal/llm"
	"github.com/park285/llm-kakao-bots/nexus-gateway-go/internal/stats"
)

// Dispatcher 는 업스트림 스트리밍 호출 계약이다.
type Dispatcher interface {
	Stream(ctx context.Context, req *llm.ChatRequest, w io.Writer) dispatch.Result
}

// SlotGate 는 전역 부하 게이트 계약이다.
type SlotGate interface {
	AcquireSlot(ctx context.Context, priority bool) error
	CurrentLoad() float64
}

// Service: 채팅 요청 라우팅 로직(어드미션 → 부하 게이트 → 디스패치) 구현체입니다.
// 세 컴포넌트가 모두 만나는 유일한 지점이다.
type Service struct {
	admission  *admission.Controller
	gate       SlotGate
	dispatcher Dispatcher
	ledger     *ledger.Ledger
	stats      *stats.Store
	recorder   *stats.Recorder
	logger     *slog.Logger
}

// New: 채팅 Service 인스턴스를 생성합니다.
func New(
	admissionController *admission.Controller,
	gate SlotGate,
	dispatcher Dispatcher,
	quotaLedger *ledger.Ledger,
	statsStore *stats.Store,
	recorder *stats.Recorder,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		admission:  admissionController,
		gate:       gate,
		dispatcher: dispatcher,
		ledger:     quotaLedger,
		stats:      statsStore,
		recorder:   recorder,
		logger:     logger,
	}
}

// Handle 은 인증된 계정의 채팅 요청 하나를 끝까지 처리한다.
// 거부는 구조화된 오류로 반환되고, 허용되면 업스트림 스트림이 w 로 흘러간다.
// 스트림이 시작된 뒤의 업스트림 실패는 오류 청크로 스트림 안에 담긴다.
func (s *Service) Handle(ctx context.Context, accountID string, req *llm.ChatRequest, w io.Writer) error {
	if req.Model == "" {
		return httperror.NewMissingField("model")
	}
	if len(req.Messages) == 0 {
		return httperror.NewMissingField("messages")
	}

	if catalog.IsHidden(req.Model) {
		return httperror.NewModelUnavailable(req.Model)
	}

	decision, err := s.admission.Check(ctx, accountID, req.Model)
	if err != nil {
		return err
	}
	if !decision.Allowed {
		s.stats.RecordBlocked(ctx, statsModel(decision, req), decision.Reason)
		if decision.Reason == admission.ReasonAccountNotFound {
			return httperror.NewAccountNotFound()
		}
		return httperror.NewQuotaExceeded(decision.Resource)
	}
	s.stats.RecordDecision(decision.Reason)

	return s.dispatchAdmitted(ctx, accountID, decision.Priority, statsModel(decision, req), req, w)
}

// HandleTrial 은 비인증 체험 요청을 처리한다. 체험 트래픽은 플랜에 과금되지
// 않고 우선순위 레인도 받지 못한다.
func (s *Service) HandleTrial(ctx context.Context, visitorID string, req *llm.ChatRequest, w io.Writer) error {
	if req.Model == "" {
		return httperror.NewMissingField("model")
	}
	if len(req.Messages) == 0 {
		return httperror.NewMissingField("messages")
	}

	if catalog.IsHidden(req.Model) {
		return httperror.NewModelUnavailable(req.Model)
	}

	decision, err := s.admission.CheckTrial(ctx, visitorID)
	if err != nil {
		return err
	}
	if !decision.Allowed {
		s.stats.RecordBlocked(ctx, trialStatsModel(req), decision.Reason)
		return httperror.NewTrialExhausted(s.admission.TrialLimit())
	}

	return s.dispatchAdmitted(ctx, "", false, trialStatsModel(req), req, w)
}

// dispatchAdmitted 는 허용된 요청을 부하 게이트에 태운 뒤 업스트림으로 보낸다.
func (s *Service) dispatchAdmitted(ctx context.Context, accountID string, priority bool, model string, req *llm.ChatRequest, w io.Writer) error {
	if err := s.gate.AcquireSlot(ctx, priority); err != nil {
		s.logger.Warn("slot_acquisition_aborted", "account", accountID, "err", err)
		return httperror.NewCapacityExceeded()
	}
	stats.SetShedderLoad(s.gate.CurrentLoad())

	result := s.dispatcher.Stream(ctx, req, w)
	s.recordOutcome(ctx, accountID, model, result)
	return nil
}

// recordOutcome 는 디스패치 결과를 원장과 통계 싱크에 반영한다.
// 성공의 지연 지표는 총 소요 시간이 아니라 TTFT 다. 첫 바이트가 도착하지
// 않은 경우에만 총 경과 시간으로 대체한다. 실패는 항상 총 경과 시간이다.
func (s *Service) recordOutcome(ctx context.Context, accountID string, model string, result dispatch.Result) {
	latencySeconds := result.ElapsedSeconds
	if !result.IsError && result.TTFTSeconds > 0 {
		latencySeconds = result.TTFTSeconds
	}
	latency := time.Duration(latencySeconds * float64(time.Second))
	if result.IsError {
		s.stats.RecordError(ctx, model, result.InputTokens, result.ElapsedSeconds)
		s.recorder.Record(ctx, model, 0, 1, int64(result.InputTokens), 0, latency)
	} else {
		s.stats.RecordSuccess(ctx, model, result.InputTokens, result.OutputChunks, result.TTFTSeconds, result.ElapsedSeconds)
		s.recorder.Record(ctx, model, 1, 0, int64(result.InputTokens), int64(result.OutputChunks), latency)
	}

	if accountID == "" {
		return
	}
	err := s.ledger.TrackRequest(ctx, accountID, ledger.RequestStats{
		Resource:       model,
		InputTokens:    result.InputTokens,
		OutputTokens:   result.OutputChunks,
		LatencySeconds: latencySeconds,
		IsError:        result.IsError,
	})
	if err != nil {
		s.logger.Warn("usage_track_failed", "account", accountID, "err", err)
	}
}

// statsModel 은 통계 키로 쓸 내부 short key 를 고른다.
// 매핑에 없는 모델은 외부 ID 그대로 기록한다.
func statsModel(decision admission.Decision, req *llm.ChatRequest) string {
	if decision.Resource != "" {
		return decision.Resource
	}
	return req.Model
}

func trialStatsModel(req *llm.ChatRequest) string {
	if resource, ok := catalog.Resolve(req.Model); ok {
		return resource
	}
	return req.Model
}
