package stats

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/park285/llm-kakao-bots/nexus-gateway-go/internal/ledger"
)

const blobTTL = 48 * time.Hour

// ModelTotals 는 모델 하나의 당일 집계다.
type ModelTotals struct {
	Requests     int64   `json:"requests"`
	Errors       int64   `json:"errors"`
	InputTokens  int64   `json:"input_tokens"`
	OutputChunks int64   `json:"output_chunks"`
	LatencySum   float64 `json:"latency_sum"`
	TTFTSum      float64 `json:"ttft_sum"`
}

// GlobalStats 는 valkey 에 보관되는 전역 일일 통계 블롭이다.
// 어드미션 판정에는 절대 쓰이지 않는 분석용 집계다.
type GlobalStats struct {
	Date          string                  `json:"date"`
	TotalRequests int64                   `json:"total_requests"`
	TotalErrors   int64                   `json:"total_errors"`
	TotalBlocked  int64                   `json:"total_blocked"`
	Models        map[string]*ModelTotals `json:"models"`
}

// Store 는 프로세스 내 통계 집계기다. 당일 집계를 메모리에 유지하면서
// 전역 블롭(valkey)과 프로메테우스 카운터에 같이 반영한다.
type Store struct {
	mu     sync.Mutex
	date   string
	global GlobalStats

	blobStore *ledger.Store
	logger    *slog.Logger
	now       func() time.Time
}

// NewStore 는 통계 집계기를 생성한다. blobStore 는 nil 이면 블롭 저장을 생략한다.
func NewStore(blobStore *ledger.Store, logger *slog.Logger) *Store {
	return &Store{
		blobStore: blobStore,
		logger:    logger,
		now:       time.Now,
	}
}

// SetNowFunc 는 테스트에서 현재 시각 주입에 쓰인다.
func (s *Store) SetNowFunc(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func blobKey(date string) string {
	return fmt.Sprintf("global_stats:%s", date)
}

// RecordSuccess 는 성공 디스패치를 기록한다.
func (s *Store) RecordSuccess(ctx context.Context, model string, inputTokens int, outputChunks int, ttftSeconds float64, latencySeconds float64) {
	s.record(ctx, func(g *GlobalStats, m *ModelTotals) {
		g.TotalRequests++
		m.Requests++
		m.InputTokens += int64(inputTokens)
		m.OutputChunks += int64(outputChunks)
		m.TTFTSum += ttftSeconds
		m.LatencySum += latencySeconds
	}, model)
	dispatchRequests.WithLabelValues(model, "success").Inc()
	dispatchTTFT.WithLabelValues(model).Observe(ttftSeconds)
}

// RecordError 는 실패 디스패치를 기록한다. 지연은 TTFT 가 아닌 총 경과 시간이다.
func (s *Store) RecordError(ctx context.Context, model string, inputTokens int, elapsedSeconds float64) {
	s.record(ctx, func(g *GlobalStats, m *ModelTotals) {
		g.TotalRequests++
		g.TotalErrors++
		m.Requests++
		m.Errors++
		m.InputTokens += int64(inputTokens)
		m.LatencySum += elapsedSeconds
	}, model)
	dispatchRequests.WithLabelValues(model, "error").Inc()
}

// RecordBlocked 는 어드미션에서 거부된 요청을 기록한다.
func (s *Store) RecordBlocked(ctx context.Context, model string, reason string) {
	s.record(ctx, func(g *GlobalStats, m *ModelTotals) {
		g.TotalBlocked++
	}, model)
	admissionDecisions.WithLabelValues(reason).Inc()
}

// RecordDecision 은 허용 판정 사유 카운터만 올린다.
func (s *Store) RecordDecision(reason string) {
	admissionDecisions.WithLabelValues(reason).Inc()
}

// Snapshot 은 당일 메모리 집계의 사본을 반환한다.
func (s *Store) Snapshot() GlobalStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rollLocked()
	return s.copyLocked()
}

// Global 은 valkey 블롭에서 당일 전역 집계를 읽는다. 블롭이 없거나 저장소가
// 없으면 프로세스 내 집계로 대체한다.
func (s *Store) Global(ctx context.Context) GlobalStats {
	local := s.Snapshot()
	if s.blobStore == nil {
		return local
	}

	data, err := s.blobStore.GetBlob(ctx, blobKey(local.Date))
	if err != nil {
		return local
	}

	var global GlobalStats
	if err := json.Unmarshal(data, &global); err != nil {
		return local
	}
	return global
}

func (s *Store) record(ctx context.Context, apply func(*GlobalStats, *ModelTotals), model string) {
	s.mu.Lock()
	s.rollLocked()
	date := s.date

	totals := s.global.Models[model]
	if totals == nil {
		totals = &ModelTotals{}
		s.global.Models[model] = totals
	}
	apply(&s.global, totals)
	s.mu.Unlock()

	s.persistBlob(ctx, date, model, apply)
}

// rollLocked 는 날짜가 바뀌면 메모리 집계를 새로 시작한다.
func (s *Store) rollLocked() {
	today := s.now().UTC().Format("2006-01-02")
	if s.date == today {
		return
	}
	s.date = today
	s.global = GlobalStats{
		Date:   today,
		Models: make(map[string]*ModelTotals),
	}
}

func (s *Store) copyLocked() GlobalStats {
	copied := s.global
	copied.Models = make(map[string]*ModelTotals, len(s.global.Models))
	for model, totals := range s.global.Models {
		t := *totals
		copied.Models[model] = &t
	}
	return copied
}

// persistBlob 는 전역 블롭을 읽고 델타를 반영해 다시 쓴다 (last-writer-wins).
// 최선 노력 경로라 실패는 로그만 남긴다.
func (s *Store) persistBlob(ctx context.Context, date string, model string, apply func(*GlobalStats, *ModelTotals)) {
	if s.blobStore == nil {
		return
	}

	global := GlobalStats{Date: date, Models: make(map[string]*ModelTotals)}
	if data, err := s.blobStore.GetBlob(ctx, blobKey(date)); err == nil {
		var stored GlobalStats
		if unmarshalErr := json.Unmarshal(data, &stored); unmarshalErr == nil && stored.Date == date {
			global = stored
			if global.Models == nil {
				global.Models = make(map[string]*ModelTotals)
			}
		}
	}

	totals := global.Models[model]
	if totals == nil {
		totals = &ModelTotals{}
		global.Models[model] = totals
	}
	apply(&global, totals)

	data, err := json.Marshal(global)
	if err != nil {
		return
	}
	if err := s.blobStore.SetBlob(ctx, blobKey(date), data, blobTTL); err != nil {
		if s.logger != nil {
			s.logger.Warn("global_stats_save_failed", "err", err)
		}
	}
}
