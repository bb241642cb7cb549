package stats

import (
	"context"
	"log/slog"
	"time"

	"github.com/park285/llm-kakao-bots/nexus-gateway-go/internal/config"
)

// Recorder 는 요청별 모델 통계를 저장하거나 배치로 적재한다.
type Recorder struct {
	repo    *Repository
	batcher *batcher
	logger  *slog.Logger
}

// NewRecorder 는 설정에 따라 배치 사용 여부를 결정해 Recorder를 생성한다.
func NewRecorder(cfg *config.Config, repo *Repository, logger *slog.Logger) *Recorder {
	recorder := &Recorder{
		repo:   repo,
		logger: logger,
	}

	if cfg != nil && cfg.Database.StatsBatchEnabled {
		recorder.batcher = newBatcher(cfg, repo, logger)
		recorder.batcher.start()
		if logger != nil {
			logger.Info(
				"stats_db_batch_enabled",
				"flush_interval_seconds", cfg.Database.StatsBatchFlushIntervalSeconds,
				"flush_timeout_seconds", cfg.Database.StatsBatchFlushTimeoutSeconds,
				"max_pending_requests", cfg.Database.StatsBatchMaxPendingRequests,
				"max_backoff_seconds", cfg.Database.StatsBatchMaxBackoffSeconds,
				"error_log_max_interval_seconds", cfg.Database.StatsBatchErrorLogMaxIntervalSeconds,
			)
		}
	}

	return recorder
}

// Record 는 1회 요청의 모델 집계를 기록한다. 실패해도 요청 처리에는 영향이 없다.
func (r *Recorder) Record(ctx context.Context, model string, requestCount int64, errorCount int64, inputTokens int64, outputChunks int64, latency time.Duration) {
	if r == nil || r.repo == nil {
		return
	}
	if requestCount <= 0 && errorCount <= 0 {
		return
	}

	delta := statsDelta{
		requestCount: requestCount,
		errorCount:   errorCount,
		inputTokens:  inputTokens,
		outputChunks: outputChunks,
		latencySumMs: latency.Milliseconds(),
	}

	if r.batcher != nil {
		r.batcher.add(model, delta)
		return
	}

	err := r.repo.RecordModelUsage(ctx, model, delta.requestCount, delta.errorCount, delta.inputTokens, delta.outputChunks, delta.latencySumMs, time.Time{})
	if err != nil && r.logger != nil {
		r.logger.Warn("stats_db_save_failed", "err", err)
	}
}

// Close 는 배치 플러셔를 중지한다.
func (r *Recorder) Close() {
	if r == nil || r.batcher == nil {
		return
	}
	r.batcher.stop()
}
