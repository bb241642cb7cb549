package stats

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/park285/llm-kakao-bots/nexus-gateway-go/internal/config"
)

// Repository 는 모델 통계 DB 접근을 담당한다.
type Repository struct {
	cfg    *config.Config
	logger *slog.Logger
	mu     sync.Mutex
	db     *gorm.DB
	sqlDB  *sql.DB
}

// NewRepository 는 통계 저장소를 생성한다.
func NewRepository(cfg *config.Config, logger *slog.Logger) *Repository {
	return &Repository{
		cfg:    cfg,
		logger: logger,
	}
}

// RecordModelUsage 는 지정한 날짜(또는 오늘)의 모델별 요청 집계를 누적 저장한다.
func (r *Repository) RecordModelUsage(
	ctx context.Context,
	model string,
	requestCount int64,
	errorCount int64,
	inputTokens int64,
	outputChunks int64,
	latencySumMs int64,
	usageDate time.Time,
) error {
	if requestCount <= 0 && errorCount <= 0 {
		return nil
	}

	db, err := r.getDB(ctx)
	if err != nil {
		return err
	}

	targetDate := usageDate
	if targetDate.IsZero() {
		targetDate = todayDate()
	}

	row := ModelStats{
		UsageDate:    targetDate,
		Model:        model,
		RequestCount: requestCount,
		ErrorCount:   errorCount,
		InputTokens:  inputTokens,
		OutputChunks: outputChunks,
		LatencySumMs: latencySumMs,
		Version:      0,
	}

	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "usage_date"}, {Name: "model"}},
		DoUpdates: clause.Assignments(map[string]any{
			"request_count":  gorm.Expr("model_stats.request_count + EXCLUDED.request_count"),
			"error_count":    gorm.Expr("model_stats.error_count + EXCLUDED.error_count"),
			"input_tokens":   gorm.Expr("model_stats.input_tokens + EXCLUDED.input_tokens"),
			"output_chunks":  gorm.Expr("model_stats.output_chunks + EXCLUDED.output_chunks"),
			"latency_sum_ms": gorm.Expr("model_stats.latency_sum_ms + EXCLUDED.latency_sum_ms"),
			"version":        gorm.Expr("model_stats.version + 1"),
		}),
	}).Create(&row).Error
}

// GetDailyStats 는 특정 날짜(또는 오늘)의 모델별 집계를 조회한다.
func (r *Repository) GetDailyStats(ctx context.Context, usageDate time.Time) ([]DailyModelStats, error) {
	db, err := r.getDB(ctx)
	if err != nil {
		return nil, err
	}

	targetDate := usageDate
	if targetDate.IsZero() {
		targetDate = todayDate()
	}

	var rows []ModelStats
	if err := db.WithContext(ctx).Where("usage_date = ?", targetDate).Order("model asc").Find(&rows).Error; err != nil {
		return nil, err
	}

	return toViews(rows), nil
}

// GetRecentStats 는 최근 N일의 모델별 집계를 조회한다.
func (r *Repository) GetRecentStats(ctx context.Context, days int) ([]DailyModelStats, error) {
	db, err := r.getDB(ctx)
	if err != nil {
		return nil, err
	}
	if days <= 0 {
		days = 7
	}

	var rows []ModelStats
	if err := db.WithContext(ctx).
		Where("usage_date >= CURRENT_DATE - (?::int)", days).
		Order("usage_date desc, model asc").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return toViews(rows), nil
}

func toViews(rows []ModelStats) []DailyModelStats {
	views := make([]DailyModelStats, 0, len(rows))
	for _, row := range rows {
		views = append(views, DailyModelStats{
			UsageDate:    row.UsageDate,
			Model:        row.Model,
			RequestCount: row.RequestCount,
			ErrorCount:   row.ErrorCount,
			InputTokens:  row.InputTokens,
			OutputChunks: row.OutputChunks,
			LatencySumMs: row.LatencySumMs,
		})
	}
	return views
}

// Close 는 DB 연결을 닫는다.
func (r *Repository) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sqlDB == nil {
		return
	}
	_ = r.sqlDB.Close()
	r.sqlDB = nil
	r.db = nil
}

func (r *Repository) getDB(ctx context.Context) (*gorm.DB, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.db != nil {
		return r.db, nil
	}
	if r.cfg == nil {
		return nil, errors.New("database config is nil")
	}

	hostUsed := r.cfg.Database.Host
	dsn := r.cfg.Database.DSN()
	gormCfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}
	db, err := gorm.Open(postgres.Open(dsn), gormCfg)
	if err != nil && shouldFallbackToLocalhost(err, r.cfg.Database.Host) {
		fallback := r.cfg.Database
		fallback.Host = "127.0.0.1"
		fallbackDSN := fallback.DSN()
		db, err = gorm.Open(postgres.Open(fallbackDSN), gormCfg)
		if err == nil {
			hostUsed = fallback.Host
			if r.logger != nil {
				r.logger.Warn(
					"stats_db_host_fallback",
					"configured_host", r.cfg.Database.Host,
					"effective_host", hostUsed,
				)
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open stats db: %w", err)
	}

	if schemaErr := ensureStatsSchema(db); schemaErr != nil {
		return nil, fmt.Errorf("prepare stats db: %w", schemaErr)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get stats db handle: %w", err)
	}

	sqlDB.SetMaxIdleConns(r.cfg.Database.MinPool)
	sqlDB.SetMaxOpenConns(r.cfg.Database.MaxPool)
	if r.cfg.Database.ConnMaxLifetimeMinutes > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(r.cfg.Database.ConnMaxLifetimeMinutes) * time.Minute)
	}
	if r.cfg.Database.ConnMaxIdleTimeMinutes > 0 {
		sqlDB.SetConnMaxIdleTime(time.Duration(r.cfg.Database.ConnMaxIdleTimeMinutes) * time.Minute)
	}

	if r.logger != nil {
		r.logger.Info("stats_db_connected", "host", hostUsed, "name", r.cfg.Database.Name)
	}

	r.db = db
	r.sqlDB = sqlDB
	return db, nil
}

func ensureStatsSchema(db *gorm.DB) error {
	if db == nil {
		return errors.New("db is nil")
	}

	if err := db.Exec(`
			CREATE TABLE IF NOT EXISTS model_stats (
				id BIGSERIAL PRIMARY KEY,
				usage_date DATE NOT NULL,
				model TEXT NOT NULL,
				request_count BIGINT NOT NULL DEFAULT 0,
				error_count BIGINT NOT NULL DEFAULT 0,
				input_tokens BIGINT NOT NULL DEFAULT 0,
				output_chunks BIGINT NOT NULL DEFAULT 0,
				latency_sum_ms BIGINT NOT NULL DEFAULT 0,
				version BIGINT NOT NULL DEFAULT 0
			)
		`).Error; err != nil {
		return fmt.Errorf("create model_stats table: %w", err)
	}

	if err := db.Exec(`
			CREATE UNIQUE INDEX IF NOT EXISTS idx_model_stats_date_model
			ON model_stats (usage_date, model)
		`).Error; err != nil {
		return fmt.Errorf("create model_stats unique index: %w", err)
	}

	return nil
}

func todayDate() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

func shouldFallbackToLocalhost(err error, host string) bool {
	if err == nil {
		return false
	}
	if host == "" || host == "127.0.0.1" || strings.EqualFold(host, "localhost") {
		return false
	}
	if !strings.EqualFold(host, "postgres") {
		return false
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return strings.EqualFold(dnsErr.Name, host)
	}

	lower := strings.ToLower(err.Error())
	hostLower := strings.ToLower(host)
	if strings.Contains(lower, "lookup "+hostLower) && strings.Contains(lower, "no such host") {
		return true
	}
	return strings.Contains(lower, "no such host") && strings.Contains(lower, hostLower)
}
