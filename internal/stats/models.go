package stats

import "time"

// ModelStats 는 일자×모델 단위 요청 집계를 저장하는 DB 모델이다.
type ModelStats struct {
	ID           int64     `gorm:"column:id;primaryKey"`
	UsageDate    time.Time `gorm:"column:usage_date;type:date"`
	Model        string    `gorm:"column:model"`
	RequestCount int64     `gorm:"column:request_count"`
	ErrorCount   int64     `gorm:"column:error_count"`
	InputTokens  int64     `gorm:"column:input_tokens"`
	OutputChunks int64     `gorm:"column:output_chunks"`
	LatencySumMs int64     `gorm:"column:latency_sum_ms"`
	Version      int64     `gorm:"column:version"`
}

// TableName 은 GORM에서 사용할 테이블명을 반환한다.
func (ModelStats) TableName() string {
	return "model_stats"
}

// DailyModelStats 는 API/집계용 일자×모델 사용량 뷰 모델이다.
type DailyModelStats struct {
	UsageDate    time.Time
	Model        string
	RequestCount int64
	ErrorCount   int64
	InputTokens  int64
	OutputChunks int64
	LatencySumMs int64
}

// AvgLatencyMs 는 평균 지연 시간을 반환한다.
func (d DailyModelStats) AvgLatencyMs() float64 {
	if d.RequestCount == 0 {
		return 0
	}
	return float64(d.LatencySumMs) / float64(d.RequestCount)
}
