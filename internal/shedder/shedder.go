package shedder

import (
	"context"
	"sync"
	"time"

	"github.com/park285/llm-kakao-bots/nexus-gateway-go/internal/config"
)

// windowSpan 은 부하 계산에 쓰는 슬라이딩 윈도우 길이다.
const windowSpan = time.Minute

// Shedder 는 프로세스 전역 부하 게이트다. 디스패처로 넘어간 요청의
// 타임스탬프 윈도우를 유지하고 용량 대비 부하율로 신규 요청을 조절한다.
// 윈도우는 프로세스 단위라서 다중 인스턴스 배포에서는 인스턴스별로 동작한다.
type Shedder struct {
	mu     sync.Mutex
	window []time.Time

	capacity          int
	priorityThreshold float64
	standardThreshold float64
	pollInterval      time.Duration
	now               func() time.Time
}

// New 는 부하 게이트를 생성한다. capacityRPM 은 키 수 × 키당 분당 한도다.
func New(cfg config.ShedderConfig, capacityRPM int) *Shedder {
	interval := time.Duration(cfg.PollIntervalMillis) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}
	return &Shedder{
		capacity:          capacityRPM,
		priorityThreshold: cfg.PriorityThreshold,
		standardThreshold: cfg.StandardThreshold,
		pollInterval:      interval,
		now:               time.Now,
	}
}

// SetNowFunc 는 테스트에서 현재 시각 주입에 쓰인다.
func (s *Shedder) SetNowFunc(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// CurrentLoad 는 최근 1분 윈도우를 정리한 뒤 용량 대비 부하율을 반환한다.
// 용량이 0이면 1.0 (가득 참)으로 간주해 모든 요청을 막는다.
func (s *Shedder) CurrentLoad() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked(s.now())
	return s.loadLocked()
}

// WindowSize 는 현재 윈도우에 남은 항목 수를 반환한다.
func (s *Shedder) WindowSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked(s.now())
	return len(s.window)
}

// AcquireSlot 은 부하가 임계값 아래로 내려갈 때까지 고정 간격으로 폴링한다.
// priority=true 는 높은 임계값을 적용받아 나중에 차단된다.
// 슬롯을 잡으면 타임스탬프를 윈도우에 추가하고 즉시 반환한다.
// 컨텍스트 취소/기한 초과 시 ctx.Err() 를 반환한다.
func (s *Shedder) AcquireSlot(ctx context.Context, priority bool) error {
	threshold := s.standardThreshold
	if priority {
		threshold = s.priorityThreshold
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.tryAcquire(threshold) {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.pollInterval):
		}
	}
}

// tryAcquire 는 부하가 임계값 미만이면 타임스탬프를 추가하고 true 를 반환한다.
func (s *Shedder) tryAcquire(threshold float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.pruneLocked(now)
	if s.loadLocked() >= threshold {
		return false
	}

	s.window = append(s.window, now)
	return true
}

func (s *Shedder) loadLocked() float64 {
	if s.capacity <= 0 {
		return 1.0
	}
	return float64(len(s.window)) / float64(s.capacity)
}

func (s *Shedder) pruneLocked(now time.Time) {
	cutoff := now.Add(-windowSpan)
	idx := 0
	for idx < len(s.window) && !s.window[idx].After(cutoff) {
		idx++
	}
	if idx > 0 {
		s.window = append(s.window[:0], s.window[idx:]...)
	}
}

// fill 은 테스트에서 윈도우를 원하는 수준까지 채우는 데 쓰인다.
func (s *Shedder) fill(count int, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := 0; i < count; i++ {
		s.window = append(s.window, at)
	}
}
