package plan

import (
	"embed"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed plans.yaml
var plansFS embed.FS

// FreeTierKey 는 기본 무료 플랜 키다.
const FreeTierKey = "free_tier"

// 구독 기간 키.
const (
	PeriodWeekly  = "weekly"
	PeriodMonthly = "monthly"
	PeriodYearly  = "yearly"
)

// Plan 은 리소스별 일일 허용량과 기간별 overdraft 크레딧 번들이다.
type Plan struct {
	DailyLimits map[string]int `yaml:"daily_limits"`
	Overdraft   map[string]int `yaml:"overdraft"`
}

// Catalog 는 플랜 정의 전체를 담는다.
type Catalog struct {
	plans map[string]Plan
}

// NewCatalog 는 내장 plans.yaml 에서 플랜 카탈로그를 로드한다.
func NewCatalog() (*Catalog, error) {
	data, err := plansFS.ReadFile("plans.yaml")
	if err != nil {
		return nil, fmt.Errorf("read plan file: %w", err)
	}

	var plans map[string]Plan
	if err := yaml.Unmarshal(data, &plans); err != nil {
		return nil, fmt.Errorf("parse plan yaml: %w", err)
	}
	if _, ok := plans[FreeTierKey]; !ok {
		return nil, fmt.Errorf("plan catalog missing %s", FreeTierKey)
	}

	return &Catalog{plans: plans}, nil
}

// Get 은 플랜 키로 플랜 정의를 조회한다.
func (c *Catalog) Get(key string) (Plan, bool) {
	p, ok := c.plans[key]
	return p, ok
}

// Keys 는 정의된 플랜 키 목록을 반환한다.
func (c *Catalog) Keys() []string {
	keys := make([]string, 0, len(c.plans))
	for key := range c.plans {
		keys = append(keys, key)
	}
	return keys
}

// GrantLimits 는 신규 구독 시점의 허용량 스냅샷을 계산한다.
// 이후 플랜 정의가 바뀌어도 이미 부여된 구독에는 영향을 주지 않는다.
func (c *Catalog) GrantLimits(key string, period string) (map[string]int, int) {
	p, ok := c.plans[key]
	if !ok {
		p = c.plans[FreeTierKey]
	}

	limits := make(map[string]int, len(p.DailyLimits))
	for resource, cap := range p.DailyLimits {
		limits[resource] = cap
	}
	return limits, p.Overdraft[period]
}

// FreeTierLimits 는 무료 티어 기본 허용량을 반환한다.
func (c *Catalog) FreeTierLimits() map[string]int {
	limits, _ := c.GrantLimits(FreeTierKey, "")
	return limits
}

// PeriodDuration 은 구독 기간의 길이를 반환한다.
func PeriodDuration(period string) time.Duration {
	switch period {
	case PeriodWeekly:
		return 7 * 24 * time.Hour
	case PeriodMonthly:
		return 30 * 24 * time.Hour
	case PeriodYearly:
		return 365 * 24 * time.Hour
	default:
		return 0
	}
}
