package ledger

import "time"

// DateOf 는 UTC 기준 달력 날짜 태그를 반환한다.
func DateOf(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Subscription 은 부여 시점에 허용량이 캡처된 구독이다.
// 이후 플랜 테이블이 바뀌어도 이미 부여된 구독은 변하지 않는다.
type Subscription struct {
	PlanKey         string         `json:"plan_key"`
	Period          string         `json:"period"`
	DailyLimits     map[string]int `json:"daily_limits"`
	OverdraftCredit int            `json:"overdraft_credit"`
	GrantedAt       time.Time      `json:"granted_at"`
	ExpiresAt       time.Time      `json:"expires_at"`
}

// ActiveAt 는 구독이 해당 시점에 유효한지 반환한다. 만료 시각이 0이면 무기한이다.
func (s Subscription) ActiveAt(now time.Time) bool {
	return s.ExpiresAt.IsZero() || s.ExpiresAt.After(now)
}

// DailyUsage 는 날짜 태그가 붙은 일일 사용량 스냅샷이다.
// OverdraftUsed 는 결제 주기 단위 개념이라 일일 리셋에서 제외된다.
type DailyUsage struct {
	Date          string         `json:"date"`
	Requests      map[string]int `json:"requests"`
	OverdraftUsed int            `json:"overdraft_used"`
	TotalRequests int            `json:"total_requests"`
	TotalErrors   int            `json:"total_errors"`
	InputTokens   int64          `json:"input_tokens"`
	OutputTokens  int64          `json:"output_tokens"`
	LatencySum    float64        `json:"latency_sum"`
}

// ResetFor 는 overdraft 사용량만 남기고 모든 카운터를 새 날짜로 초기화한다.
func (u *DailyUsage) ResetFor(date string) {
	u.Date = date
	u.Requests = make(map[string]int)
	u.TotalRequests = 0
	u.TotalErrors = 0
	u.InputTokens = 0
	u.OutputTokens = 0
	u.LatencySum = 0
}

// TrialUsage 는 비인증 체험 요청의 날짜별 카운터다. 플랜 사용량과 분리 관리된다.
type TrialUsage struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// Account 는 계정 단위 쿼터 원장 레코드다.
type Account struct {
	ID            string         `json:"id"`
	Subscriptions []Subscription `json:"subscriptions"`
	Usage         DailyUsage     `json:"usage"`
	Trial         TrialUsage     `json:"trial"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// EnsureDay 는 저장된 날짜 태그가 오늘과 다르면 지연 리셋을 수행한다.
// 리셋이 일어났으면 true 를 반환한다.
func (a *Account) EnsureDay(now time.Time) bool {
	today := DateOf(now)
	changed := false

	if a.Usage.Date != today {
		a.Usage.ResetFor(today)
		changed = true
	}
	if a.Usage.Requests == nil {
		a.Usage.Requests = make(map[string]int)
	}

	if a.Trial.Date != today {
		a.Trial = TrialUsage{Date: today}
		changed = true
	}

	return changed
}

// Limits 는 유효 허용량 집계 결과다.
type Limits struct {
	Daily     map[string]int `json:"daily"`
	Overdraft int            `json:"overdraft"`
}
