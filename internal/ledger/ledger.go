package ledger

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"
)

const lockStripes = 64

// Ledger 는 계정 쿼터 원장 서비스다.
// 같은 계정에 대한 읽기-수정-쓰기는 프로세스 내 스트라이프 락으로 직렬화된다.
// 프로세스 간에는 last-writer-wins 로 동작한다.
type Ledger struct {
	store    *Store
	freeTier map[string]int
	locks    [lockStripes]sync.Mutex
	now      func() time.Time
}

// New 는 원장 서비스를 생성한다. freeTier 는 구독이 없을 때의 기본 허용량이다.
func New(store *Store, freeTier map[string]int) *Ledger {
	return &Ledger{
		store:    store,
		freeTier: freeTier,
		now:      time.Now,
	}
}

// SetNowFunc 는 테스트에서 현재 시각 주입에 쓰인다.
func (l *Ledger) SetNowFunc(now func() time.Time) {
	l.now = now
}

// Store 는 하부 저장소를 반환한다.
func (l *Ledger) Store() *Store {
	return l.store
}

func (l *Ledger) lockFor(id string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &l.locks[h.Sum32()%lockStripes]
}

// EffectiveLimits 는 만료되지 않은 구독 전체의 허용량 합을 계산한다.
// 유효 구독이 없으면 무료 티어 기준치를 반환한다.
// 구독별 허용량은 부여 시점 스냅샷이며 현재 플랜 테이블과 무관하다.
func (l *Ledger) EffectiveLimits(acct *Account) Limits {
	now := l.now()

	active := make([]Subscription, 0, len(acct.Subscriptions))
	for _, sub := range acct.Subscriptions {
		if sub.ActiveAt(now) {
			active = append(active, sub)
		}
	}

	if len(active) == 0 {
		return l.FreeTierLimits()
	}

	limits := Limits{Daily: make(map[string]int)}
	for _, sub := range active {
		for resource, cap := range sub.DailyLimits {
			limits.Daily[resource] += cap
		}
		limits.Overdraft += sub.OverdraftCredit
	}
	return limits
}

// FreeTierLimits 는 무료 티어 기준 허용량 사본을 반환한다.
func (l *Ledger) FreeTierLimits() Limits {
	daily := make(map[string]int, len(l.freeTier))
	for resource, cap := range l.freeTier {
		daily[resource] = cap
	}
	return Limits{Daily: daily, Overdraft: 0}
}

// Get 은 계정을 조회하고 필요하면 일일 리셋을 수행한다.
// 리셋은 즉시 저장되어 이후 읽기가 같은 상태를 보게 된다.
func (l *Ledger) Get(ctx context.Context, id string) (*Account, error) {
	mu := l.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	return l.loadLocked(ctx, id)
}

// Update 는 스트라이프 락 아래에서 계정을 읽고 fn 으로 수정한 뒤 저장한다.
// fn 이 dirty=false 를 반환하면 저장하지 않는다 (거부 경로는 카운터를 건드리지 않는다).
func (l *Ledger) Update(ctx context.Context, id string, fn func(acct *Account, limits Limits) (bool, error)) (*Account, error) {
	mu := l.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	acct, err := l.loadLocked(ctx, id)
	if err != nil {
		return nil, err
	}

	dirty, err := fn(acct, l.EffectiveLimits(acct))
	if err != nil {
		return nil, err
	}
	if dirty {
		if err := l.store.SaveAccount(ctx, acct); err != nil {
			return nil, err
		}
	}
	return acct, nil
}

// UpdateOrCreate 는 Update 와 같지만 계정이 없으면 새 레코드를 만들어 시작한다.
// 체험 카운터처럼 사전 등록 없이 쌓이는 상태에 쓰인다.
func (l *Ledger) UpdateOrCreate(ctx context.Context, id string, fn func(acct *Account, limits Limits) (bool, error)) (*Account, error) {
	mu := l.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	acct, err := l.loadLocked(ctx, id)
	if err != nil {
		if !errors.Is(err, ErrAccountNotFound) {
			return nil, err
		}
		acct = l.newAccount(id)
	}

	dirty, err := fn(acct, l.EffectiveLimits(acct))
	if err != nil {
		return nil, err
	}
	if dirty {
		if err := l.store.SaveAccount(ctx, acct); err != nil {
			return nil, err
		}
	}
	return acct, nil
}

// RequestStats 는 디스패치 이후 기록되는 계정 단위 사용량 집계다.
type RequestStats struct {
	Resource       string
	InputTokens    int
	OutputTokens   int
	LatencySeconds float64
	IsError        bool
}

// TrackRequest 는 토큰 추정치와 지연 시간을 계정 레코드에 누적한다.
// 어드미션 판정에는 쓰이지 않는 분석용 집계다.
func (l *Ledger) TrackRequest(ctx context.Context, id string, stats RequestStats) error {
	_, err := l.Update(ctx, id, func(acct *Account, _ Limits) (bool, error) {
		acct.Usage.InputTokens += int64(stats.InputTokens)
		acct.Usage.OutputTokens += int64(stats.OutputTokens)
		acct.Usage.LatencySum += stats.LatencySeconds
		if stats.IsError {
			acct.Usage.TotalErrors++
		}
		return true, nil
	})
	return err
}

// GrantSubscription 은 부여 시점 허용량이 캡처된 구독을 계정에 추가한다.
// 계정이 없으면 새로 만든다.
func (l *Ledger) GrantSubscription(ctx context.Context, id string, sub Subscription) (*Account, error) {
	mu := l.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	acct, err := l.loadLocked(ctx, id)
	if err != nil {
		if !errors.Is(err, ErrAccountNotFound) {
			return nil, err
		}
		acct = l.newAccount(id)
	}

	acct.Subscriptions = append(acct.Subscriptions, sub)
	if err := l.store.SaveAccount(ctx, acct); err != nil {
		return nil, err
	}
	return acct, nil
}

func (l *Ledger) newAccount(id string) *Account {
	now := l.now().UTC()
	acct := &Account{ID: id, CreatedAt: now}
	acct.EnsureDay(now)
	return acct
}

// loadLocked 는 락 보유 상태에서 계정을 읽고 날짜 리셋을 즉시 반영한다.
func (l *Ledger) loadLocked(ctx context.Context, id string) (*Account, error) {
	acct, err := l.store.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}

	if acct.EnsureDay(l.now()) {
		if err := l.store.SaveAccount(ctx, acct); err != nil {
			return nil, err
		}
	}
	return acct, nil
}
