package ledger

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/valkey-io/valkey-go"
	"golang.org/x/sync/singleflight"

	"github.com/park285/llm-kakao-bots/nexus-gateway-go/internal/config"
)

var (
	// ErrAccountNotFound 는 계정 미존재 오류다.
	ErrAccountNotFound = errors.New("account not found")
	// ErrStoreUnavailable 는 계정 저장소 장애 오류다.
	ErrStoreUnavailable = errors.New("account store unavailable")
)

type storeBackend int

const (
	storeBackendMemory storeBackend = iota
	storeBackendValkey
)

type blobEntry struct {
	data      []byte
	expiresAt time.Time
}

// Store 는 Valkey 기반 계정 원장 저장소다.
// 비활성화 시 메모리 백엔드로 대체되며 테스트와 로컬 개발에 쓰인다.
type Store struct {
	client  valkey.Client
	backend storeBackend
	group   singleflight.Group

	mu       sync.RWMutex
	accounts map[string][]byte
	apiKeys  map[string]string
	blobs    map[string]blobEntry
}

// NewStore 는 계정 저장소를 생성한다.
func NewStore(cfg *config.Config) (*Store, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}

	if !cfg.AccountStore.Enabled {
		if cfg.AccountStore.Required {
			return nil, errors.New("account store required but disabled")
		}
		return NewMemoryStore(), nil
	}

	conn, err := parseStoreURL(cfg.AccountStore.URL)
	if err != nil {
		return nil, fmt.Errorf("parse account store url: %w", err)
	}

	var tlsConfig *tls.Config
	if conn.useTLS {
		host, _, splitErr := net.SplitHostPort(conn.addr)
		if splitErr != nil {
			return nil, fmt.Errorf("parse account store addr: %w", splitErr)
		}
		tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12, ServerName: host}
	}

	client, err := valkey.NewClient(valkey.ClientOption{
		TLSConfig:    tlsConfig,
		Username:     conn.username,
		Password:     conn.password,
		InitAddress:  []string{conn.addr},
		SelectDB:     conn.selectDB,
		DisableCache: cfg.AccountStore.DisableCache,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to valkey: %w", err)
	}

	return &Store{
		client:  client,
		backend: storeBackendValkey,
	}, nil
}

// NewMemoryStore 는 메모리 백엔드 저장소를 생성한다.
func NewMemoryStore() *Store {
	return &Store{
		backend:  storeBackendMemory,
		accounts: make(map[string][]byte),
		apiKeys:  make(map[string]string),
		blobs:    make(map[string]blobEntry),
	}
}

// Close 는 Valkey 연결을 종료한다.
func (s *Store) Close() {
	if s == nil {
		return
	}
	if s.backend == storeBackendValkey && s.client != nil {
		s.client.Close()
	}
}

func accountKey(id string) string {
	return fmt.Sprintf("account:%s", id)
}

func apiKeyKey(key string) string {
	return fmt.Sprintf("api_key:%s", key)
}

// GetAccount 는 계정 레코드를 조회한다.
// 동일 계정에 대한 동시 조회는 singleflight 로 한 번의 저장소 호출로 합쳐진다.
func (s *Store) GetAccount(ctx context.Context, id string) (*Account, error) {
	raw, err, _ := s.group.Do(accountKey(id), func() (any, error) {
		return s.getRaw(ctx, accountKey(id))
	})
	if err != nil {
		return nil, err
	}

	var acct Account
	if err := json.Unmarshal(raw.([]byte), &acct); err != nil {
		return nil, fmt.Errorf("unmarshal account: %w", err)
	}
	return &acct, nil
}

// SaveAccount 는 계정 레코드를 저장한다.
func (s *Store) SaveAccount(ctx context.Context, acct *Account) error {
	acct.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(acct)
	if err != nil {
		return fmt.Errorf("marshal account: %w", err)
	}
	return s.setRaw(ctx, accountKey(acct.ID), data, 0)
}

// ResolveAPIKey 는 API 키에 매핑된 계정 ID를 반환한다.
func (s *Store) ResolveAPIKey(ctx context.Context, key string) (string, error) {
	data, err := s.getRaw(ctx, apiKeyKey(key))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// BindAPIKey 는 API 키를 계정에 매핑한다.
func (s *Store) BindAPIKey(ctx context.Context, key string, accountID string) error {
	return s.setRaw(ctx, apiKeyKey(key), []byte(accountID), 0)
}

// GetBlob 는 임의 JSON 블롭을 조회한다. 전역 통계 집계에 쓰인다.
func (s *Store) GetBlob(ctx context.Context, key string) ([]byte, error) {
	return s.getRaw(ctx, key)
}

// SetBlob 는 임의 JSON 블롭을 TTL과 함께 저장한다.
func (s *Store) SetBlob(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	return s.setRaw(ctx, key, data, ttl)
}

// Ping 은 저장소 연결을 확인한다.
func (s *Store) Ping(ctx context.Context) error {
	if s.backend == storeBackendMemory {
		return nil
	}

	cmd := s.client.B().Ping().Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Store) getRaw(ctx context.Context, key string) ([]byte, error) {
	if s.backend == storeBackendMemory {
		return s.getRawMemory(key)
	}

	cmd := s.client.B().Get().Key(key).Build()
	result, err := s.client.Do(ctx, cmd).ToString()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return []byte(result), nil
}

func (s *Store) setRaw(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if s.backend == storeBackendMemory {
		s.setRawMemory(key, data, ttl)
		return nil
	}

	var cmd valkey.Completed
	if ttl > 0 {
		cmd = s.client.B().Set().Key(key).Value(string(data)).Ex(ttl).Build()
	} else {
		cmd = s.client.B().Set().Key(key).Value(string(data)).Build()
	}
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Store) getRawMemory(key string) ([]byte, error) {
	now := time.Now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	if id, ok := s.apiKeys[key]; ok {
		return []byte(id), nil
	}
	if data, ok := s.accounts[key]; ok {
		copied := append([]byte(nil), data...)
		return copied, nil
	}
	if entry, ok := s.blobs[key]; ok {
		if entry.expiresAt.IsZero() || now.Before(entry.expiresAt) {
			copied := append([]byte(nil), entry.data...)
			return copied, nil
		}
	}
	return nil, ErrAccountNotFound
}

func (s *Store) setRawMemory(key string, data []byte, ttl time.Duration) {
	copied := append([]byte(nil), data...)

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case len(key) > len("account:") && key[:len("account:")] == "account:":
		s.accounts[key] = copied
	case len(key) > len("api_key:") && key[:len("api_key:")] == "api_key:":
		s.apiKeys[key] = string(copied)
	default:
		entry := blobEntry{data: copied}
		if ttl > 0 {
			entry.expiresAt = time.Now().Add(ttl)
		}
		s.blobs[key] = entry
	}
}
