package config

import (
	"net"
	"net/url"
	"strconv"
)

// ProviderConfig: 업스트림 프로바이더 연결 설정입니다.
type ProviderConfig struct {
	APIKeys         []string
	BaseURL         string
	TimeoutSeconds  int
	RateLimitPerKey int
	MaxAttempts     int
}

// PrimaryKey: 기본 API 키를 반환합니다.
func (p ProviderConfig) PrimaryKey() string {
	if len(p.APIKeys) == 0 {
		return ""
	}
	return p.APIKeys[0]
}

// TotalCapacityRPM: 키 풀 전체의 분당 요청 용량을 반환합니다.
func (p ProviderConfig) TotalCapacityRPM() int {
	return len(p.APIKeys) * p.RateLimitPerKey
}

// StoragePolicy 는 스토리지 장애 시 허용 정책이다.
type StoragePolicy string

const (
	// StoragePolicyFailOpen 은 장애 시 무료 티어 기준으로 허용한다.
	StoragePolicyFailOpen StoragePolicy = "fail_open"
	// StoragePolicyFailClosed 는 장애 시 요청을 거부한다.
	StoragePolicyFailClosed StoragePolicy = "fail_closed"
)

// AdmissionConfig: 요청 허용 판정 설정입니다.
type AdmissionConfig struct {
	AdminAccount    string
	TrialDailyLimit int
	OnStorageError  StoragePolicy
}

// ShedderConfig: 전역 부하 차단 설정입니다.
type ShedderConfig struct {
	PriorityThreshold  float64
	StandardThreshold  float64
	PollIntervalMillis int
}

// AccountStoreConfig: 계정 저장소 연결 설정입니다.
type AccountStoreConfig struct {
	URL          string
	Enabled      bool
	Required     bool
	DisableCache bool
}

// LoggingConfig: 로깅 설정입니다.
type LoggingConfig struct {
	Level      string
	LogDir     string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// HTTPConfig: HTTP 서버 설정입니다.
type HTTPConfig struct {
	Host         string
	Port         int
	HTTP2Enabled bool
}

// HTTPAuthConfig: 서비스 키 인증 설정입니다.
type HTTPAuthConfig struct {
	ServiceKey string
}

// HTTPRateLimitConfig: HTTP 레벨 요청 제한 설정입니다.
type HTTPRateLimitConfig struct {
	RequestsPerMinute int
	CacheSize         int
	CacheTTLSeconds   int
}

// DatabaseConfig: 통계 DB 연결 및 배치 저장 설정입니다.
type DatabaseConfig struct {
	Host                                 string
	Port                                 int
	Name                                 string
	User                                 string
	Password                             string
	MinPool                              int
	MaxPool                              int
	ConnMaxLifetimeMinutes               int
	ConnMaxIdleTimeMinutes               int
	StatsBatchEnabled                    bool
	StatsBatchFlushIntervalSeconds       int
	StatsBatchFlushTimeoutSeconds        int
	StatsBatchMaxPendingRequests         int
	StatsBatchMaxBackoffSeconds          int
	StatsBatchErrorLogMaxIntervalSeconds int
}

// DSN: DB 접속 문자열을 반환합니다.
func (d DatabaseConfig) DSN() string {
	host := net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
	u := &url.URL{
		Scheme: "postgresql",
		Host:   host,
		Path:   "/" + d.Name,
	}
	if d.Password == "" {
		u.User = url.User(d.User)
	} else {
		u.User = url.UserPassword(d.User, d.Password)
	}
	return u.String()
}

// TelemetryConfig: OpenTelemetry 설정입니다.
type TelemetryConfig struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string
	OTLPInsecure   bool
	SampleRate     float64
}

// Config: 애플리케이션 전체 설정입니다.
type Config struct {
	Provider      ProviderConfig
	Admission     AdmissionConfig
	Shedder       ShedderConfig
	AccountStore  AccountStoreConfig
	Logging       LoggingConfig
	HTTP          HTTPConfig
	HTTPAuth      HTTPAuthConfig
	HTTPRateLimit HTTPRateLimitConfig
	Database      DatabaseConfig
	Telemetry     TelemetryConfig
}
