package config

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/joho/godotenv"
)

var (
	configOnce  sync.Once
	configValue *Config
)

// Load 는 환경 변수 기반 설정을 로드한다.
func Load() *Config {
	configOnce.Do(func() {
		_ = godotenv.Load()
		configValue = buildConfig()
	})
	return configValue
}

// ProvideConfig 는 설정을 로드하고 검증한다.
func ProvideConfig() (*Config, error) {
	cfg := Load()
	if cfg == nil {
		return nil, errors.New("config not initialized")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 는 설정 유효성을 검사한다.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	switch c.Admission.OnStorageError {
	case StoragePolicyFailOpen, StoragePolicyFailClosed:
	default:
		return fmt.Errorf("invalid storage policy: %s", c.Admission.OnStorageError)
	}

	if c.Shedder.PriorityThreshold <= 0 || c.Shedder.PriorityThreshold > 1 {
		return fmt.Errorf("priority threshold out of range: %.2f", c.Shedder.PriorityThreshold)
	}
	if c.Shedder.StandardThreshold <= 0 || c.Shedder.StandardThreshold > 1 {
		return fmt.Errorf("standard threshold out of range: %.2f", c.Shedder.StandardThreshold)
	}
	if c.Shedder.StandardThreshold > c.Shedder.PriorityThreshold {
		return fmt.Errorf(
			"standard threshold %.2f exceeds priority threshold %.2f",
			c.Shedder.StandardThreshold,
			c.Shedder.PriorityThreshold,
		)
	}

	return nil
}

// LogEnvStatus 는 환경 설정 상태를 로그로 남긴다.
func LogEnvStatus(cfg *Config, logger *slog.Logger) {
	if logger == nil || cfg == nil {
		return
	}

	envFilePresent := fileExists(".env")
	primaryKey := maskSecret(cfg.Provider.PrimaryKey())
	logger.Debug(
		"env_status",
		"env_file", envFilePresent,
		"provider_keys", len(cfg.Provider.APIKeys),
		"primary_key", primaryKey,
		"provider_base_url", cfg.Provider.BaseURL,
		"capacity_rpm", cfg.Provider.TotalCapacityRPM(),
		"timeout", cfg.Provider.TimeoutSeconds,
		"account_store_url", cfg.AccountStore.URL,
		"storage_policy", cfg.Admission.OnStorageError,
		"db_host", cfg.Database.Host,
		"db_name", cfg.Database.Name,
	)

	if len(cfg.Provider.APIKeys) == 0 {
		logger.Error("env_missing_provider_api_key")
	}
}

func buildConfig() *Config {
	return &Config{
		Provider: ProviderConfig{
			APIKeys:         parseAPIKeys(),
			BaseURL:         getEnvString("NVIDIA_BASE_URL", "https://integrate.api.nvidia.com/v1"),
			TimeoutSeconds:  getEnvInt("PROVIDER_TIMEOUT", 60),
			RateLimitPerKey: getEnvNonNegativeInt("PROVIDER_RATE_LIMIT_PER_KEY", 40),
			MaxAttempts:     max(1, getEnvInt("PROVIDER_MAX_ATTEMPTS", 2)),
		},
		Admission: AdmissionConfig{
			AdminAccount:    getEnvString("ADMIN_EMAIL", ""),
			TrialDailyLimit: getEnvNonNegativeInt("TRIAL_DAILY_LIMIT", 10),
			OnStorageError:  StoragePolicy(getEnvString("ADMISSION_ON_STORAGE_ERROR", string(StoragePolicyFailOpen))),
		},
		Shedder: ShedderConfig{
			PriorityThreshold:  getEnvFloat("SHEDDER_PRIORITY_THRESHOLD", 0.95),
			StandardThreshold:  getEnvFloat("SHEDDER_STANDARD_THRESHOLD", 0.80),
			PollIntervalMillis: max(1, getEnvNonNegativeInt("SHEDDER_POLL_INTERVAL_MS", 1000)),
		},
		AccountStore: AccountStoreConfig{
			URL:          getEnvString("ACCOUNT_STORE_URL", "redis://localhost:6379"),
			Enabled:      getEnvBool("ACCOUNT_STORE_ENABLED", true),
			Required:     getEnvBool("ACCOUNT_STORE_REQUIRED", false),
			DisableCache: getEnvBool("ACCOUNT_STORE_DISABLE_CACHE", false),
		},
		Logging: LoggingConfig{
			Level:      getEnvString("LOG_LEVEL", "info"),
			LogDir:     getEnvString("LOG_DIR", ""),
			MaxSizeMB:  getEnvInt("LOG_FILE_MAX_SIZE_MB", 1),
			MaxBackups: getEnvInt("LOG_FILE_MAX_BACKUPS", 30),
			MaxAgeDays: getEnvInt("LOG_FILE_MAX_AGE_DAYS", 7),
			Compress:   getEnvBool("LOG_FILE_COMPRESS", true),
		},
		HTTP: HTTPConfig{
			Host:         getEnvString("HTTP_HOST", "127.0.0.1"),
			Port:         getEnvInt("HTTP_PORT", 40610),
			HTTP2Enabled: getEnvBool("HTTP2_ENABLED", true),
		},
		HTTPAuth: HTTPAuthConfig{
			ServiceKey: getEnvString("HTTP_SERVICE_KEY", ""),
		},
		HTTPRateLimit: HTTPRateLimitConfig{
			RequestsPerMinute: getEnvNonNegativeInt("HTTP_RATE_LIMIT_RPM", 0),
			CacheSize:         max(1, getEnvNonNegativeInt("HTTP_RATE_LIMIT_CACHE_SIZE", 10000)),
			CacheTTLSeconds:   max(1, getEnvNonNegativeInt("HTTP_RATE_LIMIT_CACHE_TTL_SECONDS", 120)),
		},
		Database: DatabaseConfig{
			Host:                                 getEnvString("DB_HOST", "localhost"),
			Port:                                 getEnvInt("DB_PORT", 5432),
			Name:                                 getEnvString("DB_NAME", "nexus"),
			User:                                 getEnvString("DB_USER", "nexus"),
			Password:                             getEnvString("DB_PASSWORD", ""),
			MinPool:                              getEnvInt("DB_MIN_POOL", 1),
			MaxPool:                              getEnvInt("DB_MAX_POOL", 5),
			ConnMaxLifetimeMinutes:               getEnvNonNegativeInt("DB_CONN_MAX_LIFETIME_MINUTES", 60),
			ConnMaxIdleTimeMinutes:               getEnvNonNegativeInt("DB_CONN_MAX_IDLE_TIME_MINUTES", 10),
			StatsBatchEnabled:                    getEnvBool("DB_STATS_BATCH_ENABLED", false),
			StatsBatchFlushIntervalSeconds:       max(1, getEnvNonNegativeInt("DB_STATS_BATCH_FLUSH_INTERVAL_SECONDS", 1)),
			StatsBatchFlushTimeoutSeconds:        max(1, getEnvNonNegativeInt("DB_STATS_BATCH_FLUSH_TIMEOUT_SECONDS", 5)),
			StatsBatchMaxPendingRequests:         max(1, getEnvNonNegativeInt("DB_STATS_BATCH_MAX_PENDING_REQUESTS", 50)),
			StatsBatchMaxBackoffSeconds:          getEnvNonNegativeInt("DB_STATS_BATCH_MAX_BACKOFF_SECONDS", 60),
			StatsBatchErrorLogMaxIntervalSeconds: getEnvNonNegativeInt("DB_STATS_BATCH_ERROR_LOG_MAX_INTERVAL_SECONDS", 60),
		},
		Telemetry: readTelemetryConfig(),
	}
}
