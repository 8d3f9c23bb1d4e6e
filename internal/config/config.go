package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config содержит конфигурацию приложения
type Config struct {
	Environment string
	Server      ServerConfig
	Redis       RedisConfig
	MQTT        MQTTConfig
	Store       StoreConfig
	Tracking    TrackingConfig
	Recovery    RecoveryConfig
	Performance PerformanceConfig
	Monitoring  MonitoringConfig
}

// ServerConfig конфигурация HTTP сервера
type ServerConfig struct {
	Address      string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	CORSOrigins  []string
	APITokens    []string // Токены устройств; пусто: без аутентификации
}

// RedisConfig конфигурация Redis (живой снимок пробежки)
type RedisConfig struct {
	Enabled      bool
	URL          string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	RunTTL       time.Duration
}

// MQTTConfig конфигурация MQTT
type MQTTConfig struct {
	Enabled       bool
	URL           string
	ClientID      string
	Username      string
	Password      string
	CleanSession  bool
	LocationTopic string // Топик входящих отсчетов
	EventsTopic   string // Топик исходящих событий
	QoS           byte
}

// StoreConfig конфигурация SQL хранилища пробежек
type StoreConfig struct {
	Driver       string // mysql или sqlite
	DSN          string
	MaxIdleConns int
	MaxOpenConns int
	AutoMigrate  bool
}

// TrackingConfig параметры движка
type TrackingConfig struct {
	AutoPauseEnabled   bool
	PauseThresholdKmh  float64
	ResumeThresholdKmh float64
	PauseDelay         time.Duration
	ResumeDelay        time.Duration

	MetricsInterval time.Duration
	MotionInterval  time.Duration
	FlushInterval   time.Duration
	LowPowerFactor  int

	// Минимальный интервал между отсчетами в режиме энергосбережения
	LowPowerSampleInterval time.Duration

	MaxAccuracyMeters float64
	MaxSpeedKmh       float64
	HistoryCap        int

	// Через сколько без отсчетов считать сигнал потерянным
	SignalTimeout time.Duration
	// Heartbeat старше порога означает прерванную пробежку
	StaleThreshold time.Duration
	// Максимум буферизованных записей при недоступном хранилище
	MaxBufferedWrites int
	GeohashPrecision  int
}

// RetryPolicy параметры повторов для класса ошибок
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// RecoveryConfig политики восстановления по классам ошибок
type RecoveryConfig struct {
	SignalLost            RetryPolicy
	Persistence           RetryPolicy
	DependencyUnavailable RetryPolicy
	HistorySize           int
}

// PerformanceConfig конфигурация производительности
type PerformanceConfig struct {
	RateLimitRPS          float64
	RateLimitBurst        int
	WebSocketPingInterval time.Duration
	WebSocketPongTimeout  time.Duration
	EventBufferSize       int
}

// MonitoringConfig конфигурация мониторинга
type MonitoringConfig struct {
	MetricsEnabled bool
	MetricsPort    string
}

// Load загружает конфигурацию из переменных окружения
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Address:      getEnv("SERVER_ADDRESS", ":8090"),
			Port:         getEnv("SERVER_PORT", "8090"),
			ReadTimeout:  getDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:  getDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
			CORSOrigins:  getList("CORS_ORIGINS", []string{"*"}),
			APITokens:    getList("API_TOKENS", nil),
		},
		Redis: RedisConfig{
			Enabled:      getBool("REDIS_ENABLED", false),
			URL:          getEnv("REDIS_URL", "redis://localhost:6379"),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           getInt("REDIS_DB", 0),
			PoolSize:     getInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getInt("REDIS_MIN_IDLE_CONNS", 2),
			RunTTL:       getDuration("REDIS_RUN_TTL", 24*time.Hour),
		},
		MQTT: MQTTConfig{
			Enabled:       getBool("MQTT_ENABLED", false),
			URL:           getEnv("MQTT_URL", "tcp://localhost:1883"),
			ClientID:      getEnv("MQTT_CLIENT_ID", "runtracker"),
			Username:      getEnv("MQTT_USERNAME", ""),
			Password:      getEnv("MQTT_PASSWORD", ""),
			CleanSession:  getBool("MQTT_CLEAN_SESSION", true),
			LocationTopic: getEnv("MQTT_LOCATION_TOPIC", "runtracker/location"),
			EventsTopic:   getEnv("MQTT_EVENTS_TOPIC", "runtracker/events"),
			QoS:           byte(getInt("MQTT_QOS", 1)),
		},
		Store: StoreConfig{
			Driver:       getEnv("STORE_DRIVER", "sqlite"),
			DSN:          getEnv("STORE_DSN", "file:runtracker.db?_pragma=busy_timeout(5000)"),
			MaxIdleConns: getInt("STORE_MAX_IDLE_CONNS", 2),
			MaxOpenConns: getInt("STORE_MAX_OPEN_CONNS", 10),
			AutoMigrate:  getBool("STORE_AUTO_MIGRATE", true),
		},
		Tracking: TrackingConfig{
			AutoPauseEnabled:       getBool("AUTO_PAUSE_ENABLED", true),
			PauseThresholdKmh:      getFloat("PAUSE_THRESHOLD_KMH", 1.0),
			ResumeThresholdKmh:     getFloat("RESUME_THRESHOLD_KMH", 1.0),
			PauseDelay:             getDuration("PAUSE_DELAY", 30*time.Second),
			ResumeDelay:            getDuration("RESUME_DELAY", 5*time.Second),
			MetricsInterval:        getDuration("METRICS_INTERVAL", time.Second),
			MotionInterval:         getDuration("MOTION_INTERVAL", 5*time.Second),
			FlushInterval:          getDuration("FLUSH_INTERVAL", 10*time.Second),
			LowPowerFactor:         getInt("LOW_POWER_FACTOR", 5),
			LowPowerSampleInterval: getDuration("LOW_POWER_SAMPLE_INTERVAL", 5*time.Second),
			MaxAccuracyMeters:      getFloat("MAX_ACCURACY_METERS", 0),
			MaxSpeedKmh:            getFloat("MAX_SPEED_KMH", 50),
			HistoryCap:             getInt("HISTORY_CAP", 10000),
			SignalTimeout:          getDuration("SIGNAL_TIMEOUT", 20*time.Second),
			StaleThreshold:         getDuration("STALE_THRESHOLD", 5*time.Minute),
			MaxBufferedWrites:      getInt("MAX_BUFFERED_WRITES", 50000),
			GeohashPrecision:       getInt("GEOHASH_PRECISION", 9),
		},
		Recovery: RecoveryConfig{
			SignalLost: RetryPolicy{
				MaxRetries: getInt("RECOVERY_SIGNAL_MAX_RETRIES", 5),
				BaseDelay:  getDuration("RECOVERY_SIGNAL_BASE_DELAY", 2*time.Second),
			},
			Persistence: RetryPolicy{
				MaxRetries: getInt("RECOVERY_PERSISTENCE_MAX_RETRIES", 5),
				BaseDelay:  getDuration("RECOVERY_PERSISTENCE_BASE_DELAY", time.Second),
			},
			DependencyUnavailable: RetryPolicy{
				MaxRetries: getInt("RECOVERY_DEPENDENCY_MAX_RETRIES", 3),
				BaseDelay:  getDuration("RECOVERY_DEPENDENCY_BASE_DELAY", 5*time.Second),
			},
			HistorySize: getInt("RECOVERY_HISTORY_SIZE", 100),
		},
		Performance: PerformanceConfig{
			RateLimitRPS:          getFloat("RATE_LIMIT_RPS", 50),
			RateLimitBurst:        getInt("RATE_LIMIT_BURST", 100),
			WebSocketPingInterval: getDuration("WEBSOCKET_PING_INTERVAL", 30*time.Second),
			WebSocketPongTimeout:  getDuration("WEBSOCKET_PONG_TIMEOUT", 60*time.Second),
			EventBufferSize:       getInt("EVENT_BUFFER_SIZE", 64),
		},
		Monitoring: MonitoringConfig{
			MetricsEnabled: getBool("METRICS_ENABLED", true),
			MetricsPort:    getEnv("METRICS_PORT", "9090"),
		},
	}

	// Валидация
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate проверяет корректность конфигурации
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("SERVER_PORT is required")
	}

	if c.Redis.Enabled && c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required when Redis is enabled")
	}

	if c.MQTT.Enabled && c.MQTT.URL == "" {
		return fmt.Errorf("MQTT_URL is required when MQTT is enabled")
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("MQTT_QOS must be 0, 1 or 2")
	}

	switch c.Store.Driver {
	case "mysql", "sqlite":
	default:
		return fmt.Errorf("STORE_DRIVER must be mysql or sqlite, got %q", c.Store.Driver)
	}
	if c.Store.DSN == "" {
		return fmt.Errorf("STORE_DSN is required")
	}

	t := c.Tracking
	if t.PauseThresholdKmh < 0 || t.ResumeThresholdKmh < 0 {
		return fmt.Errorf("motion thresholds must not be negative")
	}
	if t.PauseDelay <= 0 || t.ResumeDelay <= 0 {
		return fmt.Errorf("PAUSE_DELAY and RESUME_DELAY must be positive")
	}
	if t.MetricsInterval <= 0 || t.MotionInterval <= 0 || t.FlushInterval <= 0 {
		return fmt.Errorf("tick intervals must be positive")
	}
	if t.LowPowerFactor < 1 {
		return fmt.Errorf("LOW_POWER_FACTOR must be at least 1")
	}
	if t.HistoryCap < 2 {
		return fmt.Errorf("HISTORY_CAP must be at least 2")
	}
	if t.MaxBufferedWrites <= 0 {
		return fmt.Errorf("MAX_BUFFERED_WRITES must be positive")
	}
	if t.GeohashPrecision < 1 || t.GeohashPrecision > 12 {
		return fmt.Errorf("GEOHASH_PRECISION must be between 1 and 12")
	}

	for name, p := range map[string]RetryPolicy{
		"signal":      c.Recovery.SignalLost,
		"persistence": c.Recovery.Persistence,
		"dependency":  c.Recovery.DependencyUnavailable,
	} {
		if p.MaxRetries < 0 || p.BaseDelay <= 0 {
			return fmt.Errorf("invalid %s recovery policy: max_retries=%d base_delay=%s", name, p.MaxRetries, p.BaseDelay)
		}
	}
	if c.Recovery.HistorySize <= 0 {
		return fmt.Errorf("RECOVERY_HISTORY_SIZE must be positive")
	}

	return nil
}

// Helper функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// LogLevel возвращает уровень логирования
func LogLevel() string {
	return getEnv("LOG_LEVEL", "info")
}

// LogFormat возвращает формат логирования
func LogFormat() string {
	return getEnv("LOG_FORMAT", "json")
}

// IsDevelopment проверяет, запущено ли приложение в режиме разработки
func IsDevelopment() bool {
	return getEnv("APP_ENV", "production") == "development"
}
