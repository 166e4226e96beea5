package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment string

	Server  ServerConfig
	Redis   RedisConfig
	Scylla  ScyllaConfig
	Kafka   KafkaConfig
	Logging LoggingConfig
	Hashing HashingConfig
	OTP     OTPConfig
	Lockout LockoutConfig
	Token   TokenConfig
}

type ServerConfig struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	EnableTLS    bool
	CertFile     string
	KeyFile      string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string
}

type KafkaConfig struct {
	Brokers             []string
	SecurityEventsTopic string
}

type LoggingConfig struct {
	Level  string
	Format string
}

type HashingConfig struct {
	Argon2MemoryCost  int
	Argon2TimeCost    int
	Argon2Parallelism int
	Pepper            string
}

type OTPConfig struct {
	Length      int
	Expiry      time.Duration
	MaxAttempts int
	GracePeriod time.Duration
}

type LockoutConfig struct {
	CacheTTL time.Duration
}

type TokenConfig struct {
	FallbackBlacklistTTL time.Duration
	RefreshTokenTTL      time.Duration
}

// LoadConfig loads configuration from environment variables, with .env support
// for local development.
func LoadConfig() *Config {
	_ = godotenv.Load()

	return &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Port:         getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			EnableTLS:    getEnvBool("SERVER_ENABLE_TLS", false),
			CertFile:     getEnv("SERVER_CERT_FILE", ""),
			KeyFile:      getEnv("SERVER_KEY_FILE", ""),
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", "redis://localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 50),
		},
		Scylla: ScyllaConfig{
			Nodes:    getEnvList("SCYLLA_NODES", "localhost:9042"),
			Keyspace: getEnv("SCYLLA_KEYSPACE", "auth_security"),
			Username: getEnv("SCYLLA_USERNAME", ""),
			Password: getEnv("SCYLLA_PASSWORD", ""),
		},
		Kafka: KafkaConfig{
			Brokers:             getEnvList("KAFKA_BROKERS", "localhost:9092"),
			SecurityEventsTopic: getEnv("KAFKA_SECURITY_EVENTS_TOPIC", "security-events"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Hashing: HashingConfig{
			Argon2MemoryCost:  getEnvInt("ARGON2_MEMORY_COST", 65536),
			Argon2TimeCost:    getEnvInt("ARGON2_TIME_COST", 1),
			Argon2Parallelism: getEnvInt("ARGON2_PARALLELISM", 4),
			// Shared across replicas: a per-process pepper would make an OTP
			// hashed by one replica unverifiable on another.
			Pepper: getEnv("HASHING_PEPPER", ""),
		},
		OTP: OTPConfig{
			Length:      getEnvInt("OTP_LENGTH", 6),
			Expiry:      getEnvDuration("OTP_EXPIRY", 10*time.Minute),
			MaxAttempts: getEnvInt("OTP_MAX_ATTEMPTS", 5),
			GracePeriod: getEnvDuration("OTP_GRACE_PERIOD", 60*time.Second),
		},
		Lockout: LockoutConfig{
			CacheTTL: getEnvDuration("LOCKOUT_CACHE_TTL", 24*time.Hour),
		},
		Token: TokenConfig{
			FallbackBlacklistTTL: getEnvDuration("TOKEN_FALLBACK_BLACKLIST_TTL", 7*24*time.Hour),
			RefreshTokenTTL:      getEnvDuration("REFRESH_TOKEN_TTL", 30*24*time.Hour),
		},
	}
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) GetServerAddress() string {
	return ":" + strconv.Itoa(c.Server.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvList(key, defaultValue string) []string {
	value := getEnv(key, defaultValue)
	parts := strings.Split(value, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
