package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBHost        string
	DBUser        string
	DBPassword    string
	DBName        string
	DBPort        string
	RedisAddr     string
	RedisPort     string
	RedisPassword string
	JWTSecret     string

	// Transaction audit log signing key
	LedgerHashSecret string

	// Log configuration
	LogLevel      string
	LogFilename   string
	LogMaxSize    int
	LogMaxBackups int
	LogMaxAge     int
	LogCompress   bool

	// OSS artifact storage
	OSSEndpoint        string
	OSSRegion          string
	OSSBucketName      string
	OSSAccessKeyID     string
	OSSAccessKeySecret string
	OSSRoleArn         string

	// Provider endpoints
	KieBaseURL     string
	RunwareBaseURL string

	// Reconciler windows. A generation stuck in a non-terminal state is
	// polled after GraceWindow, force-failed at AgeCeiling, and ignored
	// past AbandonAfter (presumed handled out of band).
	ReconcileInterval time.Duration
	GraceWindow       time.Duration
	AgeCeiling        time.Duration
	AbandonAfter      time.Duration
	ReconcileBatch    int
}

func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort)
}

func (c *Config) RedisFullAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisAddr, c.RedisPort)
}

var (
	dotenvOnce sync.Once
	dotenvErr  error
)

func LoadConfig() (*Config, error) {
	// Reading the .env file is done once per process; callers may invoke
	// LoadConfig freely without re-touching the filesystem.
	dotenvOnce.Do(func() {
		err := godotenv.Load()
		if err != nil && !os.IsNotExist(err) {
			dotenvErr = err
		}
	})
	if dotenvErr != nil {
		return nil, dotenvErr
	}

	return &Config{
		DBHost:        os.Getenv("DB_HOST"),
		DBUser:        os.Getenv("DB_USER"),
		DBPassword:    os.Getenv("DB_PASSWORD"),
		DBName:        os.Getenv("DB_NAME"),
		DBPort:        os.Getenv("DB_PORT"),
		RedisAddr:     os.Getenv("REDIS_HOST"),
		RedisPort:     os.Getenv("REDIS_PORT"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		JWTSecret:     os.Getenv("JWT_SECRET"),

		LedgerHashSecret: getEnv("LEDGER_HASH_SECRET", "dev-only-secret"),

		LogLevel:      getEnv("LOG_LEVEL", "INFO"),
		LogFilename:   getEnv("LOG_FILENAME", "logs/app.log"),
		LogMaxSize:    getEnvAsInt("LOG_MAX_SIZE", 100),
		LogMaxBackups: getEnvAsInt("LOG_MAX_BACKUPS", 3),
		LogMaxAge:     getEnvAsInt("LOG_MAX_AGE", 28),
		LogCompress:   getEnvAsBool("LOG_COMPRESS", true),

		OSSEndpoint:        os.Getenv("OSS_ENDPOINT"),
		OSSRegion:          os.Getenv("OSS_REGION"),
		OSSBucketName:      os.Getenv("OSS_BUCKET_NAME"),
		OSSAccessKeyID:     os.Getenv("OSS_ACCESS_KEY_ID"),
		OSSAccessKeySecret: os.Getenv("OSS_ACCESS_KEY_SECRET"),
		OSSRoleArn:         os.Getenv("OSS_ROLE_ARN"),

		KieBaseURL:     getEnv("KIE_AI_BASE_URL", "https://api.kie.ai"),
		RunwareBaseURL: getEnv("RUNWARE_BASE_URL", "https://api.runware.ai"),

		ReconcileInterval: getEnvAsDuration("RECONCILE_INTERVAL", time.Minute),
		GraceWindow:       getEnvAsDuration("RECONCILE_GRACE_WINDOW", 2*time.Minute),
		AgeCeiling:        getEnvAsDuration("RECONCILE_AGE_CEILING", 30*time.Minute),
		AbandonAfter:      getEnvAsDuration("RECONCILE_ABANDON_AFTER", 24*time.Hour),
		ReconcileBatch:    getEnvAsInt("RECONCILE_BATCH_SIZE", 20),
	}, nil
}

// BreakerClassSetting is the trip tuple for one circuit-breaker service
// class: consecutive failures before opening, how long the circuit stays
// open, and how many probes half-open admits.
type BreakerClassSetting struct {
	Threshold        int
	Timeout          time.Duration
	HalfOpenRequests int
}

// BreakerClassSettings returns the trip tuple for every service class.
// Each field can be overridden with
// BREAKER_<CLASS>_{THRESHOLD,TIMEOUT,HALF_OPEN_REQUESTS}.
func BreakerClassSettings() map[string]BreakerClassSetting {
	defaults := map[string]BreakerClassSetting{
		"ai_provider": {Threshold: 5, Timeout: 60 * time.Second, HalfOpenRequests: 2},
		"storage":     {Threshold: 3, Timeout: 30 * time.Second, HalfOpenRequests: 1},
		"webhook":     {Threshold: 10, Timeout: 120 * time.Second, HalfOpenRequests: 3},
		"email":       {Threshold: 5, Timeout: 300 * time.Second, HalfOpenRequests: 1},
		"default":     {Threshold: 5, Timeout: 60 * time.Second, HalfOpenRequests: 1},
	}

	settings := make(map[string]BreakerClassSetting, len(defaults))
	for class, def := range defaults {
		prefix := "BREAKER_" + strings.ToUpper(class) + "_"
		settings[class] = BreakerClassSetting{
			Threshold:        getEnvAsInt(prefix+"THRESHOLD", def.Threshold),
			Timeout:          getEnvAsDuration(prefix+"TIMEOUT", def.Timeout),
			HalfOpenRequests: getEnvAsInt(prefix+"HALF_OPEN_REQUESTS", def.HalfOpenRequests),
		}
	}
	return settings
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if valueStr, exists := os.LookupEnv(key); exists {
		if value, err := strconv.Atoi(valueStr); err == nil {
			return value
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if valueStr, exists := os.LookupEnv(key); exists {
		if value, err := strconv.ParseBool(valueStr); err == nil {
			return value
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if valueStr, exists := os.LookupEnv(key); exists {
		if value, err := time.ParseDuration(valueStr); err == nil {
			return value
		}
	}
	return defaultValue
}
