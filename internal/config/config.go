package config

import (
	"errors"
	"io/fs"
	"log"
	"net"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	API       APIConfig
	Pipeline  PipelineConfig
	RateLimit RateLimitConfig
	Redis     RedisConfig
	Archive   ArchiveConfig
	Storage   StorageConfig
	Database  DatabaseConfig
	Tracing   TracingConfig
}

type APIConfig struct {
	Addr               string
	ServerTimeout      time.Duration
	CORSAllowedOrigins []string
}

type PipelineConfig struct {
	MaxImageBytes       int
	MaxDecodedBytes     int64
	DefaultQuality      int
	AggressiveQuality   int
	CompressionTimeout  time.Duration
	MaxActiveTransforms int
}

type RateLimitConfig struct {
	Enabled       bool
	Capacity      int
	Window        time.Duration
	UserHeader    string
	BytesPerToken int64
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type ArchiveConfig struct {
	Enabled bool
}

type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

type DatabaseConfig struct {
	DSN string
}

type TracingConfig struct {
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
	SampleRatio  float64
}

// Load reads configuration from the environment after applying an optional
// .env file from the working directory. Variables already set win over the
// file.
func Load() Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("config: ignoring .env: %v", err)
	}

	return Config{
		API: APIConfig{
			Addr:               net.JoinHostPort(env("HOST", "0.0.0.0"), env("PORT", "8080")),
			ServerTimeout:      envDuration("SERVER_TIMEOUT", 30*time.Second),
			CORSAllowedOrigins: envList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
		Pipeline: PipelineConfig{
			MaxImageBytes:       envInt("MAX_IMAGE_SIZE", 50<<20),
			MaxDecodedBytes:     int64(envInt("MAX_DECODED_BYTES", 512<<20)),
			DefaultQuality:      envInt("DEFAULT_QUALITY", 75),
			AggressiveQuality:   envInt("AGGRESSIVE_QUALITY", 60),
			CompressionTimeout:  envDuration("COMPRESSION_TIMEOUT", 10*time.Second),
			MaxActiveTransforms: envInt("MAX_ACTIVE_TRANSFORMS", max(1, runtime.NumCPU())),
		},
		RateLimit: RateLimitConfig{
			Enabled:       envBool("RATE_LIMIT_ENABLED", false),
			Capacity:      envInt("RATE_LIMIT_CAPACITY", 60),
			Window:        envDuration("RATE_LIMIT_WINDOW", time.Minute),
			UserHeader:    env("RATE_LIMIT_USER_HEADER", "X-User-ID"),
			BytesPerToken: int64(envInt("RATE_LIMIT_BYTES_PER_TOKEN", 0)),
		},
		Redis: RedisConfig{
			Addr:     env("REDIS_ADDR", "localhost:6379"),
			Password: env("REDIS_PASSWORD", ""),
			DB:       envInt("REDIS_DB", 0),
		},
		Archive: ArchiveConfig{
			Enabled: envBool("ARCHIVE_ENABLED", false),
		},
		Storage: StorageConfig{
			Endpoint:  env("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: env("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey: env("MINIO_SECRET_KEY", "minioadmin"),
			Bucket:    env("MINIO_BUCKET", "pixelpress-outputs"),
			Region:    env("MINIO_REGION", "us-east-1"),
			UseSSL:    envBool("MINIO_USE_SSL", false),
		},
		Database: DatabaseConfig{
			DSN: env("POSTGRES_DSN", ""),
		},
		Tracing: TracingConfig{
			Exporter:     env("TRACE_EXPORTER", "none"),
			OTLPEndpoint: env("OTLP_ENDPOINT", ""),
			OTLPInsecure: envBool("OTLP_INSECURE", true),
			SampleRatio:  envFloat("TRACE_SAMPLE_RATIO", 1),
		},
	}
}

// RunningOnLambda reports whether the process was started by the AWS Lambda
// runtime.
func RunningOnLambda() bool {
	return env("AWS_LAMBDA_RUNTIME_API", "") != ""
}

func env(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

func envInt(key string, fallback int) int {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envFloat(key string, fallback float64) float64 {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

// envDuration accepts Go duration strings and bare integers, which are read
// as seconds.
func envDuration(key string, fallback time.Duration) time.Duration {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envList(key string, fallback []string) []string {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
