// package config provides the environment-backed configuration loader
// used by the service bootstrap (cmd/forwarding/main.go).
package config

import (
	"os"
	"strconv"
	"strings"
)

// Config holds the runtime config values used by main.go.
type Config struct {
	DatabaseURL string // DATABASE_URL
	ListenAddr  string // LISTEN_ADDR (default :8080)
	JWTSecret   string // JWT_SECRET

	KafkaBrokers []string // KAFKA_BROKERS (comma-separated)
	KafkaTopic   string   // KAFKA_TOPIC

	S3Bucket    string // S3_BUCKET
	S3Prefix    string // S3_PREFIX (optional)
	DocumentDir string // DOCUMENT_DIR (filesystem fallback, default ./documents)

	MaxUploadBytes int64 // MAX_UPLOAD_BYTES (default 10 MiB)
}

// LoadFromEnv reads config values from environment variables and returns
// a Config pointer with sensible defaults applied.
func LoadFromEnv() *Config {
	cfg := &Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		ListenAddr:  os.Getenv("LISTEN_ADDR"),
		JWTSecret:   os.Getenv("JWT_SECRET"),
		KafkaTopic:  strings.TrimSpace(os.Getenv("KAFKA_TOPIC")),
		S3Bucket:    strings.TrimSpace(os.Getenv("S3_BUCKET")),
		S3Prefix:    strings.TrimSpace(os.Getenv("S3_PREFIX")),
		DocumentDir: os.Getenv("DOCUMENT_DIR"),
	}

	if raw := strings.TrimSpace(os.Getenv("KAFKA_BROKERS")); raw != "" {
		for _, b := range strings.Split(raw, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	// sensible defaults
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.DocumentDir == "" {
		cfg.DocumentDir = "./documents"
	}
	cfg.MaxUploadBytes = 10 << 20
	if v := os.Getenv("MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.MaxUploadBytes = n
		}
	}

	return cfg
}
