package infra

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv             string
	Port               string
	EngineURL          string
	TemplateDir        string
	OutputDir          string
	CORSAllowedOrigins []string
	HTTPReadTimeout    time.Duration
	HTTPWriteTimeout   time.Duration
	HTTPIdleTimeout    time.Duration
	EngineTimeout      time.Duration
	RelayIdleTimeout   time.Duration
	RateLimitPerMin    int
	MaxUploadBytes     int64
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:             getEnv("APP_ENV", "development"),
		Port:               getEnv("PORT", "8080"),
		EngineURL:          strings.TrimRight(getEnv("ENGINE_URL", "http://127.0.0.1:8188"), "/"),
		TemplateDir:        getEnv("TEMPLATE_DIR", "./workflows"),
		OutputDir:          getEnv("OUTPUT_DIR", "./downloaded_images"),
		CORSAllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
		HTTPReadTimeout:    time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout:   time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 0)),
		HTTPIdleTimeout:    time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		EngineTimeout:      time.Second * time.Duration(getEnvInt("ENGINE_TIMEOUT_SECONDS", 60)),
		RelayIdleTimeout:   time.Second * time.Duration(getEnvInt("RELAY_IDLE_TIMEOUT_SECONDS", 0)),
		RateLimitPerMin:    getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		MaxUploadBytes:     int64(getEnvInt("MAX_UPLOAD_MB", 20)) << 20,
	}

	parsed, err := url.Parse(cfg.EngineURL)
	if err != nil {
		return nil, fmt.Errorf("ENGINE_URL is invalid: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("ENGINE_URL must use http or https, got %q", cfg.EngineURL)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("ENGINE_URL must include a host")
	}

	if cfg.RelayIdleTimeout < 0 {
		cfg.RelayIdleTimeout = 0
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}
