package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr          string
	LogLevel          string
	HTTPClientTimeout time.Duration
	ChatTimeout       time.Duration
	SessionTTL        time.Duration
	ConfigStorePath   string
	PresetsDir        string
	StatsDBPath       string
	// TokenExpiredPatterns переопределяет подстроки, по которым ответ
	// провайдера распознаётся как протухший токен. Пусто — дефолты ядра.
	TokenExpiredPatterns []string
}

func Load() (Config, error) {
	var cfg Config

	cfg.HTTPAddr = getEnv("HTTP_ADDR", ":8080")
	cfg.LogLevel = getEnv("LOG_LEVEL", "info")
	cfg.ConfigStorePath = getEnv("CONFIG_STORE_PATH", "data/providers.json")
	cfg.PresetsDir = getEnv("PRESETS_DIR", "presets")
	cfg.StatsDBPath = getEnv("STATS_DB_PATH", "data/stats.db")
	cfg.TokenExpiredPatterns = parseList(getEnv("TOKEN_EXPIRED_PATTERNS", ""))

	// Таймаут http.Client чуть больше таймаута одного чат-вызова:
	// per-call контекст должен срабатывать первым, чтобы ошибка
	// классифицировалась как Timeout, а не как обрыв транспорта.
	clientTimeout, err := parseDuration(getEnv("HTTP_CLIENT_TIMEOUT", "35s"))
	if err != nil {
		return Config{}, fmt.Errorf("parse HTTP_CLIENT_TIMEOUT: %w", err)
	}
	cfg.HTTPClientTimeout = clientTimeout

	chatTimeout, err := parseDuration(getEnv("CHAT_TIMEOUT", "30s"))
	if err != nil {
		return Config{}, fmt.Errorf("parse CHAT_TIMEOUT: %w", err)
	}
	cfg.ChatTimeout = chatTimeout

	sessionTTL, err := parseDuration(getEnv("SESSION_TTL", "2h"))
	if err != nil {
		return Config{}, fmt.Errorf("parse SESSION_TTL: %w", err)
	}
	cfg.SessionTTL = sessionTTL

	return cfg, nil
}

func parseDuration(value string) (time.Duration, error) {
	if value == "" {
		return 0, fmt.Errorf("duration is empty")
	}
	return time.ParseDuration(value)
}

func getEnv(key, def string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return def
}

// parseList разбирает список значений, разделённых запятыми.
func parseList(value string) []string {
	if value == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
