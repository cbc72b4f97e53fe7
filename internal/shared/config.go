package shared

import (
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

type Config struct {
	AppEnv      string
	HTTPAddr    string
	MetricsAddr string
	MySQLDSN    string
	RedisAddr   string
	RedisDB     int
	RedisPass   string

	GeminiBase         string
	GeminiKey          string
	GeminiModel        string
	GeminiSummaryModel string
	GeminiRPS          int
	ClassifyTimeout    time.Duration

	Workers          int
	CacheTTL         time.Duration
	SummaryTTL       time.Duration
	SummaryMaxInputs int
	MemoSize         int
	MemoTTL          time.Duration
	ScrapeWeight     float64
	AdminToken       string
	EnrichSubs       bool
	AutoMigrate      bool
}

func Load() Config {
	atoi := func(k string, def int) int {
		if v := os.Getenv(k); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
		}
		return def
	}
	atof := func(k string, def float64) float64 {
		if v := os.Getenv(k); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				return f
			}
		}
		return def
	}
	abool := func(k string, def bool) bool {
		if v := os.Getenv(k); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				return b
			}
		}
		return def
	}
	c := Config{
		AppEnv:      env("APP_ENV", "prod"),
		HTTPAddr:    env("HTTP_ADDR", ":8080"),
		MetricsAddr: env("METRICS_ADDR", ""),
		MySQLDSN:    env("MYSQL_DSN", "root:root@tcp(localhost:3306)/compass?parseTime=true&charset=utf8mb4,utf8&loc=UTC"),
		RedisAddr:   env("REDIS_ADDR", "localhost:6379"),
		RedisDB:     atoi("REDIS_DB", 0),
		RedisPass:   env("REDIS_PASSWORD", ""),

		GeminiBase:         env("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com"),
		GeminiKey:          env("GEMINI_API_KEY", ""),
		GeminiModel:        env("GEMINI_MODEL", "gemini-2.5-flash"),
		GeminiSummaryModel: env("GEMINI_SUMMARY_MODEL", "gemini-2.5-pro"),
		GeminiRPS:          atoi("GEMINI_RPS", 2),
		ClassifyTimeout:    time.Duration(atoi("CLASSIFY_TIMEOUT_SECONDS", 30)) * time.Second,

		Workers:          atoi("INGEST_WORKERS", 4),
		CacheTTL:         time.Duration(atoi("CACHE_TTL_SECONDS", 900)) * time.Second,
		SummaryTTL:       time.Duration(atoi("SUMMARY_TTL_SECONDS", 900)) * time.Second,
		SummaryMaxInputs: atoi("SUMMARY_MAX_REVIEWS", 25),
		MemoSize:         atoi("CLASSIFY_MEMO_SIZE", 2048),
		MemoTTL:          time.Duration(atoi("CLASSIFY_MEMO_TTL_SECONDS", 3600)) * time.Second,
		ScrapeWeight:     atof("SCRAPE_TRUST_WEIGHT", 0.5),
		AdminToken:       env("ADMIN_TOKEN", ""),
		EnrichSubs:       abool("ENRICH_SUBMISSIONS", false),
		AutoMigrate:      abool("AUTO_MIGRATE", false),
	}
	if c.GeminiKey == "" {
		log.Warn().Msg("GEMINI_API_KEY is empty")
	}
	if c.AdminToken == "" {
		log.Warn().Msg("ADMIN_TOKEN is empty; moderation endpoints will reject all callers")
	}
	return c
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
