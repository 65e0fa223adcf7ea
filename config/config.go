package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents the application configuration
type Config struct {
	// MongoDB configuration
	MongoURI           string
	MongoDatabase      string
	ProductsCollection string
	PricesCollection   string

	// Redis configuration
	RedisAddr            string
	RedisDB              int
	RedisStream          string
	RedisStreamCount     int
	RedisStreamMaxLength int
	RunLockTTL           time.Duration

	// Memcache configuration
	MemcacheAddr string

	// Fetch configuration
	StaticFetchTimeout  time.Duration
	DynamicSettle       time.Duration
	DynamicPageTimeout  time.Duration
	BrowserBin          string
	BrowserConcurrency  int
	RateLimitBlockTime  time.Duration
	SiteRequestInterval time.Duration

	// Batch configuration
	ProbeWorkers int
	RunBudget    time.Duration

	// Schedule configuration
	ScheduleHour     int
	ScheduleMinute   int
	ScheduleTimezone string
	LedgerTimezone   string

	// Admin HTTP
	AdminAddr string

	// Environment
	Environment string
}

// LoadConfig loads the configuration from environment variables with defaults
func LoadConfig() *Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	streamCount, _ := strconv.Atoi(getEnv("REDIS_STREAM_COUNT", "1"))
	streamMaxLength, _ := strconv.Atoi(getEnv("REDIS_STREAM_MAX_LENGTH", "1000"))
	lockTTL, _ := strconv.Atoi(getEnv("RUN_LOCK_TTL_MINUTES", "120"))
	staticTimeout, _ := strconv.Atoi(getEnv("STATIC_FETCH_TIMEOUT_SECONDS", "4"))
	settle, _ := strconv.Atoi(getEnv("DYNAMIC_SETTLE_SECONDS", "3"))
	pageTimeout, _ := strconv.Atoi(getEnv("DYNAMIC_PAGE_TIMEOUT_SECONDS", "30"))
	browserConcurrency, _ := strconv.Atoi(getEnv("BROWSER_CONCURRENCY", "1"))
	blockTime, _ := strconv.Atoi(getEnv("RATE_LIMIT_BLOCK_SECONDS", "500"))
	siteInterval, _ := strconv.Atoi(getEnv("SITE_REQUEST_INTERVAL_MS", "250"))
	workers, _ := strconv.Atoi(getEnv("PROBE_WORKERS", "4"))
	budget, _ := strconv.Atoi(getEnv("RUN_BUDGET_MINUTES", "0"))
	hour, minute := parseClock(getEnv("SCHEDULE_TIME", "15:20"))

	return &Config{
		MongoURI:             getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase:        getEnv("MONGO_DATABASE", "bonre"),
		ProductsCollection:   getEnv("MONGO_PRODUCTS_COLLECTION", "bonre_products"),
		PricesCollection:     getEnv("MONGO_PRICES_COLLECTION", "bonre_prices"),
		RedisAddr:            getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:              redisDB,
		RedisStream:          getEnv("REDIS_STREAM", "prices"),
		RedisStreamCount:     streamCount,
		RedisStreamMaxLength: streamMaxLength,
		RunLockTTL:           time.Duration(lockTTL) * time.Minute,
		MemcacheAddr:         getEnv("MEMCACHE_ADDR", "localhost:11211"),
		StaticFetchTimeout:   time.Duration(staticTimeout) * time.Second,
		DynamicSettle:        time.Duration(settle) * time.Second,
		DynamicPageTimeout:   time.Duration(pageTimeout) * time.Second,
		BrowserBin:           getEnv("BROWSER_BIN", ""),
		BrowserConcurrency:   browserConcurrency,
		RateLimitBlockTime:   time.Duration(blockTime) * time.Second,
		SiteRequestInterval:  time.Duration(siteInterval) * time.Millisecond,
		ProbeWorkers:         workers,
		RunBudget:            time.Duration(budget) * time.Minute,
		ScheduleHour:         hour,
		ScheduleMinute:       minute,
		ScheduleTimezone:     getEnv("SCHEDULE_TIMEZONE", "UTC"),
		LedgerTimezone:       getEnv("LEDGER_TIMEZONE", "Asia/Seoul"),
		AdminAddr:            getEnv("ADMIN_ADDR", ":8080"),
		Environment:          getEnv("PRICEWORKER_ENVIRONMENT", "development"),
	}
}

// Validate checks the configuration for values the worker cannot run with
func (c *Config) Validate() error {
	if c.MongoURI == "" {
		return fmt.Errorf("MONGO_URI must not be empty")
	}
	if c.StaticFetchTimeout <= 0 {
		return fmt.Errorf("STATIC_FETCH_TIMEOUT_SECONDS must be positive")
	}
	if c.DynamicPageTimeout <= 0 {
		return fmt.Errorf("DYNAMIC_PAGE_TIMEOUT_SECONDS must be positive")
	}
	if c.DynamicSettle < 0 {
		return fmt.Errorf("DYNAMIC_SETTLE_SECONDS must not be negative")
	}
	if c.BrowserConcurrency <= 0 {
		return fmt.Errorf("BROWSER_CONCURRENCY must be positive")
	}
	if c.SiteRequestInterval < 0 {
		return fmt.Errorf("SITE_REQUEST_INTERVAL_MS must not be negative")
	}
	if c.ProbeWorkers <= 0 {
		return fmt.Errorf("PROBE_WORKERS must be positive")
	}
	if c.RedisStreamCount <= 0 {
		return fmt.Errorf("REDIS_STREAM_COUNT must be positive")
	}
	if c.ScheduleHour < 0 || c.ScheduleHour > 23 || c.ScheduleMinute < 0 || c.ScheduleMinute > 59 {
		return fmt.Errorf("SCHEDULE_TIME must be HH:MM")
	}
	if _, err := time.LoadLocation(c.ScheduleTimezone); err != nil {
		return fmt.Errorf("SCHEDULE_TIMEZONE: %w", err)
	}
	if _, err := time.LoadLocation(c.LedgerTimezone); err != nil {
		return fmt.Errorf("LEDGER_TIMEZONE: %w", err)
	}
	return nil
}

// ScheduleLocation returns the zone SCHEDULE_TIME is expressed in
func (c *Config) ScheduleLocation() *time.Location {
	return mustLocation(c.ScheduleTimezone)
}

// LedgerLocation returns the zone that decides which calendar day "today" is
func (c *Config) LedgerLocation() *time.Location {
	return mustLocation(c.LedgerTimezone)
}

func mustLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// parseClock parses "HH:MM"; malformed input yields -1 so Validate rejects it
func parseClock(value string) (int, int) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) != 2 {
		return -1, -1
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return -1, -1
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return -1, -1
	}
	return hour, minute
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}
