// Package config holds daemon configuration. Values are populated by viper
// in cmd/ccd (flags, then CONTEXTCACHE_* env, then config file) and passed
// down as a plain struct; nothing below cmd reads the environment.
package config

import (
	"fmt"
	"time"

	"github.com/contextcache/contextcache/internal/quota"
	"github.com/contextcache/contextcache/internal/types"
)

// Config is the daemon's resolved configuration.
type Config struct {
	Addr    string // listen address, e.g. ":8375"
	BaseURL string // public base URL used in magic links
	DBPath  string // SQLite database path

	Dev          bool // dev mode: no mailer, debug links in responses
	CookieSecure bool // set Secure on session cookies (production)

	StoreMaxConns int
	PackBudget    int // pack byte budget; 0 = default 32 KiB

	RatePerMinute int
	RatePerHour   int

	QuotaTimezone  string // IANA name; "" = UTC
	MemoriesPerDay int
	RecallsPerDay  int
	ProjectsPerDay int

	JobWorkers   int
	JobQueueSize int
}

// Default returns the development defaults.
func Default() *Config {
	return &Config{
		Addr:           ":8375",
		BaseURL:        "http://localhost:8375",
		DBPath:         "contextcache.db",
		Dev:            true,
		RatePerMinute:  60,
		RatePerHour:    1000,
		MemoriesPerDay: 200,
		RecallsPerDay:  500,
		ProjectsPerDay: 10,
	}
}

// QuotaLimits renders the per-event caps.
func (c *Config) QuotaLimits() quota.Limits {
	return quota.Limits{
		types.UsageMemoryCreated:  c.MemoriesPerDay,
		types.UsageRecallQuery:    c.RecallsPerDay,
		types.UsageProjectCreated: c.ProjectsPerDay,
	}
}

// QuotaLocation resolves the day-boundary timezone.
func (c *Config) QuotaLocation() (*time.Location, error) {
	if c.QuotaTimezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.QuotaTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid quota timezone %q: %w", c.QuotaTimezone, err)
	}
	return loc, nil
}
