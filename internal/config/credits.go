package config

import (
	"os"
	"strconv"
	"time"
)

// CreditsConfig holds the credit-product constants. One credit is the
// smallest billable increment of usage allowance.
type CreditsConfig struct {
	CostPerUse          int64
	AdminOpeningBalance int64
	HistoryPageLimit    int
	BalanceCacheTTL     time.Duration
}

func LoadCreditsConfig() *CreditsConfig {
	return &CreditsConfig{
		CostPerUse:          getEnvAsInt64("CREDITS_COST_PER_USE", 1),
		AdminOpeningBalance: getEnvAsInt64("CREDITS_ADMIN_OPENING_BALANCE", 1000),
		HistoryPageLimit:    getEnvAsInt("CREDITS_HISTORY_PAGE_LIMIT", 50),
		BalanceCacheTTL:     getEnvAsDuration("CREDITS_BALANCE_CACHE_TTL", 30*time.Second),
	}
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.ParseInt(val, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultVal
}
