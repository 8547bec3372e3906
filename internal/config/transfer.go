package config

import (
	"os"
	"strconv"
	"time"
)

// TransferConfig carries the transfer engine knobs. Lock acquisition is
// bounded by LockTimeout; a transfer that cannot lock both rows in time
// aborts cleanly and reports a retryable outcome.
type TransferConfig struct {
	LockTimeout        time.Duration
	MaxIDAttempts      int
	IdempotencyEnabled bool
	IdempotencyTTL     time.Duration
}

func LoadTransferConfig() *TransferConfig {
	return &TransferConfig{
		LockTimeout:        getEnvAsDuration("TRANSFER_LOCK_TIMEOUT", 5*time.Second),
		MaxIDAttempts:      getEnvAsInt("TRANSFER_MAX_ID_ATTEMPTS", 3),
		IdempotencyEnabled: getEnvAsBool("TRANSFER_IDEMPOTENCY_ENABLED", true),
		IdempotencyTTL:     getEnvAsDuration("TRANSFER_IDEMPOTENCY_TTL", 24*time.Hour),
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

func getEnvAsBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if boolVal, err := strconv.ParseBool(val); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
