package config

import (
	"os"
	"strconv"
	"time"
)

// WalletConfig holds the upstream gaming-wallet connection settings.
// Loaded once at construction; services never read the environment inline.
type WalletConfig struct {
	BaseURL          string
	APIKey           string
	APICat           string
	UserPrefix       string
	RequestTimeout   time.Duration
	DuplicateRefCode int
}

func LoadWalletConfig() *WalletConfig {
	return &WalletConfig{
		BaseURL:          getEnv("WALLET_API_URL", "https://api.upstream-wallet.example"),
		APIKey:           getEnv("WALLET_API_KEY", ""),
		APICat:           getEnv("WALLET_API_CAT", ""),
		UserPrefix:       getEnv("WALLET_USER_PREFIX", "CHKK"),
		RequestTimeout:   getEnvAsDuration("WALLET_REQUEST_TIMEOUT", 10*time.Second),
		DuplicateRefCode: getEnvAsInt("WALLET_DUPLICATE_REF_CODE", 9),
	}
}

// MatcherConfig tunes the SMS reconciliation matcher.
type MatcherConfig struct {
	// ClaimWindow is how far back a PENDING deposit claim may have been
	// created and still be settled by a matching inbound SMS.
	ClaimWindow time.Duration
	// DedupTTL bounds the redis fast-path dedup keys; the message_hash
	// unique constraint remains the durable guard.
	DedupTTL time.Duration
}

func LoadMatcherConfig() *MatcherConfig {
	return &MatcherConfig{
		ClaimWindow: getEnvAsDuration("SMS_CLAIM_WINDOW", 30*time.Minute),
		DedupTTL:    getEnvAsDuration("SMS_DEDUP_TTL", 24*time.Hour),
	}
}

// OutboxConfig tunes the background transfer-intent reconciler.
type OutboxConfig struct {
	PollInterval time.Duration
	// StaleAfter is how long a PENDING intent may sit before the reconciler
	// assumes the process died mid-mutation and re-drives it.
	StaleAfter  time.Duration
	MaxAttempts int
}

func LoadOutboxConfig() *OutboxConfig {
	return &OutboxConfig{
		PollInterval: getEnvAsDuration("OUTBOX_POLL_INTERVAL", 30*time.Second),
		StaleAfter:   getEnvAsDuration("OUTBOX_STALE_AFTER", 2*time.Minute),
		MaxAttempts:  getEnvAsInt("OUTBOX_MAX_ATTEMPTS", 10),
	}
}

// SettlementConfig identifies the operator in outbound payout messages.
type SettlementConfig struct {
	OperatorBIC  string
	OperatorName string
	Currency     string
}

func LoadSettlementConfig() *SettlementConfig {
	return &SettlementConfig{
		OperatorBIC:  getEnv("SETTLEMENT_OPERATOR_BIC", "CHOKTHB8"),
		OperatorName: getEnv("SETTLEMENT_OPERATOR_NAME", "CHOKDEE888"),
		Currency:     getEnv("SETTLEMENT_CURRENCY", "THB"),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
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
