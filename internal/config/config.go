package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the LumenGrid control plane.
type Config struct {
	Port      int
	Version   string
	APIKeys   string // comma-separated; empty disables API key auth
	Store     StoreConfig
	Stellar   StellarConfig
	Price     PriceConfig
	Cron      CronConfig
	Intent    IntentConfig
	Notify    NotifyConfig
	Telemetry TelemetryConfig
}

// StoreConfig selects and parameterizes the agent store backend.
// Backend is one of "memory", "redis", "postgres". The memory backend
// persists a JSON snapshot under DataDir.
type StoreConfig struct {
	Backend     string
	DataDir     string
	RedisURL    string
	RedisPrefix string
	PostgresURL string
}

type StellarConfig struct {
	Network         string // "testnet" or "mainnet"
	HorizonURL      string
	SorobanRPCURL   string
	TxBuilderURL    string // companion service that encodes contract-call XDR
	AgentContractID string // contract instance used by the deploy flow
	SubmitTimeout   time.Duration
}

type PriceConfig struct {
	CoinGeckoURL string
	CacheTTL     time.Duration
}

type CronConfig struct {
	// Secret guards /cron endpoints. Empty means unauthenticated (local dev).
	Secret string
}

type IntentConfig struct {
	OpenAIKey string
	Model     string
}

type NotifyConfig struct {
	TelegramBotToken string
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// NetworkPassphrase returns the Stellar network passphrase for the configured
// network.
func (c StellarConfig) NetworkPassphrase() string {
	if c.Network == "mainnet" {
		return "Public Global Stellar Network ; September 2015"
	}
	return "Test SDF Network ; September 2015"
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:    envInt("LUMENGRID_PORT", 8080),
		Version: envStr("LUMENGRID_VERSION", "2.4.1"),
		APIKeys: envStr("LUMENGRID_API_KEYS", ""),
		Store: StoreConfig{
			Backend:     envStr("LUMENGRID_STORE_BACKEND", "memory"),
			DataDir:     envStr("LUMENGRID_DATA_DIR", ""),
			RedisURL:    envStr("REDIS_URL", "redis://localhost:6379/0"),
			RedisPrefix: envStr("LUMENGRID_REDIS_PREFIX", "agents"),
			PostgresURL: envStr("DATABASE_URL", ""),
		},
		Stellar: StellarConfig{
			Network:         envStr("STELLAR_NETWORK", "testnet"),
			HorizonURL:      envStr("HORIZON_URL", "https://horizon-testnet.stellar.org"),
			SorobanRPCURL:   envStr("SOROBAN_RPC_URL", "https://soroban-testnet.stellar.org"),
			TxBuilderURL:    envStr("LUMENGRID_TXBUILDER_URL", "http://localhost:8091"),
			AgentContractID: envStr("AGENT_CONTRACT_ID", ""),
			SubmitTimeout:   envDuration("LUMENGRID_SUBMIT_TIMEOUT", 30*time.Second),
		},
		Price: PriceConfig{
			CoinGeckoURL: envStr("COINGECKO_URL", "https://api.coingecko.com"),
			CacheTTL:     envDuration("LUMENGRID_PRICE_CACHE_TTL", 30*time.Second),
		},
		Cron: CronConfig{
			Secret: envStr("CRON_SECRET", ""),
		},
		Intent: IntentConfig{
			OpenAIKey: envStr("OPENAI_API_KEY", ""),
			Model:     envStr("LUMENGRID_INTENT_MODEL", "gpt-4o-mini"),
		},
		Notify: NotifyConfig{
			TelegramBotToken: envStr("TELEGRAM_BOT_TOKEN", ""),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "lumengrid-control-plane"),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
