/**
 * @description
 * Configuration for the rent service. Values come from environment variables, optionally
 * seeded from a .env file in the given path.
 *
 * @dependencies
 * - github.com/spf13/viper: environment binding and .env parsing.
 *
 * @notes
 * - Numeric settings that fail to parse, or are out of range, fall back to their defaults
 *   with a warning instead of failing startup.
 */

package config

import (
	"log"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
	LedgerStub      = "stub"
	LedgerGateway   = "gateway"
)

const (
	defaultOutboxMaxAttempts         = 10
	defaultOutboxStalePendingSeconds = 120
	defaultListingMonthlyLimit       = 2
	defaultMinDepositPercent         = 20
)

var defaultAllowedTermMonths = []int{3, 6, 12}

// Config holds all the configuration variables for the rent service.
type Config struct {
	ServerPort               string `mapstructure:"SERVER_PORT"`
	LogLevel                 string `mapstructure:"LOG_LEVEL"`
	LogFormat                string `mapstructure:"LOG_FORMAT"`
	CORSOrigins              string `mapstructure:"CORS_ORIGINS"`
	StorageDriver            string `mapstructure:"STORAGE_DRIVER"`
	DatabaseURL              string `mapstructure:"DATABASE_URL"`
	RabbitMQURL              string `mapstructure:"RABBITMQ_URL"`
	EventsExchange           string `mapstructure:"EVENTS_EXCHANGE"`
	RedisURL                 string `mapstructure:"REDIS_URL"`
	RedisKeyPrefix           string `mapstructure:"REDIS_KEY_PREFIX"`
	LedgerAdapter            string `mapstructure:"LEDGER_ADAPTER"`
	LedgerGatewayURL         string `mapstructure:"LEDGER_GATEWAY_URL"`
	LedgerGatewayAPIKey      string `mapstructure:"LEDGER_GATEWAY_API_KEY"`
	SorobanRPCURL            string `mapstructure:"SOROBAN_RPC_URL"`
	SorobanNetworkPassphrase string `mapstructure:"SOROBAN_NETWORK_PASSPHRASE"`
	SorobanContractID        string `mapstructure:"SOROBAN_CONTRACT_ID"`
	OutboxRetrySchedule      string `mapstructure:"OUTBOX_RETRY_SCHEDULE"`

	OutboxMaxAttempts         int   `mapstructure:"-"`
	OutboxStalePendingSeconds int   `mapstructure:"-"`
	ListingMonthlyLimit       int   `mapstructure:"-"`
	AllowedTermMonths         []int `mapstructure:"-"`
	MinDepositPercent         int64 `mapstructure:"-"`
}

// LoadConfig reads configuration from environment variables and the optional .env file in path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_FORMAT", "json")
	viper.SetDefault("CORS_ORIGINS", "*")
	viper.SetDefault("STORAGE_DRIVER", StorageMemory)
	viper.SetDefault("EVENTS_EXCHANGE", "shelterflex.events")
	viper.SetDefault("REDIS_KEY_PREFIX", "shelterflex:listing_quota")
	viper.SetDefault("LEDGER_ADAPTER", LedgerStub)
	viper.SetDefault("SOROBAN_RPC_URL", "https://soroban-testnet.stellar.org")
	viper.SetDefault("SOROBAN_NETWORK_PASSPHRASE", "Test SDF Network ; September 2015")
	viper.SetDefault("OUTBOX_RETRY_SCHEDULE", "@every 30s")

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("LOG_LEVEL")
	_ = viper.BindEnv("LOG_FORMAT")
	_ = viper.BindEnv("CORS_ORIGINS")
	_ = viper.BindEnv("STORAGE_DRIVER")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("EVENTS_EXCHANGE")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_KEY_PREFIX")
	_ = viper.BindEnv("LEDGER_ADAPTER")
	_ = viper.BindEnv("LEDGER_GATEWAY_URL")
	_ = viper.BindEnv("LEDGER_GATEWAY_API_KEY")
	_ = viper.BindEnv("SOROBAN_RPC_URL")
	_ = viper.BindEnv("SOROBAN_NETWORK_PASSPHRASE")
	_ = viper.BindEnv("SOROBAN_CONTRACT_ID")
	_ = viper.BindEnv("OUTBOX_RETRY_SCHEDULE")
	_ = viper.BindEnv("OUTBOX_MAX_ATTEMPTS")
	_ = viper.BindEnv("OUTBOX_STALE_PENDING_SECONDS")
	_ = viper.BindEnv("LISTING_MONTHLY_LIMIT")
	_ = viper.BindEnv("ALLOWED_TERM_MONTHS")
	_ = viper.BindEnv("MIN_DEPOSIT_PERCENT")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
		err = nil
	}

	if err = viper.Unmarshal(&config); err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}

	config.StorageDriver = strings.ToLower(strings.TrimSpace(config.StorageDriver))
	if config.StorageDriver != StorageMemory && config.StorageDriver != StoragePostgres {
		log.Printf("level=warn component=config msg=\"unknown STORAGE_DRIVER; using memory\" value=%q", config.StorageDriver)
		config.StorageDriver = StorageMemory
	}
	config.LedgerAdapter = strings.ToLower(strings.TrimSpace(config.LedgerAdapter))
	if config.LedgerAdapter != LedgerStub && config.LedgerAdapter != LedgerGateway {
		log.Printf("level=warn component=config msg=\"unknown LEDGER_ADAPTER; using stub\" value=%q", config.LedgerAdapter)
		config.LedgerAdapter = LedgerStub
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisKeyPrefix = strings.TrimSpace(config.RedisKeyPrefix)
	config.OutboxRetrySchedule = strings.TrimSpace(config.OutboxRetrySchedule)

	config.OutboxMaxAttempts = positiveInt("OUTBOX_MAX_ATTEMPTS", defaultOutboxMaxAttempts)
	config.OutboxStalePendingSeconds = positiveInt("OUTBOX_STALE_PENDING_SECONDS", defaultOutboxStalePendingSeconds)
	config.ListingMonthlyLimit = positiveInt("LISTING_MONTHLY_LIMIT", defaultListingMonthlyLimit)
	config.MinDepositPercent = int64(percent("MIN_DEPOSIT_PERCENT", defaultMinDepositPercent))
	config.AllowedTermMonths = termMonths("ALLOWED_TERM_MONTHS", defaultAllowedTermMonths)

	return config, nil
}

// CORSOriginList splits CORS_ORIGINS on commas.
func (c Config) CORSOriginList() []string {
	var origins []string
	for _, origin := range strings.Split(c.CORSOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

func positiveInt(key string, def int) int {
	raw := strings.TrimSpace(viper.GetString(key))
	if raw == "" {
		return def
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		log.Printf("level=warn component=config msg=\"invalid %s; using default\" value=%q default=%d", key, raw, def)
		return def
	}
	return value
}

func percent(key string, def int) int {
	value := positiveInt(key, def)
	if value > 100 {
		log.Printf("level=warn component=config msg=\"%s above 100; using default\" value=%d default=%d", key, value, def)
		return def
	}
	return value
}

func termMonths(key string, def []int) []int {
	raw := strings.TrimSpace(viper.GetString(key))
	if raw == "" {
		return slices.Clone(def)
	}
	var terms []int
	for _, part := range strings.Split(raw, ",") {
		value, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || value <= 0 {
			log.Printf("level=warn component=config msg=\"invalid %s; using default\" value=%q", key, raw)
			return slices.Clone(def)
		}
		if !slices.Contains(terms, value) {
			terms = append(terms, value)
		}
	}
	slices.Sort(terms)
	return terms
}
