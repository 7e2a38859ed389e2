/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the escrow-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort            string  `mapstructure:"SERVER_PORT"`
	DatabaseURL           string  `mapstructure:"DATABASE_URL"`
	RedisURL              string  `mapstructure:"REDIS_URL"`
	RedisCachePrefix      string  `mapstructure:"REDIS_CACHE_PREFIX"`
	RabbitMQURL           string  `mapstructure:"RABBITMQ_URL"`
	PaymentEventExchange  string  `mapstructure:"PAYMENT_EVENT_EXCHANGE"`
	ContractEventExchange string  `mapstructure:"CONTRACT_EVENT_EXCHANGE"`
	ContractEventQueue    string  `mapstructure:"CONTRACT_EVENT_QUEUE"`
	ProcessorAPIBaseURL   string  `mapstructure:"PROCESSOR_API_BASE_URL"`
	ProcessorAPIKey       string  `mapstructure:"PROCESSOR_API_KEY"`
	ProcessorTimeoutSec   int     `mapstructure:"PROCESSOR_TIMEOUT_SECONDS"`
	AuthJWKSURL           string  `mapstructure:"AUTH_JWKS_URL"`
	ProfileServiceURL     string  `mapstructure:"PROFILE_SERVICE_URL"`
	ProfileServiceAPIKey  string  `mapstructure:"PROFILE_SERVICE_INTERNAL_API_KEY"`
	PlatformFeePercent    float64 `mapstructure:"PLATFORM_FEE_PERCENT"`
	DefaultCurrency       string  `mapstructure:"DEFAULT_CURRENCY"`
	RefundWindowDays      int     `mapstructure:"REFUND_WINDOW_DAYS"`
	PaymentReturnURL      string  `mapstructure:"PAYMENT_RETURN_URL"`
	OnboardingReturnURL   string  `mapstructure:"ONBOARDING_RETURN_URL"`
	OnboardingRefreshURL  string  `mapstructure:"ONBOARDING_REFRESH_URL"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("REDIS_CACHE_PREFIX", "escrow:cache")
	viper.SetDefault("PAYMENT_EVENT_EXCHANGE", "gigvault.events")
	viper.SetDefault("CONTRACT_EVENT_EXCHANGE", "gigvault.events")
	viper.SetDefault("CONTRACT_EVENT_QUEUE", "escrow_service.contract_updates")
	viper.SetDefault("PROCESSOR_TIMEOUT_SECONDS", 30)
	viper.SetDefault("PLATFORM_FEE_PERCENT", 10.0)
	viper.SetDefault("DEFAULT_CURRENCY", "usd")
	viper.SetDefault("REFUND_WINDOW_DAYS", 90)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "ESCROW_REDIS_URL")
	_ = viper.BindEnv("REDIS_CACHE_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("PAYMENT_EVENT_EXCHANGE")
	_ = viper.BindEnv("CONTRACT_EVENT_EXCHANGE")
	_ = viper.BindEnv("CONTRACT_EVENT_QUEUE")
	_ = viper.BindEnv("PROCESSOR_API_BASE_URL")
	_ = viper.BindEnv("PROCESSOR_API_KEY")
	_ = viper.BindEnv("PROCESSOR_TIMEOUT_SECONDS")
	_ = viper.BindEnv("AUTH_JWKS_URL")
	_ = viper.BindEnv("PROFILE_SERVICE_URL")
	_ = viper.BindEnv("PROFILE_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("PLATFORM_FEE_PERCENT")
	_ = viper.BindEnv("DEFAULT_CURRENCY")
	_ = viper.BindEnv("REFUND_WINDOW_DAYS")
	_ = viper.BindEnv("PAYMENT_RETURN_URL")
	_ = viper.BindEnv("ONBOARDING_RETURN_URL")
	_ = viper.BindEnv("ONBOARDING_REFRESH_URL")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisCachePrefix = strings.TrimSpace(config.RedisCachePrefix)
	if config.RedisCachePrefix == "" {
		config.RedisCachePrefix = "escrow:cache"
	}
	config.DefaultCurrency = strings.ToLower(strings.TrimSpace(config.DefaultCurrency))
	if config.DefaultCurrency == "" {
		config.DefaultCurrency = "usd"
	}

	if config.PlatformFeePercent < 0 {
		log.Printf("level=warn component=config msg=\"negative platform fee percent configured; coercing to zero\" fee_percent=%f", config.PlatformFeePercent)
		config.PlatformFeePercent = 0
	}
	if config.PlatformFeePercent > 100 {
		log.Printf("level=warn component=config msg=\"platform fee percent too high; capping at 100\" fee_percent=%f", config.PlatformFeePercent)
		config.PlatformFeePercent = 100
	}

	if config.RefundWindowDays <= 0 {
		config.RefundWindowDays = 90
	}
	if config.ProcessorTimeoutSec <= 0 {
		config.ProcessorTimeoutSec = 30
	}

	return
}
