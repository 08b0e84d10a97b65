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
	"time"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the transfer-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort  string `mapstructure:"SERVER_PORT"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	RedisURL    string `mapstructure:"REDIS_URL"`
	RabbitMQURL string `mapstructure:"RABBITMQ_URL"`

	JWTSecret      string `mapstructure:"JWT_SECRET"`
	InternalAPIKey string `mapstructure:"INTERNAL_API_KEY"`

	// Transfer pipeline knobs. Amounts are in minor units (e.g. cents, kobo).
	LockTTLSeconds          int   `mapstructure:"TRANSFER_LOCK_TTL_SECONDS"`
	TransferFeeMinimum      int64 `mapstructure:"TRANSFER_FEE_MINIMUM"`
	StaleTransferMaxAgeMins int   `mapstructure:"STALE_TRANSFER_MAX_AGE_MINUTES"`
	ReconcileCronSpec       string `mapstructure:"RECONCILE_CRON_SPEC"`

	// Notification provider endpoints. A blank endpoint disables the provider.
	EmailPrimaryURL     string `mapstructure:"EMAIL_PRIMARY_URL"`
	EmailPrimaryAPIKey  string `mapstructure:"EMAIL_PRIMARY_API_KEY"`
	EmailFallbackURL    string `mapstructure:"EMAIL_FALLBACK_URL"`
	EmailFallbackAPIKey string `mapstructure:"EMAIL_FALLBACK_API_KEY"`
	SMSPrimaryURL       string `mapstructure:"SMS_PRIMARY_URL"`
	SMSPrimaryAPIKey    string `mapstructure:"SMS_PRIMARY_API_KEY"`
	SMSFallbackURL      string `mapstructure:"SMS_FALLBACK_URL"`
	SMSFallbackAPIKey   string `mapstructure:"SMS_FALLBACK_API_KEY"`
}

// LockTTL returns the configured transfer lock TTL as a duration.
func (c Config) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// StaleTransferMaxAge returns how old a processing transfer may be before the
// reconcile job fails it out.
func (c Config) StaleTransferMaxAge() time.Duration {
	return time.Duration(c.StaleTransferMaxAgeMins) * time.Minute
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
	viper.SetDefault("TRANSFER_LOCK_TTL_SECONDS", 30)
	viper.SetDefault("TRANSFER_FEE_MINIMUM", 1000)
	viper.SetDefault("STALE_TRANSFER_MAX_AGE_MINUTES", 15)
	viper.SetDefault("RECONCILE_CRON_SPEC", "*/5 * * * *")

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("JWT_SECRET")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "TRANSFER_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("TRANSFER_LOCK_TTL_SECONDS")
	_ = viper.BindEnv("TRANSFER_FEE_MINIMUM")
	_ = viper.BindEnv("STALE_TRANSFER_MAX_AGE_MINUTES")
	_ = viper.BindEnv("RECONCILE_CRON_SPEC")
	_ = viper.BindEnv("EMAIL_PRIMARY_URL")
	_ = viper.BindEnv("EMAIL_PRIMARY_API_KEY")
	_ = viper.BindEnv("EMAIL_FALLBACK_URL")
	_ = viper.BindEnv("EMAIL_FALLBACK_API_KEY")
	_ = viper.BindEnv("SMS_PRIMARY_URL")
	_ = viper.BindEnv("SMS_PRIMARY_API_KEY")
	_ = viper.BindEnv("SMS_FALLBACK_URL")
	_ = viper.BindEnv("SMS_FALLBACK_API_KEY")

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
	if strings.TrimSpace(config.InternalAPIKey) == "" {
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("TRANSFER_SERVICE_INTERNAL_API_KEY"))
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.ReconcileCronSpec = strings.TrimSpace(config.ReconcileCronSpec)
	if config.ReconcileCronSpec == "" {
		config.ReconcileCronSpec = "*/5 * * * *"
	}

	if config.LockTTLSeconds <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive lock TTL configured; using default\" ttl_seconds=%d", config.LockTTLSeconds)
		config.LockTTLSeconds = 30
	}
	if config.TransferFeeMinimum < 0 {
		log.Printf("level=warn component=config msg=\"negative minimum fee configured; coercing to zero\" fee_minor=%d", config.TransferFeeMinimum)
		config.TransferFeeMinimum = 0
	}
	if config.StaleTransferMaxAgeMins <= 0 {
		config.StaleTransferMaxAgeMins = 15
	}

	return
}
