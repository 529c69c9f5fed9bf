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
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the chatpay-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort             string `mapstructure:"SERVER_PORT"`
	DatabaseURL            string `mapstructure:"DATABASE_URL"`
	RedisURL               string `mapstructure:"REDIS_URL"`
	RedisSessionPrefix     string `mapstructure:"REDIS_SESSION_PREFIX"`
	RedisRateLimitPrefix   string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL            string `mapstructure:"RABBITMQ_URL"`
	TransferEventQueue     string `mapstructure:"TRANSFER_EVENT_QUEUE"`
	VTUAPIBaseURL          string `mapstructure:"VTU_API_BASE_URL"`
	VTUAPIUsername         string `mapstructure:"VTU_API_USERNAME"`
	VTUAPIPassword         string `mapstructure:"VTU_API_PASSWORD"`
	BankAPIBaseURL         string `mapstructure:"BANK_API_BASE_URL"`
	BankAPIKey             string `mapstructure:"BANK_API_KEY"`
	PaymentWebhookSecret   string `mapstructure:"PAYMENT_WEBHOOK_SECRET"`
	JWKSURL                string `mapstructure:"JWKS_URL"`
	InternalAPIKey         string `mapstructure:"INTERNAL_API_KEY"`
	SessionTTLMinutes      int    `mapstructure:"SESSION_TTL_MINUTES"`
	PINMaxAttempts         int    `mapstructure:"PIN_MAX_ATTEMPTS"`
	AirtimeMinKobo         int64  `mapstructure:"AIRTIME_MIN_KOBO"`
	AirtimeMaxKobo         int64  `mapstructure:"AIRTIME_MAX_KOBO"`
	TransferMinKobo        int64  `mapstructure:"TRANSFER_MIN_KOBO"`
	TransferMaxKobo        int64  `mapstructure:"TRANSFER_MAX_KOBO"`
	TransferFeeBPS         int64  `mapstructure:"TRANSFER_FEE_BPS"`
	DataServiceFeeKobo     int64  `mapstructure:"DATA_SERVICE_FEE_KOBO"`
	ChatRateLimitPerMinute int    `mapstructure:"CHAT_RATE_LIMIT_PER_MINUTE"`
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
	viper.SetDefault("TRANSFER_EVENT_QUEUE", "chatpay_service.transfer_updates")
	viper.SetDefault("REDIS_SESSION_PREFIX", "chatpay:session")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "chatpay:rate_limit")
	viper.SetDefault("SESSION_TTL_MINUTES", 30)
	viper.SetDefault("PIN_MAX_ATTEMPTS", 3)
	viper.SetDefault("AIRTIME_MIN_KOBO", 50_00)
	viper.SetDefault("AIRTIME_MAX_KOBO", 50_000_00)
	viper.SetDefault("TRANSFER_MIN_KOBO", 100_00)
	viper.SetDefault("TRANSFER_MAX_KOBO", 5_000_000_00)
	viper.SetDefault("TRANSFER_FEE_BPS", 150) // 1.5% of the transfer amount
	viper.SetDefault("DATA_SERVICE_FEE_KOBO", 0)
	viper.SetDefault("CHAT_RATE_LIMIT_PER_MINUTE", 30)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "CHATPAY_REDIS_URL")
	_ = viper.BindEnv("REDIS_SESSION_PREFIX")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("TRANSFER_EVENT_QUEUE")
	_ = viper.BindEnv("VTU_API_BASE_URL")
	_ = viper.BindEnv("VTU_API_USERNAME")
	_ = viper.BindEnv("VTU_API_PASSWORD")
	_ = viper.BindEnv("BANK_API_BASE_URL")
	_ = viper.BindEnv("BANK_API_KEY")
	_ = viper.BindEnv("PAYMENT_WEBHOOK_SECRET")
	_ = viper.BindEnv("JWKS_URL")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "CHATPAY_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("SESSION_TTL_MINUTES")
	_ = viper.BindEnv("PIN_MAX_ATTEMPTS")
	_ = viper.BindEnv("AIRTIME_MIN_KOBO")
	_ = viper.BindEnv("AIRTIME_MAX_KOBO")
	_ = viper.BindEnv("TRANSFER_MIN_KOBO")
	_ = viper.BindEnv("TRANSFER_MAX_KOBO")
	_ = viper.BindEnv("TRANSFER_FEE_BPS")
	_ = viper.BindEnv("DATA_SERVICE_FEE_KOBO")
	_ = viper.BindEnv("DATA_SERVICE_FEE")
	_ = viper.BindEnv("DATA_SERVICE_FEE_NAIRA")
	_ = viper.BindEnv("CHAT_RATE_LIMIT_PER_MINUTE")

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
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("CHATPAY_SERVICE_INTERNAL_API_KEY"))
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisSessionPrefix = strings.TrimSpace(config.RedisSessionPrefix)
	if config.RedisSessionPrefix == "" {
		config.RedisSessionPrefix = "chatpay:session"
	}
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "chatpay:rate_limit"
	}

	// Allow specifying the data fee in whole currency units via
	// DATA_SERVICE_FEE or DATA_SERVICE_FEE_NAIRA.
	if viper.IsSet("DATA_SERVICE_FEE") {
		feeStr := strings.TrimSpace(viper.GetString("DATA_SERVICE_FEE"))
		if feeStr != "" {
			feeValue, parseErr := strconv.ParseFloat(feeStr, 64)
			if parseErr != nil {
				log.Printf("level=warn component=config msg=\"invalid DATA_SERVICE_FEE\" value=%q err=%v", feeStr, parseErr)
			} else {
				config.DataServiceFeeKobo = int64(math.Round(feeValue * 100))
			}
		}
	} else if viper.IsSet("DATA_SERVICE_FEE_NAIRA") {
		feeStr := strings.TrimSpace(viper.GetString("DATA_SERVICE_FEE_NAIRA"))
		if feeStr != "" {
			feeValue, parseErr := strconv.ParseFloat(feeStr, 64)
			if parseErr != nil {
				log.Printf("level=warn component=config msg=\"invalid DATA_SERVICE_FEE_NAIRA\" value=%q err=%v", feeStr, parseErr)
			} else {
				config.DataServiceFeeKobo = int64(math.Round(feeValue * 100))
			}
		}
	}

	if config.DataServiceFeeKobo < 0 {
		log.Printf("level=warn component=config msg=\"negative data service fee configured; coercing to zero\" fee_kobo=%d", config.DataServiceFeeKobo)
		config.DataServiceFeeKobo = 0
	}

	if config.TransferFeeBPS < 0 {
		log.Printf("level=warn component=config msg=\"negative transfer fee configured; coercing to zero\" fee_bps=%d", config.TransferFeeBPS)
		config.TransferFeeBPS = 0
	}
	if config.TransferFeeBPS > 10_000 {
		log.Printf("level=warn component=config msg=\"transfer fee above 100%%; capping\" fee_bps=%d", config.TransferFeeBPS)
		config.TransferFeeBPS = 10_000
	}

	if config.SessionTTLMinutes <= 0 {
		config.SessionTTLMinutes = 30
	}
	if config.PINMaxAttempts <= 0 {
		config.PINMaxAttempts = 3
	}
	if config.ChatRateLimitPerMinute <= 0 {
		config.ChatRateLimitPerMinute = 30
	}

	return
}
