package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// AppConfig holds process level settings.
type AppConfig struct {
	Port              string
	StorageDriver     string
	SchedulerInterval time.Duration
	SweepConcurrency  int
	LogLevel          string
	LogPretty         bool
	GatewayBaseURL    string
	GatewayAPIKey     string
	GatewayTimeout    time.Duration
}

// envBindings maps viper keys to environment variables.
var envBindings = map[string]string{
	"database.host":      "DATABASE_HOST",
	"database.port":      "DATABASE_PORT",
	"database.user":      "DATABASE_USER",
	"database.password":  "DATABASE_PASSWORD",
	"database.name":      "DATABASE_NAME",
	"database.ssl_mode":  "DATABASE_SSL_MODE",
	"redis.host":         "REDIS_HOST",
	"redis.port":         "REDIS_PORT",
	"redis.password":     "REDIS_PASSWORD",
	"redis.db":           "REDIS_DB",
	"jwt.secret_key":     "JWT_SECRET_KEY",
	"server.port":        "PORT",
	"storage.driver":     "STORAGE_DRIVER",
	"scheduler.interval": "SCHEDULER_INTERVAL",
	"log.level":          "LOG_LEVEL",
	"log.pretty":         "LOG_PRETTY",
	"gateway.base_url":   "GATEWAY_BASE_URL",
	"gateway.api_key":    "GATEWAY_API_KEY",
	"earnings.timezone":  "EARNINGS_TIMEZONE",
}

// Init reads the .env file and binds environment overrides.
func Init(configFile string) error {
	viper.SetConfigFile(configFile)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	for key, env := range envBindings {
		if err := viper.BindEnv(key, env); err != nil {
			return err
		}
	}

	SetEarningsDefaults()
	return viper.ReadInConfig()
}

// LoadAppConfig returns process settings with defaults.
func LoadAppConfig() *AppConfig {
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("storage.driver", "postgres")
	viper.SetDefault("scheduler.interval", 24*time.Hour)
	viper.SetDefault("scheduler.concurrency", 5)
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.pretty", false)
	viper.SetDefault("gateway.timeout", 30*time.Second)

	return &AppConfig{
		Port:              viper.GetString("server.port"),
		StorageDriver:     viper.GetString("storage.driver"),
		SchedulerInterval: viper.GetDuration("scheduler.interval"),
		SweepConcurrency:  viper.GetInt("scheduler.concurrency"),
		LogLevel:          viper.GetString("log.level"),
		LogPretty:         viper.GetBool("log.pretty"),
		GatewayBaseURL:    viper.GetString("gateway.base_url"),
		GatewayAPIKey:     viper.GetString("gateway.api_key"),
		GatewayTimeout:    viper.GetDuration("gateway.timeout"),
	}
}
