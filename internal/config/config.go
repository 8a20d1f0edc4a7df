package config

import (
	"fmt"

	env "github.com/caarlos0/env/v11"
)

type Config struct {
	DatabaseURL    string `env:"DATABASE_URL,required"`
	WebhookHMACKey string `env:"WEBHOOK_HMAC_KEY,required"`

	GatewayBaseURL  string `env:"GATEWAY_BASE_URL" envDefault:"http://mock-gateway:8081"`
	GatewayAPIKey   string `env:"GATEWAY_API_KEY,required"`
	MerchantAccount string `env:"MERCHANT_ACCOUNT,required"`

	// AutoCapture mirrors the gateway-side capture mode: when true, an
	// AUTHORISATION notification already implies capture and a later CAPTURE
	// notification is a confirmation only.
	AutoCapture bool `env:"AUTO_CAPTURE" envDefault:"true"`

	SuccessRedirectPath string `env:"SUCCESS_REDIRECT_PATH" envDefault:"/checkout/success"`
	FailureRedirectPath string `env:"FAILURE_REDIRECT_PATH" envDefault:"/checkout/cart"`

	NotificationRetentionDays int    `env:"NOTIFICATION_RETENTION_DAYS" envDefault:"90"`
	SweepSchedule             string `env:"SWEEP_SCHEDULE" envDefault:"0 3 * * *"`

	Port     int    `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	AppEnv   string `env:"APP_ENV" envDefault:"production"`

	DBMaxOpenConns     int `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	DBMaxIdleConns     int `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	DBConnMaxLifetimeS int `env:"DB_CONN_MAX_LIFETIME_S" envDefault:"300"`
	DBConnMaxIdleTimeS int `env:"DB_CONN_MAX_IDLE_TIME_S" envDefault:"60"`
}

func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}
