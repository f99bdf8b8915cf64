package config

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	authConfig "github.com/iurnickita/hrbonus/internal/auth/config"
	handlerConfig "github.com/iurnickita/hrbonus/internal/handler/config"
	loggerConfig "github.com/iurnickita/hrbonus/internal/logger/config"
	serviceConfig "github.com/iurnickita/hrbonus/internal/service/config"
	storeConfig "github.com/iurnickita/hrbonus/internal/store/config"
)

type Config struct {
	Handler handlerConfig.Config
	Service serviceConfig.Config
	Store   storeConfig.Config
	Logger  loggerConfig.Config
	Auth    authConfig.Config
}

const (
	keyRunAddress        = "run_address"
	keyDatabaseURI       = "database_uri"
	keyLogLevel          = "log_level"
	keyJWTSecret         = "jwt_secret"
	keyTokenTTL          = "token_ttl"
	keyPaymentAddress    = "payment_api_address"
	keyPaymentKey        = "payment_api_key"
	keyWebhookSecret     = "payment_webhook_secret"
	keyCurrency          = "payment_currency"
	keyRetryMaxElapsed   = "payment_retry_max_elapsed"
	keyPublicBaseURL     = "public_base_url"
	keyDashboardURL      = "dashboard_url"
	keyAdminLogin        = "admin_login"
	keyAdminPassword     = "admin_password"
	keyAdminOrganization = "admin_organization"
)

// GetConfig собирает конфигурацию.
// Приоритет: флаги, переменные окружения (в том числе из .env), значения по умолчанию.
func GetConfig(args []string) (Config, error) {
	// .env необязателен
	_ = godotenv.Load()

	v := viper.New()
	v.SetDefault(keyRunAddress, "localhost:8080")
	v.SetDefault(keyLogLevel, "info")
	v.SetDefault(keyTokenTTL, 12*time.Hour)
	v.SetDefault(keyPaymentAddress, "https://api.stripe.com")
	v.SetDefault(keyCurrency, "usd")
	v.SetDefault(keyRetryMaxElapsed, 10*time.Second)
	v.SetDefault(keyPublicBaseURL, "http://localhost:8080")
	v.SetDefault(keyDashboardURL, "/dashboard")
	v.AutomaticEnv()

	fs := pflag.NewFlagSet("hrbonus", pflag.ContinueOnError)
	fs.StringP(keyRunAddress, "a", "", "адрес и порт сервиса")
	fs.StringP(keyDatabaseURI, "d", "", "адрес подключения к базе данных")
	fs.StringP(keyPaymentAddress, "p", "", "адрес API платежного провайдера")
	fs.StringP(keyLogLevel, "l", "", "уровень логирования")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	for _, key := range []string{keyRunAddress, keyDatabaseURI, keyPaymentAddress, keyLogLevel} {
		if err := v.BindPFlag(key, fs.Lookup(key)); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	cfg.Handler.ServerAddr = v.GetString(keyRunAddress)
	cfg.Handler.DashboardURL = v.GetString(keyDashboardURL)
	cfg.Store.DBDsn = v.GetString(keyDatabaseURI)
	cfg.Logger.LogLevel = v.GetString(keyLogLevel)
	cfg.Service.PaymentAddr = v.GetString(keyPaymentAddress)
	cfg.Service.PaymentKey = v.GetString(keyPaymentKey)
	cfg.Service.WebhookSecret = v.GetString(keyWebhookSecret)
	cfg.Service.Currency = v.GetString(keyCurrency)
	cfg.Service.RetryMaxElapsed = v.GetDuration(keyRetryMaxElapsed)
	cfg.Service.PublicBaseURL = v.GetString(keyPublicBaseURL)
	cfg.Auth.JWTSecret = v.GetString(keyJWTSecret)
	cfg.Auth.TokenTTL = v.GetDuration(keyTokenTTL)
	cfg.Auth.AdminLogin = v.GetString(keyAdminLogin)
	cfg.Auth.AdminPassword = v.GetString(keyAdminPassword)
	cfg.Auth.AdminOrganization = v.GetString(keyAdminOrganization)

	return cfg, nil
}
