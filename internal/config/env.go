package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnv overlays environment variables onto cfg.
func applyEnv(cfg *Config) {
	envString(&cfg.Database.DSN, "DATABASE_URL", "MONGO_URI")
	envString(&cfg.JWT.Secret, "JWT_SECRET", "SECRET_OR_KEY")
	envDuration(&cfg.JWT.Expiry, "JWT_EXPIRY")

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		cfg.Server.Addr = ":" + port
	}
	envString(&cfg.Server.FrontendURL, "FRONTEND_URL")
	envString(&cfg.Server.BackendURL, "BACKEND_URL")
	envList(&cfg.Server.CORSOrigins, "CORS_ORIGINS")

	envBool(&cfg.Auth.RequireEmailVerification, "REQUIRE_EMAIL_VERIFICATION")
	envList(&cfg.Auth.AdminEmails, "ADMIN_EMAILS")

	envString(&cfg.Logging.Level, "LOG_LEVEL")
	envString(&cfg.Logging.Format, "LOG_FORMAT")
	envString(&cfg.Logging.File, "LOG_FILE")

	envString(&cfg.SMTP.Host, "SMTP_HOST")
	envInt(&cfg.SMTP.Port, "SMTP_PORT")
	envString(&cfg.SMTP.Username, "SMTP_USERNAME", "SMTP_USER")
	envString(&cfg.SMTP.Password, "SMTP_PASSWORD", "SMTP_PASS")
	envString(&cfg.SMTP.From, "SMTP_FROM")

	envString(&cfg.Redis.Addr, "REDIS_ADDR")
	envString(&cfg.Redis.Password, "REDIS_PASSWORD")
	envInt(&cfg.Redis.DB, "REDIS_DB")

	envString(&cfg.Yoco.SecretKey, "YOCO_SECRET_KEY")
	envString(&cfg.Yoco.WebhookSecret, "YOCO_WEBHOOK_SECRET")
	envString(&cfg.Yoco.APIURL, "YOCO_API_URL")

	envString(&cfg.PayFast.MerchantID, "PAYFAST_MERCHANT_ID")
	envString(&cfg.PayFast.MerchantKey, "PAYFAST_MERCHANT_KEY")
	envString(&cfg.PayFast.Passphrase, "PAYFAST_PASS_PHRASE", "PAYFAST_PASSPHRASE")
	envString(&cfg.PayFast.ProcessURL, "PAYFAST_PROCESS_URL")

	envString(&cfg.Payments.DefaultProvider, "PAYMENT_PROVIDER")
	envString(&cfg.Payments.Currency, "PAYMENT_CURRENCY")
}

// envString sets dst from the first non-empty variable in keys.
func envString(dst *string, keys ...string) {
	for _, key := range keys {
		if val := strings.TrimSpace(os.Getenv(key)); val != "" {
			*dst = val
			return
		}
	}
}

func envInt(dst *int, keys ...string) {
	var raw string
	envString(&raw, keys...)
	if raw == "" {
		return
	}
	if parsed, err := strconv.Atoi(raw); err == nil {
		*dst = parsed
	}
}

func envBool(dst *bool, keys ...string) {
	var raw string
	envString(&raw, keys...)
	if raw == "" {
		return
	}
	if parsed, err := strconv.ParseBool(raw); err == nil {
		*dst = parsed
	}
}

func envDuration(dst *time.Duration, keys ...string) {
	var raw string
	envString(&raw, keys...)
	if raw == "" {
		return
	}
	if parsed, err := time.ParseDuration(raw); err == nil {
		*dst = parsed
	}
}

// envList splits a comma separated variable.
func envList(dst *[]string, keys ...string) {
	var raw string
	envString(&raw, keys...)
	if raw == "" {
		return
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	*dst = out
}
