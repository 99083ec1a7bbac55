package buildCFG

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/config"
	"github.com/wb-go/wbf/dbpg"

	"ticketing/internal/payment"
	"ticketing/internal/rabbit"
	"ticketing/internal/service"
)

type ServerConfig struct {
	Port            string
	Mode            string
	LogLevel        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	CORSOrigins     []string
}

type AuthConfig struct {
	JWTSecret     string
	TokenTTL      time.Duration
	AdminName     string
	AdminEmail    string
	AdminPassword string
}

type SchedulerConfig struct {
	Interval time.Duration
}

// secret prefers the environment so credentials can stay out of config.yaml.
func secret(cfg *config.Config, key, env string) string {
	if v := os.Getenv(env); v != "" {
		return v
	}
	return cfg.GetString(key)
}

func stringOr(cfg *config.Config, log *zerolog.Logger, key, def string) string {
	v := cfg.GetString(key)
	if v == "" {
		log.Warn().Str("key", key).Str("default", def).Msg("config value missing, using default")
		return def
	}
	return v
}

func intOr(cfg *config.Config, log *zerolog.Logger, key string, def int) int {
	v := cfg.GetInt(key)
	if v <= 0 {
		log.Warn().Str("key", key).Int("default", def).Msg("config value missing, using default")
		return def
	}
	return v
}

func durationOr(cfg *config.Config, log *zerolog.Logger, key string, def time.Duration) time.Duration {
	v := cfg.GetDuration(key)
	if v <= 0 {
		log.Warn().Str("key", key).Dur("default", def).Msg("config value missing, using default")
		return def
	}
	return v
}

func BuildServerConfig(cfg *config.Config, log *zerolog.Logger) ServerConfig {
	return ServerConfig{
		Port:            stringOr(cfg, log, "server.port", "8080"),
		Mode:            stringOr(cfg, log, "server.mode", "release"),
		LogLevel:        stringOr(cfg, log, "server.log_level", "info"),
		ReadTimeout:     durationOr(cfg, log, "server.read_timeout", 10*time.Second),
		WriteTimeout:    durationOr(cfg, log, "server.write_timeout", 15*time.Second),
		ShutdownTimeout: durationOr(cfg, log, "server.shutdown_timeout", 10*time.Second),
		CORSOrigins:     cfg.GetStringSlice("server.cors_origins"),
	}
}

func BuildDBConfig(cfg *config.Config, log *zerolog.Logger) (string, []string, *dbpg.Options, error) {
	masterDSN := secret(cfg, "database.master_dsn", "DATABASE_URL")
	if masterDSN == "" {
		return "", nil, nil, fmt.Errorf("database.master_dsn is required")
	}
	slaveDSNs := cfg.GetStringSlice("database.slave_dsns")

	opts := &dbpg.Options{
		MaxOpenConns:    intOr(cfg, log, "database.max_open_conns", 20),
		MaxIdleConns:    intOr(cfg, log, "database.max_idle_conns", 5),
		ConnMaxLifetime: durationOr(cfg, log, "database.conn_max_lifetime", 5*time.Minute),
	}
	return masterDSN, slaveDSNs, opts, nil
}

func BuildRabbitConfig(cfg *config.Config, log *zerolog.Logger) (rabbit.Config, error) {
	rc := rabbit.Config{
		URL:      secret(cfg, "rabbitmq.url", "RABBITMQ_URL"),
		Exchange: stringOr(cfg, log, "rabbitmq.exchange", "ticketing.delayed"),
		Queue:    stringOr(cfg, log, "rabbitmq.queue", "ticketing.booking-expiry"),
		Prefetch: intOr(cfg, log, "rabbitmq.prefetch", 16),
	}
	if rc.URL == "" {
		return rc, fmt.Errorf("rabbitmq.url is required")
	}
	return rc, nil
}

func BuildStripeConfig(cfg *config.Config) (payment.Config, error) {
	sc := payment.Config{
		SecretKey:     secret(cfg, "stripe.secret_key", "STRIPE_SECRET_KEY"),
		WebhookSecret: secret(cfg, "stripe.webhook_secret", "STRIPE_WEBHOOK_SECRET"),
		SuccessURL:    cfg.GetString("stripe.success_url"),
		CancelURL:     cfg.GetString("stripe.cancel_url"),
	}
	switch {
	case sc.SecretKey == "":
		return sc, fmt.Errorf("stripe.secret_key is required")
	case sc.WebhookSecret == "":
		return sc, fmt.Errorf("stripe.webhook_secret is required")
	case sc.SuccessURL == "" || sc.CancelURL == "":
		return sc, fmt.Errorf("stripe.success_url and stripe.cancel_url are required")
	}
	return sc, nil
}

func BuildAuthConfig(cfg *config.Config, log *zerolog.Logger) (AuthConfig, error) {
	ac := AuthConfig{
		JWTSecret:     secret(cfg, "auth.jwt_secret", "JWT_SECRET"),
		TokenTTL:      durationOr(cfg, log, "auth.token_ttl", 24*time.Hour),
		AdminName:     stringOr(cfg, log, "auth.admin_name", "Administrator"),
		AdminEmail:    cfg.GetString("auth.admin_email"),
		AdminPassword: secret(cfg, "auth.admin_password", "ADMIN_PASSWORD"),
	}
	if ac.JWTSecret == "" {
		return ac, fmt.Errorf("auth.jwt_secret is required")
	}
	if ac.AdminEmail != "" && ac.AdminPassword == "" {
		return ac, fmt.Errorf("auth.admin_password is required when auth.admin_email is set")
	}
	return ac, nil
}

func BuildBookingOptions(cfg *config.Config, log *zerolog.Logger) service.Options {
	return service.Options{
		HoldTTL:     durationOr(cfg, log, "booking.hold_ttl", 30*time.Minute),
		MaxQuantity: intOr(cfg, log, "booking.max_quantity", 10),
		Currency:    stringOr(cfg, log, "booking.currency", "usd"),
		SweepBatch:  intOr(cfg, log, "booking.sweep_batch", 100),
	}
}

func BuildSchedulerConfig(cfg *config.Config, log *zerolog.Logger) SchedulerConfig {
	return SchedulerConfig{
		Interval: durationOr(cfg, log, "scheduler.interval", time.Minute),
	}
}
