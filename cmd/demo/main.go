// Package main walks through the full two-factor lifecycle against an
// in-memory store: TOTP enrollment, login verification, device trust, email
// codes, and recovery codes. This is useful for:
// - Quick development and testing
// - Learning the API without database setup
//
// Set TWOFA_STORE=postgres to run the same walkthrough against PostgreSQL,
// and EMAIL_HOST to deliver email codes over real SMTP instead of the
// recording notifier.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/tendant/simple-2fa/pkg/codestore"
	"github.com/tendant/simple-2fa/pkg/notification"
	"github.com/tendant/simple-2fa/pkg/totp"
	"github.com/tendant/simple-2fa/pkg/twofactor"
)

type Config struct {
	// Store backend: "inmem" or "postgres"
	Store string `env:"TWOFA_STORE" env-default:"inmem"`

	// Database (postgres store only)
	DBHost     string `env:"TWOFA_PG_HOST" env-default:"localhost"`
	DBPort     uint16 `env:"TWOFA_PG_PORT" env-default:"5432"`
	DBDatabase string `env:"TWOFA_PG_DATABASE" env-default:"twofa_db"`
	DBUser     string `env:"TWOFA_PG_USER" env-default:"twofa"`
	DBPassword string `env:"TWOFA_PG_PASSWORD" env-default:"pwd"`

	// Email (leave host empty to record deliveries instead of sending)
	EmailHost     string `env:"EMAIL_HOST" env-default:""`
	EmailPort     int    `env:"EMAIL_PORT" env-default:"1025"`
	EmailUsername string `env:"EMAIL_USERNAME" env-default:""`
	EmailPassword string `env:"EMAIL_PASSWORD" env-default:""`
	EmailFrom     string `env:"EMAIL_FROM" env-default:"noreply@example.com"`
	EmailTLS      bool   `env:"EMAIL_TLS" env-default:"false"`

	// Engine
	Issuer     string `env:"TWOFA_ISSUER" env-default:"simple-2fa-demo"`
	SigningKey string `env:"TWOFA_DEVICE_KEY" env-default:"demo-device-trust-key-change-me"`

	// Walkthrough subject
	Identity string `env:"TWOFA_IDENTITY" env-default:"demo-user"`
	Email    string `env:"TWOFA_EMAIL" env-default:"demo-user@example.com"`
}

func (c *Config) toDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBDatabase)
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file loaded", "error", err)
	}
	var config Config
	if err := cleanenv.ReadEnv(&config); err != nil {
		slog.Error("Failed to read configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	var store codestore.Store
	switch config.Store {
	case "postgres":
		pool, err := pgxpool.New(ctx, config.toDatabaseURL())
		if err != nil {
			slog.Error("Failed to connect to database", "host", config.DBHost, "database", config.DBDatabase, "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		store = codestore.NewPostgresStore(pool)
		slog.Info("Using PostgreSQL store", "database", config.DBDatabase)
	default:
		store = codestore.NewInMemStore()
		slog.Info("Using in-memory store (all data lost on exit)")
	}

	mock := notification.NewMockNotifier()
	var notifier notification.Notifier = mock
	if config.EmailHost != "" {
		emailNotifier, err := notification.NewEmailNotifier(notification.SMTPConfig{
			Host:     config.EmailHost,
			Port:     config.EmailPort,
			TLS:      config.EmailTLS,
			Username: config.EmailUsername,
			Password: config.EmailPassword,
			From:     config.EmailFrom,
		}, "", "")
		if err != nil {
			slog.Error("Failed to create email notifier", "error", err)
			os.Exit(1)
		}
		notifier = emailNotifier
		mock = nil
		slog.Info("Delivering email codes over SMTP", "host", config.EmailHost)
	}

	service, err := twofactor.NewService(store, notifier, twofactor.DefaultConfig(config.Issuer, []byte(config.SigningKey)))
	if err != nil {
		slog.Error("Failed to create two-factor service", "error", err)
		os.Exit(1)
	}

	identity := config.Identity
	slog.Info("Starting walkthrough", "identity", identity)

	// Clean slate in case a previous run against postgres left state behind.
	if err := service.DisableAll(ctx, identity); err != nil {
		slog.Error("Failed to reset identity", "error", err)
		os.Exit(1)
	}

	// TOTP enrollment. The secret and URI go to the user's authenticator app;
	// here a local engine with the same parameters plays that role.
	material, err := service.BeginSetup(ctx, identity, twofactor.MethodTOTP, twofactor.SetupOptions{})
	if err != nil {
		slog.Error("TOTP setup failed", "error", err)
		os.Exit(1)
	}
	slog.Info("TOTP enrollment started", "uri", material.ProvisioningURI)

	authenticator := totp.NewEngine(config.Issuer)
	code, err := authenticator.CurrentCode(material.Secret, time.Now())
	if err != nil {
		slog.Error("Failed to compute TOTP code", "error", err)
		os.Exit(1)
	}

	confirm, err := service.ConfirmSetup(ctx, identity, twofactor.MethodTOTP, code)
	if err != nil {
		slog.Error("TOTP confirmation failed", "error", err)
		os.Exit(1)
	}
	slog.Info("TOTP enabled", "outcome", confirm.Outcome, "recoveryCodes", len(confirm.RecoveryCodes))

	// Login verification with device trust.
	code, err = authenticator.CurrentCode(material.Secret, time.Now())
	if err != nil {
		slog.Error("Failed to compute TOTP code", "error", err)
		os.Exit(1)
	}
	verify, err := service.Verify(ctx, identity, twofactor.MethodTOTP, code, twofactor.VerifyOptions{
		RememberDevice: true,
		Fingerprint:    "demo-laptop",
	})
	if err != nil {
		slog.Error("Verification failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Login verified", "outcome", verify.Outcome, "deviceToken", verify.DeviceToken != "")

	trusted, err := service.IsTrustedDevice(ctx, identity, verify.DeviceToken)
	if err != nil {
		slog.Error("Device check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Device trust", "trusted", trusted)

	// Recovery code use.
	if len(confirm.RecoveryCodes) > 0 {
		recovered, err := service.VerifyRecoveryCode(ctx, identity, confirm.RecoveryCodes[0])
		if err != nil {
			slog.Error("Recovery verification failed", "error", err)
			os.Exit(1)
		}
		status, err := service.RecoveryCodeStatus(ctx, identity)
		if err != nil {
			slog.Error("Recovery status failed", "error", err)
			os.Exit(1)
		}
		slog.Info("Recovery code consumed", "outcome", recovered.Outcome, "remaining", status.Remaining)
	}

	// Email enrollment and login. With the recording notifier the delivered
	// code can be read back to complete the flow.
	setup, err := service.BeginSetup(ctx, identity, twofactor.MethodEmail, twofactor.SetupOptions{Destination: config.Email})
	if err != nil {
		slog.Error("Email setup failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Email enrollment started", "outcome", setup.Outcome, "destination", setup.Destination)

	if mock == nil {
		slog.Info("Check your inbox to confirm email enrollment; walkthrough ends here")
		return
	}

	confirm, err = service.ConfirmSetup(ctx, identity, twofactor.MethodEmail, mock.LastCode())
	if err != nil {
		slog.Error("Email confirmation failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Email enabled", "outcome", confirm.Outcome)

	challenge, err := service.Challenge(ctx, identity, twofactor.MethodEmail)
	if err != nil {
		slog.Error("Email challenge failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Email challenge issued", "destination", challenge.Destination)

	verify, err = service.Verify(ctx, identity, twofactor.MethodEmail, mock.LastCode(), twofactor.VerifyOptions{})
	if err != nil {
		slog.Error("Email verification failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Email code verified", "outcome", verify.Outcome)

	methods, err := service.EnabledMethods(ctx, identity)
	if err != nil {
		slog.Error("Failed to list methods", "error", err)
		os.Exit(1)
	}
	slog.Info("Walkthrough complete", "enabledMethods", methods)
}
