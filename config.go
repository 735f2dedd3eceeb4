package cafegate

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/poscore/cafegate/password"
)

// Config carries every tunable of the engine. Durations and thresholds
// default to the values the product ships with; nothing here is
// hard-coded into the flows.
type Config struct {
	// KeyPrefix namespaces every Redis key the engine writes.
	KeyPrefix string `env:"KEY_PREFIX"`

	OTP      OTPConfig      `envPrefix:"OTP_"`
	Lockout  LockoutConfig  `envPrefix:"LOCKOUT_"`
	Session  SessionConfig  `envPrefix:"SESSION_"`
	Password PasswordConfig `envPrefix:"PASSWORD_"`
	Audit    AuditConfig    `envPrefix:"AUDIT_"`
	Metrics  MetricsConfig  `envPrefix:"METRICS_"`
	Dispatch DispatchConfig `envPrefix:"DISPATCH_"`
}

// OTPConfig governs the customer passcode flow.
type OTPConfig struct {
	CodeDigits  int           `env:"CODE_DIGITS"`
	Expiry      time.Duration `env:"EXPIRY"`
	MaxAttempts int           `env:"MAX_ATTEMPTS"`
	MaxResends  int           `env:"MAX_RESENDS"`

	// RequestWindow and RequestThreshold throttle how often one phone
	// number can ask for a fresh challenge. No hard lock; the window
	// sliding past old requests is the only recovery needed.
	RequestWindow    time.Duration `env:"REQUEST_WINDOW"`
	RequestThreshold int           `env:"REQUEST_THRESHOLD"`
}

// LockoutConfig governs failed staff logins.
type LockoutConfig struct {
	Window    time.Duration `env:"WINDOW"`
	Threshold int           `env:"THRESHOLD"`
	LockFor   time.Duration `env:"LOCK_FOR"`
}

// SessionConfig governs session lifetimes and per-role caps.
type SessionConfig struct {
	ShortLived        time.Duration `env:"SHORT_LIVED"`
	RememberMe        time.Duration `env:"REMEMBER_ME"`
	InactivityTimeout time.Duration `env:"INACTIVITY_TIMEOUT"`
	OwnerCap          int           `env:"OWNER_CAP"`
	CashierCap        int           `env:"CASHIER_CAP"`
}

// PasswordConfig carries the Argon2id cost parameters and whether
// hashes minted under weaker parameters are rewritten on login.
type PasswordConfig struct {
	Params         password.Params
	UpgradeOnLogin bool `env:"UPGRADE_ON_LOGIN"`
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool `env:"ENABLED"`
	BufferSize int  `env:"BUFFER_SIZE"`
	DropIfFull bool `env:"DROP_IF_FULL"`
}

// MetricsConfig controls the in-process counters.
type MetricsConfig struct {
	Enabled bool `env:"ENABLED"`
}

// DispatchConfig bounds outbound OTP delivery. Dispatch runs detached
// from the request; Timeout caps how long the detached send may take.
type DispatchConfig struct {
	Timeout time.Duration `env:"TIMEOUT"`
}

// DefaultConfig returns the shipped tuning.
func DefaultConfig() Config {
	return Config{
		KeyPrefix: "cafegate",
		OTP: OTPConfig{
			CodeDigits:       6,
			Expiry:           10 * time.Minute,
			MaxAttempts:      5,
			MaxResends:       5,
			RequestWindow:    time.Hour,
			RequestThreshold: 3,
		},
		Lockout: LockoutConfig{
			Window:    15 * time.Minute,
			Threshold: 5,
			LockFor:   15 * time.Minute,
		},
		Session: SessionConfig{
			ShortLived:        8 * time.Hour,
			RememberMe:        7 * 24 * time.Hour,
			InactivityTimeout: 30 * time.Minute,
			OwnerCap:          1,
			CashierCap:        3,
		},
		Password: PasswordConfig{
			Params:         password.DefaultParams(),
			UpgradeOnLogin: true,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Dispatch: DispatchConfig{
			Timeout: 5 * time.Second,
		},
	}
}

// ConfigFromEnv layers CAFEGATE_-prefixed environment variables over
// the defaults. Unset variables leave the default in place.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "CAFEGATE_"}); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations that would disable a safety property.
func (c Config) Validate() error {
	if c.KeyPrefix == "" {
		return errors.New("key prefix must not be empty")
	}
	if c.OTP.CodeDigits < 4 || c.OTP.CodeDigits > 10 {
		return errors.New("otp code digits must be between 4 and 10")
	}
	if c.OTP.Expiry <= 0 {
		return errors.New("otp expiry must be positive")
	}
	if c.OTP.MaxAttempts < 1 {
		return errors.New("otp max attempts must be at least 1")
	}
	if c.OTP.MaxResends < 0 {
		return errors.New("otp max resends must not be negative")
	}
	if c.OTP.RequestWindow <= 0 || c.OTP.RequestThreshold < 1 {
		return errors.New("otp request throttle must have a positive window and threshold")
	}
	if c.Lockout.Window <= 0 || c.Lockout.Threshold < 1 {
		return errors.New("lockout must have a positive window and threshold")
	}
	if c.Lockout.LockFor < 0 {
		return errors.New("lockout duration must not be negative")
	}
	if c.Session.ShortLived <= 0 || c.Session.RememberMe <= 0 {
		return errors.New("session durations must be positive")
	}
	if c.Session.RememberMe < c.Session.ShortLived {
		return errors.New("remember-me duration must not be shorter than the short-lived duration")
	}
	if c.Session.InactivityTimeout <= 0 {
		return errors.New("inactivity timeout must be positive")
	}
	if c.Session.OwnerCap < 1 || c.Session.CashierCap < 1 {
		return errors.New("session caps must be at least 1")
	}
	if c.Audit.Enabled && c.Audit.BufferSize < 1 {
		return errors.New("audit buffer size must be at least 1")
	}
	if c.Dispatch.Timeout <= 0 {
		return errors.New("dispatch timeout must be positive")
	}
	return nil
}
