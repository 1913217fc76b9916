package portalauth

import (
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/portalauth/password"
)

// SessionConfig controls session lifetime and Redis layout.
type SessionConfig struct {
	// Lifetime is absolute; sessions are never extended.
	Lifetime    time.Duration
	RedisPrefix string
}

// PasswordConfig holds the scrypt cost parameters.
type PasswordConfig struct {
	LogN        uint8
	BlockSize   int
	Parallelism int
	SaltLength  uint32
	KeyLength   uint32
}

// EmailVerificationConfig controls the numeric verification code.
type EmailVerificationConfig struct {
	CodeLength int
	CodeTTL    time.Duration
	// AutoLogin issues a session on the first successful verification.
	AutoLogin bool
	// MaxAttempts wrong codes per address lock verification for
	// AttemptWindow. Resending does not restore the budget.
	MaxAttempts   int
	AttemptWindow time.Duration
}

// PasswordResetConfig controls reset tokens.
type PasswordResetConfig struct {
	TokenTTL time.Duration
}

// TwoFactorConfig controls TOTP parameters and secret sealing.
type TwoFactorConfig struct {
	Issuer string
	Digits int
	Period int
	Skew   int
	// SealKey is the 32-byte key used to encrypt secrets at rest.
	SealKey []byte
}

// InvitationConfig controls invitation tokens.
type InvitationConfig struct {
	TokenTTL time.Duration
}

// SecurityConfig controls login throttling and session revocation.
type SecurityConfig struct {
	MaxLoginAttempts int
	LoginCooldown    time.Duration
	EnableIPThrottle bool
	RateLimitPrefix  string
	// RevokeSessionsOnCredentialChange destroys other sessions after a
	// password reset or a two-factor toggle.
	RevokeSessionsOnCredentialChange bool
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig toggles in-process counters.
type MetricsConfig struct {
	Enabled bool
}

// Config is the engine configuration.
type Config struct {
	Session           SessionConfig
	Password          PasswordConfig
	EmailVerification EmailVerificationConfig
	PasswordReset     PasswordResetConfig
	TwoFactor         TwoFactorConfig
	Invitation        InvitationConfig
	Security          SecurityConfig
	Audit             AuditConfig
	Metrics           MetricsConfig
}

// DefaultConfig returns production defaults. TwoFactor.SealKey has no default
// and must be supplied.
func DefaultConfig() Config {
	pw := password.DefaultConfig()
	return Config{
		Session: SessionConfig{
			Lifetime:    7 * 24 * time.Hour,
			RedisPrefix: "ps",
		},
		Password: PasswordConfig{
			LogN:        pw.LogN,
			BlockSize:   pw.BlockSize,
			Parallelism: pw.Parallelism,
			SaltLength:  pw.SaltLength,
			KeyLength:   pw.KeyLength,
		},
		EmailVerification: EmailVerificationConfig{
			CodeLength:    6,
			CodeTTL:       10 * time.Minute,
			AutoLogin:     true,
			MaxAttempts:   5,
			AttemptWindow: 15 * time.Minute,
		},
		PasswordReset: PasswordResetConfig{
			TokenTTL: time.Hour,
		},
		TwoFactor: TwoFactorConfig{
			Issuer: "Energy Portal",
			Digits: 6,
			Period: 30,
			Skew:   1,
		},
		Invitation: InvitationConfig{
			TokenTTL: 7 * 24 * time.Hour,
		},
		Security: SecurityConfig{
			MaxLoginAttempts:                 5,
			LoginCooldown:                    15 * time.Minute,
			EnableIPThrottle:                 true,
			RateLimitPrefix:                  "prl",
			RevokeSessionsOnCredentialChange: true,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.TwoFactor.SealKey = cloneBytes(cfg.TwoFactor.SealKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (c PasswordConfig) hasherConfig() password.Config {
	return password.Config{
		LogN:        c.LogN,
		BlockSize:   c.BlockSize,
		Parallelism: c.Parallelism,
		SaltLength:  c.SaltLength,
		KeyLength:   c.KeyLength,
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	// Session
	if c.Session.Lifetime <= 0 {
		return errors.New("Session Lifetime must be > 0")
	}
	if strings.TrimSpace(c.Session.RedisPrefix) == "" {
		return errors.New("Session RedisPrefix must not be empty")
	}

	// Password
	if c.Password.LogN < 10 || c.Password.LogN > 20 {
		return errors.New("Password LogN must be between 10 and 20")
	}
	if c.Password.BlockSize < 1 || c.Password.Parallelism < 1 {
		return errors.New("Password BlockSize and Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 32 {
		return errors.New("Password KeyLength must be >= 32")
	}

	// Email verification
	if c.EmailVerification.CodeLength < 4 || c.EmailVerification.CodeLength > 10 {
		return errors.New("EmailVerification CodeLength must be between 4 and 10")
	}
	if c.EmailVerification.CodeTTL <= 0 {
		return errors.New("EmailVerification CodeTTL must be > 0")
	}
	if c.EmailVerification.MaxAttempts <= 0 {
		return errors.New("EmailVerification MaxAttempts must be > 0")
	}
	if c.EmailVerification.AttemptWindow <= 0 {
		return errors.New("EmailVerification AttemptWindow must be > 0")
	}

	// Password reset
	if c.PasswordReset.TokenTTL <= 0 {
		return errors.New("PasswordReset TokenTTL must be > 0")
	}

	// Two-factor
	if strings.TrimSpace(c.TwoFactor.Issuer) == "" {
		return errors.New("TwoFactor Issuer must not be empty")
	}
	if c.TwoFactor.Digits != 6 && c.TwoFactor.Digits != 8 {
		return errors.New("TwoFactor Digits must be 6 or 8")
	}
	if c.TwoFactor.Period <= 0 {
		return errors.New("TwoFactor Period must be > 0")
	}
	if c.TwoFactor.Skew < 1 || c.TwoFactor.Skew > 2 {
		return errors.New("TwoFactor Skew must be 1 or 2")
	}
	if len(c.TwoFactor.SealKey) != 32 {
		return errors.New("TwoFactor SealKey must be 32 bytes")
	}

	// Invitation
	if c.Invitation.TokenTTL <= 0 {
		return errors.New("Invitation TokenTTL must be > 0")
	}

	// Security
	if c.Security.MaxLoginAttempts < 0 {
		return errors.New("Security MaxLoginAttempts must be >= 0")
	}
	if c.Security.MaxLoginAttempts > 0 && c.Security.LoginCooldown <= 0 {
		return errors.New("Security LoginCooldown must be > 0 when throttling is enabled")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}

	return nil
}
