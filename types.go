package cafegate

import (
	"context"
	"time"
)

// Role determines a session's concurrency cap and what the embedding
// application lets the holder do.
type Role string

const (
	RoleOwner    Role = "owner"
	RoleCashier  Role = "cashier"
	RoleCustomer Role = "customer"
)

func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleCashier, RoleCustomer:
		return true
	}
	return false
}

// StaffAccount is the staff record the engine authenticates against.
// PasswordHash is a PHC-encoded Argon2id string.
type StaffAccount struct {
	ID           string
	Username     string
	PasswordHash string
	Role         Role
	Active       bool
}

// CustomerAccount is the customer record bound to a phone number.
type CustomerAccount struct {
	ID            string
	PhoneNumber   string
	PhoneVerified bool
	Active        bool
}

// StaffProvider is the caller-supplied staff account store. Lookups for
// unknown usernames return ErrAccountNotFound; the engine folds that
// into ErrInvalidCredentials so callers cannot probe for usernames.
type StaffProvider interface {
	StaffByUsername(ctx context.Context, username string) (*StaffAccount, error)

	// UpdatePasswordHash persists a rehashed credential after an
	// upgrade-on-login. The engine calls it best-effort; failure is
	// logged, never surfaced.
	UpdatePasswordHash(ctx context.Context, accountID, newHash string) error
}

// CustomerProvider is the caller-supplied customer account store,
// keyed by E.164 phone number.
type CustomerProvider interface {
	CustomerByPhone(ctx context.Context, phone string) (*CustomerAccount, error)
	MarkPhoneVerified(ctx context.Context, accountID string) error
}

// StaffLoginRequest carries one staff credential attempt. Fingerprint
// is the rate-limit identifier and must be server-observed (connection
// or source address), never a value the client reports about itself.
type StaffLoginRequest struct {
	Username    string
	Password    string
	Fingerprint string
	RememberMe  bool
}

// CustomerLoginRequest completes an OTP challenge and opens a session.
type CustomerLoginRequest struct {
	ChallengeID string
	PhoneNumber string
	Code        string
	RememberMe  bool
}

// VerifyOTPRequest checks a code against a challenge without opening a
// session.
type VerifyOTPRequest struct {
	ChallengeID string
	PhoneNumber string
	Code        string
}

// LoginResult is returned on successful authentication of either kind.
type LoginResult struct {
	Token           string
	AccountID       string
	Role            Role
	ExpiresAt       time.Time
	RememberMe      bool
	EvictedSessions int
}

// OTPRequestResult describes a freshly issued or rotated challenge.
// ReplacedChallengeID names the prior active challenge for the phone
// number, when issuing this one invalidated it.
type OTPRequestResult struct {
	ChallengeID         string
	ExpiresAt           time.Time
	ReplacedChallengeID string
	ResendsRemaining    int
}

// SessionInfo is the engine's view of a validated session.
type SessionInfo struct {
	Token          string
	AccountID      string
	Role           Role
	RememberMe     bool
	CreatedAt      time.Time
	ExpiresAt      time.Time
	LastActivityAt time.Time
}
