package cafegate

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrEngineNotReady is returned when an operation runs against an
	// engine missing the collaborator it needs.
	ErrEngineNotReady = errors.New("engine not ready")
	// ErrAccountNotFound is the sentinel providers return for unknown
	// identifiers. The engine never surfaces it to login callers.
	ErrAccountNotFound = errors.New("account not found")
	// ErrInvalidCredentials covers unknown username and wrong password
	// alike; the audit trail records which, the caller never learns.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountInactive is returned for deactivated accounts.
	ErrAccountInactive = errors.New("account inactive")
	// ErrRateLimited is the errors.Is target for RateLimitedError.
	ErrRateLimited = errors.New("rate limited")

	// ErrPhoneInvalid is returned for phone numbers that are not E.164.
	ErrPhoneInvalid = errors.New("invalid phone number")
	// ErrOTPNotFound is returned for unknown challenge ids.
	ErrOTPNotFound = errors.New("otp challenge not found")
	// ErrOTPExpired is returned once a challenge's expiry has passed.
	ErrOTPExpired = errors.New("otp challenge expired")
	// ErrOTPAlreadyUsed is returned for a challenge already verified.
	ErrOTPAlreadyUsed = errors.New("otp challenge already used")
	// ErrOTPAttemptsExhausted is returned once the per-challenge
	// attempt budget is spent.
	ErrOTPAttemptsExhausted = errors.New("otp attempts exhausted")
	// ErrOTPResendLimitExceeded is returned once the resend budget is
	// spent; the client must request a fresh challenge.
	ErrOTPResendLimitExceeded = errors.New("otp resend limit exceeded")
	// ErrOTPInvalidCode is the errors.Is target for OTPMismatchError.
	ErrOTPInvalidCode = errors.New("otp code mismatch")
	// ErrOTPPhoneMismatch is returned when the supplied phone number
	// does not match the challenge.
	ErrOTPPhoneMismatch = errors.New("otp phone mismatch")

	// ErrSessionNotFound covers unknown and reaped tokens.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExpiredTimeout marks an absolute expiry.
	ErrSessionExpiredTimeout = errors.New("session expired")
	// ErrSessionExpiredInactivity marks an inactivity expiry.
	ErrSessionExpiredInactivity = errors.New("session expired due to inactivity")

	// ErrBackendUnavailable is the fail-closed surface for Redis or
	// provider trouble on session, OTP and credential paths.
	ErrBackendUnavailable = errors.New("backend unavailable")
)

// RateLimitedError is returned when an identifier is over its sliding
// window threshold or under a hard lock. RetryAfter is when the next
// attempt can succeed; it is safe to show to the caller.
type RateLimitedError struct {
	RetryAfter time.Duration
	Locked     bool
}

func (e *RateLimitedError) Error() string {
	wait := e.RetryAfter.Round(time.Second)
	if wait < time.Second {
		wait = time.Second
	}
	if e.Locked {
		return fmt.Sprintf("too many attempts, locked out for %s", wait)
	}
	return fmt.Sprintf("too many attempts, retry in %s", wait)
}

func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

// OTPMismatchError reports a wrong code along with how many attempts
// the challenge has left.
type OTPMismatchError struct {
	RemainingAttempts int
}

func (e *OTPMismatchError) Error() string {
	return fmt.Sprintf("otp code mismatch, %d attempts remaining", e.RemainingAttempts)
}

func (e *OTPMismatchError) Is(target error) bool {
	return target == ErrOTPInvalidCode
}
