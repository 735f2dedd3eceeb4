package cafegate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/poscore/cafegate/dispatch"
	"github.com/poscore/cafegate/internal"
	"github.com/poscore/cafegate/internal/stores"
)

// RequestOTP issues a fresh challenge for a phone number and dispatches
// the code out of band. Any active challenge for the number is
// invalidated in the same transaction, so exactly one code per phone is
// ever verifiable. Requests are throttled per number; delivery failure
// does not fail the request, the code stays valid and reachable via
// resend.
func (e *Engine) RequestOTP(ctx context.Context, phone string) (*OTPRequestResult, error) {
	if e == nil || e.otps == nil {
		return nil, ErrEngineNotReady
	}
	if err := e.validate.Var(phone, "required,e164"); err != nil {
		return nil, ErrPhoneInvalid
	}

	dec, limErr := e.otpLimiter.Record(ctx, phone)
	e.noteFailOpen("otp_request", limErr)
	if !dec.Allowed {
		e.metricInc(MetricOTPThrottled)
		e.emitAudit(ctx, AuditActionOTPRequested, "", phone, AuditFailure, map[string]string{
			"reason":      "rate_limited",
			"retry_after": dec.RetryAfter.String(),
		})
		return nil, &RateLimitedError{RetryAfter: dec.RetryAfter}
	}

	code, err := internal.NewOTPCode(e.config.OTP.CodeDigits)
	if err != nil {
		return nil, err
	}

	now := e.clock()
	challenge := &stores.OTPChallenge{
		ID:          uuid.NewString(),
		PhoneNumber: phone,
		CodeHash:    internal.HashOTPCode(code),
		CreatedAt:   now.Unix(),
		ExpiresAt:   now.Add(e.config.OTP.Expiry).Unix(),
	}

	replaced, err := e.otps.Put(ctx, challenge, e.config.OTP.Expiry)
	if err != nil {
		e.metricInc(MetricBackendError)
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	e.dispatchCode(challenge.ID, phone, code)

	details := map[string]string{"challenge_id": challenge.ID}
	if replaced != "" {
		details["replaced_challenge_id"] = replaced
	}
	e.metricInc(MetricOTPRequested)
	e.emitAudit(ctx, AuditActionOTPRequested, "", phone, AuditSuccess, details)

	return &OTPRequestResult{
		ChallengeID:         challenge.ID,
		ExpiresAt:           time.Unix(challenge.ExpiresAt, 0),
		ReplacedChallengeID: replaced,
		ResendsRemaining:    e.config.OTP.MaxResends,
	}, nil
}

// ResendOTP rotates the challenge's code, resets its attempt counter
// and restarts its expiry. A resend is a fresh chance, not an extension
// of a failing one. The challenge id stays the same.
func (e *Engine) ResendOTP(ctx context.Context, challengeID, phone string) (*OTPRequestResult, error) {
	if e == nil || e.otps == nil {
		return nil, ErrEngineNotReady
	}

	current, err := e.otps.Get(ctx, challengeID)
	if err != nil {
		return nil, e.mapOTPError(err)
	}
	if current.PhoneNumber != phone {
		return nil, ErrOTPPhoneMismatch
	}

	code, err := internal.NewOTPCode(e.config.OTP.CodeDigits)
	if err != nil {
		return nil, err
	}

	rotated, err := e.otps.Rotate(ctx, challengeID, internal.HashOTPCode(code),
		e.config.OTP.Expiry, e.config.OTP.MaxResends)
	if err != nil {
		if errors.Is(err, stores.ErrChallengeResendLimit) {
			e.emitAudit(ctx, AuditActionOTPResent, "", phone, AuditFailure, map[string]string{
				"challenge_id": challengeID,
				"reason":       "resend_limit",
			})
		}
		return nil, e.mapOTPError(err)
	}

	e.dispatchCode(challengeID, phone, code)

	e.metricInc(MetricOTPResent)
	e.emitAudit(ctx, AuditActionOTPResent, "", phone, AuditSuccess, map[string]string{
		"challenge_id": challengeID,
		"resend_count": strconv.Itoa(int(rotated.ResendCount)),
	})

	return &OTPRequestResult{
		ChallengeID:      challengeID,
		ExpiresAt:        time.Unix(rotated.ExpiresAt, 0),
		ResendsRemaining: e.config.OTP.MaxResends - int(rotated.ResendCount),
	}, nil
}

// VerifyOTP checks a code against its challenge without opening a
// session. Success marks the customer's phone verified and clears the
// number's request-throttle history, so the next cycle starts fresh.
func (e *Engine) VerifyOTP(ctx context.Context, req VerifyOTPRequest) error {
	if e == nil || e.otps == nil {
		return ErrEngineNotReady
	}
	_, err := e.consumeChallenge(ctx, req.ChallengeID, req.PhoneNumber, req.Code)
	return err
}

// LoginCustomer completes an OTP challenge and opens a customer
// session.
func (e *Engine) LoginCustomer(ctx context.Context, req CustomerLoginRequest) (*LoginResult, error) {
	if e == nil || e.otps == nil || e.customers == nil {
		return nil, ErrEngineNotReady
	}

	if _, err := e.consumeChallenge(ctx, req.ChallengeID, req.PhoneNumber, req.Code); err != nil {
		return nil, err
	}

	customer, err := e.customers.CustomerByPhone(ctx, req.PhoneNumber)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, ErrAccountNotFound
		}
		e.metricInc(MetricBackendError)
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if !customer.Active {
		return nil, ErrAccountInactive
	}

	result, err := e.createSession(ctx, customer.ID, RoleCustomer, req.RememberMe)
	if err != nil {
		e.metricInc(MetricBackendError)
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, AuditActionLogin, customer.ID, req.PhoneNumber, AuditSuccess, map[string]string{
		"role":        string(RoleCustomer),
		"remember_me": strconv.FormatBool(req.RememberMe),
	})
	return result, nil
}

// consumeChallenge runs one verification attempt and handles the
// success side effects shared by VerifyOTP and LoginCustomer.
func (e *Engine) consumeChallenge(ctx context.Context, challengeID, phone, code string) (*stores.OTPChallenge, error) {
	hash := internal.HashOTPCode(code)

	challenge, remaining, err := e.otps.Consume(ctx, challengeID, phone, hash, e.config.OTP.MaxAttempts)
	if err != nil {
		if errors.Is(err, stores.ErrChallengeCodeMismatch) {
			e.metricInc(MetricOTPFailed)
			e.emitAudit(ctx, AuditActionOTPFailed, "", phone, AuditFailure, map[string]string{
				"challenge_id": challengeID,
				"reason":       "invalid_code",
				"remaining":    strconv.Itoa(remaining),
			})
			return nil, &OTPMismatchError{RemainingAttempts: remaining}
		}

		mapped := e.mapOTPError(err)
		if !errors.Is(mapped, ErrBackendUnavailable) {
			e.metricInc(MetricOTPFailed)
			e.emitAudit(ctx, AuditActionOTPFailed, "", phone, AuditFailure, map[string]string{
				"challenge_id": challengeID,
				"reason":       otpFailureReason(mapped),
			})
		}
		return nil, mapped
	}

	if err := e.otpLimiter.Reset(ctx, phone); err != nil {
		e.noteFailOpen("otp_reset", err)
	}
	e.markPhoneVerified(ctx, phone)

	e.metricInc(MetricOTPVerified)
	e.emitAudit(ctx, AuditActionOTPVerified, "", phone, AuditSuccess, map[string]string{
		"challenge_id": challengeID,
	})
	return challenge, nil
}

func (e *Engine) markPhoneVerified(ctx context.Context, phone string) {
	if e.customers == nil {
		return
	}
	customer, err := e.customers.CustomerByPhone(ctx, phone)
	if err != nil || customer.PhoneVerified {
		return
	}
	if err := e.customers.MarkPhoneVerified(ctx, customer.ID); err != nil {
		e.logger.Warn("marking phone verified failed",
			slog.String("account_id", customer.ID),
			slog.Any("error", err),
		)
	}
}

// dispatchCode fires the outbound send detached from the request, with
// its own bounded deadline.
func (e *Engine) dispatchCode(challengeID, phone, code string) {
	timeout := e.config.Dispatch.Timeout
	sender := e.sender
	logger := e.logger

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		err := sender.Send(ctx, dispatch.Message{
			PhoneNumber: phone,
			Code:        code,
			ChallengeID: challengeID,
		})
		if err != nil {
			e.metricInc(MetricOTPDispatchFailure)
			logger.Warn("otp delivery failed",
				slog.String("challenge_id", challengeID),
				slog.Any("error", err),
			)
		}
	}()
}

func (e *Engine) mapOTPError(err error) error {
	switch {
	case errors.Is(err, stores.ErrChallengeNotFound):
		return ErrOTPNotFound
	case errors.Is(err, stores.ErrChallengeExpired):
		return ErrOTPExpired
	case errors.Is(err, stores.ErrChallengeAlreadyUsed):
		return ErrOTPAlreadyUsed
	case errors.Is(err, stores.ErrChallengeAttemptsExhausted):
		return ErrOTPAttemptsExhausted
	case errors.Is(err, stores.ErrChallengeResendLimit):
		return ErrOTPResendLimitExceeded
	case errors.Is(err, stores.ErrChallengePhoneMismatch):
		return ErrOTPPhoneMismatch
	default:
		e.metricInc(MetricBackendError)
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
}

func otpFailureReason(err error) string {
	switch {
	case errors.Is(err, ErrOTPNotFound):
		return "not_found"
	case errors.Is(err, ErrOTPExpired):
		return "expired"
	case errors.Is(err, ErrOTPAlreadyUsed):
		return "already_used"
	case errors.Is(err, ErrOTPAttemptsExhausted):
		return "attempts_exhausted"
	case errors.Is(err, ErrOTPPhoneMismatch):
		return "phone_mismatch"
	default:
		return "unknown"
	}
}
