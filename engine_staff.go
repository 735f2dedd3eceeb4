package cafegate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
)

// LoginStaff authenticates a staff credential pair and opens a session.
//
// Unknown usernames and wrong passwords both come back as
// ErrInvalidCredentials; the audit trail records which case occurred.
// Failed attempts count against the request fingerprint in a sliding
// window, and the attempt that reaches the threshold arms a hard lock.
// A successful login clears the fingerprint's history.
func (e *Engine) LoginStaff(ctx context.Context, req StaffLoginRequest) (*LoginResult, error) {
	if e == nil || e.staff == nil {
		return nil, ErrEngineNotReady
	}

	identifier := req.Fingerprint
	if identifier == "" {
		identifier = req.Username
	}

	dec, limErr := e.loginLimiter.Check(ctx, identifier)
	e.noteFailOpen("login_check", limErr)
	if !dec.Allowed {
		e.metricInc(MetricLoginRateLimited)
		e.emitAudit(ctx, AuditActionFailedLogin, "", req.Username, AuditFailure, map[string]string{
			"reason":      "rate_limited",
			"locked":      strconv.FormatBool(dec.Locked),
			"retry_after": dec.RetryAfter.String(),
		})
		return nil, &RateLimitedError{RetryAfter: dec.RetryAfter, Locked: dec.Locked}
	}

	account, err := e.staff.StaffByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			e.recordFailedLogin(ctx, identifier, req.Username, "user_not_found")
			return nil, ErrInvalidCredentials
		}
		e.metricInc(MetricBackendError)
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	if !account.Active {
		e.recordFailedLogin(ctx, identifier, req.Username, "user_inactive")
		return nil, ErrAccountInactive
	}

	match, err := e.hasher.Verify(req.Password, account.PasswordHash)
	if err != nil {
		// A hash we cannot parse is stored-data corruption; it still
		// must not authenticate anyone.
		e.logger.Error("stored password hash unreadable",
			slog.String("account_id", account.ID),
			slog.Any("error", err),
		)
		e.recordFailedLogin(ctx, identifier, req.Username, "invalid_password")
		return nil, ErrInvalidCredentials
	}
	if !match {
		e.recordFailedLogin(ctx, identifier, req.Username, "invalid_password")
		return nil, ErrInvalidCredentials
	}

	if err := e.loginLimiter.Reset(ctx, identifier); err != nil {
		e.noteFailOpen("login_reset", err)
	}

	e.maybeUpgradeHash(ctx, account, req.Password)

	result, err := e.createSession(ctx, account.ID, account.Role, req.RememberMe)
	if err != nil {
		e.metricInc(MetricBackendError)
		e.emitAudit(ctx, AuditActionFailedLogin, account.ID, req.Username, AuditFailure, map[string]string{
			"reason": "session_create_failed",
		})
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, AuditActionLogin, account.ID, req.Username, AuditSuccess, map[string]string{
		"role":        string(account.Role),
		"remember_me": strconv.FormatBool(req.RememberMe),
		"evicted":     strconv.Itoa(result.EvictedSessions),
	})
	return result, nil
}

// recordFailedLogin charges one attempt to the fingerprint and audits
// the failure with its internal reason.
func (e *Engine) recordFailedLogin(ctx context.Context, identifier, username, reason string) {
	dec, err := e.loginLimiter.Record(ctx, identifier)
	e.noteFailOpen("login_record", err)

	details := map[string]string{"reason": reason}
	if dec.Locked {
		details["locked"] = "true"
		details["lock_duration"] = dec.RetryAfter.String()
	}

	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, AuditActionFailedLogin, "", username, AuditFailure, details)
}

// maybeUpgradeHash rewrites the stored hash when it was minted with
// weaker cost parameters than the current ones. Best effort only.
func (e *Engine) maybeUpgradeHash(ctx context.Context, account *StaffAccount, plaintext string) {
	if !e.config.Password.UpgradeOnLogin {
		return
	}

	upgrade, err := e.hasher.NeedsUpgrade(account.PasswordHash)
	if err != nil || !upgrade {
		return
	}

	rehashed, err := e.hasher.Hash(plaintext)
	if err != nil {
		return
	}
	if err := e.staff.UpdatePasswordHash(ctx, account.ID, rehashed); err != nil {
		e.logger.Warn("password hash upgrade failed",
			slog.String("account_id", account.ID),
			slog.Any("error", err),
		)
		return
	}
	e.metricInc(MetricPasswordUpgraded)
}
