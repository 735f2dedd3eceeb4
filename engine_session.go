package cafegate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/poscore/cafegate/internal"
	"github.com/poscore/cafegate/session"
)

// Validate classifies a token. A session is valid while now is inside
// its absolute expiry and, for non-remember-me sessions, within the
// inactivity bound of its last activity. Remember-me sessions are
// exempt from the inactivity rule; their absolute ceiling is the only
// bound. Either kind of expiry deletes the record and is audited with
// its reason.
func (e *Engine) Validate(ctx context.Context, token string) (*SessionInfo, error) {
	if e == nil || e.sessions == nil {
		return nil, ErrEngineNotReady
	}

	sess, err := e.sessions.Get(ctx, token)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return nil, ErrSessionNotFound
		}
		e.metricInc(MetricBackendError)
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	now := e.clock()

	if now.Unix() > sess.ExpiresAt {
		e.expireSession(ctx, sess, "timeout", 0)
		e.metricInc(MetricSessionExpiredTimeout)
		return nil, ErrSessionExpiredTimeout
	}

	if !sess.RememberMe {
		inactive := now.Sub(time.Unix(sess.LastActivityAt, 0))
		if inactive > e.config.Session.InactivityTimeout {
			e.expireSession(ctx, sess, "inactivity", inactive)
			e.metricInc(MetricSessionExpiredInactivity)
			return nil, ErrSessionExpiredInactivity
		}
	}

	e.metricInc(MetricValidateSuccess)
	return sessionInfo(sess), nil
}

// Refresh marks activity on a valid session. It moves only the
// last-activity clock; the absolute expiry never extends. Expired
// sessions are classified exactly as Validate would.
func (e *Engine) Refresh(ctx context.Context, token string) error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}

	if _, err := e.Validate(ctx, token); err != nil {
		return err
	}

	err := e.sessions.Touch(ctx, token, e.clock())
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return ErrSessionNotFound
		}
		e.metricInc(MetricBackendError)
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// Logout invalidates one session.
func (e *Engine) Logout(ctx context.Context, token string) error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}

	sess, err := e.sessions.Get(ctx, token)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return ErrSessionNotFound
		}
		e.metricInc(MetricBackendError)
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	if err := e.sessions.Delete(ctx, token); err != nil {
		e.metricInc(MetricBackendError)
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	e.metricInc(MetricLogout)
	e.emitAudit(ctx, AuditActionLogout, sess.AccountID, "", AuditSuccess, nil)
	return nil
}

// LogoutAll invalidates every session of an account, optionally sparing
// one token. Used on explicit logout-everywhere, password change and
// account deactivation.
func (e *Engine) LogoutAll(ctx context.Context, accountID, exceptToken string) (int, error) {
	if e == nil || e.sessions == nil {
		return 0, ErrEngineNotReady
	}

	deleted, err := e.sessions.DeleteAllForAccount(ctx, accountID, exceptToken)
	if err != nil {
		e.metricInc(MetricBackendError)
		return 0, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, AuditActionLogoutAll, accountID, "", AuditSuccess, map[string]string{
		"deleted": strconv.Itoa(deleted),
	})
	return deleted, nil
}

// ActiveSessions lists the account's live sessions newest-first.
func (e *Engine) ActiveSessions(ctx context.Context, accountID string) ([]*SessionInfo, error) {
	if e == nil || e.sessions == nil {
		return nil, ErrEngineNotReady
	}

	sessions, err := e.sessions.Active(ctx, accountID)
	if err != nil {
		e.metricInc(MetricBackendError)
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	infos := make([]*SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		infos = append(infos, sessionInfo(sess))
	}
	return infos, nil
}

// CleanupExpired sweeps absolutely expired session records and repairs
// account indexes. Inactivity expiry is evaluated at validation time
// and needs no sweep.
func (e *Engine) CleanupExpired(ctx context.Context) (int, error) {
	if e == nil || e.sessions == nil {
		return 0, ErrEngineNotReady
	}

	removed, err := e.sessions.CleanupExpired(ctx)
	if err != nil {
		e.metricInc(MetricBackendError)
		return removed, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return removed, nil
}

// createSession mints a token, persists the record and enforces the
// role's concurrency cap, always preserving the new token.
func (e *Engine) createSession(ctx context.Context, accountID string, role Role, rememberMe bool) (*LoginResult, error) {
	token, err := internal.NewSessionToken()
	if err != nil {
		return nil, err
	}

	ttl := e.config.Session.ShortLived
	if rememberMe {
		ttl = e.config.Session.RememberMe
	}

	now := e.clock()
	sess := &session.Session{
		Token:          token,
		AccountID:      accountID,
		Role:           string(role),
		RememberMe:     rememberMe,
		CreatedAt:      now.Unix(),
		ExpiresAt:      now.Add(ttl).Unix(),
		LastActivityAt: now.Unix(),
	}

	if err := e.sessions.Save(ctx, sess, ttl); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	var evicted int
	if limit := e.capFor(role); limit > 0 {
		evicted, err = e.sessions.EnforceCap(ctx, accountID, token, limit)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		if evicted > 0 {
			e.metrics.Add(MetricSessionEvicted, uint64(evicted))
		}
	}

	e.metricInc(MetricSessionCreated)
	return &LoginResult{
		Token:           token,
		AccountID:       accountID,
		Role:            role,
		ExpiresAt:       time.Unix(sess.ExpiresAt, 0),
		RememberMe:      rememberMe,
		EvictedSessions: evicted,
	}, nil
}

// capFor returns the concurrency cap for a role; zero means uncapped.
func (e *Engine) capFor(role Role) int {
	switch role {
	case RoleOwner:
		return e.config.Session.OwnerCap
	case RoleCashier:
		return e.config.Session.CashierCap
	default:
		return 0
	}
}

// expireSession deletes an expired record and audits the expiry with
// its reason. Deletion failure is logged only; the caller has already
// refused the token.
func (e *Engine) expireSession(ctx context.Context, sess *session.Session, reason string, inactive time.Duration) {
	if err := e.sessions.Delete(ctx, sess.Token); err != nil {
		e.logger.Warn("expired session cleanup failed", "error", err)
	}

	details := map[string]string{"expiration_reason": reason}
	if reason == "inactivity" {
		details["minutes_inactive"] = strconv.Itoa(int(inactive.Minutes()))
	}
	e.emitAudit(ctx, AuditActionSessionExpired, sess.AccountID, "", AuditFailure, details)
}

func sessionInfo(sess *session.Session) *SessionInfo {
	return &SessionInfo{
		Token:          sess.Token,
		AccountID:      sess.AccountID,
		Role:           Role(sess.Role),
		RememberMe:     sess.RememberMe,
		CreatedAt:      time.Unix(sess.CreatedAt, 0),
		ExpiresAt:      time.Unix(sess.ExpiresAt, 0),
		LastActivityAt: time.Unix(sess.LastActivityAt, 0),
	}
}
