package cafegate

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/poscore/cafegate/dispatch"
	"github.com/poscore/cafegate/internal/audit"
	"github.com/poscore/cafegate/internal/rate"
	"github.com/poscore/cafegate/internal/stores"
	"github.com/poscore/cafegate/password"
	"github.com/poscore/cafegate/session"
)

// Engine is the access-control core. Build one through the Builder and
// share it; every method is safe for concurrent use.
type Engine struct {
	config    Config
	logger    *slog.Logger
	staff     StaffProvider
	customers CustomerProvider
	sender    dispatch.Sender
	hasher    *password.Hasher
	sessions  *session.Store
	otps      *stores.OTPStore

	loginLimiter *rate.Limiter
	otpLimiter   *rate.Limiter

	audit    *audit.Dispatcher
	metrics  *Metrics
	validate *validator.Validate

	// now is overridable in package tests.
	now func() time.Time
}

func (e *Engine) clock() time.Time {
	if e.now != nil {
		return e.now()
	}
	return time.Now()
}

// Close flushes and stops the audit dispatcher. The engine must not be
// used after Close.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports how many audit events the dispatcher discarded
// because its buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a point-in-time copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// emitAudit hands an event to the dispatcher. It never blocks and never
// fails the calling operation; with auditing disabled it is a no-op.
func (e *Engine) emitAudit(ctx context.Context, action, accountID, identifier string, status AuditStatus, details map[string]string) {
	if e == nil || e.audit == nil {
		return
	}
	e.audit.Emit(ctx, AuditEvent{
		ID:                  uuid.NewString(),
		Timestamp:           e.clock().UTC(),
		Action:              action,
		AccountID:           accountID,
		AttemptedIdentifier: identifier,
		Status:              status,
		Details:             details,
	})
}

// noteFailOpen logs and meters a limiter backend failure. The decision
// that arrives with it already allows the attempt.
func (e *Engine) noteFailOpen(op string, err error) {
	if err == nil {
		return
	}
	e.metricInc(MetricLimiterFailOpen)
	e.logger.Warn("rate limiter unavailable, failing open",
		slog.String("op", op),
		slog.Any("error", err),
	)
}
