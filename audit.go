package cafegate

import (
	"io"

	"github.com/poscore/cafegate/internal/audit"
)

// AuditEvent, AuditSink and AuditStatus re-export the audit contract so
// embedders implement sinks without importing the internal package.
type (
	AuditEvent  = audit.Event
	AuditSink   = audit.Sink
	AuditStatus = audit.Status
)

const (
	AuditSuccess = audit.StatusSuccess
	AuditFailure = audit.StatusFailure
)

// Audit action names, one per security-relevant outcome.
const (
	AuditActionLogin          = "login"
	AuditActionFailedLogin    = "failed_login"
	AuditActionOTPRequested   = "otp_requested"
	AuditActionOTPResent      = "otp_resent"
	AuditActionOTPVerified    = "otp_verified"
	AuditActionOTPFailed      = "otp_failed"
	AuditActionSessionExpired = "session_expired"
	AuditActionLogout         = "logout"
	AuditActionLogoutAll      = "logout_all"
)

// NewChannelAuditSink buffers events on a channel for test assertions
// and lightweight consumers.
func NewChannelAuditSink(buffer int) *audit.ChannelSink {
	return audit.NewChannelSink(buffer)
}

// NewJSONAuditSink writes one JSON-encoded event per line.
func NewJSONAuditSink(w io.Writer) *audit.JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}
