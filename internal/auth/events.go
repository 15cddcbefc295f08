package auth

import "context"

// Security event types.
const (
	EventLogin          = "login"
	EventLoginFailed    = "login_failed"
	EventRefresh        = "refresh"
	EventRefreshFailed  = "refresh_failed"
	EventReuseDetected  = "reuse_detected"
	EventRevoke         = "revoke"
	EventStampMismatch  = "stamp_mismatch"
	EventLogout         = "logout"
	EventAccountChanged = "account_changed"
	EventRoleChanged    = "role_changed"
)

// SecurityEvent is one security-relevant transition. It never carries
// secrets or fingerprints.
type SecurityEvent struct {
	Type         string
	AccountID    string
	CredentialID string
	Reason       string
	Policy       string
	Outcome      string
	Actor        string
}

// EventRecorder receives security events. Implementations must not block
// for long and must not fail the caller; errors are theirs to log.
type EventRecorder interface {
	RecordSecurityEvent(ctx context.Context, event SecurityEvent)
}

type nopRecorder struct{}

func (nopRecorder) RecordSecurityEvent(context.Context, SecurityEvent) {}

// MultiRecorder fans an event out to several recorders in order.
type MultiRecorder []EventRecorder

// RecordSecurityEvent implements EventRecorder.
func (m MultiRecorder) RecordSecurityEvent(ctx context.Context, event SecurityEvent) {
	for _, r := range m {
		if r != nil {
			r.RecordSecurityEvent(ctx, event)
		}
	}
}

// SecurityEventWriter is satisfied by the InfluxDB client.
type SecurityEventWriter interface {
	WriteSecurityEvent(event, outcome, accountID string, extra map[string]any)
}

// PointEventRecorder writes events as time-series points.
type PointEventRecorder struct {
	writer SecurityEventWriter
}

// NewPointEventRecorder wraps a point writer.
func NewPointEventRecorder(w SecurityEventWriter) *PointEventRecorder {
	return &PointEventRecorder{writer: w}
}

// RecordSecurityEvent implements EventRecorder.
func (r *PointEventRecorder) RecordSecurityEvent(_ context.Context, event SecurityEvent) {
	extra := make(map[string]any, 4)
	if event.CredentialID != "" {
		extra["credential_id"] = event.CredentialID
	}
	if event.Reason != "" {
		extra["reason"] = event.Reason
	}
	if event.Policy != "" {
		extra["policy"] = event.Policy
	}
	if event.Actor != "" {
		extra["actor"] = event.Actor
	}
	r.writer.WriteSecurityEvent(event.Type, event.Outcome, event.AccountID, extra)
}
