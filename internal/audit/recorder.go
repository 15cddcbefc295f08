package audit

import (
	"context"
	"time"

	"github.com/nerrad567/sessiond/internal/auth"
	"github.com/nerrad567/sessiond/internal/infrastructure/logging"
)

// writeTimeout bounds a single audit insert.
const writeTimeout = 2 * time.Second

// Recorder persists security events as audit entries.
type Recorder struct {
	repo   Repository
	source string
	logger *logging.Logger
	now    func() time.Time
}

// NewRecorder creates a Recorder. source identifies this node in each entry.
func NewRecorder(repo Repository, source string, logger *logging.Logger) *Recorder {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Recorder{repo: repo, source: source, logger: logger, now: time.Now}
}

// RecordSecurityEvent implements auth.EventRecorder. Failures are logged.
func (r *Recorder) RecordSecurityEvent(ctx context.Context, event auth.SecurityEvent) {
	entry := &Entry{
		Action:    event.Type,
		AccountID: event.AccountID,
		Actor:     event.Actor,
		Outcome:   event.Outcome,
		Source:    r.source,
		Details:   details(event),
		CreatedAt: r.now(),
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	if err := r.repo.Create(wctx, entry); err != nil {
		r.logger.Warn("writing audit entry failed",
			"action", event.Type,
			"account_id", event.AccountID,
			"error", err,
		)
	}
}

func details(event auth.SecurityEvent) map[string]any {
	d := make(map[string]any, 3)
	if event.CredentialID != "" {
		d["credential_id"] = event.CredentialID
	}
	if event.Reason != "" {
		d["reason"] = event.Reason
	}
	if event.Policy != "" {
		d["policy"] = event.Policy
	}
	return d
}
