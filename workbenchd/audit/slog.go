package audit

import (
	"context"

	"cdr.dev/slog"
)

// SlogExporter writes audit records to a structured logger. It is the
// default sink when no external audit store is wired.
type SlogExporter struct {
	log slog.Logger
}

var _ Auditor = (*SlogExporter)(nil)

// NewSlogExporter returns a logger-backed auditor.
func NewSlogExporter(log slog.Logger) *SlogExporter {
	return &SlogExporter{log: log.Named("audit")}
}

func (e *SlogExporter) Export(ctx context.Context, alog Log) error {
	e.log.Info(ctx, "audit",
		slog.F("id", alog.ID),
		slog.F("time", alog.Time),
		slog.F("subject", alog.Subject.UID),
		slog.F("system", alog.Subject.System),
		slog.F("action", alog.Action),
		slog.F("study_id", alog.StudyID),
		slog.F("users_to_add", len(alog.Request.UsersToAdd)),
		slog.F("users_to_remove", len(alog.Request.UsersToRemove)),
		slog.F("succeeded", alog.Succeeded),
		slog.F("failed_environments", alog.FailedEnvironments),
	)
	return nil
}
