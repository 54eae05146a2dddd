package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	pgerrors "github.com/pygate/pygate/internal/errors"
	"github.com/pygate/pygate/internal/observability"
	"github.com/pygate/pygate/internal/statestore"
)

// Recorder writes audit entries for every terminal pipeline outcome. A sink
// failure never propagates to the caller and never blocks or rejects the
// operation being audited; it is logged, counted and surfaced on Errors().
type Recorder struct {
	logger  *slog.Logger
	store   statestore.AuditStore
	metrics *observability.Metrics
	errCh   chan error
}

// NewRecorder creates a recorder backed by the given audit store
func NewRecorder(logger *slog.Logger, store statestore.AuditStore) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		logger:  logger,
		store:   store,
		metrics: observability.GetMetrics(),
		errCh:   make(chan error, 16),
	}
}

// Errors exposes sink write failures for health monitoring. Sends are
// non-blocking; a slow or absent consumer drops errors rather than stalling
// the pipeline.
func (r *Recorder) Errors() <-chan error {
	return r.errCh
}

// Record appends one audit entry. It always returns; the caller must not
// gate execution on the result of auditing.
func (r *Recorder) Record(ctx context.Context, entry *statestore.AuditEntry) {
	if entry == nil {
		return
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	if err := r.store.AppendAudit(ctx, entry); err != nil {
		r.metrics.AuditWriteErrors.Inc()
		r.logger.Error("audit write failed",
			"error", err,
			"actor", entry.Actor,
			"operation_kind", entry.OperationKind,
			"outcome", entry.Outcome)

		select {
		case r.errCh <- fmt.Errorf("%w: %v", pgerrors.ErrAuditWrite, err):
		default:
		}
		return
	}

	r.metrics.AuditEntriesTotal.Inc()
	r.logger.Debug("audit entry recorded",
		"actor", entry.Actor,
		"operation_kind", entry.OperationKind,
		"outcome", entry.Outcome)
}
