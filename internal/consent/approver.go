package consent

import (
	"context"
	"log/slog"

	"github.com/pygate/pygate/internal/types"
)

// APIApprover surfaces requests through the HTTP API: Dispatch only
// announces the request, and the decision arrives later through
// Manager.Resolve when an operator posts it. The manager's pending list is
// the queue the API reads.
type APIApprover struct {
	logger *slog.Logger
}

// NewAPIApprover creates an approver backed by the consent API endpoints
func NewAPIApprover(logger *slog.Logger) *APIApprover {
	if logger == nil {
		logger = slog.Default()
	}
	return &APIApprover{logger: logger}
}

// Dispatch announces the request and returns; delivery is complete once the
// request is listed as pending
func (a *APIApprover) Dispatch(_ context.Context, req *types.ConsentRequest) error {
	a.logger.Info("consent request awaiting decision",
		"request_id", req.ID,
		"operation_kind", req.OperationKind,
		"subject", req.Subject,
		"author", req.Author,
		"expires_at", req.ExpiresAt)
	return nil
}
