package consent

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	pgerrors "github.com/pygate/pygate/internal/errors"
	"github.com/pygate/pygate/internal/observability"
	"github.com/pygate/pygate/internal/statestore"
	"github.com/pygate/pygate/internal/types"
)

// DefaultTimeout is the consent deadline used when none is configured
const DefaultTimeout = 5 * time.Minute

// maxPayloadPreview caps how much of the candidate source is shown to the
// approver
const maxPayloadPreview = 2000

// Approver delivers a consent request to whoever can decide it. Dispatch
// returns once the request is on its way; the decision arrives later through
// Manager.Resolve.
type Approver interface {
	Dispatch(ctx context.Context, req *types.ConsentRequest) error
}

// ModeSource provides the current session mode. Read fresh at the start of
// every request so a mode flip applies to the next operation, never
// retroactively to one already awaiting a decision.
type ModeSource interface {
	Mode() types.Mode
}

// TimeoutSource provides the current consent deadline
type TimeoutSource func() time.Duration

// pendingRequest is one request awaiting a decision
type pendingRequest struct {
	req       *types.ConsentRequest
	decisions chan types.ConsentDecision
}

// Manager owns the consent state machine. Each request moves
// created -> awaiting_decision -> approved | declined | timed_out, and a
// decision arriving after the terminal transition is discarded.
type Manager struct {
	logger   *slog.Logger
	approver Approver
	mode     ModeSource
	timeout  TimeoutSource
	grants   statestore.GrantStore
	metrics  *observability.Metrics

	mu      sync.Mutex
	pending map[string]*pendingRequest
	closed  bool
}

// NewManager creates a consent manager. approver may be nil, in which case
// every consent-required request is declined rather than silently approved.
func NewManager(logger *slog.Logger, approver Approver, mode ModeSource, timeout TimeoutSource, grants statestore.GrantStore) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout == nil {
		timeout = func() time.Duration { return DefaultTimeout }
	}
	return &Manager{
		logger:   logger,
		approver: approver,
		mode:     mode,
		timeout:  timeout,
		grants:   grants,
		metrics:  observability.GetMetrics(),
		pending:  make(map[string]*pendingRequest),
	}
}

// Request asks for consent to perform one operation and blocks until a
// terminal outcome. It returns nil on approval and a sentinel error
// (ErrConsentDeclined, ErrConsentTimedOut, ErrConsentChannelClosed,
// ErrConsentCancelled, ErrNoApprover) otherwise. The returned status string
// names the outcome for the audit trail.
func (m *Manager) Request(ctx context.Context, kind types.OperationKind, subject, author, payload string) (types.ConsentStatus, error) {
	// Auto-approve mode skips the handshake entirely
	if m.mode != nil && m.mode.Mode() == types.ModeAutoApprove {
		m.metrics.ConsentAutoApproved.Inc()
		m.logger.Info("consent auto-approved",
			"operation_kind", kind,
			"subject", subject,
			"author", author)
		return types.ConsentApproved, nil
	}

	// An always-allow grant short-circuits before any approver contact
	if m.grants != nil && author != "" {
		granted, err := m.grants.GetGrant(ctx, author, kind)
		if err != nil {
			m.logger.Warn("grant lookup failed, falling through to consent",
				"error", err,
				"author", author,
				"operation_kind", kind)
		} else if granted {
			m.metrics.ConsentGrantHits.Inc()
			m.logger.Info("consent satisfied by always-allow grant",
				"author", author,
				"operation_kind", kind,
				"subject", subject)
			return types.ConsentApproved, nil
		}
	}

	if m.approver == nil {
		m.logger.Warn("no approver configured, declining",
			"operation_kind", kind,
			"subject", subject)
		m.metrics.ConsentOutcomes.WithLabelValues(string(types.ConsentDeclined)).Inc()
		return types.ConsentDeclined, pgerrors.ErrNoApprover
	}

	timeout := m.timeout()
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	now := time.Now().UTC()
	req := &types.ConsentRequest{
		ID:             uuid.NewString(),
		OperationKind:  kind,
		Subject:        subject,
		Author:         author,
		PayloadPreview: truncate(payload, maxPayloadPreview),
		CreatedAt:      now,
		ExpiresAt:      now.Add(timeout),
	}

	pr := &pendingRequest{
		req:       req,
		decisions: make(chan types.ConsentDecision, 1),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.metrics.ConsentOutcomes.WithLabelValues(string(types.ConsentDeclined)).Inc()
		return types.ConsentDeclined, pgerrors.ErrConsentChannelClosed
	}
	m.pending[req.ID] = pr
	m.mu.Unlock()

	m.metrics.ConsentRequestsTotal.Inc()
	m.metrics.ConsentPendingCurrent.Inc()
	defer func() {
		m.mu.Lock()
		delete(m.pending, req.ID)
		m.mu.Unlock()
		m.metrics.ConsentPendingCurrent.Dec()
	}()

	m.logger.Info("consent requested",
		"request_id", req.ID,
		"operation_kind", kind,
		"subject", subject,
		"author", author,
		"expires_at", req.ExpiresAt)

	if err := m.approver.Dispatch(ctx, req); err != nil {
		m.logger.Warn("approver dispatch failed, declining",
			"request_id", req.ID,
			"error", err)
		m.metrics.ConsentOutcomes.WithLabelValues(string(types.ConsentDeclined)).Inc()
		return types.ConsentDeclined, pgerrors.ErrNoApprover
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	waitStart := time.Now()
	select {
	case decision, ok := <-pr.decisions:
		m.metrics.ConsentWaitSeconds.Observe(time.Since(waitStart).Seconds())
		if !ok {
			m.metrics.ConsentOutcomes.WithLabelValues(string(types.ConsentDeclined)).Inc()
			return types.ConsentDeclined, pgerrors.ErrConsentChannelClosed
		}
		return m.settle(ctx, req, decision)

	case <-timer.C:
		m.metrics.ConsentWaitSeconds.Observe(time.Since(waitStart).Seconds())
		m.metrics.ConsentOutcomes.WithLabelValues(string(types.ConsentTimedOut)).Inc()
		m.logger.Info("consent timed out",
			"request_id", req.ID,
			"timeout", timeout)
		return types.ConsentTimedOut, pgerrors.ErrConsentTimedOut

	case <-ctx.Done():
		m.metrics.ConsentWaitSeconds.Observe(time.Since(waitStart).Seconds())
		m.metrics.ConsentOutcomes.WithLabelValues(string(types.ConsentDeclined)).Inc()
		m.logger.Info("consent cancelled by caller",
			"request_id", req.ID)
		return types.ConsentDeclined, pgerrors.ErrConsentCancelled
	}
}

// settle turns a received decision into the terminal outcome, persisting an
// always-allow grant on approval when asked to.
func (m *Manager) settle(ctx context.Context, req *types.ConsentRequest, decision types.ConsentDecision) (types.ConsentStatus, error) {
	if !decision.Approved {
		m.metrics.ConsentOutcomes.WithLabelValues(string(types.ConsentDeclined)).Inc()
		m.logger.Info("consent declined",
			"request_id", req.ID,
			"reason", decision.Reason)
		return types.ConsentDeclined, pgerrors.ErrConsentDeclined
	}

	// The grant is persisted before the approval is returned so a crash
	// after approval cannot lose it
	if decision.AlwaysAllow && m.grants != nil && req.Author != "" {
		if err := m.grants.SetGrant(ctx, req.Author, req.OperationKind); err != nil {
			m.logger.Error("failed to persist always-allow grant",
				"error", err,
				"author", req.Author,
				"operation_kind", req.OperationKind)
		} else {
			m.logger.Info("always-allow grant recorded",
				"author", req.Author,
				"operation_kind", req.OperationKind)
		}
	}

	m.metrics.ConsentOutcomes.WithLabelValues(string(types.ConsentApproved)).Inc()
	m.logger.Info("consent approved",
		"request_id", req.ID,
		"always_allow", decision.AlwaysAllow)
	return types.ConsentApproved, nil
}

// Resolve delivers a decision for an outstanding request. Decisions for
// unknown or already-settled requests are discarded, so a late approval can
// never resurrect a timed-out operation.
func (m *Manager) Resolve(decision types.ConsentDecision) bool {
	m.mu.Lock()
	pr, ok := m.pending[decision.RequestID]
	if ok {
		// Remove immediately so a second decision for the same id is a no-op
		delete(m.pending, decision.RequestID)
	}
	m.mu.Unlock()

	if !ok {
		m.logger.Debug("decision for unknown or settled request discarded",
			"request_id", decision.RequestID)
		return false
	}

	if decision.DecidedAt.IsZero() {
		decision.DecidedAt = time.Now().UTC()
	}

	select {
	case pr.decisions <- decision:
		return true
	default:
		return false
	}
}

// Pending lists requests currently awaiting a decision
func (m *Manager) Pending() []*types.ConsentRequest {
	m.mu.Lock()
	defer m.mu.Unlock()

	reqs := make([]*types.ConsentRequest, 0, len(m.pending))
	for _, pr := range m.pending {
		reqs = append(reqs, pr.req)
	}
	return reqs
}

// Close tears down the manager. Every outstanding request is declined with a
// channel-closed outcome; nothing is left hanging until its timeout.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	pending := m.pending
	m.pending = make(map[string]*pendingRequest)
	m.mu.Unlock()

	for id, pr := range pending {
		close(pr.decisions)
		m.logger.Info("outstanding consent request closed",
			"request_id", id)
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
