package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pygate/pygate/internal/audit"
	"github.com/pygate/pygate/internal/config"
	pgerrors "github.com/pygate/pygate/internal/errors"
	"github.com/pygate/pygate/internal/observability"
	"github.com/pygate/pygate/internal/policy"
	"github.com/pygate/pygate/internal/scan"
	"github.com/pygate/pygate/internal/statestore"
	"github.com/pygate/pygate/internal/types"
)

// Outcome is the terminal state of one gated operation
type Outcome string

const (
	OutcomeExecuted Outcome = "executed"
	OutcomeRejected Outcome = "rejected"
)

// Request is one operation asking to pass the gate
type Request struct {
	OperationKind types.OperationKind
	Subject       string
	Author        string
	Source        string
}

// Result is the terminal report for one gated operation. Exactly one audit
// entry has been written by the time a Result is returned.
type Result struct {
	Outcome        Outcome          `json:"outcome"`
	Scan           types.ScanResult `json:"scan"`
	ConsentOutcome string           `json:"consent_outcome,omitempty"`
	RejectReason   string           `json:"reject_reason,omitempty"`
}

// Pipeline runs every operation through the same stages regardless of entry
// point: scan, policy, consent, then commit. No stage is skippable and no
// operation reaches the session without a terminal audit entry.
type Pipeline struct {
	logger  *slog.Logger
	scanner scan.Scanner
	policy  *policy.Holder
	consent ConsentGate
	auditor *audit.Recorder
	rules   *config.Store
	cells   CellStore
	metrics *observability.Metrics
}

// ConsentGate is the consent handshake the pipeline blocks on for operations
// that pass scanning
type ConsentGate interface {
	Request(ctx context.Context, kind types.OperationKind, subject, author, payload string) (types.ConsentStatus, error)
}

// NewPipeline wires the gating stages together
func NewPipeline(logger *slog.Logger, scanner scan.Scanner, engines *policy.Holder, consent ConsentGate, auditor *audit.Recorder, rules *config.Store, cells CellStore) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		logger:  logger,
		scanner: scanner,
		policy:  engines,
		consent: consent,
		auditor: auditor,
		rules:   rules,
		cells:   cells,
		metrics: observability.GetMetrics(),
	}
}

// ExecuteCell gates a request to run source in the session. On approval the
// content is committed to the cell store.
func (p *Pipeline) ExecuteCell(ctx context.Context, cellID string, req Request) (*Result, error) {
	req.OperationKind = types.OpExecuteCell
	result, err := p.gate(ctx, req, req.Source)
	if err != nil {
		return result, err
	}

	if err := p.cells.Put(ctx, cellID, req.Source); err != nil {
		// Approved but uncommittable. Still audited as rejected so the
		// trail matches what the session actually ran.
		p.record(ctx, req, result.Scan, result.ConsentOutcome, OutcomeRejected)
		return nil, err
	}

	p.record(ctx, req, result.Scan, result.ConsentOutcome, OutcomeExecuted)
	result.Outcome = OutcomeExecuted
	return result, nil
}

// PatchCell gates a request to modify an existing cell. The scan runs over
// the full content the cell would hold after the patch, never over the patch
// fragment alone. When the current content cannot be fetched the operation is
// rejected as unscannable, which is reported distinctly from a block.
func (p *Pipeline) PatchCell(ctx context.Context, req Request, patch Patch) (*Result, error) {
	req.OperationKind = types.OpPatchCell
	if req.Subject == "" {
		req.Subject = patch.CellID
	}

	current, err := p.cells.Get(ctx, patch.CellID)
	if err != nil {
		p.logger.Warn("patch target content unavailable, rejecting",
			"cell_id", patch.CellID,
			"error", err)
		p.record(ctx, req, types.ScanResult{}, "", OutcomeRejected)
		return nil, fmt.Errorf("%w: %v", pgerrors.ErrScanUnavailable, err)
	}

	resulting, err := ApplyPatch(current, patch)
	if err != nil {
		p.record(ctx, req, types.ScanResult{}, "", OutcomeRejected)
		return nil, err
	}

	req.Source = resulting
	result, err := p.gate(ctx, req, resulting)
	if err != nil {
		return result, err
	}

	if err := p.cells.Put(ctx, patch.CellID, resulting); err != nil {
		p.record(ctx, req, result.Scan, result.ConsentOutcome, OutcomeRejected)
		return nil, err
	}

	p.record(ctx, req, result.Scan, result.ConsentOutcome, OutcomeExecuted)
	result.Outcome = OutcomeExecuted
	return result, nil
}

// GateSource runs the scan/policy/consent stages for callers that commit
// elsewhere (tool registration). The caller records the final audit entry via
// RecordOutcome once its own commit has succeeded or failed.
func (p *Pipeline) GateSource(ctx context.Context, req Request) (*Result, error) {
	return p.gate(ctx, req, req.Source)
}

// RecordOutcome writes the terminal audit entry for a result produced by
// GateSource and stamps the outcome onto the result
func (p *Pipeline) RecordOutcome(ctx context.Context, req Request, result *Result, outcome Outcome) {
	var scanResult types.ScanResult
	var consentOutcome string
	if result != nil {
		result.Outcome = outcome
		scanResult = result.Scan
		consentOutcome = result.ConsentOutcome
	}
	p.record(ctx, req, scanResult, consentOutcome, outcome)
}

// gate runs scan, policy and consent over source. On rejection it writes the
// audit entry itself and returns the causal error; on success it returns a
// result whose audit entry the caller writes after committing.
func (p *Pipeline) gate(ctx context.Context, req Request, source string) (*Result, error) {
	rules := p.rules.Rules()

	scanStart := time.Now()
	findings := p.scanner.Scan(source)
	p.metrics.ScansTotal.Inc()

	for _, f := range findings {
		p.metrics.FindingsTotal.WithLabelValues(string(f.Severity), string(f.Category)).Inc()
	}

	decision, err := p.policy.Engine().Evaluate(req.Subject, findings, rules.Suppressions)
	p.metrics.ScanDuration.Observe(time.Since(scanStart).Seconds())
	if err != nil {
		// A broken policy fails closed
		p.logger.Error("policy evaluation failed, rejecting",
			"subject", req.Subject,
			"error", err)
		p.record(ctx, req, types.ScanResult{Findings: findings}, "", OutcomeRejected)
		return nil, pgerrors.NewPermanentf("policy evaluation failed: %w", err)
	}

	scanResult := types.ScanResult{
		IsClean:     decision.IsClean,
		Blocked:     decision.Blocked,
		BlockReason: decision.Reason,
		Unsafe:      decision.Unsafe,
		Findings:    findings,
	}

	result := &Result{Scan: scanResult}

	if decision.Blocked {
		p.metrics.ScansBlocked.Inc()
		p.metrics.PolicyBlocked.Inc()
		p.logger.Warn("operation blocked by scan",
			"operation_kind", req.OperationKind,
			"subject", req.Subject,
			"author", req.Author,
			"reason", decision.Reason)

		p.record(ctx, req, scanResult, "", OutcomeRejected)
		result.Outcome = OutcomeRejected
		result.RejectReason = decision.Reason

		var triggering types.Finding
		if decision.Triggering != nil {
			triggering = *decision.Triggering
		}
		return result, pgerrors.NewBlocked(triggering, decision.Reason)
	}
	p.metrics.PolicyAllowed.Inc()

	status, err := p.consent.Request(ctx, req.OperationKind, req.Subject, req.Author, source)
	result.ConsentOutcome = string(status)
	if err != nil {
		reason := pgerrors.ConsentReason(err)
		if reason == "" {
			reason = err.Error()
		}
		p.logger.Info("operation rejected by consent",
			"operation_kind", req.OperationKind,
			"subject", req.Subject,
			"reason", reason)

		p.record(ctx, req, scanResult, string(status), OutcomeRejected)
		result.Outcome = OutcomeRejected
		result.RejectReason = reason
		return result, err
	}

	return result, nil
}

// record writes exactly one audit entry for a terminal outcome. Audit
// failures are handled inside the recorder and never surface here.
func (p *Pipeline) record(ctx context.Context, req Request, scanResult types.ScanResult, consentOutcome string, outcome Outcome) {
	summary := statestore.ScanSummary{
		IsClean:     scanResult.IsClean,
		Blocked:     scanResult.Blocked,
		BlockReason: scanResult.BlockReason,
	}
	for _, f := range scanResult.Findings {
		switch f.Severity {
		case types.SeverityCritical:
			summary.CriticalCount++
		case types.SeverityHigh:
			summary.HighCount++
		case types.SeverityMedium:
			summary.MediumCount++
		case types.SeverityLow:
			summary.LowCount++
		}
	}

	p.auditor.Record(ctx, &statestore.AuditEntry{
		Timestamp:      time.Now().UTC(),
		Actor:          req.Author,
		OperationKind:  req.OperationKind,
		Subject:        req.Subject,
		ScanSummary:    summary,
		ConsentOutcome: consentOutcome,
		Outcome:        string(outcome),
	})
	p.metrics.PipelineOutcomes.WithLabelValues(string(outcome), string(req.OperationKind)).Inc()
}

// IsRejection reports whether err is a terminal gate rejection rather than an
// infrastructure failure
func IsRejection(err error) bool {
	return pgerrors.IsBlocked(err) ||
		errors.Is(err, pgerrors.ErrConsentDeclined) ||
		errors.Is(err, pgerrors.ErrConsentTimedOut) ||
		errors.Is(err, pgerrors.ErrConsentChannelClosed) ||
		errors.Is(err, pgerrors.ErrConsentCancelled) ||
		errors.Is(err, pgerrors.ErrNoApprover)
}
