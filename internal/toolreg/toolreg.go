package toolreg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Masterminds/semver/v3"

	pgerrors "github.com/pygate/pygate/internal/errors"
	"github.com/pygate/pygate/internal/gate"
	"github.com/pygate/pygate/internal/observability"
	"github.com/pygate/pygate/internal/statestore"
	"github.com/pygate/pygate/internal/types"
)

// Registry manages dynamically registered callables. Registration and update
// are gated operations: the tool source goes through the same scan, policy
// and consent pipeline as cell execution, and a tool that fails the gate is
// never stored.
type Registry struct {
	logger   *slog.Logger
	pipeline *gate.Pipeline
	store    statestore.ToolStore
	metrics  *observability.Metrics
}

// Registration is one request to register or update a tool
type Registration struct {
	Name    string `json:"name"`
	Author  string `json:"author"`
	Source  string `json:"source"`
	Version string `json:"version,omitempty"`
}

// NewRegistry creates a tool registry routed through the given pipeline
func NewRegistry(logger *slog.Logger, pipeline *gate.Pipeline, store statestore.ToolStore) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:   logger,
		pipeline: pipeline,
		store:    store,
		metrics:  observability.GetMetrics(),
	}
}

// Register gates and stores a new tool, or updates an existing one. The
// operation kind distinguishes the two so grants for registering tools do not
// silently cover rewriting them.
func (r *Registry) Register(ctx context.Context, reg Registration) (*statestore.ToolRecord, *gate.Result, error) {
	if err := r.validate(reg); err != nil {
		r.metrics.ToolRegistrations.WithLabelValues("rejected").Inc()
		return nil, nil, err
	}

	kind := types.OpToolRegister
	existing, err := r.store.GetTool(ctx, reg.Name)
	if err != nil && !errors.Is(err, statestore.ErrToolNotFound) {
		return nil, nil, err
	}
	if existing != nil {
		kind = types.OpToolUpdate
	}

	req := gate.Request{
		OperationKind: kind,
		Subject:       reg.Name,
		Author:        reg.Author,
		Source:        reg.Source,
	}

	// On rejection the pipeline has already written the audit entry
	result, err := r.pipeline.GateSource(ctx, req)
	if err != nil {
		r.metrics.ToolRegistrations.WithLabelValues("rejected").Inc()
		r.logger.Warn("tool registration rejected",
			"name", reg.Name,
			"author", reg.Author,
			"operation_kind", kind,
			"error", err)
		return nil, result, err
	}

	record := &statestore.ToolRecord{
		Name:    reg.Name,
		Author:  reg.Author,
		Source:  reg.Source,
		Version: reg.Version,
	}
	if err := r.store.SaveTool(ctx, record); err != nil {
		r.pipeline.RecordOutcome(ctx, req, result, gate.OutcomeRejected)
		r.metrics.ToolRegistrations.WithLabelValues("rejected").Inc()
		return nil, result, err
	}

	r.pipeline.RecordOutcome(ctx, req, result, gate.OutcomeExecuted)
	r.metrics.ToolRegistrations.WithLabelValues("registered").Inc()
	r.logger.Info("tool registered",
		"name", reg.Name,
		"author", reg.Author,
		"version", reg.Version,
		"operation_kind", kind)

	saved, err := r.store.GetTool(ctx, reg.Name)
	if err != nil {
		return record, result, nil
	}
	return saved, result, nil
}

// Get retrieves a registered tool by name
func (r *Registry) Get(ctx context.Context, name string) (*statestore.ToolRecord, error) {
	return r.store.GetTool(ctx, name)
}

// List returns all registered tools
func (r *Registry) List(ctx context.Context) ([]*statestore.ToolRecord, error) {
	return r.store.ListTools(ctx)
}

// Delete removes a tool. Removal is not a gated operation: taking a callable
// away cannot run code in the session.
func (r *Registry) Delete(ctx context.Context, name string) error {
	if err := r.store.DeleteTool(ctx, name); err != nil {
		return err
	}
	r.logger.Info("tool deleted", "name", name)
	return nil
}

func (r *Registry) validate(reg Registration) error {
	if reg.Name == "" {
		return fmt.Errorf("%w: tool name is required", pgerrors.ErrInvalidInput)
	}
	if reg.Author == "" {
		return fmt.Errorf("%w: tool author is required", pgerrors.ErrInvalidInput)
	}
	if reg.Source == "" {
		return fmt.Errorf("%w: tool source is required", pgerrors.ErrInvalidInput)
	}
	if reg.Version != "" {
		if _, err := semver.NewVersion(reg.Version); err != nil {
			return fmt.Errorf("%w: invalid tool version %q: %v", pgerrors.ErrInvalidInput, reg.Version, err)
		}
	}
	return nil
}
