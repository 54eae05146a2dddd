package statestore

import (
	"context"
	"errors"
	"time"

	"github.com/pygate/pygate/internal/types"
)

// ErrToolNotFound is returned by GetTool when no tool with the given name
// exists. Callers should use errors.Is() to check for this specific error.
var ErrToolNotFound = errors.New("tool not found")

// GrantStore persists always-allow exemptions. A grant applies to exactly
// one (author, operation kind) pair, survives process restart and never
// auto-expires; only an explicit revoke removes it. Writes are atomic with
// respect to concurrent reads: a reader never observes a half-written grant.
type GrantStore interface {
	// GetGrant reports whether an always-allow grant exists
	GetGrant(ctx context.Context, author string, kind types.OperationKind) (bool, error)

	// SetGrant persists an always-allow grant (idempotent)
	SetGrant(ctx context.Context, author string, kind types.OperationKind) error

	// RevokeGrant removes a grant; removing a missing grant is not an error
	RevokeGrant(ctx context.Context, author string, kind types.OperationKind) error

	// ListGrants returns all grants
	ListGrants(ctx context.Context) ([]*Grant, error)
}

// AuditStore is the append-only record of every scan and consent outcome
type AuditStore interface {
	// AppendAudit appends one entry; entries are never mutated afterwards
	AppendAudit(ctx context.Context, entry *AuditEntry) error

	// ListAudit returns entries, newest first, with optional filters
	ListAudit(ctx context.Context, filter AuditFilter) ([]*AuditEntry, error)
}

// ToolStore persists registered callables that passed the gate
type ToolStore interface {
	// SaveTool inserts or updates a tool by name
	SaveTool(ctx context.Context, tool *ToolRecord) error

	// GetTool retrieves a tool by name
	GetTool(ctx context.Context, name string) (*ToolRecord, error)

	// ListTools returns all registered tools
	ListTools(ctx context.Context) ([]*ToolRecord, error)

	// DeleteTool removes a tool by name
	DeleteTool(ctx context.Context, name string) error
}

// StateStore combines the durable stores behind one connection
type StateStore interface {
	GrantStore
	AuditStore
	ToolStore

	// Ping verifies the store is reachable (health endpoint integration)
	Ping(ctx context.Context) error

	// Close closes the underlying connection
	Close() error
}

// Grant is one persisted always-allow exemption
type Grant struct {
	Author        string              `json:"author"`
	OperationKind types.OperationKind `json:"operation_kind"`
	GrantedAt     time.Time           `json:"granted_at"`
}

// AuditEntry records one terminal pipeline outcome
type AuditEntry struct {
	ID             int64               `json:"id"`
	Timestamp      time.Time           `json:"timestamp"`
	Actor          string              `json:"actor"`
	OperationKind  types.OperationKind `json:"operation_kind"`
	Subject        string              `json:"subject,omitempty"`
	ScanSummary    ScanSummary         `json:"scan_summary"`
	ConsentOutcome string              `json:"consent_outcome,omitempty"`
	Outcome        string              `json:"outcome"`
}

// ScanSummary condenses a scan for the audit trail; full findings are
// scan-call-scoped and never persisted
type ScanSummary struct {
	IsClean         bool   `json:"is_clean"`
	Blocked         bool   `json:"blocked"`
	BlockReason     string `json:"block_reason,omitempty"`
	CriticalCount   int    `json:"critical_count"`
	HighCount       int    `json:"high_count"`
	MediumCount     int    `json:"medium_count"`
	LowCount        int    `json:"low_count"`
	SuppressedCount int    `json:"suppressed_count"`
}

// AuditFilter defines criteria for querying the audit log
type AuditFilter struct {
	Actor         string
	OperationKind string
	Outcome       string
	Limit         int
	Offset        int
}

// ToolRecord is one registered callable
type ToolRecord struct {
	Name      string    `json:"name"`
	Author    string    `json:"author"`
	Source    string    `json:"source"`
	Version   string    `json:"version,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
