package types

import "time"

// Severity classifies how dangerous a detected pattern is
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Rank returns a comparable ordering for severities (higher is worse)
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// Category groups findings by the kind of dangerous behaviour detected
type Category string

const (
	CategoryShellMagic      Category = "SHELL_MAGIC"
	CategoryShellEscape     Category = "SHELL_ESCAPE"
	CategoryShellConfig     Category = "SHELL_CONFIG_SOURCING"
	CategoryRemoteFetchExec Category = "REMOTE_FETCH_EXEC"
	CategoryShellBridge     Category = "SHELL_BRIDGE_CALL"
	CategoryEncoding        Category = "UNDECODABLE_SOURCE"
	CategoryCodeExecution   Category = "CODE_EXECUTION"
	CategoryProcessExec     Category = "PROCESS_EXECUTION"
	CategorySubprocess      Category = "SUBPROCESS"
	CategoryEnvModification Category = "ENV_MODIFICATION"
	CategoryFileWrite       Category = "DANGEROUS_FILE_WRITE"
	CategoryPersistence     Category = "PERSISTENCE"
	CategoryDeserialization Category = "DESERIALIZATION"
)

// Finding is one detected dangerous pattern in a candidate source string.
// Findings are scan-call-scoped and never persisted as-is; the audit log
// stores summaries only.
type Finding struct {
	RuleID   string   `json:"rule_id"`
	Category Category `json:"category"`
	Severity Severity `json:"severity"`
	Line     int      `json:"line"`
	Snippet  string   `json:"snippet,omitempty"`
	Message  string   `json:"message"`
}

// ScanResult is the combined outcome of prescan + AST scan + policy for one
// candidate source string. IsClean is true only when Findings is empty,
// independent of whether the policy would block.
type ScanResult struct {
	IsClean     bool      `json:"is_clean"`
	Blocked     bool      `json:"blocked"`
	BlockReason string    `json:"block_reason,omitempty"`
	Unsafe      bool      `json:"unsafe"`
	Findings    []Finding `json:"findings"`
}

// OperationKind identifies what a gated request would do to the session
type OperationKind string

const (
	OpExecuteCell  OperationKind = "execute_cell"
	OpPatchCell    OperationKind = "patch_cell"
	OpToolRegister OperationKind = "tool_register"
	OpToolUpdate   OperationKind = "tool_update"
)

// Mode controls whether consent requests contact a human approver
type Mode string

const (
	ModeConsentRequired Mode = "consent-required"
	ModeAutoApprove     Mode = "auto-approve"
)

// Valid reports whether m is a known mode value
func (m Mode) Valid() bool {
	return m == ModeConsentRequired || m == ModeAutoApprove
}

// ConsentStatus is the state of a consent request
type ConsentStatus string

const (
	ConsentCreated  ConsentStatus = "created"
	ConsentAwaiting ConsentStatus = "awaiting_decision"
	ConsentApproved ConsentStatus = "approved"
	ConsentDeclined ConsentStatus = "declined"
	ConsentTimedOut ConsentStatus = "timed_out"
)

// Terminal reports whether the status is final
func (s ConsentStatus) Terminal() bool {
	return s == ConsentApproved || s == ConsentDeclined || s == ConsentTimedOut
}

// ConsentRequest is one outstanding approval request. It lives until it is
// resolved or its deadline expires.
type ConsentRequest struct {
	ID             string        `json:"id"`
	OperationKind  OperationKind `json:"operation_kind"`
	Subject        string        `json:"subject_name"`
	Author         string        `json:"author"`
	PayloadPreview string        `json:"payload_preview"`
	CreatedAt      time.Time     `json:"created_at"`
	ExpiresAt      time.Time     `json:"expires_at"`
}

// ConsentDecision resolves exactly one ConsentRequest. Reason carries the
// human-readable cause for synthesized or negative decisions.
type ConsentDecision struct {
	RequestID   string        `json:"request_id"`
	Status      ConsentStatus `json:"status"`
	Approved    bool          `json:"approved"`
	AlwaysAllow bool          `json:"always_allow"`
	Reason      string        `json:"reason,omitempty"`
	DecidedAt   time.Time     `json:"decided_at"`
}

// RuleSuppression exempts a single non-critical rule from policy blocking.
// Every suppression carries a written statement and an optional expiry.
// CRITICAL findings are never suppressible.
type RuleSuppression struct {
	RuleID    string     `yaml:"ruleId" json:"rule_id"`
	Statement string     `yaml:"statement" json:"statement"`
	ExpiresAt *time.Time `yaml:"expiresAt,omitempty" json:"expires_at,omitempty"`
}

// Expired reports whether the suppression is past its expiry at the given time
func (r RuleSuppression) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && r.ExpiresAt.Before(now)
}
