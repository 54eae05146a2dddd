package api

import (
	"github.com/pygate/pygate/internal/gate"
	"github.com/pygate/pygate/internal/statestore"
	"github.com/pygate/pygate/internal/types"
)

// ExecuteCellRequest submits source for gated execution in the session
type ExecuteCellRequest struct {
	CellID string `json:"cell_id" example:"cell-1"`
	Author string `json:"author" example:"assistant"`
	Source string `json:"source" example:"print('hello')"`
}

// PatchCellRequest submits a modification to an existing cell. The gate scans
// the full content the cell would hold after the patch.
type PatchCellRequest struct {
	CellID  string `json:"cell_id" example:"cell-1"`
	Author  string `json:"author" example:"assistant"`
	Subject string `json:"subject,omitempty"`
	Start   int    `json:"start" example:"0"`
	End     int    `json:"end" example:"0"`
	Text    string `json:"text"`
}

// RegisterToolRequest registers or updates a dynamic tool
type RegisterToolRequest struct {
	Name    string `json:"name" example:"summarize"`
	Author  string `json:"author" example:"assistant"`
	Source  string `json:"source"`
	Version string `json:"version,omitempty" example:"1.0.0"`
}

// ConsentDecisionRequest resolves one pending consent request
type ConsentDecisionRequest struct {
	RequestID   string `json:"request_id"`
	Approved    bool   `json:"approved"`
	AlwaysAllow bool   `json:"always_allow,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// ConsentDecisionResponse reports whether the decision reached a pending
// request. A decision for a settled or unknown request is discarded.
type ConsentDecisionResponse struct {
	Accepted bool `json:"accepted"`
}

// GateResponse is the terminal report for a gated operation
type GateResponse struct {
	Result *gate.Result `json:"result"`
	Error  string       `json:"error,omitempty"`
}

// ToolResponse pairs the stored tool with the gate result of its registration
type ToolResponse struct {
	Tool   *statestore.ToolRecord `json:"tool"`
	Result *gate.Result           `json:"result,omitempty"`
}

// ModeResponse reports the current session mode
type ModeResponse struct {
	Mode types.Mode `json:"mode" example:"consent-required"`
}

// ModeRequest transitions the session mode
type ModeRequest struct {
	Mode types.Mode `json:"mode" example:"auto-approve"`
}
