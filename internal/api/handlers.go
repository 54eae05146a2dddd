package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	pgerrors "github.com/pygate/pygate/internal/errors"
	"github.com/pygate/pygate/internal/gate"
	"github.com/pygate/pygate/internal/statestore"
	"github.com/pygate/pygate/internal/toolreg"
	"github.com/pygate/pygate/internal/types"
)

// handleExecuteCell gates a cell execution request
// @Summary Execute a cell
// @Description Submit source for gated execution. The request blocks until scanning, policy and consent reach a terminal outcome.
// @Tags Cells
// @Accept json
// @Produce json
// @Param request body ExecuteCellRequest true "Execution request"
// @Success 200 {object} GateResponse
// @Failure 400 {object} map[string]string "Invalid request"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 403 {object} GateResponse "Rejected by scan, policy or consent"
// @Failure 500 {object} map[string]string "Internal server error"
// @Security BearerAuth
// @Router /cells/execute [post]
func (s *APIServer) handleExecuteCell(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req ExecuteCellRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	if req.CellID == "" || req.Source == "" {
		s.respondError(w, http.StatusBadRequest, "cell_id and source are required")
		return
	}

	result, err := s.pipeline.ExecuteCell(r.Context(), req.CellID, gate.Request{
		Subject: req.CellID,
		Author:  req.Author,
		Source:  req.Source,
	})
	s.respondGateResult(w, result, err)
}

// handlePatchCell gates a cell patch request
// @Summary Patch a cell
// @Description Submit a modification to an existing cell. The scan runs over the full content the cell would hold after the patch.
// @Tags Cells
// @Accept json
// @Produce json
// @Param request body PatchCellRequest true "Patch request"
// @Success 200 {object} GateResponse
// @Failure 400 {object} map[string]string "Invalid request"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 403 {object} GateResponse "Rejected by scan, policy or consent"
// @Failure 409 {object} map[string]string "Current cell content unavailable"
// @Failure 500 {object} map[string]string "Internal server error"
// @Security BearerAuth
// @Router /cells/patch [post]
func (s *APIServer) handlePatchCell(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req PatchCellRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	if req.CellID == "" {
		s.respondError(w, http.StatusBadRequest, "cell_id is required")
		return
	}

	result, err := s.pipeline.PatchCell(r.Context(),
		gate.Request{
			Subject: req.Subject,
			Author:  req.Author,
		},
		gate.Patch{
			CellID: req.CellID,
			Start:  req.Start,
			End:    req.End,
			Text:   req.Text,
		})
	if err != nil && errors.Is(err, pgerrors.ErrScanUnavailable) {
		s.respondError(w, http.StatusConflict, err.Error())
		return
	}
	s.respondGateResult(w, result, err)
}

// respondGateResult maps a pipeline outcome to an HTTP response. A rejection
// is a well-formed 403 carrying the scan result; only infrastructure failures
// become 5xx.
func (s *APIServer) respondGateResult(w http.ResponseWriter, result *gate.Result, err error) {
	if err == nil {
		s.respondJSON(w, http.StatusOK, GateResponse{Result: result})
		return
	}

	if errors.Is(err, pgerrors.ErrInvalidInput) {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if gate.IsRejection(err) {
		s.respondJSON(w, http.StatusForbidden, GateResponse{
			Result: result,
			Error:  err.Error(),
		})
		return
	}

	s.respondError(w, http.StatusInternalServerError, fmt.Sprintf("Gate failure: %v", err))
}

// handleTools lists tools or registers a new one
// @Summary List or register tools
// @Description GET lists all registered tools. POST registers or updates a tool; the source is gated like any execution.
// @Tags Tools
// @Accept json
// @Produce json
// @Param request body RegisterToolRequest false "Registration (POST only)"
// @Success 200 {array} statestore.ToolRecord
// @Success 201 {object} ToolResponse
// @Failure 400 {object} map[string]string "Invalid request"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 403 {object} GateResponse "Rejected by scan, policy or consent"
// @Failure 500 {object} map[string]string "Internal server error"
// @Security BearerAuth
// @Router /tools [get]
func (s *APIServer) handleTools(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		tools, err := s.registry.List(r.Context())
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to list tools: %v", err))
			return
		}
		if tools == nil {
			tools = []*statestore.ToolRecord{}
		}
		s.respondJSON(w, http.StatusOK, tools)

	case http.MethodPost:
		if s.config.ReadOnly {
			s.respondError(w, http.StatusForbidden, "API is in read-only mode")
			return
		}

		var req RegisterToolRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
			return
		}

		tool, result, err := s.registry.Register(r.Context(), toolreg.Registration{
			Name:    req.Name,
			Author:  req.Author,
			Source:  req.Source,
			Version: req.Version,
		})
		if err != nil {
			if errors.Is(err, pgerrors.ErrInvalidInput) {
				s.respondError(w, http.StatusBadRequest, err.Error())
				return
			}
			if gate.IsRejection(err) {
				s.respondJSON(w, http.StatusForbidden, GateResponse{Result: result, Error: err.Error()})
				return
			}
			s.respondError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to register tool: %v", err))
			return
		}

		s.respondJSON(w, http.StatusCreated, ToolResponse{Tool: tool, Result: result})

	default:
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleToolByName retrieves or deletes a single tool
// @Summary Get or delete a tool
// @Description GET retrieves a registered tool by name. DELETE removes it.
// @Tags Tools
// @Produce json
// @Param name path string true "Tool name"
// @Success 200 {object} statestore.ToolRecord
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 404 {object} map[string]string "Tool not found"
// @Failure 500 {object} map[string]string "Internal server error"
// @Security BearerAuth
// @Router /tools/{name} [get]
func (s *APIServer) handleToolByName(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/api/v1/tools/")
	if name == "" {
		s.respondError(w, http.StatusBadRequest, "Tool name is required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		tool, err := s.registry.Get(r.Context(), name)
		if err != nil {
			if errors.Is(err, statestore.ErrToolNotFound) {
				s.respondError(w, http.StatusNotFound, "Tool not found")
				return
			}
			s.respondError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to get tool: %v", err))
			return
		}
		s.respondJSON(w, http.StatusOK, tool)

	case http.MethodDelete:
		if s.config.ReadOnly {
			s.respondError(w, http.StatusForbidden, "API is in read-only mode")
			return
		}
		if err := s.registry.Delete(r.Context(), name); err != nil {
			if errors.Is(err, statestore.ErrToolNotFound) {
				s.respondError(w, http.StatusNotFound, "Tool not found")
				return
			}
			s.respondError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to delete tool: %v", err))
			return
		}
		s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})

	default:
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleListPendingConsents lists requests awaiting a decision
// @Summary List pending consent requests
// @Description List all consent requests currently awaiting a decision
// @Tags Consents
// @Produce json
// @Success 200 {array} types.ConsentRequest
// @Failure 401 {object} map[string]string "Unauthorized"
// @Security BearerAuth
// @Router /consents/pending [get]
func (s *APIServer) handleListPendingConsents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	pending := s.consent.Pending()
	if pending == nil {
		pending = []*types.ConsentRequest{}
	}
	s.respondJSON(w, http.StatusOK, pending)
}

// handleConsentDecision resolves a pending consent request
// @Summary Submit a consent decision
// @Description Resolve one pending consent request. A decision for a request that already timed out or was settled is discarded.
// @Tags Consents
// @Accept json
// @Produce json
// @Param request body ConsentDecisionRequest true "Decision"
// @Success 200 {object} ConsentDecisionResponse
// @Failure 400 {object} map[string]string "Invalid request"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 404 {object} ConsentDecisionResponse "Request unknown or already settled"
// @Security BearerAuth
// @Router /consents/decision [post]
func (s *APIServer) handleConsentDecision(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req ConsentDecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	if req.RequestID == "" {
		s.respondError(w, http.StatusBadRequest, "request_id is required")
		return
	}

	status := types.ConsentDeclined
	if req.Approved {
		status = types.ConsentApproved
	}

	accepted := s.consent.Resolve(types.ConsentDecision{
		RequestID:   req.RequestID,
		Status:      status,
		Approved:    req.Approved,
		AlwaysAllow: req.AlwaysAllow,
		Reason:      req.Reason,
		DecidedAt:   time.Now().UTC(),
	})

	if !accepted {
		s.respondJSON(w, http.StatusNotFound, ConsentDecisionResponse{Accepted: false})
		return
	}
	s.respondJSON(w, http.StatusOK, ConsentDecisionResponse{Accepted: true})
}

// handleGrants lists or revokes always-allow grants
// @Summary List or revoke grants
// @Description GET lists all always-allow grants. DELETE revokes one by author and operation_kind query parameters.
// @Tags Grants
// @Produce json
// @Param author query string false "Grant author (DELETE only)"
// @Param operation_kind query string false "Operation kind (DELETE only)"
// @Success 200 {array} statestore.Grant
// @Failure 400 {object} map[string]string "Invalid request"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 500 {object} map[string]string "Internal server error"
// @Security BearerAuth
// @Router /grants [get]
func (s *APIServer) handleGrants(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		grants, err := s.stateStore.ListGrants(r.Context())
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to list grants: %v", err))
			return
		}
		if grants == nil {
			grants = []*statestore.Grant{}
		}
		s.respondJSON(w, http.StatusOK, grants)

	case http.MethodDelete:
		if s.config.ReadOnly {
			s.respondError(w, http.StatusForbidden, "API is in read-only mode")
			return
		}

		author := parseQueryParam(r, "author")
		kind := parseQueryParam(r, "operation_kind")
		if author == "" || kind == "" {
			s.respondError(w, http.StatusBadRequest, "author and operation_kind are required")
			return
		}

		if err := s.stateStore.RevokeGrant(r.Context(), author, types.OperationKind(kind)); err != nil {
			s.respondError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to revoke grant: %v", err))
			return
		}
		s.respondJSON(w, http.StatusOK, map[string]string{"status": "revoked"})

	default:
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleListAudit queries the audit trail
// @Summary List audit entries
// @Description List audit entries, newest first, with optional filtering and pagination
// @Tags Audit
// @Produce json
// @Param actor query string false "Filter by actor"
// @Param operation_kind query string false "Filter by operation kind"
// @Param outcome query string false "Filter by outcome (executed, rejected)"
// @Param limit query int false "Maximum number of results" default(100)
// @Param offset query int false "Pagination offset" default(0)
// @Success 200 {array} statestore.AuditEntry
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 500 {object} map[string]string "Internal server error"
// @Security BearerAuth
// @Router /audit [get]
func (s *APIServer) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	filter := statestore.AuditFilter{
		Actor:         parseQueryParam(r, "actor"),
		OperationKind: parseQueryParam(r, "operation_kind"),
		Outcome:       parseQueryParam(r, "outcome"),
		Limit:         parseQueryParamInt(r, "limit", 100),
		Offset:        parseQueryParamInt(r, "offset", 0),
	}

	entries, err := s.stateStore.ListAudit(r.Context(), filter)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to list audit entries: %v", err))
		return
	}
	if entries == nil {
		entries = []*statestore.AuditEntry{}
	}
	s.respondJSON(w, http.StatusOK, entries)
}

// handleMode reads or transitions the session mode
// @Summary Get or set the session mode
// @Description GET returns the current mode. PUT transitions it; the new mode applies to requests submitted afterwards, never retroactively.
// @Tags Mode
// @Accept json
// @Produce json
// @Param request body ModeRequest false "New mode (PUT only)"
// @Success 200 {object} ModeResponse
// @Failure 400 {object} map[string]string "Invalid mode"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Security BearerAuth
// @Router /mode [get]
func (s *APIServer) handleMode(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.respondJSON(w, http.StatusOK, ModeResponse{Mode: s.rules.Mode()})

	case http.MethodPut:
		if s.config.ReadOnly {
			s.respondError(w, http.StatusForbidden, "API is in read-only mode")
			return
		}

		var req ModeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
			return
		}

		if err := s.rules.SetMode(req.Mode); err != nil {
			s.respondError(w, http.StatusBadRequest, fmt.Sprintf("Invalid mode %q", req.Mode))
			return
		}

		s.logger.Info("session mode changed", "mode", req.Mode)
		s.respondJSON(w, http.StatusOK, ModeResponse{Mode: s.rules.Mode()})

	default:
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}
