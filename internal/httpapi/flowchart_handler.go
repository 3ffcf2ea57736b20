package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"flowchart_gateway/internal/gate"
	"flowchart_gateway/internal/ledger"
	"flowchart_gateway/internal/utils"
)

// User-facing messages
const (
	msgMissingInput     = "Missing userId or prompt."
	msgPaymentRequired  = "No credits left. Please purchase a credit."
	msgRateLimited      = "Too many requests. Please try again later."
	msgGenerationFailed = "Failed to generate flowchart. Please try again."
	msgLedgerFailed     = "Unable to check credits right now. Please try again."
	msgInternal         = "Internal server error."
)

// GenerateRequest is the body of POST /api/flowcharts/generate
type GenerateRequest struct {
	UserID string `json:"userId"`
	Prompt string `json:"prompt"`
}

// FailureResponse is the body of every failed flowchart or payment call
type FailureResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func respondFailure(w http.ResponseWriter, status int, message string) {
	utils.RespondWithJSON(w, status, FailureResponse{Success: false, Message: message})
}

// handleGenerate validates the body, applies the per-user rate limit and runs
// the gate.
func (d *Dependencies) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if err := utils.DecodeJSONBody(w, r, &req, utils.DefaultMaxBodyBytes); err != nil {
		respondFailure(w, http.StatusBadRequest, msgMissingInput)
		return
	}

	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.Prompt) == "" {
		respondFailure(w, http.StatusBadRequest, msgMissingInput)
		return
	}

	ctx := r.Context()

	if !d.RateLimit.Allow(ctx, req.UserID) {
		respondFailure(w, http.StatusTooManyRequests, msgRateLimited)
		return
	}

	result, err := d.Gate.Generate(ctx, gate.Request{UserID: req.UserID, Prompt: req.Prompt})
	if err != nil {
		status, message := statusForGateError(err)
		if status >= http.StatusInternalServerError {
			d.Logger.Error("Flowchart generation failed", "user_id", req.UserID, "status", status, "error", err)
		}
		respondFailure(w, status, message)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, result)
}

// statusForGateError maps gate failures to HTTP status and caller-facing message
func statusForGateError(err error) (int, string) {
	switch {
	case errors.Is(err, gate.ErrValidation):
		return http.StatusBadRequest, msgMissingInput
	case errors.Is(err, gate.ErrPaymentRequired):
		return http.StatusPaymentRequired, msgPaymentRequired
	case errors.Is(err, gate.ErrGeneration):
		return http.StatusBadGateway, msgGenerationFailed
	case errors.Is(err, gate.ErrUpstream):
		return http.StatusInternalServerError, msgLedgerFailed
	default:
		return http.StatusInternalServerError, msgInternal
	}
}

// CreditsResponse is the read-only ledger view
type CreditsResponse struct {
	UserID         string `json:"userId"`
	FreeCreditUsed bool   `json:"freeCreditUsed"`
	Credits        int64  `json:"credits"`
}

// handleGetCredits returns the balance of a known user
func (d *Dependencies) handleGetCredits(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")

	entry, err := d.Ledger.Get(r.Context(), userID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			utils.RespondWithError(w, http.StatusNotFound, "User not found")
			return
		}
		d.Logger.Error("Failed to read ledger entry", "user_id", userID, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, msgLedgerFailed)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, CreditsResponse{
		UserID:         entry.UserID,
		FreeCreditUsed: entry.FreeCreditUsed,
		Credits:        entry.Credits,
	})
}

// handleHealth pings every backing store
func (d *Dependencies) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(d.HealthChecks))
	status := http.StatusOK

	for name, p := range d.HealthChecks {
		if err := p.Ping(r.Context()); err != nil {
			d.Logger.Warn("Health check failed", "check", name, "error", err)
			checks[name] = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	utils.RespondWithJSON(w, status, map[string]interface{}{
		"status": overall,
		"checks": checks,
	})
}
