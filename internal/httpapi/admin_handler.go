package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"flowchart_gateway/internal/ledger"
	"flowchart_gateway/internal/middleware"
	"flowchart_gateway/internal/models"
	"flowchart_gateway/internal/utils"
)

// GrantCreditsRequest is the body of POST /admin/credits
type GrantCreditsRequest struct {
	UserID  string `json:"userId"`
	Credits int64  `json:"credits"`
	Reason  string `json:"reason,omitempty"`
}

// handleAdminGrantCredits adds paid credits to a user, creating the entry if needed
func (d *Dependencies) handleAdminGrantCredits(w http.ResponseWriter, r *http.Request) {
	var req GrantCreditsRequest
	if err := utils.DecodeJSONBody(w, r, &req, utils.DefaultMaxBodyBytes); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "userId is required")
		return
	}
	if req.Credits < 1 {
		utils.RespondWithError(w, http.StatusBadRequest, "credits must be positive")
		return
	}

	ctx := r.Context()
	adminID, _ := middleware.GetAdminID(ctx)

	if _, err := d.Ledger.GetOrCreate(ctx, req.UserID); err != nil {
		d.Logger.Error("Failed to resolve ledger entry", "user_id", req.UserID, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to grant credits")
		return
	}

	entry, err := d.Ledger.IncrementCredit(ctx, req.UserID, req.Credits)
	if err != nil {
		if errors.Is(err, ledger.ErrInvalidAmount) {
			utils.RespondWithError(w, http.StatusBadRequest, "credits must be positive")
			return
		}
		d.Logger.Error("Failed to grant credits", "user_id", req.UserID, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to grant credits")
		return
	}

	d.Logger.Info("Admin credit grant", "admin", adminID, "user_id", req.UserID, "credits", req.Credits, "reason", req.Reason)
	utils.RespondWithJSON(w, http.StatusOK, entry)
}

// handleAdminGetUser returns the full ledger entry
func (d *Dependencies) handleAdminGetUser(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")

	entry, err := d.Ledger.Get(r.Context(), userID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			utils.RespondWithError(w, http.StatusNotFound, "User not found")
			return
		}
		d.Logger.Error("Failed to read ledger entry", "user_id", userID, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to read ledger entry")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, entry)
}

// GenerationListResponse wraps a page of history records
type GenerationListResponse struct {
	UserID      string                     `json:"userId"`
	Generations []*models.GenerationRecord `json:"generations"`
}

// handleAdminListGenerations lists the most recent attempts of a user
func (d *Dependencies) handleAdminListGenerations(w http.ResponseWriter, r *http.Request) {
	if d.History == nil {
		utils.RespondWithError(w, http.StatusServiceUnavailable, "Generation history is not enabled")
		return
	}

	userID := r.PathValue("userId")
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			utils.RespondWithError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	records, err := d.History.ListByUser(r.Context(), userID, limit)
	if err != nil {
		d.Logger.Error("Failed to list generations", "user_id", userID, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to list generations")
		return
	}
	if records == nil {
		records = []*models.GenerationRecord{}
	}

	utils.RespondWithJSON(w, http.StatusOK, GenerationListResponse{UserID: userID, Generations: records})
}
