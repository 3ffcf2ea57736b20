package httpapi

import (
	"errors"
	"io"
	"net/http"

	"flowchart_gateway/internal/payment"
	"flowchart_gateway/internal/utils"
)

// maxWebhookBytes bounds Stripe webhook bodies
const maxWebhookBytes = 64 << 10

// BuyCreditRequest is the body of POST /api/payment/buy-credit.
// Quantity defaults to one credit.
type BuyCreditRequest struct {
	UserID   string `json:"userId"`
	Quantity int64  `json:"quantity,omitempty"`
}

// BuyCreditResponse carries the client secret the frontend confirms with
type BuyCreditResponse struct {
	ClientSecret    string `json:"clientSecret"`
	PaymentIntentID string `json:"paymentIntentId"`
	AmountCents     int64  `json:"amountCents"`
	Currency        string `json:"currency"`
	Message         string `json:"message"`
}

func (d *Dependencies) handleBuyCredit(w http.ResponseWriter, r *http.Request) {
	if d.Payments == nil {
		respondFailure(w, http.StatusServiceUnavailable, "Payments are not configured.")
		return
	}

	var req BuyCreditRequest
	if err := utils.DecodeJSONBody(w, r, &req, utils.DefaultMaxBodyBytes); err != nil {
		respondFailure(w, http.StatusBadRequest, "Invalid request body.")
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	intent, err := d.Payments.CreatePaymentIntent(r.Context(), req.UserID, req.Quantity)
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrMissingUser):
			respondFailure(w, http.StatusBadRequest, "Missing userId.")
		case errors.Is(err, payment.ErrInvalidQuantity):
			respondFailure(w, http.StatusBadRequest, "Invalid credit quantity.")
		default:
			d.Logger.Error("Failed to create payment intent", "user_id", req.UserID, "error", err)
			respondFailure(w, http.StatusInternalServerError, "Failed to create payment intent.")
		}
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, BuyCreditResponse{
		ClientSecret:    intent.ClientSecret,
		PaymentIntentID: intent.PaymentIntentID,
		AmountCents:     intent.AmountCents,
		Currency:        intent.Currency,
		Message:         "Payment intent created successfully",
	})
}

// handleWebhook passes the raw body to the payment service. Stripe retries
// any non-2xx answer, so only signature and metadata problems are 400.
func (d *Dependencies) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if d.Payments == nil {
		utils.RespondWithError(w, http.StatusServiceUnavailable, "Payments are not configured")
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		utils.RespondWithError(w, http.StatusRequestEntityTooLarge, "Request body too large")
		return
	}

	result, err := d.Payments.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrInvalidSignature):
			d.Logger.Warn("Rejected webhook with bad signature", "error", err)
			utils.RespondWithError(w, http.StatusBadRequest, "Invalid signature")
		case errors.Is(err, payment.ErrInvalidMetadata):
			utils.RespondWithError(w, http.StatusBadRequest, "Invalid payment metadata")
		default:
			d.Logger.Error("Failed to process webhook", "error", err)
			utils.RespondWithError(w, http.StatusInternalServerError, "Failed to process webhook")
		}
		return
	}

	d.Logger.Debug("Webhook handled", "event_id", result.EventID, "type", result.EventType, "processed", result.Processed)
	utils.RespondWithJSON(w, http.StatusOK, map[string]bool{"received": true})
}
