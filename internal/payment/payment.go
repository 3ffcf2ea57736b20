// Package payment sells credits through Stripe PaymentIntents and grants
// them when Stripe confirms the payment through a signed webhook.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/paymentintent"
	"github.com/stripe/stripe-go/v81/webhook"

	"flowchart_gateway/internal/ledger"
	"flowchart_gateway/internal/models"
	"flowchart_gateway/internal/utils"
)

var (
	// ErrInvalidSignature means the webhook payload failed verification
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrInvalidMetadata means a succeeded payment lacks a usable user_id or credits
	ErrInvalidMetadata = errors.New("invalid payment metadata")

	// ErrInvalidQuantity means the requested number of credits is out of range
	ErrInvalidQuantity = errors.New("invalid credit quantity")

	// ErrMissingUser means no user id was given for a purchase
	ErrMissingUser = errors.New("user id is required")
)

// Metadata keys set on every PaymentIntent
const (
	MetadataUserID  = "user_id"
	MetadataCredits = "credits"
)

// EventPaymentIntentSucceeded is the only event type that grants credits
const EventPaymentIntentSucceeded = "payment_intent.succeeded"

// EventLog remembers processed webhook events
type EventLog interface {
	// MarkProcessed returns false if the event id was already recorded
	MarkProcessed(ctx context.Context, event *models.PaymentEvent) (bool, error)
	// Unmark forgets an event so a redelivery is processed again
	Unmark(ctx context.Context, eventID string) error
}

// Config holds Stripe settings
type Config struct {
	SecretKey     string
	WebhookSecret string
	Currency      string
	// CreditPrice is the price of one credit in major units, e.g. "2.99"
	CreditPrice string
	MaxQuantity int64
}

// Intent is what the frontend needs to confirm a payment
type Intent struct {
	ClientSecret    string `json:"clientSecret"`
	PaymentIntentID string `json:"paymentIntentId"`
	AmountCents     int64  `json:"amountCents"`
	Currency        string `json:"currency"`
	Credits         int64  `json:"credits"`
}

// WebhookResult summarizes what a webhook delivery did
type WebhookResult struct {
	EventID   string `json:"eventId"`
	EventType string `json:"eventType"`
	Processed bool   `json:"processed"`
	Duplicate bool   `json:"duplicate,omitempty"`
	UserID    string `json:"-"`
	Credits   int64  `json:"-"`
}

// Service creates payment intents and applies confirmed payments to the ledger
type Service struct {
	intents       paymentintent.Client
	webhookSecret string
	currency      string
	priceCents    int64
	maxQuantity   int64
	store         ledger.Store
	events        EventLog
	logger        *utils.Logger
}

// NewService validates cfg and builds a service. A nil backend uses Stripe's API backend.
func NewService(cfg Config, store ledger.Store, events EventLog, backend stripe.Backend) (*Service, error) {
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("stripe secret key is required")
	}
	if cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("stripe webhook secret is required")
	}
	if store == nil || events == nil {
		return nil, fmt.Errorf("ledger store and event log are required")
	}

	priceCents, err := PriceToCents(cfg.CreditPrice)
	if err != nil {
		return nil, err
	}

	currency := strings.ToLower(cfg.Currency)
	if currency == "" {
		currency = string(stripe.CurrencyUSD)
	}

	maxQuantity := cfg.MaxQuantity
	if maxQuantity <= 0 {
		maxQuantity = 100
	}

	if backend == nil {
		backend = stripe.GetBackend(stripe.APIBackend)
	}

	return &Service{
		intents:       paymentintent.Client{B: backend, Key: cfg.SecretKey},
		webhookSecret: cfg.WebhookSecret,
		currency:      currency,
		priceCents:    priceCents,
		maxQuantity:   maxQuantity,
		store:         store,
		events:        events,
		logger:        utils.NewLogger("payment"),
	}, nil
}

// PriceToCents converts a decimal price string to integer minor units.
// Prices with sub-cent precision are rejected.
func PriceToCents(price string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(price))
	if err != nil {
		return 0, fmt.Errorf("invalid credit price %q: %w", price, err)
	}
	if !d.IsPositive() {
		return 0, fmt.Errorf("credit price must be positive, got %s", d)
	}

	cents := d.Mul(decimal.NewFromInt(100))
	if !cents.IsInteger() {
		return 0, fmt.Errorf("credit price %s has sub-cent precision", d)
	}
	return cents.IntPart(), nil
}

// PriceCents returns the price of one credit in minor units
func (s *Service) PriceCents() int64 {
	return s.priceCents
}

// CreatePaymentIntent asks Stripe for an intent covering quantity credits
func (s *Service) CreatePaymentIntent(ctx context.Context, userID string, quantity int64) (*Intent, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrMissingUser
	}
	if quantity < 1 || quantity > s.maxQuantity {
		return nil, fmt.Errorf("%w: must be between 1 and %d", ErrInvalidQuantity, s.maxQuantity)
	}

	amount := quantity * s.priceCents

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(s.currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.AddMetadata(MetadataUserID, userID)
	params.AddMetadata(MetadataCredits, strconv.FormatInt(quantity, 10))

	pi, err := s.intents.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment intent: %w", err)
	}

	s.logger.Info("Payment intent created", "user_id", userID, "payment_intent", pi.ID, "amount", amount)

	return &Intent{
		ClientSecret:    pi.ClientSecret,
		PaymentIntentID: pi.ID,
		AmountCents:     amount,
		Currency:        s.currency,
		Credits:         quantity,
	}, nil
}

// HandleWebhook verifies a Stripe delivery and grants credits for succeeded
// payments. Every event id is applied at most once. Event types other than
// payment_intent.succeeded are acknowledged without side effects.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) (*WebhookResult, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	result := &WebhookResult{EventID: event.ID, EventType: string(event.Type)}
	if event.Type != EventPaymentIntentSucceeded {
		s.logger.Debug("Ignoring webhook event", "event_id", event.ID, "type", event.Type)
		return result, nil
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}

	userID, credits, err := parseMetadata(pi.Metadata)
	if err != nil {
		s.logger.Error("Succeeded payment with unusable metadata", "event_id", event.ID, "payment_intent", pi.ID, "error", err)
		return nil, err
	}
	result.UserID = userID
	result.Credits = credits

	first, err := s.events.MarkProcessed(ctx, &models.PaymentEvent{
		EventID:   event.ID,
		EventType: string(event.Type),
		UserID:    userID,
		Credits:   credits,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record payment event: %w", err)
	}
	if !first {
		s.logger.Info("Duplicate webhook delivery", "event_id", event.ID)
		result.Duplicate = true
		return result, nil
	}

	if err := s.grant(ctx, userID, credits); err != nil {
		if unmarkErr := s.events.Unmark(ctx, event.ID); unmarkErr != nil {
			s.logger.Error("Failed to unmark payment event", "event_id", event.ID, "error", unmarkErr)
		}
		return nil, err
	}

	s.logger.Info("Credits granted", "event_id", event.ID, "user_id", userID, "credits", credits)
	result.Processed = true
	return result, nil
}

// grant adds credits, creating the ledger entry if the buyer never generated anything
func (s *Service) grant(ctx context.Context, userID string, credits int64) error {
	if _, err := s.store.GetOrCreate(ctx, userID); err != nil {
		return fmt.Errorf("failed to resolve ledger entry: %w", err)
	}
	if _, err := s.store.IncrementCredit(ctx, userID, credits); err != nil {
		return fmt.Errorf("failed to grant credits: %w", err)
	}
	return nil
}

func parseMetadata(metadata map[string]string) (string, int64, error) {
	userID := strings.TrimSpace(metadata[MetadataUserID])
	if userID == "" {
		return "", 0, fmt.Errorf("%w: missing %s", ErrInvalidMetadata, MetadataUserID)
	}

	raw, ok := metadata[MetadataCredits]
	if !ok {
		return userID, 1, nil
	}
	credits, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || credits < 1 {
		return "", 0, fmt.Errorf("%w: bad %s %q", ErrInvalidMetadata, MetadataCredits, raw)
	}
	return userID, credits, nil
}
