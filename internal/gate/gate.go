// Package gate runs one generation request through the credit state machine:
//
//	RESOLVING_USER -> DECIDING_ENTITLEMENT -> GENERATING -> RESPONDING
//
// with FAILED reachable from every state. The free credit is marked used only
// after a successful generation. A paid credit is decremented atomically
// before generation and, when RefundOnFailure is set, given back if the
// generation fails.
package gate

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"flowchart_gateway/internal/generation"
	"flowchart_gateway/internal/ledger"
	"flowchart_gateway/internal/models"
	"flowchart_gateway/internal/utils"
)

// State is a step of the per-request state machine
type State string

const (
	StateResolvingUser       State = "RESOLVING_USER"
	StateDecidingEntitlement State = "DECIDING_ENTITLEMENT"
	StateGenerating          State = "GENERATING"
	StateResponding          State = "RESPONDING"
	StateFailed              State = "FAILED"
)

// Request is one inbound generation request
type Request struct {
	UserID string
	Prompt string
}

// Result is the RESPONDING output. FreeCreditUsed is true when the free
// credit had already been spent before this call, i.e. a paid credit served it.
type Result struct {
	Success        bool                `json:"success"`
	FreeCreditUsed bool                `json:"freeCreditUsed"`
	FlowchartText  string              `json:"flowchartText"`
	RequestID      uuid.UUID           `json:"-"`
	Entitlement    models.Entitlement  `json:"-"`
	Entry          *models.LedgerEntry `json:"-"`
}

// Recorder receives one GenerationRecord per run that got past validation
type Recorder interface {
	Record(ctx context.Context, record *models.GenerationRecord) error
}

// Options tunes the gate
type Options struct {
	// RefundOnFailure gives a paid credit back when generation fails
	RefundOnFailure bool

	// Recorder, if set, receives the audit record of every run
	Recorder Recorder

	// Logger defaults to a "gate" logger
	Logger *utils.Logger
}

// DefaultOptions refunds failed paid generations and records nothing
func DefaultOptions() Options {
	return Options{RefundOnFailure: true}
}

// Gate decides entitlement and calls the generator
type Gate struct {
	store     ledger.Store
	generator generation.Generator
	opts      Options
	logger    *utils.Logger
	now       func() time.Time
}

// New creates a gate over a ledger store and a generator
func New(store ledger.Store, generator generation.Generator, opts Options) *Gate {
	logger := opts.Logger
	if logger == nil {
		logger = utils.NewLogger("gate")
	}
	return &Gate{
		store:     store,
		generator: generator,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
	}
}

// run carries per-request state through the machine
type run struct {
	state       State
	entitlement models.Entitlement
	refunded    bool
	record      *models.GenerationRecord
	started     time.Time
}

func (r *run) fail(sentinel, cause error) error {
	failedIn := r.state
	r.state = StateFailed
	return &Error{
		State:       failedIn,
		Entitlement: r.entitlement,
		Err:         sentinel,
		Cause:       cause,
	}
}

// Generate runs one request. Failures are *Error values that unwrap to
// ErrValidation, ErrPaymentRequired, ErrUpstream or ErrGeneration.
func (g *Gate) Generate(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.Prompt) == "" {
		return nil, ErrValidation
	}

	r := &run{
		state:   StateResolvingUser,
		started: g.now(),
		record: &models.GenerationRecord{
			ID:        uuid.New(),
			RequestID: uuid.New(),
			UserID:    req.UserID,
			Prompt:    req.Prompt,
		},
	}

	result, err := g.execute(ctx, r, req)

	g.finish(ctx, r, err)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (g *Gate) execute(ctx context.Context, r *run, req Request) (*Result, error) {
	// RESOLVING_USER
	entry, err := g.resolve(ctx, req.UserID)
	if err != nil {
		return nil, r.fail(ErrUpstream, err)
	}

	// DECIDING_ENTITLEMENT
	r.state = StateDecidingEntitlement
	switch {
	case entry.HasFreeCredit():
		r.entitlement = models.EntitlementFree
	case entry.HasPaidCredits():
		r.entitlement = models.EntitlementPaid
		entry, err = g.store.DecrementCredit(ctx, req.UserID)
		if errors.Is(err, ledger.ErrInsufficientCredit) {
			// another request took the last credit between read and decrement
			r.entitlement = models.EntitlementDenied
			return nil, r.fail(ErrPaymentRequired, err)
		}
		if err != nil {
			return nil, r.fail(ErrUpstream, err)
		}
	default:
		r.entitlement = models.EntitlementDenied
		return nil, r.fail(ErrPaymentRequired, nil)
	}

	// GENERATING
	r.state = StateGenerating
	text, err := g.generator.Generate(ctx, req.Prompt)
	if err != nil {
		if r.entitlement == models.EntitlementPaid && g.opts.RefundOnFailure {
			g.refund(ctx, r, req.UserID)
		}
		return nil, r.fail(ErrGeneration, err)
	}

	if r.entitlement == models.EntitlementFree {
		entry, err = g.store.MarkFreeCreditUsed(ctx, req.UserID)
		if err != nil {
			return nil, r.fail(ErrUpstream, err)
		}
	}

	// RESPONDING
	r.state = StateResponding
	return &Result{
		Success:        true,
		FreeCreditUsed: r.entitlement == models.EntitlementPaid,
		FlowchartText:  text,
		RequestID:      r.record.RequestID,
		Entitlement:    r.entitlement,
		Entry:          entry,
	}, nil
}

// resolve is get-or-create: only ErrNotFound triggers creation
func (g *Gate) resolve(ctx context.Context, userID string) (*models.LedgerEntry, error) {
	entry, err := g.store.Get(ctx, userID)
	if err == nil {
		return entry, nil
	}
	if !errors.Is(err, ledger.ErrNotFound) {
		return nil, err
	}

	g.logger.Debug("Creating ledger entry", "user_id", userID)
	return g.store.GetOrCreate(ctx, userID)
}

// refund returns the credit taken for a failed paid run. A refund failure is
// logged and never replaces the generation error.
func (g *Gate) refund(ctx context.Context, r *run, userID string) {
	if _, err := g.store.IncrementCredit(ctx, userID, 1); err != nil {
		g.logger.Error("Failed to refund credit", "user_id", userID, "request_id", r.record.RequestID, "error", err)
		return
	}
	r.refunded = true
	g.logger.Info("Refunded credit after failed generation", "user_id", userID, "request_id", r.record.RequestID)
}

// finish logs the outcome and hands the audit record to the recorder
func (g *Gate) finish(ctx context.Context, r *run, err error) {
	latency := g.now().Sub(r.started)

	rec := r.record
	rec.Entitlement = r.entitlement
	rec.Success = err == nil
	rec.Refunded = r.refunded
	rec.LatencyMS = latency.Milliseconds()
	rec.CreatedAt = r.started.UTC()
	if err != nil {
		rec.ErrorMessage = err.Error()
	}

	keyvals := []interface{}{
		"request_id", rec.RequestID,
		"user_id", rec.UserID,
		"prompt", utils.Fingerprint(rec.Prompt),
		"entitlement", rec.Entitlement,
		"state", r.state,
		"latency_ms", rec.LatencyMS,
	}
	switch {
	case err == nil:
		g.logger.Info("Generation served", keyvals...)
	case errors.Is(err, ErrPaymentRequired):
		g.logger.Info("Generation denied", keyvals...)
	default:
		g.logger.Warn("Generation failed", append(keyvals, "error", err)...)
	}

	if g.opts.Recorder == nil {
		return
	}
	// detached so a cancelled request still gets recorded
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	if recErr := g.opts.Recorder.Record(recordCtx, rec); recErr != nil {
		g.logger.Warn("Failed to record generation", "request_id", rec.RequestID, "error", recErr)
	}
}
