package gate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowchart_gateway/internal/generation"
	"flowchart_gateway/internal/ledger"
	"flowchart_gateway/internal/models"
)

// fakeGenerator returns text or err and counts calls
type fakeGenerator struct {
	calls atomic.Int64
	text  string
	err   error
}

func (g *fakeGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.calls.Add(1)
	if g.err != nil {
		return "", g.err
	}
	if g.text != "" {
		return g.text, nil
	}
	return "graph TD; start-->" + prompt, nil
}

// faultyStore wraps a real store and injects errors per operation
type faultyStore struct {
	ledger.Store
	getErr       error
	markErr      error
	decrementErr error
	incrementErr error
	staleGet     *models.LedgerEntry
}

func (s *faultyStore) Get(ctx context.Context, userID string) (*models.LedgerEntry, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	if s.staleGet != nil {
		return s.staleGet.Clone(), nil
	}
	return s.Store.Get(ctx, userID)
}

func (s *faultyStore) MarkFreeCreditUsed(ctx context.Context, userID string) (*models.LedgerEntry, error) {
	if s.markErr != nil {
		return nil, s.markErr
	}
	return s.Store.MarkFreeCreditUsed(ctx, userID)
}

func (s *faultyStore) DecrementCredit(ctx context.Context, userID string) (*models.LedgerEntry, error) {
	if s.decrementErr != nil {
		return nil, s.decrementErr
	}
	return s.Store.DecrementCredit(ctx, userID)
}

func (s *faultyStore) IncrementCredit(ctx context.Context, userID string, amount int64) (*models.LedgerEntry, error) {
	if s.incrementErr != nil {
		return nil, s.incrementErr
	}
	return s.Store.IncrementCredit(ctx, userID, amount)
}

// memoryRecorder collects audit records
type memoryRecorder struct {
	mu      sync.Mutex
	records []*models.GenerationRecord
	err     error
}

func (r *memoryRecorder) Record(ctx context.Context, record *models.GenerationRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, record)
	return r.err
}

func (r *memoryRecorder) last() *models.GenerationRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.records) == 0 {
		return nil
	}
	return r.records[len(r.records)-1]
}

func newTestGate(store ledger.Store, gen generation.Generator) (*Gate, *memoryRecorder) {
	rec := &memoryRecorder{}
	opts := DefaultOptions()
	opts.Recorder = rec
	return New(store, gen, opts), rec
}

// seed creates a user with the given state
func seed(t *testing.T, store ledger.Store, userID string, freeUsed bool, credits int64) {
	t.Helper()
	ctx := context.Background()
	_, err := store.Create(ctx, userID)
	require.NoError(t, err)
	if freeUsed {
		_, err = store.MarkFreeCreditUsed(ctx, userID)
		require.NoError(t, err)
	}
	if credits > 0 {
		_, err = store.IncrementCredit(ctx, userID, credits)
		require.NoError(t, err)
	}
}

func requireGateError(t *testing.T, err error) *Error {
	t.Helper()
	var gateErr *Error
	require.ErrorAs(t, err, &gateErr)
	return gateErr
}

func TestGate_NewUserGetsFreeGeneration(t *testing.T) {
	store := ledger.NewMemoryStore()
	gen := &fakeGenerator{}
	g, rec := newTestGate(store, gen)
	ctx := context.Background()

	res, err := g.Generate(ctx, Request{UserID: "u1", Prompt: "draw a login flow"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.False(t, res.FreeCreditUsed)
	assert.Equal(t, "graph TD; start-->draw a login flow", res.FlowchartText)
	assert.Equal(t, models.EntitlementFree, res.Entitlement)

	entry, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, entry.FreeCreditUsed)
	assert.Equal(t, int64(0), entry.Credits)

	record := rec.last()
	require.NotNil(t, record)
	assert.True(t, record.Success)
	assert.Equal(t, models.EntitlementFree, record.Entitlement)
	assert.True(t, record.Charged())
}

func TestGate_NoCreditsRequiresPayment(t *testing.T) {
	store := ledger.NewMemoryStore()
	gen := &fakeGenerator{}
	g, rec := newTestGate(store, gen)
	ctx := context.Background()

	_, err := g.Generate(ctx, Request{UserID: "u1", Prompt: "draw a login flow"})
	require.NoError(t, err)

	_, err = g.Generate(ctx, Request{UserID: "u1", Prompt: "again"})
	require.ErrorIs(t, err, ErrPaymentRequired)
	assert.Equal(t, int64(1), gen.calls.Load(), "denied request must not reach the generator")

	gateErr := requireGateError(t, err)
	assert.Equal(t, StateDecidingEntitlement, gateErr.State)
	assert.Equal(t, models.EntitlementDenied, gateErr.Entitlement)

	record := rec.last()
	assert.False(t, record.Success)
	assert.Equal(t, models.EntitlementDenied, record.Entitlement)
	assert.False(t, record.Charged())
}

func TestGate_PaidGenerationDecrements(t *testing.T) {
	store := ledger.NewMemoryStore()
	seed(t, store, "u1", true, 3)
	g, _ := newTestGate(store, &fakeGenerator{})
	ctx := context.Background()

	res, err := g.Generate(ctx, Request{UserID: "u1", Prompt: "checkout"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.FreeCreditUsed)
	assert.Equal(t, int64(2), res.Entry.Credits)

	entry, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), entry.Credits)
}

func TestGate_ValidationTouchesNothing(t *testing.T) {
	tests := []struct {
		name string
		req  Request
	}{
		{"empty prompt", Request{UserID: "stranger", Prompt: ""}},
		{"blank prompt", Request{UserID: "stranger", Prompt: "   "}},
		{"empty user", Request{UserID: "", Prompt: "draw"}},
		{"blank user", Request{UserID: "\t", Prompt: "draw"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := ledger.NewMemoryStore()
			gen := &fakeGenerator{}
			g, rec := newTestGate(store, gen)

			_, err := g.Generate(context.Background(), tt.req)
			assert.ErrorIs(t, err, ErrValidation)
			assert.Equal(t, 0, store.Len(), "no ledger entry is created")
			assert.Equal(t, int64(0), gen.calls.Load())
			assert.Nil(t, rec.last())
		})
	}
}

func TestGate_FreeGenerationFailureKeepsFreeCredit(t *testing.T) {
	store := ledger.NewMemoryStore()
	gen := &fakeGenerator{err: errors.Join(generation.ErrGeneration, errors.New("upstream 500"))}
	g, _ := newTestGate(store, gen)
	ctx := context.Background()

	_, err := g.Generate(ctx, Request{UserID: "u1", Prompt: "p"})
	require.ErrorIs(t, err, ErrGeneration)
	assert.ErrorIs(t, err, generation.ErrGeneration, "cause stays reachable")
	assert.Equal(t, StateGenerating, requireGateError(t, err).State)

	entry, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, entry.FreeCreditUsed)

	// next attempt is still free
	gen.err = nil
	res, err := g.Generate(ctx, Request{UserID: "u1", Prompt: "p"})
	require.NoError(t, err)
	assert.False(t, res.FreeCreditUsed)
}

func TestGate_PaidGenerationFailureRefunds(t *testing.T) {
	store := ledger.NewMemoryStore()
	seed(t, store, "u1", true, 2)
	g, rec := newTestGate(store, &fakeGenerator{err: generation.ErrGeneration})
	ctx := context.Background()

	_, err := g.Generate(ctx, Request{UserID: "u1", Prompt: "p"})
	require.ErrorIs(t, err, ErrGeneration)

	entry, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), entry.Credits)

	record := rec.last()
	assert.True(t, record.Refunded)
	assert.False(t, record.Charged())
}

func TestGate_PaidGenerationFailureWithoutRefund(t *testing.T) {
	store := ledger.NewMemoryStore()
	seed(t, store, "u1", true, 2)
	g := New(store, &fakeGenerator{err: generation.ErrGeneration}, Options{RefundOnFailure: false})
	ctx := context.Background()

	_, err := g.Generate(ctx, Request{UserID: "u1", Prompt: "p"})
	require.ErrorIs(t, err, ErrGeneration)

	entry, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), entry.Credits, "consumed credit stands")
}

func TestGate_RefundFailureKeepsGenerationError(t *testing.T) {
	mem := ledger.NewMemoryStore()
	seed(t, mem, "u1", true, 1)
	store := &faultyStore{Store: mem, incrementErr: errors.New("write timeout")}
	g, rec := newTestGate(store, &fakeGenerator{err: generation.ErrGeneration})

	_, err := g.Generate(context.Background(), Request{UserID: "u1", Prompt: "p"})
	require.ErrorIs(t, err, ErrGeneration)
	assert.NotErrorIs(t, err, ErrUpstream)
	assert.False(t, rec.last().Refunded)
}

func TestGate_LedgerFailures(t *testing.T) {
	storeDown := errors.New("connection refused")

	tests := []struct {
		name      string
		freeUsed  bool
		credits   int64
		configure func(s *faultyStore)
		state     State
		genCalls  int64
	}{
		{
			name:      "lookup fails",
			configure: func(s *faultyStore) { s.getErr = storeDown },
			state:     StateResolvingUser,
		},
		{
			name:      "decrement fails",
			freeUsed:  true,
			credits:   1,
			configure: func(s *faultyStore) { s.decrementErr = storeDown },
			state:     StateDecidingEntitlement,
		},
		{
			name:      "marking free credit fails",
			configure: func(s *faultyStore) { s.markErr = storeDown },
			state:     StateGenerating,
			genCalls:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := ledger.NewMemoryStore()
			seed(t, mem, "u1", tt.freeUsed, tt.credits)
			store := &faultyStore{Store: mem}
			tt.configure(store)
			gen := &fakeGenerator{}
			g, _ := newTestGate(store, gen)

			_, err := g.Generate(context.Background(), Request{UserID: "u1", Prompt: "p"})
			require.ErrorIs(t, err, ErrUpstream)
			assert.ErrorIs(t, err, storeDown)
			assert.Equal(t, tt.state, requireGateError(t, err).State)
			assert.Equal(t, tt.genCalls, gen.calls.Load())
		})
	}
}

func TestGate_LostRaceForLastCredit(t *testing.T) {
	mem := ledger.NewMemoryStore()
	seed(t, mem, "u1", true, 0)
	stale := &models.LedgerEntry{UserID: "u1", FreeCreditUsed: true, Credits: 1}
	store := &faultyStore{Store: mem, staleGet: stale}
	gen := &fakeGenerator{}
	g, _ := newTestGate(store, gen)

	_, err := g.Generate(context.Background(), Request{UserID: "u1", Prompt: "p"})
	require.ErrorIs(t, err, ErrPaymentRequired)
	assert.ErrorIs(t, err, ledger.ErrInsufficientCredit)
	assert.Equal(t, int64(0), gen.calls.Load())
}

func TestGate_ConcurrentRequestsNeverOverspend(t *testing.T) {
	store := ledger.NewMemoryStore()
	seed(t, store, "u1", true, 3)
	g, _ := newTestGate(store, &fakeGenerator{})

	var (
		wg        sync.WaitGroup
		successes atomic.Int64
		denied    atomic.Int64
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := g.Generate(context.Background(), Request{UserID: "u1", Prompt: "p"})
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, ErrPaymentRequired):
				denied.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(3), successes.Load())
	assert.Equal(t, int64(7), denied.Load())

	entry, err := store.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), entry.Credits)
}

func TestGate_LastCreditTwoRequests(t *testing.T) {
	store := ledger.NewMemoryStore()
	seed(t, store, "u1", true, 1)
	g, _ := newTestGate(store, &fakeGenerator{})

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := g.Generate(context.Background(), Request{UserID: "u1", Prompt: "p"})
			errs <- err
		}()
	}

	var ok, paymentRequired int
	for i := 0; i < 2; i++ {
		err := <-errs
		if err == nil {
			ok++
		} else if errors.Is(err, ErrPaymentRequired) {
			paymentRequired++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, paymentRequired)
}

func TestGate_RecorderFailureDoesNotFailRequest(t *testing.T) {
	store := ledger.NewMemoryStore()
	rec := &memoryRecorder{err: errors.New("queue full")}
	opts := DefaultOptions()
	opts.Recorder = rec
	g := New(store, &fakeGenerator{}, opts)

	res, err := g.Generate(context.Background(), Request{UserID: "u1", Prompt: "p"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.NotNil(t, rec.last())
}

func TestError_Message(t *testing.T) {
	err := &Error{State: StateGenerating, Err: ErrGeneration, Cause: errors.New("timeout")}
	assert.Equal(t, "generation failed in GENERATING: timeout", err.Error())

	bare := &Error{State: StateDecidingEntitlement, Err: ErrPaymentRequired}
	assert.Equal(t, "payment required in DECIDING_ENTITLEMENT", bare.Error())
}
