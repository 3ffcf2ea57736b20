package storage

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowchart_gateway/internal/models"
	"flowchart_gateway/internal/queue"
)

// fakeWriter records writes and can be told to fail
type fakeWriter struct {
	mu         sync.Mutex
	records    []*models.GenerationRecord
	batchCalls int
	failBatch  bool
	failSingle int
}

func (w *fakeWriter) Create(ctx context.Context, record *models.GenerationRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.failSingle > 0 {
		w.failSingle--
		return errors.New("simulated insert failure")
	}
	w.records = append(w.records, record)
	return nil
}

func (w *fakeWriter) CreateBatch(ctx context.Context, records []*models.GenerationRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.batchCalls++
	if w.failBatch {
		return errors.New("simulated batch failure")
	}
	w.records = append(w.records, records...)
	return nil
}

func (w *fakeWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.records)
}

func testQueueConfig() *queue.Config {
	cfg := queue.DefaultConfig("test-history")
	cfg.BatchSize = 10
	cfg.BatchTimeout = 20 * time.Millisecond
	cfg.MaxRetries = 2
	cfg.RetryBackoff = time.Millisecond
	return cfg
}

func newRecord(userID string) *models.GenerationRecord {
	return &models.GenerationRecord{
		RequestID:   uuid.New(),
		UserID:      userID,
		Entitlement: models.EntitlementFree,
		Success:     true,
	}
}

func TestHistoryWorker_PersistsBatches(t *testing.T) {
	cfg := testQueueConfig()
	q := queue.NewMemoryQueue(cfg)
	defer q.Close()
	writer := &fakeWriter{}

	worker := NewHistoryWorker(q, nil, writer, cfg)
	ctx := context.Background()
	worker.Start(ctx)

	for i := 0; i < 25; i++ {
		require.NoError(t, worker.Record(ctx, newRecord("u1")))
	}

	assert.Eventually(t, func() bool { return writer.count() == 25 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, worker.Stop())
}

func TestHistoryWorker_FallsBackToSingleInserts(t *testing.T) {
	cfg := testQueueConfig()
	q := queue.NewMemoryQueue(cfg)
	defer q.Close()
	dlq := queue.NewMemoryDeadLetterQueue(0)
	writer := &fakeWriter{failBatch: true, failSingle: 3}

	worker := NewHistoryWorker(q, dlq, writer, cfg)
	ctx := context.Background()

	require.NoError(t, worker.Record(ctx, newRecord("doomed")))
	require.NoError(t, worker.Record(ctx, newRecord("lucky")))

	// first record exhausts its 3 attempts, second succeeds first try
	n := worker.processBatch(ctx)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, writer.count())

	failed, err := dlq.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "doomed", failed[0].Item.(*models.GenerationRecord).UserID)
}

func TestHistoryWorker_StopDrains(t *testing.T) {
	cfg := testQueueConfig()
	q := queue.NewMemoryQueue(cfg)
	defer q.Close()
	writer := &fakeWriter{}

	worker := NewHistoryWorker(q, nil, writer, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	worker.Start(ctx)

	for i := 0; i < 5; i++ {
		require.NoError(t, worker.Record(context.Background(), newRecord("u1")))
	}

	require.NoError(t, worker.Stop())
	assert.Equal(t, 5, writer.count())
}

func TestDecodeRecord(t *testing.T) {
	record := newRecord("u1")
	raw, err := json.Marshal(record)
	require.NoError(t, err)

	for name, item := range map[string]interface{}{
		"pointer": record,
		"value":   *record,
		"bytes":   raw,
		"raw":     json.RawMessage(raw),
	} {
		t.Run(name, func(t *testing.T) {
			got, err := decodeRecord(item)
			require.NoError(t, err)
			assert.Equal(t, record.RequestID, got.RequestID)
		})
	}

	_, err = decodeRecord(42)
	assert.Error(t, err)
}
