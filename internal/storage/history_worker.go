package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"flowchart_gateway/internal/models"
	"flowchart_gateway/internal/queue"
	"flowchart_gateway/internal/utils"
)

// GenerationWriter is the persistence side of the history worker
type GenerationWriter interface {
	Create(ctx context.Context, record *models.GenerationRecord) error
	CreateBatch(ctx context.Context, records []*models.GenerationRecord) error
}

// HistoryWorker drains generation records from a queue and writes them in batches
type HistoryWorker struct {
	queue       queue.Queue
	dlq         queue.DeadLetterQueue
	writer      GenerationWriter
	config      *queue.Config
	logger      *utils.Logger
	stopChan    chan struct{}
	stoppedChan chan struct{}
}

// NewHistoryWorker creates a new history worker
func NewHistoryWorker(q queue.Queue, dlq queue.DeadLetterQueue, writer GenerationWriter, config *queue.Config) *HistoryWorker {
	if config == nil {
		config = queue.DefaultConfig("generations")
	}

	return &HistoryWorker{
		queue:       q,
		dlq:         dlq,
		writer:      writer,
		config:      config,
		logger:      utils.NewLogger("history-worker"),
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}
}

// Start starts the worker goroutine
func (w *HistoryWorker) Start(ctx context.Context) {
	go w.run(ctx)
}

// Stop signals the worker, waits for the loop to exit, then drains what is left
func (w *HistoryWorker) Stop() error {
	close(w.stopChan)
	<-w.stoppedChan

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	w.drain(ctx)
	return nil
}

// Record enqueues a generation record for asynchronous persistence
func (w *HistoryWorker) Record(ctx context.Context, record *models.GenerationRecord) error {
	return w.queue.Enqueue(ctx, record)
}

func (w *HistoryWorker) run(ctx context.Context) {
	defer close(w.stoppedChan)

	for {
		select {
		case <-w.stopChan:
			w.logger.Info("History worker stopping")
			return
		case <-ctx.Done():
			w.logger.Info("History worker context cancelled")
			return
		default:
			w.processBatch(ctx)
		}
	}
}

// drain flushes remaining items without blocking on an empty queue
func (w *HistoryWorker) drain(ctx context.Context) {
	for {
		n, err := w.queue.Length(ctx)
		if err != nil || n == 0 {
			return
		}
		if w.processBatch(ctx) == 0 {
			return
		}
	}
}

// processBatch handles one batch and returns how many items were dequeued
func (w *HistoryWorker) processBatch(ctx context.Context) int {
	items, err := w.queue.DequeueWithTimeout(ctx, w.config.BatchSize, w.config.BatchTimeout)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error("Failed to dequeue generation records", "error", err)
			time.Sleep(1 * time.Second)
		}
		return 0
	}

	if len(items) == 0 {
		return 0
	}

	records := make([]*models.GenerationRecord, 0, len(items))
	for _, item := range items {
		record, err := decodeRecord(item)
		if err != nil {
			w.logger.Error("Failed to decode generation record", "error", err)
			continue
		}
		records = append(records, record)
	}

	if len(records) == 0 {
		return len(items)
	}

	if err := w.writer.CreateBatch(ctx, records); err != nil {
		w.logger.Warn("Batch insert failed, falling back to single inserts", "error", err, "count", len(records))
		for _, record := range records {
			if err := w.processItem(ctx, record); err != nil {
				w.logger.Error("Failed to persist generation record", "request_id", record.RequestID, "error", err)
			}
		}
		return len(items)
	}

	w.logger.Debug("Persisted generation batch", "count", len(records))
	return len(items)
}

// processItem writes one record with exponential backoff, then gives up to the DLQ
func (w *HistoryWorker) processItem(ctx context.Context, record *models.GenerationRecord) error {
	var lastErr error
	for attempt := 0; attempt <= w.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := w.config.RetryBackoff * time.Duration(1<<uint(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if err := w.writer.Create(ctx, record); err != nil {
			lastErr = err
			continue
		}
		return nil
	}

	if w.dlq != nil {
		if err := w.dlq.Add(ctx, record, lastErr); err != nil {
			w.logger.Error("Failed to add to dead letter queue", "error", err)
		} else {
			w.logger.Warn("Generation record moved to DLQ", "request_id", record.RequestID)
		}
	}

	return fmt.Errorf("%w: %v", queue.ErrMaxRetriesExceeded, lastErr)
}

// QueueLength returns the number of records waiting to be written
func (w *HistoryWorker) QueueLength(ctx context.Context) (int, error) {
	return w.queue.Length(ctx)
}

func decodeRecord(item interface{}) (*models.GenerationRecord, error) {
	switch v := item.(type) {
	case *models.GenerationRecord:
		return v, nil
	case models.GenerationRecord:
		return &v, nil
	case []byte:
		var record models.GenerationRecord
		return &record, json.Unmarshal(v, &record)
	case json.RawMessage:
		var record models.GenerationRecord
		return &record, json.Unmarshal(v, &record)
	default:
		return nil, fmt.Errorf("unsupported queue item type %T", item)
	}
}
