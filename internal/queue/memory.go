package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultDeadLetterCapacity bounds MemoryDeadLetterQueue when the router builds one
const DefaultDeadLetterCapacity = 1000

// MemoryQueue is a bounded in-process Queue.
// Enqueue never blocks: a full buffer yields ErrQueueFull. After Close,
// buffered items can still be dequeued so a stopping worker can flush them.
type MemoryQueue struct {
	items     chan interface{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewMemoryQueue creates a queue buffering ten batches
func NewMemoryQueue(config *Config) *MemoryQueue {
	if config == nil {
		config = DefaultConfig("memory")
	}
	capacity := config.BatchSize * 10
	if capacity <= 0 {
		capacity = 1
	}

	return &MemoryQueue{
		items: make(chan interface{}, capacity),
		done:  make(chan struct{}),
	}
}

func (q *MemoryQueue) closed() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}

// Enqueue adds an item or fails immediately
func (q *MemoryQueue) Enqueue(ctx context.Context, item interface{}) error {
	if q.closed() {
		return ErrQueueClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case q.items <- item:
		return nil
	default:
		return ErrQueueFull
	}
}

// Dequeue blocks for the first item, then takes whatever else is buffered
func (q *MemoryQueue) Dequeue(ctx context.Context, maxItems int) ([]interface{}, error) {
	return q.dequeue(ctx, maxItems, nil)
}

// DequeueWithTimeout is Dequeue with an upper bound on the wait. An empty
// slice means nothing arrived in time.
func (q *MemoryQueue) DequeueWithTimeout(ctx context.Context, maxItems int, timeout time.Duration) ([]interface{}, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	return q.dequeue(ctx, maxItems, timer.C)
}

func (q *MemoryQueue) dequeue(ctx context.Context, maxItems int, timeout <-chan time.Time) ([]interface{}, error) {
	if maxItems < 1 {
		maxItems = 1
	}

	select {
	case item := <-q.items:
		return q.fill([]interface{}{item}, maxItems), nil
	default:
	}

	select {
	case item := <-q.items:
		return q.fill([]interface{}{item}, maxItems), nil
	case <-q.done:
		// a late Enqueue may have raced with Close
		select {
		case item := <-q.items:
			return q.fill([]interface{}{item}, maxItems), nil
		default:
			return nil, ErrQueueClosed
		}
	case <-timeout:
		return []interface{}{}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *MemoryQueue) fill(items []interface{}, maxItems int) []interface{} {
	for len(items) < maxItems {
		select {
		case item := <-q.items:
			items = append(items, item)
		default:
			return items
		}
	}
	return items
}

// Length returns the number of buffered items, also after Close
func (q *MemoryQueue) Length(ctx context.Context) (int, error) {
	return len(q.items), nil
}

// Close rejects further Enqueue calls and wakes blocked readers
func (q *MemoryQueue) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	return nil
}

// MemoryDeadLetterQueue keeps the most recent failed records.
// When full, the oldest entry is evicted.
type MemoryDeadLetterQueue struct {
	mu       sync.Mutex
	items    []DeadLetterItem
	capacity int
	evicted  int
	closed   bool
}

// NewMemoryDeadLetterQueue creates a dead letter list holding at most
// capacity items. capacity <= 0 means unbounded.
func NewMemoryDeadLetterQueue(capacity int) *MemoryDeadLetterQueue {
	return &MemoryDeadLetterQueue{capacity: capacity}
}

// Add records a failed item
func (q *MemoryDeadLetterQueue) Add(ctx context.Context, item interface{}, err error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	if q.capacity > 0 && len(q.items) >= q.capacity {
		q.items = q.items[1:]
		q.evicted++
	}
	q.items = append(q.items, newDeadLetterItem(item, err))
	return nil
}

// Evicted reports how many dead letters were dropped to stay within capacity
func (q *MemoryDeadLetterQueue) Evicted() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.evicted
}

// List returns up to maxItems failed items, oldest first. maxItems <= 0 means all.
func (q *MemoryDeadLetterQueue) List(ctx context.Context, maxItems int) ([]DeadLetterItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrQueueClosed
	}

	n := len(q.items)
	if maxItems > 0 && maxItems < n {
		n = maxItems
	}
	return append([]DeadLetterItem(nil), q.items[:n]...), nil
}

// Remove deletes a failed item by id
func (q *MemoryDeadLetterQueue) Remove(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	for i := range q.items {
		if q.items[i].ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return nil
		}
	}
	return ErrItemNotFound
}

// Close discards all dead letters
func (q *MemoryDeadLetterQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.items = nil
	return nil
}

func newDeadLetterItem(item interface{}, err error) DeadLetterItem {
	var msg string
	if err != nil {
		msg = err.Error()
	}
	return DeadLetterItem{
		ID:        uuid.NewString(),
		Item:      item,
		Error:     msg,
		Timestamp: time.Now().UTC(),
	}
}
