// Package queue buffers work between request handlers and background
// writers. Two backends are provided:
//
//  1. MemoryQueue: buffered channel, lost on restart.
//  2. RedisQueue: Redis list, survives restarts and can be shared by several
//     gateway processes.
//
// Both expose the same Queue interface so workers do not care which one
// they drain. Items that cannot be written after retries go to a
// DeadLetterQueue.
package queue

import (
	"context"
	"time"
)

// Queue is a FIFO of opaque items
type Queue interface {
	// Enqueue adds an item to the queue
	Enqueue(ctx context.Context, item interface{}) error

	// Dequeue blocks until at least one item is available and returns up to maxItems
	Dequeue(ctx context.Context, maxItems int) ([]interface{}, error)

	// DequeueWithTimeout returns up to maxItems, or an empty slice if nothing
	// arrives before timeout
	DequeueWithTimeout(ctx context.Context, maxItems int, timeout time.Duration) ([]interface{}, error)

	// Length returns the current queue length
	Length(ctx context.Context) (int, error)

	// Close shuts down the queue
	Close() error
}

// DeadLetterQueue holds items that exhausted their retries
type DeadLetterQueue interface {
	Add(ctx context.Context, item interface{}, err error) error
	List(ctx context.Context, maxItems int) ([]DeadLetterItem, error)
	Remove(ctx context.Context, id string) error
	Close() error
}

// DeadLetterItem is a failed item with the error that sent it here
type DeadLetterItem struct {
	ID        string      `json:"id"`
	Item      interface{} `json:"item"`
	Error     string      `json:"error"`
	Timestamp time.Time   `json:"timestamp"`
}

// Config holds queue and worker settings
type Config struct {
	// BatchSize is the maximum number of items handed to a worker at once
	BatchSize int

	// BatchTimeout is how long a worker waits for the first item of a batch
	BatchTimeout time.Duration

	// MaxRetries is the maximum number of retry attempts per item
	MaxRetries int

	// RetryBackoff is the initial backoff, doubled per attempt
	RetryBackoff time.Duration

	// QueueName is the name/key for the queue
	QueueName string
}

// DefaultConfig returns default queue configuration
func DefaultConfig(queueName string) *Config {
	return &Config{
		BatchSize:    100,
		BatchTimeout: 5 * time.Second,
		MaxRetries:   3,
		RetryBackoff: 1 * time.Second,
		QueueName:    queueName,
	}
}
