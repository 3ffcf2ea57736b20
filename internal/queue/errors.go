package queue

import "errors"

var (
	// ErrQueueClosed is returned once a queue has been closed and, for reads,
	// fully drained
	ErrQueueClosed = errors.New("queue is closed")

	// ErrQueueFull is returned by MemoryQueue.Enqueue when the buffer is at capacity.
	// Callers recording history drop the item rather than stall a request.
	ErrQueueFull = errors.New("queue is full")

	// ErrItemNotFound is returned when removing an unknown dead letter
	ErrItemNotFound = errors.New("dead letter not found")

	// ErrMaxRetriesExceeded wraps the last write error of an item that gave up
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
)
