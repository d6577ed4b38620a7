// Package buffer provides generic, thread-safe bounded buffers with
// configurable overflow policies.
//
// The circular buffer is the backing store for subscription event queues and
// similar single-producer/single-consumer paths: a slow consumer never blocks
// the producer when the DropOldest policy is in effect, and every drop is
// counted in the always-on statistics.
package buffer

// Buffer is a generic bounded buffer parameterized by item type T.
type Buffer[T any] interface {
	// Write adds an item to the buffer. Behavior when the buffer is full
	// depends on the overflow policy.
	Write(item T) error

	// Read retrieves and removes one item. Returns the zero value and false
	// when the buffer is empty.
	Read() (T, bool)

	// ReadBatch retrieves and removes up to max items.
	ReadBatch(max int) []T

	// Peek retrieves one item without removing it.
	Peek() (T, bool)

	// Size returns the current number of items.
	Size() int

	// Capacity returns the maximum number of items the buffer can hold.
	Capacity() int

	// IsEmpty returns true if the buffer contains no items.
	IsEmpty() bool

	// Clear removes all items.
	Clear()

	// Stats returns buffer statistics (always collected).
	Stats() *Statistics

	// Close shuts down the buffer and wakes any blocked writers.
	Close() error
}

// OverflowPolicy defines how the buffer behaves at capacity.
type OverflowPolicy int

const (
	// DropOldest removes the oldest item to make room for new items.
	DropOldest OverflowPolicy = iota

	// DropNewest drops incoming items while the buffer is full.
	DropNewest

	// Block causes Write to wait until space is available.
	Block
)

// String returns a human-readable representation of the overflow policy.
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	case Block:
		return "Block"
	default:
		return "Unknown"
	}
}

// DropCallback is invoked with each item dropped by the overflow policy.
type DropCallback[T any] func(item T)

// NewCircular creates a bounded circular buffer with the given capacity.
// Statistics are always collected; behavior is configured via options.
func NewCircular[T any](capacity int, options ...Option[T]) Buffer[T] {
	return newCircular(capacity, applyOptions(options...))
}
