// Package queue is the dispatch work-item intake: one item per created
// job, carrying only the job id. Delivery is at-least-once (the SQS
// backend redelivers un-acked items after the visibility timeout), so
// the dispatcher must tolerate duplicates.
package queue

import "context"

// Item is a single "process this job" work item.
type Item struct {
	JobID string

	// Handle is the backend receipt used to ack the item. Empty for
	// backends where the receive is itself the ack.
	Handle string
}

// Producer enqueues dispatch work items.
type Producer interface {
	Enqueue(ctx context.Context, jobID string) error
}

// Consumer delivers dispatch work items to the dispatcher pool.
type Consumer interface {
	// Receive blocks up to the backend's poll window and returns zero
	// or more items. A nil error with no items just means the window
	// elapsed empty.
	Receive(ctx context.Context) ([]Item, error)
	// Ack marks an item as handled. Items that are never acked are
	// redelivered by backends that support it.
	Ack(ctx context.Context, item Item) error
}
