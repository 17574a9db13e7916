package worker

import (
	"context"
	"time"

	"db2es/internal/models"
)

// Channel is the bounded FIFO between a task's reader and writer.
// Submit blocks while the channel is full; records are never dropped.
type Channel struct {
	ch chan models.SyncRecord
}

func NewChannel(capacity int) *Channel {
	if capacity <= 0 {
		capacity = models.DefaultChannelCapacity
	}
	return &Channel{ch: make(chan models.SyncRecord, capacity)}
}

// Submit enqueues rec, waiting for free space. It only fails when ctx is done.
func (c *Channel) Submit(ctx context.Context, rec models.SyncRecord) error {
	select {
	case c.ch <- rec:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive waits up to timeout for the next record.
func (c *Channel) Receive(timeout time.Duration) (models.SyncRecord, bool) {
	select {
	case rec := <-c.ch:
		return rec, true
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case rec := <-c.ch:
		return rec, true
	case <-timer.C:
		return models.SyncRecord{}, false
	}
}

func (c *Channel) Len() int { return len(c.ch) }

func (c *Channel) Cap() int { return cap(c.ch) }
