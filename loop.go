package applogger

import (
	"context"
	"fmt"
	"time"
)

const defaultDeliveryInterval = time.Second

// runLoop ships one record per tick until ctx is done. It is the only consumer
// of the queue while the client is running.
func (c *Client) runLoop(ctx context.Context, sessionID string, transport Transport) {
	timer := time.NewTimer(c.interval)
	defer timer.Stop()

	for {
		if r, ok := c.queue.TryPopFront(); ok {
			c.deliver(ctx, sessionID, transport, r)
		}

		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			timer.Reset(c.interval)
		}
	}
}

// drain ships the records queued when it was called, one attempt each and
// without pausing. Records added while it runs are left for the next session.
func (c *Client) drain(ctx context.Context, sessionID string, transport Transport) int {
	records := c.queue.Drain()
	for _, r := range records {
		c.deliver(ctx, sessionID, transport, r)
	}
	return len(records)
}

// deliver makes a single delivery attempt. A failed record is not requeued.
func (c *Client) deliver(ctx context.Context, sessionID string, transport Transport, r *Record) bool {
	if r.SessionID == "" {
		r.SessionID = sessionID
	}

	resp, err := transport.Post(ctx, PathLog, r)
	if err == nil && !resp.OK {
		err = fmt.Errorf("collector returned status: %d", resp.StatusCode)
	}
	if err != nil {
		c.stats.failed.Add(1)
		c.logger.Warn("failed to deliver record, dropping it",
			"session_id", sessionID,
			"kind", r.Kind,
			"error", err,
			"pending", c.queue.Len())
		if c.onFailure != nil {
			c.onFailure(r, err)
		}
		return false
	}

	c.stats.delivered.Add(1)
	return true
}
