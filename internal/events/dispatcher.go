// Package events provides a typed in-process event dispatcher.
//
// Each subscriber owns a bounded channel; Publish never blocks a producer.
// Delivery is at-least-once from the consumer's perspective (a consumer
// that re-subscribes may see events again), so consumers dedupe by content.
package events

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/haoran/skuflow/internal/logger"
)

// Topic identifies an event stream.
type Topic string

const (
	TopicJobCreated          Topic = "JobCreated"
	TopicEvaluationCompleted Topic = "EvaluationCompleted"
	TopicPageCompleted       Topic = "PageCompleted"
	TopicTaskCreated         Topic = "TaskCreated"
	TopicTaskCompleted       Topic = "TaskCompleted"
	TopicJobOrphaned         Topic = "JobOrphaned"
	TopicJobRequeued         Topic = "JobRequeued"
)

// Event is one published occurrence.
type Event struct {
	Topic   Topic
	JobID   string
	Payload map[string]interface{}
}

// Dispatcher fans events out to per-subscriber bounded channels.
// Construct one per process and inject it into each component.
type Dispatcher struct {
	mu      sync.RWMutex
	subs    map[Topic][]chan Event
	bufSize int
	dropped atomic.Int64
	closed  bool
}

// NewDispatcher creates a dispatcher with the given per-subscriber buffer.
// Parameters:
//   - bufSize: channel capacity per subscription; <=0 uses 64.
// Returns:
//   - *Dispatcher: ready dispatcher.
func NewDispatcher(bufSize int) *Dispatcher {
	if bufSize <= 0 {
		bufSize = 64
	}
	return &Dispatcher{
		subs:    make(map[Topic][]chan Event),
		bufSize: bufSize,
	}
}

// Subscribe registers a new subscriber for the given topics.
// The returned channel is closed when the dispatcher shuts down.
func (d *Dispatcher) Subscribe(topics ...Topic) <-chan Event {
	ch := make(chan Event, d.bufSize)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		close(ch)
		return ch
	}
	for _, t := range topics {
		d.subs[t] = append(d.subs[t], ch)
	}
	return ch
}

// Publish delivers an event to every subscriber of its topic without
// blocking. A full subscriber channel drops the event and bumps the drop
// counter; consumers tolerate gaps by re-reading state from the database.
func (d *Dispatcher) Publish(ctx context.Context, ev Event) {
	d.mu.RLock()
	chans := d.subs[ev.Topic]
	closed := d.closed
	d.mu.RUnlock()
	if closed {
		return
	}
	for _, ch := range chans {
		select {
		case ch <- ev:
		default:
			d.dropped.Add(1)
			logger.CtxWarn(ctx, "event dropped: topic=%s job_id=%s", ev.Topic, ev.JobID)
		}
	}
}

// Dropped returns the number of events dropped due to full subscribers.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Close shuts the dispatcher down and closes all subscriber channels.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	seen := make(map[chan Event]bool)
	for _, chans := range d.subs {
		for _, ch := range chans {
			if !seen[ch] {
				seen[ch] = true
				close(ch)
			}
		}
	}
	d.subs = make(map[Topic][]chan Event)
}
