// Package supervisor drives automated addition runs. This file implements
// the progress-event stream consumed by the dashboard for live display.
package supervisor

import (
	"sync"
	"time"
)

// Event is one progress update, emitted after every recorded outcome and
// once more when the run reaches a terminal status.
type Event struct {
	RunID         string    `json:"run_id"`
	DestinationID string    `json:"destination_id"`
	Status        string    `json:"status"`
	Phone         string    `json:"phone,omitempty"`
	Outcome       string    `json:"outcome,omitempty"`
	WorkerID      uint      `json:"worker_id,omitempty"`
	WorkerName    string    `json:"worker_name,omitempty"`
	WorkerDaily   int       `json:"worker_daily_count,omitempty"`
	Processed     int       `json:"processed"`
	Success       int       `json:"success"`
	Invited       int       `json:"invited"`
	Failed        int       `json:"failed"`
	PendingLeft   int64     `json:"pending_left"`
	Percent       float64   `json:"percent"`
	At            time.Time `json:"at"`
}

// subscriberBuffer is the per-subscriber channel depth. A slow consumer
// drops events rather than stalling the dispatch loop.
const subscriberBuffer = 16

// broadcaster fans Event values out to any number of subscribers.
// It is safe for concurrent use.
type broadcaster struct {
	mu     sync.Mutex
	subs   map[chan Event]struct{}
	closed bool
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[chan Event]struct{})}
}

// subscribe registers a new consumer. The returned cancel function must be
// called when the consumer is done; it is idempotent. After the broadcaster
// closes, the channel is closed and no further events arrive.
func (b *broadcaster) subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	if b.closed {
		close(ch)
		b.mu.Unlock()
		return ch, func() {}
	}
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			if _, ok := b.subs[ch]; ok {
				delete(b.subs, ch)
				close(ch)
			}
			b.mu.Unlock()
		})
	}
	return ch, cancel
}

// publish delivers the event to every subscriber, dropping it for any
// subscriber whose buffer is full.
func (b *broadcaster) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// close shuts the stream down, closing all subscriber channels.
func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
}
