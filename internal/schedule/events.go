package schedule

import (
	"sync"
	"time"
)

// DispatchEvent is published after every dispatch attempt.
type DispatchEvent struct {
	Key
	RunID string    `json:"run_id,omitempty"`
	Time  time.Time `json:"time"`
	Error string    `json:"error,omitempty"`
}

const subscriberBuffer = 32

// Broadcaster fans dispatch events out to subscribers. Slow subscribers
// miss events rather than block dispatch. A nil Broadcaster drops everything.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan DispatchEvent
	nextID int
}

// NewBroadcaster creates an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan DispatchEvent)}
}

// Subscribe returns a channel of events and a function that closes it.
func (b *Broadcaster) Subscribe() (<-chan DispatchEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan DispatchEvent, subscriberBuffer)
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers ev to every subscriber that has room.
func (b *Broadcaster) Publish(ev DispatchEvent) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribers returns the current subscriber count.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
