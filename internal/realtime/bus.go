package realtime

import "sync"

// subscriberBuffer bounds each listener channel. A listener that cannot keep
// up loses events rather than blocking the publisher; SSE clients recover by
// pulling with their last cursor.
const subscriberBuffer = 16

type subscription struct {
	userID string
	ch     chan Event
}

// localBus is the process-local broadcaster. Every instance has one; it is
// the only delivery path while the distributed channel is down.
type localBus struct {
	mu   sync.RWMutex
	subs map[*subscription]struct{}
}

func newLocalBus() *localBus {
	return &localBus{subs: make(map[*subscription]struct{})}
}

// subscribe registers a listener for one user's events. The returned cancel
// is idempotent and safe to call from any goroutine.
func (b *localBus) subscribe(userID string) (<-chan Event, func()) {
	sub := &subscription{userID: userID, ch: make(chan Event, subscriberBuffer)}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, sub)
			b.mu.Unlock()
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}

// publish fans an event out to the user's listeners without blocking.
func (b *localBus) publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs {
		if sub.userID != ev.UserID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
		}
	}
}

func (b *localBus) count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
