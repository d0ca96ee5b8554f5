package pipeline

import "sync"

// Notifier fans state snapshots out to subscribers. Each subscriber holds at
// most one pending value; a slow subscriber only ever sees the newest one.
type Notifier[T any] struct {
	mu   sync.Mutex
	subs map[int]chan T
	next int
}

// Subscribe registers a subscriber. The returned cancel func unregisters it
// and closes the channel.
func (n *Notifier[T]) Subscribe() (<-chan T, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.subs == nil {
		n.subs = make(map[int]chan T)
	}
	id := n.next
	n.next++
	ch := make(chan T, 1)
	n.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			delete(n.subs, id)
			close(ch)
		})
	}
}

// Publish delivers v to every subscriber without blocking.
func (n *Notifier[T]) Publish(v T) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, ch := range n.subs {
		select {
		case ch <- v:
			continue
		default:
		}
		// Replace the stale pending value
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- v:
		default:
		}
	}
}
