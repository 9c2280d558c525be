package journal

import "sync"

// wakeSet holds one coalescing signal channel per consumer.
//
// Each channel is buffered with size 1: any number of commits between two
// receives collapse into a single wake-up.
type wakeSet struct {
	mu     sync.Mutex
	chans  map[string]chan struct{}
	closed bool
}

func newWakeSet() *wakeSet {
	return &wakeSet{chans: map[string]chan struct{}{}}
}

// channel returns the consumer's signal channel, creating it on first use.
// After close, a closed channel is returned so waiters never block.
func (w *wakeSet) channel(consumer string) <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()

	ch, ok := w.chans[consumer]
	if !ok {
		ch = make(chan struct{}, 1)
		if w.closed {
			close(ch)
		}
		w.chans[consumer] = ch
	}
	return ch
}

// notify signals every consumer without blocking.
func (w *wakeSet) notify() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	for _, ch := range w.chans {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// close wakes all waiters permanently.
func (w *wakeSet) close() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	w.closed = true
	for _, ch := range w.chans {
		close(ch)
	}
}
