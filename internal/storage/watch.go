package storage

import "sync"

// Broadcaster fans committed changes out to subscribers. Backends embed it
// to implement Store.Subscribe.
type Broadcaster struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]ChangeFunc
}

// Subscribe registers fn and returns a function that removes it.
func (b *Broadcaster) Subscribe(fn ChangeFunc) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs == nil {
		b.subs = make(map[int]ChangeFunc)
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

// Publish delivers c to every subscriber synchronously.
func (b *Broadcaster) Publish(c Change) {
	b.mu.RLock()
	fns := make([]ChangeFunc, 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(c)
	}
}
