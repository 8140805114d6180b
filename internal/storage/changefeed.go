package storage

import (
	"context"
	"sync"
)

// Changefeed fans out change notifications to watchers of a key. Keys are
// owner ids for album collections and album ids for memory collections.
// Signals carry no payload; watchers re-read their snapshot on delivery.
type Changefeed struct {
	mu       sync.RWMutex
	watchers map[string]map[int64]chan struct{}
	nextID   int64
}

// NewChangefeed constructs an empty feed hub.
func NewChangefeed() *Changefeed {
	return &Changefeed{watchers: make(map[string]map[int64]chan struct{})}
}

// Watch registers a watcher for the key. The returned channel coalesces
// bursts; a pending signal means at least one change happened since the
// last read. The cancel func is idempotent and also runs when ctx ends.
func (f *Changefeed) Watch(ctx context.Context, key string) (<-chan struct{}, func()) {
	if key == "" {
		signals := make(chan struct{})
		close(signals)
		return signals, func() {}
	}
	signals := make(chan struct{}, 1)
	watcherID := f.register(key, signals)
	var once sync.Once
	cancel := func() {
		once.Do(func() { f.unregister(key, watcherID) })
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return signals, cancel
}

// Publish notifies every watcher of the key without blocking. A watcher
// with a signal already pending is skipped; the pending signal covers
// this change too.
func (f *Changefeed) Publish(key string) {
	if key == "" {
		return
	}
	f.mu.RLock()
	watchers := f.watchers[key]
	if len(watchers) == 0 {
		f.mu.RUnlock()
		return
	}
	copies := make([]chan struct{}, 0, len(watchers))
	for _, signals := range watchers {
		copies = append(copies, signals)
	}
	f.mu.RUnlock()
	for _, signals := range copies {
		select {
		case signals <- struct{}{}:
		default:
		}
	}
}

func (f *Changefeed) register(key string, signals chan struct{}) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	if _, ok := f.watchers[key]; !ok {
		f.watchers[key] = make(map[int64]chan struct{})
	}
	f.watchers[key][f.nextID] = signals
	return f.nextID
}

func (f *Changefeed) unregister(key string, watcherID int64) {
	f.mu.Lock()
	watchers := f.watchers[key]
	if watchers != nil {
		delete(watchers, watcherID)
		if len(watchers) == 0 {
			delete(f.watchers, key)
		}
	}
	f.mu.Unlock()
}
