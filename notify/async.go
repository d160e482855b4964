package notify

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Async decouples a slow sink from the caller. Emit enqueues and returns;
// when the buffer is full the event is dropped and counted.
type Async struct {
	next    Sink
	ch      chan Event
	done    chan struct{}
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

func NewAsync(next Sink, buffer int) *Async {
	if buffer < 1 {
		buffer = 1
	}
	a := &Async{next: next, ch: make(chan Event, buffer), done: make(chan struct{})}
	go a.loop()
	return a
}

func (a *Async) loop() {
	defer close(a.done)
	for e := range a.ch {
		a.next.Emit(e)
	}
}

func (a *Async) Emit(e Event) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.dropped.Add(1)
		return
	}
	select {
	case a.ch <- e:
	default:
		a.dropped.Add(1)
	}
}

// Dropped is the number of events lost to a full buffer or a closed sink.
func (a *Async) Dropped() int64 { return a.dropped.Load() }

// Close stops accepting events and waits for queued ones to be delivered.
func (a *Async) Close() {
	a.once.Do(func() {
		a.mu.Lock()
		a.closed = true
		close(a.ch)
		a.mu.Unlock()
	})
	<-a.done
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
