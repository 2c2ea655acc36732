package transport

import (
	"github.com/moffa90/go-voiceprog/internal/syncutil"
	"github.com/moffa90/go-voiceprog/protocol"
)

// dispatcher fans received frames out to the current subscribers.
type dispatcher struct {
	mu   syncutil.Mutex
	subs map[int]func(protocol.Frame)
	next int
}

// Subscribe registers onFrame and returns a function that removes it.
// Calling the returned function more than once is harmless.
func (d *dispatcher) Subscribe(onFrame func(protocol.Frame)) func() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.subs == nil {
		d.subs = make(map[int]func(protocol.Frame))
	}
	id := d.next
	d.next++
	d.subs[id] = onFrame

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.subs, id)
	}
}

// dispatch delivers f to every subscriber. Frames arriving with no
// subscriber attached are dropped.
func (d *dispatcher) dispatch(f protocol.Frame) int {
	d.mu.Lock()
	listeners := make([]func(protocol.Frame), 0, len(d.subs))
	for _, fn := range d.subs {
		listeners = append(listeners, fn)
	}
	d.mu.Unlock()

	for _, fn := range listeners {
		fn(f)
	}
	return len(listeners)
}

func (d *dispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subs)
}
