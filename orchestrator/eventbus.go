package orchestrator

import (
	"sync"

	"github.com/lstefano71/hmonclient"
)

// eventBus is the unbounded, ordered event queue backing Orchestrator's
// public event stream, per spec §5: "the default is unbounded to preserve
// event ordering without dropping." push never blocks on a slow consumer;
// a single pump goroutine drains the internal queue into the channel
// consumers range over.
//
// Grounded on the same producer/single-consumer shape as the teacher's
// RoundTrips map (many writers, funneled through one synchronized
// structure), generalized from "deliver one value to one waiter" to
// "deliver an ordered stream to one channel".
type eventBus struct {
	mu     sync.Mutex
	queue  []hmon.Event
	signal chan struct{}
	out    chan hmon.Event
	stop   chan struct{}
}

func newEventBus() *eventBus {
	b := &eventBus{
		signal: make(chan struct{}, 1),
		out:    make(chan hmon.Event),
		stop:   make(chan struct{}),
	}
	go b.pump()
	return b
}

func (b *eventBus) push(e hmon.Event) {
	b.mu.Lock()
	b.queue = append(b.queue, e)
	b.mu.Unlock()
	select {
	case b.signal <- struct{}{}:
	default:
	}
}

func (b *eventBus) pump() {
	defer close(b.out)
	for {
		b.mu.Lock()
		for len(b.queue) == 0 {
			b.mu.Unlock()
			select {
			case <-b.signal:
			case <-b.stop:
				return
			}
			b.mu.Lock()
		}
		e := b.queue[0]
		b.queue = b.queue[1:]
		b.mu.Unlock()

		select {
		case b.out <- e:
		case <-b.stop:
			return
		}
	}
}

func (b *eventBus) events() <-chan hmon.Event { return b.out }

func (b *eventBus) close() {
	select {
	case <-b.stop:
	default:
		close(b.stop)
	}
}
