package events

import (
	"sync"

	"giftvault/core/types"
)

// Stream fans events out to subscribers in their wire form while forwarding
// every event to the wrapped emitter, so it slots anywhere into an emitter
// chain. A slow subscriber drops events instead of blocking the emitting
// component.
type Stream struct {
	next Emitter

	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]chan *types.Event
}

// NewStream wraps the given emitter. Passing nil forwards to a no-op.
func NewStream(next Emitter) *Stream {
	if next == nil {
		next = NoopEmitter{}
	}
	return &Stream{next: next, subs: make(map[uint64]chan *types.Event)}
}

// Emit forwards the event downstream and to every live subscriber.
func (s *Stream) Emit(event Event) {
	s.next.Emit(event)
	wire, ok := event.(interface{ Event() *types.Event })
	if !ok {
		return
	}
	evt := wire.Event()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Subscribe registers a buffered event feed. The returned cancel closes the
// feed; calling it more than once is safe.
func (s *Stream) Subscribe(buffer int) (<-chan *types.Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan *types.Event, buffer)
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.mu.Unlock()
	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}
