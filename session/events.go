package session

import (
	"sync"

	"github.com/google/uuid"

	"github.com/overtone-app/spotify-session/internal/spotify"
)

// Event is the closed set of session lifecycle notifications. The three
// variants are the only contract the host application depends on.
type Event interface {
	event()
}

// AuthUpdated carries the session status after any connect, refresh, or
// disconnect transition.
type AuthUpdated struct {
	Status Status
}

// PlaybackUpdated carries the latest playback snapshot; nil means no
// playback session exists anywhere.
type PlaybackUpdated struct {
	Snapshot *spotify.PlaybackSnapshot
}

// AuthError carries a human-readable message for any unrecovered failure.
type AuthError struct {
	Message string
}

func (AuthUpdated) event()     {}
func (PlaybackUpdated) event() {}
func (AuthError) event()       {}

// Bus fans events out to subscribers. Publishing never blocks: a subscriber
// whose buffer is full misses the event rather than stalling the session.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uuid.UUID]chan Event
	closed bool
}

func newBus() *Bus {
	return &Bus{subs: make(map[uuid.UUID]chan Event)}
}

// Subscribe registers a listener with the given buffer size and returns the
// event channel plus a cancel function. Cancel closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)
	id := uuid.New()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

func (b *Bus) publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *Bus) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
