package lifecycle

import (
	"sync"

	"github.com/shugur-network/groupcore/internal/groupmanager"
	nostr "github.com/nbd-wtf/go-nostr"
)

// GroupAdded is emitted once per successfully registered group.
type GroupAdded struct {
	Group groupmanager.Group
}

// MessageSent is emitted after a message this process authored has been
// published and appended to its own transcript.
type MessageSent struct {
	Group groupmanager.Group
	Event nostr.Event
}

// MessageReceived is emitted for each inbound application message newly
// appended to a group's transcript.
type MessageReceived struct {
	Group groupmanager.Group
	Event nostr.Event
}

// EventBus is a fire-and-forget, fan-out publisher. A subscriber whose
// channel buffer is full misses that event rather than blocking the
// publisher, and stays subscribed for later events; emission never blocks
// or fails the operation that caused it.
type EventBus struct {
	mu          sync.RWMutex
	groupAdded  []chan GroupAdded
	messageSent []chan MessageSent
	messageRecv []chan MessageReceived
}

// NewEventBus returns an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{}
}

// SubscribeGroupAdded returns a channel that receives every future
// GroupAdded event.
func (b *EventBus) SubscribeGroupAdded(buffer int) <-chan GroupAdded {
	ch := make(chan GroupAdded, buffer)
	b.mu.Lock()
	b.groupAdded = append(b.groupAdded, ch)
	b.mu.Unlock()
	return ch
}

// SubscribeMessageSent returns a channel that receives every future
// MessageSent event.
func (b *EventBus) SubscribeMessageSent(buffer int) <-chan MessageSent {
	ch := make(chan MessageSent, buffer)
	b.mu.Lock()
	b.messageSent = append(b.messageSent, ch)
	b.mu.Unlock()
	return ch
}

// SubscribeMessageReceived returns a channel that receives every future
// MessageReceived event.
func (b *EventBus) SubscribeMessageReceived(buffer int) <-chan MessageReceived {
	ch := make(chan MessageReceived, buffer)
	b.mu.Lock()
	b.messageRecv = append(b.messageRecv, ch)
	b.mu.Unlock()
	return ch
}

func (b *EventBus) emitGroupAdded(evt GroupAdded) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.groupAdded {
		select {
		case ch <- evt:
		default:
		}
	}
}

func (b *EventBus) emitMessageSent(evt MessageSent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.messageSent {
		select {
		case ch <- evt:
		default:
		}
	}
}

func (b *EventBus) emitMessageReceived(evt MessageReceived) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.messageRecv {
		select {
		case ch <- evt:
		default:
		}
	}
}
