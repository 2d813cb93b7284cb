package tallysync

import (
	"strconv"
	"sync"

	"github.com/mmdatafocus/tallysync_backend/config"
)

// BroadcastChannel receives every event regardless of company.
const BroadcastChannel = "all"

type Event struct {
	Name string         `json:"event"`
	Data map[string]any `json:"data"`
}

// Broadcaster fans sync events out to SSE clients. Delivery is at-most-once
// and non-blocking: a subscriber that stops draining loses events instead of
// stalling the sync that emitted them.
type Broadcaster struct {
	mu          sync.Mutex
	subscribers map[string][]chan Event
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subscribers: make(map[string][]chan Event)}
}

// CompanyChannel names the per-company event channel.
func CompanyChannel(companyId uint) string {
	return strconv.FormatUint(uint64(companyId), 10)
}

func (b *Broadcaster) Subscribe(channel string) chan Event {
	sub := make(chan Event, 16)
	b.mu.Lock()
	b.subscribers[channel] = append(b.subscribers[channel], sub)
	b.mu.Unlock()
	return sub
}

func (b *Broadcaster) Unsubscribe(channel string, sub chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subscribers[channel]
	for i, s := range subs {
		if s == sub {
			b.subscribers[channel] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// Broadcast delivers an event to the company's channel and the broadcast
// channel. A full subscriber buffer drops the event for that subscriber.
func (b *Broadcaster) Broadcast(name string, data map[string]any, companyId uint) {
	event := Event{Name: name, Data: data}
	channels := []string{BroadcastChannel, CompanyChannel(companyId)}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, channel := range channels {
		for _, sub := range b.subscribers[channel] {
			select {
			case sub <- event:
			default:
				config.GetLogger().WithField("module", "tallysync").
					Warnf("dropping %q event for slow subscriber on channel %q", name, channel)
			}
		}
	}
}
