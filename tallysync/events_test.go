package tallysync

import (
	"testing"
	"time"
)

func TestBroadcastReachesCompanyAndBroadcastChannels(t *testing.T) {
	b := NewBroadcaster()
	all := b.Subscribe(BroadcastChannel)
	mine := b.Subscribe(CompanyChannel(7))
	other := b.Subscribe(CompanyChannel(8))

	b.Broadcast("sync_complete", map[string]any{"records": 20}, 7)

	for name, ch := range map[string]chan Event{"all": all, "company 7": mine} {
		select {
		case ev := <-ch:
			if ev.Name != "sync_complete" || ev.Data["records"] != 20 {
				t.Fatalf("%s: unexpected event %+v", name, ev)
			}
		case <-time.After(time.Second):
			t.Fatalf("%s subscriber did not receive the event", name)
		}
	}

	select {
	case ev := <-other:
		t.Fatalf("company 8 must not see company 7 events: %+v", ev)
	default:
	}
}

func TestBroadcastDropsForSlowSubscriber(t *testing.T) {
	b := NewBroadcaster()
	sub := b.Subscribe(CompanyChannel(1))

	// Fill the buffer and keep going; Broadcast must never block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Broadcast("sync_complete", nil, 1)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Broadcast blocked on a slow subscriber")
	}

	received := 0
	for {
		select {
		case <-sub:
			received++
			continue
		default:
		}
		break
	}
	if received == 0 || received > 16 {
		t.Fatalf("expected up to one buffer of events; got %d", received)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBroadcaster()
	sub := b.Subscribe(BroadcastChannel)
	b.Unsubscribe(BroadcastChannel, sub)

	b.Broadcast("sync_error", map[string]any{"error": "boom"}, 1)
	select {
	case ev := <-sub:
		t.Fatalf("unsubscribed channel received %+v", ev)
	default:
	}
}

func TestUnsubscribeUnknownChannelIsNoop(t *testing.T) {
	b := NewBroadcaster()
	b.Unsubscribe("nope", make(chan Event))
}
