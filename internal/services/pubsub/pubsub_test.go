package pubsub

import (
	"sync"
	"testing"
	"time"
)

func TestSubscribe(t *testing.T) {
	ps := New()

	sub := ps.Subscribe(TopicDMXOutput, "", 10)
	if sub.Topic != TopicDMXOutput {
		t.Errorf("Expected topic %s, got %s", TopicDMXOutput, sub.Topic)
	}
	if cap(sub.Channel) != 10 {
		t.Errorf("Expected channel buffer size 10, got %d", cap(sub.Channel))
	}
	other := ps.Subscribe(TopicDMXOutput, "", 10)
	if other.ID == sub.ID {
		t.Error("Expected unique subscriber IDs")
	}
	if count := ps.SubscriberCount(TopicDMXOutput); count != 2 {
		t.Errorf("Expected 2 subscribers, got %d", count)
	}
}

func TestUnsubscribe(t *testing.T) {
	ps := New()
	sub := ps.Subscribe(TopicPeer, "", 10)

	ps.Unsubscribe(sub)

	if count := ps.SubscriberCount(TopicPeer); count != 0 {
		t.Errorf("Expected 0 subscribers after unsubscribe, got %d", count)
	}
	if _, ok := <-sub.Channel; ok {
		t.Error("Expected channel to be closed")
	}

	// A second unsubscribe is a no-op.
	ps.Unsubscribe(sub)
}

func TestPublish(t *testing.T) {
	ps := New()
	sub := ps.Subscribe(TopicPeer, "", 10)

	ps.Publish(TopicPeer, "10.0.0.2", "hello")

	select {
	case ev := <-sub.Channel:
		if ev.Data != "hello" {
			t.Errorf("Expected 'hello', got %v", ev.Data)
		}
		if ev.Filter != "10.0.0.2" || ev.Topic != TopicPeer {
			t.Errorf("Unexpected event envelope: %+v", ev)
		}
		if ev.Time.IsZero() {
			t.Error("Expected event time to be set")
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("Timed out waiting for message")
	}
}

func TestPublish_WithFilter(t *testing.T) {
	ps := New()
	port0 := ps.Subscribe(TopicDMXOutput, "0", 10)
	port1 := ps.Subscribe(TopicDMXOutput, "1", 10)
	all := ps.Subscribe(TopicDMXOutput, "", 10)

	ps.Publish(TopicDMXOutput, "0", "frame")

	if len(port0.Channel) != 1 {
		t.Error("Expected matching subscriber to receive the event")
	}
	if len(port1.Channel) != 0 {
		t.Error("Expected other filter to be skipped")
	}
	if len(all.Channel) != 1 {
		t.Error("Expected unfiltered subscriber to receive the event")
	}

	// An unfiltered publish reaches everyone.
	ps.Publish(TopicDMXOutput, "", "broadcast")
	if len(port1.Channel) != 1 {
		t.Error("Expected unfiltered publish to reach filtered subscribers")
	}
}

func TestPublish_ChannelFull(t *testing.T) {
	ps := New()
	sub := ps.Subscribe(TopicFirmware, "", 1)

	ps.Publish(TopicFirmware, "", 1)
	ps.Publish(TopicFirmware, "", 2)

	if len(sub.Channel) != 1 {
		t.Errorf("Expected 1 buffered event, got %d", len(sub.Channel))
	}
	if ev := <-sub.Channel; ev.Data != 1 {
		t.Errorf("Expected first event to survive, got %v", ev.Data)
	}
}

func TestConcurrentOperations(t *testing.T) {
	ps := New()
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			sub := ps.Subscribe(TopicRDM, "", 4)
			ps.Unsubscribe(sub)
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				ps.Publish(TopicRDM, "", j)
			}
		}()
	}

	wg.Wait()
	if count := ps.SubscriberCount(TopicRDM); count != 0 {
		t.Errorf("Expected 0 subscribers, got %d", count)
	}
}
