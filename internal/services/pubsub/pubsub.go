// Package pubsub fans node events out to in-process subscribers such as the
// websocket stream and the MQTT bridge.
package pubsub

import (
	"sync"
	"time"

	"github.com/lucsky/cuid"
)

// Topic represents a subscription topic.
type Topic string

const (
	TopicDMXOutput  Topic = "DMX_OUTPUT_CHANGED"
	TopicPeer       Topic = "PEER_UPDATED"
	TopicProgrammed Topic = "NODE_PROGRAMMED"
	TopicFirmware   Topic = "FIRMWARE_UPDATED"
	TopicRDM        Topic = "RDM_UPDATED"
)

// Event is one published message.
type Event struct {
	Topic  Topic       `json:"topic"`
	Filter string      `json:"filter,omitempty"`
	Time   time.Time   `json:"time"`
	Data   interface{} `json:"data"`
}

// Subscriber represents a subscription channel.
type Subscriber struct {
	ID      string
	Topic   Topic
	Filter  string // Optional filter value (e.g. a port index or peer IP)
	Channel chan Event
}

// PubSub manages subscriptions and message distribution.
type PubSub struct {
	mu          sync.RWMutex
	subscribers map[Topic][]*Subscriber
}

// New creates a new PubSub instance.
func New() *PubSub {
	return &PubSub{
		subscribers: make(map[Topic][]*Subscriber),
	}
}

// Subscribe creates a new subscription for a topic.
func (ps *PubSub) Subscribe(topic Topic, filter string, bufferSize int) *Subscriber {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	sub := &Subscriber{
		ID:      cuid.New(),
		Topic:   topic,
		Filter:  filter,
		Channel: make(chan Event, bufferSize),
	}
	ps.subscribers[topic] = append(ps.subscribers[topic], sub)
	return sub
}

// Unsubscribe removes a subscription and closes its channel.
func (ps *PubSub) Unsubscribe(sub *Subscriber) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	subs := ps.subscribers[sub.Topic]
	for i, s := range subs {
		if s.ID == sub.ID {
			close(s.Channel)
			ps.subscribers[sub.Topic] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// Publish sends data to all subscribers of a topic. If filter is non-empty,
// only subscribers with a matching or empty filter receive it. Full
// subscriber buffers drop the event.
func (ps *PubSub) Publish(topic Topic, filter string, data interface{}) {
	ev := Event{Topic: topic, Filter: filter, Time: time.Now(), Data: data}

	// The read lock is held across sends so Unsubscribe cannot close a
	// channel mid-send.
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	for _, sub := range ps.subscribers[topic] {
		if sub.Filter != "" && filter != "" && sub.Filter != filter {
			continue
		}
		select {
		case sub.Channel <- ev:
		default:
		}
	}
}

// SubscriberCount returns the number of subscribers for a topic.
func (ps *PubSub) SubscriberCount(topic Topic) int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.subscribers[topic])
}
