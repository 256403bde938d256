package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bbernstein/lacylights-artnet/internal/services/pubsub"
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 10 * time.Second
)

var streamTopics = []pubsub.Topic{
	pubsub.TopicDMXOutput,
	pubsub.TopicPeer,
	pubsub.TopicProgrammed,
	pubsub.TopicFirmware,
	pubsub.TopicRDM,
}

// stream upgrades to a websocket and writes bus events as JSON. Clients pick
// topics with repeated ?topic= parameters (all by default) and may narrow
// them with ?filter=.
func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	topics := streamTopics
	if names := r.URL.Query()["topic"]; len(names) > 0 {
		topics = topics[:0:0]
		for _, name := range names {
			t := pubsub.Topic(name)
			if !knownTopic(t) {
				badRequest(w, "unknown topic %q", name)
				return
			}
			topics = append(topics, t)
		}
	}
	filter := r.URL.Query().Get("filter")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Debug("websocket upgrade failed")
		return
	}
	defer func() { _ = conn.Close() }()

	ps := s.svc.PubSub()
	events := make(chan pubsub.Event, 64)
	done := make(chan struct{})
	var subs []*pubsub.Subscriber
	for _, t := range topics {
		sub := ps.Subscribe(t, filter, 64)
		subs = append(subs, sub)
		go func() {
			for ev := range sub.Channel {
				select {
				case events <- ev:
				case <-done:
				}
			}
		}()
	}
	defer func() {
		close(done)
		for _, sub := range subs {
			ps.Unsubscribe(sub)
		}
	}()

	// Reads only detect the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	s.log.WithField("topics", len(topics)).Debug("websocket client connected")
	for {
		select {
		case <-closed:
			s.log.Debug("websocket client disconnected")
			return
		case ev := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func knownTopic(t pubsub.Topic) bool {
	for _, known := range streamTopics {
		if t == known {
			return true
		}
	}
	return false
}
