// Package mqtt bridges the node to an MQTT broker. Peer replies and output
// port frames are published; frames written to <prefix>/dmx/<port>/set are
// transmitted on the matching input port.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/bbernstein/lacylights-artnet/internal/services/dmx"
	"github.com/bbernstein/lacylights-artnet/internal/services/pubsub"
)

// ErrTopic is returned for messages on topics the bridge does not handle.
var ErrTopic = errors.New("unhandled topic")

// Config holds broker settings.
type Config struct {
	Broker   string // e.g. tcp://localhost:1883
	ClientID string
	Prefix   string
	Username string
	Password string
	Debug    bool // route paho's internal logging through the logger
}

// Command sets one channel (1-512).
type Command struct {
	Channel int   `json:"channel"`
	Value   uint8 `json:"value"`
}

// Bridge connects a dmx.Service to a broker.
type Bridge struct {
	cfg    Config
	log    logrus.FieldLogger
	svc    *dmx.Service
	client paho.Client

	peers   *pubsub.Subscriber
	outputs *pubsub.Subscriber
	stop    chan struct{}
	wg      sync.WaitGroup
}

// New returns an unconnected bridge.
func New(cfg Config, svc *dmx.Service, log logrus.FieldLogger) *Bridge {
	if cfg.Prefix == "" {
		cfg.Prefix = "artnet"
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Bridge{
		cfg: cfg,
		log: log.WithField("module", "mqtt"),
		svc: svc,
	}
}

// Start connects to the broker and begins forwarding events.
func (b *Bridge) Start(ctx context.Context) error {
	if b.cfg.Debug {
		paho.ERROR = b.log.WithField("paho", "error")
		paho.CRITICAL = b.log.WithField("paho", "critical")
		paho.WARN = b.log.WithField("paho", "warn")
	}

	opts := paho.NewClientOptions().
		AddBroker(b.cfg.Broker).
		SetClientID(b.cfg.ClientID).
		SetUsername(b.cfg.Username).
		SetPassword(b.cfg.Password).
		SetDefaultPublishHandler(b.messageHandler).
		SetOnConnectHandler(b.connectHandler).
		SetConnectionLostHandler(b.connectLostHandler).
		SetOrderMatters(false).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(30 * time.Second).
		SetKeepAlive(30 * time.Second)

	b.client = paho.NewClient(opts)
	token := b.client.Connect()
	select {
	case <-token.Done():
		if token.Error() != nil {
			return fmt.Errorf("failed to connect to %s: %w", b.cfg.Broker, token.Error())
		}
	case <-ctx.Done():
		b.client.Disconnect(0)
		return ctx.Err()
	}

	ps := b.svc.PubSub()
	b.peers = ps.Subscribe(pubsub.TopicPeer, "", 64)
	b.outputs = ps.Subscribe(pubsub.TopicDMXOutput, "", 64)
	b.stop = make(chan struct{})
	b.wg.Add(1)
	go b.forward()

	b.log.WithField("broker", b.cfg.Broker).Info("MQTT bridge started")
	return nil
}

// Stop ends forwarding and disconnects.
func (b *Bridge) Stop() {
	if b.stop == nil {
		return
	}
	close(b.stop)
	b.wg.Wait()
	b.stop = nil

	ps := b.svc.PubSub()
	ps.Unsubscribe(b.peers)
	ps.Unsubscribe(b.outputs)
	if b.client.IsConnected() {
		b.client.Disconnect(500)
	}
	b.log.Info("MQTT bridge stopped")
}

// SetTopic is the topic frames for an input port are read from.
func (b *Bridge) SetTopic(port int) string {
	return fmt.Sprintf("%s/dmx/%d/set", b.cfg.Prefix, port)
}

func (b *Bridge) connectHandler(c paho.Client) {
	b.log.Info("connected to broker")
	topic := b.cfg.Prefix + "/dmx/+/set"
	token := c.Subscribe(topic, 0, nil)
	go func() {
		<-token.Done()
		if token.Error() != nil {
			b.log.WithError(token.Error()).WithField("topic", topic).Error("subscribe failed")
			return
		}
		b.log.WithField("topic", topic).Debug("subscribed")
	}()
}

func (b *Bridge) connectLostHandler(_ paho.Client, err error) {
	b.log.WithError(err).Warn("broker connection lost")
}

func (b *Bridge) messageHandler(_ paho.Client, msg paho.Message) {
	if err := b.apply(msg.Topic(), msg.Payload()); err != nil {
		b.log.WithError(err).WithField("topic", msg.Topic()).Warn("message rejected")
	}
}

// apply writes a received frame to the input port named by topic.
func (b *Bridge) apply(topic string, payload []byte) error {
	port, err := parseSetTopic(b.cfg.Prefix, topic)
	if err != nil {
		return err
	}
	cmds, frame, err := decodePayload(payload)
	if err != nil {
		return err
	}
	if frame != nil {
		return b.svc.SetAllChannels(port, frame)
	}
	for _, c := range cmds {
		if err := b.svc.SetChannelValue(port, c.Channel, c.Value); err != nil {
			return err
		}
	}
	return nil
}

func parseSetTopic(prefix, topic string) (int, error) {
	rest, ok := strings.CutPrefix(topic, prefix+"/dmx/")
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrTopic, topic)
	}
	num, ok := strings.CutSuffix(rest, "/set")
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrTopic, topic)
	}
	port, err := strconv.Atoi(num)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrTopic, topic)
	}
	return port, nil
}

// decodePayload accepts either a list of channel commands or a plain array
// of channel values starting at channel 1.
func decodePayload(payload []byte) ([]Command, []byte, error) {
	var cmds []Command
	if err := json.Unmarshal(payload, &cmds); err == nil {
		return cmds, nil, nil
	}
	var values []int
	if err := json.Unmarshal(payload, &values); err != nil {
		return nil, nil, fmt.Errorf("payload could not be parsed: %w", err)
	}
	frame := make([]byte, len(values))
	for i, v := range values {
		if v < 0 || v > 255 {
			return nil, nil, fmt.Errorf("channel %d value %d out of range", i+1, v)
		}
		frame[i] = byte(v)
	}
	return nil, frame, nil
}

func (b *Bridge) forward() {
	defer b.wg.Done()
	for {
		var ev pubsub.Event
		select {
		case <-b.stop:
			return
		case ev = <-b.peers.Channel:
		case ev = <-b.outputs.Channel:
		}

		topic, payload, retained, err := b.encode(ev)
		if err != nil {
			b.log.WithError(err).Debug("event not forwarded")
			continue
		}
		token := b.client.Publish(topic, 0, retained, payload)
		go func() {
			<-token.Done()
			if token.Error() != nil {
				b.log.WithError(token.Error()).WithField("topic", topic).Warn("publish failed")
			}
		}()
	}
}

// encode maps a bus event to the topic and payload published for it.
func (b *Bridge) encode(ev pubsub.Event) (string, []byte, bool, error) {
	switch data := ev.Data.(type) {
	case dmx.PeerEvent:
		info := dmx.NewPeerInfo(data.Entry)
		payload, err := json.Marshal(info)
		return fmt.Sprintf("%s/nodes/%s", b.cfg.Prefix, info.IP), payload, true, err
	case dmx.OutputEvent:
		payload, err := json.Marshal(dmx.Channels(data.Data))
		return fmt.Sprintf("%s/dmx/%d/out", b.cfg.Prefix, data.Port), payload, false, err
	}
	return "", nil, false, fmt.Errorf("%w: %s", ErrTopic, ev.Topic)
}
