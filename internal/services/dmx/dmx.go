// Package dmx runs an Art-Net node for the daemon: it serializes access to
// the node, drives its read and tick loops, retransmits input-port frames at
// an adaptive rate and publishes node events.
package dmx

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bbernstein/lacylights-artnet/internal/services/pubsub"
	"github.com/bbernstein/lacylights-artnet/pkg/artnet"
	"github.com/bbernstein/lacylights-artnet/pkg/node"
)

// UniverseSize is the number of channels per DMX universe.
const UniverseSize = 512

// Observer receives packet and state counters. The metrics service
// implements it.
type Observer interface {
	PacketReceived(op artnet.OpCode)
	PacketSent(op artnet.OpCode)
	PeerCount(n int)
	MergeSourceCount(port, n int)
}

type nopObserver struct{}

func (nopObserver) PacketReceived(artnet.OpCode) {}
func (nopObserver) PacketSent(artnet.OpCode) {}
func (nopObserver) PeerCount(int) {}
func (nopObserver) MergeSourceCount(int, int) {}

// Config holds DMX service configuration.
type Config struct {
	RefreshRateHz    int
	IdleRateHz       int
	HighRateDuration time.Duration
	TickInterval     time.Duration
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() Config {
	return Config{
		RefreshRateHz:    44,
		IdleRateHz:       1,
		HighRateDuration: 2 * time.Second,
		TickInterval:     time.Second,
	}
}

// PeerEvent is published on TopicPeer after a peer's ArtPollReply was
// recorded.
type PeerEvent struct {
	Entry node.NodeEntry
}

// OutputEvent is published on TopicDMXOutput when an output port changed.
type OutputEvent struct {
	Port int
	Data []byte
}

// ProgramEvent is published on TopicProgrammed when a peer reprogrammed the
// node.
type ProgramEvent struct {
	ShortName string
	LongName  string
	Subnet    uint8
}

// FirmwareEvent is published on TopicFirmware for finished uploads and for
// received images.
type FirmwareEvent struct {
	Peer     string
	UBEA     bool
	Inbound  bool
	Status   string
	Bytes    int
	Total    int
	Received []uint16 `json:"-"`
}

// RDMEvent is published on TopicRDM when a port's table of devices changed.
type RDMEvent struct {
	Port int
	UIDs []artnet.UID
}

// Service owns a node.
type Service struct {
	mu sync.Mutex

	node *node.Node
	log  logrus.FieldLogger
	ps   *pubsub.PubSub
	obs  Observer

	// Frames transmitted on input ports and their dirty flags
	frames [node.MaxPorts][]byte
	dirty  [node.MaxPorts]bool

	// Last merged output per output port
	outputs [node.MaxPorts][]byte

	// Peers that replied during the current read
	pendingPeers []net.IP

	refreshRateHz    int
	idleRateHz       int
	highRateDuration time.Duration
	tickInterval     time.Duration

	// Adaptive transmission rate state
	currentRate      int
	isInHighRateMode bool
	lastChangeTime   time.Time

	stopChan        chan struct{}
	resetTickerChan chan struct{}
	wg              sync.WaitGroup
	running         bool
}

// NewService wraps n. The service installs the node's hooks; callers must not
// set them afterwards.
func NewService(n *node.Node, cfg Config, ps *pubsub.PubSub, log logrus.FieldLogger) *Service {
	def := DefaultConfig()
	if cfg.RefreshRateHz <= 0 {
		cfg.RefreshRateHz = def.RefreshRateHz
	}
	if cfg.IdleRateHz <= 0 {
		cfg.IdleRateHz = def.IdleRateHz
	}
	if cfg.HighRateDuration <= 0 {
		cfg.HighRateDuration = def.HighRateDuration
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	if ps == nil {
		ps = pubsub.New()
	}

	s := &Service{
		node:             n,
		log:              log.WithField("module", "dmx"),
		ps:               ps,
		obs:              nopObserver{},
		refreshRateHz:    cfg.RefreshRateHz,
		idleRateHz:       cfg.IdleRateHz,
		highRateDuration: cfg.HighRateDuration,
		tickInterval:     cfg.TickInterval,
		currentRate:      cfg.IdleRateHz,
		resetTickerChan:  make(chan struct{}, 1),
	}
	s.bindHooks()
	return s
}

// SetObserver installs the packet counter sink.
func (s *Service) SetObserver(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o == nil {
		o = nopObserver{}
	}
	s.obs = o
}

// PubSub returns the event bus.
func (s *Service) PubSub() *pubsub.PubSub { return s.ps }

// Do runs fn with exclusive access to the node.
func (s *Service) Do(fn func(n *node.Node) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.node)
}

func (s *Service) bindHooks() {
	n := s.node
	_ = n.SetHook(node.HookRecv, func(_ *node.Node, _ net.IP, p artnet.Packet) bool {
		s.obs.PacketReceived(p.OpCode())
		return false
	})
	_ = n.SetHook(node.HookSend, func(_ *node.Node, _ net.IP, p artnet.Packet) bool {
		s.obs.PacketSent(p.OpCode())
		return false
	})
	_ = n.SetHook(node.HookReply, func(_ *node.Node, peer net.IP, _ artnet.Packet) bool {
		s.pendingPeers = append(s.pendingPeers, peer)
		return false
	})

	n.OnDMX(func(n *node.Node, port int) error {
		data, _, err := n.ReadDMX(port)
		if err != nil {
			return err
		}
		s.outputs[port] = data
		if sources, err := n.MergeSources(port); err == nil {
			s.obs.MergeSourceCount(port, len(sources))
		}
		s.ps.Publish(pubsub.TopicDMXOutput, strconv.Itoa(port), OutputEvent{Port: port, Data: data})
		return nil
	})
	n.OnProgram(func(n *node.Node) error {
		c := n.Config()
		s.log.WithFields(logrus.Fields{
			"short_name": c.ShortName,
			"subnet":     c.Subnet,
		}).Info("node reprogrammed by peer")
		s.ps.Publish(pubsub.TopicProgrammed, "", ProgramEvent{ShortName: c.ShortName, LongName: c.LongName, Subnet: c.Subnet})
		return nil
	})
	n.OnFirmwareReceived(func(_ *node.Node, ubea bool, words []uint16) error {
		s.log.WithField("words", len(words)).Info("firmware image received")
		s.ps.Publish(pubsub.TopicFirmware, "", FirmwareEvent{
			UBEA:     ubea,
			Inbound:  true,
			Status:   node.FirmwareAllGood.String(),
			Bytes:    2 * len(words),
			Total:    2 * len(words),
			Received: words,
		})
		return nil
	})
	n.OnRDMTod(func(n *node.Node, port int) error {
		uids, err := n.TOD(node.PortInput, port)
		if err != nil {
			return err
		}
		s.ps.Publish(pubsub.TopicRDM, strconv.Itoa(port), RDMEvent{Port: port, UIDs: uids})
		return nil
	})
}

// Start starts the node and the service loops.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	if err := s.node.Start(); err != nil {
		return err
	}
	ready := s.node.Ready()

	s.stopChan = make(chan struct{})
	s.running = true
	s.wg.Add(3)
	go s.readLoop(ready)
	go s.tickLoop()
	go s.transmitLoop()

	s.log.WithFields(logrus.Fields{
		"active_hz": s.refreshRateHz,
		"idle_hz":   s.idleRateHz,
		"high_rate": s.highRateDuration,
	}).Info("DMX service started")
	return nil
}

// readLoop processes datagrams whenever the transport signals.
func (s *Service) readLoop(ready <-chan struct{}) {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopChan:
			return
		case <-ready:
			s.readPending()
		}
	}
}

func (s *Service) readPending() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.node.Read(false); err != nil && !errors.Is(err, node.ErrNoData) {
		s.log.WithError(err).Warn("read failed")
	}
	if len(s.pendingPeers) == 0 {
		return
	}
	for _, ip := range s.pendingPeers {
		if e, ok := s.node.Peer(ip); ok {
			s.ps.Publish(pubsub.TopicPeer, ip.String(), PeerEvent{Entry: *e})
		}
	}
	s.pendingPeers = s.pendingPeers[:0]
	s.obs.PeerCount(s.node.Len())
}

func (s *Service) tickLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.mu.Lock()
			s.node.Tick()
			s.mu.Unlock()
		}
	}
}

// transmitLoop runs the adaptive rate transmission loop.
func (s *Service) transmitLoop() {
	defer s.wg.Done()

	s.mu.Lock()
	lastRate := s.currentRate
	s.mu.Unlock()
	ticker := time.NewTicker(time.Second / time.Duration(lastRate))
	defer func() { ticker.Stop() }()

	for {
		select {
		case <-s.stopChan:
			return
		case <-s.resetTickerChan:
		case <-ticker.C:
			s.processTransmission(time.Now())
		}

		s.mu.Lock()
		currentRate := s.currentRate
		s.mu.Unlock()
		if currentRate != lastRate {
			ticker.Stop()
			ticker = time.NewTicker(time.Second / time.Duration(currentRate))
			lastRate = currentRate
		}
	}
}

// processTransmission handles a single transmission cycle.
func (s *Service) processTransmission(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hasChanges := false
	for _, d := range s.dirty {
		hasChanges = hasChanges || d
	}

	if hasChanges {
		s.lastChangeTime = now
		if !s.isInHighRateMode {
			s.isInHighRateMode = true
			s.currentRate = s.refreshRateHz
			s.log.WithField("hz", s.refreshRateHz).Debug("switching to high rate")
		}
	} else if s.isInHighRateMode && !s.lastChangeTime.IsZero() && now.Sub(s.lastChangeTime) > s.highRateDuration {
		s.isInHighRateMode = false
		s.currentRate = s.idleRateHz
		s.log.WithField("hz", s.idleRateHz).Debug("switching to idle rate")
	}

	s.outputDMX(hasChanges)
}

// outputDMX sends dirty frames, or every frame as keep-alive when nothing
// changed.
func (s *Service) outputDMX(onlyDirty bool) {
	if s.node.Mode() != node.ModeOn {
		return
	}
	for port, frame := range s.frames {
		if frame == nil || (onlyDirty && !s.dirty[port]) {
			continue
		}
		if err := s.node.SendDMX(port, frame); err != nil {
			s.log.WithField("port", port).WithError(err).Debug("DMX send skipped")
		}
		s.dirty[port] = false
	}
}

func checkPort(port int) error {
	if port < 0 || port >= node.MaxPorts {
		return fmt.Errorf("%w: port %d", node.ErrArg, port)
	}
	return nil
}

// triggerHighRate immediately switches to high rate mode.
func (s *Service) triggerHighRate() {
	s.lastChangeTime = time.Now()
	if !s.isInHighRateMode {
		s.isInHighRateMode = true
		s.currentRate = s.refreshRateHz
		select {
		case s.resetTickerChan <- struct{}{}:
		default:
		}
	}
}

func (s *Service) frame(port int) []byte {
	if s.frames[port] == nil {
		s.frames[port] = make([]byte, UniverseSize)
	}
	return s.frames[port]
}

// SetChannelValue sets one channel (1-based) of an input port's frame.
func (s *Service) SetChannelValue(port, channel int, value byte) error {
	if err := checkPort(port); err != nil {
		return err
	}
	if channel < 1 || channel > UniverseSize {
		return fmt.Errorf("%w: channel %d", node.ErrArg, channel)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.frame(port)
	if f[channel-1] != value {
		f[channel-1] = value
		s.dirty[port] = true
		s.triggerHighRate()
	}
	return nil
}

// SetAllChannels replaces the leading channels of an input port's frame.
func (s *Service) SetAllChannels(port int, values []byte) error {
	if err := checkPort(port); err != nil {
		return err
	}
	if len(values) > UniverseSize {
		return fmt.Errorf("%w: %d channels", node.ErrArg, len(values))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.frame(port)
	changed := false
	for i, v := range values {
		if f[i] != v {
			f[i] = v
			changed = true
		}
	}
	if changed {
		s.dirty[port] = true
		s.triggerHighRate()
	}
	return nil
}

// Blackout zeroes every input frame.
func (s *Service) Blackout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for port, f := range s.frames {
		if f == nil {
			continue
		}
		for i := range f {
			f[i] = 0
		}
		s.dirty[port] = true
	}
	s.triggerHighRate()
}

// InputFrame returns a copy of the frame sent on an input port.
func (s *Service) InputFrame(port int) ([]byte, error) {
	if err := checkPort(port); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, UniverseSize)
	copy(out, s.frames[port])
	return out, nil
}

// OutputFrame returns the last merged output of an output port.
func (s *Service) OutputFrame(port int) ([]byte, error) {
	if err := checkPort(port); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, UniverseSize)
	copy(out, s.outputs[port])
	return out, nil
}

// FirmwareRunning is the status published when an upload starts.
const FirmwareRunning = "running"

// SendFirmware starts an upload and publishes its start and outcome.
func (s *Service) SendFirmware(ip net.IP, ubea bool, words []uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.node.SendFirmware(ip, ubea, words, func(_ *node.Node, r node.FirmwareResult) {
		s.log.WithFields(logrus.Fields{
			"peer":   r.Peer,
			"status": r.Status,
		}).Info("firmware upload finished")
		s.ps.Publish(pubsub.TopicFirmware, r.Peer.String(), FirmwareEvent{
			Peer:   r.Peer.String(),
			UBEA:   r.UBEA,
			Status: r.Status.String(),
			Bytes:  r.BytesCurrent,
			Total:  r.BytesTotal,
		})
	})
	if err != nil {
		return err
	}
	s.ps.Publish(pubsub.TopicFirmware, ip.String(), FirmwareEvent{
		Peer:   ip.String(),
		UBEA:   ubea,
		Status: FirmwareRunning,
		Total:  2 * len(words),
	})
	return nil
}

// IsActive returns whether transmission is in high rate mode.
func (s *Service) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isInHighRateMode
}

// GetCurrentRate returns the current transmission rate in Hz.
func (s *Service) GetCurrentRate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentRate
}

// Stop blacks out the input ports, stops the loops and the node.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	for port, f := range s.frames {
		if f != nil {
			_ = s.node.SendDMX(port, make([]byte, UniverseSize))
		}
	}
	close(s.stopChan)
	s.running = false
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.log.Info("DMX service stopped")
	return s.node.Stop()
}
