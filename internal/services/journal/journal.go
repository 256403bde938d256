// Package journal persists what the node learns from the network: peers
// that replied, names and subnet programmed by a controller, and firmware
// upload history.
package journal

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/bbernstein/lacylights-artnet/internal/database/models"
	"github.com/bbernstein/lacylights-artnet/internal/database/repositories"
	"github.com/bbernstein/lacylights-artnet/internal/services/dmx"
	"github.com/bbernstein/lacylights-artnet/internal/services/pubsub"
	"github.com/bbernstein/lacylights-artnet/pkg/node"
)

// Service records bus events in the database.
type Service struct {
	nodes    *repositories.NodeRepository
	settings *repositories.SettingRepository
	jobs     *repositories.FirmwareJobRepository
	ps       *pubsub.PubSub
	log      logrus.FieldLogger

	subs []*pubsub.Subscriber
	stop chan struct{}
	wg   sync.WaitGroup
}

// New creates a journal backed by db.
func New(db *gorm.DB, ps *pubsub.PubSub, log logrus.FieldLogger) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{
		nodes:    repositories.NewNodeRepository(db),
		settings: repositories.NewSettingRepository(db),
		jobs:     repositories.NewFirmwareJobRepository(db),
		ps:       ps,
		log:      log.WithField("module", "journal"),
	}
}

// Start subscribes to the bus.
func (s *Service) Start() {
	if s.stop != nil {
		return
	}
	s.stop = make(chan struct{})
	for _, topic := range []pubsub.Topic{pubsub.TopicPeer, pubsub.TopicProgrammed, pubsub.TopicFirmware} {
		sub := s.ps.Subscribe(topic, "", 128)
		s.subs = append(s.subs, sub)
		s.wg.Add(1)
		go s.consume(sub)
	}
}

// Stop unsubscribes and waits for pending writes.
func (s *Service) Stop() {
	if s.stop == nil {
		return
	}
	close(s.stop)
	s.wg.Wait()
	for _, sub := range s.subs {
		s.ps.Unsubscribe(sub)
	}
	s.subs = nil
	s.stop = nil
}

func (s *Service) consume(sub *pubsub.Subscriber) {
	defer s.wg.Done()
	for {
		select {
		case <-s.stop:
			return
		case ev := <-sub.Channel:
			if err := s.Record(context.Background(), ev); err != nil {
				s.log.WithError(err).WithField("topic", ev.Topic).Warn("failed to record event")
			}
		}
	}
}

// Record stores one event.
func (s *Service) Record(ctx context.Context, ev pubsub.Event) error {
	switch data := ev.Data.(type) {
	case dmx.PeerEvent:
		_, err := s.nodes.Upsert(ctx, nodeRecord(data.Entry, ev.Time))
		return err
	case dmx.ProgramEvent:
		values := map[string]string{
			repositories.SettingShortName: data.ShortName,
			repositories.SettingLongName:  data.LongName,
			repositories.SettingSubnet:    strconv.Itoa(int(data.Subnet)),
		}
		for k, v := range values {
			if _, err := s.settings.Upsert(ctx, k, v); err != nil {
				return err
			}
		}
		return nil
	case dmx.FirmwareEvent:
		if data.Inbound {
			s.log.WithField("bytes", data.Bytes).Info("firmware image received")
			return nil
		}
		if data.Status == dmx.FirmwareRunning {
			_, err := s.jobs.Start(ctx, data.Peer, data.UBEA, data.Total/2)
			return err
		}
		return s.jobs.Finish(ctx, data.Peer, data.Status == node.FirmwareAllGood.String(), data.Bytes)
	}
	return nil
}

func nodeRecord(e node.NodeEntry, seen time.Time) models.NodeRecord {
	info := dmx.NewPeerInfo(e)
	return models.NodeRecord{
		IP:         info.IP,
		ShortName:  info.ShortName,
		LongName:   info.LongName,
		NodeReport: info.NodeReport,
		Style:      info.Style,
		Subnet:     info.Subnet,
		NumPorts:   info.NumPorts,
		SwIn:       joinInts(info.SwIn),
		SwOut:      joinInts(info.SwOut),
		MAC:        info.MAC,
		LastSeen:   seen,
	}
}

func joinInts(v []int) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = strconv.Itoa(x)
	}
	return strings.Join(parts, ",")
}

// Restore applies names and subnet saved from earlier network programming.
func (s *Service) Restore(ctx context.Context, svc *dmx.Service) error {
	saved, err := s.settings.FindAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	if len(saved) == 0 {
		return nil
	}
	return svc.Do(func(n *node.Node) error {
		if v, ok := saved[repositories.SettingShortName]; ok {
			if err := n.SetShortName(v); err != nil {
				return err
			}
		}
		if v, ok := saved[repositories.SettingLongName]; ok {
			if err := n.SetLongName(v); err != nil {
				return err
			}
		}
		if v, ok := saved[repositories.SettingSubnet]; ok {
			subnet, err := strconv.Atoi(v)
			if err != nil || subnet < 0 || subnet > 15 {
				return fmt.Errorf("invalid saved subnet %q", v)
			}
			if err := n.SetSubnetAddr(uint8(subnet)); err != nil {
				return err
			}
		}
		s.log.WithField("settings", len(saved)).Info("restored node settings")
		return nil
	})
}

// Nodes returns every journaled peer, most recent first.
func (s *Service) Nodes(ctx context.Context) ([]models.NodeRecord, error) {
	return s.nodes.FindAll(ctx)
}

// FirmwareJobs returns the latest uploads.
func (s *Service) FirmwareJobs(ctx context.Context, limit int) ([]models.FirmwareJob, error) {
	return s.jobs.FindRecent(ctx, limit)
}

// Sweep prunes peers older than maxAge every interval until Stop. It has no
// effect before Start or with a non-positive interval or age.
func (s *Service) Sweep(interval, maxAge time.Duration) {
	if s.stop == nil || interval <= 0 || maxAge <= 0 {
		return
	}
	s.wg.Add(1)
	go func(stop <-chan struct{}) {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				removed, err := s.Prune(context.Background(), maxAge)
				if err != nil {
					s.log.WithError(err).Warn("failed to prune journal")
				} else if removed > 0 {
					s.log.WithField("removed", removed).Info("pruned stale peers")
				}
			}
		}
	}(s.stop)
}

// Prune forgets peers not seen within maxAge.
func (s *Service) Prune(ctx context.Context, maxAge time.Duration) (int64, error) {
	return s.nodes.DeleteStale(ctx, time.Now().Add(-maxAge))
}
