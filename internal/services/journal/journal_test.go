package journal

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bbernstein/lacylights-artnet/internal/database/models"
	"github.com/bbernstein/lacylights-artnet/internal/database/repositories"
	"github.com/bbernstein/lacylights-artnet/internal/services/dmx"
	"github.com/bbernstein/lacylights-artnet/internal/services/pubsub"
	"github.com/bbernstein/lacylights-artnet/internal/services/testutil"
	"github.com/bbernstein/lacylights-artnet/pkg/node"
)

func newTestJournal(t *testing.T) (*Service, *testutil.TestDB, *pubsub.PubSub) {
	t.Helper()
	tdb := testutil.SetupTestDB(t)
	ps := pubsub.New()
	log := logrus.New()
	log.SetOutput(io.Discard)
	return New(tdb.DB, ps, log), tdb, ps
}

func TestRecordPeer(t *testing.T) {
	j, _, _ := newTestJournal(t)
	ctx := context.Background()
	seen := time.Now().Add(-time.Minute)

	entry := node.NodeEntry{
		IP:        net.ParseIP("10.0.0.2"),
		ShortName: "rack",
		SubSwitch: 2,
		SwOut:     [node.MaxPorts]uint8{1, 2, 3, 4},
	}
	require.NoError(t, j.Record(ctx, pubsub.Event{Topic: pubsub.TopicPeer, Time: seen, Data: dmx.PeerEvent{Entry: entry}}))

	entry.ShortName = "rack 2"
	require.NoError(t, j.Record(ctx, pubsub.Event{Topic: pubsub.TopicPeer, Time: time.Now(), Data: dmx.PeerEvent{Entry: entry}}))

	nodes, err := j.Nodes(ctx)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "rack 2", nodes[0].ShortName)
	assert.Equal(t, "1,2,3,4", nodes[0].SwOut)
	assert.Equal(t, 2, nodes[0].Subnet)

	removed, err := j.Prune(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestRecordFirmware(t *testing.T) {
	j, _, _ := newTestJournal(t)
	ctx := context.Background()

	require.NoError(t, j.Record(ctx, pubsub.Event{Data: dmx.FirmwareEvent{Peer: "10.0.0.2", Status: dmx.FirmwareRunning, Total: 1024}}))
	jobs, err := j.FirmwareJobs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, models.FirmwareJobRunning, jobs[0].Status)
	assert.Equal(t, 512, jobs[0].Words)

	require.NoError(t, j.Record(ctx, pubsub.Event{Data: dmx.FirmwareEvent{Peer: "10.0.0.2", Status: node.FirmwareAllGood.String(), Bytes: 1024, Total: 1024}}))
	jobs, err = j.FirmwareJobs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, models.FirmwareJobDone, jobs[0].Status)
	assert.Equal(t, 1024, jobs[0].BytesSent)
	assert.NotNil(t, jobs[0].FinishedAt)

	// Received images are not jobs.
	require.NoError(t, j.Record(ctx, pubsub.Event{Data: dmx.FirmwareEvent{Inbound: true, Bytes: 10}}))
	jobs, err = j.FirmwareJobs(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestRestore(t *testing.T) {
	j, db, _ := newTestJournal(t)
	ctx := context.Background()

	n, err := node.New(node.StyleNode)
	require.NoError(t, err)
	svc := dmx.NewService(n, dmx.Config{}, nil, nil)

	// Nothing saved yet.
	require.NoError(t, j.Restore(ctx, svc))
	assert.Zero(t, n.Subnet())

	require.NoError(t, j.Record(ctx, pubsub.Event{Data: dmx.ProgramEvent{ShortName: "left", LongName: "stage left", Subnet: 5}}))
	require.NoError(t, j.Restore(ctx, svc))

	c := n.Config()
	assert.Equal(t, "left", c.ShortName)
	assert.Equal(t, "stage left", c.LongName)
	assert.Equal(t, uint8(5), c.Subnet)

	_, err = db.Settings.Upsert(ctx, repositories.SettingSubnet, "42")
	require.NoError(t, err)
	assert.Error(t, j.Restore(ctx, svc))
}

func TestStartConsumesBus(t *testing.T) {
	j, _, ps := newTestJournal(t)
	j.Start()
	j.Start()

	ps.Publish(pubsub.TopicPeer, "10.0.0.3", dmx.PeerEvent{Entry: node.NodeEntry{IP: net.ParseIP("10.0.0.3")}})

	assert.Eventually(t, func() bool {
		nodes, err := j.Nodes(context.Background())
		return err == nil && len(nodes) == 1
	}, 2*time.Second, 10*time.Millisecond)

	j.Stop()
	j.Stop()
	assert.Zero(t, ps.SubscriberCount(pubsub.TopicPeer))
}

func TestSweepPrunesStalePeers(t *testing.T) {
	j, _, _ := newTestJournal(t)
	ctx := context.Background()

	old := node.NodeEntry{IP: net.ParseIP("10.0.0.4"), ShortName: "gone"}
	fresh := node.NodeEntry{IP: net.ParseIP("10.0.0.5"), ShortName: "here"}
	require.NoError(t, j.Record(ctx, pubsub.Event{Time: time.Now().Add(-2 * time.Hour), Data: dmx.PeerEvent{Entry: old}}))
	require.NoError(t, j.Record(ctx, pubsub.Event{Time: time.Now(), Data: dmx.PeerEvent{Entry: fresh}}))

	// Ignored before Start.
	j.Sweep(10*time.Millisecond, time.Hour)

	j.Start()
	defer j.Stop()
	j.Sweep(10*time.Millisecond, time.Hour)

	assert.Eventually(t, func() bool {
		nodes, err := j.Nodes(ctx)
		return err == nil && len(nodes) == 1 && nodes[0].ShortName == "here"
	}, 2*time.Second, 10*time.Millisecond)
}
