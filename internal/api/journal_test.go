package api

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bbernstein/lacylights-artnet/internal/database/models"
	"github.com/bbernstein/lacylights-artnet/internal/services/dmx"
	"github.com/bbernstein/lacylights-artnet/internal/services/journal"
	"github.com/bbernstein/lacylights-artnet/internal/services/pubsub"
	"github.com/bbernstein/lacylights-artnet/internal/services/testutil"
	"github.com/bbernstein/lacylights-artnet/pkg/node"
)

func TestJournalEndpoints(t *testing.T) {
	n, err := node.New(node.StyleNode)
	require.NoError(t, err)
	log := logrus.New()
	log.SetOutput(io.Discard)
	svc := dmx.NewService(n, dmx.Config{}, nil, log)

	tdb := testutil.SetupTestDB(t)
	j := journal.New(tdb.DB, svc.PubSub(), log)
	ctx := context.Background()
	require.NoError(t, j.Record(ctx, pubsub.Event{Data: dmx.PeerEvent{Entry: node.NodeEntry{IP: net.ParseIP("10.0.0.8"), ShortName: "seen"}}}))
	_, err = tdb.Jobs.Start(ctx, "10.0.0.8", false, 100)
	require.NoError(t, err)

	srv := httptest.NewServer(New(svc, Options{Journal: j}, log).Router())
	defer srv.Close()

	resp, body := do(t, http.MethodGet, srv.URL+"/api/nodes?source=journal", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var nodes []models.NodeRecord
	require.NoError(t, json.Unmarshal(body, &nodes))
	require.Len(t, nodes, 1)
	assert.Equal(t, "seen", nodes[0].ShortName)

	resp, body = do(t, http.MethodGet, srv.URL+"/api/firmware?limit=5", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var jobs []models.FirmwareJob
	require.NoError(t, json.Unmarshal(body, &jobs))
	require.Len(t, jobs, 1)
	assert.Equal(t, 100, jobs[0].Words)

	resp, _ = do(t, http.MethodGet, srv.URL+"/api/firmware?limit=0", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
