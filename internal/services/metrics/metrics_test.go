package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bbernstein/lacylights-artnet/pkg/artnet"
)

func TestCollectorCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	require.NoError(t, err)

	c.PacketReceived(artnet.OpDmx)
	c.PacketReceived(artnet.OpDmx)
	c.PacketReceived(artnet.OpPoll)
	c.PacketSent(artnet.OpPollReply)
	c.PeerCount(3)
	c.MergeSourceCount(1, 2)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.PacketsReceived.WithLabelValues("ArtDmx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.PacketsReceived.WithLabelValues("ArtPoll")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.PacketsSent.WithLabelValues("ArtPollReply")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.Peers))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.MergeSources.WithLabelValues("1")))
}

func TestCollectorReusesRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewCollector(reg)
	require.NoError(t, err)
	second, err := NewCollector(reg)
	require.NoError(t, err)

	second.PacketSent(artnet.OpDmx)
	assert.Equal(t, 1.0, testutil.ToFloat64(first.PacketsSent.WithLabelValues("ArtDmx")))
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	require.NoError(t, err)
	c.PeerCount(5)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "artnet_peers 5"), body)
}
