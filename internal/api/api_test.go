package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bbernstein/lacylights-artnet/internal/services/dmx"
	"github.com/bbernstein/lacylights-artnet/internal/services/fade"
	"github.com/bbernstein/lacylights-artnet/internal/services/pubsub"
	"github.com/bbernstein/lacylights-artnet/pkg/node"
	"github.com/bbernstein/lacylights-artnet/pkg/transport"
)

func newTestServer(t *testing.T, start bool) (*httptest.Server, *dmx.Service) {
	t.Helper()
	srv, svc, _ := newTestServerWithFade(t, start)
	return srv, svc
}

func newTestServerWithFade(t *testing.T, start bool) (*httptest.Server, *dmx.Service, *fade.Engine) {
	t.Helper()
	hub := transport.NewHub()
	n, err := node.New(node.StyleNode, node.WithTransport(hub.Join(net.ParseIP("10.0.0.1"))))
	require.NoError(t, err)
	require.NoError(t, n.SetIP(net.ParseIP("10.0.0.1")))
	require.NoError(t, n.SetShortName("api node"))
	require.NoError(t, n.SetPortAddr(node.PortOutput, 0, 3))
	if start {
		require.NoError(t, n.Start())
	}

	log := logrus.New()
	log.SetOutput(io.Discard)
	svc := dmx.NewService(n, dmx.Config{}, nil, log)
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("artnet_peers 0\n"))
	})
	engine := fade.NewEngine(svc, log)
	srv := httptest.NewServer(New(svc, Options{Version: "test", Metrics: metrics, Fade: engine}, log).Router())
	t.Cleanup(srv.Close)
	return srv, svc, engine
}

func do(t *testing.T, method, url, body string) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, r)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, false)
	resp, body := do(t, http.MethodGet, srv.URL+"/health", "")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	var health map[string]string
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, "test", health["version"])
}

func TestMetricsMounted(t *testing.T) {
	srv, _ := newTestServer(t, false)
	resp, body := do(t, http.MethodGet, srv.URL+"/metrics", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "artnet_peers")
}

func TestGetAndPatchNode(t *testing.T) {
	srv, _ := newTestServer(t, false)

	resp, body := do(t, http.MethodGet, srv.URL+"/api/node", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var v nodeView
	require.NoError(t, json.Unmarshal(body, &v))
	assert.Equal(t, "api node", v.ShortName)
	assert.Equal(t, "node", v.Style)
	assert.Equal(t, "10.0.0.1", v.IP)
	require.Len(t, v.Outputs, node.MaxPorts)
	assert.Equal(t, 3, v.Outputs[0].Universe)

	resp, body = do(t, http.MethodPatch, srv.URL+"/api/node", `{"shortName":"renamed","subnet":2}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &v))
	assert.Equal(t, "renamed", v.ShortName)
	assert.Equal(t, 2, v.Subnet)
	assert.Equal(t, 0x23, v.Outputs[0].Addr)

	resp, _ = do(t, http.MethodPatch, srv.URL+"/api/node", `{"subnet":16}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = do(t, http.MethodPatch, srv.URL+"/api/node", `{"shortName":"`+strings.Repeat("x", 40)+`"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = do(t, http.MethodPatch, srv.URL+"/api/node", `{`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestNodes(t *testing.T) {
	srv, _ := newTestServer(t, false)

	resp, body := do(t, http.MethodGet, srv.URL+"/api/nodes", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, string(body))

	resp, _ = do(t, http.MethodGet, srv.URL+"/api/nodes?source=journal", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = do(t, http.MethodGet, srv.URL+"/api/firmware", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetPort(t *testing.T) {
	srv, _ := newTestServer(t, false)

	resp, body := do(t, http.MethodGet, srv.URL+"/api/ports/output/0", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got struct {
		Direction string   `json:"direction"`
		Port      portView `json:"port"`
		Devices   []string `json:"devices"`
	}
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "output", got.Direction)
	assert.Equal(t, 3, got.Port.Universe)
	assert.NotEmpty(t, got.Port.Merge)
	assert.Empty(t, got.Devices)

	resp, _ = do(t, http.MethodGet, srv.URL+"/api/ports/sideways/0", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = do(t, http.MethodGet, srv.URL+"/api/ports/input/4", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPutAndGetDMX(t *testing.T) {
	srv, svc := newTestServer(t, false)

	resp, _ := do(t, http.MethodPut, srv.URL+"/api/dmx/1", `{"channels":[10,20,30]}`)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = do(t, http.MethodPut, srv.URL+"/api/dmx/1", `{"channel":512,"value":99}`)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	frame, err := svc.InputFrame(1)
	require.NoError(t, err)
	assert.Equal(t, []byte{10, 20, 30}, frame[:3])
	assert.Equal(t, byte(99), frame[511])

	resp, body := do(t, http.MethodGet, srv.URL+"/api/dmx/1?dir=input", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got struct {
		Port     int   `json:"port"`
		Channels []int `json:"channels"`
	}
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, 1, got.Port)
	require.Len(t, got.Channels, dmx.UniverseSize)
	assert.Equal(t, 20, got.Channels[1])

	resp, body = do(t, http.MethodGet, srv.URL+"/api/dmx/0", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, 0, got.Channels[0])

	for _, tc := range []struct{ url, body string }{
		{"/api/dmx/9", `{"channels":[1]}`},
		{"/api/dmx/x", `{"channels":[1]}`},
		{"/api/dmx/0", `{"channels":[256]}`},
		{"/api/dmx/0", `{"channel":0,"value":1}`},
		{"/api/dmx/0", `{"channel":1,"value":300}`},
		{"/api/dmx/0", `nope`},
	} {
		resp, _ = do(t, http.MethodPut, srv.URL+tc.url, tc.body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, tc.url+" "+tc.body)
	}

	resp, _ = do(t, http.MethodPost, srv.URL+"/api/blackout", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	frame, err = svc.InputFrame(1)
	require.NoError(t, err)
	assert.Equal(t, byte(0), frame[0])
}

func TestPutDMXFade(t *testing.T) {
	srv, svc, engine := newTestServerWithFade(t, false)

	resp, _ := do(t, http.MethodPut, srv.URL+"/api/dmx/0", `{"channels":[255],"fadeMs":1000,"easing":"LINEAR"}`)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, 1, engine.ActiveFadeCount())
	frame, err := svc.InputFrame(0)
	require.NoError(t, err)
	assert.Equal(t, byte(0), frame[0])

	resp, _ = do(t, http.MethodPut, srv.URL+"/api/dmx/0", `{"channels":[1],"fadeMs":1000,"easing":"WOBBLE"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// A plain write replaces the running fade.
	resp, _ = do(t, http.MethodPut, srv.URL+"/api/dmx/0", `{"channels":[9]}`)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Zero(t, engine.ActiveFadeCount())
	frame, err = svc.InputFrame(0)
	require.NoError(t, err)
	assert.Equal(t, byte(9), frame[0])
}

func TestPoll(t *testing.T) {
	srv, _ := newTestServer(t, true)
	resp, _ := do(t, http.MethodPost, srv.URL+"/api/poll", "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp, _ = do(t, http.MethodPost, srv.URL+"/api/poll", `{"ip":"10.0.0.7","ttm":2}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp, _ = do(t, http.MethodPost, srv.URL+"/api/poll", `{"ip":"bogus"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	standby, _ := newTestServer(t, false)
	resp, _ = do(t, http.MethodPost, standby.URL+"/api/poll", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestPostFirmware(t *testing.T) {
	srv, _ := newTestServer(t, true)
	resp, _ := do(t, http.MethodPost, srv.URL+"/api/firmware", `{"ip":"10.0.0.99","image":"AAECAw=="}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = do(t, http.MethodPost, srv.URL+"/api/firmware", `{"ip":"","image":"AAECAw=="}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestImageWords(t *testing.T) {
	assert.Equal(t, []uint16{0x0102, 0x0300}, imageWords([]byte{1, 2, 3}))
	assert.Equal(t, []uint16{0xabcd}, imageWords([]byte{0xab, 0xcd}))
	assert.Empty(t, imageWords(nil))
}

func TestStream(t *testing.T) {
	srv, svc := newTestServer(t, false)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?topic=" + string(pubsub.TopicDMXOutput)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	ps := svc.PubSub()
	require.Eventually(t, func() bool {
		return ps.SubscriberCount(pubsub.TopicDMXOutput) == 1
	}, 2*time.Second, 10*time.Millisecond)

	ps.Publish(pubsub.TopicPeer, "", "ignored")
	ps.Publish(pubsub.TopicDMXOutput, "2", dmx.OutputEvent{Port: 2})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev map[string]interface{}
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, string(pubsub.TopicDMXOutput), ev["topic"])
	assert.Equal(t, "2", ev["filter"])

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool {
		return ps.SubscriberCount(pubsub.TopicDMXOutput) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStreamUnknownTopic(t *testing.T) {
	srv, _ := newTestServer(t, false)
	resp, body := do(t, http.MethodGet, srv.URL+"/ws?topic=NOPE", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.True(t, bytes.Contains(body, []byte("NOPE")))
}
