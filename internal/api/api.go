// Package api serves the daemon's HTTP interface: node state and control,
// DMX frames, the peer journal, a websocket event stream and metrics.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/bbernstein/lacylights-artnet/internal/services/dmx"
	"github.com/bbernstein/lacylights-artnet/internal/services/fade"
	"github.com/bbernstein/lacylights-artnet/internal/services/journal"
	"github.com/bbernstein/lacylights-artnet/pkg/artnet"
	"github.com/bbernstein/lacylights-artnet/pkg/node"
)

// Options configures the server. Journal, Fade and Metrics are optional.
type Options struct {
	Version    string
	CORSOrigin string
	Debug      bool
	Journal    *journal.Service
	Fade       *fade.Engine
	Metrics    http.Handler
}

// Server handles HTTP requests against a running node.
type Server struct {
	svc      *dmx.Service
	opts     Options
	log      logrus.FieldLogger
	started  time.Time
	upgrader websocket.Upgrader
}

// New creates a server for svc.
func New(svc *dmx.Service, opts Options, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{
		svc:     svc,
		opts:    opts,
		log:     log.WithField("module", "api"),
		started: time.Now(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for WebSocket
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins:   []string{s.opts.CORSOrigin, "http://localhost:3000", "http://localhost:4000"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
		Debug:            s.opts.Debug,
	})
	router.Use(corsMiddleware.Handler)

	router.Get("/health", s.health)
	router.Get("/ws", s.stream)
	if s.opts.Metrics != nil {
		router.Handle("/metrics", s.opts.Metrics)
	}

	router.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Get("/node", s.getNode)
		r.Patch("/node", s.patchNode)
		r.Get("/nodes", s.getNodes)
		r.Get("/ports/{dir}/{id}", s.getPort)
		r.Get("/dmx/{port}", s.getDMX)
		r.Put("/dmx/{port}", s.putDMX)
		r.Post("/blackout", s.blackout)
		r.Post("/poll", s.poll)
		r.Get("/firmware", s.getFirmware)
		r.Post("/firmware", s.postFirmware)
	})
	return router
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps node errors to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, node.ErrArg):
		status = http.StatusBadRequest
	case errors.Is(err, node.ErrState), errors.Is(err, node.ErrAction):
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func badRequest(w http.ResponseWriter, format string, args ...interface{}) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf(format, args...)})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   s.opts.Version,
		"uptime":    time.Since(s.started).Round(time.Second).String(),
	})
}

type portView struct {
	Index    int    `json:"index"`
	Addr     int    `json:"addr"`
	Universe int    `json:"universe"`
	NetCtl   bool   `json:"netCtl"`
	Enabled  bool   `json:"enabled"`
	Status   int    `json:"status"`
	Merge    string `json:"merge,omitempty"`
	TODSize  int    `json:"todSize"`
}

func newPortView(i int, p node.PortConfig, output bool) portView {
	v := portView{
		Index:    i,
		Addr:     int(p.Addr),
		Universe: int(p.Addr & 0x0f),
		NetCtl:   p.NetCtl,
		Enabled:  p.Enabled,
		Status:   int(p.Status),
		TODSize:  p.TODSize,
	}
	if output {
		v.Merge = p.Merge.String()
	}
	return v
}

type nodeView struct {
	Style     string     `json:"style"`
	Mode      string     `json:"mode"`
	IP        string     `json:"ip"`
	Broadcast string     `json:"broadcast"`
	ShortName string     `json:"shortName"`
	LongName  string     `json:"longName"`
	Report    string     `json:"report"`
	Subnet    int        `json:"subnet"`
	NetCtl    bool       `json:"netCtl"`
	Rate      int        `json:"rate"`
	Inputs    []portView `json:"inputs"`
	Outputs   []portView `json:"outputs"`
}

func newNodeView(c node.Config) nodeView {
	v := nodeView{
		Style:     c.Style.String(),
		Mode:      c.Mode.String(),
		IP:        c.IP.String(),
		Broadcast: c.Broadcast.String(),
		ShortName: c.ShortName,
		LongName:  c.LongName,
		Report:    c.Report,
		Subnet:    int(c.Subnet),
		NetCtl:    c.SubnetNetCtl,
	}
	for i := 0; i < node.MaxPorts; i++ {
		v.Inputs = append(v.Inputs, newPortView(i, c.Inputs[i], false))
		v.Outputs = append(v.Outputs, newPortView(i, c.Outputs[i], true))
	}
	return v
}

func (s *Server) getNode(w http.ResponseWriter, _ *http.Request) {
	var c node.Config
	_ = s.svc.Do(func(n *node.Node) error {
		c = n.Config()
		return nil
	})
	v := newNodeView(c)
	v.Rate = s.svc.GetCurrentRate()
	writeJSON(w, http.StatusOK, v)
}

type nodePatch struct {
	ShortName *string `json:"shortName"`
	LongName  *string `json:"longName"`
	Subnet    *int    `json:"subnet"`
}

func (s *Server) patchNode(w http.ResponseWriter, r *http.Request) {
	var req nodePatch
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid body: %v", err)
		return
	}
	var c node.Config
	err := s.svc.Do(func(n *node.Node) error {
		if req.ShortName != nil {
			if err := n.SetShortName(*req.ShortName); err != nil {
				return err
			}
		}
		if req.LongName != nil {
			if err := n.SetLongName(*req.LongName); err != nil {
				return err
			}
		}
		if req.Subnet != nil {
			if *req.Subnet < 0 || *req.Subnet > 15 {
				return fmt.Errorf("%w: subnet %d", node.ErrArg, *req.Subnet)
			}
			if err := n.SetSubnetAddr(uint8(*req.Subnet)); err != nil {
				return err
			}
		}
		c = n.Config()
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newNodeView(c))
}

// getNodes lists live peers, or the journal with ?source=journal.
func (s *Server) getNodes(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("source") != "journal" {
		writeJSON(w, http.StatusOK, s.svc.Peers())
		return
	}
	if s.opts.Journal == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "journal disabled"})
		return
	}
	nodes, err := s.opts.Journal.Nodes(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nodes)
}

func portParam(r *http.Request, name string) (int, error) {
	id, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil || id < 0 || id >= node.MaxPorts {
		return 0, fmt.Errorf("%w: port %q", node.ErrArg, chi.URLParam(r, name))
	}
	return id, nil
}

func (s *Server) getPort(w http.ResponseWriter, r *http.Request) {
	dir, err := node.ParseDirection(chi.URLParam(r, "dir"))
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := portParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	var (
		view portView
		uids []artnet.UID
	)
	err = s.svc.Do(func(n *node.Node) error {
		c := n.Config()
		if dir == node.PortInput {
			view = newPortView(id, c.Inputs[id], false)
		} else {
			view = newPortView(id, c.Outputs[id], true)
		}
		var err error
		uids, err = n.TOD(dir, id)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	devices := make([]string, len(uids))
	for i, u := range uids {
		devices[i] = u.String()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"direction": dir.String(),
		"port":      view,
		"devices":   devices,
	})
}

// getDMX returns an output port's merged frame, or the input frame with
// ?dir=input.
func (s *Server) getDMX(w http.ResponseWriter, r *http.Request) {
	port, err := portParam(r, "port")
	if err != nil {
		writeError(w, err)
		return
	}
	var frame []byte
	if r.URL.Query().Get("dir") == "input" {
		frame, err = s.svc.InputFrame(port)
	} else {
		frame, err = s.svc.OutputFrame(port)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"port": port, "channels": dmx.Channels(frame)})
}

type dmxRequest struct {
	Channels []int  `json:"channels"`
	Channel  int    `json:"channel"`
	Value    int    `json:"value"`
	FadeMs   int    `json:"fadeMs"`
	Easing   string `json:"easing"`
}

// putDMX writes an input port frame. The body holds either the leading
// channels or a single 1-based channel and value. Frames may be faded in
// with fadeMs.
func (s *Server) putDMX(w http.ResponseWriter, r *http.Request) {
	port, err := portParam(r, "port")
	if err != nil {
		writeError(w, err)
		return
	}
	var req dmxRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid body: %v", err)
		return
	}

	if req.Channels != nil {
		frame := make([]byte, len(req.Channels))
		for i, v := range req.Channels {
			if v < 0 || v > 255 {
				badRequest(w, "channel %d value %d out of range", i+1, v)
				return
			}
			frame[i] = byte(v)
		}
		err = s.setFrame(port, frame, req)
	} else {
		if req.Value < 0 || req.Value > 255 {
			badRequest(w, "value %d out of range", req.Value)
			return
		}
		err = s.svc.SetChannelValue(port, req.Channel, byte(req.Value))
	}
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) setFrame(port int, frame []byte, req dmxRequest) error {
	if req.FadeMs <= 0 || s.opts.Fade == nil {
		if s.opts.Fade != nil {
			s.opts.Fade.Cancel(port)
		}
		return s.svc.SetAllChannels(port, frame)
	}
	easing, err := fade.ParseEasing(req.Easing)
	if err != nil {
		return err
	}
	return s.opts.Fade.FadeTo(port, frame, time.Duration(req.FadeMs)*time.Millisecond, easing)
}

func (s *Server) blackout(w http.ResponseWriter, _ *http.Request) {
	if s.opts.Fade != nil {
		for port := 0; port < node.MaxPorts; port++ {
			s.opts.Fade.Cancel(port)
		}
	}
	s.svc.Blackout()
	w.WriteHeader(http.StatusNoContent)
}

type pollRequest struct {
	IP  string `json:"ip"`
	TTM uint8  `json:"ttm"`
}

func (s *Server) poll(w http.ResponseWriter, r *http.Request) {
	var req pollRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, "invalid body: %v", err)
			return
		}
	}
	var ip net.IP
	if req.IP != "" {
		if ip = net.ParseIP(req.IP); ip == nil {
			badRequest(w, "invalid ip %q", req.IP)
			return
		}
	}
	if err := s.svc.Do(func(n *node.Node) error { return n.SendPoll(ip, req.TTM) }); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) getFirmware(w http.ResponseWriter, r *http.Request) {
	if s.opts.Journal == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "journal disabled"})
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			badRequest(w, "invalid limit %q", v)
			return
		}
		limit = n
	}
	jobs, err := s.opts.Journal.FirmwareJobs(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

type firmwareRequest struct {
	IP    string `json:"ip"`
	UBEA  bool   `json:"ubea"`
	Image []byte `json:"image"` // base64
}

// imageWords packs an image into big-endian words, padding an odd final
// byte with zero.
func imageWords(image []byte) []uint16 {
	words := make([]uint16, (len(image)+1)/2)
	for i, b := range image {
		if i%2 == 0 {
			words[i/2] = uint16(b) << 8
		} else {
			words[i/2] |= uint16(b)
		}
	}
	return words
}

func (s *Server) postFirmware(w http.ResponseWriter, r *http.Request) {
	var req firmwareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid body: %v", err)
		return
	}
	ip := net.ParseIP(req.IP)
	if ip == nil {
		badRequest(w, "invalid ip %q", req.IP)
		return
	}
	words := imageWords(req.Image)
	if err := s.svc.SendFirmware(ip, req.UBEA, words); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"peer": ip.String(), "words": len(words)})
}
