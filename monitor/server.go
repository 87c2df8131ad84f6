// Package monitor serves playback status, a live event feed and prometheus
// metrics over HTTP.
package monitor

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dialup-inc/asciiplayer/pump"
)

const subscriberBuffer = 64

// Status is the snapshot served at "/".
type Status struct {
	App      string `json:"app"`
	ID       string `json:"id,omitempty"`
	Source   string `json:"source,omitempty"`
	Mime     string `json:"mime,omitempty"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	State    string `json:"state"`
	Rendered int    `json:"rendered"`
	Dropped  int    `json:"dropped"`
	Loops    int    `json:"loops"`
}

type StatusFunc func() Status

// Message is one frame of the "/ws" feed.
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type eventPayload struct {
	Kind    string  `json:"kind"`
	PTS     int64   `json:"pts,omitempty"`
	DelayMS float64 `json:"delay_ms,omitempty"`
	Width   int     `json:"width,omitempty"`
	Height  int     `json:"height,omitempty"`
	Status  string  `json:"status,omitempty"`
	Error   string  `json:"error,omitempty"`
}

type Option func(*Server)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithRegistry exposes reg instead of a fresh registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) { s.reg = reg }
}

func NewServer(status StatusFunc, opts ...Option) *Server {
	s := &Server{
		status: status,
		subs:   make(map[string]*subscriber),
		log:    log.Logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.reg == nil {
		s.reg = prometheus.NewRegistry()
	}
	s.log = s.log.With().Str("component", "monitor").Logger()
	s.metrics = NewMetrics(s.reg)
	return s
}

type Server struct {
	status  StatusFunc
	reg     *prometheus.Registry
	metrics *Metrics
	log     zerolog.Logger

	subsMu sync.Mutex
	subs   map[string]*subscriber
	closed bool
}

type subscriber struct {
	ch   chan Message
	quit chan struct{}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/":
		s.HandleStatus(w, r)
	case "/ws":
		s.HandleWS(w, r)
	case "/metrics":
		promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) snapshot() Status {
	st := Status{}
	if s.status != nil {
		st = s.status()
	}
	st.App = "asciiplayer"
	return st
}

func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s.snapshot()); err != nil {
		s.log.Warn().Err(err).Msg("status write failed")
	}
}

func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	var upgrader websocket.Upgrader
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket.Upgrader error")
		return
	}
	defer conn.Close()

	id, sub := s.subscribe()
	defer s.unsubscribe(id)
	l := s.log.With().Str("subscriber", id).Logger()
	l.Debug().Msg("subscriber connected")

	if err := conn.WriteJSON(Message{Type: "status", Payload: s.snapshot()}); err != nil {
		l.Warn().Err(err).Msg("status write failed")
		return
	}

	// the feed is one way; reading only notices the peer going away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case m := <-sub.ch:
			if err := conn.WriteJSON(m); err != nil {
				l.Warn().Err(err).Msg("event write failed")
				return
			}
		case <-closed:
			l.Debug().Msg("subscriber left")
			return
		case <-sub.quit:
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down")
			conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			l.Debug().Msg("subscriber closed")
			return
		}
	}
}

func (s *Server) subscribe() (string, *subscriber) {
	id := uuid.NewString()
	sub := &subscriber{
		ch:   make(chan Message, subscriberBuffer),
		quit: make(chan struct{}),
	}

	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	if s.closed {
		close(sub.quit)
	}
	s.subs[id] = sub
	return id, sub
}

func (s *Server) unsubscribe(id string) {
	s.subsMu.Lock()
	delete(s.subs, id)
	s.subsMu.Unlock()
}

// Subscribers is the number of connected "/ws" clients.
func (s *Server) Subscribers() int {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	return len(s.subs)
}

// Broadcast queues m for every subscriber. Slow subscribers miss messages.
func (s *Server) Broadcast(m Message) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, sub := range s.subs {
		select {
		case sub.ch <- m:
		default:
		}
	}
}

// Close disconnects every "/ws" client and refuses new ones. The HTTP server
// does not track hijacked connections, so Shutdown alone leaves them open.
func (s *Server) Close() {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for _, sub := range s.subs {
		close(sub.quit)
	}
}

// Observe records e in the metrics and forwards it to subscribers.
func (s *Server) Observe(e pump.Event) {
	s.metrics.Observe(e)

	p := eventPayload{
		Kind:    e.Kind.String(),
		PTS:     e.PTS,
		DelayMS: float64(e.Delay) / float64(time.Millisecond),
		Width:   e.Geometry.Width,
		Height:  e.Geometry.Height,
		Status:  e.Status,
	}
	if e.Err != nil {
		p.Error = e.Err.Error()
	}
	s.Broadcast(Message{Type: "event", Payload: p})
}

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrap(err, "monitor")
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then closes the feed
// and shuts the server down.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s}
	srv.RegisterOnShutdown(s.Close)

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	s.log.Info().Str("addr", ln.Addr().String()).Msg("monitor listening")

	select {
	case err := <-errc:
		return errors.Wrap(err, "monitor")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "monitor shutdown")
	}
	return nil
}
