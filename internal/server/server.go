package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/broadcast"
	"main/internal/schema"
)

// Config controls the client websocket endpoint.
type Config struct {
	Addr         string
	WriteTimeout time.Duration
	PingInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	return c
}

// Server exposes the broadcaster over websocket. Each client gets its
// own subscription, so a slow client loses its oldest events inside
// the broadcaster instead of growing server-side buffers.
type Server struct {
	cfg      Config
	caster   *broadcast.Broadcaster
	upgrader websocket.Upgrader
	httpSrv  *http.Server
}

// New builds the server around an existing broadcaster.
func New(cfg Config, caster *broadcast.Broadcaster) *Server {
	s := &Server{
		cfg:    cfg.withDefaults(),
		caster: caster,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/stream", s.handleStream)
	s.httpSrv = &http.Server{Addr: s.cfg.Addr, Handler: mux}
	return s
}

// ListenAndServe blocks serving clients until Shutdown.
func (s *Server) ListenAndServe() error {
	logs.Infof("stream server listening on %s", s.cfg.Addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, "stream server")
	}
	return nil
}

// Shutdown stops accepting clients and closes existing connections.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sub, err := s.caster.Subscribe(filter)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.caster.Unsubscribe(sub)
		logs.Warnf("stream upgrade failed, %+v", err)
		return
	}

	logs.Infof("stream client connected, %s", conn.RemoteAddr())
	go s.writeLoop(conn, sub)
	s.readLoop(conn, sub)
}

// writeLoop pumps subscription events to the client. It owns all
// writes on the connection, including pings.
func (s *Server) writeLoop(conn *websocket.Conn, sub *broadcast.Subscription) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	events := make(chan Message, 1)
	go func() {
		defer close(events)
		for {
			e, ok := sub.Next()
			if !ok {
				return
			}
			if msg, ok := encodeMessage(e); ok {
				events <- msg
			}
		}
	}()

	for {
		select {
		case msg, ok := <-events:
			if !ok {
				deadline := time.Now().Add(s.cfg.WriteTimeout)
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), deadline)
				_ = conn.Close()
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				_ = conn.Close()
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(s.cfg.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}

// readLoop only services control frames; clients send no data.
func (s *Server) readLoop(conn *websocket.Conn, sub *broadcast.Subscription) {
	defer s.caster.Unsubscribe(sub)
	conn.SetPongHandler(func(string) error { return nil })
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			logs.Infof("stream client disconnected, %s", conn.RemoteAddr())
			return
		}
	}
}

func parseFilter(query map[string][]string) (broadcast.Filter, error) {
	var filter broadcast.Filter

	for _, name := range splitParam(query["kinds"]) {
		eventType, ok := eventTypesByName[name]
		if !ok {
			return broadcast.Filter{}, errors.Errorf("unknown event kind %q", name)
		}
		if eventType == schema.EventWindowClosed {
			filter.Kinds = append(filter.Kinds, schema.EventWindowAmended)
		}
		filter.Kinds = append(filter.Kinds, eventType)
	}

	for _, raw := range splitParam(query["instruments"]) {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return broadcast.Filter{}, errors.Errorf("bad instrument id %q", raw)
		}
		filter.Instruments = append(filter.Instruments, schema.InstrumentID(id))
	}

	for _, raw := range splitParam(query["portfolios"]) {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return broadcast.Filter{}, errors.Errorf("bad portfolio id %q", raw)
		}
		filter.Portfolios = append(filter.Portfolios, schema.PortfolioID(id))
	}

	return filter, nil
}

func splitParam(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
