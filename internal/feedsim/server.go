package feedsim

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

type subscribeRequest struct {
	Type    string   `json:"type"`
	Symbols []string `json:"symbols"`
	ID      int64    `json:"id"`
}

type subscribeResponse struct {
	Type   string `json:"type"`
	ID     int64  `json:"id"`
	Result any    `json:"result"`
}

type tradeEnvelope struct {
	Type string `json:"type"`
	Tick
}

// ServerConfig controls the synthetic feed endpoint.
type ServerConfig struct {
	Addr     string
	Interval time.Duration
	Ticks    Config
	Chaos    ChaosConfig
}

func (c ServerConfig) withDefaults() ServerConfig {
	if c.Addr == "" {
		c.Addr = ":9001"
	}
	if c.Interval <= 0 {
		c.Interval = 100 * time.Millisecond
	}
	return c
}

// Server speaks the feed protocol over websocket: one subscribe
// handshake per connection, then a paced trade stream. Every
// connection gets its own generator so streams are independent.
type Server struct {
	cfg      ServerConfig
	upgrader websocket.Upgrader
	httpSrv  *http.Server
	seed     int64
}

func NewServer(cfg ServerConfig) *Server {
	s := &Server{
		cfg: cfg.withDefaults(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/feed", s.handleFeed)
	s.httpSrv = &http.Server{Addr: s.cfg.Addr, Handler: mux}
	return s
}

func (s *Server) ListenAndServe() error {
	logs.Infof("feed simulator listening on %s", s.cfg.Addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, "feed simulator")
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logs.Warnf("feed upgrade failed, %+v", err)
		return
	}
	defer conn.Close()

	var req subscribeRequest
	if err := conn.ReadJSON(&req); err != nil || req.Type != "subscribe" {
		logs.Warnf("bad subscribe handshake, %+v", err)
		return
	}

	symbols := s.resolveSymbols(req.Symbols)
	resp := subscribeResponse{Type: "subscribed", ID: req.ID}
	if len(symbols) == 0 {
		resp.Result = "no known symbols"
		_ = conn.WriteJSON(resp)
		return
	}
	if err := conn.WriteJSON(resp); err != nil {
		return
	}

	tickCfg := s.cfg.Ticks
	tickCfg.Symbols = symbols
	s.seed++
	if tickCfg.Seed != 0 {
		tickCfg.Seed += s.seed
	}
	gen, err := NewGenerator(tickCfg)
	if err != nil {
		logs.Errorf("generator init failed, %+v", err)
		return
	}

	var chaos *Chaos
	if s.cfg.Chaos.Enabled() {
		chaos, err = NewChaos(s.cfg.Chaos)
		if err != nil {
			logs.Errorf("chaos init failed, %+v", err)
			return
		}
	}

	logs.Infof("feed client subscribed, %d symbols", len(symbols))
	s.stream(conn, gen, chaos)
}

// stream writes trades until the client goes away. The read loop only
// exists to observe the close.
func (s *Server) stream(conn *websocket.Conn, gen *Generator, chaos *Chaos) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case now := <-ticker.C:
			for _, tick := range chaos.Process(gen.Next(now)) {
				if err := conn.WriteJSON(tradeEnvelope{Type: "trade", Tick: tick}); err != nil {
					return
				}
			}
		}
	}
}

func (s *Server) resolveSymbols(requested []string) []string {
	if len(requested) == 0 {
		return s.cfg.Ticks.Symbols
	}
	known := make(map[string]struct{}, len(s.cfg.Ticks.Symbols))
	for _, symbol := range s.cfg.Ticks.Symbols {
		known[symbol] = struct{}{}
	}
	var out []string
	for _, symbol := range requested {
		if _, ok := known[symbol]; ok {
			out = append(out, symbol)
		}
	}
	return out
}
