// Package statusapi exposes a node's liveness and chain state over HTTP
// and WebSocket for external monitoring, grounded on the RPC/WebSocket
// surface pattern of a typical libp2p daemon.
package statusapi

import (
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/bigdot123456/p2pnode/internal/ledger"
	"github.com/bigdot123456/p2pnode/internal/peertable"
	"github.com/bigdot123456/p2pnode/pkg/logging"
)

// Engine is the subset of the Session Engine the status API reports on.
type Engine interface {
	Identifier() string
	Ready() bool
	Synced() bool
}

// Status is the JSON document served at GET /status.
type Status struct {
	Identifier string `json:"identifier"`
	Ready      bool   `json:"ready"`
	Synced     bool   `json:"synced"`
	Height     int    `json:"height"`
	Peers      int    `json:"peers"`
}

// Server serves node status over HTTP and pushes changes over WebSocket.
type Server struct {
	engine  Engine
	ledger  *ledger.Ledger
	peers   *peertable.Table
	log     *logging.Logger
	hub     *Hub
	httpSrv *http.Server
	stopCh  chan struct{}
}

// New constructs a Server. Call Start to begin listening.
func New(engine Engine, led *ledger.Ledger, peers *peertable.Table, log *logging.Logger) *Server {
	return &Server{
		engine: engine,
		ledger: led,
		peers:  peers,
		log:    log,
		hub:    NewHub(log),
		stopCh: make(chan struct{}),
	}
}

// Hub returns the WebSocket broadcast hub, so callers can push events
// (e.g. on peer connect, on block mined) outside the polling loop.
func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) snapshot() Status {
	return Status{
		Identifier: s.engine.Identifier(),
		Ready:      s.engine.Ready(),
		Synced:     s.engine.Synced(),
		Height:     s.ledger.Height(),
		Peers:      s.peers.Len(),
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.snapshot()); err != nil {
		s.log.Error("failed to encode status response", "error", err)
	}
}

// Start listens on addr and begins the WebSocket hub's event loop and a
// periodic status broadcast. It returns once the listener is accepting
// connections; call Stop to shut down.
func (s *Server) Start(addr string) error {
	go s.hub.Run()
	go s.pollLoop()

	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/ws", s.hub.HandleWS)

	s.httpSrv = &http.Server{Addr: addr, Handler: mux}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error("status api server stopped", "error", err)
		}
	}()
	return nil
}

func (s *Server) pollLoop() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.hub.Broadcast(EventNodeStatus, s.snapshot())
		}
	}
}

// Stop stops the poll loop and closes the HTTP listener and any open
// connections immediately, without waiting for in-flight requests.
func (s *Server) Stop() error {
	close(s.stopCh)
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Close()
}
