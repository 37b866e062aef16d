// Package server accepts worker websocket connections and runs each
// one through the attach handshake: worker info, builder-list
// synchronization, and handoff to the scheduling layer.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/buildmesh/buildmesh/internal/remote"
	"github.com/buildmesh/buildmesh/internal/transport"
)

// WorkerNameHeader identifies the worker on the upgrade request.
const WorkerNameHeader = "X-Buildmesh-Worker"

// Config configures the worker listener.
type Config struct {
	// Builders is the desired builder set reconciled onto every worker.
	Builders []remote.Builder
	// KeepaliveInterval overrides the per-connection heartbeat period.
	KeepaliveInterval time.Duration
	// HandshakeTimeout bounds the attach handshake (worker info plus
	// builder-list synchronization), not later command traffic.
	HandshakeTimeout time.Duration
	Logger           *slog.Logger

	// OnReady is called after a worker passes the handshake, with the
	// builder names ready to build on it.
	OnReady func(conn *remote.Connection, builders []string)
}

const defaultHandshakeTimeout = 5 * time.Minute

// Server upgrades worker websockets into attached connections.
type Server struct {
	cfg      Config
	log      *slog.Logger
	registry *ConnRegistry
	upgrader websocket.Upgrader
}

// New creates a worker listener around registry.
func New(cfg Config, registry *ConnRegistry) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	return &Server{
		cfg:      cfg,
		log:      cfg.Logger,
		registry: registry,
		// Workers are not browsers; the Origin header carries no signal.
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
}

// Registry returns the connection registry.
func (s *Server) Registry() *ConnRegistry { return s.registry }

// HandleWorker upgrades one worker connection and drives its attach
// handshake.
func (s *Server) HandleWorker(w http.ResponseWriter, r *http.Request) {
	workerName := r.Header.Get(WorkerNameHeader)
	if workerName == "" {
		http.Error(w, "missing worker name header", http.StatusBadRequest)
		return
	}

	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "worker", workerName, "error", err)
		return
	}

	s.log.Info("worker attaching", "worker", workerName, "peer", wsConn.RemoteAddr().String())

	conn := remote.NewConnection(remote.Config{
		WorkerName:        workerName,
		KeepaliveInterval: s.cfg.KeepaliveInterval,
		Logger:            s.log,
	})

	if err := s.registry.Register(workerName, conn); err != nil {
		s.log.Warn("worker rejected", "worker", workerName, "error", err)
		wsConn.Close()
		return
	}
	conn.OnDisconnect(func() {
		s.registry.Deregister(workerName)
	})

	tr := transport.NewWS(wsConn, conn, s.log)
	if err := conn.Attach(tr); err != nil {
		s.log.Error("attach failed", "worker", workerName, "error", err)
		s.registry.Deregister(workerName)
		tr.Close()
		return
	}
	// Pumps start only after the connection holds the transport, so a
	// socket lost at any point still reaches the disconnect fan-out.
	tr.Start()

	go s.handshake(conn)
}

// handshake runs the bootstrap sequence on a fresh connection. A
// failure leaves the worker attached but not ready; no builds may be
// dispatched to it until a later reconfiguration succeeds.
func (s *Server) handshake(conn *remote.Connection) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.HandshakeTimeout)
	defer cancel()

	workerName := conn.WorkerName()
	if _, err := conn.RequestWorkerInfo(ctx); err != nil {
		s.log.Error("worker info request failed", "worker", workerName, "error", err)
		return
	}
	if err := conn.Print(ctx, "attached"); err != nil {
		s.log.Warn("attached banner failed", "worker", workerName, "error", err)
	}

	builders, err := conn.SyncBuilderList(ctx, s.cfg.Builders)
	if err != nil {
		s.log.Error("worker not ready: builder-list synchronization failed",
			"worker", workerName,
			"error", err,
		)
		return
	}

	if s.cfg.OnReady != nil {
		s.cfg.OnReady(conn, builders)
	}
}

// DetachAll detaches every registered connection, used at shutdown.
func (s *Server) DetachAll() {
	for _, conn := range s.registry.List() {
		conn.Detach()
	}
}
