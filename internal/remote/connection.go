package remote

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/buildmesh/buildmesh/internal/metrics"
	"github.com/buildmesh/buildmesh/internal/pathmap"
	"github.com/buildmesh/buildmesh/internal/protocol"
	"github.com/buildmesh/buildmesh/internal/transport"
)

const (
	// DefaultKeepaliveInterval is the liveness heartbeat period.
	DefaultKeepaliveInterval = 3600 * time.Second

	// DefaultDetachGrace bounds how long Detach waits for an in-flight
	// keepalive round trip.
	DefaultDetachGrace = 5 * time.Second
)

// Config configures one worker connection.
type Config struct {
	WorkerName        string
	KeepaliveInterval time.Duration
	DetachGrace       time.Duration
	Logger            *slog.Logger
}

// Connection is the per-worker session. It owns the transport handle
// while attached, drives the keepalive heartbeat, exposes the
// command-dispatch API, and routes inbound update and completion
// records to their command objects.
//
// Operations on one Connection are independent of every other
// Connection; nothing is shared across workers.
type Connection struct {
	workerName        string
	log               *slog.Logger
	keepaliveInterval time.Duration
	detachGrace       time.Duration

	reg *commandRegistry

	mu          sync.Mutex
	tr          transport.Transport // non-nil iff attached
	info        *WorkerInfo
	syntax      pathmap.Syntax
	syntaxKnown bool
	builderDirs map[string]string // builder name -> absolute base dir on the worker
	builders    []string          // ready to build, set by SyncBuilderList
	lastSeen    time.Time

	disconnectSubs []func()
	onShutdownReq  func()

	keepaliveStop chan struct{}
	keepaliveDone chan struct{}
}

// NewConnection creates a connection for one worker. It is not usable
// until Attach binds a transport.
func NewConnection(cfg Config) *Connection {
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if cfg.DetachGrace <= 0 {
		cfg.DetachGrace = DefaultDetachGrace
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Connection{
		workerName:        cfg.WorkerName,
		log:               cfg.Logger.With("worker", cfg.WorkerName),
		keepaliveInterval: cfg.KeepaliveInterval,
		detachGrace:       cfg.DetachGrace,
		reg:               newCommandRegistry(),
		builderDirs:       make(map[string]string),
	}
}

// WorkerName returns the worker's identity.
func (c *Connection) WorkerName() string { return c.workerName }

// Attach binds the transport and starts the heartbeat loop. Fails if
// the connection is already attached.
func (c *Connection) Attach(tr transport.Transport) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tr != nil {
		return ErrAlreadyAttached
	}
	c.tr = tr
	c.lastSeen = time.Now()
	c.keepaliveStop = make(chan struct{})
	c.keepaliveDone = make(chan struct{})
	go c.keepaliveLoop(tr, c.keepaliveStop, c.keepaliveDone)

	metrics.WorkerAttached()
	c.log.Info("worker attached", "peer", tr.Peer())
	return nil
}

// Detach ends the session: it stops the heartbeat loop, waits up to the
// grace period for an in-flight heartbeat, releases the transport,
// fails every outstanding command with a connection-lost signal, and
// notifies disconnect listeners exactly once. Detaching an already
// detached connection is a no-op.
func (c *Connection) Detach() {
	c.mu.Lock()
	tr := c.tr
	if tr == nil {
		c.mu.Unlock()
		return
	}
	c.tr = nil
	stop, done := c.keepaliveStop, c.keepaliveDone
	subs := c.disconnectSubs
	c.disconnectSubs = nil
	c.builders = nil
	c.builderDirs = make(map[string]string)
	c.mu.Unlock()

	close(stop)
	select {
	case <-done:
	case <-time.After(c.detachGrace):
		c.log.Warn("keepalive did not settle within detach grace period")
	}

	tr.Close()

	failed := c.reg.failAll(transport.ErrConnLost)
	for i := 0; i < failed; i++ {
		metrics.CommandFailed("connection_lost")
	}
	if failed > 0 {
		c.log.Warn("failed outstanding commands on detach", "count", failed)
	}
	for _, sub := range subs {
		sub()
	}

	metrics.WorkerDetached()
	c.log.Info("worker detached")
}

// Attached reports whether a transport is currently bound.
func (c *Connection) Attached() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tr != nil
}

// OnDisconnect registers a listener run exactly once when the
// connection detaches.
func (c *Connection) OnDisconnect(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectSubs = append(c.disconnectSubs, fn)
}

// OnShutdownRequest registers the handler for a worker-initiated
// shutdown record.
func (c *Connection) OnShutdownRequest(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onShutdownReq = fn
}

// Builders returns the names marked ready to build by the last
// successful builder-list synchronization.
func (c *Connection) Builders() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.builders))
	copy(out, c.builders)
	return out
}

// Info returns the worker info from the last RequestWorkerInfo, or nil.
func (c *Connection) Info() *WorkerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info
}

// Peer returns the remote address, or empty when detached.
func (c *Connection) Peer() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tr == nil {
		return ""
	}
	return c.tr.Peer()
}

func (c *Connection) transport() (transport.Transport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tr == nil {
		return nil, ErrNotAttached
	}
	return c.tr, nil
}

// RequestWorkerInfo asks the worker to describe itself and records the
// path-syntax family used by all subsequent path translation. It must
// complete before SyncBuilderList and before any path-bearing command.
func (c *Connection) RequestWorkerInfo(ctx context.Context) (*WorkerInfo, error) {
	tr, err := c.transport()
	if err != nil {
		return nil, err
	}
	result, err := tr.Request(ctx, protocol.GetWorkerInfo())
	if err != nil {
		return nil, err
	}
	info, err := parseWorkerInfo(result)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.info = info
	c.syntax = pathmap.SyntaxForSystem(info.System)
	c.syntaxKnown = true
	c.mu.Unlock()

	c.log.Info("worker info received",
		"system", info.System,
		"basedir", info.BaseDir,
		"path_syntax", c.syntax.String(),
		"delete_leftover_dirs", info.DeleteLeftoverDirs,
	)
	return info, nil
}

// Print asks the worker to log a message.
func (c *Connection) Print(ctx context.Context, message string) error {
	tr, err := c.transport()
	if err != nil {
		return err
	}
	_, err = tr.Request(ctx, protocol.Print(message))
	return err
}

// Shutdown asks the worker process to exit. The actual session teardown
// arrives as a transport disconnect.
func (c *Connection) Shutdown(ctx context.Context) error {
	tr, err := c.transport()
	if err != nil {
		return err
	}
	_, err = tr.Request(ctx, protocol.Shutdown())
	return err
}

// InterruptCommand asks the worker to stop a running command. It is
// advisory: the command object stays registered and still completes via
// the normal completion path.
func (c *Connection) InterruptCommand(ctx context.Context, builderName, commandID, why string) error {
	tr, err := c.transport()
	if err != nil {
		return err
	}
	_, err = tr.Request(ctx, protocol.InterruptCommand(builderName, commandID, why))
	return err
}

// keepaliveLoop issues zero-payload liveness requests on a fixed
// interval, independent of command traffic. A keepalive failure is
// logged and counted but never detaches the connection; detachment is
// driven by the transport's own disconnect event.
func (c *Connection) keepaliveLoop(tr transport.Transport, stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(c.keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if _, err := tr.Request(context.Background(), protocol.Keepalive()); err != nil {
				metrics.KeepaliveFailed()
				c.log.Warn("keepalive failed", "error", err)
			}
		}
	}
}
