package remote

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/buildmesh/buildmesh/internal/protocol"
	"github.com/buildmesh/buildmesh/internal/transport"
)

func TestAttachRejectsSecondTransport(t *testing.T) {
	conn := NewConnection(Config{WorkerName: "w1", Logger: testLogger()})
	if err := conn.Attach(newFakeTransport(nil)); err != nil {
		t.Fatalf("first Attach failed: %v", err)
	}
	defer conn.Detach()

	if err := conn.Attach(newFakeTransport(nil)); !errors.Is(err, ErrAlreadyAttached) {
		t.Fatalf("expected ErrAlreadyAttached, got %v", err)
	}
}

func TestDetachFailsOutstandingCommands(t *testing.T) {
	w := newFakeWorker("/wrk", map[string]bool{"build1": true, "info": true}, false)
	conn, tr := attachWorker(t, w)
	if _, err := conn.SyncBuilderList(context.Background(), []Builder{{Name: "b1", BuildDir: "build1"}}); err != nil {
		t.Fatalf("SyncBuilderList failed: %v", err)
	}

	// Make shell commands hang so they stay outstanding.
	tr.handler = func(rec protocol.Record) (any, error) {
		name, _ := protocol.AsString(rec["command_name"])
		if rec["op"] == protocol.OpStartCommand && name == "shell" {
			return nil, nil
		}
		return w.handle(rec)
	}

	cmds := make([]*recordingCommand, 3)
	for i := range cmds {
		cmds[i] = newRecordingCommand()
		if _, err := conn.StartCommand(context.Background(), cmds[i], "b1", "shell", map[string]any{"workdir": "b"}); err != nil {
			t.Fatalf("StartCommand %d failed: %v", i, err)
		}
	}

	conn.Detach()

	for i, cmd := range cmds {
		completions := cmd.completed()
		if len(completions) != 1 || !errors.Is(completions[0], transport.ErrConnLost) {
			t.Errorf("command %d completions = %v, want connection-lost", i, completions)
		}
	}
	if conn.reg.outstanding() != 0 {
		t.Errorf("registry not empty after detach: %d", conn.reg.outstanding())
	}
	if !tr.closed {
		t.Error("transport not closed on detach")
	}
}

func TestDetachNotifiesListenersExactlyOnce(t *testing.T) {
	conn := NewConnection(Config{WorkerName: "w1", DetachGrace: 50 * time.Millisecond, Logger: testLogger()})
	if err := conn.Attach(newFakeTransport(nil)); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}

	var calls atomic.Int64
	conn.OnDisconnect(func() { calls.Add(1) })

	conn.Detach()
	conn.Detach()

	if got := calls.Load(); got != 1 {
		t.Errorf("disconnect listener ran %d times, want 1", got)
	}
	if conn.Attached() {
		t.Error("still attached after detach")
	}
}

func TestDetachClearsBuilderState(t *testing.T) {
	w := newFakeWorker("/wrk", map[string]bool{"build1": true, "info": true}, false)
	conn, _ := attachWorker(t, w)
	if _, err := conn.SyncBuilderList(context.Background(), []Builder{{Name: "b1", BuildDir: "build1"}}); err != nil {
		t.Fatalf("SyncBuilderList failed: %v", err)
	}
	if len(conn.Builders()) == 0 {
		t.Fatal("no builders ready before detach")
	}

	conn.Detach()

	if builders := conn.Builders(); len(builders) != 0 {
		t.Errorf("builders survived detach: %v", builders)
	}
	if conn.Peer() != "" {
		t.Error("peer address survived detach")
	}
}

func TestTransportLossDetaches(t *testing.T) {
	conn := NewConnection(Config{WorkerName: "w1", DetachGrace: 50 * time.Millisecond, Logger: testLogger()})
	if err := conn.Attach(newFakeTransport(nil)); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}

	var calls atomic.Int64
	conn.OnDisconnect(func() { calls.Add(1) })

	conn.Disconnected(errors.New("read: connection reset"))

	if conn.Attached() {
		t.Error("still attached after transport loss")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("disconnect listener ran %d times, want 1", got)
	}
}

func TestKeepaliveLoopSendsOnInterval(t *testing.T) {
	conn := NewConnection(Config{
		WorkerName:        "w1",
		KeepaliveInterval: 10 * time.Millisecond,
		DetachGrace:       time.Second,
		Logger:            testLogger(),
	})
	tr := newFakeTransport(nil)
	if err := conn.Attach(tr); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	defer conn.Detach()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(tr.recorded(protocol.OpKeepalive)) >= 2 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("keepalives sent = %d, want at least 2", len(tr.recorded(protocol.OpKeepalive)))
}

func TestKeepaliveFailureDoesNotDetach(t *testing.T) {
	conn := NewConnection(Config{
		WorkerName:        "w1",
		KeepaliveInterval: 10 * time.Millisecond,
		DetachGrace:       time.Second,
		Logger:            testLogger(),
	})
	tr := newFakeTransport(func(rec protocol.Record) (any, error) {
		if rec["op"] == protocol.OpKeepalive {
			return nil, errors.New("worker busy")
		}
		return nil, nil
	})
	if err := conn.Attach(tr); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	defer conn.Detach()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && len(tr.recorded(protocol.OpKeepalive)) < 2 {
		time.Sleep(5 * time.Millisecond)
	}
	if len(tr.recorded(protocol.OpKeepalive)) < 2 {
		t.Fatal("keepalive loop stalled")
	}
	if !conn.Attached() {
		t.Error("keepalive failure detached the connection")
	}
}

func TestWorkerShutdownRequestHandler(t *testing.T) {
	conn := NewConnection(Config{WorkerName: "w1", Logger: testLogger()})
	if err := conn.Attach(newFakeTransport(nil)); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	defer conn.Detach()

	var fired atomic.Bool
	conn.OnShutdownRequest(func() { fired.Store(true) })
	conn.WorkerShutdownRequested()
	if !fired.Load() {
		t.Error("shutdown handler did not run")
	}
}

func TestRequestWorkerInfoRejectsMalformedReply(t *testing.T) {
	conn := NewConnection(Config{WorkerName: "w1", Logger: testLogger()})
	tr := newFakeTransport(func(rec protocol.Record) (any, error) {
		return map[string]any{"system": "posix"}, nil // no basedir
	})
	if err := conn.Attach(tr); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	defer conn.Detach()

	if _, err := conn.RequestWorkerInfo(context.Background()); err == nil {
		t.Fatal("expected error for worker info without basedir")
	}
	if conn.Info() != nil {
		t.Error("malformed info was recorded")
	}
}

func TestUpdateForUnknownCommandIsAnError(t *testing.T) {
	w := newFakeWorker("/wrk", map[string]bool{"info": true}, false)
	conn, _ := attachWorker(t, w)

	if err := conn.CommandUpdate("999", []protocol.Update{{Key: "rc", Value: 0}}); err == nil {
		t.Error("expected error for unknown command id")
	}
	if err := conn.CommandComplete("999", nil); err == nil {
		t.Error("expected error for unknown command id")
	}
}
