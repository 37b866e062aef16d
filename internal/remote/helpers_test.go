package remote

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/buildmesh/buildmesh/internal/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// fakeTransport scripts the worker side of a connection. Its handler
// sees every request record and may deliver update/completion events
// back into the connection before returning the response.
type fakeTransport struct {
	mu       sync.Mutex
	handler  func(rec protocol.Record) (any, error)
	requests []protocol.Record
	closed   bool
}

func newFakeTransport(handler func(rec protocol.Record) (any, error)) *fakeTransport {
	return &fakeTransport{handler: handler}
}

func (f *fakeTransport) Request(ctx context.Context, rec protocol.Record) (any, error) {
	f.mu.Lock()
	f.requests = append(f.requests, rec)
	handler := f.handler
	f.mu.Unlock()
	if handler == nil {
		return nil, nil
	}
	return handler(rec)
}

func (f *fakeTransport) Peer() string { return "fake:0" }

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) recorded(op string) []protocol.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []protocol.Record
	for _, rec := range f.requests {
		if rec["op"] == op {
			out = append(out, rec)
		}
	}
	return out
}

func (f *fakeTransport) commandRequests(commandName string) []protocol.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []protocol.Record
	for _, rec := range f.requests {
		if rec["op"] == protocol.OpStartCommand && rec["command_name"] == commandName {
			out = append(out, rec)
		}
	}
	return out
}

// recordingCommand captures updates and completions for assertions.
type recordingCommand struct {
	mu          sync.Mutex
	updates     []protocol.Update
	completions []error
	done        chan struct{}
}

func newRecordingCommand() *recordingCommand {
	return &recordingCommand{done: make(chan struct{}, 1)}
}

func (r *recordingCommand) RemoteUpdate(updates []protocol.Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, updates...)
}

func (r *recordingCommand) RemoteComplete(failure error) {
	r.mu.Lock()
	r.completions = append(r.completions, failure)
	r.mu.Unlock()
	select {
	case r.done <- struct{}{}:
	default:
	}
}

func (r *recordingCommand) completed() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]error, len(r.completions))
	copy(out, r.completions)
	return out
}

// fakeWorker scripts a complete worker peer: it answers worker info,
// settings, and handshake commands against an in-memory directory
// listing. isDir controls what stat reports per entry.
type fakeWorker struct {
	mu              sync.Mutex
	conn            *Connection
	system          string
	baseDir         string
	environ         map[string]any
	deleteLeftovers bool

	entries map[string]bool // entry name -> is directory

	statCalls  []string
	rmdirCalls [][]string
	mkdirCalls [][]string
}

func newFakeWorker(baseDir string, entries map[string]bool, deleteLeftovers bool) *fakeWorker {
	return &fakeWorker{
		system:          "posix",
		baseDir:         baseDir,
		environ:         map[string]any{"HOME": "/home/worker"},
		deleteLeftovers: deleteLeftovers,
		entries:         entries,
	}
}

func (w *fakeWorker) handle(rec protocol.Record) (any, error) {
	switch rec["op"] {
	case protocol.OpGetWorkerInfo:
		return map[string]any{
			"system":               w.system,
			"basedir":              w.baseDir,
			"environ":              w.environ,
			"delete_leftover_dirs": w.deleteLeftovers,
		}, nil
	case protocol.OpStartCommand:
		w.runCommand(rec)
		return nil, nil
	default:
		return nil, nil
	}
}

func (w *fakeWorker) runCommand(rec protocol.Record) {
	id, _ := protocol.AsString(rec["command_id"])
	name, _ := protocol.AsString(rec["command_name"])
	args, _ := rec["args"].(map[string]any)

	var updates []protocol.Update
	switch name {
	case "listdir":
		w.mu.Lock()
		files := make([]any, 0, len(w.entries))
		for entry := range w.entries {
			files = append(files, entry)
		}
		w.mu.Unlock()
		updates = append(updates, protocol.Update{Key: "files", Value: files})

	case "stat":
		path, _ := protocol.AsString(args["path"])
		entry := path[strings.LastIndex(path, "/")+1:]
		w.mu.Lock()
		w.statCalls = append(w.statCalls, entry)
		isDir := w.entries[entry]
		w.mu.Unlock()
		mode := 0o100644
		if isDir {
			mode = 0o040755
		}
		updates = append(updates, protocol.Update{
			Key:   "stat",
			Value: []any{mode, 0, 0, 1, 1000, 1000, 0, 0, 0, 0},
		})

	case "rmdir":
		paths, _ := protocol.AsStringSlice(args["paths"])
		w.mu.Lock()
		w.rmdirCalls = append(w.rmdirCalls, paths)
		for _, p := range paths {
			delete(w.entries, p[strings.LastIndex(p, "/")+1:])
		}
		w.mu.Unlock()

	case "mkdir":
		paths, _ := protocol.AsStringSlice(args["paths"])
		w.mu.Lock()
		w.mkdirCalls = append(w.mkdirCalls, paths)
		for _, p := range paths {
			w.entries[p[strings.LastIndex(p, "/")+1:]] = true
		}
		w.mu.Unlock()
	}

	updates = append(updates, protocol.Update{Key: "rc", Value: 0})
	w.conn.CommandUpdate(id, updates)
	w.conn.CommandComplete(id, nil)
}

// attachWorker wires a connection to a fake worker and completes the
// worker-info exchange.
func attachWorker(t *testing.T, w *fakeWorker) (*Connection, *fakeTransport) {
	t.Helper()

	conn := NewConnection(Config{
		WorkerName:        "w1",
		KeepaliveInterval: time.Hour,
		DetachGrace:       100 * time.Millisecond,
		Logger:            testLogger(),
	})
	w.conn = conn
	tr := newFakeTransport(w.handle)
	if err := conn.Attach(tr); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	t.Cleanup(conn.Detach)

	if _, err := conn.RequestWorkerInfo(context.Background()); err != nil {
		t.Fatalf("RequestWorkerInfo failed: %v", err)
	}
	return conn, tr
}
