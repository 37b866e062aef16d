// Package remote implements the coordinator side of the worker
// connection: the per-worker session with its keepalive loop, the
// correlated remote-command mechanism, and the builder-directory
// reconciliation handshake that must succeed before builds can be
// scheduled on a worker.
package remote

import (
	"errors"
	"time"

	"github.com/buildmesh/buildmesh/internal/protocol"
)

var (
	// ErrAlreadyAttached is returned by Attach on an attached connection.
	ErrAlreadyAttached = errors.New("connection already attached")

	// ErrNotAttached is returned when an operation needs a live transport.
	ErrNotAttached = errors.New("connection not attached")

	// ErrUnknownBuilder is returned when a command targets a builder that
	// was never part of a successful builder-list synchronization.
	ErrUnknownBuilder = errors.New("unknown builder")

	// ErrNoWorkerInfo is returned when a path-bearing operation runs
	// before the worker's info (and with it the path syntax) is known.
	ErrNoWorkerInfo = errors.New("worker info not yet requested")
)

// Command receives the correlated replies for one dispatched remote
// operation. Implementations are owned by the caller; the connection
// holds a reference only until completion is delivered. Exactly one
// completion arrives per command, and no updates arrive after it.
type Command interface {
	RemoteUpdate(updates []protocol.Update)
	RemoteComplete(failure error)
}

// FileWriter is the local sink for a file or archive the worker uploads
// to the coordinator. It is registered alongside an upload command and
// fed by the worker's transfer records.
type FileWriter interface {
	WriteChunk(data []byte) error
	Utime(accessed, modified time.Time) error
	Unpack() error
	Close() error
}

// FileReader is the local source for a file the worker downloads from
// the coordinator. The worker pulls chunks of at most maxLength bytes.
type FileReader interface {
	ReadChunk(maxLength int) ([]byte, error)
	Close() error
}
