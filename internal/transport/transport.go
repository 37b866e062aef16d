// Package transport carries protocol records between the coordinator
// and one worker over a persistent, full-duplex channel.
package transport

import (
	"context"
	"errors"
	"time"

	"github.com/buildmesh/buildmesh/internal/protocol"
)

// ErrConnLost is delivered to every in-flight exchange when the
// channel to the worker goes away.
var ErrConnLost = errors.New("connection to worker lost")

// Transport is one worker's message channel. Request sends a record
// and waits for its single correlated response. There is no implicit
// per-request timeout; a stalled worker holds the request open until
// the transport disconnects.
type Transport interface {
	Request(ctx context.Context, rec protocol.Record) (any, error)
	Peer() string
	Close() error
}

// Events receives worker-initiated messages. Update and completion
// records correlate to commands by id; transfer records feed the
// stream adapters registered at dispatch time. A non-nil error is
// reported back to the worker as an exceptional response.
type Events interface {
	CommandUpdate(commandID string, updates []protocol.Update) error
	CommandComplete(commandID string, failure error) error

	UploadWrite(commandID string, data []byte) error
	UploadUtime(commandID string, accessed, modified time.Time) error
	UploadClose(commandID string) error
	UploadUnpack(commandID string) error
	ReadChunk(commandID string, length int) ([]byte, error)
	ReadClose(commandID string) error

	WorkerActivity()
	WorkerShutdownRequested()

	// Disconnected fires exactly once when the channel is lost, whether
	// by peer close, read error, or local Close.
	Disconnected(err error)
}
