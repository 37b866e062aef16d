package remote

import (
	"fmt"
	"time"

	"github.com/buildmesh/buildmesh/internal/metrics"
	"github.com/buildmesh/buildmesh/internal/protocol"
)

// Connection implements transport.Events: all worker-initiated records
// land here and are routed to the command or stream adapter they
// correlate with.

// CommandUpdate routes an update record to its command object.
func (c *Connection) CommandUpdate(commandID string, updates []protocol.Update) error {
	cmd, ok := c.reg.lookup(commandID)
	if !ok {
		return fmt.Errorf("update for unknown command id %s", commandID)
	}
	cmd.RemoteUpdate(updates)
	return nil
}

// CommandComplete delivers the single completion record, removing the
// command and its stream adapters from the registry.
func (c *Connection) CommandComplete(commandID string, failure error) error {
	cmd, ok := c.reg.remove(commandID)
	if !ok {
		return fmt.Errorf("completion for unknown command id %s", commandID)
	}
	if failure != nil {
		metrics.CommandFailed("worker_reported")
	}
	cmd.RemoteComplete(failure)
	return nil
}

// UploadWrite appends a chunk to the upload sink registered for the
// command.
func (c *Connection) UploadWrite(commandID string, data []byte) error {
	writer, ok := c.reg.writer(commandID)
	if !ok {
		return fmt.Errorf("upload chunk for unknown command id %s", commandID)
	}
	return writer.WriteChunk(data)
}

// UploadUtime forwards the worker-side file timestamps to the sink.
func (c *Connection) UploadUtime(commandID string, accessed, modified time.Time) error {
	writer, ok := c.reg.writer(commandID)
	if !ok {
		return fmt.Errorf("utime for unknown command id %s", commandID)
	}
	return writer.Utime(accessed, modified)
}

// UploadClose closes the upload sink.
func (c *Connection) UploadClose(commandID string) error {
	writer, ok := c.reg.writer(commandID)
	if !ok {
		return fmt.Errorf("close for unknown command id %s", commandID)
	}
	return writer.Close()
}

// UploadUnpack asks the sink to unpack the transferred archive.
func (c *Connection) UploadUnpack(commandID string) error {
	writer, ok := c.reg.writer(commandID)
	if !ok {
		return fmt.Errorf("unpack for unknown command id %s", commandID)
	}
	return writer.Unpack()
}

// ReadChunk serves the worker's pull request from the download source.
func (c *Connection) ReadChunk(commandID string, length int) ([]byte, error) {
	reader, ok := c.reg.reader(commandID)
	if !ok {
		return nil, fmt.Errorf("read for unknown command id %s", commandID)
	}
	return reader.ReadChunk(length)
}

// ReadClose closes the download source.
func (c *Connection) ReadClose(commandID string) error {
	reader, ok := c.reg.reader(commandID)
	if !ok {
		return fmt.Errorf("read close for unknown command id %s", commandID)
	}
	return reader.Close()
}

// WorkerActivity records that the worker sent traffic.
func (c *Connection) WorkerActivity() {
	c.mu.Lock()
	c.lastSeen = time.Now()
	c.mu.Unlock()
}

// WorkerShutdownRequested surfaces a worker-initiated shutdown record.
func (c *Connection) WorkerShutdownRequested() {
	c.mu.Lock()
	fn := c.onShutdownReq
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Disconnected reacts to transport loss by detaching the session.
func (c *Connection) Disconnected(err error) {
	if err != nil {
		c.log.Warn("transport lost", "error", err)
	}
	c.Detach()
}
