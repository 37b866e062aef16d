package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/buildmesh/buildmesh/internal/codec"
	"github.com/buildmesh/buildmesh/internal/protocol"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 54 * time.Second
	pongWait   = 60 * time.Second

	sendBuffer = 256
)

type pendingReply struct {
	result any
	err    error
}

// WS is a Transport over an accepted websocket connection carrying
// CBOR-encoded records. Requests correlate to responses by a
// per-connection sequence number.
type WS struct {
	id     string
	conn   *websocket.Conn
	events Events
	log    *slog.Logger

	send chan []byte

	mu      sync.Mutex
	seq     int64
	pending map[int64]chan pendingReply
	closed  bool

	done chan struct{}
}

// NewWS wraps an upgraded websocket connection. events receives all
// worker-initiated traffic. No traffic flows and no disconnect is
// reported until Start; callers must finish binding the transport to
// its session before starting the pumps, or a socket dying in between
// would report a loss the session never observes.
func NewWS(conn *websocket.Conn, events Events, log *slog.Logger) *WS {
	id := uuid.NewString()
	return &WS{
		id:      id,
		conn:    conn,
		events:  events,
		log:     log.With("transport_id", id),
		send:    make(chan []byte, sendBuffer),
		pending: make(map[int64]chan pendingReply),
		done:    make(chan struct{}),
	}
}

// Start launches the read and write pumps.
func (t *WS) Start() {
	go t.writePump()
	go t.readPump()
}

// Peer returns the remote address of the worker.
func (t *WS) Peer() string {
	return t.conn.RemoteAddr().String()
}

// Request sends rec and waits for the worker's response record. The
// wait ends on response, context cancellation, or connection loss.
func (t *WS) Request(ctx context.Context, rec protocol.Record) (any, error) {
	reply := make(chan pendingReply, 1)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrConnLost
	}
	t.seq++
	seq := t.seq
	t.pending[seq] = reply
	t.mu.Unlock()

	out := protocol.Record{"seq_number": seq}
	for k, v := range rec {
		out[k] = v
	}
	data, err := codec.Marshal(out)
	if err != nil {
		t.dropPending(seq)
		return nil, fmt.Errorf("encoding %v request: %w", rec["op"], err)
	}

	select {
	case t.send <- data:
	case <-t.done:
		t.dropPending(seq)
		return nil, ErrConnLost
	case <-ctx.Done():
		t.dropPending(seq)
		return nil, ctx.Err()
	}

	select {
	case r := <-reply:
		return r.result, r.err
	case <-t.done:
		return nil, ErrConnLost
	case <-ctx.Done():
		t.dropPending(seq)
		return nil, ctx.Err()
	}
}

// Close tears the connection down. Pending requests fail with
// ErrConnLost and Disconnected fires.
func (t *WS) Close() error {
	return t.shutdown(nil)
}

func (t *WS) dropPending(seq int64) {
	t.mu.Lock()
	delete(t.pending, seq)
	t.mu.Unlock()
}

func (t *WS) shutdown(cause error) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	pending := t.pending
	t.pending = make(map[int64]chan pendingReply)
	t.mu.Unlock()

	close(t.done)
	err := t.conn.Close()
	for _, ch := range pending {
		ch <- pendingReply{err: ErrConnLost}
	}
	t.events.Disconnected(cause)
	return err
}

func (t *WS) readPump() {
	t.conn.SetReadDeadline(time.Now().Add(pongWait))
	t.conn.SetPongHandler(func(string) error {
		t.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, data, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				t.log.Warn("worker connection read failed", "error", err)
			}
			t.shutdown(err)
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}

		var rec protocol.Record
		if err := codec.Unmarshal(data, &rec); err != nil {
			t.log.Warn("undecodable record from worker", "error", err)
			continue
		}
		t.handleRecord(rec)
	}
}

func (t *WS) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		t.conn.Close()
	}()

	for {
		select {
		case data := <-t.send:
			t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-t.done:
			return
		}
	}
}

func (t *WS) handleRecord(rec protocol.Record) {
	op, _ := protocol.AsString(rec["op"])

	if op == protocol.OpResponse {
		t.handleResponse(rec)
		return
	}

	result, err := t.dispatchEvent(op, rec)
	if seq, ok := rec["seq_number"]; ok {
		t.respond(seq, result, err)
	} else if err != nil {
		t.log.Warn("worker message failed", "op", op, "error", err)
	}
}

func (t *WS) handleResponse(rec protocol.Record) {
	seq, ok := asInt64(rec["seq_number"])
	if !ok {
		t.log.Warn("response without sequence number")
		return
	}

	t.mu.Lock()
	reply, ok := t.pending[seq]
	delete(t.pending, seq)
	t.mu.Unlock()
	if !ok {
		t.log.Warn("response for unknown request", "seq_number", seq)
		return
	}

	if exc, _ := protocol.AsBool(rec["is_exception"]); exc {
		reply <- pendingReply{err: fmt.Errorf("worker reported failure: %v", rec["result"])}
		return
	}
	reply <- pendingReply{result: rec["result"]}
}

// dispatchEvent routes one worker-initiated record to the Events
// handler. The returned result, if any, becomes the response payload.
func (t *WS) dispatchEvent(op string, rec protocol.Record) (any, error) {
	commandID, _ := protocol.AsString(rec["command_id"])

	switch op {
	case protocol.OpUpdate:
		updates, err := protocol.AsUpdates(rec["args"])
		if err != nil {
			return nil, err
		}
		return nil, t.events.CommandUpdate(commandID, updates)

	case protocol.OpComplete:
		var failure error
		if msg, ok := protocol.AsString(rec["args"]); ok && msg != "" {
			failure = fmt.Errorf("%s", msg)
		}
		return nil, t.events.CommandComplete(commandID, failure)

	case protocol.OpUploadFileWrite, protocol.OpUploadDirectoryWrite:
		data, ok := protocol.AsBytes(rec["args"])
		if !ok {
			return nil, fmt.Errorf("transfer chunk for command %s is not bytes", commandID)
		}
		return nil, t.events.UploadWrite(commandID, data)

	case protocol.OpUploadFileUtime:
		accessed, modified, err := utimeArgs(rec["args"])
		if err != nil {
			return nil, err
		}
		return nil, t.events.UploadUtime(commandID, accessed, modified)

	case protocol.OpUploadFileClose:
		return nil, t.events.UploadClose(commandID)

	case protocol.OpUploadDirectoryUnpack:
		return nil, t.events.UploadUnpack(commandID)

	case protocol.OpReadFile:
		length, ok := protocol.AsInt(rec["length"])
		if !ok {
			return nil, fmt.Errorf("read request for command %s has no length", commandID)
		}
		return t.events.ReadChunk(commandID, length)

	case protocol.OpReadFileClose:
		return nil, t.events.ReadClose(commandID)

	case protocol.OpWorkerKeepalive:
		t.events.WorkerActivity()
		return nil, nil

	case protocol.OpWorkerShutdownRequest:
		t.events.WorkerActivity()
		t.events.WorkerShutdownRequested()
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown op %q", op)
	}
}

func (t *WS) respond(seq, result any, err error) {
	rec := protocol.Record{"op": protocol.OpResponse, "seq_number": seq, "result": result}
	if err != nil {
		rec["result"] = err.Error()
		rec["is_exception"] = true
	}
	data, merr := codec.Marshal(rec)
	if merr != nil {
		t.log.Error("encoding response failed", "error", merr)
		return
	}
	select {
	case t.send <- data:
	case <-t.done:
	}
}

func asInt64(v any) (int64, bool) {
	n, ok := protocol.AsInt(v)
	return int64(n), ok
}

func utimeArgs(v any) (accessed, modified time.Time, err error) {
	pair, ok := v.([]any)
	if !ok || len(pair) != 2 {
		return time.Time{}, time.Time{}, fmt.Errorf("malformed utime args %v", v)
	}
	a, aok := protocol.AsInt(pair[0])
	m, mok := protocol.AsInt(pair[1])
	if !aok || !mok {
		return time.Time{}, time.Time{}, fmt.Errorf("malformed utime args %v", v)
	}
	return time.Unix(int64(a), 0), time.Unix(int64(m), 0), nil
}
