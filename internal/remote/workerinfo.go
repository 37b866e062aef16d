package remote

import (
	"fmt"

	"github.com/buildmesh/buildmesh/internal/protocol"
)

// WorkerInfo is the worker's self-description from get_worker_info.
type WorkerInfo struct {
	// System is the worker's reported OS family ("nt" for Windows).
	System string
	// BaseDir is the absolute directory all builder directories live under.
	BaseDir string
	// Environ is the worker's process environment.
	Environ map[string]string
	// DeleteLeftoverDirs enables removal of unrecognized build directories
	// during the builder-list handshake.
	DeleteLeftoverDirs bool
	// NumCPUs is advisory parallelism info, zero when unreported.
	NumCPUs int
	// Version is the worker software version, empty when unreported.
	Version string
}

// parseWorkerInfo decodes a get_worker_info reply. A reply without the
// expected record shape or without a base directory is a decode error
// for the exchange.
func parseWorkerInfo(v any) (*WorkerInfo, error) {
	rec, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("worker info is %T, expected a record", v)
	}

	basedir, ok := protocol.AsString(rec["basedir"])
	if !ok || basedir == "" {
		return nil, fmt.Errorf("worker info has no usable 'basedir'")
	}

	info := &WorkerInfo{BaseDir: basedir}
	info.System, _ = protocol.AsString(rec["system"])
	if environ, ok := protocol.AsStringMap(rec["environ"]); ok {
		info.Environ = environ
	} else {
		info.Environ = map[string]string{}
	}
	info.DeleteLeftoverDirs, _ = protocol.AsBool(rec["delete_leftover_dirs"])
	info.NumCPUs, _ = protocol.AsInt(rec["numcpus"])
	info.Version, _ = protocol.AsString(rec["version"])
	return info, nil
}
