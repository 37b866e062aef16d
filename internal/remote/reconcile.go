package remote

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/buildmesh/buildmesh/internal/metrics"
	"github.com/buildmesh/buildmesh/internal/protocol"
)

// Builder names a build configuration and the relative directory it
// occupies under the worker's base directory.
type Builder struct {
	Name     string
	BuildDir string
}

// infoDir is reserved under every worker's base directory for worker
// metadata; it is always wanted and never mapped to a builder.
const infoDir = "info"

// POSIX-style file mode classification, as reported in the first field
// of a stat reply.
const (
	statModeTypeMask = 0o170000
	statModeDir      = 0o040000
)

// Worker settings applied at the start of every handshake. The regexp
// normalizes line endings and strips cursor-control and backspace
// progress-bar sequences from command output.
var workerSettings = map[string]any{
	"newline_re":      `(\r\n|\r(?=.)|\033\[u|\033\[[0-9]+;[0-9]+[Hf]|\033\[2J|\x08+)`,
	"max_line_length": 4096,
	"buffer_timeout":  5,
	"buffer_size":     64 * 1024,
}

// SyncBuilderList reconciles the worker's on-disk build directories
// with the desired builder set and populates the builder to directory
// map used by command dispatch. It must complete before builds are
// scheduled on this connection. The algorithm is idempotent and never
// removes anything that is not a directory; a failure leaves the
// connection attached but with no builder marked ready.
func (c *Connection) SyncBuilderList(ctx context.Context, builders []Builder) (names []string, err error) {
	start := time.Now()
	defer func() {
		metrics.HandshakeObserved(time.Since(start).Seconds(), err)
	}()

	c.mu.Lock()
	info := c.info
	syntax := c.syntax
	known := c.syntaxKnown
	c.mu.Unlock()
	if info == nil || !known {
		return nil, ErrNoWorkerInfo
	}

	if err = c.setWorkerSettings(ctx); err != nil {
		return nil, err
	}

	base := info.BaseDir
	wanted := make(map[string]bool, len(builders)+1)
	wanted[infoDir] = true
	for _, b := range builders {
		wanted[b.BuildDir] = true
	}
	missing := make(map[string]bool, len(wanted))
	for dir := range wanted {
		missing[dir] = true
	}

	listCmd, err := c.runBootstrap(ctx, "listdir", map[string]any{"path": base},
		[]string{"files"}, "could not list builder directories")
	if err != nil {
		return nil, err
	}
	listed, ok := protocol.AsStringSlice(listCmd.result("files"))
	if !ok {
		return nil, fmt.Errorf("worker %s: builder directory listing is not a list of names", c.workerName)
	}

	var toRemove []string
	for _, dir := range listed {
		delete(missing, dir)
		if wanted[dir] || !info.DeleteLeftoverDirs {
			continue
		}
		path := syntax.Join(base, dir)
		statCmd, serr := c.runBootstrap(ctx, "stat", map[string]any{"path": path},
			[]string{"stat"}, "could not send status information about its files")
		if serr != nil {
			return nil, serr
		}
		mode, merr := statMode(statCmd.result("stat"))
		if merr != nil {
			return nil, fmt.Errorf("worker %s: %w", c.workerName, merr)
		}
		// Only directories are ever removed. A file or symlink that
		// happens to collide with nothing wanted stays untouched.
		if mode&statModeTypeMask == statModeDir {
			toRemove = append(toRemove, path)
		}
	}

	if len(toRemove) > 0 {
		c.log.Info("removing leftover build directories", "paths", toRemove)
		if _, err = c.runBootstrap(ctx, "rmdir", map[string]any{"paths": toRemove},
			nil, "could not remove directories"); err != nil {
			return nil, err
		}
	}

	if len(missing) > 0 {
		dirs := make([]string, 0, len(missing))
		for dir := range missing {
			dirs = append(dirs, dir)
		}
		sort.Strings(dirs)
		paths := make([]string, len(dirs))
		for i, dir := range dirs {
			paths[i] = syntax.Join(base, dir)
		}
		if _, err = c.runBootstrap(ctx, "mkdir", map[string]any{"paths": paths},
			nil, "could not make directories"); err != nil {
			return nil, err
		}
	}

	names = make([]string, len(builders))
	dirs := make(map[string]string, len(builders))
	for i, b := range builders {
		names[i] = b.Name
		dirs[b.Name] = syntax.Join(base, b.BuildDir)
	}

	c.mu.Lock()
	c.builderDirs = dirs
	c.builders = names
	c.mu.Unlock()

	c.log.Info("builder list synchronized", "builders", names)
	return names, nil
}

func (c *Connection) setWorkerSettings(ctx context.Context) error {
	tr, err := c.transport()
	if err != nil {
		return err
	}
	if _, err := tr.Request(ctx, protocol.SetWorkerSettings(workerSettings)); err != nil {
		return fmt.Errorf("worker %s: applying worker settings: %w", c.workerName, err)
	}
	return nil
}

// runBootstrap performs one handshake round trip: it registers a
// bootstrap command, sends the start_command request outside any
// builder, and waits for the validated completion.
func (c *Connection) runBootstrap(ctx context.Context, commandName string, args map[string]any, required []string, contextMsg string) (*bootstrapCommand, error) {
	tr, err := c.transport()
	if err != nil {
		return nil, err
	}

	cmd := newBootstrapCommand(c.workerName, required, contextMsg)
	commandID := c.reg.newID()
	c.reg.register(commandID, cmd)

	if _, err := tr.Request(ctx, protocol.StartCommand("", commandID, commandName, args)); err != nil {
		c.reg.remove(commandID)
		return nil, fmt.Errorf("worker %s: %s: %w", c.workerName, contextMsg, err)
	}
	if err := cmd.wait(ctx); err != nil {
		return nil, err
	}
	return cmd, nil
}

// statMode extracts the file-mode word from a stat reply, a tuple
// whose first field is the platform mode value.
func statMode(v any) (int, error) {
	fields, ok := v.([]any)
	if !ok || len(fields) == 0 {
		return 0, fmt.Errorf("stat reply %v has no mode field", v)
	}
	mode, ok := protocol.AsInt(fields[0])
	if !ok {
		return 0, fmt.Errorf("stat mode %v is not an integer", fields[0])
	}
	return mode, nil
}
