package remote

import (
	"context"
	"fmt"

	"github.com/buildmesh/buildmesh/internal/metrics"
	"github.com/buildmesh/buildmesh/internal/pathmap"
	"github.com/buildmesh/buildmesh/internal/protocol"
)

// rewriteContext carries what a rewrite needs: the builder's absolute
// base directory, the worker's path syntax, and its environment for
// user-home expansion.
type rewriteContext struct {
	syntax  pathmap.Syntax
	baseDir string
	environ map[string]string
}

type rewriteFunc func(rc rewriteContext, args map[string]any) error

// rewriteRule maps a command name to its argument rewrite and, for
// file transfers, the renamed wire command.
type rewriteRule struct {
	wireName string
	fn       rewriteFunc
}

// rewriteRules is the dispatch table for per-command path translation.
// Commands without an entry pass through unchanged.
var rewriteRules = map[string]rewriteRule{
	"mkdir":           {fn: rewriteDirList},
	"rmdir":           {fn: rewriteDirList},
	"cpdir":           {fn: rewriteCpdir},
	"stat":            {fn: rewriteStat},
	"glob":            {fn: rewriteGlob},
	"listdir":         {fn: rewriteListdir},
	"rmfile":          {fn: rewriteRmfile},
	"shell":           {fn: rewriteShell},
	"uploadFile":      {wireName: "upload_file", fn: rewriteTransferSrc("workersrc")},
	"uploadDirectory": {wireName: "upload_directory", fn: rewriteTransferSrc("workersrc")},
	"downloadFile":    {wireName: "download_file", fn: rewriteTransferSrc("workerdest")},
}

// rewriteCommand applies the rewrite table to one command, returning
// the possibly renamed wire command and a rewritten copy of args. The
// legacy numeric want_stdout/want_stderr flags are normalized to true
// booleans for every command carrying them.
func rewriteCommand(rc rewriteContext, commandName string, args map[string]any) (string, map[string]any, error) {
	rewritten := make(map[string]any, len(args))
	for k, v := range args {
		rewritten[k] = v
	}

	wireName := commandName
	if rule, ok := rewriteRules[commandName]; ok {
		if rule.wireName != "" {
			wireName = rule.wireName
		}
		if err := rule.fn(rc, rewritten); err != nil {
			return "", nil, fmt.Errorf("rewriting %s args: %w", commandName, err)
		}
	}

	for _, flag := range []string{"want_stdout", "want_stderr"} {
		if v, ok := rewritten[flag]; ok {
			rewritten[flag] = streamFlag(v)
		}
	}
	return wireName, rewritten, nil
}

// streamFlag normalizes a legacy numeric stream flag. Only the value 1
// means true; any other number is false.
func streamFlag(v any) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	n, ok := protocol.AsInt(v)
	return ok && n == 1
}

// rewriteDirList turns "dir" (string or list) into "paths", a list of
// absolutes.
func rewriteDirList(rc rewriteContext, args map[string]any) error {
	dirs, err := stringOrList(args["dir"])
	if err != nil {
		return fmt.Errorf("'dir': %w", err)
	}
	paths := make([]string, len(dirs))
	for i, dir := range dirs {
		paths[i] = rc.syntax.Join(rc.baseDir, dir)
	}
	args["paths"] = paths
	delete(args, "dir")
	return nil
}

func rewriteCpdir(rc rewriteContext, args map[string]any) error {
	fromdir, ok := protocol.AsString(args["fromdir"])
	if !ok {
		return fmt.Errorf("'fromdir' is not a string")
	}
	todir, ok := protocol.AsString(args["todir"])
	if !ok {
		return fmt.Errorf("'todir' is not a string")
	}
	args["from_path"] = rc.syntax.Join(rc.baseDir, fromdir)
	args["to_path"] = rc.syntax.Join(rc.baseDir, todir)
	delete(args, "fromdir")
	delete(args, "todir")
	return nil
}

func rewriteStat(rc rewriteContext, args map[string]any) error {
	file, ok := protocol.AsString(args["file"])
	if !ok {
		return fmt.Errorf("'file' is not a string")
	}
	workdir, _ := protocol.AsString(args["workdir"])
	args["path"] = rc.syntax.Join(rc.baseDir, workdir, file)
	delete(args, "file")
	delete(args, "workdir")
	return nil
}

func rewriteGlob(rc rewriteContext, args map[string]any) error {
	pattern, ok := protocol.AsString(args["path"])
	if !ok {
		return fmt.Errorf("'path' is not a string")
	}
	args["path"] = rc.syntax.Join(rc.baseDir, pattern)
	return nil
}

func rewriteListdir(rc rewriteContext, args map[string]any) error {
	dir, ok := protocol.AsString(args["dir"])
	if !ok {
		return fmt.Errorf("'dir' is not a string")
	}
	args["path"] = rc.syntax.Join(rc.baseDir, dir)
	delete(args, "dir")
	return nil
}

func rewriteRmfile(rc rewriteContext, args map[string]any) error {
	path, ok := protocol.AsString(args["path"])
	if !ok {
		return fmt.Errorf("'path' is not a string")
	}
	args["path"] = rc.syntax.Join(rc.baseDir, pathmap.ExpandUser(rc.syntax, path, rc.environ))
	return nil
}

func rewriteShell(rc rewriteContext, args map[string]any) error {
	workdir, ok := protocol.AsString(args["workdir"])
	if !ok {
		return fmt.Errorf("'workdir' is not a string")
	}
	args["workdir"] = rc.syntax.Join(rc.baseDir, workdir)
	return nil
}

// rewriteTransferSrc builds the rewrite for file-transfer commands:
// workdir plus the user-expanded worker-side name collapse into a
// single absolute "path".
func rewriteTransferSrc(key string) rewriteFunc {
	return func(rc rewriteContext, args map[string]any) error {
		name, ok := protocol.AsString(args[key])
		if !ok {
			return fmt.Errorf("'%s' is not a string", key)
		}
		workdir, _ := protocol.AsString(args["workdir"])
		args["path"] = rc.syntax.Join(rc.baseDir, workdir, pathmap.ExpandUser(rc.syntax, name, rc.environ))
		delete(args, key)
		delete(args, "workdir")
		return nil
	}
}

func stringOrList(v any) ([]string, error) {
	if s, ok := protocol.AsString(v); ok {
		return []string{s}, nil
	}
	if list, ok := protocol.AsStringSlice(v); ok {
		return list, nil
	}
	return nil, fmt.Errorf("%v is neither a string nor a list of strings", v)
}

// StartCommand dispatches a remote command for a builder: it resolves
// the builder's base directory, rewrites arguments per the command's
// rewrite rule, allocates a fresh command id, registers cmd (and any
// stream adapters found in args) under it, and sends the start_command
// request. The returned id correlates all subsequent updates and the
// completion.
func (c *Connection) StartCommand(ctx context.Context, cmd Command, builderName, commandName string, args map[string]any) (string, error) {
	c.mu.Lock()
	tr := c.tr
	if tr == nil {
		c.mu.Unlock()
		return "", ErrNotAttached
	}
	if !c.syntaxKnown {
		c.mu.Unlock()
		return "", ErrNoWorkerInfo
	}
	baseDir, ok := c.builderDirs[builderName]
	rc := rewriteContext{syntax: c.syntax, baseDir: baseDir, environ: c.info.Environ}
	c.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownBuilder, builderName)
	}

	wireName, rewritten, err := rewriteCommand(rc, commandName, args)
	if err != nil {
		return "", err
	}

	commandID := c.reg.newID()
	c.reg.register(commandID, cmd)

	// Stream adapters are local objects, never sent over the wire.
	if reader, ok := rewritten["reader"].(FileReader); ok {
		c.reg.registerReader(commandID, reader)
		delete(rewritten, "reader")
	}
	if writer, ok := rewritten["writer"].(FileWriter); ok {
		c.reg.registerWriter(commandID, writer)
		delete(rewritten, "writer")
	}

	if _, err := tr.Request(ctx, protocol.StartCommand(builderName, commandID, wireName, rewritten)); err != nil {
		c.reg.remove(commandID)
		return "", fmt.Errorf("starting %s on builder %s: %w", wireName, builderName, err)
	}

	metrics.CommandDispatched(wireName)
	c.log.Debug("command dispatched",
		"builder", builderName,
		"command", wireName,
		"command_id", commandID,
	)
	return commandID, nil
}
