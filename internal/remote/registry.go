package remote

import (
	"strconv"
	"sync"
)

// commandRegistry maps command identifiers to in-flight command objects
// and, for file transfers, to their stream adapters. Identifiers are a
// monotonically increasing counter scoped to one connection.
type commandRegistry struct {
	mu      sync.Mutex
	nextID  int64
	cmds    map[string]Command
	readers map[string]FileReader
	writers map[string]FileWriter
}

func newCommandRegistry() *commandRegistry {
	return &commandRegistry{
		cmds:    make(map[string]Command),
		readers: make(map[string]FileReader),
		writers: make(map[string]FileWriter),
	}
}

func (r *commandRegistry) newID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	return strconv.FormatInt(r.nextID, 10)
}

func (r *commandRegistry) register(id string, cmd Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cmds[id] = cmd
}

func (r *commandRegistry) registerReader(id string, reader FileReader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readers[id] = reader
}

func (r *commandRegistry) registerWriter(id string, writer FileWriter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writers[id] = writer
}

func (r *commandRegistry) lookup(id string) (Command, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cmd, ok := r.cmds[id]
	return cmd, ok
}

func (r *commandRegistry) reader(id string) (FileReader, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reader, ok := r.readers[id]
	return reader, ok
}

func (r *commandRegistry) writer(id string) (FileWriter, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	writer, ok := r.writers[id]
	return writer, ok
}

// remove deletes the command and any stream adapters registered under
// id, returning the command if one was present. Called when completion
// is delivered.
func (r *commandRegistry) remove(id string) (Command, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cmd, ok := r.cmds[id]
	delete(r.cmds, id)
	delete(r.readers, id)
	delete(r.writers, id)
	return cmd, ok
}

// failAll delivers failure as the completion of every outstanding
// command and clears the registry. Returns how many commands were
// failed.
func (r *commandRegistry) failAll(failure error) int {
	r.mu.Lock()
	cmds := r.cmds
	r.cmds = make(map[string]Command)
	r.readers = make(map[string]FileReader)
	r.writers = make(map[string]FileWriter)
	r.mu.Unlock()

	for _, cmd := range cmds {
		cmd.RemoteComplete(failure)
	}
	return len(cmds)
}

func (r *commandRegistry) outstanding() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cmds)
}
