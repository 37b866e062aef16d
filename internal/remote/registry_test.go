package remote

import (
	"errors"
	"testing"
	"time"
)

func TestRegistryIDsAreUnique(t *testing.T) {
	reg := newCommandRegistry()

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := reg.newID()
		if seen[id] {
			t.Fatalf("duplicate command id %s", id)
		}
		seen[id] = true
	}
}

func TestRegistryRemoveClearsAdapters(t *testing.T) {
	reg := newCommandRegistry()
	cmd := newRecordingCommand()

	id := reg.newID()
	reg.register(id, cmd)
	reg.registerWriter(id, nopWriter{})

	if _, ok := reg.lookup(id); !ok {
		t.Fatal("command not found after register")
	}
	if _, ok := reg.writer(id); !ok {
		t.Fatal("writer not found after register")
	}

	removed, ok := reg.remove(id)
	if !ok || removed != Command(cmd) {
		t.Fatal("remove did not return the registered command")
	}
	if _, ok := reg.writer(id); ok {
		t.Error("writer survived removal")
	}
	if _, ok := reg.lookup(id); ok {
		t.Error("command survived removal")
	}
}

func TestRegistryFailAll(t *testing.T) {
	reg := newCommandRegistry()
	cause := errors.New("connection to worker lost")

	cmds := make([]*recordingCommand, 3)
	for i := range cmds {
		cmds[i] = newRecordingCommand()
		reg.register(reg.newID(), cmds[i])
	}

	if failed := reg.failAll(cause); failed != 3 {
		t.Errorf("failAll returned %d, want 3", failed)
	}
	for i, cmd := range cmds {
		completions := cmd.completed()
		if len(completions) != 1 || !errors.Is(completions[0], cause) {
			t.Errorf("command %d completions = %v", i, completions)
		}
	}
	if reg.outstanding() != 0 {
		t.Errorf("registry not empty after failAll: %d", reg.outstanding())
	}
}

type nopWriter struct{}

func (nopWriter) WriteChunk([]byte) error    { return nil }
func (nopWriter) Utime(_, _ time.Time) error { return nil }
func (nopWriter) Unpack() error              { return nil }
func (nopWriter) Close() error               { return nil }
