package remote

import (
	"context"
	"fmt"
	"sync"

	"github.com/buildmesh/buildmesh/internal/protocol"
)

// bootstrapCommand is the restricted command variant used during the
// builder-list handshake. It accumulates key/value updates and resolves
// a wait point once the terminal status arrives. Completion is valid
// only when "rc" arrived, equals zero, and every required key is
// present.
type bootstrapCommand struct {
	workerName string
	required   []string
	contextMsg string

	mu        sync.Mutex
	results   map[string]any
	completed bool

	done chan error
}

func newBootstrapCommand(workerName string, required []string, contextMsg string) *bootstrapCommand {
	return &bootstrapCommand{
		workerName: workerName,
		required:   required,
		contextMsg: contextMsg,
		results:    make(map[string]any),
		done:       make(chan error, 1),
	}
}

// RemoteUpdate accumulates update pairs. The first occurrence of a key
// wins; later duplicates are ignored.
func (b *bootstrapCommand) RemoteUpdate(updates []protocol.Update) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, u := range updates {
		if _, seen := b.results[u.Key]; !seen {
			b.results[u.Key] = u.Value
		}
	}
}

// RemoteComplete resolves the wait point. A transport-level failure
// takes precedence over result validation.
func (b *bootstrapCommand) RemoteComplete(failure error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.completed {
		return
	}
	b.completed = true

	if failure != nil {
		b.done <- fmt.Errorf("worker %s: %s: %w", b.workerName, b.contextMsg, failure)
		return
	}

	rc, ok := b.results["rc"]
	if !ok {
		b.done <- fmt.Errorf("worker %s: %s: 'rc' did not arrive", b.workerName, b.contextMsg)
		return
	}
	if code, _ := protocol.AsInt(rc); code != 0 {
		b.done <- fmt.Errorf("worker %s: %s: error number %d", b.workerName, b.contextMsg, code)
		return
	}
	for _, key := range b.required {
		if _, ok := b.results[key]; !ok {
			b.done <- fmt.Errorf("worker %s: %s: missing key '%s'", b.workerName, b.contextMsg, key)
			return
		}
	}
	b.done <- nil
}

// wait blocks until completion is delivered or ctx ends.
func (b *bootstrapCommand) wait(ctx context.Context) error {
	select {
	case err := <-b.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// result returns an accumulated update value.
func (b *bootstrapCommand) result(key string) any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.results[key]
}
